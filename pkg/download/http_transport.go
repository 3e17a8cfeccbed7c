package download

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/glorpus-work/assetpkg/internal/logger"
	"github.com/glorpus-work/assetpkg/pkg/auth"
	pkgerrors "github.com/glorpus-work/assetpkg/pkg/errors"
	"github.com/hashicorp/go-retryablehttp"
)

// Defaults for NewHTTPTransport.
const (
	DefaultUserAgent    = "assetpkg/1.0"
	DefaultHTTPTimeout  = 30 * time.Second
	DefaultRetries      = 3
	defaultRetryWaitMin = 500 * time.Millisecond
	defaultRetryWaitMax = 10 * time.Second
)

// HTTPOptions configures an HTTPTransport. Zero values select the defaults.
type HTTPOptions struct {
	// Timeout bounds connection setup and the wait for response headers. The body
	// transfer itself is not bounded so large archives can stream.
	Timeout time.Duration
	// Retries is the number of retries after a transient failure; negative disables them.
	Retries      int
	UserAgent    string
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// Auth, when set, is applied to every request.
	Auth auth.Authenticator
}

// HTTPTransport is a Transport that retries transient failures and resumes with Range
// requests.
type HTTPTransport struct {
	client    *retryablehttp.Client
	userAgent string
	auth      auth.Authenticator
}

// NewHTTPTransport creates a transport with the given options.
func NewHTTPTransport(opts HTTPOptions) *HTTPTransport {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultHTTPTimeout
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	} else if opts.Retries == 0 {
		opts.Retries = DefaultRetries
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.RetryWaitMin <= 0 {
		opts.RetryWaitMin = defaultRetryWaitMin
	}
	if opts.RetryWaitMax <= 0 {
		opts.RetryWaitMax = defaultRetryWaitMax
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = opts.Timeout
	transport.TLSHandshakeTimeout = opts.Timeout

	client := retryablehttp.NewClient()
	client.HTTPClient = &http.Client{Transport: transport}
	client.Logger = logger.GetLogger()
	client.RetryMax = opts.Retries
	client.RetryWaitMin = opts.RetryWaitMin
	client.RetryWaitMax = opts.RetryWaitMax
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &HTTPTransport{client: client, userAgent: opts.UserAgent, auth: opts.Auth}
}

// Open issues a GET for url, asking for the bytes from offset onwards when offset > 0.
func (h *HTTPTransport) Open(ctx context.Context, url string, offset int64) (*Response, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, pkgerrors.NewTransferRejectedError(url, 0).WithUnderlyingErrors(err)
	}
	req.Header.Set("User-Agent", h.userAgent)
	if h.auth != nil {
		if err := h.auth.Apply(req.Request); err != nil {
			return nil, pkgerrors.NewTransferRejectedError(url, 0).WithUnderlyingErrors(err)
		}
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, pkgerrors.NewTransferError(err, url, 0)
	}

	switch {
	case resp.StatusCode == http.StatusPartialContent && offset > 0:
		start, total, perr := parseContentRange(resp.Header.Get("Content-Range"))
		if perr != nil || start > offset {
			_ = resp.Body.Close()
			return nil, pkgerrors.NewTransferError(perr, url, resp.StatusCode)
		}
		return &Response{Body: resp.Body, Offset: start, Total: total}, nil

	case resp.StatusCode == http.StatusOK:
		total := resp.ContentLength
		if total < 0 {
			total = -1
		}
		return &Response{Body: resp.Body, Offset: 0, Total: total}, nil

	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0:
		// the partial file no longer matches the remote archive; start over
		_ = resp.Body.Close()
		logger.Debug("Range not satisfiable, restarting download", logger.Fields{"url": url, "offset": offset})
		return h.Open(ctx, url, 0)
	}

	_ = resp.Body.Close()
	return nil, classifyStatus(url, resp.StatusCode)
}

func classifyStatus(url string, code int) error {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= http.StatusInternalServerError:
		return pkgerrors.NewTransferError(nil, url, code)
	default:
		return pkgerrors.NewTransferRejectedError(url, code)
	}
}

// parseContentRange parses "bytes start-end/total". An unknown total ("*") yields -1.
func parseContentRange(header string) (start, total int64, err error) {
	rng, ok := strings.CutPrefix(header, "bytes ")
	if !ok {
		return 0, 0, fmt.Errorf("invalid Content-Range %q", header)
	}
	rangePart, totalPart, ok := strings.Cut(rng, "/")
	if !ok {
		return 0, 0, fmt.Errorf("invalid Content-Range %q", header)
	}
	startPart, _, ok := strings.Cut(rangePart, "-")
	if !ok {
		return 0, 0, fmt.Errorf("invalid Content-Range %q", header)
	}
	start, err = strconv.ParseInt(startPart, 10, 64)
	if err != nil {
		return 0, 0, errors.Join(fmt.Errorf("invalid Content-Range %q", header), err)
	}
	if totalPart == "*" {
		return start, -1, nil
	}
	total, err = strconv.ParseInt(totalPart, 10, 64)
	if err != nil {
		return 0, 0, errors.Join(fmt.Errorf("invalid Content-Range %q", header), err)
	}
	return start, total, nil
}
