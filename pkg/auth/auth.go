// Package auth applies credentials to package download requests.
package auth

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Authenticator adds credentials to an outgoing request.
type Authenticator interface {
	Apply(req *http.Request) error
	Type() Type
}

// Type represents the type of authentication.
type Type string

// Authentication types.
const (
	BasicAuthType  Type = "basic"
	BearerAuthType Type = "bearer"
	HeaderAuthType Type = "header"
)

// BasicAuth represents HTTP Basic Authentication credentials.
type BasicAuth struct {
	Username string
	Password string
}

// Apply sets the Authorization header.
func (b BasicAuth) Apply(req *http.Request) error {
	req.SetBasicAuth(b.Username, b.Password)
	return nil
}

// Type returns BasicAuthType.
func (b BasicAuth) Type() Type { return BasicAuthType }

// BearerAuth represents Bearer token authentication.
type BearerAuth struct {
	Token string
}

// Apply sets the Authorization header.
func (b BearerAuth) Apply(req *http.Request) error {
	req.Header.Set("Authorization", "Bearer "+b.Token)
	return nil
}

// Type returns BearerAuthType.
func (b BearerAuth) Type() Type { return BearerAuthType }

// HeaderAuth sends fixed headers, e.g. an API key.
type HeaderAuth struct {
	Headers map[string]string
}

// Apply sets every header.
func (h HeaderAuth) Apply(req *http.Request) error {
	for k, v := range h.Headers {
		req.Header.Set(k, v)
	}
	return nil
}

// Type returns HeaderAuthType.
func (h HeaderAuth) Type() Type { return HeaderAuthType }

// Credentials are the configured secrets. At most one of Token and Username may be set.
type Credentials struct {
	Username string
	Password string
	Token    string
	// Header names the header Token is sent in instead of a bearer Authorization.
	Header string
}

// New returns the authenticator for c, or nil when c holds no credentials.
func New(c Credentials) (Authenticator, error) {
	switch {
	case c.Token != "" && c.Username != "":
		return nil, fmt.Errorf("a token and a username cannot both be configured")
	case c.Token != "" && c.Header != "":
		return HeaderAuth{Headers: map[string]string{c.Header: c.Token}}, nil
	case c.Token != "":
		return BearerAuth{Token: c.Token}, nil
	case c.Username != "":
		return BasicAuth{Username: c.Username, Password: c.Password}, nil
	case c.Password != "" || c.Header != "":
		return nil, fmt.Errorf("incomplete credentials")
	}
	return nil, nil
}

// Scoped applies Auth only to requests for Host, so that credentials for the package
// server are never sent to an explicit download URL elsewhere.
type Scoped struct {
	Host string
	Auth Authenticator
}

// ScopeTo restricts a to the host of baseURL. A nil a stays nil.
func ScopeTo(baseURL string, a Authenticator) (Authenticator, error) {
	if a == nil {
		return nil, nil
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("credentials need a base URL with a host, got %q", baseURL)
	}
	return Scoped{Host: u.Host, Auth: a}, nil
}

// Apply delegates to Auth when the request targets Host.
func (s Scoped) Apply(req *http.Request) error {
	if !strings.EqualFold(req.URL.Host, s.Host) {
		return nil
	}
	return s.Auth.Apply(req)
}

// Type returns the type of the wrapped authenticator.
func (s Scoped) Type() Type { return s.Auth.Type() }
