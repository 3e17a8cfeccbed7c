package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/glorpus-work/assetpkg/internal/logger"
	pkgerrors "github.com/glorpus-work/assetpkg/pkg/errors"
	"github.com/glorpus-work/assetpkg/pkg/fsutil"
)

// DefaultChunkSize is the read size between pause/cancel checks.
const DefaultChunkSize = 32 * 1024

// Task downloads one archive to a fixed path. An existing file at that path is treated
// as a partial download and resumed when the transport supports it.
type Task struct {
	transport  Transport
	url        string
	path       string
	chunkSize  int
	onProgress func(Progress)

	mu     sync.Mutex
	cancel context.CancelCauseFunc
	stop   error
}

// NewTask creates a task writing url to path. onProgress may be nil.
func NewTask(transport Transport, url, path string, onProgress func(Progress)) *Task {
	return &Task{
		transport:  transport,
		url:        url,
		path:       path,
		chunkSize:  DefaultChunkSize,
		onProgress: onProgress,
	}
}

// SetChunkSize overrides DefaultChunkSize.
func (t *Task) SetChunkSize(n int) {
	if n > 0 {
		t.chunkSize = n
	}
}

// Pause stops a running Run and keeps the bytes written so far.
func (t *Task) Pause() { t.stopWith(ErrPaused) }

// Cancel stops a running Run and removes the partial file.
func (t *Task) Cancel() { t.stopWith(ErrCanceled) }

func (t *Task) stopWith(cause error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop == nil {
		t.stop = cause
	}
	if t.cancel != nil {
		t.cancel(cause)
	}
}

// Run performs the transfer. It returns ErrPaused or ErrCanceled when stopped through
// Pause, Cancel or a context canceled with one of them as cause. The file is removed
// before Run returns ErrCanceled.
func (t *Task) Run(parent context.Context) (*Result, error) {
	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)

	t.mu.Lock()
	t.cancel = cancel
	if t.stop != nil {
		cancel(t.stop)
	}
	t.mu.Unlock()

	if err := fsutil.EnsureFileDir(t.path); err != nil {
		return nil, fmt.Errorf("could not create download dir: %w", err)
	}

	offset, err := fsutil.FileSize(t.path)
	if err != nil {
		return nil, fmt.Errorf("could not inspect partial download: %w", err)
	}
	if stopped := t.stopped(ctx); stopped != nil {
		return nil, t.finishStopped(nil, stopped)
	}

	resp, err := t.transport.Open(ctx, t.url, offset)
	if err != nil {
		if stopped := t.stopped(ctx); stopped != nil {
			return nil, t.finishStopped(nil, stopped)
		}
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	file, written, err := t.openTarget(resp, offset)
	if err != nil {
		return nil, err
	}

	logger.DebugfWithFields(logger.Fields{"url": t.url, "path": t.path}, "Transfer started at offset %d", written)

	progress := Progress{Written: written, Total: resp.Total}
	t.report(progress)

	buf := make([]byte, t.chunkSize)
	for {
		if stopped := t.stopped(ctx); stopped != nil {
			return nil, t.finishStopped(file, stopped)
		}

		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := file.Write(buf[:n]); werr != nil {
				_ = file.Close()
				if fsutil.IsDiskFull(werr) {
					return nil, fmt.Errorf("disk full while writing %s: %w", t.path, werr)
				}
				return nil, fmt.Errorf("could not write file: %w", werr)
			}
			progress.Written += int64(n)
			t.report(progress)
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			if stopped := t.stopped(ctx); stopped != nil {
				return nil, t.finishStopped(file, stopped)
			}
			_ = file.Sync()
			_ = file.Close()
			return nil, pkgerrors.NewTransferError(rerr, t.url, 0)
		}
	}

	if err := file.Sync(); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("could not sync file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("could not close file: %w", err)
	}
	if progress.Total > 0 && progress.Written != progress.Total {
		return nil, pkgerrors.NewTransferError(
			fmt.Errorf("received %d of %d bytes", progress.Written, progress.Total), t.url, 0)
	}

	return &Result{Path: t.path, Bytes: progress.Written}, nil
}

// openTarget opens the output file positioned at the offset the server honoured.
func (t *Task) openTarget(resp *Response, offset int64) (*os.File, int64, error) {
	start := resp.Offset
	if start < 0 || start > offset {
		return nil, 0, pkgerrors.NewTransferError(
			fmt.Errorf("server resumed at %d beyond local size %d", start, offset), t.url, 0)
	}

	file, err := os.OpenFile(t.path, os.O_WRONLY|os.O_CREATE, fsutil.FileModeSecure)
	if err != nil {
		return nil, 0, fmt.Errorf("could not open download file: %w", err)
	}
	if err := file.Truncate(start); err != nil {
		_ = file.Close()
		return nil, 0, fmt.Errorf("could not truncate download file: %w", err)
	}
	if _, err := file.Seek(start, io.SeekStart); err != nil {
		_ = file.Close()
		return nil, 0, fmt.Errorf("could not seek download file: %w", err)
	}
	return file, start, nil
}

// stopped returns the stop cause once ctx is done.
func (t *Task) stopped(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	return context.Cause(ctx)
}

func (t *Task) finishStopped(file *os.File, cause error) error {
	if file != nil {
		if !errors.Is(cause, ErrCanceled) {
			_ = file.Sync()
		}
		_ = file.Close()
	}
	if errors.Is(cause, ErrCanceled) {
		if err := fsutil.RemovePath(t.path); err != nil {
			logger.Warn("Failed to remove canceled download", logger.Fields{"path": t.path, "error": err.Error()})
		}
		return ErrCanceled
	}
	if errors.Is(cause, ErrPaused) {
		return ErrPaused
	}
	return cause
}

func (t *Task) report(p Progress) {
	if t.onProgress != nil {
		t.onProgress(p)
	}
}
