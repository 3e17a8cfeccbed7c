// Package download transfers package archives to local disk with pause, resume and
// cancellation support.
package download

import (
	"context"
	"errors"
	"io"
)

// Stop causes. A stage context canceled with one of these as its cause tells Run what
// to do with the bytes already written.
var (
	// ErrPaused keeps the partial file so a later Run can resume from its size.
	ErrPaused = errors.New("download paused")
	// ErrCanceled removes the partial file.
	ErrCanceled = errors.New("download canceled")
)

//go:generate mockgen -package download -destination=./transport_mock.go . Transport

// Transport opens a remote archive for reading.
type Transport interface {
	// Open requests url starting at offset. The returned Response reports the offset the
	// server actually honoured, which is 0 when ranges are not supported.
	Open(ctx context.Context, url string, offset int64) (*Response, error)
}

// Response is an open transfer.
type Response struct {
	Body io.ReadCloser
	// Offset is the position of the first byte of Body within the full archive.
	Offset int64
	// Total is the full archive size, or -1 when unknown.
	Total int64
}

// Progress is a snapshot of a running transfer.
type Progress struct {
	Written int64
	Total   int64
}

// Fraction returns Written/Total in [0,1], or -1 when the total is unknown.
func (p Progress) Fraction() float64 {
	if p.Total <= 0 {
		return -1
	}
	return min(float64(p.Written)/float64(p.Total), 1)
}

// Result describes a finished transfer.
type Result struct {
	Path  string
	Bytes int64
}
