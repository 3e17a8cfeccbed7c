// Package unpack runs archive extraction on a bounded pool of slots.
package unpack

import (
	"context"
	"errors"

	"github.com/glorpus-work/assetpkg/internal/logger"
	pkgerrors "github.com/glorpus-work/assetpkg/pkg/errors"
	"github.com/glorpus-work/assetpkg/pkg/fsutil"
	"golang.org/x/sync/semaphore"
)

// DefaultWorkers keeps unpacking low priority: one archive at a time.
const DefaultWorkers = 1

// ErrVetoed is returned when Job.OnStart declined to run the job.
var ErrVetoed = errors.New("unpack job vetoed")

//go:generate mockgen -package unpack -destination=./extractor_mock.go . Extractor

// Extractor extracts one archive into a directory.
type Extractor interface {
	Extract(ctx context.Context, archivePath, destDir string, progress func(float64)) error
}

// Job is one archive to extract.
type Job struct {
	ArchivePath string
	DestDir     string

	// OnStart runs once a slot is acquired, before any file is touched. Returning
	// false releases the slot and makes Run return ErrVetoed.
	OnStart func() bool
	// OnProgress receives the extracted fraction.
	OnProgress func(float64)
}

// Pool bounds the number of concurrent extractions.
type Pool struct {
	extractor Extractor
	sem       *semaphore.Weighted
	size      int
}

// NewPool creates a pool with size slots. size < 1 selects DefaultWorkers.
func NewPool(size int, extractor Extractor) *Pool {
	if size < 1 {
		size = DefaultWorkers
	}
	return &Pool{
		extractor: extractor,
		sem:       semaphore.NewWeighted(int64(size)),
		size:      size,
	}
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return p.size
}

// Run waits for a free slot and extracts job. Waiting is abandoned when ctx is done.
// DestDir is emptied before extraction and removed again if extraction fails or is
// canceled. Extraction failures are returned as extraction errors; a canceled ctx
// returns its cause.
func (p *Pool) Run(ctx context.Context, job Job) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return cause(ctx, err)
	}
	defer p.sem.Release(1)

	if job.OnStart != nil && !job.OnStart() {
		return ErrVetoed
	}

	if err := fsutil.RemovePath(job.DestDir); err != nil {
		return pkgerrors.NewExtractionError(err, job.ArchivePath, job.DestDir)
	}

	err := p.extractor.Extract(ctx, job.ArchivePath, job.DestDir, job.OnProgress)
	if err == nil {
		return nil
	}

	if rmErr := fsutil.RemovePath(job.DestDir); rmErr != nil {
		logger.Warn("Failed to remove partial unpack output", logger.Fields{"path": job.DestDir, "error": rmErr.Error()})
	}
	if ctx.Err() != nil {
		return cause(ctx, err)
	}
	if fsutil.IsDiskFull(err) {
		logger.Error("Disk full while unpacking", logger.Fields{"archive": job.ArchivePath, "dest": job.DestDir})
	}
	return pkgerrors.NewExtractionError(err, job.ArchivePath, job.DestDir)
}

func cause(ctx context.Context, fallback error) error {
	if c := context.Cause(ctx); c != nil {
		return c
	}
	return fallback
}
