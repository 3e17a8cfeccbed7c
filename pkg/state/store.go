// Package state persists the managed package table as a versioned JSON document.
package state

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/glorpus-work/assetpkg/internal/logger"
	"github.com/glorpus-work/assetpkg/pkg/errors"
	"github.com/glorpus-work/assetpkg/pkg/fsutil"
	"github.com/gofrs/flock"
	"github.com/hashicorp/go-version"
)

const (
	// FormatVersion is written into every saved document.
	FormatVersion = "1.0.0"

	// legacyFormatVersion is assumed for documents without a format_version.
	legacyFormatVersion = "1.0.0"

	// SupportedVersions is the range of document versions Load accepts.
	SupportedVersions = ">= 1.0, < 2.0"

	lockRetryDelay = 50 * time.Millisecond
)

// Record is one persisted package. Only non-transient fields are stored.
type Record struct {
	Name                string `json:"name"`
	Resolution          string `json:"resolution"`
	OS                  string `json:"os"`
	Status              string `json:"status"`
	RemoteURL           string `json:"remote_url,omitempty"`
	DownloadPath        string `json:"download_path,omitempty"`
	UnpackPath          string `json:"unpack_path,omitempty"`
	InstallPath         string `json:"install_path,omitempty"`
	EnableAfterDownload bool   `json:"enable_after_download,omitempty"`
}

// Validate checks the fields every record must carry.
func (r Record) Validate() error {
	switch {
	case r.Name == "":
		return fmt.Errorf("%w: missing name", errors.ErrInvalidRecord)
	case r.Resolution == "":
		return fmt.Errorf("%w: missing resolution", errors.ErrInvalidRecord)
	case r.OS == "":
		return fmt.Errorf("%w: missing os", errors.ErrInvalidRecord)
	case r.Status == "":
		return fmt.Errorf("%w: missing status", errors.ErrInvalidRecord)
	}
	return nil
}

// Dropped describes a record that could not be restored.
type Dropped struct {
	Index  int
	Raw    string
	Reason error
}

// Snapshot is the result of a Load.
type Snapshot struct {
	FormatVersion string
	LastUpdate    time.Time
	Records       []Record
	Dropped       []Dropped
}

type document struct {
	FormatVersion string            `json:"format_version"`
	LastUpdate    time.Time         `json:"last_update"`
	Packages      []json.RawMessage `json:"packages"`
}

// Store reads and writes the state document at a fixed path. A sibling ".lock" file
// serialises access between processes; Store itself is safe for concurrent use.
type Store struct {
	path string
	lock *flock.Flock
	mu   sync.Mutex
}

// NewStore creates a store for the document at path.
func NewStore(path string) *Store {
	return &Store{
		path: filepath.Clean(path),
		lock: flock.New(filepath.Clean(path)+".lock", flock.SetPermissions(fsutil.FileModeSecure)),
	}
}

// Path returns the document location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the document. A missing or empty document yields an empty snapshot.
// Records that cannot be decoded or lack identity fields are dropped and reported.
func (s *Store) Load(ctx context.Context) (*Snapshot, error) {
	var snapshot *Snapshot
	err := s.withLock(ctx, func() error {
		data, err := os.ReadFile(s.path)
		if os.IsNotExist(err) {
			snapshot = &Snapshot{FormatVersion: FormatVersion}
			return nil
		}
		if err != nil {
			return errors.NewStateError(err, s.path)
		}
		snapshot, err = parse(data)
		if err != nil {
			return errors.Wrapf(err, "loading %s", s.path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, d := range snapshot.Dropped {
		logger.Warn("Dropping malformed package record", logger.Fields{
			"index":  d.Index,
			"reason": d.Reason.Error(),
			"path":   s.path,
		})
	}
	return snapshot, nil
}

func parse(data []byte) (*Snapshot, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return &Snapshot{FormatVersion: FormatVersion}, nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(errors.ErrStateParse, err.Error())
	}
	if doc.FormatVersion == "" {
		doc.FormatVersion = legacyFormatVersion
	}
	if err := checkVersion(doc.FormatVersion); err != nil {
		return nil, err
	}

	snapshot := &Snapshot{
		FormatVersion: doc.FormatVersion,
		LastUpdate:    doc.LastUpdate,
		Records:       make([]Record, 0, len(doc.Packages)),
	}
	for i, raw := range doc.Packages {
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			snapshot.Dropped = append(snapshot.Dropped, Dropped{Index: i, Raw: string(raw), Reason: errors.Wrap(errors.ErrInvalidRecord, err.Error())})
			continue
		}
		if err := rec.Validate(); err != nil {
			snapshot.Dropped = append(snapshot.Dropped, Dropped{Index: i, Raw: string(raw), Reason: err})
			continue
		}
		snapshot.Records = append(snapshot.Records, rec)
	}
	return snapshot, nil
}

func checkVersion(v string) error {
	parsed, err := version.NewVersion(v)
	if err != nil {
		return errors.Wrapf(errors.ErrUnsupportedStateVersion, "%q", v)
	}
	constraint, err := version.NewConstraint(SupportedVersions)
	if err != nil {
		return err
	}
	if !constraint.Check(parsed) {
		return errors.Wrapf(errors.ErrUnsupportedStateVersion, "%s not in %s", v, SupportedVersions)
	}
	return nil
}

// Save atomically replaces the document with records.
func (s *Store) Save(ctx context.Context, records []Record) error {
	if records == nil {
		records = []Record{}
	}
	return s.withLock(ctx, func() error {
		return s.write(records)
	})
}

func (s *Store) write(records []Record) (err error) {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, fsutil.DirModeDefault); err != nil {
		return errors.NewStateError(err, s.path)
	}

	payload := struct {
		FormatVersion string    `json:"format_version"`
		LastUpdate    time.Time `json:"last_update"`
		Packages      []Record  `json:"packages"`
	}{
		FormatVersion: FormatVersion,
		LastUpdate:    time.Now().UTC(),
		Packages:      records,
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal package state to JSON: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "packages-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file in %s: %w", dir, err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to write to temporary file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to sync temporary file to disk: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file: %w", err)
	}
	if err := os.Chmod(tmpPath, fsutil.FileModeSecure); err != nil {
		return fmt.Errorf("failed to set permissions on %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to rename temporary file to %s: %w", s.path, err)
	}
	return nil
}

func (s *Store) withLock(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := fsutil.EnsureFileDir(s.lock.Path()); err != nil {
		return errors.NewStateError(err, s.path)
	}
	locked, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return errors.Wrapf(errors.ErrStateLocked, "%s: %v", s.lock.Path(), err)
	}
	if !locked {
		return errors.Wrap(errors.ErrStateLocked, s.lock.Path())
	}
	defer func() { _ = s.lock.Unlock() }()

	return fn()
}
