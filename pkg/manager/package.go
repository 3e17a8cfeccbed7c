package manager

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Key is the identity of a package. The manager holds at most one package per key.
type Key struct {
	Name       string
	Resolution string
	OS         string
}

// String returns the standard identifier "{name}-{os}-{resolution}" used for file and
// URL names.
func (k Key) String() string {
	return fmt.Sprintf("%s-%s-%s", k.Name, k.OS, k.Resolution)
}

type stageKind string

const (
	stageDownload stageKind = "download"
	stageUnpack   stageKind = "unpack"
	stageInstall  stageKind = "install"
	stageCleanup  stageKind = "cleanup"
)

// stage is the transient handle of a running download, unpack or install goroutine.
type stage struct {
	token  uuid.UUID
	kind   stageKind
	cancel context.CancelCauseFunc
	done   chan struct{}
}

func newStage(kind stageKind, cancel context.CancelCauseFunc) *stage {
	return &stage{
		token:  uuid.New(),
		kind:   kind,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Package is one asset package. Its accessors are safe for concurrent use; lifecycle
// fields change only through Manager operations.
type Package struct {
	key Key

	mu                  sync.Mutex
	status              Status
	remoteURL           string
	downloadPath        string
	unpackPath          string
	installPath         string
	enableAfterDownload bool

	// stage is the active stage; nil when none runs.
	stage *stage
	// lastDone closes when the most recently started stage has stopped touching files.
	lastDone <-chan struct{}
	deleting bool

	written int64
	total   int64
}

// NewPackage creates an unmanaged package in status initial. An empty remoteURL is
// derived from the manager's base URL when the package is downloaded.
func NewPackage(name, resolution, os, remoteURL string) *Package {
	return newPackage(Key{Name: name, Resolution: resolution, OS: os}, remoteURL)
}

func newPackage(key Key, remoteURL string) *Package {
	return &Package{key: key, status: StatusInitial, remoteURL: remoteURL, total: -1}
}

// Key returns the identity triple of the package.
func (p *Package) Key() Key { return p.key }

// Name returns the package name.
func (p *Package) Name() string { return p.key.Name }

// Resolution returns the asset resolution, e.g. "phonehd".
func (p *Package) Resolution() string { return p.key.Resolution }

// OS returns the platform the package was built for.
func (p *Package) OS() string { return p.key.OS }

// ID returns the standard identifier of the package.
func (p *Package) ID() string { return p.key.String() }

// Status returns the current lifecycle status.
func (p *Package) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// RemoteURL is the location the archive is downloaded from.
func (p *Package) RemoteURL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remoteURL
}

// DownloadPath is the absolute location of the downloaded archive.
func (p *Package) DownloadPath() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.downloadPath
}

// UnpackPath is the absolute temporary directory the archive is extracted into.
func (p *Package) UnpackPath() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unpackPath
}

// InstallPath is the install location relative to the install root.
func (p *Package) InstallPath() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.installPath
}

// EnableAfterDownload reports whether the package is enabled once its install finishes.
// The flag is cleared when the enable runs.
func (p *Package) EnableAfterDownload() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enableAfterDownload
}

// Transferred returns the bytes written by the current or last download and the
// expected total, -1 when unknown.
func (p *Package) Transferred() (written, total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written, p.total
}

// Active reports whether a stage is running for the package.
func (p *Package) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stage != nil
}

// isCurrent reports whether st is still the active stage. Completions of stages that
// were paused, canceled or replaced are ignored.
func (p *Package) isCurrent(st *stage) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentLocked(st)
}

func (p *Package) currentLocked(st *stage) bool {
	return p.stage != nil && p.stage.token == st.token
}

// stopStageLocked detaches the active stage and stops it with cause. The stage
// goroutine keeps running until its current chunk or entry is done; lastDone still
// tracks it.
func (p *Package) stopStageLocked(cause error) {
	if p.stage == nil {
		return
	}
	p.stage.cancel(cause)
	p.stage = nil
}

func (p *Package) setStatusLocked(s Status) {
	p.status = s
}

func (p *Package) clearLocationsLocked() {
	p.downloadPath = ""
	p.unpackPath = ""
	p.installPath = ""
}
