// Package manager orchestrates the package lifecycle: download, unpack, install and
// enable. Every public operation returns immediately; stage outcomes are reported
// through Hooks.
package manager

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/glorpus-work/assetpkg/internal/logger"
	"github.com/glorpus-work/assetpkg/pkg/errors"
	"github.com/glorpus-work/assetpkg/pkg/fsutil"
	"github.com/glorpus-work/assetpkg/pkg/install"
	"github.com/glorpus-work/assetpkg/pkg/unpack"
)

// DownloadRequest names the package to download. Empty Resolution and OS are taken from
// the manager's environment; an empty RemoteURL is derived from the base URL.
type DownloadRequest struct {
	Name                string
	Resolution          string
	OS                  string
	RemoteURL           string
	EnableAfterDownload bool
}

// Manager owns the managed package set.
type Manager struct {
	opts      Options
	pool      *unpack.Pool
	installer *install.Installer

	mu       sync.RWMutex
	packages map[Key]*Package
	loaded   bool
	closed   bool

	subsMu  sync.RWMutex
	subs    map[int]Hooks
	nextSub int

	// ctx parents every stage; Close cancels it with errors.ErrManagerClosed.
	ctx    context.Context
	cancel context.CancelCauseFunc
	wg     sync.WaitGroup
}

// New creates a manager. Load must be called before any other operation.
func New(opts Options) (*Manager, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, fmt.Errorf("resolving manager defaults: %w", err)
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	m := &Manager{
		opts:      opts,
		pool:      unpack.NewPool(opts.UnpackWorkers, opts.Extractor),
		installer: install.NewInstaller(opts.HookExecutor),
		packages:  make(map[Key]*Package),
		subs:      make(map[int]Hooks),
		ctx:       ctx,
		cancel:    cancel,
	}
	m.Subscribe(opts.Hooks)
	return m, nil
}

// InstallRoot returns the directory installed packages live in.
func (m *Manager) InstallRoot() string {
	return m.opts.InstallRoot
}

// DownloadDir returns the directory archives are downloaded into.
func (m *Manager) DownloadDir() string {
	return m.opts.DownloadDir
}

// UnpackDir returns the directory archives are extracted into before install.
func (m *Manager) UnpackDir() string {
	return m.opts.UnpackDir
}

// AbsInstallPath returns the absolute install location of p, or "" when p has none.
func (m *Manager) AbsInstallPath(p *Package) string {
	rel := p.InstallPath()
	if rel == "" {
		return ""
	}
	return filepath.Join(m.opts.InstallRoot, rel)
}

// Close stops every running stage and waits for the stage goroutines. Statuses are left
// as they are so that a Save after Close records interrupted stages for recovery.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel(errors.ErrManagerClosed)
	m.wg.Wait()
	logger.Debug("Package manager closed")
}

func (m *Manager) ready() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch {
	case m.closed:
		return errors.ErrManagerClosed
	case !m.loaded:
		return errors.ErrManagerNotLoaded
	}
	return nil
}

// key completes a partial identity from the environment.
func (m *Manager) key(name, resolution, os string) Key {
	if resolution == "" {
		resolution = m.opts.Environment.Resolution()
	}
	if os == "" {
		os = m.opts.Environment.OS()
	}
	return Key{Name: name, Resolution: resolution, OS: os}
}

// Resolve looks up a managed package. Empty resolution and os are queried from the
// environment.
func (m *Manager) Resolve(name, resolution, os string) (*Package, bool) {
	k := m.key(name, resolution, os)
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.packages[k]
	return p, ok
}

// Packages returns the managed packages ordered by identifier.
func (m *Manager) Packages() []*Package {
	m.mu.RLock()
	out := make([]*Package, 0, len(m.packages))
	for _, p := range m.packages {
		out = append(out, p)
	}
	m.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Package) int { return strings.Compare(a.ID(), b.ID()) })
	return out
}

// Add manages a caller-built package. Only packages in status initial are accepted.
func (m *Manager) Add(p *Package) error {
	if err := m.ready(); err != nil {
		return err
	}
	if p.Name() == "" {
		return errors.ErrPackageNameEmpty
	}
	if st := p.Status(); st != StatusInitial {
		return errors.NewPreconditionError("add", p.ID(), st.String())
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.packages[p.key]; ok {
		if existing == p {
			return nil
		}
		return fmt.Errorf("%w: %s", errors.ErrDuplicatePackage, p.ID())
	}
	m.packages[p.key] = p
	return nil
}

// adopt manages p if it is not managed yet.
func (m *Manager) adopt(p *Package) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.packages[p.key]
	if !ok {
		m.packages[p.key] = p
		return nil
	}
	if existing != p {
		return fmt.Errorf("%w: %s", errors.ErrDuplicatePackage, p.ID())
	}
	return nil
}

func (m *Manager) managed(p *Package) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.packages[p.key] != p {
		return fmt.Errorf("%w: %s", errors.ErrPackageNotManaged, p.ID())
	}
	return nil
}

// RequestDownload starts the pipeline for the identity in req and returns its package.
// A package that is already in the pipeline or installed is returned unchanged; only
// packages in initial, download-failed or unpack-failed start a new download.
func (m *Manager) RequestDownload(req DownloadRequest) (*Package, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	if req.Name == "" {
		return nil, errors.ErrPackageNameEmpty
	}
	k := m.key(req.Name, req.Resolution, req.OS)

	m.mu.Lock()
	p, ok := m.packages[k]
	if !ok {
		remoteURL := req.RemoteURL
		if remoteURL == "" {
			var err error
			if remoteURL, err = m.remoteURL(k); err != nil {
				m.mu.Unlock()
				return nil, err
			}
		}
		p = newPackage(k, remoteURL)
		m.packages[k] = p
	}
	m.mu.Unlock()

	if err := m.startDownload(p, req.RemoteURL, req.EnableAfterDownload, false); err != nil {
		return nil, err
	}
	return p, nil
}

// Download manages p if needed and starts its download. A paused download is resumed.
func (m *Manager) Download(p *Package, enableAfterDownload bool) error {
	if err := m.ready(); err != nil {
		return err
	}
	if p.Name() == "" {
		return errors.ErrPackageNameEmpty
	}
	if st := p.Status(); st == StatusDeleted {
		return errors.NewPreconditionError("download", p.ID(), st.String())
	}
	if err := m.adopt(p); err != nil {
		return err
	}
	return m.startDownload(p, "", enableAfterDownload, true)
}

func (m *Manager) startDownload(p *Package, remoteURL string, enableAfterDownload, resumePaused bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.deleting {
		return errors.NewPreconditionError("download", p.ID(), p.status.String())
	}
	if resumePaused && p.status == StatusDownloadPaused {
		p.enableAfterDownload = enableAfterDownload
		m.startDownloadStageLocked(p)
		return nil
	}
	if !p.status.canStartDownload() {
		logger.Debug("Download already requested", logger.Fields{"package": p.ID(), "status": p.status.String()})
		return nil
	}

	if remoteURL != "" {
		p.remoteURL = remoteURL
	}
	if p.remoteURL == "" {
		u, err := m.remoteURL(p.key)
		if err != nil {
			return err
		}
		p.remoteURL = u
	}

	if p.status == StatusUnpackFailed {
		// the archive failed to extract; fetch it again from scratch
		m.cleanupLocked(p, p.downloadPath, p.unpackPath)
		p.unpackPath = ""
	}
	p.enableAfterDownload = enableAfterDownload
	p.downloadPath = filepath.Join(m.opts.DownloadDir, p.ID()+archiveSuffix(p.remoteURL, m.opts.ArchiveExtension))
	m.startDownloadStageLocked(p)
	return nil
}

// remoteURL derives "{base}/{name}-{os}-{resolution}.{ext}".
func (m *Manager) remoteURL(k Key) (string, error) {
	if m.opts.BaseURL == "" {
		return "", errors.ErrBaseURLRequired
	}
	ext := strings.TrimPrefix(m.opts.ArchiveExtension, ".")
	return strings.TrimSuffix(m.opts.BaseURL, "/") + "/" + k.String() + "." + ext, nil
}

// archiveSuffix returns the file extension of the archive behind rawURL, falling back
// to the configured extension.
func archiveSuffix(rawURL, fallback string) string {
	name := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		name = u.Path
	}
	name = path.Base(name)
	for _, double := range []string{".tar.gz", ".tar.xz", ".tar.bz2", ".tar.zst"} {
		if strings.HasSuffix(strings.ToLower(name), double) {
			return double
		}
	}
	if ext := path.Ext(name); ext != "" && ext != "." {
		return ext
	}
	return "." + strings.TrimPrefix(fallback, ".")
}

// spawn starts a stage goroutine. fn must close st.done when it stops touching files.
func (m *Manager) spawn(fn func()) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn()
	}()
}

// stageContext derives the context of a new stage.
func (m *Manager) stageContext() (context.Context, context.CancelCauseFunc) {
	return context.WithCancelCause(m.ctx)
}

// cleanupLocked removes paths once the previous stage of p has stopped. Later stages
// wait for the removal.
func (m *Manager) cleanupLocked(p *Package, paths ...string) {
	prev := p.lastDone
	st := newStage(stageCleanup, func(error) {})
	p.lastDone = st.done
	m.spawn(func() {
		defer close(st.done)
		waitFor(prev)
		for _, path := range paths {
			if path == "" {
				continue
			}
			if err := fsutil.RemovePath(path); err != nil {
				logger.Warn("Failed to remove package files", logger.Fields{"package": p.ID(), "path": path, "error": err.Error()})
			}
		}
	})
}

func waitFor(done <-chan struct{}) {
	if done != nil {
		<-done
	}
}

func logTransition(p *Package, from, to Status, kind stageKind) {
	logger.Debug("Package status changed", logger.Fields{
		"package": p.ID(),
		"from":    from.String(),
		"status":  to.String(),
		"stage":   string(kind),
	})
}
