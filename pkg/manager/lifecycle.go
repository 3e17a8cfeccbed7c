package manager

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/glorpus-work/assetpkg/internal/logger"
	"github.com/glorpus-work/assetpkg/pkg/download"
	"github.com/glorpus-work/assetpkg/pkg/errors"
	"github.com/glorpus-work/assetpkg/pkg/fsutil"
)

// Enable registers the installed content of p with the resource registry. Legal only
// from installed-disabled. An unmanaged package is added to the managed set first.
func (m *Manager) Enable(p *Package) error {
	if err := m.ready(); err != nil {
		return err
	}
	if st := p.Status(); st != StatusInstalledDisabled {
		return errors.NewPreconditionError("enable", p.ID(), st.String())
	}
	if err := m.adopt(p); err != nil {
		return err
	}

	p.mu.Lock()
	if p.status != StatusInstalledDisabled || p.deleting {
		st := p.status
		p.mu.Unlock()
		return errors.NewPreconditionError("enable", p.ID(), st.String())
	}
	root := filepath.Join(m.opts.InstallRoot, p.installPath)
	if err := m.opts.Registry.RegisterSearchRoot(root); err != nil {
		p.mu.Unlock()
		return fmt.Errorf("registering search root %s: %w", root, err)
	}
	if err := m.opts.Registry.ReloadFilenameLookups(); err != nil {
		if uerr := m.opts.Registry.UnregisterSearchRoot(root); uerr != nil {
			logger.Warn("Failed to roll back search root", logger.Fields{"package": p.ID(), "error": uerr.Error()})
		}
		p.mu.Unlock()
		return fmt.Errorf("reloading filename lookups: %w", err)
	}
	p.setStatusLocked(StatusInstalledEnabled)
	logTransition(p, StatusInstalledDisabled, StatusInstalledEnabled, "")
	p.mu.Unlock()

	logger.Info("Package enabled", logger.Fields{"package": p.ID(), "root": root})
	m.fireEnabled(p)
	return nil
}

// Disable unregisters the content of p from the resource registry. Legal only from
// installed-enabled. An unmanaged package is added to the managed set first.
func (m *Manager) Disable(p *Package) error {
	if err := m.ready(); err != nil {
		return err
	}
	if st := p.Status(); st != StatusInstalledEnabled {
		return errors.NewPreconditionError("disable", p.ID(), st.String())
	}
	if err := m.adopt(p); err != nil {
		return err
	}

	p.mu.Lock()
	if p.status != StatusInstalledEnabled || p.deleting {
		st := p.status
		p.mu.Unlock()
		return errors.NewPreconditionError("disable", p.ID(), st.String())
	}
	if err := m.disableLocked(p); err != nil {
		p.mu.Unlock()
		return err
	}
	p.mu.Unlock()

	logger.Info("Package disabled", logger.Fields{"package": p.ID()})
	m.fireDisabled(p)
	return nil
}

func (m *Manager) disableLocked(p *Package) error {
	root := filepath.Join(m.opts.InstallRoot, p.installPath)
	if err := m.opts.Registry.UnregisterSearchRoot(root); err != nil {
		return fmt.Errorf("unregistering search root %s: %w", root, err)
	}
	if err := m.opts.Registry.ReloadFilenameLookups(); err != nil {
		return fmt.Errorf("reloading filename lookups: %w", err)
	}
	p.setStatusLocked(StatusInstalledDisabled)
	logTransition(p, StatusInstalledEnabled, StatusInstalledDisabled, "")
	return nil
}

// Delete removes every file of p and drops it from the managed set. It fails fast with
// a precondition error while a download, unpack or install runs; a download that only
// waits for an unpack slot is stopped. An enabled package is disabled first and the
// package's pre-delete hook runs before its content is removed. The Deleted hook
// reports the outcome of every Delete that passed the precondition check.
func (m *Manager) Delete(ctx context.Context, p *Package) error {
	if err := m.ready(); err != nil {
		return err
	}
	if err := m.managed(p); err != nil {
		return err
	}

	p.mu.Lock()
	if p.deleting || p.status.IsTransferring() || p.status == StatusDeleted ||
		(p.status == StatusUnpacked && p.stage != nil) {
		st := p.status
		p.mu.Unlock()
		return errors.NewPreconditionError("delete", p.ID(), st.String())
	}
	p.deleting = true
	p.stopStageLocked(download.ErrCanceled)

	disabled := false
	if p.status == StatusInstalledEnabled {
		if err := m.disableLocked(p); err != nil {
			p.deleting = false
			p.mu.Unlock()
			return m.failDelete(p, err)
		}
		disabled = true
	}
	req := m.installRequestLocked(p)
	archivePath := p.downloadPath
	prev := p.lastDone
	p.mu.Unlock()

	if disabled {
		m.fireDisabled(p)
	}

	if err := waitForCtx(ctx, prev); err != nil {
		return m.abortDelete(p, err)
	}
	if req.InstallPath != "" {
		if err := m.installer.Remove(ctx, req); err != nil {
			return m.abortDelete(p, err)
		}
	}
	for _, path := range []string{archivePath, req.UnpackPath} {
		if err := fsutil.RemovePath(path); err != nil {
			return m.abortDelete(p, err)
		}
	}

	p.mu.Lock()
	from := p.status
	p.clearLocationsLocked()
	p.setStatusLocked(StatusDeleted)
	p.written, p.total = 0, -1
	logTransition(p, from, StatusDeleted, "")
	p.mu.Unlock()

	m.mu.Lock()
	if m.packages[p.key] == p {
		delete(m.packages, p.key)
	}
	m.mu.Unlock()

	logger.Success("Package deleted", logger.Fields{"package": p.ID()})
	m.fireDeleted(p, nil)
	return nil
}

func (m *Manager) abortDelete(p *Package, err error) error {
	p.mu.Lock()
	p.deleting = false
	if p.status == StatusDownloaded && p.stage == nil {
		// Delete stopped the queued unpack
		m.startUnpackStageLocked(p)
	}
	p.mu.Unlock()
	return m.failDelete(p, err)
}

func (m *Manager) failDelete(p *Package, err error) error {
	logger.Error("Package delete failed", logger.Fields{"package": p.ID(), "error": err.Error()})
	m.fireDeleted(p, err)
	return err
}

func waitForCtx(ctx context.Context, done <-chan struct{}) error {
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}
