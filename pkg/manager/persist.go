package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/glorpus-work/assetpkg/internal/logger"
	"github.com/glorpus-work/assetpkg/pkg/errors"
	"github.com/glorpus-work/assetpkg/pkg/fsutil"
	"github.com/glorpus-work/assetpkg/pkg/install"
	"github.com/glorpus-work/assetpkg/pkg/state"
)

// Recovery records a status change Load applied to a package interrupted by a restart.
type Recovery struct {
	Key    Key
	From   Status
	To     Status
	Action string
}

// LoadReport summarises a Load.
type LoadReport struct {
	Loaded int
	// Dropped lists records that could not be restored. Index is -1 for records that
	// decoded but were rejected by the manager.
	Dropped   []state.Dropped
	Recovered []Recovery
}

// Load restores the persisted package table. It must run once before any other
// operation. A missing or empty store yields no packages. Packages interrupted by a
// restart are recovered: transfers resume or are marked failed, half-finished installs
// are completed, and enabled packages are registered with the resource registry again
// without firing Enabled.
func (m *Manager) Load(ctx context.Context) (*LoadReport, error) {
	m.mu.Lock()
	switch {
	case m.closed:
		m.mu.Unlock()
		return nil, errors.ErrManagerClosed
	case m.loaded:
		m.mu.Unlock()
		return nil, errors.ErrManagerLoaded
	}
	m.mu.Unlock()

	snapshot, err := m.opts.Store.Load(ctx)
	if err != nil {
		return nil, err
	}

	report := &LoadReport{Dropped: snapshot.Dropped}
	restored := make(map[Key]*Package, len(snapshot.Records))
	var order []*Package
	for _, rec := range snapshot.Records {
		p, err := packageFromRecord(rec)
		if err == nil && restored[p.key] != nil {
			err = fmt.Errorf("%w: %s", errors.ErrDuplicatePackage, p.ID())
		}
		if err != nil {
			raw, _ := json.Marshal(rec)
			logger.Warn("Dropping package record", logger.Fields{"package": rec.Name, "reason": err.Error()})
			report.Dropped = append(report.Dropped, state.Dropped{Index: -1, Raw: string(raw), Reason: err})
			continue
		}
		if p.status == StatusDeleted {
			continue
		}
		restored[p.key] = p
		order = append(order, p)
	}

	var starts []func()
	var enabled []*Package
	for _, p := range order {
		p.mu.Lock()
		from := p.status
		start, action := m.recoverLocked(p)
		to := p.status
		if to == StatusInstalledEnabled {
			enabled = append(enabled, p)
		}
		p.mu.Unlock()

		if start != nil {
			starts = append(starts, start)
		}
		if action != "" {
			report.Recovered = append(report.Recovered, Recovery{Key: p.key, From: from, To: to, Action: action})
			logger.Info("Recovered package", logger.Fields{"package": p.ID(), "from": from.String(), "status": to.String(), "action": action})
		}
	}

	report.Recovered = append(report.Recovered, m.restoreSearchRoots(enabled)...)

	m.mu.Lock()
	for k, p := range restored {
		m.packages[k] = p
	}
	m.loaded = true
	m.mu.Unlock()
	report.Loaded = len(order)

	for _, start := range starts {
		start()
	}

	logger.Debug("Package state loaded", logger.Fields{
		"packages":  report.Loaded,
		"dropped":   len(report.Dropped),
		"recovered": len(report.Recovered),
	})
	return report, nil
}

// Save writes the managed package table. Callers decide when to save. Save also works
// after Close so that interrupted stages are recorded for recovery.
func (m *Manager) Save(ctx context.Context) error {
	m.mu.RLock()
	loaded := m.loaded
	m.mu.RUnlock()
	if !loaded {
		return errors.ErrManagerNotLoaded
	}

	pkgs := m.Packages()
	records := make([]state.Record, 0, len(pkgs))
	for _, p := range pkgs {
		records = append(records, p.record())
	}
	return m.opts.Store.Save(ctx, records)
}

func (p *Package) record() state.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return state.Record{
		Name:                p.key.Name,
		Resolution:          p.key.Resolution,
		OS:                  p.key.OS,
		Status:              p.status.String(),
		RemoteURL:           p.remoteURL,
		DownloadPath:        p.downloadPath,
		UnpackPath:          p.unpackPath,
		InstallPath:         p.installPath,
		EnableAfterDownload: p.enableAfterDownload,
	}
}

func packageFromRecord(rec state.Record) (*Package, error) {
	status, err := ParseStatus(rec.Status)
	if err != nil {
		return nil, err
	}
	p := newPackage(Key{Name: rec.Name, Resolution: rec.Resolution, OS: rec.OS}, rec.RemoteURL)
	p.status = status
	p.downloadPath = rec.DownloadPath
	p.unpackPath = rec.UnpackPath
	p.installPath = rec.InstallPath
	p.enableAfterDownload = rec.EnableAfterDownload
	return p, nil
}

// recoverLocked brings a restored package back to a consistent status. It returns a
// function starting the stage the package should resume with, and a description of the
// change, empty when nothing changed.
func (m *Manager) recoverLocked(p *Package) (start func(), action string) {
	switch p.status {
	case StatusDownloading:
		if m.opts.NoResumeOnRestart {
			p.setStatusLocked(StatusDownloadPaused)
			return nil, "download paused"
		}
		if p.downloadPath == "" {
			p.downloadPath = filepath.Join(m.opts.DownloadDir, p.ID()+archiveSuffix(p.remoteURL, m.opts.ArchiveExtension))
		}
		return m.locked(p, m.startDownloadStageLocked), "download resumed"

	case StatusDownloaded:
		if !fileExists(p.downloadPath) {
			p.setStatusLocked(StatusDownloadFailed)
			return nil, "archive missing"
		}
		return m.locked(p, m.startUnpackStageLocked), "unpack queued"

	case StatusUnpacking:
		if !m.opts.NoResumeOnRestart && fileExists(p.downloadPath) {
			p.setStatusLocked(StatusDownloaded)
			return m.locked(p, m.startUnpackStageLocked), "unpack restarted"
		}
		p.setStatusLocked(StatusUnpackFailed)
		return nil, "unpack interrupted"

	case StatusUnpacked:
		return m.recoverInstallLocked(p)

	case StatusInstalledDisabled, StatusInstalledEnabled:
		abs := filepath.Join(m.opts.InstallRoot, p.installPath)
		if p.installPath == "" || m.installer.Probe(abs, "") != install.Complete {
			p.setStatusLocked(StatusUnpackFailed)
			return nil, "installed content missing"
		}
	}
	return nil, ""
}

func (m *Manager) recoverInstallLocked(p *Package) (func(), string) {
	if p.installPath == "" {
		p.installPath = p.ID()
	}
	abs := filepath.Join(m.opts.InstallRoot, p.installPath)

	switch m.installer.Probe(abs, p.unpackPath) {
	case install.Complete:
		return m.finishRecoveredInstallLocked(p), "install completed"
	case install.Staged:
		if err := m.installer.FinishStaged(abs); err != nil {
			logger.Warn("Failed to finish staged install", logger.Fields{"package": p.ID(), "error": err.Error()})
			p.setStatusLocked(StatusUnpackFailed)
			return nil, "staged install unusable"
		}
		return m.finishRecoveredInstallLocked(p), "staged install finished"
	case install.Unpacked:
		return m.locked(p, m.startInstallStageLocked), "install restarted"
	default:
		p.setStatusLocked(StatusUnpackFailed)
		return nil, "unpacked content missing"
	}
}

// finishRecoveredInstallLocked completes an install whose files were finished before
// the restart.
func (m *Manager) finishRecoveredInstallLocked(p *Package) func() {
	m.cleanupLocked(p, p.downloadPath, p.unpackPath)
	if !m.completeInstallLocked(p) {
		return nil
	}
	return func() {
		if err := m.Enable(p); err != nil {
			logger.Warn("Failed to enable recovered package", logger.Fields{"package": p.ID(), "error": err.Error()})
		}
	}
}

// restoreSearchRoots registers enabled packages with the resource registry. Packages
// whose root cannot be registered are downgraded to installed-disabled.
func (m *Manager) restoreSearchRoots(enabled []*Package) []Recovery {
	var recovered []Recovery
	registered := 0
	for _, p := range enabled {
		p.mu.Lock()
		root := filepath.Join(m.opts.InstallRoot, p.installPath)
		if err := m.opts.Registry.RegisterSearchRoot(root); err != nil {
			p.setStatusLocked(StatusInstalledDisabled)
			recovered = append(recovered, Recovery{Key: p.key, From: StatusInstalledEnabled, To: StatusInstalledDisabled, Action: "search root registration failed"})
			logger.Warn("Failed to restore search root", logger.Fields{"package": p.ID(), "error": err.Error()})
		} else {
			registered++
		}
		p.mu.Unlock()
	}
	if registered > 0 {
		if err := m.opts.Registry.ReloadFilenameLookups(); err != nil {
			logger.Warn("Failed to reload filename lookups", logger.Fields{"error": err.Error()})
		}
	}
	return recovered
}

// locked wraps a *Locked stage starter for use after Load publishes the package.
func (m *Manager) locked(p *Package, fn func(*Package)) func() {
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		fn(p)
	}
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	ok, err := fsutil.PathExists(path)
	return ok && err == nil
}
