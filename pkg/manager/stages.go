package manager

import (
	"context"
	stderrors "errors"
	"path/filepath"

	"github.com/glorpus-work/assetpkg/internal/logger"
	"github.com/glorpus-work/assetpkg/pkg/download"
	"github.com/glorpus-work/assetpkg/pkg/errors"
	"github.com/glorpus-work/assetpkg/pkg/fsutil"
	"github.com/glorpus-work/assetpkg/pkg/install"
	"github.com/glorpus-work/assetpkg/pkg/unpack"
)

// A stage goroutine waits for the previous stage of its package before touching files,
// so at most one stage performs I/O per package. Completions are applied only while the
// stage is still current: pause, cancel and delete detach the stage first, which turns
// late completions into no-ops.

func (m *Manager) startDownloadStageLocked(p *Package) {
	ctx, cancel := m.stageContext()
	st := newStage(stageDownload, cancel)
	prev := p.lastDone
	p.stage = st
	p.lastDone = st.done

	from := p.status
	p.setStatusLocked(StatusDownloading)
	p.written, p.total = 0, -1
	logTransition(p, from, StatusDownloading, stageDownload)

	remoteURL, path := p.remoteURL, p.downloadPath
	m.spawn(func() {
		defer close(st.done)
		defer cancel(nil)
		waitFor(prev)
		m.runDownload(ctx, p, st, remoteURL, path)
	})
}

func (m *Manager) runDownload(ctx context.Context, p *Package, st *stage, remoteURL, path string) {
	if p.isCurrent(st) {
		logger.Info("Downloading package", logger.Fields{"package": p.ID(), "url": remoteURL})
		m.fireDownloadStarted(p)
	}

	task := download.NewTask(m.opts.Transport, remoteURL, path, func(progress download.Progress) {
		p.mu.Lock()
		current := p.currentLocked(st)
		if current {
			p.written, p.total = progress.Written, progress.Total
		}
		p.mu.Unlock()
		if current {
			m.fireDownloadProgress(p, progress)
		}
	})
	task.SetChunkSize(m.opts.ChunkSize)

	res, err := task.Run(ctx)
	m.finishDownload(p, st, res, err)
}

func (m *Manager) finishDownload(p *Package, st *stage, res *download.Result, err error) {
	p.mu.Lock()
	if !p.currentLocked(st) {
		p.mu.Unlock()
		return
	}
	p.stage = nil

	switch {
	case err == nil:
		p.written = res.Bytes
		logTransition(p, p.status, StatusDownloaded, stageDownload)
		p.setStatusLocked(StatusDownloaded)
		m.startUnpackStageLocked(p)
		p.mu.Unlock()

		logger.Info("Package downloaded", logger.Fields{"package": p.ID(), "bytes": res.Bytes})
		m.fireDownloadFinished(p)

	case stderrors.Is(err, errors.ErrManagerClosed):
		p.mu.Unlock()

	default:
		logTransition(p, p.status, StatusDownloadFailed, stageDownload)
		p.setStatusLocked(StatusDownloadFailed)
		p.mu.Unlock()

		logger.Error("Package download failed", logger.Fields{
			"package":   p.ID(),
			"transient": errors.IsTransient(err),
			"error":     err.Error(),
		})
		m.fireDownloadFailed(p, err)
	}
}

// startUnpackStageLocked queues the archive of a downloaded package on the unpack pool.
// The status stays downloaded until a pool slot is free.
func (m *Manager) startUnpackStageLocked(p *Package) {
	ctx, cancel := m.stageContext()
	st := newStage(stageUnpack, cancel)
	prev := p.lastDone
	p.stage = st
	p.lastDone = st.done

	if p.unpackPath == "" {
		p.unpackPath = filepath.Join(m.opts.UnpackDir, p.ID())
	}
	archivePath, dest := p.downloadPath, p.unpackPath
	m.spawn(func() {
		defer close(st.done)
		defer cancel(nil)
		waitFor(prev)
		m.runUnpack(ctx, p, st, archivePath, dest)
	})
}

func (m *Manager) runUnpack(ctx context.Context, p *Package, st *stage, archivePath, dest string) {
	err := m.pool.Run(ctx, unpack.Job{
		ArchivePath: archivePath,
		DestDir:     dest,
		OnStart:     func() bool { return m.beginUnpack(p, st) },
		OnProgress: func(fraction float64) {
			if p.isCurrent(st) {
				m.fireUnzipProgress(p, fraction)
			}
		},
	})
	if stderrors.Is(err, unpack.ErrVetoed) {
		return
	}
	if err != nil {
		m.failUnpack(p, st, err)
		return
	}
	m.runInstall(ctx, p, st)
}

func (m *Manager) beginUnpack(p *Package, st *stage) bool {
	p.mu.Lock()
	if !p.currentLocked(st) || p.status != StatusDownloaded {
		p.mu.Unlock()
		return false
	}
	logTransition(p, p.status, StatusUnpacking, stageUnpack)
	p.setStatusLocked(StatusUnpacking)
	p.mu.Unlock()

	logger.Info("Unpacking package", logger.Fields{"package": p.ID()})
	m.fireUnzipStarted(p)
	return true
}

func (m *Manager) failUnpack(p *Package, st *stage, err error) {
	p.mu.Lock()
	if !p.currentLocked(st) {
		p.mu.Unlock()
		return
	}
	p.stage = nil
	if stderrors.Is(err, errors.ErrManagerClosed) {
		p.mu.Unlock()
		return
	}
	logTransition(p, p.status, StatusUnpackFailed, stageUnpack)
	p.setStatusLocked(StatusUnpackFailed)
	p.mu.Unlock()

	logger.Error("Package unpack failed", logger.Fields{"package": p.ID(), "error": err.Error()})
	m.fireUnzipFailed(p, err)
}

func (m *Manager) startInstallStageLocked(p *Package) {
	ctx, cancel := m.stageContext()
	st := newStage(stageInstall, cancel)
	prev := p.lastDone
	p.stage = st
	p.lastDone = st.done

	m.spawn(func() {
		defer close(st.done)
		defer cancel(nil)
		waitFor(prev)
		m.runInstall(ctx, p, st)
	})
}

// runInstall moves unpacked content into the install root. An install failure leaves the
// package unpacked with its unpack directory intact, so RetryInstall can run it again.
func (m *Manager) runInstall(ctx context.Context, p *Package, st *stage) {
	p.mu.Lock()
	if !p.currentLocked(st) {
		p.mu.Unlock()
		return
	}
	unzipFinished := false
	if p.status == StatusUnpacking {
		logTransition(p, p.status, StatusUnpacked, st.kind)
		p.setStatusLocked(StatusUnpacked)
		unzipFinished = true
	}
	if p.installPath == "" {
		p.installPath = p.ID()
	}
	req := m.installRequestLocked(p)
	p.mu.Unlock()

	if unzipFinished {
		m.fireUnzipFinished(p)
	}

	_, err := m.installer.Install(ctx, req)

	p.mu.Lock()
	if !p.currentLocked(st) {
		p.mu.Unlock()
		return
	}
	if err != nil {
		p.stage = nil
		p.mu.Unlock()
		if stderrors.Is(context.Cause(ctx), errors.ErrManagerClosed) {
			return
		}
		logger.Error("Package install failed", logger.Fields{"package": p.ID(), "error": err.Error()})
		m.fireInstallFailed(p, err)
		return
	}

	archivePath := p.downloadPath
	enable := m.completeInstallLocked(p)
	p.mu.Unlock()

	if err := fsutil.RemovePath(archivePath); err != nil {
		logger.Warn("Failed to remove downloaded archive", logger.Fields{"package": p.ID(), "path": archivePath, "error": err.Error()})
	}
	logger.Success("Package installed", logger.Fields{"package": p.ID(), "path": req.InstallPath})
	m.fireInstallFinished(p)

	if enable {
		if err := m.Enable(p); err != nil {
			logger.Warn("Failed to enable package after download", logger.Fields{"package": p.ID(), "error": err.Error()})
		}
	}

	// the stage stays active until the requested enable has run
	p.mu.Lock()
	if p.currentLocked(st) {
		p.stage = nil
	}
	p.mu.Unlock()
}

// completeInstallLocked marks p installed and reports whether it should be enabled now.
// EnableAfterDownload is consumed here.
func (m *Manager) completeInstallLocked(p *Package) bool {
	logTransition(p, p.status, StatusInstalledDisabled, stageInstall)
	p.setStatusLocked(StatusInstalledDisabled)
	p.downloadPath = ""
	p.unpackPath = ""
	enable := p.enableAfterDownload
	p.enableAfterDownload = false
	return enable
}

func (m *Manager) installRequestLocked(p *Package) install.Request {
	req := install.Request{
		Name:       p.key.Name,
		Resolution: p.key.Resolution,
		OS:         p.key.OS,
		UnpackPath: p.unpackPath,
	}
	if p.installPath != "" {
		req.InstallPath = filepath.Join(m.opts.InstallRoot, p.installPath)
	}
	return req
}

// CancelDownload stops the download or queued unpack of p, discards the archive and
// returns p to initial. Legal from downloading, download-paused, download-failed and
// downloaded.
func (m *Manager) CancelDownload(p *Package) error {
	if err := m.ready(); err != nil {
		return err
	}
	if err := m.managed(p); err != nil {
		return err
	}

	p.mu.Lock()
	if !p.status.canCancel() || p.deleting {
		st := p.status
		p.mu.Unlock()
		return errors.NewPreconditionError("cancel", p.ID(), st.String())
	}
	from := p.status
	p.stopStageLocked(download.ErrCanceled)
	m.cleanupLocked(p, p.downloadPath, p.unpackPath)
	p.downloadPath = ""
	p.unpackPath = ""
	p.written, p.total = 0, -1
	p.setStatusLocked(StatusInitial)
	logTransition(p, from, StatusInitial, stageDownload)
	p.mu.Unlock()

	logger.Info("Download canceled", logger.Fields{"package": p.ID()})
	return nil
}

// PauseDownload stops a running download and keeps the bytes received so far.
func (m *Manager) PauseDownload(p *Package) error {
	if err := m.ready(); err != nil {
		return err
	}
	if err := m.managed(p); err != nil {
		return err
	}

	p.mu.Lock()
	if p.status != StatusDownloading || p.deleting {
		st := p.status
		p.mu.Unlock()
		return errors.NewPreconditionError("pause", p.ID(), st.String())
	}
	p.stopStageLocked(download.ErrPaused)
	p.setStatusLocked(StatusDownloadPaused)
	logTransition(p, StatusDownloading, StatusDownloadPaused, stageDownload)
	p.mu.Unlock()

	logger.Info("Download paused", logger.Fields{"package": p.ID()})
	return nil
}

// ResumeDownload continues a paused download, or retries a failed one, from the bytes
// already on disk when the server honours range requests.
func (m *Manager) ResumeDownload(p *Package) error {
	if err := m.ready(); err != nil {
		return err
	}
	if err := m.managed(p); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if (p.status != StatusDownloadPaused && p.status != StatusDownloadFailed) || p.deleting {
		return errors.NewPreconditionError("resume", p.ID(), p.status.String())
	}
	if p.downloadPath == "" {
		p.downloadPath = filepath.Join(m.opts.DownloadDir, p.ID()+archiveSuffix(p.remoteURL, m.opts.ArchiveExtension))
	}
	m.startDownloadStageLocked(p)
	return nil
}

// PauseAll pauses every running download.
func (m *Manager) PauseAll() {
	for _, p := range m.Packages() {
		if p.Status() != StatusDownloading {
			continue
		}
		if err := m.PauseDownload(p); err != nil {
			logger.Debug("Skipping pause", logger.Fields{"package": p.ID(), "error": err.Error()})
		}
	}
}

// ResumeAll resumes every paused download.
func (m *Manager) ResumeAll() {
	for _, p := range m.Packages() {
		if p.Status() != StatusDownloadPaused {
			continue
		}
		if err := m.ResumeDownload(p); err != nil {
			logger.Debug("Skipping resume", logger.Fields{"package": p.ID(), "error": err.Error()})
		}
	}
}

// RetryUnpack extracts the archive of an unpack-failed package again.
func (m *Manager) RetryUnpack(p *Package) error {
	if err := m.ready(); err != nil {
		return err
	}
	if err := m.managed(p); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != StatusUnpackFailed || p.stage != nil || p.deleting {
		return errors.NewPreconditionError("retry unpack", p.ID(), p.status.String())
	}
	if ok, _ := fsutil.PathExists(p.downloadPath); !ok {
		return errors.Wrapf(errors.ErrArchiveMissing, "%s: download it again", p.ID())
	}
	logTransition(p, p.status, StatusDownloaded, stageUnpack)
	p.setStatusLocked(StatusDownloaded)
	m.startUnpackStageLocked(p)
	return nil
}

// RetryInstall runs the install step again for a package left unpacked by an install
// failure.
func (m *Manager) RetryInstall(p *Package) error {
	if err := m.ready(); err != nil {
		return err
	}
	if err := m.managed(p); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != StatusUnpacked || p.stage != nil || p.deleting {
		return errors.NewPreconditionError("retry install", p.ID(), p.status.String())
	}
	m.startInstallStageLocked(p)
	return nil
}
