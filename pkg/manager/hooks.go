package manager

import (
	"maps"
	"slices"

	"github.com/glorpus-work/assetpkg/pkg/download"
)

// Hooks carries one typed callback per lifecycle event. Nil callbacks are skipped.
// Callbacks run on the goroutine that produced the event, never while a package lock is
// held, so they may call back into the Manager.
type Hooks struct {
	DownloadStarted  func(p *Package)
	DownloadProgress func(p *Package, progress download.Progress)
	DownloadFailed   func(p *Package, err error)
	DownloadFinished func(p *Package)

	UnzipStarted  func(p *Package)
	UnzipProgress func(p *Package, fraction float64)
	UnzipFailed   func(p *Package, err error)
	UnzipFinished func(p *Package)

	InstallFinished func(p *Package)
	InstallFailed   func(p *Package, err error)

	Enabled  func(p *Package)
	Disabled func(p *Package)
	Deleted  func(p *Package, err error)
}

// Subscribe adds a set of hooks. The returned function removes them again.
func (m *Manager) Subscribe(h Hooks) (unsubscribe func()) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = h
	return func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		delete(m.subs, id)
	}
}

func (m *Manager) notify(fn func(h Hooks)) {
	m.subsMu.RLock()
	hooks := make([]Hooks, 0, len(m.subs))
	for _, id := range slices.Sorted(maps.Keys(m.subs)) {
		hooks = append(hooks, m.subs[id])
	}
	m.subsMu.RUnlock()

	for _, h := range hooks {
		fn(h)
	}
}

func (m *Manager) fireDownloadStarted(p *Package) {
	m.notify(func(h Hooks) {
		if h.DownloadStarted != nil {
			h.DownloadStarted(p)
		}
	})
}

func (m *Manager) fireDownloadProgress(p *Package, progress download.Progress) {
	m.notify(func(h Hooks) {
		if h.DownloadProgress != nil {
			h.DownloadProgress(p, progress)
		}
	})
}

func (m *Manager) fireDownloadFailed(p *Package, err error) {
	m.notify(func(h Hooks) {
		if h.DownloadFailed != nil {
			h.DownloadFailed(p, err)
		}
	})
}

func (m *Manager) fireDownloadFinished(p *Package) {
	m.notify(func(h Hooks) {
		if h.DownloadFinished != nil {
			h.DownloadFinished(p)
		}
	})
}

func (m *Manager) fireUnzipStarted(p *Package) {
	m.notify(func(h Hooks) {
		if h.UnzipStarted != nil {
			h.UnzipStarted(p)
		}
	})
}

func (m *Manager) fireUnzipProgress(p *Package, fraction float64) {
	m.notify(func(h Hooks) {
		if h.UnzipProgress != nil {
			h.UnzipProgress(p, fraction)
		}
	})
}

func (m *Manager) fireUnzipFailed(p *Package, err error) {
	m.notify(func(h Hooks) {
		if h.UnzipFailed != nil {
			h.UnzipFailed(p, err)
		}
	})
}

func (m *Manager) fireUnzipFinished(p *Package) {
	m.notify(func(h Hooks) {
		if h.UnzipFinished != nil {
			h.UnzipFinished(p)
		}
	})
}

func (m *Manager) fireInstallFinished(p *Package) {
	m.notify(func(h Hooks) {
		if h.InstallFinished != nil {
			h.InstallFinished(p)
		}
	})
}

func (m *Manager) fireInstallFailed(p *Package, err error) {
	m.notify(func(h Hooks) {
		if h.InstallFailed != nil {
			h.InstallFailed(p, err)
		}
	})
}

func (m *Manager) fireEnabled(p *Package) {
	m.notify(func(h Hooks) {
		if h.Enabled != nil {
			h.Enabled(p)
		}
	})
}

func (m *Manager) fireDisabled(p *Package) {
	m.notify(func(h Hooks) {
		if h.Disabled != nil {
			h.Disabled(p)
		}
	})
}

func (m *Manager) fireDeleted(p *Package, err error) {
	m.notify(func(h Hooks) {
		if h.Deleted != nil {
			h.Deleted(p, err)
		}
	})
}
