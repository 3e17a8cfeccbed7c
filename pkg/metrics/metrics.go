// Package metrics exposes package lifecycle events as Prometheus metrics. An Observer is
// subscribed to a manager through its Hooks and can be dumped in the text exposition
// format for node-exporter style textfile collection.
package metrics

import (
	"sync"
	"time"

	"github.com/glorpus-work/assetpkg/pkg/download"
	"github.com/glorpus-work/assetpkg/pkg/errors"
	"github.com/glorpus-work/assetpkg/pkg/manager"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "assetpkg"

// Failure reasons used as the "reason" label.
const (
	ReasonTransient = "transient"
	ReasonRejected  = "rejected"
	ReasonOther     = "other"
)

// Observer holds all lifecycle metrics.
type Observer struct {
	registry *prometheus.Registry

	DownloadsStarted  prometheus.Counter
	DownloadsFinished prometheus.Counter
	DownloadsFailed   *prometheus.CounterVec
	DownloadedBytes   prometheus.Counter
	DownloadDuration  prometheus.Histogram

	UnpacksStarted  prometheus.Counter
	UnpacksFinished prometheus.Counter
	UnpacksFailed   prometheus.Counter

	InstallsFinished prometheus.Counter
	InstallsFailed   prometheus.Counter

	Enabled  prometheus.Counter
	Disabled prometheus.Counter
	Deleted  *prometheus.CounterVec

	Packages *prometheus.GaugeVec

	mu      sync.Mutex
	started map[manager.Key]time.Time
	written map[manager.Key]int64
	nowFunc func() time.Time
}

// NewObserver creates an observer with its own registry.
func NewObserver() *Observer {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Observer{
		registry: reg,

		DownloadsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_started_total",
			Help:      "Number of download stages started, including resumes",
		}),
		DownloadsFinished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_finished_total",
			Help:      "Number of archives downloaded completely",
		}),
		DownloadsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_failed_total",
			Help:      "Number of failed downloads by reason",
		}, []string{"reason"}),
		DownloadedBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloaded_bytes_total",
			Help:      "Archive bytes written to disk",
		}),
		DownloadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "download_duration_seconds",
			Help:      "Duration of download stages that finished",
			Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),

		UnpacksStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unpacks_started_total",
			Help:      "Number of archive extractions started",
		}),
		UnpacksFinished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unpacks_finished_total",
			Help:      "Number of archive extractions that succeeded",
		}),
		UnpacksFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unpacks_failed_total",
			Help:      "Number of archive extractions that failed",
		}),

		InstallsFinished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "installs_finished_total",
			Help:      "Number of packages moved into the install root",
		}),
		InstallsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "installs_failed_total",
			Help:      "Number of failed install steps",
		}),

		Enabled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enabled_total",
			Help:      "Number of packages enabled",
		}),
		Disabled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disabled_total",
			Help:      "Number of packages disabled",
		}),
		Deleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deletes_total",
			Help:      "Number of delete attempts by result",
		}, []string{"result"}),

		Packages: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "packages",
			Help:      "Managed packages by status",
		}, []string{"status"}),

		started: make(map[manager.Key]time.Time),
		written: make(map[manager.Key]int64),
		nowFunc: time.Now,
	}
}

// Registry returns the registry the metrics are registered with.
func (o *Observer) Registry() *prometheus.Registry {
	return o.registry
}

// Hooks returns the manager callbacks feeding the metrics.
func (o *Observer) Hooks() manager.Hooks {
	return manager.Hooks{
		DownloadStarted:  o.downloadStarted,
		DownloadProgress: o.downloadProgress,
		DownloadFailed: func(p *manager.Package, err error) {
			o.forget(p.Key())
			o.DownloadsFailed.WithLabelValues(failureReason(err)).Inc()
		},
		DownloadFinished: o.downloadFinished,
		UnzipStarted:     func(*manager.Package) { o.UnpacksStarted.Inc() },
		UnzipFailed:      func(*manager.Package, error) { o.UnpacksFailed.Inc() },
		UnzipFinished:    func(*manager.Package) { o.UnpacksFinished.Inc() },
		InstallFinished:  func(*manager.Package) { o.InstallsFinished.Inc() },
		InstallFailed:    func(*manager.Package, error) { o.InstallsFailed.Inc() },
		Enabled:          func(*manager.Package) { o.Enabled.Inc() },
		Disabled:         func(*manager.Package) { o.Disabled.Inc() },
		Deleted: func(_ *manager.Package, err error) {
			result := "ok"
			if err != nil {
				result = "error"
			}
			o.Deleted.WithLabelValues(result).Inc()
		},
	}
}

func (o *Observer) downloadStarted(p *manager.Package) {
	o.mu.Lock()
	o.started[p.Key()] = o.nowFunc()
	delete(o.written, p.Key())
	o.mu.Unlock()
	o.DownloadsStarted.Inc()
}

// downloadProgress counts bytes written by this process. The first report of a resumed
// download carries the bytes already on disk, which are not counted again.
func (o *Observer) downloadProgress(p *manager.Package, progress download.Progress) {
	o.mu.Lock()
	last, seen := o.written[p.Key()]
	o.written[p.Key()] = progress.Written
	o.mu.Unlock()
	if seen && progress.Written > last {
		o.DownloadedBytes.Add(float64(progress.Written - last))
	}
}

func (o *Observer) downloadFinished(p *manager.Package) {
	o.mu.Lock()
	start, ok := o.started[p.Key()]
	o.mu.Unlock()
	o.forget(p.Key())
	if ok {
		o.DownloadDuration.Observe(o.nowFunc().Sub(start).Seconds())
	}
	o.DownloadsFinished.Inc()
}

func (o *Observer) forget(k manager.Key) {
	o.mu.Lock()
	delete(o.started, k)
	delete(o.written, k)
	o.mu.Unlock()
}

// RecordStatuses sets the packages gauge from a snapshot of the managed set.
func (o *Observer) RecordStatuses(pkgs []*manager.Package) {
	o.Packages.Reset()
	for _, p := range pkgs {
		o.Packages.WithLabelValues(p.Status().String()).Inc()
	}
}

// WriteToTextfile writes every metric to path in the text exposition format.
func (o *Observer) WriteToTextfile(path string) error {
	return prometheus.WriteToTextfile(path, o.registry)
}

func failureReason(err error) string {
	switch {
	case errors.IsRejected(err):
		return ReasonRejected
	case errors.IsTransient(err):
		return ReasonTransient
	default:
		return ReasonOther
	}
}
