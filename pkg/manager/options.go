package manager

import (
	"context"

	"github.com/glorpus-work/assetpkg/pkg/archive"
	"github.com/glorpus-work/assetpkg/pkg/download"
	"github.com/glorpus-work/assetpkg/pkg/fsutil"
	"github.com/glorpus-work/assetpkg/pkg/hook"
	"github.com/glorpus-work/assetpkg/pkg/platform"
	"github.com/glorpus-work/assetpkg/pkg/resource"
	"github.com/glorpus-work/assetpkg/pkg/state"
	"github.com/glorpus-work/assetpkg/pkg/unpack"
)

// DefaultArchiveExtension is used for derived remote URLs.
const DefaultArchiveExtension = "zip"

// Store persists the managed package table.
type Store interface {
	Load(ctx context.Context) (*state.Snapshot, error)
	Save(ctx context.Context, records []state.Record) error
}

// Options configure a Manager. Zero values select the defaults noted per field.
type Options struct {
	// InstallRoot holds installed packages. Default: <user cache>/assetpkg/Packages.
	InstallRoot string
	// DownloadDir holds partial and complete archives. Default: <user cache>/assetpkg/downloads.
	DownloadDir string
	// UnpackDir holds extracted archives before install. Default: <user cache>/assetpkg/unzip.
	UnpackDir string
	// StatePath is where Save writes the package table when Store is nil.
	StatePath string

	// BaseURL is required for downloads without an explicit remote URL.
	BaseURL string
	// ArchiveExtension is appended to derived remote URLs. Default: zip.
	ArchiveExtension string

	// NoResumeOnRestart leaves downloads interrupted by a restart paused and unpacks
	// failed at Load. By default both are restarted.
	NoResumeOnRestart bool
	// UnpackWorkers bounds concurrent extractions. Default: unpack.DefaultWorkers.
	UnpackWorkers int
	// ChunkSize is the download read size between pause checks.
	ChunkSize int

	Environment  platform.Environment
	Transport    download.Transport
	Extractor    unpack.Extractor
	Registry     resource.Registry
	HookExecutor hook.Executor
	Store        Store

	// Hooks is subscribed before any operation runs.
	Hooks Hooks
}

// withDefaults fills every unset option.
func (o Options) withDefaults() (Options, error) {
	var err error
	if o.InstallRoot == "" {
		if o.InstallRoot, err = fsutil.GetInstallRoot(); err != nil {
			return o, err
		}
	}
	if o.DownloadDir == "" {
		if o.DownloadDir, err = fsutil.GetDownloadDir(); err != nil {
			return o, err
		}
	}
	if o.UnpackDir == "" {
		if o.UnpackDir, err = fsutil.GetUnpackDir(); err != nil {
			return o, err
		}
	}
	if o.Store == nil {
		if o.StatePath == "" {
			if o.StatePath, err = fsutil.GetStateFile(); err != nil {
				return o, err
			}
		}
		o.Store = state.NewStore(o.StatePath)
	}
	if o.ArchiveExtension == "" {
		o.ArchiveExtension = DefaultArchiveExtension
	}
	if o.UnpackWorkers < 1 {
		o.UnpackWorkers = unpack.DefaultWorkers
	}
	if o.ChunkSize < 1 {
		o.ChunkSize = download.DefaultChunkSize
	}
	if o.Environment == nil {
		o.Environment = platform.Detect("", "")
	}
	if o.Transport == nil {
		o.Transport = download.NewHTTPTransport(download.HTTPOptions{})
	}
	if o.Extractor == nil {
		o.Extractor = archive.NewManager()
	}
	if o.Registry == nil {
		o.Registry = resource.NewSearchPaths()
	}
	if o.HookExecutor == nil {
		o.HookExecutor = hook.NewTengoExecutor()
	}
	return o, nil
}
