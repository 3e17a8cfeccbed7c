package manager

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glorpus-work/assetpkg/pkg/archive"
	"github.com/glorpus-work/assetpkg/pkg/download"
	"github.com/glorpus-work/assetpkg/pkg/errors"
	"github.com/glorpus-work/assetpkg/pkg/platform"
	"github.com/glorpus-work/assetpkg/pkg/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const pack1URL = "http://example.com/Pack1-iOS-phonehd.zip"

var pack1Files = map[string]string{
	"Pack1/sprites/hero.png": "hero",
	"Pack1/readme.txt":       "pack one",
}

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

// buildArchive returns the bytes of a zip holding files.
func buildArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	src := t.TempDir()
	writeFiles(t, src, files)
	out := filepath.Join(t.TempDir(), "pkg.zip")
	require.NoError(t, archive.NewManager().Create(context.Background(), src, out))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	return data
}

func serve(body []byte) *download.Response {
	return &download.Response{Body: io.NopCloser(bytes.NewReader(body)), Total: int64(len(body))}
}

// gatedBody serves head, then blocks until release is closed or ctx is done, then
// serves tail.
type gatedBody struct {
	ctx     context.Context
	head    *bytes.Reader
	release <-chan struct{}
	tail    *bytes.Reader
	closed  atomic.Bool
}

func newGatedBody(ctx context.Context, head, tail []byte, release <-chan struct{}) *gatedBody {
	b := &gatedBody{ctx: ctx, head: bytes.NewReader(head), release: release}
	if tail != nil {
		b.tail = bytes.NewReader(tail)
	}
	return b
}

func (b *gatedBody) Read(p []byte) (int, error) {
	if b.head.Len() > 0 {
		return b.head.Read(p)
	}
	select {
	case <-b.release:
	case <-b.ctx.Done():
		return 0, b.ctx.Err()
	}
	if b.tail == nil {
		return 0, io.EOF
	}
	return b.tail.Read(p)
}

func (b *gatedBody) Close() error {
	b.closed.Store(true)
	return nil
}

// awaitClosed fails t unless ch is closed within the usual wait.
func awaitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

// recorder collects hook events in order.
type recorder struct {
	mu     sync.Mutex
	events []string
	errs   map[string]error
}

func (r *recorder) add(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, name)
	if err != nil {
		if r.errs == nil {
			r.errs = make(map[string]error)
		}
		r.errs[name] = err
	}
}

func (r *recorder) hooks() Hooks {
	return Hooks{
		DownloadStarted:  func(*Package) { r.add("download-started", nil) },
		DownloadProgress: func(*Package, download.Progress) { r.add("download-progress", nil) },
		DownloadFailed:   func(_ *Package, err error) { r.add("download-failed", err) },
		DownloadFinished: func(*Package) { r.add("download-finished", nil) },
		UnzipStarted:     func(*Package) { r.add("unzip-started", nil) },
		UnzipProgress:    func(*Package, float64) { r.add("unzip-progress", nil) },
		UnzipFailed:      func(_ *Package, err error) { r.add("unzip-failed", err) },
		UnzipFinished:    func(*Package) { r.add("unzip-finished", nil) },
		InstallFinished:  func(*Package) { r.add("install-finished", nil) },
		InstallFailed:    func(_ *Package, err error) { r.add("install-failed", err) },
		Enabled:          func(*Package) { r.add("enabled", nil) },
		Disabled:         func(*Package) { r.add("disabled", nil) },
		Deleted:          func(_ *Package, err error) { r.add("deleted", err) },
	}
}

// sequence returns the events with runs of the same event collapsed.
func (r *recorder) sequence() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if len(out) > 0 && out[len(out)-1] == e {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (r *recorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == name {
			n++
		}
	}
	return n
}

func (r *recorder) err(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errs[name]
}

func (r *recorder) waitFor(t *testing.T, name string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return r.count(name) >= n }, 5*time.Second, 5*time.Millisecond, "waiting for %d %s event(s)", n, name)
}

type fixture struct {
	ctrl      *gomock.Controller
	root      string
	transport *download.MockTransport
	registry  *resource.MockRegistry
	events    *recorder
	opts      Options
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	root := t.TempDir()
	f := &fixture{
		ctrl:      ctrl,
		root:      root,
		transport: download.NewMockTransport(ctrl),
		registry:  resource.NewMockRegistry(ctrl),
		events:    &recorder{},
	}
	f.opts = Options{
		InstallRoot: filepath.Join(root, "Packages"),
		DownloadDir: filepath.Join(root, "downloads"),
		UnpackDir:   filepath.Join(root, "unzip"),
		StatePath:   filepath.Join(root, "packages.json"),
		BaseURL:     "http://example.com",
		Environment: platform.Static{OSName: platform.OSiOS, ResolutionName: "phonehd"},
		Transport:   f.transport,
		Registry:    f.registry,
		Hooks:       f.events.hooks(),
	}
	return f
}

func (f *fixture) start(t *testing.T) *Manager {
	t.Helper()
	m, err := New(f.opts)
	require.NoError(t, err)
	_, err = m.Load(context.Background())
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func (f *fixture) installRoot(id string) string {
	return filepath.Join(f.opts.InstallRoot, id)
}

func waitStatus(t *testing.T, p *Package, want Status) {
	t.Helper()
	require.Eventually(t, func() bool { return p.Status() == want }, 5*time.Second, 5*time.Millisecond,
		"package %s never reached %s (last %s)", p.ID(), want, p.Status())
}

func TestManager_Pack1Scenario(t *testing.T) {
	f := newFixture(t)
	body := buildArchive(t, pack1Files)
	f.transport.EXPECT().Open(gomock.Any(), pack1URL, int64(0)).Return(serve(body), nil)
	gomock.InOrder(
		f.registry.EXPECT().RegisterSearchRoot(f.installRoot("Pack1-iOS-phonehd")).Return(nil),
		f.registry.EXPECT().ReloadFilenameLookups().Return(nil),
	)

	m := f.start(t)
	p, err := m.RequestDownload(DownloadRequest{Name: "Pack1", Resolution: "phonehd", EnableAfterDownload: true})
	require.NoError(t, err)
	assert.Equal(t, pack1URL, p.RemoteURL())
	assert.Equal(t, platform.OSiOS, p.OS())

	waitStatus(t, p, StatusInstalledEnabled)
	f.events.waitFor(t, "enabled", 1)

	assert.Equal(t, []string{
		"download-started",
		"download-progress",
		"download-finished",
		"unzip-started",
		"unzip-progress",
		"unzip-finished",
		"install-finished",
		"enabled",
	}, f.events.sequence())

	assert.Equal(t, "Pack1-iOS-phonehd", p.InstallPath())
	assert.Empty(t, p.DownloadPath())
	assert.Empty(t, p.UnpackPath())
	assert.False(t, p.EnableAfterDownload())
	assert.FileExists(t, filepath.Join(m.AbsInstallPath(p), "sprites", "hero.png"))
	assert.NoFileExists(t, filepath.Join(f.opts.DownloadDir, "Pack1-iOS-phonehd.zip"))

	got, ok := m.Resolve("Pack1", "", "")
	require.True(t, ok)
	assert.Same(t, p, got)
}

func TestManager_ConcurrentRequestsCollapse(t *testing.T) {
	f := newFixture(t)
	body := buildArchive(t, pack1Files)
	release := make(chan struct{})
	f.transport.EXPECT().Open(gomock.Any(), pack1URL, int64(0)).Times(1).
		DoAndReturn(func(ctx context.Context, _ string, _ int64) (*download.Response, error) {
			return &download.Response{Body: newGatedBody(ctx, nil, body, release), Total: int64(len(body))}, nil
		})

	m := f.start(t)
	first, err := m.RequestDownload(DownloadRequest{Name: "Pack1"})
	require.NoError(t, err)
	assert.Equal(t, StatusDownloading, first.Status())

	var wg sync.WaitGroup
	results := make([]*Package, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := m.RequestDownload(DownloadRequest{Name: "Pack1", Resolution: "phonehd", OS: platform.OSiOS})
			assert.NoError(t, err)
			results[i] = p
		}()
	}
	wg.Wait()
	for _, p := range results {
		assert.Same(t, first, p)
	}
	assert.Len(t, m.Packages(), 1)

	close(release)
	waitStatus(t, first, StatusInstalledDisabled)
	assert.Equal(t, 1, f.events.count("download-started"))
}

func TestManager_RequestDownloadOnInstalledIsNoop(t *testing.T) {
	f := newFixture(t)
	f.transport.EXPECT().Open(gomock.Any(), pack1URL, int64(0)).Return(serve(buildArchive(t, pack1Files)), nil)

	m := f.start(t)
	p, err := m.RequestDownload(DownloadRequest{Name: "Pack1"})
	require.NoError(t, err)
	waitStatus(t, p, StatusInstalledDisabled)

	again, err := m.RequestDownload(DownloadRequest{Name: "Pack1", EnableAfterDownload: true})
	require.NoError(t, err)
	assert.Same(t, p, again)
	assert.Equal(t, StatusInstalledDisabled, again.Status())
}

func TestManager_RequestDownloadRequiresBaseURL(t *testing.T) {
	f := newFixture(t)
	f.opts.BaseURL = ""
	m := f.start(t)

	_, err := m.RequestDownload(DownloadRequest{Name: "Pack1"})
	assert.ErrorIs(t, err, errors.ErrBaseURLRequired)
	assert.Empty(t, m.Packages())

	_, err = m.RequestDownload(DownloadRequest{})
	assert.ErrorIs(t, err, errors.ErrPackageNameEmpty)
}

func TestManager_ExplicitRemoteURL(t *testing.T) {
	f := newFixture(t)
	f.opts.BaseURL = ""
	const url = "https://cdn.example.com/packs/extra.tar.gz"
	release := make(chan struct{})
	opened := make(chan struct{})
	f.transport.EXPECT().Open(gomock.Any(), url, int64(0)).
		DoAndReturn(func(ctx context.Context, _ string, _ int64) (*download.Response, error) {
			close(opened)
			return &download.Response{Body: newGatedBody(ctx, nil, nil, release), Total: -1}, nil
		})

	m := f.start(t)
	p, err := m.RequestDownload(DownloadRequest{Name: "Extra", Resolution: "tablethd", OS: platform.OSAndroid, RemoteURL: url})
	require.NoError(t, err)
	assert.Equal(t, url, p.RemoteURL())
	assert.Equal(t, filepath.Join(f.opts.DownloadDir, "Extra-Android-tablethd.tar.gz"), p.DownloadPath())
	assert.Equal(t, Key{Name: "Extra", Resolution: "tablethd", OS: platform.OSAndroid}, p.Key())

	awaitClosed(t, opened, "transfer to open")
	require.NoError(t, m.CancelDownload(p))
	close(release)
}

func TestManager_RequiresLoad(t *testing.T) {
	f := newFixture(t)
	m, err := New(f.opts)
	require.NoError(t, err)
	t.Cleanup(m.Close)

	_, err = m.RequestDownload(DownloadRequest{Name: "Pack1"})
	assert.ErrorIs(t, err, errors.ErrManagerNotLoaded)
	assert.ErrorIs(t, m.Save(context.Background()), errors.ErrManagerNotLoaded)

	report, err := m.Load(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Loaded)

	_, err = m.Load(context.Background())
	assert.ErrorIs(t, err, errors.ErrManagerLoaded)

	m.Close()
	_, err = m.RequestDownload(DownloadRequest{Name: "Pack1"})
	assert.ErrorIs(t, err, errors.ErrManagerClosed)
}

func TestManager_Add(t *testing.T) {
	f := newFixture(t)
	m := f.start(t)

	p := NewPackage("Pack2", "phonehd", platform.OSiOS, "")
	require.NoError(t, m.Add(p))
	require.NoError(t, m.Add(p))

	dup := NewPackage("Pack2", "phonehd", platform.OSiOS, "")
	assert.ErrorIs(t, m.Add(dup), errors.ErrDuplicatePackage)
	assert.ErrorIs(t, m.Add(NewPackage("", "phonehd", platform.OSiOS, "")), errors.ErrPackageNameEmpty)

	got, ok := m.Resolve("Pack2", "phonehd", platform.OSiOS)
	require.True(t, ok)
	assert.Same(t, p, got)
	assert.Equal(t, StatusInitial, got.Status())
}

func TestManager_DownloadCallerBuiltPackage(t *testing.T) {
	f := newFixture(t)
	f.transport.EXPECT().Open(gomock.Any(), pack1URL, int64(0)).Return(serve(buildArchive(t, pack1Files)), nil)
	m := f.start(t)

	p := NewPackage("Pack1", "phonehd", platform.OSiOS, "")
	require.NoError(t, m.Download(p, false))
	waitStatus(t, p, StatusInstalledDisabled)

	got, ok := m.Resolve("Pack1", "phonehd", platform.OSiOS)
	require.True(t, ok)
	assert.Same(t, p, got)
}

func TestArchiveSuffix(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{url: pack1URL, want: ".zip"},
		{url: "http://example.com/a/Pack1.tar.gz?sig=abc", want: ".tar.gz"},
		{url: "http://example.com/Pack1.TAR.XZ", want: ".tar.xz"},
		{url: "http://example.com/Pack1", want: ".zip"},
		{url: "http://example.com/", want: ".zip"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, archiveSuffix(tt.url, "zip"))
		})
	}
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "Pack1-iOS-phonehd", Key{Name: "Pack1", Resolution: "phonehd", OS: "iOS"}.String())
}

func TestParseStatus(t *testing.T) {
	for st := range knownStatuses {
		got, err := ParseStatus(st.String())
		require.NoError(t, err)
		assert.Equal(t, st, got)
	}
	_, err := ParseStatus("exploded")
	assert.ErrorIs(t, err, errors.ErrUnknownStatus)
}
