// Package testutil provides helpers shared by integration tests.
package testutil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/glorpus-work/assetpkg/internal/logger"
	"github.com/glorpus-work/assetpkg/pkg/archive"
	"github.com/stretchr/testify/require"
)

// WriteFiles writes files, keyed by slash separated paths, below root.
func WriteFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

// PackageServer is an HTTP server for package archives. It honours Range requests.
type PackageServer struct {
	*httptest.Server
	dir string

	mu     sync.Mutex
	ranges []string
}

// NewPackageServer starts an empty server that is closed when the test ends.
func NewPackageServer(t *testing.T) *PackageServer {
	t.Helper()
	s := &PackageServer{dir: t.TempDir()}
	files := http.FileServer(http.Dir(s.dir))
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.ranges = append(s.ranges, r.Header.Get("Range"))
		s.mu.Unlock()
		logger.Debug("Serving package", logger.Fields{"path": r.URL.Path, "range": r.Header.Get("Range")})
		files.ServeHTTP(w, r)
	}))
	t.Cleanup(s.Close)
	return s
}

// AddPackage packs files into an archive served as name, e.g. "Pack1-iOS-phonehd.zip",
// and returns its URL.
func (s *PackageServer) AddPackage(t *testing.T, name string, files map[string]string) string {
	t.Helper()
	src := t.TempDir()
	WriteFiles(t, src, files)
	require.NoError(t, archive.NewManager().Create(context.Background(), src, filepath.Join(s.dir, name)))
	return s.URL + "/" + name
}

// Ranges returns the Range header of every request served so far, "" for full requests.
func (s *PackageServer) Ranges() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ranges...)
}
