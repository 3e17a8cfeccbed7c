package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b", "c")
	require.NoError(t, EnsureDir(dir))
	assert.DirExists(t, dir)

	// idempotent
	require.NoError(t, EnsureDir(dir))
}

func TestEnsureDir_FileInTheWay(t *testing.T) {
	base := t.TempDir()
	file := filepath.Join(base, "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	assert.Error(t, EnsureDir(filepath.Join(file, "sub")))
}

func TestEnsureFileDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "state", "packages.json")
	require.NoError(t, EnsureFileDir(file))
	assert.DirExists(t, filepath.Dir(file))
	assert.NoFileExists(t, file)
}
