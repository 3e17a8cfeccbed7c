package fsutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLocations(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", filepath.Join(t.TempDir(), "cache"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(t.TempDir(), "data"))
	t.Setenv("HOME", t.TempDir())

	root, err := GetInstallRoot()
	require.NoError(t, err)
	assert.Equal(t, InstallRootName, filepath.Base(root))

	cacheDir, err := GetCacheDir()
	require.NoError(t, err)
	assert.Equal(t, cacheDir, filepath.Dir(root))

	downloads, err := GetDownloadDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cacheDir, "downloads"), downloads)

	unzip, err := GetUnpackDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cacheDir, "unzip"), unzip)

	stateFile, err := GetStateFile()
	require.NoError(t, err)
	assert.Equal(t, "packages.json", filepath.Base(stateFile))
}

func TestEnsureDirs(t *testing.T) {
	base := t.TempDir()
	a := filepath.Join(base, "a")
	b := filepath.Join(base, "b", "c")

	require.NoError(t, EnsureDirs(a, "", b))
	assert.DirExists(t, a)
	assert.DirExists(t, b)
}
