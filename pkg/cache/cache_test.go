package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
}

func scratch(t *testing.T) (downloads, unzip string) {
	t.Helper()
	root := t.TempDir()
	downloads = filepath.Join(root, "downloads")
	unzip = filepath.Join(root, "unzip")
	writeFile(t, filepath.Join(downloads, "Pack1-iOS-phonehd.zip"), 100)
	writeFile(t, filepath.Join(downloads, "Old-iOS-phonehd.zip"), 50)
	writeFile(t, filepath.Join(unzip, "Old-iOS-phonehd", "Old", "a.png"), 20)
	writeFile(t, filepath.Join(unzip, "Old-iOS-phonehd", "Old", "b.png"), 30)
	return downloads, unzip
}

func TestCleaner_Info(t *testing.T) {
	downloads, unzip := scratch(t)
	c := NewCleaner(
		Dir{Name: "downloads", Path: downloads},
		Dir{Name: "unpack", Path: unzip},
		Dir{Name: "missing", Path: filepath.Join(t.TempDir(), "nope")},
	)

	infos, err := c.Info()
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, int64(150), infos[0].Size)
	assert.Equal(t, 2, infos[0].Entries)
	assert.Equal(t, int64(50), infos[1].Size)
	assert.Equal(t, 1, infos[1].Entries)
	assert.Zero(t, infos[2].Entries)
}

func TestCleaner_Clean(t *testing.T) {
	downloads, unzip := scratch(t)
	keep := filepath.Join(downloads, "Pack1-iOS-phonehd.zip")
	c := NewCleaner(Dir{Name: "downloads", Path: downloads}, Dir{Name: "unpack", Path: unzip})

	result, err := c.Clean(func(path string) bool { return path == keep })
	require.NoError(t, err)
	assert.Equal(t, int64(100), result.TotalFreed)
	assert.ElementsMatch(t, []string{
		filepath.Join(downloads, "Old-iOS-phonehd.zip"),
		filepath.Join(unzip, "Old-iOS-phonehd"),
	}, result.Removed)
	assert.FileExists(t, keep)
	assert.NoDirExists(t, filepath.Join(unzip, "Old-iOS-phonehd"))

	// nothing left to clean
	result, err = c.Clean(func(path string) bool { return path == keep })
	require.NoError(t, err)
	assert.Zero(t, result.TotalFreed)
	assert.Empty(t, result.Removed)
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatBytes(tt.bytes))
	}
}
