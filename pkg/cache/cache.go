// Package cache reclaims disk space from the scratch directories the package manager
// downloads and extracts into. Entries that no managed package refers to are left
// behind by crashes, deleted state files or configuration changes.
package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/glorpus-work/assetpkg/internal/logger"
	pkgerrors "github.com/glorpus-work/assetpkg/pkg/errors"
)

// Dir is a scratch directory.
type Dir struct {
	Name string
	Path string
}

// DirInfo describes the content of a scratch directory.
type DirInfo struct {
	Dir
	Size    int64
	Entries int
}

// CleanResult contains information about what was cleaned.
type CleanResult struct {
	TotalFreed int64
	Removed    []string
}

// Cleaner inspects and cleans a set of scratch directories.
type Cleaner struct {
	dirs []Dir
}

// NewCleaner creates a cleaner for dirs.
func NewCleaner(dirs ...Dir) *Cleaner {
	return &Cleaner{dirs: dirs}
}

// Info returns the size and number of top level entries of every directory. Missing
// directories are reported as empty.
func (c *Cleaner) Info() ([]DirInfo, error) {
	infos := make([]DirInfo, 0, len(c.dirs))
	for _, d := range c.dirs {
		info := DirInfo{Dir: d}
		entries, err := readDir(d.Path)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			size, err := pathSize(filepath.Join(d.Path, e.Name()))
			if err != nil {
				return nil, err
			}
			info.Size += size
			info.Entries++
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Clean removes every top level entry for which inUse returns false.
func (c *Cleaner) Clean(inUse func(path string) bool) (*CleanResult, error) {
	result := &CleanResult{}
	for _, d := range c.dirs {
		entries, err := readDir(d.Path)
		if err != nil {
			return result, err
		}
		for _, e := range entries {
			path := filepath.Join(d.Path, e.Name())
			if inUse(path) {
				continue
			}
			size, err := pathSize(path)
			if err != nil {
				return result, err
			}
			if err := os.RemoveAll(path); err != nil {
				return result, pkgerrors.Wrapf(err, "failed to remove %s", path)
			}
			logger.Debug("Removed orphaned scratch entry", logger.Fields{"dir": d.Name, "path": path, "size": size})
			result.TotalFreed += size
			result.Removed = append(result.Removed, path)
		}
	}
	return result, nil
}

func readDir(path string) ([]fs.DirEntry, error) {
	if path == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to read %s", path)
	}
	return entries, nil
}

func pathSize(path string) (int64, error) {
	var size int64
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			size += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, pkgerrors.Wrapf(err, "failed to measure %s", path)
	}
	return size, nil
}

// FormatBytes converts bytes to a human-readable string.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	units := []string{"K", "M", "G", "T", "P", "E"}
	if exp < len(units) {
		return fmt.Sprintf("%.1f %sB", float64(bytes)/float64(div), units[exp])
	}
	return fmt.Sprintf("%d B", bytes)
}
