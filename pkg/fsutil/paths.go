package fsutil

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
)

const (
	// AppName is the name of the application used in paths
	AppName = "assetpkg"

	// InstallRootName is the default install root folder inside the cache directory.
	InstallRootName = "Packages"
)

// GetCacheDir returns the platform-specific cache directory for the application
// On Linux: ~/.cache/assetpkg/
// On macOS: ~/Library/Caches/assetpkg/
// On Windows: %LOCALAPPDATA%\assetpkg\
func GetCacheDir() (string, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cacheDir, AppName), nil
}

// getAppDataDir returns the platform-specific base data directory
func getAppDataDir() (string, error) {
	switch runtime.GOOS {
	case "windows":
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			return "", errors.New("LOCALAPPDATA environment variable not set")
		}
		return localAppData, nil

	case "darwin", "ios":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support"), nil

	default:
		if xdgDataHome := os.Getenv("XDG_DATA_HOME"); xdgDataHome != "" {
			return xdgDataHome, nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".local", "share"), nil
	}
}

// GetDataDir returns the platform-specific data directory for the application.
func GetDataDir() (string, error) {
	baseDir, err := getAppDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(baseDir, AppName), nil
}

// GetInstallRoot returns the default install root: <cache_dir>/Packages/
func GetInstallRoot() (string, error) {
	cacheDir, err := GetCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cacheDir, InstallRootName), nil
}

// GetDownloadDir returns the directory for partial and complete package archives.
// Format: <cache_dir>/downloads/
func GetDownloadDir() (string, error) {
	cacheDir, err := GetCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cacheDir, "downloads"), nil
}

// GetUnpackDir returns the directory archives are extracted into before install.
// Format: <cache_dir>/unzip/
func GetUnpackDir() (string, error) {
	cacheDir, err := GetCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cacheDir, "unzip"), nil
}

// GetStateFile returns the default location of the persisted package table.
// Format: <data_dir>/packages.json
func GetStateFile() (string, error) {
	dataDir, err := GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "packages.json"), nil
}

// EnsureDirs creates all given directories if they don't exist.
func EnsureDirs(dirs ...string) error {
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, DirModeDefault); err != nil {
			return err
		}
	}
	return nil
}
