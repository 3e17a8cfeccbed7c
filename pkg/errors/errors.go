package errors

import "fmt"

// Common error types.
var (
	// Config errors.
	ErrEmptyConfigPath    = fmt.Errorf("config file path cannot be empty")
	ErrInvalidConfigPath  = fmt.Errorf("invalid config file path")
	ErrConfigParse        = fmt.Errorf("failed to parse config")
	ErrConfigValidation   = fmt.Errorf("invalid configuration")
	ErrConfigEncode       = fmt.Errorf("failed to encode config")
	ErrConfigDirectory    = fmt.Errorf("failed to create config directory")
	ErrConfigFileCreate   = fmt.Errorf("failed to create config file")
	ErrConfigFileRename   = fmt.Errorf("failed to rename temporary config file")
	ErrConfigMarshal      = fmt.Errorf("failed to marshal config")
	ErrConfigFileChmod    = fmt.Errorf("failed to set config file permissions")
	ErrUnknownConfigKey   = fmt.Errorf("unknown configuration key")
	ErrInvalidConfigValue = fmt.Errorf("invalid configuration value")
	ErrConfigFileExists   = fmt.Errorf("configuration file already exists")

	// Path errors.
	ErrInvalidPath = fmt.Errorf("invalid path")

	// State store errors.
	ErrStateParse              = fmt.Errorf("failed to parse package state")
	ErrStateLocked             = fmt.Errorf("package state is locked by another process")
	ErrUnsupportedStateVersion = fmt.Errorf("unsupported package state format version")
	ErrInvalidRecord           = fmt.Errorf("invalid package record")

	// Manager errors.
	ErrBaseURLRequired   = fmt.Errorf("base URL is required to derive the package URL")
	ErrPackageNameEmpty  = fmt.Errorf("package name cannot be empty")
	ErrPackageNotManaged = fmt.Errorf("package is not managed")
	ErrDuplicatePackage  = fmt.Errorf("a package with the same identity is already managed")
	ErrManagerClosed     = fmt.Errorf("package manager is closed")
	ErrManagerNotLoaded  = fmt.Errorf("package manager state has not been loaded")
	ErrManagerLoaded     = fmt.Errorf("package manager state is already loaded")
	ErrArchiveMissing    = fmt.Errorf("downloaded archive is missing")
	ErrUnknownStatus     = fmt.Errorf("unknown package status")

	// Hook errors.
	ErrHookExecution = fmt.Errorf("error executing hook")
	ErrHookScript    = fmt.Errorf("hook script error")
	ErrHookLoad      = fmt.Errorf("failed to load hook")
)

// Wrap wraps an error with additional context.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf wraps an error with additional formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
