// Package config provides configuration management for the assetpkg package manager.
// It handles loading, validating and saving the YAML settings file and converts the
// settings into manager options. Values missing from the file keep their defaults.
package config

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glorpus-work/assetpkg/internal/logger"
	"github.com/glorpus-work/assetpkg/pkg/auth"
	"github.com/glorpus-work/assetpkg/pkg/download"
	"github.com/glorpus-work/assetpkg/pkg/errors"
	"github.com/glorpus-work/assetpkg/pkg/fsutil"
	"github.com/glorpus-work/assetpkg/pkg/manager"
	"github.com/glorpus-work/assetpkg/pkg/platform"
	"github.com/glorpus-work/assetpkg/pkg/unpack"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Settings Settings `yaml:"settings"`
}

// Settings represents general application settings.
type Settings struct {
	// Locations. Empty values select the per-user cache directories.
	InstallRoot string `yaml:"install_root,omitempty"`
	DownloadDir string `yaml:"download_dir,omitempty"`
	UnpackDir   string `yaml:"unpack_dir,omitempty"`
	StateFile   string `yaml:"state_file,omitempty"`

	// Remote settings
	BaseURL          string `yaml:"base_url,omitempty"`
	ArchiveExtension string `yaml:"archive_extension"`

	// Environment overrides. Empty values are detected from the running platform.
	Resolution string `yaml:"resolution,omitempty"`
	OS         string `yaml:"os,omitempty"`

	// Pipeline settings
	ResumeOnRestart bool `yaml:"resume_on_restart"`
	UnpackWorkers   int  `yaml:"unpack_workers"`

	// Network settings
	HTTPTimeout time.Duration `yaml:"http_timeout"`
	HTTPRetries int           `yaml:"http_retries"`
	UserAgent   string        `yaml:"user_agent,omitempty"`

	// Credentials sent to the base_url host only.
	AuthUsername string `yaml:"auth_username,omitempty"`
	AuthPassword string `yaml:"auth_password,omitempty"`
	AuthToken    string `yaml:"auth_token,omitempty"`
	AuthHeader   string `yaml:"auth_header,omitempty"`

	// Output settings
	LogLevel    string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat   string `yaml:"log_format"` // text, json
	LogFile     string `yaml:"log_file,omitempty"`
	MetricsFile string `yaml:"metrics_file,omitempty"`
}

// Default configuration values.
const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests.
	DefaultHTTPTimeout = download.DefaultHTTPTimeout

	// DefaultHTTPRetries is the default number of retries after a transient failure.
	DefaultHTTPRetries = download.DefaultRetries

	// YAMLIndent is the number of spaces to use for YAML indentation.
	YAMLIndent = 2
)

// DefaultConfig returns a configuration with sensible defaults. Locations that cannot be
// determined are left empty and resolved again by the manager.
func DefaultConfig() *Config {
	installRoot, _ := fsutil.GetInstallRoot()
	downloadDir, _ := fsutil.GetDownloadDir()
	unpackDir, _ := fsutil.GetUnpackDir()
	stateFile, _ := fsutil.GetStateFile()

	return &Config{
		Settings: Settings{
			InstallRoot:      installRoot,
			DownloadDir:      downloadDir,
			UnpackDir:        unpackDir,
			StateFile:        stateFile,
			ArchiveExtension: manager.DefaultArchiveExtension,
			ResumeOnRestart:  true,
			UnpackWorkers:    unpack.DefaultWorkers,
			HTTPTimeout:      DefaultHTTPTimeout,
			HTTPRetries:      DefaultHTTPRetries,
			LogLevel:         "info",
			LogFormat:        string(logger.FormatText),
		},
	}
}

// LoadConfig loads configuration from a file. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, errors.ErrEmptyConfigPath
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalidConfigPath, err.Error())
	}

	file, err := os.Open(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, errors.Wrapf(err, "failed to open config file: %s", path)
	}
	defer func() { _ = file.Close() }()

	return LoadConfigFromReader(file)
}

// LoadConfigFromReader loads configuration from an io.Reader. The document is decoded
// on top of the defaults, so omitted keys keep their default value.
func LoadConfigFromReader(reader io.Reader) (*Config, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config data")
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.Wrap(errors.ErrConfigParse, err.Error())
	}
	config.normalize()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// SaveConfig atomically writes the configuration to path.
func (c *Config) SaveConfig(path string) error {
	if path == "" {
		return errors.ErrEmptyConfigPath
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrap(errors.ErrInvalidConfigPath, err.Error())
	}

	if err := os.MkdirAll(filepath.Dir(absPath), fsutil.DirModeDefault); err != nil {
		return errors.Wrap(errors.ErrConfigDirectory, err.Error())
	}

	tempPath := absPath + ".tmp"
	file, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fsutil.FileModeDefault)
	if err != nil {
		return errors.Wrap(errors.ErrConfigFileCreate, err.Error())
	}

	encoder := yaml.NewEncoder(file)
	encoder.SetIndent(YAMLIndent)

	if err := encoder.Encode(c); err != nil {
		_ = file.Close()
		_ = os.Remove(tempPath)
		return errors.Wrap(errors.ErrConfigEncode, err.Error())
	}

	_ = encoder.Close()
	_ = file.Close()

	if err := os.Rename(tempPath, absPath); err != nil {
		_ = os.Remove(tempPath)
		return errors.Wrap(errors.ErrConfigFileRename, err.Error())
	}

	if err := os.Chmod(absPath, fsutil.FileModeDefault); err != nil {
		return errors.Wrap(errors.ErrConfigFileChmod, err.Error())
	}

	return nil
}

// ToYAML converts the config to YAML bytes.
func (c *Config) ToYAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(errors.ErrConfigMarshal, err.Error())
	}
	return data, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c == nil {
		return errors.ErrConfigValidation
	}
	if err := validateRemote(c.Settings); err != nil {
		return err
	}
	if err := validateEnvironment(c.Settings); err != nil {
		return err
	}
	if _, err := c.Authenticator(); err != nil {
		return errors.Wrap(errors.ErrConfigValidation, err.Error())
	}
	return validateSettings(c.Settings)
}

func validateRemote(s Settings) error {
	if s.BaseURL != "" {
		u, err := url.Parse(s.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return errors.Wrapf(errors.ErrConfigValidation, "base_url must be an http(s) URL, got %q", s.BaseURL)
		}
	}
	ext := strings.TrimPrefix(s.ArchiveExtension, ".")
	if ext == "" || strings.ContainsAny(ext, `/\`) {
		return errors.Wrapf(errors.ErrConfigValidation, "invalid archive_extension %q", s.ArchiveExtension)
	}
	return nil
}

func validateEnvironment(s Settings) error {
	if s.OS != "" && !platform.IsKnownOS(s.OS) {
		return errors.Wrapf(errors.ErrConfigValidation, "invalid OS %q, valid values are %s",
			s.OS, strings.Join(platform.ValidOS(), ", "))
	}
	if strings.ContainsAny(s.Resolution, `-/\ `) {
		return errors.Wrapf(errors.ErrConfigValidation, "invalid resolution %q", s.Resolution)
	}
	return nil
}

func validateSettings(s Settings) error {
	if s.HTTPTimeout < 0 {
		return errors.Wrap(errors.ErrConfigValidation, "http_timeout cannot be negative")
	}
	if s.HTTPRetries < 0 {
		return errors.Wrap(errors.ErrConfigValidation, "http_retries cannot be negative")
	}
	if s.UnpackWorkers < 1 {
		return errors.Wrap(errors.ErrConfigValidation, "unpack_workers must be at least 1")
	}
	validFormats := map[string]bool{string(logger.FormatText): true, string(logger.FormatJSON): true}
	if !validFormats[s.LogFormat] {
		return errors.Wrapf(errors.ErrConfigValidation, "invalid log_format %q, must be text or json", s.LogFormat)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(s.LogLevel)] {
		return errors.Wrapf(errors.ErrConfigValidation, "invalid log_level %q, must be debug, info, warn or error", s.LogLevel)
	}
	return nil
}

// normalize canonicalises values users commonly spell differently.
func (c *Config) normalize() {
	if c.Settings.OS != "" {
		c.Settings.OS = platform.NormalizeOS(c.Settings.OS)
	}
	c.Settings.ArchiveExtension = strings.TrimPrefix(c.Settings.ArchiveExtension, ".")
	c.Settings.LogLevel = strings.ToLower(c.Settings.LogLevel)
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	return filepath.Join(configDir, "assetpkg", "config.yaml"), nil
}

// Environment returns the platform environment described by the settings.
func (c *Config) Environment() platform.Environment {
	return platform.Detect(c.Settings.OS, c.Settings.Resolution)
}

// Authenticator returns the configured credentials scoped to the base_url host, or nil
// when none are configured.
func (c *Config) Authenticator() (auth.Authenticator, error) {
	a, err := auth.New(auth.Credentials{
		Username: c.Settings.AuthUsername,
		Password: c.Settings.AuthPassword,
		Token:    c.Settings.AuthToken,
		Header:   c.Settings.AuthHeader,
	})
	if err != nil {
		return nil, err
	}
	return auth.ScopeTo(c.Settings.BaseURL, a)
}

// HTTPOptions returns the transport options described by the settings.
func (c *Config) HTTPOptions() download.HTTPOptions {
	retries := c.Settings.HTTPRetries
	if retries == 0 {
		// zero means no retries here; the transport treats zero as "default"
		retries = -1
	}
	// Validate rejects unusable credentials
	authenticator, _ := c.Authenticator()
	return download.HTTPOptions{
		Timeout:   c.Settings.HTTPTimeout,
		Retries:   retries,
		UserAgent: c.Settings.UserAgent,
		Auth:      authenticator,
	}
}

// ManagerOptions converts the settings into manager options. Collaborators the settings
// do not describe are left nil so the manager picks its defaults.
func (c *Config) ManagerOptions() manager.Options {
	s := c.Settings
	return manager.Options{
		InstallRoot:       s.InstallRoot,
		DownloadDir:       s.DownloadDir,
		UnpackDir:         s.UnpackDir,
		StatePath:         s.StateFile,
		BaseURL:           s.BaseURL,
		ArchiveExtension:  s.ArchiveExtension,
		NoResumeOnRestart: !s.ResumeOnRestart,
		UnpackWorkers:     s.UnpackWorkers,
		Environment:       c.Environment(),
		Transport:         download.NewHTTPTransport(c.HTTPOptions()),
	}
}
