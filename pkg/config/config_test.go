package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/glorpus-work/assetpkg/pkg/auth"
	"github.com/glorpus-work/assetpkg/pkg/errors"
	"github.com/glorpus-work/assetpkg/pkg/fsutil"
	"github.com/glorpus-work/assetpkg/pkg/platform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Settings.LogLevel)
	assert.Equal(t, "text", cfg.Settings.LogFormat)
	assert.Equal(t, "zip", cfg.Settings.ArchiveExtension)
	assert.Equal(t, 30*time.Second, cfg.Settings.HTTPTimeout)
	assert.True(t, cfg.Settings.ResumeOnRestart)
	assert.Equal(t, 1, cfg.Settings.UnpackWorkers)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")

	configContent := `settings:
  base_url: https://cdn.example.com/packs
  install_root: /data/Packages
  os: ios
  resolution: tablethd
  unpack_workers: 2
  log_level: DEBUG`

	err := os.WriteFile(configPath, []byte(configContent), fsutil.FileModeDefault)
	require.NoError(t, err)

	cfg, err := LoadConfig(configPath)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "https://cdn.example.com/packs", cfg.Settings.BaseURL)
	assert.Equal(t, "/data/Packages", cfg.Settings.InstallRoot)
	assert.Equal(t, platform.OSiOS, cfg.Settings.OS)
	assert.Equal(t, "tablethd", cfg.Settings.Resolution)
	assert.Equal(t, 2, cfg.Settings.UnpackWorkers)
	assert.Equal(t, "debug", cfg.Settings.LogLevel)

	// omitted keys keep their defaults
	assert.True(t, cfg.Settings.ResumeOnRestart)
	assert.Equal(t, "zip", cfg.Settings.ArchiveExtension)
}

func TestLoadConfig_Missing(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	_, err = LoadConfig("")
	assert.ErrorIs(t, err, errors.ErrEmptyConfigPath)
}

func TestLoadConfigFromReader_Invalid(t *testing.T) {
	_, err := LoadConfigFromReader(strings.NewReader("settings: [unclosed"))
	assert.ErrorIs(t, err, errors.ErrConfigParse)

	_, err = LoadConfigFromReader(strings.NewReader("settings:\n  unpack_workers: 0\n"))
	assert.ErrorIs(t, err, errors.ErrConfigValidation)
}

func TestSaveConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Settings.LogLevel = "debug"
	cfg.Settings.BaseURL = "http://example.com"
	cfg.Settings.ResumeOnRestart = false

	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "nested", "config.yaml")

	require.NoError(t, cfg.SaveConfig(configPath))
	assert.NoFileExists(t, configPath+".tmp")

	loadedCfg, err := LoadConfig(configPath)
	require.NoError(t, err)
	assert.Equal(t, cfg, loadedCfg)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Settings)
		wantErr string
	}{
		{name: "valid config", modify: func(*Settings) {}},
		{name: "invalid OS", modify: func(s *Settings) { s.OS = "plan9" }, wantErr: "invalid OS"},
		{name: "resolution with dash", modify: func(s *Settings) { s.Resolution = "phone-hd" }, wantErr: "invalid resolution"},
		{name: "relative base URL", modify: func(s *Settings) { s.BaseURL = "example.com/packs" }, wantErr: "base_url"},
		{name: "ftp base URL", modify: func(s *Settings) { s.BaseURL = "ftp://example.com" }, wantErr: "base_url"},
		{name: "empty archive extension", modify: func(s *Settings) { s.ArchiveExtension = "" }, wantErr: "archive_extension"},
		{name: "negative timeout", modify: func(s *Settings) { s.HTTPTimeout = -time.Second }, wantErr: "http_timeout"},
		{name: "negative retries", modify: func(s *Settings) { s.HTTPRetries = -1 }, wantErr: "http_retries"},
		{name: "no unpack workers", modify: func(s *Settings) { s.UnpackWorkers = 0 }, wantErr: "unpack_workers"},
		{name: "invalid log format", modify: func(s *Settings) { s.LogFormat = "xml" }, wantErr: "log_format"},
		{name: "invalid log level", modify: func(s *Settings) { s.LogLevel = "verbose" }, wantErr: "log_level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg.Settings)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrConfigValidation)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSetGetValue(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, cfg.SetValue("base_url", "https://example.com/packs"))
	require.NoError(t, cfg.SetValue("http_timeout", "45s"))
	require.NoError(t, cfg.SetValue("resume_on_restart", "false"))
	require.NoError(t, cfg.SetValue("unpack_workers", "3"))
	require.NoError(t, cfg.SetValue("os", "android"))

	assert.Equal(t, "https://example.com/packs", cfg.Settings.BaseURL)
	assert.Equal(t, 45*time.Second, cfg.Settings.HTTPTimeout)
	assert.False(t, cfg.Settings.ResumeOnRestart)
	assert.Equal(t, 3, cfg.Settings.UnpackWorkers)
	assert.Equal(t, platform.OSAndroid, cfg.Settings.OS)

	got, err := cfg.GetValue("http_timeout")
	require.NoError(t, err)
	assert.Equal(t, "45s", got)
	got, err = cfg.GetValue("resume_on_restart")
	require.NoError(t, err)
	assert.Equal(t, "false", got)

	assert.ErrorIs(t, cfg.SetValue("color_output", "true"), errors.ErrUnknownConfigKey)
	assert.ErrorIs(t, cfg.SetValue("unpack_workers", "many"), errors.ErrInvalidConfigValue)
	_, err = cfg.GetValue("nope")
	assert.ErrorIs(t, err, errors.ErrUnknownConfigKey)

	// a value failing validation leaves the config untouched
	assert.ErrorIs(t, cfg.SetValue("unpack_workers", "0"), errors.ErrConfigValidation)
	assert.Equal(t, 3, cfg.Settings.UnpackWorkers)
}

func TestToMapCoversKeys(t *testing.T) {
	m := DefaultConfig().ToMap()
	assert.Len(t, m, len(Keys()))
	for _, key := range []string{"install_root", "state_file", "base_url", "metrics_file", "http_retries"} {
		assert.Contains(t, m, key)
	}
}

func TestManagerOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Settings.BaseURL = "http://example.com"
	cfg.Settings.OS = platform.OSiOS
	cfg.Settings.Resolution = "phonehd"
	cfg.Settings.StateFile = "/tmp/state.json"
	cfg.Settings.ResumeOnRestart = false

	opts := cfg.ManagerOptions()
	assert.Equal(t, "http://example.com", opts.BaseURL)
	assert.Equal(t, "/tmp/state.json", opts.StatePath)
	assert.True(t, opts.NoResumeOnRestart)
	assert.Equal(t, platform.OSiOS, opts.Environment.OS())
	assert.Equal(t, "phonehd", opts.Environment.Resolution())
	assert.NotNil(t, opts.Transport)
	assert.Nil(t, opts.Registry)
}

func TestHTTPOptions(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, DefaultHTTPRetries, cfg.HTTPOptions().Retries)

	cfg.Settings.HTTPRetries = 0
	assert.Equal(t, -1, cfg.HTTPOptions().Retries)
}

func TestAuthenticator(t *testing.T) {
	cfg := DefaultConfig()
	a, err := cfg.Authenticator()
	require.NoError(t, err)
	assert.Nil(t, a)
	assert.Nil(t, cfg.HTTPOptions().Auth)

	// credentials are scoped to the base URL host
	cfg.Settings.AuthToken = "secret"
	assert.ErrorIs(t, cfg.Validate(), errors.ErrConfigValidation)

	cfg.Settings.BaseURL = "https://packages.example.com"
	require.NoError(t, cfg.Validate())
	a, err = cfg.Authenticator()
	require.NoError(t, err)
	assert.Equal(t, auth.BearerAuthType, a.Type())
	assert.NotNil(t, cfg.HTTPOptions().Auth)

	cfg.Settings.AuthUsername = "user"
	assert.ErrorIs(t, cfg.Validate(), errors.ErrConfigValidation)
}
