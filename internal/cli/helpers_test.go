package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/glorpus-work/assetpkg/pkg/config"
	"github.com/glorpus-work/assetpkg/pkg/download"
	"github.com/glorpus-work/assetpkg/pkg/errors"
	"github.com/glorpus-work/assetpkg/pkg/manager"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyOverrides_Environment(t *testing.T) {
	t.Setenv("ASSETPKG_BASE_URL", "http://mirror.example.com")
	t.Setenv("ASSETPKG_UNPACK_WORKERS", "3")

	cfg := config.DefaultConfig()
	require.NoError(t, applyOverrides(cfg, newOverrides()))
	assert.Equal(t, "http://mirror.example.com", cfg.Settings.BaseURL)
	assert.Equal(t, 3, cfg.Settings.UnpackWorkers)
}

func TestApplyOverrides_Flags(t *testing.T) {
	v := newOverrides()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("log-level", "", "")
	require.NoError(t, v.BindPFlag("log_level", fs.Lookup("log-level")))

	cfg := config.DefaultConfig()
	require.NoError(t, applyOverrides(cfg, v))
	assert.Equal(t, "info", cfg.Settings.LogLevel, "unset flags keep the configured value")

	require.NoError(t, fs.Parse([]string{"--log-level", "DEBUG"}))
	require.NoError(t, applyOverrides(cfg, v))
	assert.Equal(t, "debug", cfg.Settings.LogLevel)
}

func TestApplyOverrides_Invalid(t *testing.T) {
	t.Setenv("ASSETPKG_OS", "Amiga")

	cfg := config.DefaultConfig()
	err := applyOverrides(cfg, newOverrides())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrConfigValidation)
}

func TestSettled(t *testing.T) {
	p := manager.NewPackage("Pack1", "phonehd", "iOS", "")
	assert.True(t, settled(p))
}

func TestProgressPrinter_Steps(t *testing.T) {
	var out bytes.Buffer
	pp := newProgressPrinter(&out)
	h := pp.hooks()
	p := manager.NewPackage("Pack1", "phonehd", "iOS", "http://example.com/Pack1.zip")

	h.DownloadStarted(p)
	for _, written := range []int64{0, 5, 10, 12, 55, 100} {
		h.DownloadProgress(p, download.Progress{Written: written, Total: 100})
	}
	// unknown totals print nothing
	h.DownloadProgress(p, download.Progress{Written: 7, Total: -1})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Equal(t, []string{
		"Pack1-iOS-phonehd: downloading http://example.com/Pack1.zip",
		"Pack1-iOS-phonehd: downloaded 0% (0/100 bytes)",
		"Pack1-iOS-phonehd: downloaded 10% (10/100 bytes)",
		"Pack1-iOS-phonehd: downloaded 50% (55/100 bytes)",
		"Pack1-iOS-phonehd: downloaded 100% (100/100 bytes)",
	}, lines)
}

func TestTransferred(t *testing.T) {
	assert.Equal(t, "-", transferred(manager.NewPackage("Pack1", "phonehd", "iOS", "")))
}
