package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/glorpus-work/assetpkg/internal/logger"
	"github.com/glorpus-work/assetpkg/pkg/config"
	"github.com/glorpus-work/assetpkg/pkg/manager"
	"github.com/glorpus-work/assetpkg/pkg/metrics"
	"github.com/glorpus-work/assetpkg/pkg/resource"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// These variables will be set by the main package
var (
	ConfigPath *string
	Verbose    *bool
)

// overrides holds ASSETPKG_* environment variables and the bound global flags. Both
// take precedence over the config file.
var overrides = newOverrides()

func newOverrides() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	return v
}

// overrideFlags maps global flags to the config keys they override.
var overrideFlags = map[string]string{
	"base-url":     "base_url",
	"install-root": "install_root",
	"state-file":   "state_file",
	"os":           "os",
	"resolution":   "resolution",
	"log-level":    "log_level",
	"log-format":   "log_format",
	"metrics-file": "metrics_file",
}

// AddOverrideFlags registers the global flags that override config keys on fs.
func AddOverrideFlags(fs *pflag.FlagSet) {
	fs.String("base-url", "", "base URL packages are downloaded from")
	fs.String("install-root", "", "directory installed packages live in")
	fs.String("state-file", "", "package state file")
	fs.String("os", "", "OS tag of requested packages (default: detected)")
	fs.String("resolution", "", "resolution bucket of requested packages")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.String("log-format", "", "log format (text, json)")
	fs.String("metrics-file", "", "write prometheus metrics to this file after the command")

	for flag, key := range overrideFlags {
		_ = overrides.BindPFlag(key, fs.Lookup(flag))
	}
}

// loadConfig loads the configuration file and applies environment and flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(getConfigPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := applyOverrides(cfg, overrides); err != nil {
		return nil, err
	}
	if Verbose != nil && *Verbose {
		cfg.Settings.LogLevel = "debug"
	}
	return cfg, nil
}

func applyOverrides(cfg *config.Config, v *viper.Viper) error {
	for _, key := range config.Keys() {
		if !v.IsSet(key) {
			continue
		}
		if err := cfg.SetValue(key, v.GetString(key)); err != nil {
			return fmt.Errorf("invalid override for %s: %w", key, err)
		}
	}
	return nil
}

// session is a loaded manager for the duration of one command.
type session struct {
	cfg      *config.Config
	manager  *manager.Manager
	registry *resource.SearchPaths
	metrics  *metrics.Observer
	report   *manager.LoadReport
}

// openSession loads the configuration, configures logging and loads the package state.
// hooks are subscribed before recovery runs.
func openSession(ctx context.Context, hooks manager.Hooks) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger.InitLogger(cfg.Settings.LogLevel, logger.OutputFormat(cfg.Settings.LogFormat))
	logger.SetLogFile(cfg.Settings.LogFile)

	registry := resource.NewSearchPaths()
	observer := metrics.NewObserver()

	opts := cfg.ManagerOptions()
	opts.Registry = registry
	opts.Hooks = hooks

	m, err := manager.New(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create package manager: %w", err)
	}
	m.Subscribe(observer.Hooks())

	report, err := m.Load(ctx)
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("failed to load package state: %w", err)
	}
	for _, d := range report.Dropped {
		logger.Warn("Ignoring unreadable package record", logger.Fields{"index": d.Index, "reason": d.Reason.Error()})
	}

	return &session{cfg: cfg, manager: m, registry: registry, metrics: observer, report: report}, nil
}

// close stops the manager, saves the package table and writes the metrics file. It runs
// even when ctx was canceled by an interrupt.
func (s *session) close(ctx context.Context) error {
	s.manager.Close()

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), SaveTimeout)
	defer cancel()
	if err := s.manager.Save(saveCtx); err != nil {
		return fmt.Errorf("failed to save package state: %w", err)
	}

	if path := s.cfg.Settings.MetricsFile; path != "" {
		s.metrics.RecordStatuses(s.manager.Packages())
		if err := s.metrics.WriteToTextfile(path); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
	}
	return nil
}

// withSession runs fn against a loaded manager and always saves afterwards.
func withSession(ctx context.Context, hooks manager.Hooks, fn func(*session) error) (err error) {
	s, err := openSession(ctx, hooks)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(s)
}

// resolve finds a managed package by name using the configured environment.
func (s *session) resolve(name string) (*manager.Package, error) {
	env := s.cfg.Environment()
	p, ok := s.manager.Resolve(name, env.Resolution(), env.OS())
	if !ok {
		return nil, fmt.Errorf("package %s (%s, %s) is not managed", name, env.OS(), env.Resolution())
	}
	return p, nil
}

// settled reports whether p has no running or queued stage.
func settled(p *manager.Package) bool {
	if p.Active() {
		return false
	}
	switch p.Status() {
	case manager.StatusDownloading, manager.StatusDownloaded, manager.StatusUnpacking:
		return false
	}
	return true
}

// waitSettled blocks until every package in pkgs has settled or ctx is done.
func waitSettled(ctx context.Context, pkgs []*manager.Package) error {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()
	for {
		done := true
		for _, p := range pkgs {
			if !settled(p) {
				done = false
				break
			}
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func getConfigPath() string {
	if ConfigPath != nil && *ConfigPath != "" {
		return *ConfigPath
	}

	defaultPath, err := config.GetDefaultConfigPath()
	if err != nil {
		// an empty path makes LoadConfig fail with a descriptive error
		logger.Warn("Failed to get default config path, using empty path", logger.Fields{"error": err})
		return ""
	}
	return defaultPath
}
