// Package config provides configuration loading for dupwrap.
//
// Configuration is read from one YAML file, chosen by the --config flag,
// then the DUPWRAP_CONFIG environment variable, then
// $XDG_CONFIG_HOME/dupwrap/config.yaml. A missing default file is not an
// error; Default() applies. Values in the file are merged over Default().
//
// The interceptor is started by the management application and never sees
// the supervisor's --config flag. A config outside the default location
// must also be named by DUPWRAP_CONFIG in that application's environment,
// or the interceptor falls back to the default paths.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/blackwell-systems/dupwrap/internal/notify"
)

// EnvVar names the environment variable that points at the config file.
const EnvVar = "DUPWRAP_CONFIG"

// Notification backends.
const (
	BackendLogTool = notify.BackendLogTool
	BackendLog     = notify.BackendLog
)

// Config is the dupwrap configuration shared by the supervisor and the
// interceptor.
type Config struct {
	// Product is the binary name prefix, e.g. "duplicacy".
	Product string `yaml:"product"`

	Paths   PathsConfig   `yaml:"paths"`
	Watcher WatcherConfig `yaml:"watcher"`
	Notify  NotifyConfig  `yaml:"notify"`
	Health  HealthConfig  `yaml:"health"`
	History HistoryConfig `yaml:"history"`
}

// PathsConfig configures the link topology and state files.
type PathsConfig struct {
	// BinDir is where the management application downloads CLI binaries.
	BinDir string `yaml:"bin_dir"`

	// StorageDir holds preserved copies of wrapped binaries.
	StorageDir string `yaml:"storage_dir"`

	// HostLink is the system-wide symlink to the current real binary.
	HostLink string `yaml:"host_link"`

	// Shim is the interceptor executable that replaces the bin dir slot.
	Shim string `yaml:"shim"`

	DB      string `yaml:"db"`
	PIDFile string `yaml:"pid_file"`
	LogFile string `yaml:"log_file"`
	ShimLog string `yaml:"shim_log"`
}

// WatcherConfig configures the supervisor.
type WatcherConfig struct {
	// VanishGrace is how long the supervisor waits for a vanished bin dir
	// to come back before giving up.
	// Default: 10s
	VanishGrace string `yaml:"vanish_grace"`

	// StopTimeout bounds how long stop waits for the daemon to exit.
	// Default: 30s
	StopTimeout string `yaml:"stop_timeout"`
}

// NotifyConfig configures notification delivery.
type NotifyConfig struct {
	// Backend is "log_tool" (QNAP notification center) or "log".
	Backend  string `yaml:"backend"`
	Command  string `yaml:"command"`
	AppName  string `yaml:"app_name"`
	Category string `yaml:"category"`
}

// HealthConfig configures health check pings.
type HealthConfig struct {
	// Timeout is the per-request timeout.
	// Default: 10s
	Timeout string `yaml:"timeout"`
	Retries int    `yaml:"retries"`
}

// HistoryConfig configures the run and notification history.
type HistoryConfig struct {
	// Retention is how long runs and notifications are kept.
	// Default: 2160h (90 days)
	Retention string `yaml:"retention"`
}

// Dir returns the dupwrap config directory, respecting XDG_CONFIG_HOME.
// Defaults to ~/.config/dupwrap if XDG_CONFIG_HOME is not set.
func Dir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "dupwrap"), nil
}

// Default returns the default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	root := filepath.Join(homeDir, ".dupwrap")

	return &Config{
		Product: "duplicacy",
		Paths: PathsConfig{
			BinDir:     filepath.Join(homeDir, ".duplicacy-web", "bin"),
			StorageDir: filepath.Join(root, "bin"),
			HostLink:   "/usr/local/bin/duplicacy",
			Shim:       filepath.Join(root, "bin", "dupwrap-shim"),
			DB:         filepath.Join(root, "dupwrap.db"),
			PIDFile:    filepath.Join(root, "watch.pid"),
			LogFile:    filepath.Join(root, "watch.log"),
			ShimLog:    filepath.Join(root, "shim.log"),
		},
		Watcher: WatcherConfig{
			VanishGrace: "10s",
			StopTimeout: "30s",
		},
		Notify: NotifyConfig{
			Backend:  BackendLogTool,
			Command:  "log_tool",
			AppName:  "Duplicacy",
			Category: "Job Status",
		},
		Health: HealthConfig{
			Timeout: "10s",
			Retries: 5,
		},
		History: HistoryConfig{
			Retention: "2160h",
		},
	}
}

// Load resolves the config file path and loads it. An explicit path (from
// --config) must exist; so must a path named by DUPWRAP_CONFIG. The default
// location may be absent.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	if path != "" {
		return LoadFile(path)
	}

	dir, err := Dir()
	if err != nil {
		return nil, fmt.Errorf("failed to locate config directory: %w", err)
	}
	path = filepath.Join(dir, "config.yaml")

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		cfg.expandVariables()
		return cfg, nil
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	for _, p := range []*string{
		&c.Paths.BinDir,
		&c.Paths.StorageDir,
		&c.Paths.HostLink,
		&c.Paths.Shim,
		&c.Paths.DB,
		&c.Paths.PIDFile,
		&c.Paths.LogFile,
		&c.Paths.ShimLog,
		&c.Notify.Command,
	} {
		*p = expandVars(*p, vars)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name := parts[1]
		defaultValue := parts[2]

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// VanishGrace returns the parsed watcher.vanish_grace.
func (c *Config) VanishGrace() time.Duration {
	return parseDuration(c.Watcher.VanishGrace, 10*time.Second)
}

// StopTimeout returns the parsed watcher.stop_timeout.
func (c *Config) StopTimeout() time.Duration {
	return parseDuration(c.Watcher.StopTimeout, 30*time.Second)
}

// HealthTimeout returns the parsed health.timeout.
func (c *Config) HealthTimeout() time.Duration {
	return parseDuration(c.Health.Timeout, 10*time.Second)
}

// HistoryRetention returns the parsed history.retention.
func (c *Config) HistoryRetention() time.Duration {
	return parseDuration(c.History.Retention, 90*24*time.Hour)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Product == "" {
		errs = append(errs, fmt.Errorf("product is required"))
	}

	paths := []struct{ key, value string }{
		{"paths.bin_dir", c.Paths.BinDir},
		{"paths.storage_dir", c.Paths.StorageDir},
		{"paths.host_link", c.Paths.HostLink},
		{"paths.shim", c.Paths.Shim},
		{"paths.db", c.Paths.DB},
		{"paths.pid_file", c.Paths.PIDFile},
	}
	for _, p := range paths {
		if p.value == "" {
			errs = append(errs, fmt.Errorf("%s is required", p.key))
		} else if !filepath.IsAbs(p.value) {
			errs = append(errs, fmt.Errorf("%s must be an absolute path: %s", p.key, p.value))
		}
	}

	if c.Paths.BinDir != "" && filepath.Clean(c.Paths.BinDir) == filepath.Clean(c.Paths.StorageDir) {
		errs = append(errs, fmt.Errorf("paths.storage_dir must differ from paths.bin_dir"))
	}

	durations := []struct{ key, value string }{
		{"watcher.vanish_grace", c.Watcher.VanishGrace},
		{"watcher.stop_timeout", c.Watcher.StopTimeout},
		{"health.timeout", c.Health.Timeout},
		{"history.retention", c.History.Retention},
	}
	for _, d := range durations {
		if v, err := time.ParseDuration(d.value); err != nil || v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be a positive duration: %q", d.key, d.value))
		}
	}

	switch c.Notify.Backend {
	case BackendLogTool:
		if c.Notify.Command == "" {
			errs = append(errs, fmt.Errorf("notify.command is required for the log_tool backend"))
		}
	case BackendLog:
	default:
		errs = append(errs, fmt.Errorf("notify.backend must be one of: %v", []string{BackendLogTool, BackendLog}))
	}

	if c.Health.Retries < 0 {
		errs = append(errs, fmt.Errorf("health.retries must not be negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
