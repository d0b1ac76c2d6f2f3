// Package config defines the agent configuration. The configuration is
// loaded once at process start and handed to each component constructor;
// there are no ambient globals.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/stagecoach-mdm/stagecoach/internal/validate"
)

// Defaults for a standard installation.
const (
	DefaultConfigPath = "/etc/stagecoach/config.yaml"
	DefaultBaseDir    = "/usr/local/stagecoach"
	DefaultDataDir    = "/var/lib/stagecoach"
	DefaultLogFile    = "/var/log/stagecoach.log"
	DefaultProbeURL   = "http://connectivity-check.ubuntu.com/"

	// DefaultCleanupDelaySeconds is how long the deferred on-demand sweep
	// waits before firing.
	DefaultCleanupDelaySeconds = 30
)

// Config holds the agent configuration.
type Config struct {
	// BaseDir contains the managed item directories (boot-once,
	// login-every, ...).
	BaseDir string `yaml:"base_dir" validate:"required,abspath"`

	// DataDir holds the sqlite database.
	DataDir string `yaml:"data_dir" validate:"required,abspath"`

	// LogFile is the append-only persistent log.
	LogFile string `yaml:"log_file" validate:"required,abspath"`

	// ProbeURL is fetched by the network gate; a 204 response means the
	// network is reachable with no captive portal in the way.
	ProbeURL string `yaml:"probe_url" validate:"required,url"`

	// TriggerDir holds the zero-byte trigger files used for the
	// privileged-login and on-demand handoffs.
	TriggerDir string `yaml:"trigger_dir" validate:"required,abspath"`

	// CleanupDelaySeconds is the delay before the deferred on-demand
	// sweep runs.
	CleanupDelaySeconds int `yaml:"cleanup_delay_seconds" validate:"gte=1,lte=3600"`

	// Debug enables debug-level output on the console and in the log file.
	Debug bool `yaml:"debug"`
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		BaseDir:             DefaultBaseDir,
		DataDir:             DefaultDataDir,
		LogFile:             DefaultLogFile,
		ProbeURL:            DefaultProbeURL,
		TriggerDir:          "/var/run/stagecoach",
		CleanupDelaySeconds: DefaultCleanupDelaySeconds,
	}
}

// Load reads the configuration file at path, applies environment
// overrides, and validates the result. A missing file yields the default
// configuration; an unreadable or invalid one is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults apply.
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// applyEnvOverrides lets the environment override file settings, matching
// how the agent is configured under a process supervisor.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STAGECOACH_BASE_DIR"); v != "" {
		cfg.BaseDir = v
	}
	if v := os.Getenv("STAGECOACH_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("STAGECOACH_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv("STAGECOACH_TRIGGER_DIR"); v != "" {
		cfg.TriggerDir = v
	}
	if os.Getenv("STAGECOACH_DEBUG") == "true" {
		cfg.Debug = true
	}
}

// Managed directory categories, in the layout rooted at BaseDir.
const (
	BootOnceDir            = "boot-once"
	BootEveryDir           = "boot-every"
	LoginOnceDir           = "login-once"
	LoginEveryDir          = "login-every"
	LoginPrivilegedOnceDir = "login-privileged-once"
	LoginPrivilegedEvery   = "login-privileged-every"
	OnDemandDir            = "on-demand"
)

// Dir returns the absolute path of a managed directory category.
func (c *Config) Dir(category string) string {
	return filepath.Join(c.BaseDir, category)
}

// AllDirs returns every managed directory in a fixed order. Used by the
// bulk checksum regeneration command.
func (c *Config) AllDirs() []string {
	categories := []string{
		BootOnceDir, BootEveryDir,
		LoginOnceDir, LoginEveryDir,
		LoginPrivilegedOnceDir, LoginPrivilegedEvery,
		OnDemandDir,
	}
	dirs := make([]string, 0, len(categories))
	for _, cat := range categories {
		dirs = append(dirs, c.Dir(cat))
	}
	return dirs
}

// LoginPrivilegedTrigger is the trigger file for the standard-to-privileged
// login handoff.
func (c *Config) LoginPrivilegedTrigger() string {
	return filepath.Join(c.TriggerDir, ".login-privileged.trigger")
}

// CleanupTrigger is the trigger file for the on-demand cleanup handoff.
func (c *Config) CleanupTrigger() string {
	return filepath.Join(c.TriggerDir, ".on-demand-cleanup.trigger")
}
