// Package config provides unified configuration loading for popgate.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/caarlos0/env/v11"
	"github.com/nvandessel/popgate/internal/backup"
	"github.com/nvandessel/popgate/internal/behavior"
	"github.com/nvandessel/popgate/internal/constants"
	"github.com/nvandessel/popgate/internal/engine"
	"gopkg.in/yaml.v3"
)

// DirName is the per-user directory holding config, settings and snapshots.
const DirName = ".popgate"

// PopgateConfig contains all popgate configuration settings.
type PopgateConfig struct {
	// Engine contains the admission engine defaults.
	Engine EngineConfig `json:"engine" yaml:"engine"`

	// Schedules maps popup ids to cron expressions restricting when they may show.
	Schedules map[string]string `json:"schedules,omitempty" yaml:"schedules,omitempty"`

	// Storage contains settings for the SQLite settings store and snapshots.
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Server contains settings for the MCP server.
	Server ServerConfig `json:"server" yaml:"server"`

	// Logging contains settings for operational and decision logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// EngineConfig holds engine-wide admission defaults.
type EngineConfig struct {
	// DefaultMaxPerDay caps shows per visitor per day. 0 disables the cap.
	DefaultMaxPerDay int `json:"default_max_per_day" yaml:"default_max_per_day" env:"POPGATE_DEFAULT_MAX_PER_DAY"`

	// MaxPerSession caps shows per session. 0 disables the cap.
	MaxPerSession int `json:"max_per_session" yaml:"max_per_session" env:"POPGATE_MAX_PER_SESSION"`

	// DefaultCooldown is the minimum time between two shows of one popup to one visitor.
	DefaultCooldown time.Duration `json:"default_cooldown" yaml:"default_cooldown" env:"POPGATE_DEFAULT_COOLDOWN"`

	// AdaptiveLearning lets recorded interactions lower a visitor's caps.
	AdaptiveLearning bool `json:"adaptive_learning" yaml:"adaptive_learning" env:"POPGATE_ADAPTIVE_LEARNING"`

	// DismisserAdmitRate is the admission probability for habitual dismissers
	// at the dismisser threshold.
	DismisserAdmitRate float64 `json:"dismisser_admit_rate" yaml:"dismisser_admit_rate" env:"POPGATE_DISMISSER_ADMIT_RATE"`

	// ConvertedAdmitRate is the admission probability for converted visitors.
	ConvertedAdmitRate float64 `json:"converted_admit_rate" yaml:"converted_admit_rate" env:"POPGATE_CONVERTED_ADMIT_RATE"`

	Shards      int `json:"shards" yaml:"shards" env:"POPGATE_SHARDS"`
	MaxVisitors int `json:"max_visitors" yaml:"max_visitors" env:"POPGATE_MAX_VISITORS"`

	// Seed fixes the throttling random source. 0 seeds from the clock.
	Seed uint64 `json:"seed,omitempty" yaml:"seed,omitempty" env:"POPGATE_SEED"`
}

// StorageConfig configures where popgate keeps durable state.
type StorageConfig struct {
	// DataDir holds settings.db, snapshots and decisions.jsonl.
	// Empty means ~/.popgate. Supports ${VAR} syntax.
	DataDir string `json:"data_dir" yaml:"data_dir" env:"POPGATE_DATA_DIR"`

	// SettingsFile is the SQLite file name inside DataDir.
	SettingsFile string `json:"settings_file" yaml:"settings_file" env:"POPGATE_SETTINGS_FILE"`

	// SnapshotRetention is the number of snapshot files kept by `snapshot save`.
	SnapshotRetention int `json:"snapshot_retention" yaml:"snapshot_retention" env:"POPGATE_SNAPSHOT_RETENTION"`

	// SnapshotMaxAge removes snapshots older than this, e.g. "30d". Empty keeps all.
	SnapshotMaxAge string `json:"snapshot_max_age,omitempty" yaml:"snapshot_max_age,omitempty" env:"POPGATE_SNAPSHOT_MAX_AGE"`
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	// Name is the implementation name reported to MCP clients.
	Name string `json:"name" yaml:"name" env:"POPGATE_SERVER_NAME"`

	// RateLimits enables the per-tool token buckets.
	RateLimits bool `json:"rate_limits" yaml:"rate_limits" env:"POPGATE_RATE_LIMITS"`
}

// LoggingConfig configures popgate's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" enables decision logging to <data dir>/decisions.jsonl.
	Level string `json:"level" yaml:"level" env:"POPGATE_LOG_LEVEL"`
}

// Default returns a PopgateConfig with sensible defaults.
func Default() *PopgateConfig {
	return &PopgateConfig{
		Engine: EngineConfig{
			DefaultMaxPerDay:   constants.DefaultMaxPerDay,
			MaxPerSession:      constants.DefaultMaxPerSession,
			DefaultCooldown:    constants.DefaultCooldown,
			AdaptiveLearning:   true,
			DismisserAdmitRate: constants.DefaultDismisserAdmitRate,
			ConvertedAdmitRate: constants.DefaultConvertedAdmitRate,
			Shards:             constants.DefaultShardCount,
			MaxVisitors:        constants.DefaultMaxVisitors,
		},
		Storage: StorageConfig{
			SettingsFile:      "settings.db",
			SnapshotRetention: constants.MaxSnapshotRotation,
		},
		Server: ServerConfig{
			Name:       "popgate",
			RateLimits: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the default locations and environment variables.
// Order: defaults -> ~/.popgate/config.yaml -> environment variables
func Load() (*PopgateConfig, error) {
	config := Default()

	homeDir, err := os.UserHomeDir()
	if err == nil {
		configPath := filepath.Join(homeDir, DirName, "config.yaml")
		if _, statErr := os.Stat(configPath); statErr == nil {
			fileConfig, loadErr := LoadFromFile(configPath)
			if loadErr != nil {
				return nil, fmt.Errorf("loading config file: %w", loadErr)
			}
			config = fileConfig
		}
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file.
// Environment variables are not applied.
func LoadFromFile(path string) (*PopgateConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	config.Storage.DataDir = expandEnvVars(config.Storage.DataDir)
	return config, nil
}

// Save writes the configuration as YAML, creating parent directories.
func (c *PopgateConfig) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is valid.
func (c *PopgateConfig) Validate() error {
	if err := c.EngineConfig().Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	for popup, expr := range c.Schedules {
		if popup == "" {
			return fmt.Errorf("schedules: empty popup id for expression %q", expr)
		}
		if !gronx.New().IsValid(expr) {
			return fmt.Errorf("schedules: %s: invalid cron expression %q", popup, expr)
		}
	}

	if c.Storage.SettingsFile == "" {
		return fmt.Errorf("storage: settings_file must not be empty")
	}
	if c.Storage.SnapshotRetention < 0 {
		return fmt.Errorf("storage: snapshot_retention must be non-negative, got %d", c.Storage.SnapshotRetention)
	}
	if c.Storage.SnapshotMaxAge != "" {
		if _, err := backup.ParseDuration(c.Storage.SnapshotMaxAge); err != nil {
			return fmt.Errorf("storage: snapshot_max_age: %w", err)
		}
	}

	validLevels := map[string]bool{"info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace, or empty for default)", c.Logging.Level)
	}

	return nil
}

// EngineConfig converts the engine section into an engine.Config.
func (c *PopgateConfig) EngineConfig() engine.Config {
	cfg := engine.DefaultConfig()
	cfg.DefaultMaxPerDay = c.Engine.DefaultMaxPerDay
	cfg.MaxPerSession = c.Engine.MaxPerSession
	cfg.DefaultCooldown = c.Engine.DefaultCooldown
	cfg.AdaptiveLearning = c.Engine.AdaptiveLearning
	cfg.Throttle = behavior.Rates{
		Dismisser: c.Engine.DismisserAdmitRate,
		Converted: c.Engine.ConvertedAdmitRate,
	}
	cfg.Shards = c.Engine.Shards
	cfg.MaxVisitors = c.Engine.MaxVisitors
	cfg.MaxSessions = c.Engine.MaxVisitors
	return cfg
}

// DataDir returns the resolved data directory.
func (c *PopgateConfig) DataDir() (string, error) {
	if c.Storage.DataDir != "" {
		return c.Storage.DataDir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, DirName), nil
}

// SnapshotDir returns the directory holding snapshot files.
func (c *PopgateConfig) SnapshotDir() (string, error) {
	dir, err := c.DataDir()
	if err != nil {
		return "", err
	}
	return backup.DefaultDir(dir), nil
}

// SettingsPath returns the full path of the SQLite settings file.
func (c *PopgateConfig) SettingsPath() (string, error) {
	dir, err := c.DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, c.Storage.SettingsFile), nil
}

// applyEnvOverrides applies POPGATE_* environment variables. Only variables
// that are set override the current values.
func applyEnvOverrides(config *PopgateConfig) error {
	if err := env.Parse(config); err != nil {
		return fmt.Errorf("parsing environment: %w", err)
	}
	config.Storage.DataDir = expandEnvVars(config.Storage.DataDir)
	return nil
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
