package engine

import (
	"fmt"
	"time"

	"github.com/nvandessel/popgate/internal/behavior"
	"github.com/nvandessel/popgate/internal/constants"
)

// Config holds the engine-wide defaults. It is passed to New and never read
// from process state.
type Config struct {
	// DefaultMaxPerDay caps shows per visitor per UTC day across all popups
	// when the visitor has no override. 0 disables the cap.
	DefaultMaxPerDay int

	// MaxPerSession caps shows per session when the visitor has no override.
	// 0 disables the cap.
	MaxPerSession int

	// DefaultCooldown is the minimum time between two shows of one popup to
	// one visitor when the popup has no cooldown_period rule.
	DefaultCooldown time.Duration

	// AdaptiveLearning enables cap adjustment from recorded interactions.
	AdaptiveLearning bool

	// Throttle holds the behavior-check admission rates.
	Throttle behavior.Rates

	Shards      int
	MaxVisitors int
	MaxSessions int
}

// DefaultConfig returns the stock engine configuration.
func DefaultConfig() Config {
	return Config{
		DefaultMaxPerDay: constants.DefaultMaxPerDay,
		MaxPerSession:    constants.DefaultMaxPerSession,
		DefaultCooldown:  constants.DefaultCooldown,
		AdaptiveLearning: true,
		Throttle:         behavior.DefaultRates(),
		Shards:           constants.DefaultShardCount,
		MaxVisitors:      constants.DefaultMaxVisitors,
		MaxSessions:      constants.DefaultMaxVisitors,
	}
}

// Validate checks the configuration for invalid values.
func (c Config) Validate() error {
	if c.DefaultMaxPerDay < 0 {
		return fmt.Errorf("default max per day must be non-negative, got %d", c.DefaultMaxPerDay)
	}
	if c.MaxPerSession < 0 {
		return fmt.Errorf("max per session must be non-negative, got %d", c.MaxPerSession)
	}
	if c.DefaultCooldown < 0 {
		return fmt.Errorf("default cooldown must be non-negative, got %s", c.DefaultCooldown)
	}
	if c.Throttle.Dismisser < 0 || c.Throttle.Dismisser > 1 {
		return fmt.Errorf("dismisser admit rate must be in [0, 1], got %v", c.Throttle.Dismisser)
	}
	if c.Throttle.Converted < 0 || c.Throttle.Converted > 1 {
		return fmt.Errorf("converted admit rate must be in [0, 1], got %v", c.Throttle.Converted)
	}
	if c.Shards <= 0 {
		return fmt.Errorf("shards must be positive, got %d", c.Shards)
	}
	if c.MaxVisitors < c.Shards {
		return fmt.Errorf("max visitors (%d) must be at least the shard count (%d)", c.MaxVisitors, c.Shards)
	}
	if c.MaxSessions < c.Shards {
		return fmt.Errorf("max sessions (%d) must be at least the shard count (%d)", c.MaxSessions, c.Shards)
	}
	return nil
}

// adjustBase is the cap the adaptive adjuster starts from when a visitor has
// no override. An unlimited default still needs a finite starting point.
func (c Config) adjustBase() int {
	if c.DefaultMaxPerDay > 0 {
		return c.DefaultMaxPerDay
	}
	return constants.DefaultMaxPerDay
}
