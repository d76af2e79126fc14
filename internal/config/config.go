// Package config loads operator-managed settings from a YAML file,
// layered under the per-package environment overrides.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the config file is looked up when the operator
// does not pass one explicitly.
const DefaultPath = ".nd/config.yaml"

// Config holds the file-backed settings for the consolidation tool
type Config struct {
	// DatabasePath is the SQLite database file location.
	DatabasePath string `yaml:"database_path"`

	// BaseThreshold is the default similarity threshold for
	// interactive consolidation runs.
	BaseThreshold float64 `yaml:"base_threshold"`

	// ScheduledThreshold is the strict threshold for scheduled runs.
	ScheduledThreshold float64 `yaml:"scheduled_threshold"`

	// RecencyWindowHours is the adaptive threshold recency window.
	RecencyWindowHours int `yaml:"recency_window_hours"`

	// InactivityWindowHours is the lifecycle dormancy window.
	InactivityWindowHours int `yaml:"inactivity_window_hours"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		DatabasePath:          ".nd/narratives.db",
		BaseThreshold:         0.6,
		ScheduledThreshold:    0.9,
		RecencyWindowHours:    48,
		InactivityWindowHours: 72,
	}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path is required")
	}
	if c.BaseThreshold < 0.0 || c.BaseThreshold > 1.0 {
		return fmt.Errorf("base_threshold must be between 0.0 and 1.0 (got %.2f)", c.BaseThreshold)
	}
	if c.ScheduledThreshold < 0.0 || c.ScheduledThreshold > 1.0 {
		return fmt.Errorf("scheduled_threshold must be between 0.0 and 1.0 (got %.2f)", c.ScheduledThreshold)
	}
	if c.RecencyWindowHours <= 0 {
		return fmt.Errorf("recency_window_hours must be positive (got %d)", c.RecencyWindowHours)
	}
	if c.InactivityWindowHours <= 0 {
		return fmt.Errorf("inactivity_window_hours must be positive (got %d)", c.InactivityWindowHours)
	}
	return nil
}

// Load reads the config file at path, falling back to defaults for
// any field the file omits. A missing file is not an error; the
// defaults are returned unchanged.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config in %s: %w", path, err)
	}
	return cfg, nil
}
