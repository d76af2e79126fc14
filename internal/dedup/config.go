package dedup

import (
	"fmt"
	"os"
	"strconv"

	"golang.org/x/time/rate"
)

// Config holds configuration for the deduplication engine
type Config struct {
	// BaseThreshold is the default similarity threshold when the
	// caller does not override it. The adaptive policy may lower the
	// working threshold for recently updated narratives. Default: 0.6
	BaseThreshold float64

	// MaxGroupConcurrency bounds how many nucleus groups are scored in
	// parallel. Scoring is a pure read over the snapshot, so this only
	// trades CPU against latency. Default: 4
	MaxGroupConcurrency int

	// WriteRate throttles merge writes against the store, in merges
	// per second. Zero means unlimited. Useful when consolidating a
	// large backlog against a shared database. Default: 0
	WriteRate float64

	// Verbose enables per-pair logging.
	Verbose bool
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() Config {
	return Config{
		BaseThreshold:       0.6,
		MaxGroupConcurrency: 4,
		WriteRate:           0,
	}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	if c.BaseThreshold < 0.0 || c.BaseThreshold > 1.0 {
		return fmt.Errorf("base_threshold must be between 0.0 and 1.0 (got %.2f)", c.BaseThreshold)
	}
	if c.MaxGroupConcurrency < 1 {
		return fmt.Errorf("max_group_concurrency must be at least 1 (got %d)", c.MaxGroupConcurrency)
	}
	if c.MaxGroupConcurrency > 64 {
		return fmt.Errorf("max_group_concurrency too large (got %d, max 64)", c.MaxGroupConcurrency)
	}
	if c.WriteRate < 0 {
		return fmt.Errorf("write_rate cannot be negative (got %.2f)", c.WriteRate)
	}
	return nil
}

// ConfigFromEnv creates a Config from environment variables, falling
// back to defaults.
//
// Environment variables:
//   - ND_DEDUP_BASE_THRESHOLD: default similarity threshold (default: 0.6)
//   - ND_DEDUP_GROUP_CONCURRENCY: parallel scoring bound (default: 4)
//   - ND_DEDUP_WRITE_RATE: merge writes per second, 0 = unlimited (default: 0)
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if value := os.Getenv("ND_DEDUP_BASE_THRESHOLD"); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return cfg, fmt.Errorf("invalid value for ND_DEDUP_BASE_THRESHOLD: %w", err)
		}
		cfg.BaseThreshold = parsed
	}
	if value := os.Getenv("ND_DEDUP_GROUP_CONCURRENCY"); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return cfg, fmt.Errorf("invalid value for ND_DEDUP_GROUP_CONCURRENCY: %w", err)
		}
		cfg.MaxGroupConcurrency = parsed
	}
	if value := os.Getenv("ND_DEDUP_WRITE_RATE"); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return cfg, fmt.Errorf("invalid value for ND_DEDUP_WRITE_RATE: %w", err)
		}
		cfg.WriteRate = parsed
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration from environment: %w", err)
	}
	return cfg, nil
}

// writeLimiter builds the rate limiter for merge application.
func (c Config) writeLimiter() *rate.Limiter {
	if c.WriteRate <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(c.WriteRate), 1)
}
