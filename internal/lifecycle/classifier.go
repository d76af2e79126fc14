// Package lifecycle classifies narratives into activity states based
// on article mass, mention velocity, and recency.
//
// States: emerging → rising → hot → cooling → dormant, with dormant
// narratives transitioning back through reactivated when new activity
// arrives. Dormant narratives are never deleted for staleness; they
// can always come back.
package lifecycle

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/storylab/nd/internal/types"
)

// Config holds the classification thresholds
type Config struct {
	// InactivityWindow is how long a narrative can go without an
	// update before it is classified dormant, regardless of its
	// previous state. Default: 72 hours.
	InactivityWindow time.Duration

	// HotVelocity is the mention velocity (articles/day) at or above
	// which a narrative is hot. Default: 3.0.
	HotVelocity float64

	// HotMinArticles is the minimum article mass required for hot.
	// Velocity alone is too noisy for tiny narratives. Default: 3.
	HotMinArticles int

	// RisingVelocity is the velocity at or above which a narrative is
	// rising (when below the hot bar). Default: 1.0.
	RisingVelocity float64

	// MinDormancy is the minimum time a narrative must have been
	// dormant for its return to count as a reawakening. Zero means any
	// dormant-to-active transition counts. Default: 0.
	MinDormancy time.Duration
}

// DefaultConfig returns the default lifecycle configuration
func DefaultConfig() Config {
	return Config{
		InactivityWindow: 72 * time.Hour,
		HotVelocity:      3.0,
		HotMinArticles:   3,
		RisingVelocity:   1.0,
		MinDormancy:      0,
	}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	if c.InactivityWindow <= 0 {
		return fmt.Errorf("inactivity_window must be positive (got %v)", c.InactivityWindow)
	}
	if c.HotVelocity <= 0 {
		return fmt.Errorf("hot_velocity must be positive (got %.2f)", c.HotVelocity)
	}
	if c.HotMinArticles < 1 {
		return fmt.Errorf("hot_min_articles must be at least 1 (got %d)", c.HotMinArticles)
	}
	if c.RisingVelocity <= 0 {
		return fmt.Errorf("rising_velocity must be positive (got %.2f)", c.RisingVelocity)
	}
	if c.RisingVelocity > c.HotVelocity {
		return fmt.Errorf("rising_velocity (%.2f) cannot exceed hot_velocity (%.2f)",
			c.RisingVelocity, c.HotVelocity)
	}
	if c.MinDormancy < 0 {
		return fmt.Errorf("min_dormancy cannot be negative (got %v)", c.MinDormancy)
	}
	return nil
}

// ConfigFromEnv creates a Config from environment variables, falling
// back to defaults.
//
// Environment variables:
//   - ND_LIFECYCLE_INACTIVITY_HOURS: dormancy window in hours (default: 72)
//   - ND_LIFECYCLE_HOT_VELOCITY: articles/day for hot (default: 3)
//   - ND_LIFECYCLE_HOT_MIN_ARTICLES: minimum article mass for hot (default: 3)
//   - ND_LIFECYCLE_RISING_VELOCITY: articles/day for rising (default: 1)
//   - ND_LIFECYCLE_MIN_DORMANCY_HOURS: minimum dormancy for a reawakening (default: 0)
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if err := parseEnvHours("ND_LIFECYCLE_INACTIVITY_HOURS", &cfg.InactivityWindow); err != nil {
		return cfg, err
	}
	if err := parseEnvFloat("ND_LIFECYCLE_HOT_VELOCITY", &cfg.HotVelocity); err != nil {
		return cfg, err
	}
	if err := parseEnvInt("ND_LIFECYCLE_HOT_MIN_ARTICLES", &cfg.HotMinArticles); err != nil {
		return cfg, err
	}
	if err := parseEnvFloat("ND_LIFECYCLE_RISING_VELOCITY", &cfg.RisingVelocity); err != nil {
		return cfg, err
	}
	if err := parseEnvHours("ND_LIFECYCLE_MIN_DORMANCY_HOURS", &cfg.MinDormancy); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration from environment: %w", err)
	}
	return cfg, nil
}

// Classifier computes lifecycle states. Pure; safe for concurrent use.
type Classifier struct {
	config Config
}

// NewClassifier creates a classifier with the given config.
func NewClassifier(config Config) (*Classifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Classifier{config: config}, nil
}

// NewDefaultClassifier creates a classifier with DefaultConfig.
func NewDefaultClassifier() *Classifier {
	c, err := NewClassifier(DefaultConfig())
	if err != nil {
		panic(err)
	}
	return c
}

// Velocity computes mention velocity in articles per day:
// article_count / max(time_span_in_days, 1.0).
func Velocity(articleCount int, firstSeen, lastUpdated time.Time) float64 {
	spanDays := lastUpdated.Sub(firstSeen).Hours() / 24.0
	if spanDays < 1.0 {
		spanDays = 1.0
	}
	return float64(articleCount) / spanDays
}

// Classify computes the new lifecycle state for a narrative.
//
// Rules, in order:
//  1. No update within the inactivity window: dormant, regardless of
//     previous state.
//  2. Previously dormant and now recently updated: reactivated. The
//     caller increments the reawakening count (see Apply).
//  3. Velocity at or above the hot bar with sufficient mass: hot.
//  4. Velocity at or above the rising bar: rising.
//  5. Velocity fell below the rising bar from a prior hot/rising/
//     reactivated state while still recently updated: cooling.
//  6. Otherwise: emerging.
func (c *Classifier) Classify(articleCount int, velocity float64, lastUpdated time.Time, prev types.LifecycleState, now time.Time) types.LifecycleState {
	if now.Sub(lastUpdated) > c.config.InactivityWindow {
		return types.StateDormant
	}
	if prev == types.StateDormant {
		return types.StateReactivated
	}
	if velocity >= c.config.HotVelocity && articleCount >= c.config.HotMinArticles {
		return types.StateHot
	}
	if velocity >= c.config.RisingVelocity {
		return types.StateRising
	}
	switch prev {
	case types.StateHot, types.StateRising, types.StateReactivated:
		return types.StateCooling
	}
	return types.StateEmerging
}

// Reclassify computes the narrative's new state and applies it.
// Convenience wrapper over Classify + Apply using the narrative's own
// fields.
func (c *Classifier) Reclassify(n *types.Narrative, now time.Time) types.LifecycleState {
	velocity := Velocity(n.ArticleCount, n.CreatedAt, n.LastUpdated)
	state := c.Classify(n.ArticleCount, velocity, n.LastUpdated, n.LifecycleState, now)
	c.Apply(n, state, now)
	return n.LifecycleState
}

// Apply records a computed state on the narrative: appends to the
// lifecycle history only when the state changed, and increments the
// reawakening count on a dormant-to-reactivated transition. A no-op
// when the state is unchanged.
//
// When MinDormancy is configured, a reactivation after too short a
// dormancy is downgraded to emerging and does not count as a
// reawakening.
func (c *Classifier) Apply(n *types.Narrative, state types.LifecycleState, now time.Time) {
	if state == n.LifecycleState {
		return
	}

	if state == types.StateReactivated && n.LifecycleState == types.StateDormant {
		if c.dormancyTooShort(n, now) {
			state = types.StateEmerging
		} else {
			n.ReawakeningCount++
		}
	}

	if state == n.LifecycleState {
		return
	}
	n.LifecycleState = state
	n.LifecycleHistory = append(n.LifecycleHistory, types.LifecycleTransition{
		State:     state,
		Timestamp: now,
	})
}

// dormancyTooShort checks the lifecycle history for the most recent
// transition into dormant and compares the dormancy duration against
// MinDormancy.
func (c *Classifier) dormancyTooShort(n *types.Narrative, now time.Time) bool {
	if c.config.MinDormancy <= 0 {
		return false
	}
	for i := len(n.LifecycleHistory) - 1; i >= 0; i-- {
		if n.LifecycleHistory[i].State == types.StateDormant {
			return now.Sub(n.LifecycleHistory[i].Timestamp) < c.config.MinDormancy
		}
	}
	// No recorded dormant transition; the narrative predates history
	// tracking. Count the reawakening.
	return false
}

func parseEnvFloat(key string, dest *float64) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

func parseEnvInt(key string, dest *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

func parseEnvHours(key string, dest *time.Duration) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = time.Duration(parsed) * time.Hour
	return nil
}
