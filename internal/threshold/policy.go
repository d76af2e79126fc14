// Package threshold decides how much similarity evidence a merge needs
// based on how recently each narrative was updated.
//
// Freshly updated narratives have noisy, partially-formed fingerprints
// and should merge more readily to prevent fragmentation. Mature
// narratives require stronger evidence so settled, distinct storylines
// are not eroded.
package threshold

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/storylab/nd/internal/types"
)

// Policy returns a lowered similarity threshold for recently updated
// narratives and the caller's base threshold otherwise.
type Policy struct {
	// RecencyWindow is how recently a narrative must have been updated
	// to qualify for the lowered threshold. Default: 48 hours.
	RecencyWindow time.Duration

	// RecentThreshold is the lowered threshold applied inside the
	// recency window. Default: 0.5.
	RecentThreshold float64
}

// DefaultPolicy returns the default adaptive threshold policy.
func DefaultPolicy() Policy {
	return Policy{
		RecencyWindow:   48 * time.Hour,
		RecentThreshold: 0.5,
	}
}

// Validate checks if the policy has valid values
func (p Policy) Validate() error {
	if p.RecencyWindow <= 0 {
		return fmt.Errorf("recency_window must be positive (got %v)", p.RecencyWindow)
	}
	if p.RecentThreshold < 0.0 || p.RecentThreshold > 1.0 {
		return fmt.Errorf("recent_threshold must be between 0.0 and 1.0 (got %.2f)", p.RecentThreshold)
	}
	return nil
}

// PolicyFromEnv creates a Policy from environment variables, falling
// back to defaults.
//
// Environment variables:
//   - ND_THRESHOLD_RECENCY_HOURS: recency window in hours (default: 48)
//   - ND_THRESHOLD_RECENT: lowered threshold inside the window (default: 0.5)
func PolicyFromEnv() (Policy, error) {
	p := DefaultPolicy()

	if value := os.Getenv("ND_THRESHOLD_RECENCY_HOURS"); value != "" {
		hours, err := strconv.Atoi(value)
		if err != nil {
			return p, fmt.Errorf("invalid value for ND_THRESHOLD_RECENCY_HOURS: %w", err)
		}
		p.RecencyWindow = time.Duration(hours) * time.Hour
	}
	if value := os.Getenv("ND_THRESHOLD_RECENT"); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return p, fmt.Errorf("invalid value for ND_THRESHOLD_RECENT: %w", err)
		}
		p.RecentThreshold = parsed
	}

	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("invalid policy from environment: %w", err)
	}
	return p, nil
}

// EffectiveThreshold returns the similarity threshold to apply to a
// narrative last updated at lastUpdated, evaluated at now.
func (p Policy) EffectiveThreshold(lastUpdated time.Time, base float64, now time.Time) float64 {
	if now.Sub(lastUpdated) <= p.RecencyWindow {
		return p.RecentThreshold
	}
	return base
}

// PairThreshold returns the working threshold for a candidate pair:
// the minimum of the two members' effective thresholds. A merge is
// allowed if either side is recent enough to justify the lower bar.
func (p Policy) PairThreshold(a, b *types.Narrative, base float64, now time.Time) float64 {
	ta := p.EffectiveThreshold(a.LastUpdated, base, now)
	tb := p.EffectiveThreshold(b.LastUpdated, base, now)
	if tb < ta {
		return tb
	}
	return ta
}
