// Package similarity scores pairs of narrative fingerprints for
// near-duplicate detection.
//
// The score combines three signals: an exact-match signal on the
// normalized nucleus entity, Jaccard overlap of the actor sets, and
// Jaccard overlap of the action sets. Because comparisons only ever
// happen within a nucleus-partitioned group, the nucleus term is
// usually saturated; the actor overlap carries the most weight since
// it is what separates near-duplicates from merely related stories
// about the same entity. A component absent from both sides (for
// example, two fingerprints with no recorded actions) is excluded and
// its weight redistributed rather than counted as agreement.
//
// The scorer is a pure function over two fingerprints: reflexive
// (Score(f, f) == 1.0), symmetric, and monotonic in overlap.
package similarity

import (
	"fmt"
	"math"

	"github.com/storylab/nd/internal/types"
)

// Weights controls how the three fingerprint signals combine.
// They must be positive and sum to 1.0.
type Weights struct {
	// Nucleus is the weight of the exact-match signal on the
	// normalized nucleus entity. Default: 0.25
	Nucleus float64

	// Actors is the weight of the Jaccard overlap of top actors.
	// Default: 0.6
	Actors float64

	// Actions is the weight of the Jaccard overlap of key actions.
	// Default: 0.15
	Actions float64
}

// DefaultWeights returns the default signal weights.
//
// Tuned to the calibration target: two fingerprints sharing a nucleus
// with at least 60% actor overlap score at least 0.6 even with fully
// disjoint actions (0.25 + 0.6*0.6 = 0.61), while a shared nucleus
// with little actor overlap stays well below the lowest adaptive
// threshold.
func DefaultWeights() Weights {
	return Weights{
		Nucleus: 0.25,
		Actors:  0.6,
		Actions: 0.15,
	}
}

// Validate checks if the weights have valid values
func (w Weights) Validate() error {
	if w.Nucleus <= 0 || w.Actors <= 0 || w.Actions <= 0 {
		return fmt.Errorf("all weights must be positive (got %.2f/%.2f/%.2f)",
			w.Nucleus, w.Actors, w.Actions)
	}
	sum := w.Nucleus + w.Actors + w.Actions
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("weights must sum to 1.0 (got %.4f)", sum)
	}
	return nil
}

// Scorer computes similarity between fingerprints. Safe for concurrent
// use; it holds no mutable state.
type Scorer struct {
	weights Weights
}

// NewScorer creates a scorer with the given weights.
func NewScorer(weights Weights) (*Scorer, error) {
	if err := weights.Validate(); err != nil {
		return nil, fmt.Errorf("invalid weights: %w", err)
	}
	return &Scorer{weights: weights}, nil
}

// NewDefaultScorer creates a scorer with DefaultWeights.
func NewDefaultScorer() *Scorer {
	s, err := NewScorer(DefaultWeights())
	if err != nil {
		// DefaultWeights is always valid
		panic(err)
	}
	return s
}

// Score returns the similarity of two fingerprints in [0.0, 1.0].
//
// The result is the weighted mean of the present signals: the nucleus
// match always contributes; the actor and action terms contribute only
// when at least one side has members, so missing data neither inflates
// nor deflates the score.
func (s *Scorer) Score(a, b types.Fingerprint) float64 {
	nucleus := 0.0
	if a.NucleusKey() != "" && a.NucleusKey() == b.NucleusKey() {
		nucleus = 1.0
	}

	num := s.weights.Nucleus * nucleus
	den := s.weights.Nucleus

	actorsA, actorsB := normalizedSet(a.TopActors), normalizedSet(b.TopActors)
	if len(actorsA) > 0 || len(actorsB) > 0 {
		num += s.weights.Actors * jaccard(actorsA, actorsB)
		den += s.weights.Actors
	}

	actionsA, actionsB := normalizedSet(a.KeyActions), normalizedSet(b.KeyActions)
	if len(actionsA) > 0 || len(actionsB) > 0 {
		num += s.weights.Actions * jaccard(actionsA, actionsB)
		den += s.weights.Actions
	}

	return clamp01(num / den)
}

// jaccard computes |a ∩ b| / |a ∪ b|. Callers never pass two empty
// sets; one empty side means no overlap.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	intersection := 0
	for item := range a {
		if b[item] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

func normalizedSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	set := make(map[string]bool, len(items))
	for _, item := range items {
		if key := types.NormalizeEntity(item); key != "" {
			set[key] = true
		}
	}
	return set
}

func clamp01(v float64) float64 {
	if v < 0.0 {
		return 0.0
	}
	if v > 1.0 {
		return 1.0
	}
	return v
}
