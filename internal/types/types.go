package types

import (
	"fmt"
	"strings"
	"time"
)

// Fingerprint is the structured summary of a narrative used for
// near-duplicate comparison: the dominant actor the story is organized
// around, the supporting cast in salience order, and the key actions.
//
// Fingerprints are immutable value objects. Construct them with
// NewFingerprint, which normalizes actor and action sets; never mutate
// the slices after construction.
type Fingerprint struct {
	// NucleusEntity is the single dominant actor (e.g., "SEC", "Bitcoin").
	// Must be non-empty and must appear in TopActors.
	NucleusEntity string `json:"nucleus_entity"`

	// TopActors lists supporting actors in descending salience order.
	// No duplicates (by normalized form).
	TopActors []string `json:"top_actors"`

	// KeyActions is the set of actions extracted from the narrative's
	// articles. Order is not meaningful.
	KeyActions []string `json:"key_actions"`
}

// NewFingerprint builds a normalized fingerprint. Actor order is
// preserved while duplicates (by normalized form) are dropped; actions
// are deduplicated the same way. Entity alias resolution (e.g.
// "U.S. SEC" vs "SEC") happens upstream in the extractor, not here.
func NewFingerprint(nucleus string, actors, actions []string) Fingerprint {
	return Fingerprint{
		NucleusEntity: strings.TrimSpace(nucleus),
		TopActors:     dedupeOrdered(actors),
		KeyActions:    dedupeOrdered(actions),
	}
}

// Validate checks the fingerprint invariants: a non-empty nucleus that
// is a member of the actor set.
func (f Fingerprint) Validate() error {
	if strings.TrimSpace(f.NucleusEntity) == "" {
		return fmt.Errorf("nucleus_entity is required")
	}
	nucleus := NormalizeEntity(f.NucleusEntity)
	for _, actor := range f.TopActors {
		if NormalizeEntity(actor) == nucleus {
			return nil
		}
	}
	return fmt.Errorf("nucleus_entity %q must appear in top_actors", f.NucleusEntity)
}

// NucleusKey returns the normalized nucleus entity, used for grouping
// narratives before pairwise comparison.
func (f Fingerprint) NucleusKey() string {
	return NormalizeEntity(f.NucleusEntity)
}

// NormalizeEntity canonicalizes an entity name for comparison:
// lowercase with runs of whitespace collapsed to a single space.
func NormalizeEntity(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// dedupeOrdered removes duplicate entries (by normalized form) while
// preserving first-occurrence order.
func dedupeOrdered(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		key := NormalizeEntity(trimmed)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, trimmed)
	}
	return out
}

// LifecycleState tracks a narrative's activity trajectory
type LifecycleState string

const (
	StateEmerging    LifecycleState = "emerging"
	StateRising      LifecycleState = "rising"
	StateHot         LifecycleState = "hot"
	StateCooling     LifecycleState = "cooling"
	StateDormant     LifecycleState = "dormant"
	StateReactivated LifecycleState = "reactivated"
)

// IsValid checks if the lifecycle state value is valid
func (s LifecycleState) IsValid() bool {
	switch s {
	case StateEmerging, StateRising, StateHot, StateCooling, StateDormant, StateReactivated:
		return true
	}
	return false
}

// IsActive reports whether the state indicates recent activity.
// Dormant is the only inactive state; it can always transition back
// through reactivated.
func (s LifecycleState) IsActive() bool {
	return s != StateDormant
}

// LifecycleTransition records one state change in a narrative's history
type LifecycleTransition struct {
	State     LifecycleState `json:"state"`
	Timestamp time.Time      `json:"timestamp"`
}

// Narrative is a deduplicated cluster of news articles about the same
// real-world storyline. Records are owned by the NarrativeStore; the
// consolidation engine reads full snapshots and issues replace/delete
// commands, it never mutates a store record in place.
type Narrative struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Fingerprint Fingerprint `json:"fingerprint"`

	// ArticleIDs are opaque identifiers of the member articles.
	ArticleIDs []string `json:"article_ids"`

	// EntitySalience maps entity name to a centrality score in [0,1].
	EntitySalience map[string]float64 `json:"entity_salience,omitempty"`

	LifecycleState LifecycleState `json:"lifecycle_state"`

	// ArticleCount is kept consistent with len(ArticleIDs).
	ArticleCount int `json:"article_count"`

	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`

	// ReawakeningCount is incremented each time the narrative leaves
	// dormancy via the reactivated state.
	ReawakeningCount int `json:"reawakening_count"`

	LifecycleHistory []LifecycleTransition `json:"lifecycle_history,omitempty"`

	// MergedFrom points at the last duplicate consumed into this
	// narrative, for audit. MergedAt records when.
	MergedFrom string     `json:"merged_from,omitempty"`
	MergedAt   *time.Time `json:"merged_at,omitempty"`
}

// Validate checks if the narrative has valid field values
func (n *Narrative) Validate() error {
	if n.ID == "" {
		return fmt.Errorf("id is required")
	}
	if n.Title == "" {
		return fmt.Errorf("title is required")
	}
	if err := n.Fingerprint.Validate(); err != nil {
		return fmt.Errorf("invalid fingerprint: %w", err)
	}
	if n.ArticleCount != len(n.ArticleIDs) {
		return fmt.Errorf("article_count (%d) does not match article_ids length (%d)",
			n.ArticleCount, len(n.ArticleIDs))
	}
	if !n.LifecycleState.IsValid() {
		return fmt.Errorf("invalid lifecycle state: %s", n.LifecycleState)
	}
	if n.ReawakeningCount < 0 {
		return fmt.Errorf("reawakening_count cannot be negative (got %d)", n.ReawakeningCount)
	}
	for entity, score := range n.EntitySalience {
		if score < 0.0 || score > 1.0 {
			return fmt.Errorf("salience for %q must be between 0.0 and 1.0 (got %.2f)", entity, score)
		}
	}
	return nil
}

// NucleusKey returns the normalized grouping key for this narrative.
func (n *Narrative) NucleusKey() string {
	return n.Fingerprint.NucleusKey()
}

// Article is the minimal view of an article the engine needs: its
// identity and publication time, used to recompute a merged
// narrative's time span and mention velocity.
type Article struct {
	ID          string    `json:"id"`
	Title       string    `json:"title,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}
