package dedup

import (
	"strings"

	"github.com/storylab/nd/internal/types"
)

// SelectPrimary chooses the surviving narrative of a candidate pair.
// The loser is absorbed and deleted.
//
// Tie-break order:
//  1. More articles wins: the larger cluster is the better-established
//     record of the storyline.
//  2. More recent last_updated wins: prefer the side still accreting.
//  3. Earlier created_at wins: the older narrative is the canonical
//     survivor.
//  4. Lexicographically smaller ID wins, guaranteeing a total order.
func SelectPrimary(a, b *types.Narrative) (primary, duplicate *types.Narrative) {
	if a.ArticleCount != b.ArticleCount {
		if a.ArticleCount > b.ArticleCount {
			return a, b
		}
		return b, a
	}
	if !a.LastUpdated.Equal(b.LastUpdated) {
		if a.LastUpdated.After(b.LastUpdated) {
			return a, b
		}
		return b, a
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		if a.CreatedAt.Before(b.CreatedAt) {
			return a, b
		}
		return b, a
	}
	if strings.Compare(a.ID, b.ID) <= 0 {
		return a, b
	}
	return b, a
}

// MergeArticleIDs returns the set union of two article ID lists,
// preserving first-occurrence order (primary's articles first).
func MergeArticleIDs(primary, duplicate []string) []string {
	seen := make(map[string]bool, len(primary)+len(duplicate))
	out := make([]string, 0, len(primary)+len(duplicate))
	for _, list := range [][]string{primary, duplicate} {
		for _, id := range list {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// MergeEntitySalience combines salience maps: entities present on both
// sides get the mean of the two scores; one-sided entries keep their
// original score unchanged.
func MergeEntitySalience(primary, duplicate map[string]float64) map[string]float64 {
	if len(primary) == 0 && len(duplicate) == 0 {
		return nil
	}
	out := make(map[string]float64, len(primary)+len(duplicate))
	for entity, score := range primary {
		out[entity] = score
	}
	for entity, score := range duplicate {
		if existing, ok := out[entity]; ok {
			out[entity] = (existing + score) / 2.0
		} else {
			out[entity] = score
		}
	}
	return out
}
