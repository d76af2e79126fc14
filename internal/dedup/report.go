package dedup

import (
	"fmt"
	"strings"
	"time"
)

// MergeDetail records one executed (or, under dry run, planned) merge
type MergeDetail struct {
	PrimaryID         string  `json:"primary_id"`
	PrimaryTitle      string  `json:"primary_title"`
	DuplicateID       string  `json:"duplicate_id"`
	DuplicateTitle    string  `json:"duplicate_title"`
	PrimaryArticles   int     `json:"primary_articles"`
	DuplicateArticles int     `json:"duplicate_articles"`
	Similarity        float64 `json:"similarity"`
}

// MergeFailure records one pair whose merge could not be completed.
// Failures never abort the group or the run; they are surfaced for
// manual follow-up.
type MergeFailure struct {
	PrimaryTitle   string `json:"primary_title"`
	DuplicateTitle string `json:"duplicate_title"`
	Reason         string `json:"reason"`
}

// RunReport summarizes one consolidation pass. It is produced by
// folding per-pair outcomes and never mutated after the run returns.
type RunReport struct {
	// GroupsScanned is the number of nucleus groups examined.
	GroupsScanned int `json:"groups_scanned"`

	// GroupsWithDuplicates is the number of groups that yielded at
	// least one candidate pair over threshold.
	GroupsWithDuplicates int `json:"groups_with_duplicates"`

	// PairsFound is the number of candidate pairs over threshold,
	// before greedy selection.
	PairsFound int `json:"pairs_found"`

	// MergesPerformed counts merges whose primary update was applied
	// (or, under dry run, would have been).
	MergesPerformed int `json:"merges_performed"`

	// Deletions counts duplicates actually removed from the store.
	// Always zero under dry run.
	Deletions int `json:"deletions"`

	// ArticlesConsolidated counts unique articles absorbed into
	// primaries from consumed duplicates.
	ArticlesConsolidated int `json:"articles_consolidated"`

	// SkippedInvalid counts narratives rejected from comparison for
	// invalid fingerprints.
	SkippedInvalid int `json:"skipped_invalid"`

	Merges   []MergeDetail  `json:"merges,omitempty"`
	Failures []MergeFailure `json:"failures,omitempty"`

	DryRun   bool          `json:"dry_run"`
	Duration time.Duration `json:"duration"`
}

// failureExampleLimit caps how many failure examples Summary prints;
// the total count is always shown.
const failureExampleLimit = 5

// Summary returns a human-readable digest of the run
func (r *RunReport) Summary() string {
	var b strings.Builder

	mode := "consolidation"
	if r.DryRun {
		mode = "dry-run consolidation"
	}
	fmt.Fprintf(&b, "%s: %d group(s) scanned, %d with duplicates, %d pair(s) over threshold\n",
		mode, r.GroupsScanned, r.GroupsWithDuplicates, r.PairsFound)

	verb := "merged"
	if r.DryRun {
		verb = "would merge"
	}
	fmt.Fprintf(&b, "%s %d narrative(s), %d deletion(s), %d article(s) consolidated\n",
		verb, r.MergesPerformed, r.Deletions, r.ArticlesConsolidated)

	if r.SkippedInvalid > 0 {
		fmt.Fprintf(&b, "skipped %d narrative(s) with invalid fingerprints\n", r.SkippedInvalid)
	}

	if len(r.Failures) > 0 {
		fmt.Fprintf(&b, "%d merge failure(s):\n", len(r.Failures))
		limit := len(r.Failures)
		if limit > failureExampleLimit {
			limit = failureExampleLimit
		}
		for _, f := range r.Failures[:limit] {
			fmt.Fprintf(&b, "  - %q / %q: %s\n", f.PrimaryTitle, f.DuplicateTitle, f.Reason)
		}
		if len(r.Failures) > failureExampleLimit {
			fmt.Fprintf(&b, "  ... and %d more\n", len(r.Failures)-failureExampleLimit)
		}
	}

	fmt.Fprintf(&b, "completed in %s", r.Duration.Round(time.Millisecond))
	return b.String()
}
