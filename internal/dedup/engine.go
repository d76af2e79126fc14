// Package dedup implements the narrative consolidation engine: it
// groups narratives by nucleus entity, scores every in-group pair,
// greedily merges the most similar pairs above an adaptive threshold,
// and recomputes lifecycle state on each merge survivor.
//
// One call to Consolidate is one pass over an immutable snapshot.
// Scoring is parallel across nucleus groups; merge application is
// serialized within a group because later decisions depend on earlier
// ones having consumed their duplicates. The consumed set is local to
// the pass: the engine provides no mutual exclusion across concurrent
// invocations, so deployments must ensure at most one active run
// (see the runner package's lease).
package dedup

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/storylab/nd/internal/lifecycle"
	"github.com/storylab/nd/internal/similarity"
	"github.com/storylab/nd/internal/storage"
	"github.com/storylab/nd/internal/threshold"
	"github.com/storylab/nd/internal/types"
)

// Engine orchestrates grouping, scoring, primary selection, and merge
// application.
type Engine struct {
	scorer     *similarity.Scorer
	policy     threshold.Policy
	classifier *lifecycle.Classifier
	narratives storage.NarrativeStore
	articles   storage.ArticleStore
	config     Config
	limiter    *rate.Limiter
}

// NewEngine creates a deduplication engine.
//
// The narrative and article stores are collaborators: the engine reads
// snapshots and issues update/delete commands, nothing more. Retry and
// backoff policy belongs to the stores.
func NewEngine(
	scorer *similarity.Scorer,
	policy threshold.Policy,
	classifier *lifecycle.Classifier,
	narratives storage.NarrativeStore,
	articles storage.ArticleStore,
	config Config,
) (*Engine, error) {
	if scorer == nil {
		return nil, fmt.Errorf("scorer cannot be nil")
	}
	if classifier == nil {
		return nil, fmt.Errorf("classifier cannot be nil")
	}
	if narratives == nil {
		return nil, fmt.Errorf("narrative store cannot be nil")
	}
	if articles == nil {
		return nil, fmt.Errorf("article store cannot be nil")
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid threshold policy: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Engine{
		scorer:     scorer,
		policy:     policy,
		classifier: classifier,
		narratives: narratives,
		articles:   articles,
		config:     config,
		limiter:    config.writeLimiter(),
	}, nil
}

// Options controls a single consolidation pass
type Options struct {
	// BaseThreshold overrides the engine's configured threshold when
	// positive.
	BaseThreshold float64

	// DryRun runs identical grouping, scoring, and selection logic but
	// performs zero writes; the report counts what would merge.
	DryRun bool

	// NucleusFilter restricts the pass to one nucleus group
	// (normalized comparison). Empty means all groups.
	NucleusFilter string
}

// candidatePair is ephemeral merge-candidate bookkeeping, produced and
// consumed within a single pass; never persisted.
type candidatePair struct {
	aID        string
	bID        string
	similarity float64
}

// Consolidate runs one deduplication pass over the given snapshot.
//
// Per-pair errors are recorded in the report and never abort the group
// or the run. The returned error is non-nil only for pass-level
// problems (cancellation between groups); the report is valid either
// way for whatever completed.
func (e *Engine) Consolidate(ctx context.Context, narratives []*types.Narrative, opts Options) (*RunReport, error) {
	start := time.Now()
	now := start

	base := opts.BaseThreshold
	if base <= 0 {
		base = e.config.BaseThreshold
	}
	if base > 1.0 {
		return nil, fmt.Errorf("base threshold must be between 0.0 and 1.0 (got %.2f)", base)
	}

	report := &RunReport{DryRun: opts.DryRun}

	groups := e.group(narratives, opts.NucleusFilter, report)
	report.GroupsScanned = len(groups)

	keys := make([]string, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	// Scoring phase: pure read over the snapshot, parallel across
	// groups.
	pairsByGroup := make([][]candidatePair, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.MaxGroupConcurrency)
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			pairsByGroup[i] = e.scoreGroup(groups[key], base, now)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, fmt.Errorf("scoring aborted: %w", err)
	}

	// Merge phase: serialized within each group; a pass may be
	// cancelled at group boundaries without corrupting state because
	// each individual merge is atomic.
	for i, key := range keys {
		if err := ctx.Err(); err != nil {
			report.Duration = time.Since(start)
			return report, fmt.Errorf("consolidation aborted before group %q: %w", key, err)
		}
		pairs := pairsByGroup[i]
		if len(pairs) == 0 {
			continue
		}
		report.GroupsWithDuplicates++
		report.PairsFound += len(pairs)
		e.mergeGroup(ctx, groups[key], pairs, opts.DryRun, now, report)
	}

	report.Duration = time.Since(start)
	return report, nil
}

// group partitions the snapshot by normalized nucleus entity.
// Narratives with invalid fingerprints are rejected from comparison
// but never abort the pass.
func (e *Engine) group(narratives []*types.Narrative, nucleusFilter string, report *RunReport) map[string][]*types.Narrative {
	filter := types.NormalizeEntity(nucleusFilter)

	groups := make(map[string][]*types.Narrative)
	for _, n := range narratives {
		if err := n.Fingerprint.Validate(); err != nil {
			report.SkippedInvalid++
			log.Printf("[DEDUP] skipping narrative %s: %v", n.ID, err)
			continue
		}
		key := n.NucleusKey()
		if filter != "" && key != filter {
			continue
		}
		groups[key] = append(groups[key], n)
	}
	return groups
}

// scoreGroup computes similarity for every unordered pair in a group
// and keeps pairs at or above the pair's adaptive threshold, sorted by
// similarity descending (ties broken by ID pair for determinism).
func (e *Engine) scoreGroup(group []*types.Narrative, base float64, now time.Time) []candidatePair {
	if len(group) < 2 {
		return nil
	}

	var pairs []candidatePair
	for i := 0; i < len(group); i++ {
		for j := i + 1; j < len(group); j++ {
			a, b := group[i], group[j]
			score := e.scorer.Score(a.Fingerprint, b.Fingerprint)
			working := e.policy.PairThreshold(a, b, base, now)
			if score < working {
				continue
			}
			if e.config.Verbose {
				log.Printf("[DEDUP] candidate %s vs %s: similarity %.3f (threshold %.2f)",
					a.ID, b.ID, score, working)
			}
			pairs = append(pairs, candidatePair{aID: a.ID, bID: b.ID, similarity: score})
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].similarity != pairs[j].similarity {
			return pairs[i].similarity > pairs[j].similarity
		}
		if pairs[i].aID != pairs[j].aID {
			return pairs[i].aID < pairs[j].aID
		}
		return pairs[i].bID < pairs[j].bID
	})
	return pairs
}

// mergeGroup applies the group's candidate pairs greedily, highest
// similarity first, folding outcomes into the report.
func (e *Engine) mergeGroup(ctx context.Context, group []*types.Narrative, pairs []candidatePair, dryRun bool, now time.Time, report *RunReport) {
	byID := make(map[string]*types.Narrative, len(group))
	for _, n := range group {
		byID[n.ID] = n
	}

	consumed := make(map[string]bool)
	for _, pair := range pairs {
		// A member consumed earlier in this pass is a silent skip,
		// not an error.
		if consumed[pair.aID] || consumed[pair.bID] {
			continue
		}

		a, b := byID[pair.aID], byID[pair.bID]
		primary, duplicate := SelectPrimary(a, b)
		merged := e.buildMerged(ctx, primary, duplicate, dryRun, now)
		absorbed := len(merged.ArticleIDs) - primary.ArticleCount

		detail := MergeDetail{
			PrimaryID:         primary.ID,
			PrimaryTitle:      primary.Title,
			DuplicateID:       duplicate.ID,
			DuplicateTitle:    duplicate.Title,
			PrimaryArticles:   primary.ArticleCount,
			DuplicateArticles: duplicate.ArticleCount,
			Similarity:        pair.similarity,
		}

		if dryRun {
			consumed[duplicate.ID] = true
			byID[primary.ID] = merged
			delete(byID, duplicate.ID)
			report.MergesPerformed++
			report.ArticlesConsolidated += absorbed
			report.Merges = append(report.Merges, detail)
			continue
		}

		if err := e.limiter.Wait(ctx); err != nil {
			report.Failures = append(report.Failures, MergeFailure{
				PrimaryTitle:   primary.Title,
				DuplicateTitle: duplicate.Title,
				Reason:         fmt.Sprintf("write throttle interrupted: %v", err),
			})
			continue
		}

		modified, err := e.narratives.UpdatePrimary(ctx, merged.ID, merged)
		if err != nil {
			report.Failures = append(report.Failures, MergeFailure{
				PrimaryTitle:   primary.Title,
				DuplicateTitle: duplicate.Title,
				Reason:         fmt.Sprintf("primary update failed: %v", err),
			})
			continue
		}
		if !modified {
			// No real modification reported: the duplicate must not
			// be deleted.
			report.Failures = append(report.Failures, MergeFailure{
				PrimaryTitle:   primary.Title,
				DuplicateTitle: duplicate.Title,
				Reason:         "primary update reported no modification",
			})
			continue
		}

		// The merge is committed: the duplicate's content is in the
		// primary. Everything after this point is cleanup.
		consumed[duplicate.ID] = true
		byID[primary.ID] = merged
		delete(byID, duplicate.ID)
		report.MergesPerformed++
		report.ArticlesConsolidated += absorbed
		report.Merges = append(report.Merges, detail)

		deleted, err := e.narratives.Delete(ctx, duplicate.ID)
		switch {
		case err != nil:
			report.Failures = append(report.Failures, MergeFailure{
				PrimaryTitle:   primary.Title,
				DuplicateTitle: duplicate.Title,
				Reason:         fmt.Sprintf("duplicate deletion failed, stale orphan needs manual cleanup: %v", err),
			})
		case !deleted:
			report.Failures = append(report.Failures, MergeFailure{
				PrimaryTitle:   primary.Title,
				DuplicateTitle: duplicate.Title,
				Reason:         "duplicate deletion removed no row",
			})
		default:
			report.Deletions++
		}

		log.Printf("[DEDUP] merged %s into %s (similarity %.3f, %d article(s) absorbed)",
			duplicate.ID, primary.ID, pair.similarity, absorbed)
	}
}

// buildMerged produces the updated primary: article union, averaged
// salience, audit fields, and recomputed lifecycle state. The inputs
// are never mutated.
func (e *Engine) buildMerged(ctx context.Context, primary, duplicate *types.Narrative, dryRun bool, now time.Time) *types.Narrative {
	merged := *primary
	merged.ArticleIDs = MergeArticleIDs(primary.ArticleIDs, duplicate.ArticleIDs)
	merged.ArticleCount = len(merged.ArticleIDs)
	merged.EntitySalience = MergeEntitySalience(primary.EntitySalience, duplicate.EntitySalience)
	merged.LifecycleHistory = append([]types.LifecycleTransition(nil), primary.LifecycleHistory...)
	if duplicate.LastUpdated.After(merged.LastUpdated) {
		merged.LastUpdated = duplicate.LastUpdated
	}
	if duplicate.CreatedAt.Before(merged.CreatedAt) {
		merged.CreatedAt = duplicate.CreatedAt
	}
	merged.MergedFrom = duplicate.ID
	merged.MergedAt = &now

	// Lifecycle recompute needs article timestamps; a dry run performs
	// zero store reads beyond the snapshot, so it keeps the current
	// state (selection is unaffected either way).
	if dryRun {
		return &merged
	}

	timestamps, err := e.articles.GetPublishedTimestamps(ctx, merged.ArticleIDs)
	if err == nil && len(timestamps) == 0 {
		err = fmt.Errorf("no timestamps resolved for %d article(s)", len(merged.ArticleIDs))
	}
	if err != nil {
		// Degrade: keep the primary's current lifecycle state rather
		// than failing the merge.
		log.Printf("[DEDUP] article lookup failed for %s, keeping lifecycle state %s: %v",
			merged.ID, merged.LifecycleState, err)
		return &merged
	}

	earliest, latest := timestamps[0], timestamps[0]
	for _, ts := range timestamps[1:] {
		if ts.Before(earliest) {
			earliest = ts
		}
		if ts.After(latest) {
			latest = ts
		}
	}
	velocity := lifecycle.Velocity(merged.ArticleCount, earliest, latest)
	state := e.classifier.Classify(merged.ArticleCount, velocity, merged.LastUpdated, primary.LifecycleState, now)
	e.classifier.Apply(&merged, state, now)

	return &merged
}
