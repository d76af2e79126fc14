package dedup

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/storylab/nd/internal/lifecycle"
	"github.com/storylab/nd/internal/similarity"
	"github.com/storylab/nd/internal/threshold"
	"github.com/storylab/nd/internal/types"
)

// memStore is an in-memory NarrativeStore/ArticleStore with failure
// injection for exercising the engine's atomicity contract.
type memStore struct {
	mu         sync.Mutex
	narratives map[string]*types.Narrative
	articles   map[string]time.Time

	failUpdate  map[string]bool // UpdatePrimary returns an error
	noModify    map[string]bool // UpdatePrimary reports modified=false
	failDelete  map[string]bool // Delete returns an error
	failLookup  bool            // GetPublishedTimestamps fails
	emptyLookup bool            // GetPublishedTimestamps returns no rows, no error
	updateCalls int
	deleteCalls int
}

func newMemStore() *memStore {
	return &memStore{
		narratives: make(map[string]*types.Narrative),
		articles:   make(map[string]time.Time),
		failUpdate: make(map[string]bool),
		noModify:   make(map[string]bool),
		failDelete: make(map[string]bool),
	}
}

func (s *memStore) add(n *types.Narrative) {
	s.narratives[n.ID] = n
	for _, id := range n.ArticleIDs {
		if _, ok := s.articles[id]; !ok {
			s.articles[id] = n.LastUpdated
		}
	}
}

func (s *memStore) GetAll(ctx context.Context) ([]*types.Narrative, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.Narrative, 0, len(s.narratives))
	for _, n := range s.narratives {
		copied := *n
		out = append(out, &copied)
	}
	return out, nil
}

func (s *memStore) Get(ctx context.Context, id string) (*types.Narrative, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.narratives[id]
	if !ok {
		return nil, fmt.Errorf("narrative not found: %s", id)
	}
	copied := *n
	return &copied, nil
}

func (s *memStore) Create(ctx context.Context, n *types.Narrative) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.add(n)
	return nil
}

func (s *memStore) UpdatePrimary(ctx context.Context, id string, update *types.Narrative) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateCalls++
	if s.failUpdate[id] {
		return false, fmt.Errorf("injected update failure for %s", id)
	}
	if s.noModify[id] {
		return false, nil
	}
	if _, ok := s.narratives[id]; !ok {
		return false, nil
	}
	copied := *update
	s.narratives[id] = &copied
	return true, nil
}

func (s *memStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteCalls++
	if s.failDelete[id] {
		return false, fmt.Errorf("injected delete failure for %s", id)
	}
	if _, ok := s.narratives[id]; !ok {
		return false, nil
	}
	delete(s.narratives, id)
	return true, nil
}

func (s *memStore) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.narratives), nil
}

func (s *memStore) PutArticle(ctx context.Context, a *types.Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.articles[a.ID] = a.PublishedAt
	return nil
}

func (s *memStore) GetPublishedTimestamps(ctx context.Context, articleIDs []string) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failLookup {
		return nil, fmt.Errorf("injected lookup failure")
	}
	if s.emptyLookup {
		return nil, nil
	}
	var out []time.Time
	for _, id := range articleIDs {
		if ts, ok := s.articles[id]; ok {
			out = append(out, ts)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no articles found")
	}
	return out, nil
}

func newTestEngine(t *testing.T, store *memStore) *Engine {
	t.Helper()
	engine, err := NewEngine(
		similarity.NewDefaultScorer(),
		threshold.DefaultPolicy(),
		lifecycle.NewDefaultClassifier(),
		store,
		store,
		DefaultConfig(),
	)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return engine
}

func articleIDs(prefix string, n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s-%d", prefix, i)
	}
	return ids
}

func narrative(id, nucleus string, actors []string, articles []string, lastUpdated, createdAt time.Time) *types.Narrative {
	return &types.Narrative{
		ID:             id,
		Title:          id + " " + nucleus,
		Fingerprint:    types.NewFingerprint(nucleus, actors, nil),
		ArticleIDs:     articles,
		ArticleCount:   len(articles),
		LifecycleState: types.StateEmerging,
		CreatedAt:      createdAt,
		LastUpdated:    lastUpdated,
	}
}

// bitcoinFixture builds the three-narrative scenario: N1 and N2 are
// near-duplicates updated recently, N3 shares the nucleus but little
// else and is stale.
func bitcoinFixture(now time.Time) (*types.Narrative, *types.Narrative, *types.Narrative) {
	n1 := narrative("narr-1", "Bitcoin",
		[]string{"Bitcoin", "SEC", "Coinbase", "BlackRock", "Binance"},
		articleIDs("n1", 5),
		now.Add(-1*time.Hour), now.Add(-5*24*time.Hour))
	n2 := narrative("narr-2", "Bitcoin",
		[]string{"Bitcoin", "SEC", "Coinbase", "BlackRock"},
		articleIDs("n2", 2),
		now.Add(-2*time.Hour), now.Add(-2*24*time.Hour))
	n3 := narrative("narr-3", "Bitcoin",
		[]string{"Bitcoin", "Elon Musk", "Tesla", "Dogecoin", "Microstrategy"},
		articleIDs("n3", 1),
		now.Add(-3*24*time.Hour), now.Add(-10*24*time.Hour))
	return n1, n2, n3
}

func TestConsolidateMergesNearDuplicates(t *testing.T) {
	now := time.Now()
	store := newMemStore()
	n1, n2, n3 := bitcoinFixture(now)
	store.add(n1)
	store.add(n2)
	store.add(n3)

	engine := newTestEngine(t, store)
	snapshot, _ := store.GetAll(context.Background())

	report, err := engine.Consolidate(context.Background(), snapshot, Options{BaseThreshold: 0.6})
	if err != nil {
		t.Fatalf("Consolidate failed: %v", err)
	}

	if report.MergesPerformed != 1 {
		t.Fatalf("MergesPerformed = %d, want 1\n%s", report.MergesPerformed, report.Summary())
	}
	if report.Deletions != 1 {
		t.Errorf("Deletions = %d, want 1", report.Deletions)
	}

	// N1 survives (more articles) with N2's articles absorbed; N3 is
	// untouched (stale, so its effective threshold stays at 0.6 and
	// its overlap with N1 is far below that).
	count, _ := store.Count(context.Background())
	if count != 2 {
		t.Errorf("narrative count after pass = %d, want 2", count)
	}

	merged, err := store.Get(context.Background(), "narr-1")
	if err != nil {
		t.Fatalf("primary missing after merge: %v", err)
	}
	if merged.ArticleCount != 7 {
		t.Errorf("merged primary has %d articles, want 7", merged.ArticleCount)
	}
	if merged.MergedFrom != "narr-2" {
		t.Errorf("MergedFrom = %q, want narr-2", merged.MergedFrom)
	}
	if merged.MergedAt == nil {
		t.Error("MergedAt not set")
	}

	if _, err := store.Get(context.Background(), "narr-3"); err != nil {
		t.Errorf("unrelated narrative was removed: %v", err)
	}
}

func TestConsolidateIsIdempotent(t *testing.T) {
	now := time.Now()
	store := newMemStore()
	n1, n2, n3 := bitcoinFixture(now)
	store.add(n1)
	store.add(n2)
	store.add(n3)

	engine := newTestEngine(t, store)

	snapshot, _ := store.GetAll(context.Background())
	first, err := engine.Consolidate(context.Background(), snapshot, Options{BaseThreshold: 0.6})
	if err != nil {
		t.Fatalf("first pass failed: %v", err)
	}
	if first.MergesPerformed != 1 {
		t.Fatalf("first pass merges = %d, want 1", first.MergesPerformed)
	}

	// No new data between runs: second pass must be a no-op.
	snapshot, _ = store.GetAll(context.Background())
	second, err := engine.Consolidate(context.Background(), snapshot, Options{BaseThreshold: 0.6})
	if err != nil {
		t.Fatalf("second pass failed: %v", err)
	}
	if second.MergesPerformed != 0 {
		t.Errorf("second pass merges = %d, want 0\n%s", second.MergesPerformed, second.Summary())
	}
	if len(second.Failures) != 0 {
		t.Errorf("second pass failures = %d, want 0", len(second.Failures))
	}
}

func TestDryRunReportsWithoutWriting(t *testing.T) {
	now := time.Now()
	store := newMemStore()
	n1, n2, n3 := bitcoinFixture(now)
	store.add(n1)
	store.add(n2)
	store.add(n3)

	engine := newTestEngine(t, store)
	snapshot, _ := store.GetAll(context.Background())

	report, err := engine.Consolidate(context.Background(), snapshot, Options{BaseThreshold: 0.6, DryRun: true})
	if err != nil {
		t.Fatalf("dry run failed: %v", err)
	}

	if report.MergesPerformed != 1 {
		t.Errorf("dry run would-merge count = %d, want 1", report.MergesPerformed)
	}
	if report.Deletions != 0 {
		t.Errorf("dry run deletions = %d, want 0", report.Deletions)
	}
	if store.updateCalls != 0 || store.deleteCalls != 0 {
		t.Errorf("dry run wrote to the store: %d updates, %d deletes", store.updateCalls, store.deleteCalls)
	}

	// Re-fetch: both narratives unchanged.
	count, _ := store.Count(context.Background())
	if count != 3 {
		t.Errorf("narrative count after dry run = %d, want 3", count)
	}
	got, _ := store.Get(context.Background(), "narr-1")
	if got.ArticleCount != 5 || got.MergedFrom != "" {
		t.Errorf("narrative mutated by dry run: %+v", got)
	}
}

func TestUpdateNotModifiedSkipsDelete(t *testing.T) {
	now := time.Now()
	store := newMemStore()
	n1, n2, _ := bitcoinFixture(now)
	store.add(n1)
	store.add(n2)
	store.noModify["narr-1"] = true

	engine := newTestEngine(t, store)
	snapshot, _ := store.GetAll(context.Background())

	report, err := engine.Consolidate(context.Background(), snapshot, Options{BaseThreshold: 0.6})
	if err != nil {
		t.Fatalf("Consolidate failed: %v", err)
	}

	if report.MergesPerformed != 0 {
		t.Errorf("MergesPerformed = %d, want 0", report.MergesPerformed)
	}
	if len(report.Failures) != 1 {
		t.Fatalf("Failures = %d, want 1", len(report.Failures))
	}
	if store.deleteCalls != 0 {
		t.Errorf("Delete was invoked %d time(s) despite unmodified primary", store.deleteCalls)
	}
	if _, err := store.Get(context.Background(), "narr-2"); err != nil {
		t.Errorf("duplicate was removed despite failed update: %v", err)
	}
}

func TestDeleteFailureRecordedButMergeCommitted(t *testing.T) {
	now := time.Now()
	store := newMemStore()
	n1, n2, _ := bitcoinFixture(now)
	store.add(n1)
	store.add(n2)
	store.failDelete["narr-2"] = true

	engine := newTestEngine(t, store)
	snapshot, _ := store.GetAll(context.Background())

	report, err := engine.Consolidate(context.Background(), snapshot, Options{BaseThreshold: 0.6})
	if err != nil {
		t.Fatalf("Consolidate failed: %v", err)
	}

	// The primary update applied, so the merge counts; the orphaned
	// duplicate is a recorded failure for manual follow-up.
	if report.MergesPerformed != 1 {
		t.Errorf("MergesPerformed = %d, want 1", report.MergesPerformed)
	}
	if report.Deletions != 0 {
		t.Errorf("Deletions = %d, want 0", report.Deletions)
	}
	if len(report.Failures) != 1 {
		t.Fatalf("Failures = %d, want 1", len(report.Failures))
	}

	merged, _ := store.Get(context.Background(), "narr-1")
	if merged.ArticleCount != 7 {
		t.Errorf("primary articles = %d, want 7 (no data lost)", merged.ArticleCount)
	}
}

func TestLookupFailureKeepsLifecycleState(t *testing.T) {
	now := time.Now()
	store := newMemStore()
	n1, n2, _ := bitcoinFixture(now)
	n1.LifecycleState = types.StateHot
	store.add(n1)
	store.add(n2)
	store.failLookup = true

	engine := newTestEngine(t, store)
	snapshot, _ := store.GetAll(context.Background())

	report, err := engine.Consolidate(context.Background(), snapshot, Options{BaseThreshold: 0.6})
	if err != nil {
		t.Fatalf("Consolidate failed: %v", err)
	}
	if report.MergesPerformed != 1 {
		t.Fatalf("merge should not fail on lookup failure: %s", report.Summary())
	}

	merged, _ := store.Get(context.Background(), "narr-1")
	if merged.LifecycleState != types.StateHot {
		t.Errorf("lifecycle state = %s, want hot (unchanged on lookup failure)", merged.LifecycleState)
	}
}

func TestEmptyTimestampLookupKeepsLifecycleState(t *testing.T) {
	now := time.Now()
	store := newMemStore()
	n1, n2, _ := bitcoinFixture(now)
	n1.LifecycleState = types.StateHot
	store.add(n1)
	store.add(n2)
	store.emptyLookup = true

	engine := newTestEngine(t, store)
	snapshot, _ := store.GetAll(context.Background())

	report, err := engine.Consolidate(context.Background(), snapshot, Options{BaseThreshold: 0.6})
	if err != nil {
		t.Fatalf("Consolidate failed: %v", err)
	}
	if report.MergesPerformed != 1 {
		t.Fatalf("merge should tolerate an empty timestamp result: %s", report.Summary())
	}

	merged, _ := store.Get(context.Background(), "narr-1")
	if merged.LifecycleState != types.StateHot {
		t.Errorf("lifecycle state = %s, want hot (unchanged without timestamps)", merged.LifecycleState)
	}
}

func TestInvalidFingerprintSkippedNotFatal(t *testing.T) {
	now := time.Now()
	store := newMemStore()
	n1, n2, _ := bitcoinFixture(now)
	broken := &types.Narrative{
		ID:             "narr-broken",
		Title:          "broken",
		Fingerprint:    types.Fingerprint{NucleusEntity: "Bitcoin", TopActors: []string{"SEC"}},
		ArticleIDs:     []string{"x1"},
		ArticleCount:   1,
		LifecycleState: types.StateEmerging,
		CreatedAt:      now,
		LastUpdated:    now,
	}
	store.add(n1)
	store.add(n2)
	store.add(broken)

	engine := newTestEngine(t, store)
	snapshot, _ := store.GetAll(context.Background())

	report, err := engine.Consolidate(context.Background(), snapshot, Options{BaseThreshold: 0.6})
	if err != nil {
		t.Fatalf("Consolidate failed: %v", err)
	}
	if report.SkippedInvalid != 1 {
		t.Errorf("SkippedInvalid = %d, want 1", report.SkippedInvalid)
	}
	// The valid pair in the same group still merges.
	if report.MergesPerformed != 1 {
		t.Errorf("MergesPerformed = %d, want 1", report.MergesPerformed)
	}
	if _, err := store.Get(context.Background(), "narr-broken"); err != nil {
		t.Errorf("invalid narrative was deleted: %v", err)
	}
}

func TestNucleusFilterRestrictsPass(t *testing.T) {
	now := time.Now()
	store := newMemStore()
	n1, n2, _ := bitcoinFixture(now)
	e1 := narrative("narr-e1", "Ethereum", []string{"Ethereum", "Vitalik Buterin"}, articleIDs("e1", 2), now.Add(-time.Hour), now.Add(-24*time.Hour))
	e2 := narrative("narr-e2", "Ethereum", []string{"Ethereum", "Vitalik Buterin"}, articleIDs("e2", 1), now.Add(-time.Hour), now.Add(-24*time.Hour))
	store.add(n1)
	store.add(n2)
	store.add(e1)
	store.add(e2)

	engine := newTestEngine(t, store)
	snapshot, _ := store.GetAll(context.Background())

	report, err := engine.Consolidate(context.Background(), snapshot, Options{BaseThreshold: 0.6, NucleusFilter: "ethereum"})
	if err != nil {
		t.Fatalf("Consolidate failed: %v", err)
	}

	if report.GroupsScanned != 1 {
		t.Errorf("GroupsScanned = %d, want 1", report.GroupsScanned)
	}
	// Bitcoin pair untouched
	if _, err := store.Get(context.Background(), "narr-2"); err != nil {
		t.Errorf("out-of-filter narrative was merged: %v", err)
	}
	if report.MergesPerformed != 1 {
		t.Errorf("MergesPerformed = %d, want 1 (ethereum pair)", report.MergesPerformed)
	}
}

func TestGreedyMergeConsumesDuplicatesOnce(t *testing.T) {
	now := time.Now()
	store := newMemStore()
	// Three near-identical narratives in one group: greedy selection
	// must not merge the same duplicate twice. All three should
	// collapse into one after the chain of pairwise merges.
	actors := []string{"SEC", "Coinbase", "Binance"}
	a := narrative("narr-a", "SEC", actors, articleIDs("a", 4), now.Add(-time.Hour), now.Add(-72*time.Hour))
	b := narrative("narr-b", "SEC", actors, articleIDs("b", 3), now.Add(-time.Hour), now.Add(-48*time.Hour))
	c := narrative("narr-c", "SEC", actors, articleIDs("c", 2), now.Add(-time.Hour), now.Add(-24*time.Hour))
	store.add(a)
	store.add(b)
	store.add(c)

	engine := newTestEngine(t, store)
	snapshot, _ := store.GetAll(context.Background())

	report, err := engine.Consolidate(context.Background(), snapshot, Options{BaseThreshold: 0.6})
	if err != nil {
		t.Fatalf("Consolidate failed: %v", err)
	}

	// Identical fingerprints: all three pairs score 1.0. Greedy
	// selection merges two pairs (each duplicate consumed once).
	if report.MergesPerformed != 2 {
		t.Errorf("MergesPerformed = %d, want 2\n%s", report.MergesPerformed, report.Summary())
	}
	count, _ := store.Count(context.Background())
	if count != 1 {
		t.Errorf("narrative count = %d, want 1", count)
	}
	survivor, err := store.Get(context.Background(), "narr-a")
	if err != nil {
		t.Fatalf("expected narr-a to survive: %v", err)
	}
	if survivor.ArticleCount != 9 {
		t.Errorf("survivor articles = %d, want 9", survivor.ArticleCount)
	}
}

func TestConsolidateCancellationBetweenGroups(t *testing.T) {
	now := time.Now()
	store := newMemStore()
	n1, n2, _ := bitcoinFixture(now)
	store.add(n1)
	store.add(n2)

	engine := newTestEngine(t, store)
	snapshot, _ := store.GetAll(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := engine.Consolidate(ctx, snapshot, Options{BaseThreshold: 0.6})
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
	if report == nil {
		t.Fatal("report must be returned even when aborted")
	}
	// Nothing was corrupted: both narratives intact.
	count, _ := store.Count(context.Background())
	if count != 2 {
		t.Errorf("narrative count = %d, want 2", count)
	}
}

func TestEngineConstructorValidation(t *testing.T) {
	store := newMemStore()
	scorer := similarity.NewDefaultScorer()
	classifier := lifecycle.NewDefaultClassifier()
	policy := threshold.DefaultPolicy()

	if _, err := NewEngine(nil, policy, classifier, store, store, DefaultConfig()); err == nil {
		t.Error("expected error for nil scorer")
	}
	if _, err := NewEngine(scorer, policy, nil, store, store, DefaultConfig()); err == nil {
		t.Error("expected error for nil classifier")
	}
	if _, err := NewEngine(scorer, policy, classifier, nil, store, DefaultConfig()); err == nil {
		t.Error("expected error for nil narrative store")
	}
	if _, err := NewEngine(scorer, policy, classifier, store, nil, DefaultConfig()); err == nil {
		t.Error("expected error for nil article store")
	}

	bad := DefaultConfig()
	bad.BaseThreshold = 1.5
	if _, err := NewEngine(scorer, policy, classifier, store, store, bad); err == nil {
		t.Error("expected error for invalid config")
	}
}
