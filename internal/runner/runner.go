// Package runner is the scheduled consolidation entrypoint: a thin,
// parameterless driver that runs the deduplication engine over the
// full narrative set at a strict threshold and returns the report for
// an external observability sink.
package runner

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/storylab/nd/internal/dedup"
	"github.com/storylab/nd/internal/storage"
)

// ScheduledThreshold is the strict, low-risk similarity threshold used
// by scheduled runs. Interactive runs pick their own.
const ScheduledThreshold = 0.9

// Runner executes scheduled consolidation passes. It holds a file
// lease for the duration of each run so overlapping invocations
// (cron double-fires, a manual run racing the schedule) cannot
// double-select the same duplicate; the engine itself is lock-free
// per its contract.
type Runner struct {
	engine    *dedup.Engine
	store     storage.NarrativeStore
	lockPath  string
	threshold float64
}

// New creates a scheduled runner. lockDir is where the run lease file
// lives, typically the same directory as the database. threshold <= 0
// selects ScheduledThreshold.
func New(engine *dedup.Engine, store storage.NarrativeStore, lockDir string, threshold float64) (*Runner, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if lockDir == "" {
		return nil, fmt.Errorf("lock directory cannot be empty")
	}
	if threshold > 1.0 {
		return nil, fmt.Errorf("threshold must be between 0.0 and 1.0 (got %.2f)", threshold)
	}
	if threshold <= 0 {
		threshold = ScheduledThreshold
	}
	return &Runner{
		engine:    engine,
		store:     store,
		lockPath:  filepath.Join(lockDir, "consolidate.lock"),
		threshold: threshold,
	}, nil
}

// Run executes one consolidation pass at the runner's threshold.
//
// Idempotent: invoked twice with no intervening article activity, the
// second call produces a report with zero merges. Returns an error
// without running if another pass currently holds the lease.
func (r *Runner) Run(ctx context.Context) (*dedup.RunReport, error) {
	lock := flock.New(r.lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire run lease: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("another consolidation run is already active (lease %s held)", r.lockPath)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			log.Printf("[RUN] failed to release lease %s: %v", r.lockPath, err)
		}
	}()

	narratives, err := r.store.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load narratives: %w", err)
	}

	log.Printf("[RUN] scheduled consolidation over %d narrative(s) at threshold %.2f",
		len(narratives), r.threshold)

	report, err := r.engine.Consolidate(ctx, narratives, dedup.Options{
		BaseThreshold: r.threshold,
	})
	if err != nil {
		return report, fmt.Errorf("consolidation pass: %w", err)
	}
	return report, nil
}
