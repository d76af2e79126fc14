package storage

import (
	"context"
	"time"

	"github.com/storylab/nd/internal/storage/sqlite"
	"github.com/storylab/nd/internal/types"
)

// NarrativeStore defines the narrative persistence collaborator the
// consolidation engine works against. The engine reads full snapshots
// and issues replace/delete commands; it never owns record lifetime.
type NarrativeStore interface {
	// GetAll returns a snapshot of every narrative. Rows stored under
	// legacy field shapes are normalized to canonical fingerprints
	// before they leave the store.
	GetAll(ctx context.Context) ([]*types.Narrative, error)

	// Get returns a single narrative by ID.
	Get(ctx context.Context, id string) (*types.Narrative, error)

	// Create inserts a new narrative (ingest and fixtures). A blank
	// ID is assigned a fresh UUID before the insert.
	Create(ctx context.Context, n *types.Narrative) error

	// UpdatePrimary replaces a merge survivor's fields. The modified
	// return is the atomicity signal: callers must not delete the
	// duplicate unless modified is true.
	UpdatePrimary(ctx context.Context, id string, update *types.Narrative) (modified bool, err error)

	// Delete removes a consumed duplicate.
	Delete(ctx context.Context, id string) (deleted bool, err error)

	// Count returns the number of narratives.
	Count(ctx context.Context) (int, error)
}

// ArticleStore resolves article publication timestamps, used only to
// recompute a merged narrative's time span and mention velocity.
type ArticleStore interface {
	// GetPublishedTimestamps returns the publication timestamps it can
	// resolve, skipping unknown IDs. Implementations may return an
	// empty result with a nil error; callers must treat that the same
	// as a lookup failure.
	GetPublishedTimestamps(ctx context.Context, articleIDs []string) ([]time.Time, error)

	// PutArticle inserts an article record (ingest and fixtures).
	PutArticle(ctx context.Context, a *types.Article) error
}

// Store bundles both collaborator interfaces over one backend.
type Store interface {
	NarrativeStore
	ArticleStore
	Close() error
}

// Config holds database configuration
type Config struct {
	// Path is the SQLite database file path.
	// Default: ".nd/narratives.db"
	Path string
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Path: ".nd/narratives.db",
	}
}

// NewStore creates a new SQLite-backed store.
func NewStore(ctx context.Context, cfg *Config) (Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Path == "" {
		cfg.Path = ".nd/narratives.db"
	}
	return sqlite.New(cfg.Path)
}
