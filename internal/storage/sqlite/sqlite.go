package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/storylab/nd/internal/types"
)

// SQLiteStore implements the storage interfaces using SQLite
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite storage backend
func New(path string) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// Open database with WAL mode for better concurrency
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const narrativeColumns = `id, title, fingerprint, narrative_fingerprint, theme,
	article_ids, entity_salience, lifecycle_state, article_count,
	created_at, last_updated, reawakening_count, lifecycle_history,
	merged_from, merged_at`

// GetAll returns a snapshot of every narrative with canonical fingerprints.
func (s *SQLiteStore) GetAll(ctx context.Context) ([]*types.Narrative, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+narrativeColumns+` FROM narratives ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query narratives: %w", err)
	}
	defer rows.Close()

	var narratives []*types.Narrative
	for rows.Next() {
		n, err := scanNarrative(rows)
		if err != nil {
			return nil, err
		}
		narratives = append(narratives, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate narratives: %w", err)
	}
	return narratives, nil
}

// Get returns a single narrative by ID
func (s *SQLiteStore) Get(ctx context.Context, id string) (*types.Narrative, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+narrativeColumns+` FROM narratives WHERE id = ?`, id)
	n, err := scanNarrative(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("narrative not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}

// Create inserts a new narrative under the canonical fingerprint column
func (s *SQLiteStore) Create(ctx context.Context, n *types.Narrative) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if err := n.Validate(); err != nil {
		return fmt.Errorf("invalid narrative: %w", err)
	}

	fingerprintJSON, err := json.Marshal(n.Fingerprint)
	if err != nil {
		return fmt.Errorf("failed to marshal fingerprint: %w", err)
	}
	articleIDsJSON, err := json.Marshal(n.ArticleIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal article_ids: %w", err)
	}
	salienceJSON, err := json.Marshal(nonNilSalience(n.EntitySalience))
	if err != nil {
		return fmt.Errorf("failed to marshal entity_salience: %w", err)
	}
	historyJSON, err := json.Marshal(nonNilHistory(n.LifecycleHistory))
	if err != nil {
		return fmt.Errorf("failed to marshal lifecycle_history: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO narratives (
			id, title, fingerprint, article_ids, entity_salience,
			lifecycle_state, article_count, created_at, last_updated,
			reawakening_count, lifecycle_history, merged_from, merged_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.Title, string(fingerprintJSON), string(articleIDsJSON), string(salienceJSON),
		string(n.LifecycleState), n.ArticleCount, n.CreatedAt, n.LastUpdated,
		n.ReawakeningCount, string(historyJSON), nullString(n.MergedFrom), nullTime(n.MergedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert narrative %s: %w", n.ID, err)
	}
	return nil
}

// UpdatePrimary replaces a merge survivor's fields. Returns whether a
// row was actually modified; callers treat false as a failed merge and
// keep the duplicate.
func (s *SQLiteStore) UpdatePrimary(ctx context.Context, id string, update *types.Narrative) (bool, error) {
	if err := update.Validate(); err != nil {
		return false, fmt.Errorf("invalid update for %s: %w", id, err)
	}

	fingerprintJSON, err := json.Marshal(update.Fingerprint)
	if err != nil {
		return false, fmt.Errorf("failed to marshal fingerprint: %w", err)
	}
	articleIDsJSON, err := json.Marshal(update.ArticleIDs)
	if err != nil {
		return false, fmt.Errorf("failed to marshal article_ids: %w", err)
	}
	salienceJSON, err := json.Marshal(nonNilSalience(update.EntitySalience))
	if err != nil {
		return false, fmt.Errorf("failed to marshal entity_salience: %w", err)
	}
	historyJSON, err := json.Marshal(nonNilHistory(update.LifecycleHistory))
	if err != nil {
		return false, fmt.Errorf("failed to marshal lifecycle_history: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE narratives SET
			title = ?, fingerprint = ?, article_ids = ?, entity_salience = ?,
			lifecycle_state = ?, article_count = ?, created_at = ?, last_updated = ?,
			reawakening_count = ?, lifecycle_history = ?, merged_from = ?, merged_at = ?
		WHERE id = ?`,
		update.Title, string(fingerprintJSON), string(articleIDsJSON), string(salienceJSON),
		string(update.LifecycleState), update.ArticleCount, update.CreatedAt, update.LastUpdated,
		update.ReawakeningCount, string(historyJSON), nullString(update.MergedFrom), nullTime(update.MergedAt),
		id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update narrative %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected for %s: %w", id, err)
	}
	return affected > 0, nil
}

// Delete removes a narrative. Returns whether a row was deleted.
func (s *SQLiteStore) Delete(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM narratives WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete narrative %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected for %s: %w", id, err)
	}
	return affected > 0, nil
}

// Count returns the number of narratives
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM narratives`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count narratives: %w", err)
	}
	return count, nil
}

// PutArticle inserts or replaces an article record
func (s *SQLiteStore) PutArticle(ctx context.Context, a *types.Article) error {
	if a.ID == "" {
		return fmt.Errorf("article id is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO articles (id, title, published_at) VALUES (?, ?, ?)`,
		a.ID, a.Title, a.PublishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert article %s: %w", a.ID, err)
	}
	return nil
}

// GetPublishedTimestamps resolves publication times for the given
// article IDs. IDs with no article row are skipped; resolving none of
// them is an error so callers can degrade explicitly.
func (s *SQLiteStore) GetPublishedTimestamps(ctx context.Context, articleIDs []string) ([]time.Time, error) {
	if len(articleIDs) == 0 {
		return nil, fmt.Errorf("no article IDs given")
	}

	placeholders := strings.Repeat("?,", len(articleIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, len(articleIDs))
	for i, id := range articleIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT published_at FROM articles WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query article timestamps: %w", err)
	}
	defer rows.Close()

	var timestamps []time.Time
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return nil, fmt.Errorf("failed to scan article timestamp: %w", err)
		}
		timestamps = append(timestamps, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate article timestamps: %w", err)
	}
	if len(timestamps) == 0 {
		return nil, fmt.Errorf("no articles found for %d IDs", len(articleIDs))
	}
	return timestamps, nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanNarrative
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanNarrative(row scanner) (*types.Narrative, error) {
	var (
		n                 types.Narrative
		fingerprintJSON   sql.NullString
		legacyJSON        sql.NullString
		theme             sql.NullString
		articleIDsJSON    string
		salienceJSON      string
		lifecycleState    string
		historyJSON       string
		mergedFrom        sql.NullString
		mergedAt          sql.NullTime
	)

	err := row.Scan(
		&n.ID, &n.Title, &fingerprintJSON, &legacyJSON, &theme,
		&articleIDsJSON, &salienceJSON, &lifecycleState, &n.ArticleCount,
		&n.CreatedAt, &n.LastUpdated, &n.ReawakeningCount, &historyJSON,
		&mergedFrom, &mergedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan narrative: %w", err)
	}

	if err := json.Unmarshal([]byte(articleIDsJSON), &n.ArticleIDs); err != nil {
		return nil, fmt.Errorf("failed to parse article_ids for %s: %w", n.ID, err)
	}
	if err := json.Unmarshal([]byte(salienceJSON), &n.EntitySalience); err != nil {
		return nil, fmt.Errorf("failed to parse entity_salience for %s: %w", n.ID, err)
	}
	if err := json.Unmarshal([]byte(historyJSON), &n.LifecycleHistory); err != nil {
		return nil, fmt.Errorf("failed to parse lifecycle_history for %s: %w", n.ID, err)
	}

	n.LifecycleState = types.LifecycleState(lifecycleState)
	if mergedFrom.Valid {
		n.MergedFrom = mergedFrom.String
	}
	if mergedAt.Valid {
		t := mergedAt.Time
		n.MergedAt = &t
	}

	fp, err := resolveFingerprint(n.ID, fingerprintJSON, legacyJSON, theme, n.EntitySalience)
	if err != nil {
		return nil, err
	}
	n.Fingerprint = fp

	return &n, nil
}

// resolveFingerprint normalizes the three storage-shape variants into
// one canonical Fingerprint: the canonical column wins, then the
// legacy narrative_fingerprint column, then a reconstruction from the
// legacy theme string plus salience keys. This is the only place in
// the system that knows the variants exist.
func resolveFingerprint(id string, canonical, legacy, theme sql.NullString, salience map[string]float64) (types.Fingerprint, error) {
	for _, column := range []sql.NullString{canonical, legacy} {
		if !column.Valid || column.String == "" {
			continue
		}
		var fp types.Fingerprint
		if err := json.Unmarshal([]byte(column.String), &fp); err != nil {
			return types.Fingerprint{}, fmt.Errorf("failed to parse fingerprint for %s: %w", id, err)
		}
		return types.NewFingerprint(fp.NucleusEntity, fp.TopActors, fp.KeyActions), nil
	}

	if theme.Valid && strings.TrimSpace(theme.String) != "" {
		return reconstructFromTheme(theme.String, salience), nil
	}

	return types.Fingerprint{}, nil
}

// reconstructFromTheme builds a fingerprint for the oldest rows, which
// only carried a theme string: the theme becomes the nucleus, and the
// salience keys (salience-descending) become the actor set.
func reconstructFromTheme(theme string, salience map[string]float64) types.Fingerprint {
	type scored struct {
		entity string
		score  float64
	}
	entities := make([]scored, 0, len(salience))
	for entity, score := range salience {
		entities = append(entities, scored{entity, score})
	}
	sort.Slice(entities, func(i, j int) bool {
		if entities[i].score != entities[j].score {
			return entities[i].score > entities[j].score
		}
		return entities[i].entity < entities[j].entity
	})

	actors := []string{theme}
	for _, e := range entities {
		actors = append(actors, e.entity)
	}
	return types.NewFingerprint(theme, actors, nil)
}

func nonNilSalience(m map[string]float64) map[string]float64 {
	if m == nil {
		return map[string]float64{}
	}
	return m
}

func nonNilHistory(h []types.LifecycleTransition) []types.LifecycleTransition {
	if h == nil {
		return []types.LifecycleTransition{}
	}
	return h
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
