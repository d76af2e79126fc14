package sqlite

// schema defines the database layout.
//
// The narratives table carries three fingerprint columns because the
// extractor historically wrote under inconsistent names: the canonical
// fingerprint column, the legacy narrative_fingerprint column, and the
// oldest rows which only have a theme string. Normalization to one
// canonical Fingerprint value happens in this package when rows are
// read; nothing above the storage boundary ever sees the variants.
const schema = `
CREATE TABLE IF NOT EXISTS narratives (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	fingerprint TEXT,
	narrative_fingerprint TEXT,
	theme TEXT,
	article_ids TEXT NOT NULL DEFAULT '[]',
	entity_salience TEXT NOT NULL DEFAULT '{}',
	lifecycle_state TEXT NOT NULL DEFAULT 'emerging',
	article_count INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	last_updated DATETIME NOT NULL,
	reawakening_count INTEGER NOT NULL DEFAULT 0,
	lifecycle_history TEXT NOT NULL DEFAULT '[]',
	merged_from TEXT,
	merged_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_narratives_lifecycle_state ON narratives(lifecycle_state);
CREATE INDEX IF NOT EXISTS idx_narratives_last_updated ON narratives(last_updated);

CREATE TABLE IF NOT EXISTS articles (
	id TEXT PRIMARY KEY,
	title TEXT,
	published_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_articles_published_at ON articles(published_at);
`
