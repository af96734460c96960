package sqlite

// Schema is the embedded DDL for the SQLite graph store. Executed on every
// open; all statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS memorygrams (
    id                     TEXT PRIMARY KEY,
    content                TEXT NOT NULL,
    type                   TEXT NOT NULL,
    subtype                TEXT NOT NULL DEFAULT '',
    source                 TEXT NOT NULL DEFAULT '',
    topical_embedding      TEXT NOT NULL DEFAULT '[]',
    content_embedding      TEXT NOT NULL DEFAULT '[]',
    context_embedding      TEXT NOT NULL DEFAULT '[]',
    metadata_embedding     TEXT NOT NULL DEFAULT '[]',
    timestamp              INTEGER NOT NULL DEFAULT 0,
    previous_memorygram_id TEXT NOT NULL DEFAULT '',
    next_memorygram_id     TEXT NOT NULL DEFAULT '',
    sequence               INTEGER NOT NULL DEFAULT 0,
    created_at             TEXT NOT NULL,
    updated_at             TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memorygrams_subtype   ON memorygrams(subtype);
CREATE INDEX IF NOT EXISTS idx_memorygrams_timestamp ON memorygrams(timestamp);

CREATE TABLE IF NOT EXISTS relationships (
    id                 TEXT PRIMARY KEY,
    from_memorygram_id TEXT NOT NULL REFERENCES memorygrams(id),
    to_memorygram_id   TEXT NOT NULL REFERENCES memorygrams(id),
    relationship_type  TEXT NOT NULL,
    weight             REAL NOT NULL DEFAULT 0,
    properties         TEXT NOT NULL DEFAULT '',
    is_active          INTEGER NOT NULL DEFAULT 1,
    created_at         TEXT NOT NULL,
    updated_at         TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_relationships_from ON relationships(from_memorygram_id);
CREATE INDEX IF NOT EXISTS idx_relationships_to   ON relationships(to_memorygram_id);
CREATE INDEX IF NOT EXISTS idx_relationships_type ON relationships(relationship_type);
`
