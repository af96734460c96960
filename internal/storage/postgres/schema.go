// Package postgres implements the graph store on PostgreSQL with pgvector
// indexes for similarity search.
package postgres

// Schema contains the base DDL for the PostgreSQL graph store. All
// statements are idempotent.
const Schema = `
-- Memorygrams: nodes of the memory graph.
CREATE TABLE IF NOT EXISTS memorygrams (
    id                     TEXT PRIMARY KEY,
    content                TEXT NOT NULL,
    type                   TEXT NOT NULL,
    subtype                TEXT NOT NULL DEFAULT '',
    source                 TEXT NOT NULL DEFAULT '',
    timestamp              BIGINT NOT NULL DEFAULT 0,
    previous_memorygram_id TEXT NOT NULL DEFAULT '',
    next_memorygram_id     TEXT NOT NULL DEFAULT '',
    sequence               INTEGER NOT NULL DEFAULT 0,
    created_at             TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at             TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_memorygrams_subtype   ON memorygrams(subtype);
CREATE INDEX IF NOT EXISTS idx_memorygrams_timestamp ON memorygrams(timestamp);

-- Relationships: typed, weighted, directed edges between memorygrams.
CREATE TABLE IF NOT EXISTS relationships (
    id                 TEXT PRIMARY KEY,
    from_memorygram_id TEXT NOT NULL REFERENCES memorygrams(id),
    to_memorygram_id   TEXT NOT NULL REFERENCES memorygrams(id),
    relationship_type  TEXT NOT NULL,
    weight             DOUBLE PRECISION NOT NULL DEFAULT 0,
    properties         TEXT NOT NULL DEFAULT '',
    is_active          BOOLEAN NOT NULL DEFAULT TRUE,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_relationships_from ON relationships(from_memorygram_id);
CREATE INDEX IF NOT EXISTS idx_relationships_to   ON relationships(to_memorygram_id);
CREATE INDEX IF NOT EXISTS idx_relationships_type ON relationships(relationship_type);

-- Embeddings: one row per (memorygram, space). The JSONB column is the
-- durable representation; embedding_vec is added by MigrationPgvector when
-- the extension is available.
CREATE TABLE IF NOT EXISTS memorygram_embeddings (
    memorygram_id TEXT NOT NULL REFERENCES memorygrams(id) ON DELETE CASCADE,
    space         TEXT NOT NULL,
    embedding     JSONB NOT NULL,
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (memorygram_id, space)
);
`

// MigrationPgvector adds the pgvector column and per-space cosine indexes.
// Applied only when the vector extension is available; safe to run multiple
// times. ivfflat requires at least one row, so index creation is guarded.
const MigrationPgvector = `
DO $$
BEGIN
    IF NOT EXISTS (
        SELECT 1 FROM information_schema.columns
        WHERE table_name = 'memorygram_embeddings' AND column_name = 'embedding_vec'
    ) THEN
        ALTER TABLE memorygram_embeddings ADD COLUMN embedding_vec vector;
    END IF;
END
$$;

DO $$
BEGIN
  IF NOT EXISTS (
    SELECT 1 FROM pg_indexes WHERE indexname = 'idx_memorygram_embeddings_vec_cosine'
  ) THEN
    IF EXISTS (SELECT 1 FROM memorygram_embeddings LIMIT 1) THEN
      EXECUTE 'CREATE INDEX idx_memorygram_embeddings_vec_cosine ON memorygram_embeddings USING ivfflat (embedding_vec vector_cosine_ops) WITH (lists = 100)';
    END IF;
  END IF;
END$$;
`
