// Package sqlite implements the graph store on SQLite (modernc.org/sqlite)
// with an in-process chromem-go vector index for similarity search.
//
// The SQLite tables are the source of truth; the vector index is derived
// from the embedding columns and rebuilt from them on open.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/mnemograph/mnemo/internal/storage"
	"github.com/mnemograph/mnemo/internal/storage/vectorindex"
	"github.com/mnemograph/mnemo/pkg/types"
)

// Ensure *GraphStore implements storage.GraphStore at compile time.
var _ storage.GraphStore = (*GraphStore)(nil)

// GraphStore is the SQLite-backed graph store.
type GraphStore struct {
	db    *sql.DB
	index *vectorindex.Index
}

// NewGraphStore opens (or creates) the SQLite database at dsn, applies the
// schema, and rebuilds the vector index from the stored embeddings.
func NewGraphStore(dsn string) (*GraphStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY under concurrent load; WAL
	// mode lets readers proceed without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}

	index, err := vectorindex.New()
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &GraphStore{db: db, index: index}
	if err := s.rebuildIndex(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database connection.
func (s *GraphStore) Close() error {
	return s.db.Close()
}

// memorygramColumns is the canonical column list for memorygram scans.
const memorygramColumns = `id, content, type, subtype, source,
	topical_embedding, content_embedding, context_embedding, metadata_embedding,
	timestamp, previous_memorygram_id, next_memorygram_id, sequence,
	created_at, updated_at`

// rebuildIndex repopulates the vector index from the embedding columns.
func (s *GraphStore) rebuildIndex(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT `+memorygramColumns+` FROM memorygrams`)
	if err != nil {
		return fmt.Errorf("sqlite: rebuild index scan: %w", err)
	}
	defer func() { _ = rows.Close() }()

	count := 0
	for rows.Next() {
		m, err := scanMemorygram(rows)
		if err != nil {
			return err
		}
		if err := s.indexMemorygram(ctx, m); err != nil {
			return err
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("sqlite: rebuild index rows: %w", err)
	}
	if count > 0 {
		log.Printf("sqlite: rebuilt vector index from %d memorygrams", count)
	}
	return nil
}

// indexMemorygram updates all four per-space index entries for m.
func (s *GraphStore) indexMemorygram(ctx context.Context, m *types.Memorygram) error {
	for _, space := range types.EmbeddingSpaces {
		if err := s.index.Upsert(ctx, space, m.ID, m.Embedding(space)); err != nil {
			return err
		}
	}
	return nil
}

// UpsertMemorygram merges a node keyed by id and returns the row as read
// back from the database, so column defaults are reflected.
func (s *GraphStore) UpsertMemorygram(ctx context.Context, m *types.Memorygram) (*types.Memorygram, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	id := m.ID
	if id == "" {
		id = uuid.NewString()
	}

	now := formatTimestamp(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memorygrams (
			id, content, type, subtype, source,
			topical_embedding, content_embedding, context_embedding, metadata_embedding,
			timestamp, previous_memorygram_id, next_memorygram_id, sequence,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content                = excluded.content,
			type                   = excluded.type,
			subtype                = excluded.subtype,
			source                 = excluded.source,
			topical_embedding      = excluded.topical_embedding,
			content_embedding      = excluded.content_embedding,
			context_embedding      = excluded.context_embedding,
			metadata_embedding     = excluded.metadata_embedding,
			timestamp              = excluded.timestamp,
			previous_memorygram_id = excluded.previous_memorygram_id,
			next_memorygram_id     = excluded.next_memorygram_id,
			sequence               = excluded.sequence,
			updated_at             = excluded.updated_at
	`,
		id, m.Content, string(m.Type), m.Subtype, m.Source,
		encodeEmbedding(m.TopicalEmbedding), encodeEmbedding(m.ContentEmbedding),
		encodeEmbedding(m.ContextEmbedding), encodeEmbedding(m.MetadataEmbedding),
		m.Timestamp, m.PreviousMemorygramID, m.NextMemorygramID, m.Sequence,
		now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: upsert memorygram %s: %w", id, err)
	}

	stored, err := s.GetMemorygramByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.indexMemorygram(ctx, stored); err != nil {
		return nil, err
	}
	return stored, nil
}

// GetMemorygramByID retrieves one memorygram or storage.ErrNotFound.
func (s *GraphStore) GetMemorygramByID(ctx context.Context, id string) (*types.Memorygram, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+memorygramColumns+` FROM memorygrams WHERE id = ?`, id)

	m, err := scanMemorygram(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("memorygram %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// FindSimilar runs a nearest-neighbor query against the per-space vector
// index. Chat-scoped exclusion resolves the excluded chat's member ids first
// and filters them out of the hit list.
func (s *GraphStore) FindSimilar(ctx context.Context, q storage.SimilarityQuery) ([]storage.MemorygramWithScore, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	var exclude map[string]bool
	if q.ExcludeChatID != "" {
		ids, err := s.chatMemberIDs(ctx, q.ExcludeChatID)
		if err != nil {
			return nil, err
		}
		exclude = ids
	}

	hits, err := s.index.Query(ctx, q.Space, q.Vector, q.TopK, exclude)
	if err != nil {
		return nil, err
	}

	results := make([]storage.MemorygramWithScore, 0, len(hits))
	for _, h := range hits {
		m, err := s.GetMemorygramByID(ctx, h.ID)
		if errors.Is(err, storage.ErrNotFound) {
			// Index entry outlived its row; skip rather than fail the search.
			log.Printf("sqlite: vector index hit %s has no backing row, skipping", h.ID)
			continue
		}
		if err != nil {
			return nil, err
		}
		results = append(results, storage.MemorygramWithScore{Memorygram: *m, Score: h.Score})
	}
	return results, nil
}

// chatMemberIDs resolves the set of memorygram ids belonging to a chat: the
// root Experience node plus every ROOT_OF target reachable from it.
func (s *GraphStore) chatMemberIDs(ctx context.Context, chatID string) (map[string]bool, error) {
	rels, err := s.GetRelationshipsByType(ctx, types.RelHasChatID)
	if err != nil {
		return nil, err
	}

	members := make(map[string]bool)
	for _, rel := range rels {
		if rel.ChatIDProperty() != chatID {
			continue
		}
		members[rel.FromMemorygramID] = true

		rows, err := s.db.QueryContext(ctx,
			`SELECT to_memorygram_id FROM relationships
			 WHERE from_memorygram_id = ? AND relationship_type = ?`,
			rel.FromMemorygramID, types.RelRootOf)
		if err != nil {
			return nil, fmt.Errorf("sqlite: chat members of %s: %w", chatID, err)
		}
		for rows.Next() {
			var target string
			if err := rows.Scan(&target); err != nil {
				rows.Close()
				return nil, fmt.Errorf("sqlite: chat members scan: %w", err)
			}
			members[target] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlite: chat members rows: %w", err)
		}
		rows.Close()
	}
	return members, nil
}

// GetBySubtype returns all memorygrams carrying the given subtype, ordered
// by Timestamp descending.
func (s *GraphStore) GetBySubtype(ctx context.Context, subtype string) ([]types.Memorygram, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memorygramColumns+` FROM memorygrams WHERE subtype = ? ORDER BY timestamp DESC`,
		subtype)
	if err != nil {
		return nil, fmt.Errorf("sqlite: get by subtype %q: %w", subtype, err)
	}
	defer func() { _ = rows.Close() }()
	return scanMemorygrams(rows)
}

// GetAllChats returns thread-head memorygrams (no incoming previous link)
// with a non-empty subtype, ordered by Timestamp descending.
func (s *GraphStore) GetAllChats(ctx context.Context) ([]types.Memorygram, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memorygramColumns+` FROM memorygrams
		 WHERE subtype != '' AND previous_memorygram_id = ''
		 ORDER BY timestamp DESC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: get all chats: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanMemorygrams(rows)
}

// memorygramExists is the endpoint existence check used before edge writes.
func (s *GraphStore) memorygramExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM memorygrams WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlite: existence check %s: %w", id, err)
	}
	return true, nil
}

// checkEndpoints verifies both edge endpoints exist.
func (s *GraphStore) checkEndpoints(ctx context.Context, fromID, toID string) error {
	for _, id := range []string{fromID, toID} {
		ok, err := s.memorygramExists(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("memorygram %s: %w", id, storage.ErrNotFound)
		}
	}
	return nil
}

// CreateRelationship always creates a new edge instance with a fresh id,
// after verifying both endpoints exist. Duplicate (from,to,type) edges are
// legitimate; only CreateOrUpdateAssociation upserts.
func (s *GraphStore) CreateRelationship(ctx context.Context, fromID, toID, relType string, weight float64, properties string) (*types.GraphRelationship, error) {
	rel := &types.GraphRelationship{
		FromMemorygramID: fromID,
		ToMemorygramID:   toID,
		RelationshipType: relType,
	}
	if err := rel.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	if err := s.checkEndpoints(ctx, fromID, toID); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	now := formatTimestamp(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relationships (
			id, from_memorygram_id, to_memorygram_id, relationship_type,
			weight, properties, is_active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)
	`, id, fromID, toID, relType, weight, properties, now, now)
	if err != nil {
		return nil, fmt.Errorf("sqlite: create relationship %s: %w", id, err)
	}

	return s.GetRelationshipByID(ctx, id)
}

// CreateOrUpdateAssociation upserts the single ASSOCIATED_WITH edge for the
// (from,to) pair: a second call overwrites the existing edge's weight.
// Returns the source memorygram.
func (s *GraphStore) CreateOrUpdateAssociation(ctx context.Context, fromID, toID string, weight float64) (*types.Memorygram, error) {
	if strings.TrimSpace(fromID) == "" || strings.TrimSpace(toID) == "" {
		return nil, fmt.Errorf("%w: association endpoint ids must not be empty", storage.ErrInvalidInput)
	}
	if err := s.checkEndpoints(ctx, fromID, toID); err != nil {
		return nil, err
	}

	now := formatTimestamp(time.Now())
	res, err := s.db.ExecContext(ctx, `
		UPDATE relationships SET weight = ?, updated_at = ?
		WHERE from_memorygram_id = ? AND to_memorygram_id = ? AND relationship_type = ?
	`, weight, now, fromID, toID, types.RelAssociatedWith)
	if err != nil {
		return nil, fmt.Errorf("sqlite: update association %s->%s: %w", fromID, toID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("sqlite: update association rows affected: %w", err)
	}
	if affected == 0 {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO relationships (
				id, from_memorygram_id, to_memorygram_id, relationship_type,
				weight, properties, is_active, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, '', 1, ?, ?)
		`, uuid.NewString(), fromID, toID, types.RelAssociatedWith, weight, now, now)
		if err != nil {
			return nil, fmt.Errorf("sqlite: create association %s->%s: %w", fromID, toID, err)
		}
	}

	return s.GetMemorygramByID(ctx, fromID)
}

// relationshipColumns is the canonical column list for relationship scans.
const relationshipColumns = `id, from_memorygram_id, to_memorygram_id,
	relationship_type, weight, properties, is_active, created_at, updated_at`

// GetRelationshipByID retrieves one relationship or storage.ErrNotFound.
func (s *GraphStore) GetRelationshipByID(ctx context.Context, id string) (*types.GraphRelationship, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+relationshipColumns+` FROM relationships WHERE id = ?`, id)

	rel, err := scanRelationship(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("relationship %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return rel, nil
}

// UpdateRelationship applies a partial update; at least one field must be
// supplied.
func (s *GraphStore) UpdateRelationship(ctx context.Context, id string, upd storage.RelationshipUpdate) (*types.GraphRelationship, error) {
	if upd.Empty() {
		return nil, fmt.Errorf("%w: no update fields supplied", storage.ErrInvalidInput)
	}

	sets := []string{"updated_at = ?"}
	args := []any{formatTimestamp(time.Now())}
	if upd.Weight != nil {
		sets = append(sets, "weight = ?")
		args = append(args, *upd.Weight)
	}
	if upd.Properties != nil {
		sets = append(sets, "properties = ?")
		args = append(args, *upd.Properties)
	}
	if upd.IsActive != nil {
		sets = append(sets, "is_active = ?")
		args = append(args, boolToInt(*upd.IsActive))
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE relationships SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: update relationship %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("sqlite: update relationship rows affected: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("relationship %s: %w", id, storage.ErrNotFound)
	}

	return s.GetRelationshipByID(ctx, id)
}

// DeleteRelationship removes one relationship or returns storage.ErrNotFound.
func (s *GraphStore) DeleteRelationship(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM relationships WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: delete relationship %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: delete relationship rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("relationship %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

// GetRelationshipsByMemorygramID returns the relationships touching a
// memorygram, selectable by direction.
func (s *GraphStore) GetRelationshipsByMemorygramID(ctx context.Context, id string, includeIncoming, includeOutgoing bool) ([]types.GraphRelationship, error) {
	if !includeIncoming && !includeOutgoing {
		return []types.GraphRelationship{}, nil
	}

	var conds []string
	var args []any
	if includeOutgoing {
		conds = append(conds, "from_memorygram_id = ?")
		args = append(args, id)
	}
	if includeIncoming {
		conds = append(conds, "to_memorygram_id = ?")
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+relationshipColumns+` FROM relationships
		 WHERE `+strings.Join(conds, " OR ")+` ORDER BY created_at`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: relationships of %s: %w", id, err)
	}
	defer func() { _ = rows.Close() }()
	return scanRelationships(rows)
}

// GetRelationshipsByType returns every relationship with the given type.
func (s *GraphStore) GetRelationshipsByType(ctx context.Context, relType string) ([]types.GraphRelationship, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+relationshipColumns+` FROM relationships
		 WHERE relationship_type = ? ORDER BY created_at`, relType)
	if err != nil {
		return nil, fmt.Errorf("sqlite: relationships of type %q: %w", relType, err)
	}
	defer func() { _ = rows.Close() }()
	return scanRelationships(rows)
}

// FindRelationships combines the filter's supplied predicates with AND.
func (s *GraphStore) FindRelationships(ctx context.Context, f storage.RelationshipFilter) ([]types.GraphRelationship, error) {
	conds := []string{"1 = 1"}
	var args []any
	if f.FromMemorygramID != nil {
		conds = append(conds, "from_memorygram_id = ?")
		args = append(args, *f.FromMemorygramID)
	}
	if f.ToMemorygramID != nil {
		conds = append(conds, "to_memorygram_id = ?")
		args = append(args, *f.ToMemorygramID)
	}
	if f.RelationshipType != nil {
		conds = append(conds, "relationship_type = ?")
		args = append(args, *f.RelationshipType)
	}
	if f.MinWeight != nil {
		conds = append(conds, "weight >= ?")
		args = append(args, *f.MinWeight)
	}
	if f.MaxWeight != nil {
		conds = append(conds, "weight <= ?")
		args = append(args, *f.MaxWeight)
	}
	if f.IsActive != nil {
		conds = append(conds, "is_active = ?")
		args = append(args, boolToInt(*f.IsActive))
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+relationshipColumns+` FROM relationships
		 WHERE `+strings.Join(conds, " AND ")+` ORDER BY created_at`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: find relationships: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanRelationships(rows)
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanMemorygram hydrates one memorygram row, applying the permissive
// coercions from coerce.go to the embedding and timestamp columns.
func scanMemorygram(row rowScanner) (*types.Memorygram, error) {
	var (
		m                                      types.Memorygram
		typeStr                                string
		topical, content, contextE, metadataE  string
		createdAt, updatedAt                   string
	)
	err := row.Scan(
		&m.ID, &m.Content, &typeStr, &m.Subtype, &m.Source,
		&topical, &content, &contextE, &metadataE,
		&m.Timestamp, &m.PreviousMemorygramID, &m.NextMemorygramID, &m.Sequence,
		&createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("sqlite: scan memorygram: %w", err)
	}

	m.Type = types.ParseMemorygramType(typeStr)
	m.TopicalEmbedding = decodeEmbedding(topical, "topical_embedding", m.ID)
	m.ContentEmbedding = decodeEmbedding(content, "content_embedding", m.ID)
	m.ContextEmbedding = decodeEmbedding(contextE, "context_embedding", m.ID)
	m.MetadataEmbedding = decodeEmbedding(metadataE, "metadata_embedding", m.ID)
	m.CreatedAt = parseTimestamp(createdAt, "created_at", m.ID)
	m.UpdatedAt = parseTimestamp(updatedAt, "updated_at", m.ID)
	return &m, nil
}

// scanMemorygrams drains a result set of memorygram rows.
func scanMemorygrams(rows *sql.Rows) ([]types.Memorygram, error) {
	out := []types.Memorygram{}
	for rows.Next() {
		m, err := scanMemorygram(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: memorygram rows: %w", err)
	}
	return out, nil
}

// scanRelationship hydrates one relationship row.
func scanRelationship(row rowScanner) (*types.GraphRelationship, error) {
	var (
		rel                  types.GraphRelationship
		isActive             int
		createdAt, updatedAt string
	)
	err := row.Scan(
		&rel.ID, &rel.FromMemorygramID, &rel.ToMemorygramID,
		&rel.RelationshipType, &rel.Weight, &rel.Properties, &isActive,
		&createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("sqlite: scan relationship: %w", err)
	}

	rel.IsActive = isActive != 0
	rel.CreatedAt = parseTimestamp(createdAt, "created_at", rel.ID)
	rel.UpdatedAt = parseTimestamp(updatedAt, "updated_at", rel.ID)
	return &rel, nil
}

// scanRelationships drains a result set of relationship rows.
func scanRelationships(rows *sql.Rows) ([]types.GraphRelationship, error) {
	out := []types.GraphRelationship{}
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: relationship rows: %w", err)
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
