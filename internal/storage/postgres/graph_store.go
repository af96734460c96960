package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/mnemograph/mnemo/internal/storage"
	"github.com/mnemograph/mnemo/pkg/types"
)

// Ensure *GraphStore implements storage.GraphStore at compile time.
var _ storage.GraphStore = (*GraphStore)(nil)

// GraphStore is the PostgreSQL-backed graph store. When the pgvector
// extension is available, similarity search runs server-side against the
// per-space cosine index; otherwise it degrades to a client-side scan over
// the JSONB embeddings.
type GraphStore struct {
	db                *sql.DB
	pgvectorAvailable bool
}

// NewGraphStore opens a PostgreSQL connection, applies the schema, and
// enables pgvector when present.
func NewGraphStore(dsn string) (*GraphStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping database: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: apply schema: %w", err)
	}

	s := &GraphStore{db: db}

	// pgvector may be absent on the server; similarity search then degrades
	// to the client-side scan instead of failing startup.
	if _, err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		log.Printf("postgres: pgvector extension not available (using client-side similarity): %v", err)
	} else if _, err := db.Exec(MigrationPgvector); err != nil {
		log.Printf("postgres: pgvector migration failed (using client-side similarity): %v", err)
	} else {
		s.pgvectorAvailable = true
	}

	return s, nil
}

// Close releases the underlying connection pool.
func (s *GraphStore) Close() error {
	return s.db.Close()
}

const memorygramColumns = `id, content, type, subtype, source,
	timestamp, previous_memorygram_id, next_memorygram_id, sequence,
	created_at, updated_at`

// UpsertMemorygram merges the node row and replaces its per-space embedding
// rows, then reads the result back.
func (s *GraphStore) UpsertMemorygram(ctx context.Context, m *types.Memorygram) (*types.Memorygram, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	id := m.ID
	if id == "" {
		id = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memorygrams (
			id, content, type, subtype, source,
			timestamp, previous_memorygram_id, next_memorygram_id, sequence,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			content                = excluded.content,
			type                   = excluded.type,
			subtype                = excluded.subtype,
			source                 = excluded.source,
			timestamp              = excluded.timestamp,
			previous_memorygram_id = excluded.previous_memorygram_id,
			next_memorygram_id     = excluded.next_memorygram_id,
			sequence               = excluded.sequence,
			updated_at             = CURRENT_TIMESTAMP
	`, id, m.Content, string(m.Type), m.Subtype, m.Source,
		m.Timestamp, m.PreviousMemorygramID, m.NextMemorygramID, m.Sequence)
	if err != nil {
		return nil, fmt.Errorf("postgres: upsert memorygram %s: %w", id, err)
	}

	for _, space := range types.EmbeddingSpaces {
		if err := s.storeEmbedding(ctx, id, space, m.Embedding(space)); err != nil {
			return nil, err
		}
	}

	return s.GetMemorygramByID(ctx, id)
}

// storeEmbedding upserts one per-space embedding row. Empty vectors delete
// the row so the memorygram stops matching in that space.
func (s *GraphStore) storeEmbedding(ctx context.Context, id string, space types.EmbeddingSpace, vec []float32) error {
	if len(vec) == 0 {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM memorygram_embeddings WHERE memorygram_id = $1 AND space = $2`,
			id, string(space))
		if err != nil {
			return fmt.Errorf("postgres: clear embedding %s/%s: %w", id, space, err)
		}
		return nil
	}

	blob, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("postgres: marshal embedding %s/%s: %w", id, space, err)
	}

	if s.pgvectorAvailable {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO memorygram_embeddings (memorygram_id, space, embedding, embedding_vec, updated_at)
			VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP)
			ON CONFLICT(memorygram_id, space) DO UPDATE SET
				embedding     = excluded.embedding,
				embedding_vec = excluded.embedding_vec,
				updated_at    = CURRENT_TIMESTAMP
		`, id, string(space), blob, pgvector.NewVector(vec))
		if err == nil {
			return nil
		}
		log.Printf("postgres: embedding_vec write failed for %s/%s (falling back to JSONB only): %v", id, space, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memorygram_embeddings (memorygram_id, space, embedding, updated_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
		ON CONFLICT(memorygram_id, space) DO UPDATE SET
			embedding  = excluded.embedding,
			updated_at = CURRENT_TIMESTAMP
	`, id, string(space), blob)
	if err != nil {
		return fmt.Errorf("postgres: store embedding %s/%s: %w", id, space, err)
	}
	return nil
}

// GetMemorygramByID retrieves one memorygram with its embeddings assembled
// from the per-space rows, or storage.ErrNotFound.
func (s *GraphStore) GetMemorygramByID(ctx context.Context, id string) (*types.Memorygram, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+memorygramColumns+` FROM memorygrams WHERE id = $1`, id)

	m, err := scanMemorygram(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("memorygram %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadEmbeddings(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// loadEmbeddings populates the four embedding fields of m from the
// memorygram_embeddings rows. Spaces without a row stay empty (never nil).
func (s *GraphStore) loadEmbeddings(ctx context.Context, m *types.Memorygram) error {
	for _, space := range types.EmbeddingSpaces {
		m.SetEmbedding(space, []float32{})
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT space, embedding FROM memorygram_embeddings WHERE memorygram_id = $1`, m.ID)
	if err != nil {
		return fmt.Errorf("postgres: load embeddings of %s: %w", m.ID, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var space string
		var blob []byte
		if err := rows.Scan(&space, &blob); err != nil {
			return fmt.Errorf("postgres: scan embedding row: %w", err)
		}
		m.SetEmbedding(types.EmbeddingSpace(space), decodeEmbedding(blob, space, m.ID))
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("postgres: embedding rows: %w", err)
	}
	return nil
}

// FindSimilar runs a nearest-neighbor query for the requested space,
// server-side when pgvector is available.
func (s *GraphStore) FindSimilar(ctx context.Context, q storage.SimilarityQuery) ([]storage.MemorygramWithScore, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	excludeIDs := []string{}
	if q.ExcludeChatID != "" {
		members, err := s.chatMemberIDs(ctx, q.ExcludeChatID)
		if err != nil {
			return nil, err
		}
		for id := range members {
			excludeIDs = append(excludeIDs, id)
		}
	}

	if !s.pgvectorAvailable {
		return s.findSimilarClientSide(ctx, q, excludeIDs)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.memorygram_id, 1 - (e.embedding_vec <=> $1::vector) AS score
		FROM memorygram_embeddings e
		WHERE e.space = $2 AND e.embedding_vec IS NOT NULL
		  AND e.memorygram_id <> ALL($3)
		ORDER BY e.embedding_vec <=> $1::vector
		LIMIT $4
	`, pgvector.NewVector(q.Vector), string(q.Space), pq.Array(excludeIDs), q.TopK)
	if err != nil {
		return nil, fmt.Errorf("postgres: similarity query in %s: %w", q.Space, err)
	}
	defer func() { _ = rows.Close() }()

	type hit struct {
		id    string
		score float64
	}
	var hits []hit
	for rows.Next() {
		var h hit
		if err := rows.Scan(&h.id, &h.score); err != nil {
			return nil, fmt.Errorf("postgres: scan similarity hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: similarity rows: %w", err)
	}

	results := make([]storage.MemorygramWithScore, 0, len(hits))
	for _, h := range hits {
		m, err := s.GetMemorygramByID(ctx, h.id)
		if err != nil {
			return nil, err
		}
		results = append(results, storage.MemorygramWithScore{Memorygram: *m, Score: h.score})
	}
	return results, nil
}

// findSimilarClientSide is the degraded path without pgvector: scan the
// JSONB embeddings for the space and rank by cosine similarity in memory.
func (s *GraphStore) findSimilarClientSide(ctx context.Context, q storage.SimilarityQuery, excludeIDs []string) ([]storage.MemorygramWithScore, error) {
	excluded := make(map[string]bool, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = true
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT memorygram_id, embedding FROM memorygram_embeddings WHERE space = $1`,
		string(q.Space))
	if err != nil {
		return nil, fmt.Errorf("postgres: similarity scan in %s: %w", q.Space, err)
	}
	defer func() { _ = rows.Close() }()

	var hits []storage.MemorygramWithScore
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("postgres: scan embedding row: %w", err)
		}
		if excluded[id] {
			continue
		}
		score := cosineSimilarity(q.Vector, decodeEmbedding(blob, string(q.Space), id))
		hits = append(hits, storage.MemorygramWithScore{
			Memorygram: types.Memorygram{ID: id},
			Score:      score,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: similarity rows: %w", err)
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > q.TopK {
		hits = hits[:q.TopK]
	}

	for i := range hits {
		m, err := s.GetMemorygramByID(ctx, hits[i].Memorygram.ID)
		if err != nil {
			return nil, err
		}
		hits[i].Memorygram = *m
	}
	return hits, nil
}

// chatMemberIDs resolves the memorygram ids belonging to a chat: the root
// Experience plus its ROOT_OF targets.
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
			 WHERE from_memorygram_id = $1 AND relationship_type = $2`,
			rel.FromMemorygramID, types.RelRootOf)
		if err != nil {
			return nil, fmt.Errorf("postgres: chat members of %s: %w", chatID, err)
		}
		for rows.Next() {
			var target string
			if err := rows.Scan(&target); err != nil {
				rows.Close()
				return nil, fmt.Errorf("postgres: chat members scan: %w", err)
			}
			members[target] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("postgres: chat members rows: %w", err)
		}
		rows.Close()
	}
	return members, nil
}

// GetBySubtype returns all memorygrams with the given subtype, Timestamp
// descending.
func (s *GraphStore) GetBySubtype(ctx context.Context, subtype string) ([]types.Memorygram, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memorygramColumns+` FROM memorygrams WHERE subtype = $1 ORDER BY timestamp DESC`,
		subtype)
	if err != nil {
		return nil, fmt.Errorf("postgres: get by subtype %q: %w", subtype, err)
	}
	defer func() { _ = rows.Close() }()
	return s.scanAndLoad(ctx, rows)
}

// GetAllChats returns thread-head memorygrams with a non-empty subtype,
// Timestamp descending.
func (s *GraphStore) GetAllChats(ctx context.Context) ([]types.Memorygram, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memorygramColumns+` FROM memorygrams
		 WHERE subtype != '' AND previous_memorygram_id = ''
		 ORDER BY timestamp DESC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: get all chats: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return s.scanAndLoad(ctx, rows)
}

func (s *GraphStore) scanAndLoad(ctx context.Context, rows *sql.Rows) ([]types.Memorygram, error) {
	out := []types.Memorygram{}
	for rows.Next() {
		m, err := scanMemorygram(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: memorygram rows: %w", err)
	}
	for i := range out {
		if err := s.loadEmbeddings(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *GraphStore) memorygramExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM memorygrams WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("postgres: existence check %s: %w", id, err)
	}
	return true, nil
}

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

// CreateRelationship always creates a new edge instance with a fresh id.
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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relationships (
			id, from_memorygram_id, to_memorygram_id, relationship_type,
			weight, properties, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, TRUE)
	`, id, fromID, toID, relType, weight, properties)
	if err != nil {
		return nil, fmt.Errorf("postgres: create relationship %s: %w", id, err)
	}

	return s.GetRelationshipByID(ctx, id)
}

// CreateOrUpdateAssociation upserts the ASSOCIATED_WITH edge for (from,to).
func (s *GraphStore) CreateOrUpdateAssociation(ctx context.Context, fromID, toID string, weight float64) (*types.Memorygram, error) {
	if strings.TrimSpace(fromID) == "" || strings.TrimSpace(toID) == "" {
		return nil, fmt.Errorf("%w: association endpoint ids must not be empty", storage.ErrInvalidInput)
	}
	if err := s.checkEndpoints(ctx, fromID, toID); err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE relationships SET weight = $1, updated_at = CURRENT_TIMESTAMP
		WHERE from_memorygram_id = $2 AND to_memorygram_id = $3 AND relationship_type = $4
	`, weight, fromID, toID, types.RelAssociatedWith)
	if err != nil {
		return nil, fmt.Errorf("postgres: update association %s->%s: %w", fromID, toID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("postgres: association rows affected: %w", err)
	}
	if affected == 0 {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO relationships (
				id, from_memorygram_id, to_memorygram_id, relationship_type,
				weight, properties, is_active
			) VALUES ($1, $2, $3, $4, $5, '', TRUE)
		`, uuid.NewString(), fromID, toID, types.RelAssociatedWith, weight)
		if err != nil {
			return nil, fmt.Errorf("postgres: create association %s->%s: %w", fromID, toID, err)
		}
	}

	return s.GetMemorygramByID(ctx, fromID)
}

const relationshipColumns = `id, from_memorygram_id, to_memorygram_id,
	relationship_type, weight, properties, is_active, created_at, updated_at`

// GetRelationshipByID retrieves one relationship or storage.ErrNotFound.
func (s *GraphStore) GetRelationshipByID(ctx context.Context, id string) (*types.GraphRelationship, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+relationshipColumns+` FROM relationships WHERE id = $1`, id)

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

	sets := []string{"updated_at = CURRENT_TIMESTAMP"}
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if upd.Weight != nil {
		sets = append(sets, "weight = "+arg(*upd.Weight))
	}
	if upd.Properties != nil {
		sets = append(sets, "properties = "+arg(*upd.Properties))
	}
	if upd.IsActive != nil {
		sets = append(sets, "is_active = "+arg(*upd.IsActive))
	}
	idArg := arg(id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE relationships SET `+strings.Join(sets, ", ")+` WHERE id = `+idArg, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: update relationship %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("postgres: update relationship rows affected: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("relationship %s: %w", id, storage.ErrNotFound)
	}

	return s.GetRelationshipByID(ctx, id)
}

// DeleteRelationship removes one relationship or returns storage.ErrNotFound.
func (s *GraphStore) DeleteRelationship(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM relationships WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete relationship %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: delete relationship rows affected: %w", err)
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
		args = append(args, id)
		conds = append(conds, "from_memorygram_id = $"+strconv.Itoa(len(args)))
	}
	if includeIncoming {
		args = append(args, id)
		conds = append(conds, "to_memorygram_id = $"+strconv.Itoa(len(args)))
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+relationshipColumns+` FROM relationships
		 WHERE `+strings.Join(conds, " OR ")+` ORDER BY created_at`, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: relationships of %s: %w", id, err)
	}
	defer func() { _ = rows.Close() }()
	return scanRelationships(rows)
}

// GetRelationshipsByType returns every relationship with the given type.
func (s *GraphStore) GetRelationshipsByType(ctx context.Context, relType string) ([]types.GraphRelationship, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+relationshipColumns+` FROM relationships
		 WHERE relationship_type = $1 ORDER BY created_at`, relType)
	if err != nil {
		return nil, fmt.Errorf("postgres: relationships of type %q: %w", relType, err)
	}
	defer func() { _ = rows.Close() }()
	return scanRelationships(rows)
}

// FindRelationships combines the filter's supplied predicates with AND.
func (s *GraphStore) FindRelationships(ctx context.Context, f storage.RelationshipFilter) ([]types.GraphRelationship, error) {
	conds := []string{"TRUE"}
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if f.FromMemorygramID != nil {
		conds = append(conds, "from_memorygram_id = "+arg(*f.FromMemorygramID))
	}
	if f.ToMemorygramID != nil {
		conds = append(conds, "to_memorygram_id = "+arg(*f.ToMemorygramID))
	}
	if f.RelationshipType != nil {
		conds = append(conds, "relationship_type = "+arg(*f.RelationshipType))
	}
	if f.MinWeight != nil {
		conds = append(conds, "weight >= "+arg(*f.MinWeight))
	}
	if f.MaxWeight != nil {
		conds = append(conds, "weight <= "+arg(*f.MaxWeight))
	}
	if f.IsActive != nil {
		conds = append(conds, "is_active = "+arg(*f.IsActive))
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+relationshipColumns+` FROM relationships
		 WHERE `+strings.Join(conds, " AND ")+` ORDER BY created_at`, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: find relationships: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanRelationships(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanMemorygram hydrates one node row. Embeddings are loaded separately.
func scanMemorygram(row rowScanner) (*types.Memorygram, error) {
	var (
		m       types.Memorygram
		typeStr string
	)
	err := row.Scan(
		&m.ID, &m.Content, &typeStr, &m.Subtype, &m.Source,
		&m.Timestamp, &m.PreviousMemorygramID, &m.NextMemorygramID, &m.Sequence,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("postgres: scan memorygram: %w", err)
	}
	m.Type = types.ParseMemorygramType(typeStr)
	return &m, nil
}

func scanRelationship(row rowScanner) (*types.GraphRelationship, error) {
	var rel types.GraphRelationship
	err := row.Scan(
		&rel.ID, &rel.FromMemorygramID, &rel.ToMemorygramID,
		&rel.RelationshipType, &rel.Weight, &rel.Properties, &rel.IsActive,
		&rel.CreatedAt, &rel.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("postgres: scan relationship: %w", err)
	}
	return &rel, nil
}

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
		return nil, fmt.Errorf("postgres: relationship rows: %w", err)
	}
	return out, nil
}

// decodeEmbedding parses a JSONB embedding permissively: unconvertible
// elements coerce to 0.0, and a malformed blob yields an empty slice. Both
// fallbacks are logged as data-quality smells.
func decodeEmbedding(blob []byte, space, id string) []float32 {
	if len(blob) == 0 {
		return []float32{}
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(blob, &elems); err != nil {
		log.Printf("postgres: %s embedding for %s is not a JSON array, treating as empty: %v", space, id, err)
		return []float32{}
	}

	vec := make([]float32, len(elems))
	for i, e := range elems {
		var f float64
		if err := json.Unmarshal(e, &f); err != nil {
			log.Printf("postgres: unconvertible %s embedding element %q for %s, defaulting to 0.0", space, string(e), id)
			continue
		}
		vec[i] = float32(f)
	}
	return vec
}

// cosineSimilarity computes the cosine similarity of two vectors; dimension
// mismatches and zero vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
