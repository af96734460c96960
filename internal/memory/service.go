// Package memory provides the memory service: the validating, embedding
// orchestration layer between callers and the graph store.
package memory

import (
	"context"
	"fmt"
	"log"

	"github.com/mnemograph/mnemo/internal/config"
	"github.com/mnemograph/mnemo/internal/llm"
	"github.com/mnemograph/mnemo/internal/storage"
	"github.com/mnemograph/mnemo/pkg/types"
)

// Service validates inputs, populates embeddings via the external embedding
// generator, and delegates persistence to the graph store. It holds no
// mutable state and is safe to share across concurrent callers.
type Service struct {
	store          storage.GraphStore
	embedder       llm.EmbeddingGenerator
	embedAllSpaces bool
}

// NewService creates a memory service.
func NewService(store storage.GraphStore, embedder llm.EmbeddingGenerator, cfg config.MemoryConfig) *Service {
	return &Service{
		store:          store,
		embedder:       embedder,
		embedAllSpaces: cfg.EmbedAllSpaces,
	}
}

// Store returns the underlying graph store for collaborators that need
// direct query access (chat reconstruction, retrieval stages).
func (s *Service) Store() storage.GraphStore {
	return s.store
}

// CreateMemorygram validates m, populates its unset embedding fields from
// its content, and upserts it. Embedding failure aborts before any store
// write, surfacing the upstream error verbatim.
func (s *Service) CreateMemorygram(ctx context.Context, m *types.Memorygram) (*types.Memorygram, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	if err := s.populateEmbeddings(ctx, m); err != nil {
		return nil, err
	}
	return s.store.UpsertMemorygram(ctx, m)
}

// UpdateMemorygram re-validates and re-embeds m, then upserts. Because the
// store keys on id, this overwrites every field except CreatedAt.
func (s *Service) UpdateMemorygram(ctx context.Context, m *types.Memorygram) (*types.Memorygram, error) {
	if m.ID == "" {
		return nil, fmt.Errorf("%w: memorygram id required for update", storage.ErrInvalidInput)
	}
	// Content may have changed; recompute the content-derived spaces.
	for _, space := range s.embeddedSpaces() {
		m.SetEmbedding(space, nil)
	}
	return s.CreateMemorygram(ctx, m)
}

// embeddedSpaces returns which spaces the service populates per write.
func (s *Service) embeddedSpaces() []types.EmbeddingSpace {
	if s.embedAllSpaces {
		return types.EmbeddingSpaces
	}
	return []types.EmbeddingSpace{types.SpaceContent}
}

// populateEmbeddings fills the unset embedding fields from m.Content. One
// generator call covers every space: the generator keys on text alone, so
// per-space calls on identical content would return identical vectors.
func (s *Service) populateEmbeddings(ctx context.Context, m *types.Memorygram) error {
	var vec []float32
	for _, space := range s.embeddedSpaces() {
		if len(m.Embedding(space)) > 0 {
			continue
		}
		if vec == nil {
			var err error
			vec, err = s.embedder.Embed(ctx, m.Content)
			if err != nil {
				return err
			}
			if len(vec) == 0 {
				return fmt.Errorf("%w: embedding generator returned an empty vector", llm.ErrUpstream)
			}
		}
		m.SetEmbedding(space, vec)
	}
	return nil
}

// GetMemorygram retrieves one memorygram by id.
func (s *Service) GetMemorygram(ctx context.Context, id string) (*types.Memorygram, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: memorygram id must not be empty", storage.ErrInvalidInput)
	}
	return s.store.GetMemorygramByID(ctx, id)
}

// GetBySubtype returns the memorygrams carrying the given subtype.
func (s *Service) GetBySubtype(ctx context.Context, subtype string) ([]types.Memorygram, error) {
	return s.store.GetBySubtype(ctx, subtype)
}

// GetAllChats returns chat thread heads, most recent first.
func (s *Service) GetAllChats(ctx context.Context) ([]types.Memorygram, error) {
	return s.store.GetAllChats(ctx)
}

// FindSimilar runs a nearest-neighbor query with a caller-supplied vector.
func (s *Service) FindSimilar(ctx context.Context, q storage.SimilarityQuery) ([]storage.MemorygramWithScore, error) {
	return s.store.FindSimilar(ctx, q)
}

// FindSimilarToText embeds the query text and searches the given space.
func (s *Service) FindSimilarToText(ctx context.Context, text string, space types.EmbeddingSpace, topK int, excludeChatID string) ([]storage.MemorygramWithScore, error) {
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	return s.store.FindSimilar(ctx, storage.SimilarityQuery{
		Vector:        vec,
		Space:         space,
		TopK:          topK,
		ExcludeChatID: excludeChatID,
	})
}

// Associate upserts the ASSOCIATED_WITH edge between two memorygrams.
func (s *Service) Associate(ctx context.Context, fromID, toID string, weight float64) (*types.Memorygram, error) {
	return s.store.CreateOrUpdateAssociation(ctx, fromID, toID, weight)
}

// CreateRelationship creates a fresh typed edge between two memorygrams.
func (s *Service) CreateRelationship(ctx context.Context, fromID, toID, relType string, weight float64, properties string) (*types.GraphRelationship, error) {
	return s.store.CreateRelationship(ctx, fromID, toID, relType, weight, properties)
}

// GetRelationship retrieves one relationship by id.
func (s *Service) GetRelationship(ctx context.Context, id string) (*types.GraphRelationship, error) {
	return s.store.GetRelationshipByID(ctx, id)
}

// UpdateRelationship applies a partial relationship update.
func (s *Service) UpdateRelationship(ctx context.Context, id string, upd storage.RelationshipUpdate) (*types.GraphRelationship, error) {
	return s.store.UpdateRelationship(ctx, id, upd)
}

// DeleteRelationship removes one relationship.
func (s *Service) DeleteRelationship(ctx context.Context, id string) error {
	return s.store.DeleteRelationship(ctx, id)
}

// GetRelationships returns the relationships touching a memorygram.
func (s *Service) GetRelationships(ctx context.Context, id string, includeIncoming, includeOutgoing bool) ([]types.GraphRelationship, error) {
	return s.store.GetRelationshipsByMemorygramID(ctx, id, includeIncoming, includeOutgoing)
}

// FindRelationships runs a filtered relationship scan.
func (s *Service) FindRelationships(ctx context.Context, f storage.RelationshipFilter) ([]types.GraphRelationship, error) {
	if f.Empty() {
		log.Printf("memory: FindRelationships called without predicates, returning full scan")
	}
	return s.store.FindRelationships(ctx, f)
}
