// Package storage defines the graph store contract for the mnemo memory
// system and the option/result types it speaks in.
//
// The store persists memorygrams as nodes in a property graph, indexes their
// four embedding vectors in per-space vector indexes, and manages typed
// weighted relationships between them. Every operation is an independent,
// short-lived transaction: there is no cross-call locking, and concurrent
// calls racing on the same id resolve via the backend's own write ordering.
package storage

import (
	"context"

	"github.com/mnemograph/mnemo/pkg/types"
)

// GraphStore is the full graph-backed data-access contract.
type GraphStore interface {
	// UpsertMemorygram merges a node keyed by id. On first sight it sets
	// CreatedAt and every field; afterwards it overwrites every field except
	// CreatedAt and bumps UpdatedAt. The returned memorygram is read back
	// from the store, not echoed from memory, so backend defaults are
	// reflected.
	UpsertMemorygram(ctx context.Context, m *types.Memorygram) (*types.Memorygram, error)

	// GetMemorygramByID retrieves a memorygram. Returns ErrNotFound if absent.
	GetMemorygramByID(ctx context.Context, id string) (*types.Memorygram, error)

	// FindSimilar runs a nearest-neighbor query against the vector index for
	// the requested embedding space and returns up to TopK hits ordered by
	// descending similarity. Returns ErrInvalidInput for an empty vector or
	// non-positive TopK without touching the index.
	FindSimilar(ctx context.Context, q SimilarityQuery) ([]MemorygramWithScore, error)

	// GetBySubtype returns all memorygrams carrying the given subtype.
	GetBySubtype(ctx context.Context, subtype string) ([]types.Memorygram, error)

	// GetAllChats returns thread-head memorygrams (no incoming previous
	// link) with a non-empty subtype, ordered by Timestamp descending.
	GetAllChats(ctx context.Context) ([]types.Memorygram, error)

	// CreateRelationship verifies both endpoints exist, then always creates
	// a new edge instance with a fresh relationship id. Duplicate
	// (from,to,type) edges are legitimate. Returns ErrNotFound when either
	// endpoint is missing.
	CreateRelationship(ctx context.Context, fromID, toID, relType string, weight float64, properties string) (*types.GraphRelationship, error)

	// CreateOrUpdateAssociation upserts the single ASSOCIATED_WITH edge for
	// the (from,to) pair: creating it again overwrites the existing edge's
	// weight. Returns the source memorygram, or ErrNotFound when either
	// endpoint is missing.
	CreateOrUpdateAssociation(ctx context.Context, fromID, toID string, weight float64) (*types.Memorygram, error)

	// GetRelationshipByID retrieves a relationship. Returns ErrNotFound if absent.
	GetRelationshipByID(ctx context.Context, id string) (*types.GraphRelationship, error)

	// UpdateRelationship applies a partial update. An empty update fails
	// with ErrInvalidInput; a missing relationship with ErrNotFound.
	UpdateRelationship(ctx context.Context, id string, upd RelationshipUpdate) (*types.GraphRelationship, error)

	// DeleteRelationship removes a relationship. Returns ErrNotFound if absent.
	DeleteRelationship(ctx context.Context, id string) error

	// GetRelationshipsByMemorygramID returns the relationships touching a
	// memorygram, selectable by direction.
	GetRelationshipsByMemorygramID(ctx context.Context, id string, includeIncoming, includeOutgoing bool) ([]types.GraphRelationship, error)

	// GetRelationshipsByType returns every relationship with the given type.
	GetRelationshipsByType(ctx context.Context, relType string) ([]types.GraphRelationship, error)

	// FindRelationships returns relationships matching every supplied
	// predicate of the filter (logical AND).
	FindRelationships(ctx context.Context, f RelationshipFilter) ([]types.GraphRelationship, error)

	// Close releases the store's resources.
	Close() error
}
