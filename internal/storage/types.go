package storage

import (
	"errors"

	"github.com/mnemograph/mnemo/pkg/types"
)

var (
	// ErrNotFound indicates that the requested memorygram, relationship, or
	// other resource does not exist. This is an expected outcome, not a
	// store failure.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAlreadyExists indicates a create collided with an existing resource.
	ErrAlreadyExists = errors.New("resource already exists")
)

// MemorygramWithScore is one similarity search hit: the memorygram plus its
// similarity score in the queried embedding space.
type MemorygramWithScore struct {
	Memorygram types.Memorygram `json:"memorygram"`
	Score      float64          `json:"score"`
}

// RelationshipFilter combines optional predicates for FindRelationships.
// Nil pointer fields mean "no constraint on this field"; all supplied
// predicates are combined with logical AND.
type RelationshipFilter struct {
	FromMemorygramID *string
	ToMemorygramID   *string
	RelationshipType *string
	MinWeight        *float64
	MaxWeight        *float64
	IsActive         *bool
}

// Empty reports whether no predicate is set.
func (f *RelationshipFilter) Empty() bool {
	return f.FromMemorygramID == nil && f.ToMemorygramID == nil &&
		f.RelationshipType == nil && f.MinWeight == nil &&
		f.MaxWeight == nil && f.IsActive == nil
}

// RelationshipUpdate is a partial update of a relationship. Nil fields are
// left untouched; at least one field must be supplied.
type RelationshipUpdate struct {
	Weight     *float64
	Properties *string
	IsActive   *bool
}

// Empty reports whether no field is supplied.
func (u *RelationshipUpdate) Empty() bool {
	return u.Weight == nil && u.Properties == nil && u.IsActive == nil
}

// SimilarityQuery describes one nearest-neighbor search against a named
// embedding space index.
type SimilarityQuery struct {
	// Vector is the query embedding. Must be non-empty.
	Vector []float32

	// Space selects which of the four vector indexes to search.
	Space types.EmbeddingSpace

	// TopK limits the result count. Must be positive.
	TopK int

	// ExcludeChatID, when non-empty, excludes every memorygram belonging to
	// that chat (its root Experience node and all ROOT_OF targets).
	ExcludeChatID string
}

// Validate checks the query invariants. Failing queries must not reach the
// backing index at all.
func (q *SimilarityQuery) Validate() error {
	if len(q.Vector) == 0 {
		return errors.New("similarity query vector must not be empty")
	}
	if !q.Space.IsValid() {
		return errors.New("unknown embedding space")
	}
	if q.TopK <= 0 {
		return errors.New("topK must be positive")
	}
	return nil
}
