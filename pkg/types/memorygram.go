// Package types defines the core value types shared across the mnemo system:
// memorygrams, graph relationships, and pipeline execution entities.
package types

import (
	"errors"
	"strings"
	"time"
)

// MaxContentLength bounds the free-text content of a memorygram.
const MaxContentLength = 100_000

// MemorygramType classifies what kind of experience a memorygram records.
// TypeInvalid is the zero value sentinel for malformed or unset input and
// must never be persisted.
type MemorygramType string

const (
	TypeInvalid           MemorygramType = ""
	TypeUserInput         MemorygramType = "UserInput"
	TypeAssistantResponse MemorygramType = "AssistantResponse"
	TypeExperience        MemorygramType = "Experience"
	TypeReflection        MemorygramType = "Reflection"
)

// IsValid reports whether t is one of the persistable memorygram types.
func (t MemorygramType) IsValid() bool {
	switch t {
	case TypeUserInput, TypeAssistantResponse, TypeExperience, TypeReflection:
		return true
	}
	return false
}

// ParseMemorygramType maps a wire string to a MemorygramType.
// Unknown values map to TypeInvalid rather than erroring, so that a bad
// record read back from storage cannot fail an entire scan.
func ParseMemorygramType(s string) MemorygramType {
	t := MemorygramType(s)
	if t.IsValid() {
		return t
	}
	return TypeInvalid
}

// EmbeddingSpace names one of the four parallel vector spaces a memorygram
// is embedded into. Each space has its own vector index in the graph store.
type EmbeddingSpace string

const (
	SpaceTopical  EmbeddingSpace = "Topical"
	SpaceContent  EmbeddingSpace = "Content"
	SpaceContext  EmbeddingSpace = "Context"
	SpaceMetadata EmbeddingSpace = "Metadata"
)

// EmbeddingSpaces lists every space in a fixed order.
var EmbeddingSpaces = []EmbeddingSpace{SpaceTopical, SpaceContent, SpaceContext, SpaceMetadata}

// IsValid reports whether s names a known embedding space.
func (s EmbeddingSpace) IsValid() bool {
	switch s {
	case SpaceTopical, SpaceContent, SpaceContext, SpaceMetadata:
		return true
	}
	return false
}

// Well-known subtype and relationship labels for the implicit chat graph.
const (
	SubtypeChat       = "Chat"
	RelRootOf         = "ROOT_OF"
	RelHasChatID      = "HAS_CHAT_ID"
	RelAssociatedWith = "ASSOCIATED_WITH"
)

// Memorygram is a timestamped unit of experience persisted as a node in the
// memory graph. The four embedding slices are independent: each corresponds
// to a distinct named vector index. Empty slices mean "not yet computed";
// they are never nil after a round-trip through storage.
type Memorygram struct {
	ID      string         `json:"id"`
	Content string         `json:"content"`
	Type    MemorygramType `json:"type"`
	Subtype string         `json:"subtype,omitempty"` // e.g. "Chat" marks a chat-root Experience
	Source  string         `json:"source,omitempty"`

	TopicalEmbedding  []float32 `json:"topical_embedding,omitempty"`
	ContentEmbedding  []float32 `json:"content_embedding,omitempty"`
	ContextEmbedding  []float32 `json:"context_embedding,omitempty"`
	MetadataEmbedding []float32 `json:"metadata_embedding,omitempty"`

	// Timestamp is the logical ordering key (epoch seconds), distinct from
	// the CreatedAt/UpdatedAt audit fields.
	Timestamp int64     `json:"timestamp"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Optional linear threading, used when a sequence of memorygrams is
	// chained directly instead of through the generic relationship model.
	PreviousMemorygramID string `json:"previous_memorygram_id,omitempty"`
	NextMemorygramID     string `json:"next_memorygram_id,omitempty"`
	Sequence             int    `json:"sequence,omitempty"`
}

// Embedding returns the vector for the given space. Unknown spaces return nil.
func (m *Memorygram) Embedding(space EmbeddingSpace) []float32 {
	switch space {
	case SpaceTopical:
		return m.TopicalEmbedding
	case SpaceContent:
		return m.ContentEmbedding
	case SpaceContext:
		return m.ContextEmbedding
	case SpaceMetadata:
		return m.MetadataEmbedding
	}
	return nil
}

// SetEmbedding stores the vector for the given space.
func (m *Memorygram) SetEmbedding(space EmbeddingSpace, vec []float32) {
	switch space {
	case SpaceTopical:
		m.TopicalEmbedding = vec
	case SpaceContent:
		m.ContentEmbedding = vec
	case SpaceContext:
		m.ContextEmbedding = vec
	case SpaceMetadata:
		m.MetadataEmbedding = vec
	}
}

// Validate checks the construction-time invariants for create/update.
// Content must be non-empty after trimming, the type must be a persistable
// member of the closed enum, and content must fit the length bound.
func (m *Memorygram) Validate() error {
	if strings.TrimSpace(m.Content) == "" {
		return errors.New("memorygram content must not be empty")
	}
	if len(m.Content) > MaxContentLength {
		return errors.New("memorygram content exceeds maximum length")
	}
	if !m.Type.IsValid() {
		return errors.New("memorygram type is invalid")
	}
	return nil
}
