// Package vectorindex maintains the four named vector indexes backing
// similarity search for the SQLite graph store. It wraps chromem-go, a pure
// Go embedded vector database, with one collection per embedding space.
//
// The index is a derived structure: the SQLite tables remain the source of
// truth for embeddings, and the owning store rebuilds the index from them on
// open.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/mnemograph/mnemo/pkg/types"
)

// Hit is one nearest-neighbor result: a memorygram id and its cosine
// similarity to the query vector.
type Hit struct {
	ID    string
	Score float64
}

// Index holds one chromem collection per embedding space.
type Index struct {
	db          *chromem.DB
	collections map[types.EmbeddingSpace]*chromem.Collection
	mu          sync.RWMutex
}

// errNoEmbeddingFunc guards against accidental text-based queries: every
// document carries a precomputed embedding, so the embedding function must
// never run.
var errNoEmbeddingFunc = errors.New("vectorindex: index accepts precomputed embeddings only")

// New creates an empty in-memory index with one collection per space.
func New() (*Index, error) {
	db := chromem.NewDB()
	embFunc := chromem.EmbeddingFunc(func(ctx context.Context, text string) ([]float32, error) {
		return nil, errNoEmbeddingFunc
	})

	collections := make(map[types.EmbeddingSpace]*chromem.Collection, len(types.EmbeddingSpaces))
	for _, space := range types.EmbeddingSpaces {
		name := "space_" + strings.ToLower(string(space))
		col, err := db.GetOrCreateCollection(name, nil, embFunc)
		if err != nil {
			return nil, fmt.Errorf("vectorindex: create collection %s: %w", name, err)
		}
		collections[space] = col
	}

	return &Index{db: db, collections: collections}, nil
}

// Upsert indexes the vector for one memorygram in one space, replacing any
// previous entry. Empty vectors remove the entry instead: a memorygram whose
// embedding was cleared must stop matching.
func (ix *Index) Upsert(ctx context.Context, space types.EmbeddingSpace, id string, vec []float32) error {
	col, ok := ix.collections[space]
	if !ok {
		return fmt.Errorf("vectorindex: unknown embedding space %q", space)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	// chromem has no update primitive; delete-then-add replaces in place.
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("vectorindex: delete %s from %s: %w", id, space, err)
	}
	if len(vec) == 0 {
		return nil
	}

	doc := chromem.Document{
		ID:        id,
		Content:   id,
		Embedding: vec,
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("vectorindex: add %s to %s: %w", id, space, err)
	}
	return nil
}

// Delete removes one memorygram from every space's collection.
func (ix *Index) Delete(ctx context.Context, id string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for space, col := range ix.collections {
		if err := col.Delete(ctx, nil, nil, id); err != nil {
			return fmt.Errorf("vectorindex: delete %s from %s: %w", id, space, err)
		}
	}
	return nil
}

// Count returns the number of indexed vectors in one space.
func (ix *Index) Count(space types.EmbeddingSpace) int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	col, ok := ix.collections[space]
	if !ok {
		return 0
	}
	return col.Count()
}

// Query returns up to topK hits ordered by descending similarity, skipping
// any id in exclude. The requested result count is clamped to the collection
// size (chromem rejects nResults larger than the document count).
func (ix *Index) Query(ctx context.Context, space types.EmbeddingSpace, vec []float32, topK int, exclude map[string]bool) ([]Hit, error) {
	col, ok := ix.collections[space]
	if !ok {
		return nil, fmt.Errorf("vectorindex: unknown embedding space %q", space)
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	count := col.Count()
	if count == 0 {
		return nil, nil
	}

	// Over-fetch by the exclusion set size so the caller still receives up
	// to topK hits after filtering.
	n := topK + len(exclude)
	if n > count {
		n = count
	}

	results, err := col.QueryEmbedding(ctx, vec, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: query %s: %w", space, err)
	}

	hits := make([]Hit, 0, topK)
	for _, r := range results {
		if exclude[r.ID] {
			continue
		}
		hits = append(hits, Hit{ID: r.ID, Score: float64(r.Similarity)})
		if len(hits) == topK {
			break
		}
	}
	return hits, nil
}
