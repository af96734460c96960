// Package llm provides the embedding and completion clients the memory
// system consumes, with circuit breaker protection against failing
// providers. Both interfaces are black-box boundaries: the core propagates
// their failures verbatim and never masks them as success.
package llm

import (
	"context"
	"errors"
)

// ErrUpstream marks a failure of an external embedding or completion
// provider. Callers use errors.Is to distinguish it from store failures.
var ErrUpstream = errors.New("upstream service failure")

// EmbeddingGenerator produces vector embeddings for free text. A successful
// call always returns a non-empty vector.
type EmbeddingGenerator interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	GetModel() string
}

// TextGenerator produces completions. The role string selects the persona or
// system framing under which the completion is generated; empty means the
// provider default.
type TextGenerator interface {
	Complete(ctx context.Context, prompt, role string) (string, error)
	GetModel() string
}
