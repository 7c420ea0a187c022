// Package embedder turns text into embedding vectors.
//
// Client is the entry point used by ingestion and query. It enforces the input
// policy and routes every text through the embedding cache, which in turn calls an
// Upstream: the OpenAI-compatible HTTP endpoint in production, or the in-process
// hashing embedder for tests and offline runs.
package embedder

import (
	"context"
	"fmt"

	"article-finder/internal/domain/entity"
)

// Upstream computes one embedding. Implementations must be safe for concurrent use.
type Upstream interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// WithDimension rejects vectors whose length differs from dim, so that a
// misconfigured model never pollutes the cache or the index.
func WithDimension(up Upstream, dim int) Upstream {
	if dim <= 0 {
		return up
	}
	return &dimensionGuard{Upstream: up, dim: dim}
}

type dimensionGuard struct {
	Upstream
	dim int
}

func (g *dimensionGuard) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := g.Upstream.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vec) != g.dim {
		return nil, &entity.UpstreamError{
			Op:  "embed",
			Err: fmt.Errorf("model %s returned %d dimensions, want %d", g.Model(), len(vec), g.dim),
		}
	}
	return vec, nil
}
