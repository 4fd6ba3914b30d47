package embedding

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// Cached wraps an Embedder with a ristretto cache keyed by the input text.
// Embeddings are deterministic per the Embedder contract, so a hit is always
// byte-identical to a recompute.
type Cached struct {
	inner Embedder
	cache *ristretto.Cache
}

// NewCached builds a caching decorator around inner. maxEntries bounds the
// number of cached vectors.
func NewCached(inner Embedder, maxEntries int64) (*Cached, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &Cached{inner: inner, cache: cache}, nil
}

// Embed returns the cached vector for text, computing and storing it on miss.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		if vec, ok := v.([]float32); ok {
			return vec, nil
		}
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, vec, 1)
	return vec, nil
}

// Dimensions returns the wrapped embedder's dimension.
func (c *Cached) Dimensions() int {
	return c.inner.Dimensions()
}

// Close releases cache resources.
func (c *Cached) Close() {
	c.cache.Close()
}
