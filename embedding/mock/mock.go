// Package mock provides a deterministic embedder for tests. Vectors are
// derived from a hash of the input text, so identical texts always embed
// identically while distinct texts land (nearly) orthogonal.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
)

// Embedder is the test embedder. Tests that need two texts to be close can
// pin explicit vectors with SetVector; everything else falls back to the
// hash-derived vector.
type Embedder struct {
	dims     int
	mu       sync.RWMutex
	pinned   map[string][]float32
	failNext error
}

// New creates a mock embedder with the given dimension.
func New(dims int) *Embedder {
	return &Embedder{
		dims:   dims,
		pinned: make(map[string][]float32),
	}
}

// SetVector pins the embedding returned for text. The vector is normalized
// before storage and must match the embedder's dimension.
func (e *Embedder) SetVector(text string, vec []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pinned[text] = normalize(vec)
}

// FailNext makes the next Embed call return err instead of a vector.
func (e *Embedder) FailNext(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failNext = err
}

// Embed returns the pinned or hash-derived vector for text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	if err := e.failNext; err != nil {
		e.failNext = nil
		e.mu.Unlock()
		return nil, err
	}
	pinned, ok := e.pinned[text]
	e.mu.Unlock()
	if ok {
		out := make([]float32, len(pinned))
		copy(out, pinned)
		return out, nil
	}

	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, e.dims)
	for i := range vec {
		// LCG keeps the sequence deterministic per seed.
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return normalize(vec), nil
}

// Dimensions returns the embedding size.
func (e *Embedder) Dimensions() int {
	return e.dims
}

func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = float32(math.Sqrt(float64(norm)))
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = v / norm
	}
	return out
}
