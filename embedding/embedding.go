// Package embedding defines the text-to-vector contract the engine consumes.
//
// The embedding model itself lives outside the engine. Implementations must
// be deterministic for identical input, and the dimension must stay fixed for
// the lifetime of a store instance.
package embedding

import "context"

// Embedder converts text to a fixed-dimension vector.
type Embedder interface {
	// Embed converts a single text to its embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}
