package embedding

import (
	"context"
	"fmt"

	"github.com/philippgille/chromem-go"
)

// Remote embeds through an OpenAI-compatible embeddings endpoint.
type Remote struct {
	fn   chromem.EmbeddingFunc
	dims int
}

// NewOpenAI builds a remote embedder for the given model. dims must match
// the model's output dimensionality.
func NewOpenAI(apiKey, model string, dims int) *Remote {
	return &Remote{
		fn:   chromem.NewEmbeddingFuncOpenAI(apiKey, chromem.EmbeddingModelOpenAI(model)),
		dims: dims,
	}
}

func (r *Remote) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := r.fn(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	return vec, nil
}

func (r *Remote) Dimensions() int {
	return r.dims
}
