package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicGenerator implements Generator against the Anthropic Messages API.
type AnthropicGenerator struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// AnthropicOption configures the generator.
type AnthropicOption func(*AnthropicGenerator)

// WithMaxTokens overrides the response token cap (default 1024).
func WithMaxTokens(n int64) AnthropicOption {
	return func(g *AnthropicGenerator) {
		g.maxTokens = n
	}
}

// NewAnthropicGenerator builds a generator for the given API key and model.
func NewAnthropicGenerator(apiKey, model string, opts ...AnthropicOption) *AnthropicGenerator {
	g := &AnthropicGenerator{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     anthropic.Model(model),
		maxTokens: 1024,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate sends a single-turn message and returns the concatenated text
// blocks of the response.
func (g *AnthropicGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     g.model,
		MaxTokens: g.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := g.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic API error: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return text.String(), nil
}
