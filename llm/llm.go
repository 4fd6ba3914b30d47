// Package llm defines the text-generation contract the reviewer and the
// triple extractor consume, plus the Anthropic-backed implementation.
//
// Generate carries no conversational state between calls: every caller
// supplies the full context in the prompt each time.
package llm

import "context"

// Generator produces a completion for a prompt under a system instruction.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// GeneratorFunc adapts a plain function to the Generator interface.
type GeneratorFunc func(ctx context.Context, system, prompt string) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, system, prompt string) (string, error) {
	return f(ctx, system, prompt)
}
