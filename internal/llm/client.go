package llm

import (
	"context"
)

// LLMClient is the text-generation service boundary. Every use in the
// engine (concept extraction, community summarization, partial answers,
// answer synthesis) goes through this single operation.
type LLMClient interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// EmbedderClient computes a fixed-length vector for a piece of text.
type EmbedderClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
