package core

import "context"

// EmbeddingProvider turns texts into fixed-length vectors. The same text must
// map to the same vector for a given model version. Output order matches input.
type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// LLMProvider answers a prompt. An empty or refused answer is reported as
// ErrNoCompletion, never as an empty string.
type LLMProvider interface {
	Generate(ctx context.Context, systemPrompt string, userPrompt string) (string, error)
}
