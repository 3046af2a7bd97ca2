package domain

import (
	"context"
	"fmt"
)

// Embedder is the shared text vectorization contract between layers.
// Implementations are resolved once at construction from the configured
// provider tag; call sites never switch on the provider.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// BatchEmbedder vectorizes multiple texts in a single provider call.
type BatchEmbedder interface {
	BatchEmbed(ctx context.Context, texts []string) (BatchEmbeddingResult, error)
}

// HealthChecker verifies embedding provider availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// EmbeddingResult carries the embedding vector and usage through the decorator chain.
// Cached reports whether the vector was served from a cache tier.
type EmbeddingResult struct {
	Embedding    []float32
	Model        string
	Cached       bool
	PromptTokens int
	TotalTokens  int
}

// BatchEmbeddingResult carries multiple vectors and aggregate token usage.
type BatchEmbeddingResult struct {
	Embeddings  [][]float32
	Model       string
	TotalTokens int
	// Skipped counts inputs dropped by best-effort batch semantics.
	Skipped int
}

// ValidateDimensions rejects vectors whose length differs from the configured
// dimensionality. Vectors are never truncated or padded.
func ValidateDimensions(vec []float32, want int) error {
	if want > 0 && len(vec) != want {
		return fmt.Errorf("got %d dimensions, want %d: %w", len(vec), want, ErrInvalidEmbedding)
	}
	return nil
}

// BatchFallback embeds texts one by one for providers without native batching.
func BatchFallback(ctx context.Context, e Embedder, texts []string) (BatchEmbeddingResult, error) {
	embeddings := make([][]float32, len(texts))
	var totalTokens int
	var model string

	for i, text := range texts {
		res, err := e.Embed(ctx, text)
		if err != nil {
			return BatchEmbeddingResult{}, fmt.Errorf("fallback embed [%d]: %w", i, err)
		}
		embeddings[i] = res.Embedding
		totalTokens += res.TotalTokens
		model = res.Model
	}

	return BatchEmbeddingResult{Embeddings: embeddings, Model: model, TotalTokens: totalTokens}, nil
}
