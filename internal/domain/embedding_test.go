package domain

import (
	"context"
	"errors"
	"testing"
)

func TestValidateDimensions(t *testing.T) {
	if err := ValidateDimensions([]float32{1, 2, 3}, 3); err != nil {
		t.Errorf("matching dimensions: unexpected error %v", err)
	}
	if err := ValidateDimensions([]float32{1, 2, 3}, 0); err != nil {
		t.Errorf("zero expectation disables the check: unexpected error %v", err)
	}

	err := ValidateDimensions([]float32{1, 2}, 3)
	if !errors.Is(err, ErrInvalidEmbedding) {
		t.Errorf("expected ErrInvalidEmbedding, got %v", err)
	}
}

type fnEmbedder func(text string) (EmbeddingResult, error)

func (f fnEmbedder) Embed(_ context.Context, text string) (EmbeddingResult, error) {
	return f(text)
}

func TestBatchFallback(t *testing.T) {
	calls := 0
	e := fnEmbedder(func(text string) (EmbeddingResult, error) {
		calls++
		return EmbeddingResult{Embedding: []float32{float32(len(text))}, Model: "m", TotalTokens: 2}, nil
	})

	res, err := BatchFallback(context.Background(), e, []string{"a", "bb", "ccc"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 || len(res.Embeddings) != 3 {
		t.Fatalf("expected 3 sequential calls, got calls=%d embeddings=%d", calls, len(res.Embeddings))
	}
	if res.Embeddings[1][0] != 2 {
		t.Errorf("embeddings out of order: %+v", res.Embeddings)
	}
	if res.TotalTokens != 6 || res.Model != "m" {
		t.Errorf("usage not aggregated: %+v", res)
	}
}

func TestBatchFallback_ErrorAborts(t *testing.T) {
	calls := 0
	e := fnEmbedder(func(text string) (EmbeddingResult, error) {
		calls++
		if calls == 2 {
			return EmbeddingResult{}, ErrProvider
		}
		return EmbeddingResult{Embedding: []float32{1}}, nil
	})

	_, err := BatchFallback(context.Background(), e, []string{"a", "b", "c"})
	if !errors.Is(err, ErrProvider) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected abort after failing call, got %d calls", calls)
	}
}
