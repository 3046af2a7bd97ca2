// Package ollama implements the embedding provider contract against an
// on-platform inference server speaking the Ollama embed API.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chatlift/retrieval/internal/domain"
	"github.com/chatlift/retrieval/internal/metrics"
)

const providerName = "ollama"

// Embedder calls a local inference server for embeddings.
type Embedder struct {
	baseURL    string
	model      string
	maxBatch   int
	httpClient *http.Client
}

// Config holds the provider settings.
type Config struct {
	BaseURL      string
	Model        string
	MaxBatchSize int
	Timeout      time.Duration
}

// NewEmbedder creates an on-platform embedding provider.
func NewEmbedder(cfg *Config) *Embedder {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Embedder{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		maxBatch:   cfg.MaxBatchSize,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// MaxBatchSize returns the largest input slice BatchEmbed accepts per call.
func (e *Embedder) MaxBatchSize() int {
	if e.maxBatch > 0 {
		return e.maxBatch
	}
	return 64
}

// Model returns the embedding model identifier.
func (e *Embedder) Model() string { return e.model }

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed implements domain.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	vectors, err := e.embed(ctx, []string{text})
	if err != nil {
		return domain.EmbeddingResult{}, err
	}
	if len(vectors) == 0 {
		return domain.EmbeddingResult{}, fmt.Errorf("empty embedding response: %w", domain.ErrProvider)
	}
	return domain.EmbeddingResult{Embedding: vectors[0], Model: e.model}, nil
}

// BatchEmbed implements domain.BatchEmbedder.
func (e *Embedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	vectors, err := e.embed(ctx, texts)
	if err != nil {
		return domain.BatchEmbeddingResult{}, err
	}
	if len(vectors) != len(texts) {
		return domain.BatchEmbeddingResult{}, fmt.Errorf(
			"got %d embeddings for %d inputs: %w", len(vectors), len(texts), domain.ErrProvider)
	}
	return domain.BatchEmbeddingResult{Embeddings: vectors, Model: e.model}, nil
}

// HealthCheck probes the server root, which Ollama answers unauthenticated.
func (e *Embedder) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("inference server unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("inference server status %d", resp.StatusCode)
	}
	return nil
}

func (e *Embedder) embed(ctx context.Context, input []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := e.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(providerName, e.model, "error").Inc()
		return nil, fmt.Errorf("embed request: %v: %w", err, domain.ErrProvider)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		metrics.EmbeddingRequestsTotal.WithLabelValues(providerName, e.model, "error").Inc()
		return nil, fmt.Errorf("inference server throttled: %w", domain.ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		metrics.EmbeddingRequestsTotal.WithLabelValues(providerName, e.model, "error").Inc()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("embed status %d: %s: %w", resp.StatusCode, string(msg), domain.ErrProvider)
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(providerName, e.model, "error").Inc()
		return nil, fmt.Errorf("decode embed response: %v: %w", err, domain.ErrProvider)
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(providerName, e.model, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(providerName, e.model).Observe(duration.Seconds())

	return parsed.Embeddings, nil
}
