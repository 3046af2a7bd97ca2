// Package embedding turns text into fixed-length vectors. It owns input
// validation, content-hash cache keys, two cache tiers (in-process LRU and a
// best-effort distributed store), provider rate limiting, and batch chunking.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/chatlift/retrieval/internal/cache"
	"github.com/chatlift/retrieval/internal/db"
	"github.com/chatlift/retrieval/internal/domain"
	"github.com/chatlift/retrieval/internal/metrics"
	"github.com/chatlift/retrieval/internal/resilience"
)

// Config tunes the embedding service.
type Config struct {
	// Dimensions is the expected vector length; mismatches are rejected.
	Dimensions int
	// MaxInputChars bounds a single input text.
	MaxInputChars int
	// RequestsPerMinute sizes the shared provider rate limiter. 0 = unlimited.
	RequestsPerMinute int
	// ChunkDelay is the pause between batch chunks.
	ChunkDelay time.Duration
	// CacheSize and CacheTTL tune the in-process tier.
	CacheSize int
	CacheTTL  time.Duration
	// StoreTTL is the distributed tier TTL (longer-lived: same text + model
	// always embeds to the same vector).
	StoreTTL time.Duration
	// KeyPrefix namespaces distributed cache keys.
	KeyPrefix string
}

func (c Config) withDefaults() Config {
	if c.MaxInputChars <= 0 {
		c.MaxInputChars = 8192
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 2000
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Hour
	}
	if c.StoreTTL <= 0 {
		c.StoreTTL = 24 * time.Hour
	}
	if c.ChunkDelay < 0 {
		c.ChunkDelay = 0
	}
	return c
}

// Stats is a snapshot of embedding service counters.
type Stats struct {
	Generated    uint64  `json:"generated"`
	CacheHits    uint64  `json:"cacheHits"`
	Failures     uint64  `json:"failures"`
	AvgLatencyMS float64 `json:"avgLatencyMs"`
}

// Service implements Generate and GenerateBatch.
type Service struct {
	provider Provider
	store    KVStore // nil disables the distributed tier
	memCache *cache.Cache[[]float32]
	limiter  *rate.Limiter
	exec     *resilience.Executor
	cfg      Config
	logger   *zap.Logger

	mu    sync.Mutex
	stats Stats
}

// New creates the embedding service. store may be nil.
func New(provider Provider, store KVStore, exec *resilience.Executor, cfg Config, logger *zap.Logger) *Service {
	cfg = cfg.withDefaults()

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), cfg.RequestsPerMinute)
	}

	return &Service{
		provider: provider,
		store:    store,
		memCache: cache.New[[]float32](cfg.CacheSize, cfg.CacheTTL),
		limiter:  limiter,
		exec:     exec,
		cfg:      cfg,
		logger:   logger,
	}
}

// Close releases the in-process cache.
func (s *Service) Close() { s.memCache.Close() }

// Generate returns the embedding vector for one text.
func (s *Service) Generate(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	text, err := s.validate(text)
	if err != nil {
		return domain.EmbeddingResult{}, err
	}

	key := s.cacheKey(text)
	if vec, ok := s.fromCache(ctx, key); ok {
		s.recordHit()
		return domain.EmbeddingResult{Embedding: vec, Model: s.provider.Model(), Cached: true}, nil
	}

	if err := s.reserve(); err != nil {
		return domain.EmbeddingResult{}, err
	}

	start := time.Now()
	var res domain.EmbeddingResult
	err = s.exec.Execute(ctx, "embed", func(ctx context.Context) error {
		var embedErr error
		res, embedErr = s.provider.Embed(ctx, text)
		return embedErr
	}, retryable)
	if err != nil {
		s.recordFailure()
		return domain.EmbeddingResult{}, err
	}

	if err := domain.ValidateDimensions(res.Embedding, s.cfg.Dimensions); err != nil {
		s.recordFailure()
		metrics.EmbeddingErrorsTotal.WithLabelValues(s.provider.Model(), "dimension_mismatch").Inc()
		return domain.EmbeddingResult{}, err
	}

	s.toCache(ctx, key, res.Embedding)
	s.recordGenerated(time.Since(start))
	return res, nil
}

// GenerateBatch embeds texts with best-effort semantics: invalid items are
// skipped and omitted from the result, not fatal to the batch. Hitting the
// provider rate limit mid-batch fails the whole operation.
//
// The returned embeddings follow the input order, so callers can zip them
// against their surviving inputs.
func (s *Service) GenerateBatch(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	out := domain.BatchEmbeddingResult{Model: s.provider.Model()}

	// vectors is input-aligned; nil slots (skipped items) are compacted out
	// at the end.
	vectors := make([][]float32, len(texts))

	type pendingItem struct {
		pos  int
		text string
	}
	pending := make([]pendingItem, 0, len(texts))

	for i, text := range texts {
		valid, err := s.validate(text)
		if err != nil {
			out.Skipped++
			s.recordFailure()
			continue
		}

		key := s.cacheKey(valid)
		if vec, ok := s.fromCache(ctx, key); ok {
			s.recordHit()
			vectors[i] = vec
			continue
		}
		pending = append(pending, pendingItem{pos: i, text: valid})
	}

	chunkSize := s.provider.MaxBatchSize()
	for start := 0; start < len(pending); start += chunkSize {
		end := min(start+chunkSize, len(pending))
		chunk := pending[start:end]

		chunkTexts := make([]string, len(chunk))
		for i, item := range chunk {
			chunkTexts[i] = item.text
		}

		if start > 0 && s.cfg.ChunkDelay > 0 {
			select {
			case <-ctx.Done():
				return domain.BatchEmbeddingResult{}, ctx.Err()
			case <-time.After(s.cfg.ChunkDelay):
			}
		}

		if err := s.reserve(); err != nil {
			return domain.BatchEmbeddingResult{}, err
		}

		began := time.Now()
		var res domain.BatchEmbeddingResult
		err := s.exec.Execute(ctx, "embed_batch", func(ctx context.Context) error {
			var embedErr error
			res, embedErr = s.batchEmbed(ctx, chunkTexts)
			return embedErr
		}, retryable)
		if err != nil {
			s.recordFailure()
			return domain.BatchEmbeddingResult{}, err
		}

		for i, vec := range res.Embeddings {
			if i >= len(chunk) {
				break
			}
			if err := domain.ValidateDimensions(vec, s.cfg.Dimensions); err != nil {
				out.Skipped++
				s.recordFailure()
				metrics.EmbeddingErrorsTotal.WithLabelValues(s.provider.Model(), "dimension_mismatch").Inc()
				continue
			}
			s.toCache(ctx, s.cacheKey(chunk[i].text), vec)
			vectors[chunk[i].pos] = vec
		}
		out.TotalTokens += res.TotalTokens
		s.recordGenerated(time.Since(began))
	}

	for _, vec := range vectors {
		if vec != nil {
			out.Embeddings = append(out.Embeddings, vec)
		}
	}
	return out, nil
}

// batchEmbed uses the provider's native batch call when it has one and falls
// back to sequential single embeds otherwise.
func (s *Service) batchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if be, ok := s.provider.(domain.BatchEmbedder); ok {
		return be.BatchEmbed(ctx, texts)
	}
	return domain.BatchFallback(ctx, s.provider, texts)
}

// HealthCheck proxies to the provider when it supports health probes.
func (s *Service) HealthCheck(ctx context.Context) error {
	if hc, ok := s.provider.(domain.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("embedding provider: %w", err)
		}
	}
	return nil
}

// Stats returns a snapshot of the service counters.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// CacheStats exposes the in-process tier counters.
func (s *Service) CacheStats() cache.Stats { return s.memCache.Stats() }

// ClearCache drops the in-process tier.
func (s *Service) ClearCache() { s.memCache.Clear() }

func (s *Service) validate(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("text is empty: %w", domain.ErrValidation)
	}
	if len(text) > s.cfg.MaxInputChars {
		return "", fmt.Errorf("text is %d chars (max %d): %w", len(text), s.cfg.MaxInputChars, domain.ErrInputTooLarge)
	}
	return text, nil
}

// reserve takes a rate limiter token, failing fast instead of queueing.
func (s *Service) reserve() error {
	if s.limiter != nil && !s.limiter.Allow() {
		return fmt.Errorf("provider budget exhausted: %w", domain.ErrRateLimited)
	}
	return nil
}

// cacheKey hashes (text, model) so a model change never reuses stale vectors.
func (s *Service) cacheKey(text string) string {
	h := sha256.Sum256([]byte(text + "\x00" + s.provider.Model()))
	return hex.EncodeToString(h[:])
}

func (s *Service) storeKey(key string) string {
	return s.cfg.KeyPrefix + "emb_cache:" + key
}

// fromCache checks the in-process tier, then the distributed tier.
func (s *Service) fromCache(ctx context.Context, key string) ([]float32, bool) {
	if vec, ok := s.memCache.Get(key); ok {
		metrics.EmbeddingCacheTotal.WithLabelValues("memory", "hit").Inc()
		return vec, true
	}
	metrics.EmbeddingCacheTotal.WithLabelValues("memory", "miss").Inc()

	if s.store == nil {
		return nil, false
	}

	data, err := s.store.Get(ctx, s.storeKey(key))
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			s.logger.Warn("Failed to read embedding cache store", zap.Error(err))
		}
		metrics.EmbeddingCacheTotal.WithLabelValues("store", "miss").Inc()
		return nil, false
	}

	vec, err := bytesToVector(data)
	if err != nil || domain.ValidateDimensions(vec, s.cfg.Dimensions) != nil {
		s.logger.Warn("Discarding malformed cached embedding", zap.Error(err))
		metrics.EmbeddingCacheTotal.WithLabelValues("store", "miss").Inc()
		return nil, false
	}

	metrics.EmbeddingCacheTotal.WithLabelValues("store", "hit").Inc()
	s.memCache.Set(key, vec)
	return vec, true
}

// toCache writes both tiers. Store failures are logged, never fatal.
func (s *Service) toCache(ctx context.Context, key string, vec []float32) {
	s.memCache.Set(key, vec)
	if s.store == nil {
		return
	}
	if err := s.store.SetWithTTL(ctx, s.storeKey(key), vectorToBytes(vec), s.cfg.StoreTTL); err != nil {
		s.logger.Warn("Failed to write embedding cache store", zap.Error(err))
	}
}

func (s *Service) recordHit() {
	s.mu.Lock()
	s.stats.CacheHits++
	s.mu.Unlock()
}

func (s *Service) recordFailure() {
	s.mu.Lock()
	s.stats.Failures++
	s.mu.Unlock()
}

func (s *Service) recordGenerated(elapsed time.Duration) {
	s.mu.Lock()
	n := float64(s.stats.Generated)
	s.stats.AvgLatencyMS = (s.stats.AvgLatencyMS*n + float64(elapsed.Milliseconds())) / (n + 1)
	s.stats.Generated++
	s.mu.Unlock()
}

// retryable marks provider-class failures for another attempt; validation and
// rate-limit errors fail fast.
func retryable(err error) bool {
	return errors.Is(err, domain.ErrProvider)
}
