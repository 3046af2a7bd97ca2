// Package vector is the similarity-search adapter: threshold and limit
// defaulting, optional lexical-overlap reranking, and full-response caching.
// The similarity computation itself belongs to the storage backend.
package vector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/chatlift/retrieval/internal/cache"
	"github.com/chatlift/retrieval/internal/domain"
	"github.com/chatlift/retrieval/internal/domain/search/filter"
	"github.com/chatlift/retrieval/internal/domain/search/result"
)

// Config tunes the adapter.
type Config struct {
	DefaultThreshold float64
	DefaultLimit     int
	Rerank           bool
	// RerankSimWeight and RerankOverlapWeight blend backend similarity with
	// lexical overlap. The 0.7/0.3 split is an inherited heuristic, kept
	// configurable because its optimality is unverified.
	RerankSimWeight     float64
	RerankOverlapWeight float64
	CacheSize           int
	// CacheTTL outlives the fused-response cache: embeddings for identical
	// text are stable, so vector results age slowly.
	CacheTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.DefaultThreshold <= 0 {
		c.DefaultThreshold = 0.35
	}
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = 10
	}
	if c.RerankSimWeight == 0 && c.RerankOverlapWeight == 0 {
		c.RerankSimWeight = 0.7
		c.RerankOverlapWeight = 0.3
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 500
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 15 * time.Minute
	}
	return c
}

// Service is the vector search adapter.
type Service struct {
	repo      Repository
	respCache *cache.Cache[[]result.Raw]
	cfg       Config
	logger    *zap.Logger
}

// New creates the adapter.
func New(repo Repository, cfg Config, logger *zap.Logger) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		repo:      repo,
		respCache: cache.New[[]result.Raw](cfg.CacheSize, cfg.CacheTTL),
		cfg:       cfg,
		logger:    logger,
	}
}

// Close releases the response cache.
func (s *Service) Close() { s.respCache.Close() }

// ClearCache drops all cached responses.
func (s *Service) ClearCache() { s.respCache.Clear() }

// CacheStats exposes the response cache counters.
func (s *Service) CacheStats() cache.Stats { return s.respCache.Stats() }

// Search runs a similarity query. query is the original text, used only for
// reranking and cache keying; the embedding drives the backend call.
func (s *Service) Search(
	ctx context.Context, embedding []float32, query, tenantID string,
	threshold float64, limit int, filters filter.Expression,
) ([]result.Raw, error) {
	if threshold <= 0 {
		threshold = s.cfg.DefaultThreshold
	}
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}

	key := cacheKey(query, tenantID, filters, limit, threshold)
	if cached, ok := s.respCache.Get(key); ok {
		return cached, nil
	}

	rows, err := s.repo.VectorSearch(ctx, embedding, tenantID, filters, limit)
	if err != nil {
		// No fallback exists for the vector leg.
		return nil, fmt.Errorf("%v: %w", err, domain.ErrBackendUnavailable)
	}

	filtered := rows[:0:len(rows)]
	for _, r := range rows {
		if r.Score >= threshold {
			filtered = append(filtered, r)
		}
	}
	rows = filtered

	if s.cfg.Rerank && len(rows) > 1 {
		reranked, err := s.rerank(query, rows)
		if err != nil {
			// Reranking is best-effort; serve the backend order.
			s.logger.Warn("Rerank failed, keeping backend order", zap.Error(err))
		} else {
			rows = reranked
		}
	}

	s.respCache.Set(key, rows)
	return rows, nil
}

// cacheKey hashes the query-equivalent fields so identical searches share a response.
func cacheKey(query, tenantID string, filters filter.Expression, limit int, threshold float64) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%d\x00%.6f\x00", query, tenantID, limit, threshold)
	filters.WriteDigest(h)
	return hex.EncodeToString(h.Sum(nil))
}
