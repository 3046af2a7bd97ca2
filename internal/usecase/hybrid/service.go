// Package hybrid is the fusion-ranking engine. A search flows through
// validate -> cache check -> dispatch -> merge -> score -> sort/truncate ->
// cache store, with the vector and keyword legs running concurrently for
// hybrid strategies.
package hybrid

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chatlift/retrieval/internal/cache"
	"github.com/chatlift/retrieval/internal/domain"
	"github.com/chatlift/retrieval/internal/domain/search/request"
	"github.com/chatlift/retrieval/internal/domain/search/result"
	"github.com/chatlift/retrieval/internal/metrics"
)

// Config tunes the engine.
type Config struct {
	Fusion FusionConfig
	// SearchTimeout bounds one fused search end to end.
	SearchTimeout time.Duration
	CacheSize     int
	CacheTTL      time.Duration
}

func (c Config) withDefaults() Config {
	c.Fusion = c.Fusion.withDefaults()
	if c.SearchTimeout <= 0 {
		c.SearchTimeout = 5 * time.Second
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 1000
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Minute
	}
	return c
}

// ConfigPatch is a partial config update; nil fields keep their value.
type ConfigPatch struct {
	Algorithm     *Algorithm     `json:"algorithm,omitempty"`
	RRFK          *int           `json:"rrfK,omitempty"`
	VectorWeight  *float64       `json:"vectorWeight,omitempty"`
	KeywordWeight *float64       `json:"keywordWeight,omitempty"`
	AdaptiveBlend *float64       `json:"adaptiveBlend,omitempty"`
	SearchTimeout *time.Duration `json:"searchTimeoutMs,omitempty"`
}

// Response is one fused search outcome. Results are what gets cached; Cached
// tells the caller whether this exact response was served from cache.
type Response struct {
	Results []result.Fused `json:"results"`
	Cached  bool           `json:"cached"`
	TookMS  int64          `json:"tookMs"`
}

// Service is the hybrid query engine.
type Service struct {
	embed     Embedder
	vectorSvc VectorSearcher
	kwSvc     KeywordSearcher
	respCache *cache.Cache[[]result.Fused]
	logger    *zap.Logger

	cfgStore configStore
	stats    tracker
}

// configStore guards the live config; reads are frequent, writes rare.
type configStore struct {
	mu  sync.RWMutex
	cfg Config
}

func (c *configStore) get() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

func (c *configStore) set(cfg Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
}

// New creates the engine.
func New(embed Embedder, vectorSvc VectorSearcher, kwSvc KeywordSearcher, cfg Config, logger *zap.Logger) *Service {
	cfg = cfg.withDefaults()
	s := &Service{
		embed:     embed,
		vectorSvc: vectorSvc,
		kwSvc:     kwSvc,
		respCache: cache.New[[]result.Fused](cfg.CacheSize, cfg.CacheTTL),
		logger:    logger,
	}
	s.cfgStore.set(cfg)
	return s
}

// Close releases the response cache.
func (s *Service) Close() { s.respCache.Close() }

// Search executes a validated request and returns fused, ranked results.
func (s *Service) Search(ctx context.Context, req *request.Request) (Response, error) {
	cfg := s.cfgStore.get()
	started := time.Now()

	ctx, cancel := context.WithTimeout(ctx, cfg.SearchTimeout)
	defer cancel()

	key := s.cacheKey(req, cfg.Fusion)
	if cached, ok := s.respCache.Get(key); ok {
		s.stats.recordCache(true)
		metrics.SearchCacheTotal.WithLabelValues("hit").Inc()
		return Response{Results: cached, Cached: true, TookMS: time.Since(started).Milliseconds()}, nil
	}
	s.stats.recordCache(false)
	metrics.SearchCacheTotal.WithLabelValues("miss").Inc()

	strat := req.Strategy()
	s.stats.recordStrategy(strat.UsesVector(), strat.UsesKeyword())

	vectorRows, keywordRows, err := s.dispatch(ctx, req)
	if err != nil {
		metrics.SearchRequestsTotal.WithLabelValues(string(strat), "error").Inc()
		return Response{}, s.classify(err)
	}

	fusionStart := time.Now()
	fused := fuse(vectorRows, keywordRows, cfg.Fusion)
	if len(fused) > req.Limit() {
		fused = fused[:req.Limit()]
	}
	if fused == nil {
		fused = []result.Fused{}
	}

	var scoreSum float64
	for i := range fused {
		scoreSum += fused[i].FusionScore
	}
	avgScore := 0.0
	if len(fused) > 0 {
		avgScore = scoreSum / float64(len(fused))
	}

	fusionMS := float64(time.Since(fusionStart).Microseconds()) / 1000
	s.stats.recordFusion(fusionMS, len(fused), avgScore)
	metrics.SearchPhaseDuration.WithLabelValues("fusion").Observe(time.Since(fusionStart).Seconds())
	metrics.SearchResultCount.Observe(float64(len(fused)))
	metrics.SearchRequestsTotal.WithLabelValues(string(strat), "success").Inc()

	s.respCache.Set(key, fused)
	return Response{Results: fused, TookMS: time.Since(started).Milliseconds()}, nil
}

// dispatch runs the legs the strategy asks for; both legs run concurrently
// for hybrid strategies so latency is bounded by the slower one. The keyword
// adapter degrades backend failures to empty rows, but a search that ran out
// of time must still fail: an expired ctx is surfaced here so the empty legs
// never masquerade as a cacheable success.
func (s *Service) dispatch(ctx context.Context, req *request.Request) ([]result.Raw, []result.Raw, error) {
	strat := req.Strategy()

	var vectorRows, keywordRows []result.Raw

	if !strat.UsesVector() {
		keywordRows = s.timedKeyword(ctx, req)
		if err := ctx.Err(); err != nil {
			return nil, nil, fmt.Errorf("keyword search: %w", err)
		}
		return nil, keywordRows, nil
	}

	// The vector leg needs the query embedding first.
	emb, err := s.embed.Generate(ctx, req.Query())
	if err != nil {
		return nil, nil, fmt.Errorf("embed query: %w", err)
	}

	if !strat.UsesKeyword() {
		vectorRows, err = s.timedVector(ctx, req, emb.Embedding)
		return vectorRows, nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var vErr error
		vectorRows, vErr = s.timedVector(gctx, req, emb.Embedding)
		return vErr
	})
	g.Go(func() error {
		keywordRows = s.timedKeyword(gctx, req)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("search deadline: %w", err)
	}
	return vectorRows, keywordRows, nil
}

func (s *Service) timedVector(ctx context.Context, req *request.Request, embedding []float32) ([]result.Raw, error) {
	start := time.Now()
	rows, err := s.vectorSvc.Search(
		ctx, embedding, req.Query(), req.TenantID(),
		req.Threshold(), req.Limit(), req.Filters(),
	)
	elapsed := time.Since(start)
	s.stats.recordVectorMS(float64(elapsed.Microseconds()) / 1000)
	metrics.SearchPhaseDuration.WithLabelValues("vector").Observe(elapsed.Seconds())
	return rows, err
}

func (s *Service) timedKeyword(ctx context.Context, req *request.Request) []result.Raw {
	start := time.Now()
	rows := s.kwSvc.Search(ctx, req.Query(), req.TenantID(), req.Filters(), req.Limit())
	elapsed := time.Since(start)
	s.stats.recordKeywordMS(float64(elapsed.Microseconds()) / 1000)
	metrics.SearchPhaseDuration.WithLabelValues("keyword").Observe(elapsed.Seconds())
	return rows
}

// classify maps a deadline hit to the timeout error; partial results were
// already discarded by the caller returning early.
func (s *Service) classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%v: %w", err, domain.ErrTimeout)
	}
	return err
}

// cacheKey hashes every request field plus the active fusion configuration,
// so weight or algorithm changes invalidate old entries implicitly.
func (s *Service) cacheKey(req *request.Request, fusion FusionConfig) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%d\x00%.6f\x00%s\x00",
		req.Query(), req.TenantID(), req.Limit(), req.Threshold(), req.Strategy())
	req.Filters().WriteDigest(h)
	fmt.Fprintf(h, "%s\x00%d\x00%.6f\x00%.6f\x00%.6f",
		fusion.Algorithm, fusion.RRFK, fusion.VectorWeight, fusion.KeywordWeight, fusion.AdaptiveBlend)
	return hex.EncodeToString(h.Sum(nil))
}

// Stats returns a snapshot of the engine counters.
func (s *Service) Stats() Stats { return s.stats.snapshot() }

// CacheStats exposes the fused-response cache counters.
func (s *Service) CacheStats() cache.Stats { return s.respCache.Stats() }

// ClearCache drops all fused responses.
func (s *Service) ClearCache() { s.respCache.Clear() }

// UpdateConfig applies a partial config update. Old cache entries become
// unreachable through key composition rather than explicit invalidation.
func (s *Service) UpdateConfig(patch ConfigPatch) error {
	cfg := s.cfgStore.get()

	if patch.Algorithm != nil {
		cfg.Fusion.Algorithm = *patch.Algorithm
	}
	if patch.RRFK != nil {
		cfg.Fusion.RRFK = *patch.RRFK
	}
	if patch.VectorWeight != nil {
		cfg.Fusion.VectorWeight = *patch.VectorWeight
	}
	if patch.KeywordWeight != nil {
		cfg.Fusion.KeywordWeight = *patch.KeywordWeight
	}
	if patch.AdaptiveBlend != nil {
		cfg.Fusion.AdaptiveBlend = *patch.AdaptiveBlend
	}
	if patch.SearchTimeout != nil {
		if *patch.SearchTimeout <= 0 {
			return fmt.Errorf("search timeout must be positive: %w", domain.ErrValidation)
		}
		cfg.SearchTimeout = *patch.SearchTimeout
	}

	if err := cfg.Fusion.validate(); err != nil {
		return fmt.Errorf("%v: %w", err, domain.ErrValidation)
	}

	s.cfgStore.set(cfg)
	s.logger.Info("Engine config updated",
		zap.String("algorithm", string(cfg.Fusion.Algorithm)),
		zap.Int("rrf_k", cfg.Fusion.RRFK),
		zap.Float64("vector_weight", cfg.Fusion.VectorWeight),
		zap.Float64("keyword_weight", cfg.Fusion.KeywordWeight),
	)
	return nil
}

// Config returns the active configuration.
func (s *Service) Config() Config { return s.cfgStore.get() }
