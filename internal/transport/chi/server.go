// Package chi exposes the retrieval engine over HTTP.
package chi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/chatlift/retrieval/internal/cache"
	"github.com/chatlift/retrieval/internal/domain"
	"github.com/chatlift/retrieval/internal/domain/search/filter"
	"github.com/chatlift/retrieval/internal/domain/search/request"
	"github.com/chatlift/retrieval/internal/domain/search/strategy"
	embeddinguc "github.com/chatlift/retrieval/internal/usecase/embedding"
	healthuc "github.com/chatlift/retrieval/internal/usecase/health"
	hybriduc "github.com/chatlift/retrieval/internal/usecase/hybrid"
)

// Error codes returned in the body of non-2xx responses.
const (
	codeBadRequest         = "bad_request"
	codeValidationFailed   = "validation_failed"
	codeInputTooLarge      = "input_too_large"
	codeRateLimited        = "rate_limited"
	codeProviderError      = "embedding_provider_error"
	codeBackendUnavailable = "backend_unavailable"
	codeTimeout            = "timeout"
	codeInternalError      = "internal_error"
)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server wires the use case services into HTTP handlers.
type Server struct {
	engine        *hybriduc.Service
	embedding     *embeddinguc.Service
	vectorCaches  VectorCacheController
	health        *healthuc.Service
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// VectorCacheController exposes the vector adapter cache for stats and clearing.
type VectorCacheController interface {
	CacheStats() cache.Stats
	ClearCache()
}

// NewServer creates the HTTP API server.
func NewServer(
	engine *hybriduc.Service,
	embedding *embeddinguc.Service,
	vectorCaches VectorCacheController,
	health *healthuc.Service,
	logger *zap.Logger,
) *Server {
	s := &Server{
		engine:       engine,
		embedding:    embedding,
		vectorCaches: vectorCaches,
		health:       health,
		logger:       logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrValidation, http.StatusBadRequest, codeValidationFailed),
		sentinelHandler(domain.ErrInputTooLarge, http.StatusRequestEntityTooLarge, codeInputTooLarge),
		sentinelHandler(domain.ErrRateLimited, http.StatusTooManyRequests, codeRateLimited),
		sentinelHandler(domain.ErrProvider, http.StatusBadGateway, codeProviderError),
		sentinelHandler(domain.ErrBackendUnavailable, http.StatusServiceUnavailable, codeBackendUnavailable),
		sentinelHandler(domain.ErrTimeout, http.StatusGatewayTimeout, codeTimeout),
	}
	return s
}

// Register mounts all routes on the router.
func (s *Server) Register(r chi.Router) {
	r.Post("/v1/search", s.Search)
	r.Get("/v1/stats", s.Stats)
	r.Patch("/v1/config", s.PatchConfig)
	r.Post("/v1/cache/clear", s.ClearCache)
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
}

// searchRequest is the POST /v1/search body.
type searchRequest struct {
	Query     string            `json:"query"`
	TenantID  string            `json:"tenantId"`
	Filters   *filterExpression `json:"filters,omitempty"`
	Limit     *int              `json:"limit,omitempty"`
	Threshold *float64          `json:"threshold,omitempty"`
	Strategy  *string           `json:"strategy,omitempty"`
}

type filterExpression struct {
	Must    []filterCondition `json:"must,omitempty"`
	Should  []filterCondition `json:"should,omitempty"`
	MustNot []filterCondition `json:"mustNot,omitempty"`
}

type filterCondition struct {
	Key   string       `json:"key"`
	Match *string      `json:"match,omitempty"`
	Range *rangeFilter `json:"range,omitempty"`
}

type rangeFilter struct {
	Gt  *float64 `json:"gt,omitempty"`
	Gte *float64 `json:"gte,omitempty"`
	Lt  *float64 `json:"lt,omitempty"`
	Lte *float64 `json:"lte,omitempty"`
}

// Search handles POST /v1/search.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	var body searchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	req, err := searchRequestFromDTO(body)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	resp, err := s.engine.Search(r.Context(), &req)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// statsResponse is the GET /v1/stats body.
type statsResponse struct {
	Search    hybriduc.Stats         `json:"search"`
	Embedding embeddinguc.Stats      `json:"embedding"`
	Caches    map[string]cache.Stats `json:"caches"`
}

// Stats handles GET /v1/stats.
func (s *Server) Stats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		Search:    s.engine.Stats(),
		Embedding: s.embedding.Stats(),
		Caches: map[string]cache.Stats{
			"search":    s.engine.CacheStats(),
			"vector":    s.vectorCaches.CacheStats(),
			"embedding": s.embedding.CacheStats(),
		},
	}
	writeJSON(w, http.StatusOK, resp)
}

// configPatch is the PATCH /v1/config body. Timeout is in milliseconds.
type configPatch struct {
	Algorithm       *string  `json:"algorithm,omitempty"`
	RRFK            *int     `json:"rrfK,omitempty"`
	VectorWeight    *float64 `json:"vectorWeight,omitempty"`
	KeywordWeight   *float64 `json:"keywordWeight,omitempty"`
	AdaptiveBlend   *float64 `json:"adaptiveBlend,omitempty"`
	SearchTimeoutMS *int     `json:"searchTimeoutMs,omitempty"`
}

// PatchConfig handles PATCH /v1/config.
func (s *Server) PatchConfig(w http.ResponseWriter, r *http.Request) {
	var body configPatch
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	patch := hybriduc.ConfigPatch{
		RRFK:          body.RRFK,
		VectorWeight:  body.VectorWeight,
		KeywordWeight: body.KeywordWeight,
		AdaptiveBlend: body.AdaptiveBlend,
	}
	if body.Algorithm != nil {
		alg := hybriduc.Algorithm(*body.Algorithm)
		patch.Algorithm = &alg
	}
	if body.SearchTimeoutMS != nil {
		d := time.Duration(*body.SearchTimeoutMS) * time.Millisecond
		patch.SearchTimeout = &d
	}

	if err := s.engine.UpdateConfig(patch); err != nil {
		s.handleDomainError(w, err)
		return
	}

	cfg := s.engine.Config()
	writeJSON(w, http.StatusOK, map[string]any{
		"algorithm":       cfg.Fusion.Algorithm,
		"rrfK":            cfg.Fusion.RRFK,
		"vectorWeight":    cfg.Fusion.VectorWeight,
		"keywordWeight":   cfg.Fusion.KeywordWeight,
		"adaptiveBlend":   cfg.Fusion.AdaptiveBlend,
		"searchTimeoutMs": cfg.SearchTimeout.Milliseconds(),
	})
}

// ClearCache handles POST /v1/cache/clear. Drops every cache tier.
func (s *Server) ClearCache(w http.ResponseWriter, r *http.Request) {
	s.engine.ClearCache()
	s.vectorCaches.ClearCache()
	s.embedding.ClearCache()

	s.logger.Info("All caches cleared")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if !report.OK() {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, report)
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func searchRequestFromDTO(body searchRequest) (request.Request, error) {
	filters, err := filtersFromDTO(body.Filters)
	if err != nil {
		if !errors.Is(err, domain.ErrValidation) {
			err = fmt.Errorf("%v: %w", err, domain.ErrValidation)
		}
		return request.Request{}, err
	}

	strat := strategy.Auto
	if body.Strategy != nil {
		strat = strategy.Strategy(*body.Strategy)
	}

	limit := 0
	if body.Limit != nil {
		limit = *body.Limit
	}
	threshold := 0.0
	if body.Threshold != nil {
		threshold = *body.Threshold
	}

	return request.New(body.Query, body.TenantID, filters, limit, threshold, strat)
}

func filtersFromDTO(f *filterExpression) (filter.Expression, error) {
	if f == nil {
		return filter.Expression{}, nil
	}

	must, err := conditionsFromDTO(f.Must)
	if err != nil {
		return filter.Expression{}, err
	}
	should, err := conditionsFromDTO(f.Should)
	if err != nil {
		return filter.Expression{}, err
	}
	mustNot, err := conditionsFromDTO(f.MustNot)
	if err != nil {
		return filter.Expression{}, err
	}

	return filter.NewExpression(must, should, mustNot)
}

func conditionsFromDTO(cs []filterCondition) ([]filter.Condition, error) {
	if len(cs) == 0 {
		return nil, nil
	}
	out := make([]filter.Condition, 0, len(cs))
	for _, c := range cs {
		cond, err := conditionFromDTO(c)
		if err != nil {
			return nil, err
		}
		out = append(out, cond)
	}
	return out, nil
}

func conditionFromDTO(c filterCondition) (filter.Condition, error) {
	switch {
	case c.Match != nil && c.Range != nil:
		return filter.Condition{}, fmt.Errorf(
			"filter condition for %q must have match or range, not both: %w", c.Key, domain.ErrValidation)
	case c.Match != nil:
		return filter.NewMatch(c.Key, *c.Match)
	case c.Range != nil:
		bounds, err := filter.NewRangeBounds(c.Range.Gt, c.Range.Gte, c.Range.Lt, c.Range.Lte)
		if err != nil {
			return filter.Condition{}, err
		}
		return filter.NewRange(c.Key, bounds)
	default:
		return filter.Condition{}, fmt.Errorf(
			"filter condition for %q must have either match or range: %w", c.Key, domain.ErrValidation)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"code":    code,
		"message": message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrValidation,
		domain.ErrInputTooLarge,
		domain.ErrRateLimited,
		domain.ErrProvider,
		domain.ErrBackendUnavailable,
		domain.ErrTimeout,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}
