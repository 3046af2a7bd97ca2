package hybrid

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/chatlift/retrieval/internal/domain"
	"github.com/chatlift/retrieval/internal/domain/search/filter"
	"github.com/chatlift/retrieval/internal/domain/search/request"
	"github.com/chatlift/retrieval/internal/domain/search/result"
	"github.com/chatlift/retrieval/internal/domain/search/strategy"
)

// --- Mocks ---

type mockEmbedder struct {
	vec   []float32
	err   error
	calls int
}

func (m *mockEmbedder) Generate(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	m.calls++
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	return domain.EmbeddingResult{Embedding: m.vec, Model: "test-model"}, nil
}

type mockVector struct {
	rows  []result.Raw
	err   error
	block bool // wait for ctx cancellation instead of returning
	calls int
}

func (m *mockVector) Search(
	ctx context.Context, _ []float32, _, _ string,
	_ float64, _ int, _ filter.Expression,
) ([]result.Raw, error) {
	m.calls++
	if m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return m.rows, m.err
}

type mockKeyword struct {
	rows  []result.Raw
	block bool // degrade to nil only after ctx expires, like the adapter does
	calls int
}

func (m *mockKeyword) Search(
	ctx context.Context, _, _ string, _ filter.Expression, _ int,
) []result.Raw {
	m.calls++
	if m.block {
		<-ctx.Done()
		return nil
	}
	return m.rows
}

func newTestService(emb *mockEmbedder, vec *mockVector, kw *mockKeyword, cfg Config) *Service {
	return New(emb, vec, kw, cfg, zap.NewNop())
}

func mustRequest(t *testing.T, query string, limit int, strat strategy.Strategy) *request.Request {
	t.Helper()
	req, err := request.New(query, "tenant-1", filter.Expression{}, limit, 0, strat)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	return &req
}

// --- Tests ---

func TestSearch_HybridFusesBothLegs(t *testing.T) {
	emb := &mockEmbedder{vec: []float32{0.1, 0.2}}
	vec := &mockVector{rows: []result.Raw{raw("a", 0.9)}}
	kw := &mockKeyword{rows: []result.Raw{raw("b", 1.0), raw("a", 0.8)}}
	svc := newTestService(emb, vec, kw, Config{})
	defer svc.Close()

	resp, err := svc.Search(context.Background(), mustRequest(t, "refund policy", 10, strategy.Hybrid))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("expected 2 fused results, got %d", len(resp.Results))
	}
	if resp.Cached {
		t.Error("first search must not be cached")
	}
	if resp.Results[0].ID != "a" {
		t.Errorf("expected overlap doc ranked first, got %s", resp.Results[0].ID)
	}
	if vec.calls != 1 || kw.calls != 1 {
		t.Errorf("expected both legs called once, got vector=%d keyword=%d", vec.calls, kw.calls)
	}
}

func TestSearch_SecondCallServedFromCache(t *testing.T) {
	emb := &mockEmbedder{vec: []float32{0.1}}
	vec := &mockVector{rows: []result.Raw{raw("a", 0.9)}}
	kw := &mockKeyword{}
	svc := newTestService(emb, vec, kw, Config{})
	defer svc.Close()

	req := mustRequest(t, "refund policy", 10, strategy.Hybrid)
	first, err := svc.Search(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := svc.Search(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !second.Cached {
		t.Error("second identical search should be cached")
	}
	if vec.calls != 1 {
		t.Errorf("cached search must not hit the backend again, calls=%d", vec.calls)
	}
	if len(first.Results) != len(second.Results) {
		t.Errorf("cached results differ: %d vs %d", len(first.Results), len(second.Results))
	}

	stats := svc.Stats()
	if stats.CacheHits != 1 || stats.CacheMisses != 1 {
		t.Errorf("expected 1 hit / 1 miss, got %d / %d", stats.CacheHits, stats.CacheMisses)
	}
}

func TestSearch_KeywordStrategySkipsEmbedding(t *testing.T) {
	emb := &mockEmbedder{vec: []float32{0.1}}
	vec := &mockVector{}
	kw := &mockKeyword{rows: []result.Raw{raw("a", 1.0)}}
	svc := newTestService(emb, vec, kw, Config{})
	defer svc.Close()

	resp, err := svc.Search(context.Background(), mustRequest(t, "refund policy", 10, strategy.Keyword))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if emb.calls != 0 {
		t.Errorf("keyword-only search must not embed, calls=%d", emb.calls)
	}
	if vec.calls != 0 {
		t.Errorf("keyword-only search must not run the vector leg, calls=%d", vec.calls)
	}
	if len(resp.Results) != 1 || !resp.Results[0].HasSource(result.SourceKeyword) {
		t.Fatalf("expected one keyword hit, got %+v", resp.Results)
	}
}

func TestSearch_VectorStrategySkipsKeyword(t *testing.T) {
	emb := &mockEmbedder{vec: []float32{0.1}}
	vec := &mockVector{rows: []result.Raw{raw("a", 0.9)}}
	kw := &mockKeyword{rows: []result.Raw{raw("b", 1.0)}}
	svc := newTestService(emb, vec, kw, Config{})
	defer svc.Close()

	resp, err := svc.Search(context.Background(), mustRequest(t, "refund policy", 10, strategy.Vector))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kw.calls != 0 {
		t.Errorf("vector-only search must not run the keyword leg, calls=%d", kw.calls)
	}
	if len(resp.Results) != 1 || resp.Results[0].ID != "a" {
		t.Fatalf("expected the vector hit only, got %+v", resp.Results)
	}
}

func TestSearch_KeywordOutageDegradesToVectorOnly(t *testing.T) {
	emb := &mockEmbedder{vec: []float32{0.1}}
	vec := &mockVector{rows: []result.Raw{raw("a", 0.9)}}
	kw := &mockKeyword{rows: nil} // adapter already swallowed the backend error
	svc := newTestService(emb, vec, kw, Config{})
	defer svc.Close()

	resp, err := svc.Search(context.Background(), mustRequest(t, "refund policy", 10, strategy.Hybrid))
	if err != nil {
		t.Fatalf("expected degraded success, got %v", err)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("expected vector-only results, got %d", len(resp.Results))
	}
	if resp.Results[0].HasSource(result.SourceKeyword) {
		t.Error("degraded result must not claim the keyword source")
	}
}

func TestSearch_VectorFailureFailsRequest(t *testing.T) {
	emb := &mockEmbedder{vec: []float32{0.1}}
	vec := &mockVector{err: domain.ErrBackendUnavailable}
	kw := &mockKeyword{rows: []result.Raw{raw("b", 1.0)}}
	svc := newTestService(emb, vec, kw, Config{})
	defer svc.Close()

	_, err := svc.Search(context.Background(), mustRequest(t, "refund policy", 10, strategy.Hybrid))
	if !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestSearch_EmbeddingFailureFailsRequest(t *testing.T) {
	emb := &mockEmbedder{err: domain.ErrProvider}
	svc := newTestService(emb, &mockVector{}, &mockKeyword{}, Config{})
	defer svc.Close()

	_, err := svc.Search(context.Background(), mustRequest(t, "refund policy", 10, strategy.Hybrid))
	if !errors.Is(err, domain.ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}
}

func TestSearch_TimeoutMapsToErrTimeout(t *testing.T) {
	emb := &mockEmbedder{vec: []float32{0.1}}
	vec := &mockVector{block: true}
	svc := newTestService(emb, vec, &mockKeyword{}, Config{SearchTimeout: 20 * time.Millisecond})
	defer svc.Close()

	_, err := svc.Search(context.Background(), mustRequest(t, "refund policy", 10, strategy.Vector))
	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestSearch_KeywordOnlyTimeoutFailsAndIsNotCached(t *testing.T) {
	emb := &mockEmbedder{vec: []float32{0.1}}
	kw := &mockKeyword{block: true}
	svc := newTestService(emb, &mockVector{}, kw, Config{SearchTimeout: 20 * time.Millisecond})
	defer svc.Close()

	req := mustRequest(t, "refund policy", 10, strategy.Keyword)
	_, err := svc.Search(context.Background(), req)
	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	// Once the backend recovers the same request must run again: the timed-out
	// empty response must never have been cached.
	kw.block = false
	kw.rows = []result.Raw{raw("a", 1.0)}
	resp, err := svc.Search(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error after recovery: %v", err)
	}
	if resp.Cached {
		t.Error("timed-out response must not be served from cache")
	}
	if len(resp.Results) != 1 {
		t.Fatalf("expected fresh backend results, got %d", len(resp.Results))
	}
	if kw.calls != 2 {
		t.Errorf("expected keyword leg re-queried, calls=%d", kw.calls)
	}
}

func TestSearch_HybridKeywordStallTimesOut(t *testing.T) {
	emb := &mockEmbedder{vec: []float32{0.1}}
	vec := &mockVector{rows: []result.Raw{raw("a", 0.9)}}
	kw := &mockKeyword{block: true}
	svc := newTestService(emb, vec, kw, Config{SearchTimeout: 20 * time.Millisecond})
	defer svc.Close()

	_, err := svc.Search(context.Background(), mustRequest(t, "refund policy", 10, strategy.Hybrid))
	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestSearch_TruncatesToLimit(t *testing.T) {
	emb := &mockEmbedder{vec: []float32{0.1}}
	vec := &mockVector{rows: []result.Raw{raw("a", 0.9), raw("b", 0.8), raw("c", 0.7)}}
	svc := newTestService(emb, vec, &mockKeyword{}, Config{})
	defer svc.Close()

	resp, err := svc.Search(context.Background(), mustRequest(t, "refund policy", 2, strategy.Vector))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("expected results truncated to 2, got %d", len(resp.Results))
	}
}

func TestSearch_EmptyResultsIsNotNil(t *testing.T) {
	emb := &mockEmbedder{vec: []float32{0.1}}
	svc := newTestService(emb, &mockVector{}, &mockKeyword{}, Config{})
	defer svc.Close()

	resp, err := svc.Search(context.Background(), mustRequest(t, "refund policy", 10, strategy.Hybrid))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Results == nil {
		t.Fatal("empty results must serialize as [], not null")
	}
}

func TestUpdateConfig_InvalidatesCacheByKey(t *testing.T) {
	emb := &mockEmbedder{vec: []float32{0.1}}
	vec := &mockVector{rows: []result.Raw{raw("a", 0.9)}}
	svc := newTestService(emb, vec, &mockKeyword{}, Config{})
	defer svc.Close()

	req := mustRequest(t, "refund policy", 10, strategy.Vector)
	if _, err := svc.Search(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	k := 30
	if err := svc.UpdateConfig(ConfigPatch{RRFK: &k}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resp, err := svc.Search(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Cached {
		t.Error("config change must produce a new cache key")
	}
	if vec.calls != 2 {
		t.Errorf("expected backend re-query after config change, calls=%d", vec.calls)
	}
}

func TestUpdateConfig_Validation(t *testing.T) {
	svc := newTestService(&mockEmbedder{}, &mockVector{}, &mockKeyword{}, Config{})
	defer svc.Close()

	badAlg := Algorithm("cosine")
	if err := svc.UpdateConfig(ConfigPatch{Algorithm: &badAlg}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for unknown algorithm, got %v", err)
	}

	badTimeout := -time.Second
	if err := svc.UpdateConfig(ConfigPatch{SearchTimeout: &badTimeout}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for negative timeout, got %v", err)
	}

	// A failed patch must not mutate the active config.
	if got := svc.Config().Fusion.Algorithm; got != AlgorithmRRF {
		t.Errorf("failed patch mutated config: %s", got)
	}
}

func TestClearCache(t *testing.T) {
	emb := &mockEmbedder{vec: []float32{0.1}}
	vec := &mockVector{rows: []result.Raw{raw("a", 0.9)}}
	svc := newTestService(emb, vec, &mockKeyword{}, Config{})
	defer svc.Close()

	req := mustRequest(t, "refund policy", 10, strategy.Vector)
	if _, err := svc.Search(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	svc.ClearCache()

	resp, err := svc.Search(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Cached {
		t.Error("expected cache miss after clear")
	}
}
