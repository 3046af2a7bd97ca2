package chi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	gochi "github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/chatlift/retrieval/internal/cache"
	"github.com/chatlift/retrieval/internal/domain"
	"github.com/chatlift/retrieval/internal/domain/search/filter"
	"github.com/chatlift/retrieval/internal/domain/search/result"
	"github.com/chatlift/retrieval/internal/resilience"
	embeddinguc "github.com/chatlift/retrieval/internal/usecase/embedding"
	healthuc "github.com/chatlift/retrieval/internal/usecase/health"
	hybriduc "github.com/chatlift/retrieval/internal/usecase/hybrid"
)

// --- Stubs ---

type stubProvider struct {
	vec []float32
	err error
}

func (s *stubProvider) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	if s.err != nil {
		return domain.EmbeddingResult{}, s.err
	}
	return domain.EmbeddingResult{Embedding: s.vec, Model: "stub"}, nil
}

func (s *stubProvider) BatchEmbed(_ context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	out := domain.BatchEmbeddingResult{Model: "stub"}
	for range texts {
		out.Embeddings = append(out.Embeddings, s.vec)
	}
	return out, nil
}

func (s *stubProvider) Model() string     { return "stub" }
func (s *stubProvider) MaxBatchSize() int { return 16 }

type stubVectorLeg struct {
	rows []result.Raw
	err  error
}

func (s *stubVectorLeg) Search(
	_ context.Context, _ []float32, _, _ string,
	_ float64, _ int, _ filter.Expression,
) ([]result.Raw, error) {
	return s.rows, s.err
}

type stubKeywordLeg struct{ rows []result.Raw }

func (s *stubKeywordLeg) Search(
	_ context.Context, _, _ string, _ filter.Expression, _ int,
) []result.Raw {
	return s.rows
}

type stubCaches struct{ cleared bool }

func (s *stubCaches) CacheStats() cache.Stats { return cache.Stats{} }
func (s *stubCaches) ClearCache()             { s.cleared = true }

type stubPinger struct{ err error }

func (s *stubPinger) Ping(_ context.Context) error { return s.err }

type testEnv struct {
	router *gochi.Mux
	caches *stubCaches
}

func newTestEnv(t *testing.T, provider *stubProvider, vec *stubVectorLeg, kw *stubKeywordLeg, pingErr error) testEnv {
	t.Helper()
	logger := zap.NewNop()

	exec := resilience.New("test", resilience.Config{MaxAttempts: 1}, logger)
	embSvc := embeddinguc.New(provider, nil, exec, embeddinguc.Config{Dimensions: 2}, logger)
	t.Cleanup(embSvc.Close)

	engine := hybriduc.New(embSvc, vec, kw, hybriduc.Config{}, logger)
	t.Cleanup(engine.Close)

	healthSvc := healthuc.New(&stubPinger{err: pingErr}, embSvc, nil)

	caches := &stubCaches{}
	server := NewServer(engine, embSvc, caches, healthSvc, logger)

	r := gochi.NewRouter()
	server.Register(r)
	return testEnv{router: r, caches: caches}
}

func doJSON(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

// --- Tests ---

func TestSearchEndpoint_Success(t *testing.T) {
	env := newTestEnv(t,
		&stubProvider{vec: []float32{0.1, 0.2}},
		&stubVectorLeg{rows: []result.Raw{{ID: "a", Content: "refund policy", Score: 0.9}}},
		&stubKeywordLeg{},
		nil,
	)

	rr := doJSON(t, env.router, "POST", "/v1/search",
		`{"query":"refund policy","tenantId":"tenant-1","strategy":"hybrid"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Results []result.Fused `json:"results"`
		Cached  bool           `json:"cached"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].ID != "a" {
		t.Fatalf("unexpected results: %+v", resp.Results)
	}
}

func TestSearchEndpoint_MalformedJSON(t *testing.T) {
	env := newTestEnv(t, &stubProvider{vec: []float32{0.1, 0.2}}, &stubVectorLeg{}, &stubKeywordLeg{}, nil)

	rr := doJSON(t, env.router, "POST", "/v1/search", `{"query":`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestSearchEndpoint_ValidationErrorMapsTo400(t *testing.T) {
	env := newTestEnv(t, &stubProvider{vec: []float32{0.1, 0.2}}, &stubVectorLeg{}, &stubKeywordLeg{}, nil)

	rr := doJSON(t, env.router, "POST", "/v1/search", `{"query":"","tenantId":"t"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}

	var errResp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if errResp["code"] != codeValidationFailed {
		t.Errorf("expected code %q, got %q", codeValidationFailed, errResp["code"])
	}
}

func TestSearchEndpoint_RateLimitMapsTo429(t *testing.T) {
	env := newTestEnv(t, &stubProvider{err: domain.ErrRateLimited}, &stubVectorLeg{}, &stubKeywordLeg{}, nil)

	rr := doJSON(t, env.router, "POST", "/v1/search",
		`{"query":"refund","tenantId":"t","strategy":"vector"}`)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
}

func TestSearchEndpoint_BackendFailureMapsTo503(t *testing.T) {
	env := newTestEnv(t,
		&stubProvider{vec: []float32{0.1, 0.2}},
		&stubVectorLeg{err: domain.ErrBackendUnavailable},
		&stubKeywordLeg{},
		nil,
	)

	rr := doJSON(t, env.router, "POST", "/v1/search",
		`{"query":"refund","tenantId":"t","strategy":"vector"}`)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestSearchEndpoint_FilterParsing(t *testing.T) {
	env := newTestEnv(t, &stubProvider{vec: []float32{0.1, 0.2}}, &stubVectorLeg{}, &stubKeywordLeg{}, nil)

	body := `{
		"query": "refund",
		"tenantId": "t",
		"strategy": "keyword",
		"filters": {
			"must": [{"key": "node_type", "match": "faq"}],
			"mustNot": [{"key": "created_at", "range": {"lt": 100}}]
		}
	}`
	rr := doJSON(t, env.router, "POST", "/v1/search", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	// A condition with both match and range is rejected.
	bad := `{
		"query": "refund",
		"tenantId": "t",
		"filters": {"must": [{"key": "f", "match": "x", "range": {"lt": 1}}]}
	}`
	rr = doJSON(t, env.router, "POST", "/v1/search", bad)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for ambiguous condition, got %d", rr.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	env := newTestEnv(t, &stubProvider{vec: []float32{0.1, 0.2}}, &stubVectorLeg{}, &stubKeywordLeg{}, nil)

	rr := doJSON(t, env.router, "GET", "/v1/stats", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp statsResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	for _, tier := range []string{"search", "vector", "embedding"} {
		if _, ok := resp.Caches[tier]; !ok {
			t.Errorf("missing %s cache stats", tier)
		}
	}
}

func TestConfigEndpoint(t *testing.T) {
	env := newTestEnv(t, &stubProvider{vec: []float32{0.1, 0.2}}, &stubVectorLeg{}, &stubKeywordLeg{}, nil)

	rr := doJSON(t, env.router, "PATCH", "/v1/config", `{"algorithm":"weighted","rrfK":30}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode config: %v", err)
	}
	if resp["algorithm"] != "weighted" {
		t.Errorf("expected algorithm weighted, got %v", resp["algorithm"])
	}

	rr = doJSON(t, env.router, "PATCH", "/v1/config", `{"algorithm":"cosine"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown algorithm, got %d", rr.Code)
	}
}

func TestCacheClearEndpoint(t *testing.T) {
	env := newTestEnv(t, &stubProvider{vec: []float32{0.1, 0.2}}, &stubVectorLeg{}, &stubKeywordLeg{}, nil)

	rr := doJSON(t, env.router, "POST", "/v1/cache/clear", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !env.caches.cleared {
		t.Error("expected the vector cache tier to be cleared")
	}
}

func TestHealthEndpoint(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		env := newTestEnv(t, &stubProvider{vec: []float32{0.1, 0.2}}, &stubVectorLeg{}, &stubKeywordLeg{}, nil)
		rr := doJSON(t, env.router, "GET", "/health", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
	})

	t.Run("degraded", func(t *testing.T) {
		env := newTestEnv(t, &stubProvider{vec: []float32{0.1, 0.2}}, &stubVectorLeg{}, &stubKeywordLeg{},
			context.DeadlineExceeded)
		rr := doJSON(t, env.router, "GET", "/health", "")
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", rr.Code)
		}
	})
}
