// Package health aggregates component health checks, including a canned
// end-to-end search through the full engine.
package health

import (
	"context"

	"github.com/chatlift/retrieval/internal/domain/search/filter"
	"github.com/chatlift/retrieval/internal/domain/search/request"
	"github.com/chatlift/retrieval/internal/domain/search/strategy"
	"github.com/chatlift/retrieval/internal/usecase/hybrid"
)

// healthTenant scopes the canned probe so it never touches real tenant data.
const healthTenant = "health"

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
)

// CheckResult represents an individual component outcome.
type CheckResult string

const (
	// CheckOK indicates a passing check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing check.
	CheckError CheckResult = "error"
)

// Report aggregates check results.
type Report struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// OK reports whether every check passed.
func (r Report) OK() bool { return r.Status == Healthy }

// DBPinger checks storage backend availability.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// EmbeddingChecker checks embedding provider availability.
type EmbeddingChecker interface {
	HealthCheck(ctx context.Context) error
}

// Engine runs the canned end-to-end probe query.
type Engine interface {
	Search(ctx context.Context, req *request.Request) (hybrid.Response, error)
}

// Service coordinates health checks.
type Service struct {
	db        DBPinger
	embedding EmbeddingChecker
	engine    Engine
}

// New creates a Service. embedding and engine may be nil.
func New(db DBPinger, embedding EmbeddingChecker, engine Engine) *Service {
	return &Service{db: db, embedding: embedding, engine: engine}
}

// Check runs health checks against all components.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)

	if err := s.db.Ping(ctx); err != nil {
		checks["database"] = CheckError
	} else {
		checks["database"] = CheckOK
	}

	if s.embedding != nil {
		if err := s.embedding.HealthCheck(ctx); err != nil {
			checks["embedding"] = CheckError
		} else {
			checks["embedding"] = CheckOK
		}
	}

	if s.engine != nil {
		checks["search"] = s.probeSearch(ctx)
	}

	status := Healthy
	for _, v := range checks {
		if v == CheckError {
			status = Degraded
			break
		}
	}

	return Report{Status: status, Checks: checks}
}

// probeSearch executes a trivial canned query end to end. Zero results is
// still a pass; only an error fails the check.
func (s *Service) probeSearch(ctx context.Context) CheckResult {
	req, err := request.New("health check", healthTenant, filter.Expression{}, 1, 0, strategy.Hybrid)
	if err != nil {
		return CheckError
	}
	if _, err := s.engine.Search(ctx, &req); err != nil {
		return CheckError
	}
	return CheckOK
}
