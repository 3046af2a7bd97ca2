package request

import (
	"fmt"
	"strings"

	"github.com/chatlift/retrieval/internal/domain"
	"github.com/chatlift/retrieval/internal/domain/search/filter"
	"github.com/chatlift/retrieval/internal/domain/search/strategy"
)

// Search parameter limits.
const (
	// MaxQueryLength is the maximum allowed query length in characters.
	MaxQueryLength = 1000
	DefaultLimit   = 10
	MaxLimit       = 100
)

// Request is a validated, immutable search query scoped to one tenant.
type Request struct {
	query     string
	tenantID  string
	filters   filter.Expression
	limit     int
	threshold float64
	strat     strategy.Strategy
}

// New validates and normalizes search parameters.
// Defaults: strategy=auto, limit=10. Threshold 0 means "use the engine default".
func New(
	query, tenantID string,
	filters filter.Expression,
	limit int,
	threshold float64,
	strat strategy.Strategy,
) (Request, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Request{}, fmt.Errorf("query is required: %w", domain.ErrValidation)
	}
	if len(query) > MaxQueryLength {
		return Request{}, fmt.Errorf("query too long (max %d chars): %w", MaxQueryLength, domain.ErrValidation)
	}
	if tenantID == "" {
		return Request{}, fmt.Errorf("tenant id is required: %w", domain.ErrValidation)
	}
	if strat == "" {
		strat = strategy.Auto
	}
	if !strat.IsValid() {
		return Request{}, fmt.Errorf("invalid strategy %q: %w", strat, domain.ErrValidation)
	}
	if limit == 0 {
		limit = DefaultLimit
	}
	if limit < 1 || limit > MaxLimit {
		return Request{}, fmt.Errorf("limit must be between 1 and %d: %w", MaxLimit, domain.ErrValidation)
	}
	if threshold < 0 || threshold > 1 {
		return Request{}, fmt.Errorf("threshold must be between 0 and 1: %w", domain.ErrValidation)
	}

	return Request{
		query:     query,
		tenantID:  tenantID,
		filters:   filters,
		limit:     limit,
		threshold: threshold,
		strat:     strat,
	}, nil
}

// Query returns the search query text.
func (r *Request) Query() string { return r.query }

// TenantID returns the tenant scope.
func (r *Request) TenantID() string { return r.tenantID }

// Filters returns the structured predicate.
func (r *Request) Filters() filter.Expression { return r.filters }

// Limit returns the maximum results to return.
func (r *Request) Limit() int { return r.limit }

// Threshold returns the minimum similarity threshold (0 = engine default).
func (r *Request) Threshold() float64 { return r.threshold }

// Strategy returns the dispatch strategy.
func (r *Request) Strategy() strategy.Strategy { return r.strat }
