// Package keyword is the full-text adapter: it normalizes the query into a
// recall-oriented disjunction and shields callers from backend outages so a
// keyword failure degrades hybrid search instead of killing it.
package keyword

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/chatlift/retrieval/internal/domain/search/filter"
	"github.com/chatlift/retrieval/internal/domain/search/result"
)

// minTokenLength drops noise tokens; anything this short rarely discriminates.
const minTokenLength = 3

// Repository is the storage backend's full-text RPC.
type Repository interface {
	KeywordSearch(
		ctx context.Context, query, tenantID string,
		filters filter.Expression, limit int,
	) ([]result.Raw, error)
}

// Service is the keyword search adapter.
type Service struct {
	repo   Repository
	logger *zap.Logger
}

// New creates the adapter.
func New(repo Repository, logger *zap.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Search issues a prepared full-text query. Backend errors return an empty
// result set: a keyword outage must degrade hybrid search to vector-only,
// never fail the whole request.
func (s *Service) Search(
	ctx context.Context, query, tenantID string,
	filters filter.Expression, limit int,
) []result.Raw {
	prepared := PrepareQuery(query)

	rows, err := s.repo.KeywordSearch(ctx, prepared, tenantID, filters, limit)
	if err != nil {
		s.logger.Warn("Keyword backend failed, degrading to empty results",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
		return nil
	}
	return rows
}

var nonWord = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
var whitespace = regexp.MustCompile(`\s+`)

// PrepareQuery strips non-word characters, collapses whitespace, drops short
// tokens, and OR-joins the remainder to favor recall. When nothing survives
// the raw query is used unmodified.
func PrepareQuery(query string) string {
	cleaned := nonWord.ReplaceAllString(query, " ")
	cleaned = whitespace.ReplaceAllString(strings.TrimSpace(cleaned), " ")

	var tokens []string
	for _, tok := range strings.Split(cleaned, " ") {
		if len(tok) >= minTokenLength {
			tokens = append(tokens, tok)
		}
	}
	if len(tokens) == 0 {
		return query
	}
	return strings.Join(tokens, " | ")
}
