package hybrid

import (
	"context"

	"github.com/chatlift/retrieval/internal/domain"
	"github.com/chatlift/retrieval/internal/domain/search/filter"
	"github.com/chatlift/retrieval/internal/domain/search/result"
)

// Embedder produces the query embedding (consumer interface, ISP).
type Embedder interface {
	Generate(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

// VectorSearcher is the similarity leg.
type VectorSearcher interface {
	Search(
		ctx context.Context, embedding []float32, query, tenantID string,
		threshold float64, limit int, filters filter.Expression,
	) ([]result.Raw, error)
}

// KeywordSearcher is the full-text leg. It never fails; backend outages
// surface as an empty result set.
type KeywordSearcher interface {
	Search(
		ctx context.Context, query, tenantID string,
		filters filter.Expression, limit int,
	) []result.Raw
}
