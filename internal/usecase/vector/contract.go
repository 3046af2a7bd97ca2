package vector

import (
	"context"

	"github.com/chatlift/retrieval/internal/domain/search/filter"
	"github.com/chatlift/retrieval/internal/domain/search/result"
)

// Repository is the storage backend's similarity RPC.
type Repository interface {
	VectorSearch(
		ctx context.Context, embedding []float32, tenantID string,
		filters filter.Expression, limit int,
	) ([]result.Raw, error)
}
