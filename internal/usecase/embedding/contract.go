package embedding

import (
	"context"
	"time"

	"github.com/chatlift/retrieval/internal/domain"
)

// Provider is the embedding backend capability, resolved once at construction
// from the configured provider tag. Call sites never switch on the provider.
// Native batching is optional: providers that also implement
// domain.BatchEmbedder get one call per chunk, the rest are embedded
// sequentially.
type Provider interface {
	domain.Embedder
	Model() string
	MaxBatchSize() int
}

// KVStore is the distributed cache tier contract (best-effort).
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
