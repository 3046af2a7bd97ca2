// Package db defines the storage backend contract. The backend is opaque to
// the retrieval engine: it exposes a vector similarity search, a full-text
// keyword search, and a best-effort key-value cache store.
package db

import (
	"context"
	"time"

	"github.com/chatlift/retrieval/internal/domain/search/filter"
)

// Store is the database facade. Consumers depend on the narrow sub-interfaces.
type Store interface {
	Pinger
	KVStore
	Searcher
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// KVStore is the distributed cache store contract: best-effort get/put with TTL.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// KNNQuery is a vector similarity search request.
type KNNQuery struct {
	IndexName string
	Vector    []float32
	K         int
	Filters   filter.Expression
	// TenantID is injected as a mandatory tag filter into the query.
	TenantID string
}

// TextQuery is a full-text search request.
type TextQuery struct {
	IndexName string
	Query     string
	TopK      int
	Filters   filter.Expression
	TenantID  string
}

// SearchEntry is one row returned by the backend.
type SearchEntry struct {
	Key    string
	Score  float64
	Fields map[string]string
}

// SearchResult is the raw backend response.
type SearchResult struct {
	Total   int
	Entries []SearchEntry
}

// Searcher provides the two remote search procedures.
type Searcher interface {
	SearchKNN(ctx context.Context, q *KNNQuery) (*SearchResult, error)
	SearchBM25(ctx context.Context, q *TextQuery) (*SearchResult, error)
}
