// Package search adapts raw storage backend rows into domain results.
package search

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/chatlift/retrieval/internal/db"
	"github.com/chatlift/retrieval/internal/domain/search/filter"
	"github.com/chatlift/retrieval/internal/domain/search/result"
)

// store is the consumer interface for search operations (ISP).
type store interface {
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	SearchBM25(ctx context.Context, q *db.TextQuery) (*db.SearchResult, error)
}

// Repo issues the two storage RPCs against the shared knowledge index.
type Repo struct {
	store     store
	keyPrefix string
}

// New creates a search repository. keyPrefix namespaces all backend keys.
func New(s store, keyPrefix string) *Repo {
	return &Repo{store: s, keyPrefix: keyPrefix}
}

func (r *Repo) indexName() string {
	return r.keyPrefix + "knowledge:idx"
}

func (r *Repo) docPrefix() string {
	return r.keyPrefix + "knowledge:"
}

// VectorSearch runs the similarity RPC and maps rows to domain results.
func (r *Repo) VectorSearch(
	ctx context.Context, embedding []float32, tenantID string,
	filters filter.Expression, limit int,
) ([]result.Raw, error) {
	sr, err := r.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName: r.indexName(),
		Vector:    embedding,
		K:         limit,
		Filters:   filters,
		TenantID:  tenantID,
	})
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return r.mapEntries(sr), nil
}

// KeywordSearch runs the full-text RPC and maps rows to domain results.
func (r *Repo) KeywordSearch(
	ctx context.Context, query, tenantID string,
	filters filter.Expression, limit int,
) ([]result.Raw, error) {
	sr, err := r.store.SearchBM25(ctx, &db.TextQuery{
		IndexName: r.indexName(),
		Query:     query,
		TopK:      limit,
		Filters:   filters,
		TenantID:  tenantID,
	})
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	return r.mapEntries(sr), nil
}

func (r *Repo) mapEntries(sr *db.SearchResult) []result.Raw {
	if sr == nil || len(sr.Entries) == 0 {
		return nil
	}

	out := make([]result.Raw, 0, len(sr.Entries))
	for _, e := range sr.Entries {
		out = append(out, result.Raw{
			ID:       strings.TrimPrefix(e.Key, r.docPrefix()),
			Content:  e.Fields["content"],
			Score:    e.Score,
			Metadata: parseMetadata(e.Fields),
		})
	}
	return out
}

func parseMetadata(fields map[string]string) result.Metadata {
	m := result.Metadata{
		NodeType: fields["node_type"],
		TenantID: fields["tenant_id"],
	}
	if tags := fields["tags"]; tags != "" {
		m.Tags = strings.Split(tags, ",")
	}
	if v, err := strconv.ParseInt(fields["created_at"], 10, 64); err == nil {
		m.CreatedAt = v
	}
	if v, err := strconv.ParseInt(fields["updated_at"], 10, 64); err == nil {
		m.UpdatedAt = v
	}
	return m
}
