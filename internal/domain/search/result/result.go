// Package result defines per-backend and fused search hits. Fused results are
// serialized into the response cache, so fields are exported and JSON-tagged.
package result

// Source identifies the backend a hit came from.
type Source string

// Result sources.
const (
	SourceVector  Source = "vector"
	SourceKeyword Source = "keyword"
)

// Metadata is the document metadata carried with every hit.
type Metadata struct {
	NodeType  string            `json:"nodeType,omitempty"`
	Tags      []string          `json:"tags,omitempty"`
	CreatedAt int64             `json:"createdAt,omitempty"`
	UpdatedAt int64             `json:"updatedAt,omitempty"`
	TenantID  string            `json:"tenantId,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// Raw is a single backend hit. Score semantics differ by backend (cosine
// similarity for vector, backend rank score for keyword) and must not be
// compared across backends without normalization.
type Raw struct {
	ID       string   `json:"id"`
	Content  string   `json:"content"`
	Score    float64  `json:"score"`
	Metadata Metadata `json:"metadata"`
}

// Fused is a merged hit carrying per-source evidence and the fusion score.
// Sources is never empty. Ranks are 1-based positions in the source's own
// ordering; a nil rank means the document was absent from that source.
type Fused struct {
	ID           string   `json:"id"`
	Content      string   `json:"content"`
	Metadata     Metadata `json:"metadata"`
	VectorScore  *float64 `json:"vectorScore,omitempty"`
	KeywordScore *float64 `json:"keywordScore,omitempty"`
	FusionScore  float64  `json:"fusionScore"`
	Sources      []Source `json:"sources"`
	VectorRank   *int     `json:"vectorRank,omitempty"`
	KeywordRank  *int     `json:"keywordRank,omitempty"`
}

// HasSource reports whether the hit came from the given backend.
func (f *Fused) HasSource(s Source) bool {
	for _, src := range f.Sources {
		if src == s {
			return true
		}
	}
	return false
}
