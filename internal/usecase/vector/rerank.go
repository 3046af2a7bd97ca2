package vector

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/chatlift/retrieval/internal/domain/search/result"
)

var wordSplitter = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// rerank re-scores rows as simWeight*similarity + overlapWeight*keywordOverlap
// and re-sorts descending. The stable sort keeps backend order for ties.
func (s *Service) rerank(query string, rows []result.Raw) ([]result.Raw, error) {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return nil, fmt.Errorf("no query tokens to rerank with")
	}

	reranked := make([]result.Raw, len(rows))
	for i, r := range rows {
		r.Score = s.cfg.RerankSimWeight*r.Score +
			s.cfg.RerankOverlapWeight*keywordOverlap(queryTokens, r.Content)
		reranked[i] = r
	}

	sort.SliceStable(reranked, func(i, j int) bool {
		return reranked[i].Score > reranked[j].Score
	})
	return reranked, nil
}

// keywordOverlap is the fraction of query tokens that appear as a substring
// of some content token.
func keywordOverlap(queryTokens []string, content string) float64 {
	contentTokens := tokenize(content)
	if len(contentTokens) == 0 {
		return 0
	}

	matched := 0
	for _, qt := range queryTokens {
		for _, ct := range contentTokens {
			if strings.Contains(ct, qt) {
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(len(queryTokens))
}

func tokenize(text string) []string {
	parts := wordSplitter.Split(strings.ToLower(text), -1)
	tokens := parts[:0]
	for _, p := range parts {
		if p != "" {
			tokens = append(tokens, p)
		}
	}
	return tokens
}
