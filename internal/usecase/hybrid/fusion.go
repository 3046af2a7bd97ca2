package hybrid

import (
	"fmt"
	"sort"

	"github.com/chatlift/retrieval/internal/domain/search/result"
)

// Algorithm selects how per-source evidence collapses into one fusion score.
type Algorithm string

// Fusion algorithms.
const (
	// AlgorithmRRF rewards documents ranking highly in multiple lists:
	// score = sum of 1/(k + rank) over the sources the document appears in.
	AlgorithmRRF Algorithm = "rrf"
	// AlgorithmWeighted blends clamped absolute scores by configured weights.
	AlgorithmWeighted Algorithm = "weighted"
	// AlgorithmAdaptive blends weighted (absolute similarity) with RRF
	// (cross-source rank agreement).
	AlgorithmAdaptive Algorithm = "adaptive"
)

// IsValid checks whether the algorithm is supported.
func (a Algorithm) IsValid() bool {
	return a == AlgorithmRRF || a == AlgorithmWeighted || a == AlgorithmAdaptive
}

// FusionConfig tunes the fusion scoring. The 0.7/0.3 adaptive blend is an
// inherited heuristic, kept configurable because its optimality is unverified.
type FusionConfig struct {
	Algorithm     Algorithm `json:"algorithm" yaml:"algorithm"`
	RRFK          int       `json:"rrfK" yaml:"rrf_k"`
	VectorWeight  float64   `json:"vectorWeight" yaml:"vector_weight"`
	KeywordWeight float64   `json:"keywordWeight" yaml:"keyword_weight"`
	// AdaptiveBlend is the share of the weighted term in the adaptive score;
	// the RRF term gets the complement.
	AdaptiveBlend float64 `json:"adaptiveBlend" yaml:"adaptive_blend"`
}

func (c FusionConfig) withDefaults() FusionConfig {
	if c.Algorithm == "" {
		c.Algorithm = AlgorithmRRF
	}
	if c.RRFK <= 0 {
		c.RRFK = 60
	}
	if c.VectorWeight == 0 && c.KeywordWeight == 0 {
		c.VectorWeight = 0.7
		c.KeywordWeight = 0.3
	}
	if c.AdaptiveBlend <= 0 || c.AdaptiveBlend > 1 {
		c.AdaptiveBlend = 0.7
	}
	return c
}

func (c FusionConfig) validate() error {
	if !c.Algorithm.IsValid() {
		return fmt.Errorf("unknown fusion algorithm %q", c.Algorithm)
	}
	if c.RRFK <= 0 {
		return fmt.Errorf("rrf k must be positive")
	}
	if c.VectorWeight < 0 || c.KeywordWeight < 0 {
		return fmt.Errorf("fusion weights must be non-negative")
	}
	if c.AdaptiveBlend < 0 || c.AdaptiveBlend > 1 {
		return fmt.Errorf("adaptive blend must be within [0, 1]")
	}
	return nil
}

// fuse merges the two result lists by document identity, scores each merged
// hit per the configured algorithm, and sorts descending. Rank maps are
// 1-based positions in each source's own ordering; a document absent from a
// source keeps a nil rank and that source contributes zero.
func fuse(vectorRows, keywordRows []result.Raw, cfg FusionConfig) []result.Fused {
	merged := make(map[string]*result.Fused, len(vectorRows)+len(keywordRows))
	order := make([]string, 0, len(vectorRows)+len(keywordRows))

	for i, r := range vectorRows {
		rank := i + 1
		score := r.Score
		merged[r.ID] = &result.Fused{
			ID:          r.ID,
			Content:     r.Content,
			Metadata:    r.Metadata,
			VectorScore: &score,
			VectorRank:  &rank,
			Sources:     []result.Source{result.SourceVector},
		}
		order = append(order, r.ID)
	}

	for i, r := range keywordRows {
		rank := i + 1
		score := r.Score
		if f, ok := merged[r.ID]; ok {
			f.KeywordScore = &score
			f.KeywordRank = &rank
			f.Sources = append(f.Sources, result.SourceKeyword)
			continue
		}
		merged[r.ID] = &result.Fused{
			ID:           r.ID,
			Content:      r.Content,
			Metadata:     r.Metadata,
			KeywordScore: &score,
			KeywordRank:  &rank,
			Sources:      []result.Source{result.SourceKeyword},
		}
		order = append(order, r.ID)
	}

	fused := make([]result.Fused, 0, len(merged))
	for _, id := range order {
		f := merged[id]
		f.FusionScore = score(f, cfg)
		fused = append(fused, *f)
	}

	// Descending by fusion score. Tie order is unspecified; the stable sort
	// just keeps it deterministic for fixed inputs.
	sort.SliceStable(fused, func(i, j int) bool {
		return fused[i].FusionScore > fused[j].FusionScore
	})

	return fused
}

func score(f *result.Fused, cfg FusionConfig) float64 {
	switch cfg.Algorithm {
	case AlgorithmWeighted:
		return weightedScore(f, cfg)
	case AlgorithmAdaptive:
		return cfg.AdaptiveBlend*weightedScore(f, cfg) + (1-cfg.AdaptiveBlend)*rrfScore(f, cfg.RRFK)
	default:
		return rrfScore(f, cfg.RRFK)
	}
}

// rrfScore sums 1/(k+rank) over the sources the document appears in.
func rrfScore(f *result.Fused, k int) float64 {
	var s float64
	if f.VectorRank != nil {
		s += 1.0 / float64(k+*f.VectorRank)
	}
	if f.KeywordRank != nil {
		s += 1.0 / float64(k+*f.KeywordRank)
	}
	return s
}

// weightedScore blends absolute scores clamped to [0,1]; absent sources
// contribute zero.
func weightedScore(f *result.Fused, cfg FusionConfig) float64 {
	var s float64
	if f.VectorScore != nil {
		s += min(*f.VectorScore, 1) * cfg.VectorWeight
	}
	if f.KeywordScore != nil {
		s += min(*f.KeywordScore, 1) * cfg.KeywordWeight
	}
	return s
}
