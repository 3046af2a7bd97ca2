package hybrid

import "sync"

// Stats is a snapshot of engine counters. Averages use the incremental
// formula avg' = (avg*n + x)/(n+1).
type Stats struct {
	VectorSearches  uint64  `json:"vectorSearches"`
	KeywordSearches uint64  `json:"keywordSearches"`
	HybridSearches  uint64  `json:"hybridSearches"`
	CacheHits       uint64  `json:"cacheHits"`
	CacheMisses     uint64  `json:"cacheMisses"`
	AvgVectorMS     float64 `json:"avgVectorMs"`
	AvgKeywordMS    float64 `json:"avgKeywordMs"`
	AvgFusionMS     float64 `json:"avgFusionMs"`
	AvgResultCount  float64 `json:"avgResultCount"`
	AvgFusionScore  float64 `json:"avgFusionScore"`
	CacheHitRate    float64 `json:"cacheHitRate"`
}

// tracker owns the mutable counters behind a snapshot accessor.
type tracker struct {
	mu sync.Mutex
	s  Stats

	vectorSamples  uint64
	keywordSamples uint64
	fusionSamples  uint64
	resultSamples  uint64
	scoreSamples   uint64
}

func (t *tracker) snapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := t.s
	if total := t.s.CacheHits + t.s.CacheMisses; total > 0 {
		out.CacheHitRate = float64(t.s.CacheHits) / float64(total)
	}
	return out
}

func (t *tracker) recordCache(hit bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if hit {
		t.s.CacheHits++
	} else {
		t.s.CacheMisses++
	}
}

func (t *tracker) recordStrategy(usesVector, usesKeyword bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case usesVector && usesKeyword:
		t.s.HybridSearches++
	case usesVector:
		t.s.VectorSearches++
	default:
		t.s.KeywordSearches++
	}
}

func (t *tracker) recordVectorMS(ms float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.AvgVectorMS = incAvg(t.s.AvgVectorMS, t.vectorSamples, ms)
	t.vectorSamples++
}

func (t *tracker) recordKeywordMS(ms float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.AvgKeywordMS = incAvg(t.s.AvgKeywordMS, t.keywordSamples, ms)
	t.keywordSamples++
}

func (t *tracker) recordFusion(ms float64, resultCount int, avgScore float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.AvgFusionMS = incAvg(t.s.AvgFusionMS, t.fusionSamples, ms)
	t.fusionSamples++
	t.s.AvgResultCount = incAvg(t.s.AvgResultCount, t.resultSamples, float64(resultCount))
	t.resultSamples++
	if resultCount > 0 {
		t.s.AvgFusionScore = incAvg(t.s.AvgFusionScore, t.scoreSamples, avgScore)
		t.scoreSamples++
	}
}

func incAvg(avg float64, n uint64, x float64) float64 {
	return (avg*float64(n) + x) / float64(n+1)
}
