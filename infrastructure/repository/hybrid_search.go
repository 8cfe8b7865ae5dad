package repository

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"membank-backend/application/ports"
)

// Default hybrid weights
const (
	DefaultVectorWeight  = 0.7
	DefaultKeywordWeight = 0.3
)

// HybridSearch merges vector similarity with keyword matching over the
// metadata store. The vector path is primary; a keyword failure degrades
// to vector-only results.
type HybridSearch struct {
	vectors       ports.VectorIndex
	metadata      ports.MetadataStore
	vectorWeight  float64
	keywordWeight float64
	logger        *zap.Logger
}

// NewHybridSearch creates a hybrid searcher with the given weights, which
// should sum to 1.
func NewHybridSearch(
	vectors ports.VectorIndex,
	metadata ports.MetadataStore,
	vectorWeight, keywordWeight float64,
	logger *zap.Logger,
) *HybridSearch {
	if vectorWeight <= 0 && keywordWeight <= 0 {
		vectorWeight = DefaultVectorWeight
		keywordWeight = DefaultKeywordWeight
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HybridSearch{
		vectors:       vectors,
		metadata:      metadata,
		vectorWeight:  vectorWeight,
		keywordWeight: keywordWeight,
		logger:        logger,
	}
}

// Search runs the vector and keyword lookups and merges candidates by fact
// id with a weighted combined score, truncated to topK.
func (h *HybridSearch) Search(
	ctx context.Context,
	userID, query string,
	queryVec []float32,
	topK int,
	scoreThreshold float64,
) ([]ports.VectorHit, error) {
	vectorHits, err := h.vectors.Search(ctx, queryVec, userID, topK*2, scoreThreshold)
	if err != nil {
		return nil, err
	}

	keywordHits, err := h.metadata.KeywordSearch(ctx, userID, strings.Fields(strings.ToLower(query)), topK)
	if err != nil {
		h.logger.Warn("keyword search failed, falling back to vector results",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		if len(vectorHits) > topK {
			vectorHits = vectorHits[:topK]
		}
		return vectorHits, nil
	}

	return h.merge(vectorHits, keywordHits, topK), nil
}

// merge unions candidates by fact id. A missing component contributes 0 to
// the combined score.
func (h *HybridSearch) merge(vectorHits []ports.VectorHit, keywordHits []ports.KeywordHit, topK int) []ports.VectorHit {
	type scored struct {
		hit          ports.VectorHit
		vectorScore  float64
		keywordScore float64
	}

	merged := make(map[string]*scored, len(vectorHits)+len(keywordHits))
	order := make([]string, 0, len(vectorHits)+len(keywordHits))

	for _, hit := range vectorHits {
		merged[hit.FactID] = &scored{hit: hit, vectorScore: hit.Score}
		order = append(order, hit.FactID)
	}
	for _, kw := range keywordHits {
		if entry, ok := merged[kw.FactID]; ok {
			entry.keywordScore = kw.Score
			continue
		}
		merged[kw.FactID] = &scored{
			hit: ports.VectorHit{
				FactID:     kw.FactID,
				Content:    kw.Content,
				Category:   kw.Category,
				Confidence: kw.Confidence,
				CreatedAt:  kw.CreatedAt,
			},
			keywordScore: kw.Score,
		}
		order = append(order, kw.FactID)
	}

	results := make([]ports.VectorHit, 0, len(order))
	for _, factID := range order {
		entry := merged[factID]
		entry.hit.Score = entry.vectorScore*h.vectorWeight + entry.keywordScore*h.keywordWeight
		results = append(results, entry.hit)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results
}
