package services

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"membank-backend/application/ports"
	"membank-backend/domain/memory"
	"membank-backend/infrastructure/cache"
)

// SearchOrchestrator walks the cache hierarchy in front of the vector
// store: L0 request map, L1 distributed cache, L2 materialised favourites
// (favourite-class queries only), the semantic query cache, then the
// repository with L3-memoised embeddings. Cache failures never surface; a
// vector-search failure does.
type SearchOrchestrator struct {
	kv             ports.KV
	favorites      *cache.FavoriteSummaryView
	semantic       *cache.SemanticCache
	embeddings     *cache.EmbeddingCache
	embedder       ports.Embedder
	facts          ports.FactRepository
	l1TTL          time.Duration
	scoreThreshold float64
	logger         *zap.Logger
}

// NewSearchOrchestrator wires the cache tiers around the repository
func NewSearchOrchestrator(
	kv ports.KV,
	favorites *cache.FavoriteSummaryView,
	semantic *cache.SemanticCache,
	embeddings *cache.EmbeddingCache,
	embedder ports.Embedder,
	facts ports.FactRepository,
	l1TTL time.Duration,
	scoreThreshold float64,
	logger *zap.Logger,
) *SearchOrchestrator {
	if l1TTL <= 0 {
		l1TTL = cache.DefaultTTL
	}
	if scoreThreshold <= 0 {
		scoreThreshold = 0.4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SearchOrchestrator{
		kv:             kv,
		favorites:      favorites,
		semantic:       semantic,
		embeddings:     embeddings,
		embedder:       embedder,
		facts:          facts,
		l1TTL:          l1TTL,
		scoreThreshold: scoreThreshold,
		logger:         logger,
	}
}

// Search answers a semantic query through the tier hierarchy
func (o *SearchOrchestrator) Search(ctx context.Context, query memory.SearchQuery) ([]memory.SearchResult, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}
	threshold := query.ScoreThreshold
	if threshold <= 0 {
		threshold = o.scoreThreshold
	}

	versionTag := o.kv.GetUserVersion(ctx, query.UserID)
	key := cache.SearchKey(query.UserID, query.Query, versionTag)
	l0 := cache.RequestCacheFrom(ctx)

	// L0: request-scoped map
	if l0 != nil {
		if cached, ok := l0.Get(key); ok {
			if results, ok := cached.([]memory.SearchResult); ok {
				o.logger.Debug("L0 cache hit", zap.String("user_id", query.UserID))
				return results, nil
			}
		}
	}

	// L1: distributed cache
	if raw, ok := o.kv.Get(ctx, key); ok {
		if results, ok := decodeResults(raw); ok {
			o.logger.Debug("L1 cache hit", zap.String("user_id", query.UserID))
			o.storeL0(l0, key, results)
			return results, nil
		}
	}

	// L2: materialised favourite summary, favourite-class queries only
	if cache.IsFavoriteQuery(query.Query) {
		if summary, ok := o.favorites.Get(ctx, query.UserID); ok {
			results := favoriteSummaryToResults(summary)
			o.storeL1(ctx, key, results)
			o.storeL0(l0, key, results)
			return results, nil
		}
	}

	// Semantic cache, exact hash first (no embedding needed yet)
	if raw, ok := o.semantic.Get(ctx, query.UserID, query.Query, nil, versionTag); ok {
		if results, ok := decodeResults(raw); ok {
			o.storeL1(ctx, key, results)
			o.storeL0(l0, key, results)
			return results, nil
		}
	}

	// Embed the query: L3 first, then the embedder
	queryVec, ok := o.embeddings.Get(ctx, query.Query)
	if !ok {
		var err error
		queryVec, err = o.embedder.Embed(ctx, query.Query)
		if err != nil {
			return nil, err
		}
		o.embeddings.Set(ctx, query.Query, queryVec)
	}

	// Semantic cache again, now with the vector for approximate matching
	if raw, ok := o.semantic.Get(ctx, query.UserID, query.Query, queryVec, versionTag); ok {
		if results, ok := decodeResults(raw); ok {
			o.storeL1(ctx, key, results)
			o.storeL0(l0, key, results)
			return results, nil
		}
	}

	// Miss path: the repository answers
	facts, err := o.facts.SearchSimilar(ctx, query.UserID, queryVec, query.Limit, threshold, query.Query)
	if err != nil {
		return nil, err
	}

	results := factsToResults(facts)
	if len(results) > query.Limit {
		results = results[:query.Limit]
	}

	o.storeL1(ctx, key, results)
	o.storeL0(l0, key, results)
	if raw, err := json.Marshal(results); err == nil {
		o.semantic.Set(ctx, query.UserID, query.Query, queryVec, string(raw), versionTag, o.l1TTL)
	}

	o.logger.Info("search served from vector store",
		zap.String("user_id", query.UserID),
		zap.Int("results", len(results)),
	)
	return results, nil
}

func (o *SearchOrchestrator) storeL0(l0 *cache.RequestCache, key string, results []memory.SearchResult) {
	if l0 != nil {
		l0.Set(key, results)
	}
}

func (o *SearchOrchestrator) storeL1(ctx context.Context, key string, results []memory.SearchResult) {
	raw, err := json.Marshal(results)
	if err != nil {
		o.logger.Warn("failed to marshal search results for caching", zap.Error(err))
		return
	}
	o.kv.SetEx(ctx, key, string(raw), o.l1TTL)
}

func decodeResults(raw string) ([]memory.SearchResult, bool) {
	var results []memory.SearchResult
	if err := json.Unmarshal([]byte(raw), &results); err != nil {
		return nil, false
	}
	return results, true
}

// favoriteSummaryToResults projects the L2 buckets onto search results.
// Pre-computed entries carry the maximum score.
func favoriteSummaryToResults(summary map[string][]string) []memory.SearchResult {
	var results []memory.SearchResult
	for category, items := range summary {
		for _, item := range items {
			results = append(results, memory.SearchResult{
				ID:      "l2_" + category + "_" + cache.HashQuery(item),
				Score:   1.0,
				Content: item,
				Metadata: map[string]interface{}{
					"category": category,
					"source":   "l2_cache",
				},
			})
		}
	}
	return results
}

func factsToResults(facts []*memory.Fact) []memory.SearchResult {
	results := make([]memory.SearchResult, 0, len(facts))
	for _, fact := range facts {
		metadata := map[string]interface{}{
			"category": string(fact.Category),
			"source":   "ltm",
		}
		for k, v := range fact.Metadata {
			metadata[k] = v
		}
		results = append(results, memory.SearchResult{
			ID:       fact.ID,
			Score:    fact.SimilarityScore(),
			Content:  fact.Content,
			Metadata: metadata,
		})
	}
	return results
}
