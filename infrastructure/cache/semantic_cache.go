package cache

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"membank-backend/application/ports"
	"membank-backend/domain/memory"
)

// DefaultSimilarityThreshold is the minimum cosine similarity for an
// approximate-nearest-query hit.
const DefaultSimilarityThreshold = 0.9

// DefaultMaxQueriesPerUser bounds the per-user query window
const DefaultMaxQueriesPerUser = 100

// cachedQuery is one entry of the per-user query window
type cachedQuery struct {
	Query    string    `json:"query"`
	Hash     string    `json:"hash"`
	Vector   []float32 `json:"vector"`
	CachedAt int64     `json:"cached_at"`
}

// SemanticCache raises the exact-match hit rate by also matching cached
// queries whose embedding is close to the incoming one. Results live under
// the same version-salted search keys as L1 entries, so a version bump
// invalidates both tiers at once.
type SemanticCache struct {
	kv         ports.KV
	threshold  float64
	maxQueries int
	logger     *zap.Logger
}

// NewSemanticCache creates a semantic cache on the shared KV connection
func NewSemanticCache(kv ports.KV, threshold float64, maxQueries int, logger *zap.Logger) *SemanticCache {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	if maxQueries <= 0 {
		maxQueries = DefaultMaxQueriesPerUser
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SemanticCache{kv: kv, threshold: threshold, maxQueries: maxQueries, logger: logger}
}

// Get looks up a cached result: exact match on the query hash first, then
// the highest-similarity cached query at or above the threshold.
func (c *SemanticCache) Get(ctx context.Context, userID, query string, queryVec []float32, versionTag string) (string, bool) {
	exactKey := SearchKeyByHash(userID, HashQuery(query), versionTag)
	if result, ok := c.kv.Get(ctx, exactKey); ok {
		c.logger.Debug("semantic cache exact hit", zap.String("user_id", userID))
		return result, true
	}

	best, ok := c.nearestQuery(ctx, userID, queryVec)
	if !ok {
		return "", false
	}

	result, ok := c.kv.Get(ctx, SearchKeyByHash(userID, best.Hash, versionTag))
	if !ok {
		return "", false
	}
	c.logger.Debug("semantic cache approximate hit",
		zap.String("user_id", userID),
		zap.String("matched_query", best.Query),
	)
	return result, true
}

// Set stores the result under the exact query-hash key and appends the
// query vector to the per-user window, trimmed to the last maxQueries.
func (c *SemanticCache) Set(ctx context.Context, userID, query string, queryVec []float32, result string, versionTag string, ttl time.Duration) {
	hash := HashQuery(query)
	c.kv.SetEx(ctx, SearchKeyByHash(userID, hash, versionTag), result, ttl)

	queries := c.loadQueries(ctx, userID)
	queries = append(queries, cachedQuery{
		Query:    query,
		Hash:     hash,
		Vector:   queryVec,
		CachedAt: time.Now().Unix(),
	})
	if len(queries) > c.maxQueries {
		queries = queries[len(queries)-c.maxQueries:]
	}

	raw, err := json.Marshal(queries)
	if err != nil {
		c.logger.Warn("semantic cache marshal failed", zap.Error(err))
		return
	}
	c.kv.SetEx(ctx, SemanticQueriesKey(userID), string(raw), ttl*2)
}

// nearestQuery scans the per-user window for the highest-similarity entry
// at or above the threshold.
func (c *SemanticCache) nearestQuery(ctx context.Context, userID string, queryVec []float32) (cachedQuery, bool) {
	var (
		best      cachedQuery
		bestScore float64
		found     bool
	)
	for _, cached := range c.loadQueries(ctx, userID) {
		score := memory.CosineSimilarity(queryVec, cached.Vector)
		if score >= c.threshold && score > bestScore {
			best = cached
			bestScore = score
			found = true
		}
	}
	return best, found
}

func (c *SemanticCache) loadQueries(ctx context.Context, userID string) []cachedQuery {
	raw, ok := c.kv.Get(ctx, SemanticQueriesKey(userID))
	if !ok {
		return nil
	}
	var queries []cachedQuery
	if err := json.Unmarshal([]byte(raw), &queries); err != nil {
		c.logger.Warn("semantic cache query window is corrupt", zap.Error(err))
		return nil
	}
	return queries
}
