package cache

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"membank-backend/application/ports"
)

// EmbeddingCache is the L3 tier: query-text to embedding-vector memoisation
// on the shared L1 connection. TTL defaults to 24 hours.
type EmbeddingCache struct {
	kv     ports.KV
	ttl    time.Duration
	logger *zap.Logger
}

// NewEmbeddingCache creates the L3 cache on the shared KV connection
func NewEmbeddingCache(kv ports.KV, ttl time.Duration, logger *zap.Logger) *EmbeddingCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmbeddingCache{kv: kv, ttl: ttl, logger: logger}
}

// Get returns the cached embedding for a query text
func (c *EmbeddingCache) Get(ctx context.Context, query string) ([]float32, bool) {
	raw, ok := c.kv.Get(ctx, EmbeddingKey(query))
	if !ok {
		return nil, false
	}

	var vec []float32
	if err := json.Unmarshal([]byte(raw), &vec); err != nil {
		c.logger.Warn("L3 cache entry is corrupt", zap.Error(err))
		return nil, false
	}
	return vec, true
}

// Set caches the embedding for a query text
func (c *EmbeddingCache) Set(ctx context.Context, query string, vec []float32) {
	raw, err := json.Marshal(vec)
	if err != nil {
		c.logger.Warn("L3 cache marshal failed", zap.Error(err))
		return
	}
	c.kv.SetEx(ctx, EmbeddingKey(query), string(raw), c.ttl)
}
