package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultTTL is the L1 entry lifetime when none is given
const DefaultTTL = time.Hour

// bumpVersionScript bumps the per-user version tag to the current unix
// timestamp, or current+1 when the clock has not advanced, so the tag is
// strictly monotonic under concurrent bumps.
var bumpVersionScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
local ts = tonumber(ARGV[1])
if ts <= cur then ts = cur + 1 end
redis.call('SET', KEYS[1], ts)
return ts
`)

// RedisCache is the L1 tier: a distributed key-value cache with per-entry
// TTL and per-user version tags. All reads degrade to a miss on transport
// errors; cache failures never reach callers.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisCache creates the L1 cache on an existing client
func NewRedisCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCache{client: client, ttl: ttl, logger: logger}
}

// Client exposes the underlying connection (the L3 and STM tiers share it
// through the RedisCache itself, not through this accessor)
func (c *RedisCache) Client() *redis.Client {
	return c.client
}

// DefaultTTL returns the configured entry lifetime
func (c *RedisCache) DefaultTTL() time.Duration {
	return c.ttl
}

// Get returns the value for a key; transport errors surface as a miss
func (c *RedisCache) Get(ctx context.Context, key string) (string, bool) {
	value, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		c.logger.Warn("L1 cache get failed", zap.String("key", key), zap.Error(err))
		return "", false
	}
	return value, true
}

// SetEx stores a value with the given TTL; failures are logged and swallowed
func (c *RedisCache) SetEx(ctx context.Context, key, value string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	if err := c.client.SetEx(ctx, key, value, ttl).Err(); err != nil {
		c.logger.Warn("L1 cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// Del removes keys; failures are logged and swallowed
func (c *RedisCache) Del(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("L1 cache delete failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

// ScanDel removes every key matching a pattern and returns the count
func (c *RedisCache) ScanDel(ctx context.Context, pattern string) int {
	var deleted int
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			c.logger.Warn("L1 cache pattern delete failed", zap.String("key", iter.Val()), zap.Error(err))
			continue
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("L1 cache scan failed", zap.String("pattern", pattern), zap.Error(err))
	}
	return deleted
}

// GetUserVersion returns the per-user version tag, empty when absent
func (c *RedisCache) GetUserVersion(ctx context.Context, userID string) string {
	version, ok := c.Get(ctx, UserVersionKey(userID))
	if !ok {
		return ""
	}
	return version
}

// BumpUserVersion atomically advances the per-user version tag so every
// derived cache key computed before the bump misses afterwards.
func (c *RedisCache) BumpUserVersion(ctx context.Context, userID string) string {
	now := time.Now().Unix()
	version, err := bumpVersionScript.Run(ctx, c.client, []string{UserVersionKey(userID)}, now).Int64()
	if err != nil {
		c.logger.Warn("bump user version failed", zap.String("user_id", userID), zap.Error(err))
		return strconv.FormatInt(now, 10)
	}
	return strconv.FormatInt(version, 10)
}
