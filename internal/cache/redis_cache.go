package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shieldsms/shield/internal/classify"
)

// RedisCache is a VerdictCache backed by Redis with a per-entry TTL.
type RedisCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisCache creates a verdict cache on the given Redis client.
func NewRedisCache(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl, logger: logger}
}

func key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "verdict:" + hex.EncodeToString(sum[:])
}

// Get returns a cached verdict for the text, or (nil, false) on miss or error.
func (c *RedisCache) Get(ctx context.Context, text string) (*classify.Verdict, bool) {
	raw, err := c.rdb.Get(ctx, key(text)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("verdict cache read failed", zap.Error(err))
		}
		return nil, false
	}
	var v classify.Verdict
	if err := json.Unmarshal(raw, &v); err != nil {
		c.logger.Warn("verdict cache entry malformed", zap.Error(err))
		return nil, false
	}
	return &v, true
}

// Put stores a verdict. Errors are logged and swallowed.
func (c *RedisCache) Put(ctx context.Context, text string, v *classify.Verdict) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key(text), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("verdict cache write failed", zap.Error(err))
	}
}
