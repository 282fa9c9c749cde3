package services

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wablast/blast-core/utils"
)

// RedisReplayCache remembers processed webhook refs for a while so replays skip the database
type RedisReplayCache struct {
	rc     *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisReplayCache creates a replay cache; keys are prefix + "processed_event:" + ref
func NewRedisReplayCache(rc *redis.Client, prefix string, ttl time.Duration) *RedisReplayCache {
	if ttl <= 0 {
		ttl = utils.ProcessedEventCacheTTL
	}
	return &RedisReplayCache{rc: rc, prefix: prefix, ttl: ttl}
}

func (c *RedisReplayCache) key(ref string) string {
	return c.prefix + utils.ProcessedEventCachePrefix + ref
}

// Seen reports whether ref was marked
func (c *RedisReplayCache) Seen(ctx context.Context, ref string) (bool, error) {
	n, err := c.rc.Exists(ctx, c.key(ref)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Mark records ref until the TTL expires
func (c *RedisReplayCache) Mark(ctx context.Context, ref string) error {
	return c.rc.SetNX(ctx, c.key(ref), "1", c.ttl).Err()
}
