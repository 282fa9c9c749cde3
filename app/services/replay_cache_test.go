package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisReplayCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	ctx := context.Background()
	cache := NewRedisReplayCache(rc, "wablast:", time.Hour)

	seen, err := cache.Seen(ctx, "TOPUP-123")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, cache.Mark(ctx, "TOPUP-123"))
	seen, err = cache.Seen(ctx, "TOPUP-123")
	require.NoError(t, err)
	assert.True(t, seen)

	assert.True(t, mr.Exists("wablast:processed_event:TOPUP-123"))
	assert.Equal(t, time.Hour, mr.TTL("wablast:processed_event:TOPUP-123"))

	// marking again keeps the first TTL
	mr.FastForward(30 * time.Minute)
	require.NoError(t, cache.Mark(ctx, "TOPUP-123"))
	assert.Equal(t, 30*time.Minute, mr.TTL("wablast:processed_event:TOPUP-123"))

	mr.FastForward(31 * time.Minute)
	seen, err = cache.Seen(ctx, "TOPUP-123")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRedisReplayCacheDefaultTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	cache := NewRedisReplayCache(rc, "", 0)
	require.NoError(t, cache.Mark(context.Background(), "wamid.1:delivered"))
	assert.Equal(t, 72*time.Hour, mr.TTL("processed_event:wamid.1:delivered"))
}

func TestRedisReplayCacheUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	mr.Close()

	cache := NewRedisReplayCache(rc, "", time.Minute)
	_, err = cache.Seen(context.Background(), "TOPUP-1")
	assert.Error(t, err)
}
