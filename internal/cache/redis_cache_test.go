package cache

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type summary struct {
	Score float64 `json:"score"`
	Count int     `json:"count"`
}

func newTestCache(t *testing.T) (CacheService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return NewRedisCache(client, "cw", logger), mr
}

func TestRedisCacheRoundTrip(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "score:copy-1", summary{Score: 12.5, Count: 3}, time.Minute))
	assert.True(t, mr.Exists("cw:score:copy-1"))

	var got summary
	require.NoError(t, c.Get(ctx, "score:copy-1", &got))
	assert.Equal(t, summary{Score: 12.5, Count: 3}, got)

	mr.FastForward(2 * time.Minute)
	assert.ErrorIs(t, c.Get(ctx, "score:copy-1", &got), ErrCacheMiss)
}

func TestRedisCacheUndecodableEntryIsAMiss(t *testing.T) {
	c, mr := newTestCache(t)
	require.NoError(t, mr.Set("cw:score:bad", "{not json"))

	var got summary
	assert.ErrorIs(t, c.Get(context.Background(), "score:bad", &got), ErrCacheMiss)
	assert.False(t, mr.Exists("cw:score:bad"))
}

func TestRedisCacheDeletePattern(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	for _, k := range []string{"score:a", "score:b", "other:c"} {
		require.NoError(t, c.Set(ctx, k, summary{}, time.Minute))
	}
	require.NoError(t, c.DeletePattern(ctx, "score:*"))

	assert.False(t, mr.Exists("cw:score:a"))
	assert.False(t, mr.Exists("cw:score:b"))
	assert.True(t, mr.Exists("cw:other:c"))

	require.NoError(t, c.Delete(ctx, "other:c"))
	assert.False(t, mr.Exists("cw:other:c"))
}

func TestNoopCache(t *testing.T) {
	c := NewNoopCache()
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", 1, time.Minute))
	var v int
	assert.ErrorIs(t, c.Get(ctx, "k", &v), ErrCacheMiss)
}
