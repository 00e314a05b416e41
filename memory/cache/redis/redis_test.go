package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/becomeliminal/friday/memory/cache/redis"
	"github.com/m-mizutani/gt"
)

func newCache(t *testing.T) (*redis.Cache, *miniredis.Miniredis) {
	t.Helper()
	m := miniredis.RunT(t)
	c, err := redis.New(context.Background(), redis.Config{URL: "redis://" + m.Addr(), Timeout: time.Second})
	gt.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, m
}

func TestCacheSetGet(t *testing.T) {
	ctx := context.Background()
	c, m := newCache(t)

	_, ok := c.Get(ctx, "abc")
	gt.False(t, ok)

	vec := []float32{0.5, -1.25, 3.0e-7}
	c.Set(ctx, "abc", vec)

	got, ok := c.Get(ctx, "abc")
	gt.True(t, ok)
	gt.Equal(t, got, vec)

	gt.True(t, m.Exists(redis.DefaultKey))
}

func TestCacheClear(t *testing.T) {
	ctx := context.Background()
	c, m := newCache(t)

	c.Set(ctx, "a", []float32{1})
	c.Set(ctx, "b", []float32{2})
	gt.NoError(t, c.Clear(ctx))

	gt.False(t, m.Exists(redis.DefaultKey))
	_, ok := c.Get(ctx, "a")
	gt.False(t, ok)
}

func TestCacheMalformedEntryIsMiss(t *testing.T) {
	ctx := context.Background()
	c, m := newCache(t)

	m.HSet(redis.DefaultKey, "bad", "xyz")
	_, ok := c.Get(ctx, "bad")
	gt.False(t, ok)
}

func TestCacheUnavailableIsMiss(t *testing.T) {
	ctx := context.Background()
	c, m := newCache(t)

	c.Set(ctx, "a", []float32{1})
	m.Close()

	_, ok := c.Get(ctx, "a")
	gt.False(t, ok)
}

func TestNewFailsWithoutServer(t *testing.T) {
	_, err := redis.New(context.Background(), redis.Config{URL: "redis://127.0.0.1:1", Timeout: 200 * time.Millisecond})
	gt.Error(t, err)
}
