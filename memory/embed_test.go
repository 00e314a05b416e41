package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/becomeliminal/friday/memory"
	"github.com/becomeliminal/friday/memory/cache/ristretto"
	"github.com/becomeliminal/friday/memory/embedder/mock"
	"github.com/m-mizutani/gt"
)

func newCachedEmbedder(t *testing.T, e memory.Embedder) *memory.CachedEmbedder {
	t.Helper()
	c, err := ristretto.New(ristretto.DefaultConfig)
	gt.NoError(t, err)
	t.Cleanup(c.Close)
	return memory.NewCachedEmbedder(e, c, time.Second)
}

func TestCachedEmbedderHitsCache(t *testing.T) {
	ctx := context.Background()
	provider := mock.New()
	embedder := newCachedEmbedder(t, provider)

	first, err := embedder.Embed(ctx, "remember to call mom")
	gt.NoError(t, err)
	second, err := embedder.Embed(ctx, "remember to call mom")
	gt.NoError(t, err)

	gt.Equal(t, first, second)
	gt.Equal(t, provider.Calls(), 1)

	_, err = embedder.Embed(ctx, "something else entirely")
	gt.NoError(t, err)
	gt.Equal(t, provider.Calls(), 2)
}

func TestCachedEmbedderClearForcesRecompute(t *testing.T) {
	ctx := context.Background()
	provider := mock.New()
	embedder := newCachedEmbedder(t, provider)

	_, err := embedder.Embed(ctx, "cached text")
	gt.NoError(t, err)
	gt.NoError(t, embedder.Clear(ctx))

	_, err = embedder.Embed(ctx, "cached text")
	gt.NoError(t, err)
	gt.Equal(t, provider.Calls(), 2)
}

func TestCachedEmbedderRecomputesStaleDimensions(t *testing.T) {
	ctx := context.Background()
	cache, err := ristretto.New(ristretto.DefaultConfig)
	gt.NoError(t, err)
	t.Cleanup(cache.Close)

	// Left behind by a 768-dim model sharing the cache.
	key := memory.CacheKey("remember to call mom")
	cache.Set(ctx, key, make([]float32, 768))

	provider := mock.New()
	embedder := memory.NewCachedEmbedder(provider, cache, time.Second)

	vec, err := embedder.Embed(ctx, "remember to call mom")
	gt.NoError(t, err)
	gt.A(t, vec).Length(provider.Dimensions())
	gt.Equal(t, provider.Calls(), 1)

	cached, ok := cache.Get(ctx, key)
	gt.True(t, ok)
	gt.A(t, cached).Length(provider.Dimensions())

	again, err := embedder.Embed(ctx, "remember to call mom")
	gt.NoError(t, err)
	gt.Equal(t, again, vec)
	gt.Equal(t, provider.Calls(), 1)
}

func TestCachedEmbedderFailureIsServiceUnavailable(t *testing.T) {
	ctx := context.Background()
	provider := mock.New()
	provider.FailWith(errors.New("connection refused"))
	embedder := newCachedEmbedder(t, provider)

	vec, err := embedder.Embed(ctx, "will not embed")
	gt.Error(t, err)
	gt.True(t, errors.Is(err, memory.ErrServiceUnavailable))
	gt.A(t, vec).Length(0)

	// Failures are not cached.
	provider.FailWith(nil)
	_, err = embedder.Embed(ctx, "will not embed")
	gt.NoError(t, err)
	gt.Equal(t, provider.Calls(), 2)
}

type slowEmbedder struct{}

func (slowEmbedder) Embed(ctx context.Context, _ string) ([]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (slowEmbedder) Dimensions() int { return 3 }

func TestCachedEmbedderTimeout(t *testing.T) {
	c, err := ristretto.New(ristretto.DefaultConfig)
	gt.NoError(t, err)
	defer c.Close()
	embedder := memory.NewCachedEmbedder(slowEmbedder{}, c, 20*time.Millisecond)

	_, err = embedder.Embed(context.Background(), "slow")
	gt.True(t, errors.Is(err, memory.ErrServiceUnavailable))
	gt.True(t, errors.Is(err, context.DeadlineExceeded))
}

type wrongSizeEmbedder struct{}

func (wrongSizeEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (wrongSizeEmbedder) Dimensions() int { return 3 }

func TestCachedEmbedderRejectsWrongDimensions(t *testing.T) {
	embedder := newCachedEmbedder(t, wrongSizeEmbedder{})
	_, err := embedder.Embed(context.Background(), "short vector")
	gt.True(t, errors.Is(err, memory.ErrServiceUnavailable))
}
