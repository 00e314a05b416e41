package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/becomeliminal/friday/logging"
	"github.com/m-mizutani/goerr/v2"
	"go.opentelemetry.io/otel/attribute"
)

// CacheKey is the content hash embeddings are cached under.
func CacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// CachedEmbedder memoizes an Embedder by content hash and bounds each
// provider call with a timeout. It satisfies Embedder itself.
type CachedEmbedder struct {
	embedder Embedder
	cache    Cache
	timeout  time.Duration
}

// NewCachedEmbedder wraps embedder with cache. A zero timeout leaves
// provider calls bounded only by the caller's context.
func NewCachedEmbedder(embedder Embedder, cache Cache, timeout time.Duration) *CachedEmbedder {
	return &CachedEmbedder{
		embedder: embedder,
		cache:    cache,
		timeout:  timeout,
	}
}

// Embed returns the cached vector for text, computing and caching it on a
// miss. A cached vector whose size does not match the embedder counts as a
// miss and is overwritten. Provider failures, empty vectors and vectors of
// the wrong size are reported as ErrServiceUnavailable; a zero vector is
// never substituted.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, span := startSpan(ctx, "memory.embed")
	defer span.End()

	key := CacheKey(text)
	want := c.embedder.Dimensions()
	if vec, ok := c.cache.Get(ctx, key); ok {
		if want <= 0 || len(vec) == want {
			span.SetAttributes(attribute.Bool("cache_hit", true))
			logging.From(ctx).Debug("embedding cache hit", "key", key[:12])
			return vec, nil
		}
		// Written by another model; recompute and overwrite.
		logging.From(ctx).Debug("embedding cache entry has stale dimensions",
			"key", key[:12], "want", want, "got", len(vec))
	}
	span.SetAttributes(attribute.Bool("cache_hit", false))

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	vec, err := c.embedder.Embed(callCtx, text)
	if err != nil {
		err = Unavailable(goerr.Wrap(err, "failed to embed text", goerr.V("chars", len(text))))
		recordSpanError(span, err)
		return nil, err
	}
	if len(vec) == 0 {
		err = Unavailable(goerr.New("embedder returned an empty vector"))
		recordSpanError(span, err)
		return nil, err
	}
	if want > 0 && len(vec) != want {
		err = Unavailable(goerr.New("embedding has unexpected dimensions",
			goerr.V("want", want), goerr.V("got", len(vec))))
		recordSpanError(span, err)
		return nil, err
	}

	c.cache.Set(ctx, key, vec)
	logging.From(ctx).Debug("embedding cache miss", "key", key[:12], "dims", len(vec))
	return vec, nil
}

// Dimensions returns the wrapped embedder's vector size.
func (c *CachedEmbedder) Dimensions() int {
	return c.embedder.Dimensions()
}

// Clear flushes the cache.
func (c *CachedEmbedder) Clear(ctx context.Context) error {
	return c.cache.Clear(ctx)
}
