// Package ristretto is the in-process embedding cache.
package ristretto

import (
	"context"
	"slices"

	"github.com/dgraph-io/ristretto"
	"github.com/m-mizutani/goerr/v2"
)

// Config sizes the cache. Costs are counted in float32 elements, so MaxCost
// bounds the number of cached floats rather than the number of entries.
type Config struct {
	NumCounters int64
	MaxCost     int64
}

// DefaultConfig comfortably holds a few hundred thousand 384-dim vectors,
// which is effectively unbounded for a single conversation process.
var DefaultConfig = Config{
	NumCounters: 1e6,
	MaxCost:     1 << 27,
}

// Cache memoizes embeddings in memory.
type Cache struct {
	cache *ristretto.Cache
}

// New creates a cache.
func New(cfg Config) (*Cache, error) {
	if cfg.NumCounters <= 0 {
		cfg.NumCounters = DefaultConfig.NumCounters
	}
	if cfg.MaxCost <= 0 {
		cfg.MaxCost = DefaultConfig.MaxCost
	}

	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        cfg.NumCounters,
		MaxCost:            cfg.MaxCost,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create ristretto cache")
	}
	return &Cache{cache: c}, nil
}

// Get returns a copy of the cached vector for key.
func (c *Cache) Get(_ context.Context, key string) ([]float32, bool) {
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	vec, ok := v.([]float32)
	if !ok {
		return nil, false
	}
	return slices.Clone(vec), true
}

// Set stores a copy of vec under key and waits for the write to land so an
// immediate Get observes it.
func (c *Cache) Set(_ context.Context, key string, vec []float32) {
	c.cache.Set(key, slices.Clone(vec), int64(len(vec)))
	c.cache.Wait()
}

// Clear drops every entry.
func (c *Cache) Clear(_ context.Context) error {
	c.cache.Clear()
	return nil
}

// Close stops the cache's background goroutines.
func (c *Cache) Close() {
	c.cache.Close()
}
