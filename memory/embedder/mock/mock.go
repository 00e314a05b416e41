// Package mock provides a deterministic embedder for tests and offline demos.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"
)

// Embedder hashes words into a fixed number of dimensions. Identical text
// always yields the identical vector, and texts sharing words get a positive
// cosine similarity, which is enough to exercise nearest-neighbor logic
// without a model.
type Embedder struct {
	dimensions int
	calls      atomic.Int64

	mu  sync.RWMutex
	err error
}

// Option configures the mock embedder.
type Option func(*Embedder)

// WithDimensions overrides the vector size (default 384, the size of
// all-MiniLM-L6-v2).
func WithDimensions(n int) Option {
	return func(e *Embedder) {
		if n > 0 {
			e.dimensions = n
		}
	}
}

// New creates a new mock embedder.
func New(opts ...Option) *Embedder {
	e := &Embedder{dimensions: 384}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FailWith makes every subsequent Embed call return err. Pass nil to recover.
func (e *Embedder) FailWith(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

// Calls returns how many times Embed has been invoked.
func (e *Embedder) Calls() int {
	return int(e.calls.Load())
}

// Embed creates a deterministic embedding from text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)

	e.mu.RLock()
	err := e.err
	e.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	embedding := make([]float32, e.dimensions)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(words) == 0 {
		words = []string{text}
	}
	for _, w := range words {
		addHashed(embedding, w)
	}

	return normalize(embedding), nil
}

// Dimensions returns the embedding size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

// addHashed adds a pseudo-random unit-scale vector seeded by word to vec.
func addHashed(vec []float32, word string) {
	h := fnv.New64a()
	h.Write([]byte(word))
	seed := h.Sum64()

	for i := range vec {
		// LCG
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] += float32(int64(seed)) / float32(math.MaxInt64)
	}
}

// normalize converts embedding to unit vector.
func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}

	if norm == 0 {
		return vec
	}

	norm = float32(math.Sqrt(float64(norm)))
	normalized := make([]float32, len(vec))
	for i, v := range vec {
		normalized[i] = v / norm
	}

	return normalized
}
