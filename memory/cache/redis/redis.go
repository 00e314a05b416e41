// Package redis shares the embedding cache between processes through a
// single Redis hash.
package redis

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"time"

	"github.com/becomeliminal/friday/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/redis/go-redis/v9"
)

// DefaultKey is the hash holding every cached vector.
const DefaultKey = "friday:embeddings"

// Config holds Redis cache configuration.
type Config struct {
	// URL is a redis:// connection string.
	URL string
	// Key is the hash name (default DefaultKey).
	Key string
	// Timeout bounds each Redis command (default 2s).
	Timeout time.Duration
}

// Cache stores embeddings as little-endian float32 bytes in one Redis hash,
// so Clear is a single DEL.
type Cache struct {
	client  *redis.Client
	key     string
	timeout time.Duration
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Cache, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse redis url")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	opts.DialTimeout = cfg.Timeout
	opts.ReadTimeout = cfg.Timeout
	opts.WriteTimeout = cfg.Timeout

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, goerr.Wrap(err, "failed to connect to redis", goerr.V("addr", opts.Addr))
	}

	return NewWithClient(client, cfg.Key, cfg.Timeout), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, key string, timeout time.Duration) *Cache {
	if key == "" {
		key = DefaultKey
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Cache{client: client, key: key, timeout: timeout}
}

// Get returns the cached vector. Redis failures are logged and reported as
// a miss so the caller falls through to the embedder.
func (c *Cache) Get(ctx context.Context, key string) ([]float32, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.client.HGet(ctx, c.key, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logging.From(ctx).Warn("redis cache get failed", "error", err)
		}
		return nil, false
	}

	vec, ok := decode(raw)
	if !ok {
		logging.From(ctx).Warn("discarding malformed cached embedding", "key", key, "bytes", len(raw))
		return nil, false
	}
	return vec, true
}

// Set stores vec under key. Failures are logged; the cache is best effort.
func (c *Cache) Set(ctx context.Context, key string, vec []float32) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.client.HSet(ctx, c.key, key, encode(vec)).Err(); err != nil {
		logging.From(ctx).Warn("redis cache set failed", "error", err)
	}
}

// Clear deletes the whole hash.
func (c *Cache) Clear(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.client.Del(ctx, c.key).Err(); err != nil {
		return goerr.Wrap(err, "failed to clear redis cache", goerr.V("key", c.key))
	}
	return nil
}

// Close closes the client.
func (c *Cache) Close() error {
	return c.client.Close()
}

func encode(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decode(raw []byte) ([]float32, bool) {
	if len(raw) == 0 || len(raw)%4 != 0 {
		return nil, false
	}
	vec := make([]float32, len(raw)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return vec, true
}
