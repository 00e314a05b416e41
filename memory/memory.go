package memory

import (
	"context"
)

// Store is the vector index backend. It is the single source of truth for
// persisted records; everything else works on the copies it returns.
//
// Implementations: chromem.Store (embedded, optional persistence),
// sqlite.Store (single-file database).
type Store interface {
	// Add persists a record. The record must carry its embedding.
	Add(ctx context.Context, rec *Record) error

	// Query returns up to n records ordered by descending similarity to
	// embedding. n larger than the record count is capped; n <= 0 returns nil.
	Query(ctx context.Context, embedding []float32, n int) ([]Match, error)

	// Get returns the record with id, or an error wrapping ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)

	// UpdateMetadata replaces the metadata of record id. Content and
	// embedding are left untouched. Returns ErrNotFound for unknown ids.
	UpdateMetadata(ctx context.Context, id string, metadata map[string]string) error

	// Delete removes records permanently. Unknown ids are ignored.
	Delete(ctx context.Context, ids ...string) error

	// List returns every record in storage order, oldest first.
	List(ctx context.Context) ([]*Record, error)

	// Count returns the number of persisted records.
	Count(ctx context.Context) (int, error)

	// Reset drops every record.
	Reset(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// Embedder converts text to vector embeddings.
// Implementations: mock (testing), onnx (local model), openai (OpenAI or
// Ollama endpoints), gemini (Google GenAI).
//
// Embed must be deterministic for identical input; the embedding cache
// relies on it.
type Embedder interface {
	// Embed converts a single text to embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns embedding vector size.
	Dimensions() int
}

// Cache memoizes embeddings keyed by a content hash. Implementations must be
// safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) ([]float32, bool)
	Set(ctx context.Context, key string, vec []float32)
	Clear(ctx context.Context) error
}

// Summarizer condenses a window of records during compaction. It is the
// only part of the core that talks to a text-completion service.
type Summarizer interface {
	// Tags returns a handful of short labels describing text.
	Tags(ctx context.Context, text string) ([]string, error)

	// Summarize condenses contents into bullet points of lasting facts.
	Summarize(ctx context.Context, contents []string) (string, error)
}
