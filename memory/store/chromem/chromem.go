// Package chromem stores memory records in chromem-go, a pure Go embedded
// vector database. The database lives in memory and can optionally persist
// every write to a directory.
package chromem

import (
	"context"
	"sort"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/becomeliminal/friday/logging"
	"github.com/becomeliminal/friday/memory"
	"github.com/m-mizutani/goerr/v2"
)

// DefaultCollection is the collection records are kept in.
const DefaultCollection = "friday_memory"

// Config configures the chromem store.
type Config struct {
	// Path persists the database under this directory. Empty keeps it in memory.
	Path string

	// Compress gzips persisted documents.
	Compress bool

	// Collection name (default DefaultCollection).
	Collection string

	// Dimensions is the embedding size of stored records. Required: chromem
	// has no listing API, so List walks the collection with a probe vector
	// of this size.
	Dimensions int
}

// Store wraps a chromem-go collection.
type Store struct {
	db   *chromem.DB
	name string
	dims int

	mu  sync.RWMutex // guards col and serializes metadata rewrites with deletes
	col *chromem.Collection
}

var _ memory.Store = (*Store)(nil)

// New opens (or creates) the store.
func New(cfg Config) (*Store, error) {
	if cfg.Dimensions <= 0 {
		return nil, goerr.New("chromem store requires embedding dimensions")
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}

	db := chromem.NewDB()
	if cfg.Path != "" {
		var err error
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to open persistent chromem db", goerr.V("path", cfg.Path))
		}
	}

	col, err := db.GetOrCreateCollection(cfg.Collection, nil, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create collection", goerr.V("collection", cfg.Collection))
	}

	return &Store{db: db, name: cfg.Collection, dims: cfg.Dimensions, col: col}, nil
}

func (s *Store) collection() *chromem.Collection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.col
}

// Add saves a record with its embedding.
func (s *Store) Add(ctx context.Context, rec *memory.Record) error {
	if len(rec.Embedding) != s.dims {
		return goerr.New("record embedding has wrong dimensions",
			goerr.V("id", rec.ID), goerr.V("want", s.dims), goerr.V("got", len(rec.Embedding)))
	}

	doc := chromem.Document{
		ID:        rec.ID,
		Content:   rec.Content,
		Embedding: rec.Embedding,
		Metadata:  rec.Metadata(),
	}
	if err := s.collection().AddDocument(ctx, doc); err != nil {
		return goerr.Wrap(err, "failed to add document", goerr.V("id", rec.ID))
	}

	logging.From(ctx).Debug("chromem stored record", "id", rec.ID, "role", rec.Role)
	return nil
}

// Query retrieves records by vector similarity, highest first.
func (s *Store) Query(ctx context.Context, embedding []float32, n int) ([]memory.Match, error) {
	if n <= 0 {
		return nil, nil
	}
	col := s.collection()

	// chromem-go requires nResults <= collection size
	if count := col.Count(); n > count {
		n = count
	}
	if n == 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, embedding, n, nil, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "chromem query failed", goerr.V("n", n))
	}

	matches := make([]memory.Match, 0, len(results))
	for _, res := range results {
		rec, err := memory.RecordFromMetadata(res.ID, res.Content, res.Embedding, res.Metadata)
		if err != nil {
			logging.From(ctx).Warn("chromem skipping undecodable record", "id", res.ID, "error", err)
			continue
		}
		matches = append(matches, memory.Match{Record: rec, Similarity: float64(res.Similarity)})
	}

	logging.From(ctx).Debug("chromem query", "requested", n, "returned", len(matches))
	return matches, nil
}

// Get retrieves a record by id.
func (s *Store) Get(ctx context.Context, id string) (*memory.Record, error) {
	doc, err := s.collection().GetByID(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, goerr.Wrap(memory.ErrNotFound, "no such record", goerr.V("id", id))
		}
		return nil, goerr.Wrap(err, "failed to get document", goerr.V("id", id))
	}
	return memory.RecordFromMetadata(doc.ID, doc.Content, doc.Embedding, doc.Metadata)
}

// UpdateMetadata rewrites the document with new metadata, keeping its
// content and embedding.
func (s *Store) UpdateMetadata(ctx context.Context, id string, metadata map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.col.GetByID(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return goerr.Wrap(memory.ErrNotFound, "no such record", goerr.V("id", id))
		}
		return goerr.Wrap(err, "failed to get document", goerr.V("id", id))
	}

	doc.Metadata = metadata
	if err := s.col.AddDocument(ctx, doc); err != nil {
		return goerr.Wrap(err, "failed to rewrite document", goerr.V("id", id))
	}
	return nil
}

// Delete removes records permanently.
func (s *Store) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	// Serialized with UpdateMetadata so a rewrite cannot resurrect a record
	// deleted between its read and its write.
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.col.Delete(ctx, nil, nil, ids...); err != nil {
		return goerr.Wrap(err, "failed to delete documents", goerr.V("ids", ids))
	}
	logging.From(ctx).Debug("chromem deleted records", "count", len(ids))
	return nil
}

// List returns every record ordered by creation time.
func (s *Store) List(ctx context.Context) ([]*memory.Record, error) {
	col := s.collection()
	count := col.Count()
	if count == 0 {
		return nil, nil
	}

	probe := make([]float32, s.dims)
	probe[0] = 1

	results, err := col.QueryEmbedding(ctx, probe, count, nil, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list documents")
	}

	records := make([]*memory.Record, 0, len(results))
	for _, res := range results {
		rec, err := memory.RecordFromMetadata(res.ID, res.Content, res.Embedding, res.Metadata)
		if err != nil {
			logging.From(ctx).Warn("chromem skipping undecodable record", "id", res.ID, "error", err)
			continue
		}
		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].ID < records[j].ID
	})
	return records, nil
}

// Count returns the number of records.
func (s *Store) Count(_ context.Context) (int, error) {
	return s.collection().Count(), nil
}

// Reset drops the collection and starts a fresh one.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.DeleteCollection(s.name); err != nil {
		return goerr.Wrap(err, "failed to drop collection", goerr.V("collection", s.name))
	}
	col, err := s.db.CreateCollection(s.name, nil, nil)
	if err != nil {
		return goerr.Wrap(err, "failed to recreate collection", goerr.V("collection", s.name))
	}
	s.col = col

	logging.From(ctx).Info("chromem collection reset", "collection", s.name)
	return nil
}

// Close releases resources. Persistent writes are flushed per document, so
// there is nothing left to do.
func (s *Store) Close() error {
	return nil
}

func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "not found")
}
