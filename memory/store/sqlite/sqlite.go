// Package sqlite stores memory records in a single SQLite file using the
// pure Go modernc.org/sqlite driver.
//
// Embeddings are kept as JSON arrays and similarity is computed in Go over
// every row. That is fast enough for the few thousand records a personal
// assistant accumulates and needs no SQLite extensions.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"math"
	"sort"
	"strings"

	"github.com/becomeliminal/friday/logging"
	"github.com/becomeliminal/friday/memory"
	"github.com/m-mizutani/goerr/v2"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS memories (
	seq       INTEGER PRIMARY KEY AUTOINCREMENT,
	id        TEXT NOT NULL UNIQUE,
	content   TEXT NOT NULL,
	embedding BLOB NOT NULL,
	metadata  TEXT NOT NULL
)`

// Config configures the SQLite store.
type Config struct {
	// Path of the database file. ":memory:" keeps it in memory.
	Path string

	// Dimensions, when set, rejects records with a different embedding size.
	Dimensions int
}

// Store is a memory.Store backed by SQLite.
type Store struct {
	db   *sql.DB
	dims int
}

var _ memory.Store = (*Store)(nil)

// New opens the database and creates the schema.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, goerr.New("sqlite store requires a path")
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open sqlite database", goerr.V("path", cfg.Path))
	}
	// One connection: SQLite has a single writer, and ":memory:" databases
	// are per connection.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA busy_timeout = 5000", schema} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, goerr.Wrap(err, "failed to initialize sqlite database", goerr.V("path", cfg.Path))
		}
	}

	return &Store{db: db, dims: cfg.Dimensions}, nil
}

// Add inserts a record.
func (s *Store) Add(ctx context.Context, rec *memory.Record) error {
	if s.dims > 0 && len(rec.Embedding) != s.dims {
		return goerr.New("record embedding has wrong dimensions",
			goerr.V("id", rec.ID), goerr.V("want", s.dims), goerr.V("got", len(rec.Embedding)))
	}

	embJSON, err := json.Marshal(rec.Embedding)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal embedding", goerr.V("id", rec.ID))
	}
	metaJSON, err := json.Marshal(rec.Metadata())
	if err != nil {
		return goerr.Wrap(err, "failed to marshal metadata", goerr.V("id", rec.ID))
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (id, content, embedding, metadata) VALUES (?, ?, ?, ?)`,
		rec.ID, rec.Content, embJSON, string(metaJSON),
	); err != nil {
		return goerr.Wrap(err, "failed to insert record", goerr.V("id", rec.ID))
	}

	logging.From(ctx).Debug("sqlite stored record", "id", rec.ID, "role", rec.Role)
	return nil
}

// Query loads every record and returns the n most similar by cosine similarity.
func (s *Store) Query(ctx context.Context, embedding []float32, n int) ([]memory.Match, error) {
	if n <= 0 {
		return nil, nil
	}

	records, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	matches := make([]memory.Match, 0, len(records))
	for _, rec := range records {
		if len(rec.Embedding) != len(embedding) {
			logging.From(ctx).Warn("sqlite skipping record with mismatched dimensions", "id", rec.ID)
			continue
		}
		matches = append(matches, memory.Match{Record: rec, Similarity: cosineSimilarity(embedding, rec.Embedding)})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > n {
		matches = matches[:n]
	}
	return matches, nil
}

// Get returns one record by id.
func (s *Store) Get(ctx context.Context, id string) (*memory.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, content, embedding, metadata FROM memories WHERE id = ?`, id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, goerr.Wrap(memory.ErrNotFound, "no such record", goerr.V("id", id))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get record", goerr.V("id", id))
	}
	return rec, nil
}

// UpdateMetadata replaces a record's metadata.
func (s *Store) UpdateMetadata(ctx context.Context, id string, metadata map[string]string) error {
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal metadata", goerr.V("id", id))
	}

	res, err := s.db.ExecContext(ctx, `UPDATE memories SET metadata = ? WHERE id = ?`, string(metaJSON), id)
	if err != nil {
		return goerr.Wrap(err, "failed to update metadata", goerr.V("id", id))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return goerr.Wrap(err, "failed to read affected rows", goerr.V("id", id))
	}
	if n == 0 {
		return goerr.Wrap(memory.ErrNotFound, "no such record", goerr.V("id", id))
	}
	return nil
}

// Delete removes records by id.
func (s *Store) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	if _, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return goerr.Wrap(err, "failed to delete records", goerr.V("ids", ids))
	}
	return nil
}

// List returns every record in insertion order.
func (s *Store) List(ctx context.Context) ([]*memory.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, embedding, metadata FROM memories ORDER BY seq`)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list records")
	}
	defer rows.Close()

	var records []*memory.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			logging.From(ctx).Warn("sqlite skipping malformed row", "error", err)
			continue
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate records")
	}
	return records, nil
}

// Count returns the number of records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&n); err != nil {
		return 0, goerr.Wrap(err, "failed to count records")
	}
	return n, nil
}

// Reset deletes every record.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM memories`); err != nil {
		return goerr.Wrap(err, "failed to reset records")
	}
	logging.From(ctx).Info("sqlite store reset")
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*memory.Record, error) {
	var (
		id, content, metaJSON string
		embJSON               []byte
	)
	if err := row.Scan(&id, &content, &embJSON, &metaJSON); err != nil {
		return nil, err
	}

	var embedding []float32
	if err := json.Unmarshal(embJSON, &embedding); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal embedding", goerr.V("id", id))
	}
	var meta map[string]string
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal metadata", goerr.V("id", id))
	}

	return memory.RecordFromMetadata(id, content, embedding, meta)
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
