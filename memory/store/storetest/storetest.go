// Package storetest holds the behavior every memory.Store must share.
// Backends call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/becomeliminal/friday/core"
	"github.com/becomeliminal/friday/memory"
	"github.com/m-mizutani/gt"
)

// Dimensions is the embedding size the suite writes. Stores under test must
// accept it.
const Dimensions = 4

// NewStore opens an empty store for one subtest.
type NewStore func(t *testing.T) memory.Store

// Run executes the suite.
func Run(t *testing.T, newStore NewStore) {
	t.Run("AddGetCount", func(t *testing.T) { testAddGetCount(t, newStore(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("UpdateMetadata", func(t *testing.T) { testUpdateMetadata(t, newStore(t)) })
	t.Run("Query", func(t *testing.T) { testQuery(t, newStore(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("ListOrder", func(t *testing.T) { testListOrder(t, newStore(t)) })
	t.Run("Reset", func(t *testing.T) { testReset(t, newStore(t)) })
}

var base = time.Unix(1_700_000_000, 0)

// axis returns a unit vector along dimension i.
func axis(i int) []float32 {
	v := make([]float32, Dimensions)
	v[i%Dimensions] = 1
	return v
}

func record(role core.Role, content string, offset time.Duration, emb []float32) *memory.Record {
	rec := memory.NewRecord(role, content, base.Add(offset))
	rec.Embedding = emb
	return rec
}

func testAddGetCount(t *testing.T, s memory.Store) {
	ctx := context.Background()

	rec := record(core.RoleUser, "remember to call mom", 0, axis(0))
	gt.NoError(t, s.Add(ctx, rec))

	n, err := s.Count(ctx)
	gt.NoError(t, err)
	gt.Equal(t, n, 1)

	got, err := s.Get(ctx, rec.ID)
	gt.NoError(t, err)
	gt.Equal(t, got.ID, rec.ID)
	gt.Equal(t, got.Content, "remember to call mom")
	gt.Equal(t, got.Role, core.RoleUser)
	gt.False(t, got.Pinned)
	gt.A(t, got.Embedding).Length(Dimensions)
	gt.Equal(t, got.CreatedAt.Unix(), rec.CreatedAt.Unix())
}

func testGetMissing(t *testing.T, s memory.Store) {
	ctx := context.Background()

	_, err := s.Get(ctx, "user_0_missing")
	gt.Error(t, err)
	gt.True(t, errors.Is(err, memory.ErrNotFound))

	err = s.UpdateMetadata(ctx, "user_0_missing", map[string]string{memory.MetaRole: "user"})
	gt.True(t, errors.Is(err, memory.ErrNotFound))
}

func testUpdateMetadata(t *testing.T, s memory.Store) {
	ctx := context.Background()

	rec := record(core.RoleAssistant, "Your dentist is on Tuesday.", 0, axis(1))
	gt.NoError(t, s.Add(ctx, rec))

	rec.Pin("health")
	gt.NoError(t, s.UpdateMetadata(ctx, rec.ID, rec.Metadata()))

	got, err := s.Get(ctx, rec.ID)
	gt.NoError(t, err)
	gt.True(t, got.Pinned)
	gt.Equal(t, got.PinNote, "health")
	gt.Equal(t, got.Content, "Your dentist is on Tuesday.")
	gt.Equal(t, got.Role, core.RoleAssistant)
	gt.Equal(t, got.CreatedAt.Unix(), rec.CreatedAt.Unix())

	rec.Unpin()
	gt.NoError(t, s.UpdateMetadata(ctx, rec.ID, rec.Metadata()))
	got, err = s.Get(ctx, rec.ID)
	gt.NoError(t, err)
	gt.False(t, got.Pinned)
	gt.Equal(t, got.PinNote, "")
	gt.Equal(t, got.Metadata()[memory.MetaPinNote], "")

	// The update must not disturb nearest-neighbor results.
	matches, err := s.Query(ctx, axis(1), 1)
	gt.NoError(t, err)
	gt.A(t, matches).Length(1)
	gt.Equal(t, matches[0].Record.ID, rec.ID)
}

func testQuery(t *testing.T, s memory.Store) {
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		gt.NoError(t, s.Add(ctx, record(core.RoleUser, "record on an axis.", time.Duration(i)*time.Second, axis(i))))
	}

	matches, err := s.Query(ctx, []float32{0.1, 0.9, 0.2, 0}, 3)
	gt.NoError(t, err)
	gt.A(t, matches).Length(3)
	gt.True(t, matches[0].Record.Embedding[1] > 0.99)
	gt.True(t, matches[0].Similarity >= matches[1].Similarity)
	gt.True(t, matches[1].Similarity >= matches[2].Similarity)

	// n larger than the collection is capped.
	matches, err = s.Query(ctx, axis(0), 10)
	gt.NoError(t, err)
	gt.A(t, matches).Length(3)

	matches, err = s.Query(ctx, axis(0), 0)
	gt.NoError(t, err)
	gt.A(t, matches).Length(0)
}

func testDelete(t *testing.T, s memory.Store) {
	ctx := context.Background()

	keep := record(core.RoleUser, "keep this one.", 0, axis(0))
	drop := record(core.RoleUser, "drop this one.", time.Second, axis(1))
	gt.NoError(t, s.Add(ctx, keep))
	gt.NoError(t, s.Add(ctx, drop))

	gt.NoError(t, s.Delete(ctx, drop.ID))
	gt.NoError(t, s.Delete(ctx, "user_0_unknown"))
	gt.NoError(t, s.Delete(ctx))

	_, err := s.Get(ctx, drop.ID)
	gt.True(t, errors.Is(err, memory.ErrNotFound))

	matches, err := s.Query(ctx, axis(1), 5)
	gt.NoError(t, err)
	gt.A(t, matches).Length(1)
	gt.Equal(t, matches[0].Record.ID, keep.ID)

	n, err := s.Count(ctx)
	gt.NoError(t, err)
	gt.Equal(t, n, 1)
}

func testListOrder(t *testing.T, s memory.Store) {
	ctx := context.Background()

	contents := []string{"first message.", "second message.", "third message."}
	for i, c := range contents {
		gt.NoError(t, s.Add(ctx, record(core.RoleUser, c, time.Duration(i)*time.Minute, axis(2-i))))
	}

	records, err := s.List(ctx)
	gt.NoError(t, err)
	gt.A(t, records).Length(3)
	for i, c := range contents {
		gt.Equal(t, records[i].Content, c)
	}
}

func testReset(t *testing.T, s memory.Store) {
	ctx := context.Background()

	gt.NoError(t, s.Add(ctx, record(core.RoleUser, "soon to be gone.", 0, axis(0))))
	gt.NoError(t, s.Reset(ctx))

	n, err := s.Count(ctx)
	gt.NoError(t, err)
	gt.Equal(t, n, 0)

	records, err := s.List(ctx)
	gt.NoError(t, err)
	gt.A(t, records).Length(0)

	// The store stays usable after a reset.
	gt.NoError(t, s.Add(ctx, record(core.RoleUser, "fresh start.", 0, axis(0))))
	n, err = s.Count(ctx)
	gt.NoError(t, err)
	gt.Equal(t, n, 1)
}
