package chromem_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/becomeliminal/friday/core"
	"github.com/becomeliminal/friday/memory"
	"github.com/becomeliminal/friday/memory/store/chromem"
	"github.com/becomeliminal/friday/memory/store/storetest"
	"github.com/m-mizutani/gt"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) memory.Store {
		s, err := chromem.New(chromem.Config{Dimensions: storetest.Dimensions})
		gt.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestPersistentStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) memory.Store {
		s, err := chromem.New(chromem.Config{Path: t.TempDir(), Dimensions: storetest.Dimensions})
		gt.NoError(t, err)
		return s
	})
}

func TestPersistentStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := chromem.New(chromem.Config{Path: dir, Dimensions: 3})
	gt.NoError(t, err)

	rec := memory.NewRecord(core.RoleUser, "remember the milk", memoryTime())
	rec.Embedding = []float32{1, 0, 0}
	gt.NoError(t, s.Add(ctx, rec))
	gt.NoError(t, s.Close())

	reopened, err := chromem.New(chromem.Config{Path: dir, Dimensions: 3})
	gt.NoError(t, err)

	got, err := reopened.Get(ctx, rec.ID)
	gt.NoError(t, err)
	gt.Equal(t, got.Content, "remember the milk")
}

func TestNewRequiresDimensions(t *testing.T) {
	_, err := chromem.New(chromem.Config{})
	gt.Error(t, err)
}

func TestAddRejectsWrongDimensions(t *testing.T) {
	s, err := chromem.New(chromem.Config{Dimensions: 3})
	gt.NoError(t, err)

	rec := memory.NewRecord(core.RoleUser, "wrong size vector.", memoryTime())
	rec.Embedding = []float32{1, 0}
	gt.Error(t, s.Add(context.Background(), rec))
}

func TestDeleteWinsOverConcurrentMetadataRewrite(t *testing.T) {
	ctx := context.Background()
	s, err := chromem.New(chromem.Config{Dimensions: 3})
	gt.NoError(t, err)

	for i := 0; i < 200; i++ {
		rec := memory.NewRecord(core.RoleUser, "pin me, then forget me.", memoryTime())
		rec.Embedding = []float32{1, 0, 0}
		gt.NoError(t, s.Add(ctx, rec))

		rec.Pinned = true
		meta := rec.Metadata()

		var (
			wg        sync.WaitGroup
			deleteErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			// Not found is expected when the delete lands first.
			_ = s.UpdateMetadata(ctx, rec.ID, meta)
		}()
		go func() {
			defer wg.Done()
			deleteErr = s.Delete(ctx, rec.ID)
		}()
		wg.Wait()
		gt.NoError(t, deleteErr)

		_, err := s.Get(ctx, rec.ID)
		gt.True(t, errors.Is(err, memory.ErrNotFound))
	}
}

func memoryTime() time.Time {
	return time.Unix(1_700_000_000, 0)
}
