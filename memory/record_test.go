package memory_test

import (
	"strings"
	"testing"
	"time"

	"github.com/becomeliminal/friday/core"
	"github.com/becomeliminal/friday/memory"
	"github.com/m-mizutani/gt"
)

func TestNewRecordIDsAreUnique(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		rec := memory.NewRecord(core.RoleUser, "same millisecond", now)
		gt.True(t, strings.HasPrefix(rec.ID, "user_1700000000000_"))
		gt.False(t, seen[rec.ID])
		seen[rec.ID] = true
	}

	summary := memory.NewSummaryRecord("- fact", []string{"a"}, now)
	gt.True(t, strings.HasPrefix(summary.ID, "summary_1700000000000_"))
	gt.Equal(t, summary.Role, core.RoleAssistant)
	gt.Equal(t, summary.Kind, memory.KindSummary)
}

func TestRecordMetadataRoundTrip(t *testing.T) {
	created := time.Unix(1_700_000_000, 250_000_000)
	rec := memory.NewRecord(core.RoleAssistant, "I will remember that.", created)

	meta := rec.Metadata()
	gt.Equal(t, meta[memory.MetaRole], "assistant")
	_, hasPinned := meta[memory.MetaPinned]
	_, hasNote := meta[memory.MetaPinNote]
	_, hasType := meta[memory.MetaType]
	gt.False(t, hasPinned)
	gt.False(t, hasNote)
	gt.False(t, hasType)

	rec.Pin("important")
	meta = rec.Metadata()
	gt.Equal(t, meta[memory.MetaPinned], "true")
	gt.Equal(t, meta[memory.MetaPinNote], "important")

	back, err := memory.RecordFromMetadata(rec.ID, rec.Content, nil, meta)
	gt.NoError(t, err)
	gt.Equal(t, back.Role, core.RoleAssistant)
	gt.True(t, back.Pinned)
	gt.Equal(t, back.PinNote, "important")
	gt.Equal(t, back.CreatedAt.UnixMilli(), created.UnixMilli())

	rec.Unpin()
	meta = rec.Metadata()
	_, hasPinned = meta[memory.MetaPinned]
	_, hasNote = meta[memory.MetaPinNote]
	gt.False(t, hasPinned)
	gt.False(t, hasNote)
}

func TestSummaryMetadataCarriesTags(t *testing.T) {
	rec := memory.NewSummaryRecord("- fact one", []string{"work", "travel"}, time.Now())
	meta := rec.Metadata()
	gt.Equal(t, meta[memory.MetaType], "summary")
	gt.Equal(t, meta[memory.MetaTags], "work,travel")

	back, err := memory.RecordFromMetadata(rec.ID, rec.Content, nil, meta)
	gt.NoError(t, err)
	gt.Equal(t, back.Kind, memory.KindSummary)
	gt.A(t, back.Tags).Length(2)
}

func TestRecordFromMetadataRejectsBadTimestamp(t *testing.T) {
	_, err := memory.RecordFromMetadata("x", "content", nil, map[string]string{memory.MetaTS: "yesterday"})
	gt.Error(t, err)
}
