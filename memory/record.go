package memory

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/becomeliminal/friday/core"
	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

// Kind distinguishes ordinary conversation records from generated ones.
type Kind string

const (
	// KindMessage is an utterance saved from the conversation.
	KindMessage Kind = ""
	// KindSummary is the output of a compaction.
	KindSummary Kind = "summary"
)

// Metadata keys persisted alongside every record.
const (
	MetaRole    = "role"
	MetaTS      = "ts"
	MetaPinned  = "pinned"
	MetaPinNote = "pin_note"
	MetaType    = "type"
	MetaTags    = "tags"
)

// Record is one persisted memory. Content and Embedding are fixed at write
// time; only the pin state changes afterwards.
type Record struct {
	ID        string
	Role      core.Role
	Content   string
	Kind      Kind
	Tags      []string
	Pinned    bool
	PinNote   string
	CreatedAt time.Time
	Embedding []float32
}

// NewRecord creates an unpersisted record for role and content stamped with now.
func NewRecord(role core.Role, content string, now time.Time) *Record {
	return &Record{
		ID:        newRecordID(string(role), now),
		Role:      role,
		Content:   content,
		CreatedAt: now,
	}
}

// NewSummaryRecord creates the record a compaction inserts.
func NewSummaryRecord(summary string, tags []string, now time.Time) *Record {
	return &Record{
		ID:        newRecordID("summary", now),
		Role:      core.RoleAssistant,
		Content:   summary,
		Kind:      KindSummary,
		Tags:      tags,
		CreatedAt: now,
	}
}

// newRecordID joins prefix, the millisecond timestamp and a random suffix so
// two records written in the same millisecond never share an id.
func newRecordID(prefix string, now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%s_%d_%s", prefix, now.UnixMilli(), suffix)
}

// Timestamp returns CreatedAt as fractional seconds since the epoch.
func (r *Record) Timestamp() float64 {
	return float64(r.CreatedAt.UnixNano()) / 1e9
}

// Pin marks the record pinned with an optional note.
func (r *Record) Pin(note string) {
	r.Pinned = true
	r.PinNote = note
}

// Unpin clears the pin and its note.
func (r *Record) Unpin() {
	r.Pinned = false
	r.PinNote = ""
}

// Metadata encodes the record's attributes as flat string metadata. Keys
// that do not apply are omitted rather than written empty.
func (r *Record) Metadata() map[string]string {
	meta := map[string]string{
		MetaRole: string(r.Role),
		MetaTS:   strconv.FormatFloat(r.Timestamp(), 'f', 6, 64),
	}
	if r.Pinned {
		meta[MetaPinned] = "true"
		meta[MetaPinNote] = r.PinNote
	}
	if r.Kind != KindMessage {
		meta[MetaType] = string(r.Kind)
	}
	if len(r.Tags) > 0 {
		meta[MetaTags] = strings.Join(r.Tags, ",")
	}
	return meta
}

// RecordFromMetadata rebuilds a record from what a vector index returns.
// A missing timestamp leaves CreatedAt zero, which ranking treats as "now".
func RecordFromMetadata(id, content string, embedding []float32, meta map[string]string) (*Record, error) {
	rec := &Record{
		ID:        id,
		Content:   content,
		Embedding: embedding,
		Role:      core.Role(meta[MetaRole]),
		Kind:      Kind(meta[MetaType]),
	}

	if ts, ok := meta[MetaTS]; ok && ts != "" {
		secs, err := strconv.ParseFloat(ts, 64)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid record timestamp", goerr.V("id", id), goerr.V("ts", ts))
		}
		whole := math.Floor(secs)
		micros := math.Round((secs - whole) * 1e6)
		rec.CreatedAt = time.Unix(int64(whole), int64(micros)*int64(time.Microsecond))
	}

	if v := meta[MetaPinned]; v == "true" || v == "True" || v == "1" {
		rec.Pin(meta[MetaPinNote])
	}

	if tags := meta[MetaTags]; tags != "" {
		for _, tag := range strings.Split(tags, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				rec.Tags = append(rec.Tags, tag)
			}
		}
	}

	return rec, nil
}

// Recollection is what retrieval hands back to callers: who said it and what.
type Recollection struct {
	Role    core.Role `json:"role"`
	Content string    `json:"content"`
}

// Message converts the recollection into a chat message.
func (r Recollection) Message() core.Message {
	return core.Message{Role: r.Role, Content: r.Content}
}

// Match is a record paired with its similarity to a query vector.
type Match struct {
	Record     *Record
	Similarity float64
}
