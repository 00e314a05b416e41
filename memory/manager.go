package memory

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/becomeliminal/friday/core"
	"github.com/becomeliminal/friday/logging"
	"github.com/becomeliminal/friday/memory/cache/ristretto"
	"github.com/m-mizutani/goerr/v2"
	"go.opentelemetry.io/otel/attribute"
)

// Config holds the memory tunables.
type Config struct {
	// Enabled turns the whole memory off when false: nothing is saved and
	// retrieval returns no context.
	Enabled bool

	// TopK is the default number of recollections returned by Retrieve.
	TopK int

	// CandidateMultiplier and CandidateLimit size the similarity shortlist
	// handed to the ranker: min(TopK*CandidateMultiplier, CandidateLimit).
	CandidateMultiplier int
	CandidateLimit      int

	// ForgetTopK is the default number of records Forget removes.
	ForgetTopK int

	// CompactionWindow is how many recent records one compaction summarizes.
	CompactionWindow int

	// CompactEvery is the number of successful saves between compactions.
	// Zero disables automatic compaction.
	CompactEvery int

	// MaxGoals bounds the working-goal stack.
	MaxGoals int

	// EmbedTimeout bounds each embedding provider call.
	EmbedTimeout time.Duration

	// SummarizeTimeout bounds one compaction's summarizer calls.
	SummarizeTimeout time.Duration
}

// DefaultConfig provides sensible defaults.
var DefaultConfig = &Config{
	Enabled:             true,
	TopK:                3,
	CandidateMultiplier: 4,
	CandidateLimit:      12,
	ForgetTopK:          5,
	CompactionWindow:    40,
	CompactEvery:        20,
	MaxGoals:            DefaultMaxGoals,
	EmbedTimeout:        30 * time.Second,
	SummarizeTimeout:    60 * time.Second,
}

// WithDefaults returns a copy of c with zero numeric fields taken from
// DefaultConfig. CompactEvery is left alone: zero disables automatic
// compaction.
func (c Config) WithDefaults() Config {
	d := DefaultConfig
	fill := func(v *int, def int) {
		if *v <= 0 {
			*v = def
		}
	}
	fill(&c.TopK, d.TopK)
	fill(&c.CandidateMultiplier, d.CandidateMultiplier)
	fill(&c.CandidateLimit, d.CandidateLimit)
	fill(&c.ForgetTopK, d.ForgetTopK)
	fill(&c.CompactionWindow, d.CompactionWindow)
	fill(&c.MaxGoals, d.MaxGoals)
	if c.EmbedTimeout <= 0 {
		c.EmbedTimeout = d.EmbedTimeout
	}
	if c.SummarizeTimeout <= 0 {
		c.SummarizeTimeout = d.SummarizeTimeout
	}
	return c
}

// Manager is the memory of one conversation session. It owns the embedding
// cache and the working-goal stack, and reaches persisted records only
// through its Store. Independent managers share nothing.
type Manager struct {
	store      Store
	embedder   *CachedEmbedder
	summarizer Summarizer
	goals      *GoalStack
	config     *Config
	now        func() time.Time

	cache      Cache
	ownedCache *ristretto.Cache

	locks   idLocks
	inserts atomic.Int64
}

// Option configures the manager.
type Option func(*Manager)

// WithConfig overrides DefaultConfig. The manager keeps its own copy; zero
// numeric fields take their DefaultConfig value. Enabled and CompactEvery
// are used as given.
func WithConfig(cfg *Config) Option {
	return func(m *Manager) {
		if cfg != nil {
			c := cfg.WithDefaults()
			m.config = &c
		}
	}
}

// WithCache sets the embedding cache. Without it an in-process ristretto
// cache is created.
func WithCache(c Cache) Option {
	return func(m *Manager) {
		m.cache = c
	}
}

// WithSummarizer enables compaction.
func WithSummarizer(s Summarizer) Option {
	return func(m *Manager) {
		m.summarizer = s
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a manager over store and embedder.
func NewManager(store Store, embedder Embedder, opts ...Option) (*Manager, error) {
	if store == nil || embedder == nil {
		return nil, goerr.Wrap(ErrValidation, "memory manager needs a store and an embedder")
	}

	defaults := *DefaultConfig
	m := &Manager{
		store:  store,
		config: &defaults,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.cache == nil {
		c, err := ristretto.New(ristretto.DefaultConfig)
		if err != nil {
			return nil, err
		}
		m.cache = c
		m.ownedCache = c
	}

	m.embedder = NewCachedEmbedder(embedder, m.cache, m.config.EmbedTimeout)
	m.goals = NewGoalStack(m.config.MaxGoals)
	return m, nil
}

// Close releases the store and any cache the manager created.
func (m *Manager) Close() error {
	if m.ownedCache != nil {
		m.ownedCache.Close()
	}
	return m.store.Close()
}

// Embedder returns the cached embedder the manager uses.
func (m *Manager) Embedder() *CachedEmbedder {
	return m.embedder
}

// Save persists content when it passes the admission filter. It returns
// false with a nil error when the text is not worth keeping.
func (m *Manager) Save(ctx context.Context, role core.Role, content string) (bool, error) {
	if !m.config.Enabled {
		return false, nil
	}
	if !role.Valid() {
		return false, goerr.Wrap(ErrValidation, "unknown role", goerr.V("role", role))
	}

	ctx, span := startSpan(ctx, "memory.save")
	defer span.End()

	if !IsAdmissible(content) {
		span.SetAttributes(attribute.Bool("stored", false))
		logging.From(ctx).Debug("memory rejected by admission filter", "role", role, "chars", len(content))
		return false, nil
	}

	vec, err := m.embedder.Embed(ctx, content)
	if err != nil {
		recordSpanError(span, err)
		return false, err
	}

	rec := NewRecord(role, content, m.now())
	rec.Embedding = vec
	if err := m.store.Add(ctx, rec); err != nil {
		err = classify(ErrStorage, err)
		recordSpanError(span, err)
		return false, err
	}

	m.inserts.Add(1)
	span.SetAttributes(attribute.Bool("stored", true), attribute.String("id", rec.ID))
	logging.From(ctx).Info("memory saved", "id", rec.ID, "role", role, "content", truncateLog(content, 60))
	return true, nil
}

// Retrieve returns up to topK memories relevant to query. The store's
// nearest neighbors form a shortlist which Rank re-orders by recency and
// brevity. A non-positive topK uses Config.TopK.
func (m *Manager) Retrieve(ctx context.Context, query string, topK int) ([]Recollection, error) {
	if !m.config.Enabled || strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = m.config.TopK
	}

	ctx, span := startSpan(ctx, "memory.retrieve")
	defer span.End()

	vec, err := m.embedder.Embed(ctx, query)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	n := CandidatePoolSize(topK, m.config.CandidateMultiplier, m.config.CandidateLimit)
	matches, err := m.store.Query(ctx, vec, n)
	if err != nil {
		err = classify(ErrStorage, err)
		recordSpanError(span, err)
		return nil, err
	}

	results := Rank(matches, m.now(), topK)
	span.SetAttributes(
		attribute.Int("top_k", topK),
		attribute.Int("candidates", len(matches)),
		attribute.Int("results", len(results)),
	)
	logging.From(ctx).Debug("memory retrieved", "candidates", len(matches), "results", len(results))
	return results, nil
}

// Stats returns the number of persisted records.
func (m *Manager) Stats(ctx context.Context) (int, error) {
	n, err := m.store.Count(ctx)
	if err != nil {
		return 0, classify(ErrStorage, err)
	}
	return n, nil
}

// Get returns one record by id.
func (m *Manager) Get(ctx context.Context, id string) (*Record, error) {
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, classify(ErrStorage, err)
	}
	return rec, nil
}

// ListRecent returns the most recent limit records in storage order, oldest
// first. An empty role lists every role; a non-positive limit lists all.
func (m *Manager) ListRecent(ctx context.Context, limit int, role core.Role) ([]*Record, error) {
	records, err := m.store.List(ctx)
	if err != nil {
		return nil, classify(ErrStorage, err)
	}

	if role != "" {
		filtered := records[:0]
		for _, rec := range records {
			if rec.Role == role {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}

	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records, nil
}

// Pin marks record id as pinned with note, keeping its role and timestamp.
func (m *Manager) Pin(ctx context.Context, id, note string) error {
	return m.updatePin(ctx, id, func(rec *Record) { rec.Pin(note) })
}

// Unpin clears the pin and removes the note entirely.
func (m *Manager) Unpin(ctx context.Context, id string) error {
	return m.updatePin(ctx, id, func(rec *Record) { rec.Unpin() })
}

func (m *Manager) updatePin(ctx context.Context, id string, mutate func(*Record)) error {
	unlock := m.locks.lock(id)
	defer unlock()

	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return classify(ErrStorage, err)
	}

	mutate(rec)
	if err := m.store.UpdateMetadata(ctx, id, rec.Metadata()); err != nil {
		return classify(ErrStorage, err)
	}

	logging.From(ctx).Info("memory pin updated", "id", id, "pinned", rec.Pinned, "note", rec.PinNote)
	return nil
}

// Delete removes record id permanently.
func (m *Manager) Delete(ctx context.Context, id string) error {
	unlock := m.locks.lock(id)
	defer unlock()

	if _, err := m.store.Get(ctx, id); err != nil {
		return classify(ErrStorage, err)
	}
	if err := m.store.Delete(ctx, id); err != nil {
		return classify(ErrStorage, err)
	}

	logging.From(ctx).Info("memory deleted", "id", id)
	return nil
}

// ListPinned returns every pinned record in storage order.
func (m *Manager) ListPinned(ctx context.Context) ([]*Record, error) {
	records, err := m.store.List(ctx)
	if err != nil {
		return nil, classify(ErrStorage, err)
	}

	var pinned []*Record
	for _, rec := range records {
		if rec.Pinned {
			pinned = append(pinned, rec)
		}
	}
	return pinned, nil
}

// Forget deletes the topK records most similar to query, by raw similarity
// with no re-ranking, and returns how many were deleted. A non-positive
// topK uses Config.ForgetTopK.
func (m *Manager) Forget(ctx context.Context, query string, topK int) (int, error) {
	if strings.TrimSpace(query) == "" {
		return 0, nil
	}
	if topK <= 0 {
		topK = m.config.ForgetTopK
	}

	ctx, span := startSpan(ctx, "memory.forget")
	defer span.End()

	vec, err := m.embedder.Embed(ctx, query)
	if err != nil {
		recordSpanError(span, err)
		return 0, err
	}

	matches, err := m.store.Query(ctx, vec, topK)
	if err != nil {
		err = classify(ErrStorage, err)
		recordSpanError(span, err)
		return 0, err
	}
	if len(matches) == 0 {
		return 0, nil
	}

	ids := make([]string, len(matches))
	for i, match := range matches {
		ids[i] = match.Record.ID
	}
	if err := m.store.Delete(ctx, ids...); err != nil {
		err = classify(ErrStorage, err)
		recordSpanError(span, err)
		return 0, err
	}

	span.SetAttributes(attribute.Int("deleted", len(ids)))
	logging.From(ctx).Info("memory forgotten", "query", truncateLog(query, 60), "deleted", len(ids))
	return len(ids), nil
}

// PushGoal records a working goal. Blank goals are ignored.
func (m *Manager) PushGoal(goal string) bool {
	return m.goals.Push(goal)
}

// Goals returns the working goals, most recent first.
func (m *Manager) Goals() []string {
	return m.goals.List()
}

// ClearAll destroys every record, the embedding cache and the working
// goals. It cannot be undone.
func (m *Manager) ClearAll(ctx context.Context) error {
	if err := m.store.Reset(ctx); err != nil {
		return classify(ErrStorage, err)
	}
	if err := m.embedder.Clear(ctx); err != nil {
		return classify(ErrStorage, err)
	}
	m.goals.Clear()
	m.inserts.Store(0)

	logging.From(ctx).Warn("memory cleared")
	return nil
}

// idLocks serializes metadata rewrites per record id.
type idLocks [64]sync.Mutex

func (l *idLocks) lock(id string) func() {
	h := fnv.New32a()
	h.Write([]byte(id))
	mu := &l[h.Sum32()%uint32(len(l))]
	mu.Lock()
	return mu.Unlock
}

// truncateLog shortens s for log output.
func truncateLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return truncateRunes(s, maxLen) + "..."
}
