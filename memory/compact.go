package memory

import (
	"context"
	"strings"

	"github.com/becomeliminal/friday/logging"
	"github.com/m-mizutani/goerr/v2"
	"go.opentelemetry.io/otel/attribute"
)

// Compact summarizes the most recent limit records into one summary record
// and returns it. With fewer than limit records nothing happens and the
// record is nil. Source records are never deleted. A non-positive limit uses
// Config.CompactionWindow.
//
// Failures abandon the cycle: they are logged and returned, and nothing is
// written. A failed tag request only drops the tags.
func (m *Manager) Compact(ctx context.Context, limit int) (*Record, error) {
	if limit <= 0 {
		limit = m.config.CompactionWindow
	}
	logger := logging.From(ctx)

	if m.summarizer == nil {
		return nil, goerr.Wrap(ErrServiceUnavailable, "no summarizer configured")
	}

	ctx, span := startSpan(ctx, "memory.compact")
	defer span.End()
	span.SetAttributes(attribute.Int("limit", limit))

	records, err := m.store.List(ctx)
	if err != nil {
		err = classify(ErrStorage, err)
		recordSpanError(span, err)
		logger.Error("compaction abandoned", "error", err)
		return nil, err
	}
	if len(records) < limit {
		logger.Debug("compaction skipped, window not full", "records", len(records), "limit", limit)
		return nil, nil
	}

	window := records[len(records)-limit:]
	contents := make([]string, len(window))
	for i, rec := range window {
		contents[i] = rec.Content
	}

	sctx := ctx
	if m.config.SummarizeTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, m.config.SummarizeTimeout)
		defer cancel()
	}

	tags, err := m.summarizer.Tags(sctx, strings.Join(contents, "\n"))
	if err != nil {
		logger.Warn("compaction continuing without tags", "error", err)
		tags = nil
	}

	summary, err := m.summarizer.Summarize(sctx, contents)
	if err == nil && strings.TrimSpace(summary) == "" {
		err = goerr.New("summarizer returned an empty summary")
	}
	if err != nil {
		err = Unavailable(err)
		recordSpanError(span, err)
		logger.Error("compaction abandoned", "error", err)
		return nil, err
	}

	rec := NewSummaryRecord(strings.TrimSpace(summary), tags, m.now())
	rec.Embedding, err = m.embedder.Embed(ctx, rec.Content)
	if err != nil {
		recordSpanError(span, err)
		logger.Error("compaction abandoned", "error", err)
		return nil, err
	}

	if err := m.store.Add(ctx, rec); err != nil {
		err = classify(ErrStorage, err)
		recordSpanError(span, err)
		logger.Error("compaction abandoned", "error", err)
		return nil, err
	}

	span.SetAttributes(attribute.String("id", rec.ID), attribute.Int("tags", len(tags)))
	logger.Info("memory compacted", "id", rec.ID, "window", limit, "tags", strings.Join(tags, ","))
	return rec, nil
}

// MaybeCompact runs Compact once Config.CompactEvery successful saves have
// accumulated since the last automatic compaction. It returns nil when no
// compaction was due.
func (m *Manager) MaybeCompact(ctx context.Context) (*Record, error) {
	every := int64(m.config.CompactEvery)
	if every <= 0 || m.summarizer == nil {
		return nil, nil
	}

	for {
		n := m.inserts.Load()
		if n < every {
			return nil, nil
		}
		if m.inserts.CompareAndSwap(n, n-every) {
			break
		}
	}
	return m.Compact(ctx, 0)
}
