// Package llm is the text-completion service boundary. The chat path
// streams replies; compaction uses the blocking form.
package llm

import (
	"context"
	"strings"
	"time"
)

// Completer turns a prompt into text.
type Completer interface {
	// Complete blocks until the full reply is available.
	Complete(ctx context.Context, prompt string) (string, error)

	// Stream returns a channel of reply fragments. The channel is closed when
	// the reply ends; a failure mid-stream arrives as a chunk with Error set.
	Stream(ctx context.Context, prompt string) (<-chan StreamChunk, error)
}

// StreamChunk is one fragment of a streamed reply.
type StreamChunk struct {
	Content string
	Error   error
}

// IsError reports whether the chunk carries a failure.
func (c StreamChunk) IsError() bool {
	return c.Error != nil
}

// Options are the sampling settings shared by every provider.
type Options struct {
	Model       string
	System      string
	Temperature float64
	TopP        float64
	MaxTokens   int
	Stop        []string
	Timeout     time.Duration
}

// DefaultOptions keep replies short and stop before the model starts
// writing the next turn itself.
var DefaultOptions = Options{
	Temperature: 0.3,
	TopP:        0.92,
	MaxTokens:   512,
	Stop:        []string{"\nUser:", "\nAssistant:"},
	Timeout:     30 * time.Second,
}

// WithDefaults fills zero fields of o from DefaultOptions.
func (o Options) WithDefaults() Options {
	if o.Temperature == 0 {
		o.Temperature = DefaultOptions.Temperature
	}
	if o.TopP == 0 {
		o.TopP = DefaultOptions.TopP
	}
	if o.MaxTokens == 0 {
		o.MaxTokens = DefaultOptions.MaxTokens
	}
	if o.Stop == nil {
		o.Stop = DefaultOptions.Stop
	}
	if o.Timeout == 0 {
		o.Timeout = DefaultOptions.Timeout
	}
	return o
}

// Collect drains a stream into a single string. It stops at the first error.
func Collect(stream <-chan StreamChunk) (string, error) {
	var sb strings.Builder
	for chunk := range stream {
		if chunk.IsError() {
			return sb.String(), chunk.Error
		}
		sb.WriteString(chunk.Content)
	}
	return sb.String(), nil
}

// Send delivers chunk unless ctx is done. It reports whether the chunk was sent.
func Send(ctx context.Context, ch chan<- StreamChunk, chunk StreamChunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
