// Package engine runs one chat turn: it answers built-in commands, tracks
// goals, injects relevant memories into the prompt, streams the model's
// reply, and saves both sides of the exchange.
package engine

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/becomeliminal/friday/core"
	"github.com/becomeliminal/friday/llm"
	"github.com/becomeliminal/friday/logging"
	"github.com/becomeliminal/friday/memory"
	"github.com/m-mizutani/goerr/v2"
)

const (
	// DefaultPersona is used when WithPersona is not given.
	DefaultPersona = "You are Friday, a concise and friendly personal assistant."
	// DefaultChatTopK is how many memories a chat turn injects.
	DefaultChatTopK = 2

	emptyContext = "(none)"
)

var goalPattern = regexp.MustCompile(`(?i)\b(my goal|new goal|objective|plan to|i want to)\b`)

// Engine is the chat-turn orchestrator.
type Engine struct {
	completer llm.Completer
	memory    *memory.Manager // Optional: without it turns run statelessly
	persona   string
	chatTopK  int
}

// Option configures the engine.
type Option func(*Engine)

// WithMemory attaches a memory manager.
func WithMemory(m *memory.Manager) Option {
	return func(e *Engine) {
		e.memory = m
	}
}

// WithPersona sets the system line of every prompt.
func WithPersona(persona string) Option {
	return func(e *Engine) {
		e.persona = persona
	}
}

// WithChatTopK sets how many memories are retrieved per turn.
func WithChatTopK(k int) Option {
	return func(e *Engine) {
		e.chatTopK = k
	}
}

// New creates an engine that answers through completer.
func New(completer llm.Completer, opts ...Option) *Engine {
	e := &Engine{
		completer: completer,
		persona:   DefaultPersona,
		chatTopK:  DefaultChatTopK,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Memory returns the attached manager, or nil.
func (e *Engine) Memory() *memory.Manager {
	return e.memory
}

// Reply is the outcome of a chat turn.
type Reply struct {
	// Text is the full reply shown to the user.
	Text string

	// Command is true when the turn was a built-in command and the model
	// was not called.
	Command bool

	// Summary is set when the turn triggered a compaction.
	Summary *memory.Record
}

// Chat runs one turn. Reply fragments are passed to onChunk as they arrive;
// onChunk may be nil. Command replies are delivered as a single chunk.
func (e *Engine) Chat(ctx context.Context, text string, onChunk func(string)) (*Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, goerr.Wrap(memory.ErrValidation, "empty message")
	}
	emit := func(s string) {
		if onChunk != nil && s != "" {
			onChunk(s)
		}
	}

	if answer, ok, err := e.HandleCommand(ctx, text); ok || err != nil {
		if err != nil {
			return nil, err
		}
		emit(answer)
		return &Reply{Text: answer, Command: true}, nil
	}

	logger := logging.From(ctx)
	if e.memory != nil && goalPattern.MatchString(text) {
		if e.memory.PushGoal(text) {
			logger.Info("goal tracked", "goal", text)
		}
	}

	prompt := e.BuildPrompt(text, e.contextBlock(ctx, text))
	stream, err := e.completer.Stream(ctx, prompt)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to start reply")
	}

	var sb strings.Builder
	for chunk := range stream {
		if chunk.IsError() {
			return nil, goerr.Wrap(chunk.Error, "reply interrupted", goerr.V("received", sb.Len()))
		}
		sb.WriteString(chunk.Content)
		emit(chunk.Content)
	}
	answer := strings.TrimSpace(sb.String())

	reply := &Reply{Text: answer}
	if e.memory == nil {
		return reply, nil
	}

	e.save(ctx, core.RoleUser, text)
	e.save(ctx, core.RoleAssistant, answer)

	summary, err := e.memory.MaybeCompact(ctx)
	if err != nil {
		logger.Warn("compaction failed", "error", err)
	}
	reply.Summary = summary
	return reply, nil
}

// save stores one side of the turn. Failures are logged; the user already
// has the reply.
func (e *Engine) save(ctx context.Context, role core.Role, content string) {
	if _, err := e.memory.Save(ctx, role, content); err != nil {
		logging.From(ctx).Warn("failed to save message", "role", role, "error", err)
	}
}

// contextBlock renders retrieved memories and working goals, one per line.
func (e *Engine) contextBlock(ctx context.Context, text string) string {
	if e.memory == nil {
		return emptyContext
	}

	var lines []string
	recollections, err := e.memory.Retrieve(ctx, text, e.chatTopK)
	switch {
	case errors.Is(err, memory.ErrServiceUnavailable):
		logging.From(ctx).Warn("retrieval unavailable, answering without memory", "error", err)
	case err != nil:
		logging.From(ctx).Error("retrieval failed", "error", err)
	}
	for _, r := range recollections {
		lines = append(lines, r.Message().Line())
	}

	if goals := e.memory.Goals(); len(goals) > 0 {
		lines = append(lines, "Working goals: "+strings.Join(goals, "; "))
	}
	if len(lines) == 0 {
		return emptyContext
	}
	return strings.Join(lines, "\n")
}

// BuildPrompt assembles the completion prompt for text, with memories
// rendered under "Relevant memory".
func (e *Engine) BuildPrompt(text, memories string) string {
	var sb strings.Builder
	sb.WriteString("System: ")
	sb.WriteString(e.persona)
	sb.WriteString("\n\nRelevant memory:\n")
	sb.WriteString(memories)
	sb.WriteString("\n\nUser: ")
	sb.WriteString(text)
	sb.WriteString("\nAssistant:")
	return sb.String()
}
