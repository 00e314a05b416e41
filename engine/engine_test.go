package engine_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/becomeliminal/friday/core"
	"github.com/becomeliminal/friday/engine"
	"github.com/becomeliminal/friday/llm"
	"github.com/becomeliminal/friday/memory"
	"github.com/becomeliminal/friday/memory/embedder/mock"
	"github.com/becomeliminal/friday/memory/store/chromem"
	"github.com/m-mizutani/gt"
)

// scriptedCompleter streams chunks and answers Complete with summary.
type scriptedCompleter struct {
	mu        sync.Mutex
	chunks    []string
	streamErr error
	summary   string
	prompts   []string
}

func (c *scriptedCompleter) Complete(_ context.Context, prompt string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summary, nil
}

func (c *scriptedCompleter) Stream(_ context.Context, prompt string) (<-chan llm.StreamChunk, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts = append(c.prompts, prompt)

	ch := make(chan llm.StreamChunk, len(c.chunks)+1)
	for _, s := range c.chunks {
		ch <- llm.StreamChunk{Content: s}
	}
	if c.streamErr != nil {
		ch <- llm.StreamChunk{Error: c.streamErr}
	}
	close(ch)
	return ch, nil
}

func (c *scriptedCompleter) lastPrompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.prompts) == 0 {
		return ""
	}
	return c.prompts[len(c.prompts)-1]
}

func (c *scriptedCompleter) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.prompts)
}

func newManager(t *testing.T, embedder *mock.Embedder, opts ...memory.Option) *memory.Manager {
	t.Helper()
	store, err := chromem.New(chromem.Config{Dimensions: embedder.Dimensions()})
	gt.NoError(t, err)
	m, err := memory.NewManager(store, embedder, opts...)
	gt.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func count(t *testing.T, m *memory.Manager) int {
	t.Helper()
	n, err := m.Stats(context.Background())
	gt.NoError(t, err)
	return n
}

func TestChat_StreamsAndSavesBothSides(t *testing.T) {
	ctx := context.Background()
	completer := &scriptedCompleter{chunks: []string{"Great plan, ", "start with the tour."}}
	m := newManager(t, mock.New())
	e := engine.New(completer, engine.WithMemory(m), engine.WithPersona("You are Friday."))

	var got []string
	reply, err := e.Chat(ctx, "I want to learn Go this year.", func(s string) { got = append(got, s) })
	gt.NoError(t, err)
	gt.Equal(t, got, []string{"Great plan, ", "start with the tour."})
	gt.Equal(t, reply.Text, "Great plan, start with the tour.")
	gt.False(t, reply.Command)

	prompt := completer.lastPrompt()
	gt.True(t, strings.HasPrefix(prompt, "System: You are Friday.\n\nRelevant memory:\n"))
	gt.S(t, prompt).Contains("Working goals: I want to learn Go this year.")
	gt.True(t, strings.HasSuffix(prompt, "\n\nUser: I want to learn Go this year.\nAssistant:"))

	gt.Equal(t, m.Goals(), []string{"I want to learn Go this year."})
	gt.Equal(t, count(t, m), 2)

	assistant, err := m.ListRecent(ctx, 0, core.RoleAssistant)
	gt.NoError(t, err)
	gt.A(t, assistant).Length(1)
	gt.Equal(t, assistant[0].Content, "Great plan, start with the tour.")
}

func TestChat_InjectsRelevantMemory(t *testing.T) {
	ctx := context.Background()
	completer := &scriptedCompleter{chunks: []string{"Her name is Ana."}}
	m := newManager(t, mock.New())
	e := engine.New(completer, engine.WithMemory(m))

	stored, err := m.Save(ctx, core.RoleUser, "remember that my sister is called Ana")
	gt.NoError(t, err)
	gt.True(t, stored)

	_, err = e.Chat(ctx, "what is my sister called?", nil)
	gt.NoError(t, err)
	gt.S(t, completer.lastPrompt()).Contains("Relevant memory:\nuser: remember that my sister is called Ana\n\nUser:")
}

func TestChat_WithoutMemory(t *testing.T) {
	completer := &scriptedCompleter{chunks: []string{"Hello there!"}}
	e := engine.New(completer)

	reply, err := e.Chat(context.Background(), "hello", nil)
	gt.NoError(t, err)
	gt.Equal(t, reply.Text, "Hello there!")
	gt.S(t, completer.lastPrompt()).Contains("Relevant memory:\n(none)\n\n")

	answer, err := e.Chat(context.Background(), "friday: stats", nil)
	gt.NoError(t, err)
	gt.True(t, answer.Command)
	gt.Equal(t, answer.Text, "Memory is disabled.")
}

func TestChat_EmptyMessage(t *testing.T) {
	e := engine.New(&scriptedCompleter{})
	_, err := e.Chat(context.Background(), "   ", nil)
	gt.True(t, errors.Is(err, memory.ErrValidation))
}

func TestChat_StreamFailureSavesNothing(t *testing.T) {
	completer := &scriptedCompleter{chunks: []string{"partial"}, streamErr: errors.New("connection reset")}
	m := newManager(t, mock.New())
	e := engine.New(completer, engine.WithMemory(m))

	_, err := e.Chat(context.Background(), "remember the meeting moved to Friday.", nil)
	gt.Error(t, err)
	gt.Equal(t, count(t, m), 0)
}

func TestChat_RetrievalUnavailableStillAnswers(t *testing.T) {
	embedder := mock.New()
	completer := &scriptedCompleter{chunks: []string{"Sure thing."}}
	m := newManager(t, embedder)
	e := engine.New(completer, engine.WithMemory(m))

	embedder.FailWith(errors.New("embedding server down"))
	reply, err := e.Chat(context.Background(), "what did we decide yesterday?", nil)
	gt.NoError(t, err)
	gt.Equal(t, reply.Text, "Sure thing.")
	gt.S(t, completer.lastPrompt()).Contains("Relevant memory:\n(none)\n\n")
	gt.Equal(t, count(t, m), 0)
}

func TestChat_Commands(t *testing.T) {
	ctx := context.Background()
	completer := &scriptedCompleter{chunks: []string{"Your flight leaves at 9am."}}
	m := newManager(t, mock.New())
	e := engine.New(completer, engine.WithMemory(m))

	reply, err := e.Chat(ctx, "friday: pin flight", nil)
	gt.NoError(t, err)
	gt.True(t, reply.Command)
	gt.Equal(t, reply.Text, "No assistant messages found to pin.")

	_, err = e.Chat(ctx, "When does my flight leave tomorrow?", nil)
	gt.NoError(t, err)
	gt.Equal(t, completer.calls(), 1)

	var chunks []string
	reply, err = e.Chat(ctx, "FRIDAY: pin flight time", func(s string) { chunks = append(chunks, s) })
	gt.NoError(t, err)
	gt.Equal(t, reply.Text, "Pinned last assistant message.")
	gt.Equal(t, chunks, []string{"Pinned last assistant message."})

	reply, err = e.Chat(ctx, "friday: pinned", nil)
	gt.NoError(t, err)
	gt.Equal(t, reply.Text, "1 pinned:\n- Your flight leaves at 9am. (flight time)")

	reply, err = e.Chat(ctx, "friday: stats", nil)
	gt.NoError(t, err)
	gt.Equal(t, reply.Text, "2 memories stored.")

	reply, err = e.Chat(ctx, "friday: goals", nil)
	gt.NoError(t, err)
	gt.Equal(t, reply.Text, "No working goals yet. State a new goal to track it.")

	reply, err = e.Chat(ctx, "friday: forget flight", nil)
	gt.NoError(t, err)
	gt.Equal(t, reply.Text, "Forgot 2 similar memories.")
	gt.Equal(t, count(t, m), 0)

	// None of the commands reached the model.
	gt.Equal(t, completer.calls(), 1)
}

func TestChat_UnknownCommandGoesToModel(t *testing.T) {
	completer := &scriptedCompleter{chunks: []string{"I'm not sure what that means."}}
	e := engine.New(completer)

	reply, err := e.Chat(context.Background(), "friday: dance", nil)
	gt.NoError(t, err)
	gt.False(t, reply.Command)
	gt.Equal(t, completer.calls(), 1)
}

func TestChat_GoalsCommandListsGoals(t *testing.T) {
	ctx := context.Background()
	completer := &scriptedCompleter{chunks: []string{"Noted."}}
	m := newManager(t, mock.New())
	e := engine.New(completer, engine.WithMemory(m))

	_, err := e.Chat(ctx, "My goal is to run a marathon.", nil)
	gt.NoError(t, err)
	_, err = e.Chat(ctx, "I plan to read more books.", nil)
	gt.NoError(t, err)

	reply, err := e.Chat(ctx, "friday: goals", nil)
	gt.NoError(t, err)
	gt.Equal(t, reply.Text, "Working goals:\n- I plan to read more books.\n- My goal is to run a marathon.")
}

func TestChat_TriggersCompaction(t *testing.T) {
	ctx := context.Background()
	completer := &scriptedCompleter{chunks: []string{"Tea it is, then."}, summary: "- Prefers tea"}

	cfg := *memory.DefaultConfig
	cfg.CompactEvery = 2
	cfg.CompactionWindow = 2
	m := newManager(t, mock.New(),
		memory.WithConfig(&cfg),
		memory.WithSummarizer(memory.NewLLMSummarizer(completer)),
	)
	e := engine.New(completer, engine.WithMemory(m))

	reply, err := e.Chat(ctx, "I like tea more than coffee.", nil)
	gt.NoError(t, err)
	gt.NotNil(t, reply.Summary)
	gt.Equal(t, reply.Summary.Content, "- Prefers tea")
	gt.Equal(t, count(t, m), 3)
}
