// Package anthropic implements llm.Completer on the Claude Messages API.
package anthropic

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/becomeliminal/friday/llm"
	"github.com/m-mizutani/goerr/v2"
)

// DefaultModel is used when Options.Model is empty.
const DefaultModel = anthropic.ModelClaudeSonnet4_5

// Config configures the Claude completer.
type Config struct {
	APIKey string
	// BaseURL overrides the API endpoint (tests, proxies).
	BaseURL string
	Options llm.Options
}

// Completer talks to Claude.
type Completer struct {
	client anthropic.Client
	opts   llm.Options
}

var _ llm.Completer = (*Completer)(nil)

// New creates a Claude completer.
func New(cfg Config) (*Completer, error) {
	if cfg.APIKey == "" {
		return nil, goerr.New("anthropic api key is required")
	}
	opts := cfg.Options.WithDefaults()
	if opts.Model == "" {
		opts.Model = string(DefaultModel)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(opts.Timeout),
		option.WithMaxRetries(1),
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Completer{
		client: anthropic.NewClient(reqOpts...),
		opts:   opts,
	}, nil
}

func (c *Completer) params(prompt string) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:         anthropic.Model(c.opts.Model),
		MaxTokens:     int64(c.opts.MaxTokens),
		Messages:      []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
		Temperature:   anthropic.Float(c.opts.Temperature),
		StopSequences: c.opts.Stop,
	}
	if c.opts.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: c.opts.System}}
	}
	return params
}

// Complete sends prompt and returns the concatenated text blocks of the reply.
func (c *Completer) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Messages.New(ctx, c.params(prompt))
	if err != nil {
		return "", goerr.Wrap(err, "claude request failed", goerr.V("model", c.opts.Model))
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

// Stream sends prompt and forwards text deltas as they arrive.
func (c *Completer) Stream(ctx context.Context, prompt string) (<-chan llm.StreamChunk, error) {
	stream := c.client.Messages.NewStreaming(ctx, c.params(prompt))

	chunks := make(chan llm.StreamChunk, 10)
	go func() {
		defer close(chunks)
		defer stream.Close()

		for stream.Next() {
			event := stream.Current()
			switch evt := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				switch delta := evt.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if !llm.Send(ctx, chunks, llm.StreamChunk{Content: delta.Text}) {
						return
					}
				}
			case anthropic.MessageStopEvent:
				return
			}
		}

		if err := stream.Err(); err != nil {
			llm.Send(ctx, chunks, llm.StreamChunk{Error: goerr.Wrap(err, "claude stream failed", goerr.V("model", c.opts.Model))})
		}
	}()

	return chunks, nil
}
