// Package openai implements llm.Completer for any OpenAI-compatible chat
// completions endpoint. The default endpoint is a local Ollama server.
package openai

import (
	"context"

	"github.com/becomeliminal/friday/llm"
	"github.com/m-mizutani/goerr/v2"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	// DefaultBaseURL is Ollama's OpenAI-compatible API.
	DefaultBaseURL = "http://localhost:11434/v1"
	// DefaultModel is used when Options.Model is empty.
	DefaultModel = "llama3.1"
)

// Config configures the completer.
type Config struct {
	// APIKey is required by OpenAI; Ollama ignores it.
	APIKey  string
	BaseURL string
	Options llm.Options
}

// Completer talks to an OpenAI-compatible endpoint.
type Completer struct {
	client openai.Client
	opts   llm.Options
}

var _ llm.Completer = (*Completer)(nil)

// New creates a completer.
func New(cfg Config) *Completer {
	opts := cfg.Options.WithDefaults()
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.APIKey == "" {
		cfg.APIKey = "ollama"
	}

	return &Completer{
		client: openai.NewClient(
			option.WithBaseURL(cfg.BaseURL),
			option.WithAPIKey(cfg.APIKey),
			option.WithRequestTimeout(opts.Timeout),
			option.WithMaxRetries(1),
		),
		opts: opts,
	}
}

func (c *Completer) params(prompt string) openai.ChatCompletionNewParams {
	var messages []openai.ChatCompletionMessageParamUnion
	if c.opts.System != "" {
		messages = append(messages, openai.SystemMessage(c.opts.System))
	}
	messages = append(messages, openai.UserMessage(prompt))

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.opts.Model),
		Messages:    messages,
		Temperature: openai.Float(c.opts.Temperature),
		TopP:        openai.Float(c.opts.TopP),
		MaxTokens:   openai.Int(int64(c.opts.MaxTokens)),
	}
	if len(c.opts.Stop) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: c.opts.Stop}
	}
	return params
}

// Complete returns the first choice of a chat completion.
func (c *Completer) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, c.params(prompt))
	if err != nil {
		return "", goerr.Wrap(err, "chat completion failed", goerr.V("model", c.opts.Model))
	}
	if len(resp.Choices) == 0 {
		return "", goerr.New("chat completion returned no choices", goerr.V("model", c.opts.Model))
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream forwards content deltas of a streamed chat completion.
func (c *Completer) Stream(ctx context.Context, prompt string) (<-chan llm.StreamChunk, error) {
	stream := c.client.Chat.Completions.NewStreaming(ctx, c.params(prompt))

	chunks := make(chan llm.StreamChunk, 10)
	go func() {
		defer close(chunks)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			if !llm.Send(ctx, chunks, llm.StreamChunk{Content: chunk.Choices[0].Delta.Content}) {
				return
			}
		}

		if err := stream.Err(); err != nil {
			llm.Send(ctx, chunks, llm.StreamChunk{Error: goerr.Wrap(err, "chat completion stream failed", goerr.V("model", c.opts.Model))})
		}
	}()

	return chunks, nil
}
