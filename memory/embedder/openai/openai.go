// Package openai embeds text through any OpenAI-compatible embeddings
// endpoint: OpenAI itself, or a local Ollama server.
package openai

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	// DefaultBaseURL is Ollama's OpenAI-compatible API.
	DefaultBaseURL = "http://localhost:11434/v1"
	// DefaultModel is Ollama's build of all-MiniLM-L6-v2.
	DefaultModel = "all-minilm"
	// DefaultDimensions matches DefaultModel.
	DefaultDimensions = 384
)

// Config configures the embedder.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	// RequestDimensions sends Dimensions to the API so models that support
	// shortening (text-embedding-3-*) truncate server side.
	RequestDimensions bool
	Timeout           time.Duration
}

// Embedder calls the embeddings endpoint.
type Embedder struct {
	client     openai.Client
	model      string
	dimensions int
	requestDim bool
}

// New creates an embedder.
func New(cfg Config) *Embedder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}
	if cfg.APIKey == "" {
		cfg.APIKey = "ollama"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Embedder{
		client: openai.NewClient(
			option.WithBaseURL(cfg.BaseURL),
			option.WithAPIKey(cfg.APIKey),
			option.WithRequestTimeout(cfg.Timeout),
			option.WithMaxRetries(1),
		),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		requestDim: cfg.RequestDimensions,
	}
}

// Embed converts text to a vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.EmbeddingModel(e.model),
	}
	if e.requestDim {
		params.Dimensions = openai.Int(int64(e.dimensions))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, goerr.Wrap(err, "embedding request failed", goerr.V("model", e.model))
	}
	if len(resp.Data) == 0 {
		return nil, goerr.New("embedding response has no data", goerr.V("model", e.model))
	}

	raw := resp.Data[0].Embedding
	vec := make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}
	return vec, nil
}

// Dimensions returns embedding vector size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}
