// Package gemini embeds text with Google's GenAI embedding models.
package gemini

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

const (
	// DefaultModel is the Gemini embedding model.
	DefaultModel = "gemini-embedding-001"
	// DefaultDimensions asks the model for compact vectors.
	DefaultDimensions = 768
)

// Config configures the embedder.
type Config struct {
	APIKey     string
	Model      string
	Dimensions int
}

// Embedder calls the Gemini API.
type Embedder struct {
	client     *genai.Client
	model      string
	dimensions int
}

// New creates an embedder.
func New(ctx context.Context, cfg Config) (*Embedder, error) {
	if cfg.APIKey == "" {
		return nil, goerr.New("gemini api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create gemini client")
	}

	return &Embedder{client: client, model: cfg.Model, dimensions: cfg.Dimensions}, nil
}

// Embed converts text to a vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	dims := int32(e.dimensions)
	resp, err := e.client.Models.EmbedContent(ctx, e.model, genai.Text(text), &genai.EmbedContentConfig{
		OutputDimensionality: &dims,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "gemini embedding failed", goerr.V("model", e.model))
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, goerr.New("gemini returned no embedding", goerr.V("model", e.model))
	}
	return resp.Embeddings[0].Values, nil
}

// Dimensions returns embedding vector size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}
