//go:build onnx

// Package onnx runs all-MiniLM-L6-v2 locally through ONNX Runtime.
package onnx

import (
	"context"
	"sync"

	"github.com/becomeliminal/friday/logging"
	"github.com/m-mizutani/goerr/v2"
	ort "github.com/yalue/onnxruntime_go"
)

// Config configures the ONNX embedder.
type Config struct {
	// ModelPath is the path to the ONNX model file.
	ModelPath string

	// TokenizerPath is the path to the tokenizer.json file.
	TokenizerPath string

	// LibraryPath points at libonnxruntime. Empty uses the loader's search path.
	LibraryPath string

	// Dimensions is the embedding vector size (default: 384 for all-MiniLM-L6-v2).
	Dimensions int

	// MaxSeqLen is the token window (default 128).
	MaxSeqLen int
}

// Embedder generates embeddings using ONNX Runtime.
type Embedder struct {
	mu         sync.Mutex
	session    *ort.DynamicAdvancedSession
	tokenizer  *Tokenizer
	dimensions int
	maxSeqLen  int
}

// New loads the model and tokenizer.
func New(cfg Config) (*Embedder, error) {
	if cfg.ModelPath == "" {
		return nil, goerr.New("onnx model path is required")
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 384
	}
	if cfg.MaxSeqLen == 0 {
		cfg.MaxSeqLen = 128
	}

	if cfg.LibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.LibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, goerr.Wrap(err, "failed to initialize onnx runtime")
		}
	}

	tokenizer, err := LoadTokenizer(cfg.TokenizerPath)
	if err != nil {
		return nil, err
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create onnx session", goerr.V("model", cfg.ModelPath))
	}

	logging.Default().Info("onnx embedder loaded", "model", cfg.ModelPath, "dims", cfg.Dimensions)
	return &Embedder{
		session:    session,
		tokenizer:  tokenizer,
		dimensions: cfg.Dimensions,
		maxSeqLen:  cfg.MaxSeqLen,
	}, nil
}

// Embed converts text to a unit-length embedding by mean pooling the last
// hidden state over attended tokens.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inputIDs, attentionMask := encode(e.tokenizer.Tokenize(text), e.maxSeqLen)
	tokenTypeIDs := make([]int64, e.maxSeqLen)

	shape := ort.NewShape(1, int64(e.maxSeqLen))
	var inputs []ort.Value
	for _, data := range [][]int64{inputIDs, attentionMask, tokenTypeIDs} {
		tensor, err := ort.NewTensor(shape, data)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create input tensor")
		}
		defer tensor.Destroy()
		inputs = append(inputs, tensor)
	}

	outputs := []ort.Value{nil}
	e.mu.Lock()
	err := e.session.Run(inputs, outputs)
	e.mu.Unlock()
	if err != nil {
		return nil, goerr.Wrap(err, "onnx inference failed")
	}
	defer func() {
		for _, out := range outputs {
			if out != nil {
				out.Destroy()
			}
		}
	}()

	tensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, goerr.New("unexpected onnx output tensor type")
	}
	data := tensor.GetData()
	shapeOut := tensor.GetShape()

	switch len(shapeOut) {
	case 2:
		if len(data) < e.dimensions {
			return nil, goerr.New("onnx output too small", goerr.V("got", len(data)), goerr.V("want", e.dimensions))
		}
		return normalize(append([]float32(nil), data[:e.dimensions]...)), nil
	case 3:
		if shapeOut[0] != 1 || shapeOut[2] != int64(e.dimensions) {
			return nil, goerr.New("unexpected onnx output shape", goerr.V("shape", shapeOut))
		}
		return normalize(meanPool(data, int(shapeOut[1]), e.dimensions, attentionMask)), nil
	default:
		return nil, goerr.New("unexpected onnx output shape", goerr.V("shape", shapeOut))
	}
}

// Dimensions returns the embedding vector size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

// Close releases ONNX resources.
func (e *Embedder) Close() error {
	if e.session != nil {
		if err := e.session.Destroy(); err != nil {
			return goerr.Wrap(err, "failed to destroy onnx session")
		}
	}
	return nil
}
