//go:build onnx

package main

import (
	"github.com/becomeliminal/friday/config"
	"github.com/becomeliminal/friday/memory"
	"github.com/becomeliminal/friday/memory/embedder/onnx"
)

func newONNXEmbedder(ec config.EmbedderConfig) (memory.Embedder, error) {
	e, err := onnx.New(onnx.Config{
		ModelPath:     ec.ModelPath,
		TokenizerPath: ec.TokenizerPath,
		LibraryPath:   ec.LibraryPath,
		Dimensions:    ec.Dimensions,
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}
