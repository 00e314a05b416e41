//go:build !onnx

package main

import (
	"github.com/becomeliminal/friday/config"
	"github.com/becomeliminal/friday/memory"
	"github.com/m-mizutani/goerr/v2"
)

func newONNXEmbedder(config.EmbedderConfig) (memory.Embedder, error) {
	return nil, goerr.New("friday was built without onnx support; rebuild with -tags onnx")
}
