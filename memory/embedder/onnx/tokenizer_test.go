package onnx

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
)

var testVocab = map[string]int{
	"[UNK]": unkTokenID,
	"call":  2655,
	"mom":   3566,
	"play":  2377,
	"##ing": 2075,
}

func TestTokenize(t *testing.T) {
	tok := NewTokenizer(testVocab)

	gt.Equal(t, tok.Tokenize("Call Mom!"), []int64{2655, 3566})
	gt.Equal(t, tok.Tokenize("playing"), []int64{2377, 2075})
	gt.Equal(t, tok.Tokenize("zz"), []int64{unkTokenID, unkTokenID})
	gt.A(t, tok.Tokenize("  ... ")).Length(0)
}

func TestEncodeTruncates(t *testing.T) {
	ids, mask := encode([]int64{1, 2, 3, 4, 5}, 4)
	gt.Equal(t, ids, []int64{clsTokenID, 1, 2, sepTokenID})
	gt.Equal(t, mask, []int64{1, 1, 1, 1})

	ids, mask = encode([]int64{7}, 5)
	gt.Equal(t, ids, []int64{clsTokenID, 7, sepTokenID, 0, 0})
	gt.Equal(t, mask, []int64{1, 1, 1, 0, 0})
}

func TestMeanPool(t *testing.T) {
	hidden := []float32{
		1, 2,
		3, 4,
		100, 100,
	}
	got := meanPool(hidden, 3, 2, []int64{1, 1, 0})
	gt.Equal(t, got, []float32{2, 3})
}

func TestNormalize(t *testing.T) {
	gt.Equal(t, normalize([]float32{3, 4}), []float32{0.6, 0.8})
	gt.Equal(t, normalize([]float32{0, 0}), []float32{0, 0})
}

func TestLoadTokenizer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokenizer.json")
	gt.NoError(t, os.WriteFile(path, []byte(`{"model":{"vocab":{"call":2655,"mom":3566}}}`), 0o600))

	tok, err := LoadTokenizer(path)
	gt.NoError(t, err)
	gt.Equal(t, tok.Tokenize("call mom"), []int64{2655, 3566})

	_, err = LoadTokenizer(filepath.Join(t.TempDir(), "missing.json"))
	gt.Error(t, err)
}
