package onnx

import (
	"encoding/json"
	"math"
	"os"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// Special token ids of the bert-base-uncased vocabulary used by MiniLM.
const (
	clsTokenID = 101
	sepTokenID = 102
	unkTokenID = 100
)

// Tokenizer is a lowercase BERT WordPiece tokenizer.
type Tokenizer struct {
	vocab map[string]int
}

// LoadTokenizer reads the vocabulary from a HuggingFace tokenizer.json.
func LoadTokenizer(path string) (*Tokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read tokenizer", goerr.V("path", path))
	}

	var parsed struct {
		Model struct {
			Vocab map[string]int `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, goerr.Wrap(err, "failed to parse tokenizer", goerr.V("path", path))
	}
	if len(parsed.Model.Vocab) == 0 {
		return nil, goerr.New("tokenizer has an empty vocabulary", goerr.V("path", path))
	}

	return NewTokenizer(parsed.Model.Vocab), nil
}

// NewTokenizer builds a tokenizer from a vocabulary.
func NewTokenizer(vocab map[string]int) *Tokenizer {
	return &Tokenizer{vocab: vocab}
}

// Tokenize converts text to token ids, without [CLS]/[SEP].
func (t *Tokenizer) Tokenize(text string) []int64 {
	var tokens []int64
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'")
		if word == "" {
			continue
		}

		if id, ok := t.vocab[word]; ok {
			tokens = append(tokens, int64(id))
			continue
		}

		for _, piece := range t.wordPieces(word) {
			if id, ok := t.vocab[piece]; ok {
				tokens = append(tokens, int64(id))
			} else {
				tokens = append(tokens, unkTokenID)
			}
		}
	}
	return tokens
}

// wordPieces splits word greedily into the longest known prefixes.
func (t *Tokenizer) wordPieces(word string) []string {
	var pieces []string
	start := 0

	for start < len(word) {
		end := len(word)
		found := false

		for end > start {
			sub := word[start:end]
			if start > 0 {
				sub = "##" + sub
			}
			if _, ok := t.vocab[sub]; ok {
				pieces = append(pieces, sub)
				start = end
				found = true
				break
			}
			end--
		}

		if !found {
			pieces = append(pieces, "[UNK]")
			start++
		}
	}
	return pieces
}

// encode frames tokens as model inputs of length maxLen: input ids and the
// attention mask.
func encode(tokens []int64, maxLen int) (inputIDs, attentionMask []int64) {
	inputIDs = make([]int64, maxLen)
	attentionMask = make([]int64, maxLen)

	inputIDs[0] = clsTokenID
	attentionMask[0] = 1

	n := len(tokens)
	if n > maxLen-2 {
		n = maxLen - 2
	}
	for i := 0; i < n; i++ {
		inputIDs[i+1] = tokens[i]
		attentionMask[i+1] = 1
	}

	inputIDs[n+1] = sepTokenID
	attentionMask[n+1] = 1
	return inputIDs, attentionMask
}

// meanPool averages hidden states [seqLen x hidden] over attended positions.
func meanPool(hidden []float32, seqLen, hiddenSize int, mask []int64) []float32 {
	out := make([]float32, hiddenSize)
	var attended float32
	for i := 0; i < seqLen; i++ {
		if mask[i] == 0 {
			continue
		}
		attended++
		offset := i * hiddenSize
		for j := 0; j < hiddenSize; j++ {
			out[j] += hidden[offset+j]
		}
	}
	if attended > 0 {
		for j := range out {
			out[j] /= attended
		}
	}
	return out
}

// normalize converts embedding to unit vector.
func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}

	norm = float32(math.Sqrt(float64(norm)))
	normalized := make([]float32, len(vec))
	for i, v := range vec {
		normalized[i] = v / norm
	}
	return normalized
}
