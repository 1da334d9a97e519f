// Package tokenizer estimates request sizes in tokens for the request log.
// Estimates are best effort: the limiter only needs a rough magnitude, so
// any encoder failure falls back to a character heuristic.
package tokenizer

import (
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// Tokenizer provides token counting using tiktoken encodings.
// Encodings are cached via sync.Once to avoid repeated initialization.
type Tokenizer struct {
	cl100kOnce sync.Once
	cl100kEnc  *tiktoken.Tiktoken
	cl100kErr  error

	o200kOnce sync.Once
	o200kEnc  *tiktoken.Tiktoken
	o200kErr  error
}

// encodingForModel maps model name prefixes to tiktoken encodings.
// Unknown models default to cl100k_base.
var encodingForModel = map[string]string{
	"gpt-4o":  "o200k_base",
	"o1":      "o200k_base",
	"o3":      "o200k_base",
	"gpt-4":   "cl100k_base",
	"gpt-3.5": "cl100k_base",
	"claude":  "cl100k_base",
	"llama3":  "cl100k_base",
	"mixtral": "cl100k_base",
	"gemma":   "cl100k_base",
}

// New creates a new Tokenizer instance.
func New() *Tokenizer {
	return &Tokenizer{}
}

// GetEncoding returns the encoding name for the given model using longest
// prefix match.
func (t *Tokenizer) GetEncoding(model string) string {
	lower := strings.ToLower(model)
	best := ""
	enc := "cl100k_base"
	for prefix, e := range encodingForModel {
		if strings.HasPrefix(lower, prefix) && len(prefix) > len(best) {
			best = prefix
			enc = e
		}
	}
	return enc
}

// getEncoder returns the cached tiktoken encoder for the given model.
func (t *Tokenizer) getEncoder(model string) (*tiktoken.Tiktoken, error) {
	switch t.GetEncoding(model) {
	case "o200k_base":
		t.o200kOnce.Do(func() {
			t.o200kEnc, t.o200kErr = tiktoken.GetEncoding("o200k_base")
		})
		return t.o200kEnc, t.o200kErr
	default:
		t.cl100kOnce.Do(func() {
			t.cl100kEnc, t.cl100kErr = tiktoken.GetEncoding("cl100k_base")
		})
		return t.cl100kEnc, t.cl100kErr
	}
}

// EstimateTokens returns the approximate token count of body for the given
// model. If the encoder cannot be initialized (e.g. no cached BPE data),
// it falls back to the len/4 heuristic.
func (t *Tokenizer) EstimateTokens(model string, body []byte) int {
	if len(body) == 0 {
		return 0
	}
	enc, err := t.getEncoder(model)
	if err != nil || enc == nil {
		return len(body) / 4
	}
	return len(enc.Encode(string(body), nil, nil))
}
