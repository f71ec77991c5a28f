// Package tokenizer estimates token counts for threshold decisions.
//
// Observation and reflection triggers compare the serialized log
// against budgets measured in tokens. Counting only needs to be
// consistent, not exact, so a rune-based heuristic is an acceptable
// stand-in when the BPE vocabulary cannot be loaded.
package tokenizer

import (
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

const encodingName = "cl100k_base"

// Counter estimates how many tokens a piece of text costs.
type Counter interface {
	Count(text string) int
	// Name identifies the counting scheme, for logs.
	Name() string
}

// Heuristic returns a counter that approximates one token per four
// runes, rounding up.
func Heuristic() Counter {
	return heuristic{}
}

type heuristic struct{}

func (heuristic) Count(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

func (heuristic) Name() string { return "heuristic" }

// Tiktoken returns a counter backed by the cl100k_base vocabulary.
// Loading can fail when the vocabulary is not cached and cannot be
// fetched.
func Tiktoken() (Counter, error) {
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, err
	}
	return &bpe{enc: enc}, nil
}

type bpe struct {
	enc *tiktoken.Tiktoken
}

func (b *bpe) Count(text string) int {
	return len(b.enc.Encode(text, nil, nil))
}

func (b *bpe) Name() string { return encodingName }

// Default returns the BPE counter when the vocabulary is available and
// falls back to the heuristic otherwise.
func Default(logger *zap.Logger) Counter {
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := Tiktoken()
	if err != nil {
		logger.Warn("falling back to heuristic token counting", zap.Error(err))
		return Heuristic()
	}
	return c
}
