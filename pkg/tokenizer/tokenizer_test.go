package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeuristic(t *testing.T) {
	t.Parallel()
	c := Heuristic()

	assert.Equal(t, "heuristic", c.Name())
	assert.Zero(t, c.Count(""))
	assert.Equal(t, 1, c.Count("abcd"))
	assert.Equal(t, 2, c.Count("abcde"))
	// Runes, not bytes: three CJK characters round up to one token.
	assert.Equal(t, 1, c.Count("日本語"))
}

func TestTiktoken(t *testing.T) {
	t.Parallel()
	c, err := Tiktoken()
	if err != nil {
		t.Skipf("cl100k_base vocabulary unavailable: %v", err)
	}
	assert.Equal(t, "cl100k_base", c.Name())
	assert.Zero(t, c.Count(""))
	assert.Positive(t, c.Count("hello world"))
}

func TestDefaultNeverNil(t *testing.T) {
	t.Parallel()
	assert.NotNil(t, Default(nil))
}
