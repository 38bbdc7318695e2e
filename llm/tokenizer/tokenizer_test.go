package tokenizer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type failingCounter struct{ calls int }

func (f *failingCounter) CountTokens(string) (int, error) {
	f.calls++
	return 0, errors.New("bpe file unavailable")
}

func (f *failingCounter) Name() string { return "failing" }

func TestEstimator_CountTokens(t *testing.T) {
	e := NewEstimator()
	n, err := e.CountTokens("")
	assert.NoError(t, err)
	assert.Zero(t, n)

	n, _ = e.CountTokens("abcdefgh")
	assert.Equal(t, 2, n)

	// 6 Hangul syllables at 1.5 chars per token
	n, _ = e.CountTokens("혈당관리방법")
	assert.Equal(t, 4, n)

	n, _ = e.CountTokens("a")
	assert.Equal(t, 1, n)
}

func TestFallback_DegradesOnce(t *testing.T) {
	fc := &failingCounter{}
	f := NewFallback(fc, nil)
	assert.Equal(t, 2, f.Count("abcdefgh"))
	assert.Equal(t, 2, f.Count("abcdefgh"))
	assert.Equal(t, 1, fc.calls)
}

func TestFallback_NilPrimary(t *testing.T) {
	assert.Equal(t, 2, NewFallback(nil, nil).Count("abcdefgh"))
}

func TestNewTiktoken_Encoding(t *testing.T) {
	assert.Equal(t, "o200k_base", NewTiktoken("gpt-4o-mini").encoding)
	assert.Equal(t, "cl100k_base", NewTiktoken("gpt-4").encoding)
	assert.Equal(t, "cl100k_base", NewTiktoken("qwen2.5").encoding)
	assert.Equal(t, "tiktoken[o200k_base]", NewTiktoken("gpt-4.1-nano").Name())
}
