package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCharEstimator(t *testing.T) {
	tests := []struct {
		name    string
		divisor float64
		text    string
		want    int
	}{
		{"empty", 4, "", 0},
		{"one char rounds up", 4, "a", 1},
		{"exact multiple", 4, "abcdefgh", 2},
		{"partial token rounds up", 4, "abcdefghi", 3},
		{"counts runes not bytes", 2, "你好世界", 2},
		{"custom divisor", 3, strings.Repeat("x", 30), 10},
		{"zero divisor uses default", 0, strings.Repeat("x", 40), 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewCharEstimator(tt.divisor).CountTokens(tt.text))
		})
	}
}

func TestCharEstimator_Name(t *testing.T) {
	assert.Equal(t, "chars/4", NewCharEstimator(0).Name())
	assert.Equal(t, "chars/2.5", NewCharEstimator(2.5).Name())
}

func TestMixedEstimator(t *testing.T) {
	e := NewMixedEstimator()

	assert.Equal(t, 0, e.CountTokens(""))
	assert.Equal(t, 1, e.CountTokens("a"))
	assert.Equal(t, 2, e.CountTokens("hello wo"))
	// 3 CJK runes at 1.5 chars/token.
	assert.Equal(t, 2, e.CountTokens("你好吗"))
	assert.Greater(t, e.CountTokens("中文文本"), NewCharEstimator(4).CountTokens("中文文本"),
		"CJK text is denser than the flat estimate")
	assert.Equal(t, "mixed", e.Name())
}

func TestNew(t *testing.T) {
	tok, err := New("", 0, "")
	require.NoError(t, err)
	assert.IsType(t, &CharEstimator{}, tok)

	tok, err = New(KindMixed, 0, "")
	require.NoError(t, err)
	assert.IsType(t, &MixedEstimator{}, tok)

	tok, err = New(KindTiktoken, 3, "gpt-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, "tiktoken[o200k_base]", tok.Name())

	_, err = New("sentencepiece", 0, "")
	assert.Error(t, err)
}

func TestTiktokenTokenizer_EncodingSelection(t *testing.T) {
	assert.Equal(t, "o200k_base", NewTiktokenTokenizer("gpt-4o", nil).encoding)
	assert.Equal(t, "cl100k_base", NewTiktokenTokenizer("gpt-4-turbo", nil).encoding)
	assert.Equal(t, "cl100k_base", NewTiktokenTokenizer("deepseek-chat", nil).encoding, "unknown models use cl100k_base")
}

func TestTiktokenTokenizer_CountsEitherWay(t *testing.T) {
	tok := NewTiktokenTokenizer("gpt-4o", NewCharEstimator(4))

	assert.Equal(t, 0, tok.CountTokens(""))
	// Without network access the encoding may fail to load; the fallback
	// estimator keeps counting deterministic.
	first := tok.CountTokens("The quick brown fox jumps over the lazy dog")
	assert.Greater(t, first, 0)
	assert.Equal(t, first, tok.CountTokens("The quick brown fox jumps over the lazy dog"))
}
