package tokenizer

import (
	"fmt"
	"math"
	"unicode/utf8"
)

// DefaultDivisor is the default characters-per-token ratio.
const DefaultDivisor = 4.0

// CharEstimator estimates tokens as ceil(runes / Divisor).
type CharEstimator struct {
	divisor float64
}

// NewCharEstimator creates an estimator; divisor <= 0 uses DefaultDivisor.
func NewCharEstimator(divisor float64) *CharEstimator {
	if divisor <= 0 {
		divisor = DefaultDivisor
	}
	return &CharEstimator{divisor: divisor}
}

func (e *CharEstimator) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return int(math.Ceil(float64(utf8.RuneCountInString(text)) / e.divisor))
}

func (e *CharEstimator) Name() string {
	return fmt.Sprintf("chars/%g", e.divisor)
}

// MixedEstimator distinguishes CJK and other characters for mixed-language text.
type MixedEstimator struct{}

// NewMixedEstimator creates a CJK-aware estimator.
func NewMixedEstimator() *MixedEstimator {
	return &MixedEstimator{}
}

func (e *MixedEstimator) CountTokens(text string) int {
	if text == "" {
		return 0
	}

	totalChars := utf8.RuneCountInString(text)
	cjkCount := 0
	for _, r := range text {
		if isCJK(r) {
			cjkCount++
		}
	}

	// CJK characters ~1.5 chars/token, others ~4 chars/token.
	cjkTokens := float64(cjkCount) / 1.5
	otherTokens := float64(totalChars-cjkCount) / 4.0
	estimated := int(math.Ceil(cjkTokens + otherTokens))
	if estimated == 0 {
		estimated = 1
	}
	return estimated
}

func (e *MixedEstimator) Name() string {
	return "mixed"
}

// isCJK returns true if the rune is a CJK character.
func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) || // CJK Unified Ideographs
		(r >= 0x3400 && r <= 0x4DBF) || // CJK Extension A
		(r >= 0x20000 && r <= 0x2A6DF) || // CJK Extension B
		(r >= 0xF900 && r <= 0xFAFF) || // CJK Compatibility Ideographs
		(r >= 0x3000 && r <= 0x303F) || // CJK Symbols and Punctuation
		(r >= 0xFF00 && r <= 0xFFEF) || // Halfwidth and Fullwidth Forms
		(r >= 0xAC00 && r <= 0xD7AF) // Hangul Syllables
}
