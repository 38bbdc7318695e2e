package tokenizer

import (
	"unicode/utf8"
)

// Estimator is a character-count-based token estimator. Wide scripts
// (Hangul, CJK) are counted separately from ASCII.
type Estimator struct {
	wideCharsPerToken  float64
	asciiCharsPerToken float64
}

// NewEstimator creates an estimator with default ratios.
func NewEstimator() *Estimator {
	return &Estimator{wideCharsPerToken: 1.5, asciiCharsPerToken: 4}
}

func (e *Estimator) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	total := utf8.RuneCountInString(text)
	wide := 0
	for _, r := range text {
		if isWide(r) {
			wide++
		}
	}
	estimated := int(float64(wide)/e.wideCharsPerToken + float64(total-wide)/e.asciiCharsPerToken)
	if estimated == 0 {
		estimated = 1
	}
	return estimated, nil
}

func (e *Estimator) Name() string { return "estimator" }

func isWide(r rune) bool {
	return (r >= 0xAC00 && r <= 0xD7AF) || // Hangul Syllables
		(r >= 0x1100 && r <= 0x11FF) || // Hangul Jamo
		(r >= 0x3130 && r <= 0x318F) || // Hangul Compatibility Jamo
		(r >= 0x4E00 && r <= 0x9FFF) || // CJK Unified Ideographs
		(r >= 0x3000 && r <= 0x303F) || // CJK Symbols and Punctuation
		(r >= 0xFF00 && r <= 0xFFEF) // Halfwidth and Fullwidth Forms
}
