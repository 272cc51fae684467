// Package tokens estimates how much model context a piece of text
// consumes. The estimate is a planning heuristic for budget decisions,
// not a billing-grade tokenizer.
package tokens

import (
	"fmt"
	"unicode"

	"github.com/dustin/go-humanize"
)

// ContextWindow is the reference context size used for percentages.
const ContextWindow = 200_000

// Estimate returns an approximate token count for text.
//
// The formula is runes/4 + whitespace/6 + punctuation/8: roughly four
// characters per token for English and code, plus extra weight for
// whitespace runs and symbol-heavy text, which tokenizers split finely.
// Every term only grows as text is appended, so the estimate is
// non-decreasing in length. Empty text is 0; any other text is at
// least 1.
func Estimate(text string) int {
	if text == "" {
		return 0
	}

	var runes, space, punct int
	for _, r := range text {
		runes++
		switch {
		case unicode.IsSpace(r):
			space++
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			punct++
		}
	}

	estimated := runes/4 + space/6 + punct/8
	if estimated < 1 {
		return 1
	}
	return estimated
}

// ContextPercentage returns n as a percentage of ContextWindow, rounded
// to one decimal place.
func ContextPercentage(n int) float64 {
	return float64(int(float64(n)/ContextWindow*1000+0.5)) / 10
}

// Recommendations returns advisory notes for a prompt load of n tokens.
func Recommendations(n int) []string {
	var recs []string
	switch {
	case n > 100_000:
		recs = append(recs, fmt.Sprintf("Very large context (%s tokens) - consider splitting into multiple interactions", humanize.Comma(int64(n))))
	case n > 50_000:
		recs = append(recs, fmt.Sprintf("Large context (%s tokens) - ensure all content is necessary", humanize.Comma(int64(n))))
	case n > 20_000:
		recs = append(recs, "Moderate context - good for detailed work")
	}
	if n > 10_000 {
		recs = append(recs, "Consider using compose_prompts with deduplication")
	}
	return recs
}

// Fit summarizes which context sizes n fits in.
type Fit struct {
	Small  bool `json:"fits_in_small_context"`  // < 4k
	Medium bool `json:"fits_in_medium_context"` // < 20k
	Large  bool `json:"fits_in_large_context"`  // < 100k
}

// FitFor reports the context sizes n fits in.
func FitFor(n int) Fit {
	return Fit{
		Small:  n < 4_000,
		Medium: n < 20_000,
		Large:  n < 100_000,
	}
}
