package models

import (
	"math"
	"unicode"
)

// EstimateTokens approximates the token count of a text without a real
// tokenizer: CJK ideographs weigh 1.5 units, each contiguous run of Latin
// letters weighs 1 unit, everything else weighs 0.5 units.
func EstimateTokens(text string) int {
	var units float64
	inLatin := false
	for _, r := range text {
		switch {
		case isCJK(r):
			units += 1.5
			inLatin = false
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			if !inLatin {
				units++
				inLatin = true
			}
		default:
			units += 0.5
			inLatin = false
		}
	}
	return int(math.Ceil(units))
}

func isCJK(r rune) bool {
	if unicode.Is(unicode.Han, r) {
		return true
	}
	// Hiragana/Katakana and Hangul syllables
	return (r >= 0x3040 && r <= 0x30FF) || (r >= 0xAC00 && r <= 0xD7AF)
}

// EstimateUsage builds a Usage record from prompt and completion text
func EstimateUsage(prompt, completion string) *Usage {
	p := EstimateTokens(prompt)
	c := EstimateTokens(completion)
	return &Usage{
		PromptTokens:     p,
		CompletionTokens: c,
		TotalTokens:      p + c,
	}
}
