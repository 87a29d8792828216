package ocr

import (
	"strings"
	"unicode"
)

// TextQuality scores OCR output plausibility in 0..1. It is one input to the
// adapter's weighted selection, catching engines that return confident
// garbage: empty output, implausible character distributions, and long
// repeated-character runs.
func TextQuality(text string) float64 {
	t := strings.TrimSpace(text)
	if t == "" {
		return 0
	}
	var letters, digits, spaces, other, total int
	for _, r := range t {
		total++
		switch {
		case unicode.IsLetter(r):
			letters++
		case unicode.IsDigit(r):
			digits++
		case unicode.IsSpace(r):
			spaces++
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			other++
		default:
			other++
		}
	}
	score := 1.0

	// Plausible text is mostly letters/digits with some whitespace.
	readable := float64(letters+digits+spaces) / float64(total)
	if readable < 0.9 {
		score *= readable / 0.9
	}

	// Excessive repeated-character runs indicate garbage output.
	if run := longestRun(t); run > 4 {
		score *= 4.0 / float64(run)
	}

	// A region with no letters at all is rarely a real question.
	if letters == 0 {
		score *= 0.3
	}

	if score < 0 {
		score = 0
	}
	return score
}

func longestRun(s string) int {
	best, cur := 0, 0
	var prev rune = -1
	for _, r := range s {
		if r == prev && !unicode.IsSpace(r) {
			cur++
		} else {
			cur = 1
		}
		if cur > best {
			best = cur
		}
		prev = r
	}
	return best
}
