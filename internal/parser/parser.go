// Package parser splits raw OCR text for one region into a question stem and
// lettered answer options. Matching is heuristic: a prioritized chain of pure
// pattern matchers is tried in sequence and the first one that applies wins.
package parser

import (
	"regexp"
	"sort"
	"strings"
)

// Option is one lettered answer option. Letters are normalized to uppercase
// single characters.
type Option struct {
	Letter string `json:"letter"`
	Text   string `json:"text"`
}

// Question is the parse result for one region.
type Question struct {
	Stem        string   `json:"stem"`
	Options     []Option `json:"options"`
	Confidence  float64  `json:"confidence"`
	NeedsReview bool     `json:"needs_review"`
}

const (
	confInline     = 0.9
	confRecovered  = 0.7
	confAmbiguous  = 0.5
	confStemOnly   = 0.3
	confDuplicates = 0.4
)

// markerRe matches parenthesized single-letter option markers, e.g. "(a)".
var markerRe = regexp.MustCompile(`\(([A-Za-z])\)`)

type matcher func(text string) (Question, bool)

// chain is tried in priority order. Matchers are pure functions so each can
// be tested in isolation.
var chain = []matcher{
	matchInlineMarkers,
	matchDroppedFirstMarker,
	matchAnyMarkers,
}

// Parse runs the matcher chain over raw OCR text. When no options can be
// recovered the whole text becomes the stem with an empty option list,
// flagged for manual completion. Option text is never fabricated.
func Parse(text string) Question {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Question{NeedsReview: true}
	}
	for _, m := range chain {
		if q, ok := m(trimmed); ok {
			return q
		}
	}
	// No markers recovered: keep the text verbatim as the stem, trailing
	// punctuation included, so the operator edits what OCR actually read.
	return Question{
		Stem:        trimmed,
		Options:     []Option{},
		Confidence:  confStemOnly,
		NeedsReview: true,
	}
}

type markerHit struct {
	letter     string
	start, end int // indexes of the marker itself in the text
}

func findMarkers(text string) []markerHit {
	idx := markerRe.FindAllStringSubmatchIndex(text, -1)
	hits := make([]markerHit, 0, len(idx))
	for _, m := range idx {
		hits = append(hits, markerHit{
			letter: strings.ToUpper(text[m[2]:m[3]]),
			start:  m[0],
			end:    m[1],
		})
	}
	return hits
}

// optionsFromMarkers slices the text between consecutive markers into option
// texts. Duplicate letters keep the first occurrence and flag ambiguity.
func optionsFromMarkers(text string, hits []markerHit) (opts []Option, dup bool) {
	seen := map[string]bool{}
	for i, h := range hits {
		endAt := len(text)
		if i+1 < len(hits) {
			endAt = hits[i+1].start
		}
		body := strings.TrimSpace(text[h.end:endAt])
		if seen[h.letter] {
			dup = true
			continue
		}
		seen[h.letter] = true
		opts = append(opts, Option{Letter: h.letter, Text: body})
	}
	// Order by letter, not text position: OCR may emit options out of
	// left-to-right order on multi-column layouts.
	sort.Slice(opts, func(i, j int) bool { return opts[i].Letter < opts[j].Letter })
	return opts, dup
}

// matchInlineMarkers handles the canonical "(a) text (b) text ..." layout.
func matchInlineMarkers(text string) (Question, bool) {
	hits := findMarkers(text)
	if len(hits) == 0 || hits[0].letter != "A" {
		return Question{}, false
	}
	opts, dup := optionsFromMarkers(text, hits)
	q := Question{
		Stem:       trimStemPunct(text[:hits[0].start]),
		Options:    opts,
		Confidence: confInline,
	}
	if dup {
		q.Confidence = confDuplicates
		q.NeedsReview = true
	}
	return q, true
}

// matchDroppedFirstMarker recovers layouts where OCR lost the "(a)" marker:
// the first option floats free between the stem's question mark and "(b)".
func matchDroppedFirstMarker(text string) (Question, bool) {
	hits := findMarkers(text)
	if len(hits) == 0 || hits[0].letter != "B" {
		return Question{}, false
	}
	qm := strings.LastIndex(text[:hits[0].start], "?")
	if qm < 0 {
		return Question{}, false
	}
	firstOpt := strings.TrimSpace(text[qm+1 : hits[0].start])
	if firstOpt == "" {
		return Question{}, false
	}
	opts, dup := optionsFromMarkers(text, hits)
	opts = append(opts, Option{Letter: "A", Text: firstOpt})
	sort.Slice(opts, func(i, j int) bool { return opts[i].Letter < opts[j].Letter })
	q := Question{
		Stem:       trimStemPunct(text[:qm+1]),
		Options:    opts,
		Confidence: confRecovered,
		// Option A was inferred from position, not an explicit marker.
		NeedsReview: true,
	}
	if dup {
		q.Confidence = confDuplicates
	}
	return q, true
}

// matchAnyMarkers salvages regions where markers exist but start at an
// unexpected letter (torn region, multi-column crop). Options are recovered
// as-is and the result is flagged for review.
func matchAnyMarkers(text string) (Question, bool) {
	hits := findMarkers(text)
	if len(hits) < 2 {
		return Question{}, false
	}
	opts, _ := optionsFromMarkers(text, hits)
	return Question{
		Stem:        trimStemPunct(text[:hits[0].start]),
		Options:     opts,
		Confidence:  confAmbiguous,
		NeedsReview: true,
	}, true
}

// trimStemPunct strips trailing "?"/":" (and whitespace) from a stem.
func trimStemPunct(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, "?:")
	return strings.TrimSpace(s)
}
