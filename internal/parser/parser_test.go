package parser

import (
	"reflect"
	"testing"
)

func TestParseInlineMarkers(t *testing.T) {
	q := Parse("What is 2+2? (a) 3 (b) 4 (c) 5 (d) 6")
	if q.Stem != "What is 2+2" {
		t.Fatalf("stem = %q", q.Stem)
	}
	want := []Option{{"A", "3"}, {"B", "4"}, {"C", "5"}, {"D", "6"}}
	if !reflect.DeepEqual(q.Options, want) {
		t.Fatalf("options = %+v, want %+v", q.Options, want)
	}
	if q.NeedsReview {
		t.Fatal("clean parse should not need review")
	}
}

func TestParseUppercaseMarkersAndColonStem(t *testing.T) {
	q := Parse("Select the capital of France: (A) Lyon (B) Paris (C) Nice")
	if q.Stem != "Select the capital of France" {
		t.Fatalf("stem = %q", q.Stem)
	}
	if len(q.Options) != 3 || q.Options[1].Text != "Paris" {
		t.Fatalf("options = %+v", q.Options)
	}
}

func TestParseOrdersByLetterNotPosition(t *testing.T) {
	// Multi-column scans can emit options out of reading order.
	q := Parse("Pick one? (a) left (c) right-top (b) left-bottom (d) right")
	letters := make([]string, len(q.Options))
	for i, o := range q.Options {
		letters[i] = o.Letter
	}
	if !reflect.DeepEqual(letters, []string{"A", "B", "C", "D"}) {
		t.Fatalf("letters = %v", letters)
	}
}

func TestParseDroppedFirstMarker(t *testing.T) {
	q := Parse("What color is the sky? blue (b) green (c) red")
	if q.Stem != "What color is the sky" {
		t.Fatalf("stem = %q", q.Stem)
	}
	want := []Option{{"A", "blue"}, {"B", "green"}, {"C", "red"}}
	if !reflect.DeepEqual(q.Options, want) {
		t.Fatalf("options = %+v, want %+v", q.Options, want)
	}
	if !q.NeedsReview {
		t.Fatal("reconstructed option A must be flagged for review")
	}
}

func TestParseNoMarkersFallsBackToStemOnly(t *testing.T) {
	in := "Describe the process of photosynthesis in detail."
	q := Parse(in)
	if len(q.Options) != 0 {
		t.Fatalf("fabricated options: %+v", q.Options)
	}
	if q.Stem != in {
		t.Fatalf("stem = %q", q.Stem)
	}
	if !q.NeedsReview {
		t.Fatal("stem-only result must be flagged for manual completion")
	}
}

func TestParseStemOnlyKeepsTrailingPunctuation(t *testing.T) {
	q := Parse("Why?")
	if q.Stem != "Why?" {
		t.Fatalf("stem = %q, want the question mark preserved", q.Stem)
	}
	if len(q.Options) != 0 || !q.NeedsReview {
		t.Fatalf("unexpected result: %+v", q)
	}
}

func TestParseDuplicateLettersLowerConfidence(t *testing.T) {
	q := Parse("Which one? (a) first (a) again (b) second")
	if !q.NeedsReview || q.Confidence >= 0.5 {
		t.Fatalf("duplicate letters should surface low confidence: %+v", q)
	}
	// First occurrence wins, never silently overwritten.
	if q.Options[0].Letter != "A" || q.Options[0].Text != "first" {
		t.Fatalf("options = %+v", q.Options)
	}
}

func TestParseEmptyInput(t *testing.T) {
	q := Parse("   ")
	if q.Stem != "" || len(q.Options) != 0 || !q.NeedsReview {
		t.Fatalf("unexpected result for empty input: %+v", q)
	}
}
