package region

import (
	"errors"
	"testing"

	"github.com/local/examextract/internal/geometry"
)

func TestFromSelectionDefaults(t *testing.T) {
	m := geometry.NewMapper(2000, 2000, 1000, 1000)
	r, err := FromSelection(m, "doc-1", 3, 10, 20, 110, 80, "")
	if err != nil {
		t.Fatalf("FromSelection: %v", err)
	}
	if r.Source != SourceManual || r.Type != TypeQuestion || r.Confidence != 1.0 {
		t.Fatalf("unexpected defaults: %+v", r)
	}
	if r.ID == "" || r.DocumentID != "doc-1" || r.Page != 3 {
		t.Fatalf("missing identity fields: %+v", r)
	}
	// 2x scale: display (10,20)-(110,80) -> actual 200x120 at (20,40)
	want := geometry.Rect{X: 20, Y: 40, Width: 200, Height: 120}
	if r.Coordinates != want {
		t.Fatalf("coordinates = %+v, want %+v", r.Coordinates, want)
	}
}

func TestFromSelectionNormalizesDragDirection(t *testing.T) {
	m := geometry.NewMapper(1000, 1000, 1000, 1000)
	a, err := FromSelection(m, "d", 1, 200, 300, 50, 40, TypeQuestion)
	if err != nil {
		t.Fatalf("FromSelection: %v", err)
	}
	b, err := FromSelection(m, "d", 1, 50, 40, 200, 300, TypeQuestion)
	if err != nil {
		t.Fatalf("FromSelection: %v", err)
	}
	if a.Coordinates != b.Coordinates {
		t.Fatalf("drag direction changed result: %+v vs %+v", a.Coordinates, b.Coordinates)
	}
}

func TestFromSelectionRejectsTinySelections(t *testing.T) {
	m := geometry.NewMapper(1000, 1000, 1000, 1000)
	cases := []struct {
		name           string
		sx, sy, ex, ey float64
	}{
		{"click", 100, 100, 100, 100},
		{"thin width", 100, 100, 108, 300},
		{"thin height", 100, 100, 300, 109},
		{"exactly threshold", 0, 0, 10, 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromSelection(m, "d", 1, tc.sx, tc.sy, tc.ex, tc.ey, TypeQuestion)
			if !errors.Is(err, ErrTooSmall) {
				t.Fatalf("expected ErrTooSmall, got %v", err)
			}
		})
	}
}

func TestValid(t *testing.T) {
	r := Region{Coordinates: geometry.Rect{Width: 10, Height: 0}}
	if r.Valid() {
		t.Fatal("zero-height region must be invalid")
	}
	r.Coordinates.Height = 1
	if !r.Valid() {
		t.Fatal("positive area region must be valid")
	}
}
