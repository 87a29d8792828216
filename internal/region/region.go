package region

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/local/examextract/internal/geometry"
)

// Type classifies what a region is believed to contain.
type Type string

const (
	TypeQuestion     Type = "question"
	TypeAnswerOption Type = "answer_option"
	TypeUnsupported  Type = "unsupported"
)

// Source records how a region came to exist.
type Source string

const (
	SourceAutoDetect Source = "auto_detect"
	SourceManual     Source = "manual"
)

// MinSelectionPx is the minimum width/height (actual pixels) a manual
// selection must have. Anything smaller is treated as an accidental click.
const MinSelectionPx = 10

// ErrTooSmall rejects selections below MinSelectionPx in either dimension.
var ErrTooSmall = errors.New("selection below minimum size")

// ErrNotFound is returned by stores when a region id does not exist.
var ErrNotFound = errors.New("region not found")

// Region is a rectangle on one page of one document. Coordinates are always
// stored in the document's native pixel space; display coordinates are
// derived via geometry.Mapper and never persisted.
type Region struct {
	ID          string        `json:"id"`
	DocumentID  string        `json:"document_id"`
	Page        int           `json:"page"`
	Type        Type          `json:"type"`
	Source      Source        `json:"source"`
	Coordinates geometry.Rect `json:"coordinates"`
	Confidence  float64       `json:"confidence"`
	TextPreview string        `json:"text_preview,omitempty"`
	NeedsReview bool          `json:"needs_review"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Valid reports whether the region satisfies the width/height invariant.
func (r Region) Valid() bool {
	return r.Coordinates.Width > 0 && r.Coordinates.Height > 0
}

// CorrectionType enumerates manual edits recorded in the audit trail.
type CorrectionType string

const (
	CorrectionResize CorrectionType = "resize"
	CorrectionMove   CorrectionType = "move"
	CorrectionSplit  CorrectionType = "split"
	CorrectionMerge  CorrectionType = "merge"
	CorrectionDelete CorrectionType = "delete"
	CorrectionCreate CorrectionType = "create"
	CorrectionRetype CorrectionType = "retype"
)

// Correction is one immutable audit record of a manual edit to a region.
// Records are append-only; together they form the full edit history.
type Correction struct {
	ID         string         `json:"id"`
	RegionID   string         `json:"region_id"`
	Type       CorrectionType `json:"type"`
	Original   geometry.Rect  `json:"original"`
	Corrected  geometry.Rect  `json:"corrected"`
	User       string         `json:"user"`
	Timestamp  time.Time      `json:"timestamp"`
	Approved   bool           `json:"approved,omitempty"`
	Confidence float64        `json:"confidence,omitempty"`
}

// NewCorrection stamps a correction record for a region edit.
func NewCorrection(regionID string, ct CorrectionType, original, corrected geometry.Rect, user string) Correction {
	return Correction{
		ID:        uuid.NewString(),
		RegionID:  regionID,
		Type:      ct,
		Original:  original,
		Corrected: corrected,
		User:      user,
		Timestamp: time.Now().UTC(),
	}
}

// FromSelection converts a drag selection (two display-space corners) into a
// manual region in actual pixel space. The selection is normalized so the
// drag direction does not matter. Selections whose converted width or height
// is at or below MinSelectionPx return ErrTooSmall and produce no region.
func FromSelection(m geometry.Mapper, docID string, page int, startX, startY, endX, endY float64, t Type) (Region, error) {
	if t == "" {
		t = TypeQuestion
	}
	disp := geometry.Rect{
		X:      min(startX, endX),
		Y:      min(startY, endY),
		Width:  abs(endX - startX),
		Height: abs(endY - startY),
	}
	actual := m.ToActual(disp)
	if actual.Width <= MinSelectionPx || actual.Height <= MinSelectionPx {
		return Region{}, ErrTooSmall
	}
	return Region{
		ID:          uuid.NewString(),
		DocumentID:  docID,
		Page:        page,
		Type:        t,
		Source:      SourceManual,
		Coordinates: actual,
		Confidence:  1.0,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
