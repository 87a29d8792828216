package review

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/local/examextract/internal/parser"
)

// ExtractedQuestion is a question the reviewer chose to keep: parsed text
// plus provenance back to the region and page it came from.
type ExtractedQuestion struct {
	ID          string          `json:"id"`
	DocumentID  string          `json:"document_id"`
	Page        int             `json:"page"`
	RegionID    string          `json:"region_id,omitempty"`
	Text        string          `json:"text"`
	Options     []parser.Option `json:"options,omitempty"`
	Confidence  float64         `json:"confidence"`
	NeedsReview bool            `json:"needs_review"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Valid reports whether the question can be persisted. Empty question text
// is the one hard validation rule.
func (q ExtractedQuestion) Valid() bool {
	return strings.TrimSpace(q.Text) != ""
}

// QuestionFromParse lifts a parse result into a persistable question.
func QuestionFromParse(docID string, page int, regionID string, p parser.Question) ExtractedQuestion {
	return ExtractedQuestion{
		ID:          uuid.NewString(),
		DocumentID:  docID,
		Page:        page,
		RegionID:    regionID,
		Text:        p.Stem,
		Options:     p.Options,
		Confidence:  p.Confidence,
		NeedsReview: p.NeedsReview,
		CreatedAt:   time.Now().UTC(),
	}
}
