package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/examextract/internal/geometry"
	"github.com/local/examextract/internal/region"
)

// ErrNotConfigured means no detection service URL was set. Callers treat
// detection as a best-effort enhancement and fall back to manual selection.
var ErrNotConfigured = errors.New("detection service not configured")

// Client calls the external region-detection service. The service is a
// black box: it proposes candidate rectangles, nothing more.
type Client struct {
	http      *http.Client
	baseURL   string
	threshold float64
}

// NewClient builds a client. Every candidate the service proposes is flagged
// needs_review; the confidence threshold only marks low-confidence candidates
// in the logs, it never clears the review flag.
func NewClient(baseURL string, timeout time.Duration, threshold float64) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if threshold <= 0 || threshold > 1 {
		threshold = 0.5
	}
	return &Client{
		http:      &http.Client{Timeout: timeout},
		baseURL:   baseURL,
		threshold: threshold,
	}
}

type detectRequest struct {
	DocumentID string `json:"document_id"`
	Page       int    `json:"page"`
}

type detectCandidate struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

type detectResponse struct {
	Regions []detectCandidate `json:"regions"`
}

// Detect asks the service for candidate regions on one page.
func (c *Client) Detect(ctx context.Context, docID string, page int) ([]region.Region, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}

	body, _ := json.Marshal(detectRequest{DocumentID: docID, Page: page})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/detect", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("detect service returned %d", resp.StatusCode)
	}

	var r detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode detect response: %w", err)
	}

	out := make([]region.Region, 0, len(r.Regions))
	lowConf := 0
	for _, cand := range r.Regions {
		if cand.Width <= 0 || cand.Height <= 0 {
			continue
		}
		if cand.Confidence < c.threshold {
			lowConf++
		}
		t := region.Type(cand.Type)
		switch t {
		case region.TypeQuestion, region.TypeAnswerOption, region.TypeUnsupported:
		default:
			t = region.TypeQuestion
		}
		out = append(out, region.Region{
			ID:         uuid.NewString(),
			DocumentID: docID,
			Page:       page,
			Type:       t,
			Source:     region.SourceAutoDetect,
			Coordinates: geometry.Rect{
				X: cand.X, Y: cand.Y, Width: cand.Width, Height: cand.Height,
			},
			Confidence:  cand.Confidence,
			// Auto-detected boundaries are proposals. A human confirms
			// every one of them, however confident the service is.
			NeedsReview: true,
			CreatedAt:   time.Now().UTC(),
		})
	}
	log.Debug().Str("doc", docID).Int("page", page).Int("candidates", len(out)).
		Int("low_confidence", lowConf).Msg("detection service returned candidates")
	return out, nil
}

// Ping checks the detection service health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	if c.baseURL == "" {
		return ErrNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("detect service health returned %d", resp.StatusCode)
	}
	return nil
}
