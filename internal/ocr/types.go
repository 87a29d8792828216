package ocr

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Result is one engine's raw recognition output.
type Result struct {
	Text       string
	Confidence float64 // engine-reported, 0..1
}

// Engine is the capability every OCR backend implements. Selection logic
// operates purely over this interface so engines can be added without
// touching the adapter.
type Engine interface {
	Name() string
	// Available reports whether the engine can serve requests at all
	// (binary installed, API key configured).
	Available() bool
	// Recognize runs OCR over a PNG-encoded region image.
	Recognize(ctx context.Context, png []byte) (Result, error)
}

var (
	ErrRateLimited = errors.New("rate_limited")
	ErrUnavailable = errors.New("engine_unavailable")
)

func IsRateLimited(err error) bool { return errors.Is(err, ErrRateLimited) }

// HTTPError carries a non-2xx status from a remote OCR backend.
type HTTPError struct {
	StatusCode int
	Engine     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d from %s", e.StatusCode, e.Engine)
}

// RegionResult is the adapter's output for one region: the chosen text plus
// the telemetry the caller surfaces (engine used, total processing time,
// preprocessing stages applied).
type RegionResult struct {
	Success       bool          `json:"ocr_success"`
	Engine        string        `json:"engine,omitempty"`
	Text          string        `json:"text,omitempty"`
	Confidence    float64       `json:"confidence"`
	Duration      time.Duration `json:"processing_time"`
	Stages        []string      `json:"preprocess_stages,omitempty"`
	FailureReason string        `json:"failure_reason,omitempty"`
}
