package detect

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/local/examextract/internal/region"
)

func TestDetectMapsCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/detect" {
			http.NotFound(w, r)
			return
		}
		var req detectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req.DocumentID != "doc1" || req.Page != 3 {
			t.Errorf("unexpected request: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(detectResponse{Regions: []detectCandidate{
			{X: 10, Y: 20, Width: 300, Height: 100, Type: "question", Confidence: 0.9},
			{X: 10, Y: 140, Width: 300, Height: 60, Type: "answer_option", Confidence: 0.3},
			{X: 0, Y: 0, Width: 0, Height: 10, Confidence: 0.8}, // degenerate, dropped
		}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, 0.5)
	got, err := c.Detect(context.Background(), "doc1", 3)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
	if got[0].Source != region.SourceAutoDetect || got[0].ID == "" {
		t.Fatalf("candidate missing identity: %+v", got[0])
	}
	for i, r := range got {
		if !r.NeedsReview {
			t.Fatalf("auto-detected candidate %d must be flagged for review", i)
		}
	}
	if got[1].Type != region.TypeAnswerOption {
		t.Fatalf("type not mapped: %s", got[1].Type)
	}
}

func TestDetectFlagsHighConfidenceCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(detectResponse{Regions: []detectCandidate{
			{X: 5, Y: 5, Width: 200, Height: 80, Type: "question", Confidence: 0.99},
		}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, 0.5)
	got, err := c.Detect(context.Background(), "doc1", 1)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(got))
	}
	if !got[0].NeedsReview {
		t.Fatal("detector confidence must not bypass human review")
	}
}

func TestDetectNotConfigured(t *testing.T) {
	c := NewClient("", time.Second, 0.5)
	if _, err := c.Detect(context.Background(), "doc1", 1); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestDetectServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, 0.5)
	if _, err := c.Detect(context.Background(), "doc1", 1); err == nil {
		t.Fatal("expected error on 500")
	}
}
