package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/local/examextract/internal/region"
	"github.com/local/examextract/internal/review"
)

type stubSessions struct {
	detect     func(docID string, page int) ([]region.Region, error)
	markStatus func(docID string, page int, target review.PageStatus, comment string) (review.PageStatus, error)
	save       func(qs []review.ExtractedQuestion) (saved, rejected []review.ExtractedQuestion, err error)
	deleted    []string
}

func (s *stubSessions) AutoDetect(ctx context.Context, docID string, page int) ([]region.Region, error) {
	if s.detect != nil {
		return s.detect(docID, page)
	}
	return []region.Region{}, nil
}

func (s *stubSessions) AddManualRegion(ctx context.Context, docID string, page int, sel review.Selection) (region.Region, error) {
	if sel.EndX-sel.StartX < 5 {
		return region.Region{}, region.ErrTooSmall
	}
	return region.Region{ID: "r-new", DocumentID: docID, Page: page, Source: region.SourceManual}, nil
}

func (s *stubSessions) UpdateRegion(ctx context.Context, updated region.Region, ct region.CorrectionType) (region.Region, error) {
	if updated.ID == "missing" {
		return region.Region{}, region.ErrNotFound
	}
	return updated, nil
}

func (s *stubSessions) DeleteRegion(ctx context.Context, regionID string) error {
	s.deleted = append(s.deleted, regionID)
	return nil
}

func (s *stubSessions) ProcessRegions(ctx context.Context, docID string, page int, regionIDs []string) ([]review.ProcessResult, error) {
	out := make([]review.ProcessResult, len(regionIDs))
	for i, id := range regionIDs {
		out[i] = review.ProcessResult{RegionID: id}
	}
	return out, nil
}

func (s *stubSessions) SaveQuestions(ctx context.Context, docID string, page int, qs []review.ExtractedQuestion) ([]review.ExtractedQuestion, []review.ExtractedQuestion, error) {
	if s.save != nil {
		return s.save(qs)
	}
	return qs, nil, nil
}

func (s *stubSessions) MarkPageStatus(ctx context.Context, docID string, page int, target review.PageStatus, comment string) (review.PageStatus, error) {
	if s.markStatus != nil {
		return s.markStatus(docID, page, target, comment)
	}
	return target, nil
}

func (s *stubSessions) DocumentSummary(ctx context.Context, docID string) (review.Summary, error) {
	return review.Summary{Total: 3, Completed: 2, Pending: 1}, nil
}

func (s *stubSessions) Regions(ctx context.Context, docID string, page int) ([]region.Region, error) {
	return []region.Region{{ID: "r1", DocumentID: docID, Page: page}}, nil
}

func (s *stubSessions) Questions(ctx context.Context, docID string, page int) ([]review.ExtractedQuestion, error) {
	return nil, nil
}

func (s *stubSessions) Corrections(ctx context.Context, regionID string) ([]region.Correction, error) {
	if regionID == "r-edited" {
		return []region.Correction{
			{RegionID: regionID, Type: region.CorrectionCreate},
			{RegionID: regionID, Type: region.CorrectionResize},
		}, nil
	}
	return nil, nil
}

func (s *stubSessions) PagePreview(ctx context.Context, docID string, page int) ([]byte, error) {
	return []byte{0xFF, 0xD8, 0xFF, 0xD9}, nil
}

type stubDocs struct{ pages int }

func (d stubDocs) Register(ctx context.Context, docID, ref string) (int, error) {
	if ref == "bad.docx" {
		return 0, errors.New("unsupported file type")
	}
	return d.pages, nil
}

type dlqEntry struct {
	task   review.UnsupportedPage
	reason string
}

type stubSpecialist struct {
	pending []review.UnsupportedPage
	acked   []string
	delayed []review.UnsupportedPage
	dlq     []dlqEntry
}

func (q *stubSpecialist) Dequeue(ctx context.Context, consumer string, timeout time.Duration) (string, review.UnsupportedPage, error) {
	if len(q.pending) == 0 {
		return "", review.UnsupportedPage{}, nil
	}
	task := q.pending[0]
	q.pending = q.pending[1:]
	return "m-1", task, nil
}

func (q *stubSpecialist) Ack(ctx context.Context, msgID string) error {
	q.acked = append(q.acked, msgID)
	return nil
}

func (q *stubSpecialist) EnqueueDelayed(ctx context.Context, task review.UnsupportedPage, executeAt time.Time) error {
	q.delayed = append(q.delayed, task)
	return nil
}

func (q *stubSpecialist) AddDLQ(ctx context.Context, task review.UnsupportedPage, reason string) error {
	q.dlq = append(q.dlq, dlqEntry{task: task, reason: reason})
	return nil
}

func newTestServer(sess *stubSessions) *http.ServeMux {
	mux := http.NewServeMux()
	New(Dependencies{Sessions: sess, Documents: stubDocs{pages: 12}}).RegisterRoutes(mux)
	return mux
}

func newSpecialistServer(q *stubSpecialist) *http.ServeMux {
	mux := http.NewServeMux()
	New(Dependencies{Sessions: &stubSessions{}, Documents: stubDocs{pages: 12}, Specialist: q}).RegisterRoutes(mux)
	return mux
}

func postJSON(t *testing.T, mux *http.ServeMux, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestRegisterDocument(t *testing.T) {
	mux := newTestServer(&stubSessions{})
	rec := postJSON(t, mux, "/api/documents", map[string]any{"ref": "file:///tmp/exam.pdf"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["pages"].(float64) != 12 || resp["document_id"] == "" {
		t.Fatalf("unexpected response: %v", resp)
	}
}

func TestRegisterDocumentUnsupported(t *testing.T) {
	mux := newTestServer(&stubSessions{})
	rec := postJSON(t, mux, "/api/documents", map[string]any{"ref": "bad.docx"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestMarkStatusInvalidTransitionConflict(t *testing.T) {
	sess := &stubSessions{
		markStatus: func(d string, p int, target review.PageStatus, comment string) (review.PageStatus, error) {
			return review.StatusPending, fmt.Errorf("invalid page status transition pending -> completed")
		},
	}
	mux := newTestServer(sess)
	rec := postJSON(t, mux, "/api/page_status", map[string]any{
		"document_id": "doc1", "page": 1, "status": "completed",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	var resp map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["status"] != "pending" {
		t.Fatalf("conflict response must report unchanged status, got %v", resp)
	}
}

func TestMarkStatusUnknownStatusRejected(t *testing.T) {
	mux := newTestServer(&stubSessions{})
	rec := postJSON(t, mux, "/api/page_status", map[string]any{
		"document_id": "doc1", "page": 1, "status": "finished",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rec.Code)
	}
}

func TestMarkUnsupportedMissingComment(t *testing.T) {
	sess := &stubSessions{
		markStatus: func(d string, p int, target review.PageStatus, comment string) (review.PageStatus, error) {
			return review.StatusInProgress, review.ErrCommentRequired
		},
	}
	mux := newTestServer(sess)
	rec := postJSON(t, mux, "/api/page_status", map[string]any{
		"document_id": "doc1", "page": 1, "status": "pending_unsupported",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestAddRegionTooSmall(t *testing.T) {
	mux := newTestServer(&stubSessions{})
	rec := postJSON(t, mux, "/api/regions", map[string]any{
		"document_id": "doc1", "page": 1,
		"start_x": 10, "start_y": 10, "end_x": 12, "end_y": 40,
		"display_width": 800, "display_height": 600,
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for tiny selection, got %d", rec.Code)
	}
}

func TestDeleteRegionAlwaysOK(t *testing.T) {
	sess := &stubSessions{}
	mux := newTestServer(sess)
	req := httptest.NewRequest(http.MethodDelete, "/api/regions/r-gone", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(sess.deleted) != 1 || sess.deleted[0] != "r-gone" {
		t.Fatalf("delete not forwarded: %v", sess.deleted)
	}
}

func TestProcessRequiresRegions(t *testing.T) {
	mux := newTestServer(&stubSessions{})
	rec := postJSON(t, mux, "/api/process", map[string]any{
		"document_id": "doc1", "page": 1, "region_ids": []string{},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCorrectionsEndpoint(t *testing.T) {
	mux := newTestServer(&stubSessions{})
	req := httptest.NewRequest(http.MethodGet, "/api/regions/r-edited/corrections", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		RegionID    string              `json:"region_id"`
		Corrections []region.Correction `json:"corrections"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.RegionID != "r-edited" || len(resp.Corrections) != 2 {
		t.Fatalf("unexpected history: %+v", resp)
	}
	if resp.Corrections[1].Type != region.CorrectionResize {
		t.Fatalf("history out of order: %+v", resp.Corrections)
	}
}

func TestCorrectionsEndpointEmptyHistory(t *testing.T) {
	mux := newTestServer(&stubSessions{})
	req := httptest.NewRequest(http.MethodGet, "/api/regions/r-untouched/corrections", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if _, ok := resp["corrections"].([]any); !ok {
		t.Fatalf("empty history must be a list, got %v", resp)
	}
}

func TestPagePreview(t *testing.T) {
	mux := newTestServer(&stubSessions{})
	req := httptest.NewRequest(http.MethodGet, "/api/page_preview?document_id=doc1&page=1", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Fatalf("content type = %q", ct)
	}
}

func TestSpecialistClaimAndAck(t *testing.T) {
	q := &stubSpecialist{pending: []review.UnsupportedPage{
		{DocumentID: "doc1", Page: 4, Comment: "handwritten table"},
	}}
	mux := newSpecialistServer(q)

	rec := postJSON(t, mux, "/api/specialist/claim", map[string]any{"consumer": "alice"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		MessageID string                 `json:"message_id"`
		Task      review.UnsupportedPage `json:"task"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.MessageID != "m-1" || resp.Task.Page != 4 {
		t.Fatalf("unexpected claim: %+v", resp)
	}

	rec = postJSON(t, mux, "/api/specialist/ack", map[string]any{"message_id": resp.MessageID})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(q.acked) != 1 || q.acked[0] != "m-1" {
		t.Fatalf("ack not forwarded: %v", q.acked)
	}
}

func TestSpecialistClaimEmptyQueue(t *testing.T) {
	mux := newSpecialistServer(&stubSpecialist{})
	rec := postJSON(t, mux, "/api/specialist/claim", map[string]any{"consumer": "alice"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for empty queue, got %d", rec.Code)
	}
}

func TestSpecialistRequeueDelaysAndAcks(t *testing.T) {
	q := &stubSpecialist{}
	mux := newSpecialistServer(q)
	rec := postJSON(t, mux, "/api/specialist/requeue", map[string]any{
		"message_id":    "m-7",
		"task":          map[string]any{"document_id": "doc1", "page": 2, "comment": "waiting on source file"},
		"delay_seconds": 120,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(q.delayed) != 1 || q.delayed[0].Page != 2 {
		t.Fatalf("task not rescheduled: %+v", q.delayed)
	}
	if len(q.acked) != 1 || q.acked[0] != "m-7" {
		t.Fatalf("requeued task must be acked off the stream: %v", q.acked)
	}
}

func TestSpecialistFailDeadLetters(t *testing.T) {
	q := &stubSpecialist{}
	mux := newSpecialistServer(q)
	rec := postJSON(t, mux, "/api/specialist/fail", map[string]any{
		"message_id": "m-9",
		"task":       map[string]any{"document_id": "doc1", "page": 5},
		"reason":     "source file unreadable",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(q.dlq) != 1 || q.dlq[0].reason != "source file unreadable" {
		t.Fatalf("task not dead-lettered: %+v", q.dlq)
	}
	if len(q.acked) != 1 || q.acked[0] != "m-9" {
		t.Fatalf("dead-lettered task must be acked: %v", q.acked)
	}
}

func TestSpecialistFailRequiresReason(t *testing.T) {
	q := &stubSpecialist{}
	mux := newSpecialistServer(q)
	rec := postJSON(t, mux, "/api/specialist/fail", map[string]any{
		"message_id": "m-9",
		"task":       map[string]any{"document_id": "doc1", "page": 5},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without a reason, got %d", rec.Code)
	}
	if len(q.dlq) != 0 {
		t.Fatalf("nothing should be dead-lettered: %+v", q.dlq)
	}
}

func TestSpecialistNotConfigured(t *testing.T) {
	mux := newTestServer(&stubSessions{})
	rec := postJSON(t, mux, "/api/specialist/claim", map[string]any{"consumer": "alice"})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestSummary(t *testing.T) {
	mux := newTestServer(&stubSessions{})
	req := httptest.NewRequest(http.MethodGet, "/api/summary/doc1", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var sum review.Summary
	_ = json.Unmarshal(rec.Body.Bytes(), &sum)
	if sum.Total != 3 || sum.Completed != 2 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
}
