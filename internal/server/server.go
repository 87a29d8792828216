package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/examextract/internal/metrics"
	"github.com/local/examextract/internal/region"
	"github.com/local/examextract/internal/review"
	"github.com/local/examextract/internal/statuscheck"
)

// Sessions is the review controller surface the API exposes.
type Sessions interface {
	AutoDetect(ctx context.Context, docID string, page int) ([]region.Region, error)
	AddManualRegion(ctx context.Context, docID string, page int, sel review.Selection) (region.Region, error)
	UpdateRegion(ctx context.Context, updated region.Region, ct region.CorrectionType) (region.Region, error)
	DeleteRegion(ctx context.Context, regionID string) error
	ProcessRegions(ctx context.Context, docID string, page int, regionIDs []string) ([]review.ProcessResult, error)
	SaveQuestions(ctx context.Context, docID string, page int, qs []review.ExtractedQuestion) (saved, rejected []review.ExtractedQuestion, err error)
	MarkPageStatus(ctx context.Context, docID string, page int, target review.PageStatus, comment string) (review.PageStatus, error)
	DocumentSummary(ctx context.Context, docID string) (review.Summary, error)
	Regions(ctx context.Context, docID string, page int) ([]region.Region, error)
	Questions(ctx context.Context, docID string, page int) ([]review.ExtractedQuestion, error)
	Corrections(ctx context.Context, regionID string) ([]region.Correction, error)
	PagePreview(ctx context.Context, docID string, page int) ([]byte, error)
}

// Documents registers exam papers for review.
type Documents interface {
	Register(ctx context.Context, docID, ref string) (int, error)
}

// Specialist is the consumption side of the unsupported-page queue: claim a
// task, then ack it, push it back with a delay, or dead-letter it.
type Specialist interface {
	Dequeue(ctx context.Context, consumer string, timeout time.Duration) (string, review.UnsupportedPage, error)
	Ack(ctx context.Context, msgID string) error
	EnqueueDelayed(ctx context.Context, task review.UnsupportedPage, executeAt time.Time) error
	AddDLQ(ctx context.Context, task review.UnsupportedPage, reason string) error
}

// Dependencies wires the API server.
type Dependencies struct {
	Sessions   Sessions
	Documents  Documents
	Specialist Specialist
	Checker    *statuscheck.Checker
}

// Server exposes the review workflow over HTTP.
type Server struct {
	deps Dependencies
}

func New(deps Dependencies) *Server {
	return &Server{deps: deps}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/api/documents", s.handleRegisterDocument)
	mux.HandleFunc("/api/summary/", s.handleSummary)
	mux.HandleFunc("/api/detect", s.handleDetect)
	mux.HandleFunc("/api/regions", s.handleRegions)
	mux.HandleFunc("/api/regions/", s.handleRegionByID)
	mux.HandleFunc("/api/process", s.handleProcess)
	mux.HandleFunc("/api/questions", s.handleQuestions)
	mux.HandleFunc("/api/page_status", s.handlePageStatus)
	mux.HandleFunc("/api/page_preview", s.handlePagePreview)
	mux.HandleFunc("/api/specialist/claim", s.handleSpecialistClaim)
	mux.HandleFunc("/api/specialist/ack", s.handleSpecialistAck)
	mux.HandleFunc("/api/specialist/requeue", s.handleSpecialistRequeue)
	mux.HandleFunc("/api/specialist/fail", s.handleSpecialistFail)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Checker == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "no checker configured"})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Checker.Summary(r.Context()))
}

type registerReq struct {
	DocumentID string `json:"document_id"`
	Ref        string `json:"ref"`
}

func (s *Server) handleRegisterDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()
	var req registerReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, errors.New("invalid json"))
		return
	}
	if req.Ref == "" {
		writeErr(w, http.StatusBadRequest, errors.New("missing ref"))
		return
	}
	if req.DocumentID == "" {
		req.DocumentID = uuid.NewString()
	}
	pages, err := s.deps.Documents.Register(r.Context(), req.DocumentID, req.Ref)
	if err != nil {
		writeErr(w, http.StatusUnprocessableEntity, err)
		return
	}
	log.Info().Str("doc", req.DocumentID).Int("pages", pages).Msg("document registered")
	writeJSON(w, http.StatusCreated, map[string]any{"document_id": req.DocumentID, "pages": pages})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	docID := strings.TrimPrefix(r.URL.Path, "/api/summary/")
	if docID == "" {
		writeErr(w, http.StatusBadRequest, errors.New("missing document id"))
		return
	}
	sum, err := s.deps.Sessions.DocumentSummary(r.Context(), docID)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

type pageReq struct {
	DocumentID string `json:"document_id"`
	Page       int    `json:"page"`
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()
	var req pageReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DocumentID == "" || req.Page < 1 {
		writeErr(w, http.StatusBadRequest, errors.New("missing document_id or page"))
		return
	}
	regions, err := s.deps.Sessions.AutoDetect(r.Context(), req.DocumentID, req.Page)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"regions": regions})
}

type addRegionReq struct {
	DocumentID    string  `json:"document_id"`
	Page          int     `json:"page"`
	StartX        float64 `json:"start_x"`
	StartY        float64 `json:"start_y"`
	EndX          float64 `json:"end_x"`
	EndY          float64 `json:"end_y"`
	DisplayWidth  float64 `json:"display_width"`
	DisplayHeight float64 `json:"display_height"`
	Type          string  `json:"type"`
}

func (s *Server) handleRegions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		docID := r.URL.Query().Get("document_id")
		page := queryInt(r, "page")
		if docID == "" || page < 1 {
			writeErr(w, http.StatusBadRequest, errors.New("missing document_id or page"))
			return
		}
		regions, err := s.deps.Sessions.Regions(r.Context(), docID, page)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"regions": regions})

	case http.MethodPost:
		defer r.Body.Close()
		var req addRegionReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DocumentID == "" || req.Page < 1 {
			writeErr(w, http.StatusBadRequest, errors.New("missing document_id or page"))
			return
		}
		reg, err := s.deps.Sessions.AddManualRegion(r.Context(), req.DocumentID, req.Page, review.Selection{
			StartX: req.StartX, StartY: req.StartY, EndX: req.EndX, EndY: req.EndY,
			DisplayWidth: req.DisplayWidth, DisplayHeight: req.DisplayHeight,
			Type: region.Type(req.Type),
		})
		if errors.Is(err, region.ErrTooSmall) {
			writeErr(w, http.StatusUnprocessableEntity, err)
			return
		}
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusCreated, reg)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type updateRegionReq struct {
	Region     region.Region `json:"region"`
	Correction string        `json:"correction"`
}

func (s *Server) handleRegionByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/regions/")
	if id == "" {
		writeErr(w, http.StatusBadRequest, errors.New("missing region id"))
		return
	}
	if rest := strings.TrimSuffix(id, "/corrections"); rest != id {
		s.handleCorrections(w, r, rest)
		return
	}
	switch r.Method {
	case http.MethodPut:
		defer r.Body.Close()
		var req updateRegionReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, errors.New("invalid json"))
			return
		}
		req.Region.ID = id
		ct := region.CorrectionType(req.Correction)
		if ct == "" {
			ct = region.CorrectionResize
		}
		reg, err := s.deps.Sessions.UpdateRegion(r.Context(), req.Region, ct)
		if errors.Is(err, region.ErrNotFound) {
			writeErr(w, http.StatusNotFound, err)
			return
		}
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, reg)

	case http.MethodDelete:
		if err := s.deps.Sessions.DeleteRegion(r.Context(), id); err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		// not-found deletes are a no-op success
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleCorrections serves GET /api/regions/{id}/corrections: the region's
// full edit history, oldest first. Deleted regions keep their history.
func (s *Server) handleCorrections(w http.ResponseWriter, r *http.Request, regionID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if regionID == "" {
		writeErr(w, http.StatusBadRequest, errors.New("missing region id"))
		return
	}
	hist, err := s.deps.Sessions.Corrections(r.Context(), regionID)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if hist == nil {
		hist = []region.Correction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"region_id": regionID, "corrections": hist})
}

func (s *Server) handlePagePreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	docID := r.URL.Query().Get("document_id")
	page := queryInt(r, "page")
	if docID == "" || page < 1 {
		writeErr(w, http.StatusBadRequest, errors.New("missing document_id or page"))
		return
	}
	data, err := s.deps.Sessions.PagePreview(r.Context(), docID, page)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type processReq struct {
	DocumentID string   `json:"document_id"`
	Page       int      `json:"page"`
	RegionIDs  []string `json:"region_ids"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()
	var req processReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DocumentID == "" || req.Page < 1 {
		writeErr(w, http.StatusBadRequest, errors.New("missing document_id or page"))
		return
	}
	if len(req.RegionIDs) == 0 {
		writeErr(w, http.StatusBadRequest, errors.New("no regions selected"))
		return
	}
	results, err := s.deps.Sessions.ProcessRegions(r.Context(), req.DocumentID, req.Page, req.RegionIDs)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

type saveQuestionsReq struct {
	DocumentID string                     `json:"document_id"`
	Page       int                        `json:"page"`
	Questions  []review.ExtractedQuestion `json:"questions"`
}

func (s *Server) handleQuestions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		docID := r.URL.Query().Get("document_id")
		page := queryInt(r, "page")
		if docID == "" || page < 1 {
			writeErr(w, http.StatusBadRequest, errors.New("missing document_id or page"))
			return
		}
		qs, err := s.deps.Sessions.Questions(r.Context(), docID, page)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"questions": qs})

	case http.MethodPost:
		defer r.Body.Close()
		var req saveQuestionsReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DocumentID == "" || req.Page < 1 {
			writeErr(w, http.StatusBadRequest, errors.New("missing document_id or page"))
			return
		}
		saved, rejected, err := s.deps.Sessions.SaveQuestions(r.Context(), req.DocumentID, req.Page, req.Questions)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"saved": len(saved), "rejected": len(rejected), "questions": saved})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type pageStatusReq struct {
	DocumentID string `json:"document_id"`
	Page       int    `json:"page"`
	Status     string `json:"status"`
	Comment    string `json:"comment"`
}

func (s *Server) handlePageStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()
	var req pageStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DocumentID == "" || req.Page < 1 {
		writeErr(w, http.StatusBadRequest, errors.New("missing document_id or page"))
		return
	}
	target := review.PageStatus(req.Status)
	if !target.Valid() {
		writeErr(w, http.StatusBadRequest, errors.New("unknown status: "+req.Status))
		return
	}
	got, err := s.deps.Sessions.MarkPageStatus(r.Context(), req.DocumentID, req.Page, target, req.Comment)
	if errors.Is(err, review.ErrCommentRequired) {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		// invalid transition: report the reason and the unchanged status
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error(), "status": string(got)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(got)})
}

func (s *Server) specialist(w http.ResponseWriter) (Specialist, bool) {
	if s.deps.Specialist == nil {
		writeErr(w, http.StatusServiceUnavailable, errors.New("specialist queue not configured"))
		return nil, false
	}
	return s.deps.Specialist, true
}

type claimReq struct {
	Consumer string `json:"consumer"`
}

// handleSpecialistClaim hands the next unsupported-page task to a specialist.
// An empty queue answers 204 so pollers can tell "nothing to do" from errors.
func (s *Server) handleSpecialistClaim(w http.ResponseWriter, r *http.Request) {
	q, ok := s.specialist(w)
	if !ok {
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()
	var req claimReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Consumer == "" {
		writeErr(w, http.StatusBadRequest, errors.New("missing consumer"))
		return
	}
	msgID, task, err := q.Dequeue(r.Context(), req.Consumer, 2*time.Second)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if msgID == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message_id": msgID, "task": task})
}

type ackReq struct {
	MessageID string `json:"message_id"`
}

func (s *Server) handleSpecialistAck(w http.ResponseWriter, r *http.Request) {
	q, ok := s.specialist(w)
	if !ok {
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()
	var req ackReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MessageID == "" {
		writeErr(w, http.StatusBadRequest, errors.New("missing message_id"))
		return
	}
	if err := q.Ack(r.Context(), req.MessageID); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "acked"})
}

type requeueReq struct {
	MessageID    string                 `json:"message_id"`
	Task         review.UnsupportedPage `json:"task"`
	DelaySeconds int                    `json:"delay_seconds"`
}

// handleSpecialistRequeue defers a claimed task: it is acked off the stream
// and rescheduled for delayed redelivery.
func (s *Server) handleSpecialistRequeue(w http.ResponseWriter, r *http.Request) {
	q, ok := s.specialist(w)
	if !ok {
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()
	var req requeueReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MessageID == "" || req.Task.DocumentID == "" {
		writeErr(w, http.StatusBadRequest, errors.New("missing message_id or task"))
		return
	}
	if req.DelaySeconds < 1 {
		req.DelaySeconds = 60
	}
	at := time.Now().Add(time.Duration(req.DelaySeconds) * time.Second)
	if err := q.EnqueueDelayed(r.Context(), req.Task, at); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if err := q.Ack(r.Context(), req.MessageID); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "requeued", "execute_at": at.UTC()})
}

type failReq struct {
	MessageID string                 `json:"message_id"`
	Task      review.UnsupportedPage `json:"task"`
	Reason    string                 `json:"reason"`
}

// handleSpecialistFail dead-letters a claimed task with the reason it could
// not be handled.
func (s *Server) handleSpecialistFail(w http.ResponseWriter, r *http.Request) {
	q, ok := s.specialist(w)
	if !ok {
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()
	var req failReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MessageID == "" || req.Task.DocumentID == "" {
		writeErr(w, http.StatusBadRequest, errors.New("missing message_id or task"))
		return
	}
	if req.Reason == "" {
		writeErr(w, http.StatusBadRequest, errors.New("missing reason"))
		return
	}
	if err := q.AddDLQ(r.Context(), req.Task, req.Reason); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if err := q.Ack(r.Context(), req.MessageID); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	log.Warn().Str("doc", req.Task.DocumentID).Int("page", req.Task.Page).
		Str("reason", req.Reason).Msg("specialist task dead-lettered")
	writeJSON(w, http.StatusOK, map[string]string{"status": "dead-lettered"})
}

func queryInt(r *http.Request, key string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(key))
	return n
}
