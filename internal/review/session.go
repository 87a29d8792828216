package review

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/examextract/internal/geometry"
	"github.com/local/examextract/internal/metrics"
	"github.com/local/examextract/internal/ocr"
	"github.com/local/examextract/internal/pageimage"
	"github.com/local/examextract/internal/parser"
	"github.com/local/examextract/internal/preprocess"
	"github.com/local/examextract/internal/region"
)

// RegionStore persists regions and their append-only correction history.
type RegionStore interface {
	Save(ctx context.Context, r region.Region) error
	Get(ctx context.Context, regionID string) (region.Region, error)
	List(ctx context.Context, docID string, page int) ([]region.Region, error)
	Delete(ctx context.Context, regionID string) error
	AppendCorrection(ctx context.Context, c region.Correction) error
	Corrections(ctx context.Context, regionID string) ([]region.Correction, error)
}

// StatusStore persists per-page review statuses. Get returns StatusPending
// for pages never touched.
type StatusStore interface {
	Get(ctx context.Context, docID string, page int) (PageStatus, error)
	Set(ctx context.Context, docID string, page int, s PageStatus) error
	All(ctx context.Context, docID string) (map[int]PageStatus, error)
}

// QuestionStore persists extracted questions.
type QuestionStore interface {
	Save(ctx context.Context, qs []ExtractedQuestion) error
	List(ctx context.Context, docID string, page int) ([]ExtractedQuestion, error)
	Count(ctx context.Context, docID string, page int) (int, error)
}

// Detector proposes candidate regions for a page. It is a black box; the
// controller only consumes its output.
type Detector interface {
	Detect(ctx context.Context, docID string, page int) ([]region.Region, error)
}

// DocumentSource resolves a document id to a local PDF path and page count.
type DocumentSource interface {
	LocalPath(ctx context.Context, docID string) (string, error)
	PageCount(ctx context.Context, docID string) (int, error)
}

// PageRenderer rasterizes one page at a DPI. Implementations cache per page
// so processing N regions renders once.
type PageRenderer interface {
	RenderPage(ctx context.Context, pdfPath string, page, dpi int) (image.Image, error)
}

// Recognizer runs OCR over a preprocessed region crop.
type Recognizer interface {
	Recognize(ctx context.Context, png []byte, stages []string) ocr.RegionResult
}

// UnsupportedPage is the task queued for specialist review when an operator
// marks a page pending_unsupported.
type UnsupportedPage struct {
	DocumentID string    `json:"document_id"`
	Page       int       `json:"page"`
	Comment    string    `json:"comment"`
	QueuedAt   time.Time `json:"queued_at"`
}

// SpecialistQueue receives pages an operator could not handle.
type SpecialistQueue interface {
	Enqueue(ctx context.Context, task UnsupportedPage) error
}

// Exporter archives saved questions outside the primary store. Optional.
type Exporter interface {
	ExportQuestions(ctx context.Context, docID string, page int, qs []ExtractedQuestion) (string, error)
}

// Dependencies wires the controller to its collaborators.
type Dependencies struct {
	Regions    RegionStore
	Statuses   StatusStore
	Questions  QuestionStore
	Detector   Detector
	Documents  DocumentSource
	Renderer   PageRenderer
	Preprocess *preprocess.Pipeline
	OCR        Recognizer
	Queue      SpecialistQueue
	Exporter   Exporter
}

// Config tunes the controller.
type Config struct {
	RenderDPI         int
	InterRequestDelay time.Duration
	User              string
}

// Controller drives the per-page review workflow: detect or draw regions,
// process them through preprocessing and OCR, save questions, and move the
// page through its status lifecycle. One controller serves all sessions;
// per-page state lives in the stores, so any page can be revisited.
type Controller struct {
	deps Dependencies
	cfg  Config

	mu       sync.Mutex
	lastGood map[string]PageStatus
}

// ErrCommentRequired rejects pending_unsupported without an explanation.
var ErrCommentRequired = errors.New("a comment is required when marking a page unsupported")

// NewController builds a controller; zero config fields fall back to defaults.
func NewController(deps Dependencies, cfg Config) *Controller {
	if cfg.RenderDPI <= 0 {
		cfg.RenderDPI = 300
	}
	if cfg.InterRequestDelay < 0 {
		cfg.InterRequestDelay = 0
	}
	if cfg.User == "" {
		cfg.User = "reviewer"
	}
	return &Controller{deps: deps, cfg: cfg, lastGood: make(map[string]PageStatus)}
}

func pageKey(docID string, page int) string { return fmt.Sprintf("%s:%d", docID, page) }

// touch moves a page into in_progress on its first region action, or reopens
// a terminal/error page being revisited. Already-in_progress pages are left
// alone.
func (c *Controller) touch(ctx context.Context, docID string, page int) error {
	cur, err := c.deps.Statuses.Get(ctx, docID, page)
	if err != nil {
		return fmt.Errorf("load page status: %w", err)
	}
	if cur == StatusInProgress {
		return nil
	}
	if !CanTransition(cur, StatusInProgress) {
		return fmt.Errorf("page %d cannot enter review from status %s", page, cur)
	}
	if err := c.deps.Statuses.Set(ctx, docID, page, StatusInProgress); err != nil {
		return fmt.Errorf("update page status: %w", err)
	}
	metrics.IncTransition(string(StatusInProgress))
	return nil
}

// markError pushes the page into error state while retaining the last-good
// status for retry.
func (c *Controller) markError(ctx context.Context, docID string, page int, cause error) {
	cur, gerr := c.deps.Statuses.Get(ctx, docID, page)
	if gerr == nil && cur != StatusError {
		c.mu.Lock()
		c.lastGood[pageKey(docID, page)] = cur
		c.mu.Unlock()
	}
	if serr := c.deps.Statuses.Set(ctx, docID, page, StatusError); serr != nil {
		log.Error().Err(serr).Str("doc", docID).Int("page", page).Msg("failed to persist error status")
		return
	}
	metrics.IncTransition(string(StatusError))
	log.Error().Err(cause).Str("doc", docID).Int("page", page).Msg("page moved to error state")
}

// LastGood returns the status a page held before it entered error state, for
// retry flows. Defaults to pending.
func (c *Controller) LastGood(docID string, page int) PageStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.lastGood[pageKey(docID, page)]; ok {
		return s
	}
	return StatusPending
}

// AutoDetect asks the detector for candidate regions and persists them.
// Detector unavailability is not an error: the operator falls back to manual
// selection, so the result is an empty list.
func (c *Controller) AutoDetect(ctx context.Context, docID string, page int) ([]region.Region, error) {
	if err := c.touch(ctx, docID, page); err != nil {
		return nil, err
	}
	detected, err := c.deps.Detector.Detect(ctx, docID, page)
	if err != nil {
		log.Warn().Err(err).Str("doc", docID).Int("page", page).Msg("auto-detect unavailable, returning no candidates")
		return []region.Region{}, nil
	}
	out := make([]region.Region, 0, len(detected))
	for _, r := range detected {
		if r.ID == "" || !r.Valid() {
			continue
		}
		r.DocumentID = docID
		r.Page = page
		r.Source = region.SourceAutoDetect
		if err := c.deps.Regions.Save(ctx, r); err != nil {
			return out, fmt.Errorf("persist detected region: %w", err)
		}
		out = append(out, r)
	}
	log.Info().Str("doc", docID).Int("page", page).Int("regions", len(out)).Msg("auto-detect proposed regions")
	return out, nil
}

// Selection is a drag rectangle in display coordinates plus the viewport it
// was drawn in.
type Selection struct {
	StartX, StartY float64
	EndX, EndY     float64
	DisplayWidth   float64
	DisplayHeight  float64
	Type           region.Type
}

// AddManualRegion converts a display-space drag into a persisted region.
// Selections at or below the minimum size return region.ErrTooSmall and
// persist nothing.
func (c *Controller) AddManualRegion(ctx context.Context, docID string, page int, sel Selection) (region.Region, error) {
	if err := c.touch(ctx, docID, page); err != nil {
		return region.Region{}, err
	}
	path, err := c.deps.Documents.LocalPath(ctx, docID)
	if err != nil {
		return region.Region{}, fmt.Errorf("resolve document: %w", err)
	}
	img, err := c.deps.Renderer.RenderPage(ctx, path, page, c.cfg.RenderDPI)
	if err != nil {
		c.markError(ctx, docID, page, err)
		return region.Region{}, fmt.Errorf("render page %d: %w", page, err)
	}
	b := img.Bounds()
	m := geometry.NewMapper(float64(b.Dx()), float64(b.Dy()), sel.DisplayWidth, sel.DisplayHeight)
	r, err := region.FromSelection(m, docID, page, sel.StartX, sel.StartY, sel.EndX, sel.EndY, sel.Type)
	if err != nil {
		return region.Region{}, err
	}
	if err := c.deps.Regions.Save(ctx, r); err != nil {
		return region.Region{}, fmt.Errorf("persist region: %w", err)
	}
	if err := c.deps.Regions.AppendCorrection(ctx, region.NewCorrection(r.ID, region.CorrectionCreate, geometry.Rect{}, r.Coordinates, c.cfg.User)); err != nil {
		log.Warn().Err(err).Str("region", r.ID).Msg("failed to record create correction")
	}
	return r, nil
}

// UpdateRegion applies a manual edit (move, resize, retype) and records it in
// the audit trail.
func (c *Controller) UpdateRegion(ctx context.Context, updated region.Region, ct region.CorrectionType) (region.Region, error) {
	orig, err := c.deps.Regions.Get(ctx, updated.ID)
	if err != nil {
		return region.Region{}, err
	}
	if !updated.Valid() {
		return region.Region{}, fmt.Errorf("region %s: zero-size coordinates", updated.ID)
	}
	updated.DocumentID = orig.DocumentID
	updated.Page = orig.Page
	updated.CreatedAt = orig.CreatedAt
	if err := c.deps.Regions.Save(ctx, updated); err != nil {
		return region.Region{}, fmt.Errorf("persist region: %w", err)
	}
	if err := c.deps.Regions.AppendCorrection(ctx, region.NewCorrection(updated.ID, ct, orig.Coordinates, updated.Coordinates, c.cfg.User)); err != nil {
		log.Warn().Err(err).Str("region", updated.ID).Msg("failed to record correction")
	}
	return updated, nil
}

// DeleteRegion removes a region. Deleting a region that no longer exists is
// a no-op success: the operator's intent is already satisfied.
func (c *Controller) DeleteRegion(ctx context.Context, regionID string) error {
	orig, err := c.deps.Regions.Get(ctx, regionID)
	if errors.Is(err, region.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := c.deps.Regions.Delete(ctx, regionID); err != nil {
		return fmt.Errorf("delete region: %w", err)
	}
	if err := c.deps.Regions.AppendCorrection(ctx, region.NewCorrection(regionID, region.CorrectionDelete, orig.Coordinates, geometry.Rect{}, c.cfg.User)); err != nil {
		log.Warn().Err(err).Str("region", regionID).Msg("failed to record delete correction")
	}
	return nil
}

// ProcessResult is the per-region outcome of a processing batch.
type ProcessResult struct {
	RegionID string           `json:"region_id"`
	OCR      ocr.RegionResult `json:"ocr"`
	Parsed   *parser.Question `json:"parsed_question,omitempty"`
}

// ProcessRegions OCRs the named regions sequentially, in the given order.
// The page is rendered once and shared across all crops. A region failure
// marks that region's result failed and the batch continues; only a page
// that cannot be rendered at all aborts and moves the page to error.
func (c *Controller) ProcessRegions(ctx context.Context, docID string, page int, regionIDs []string) ([]ProcessResult, error) {
	if err := c.touch(ctx, docID, page); err != nil {
		return nil, err
	}
	path, err := c.deps.Documents.LocalPath(ctx, docID)
	if err != nil {
		c.markError(ctx, docID, page, err)
		return nil, fmt.Errorf("resolve document: %w", err)
	}
	pageImg, err := c.deps.Renderer.RenderPage(ctx, path, page, c.cfg.RenderDPI)
	if err != nil {
		c.markError(ctx, docID, page, err)
		return nil, fmt.Errorf("render page %d: %w", page, err)
	}

	results := make([]ProcessResult, 0, len(regionIDs))
	for i, id := range regionIDs {
		if i > 0 && c.cfg.InterRequestDelay > 0 {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(c.cfg.InterRequestDelay):
			}
		}
		results = append(results, c.processOne(ctx, pageImg, docID, page, id))
	}
	return results, nil
}

func (c *Controller) processOne(ctx context.Context, pageImg image.Image, docID string, page int, regionID string) ProcessResult {
	res := ProcessResult{RegionID: regionID}
	r, err := c.deps.Regions.Get(ctx, regionID)
	if err != nil {
		res.OCR = ocr.RegionResult{Success: false, FailureReason: err.Error()}
		metrics.IncRegion("failed", "unknown")
		return res
	}

	crop, err := pageimage.Crop(pageImg,
		int(math.Round(r.Coordinates.X)), int(math.Round(r.Coordinates.Y)),
		int(math.Round(r.Coordinates.Width)), int(math.Round(r.Coordinates.Height)))
	if err != nil {
		res.OCR = ocr.RegionResult{Success: false, FailureReason: fmt.Sprintf("crop: %v", err)}
		metrics.IncRegion("failed", string(r.Source))
		return res
	}

	pre := c.deps.Preprocess.Run(crop, c.cfg.RenderDPI)
	stages := make([]string, 0, len(pre.Applied))
	for _, s := range pre.Applied {
		stages = append(stages, string(s))
		metrics.IncStage(string(s))
	}

	png, err := pageimage.EncodePNG(pre.Image)
	if err != nil {
		res.OCR = ocr.RegionResult{Success: false, Stages: stages, FailureReason: fmt.Sprintf("encode: %v", err)}
		metrics.IncRegion("failed", string(r.Source))
		return res
	}

	res.OCR = c.deps.OCR.Recognize(ctx, png, stages)
	if !res.OCR.Success {
		metrics.IncRegion("failed", string(r.Source))
		log.Warn().Str("doc", docID).Int("page", page).Str("region", regionID).
			Str("reason", res.OCR.FailureReason).Msg("region OCR failed")
		return res
	}
	metrics.IncRegion("success", string(r.Source))

	parsed := parser.Parse(res.OCR.Text)
	res.Parsed = &parsed
	switch {
	case len(parsed.Options) > 0 && !parsed.NeedsReview:
		metrics.IncParse("options_found")
	case len(parsed.Options) > 0:
		metrics.IncParse("ambiguous")
	default:
		metrics.IncParse("stem_only")
	}

	r.TextPreview = preview(res.OCR.Text)
	r.NeedsReview = parsed.NeedsReview
	if err := c.deps.Regions.Save(ctx, r); err != nil {
		log.Warn().Err(err).Str("region", regionID).Msg("failed to persist text preview")
	}
	return res
}

func preview(text string) string {
	t := strings.Join(strings.Fields(text), " ")
	if len(t) > 120 {
		t = t[:120]
	}
	return t
}

// SaveQuestions persists questions for a page. Questions with empty text are
// rejected individually; valid siblings in the same call still save.
func (c *Controller) SaveQuestions(ctx context.Context, docID string, page int, qs []ExtractedQuestion) (saved []ExtractedQuestion, rejected []ExtractedQuestion, err error) {
	if err := c.touch(ctx, docID, page); err != nil {
		return nil, nil, err
	}
	valid := make([]ExtractedQuestion, 0, len(qs))
	for _, q := range qs {
		q.DocumentID = docID
		q.Page = page
		if !q.Valid() {
			rejected = append(rejected, q)
			continue
		}
		if q.ID == "" {
			q = QuestionFromParse(docID, page, q.RegionID, parser.Question{
				Stem: q.Text, Options: q.Options, Confidence: q.Confidence, NeedsReview: q.NeedsReview,
			})
		}
		valid = append(valid, q)
	}
	if len(valid) > 0 {
		if err := c.deps.Questions.Save(ctx, valid); err != nil {
			return nil, rejected, fmt.Errorf("save questions: %w", err)
		}
		for range valid {
			metrics.IncQuestionSaved()
		}
		if c.deps.Exporter != nil {
			if loc, xerr := c.deps.Exporter.ExportQuestions(ctx, docID, page, valid); xerr != nil {
				log.Warn().Err(xerr).Str("doc", docID).Int("page", page).Msg("question export failed")
			} else {
				log.Debug().Str("location", loc).Msg("questions exported")
			}
		}
	}
	return valid, rejected, nil
}

// MarkPageStatus moves a page to the target status. Invalid transitions are
// rejected with the current status unchanged. pending_unsupported requires a
// comment and queues the page for specialist review.
func (c *Controller) MarkPageStatus(ctx context.Context, docID string, page int, target PageStatus, comment string) (PageStatus, error) {
	cur, err := c.deps.Statuses.Get(ctx, docID, page)
	if err != nil {
		return "", fmt.Errorf("load page status: %w", err)
	}
	if target == StatusPendingUnsupported && strings.TrimSpace(comment) == "" {
		return cur, ErrCommentRequired
	}
	next, err := Transition(cur, target)
	if err != nil {
		return cur, err
	}
	if target == StatusCompleted {
		n, cerr := c.deps.Questions.Count(ctx, docID, page)
		if cerr != nil {
			return cur, fmt.Errorf("count saved questions: %w", cerr)
		}
		if n == 0 && strings.TrimSpace(comment) == "" {
			return cur, fmt.Errorf("page %d has no saved questions; save questions or confirm with a comment", page)
		}
	}
	if target == StatusPendingUnsupported && c.deps.Queue != nil {
		task := UnsupportedPage{DocumentID: docID, Page: page, Comment: strings.TrimSpace(comment), QueuedAt: time.Now().UTC()}
		if qerr := c.deps.Queue.Enqueue(ctx, task); qerr != nil {
			return cur, fmt.Errorf("queue specialist review: %w", qerr)
		}
	}
	if err := c.deps.Statuses.Set(ctx, docID, page, next); err != nil {
		return cur, fmt.Errorf("update page status: %w", err)
	}
	metrics.IncTransition(string(next))
	log.Info().Str("doc", docID).Int("page", page).Str("from", string(cur)).Str("to", string(next)).Msg("page status changed")
	return next, nil
}

// DocumentSummary recomputes the document-level roll-up from per-page
// statuses. Pages never touched count as pending.
func (c *Controller) DocumentSummary(ctx context.Context, docID string) (Summary, error) {
	total, err := c.deps.Documents.PageCount(ctx, docID)
	if err != nil {
		return Summary{}, fmt.Errorf("page count: %w", err)
	}
	byPage, err := c.deps.Statuses.All(ctx, docID)
	if err != nil {
		return Summary{}, fmt.Errorf("load statuses: %w", err)
	}
	statuses := make([]PageStatus, 0, total)
	for p := 1; p <= total; p++ {
		if s, ok := byPage[p]; ok {
			statuses = append(statuses, s)
		} else {
			statuses = append(statuses, StatusPending)
		}
	}
	return Summarize(statuses), nil
}

// Regions lists the current regions of a page.
func (c *Controller) Regions(ctx context.Context, docID string, page int) ([]region.Region, error) {
	return c.deps.Regions.List(ctx, docID, page)
}

// Corrections returns the full edit history of a region, oldest first. The
// history survives the region's deletion.
func (c *Controller) Corrections(ctx context.Context, regionID string) ([]region.Correction, error) {
	return c.deps.Regions.Corrections(ctx, regionID)
}

const (
	previewDPI         = 96
	previewJPEGQuality = 75
)

// PagePreview renders a low-resolution JPEG of a page for the dashboard.
// Previews are reads; they never move the page into review.
func (c *Controller) PagePreview(ctx context.Context, docID string, page int) ([]byte, error) {
	path, err := c.deps.Documents.LocalPath(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("resolve document: %w", err)
	}
	img, err := c.deps.Renderer.RenderPage(ctx, path, page, previewDPI)
	if err != nil {
		return nil, fmt.Errorf("render page %d: %w", page, err)
	}
	return pageimage.EncodeJPEG(img, previewJPEGQuality)
}

// Questions lists the saved questions of a page.
func (c *Controller) Questions(ctx context.Context, docID string, page int) ([]ExtractedQuestion, error) {
	return c.deps.Questions.List(ctx, docID, page)
}
