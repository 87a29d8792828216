package pageimage

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"sync"

	"github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog/log"
)

// Renderer renders PDF pages to in-memory images with a per-page cache, so a
// page reviewed region-by-region is rasterized once, not once per region.
type Renderer struct {
	mu         sync.Mutex
	cache      map[string]image.Image
	maxEntries int
}

// NewRenderer creates a renderer caching up to maxEntries rendered pages.
func NewRenderer(maxEntries int) *Renderer {
	if maxEntries <= 0 {
		maxEntries = 8
	}
	return &Renderer{cache: make(map[string]image.Image), maxEntries: maxEntries}
}

// RenderPage renders one page of the PDF at the given DPI as grayscale.
// Page numbers are 1-based.
func (r *Renderer) RenderPage(ctx context.Context, pdfPath string, page, dpi int) (image.Image, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	key := fmt.Sprintf("%s:%d:%d", pdfPath, page, dpi)
	r.mu.Lock()
	if img, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return img, nil
	}
	r.mu.Unlock()

	doc, err := fitz.New(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	if page < 1 || page > doc.NumPage() {
		return nil, fmt.Errorf("page %d out of range (document has %d pages)", page, doc.NumPage())
	}

	// go-fitz uses 0-based indexing
	rendered, err := doc.ImageDPI(page-1, float64(dpi))
	if err != nil {
		return nil, fmt.Errorf("failed to render page %d: %w", page, err)
	}

	bounds := rendered.Bounds()
	gray := image.NewGray(bounds)
	draw.Draw(gray, bounds, rendered, image.Point{}, draw.Src)

	log.Debug().
		Int("page", page).
		Int("dpi", dpi).
		Int("width", bounds.Dx()).
		Int("height", bounds.Dy()).
		Msg("rendered page to grayscale")

	r.mu.Lock()
	if len(r.cache) >= r.maxEntries {
		// full rebuild beats LRU bookkeeping at this cache size
		r.cache = make(map[string]image.Image)
	}
	r.cache[key] = gray
	r.mu.Unlock()

	return gray, nil
}

// Invalidate drops all cached renders for a document path.
func (r *Renderer) Invalidate(pdfPath string) {
	prefix := pdfPath + ":"
	r.mu.Lock()
	for k := range r.cache {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			delete(r.cache, k)
		}
	}
	r.mu.Unlock()
}

// Crop returns the sub-image covered by the pixel rectangle, clamped to the
// image bounds.
func Crop(img image.Image, x, y, w, h int) (image.Image, error) {
	rect := image.Rect(x, y, x+w, y+h).Intersect(img.Bounds())
	if rect.Empty() {
		return nil, fmt.Errorf("region (%d,%d %dx%d) outside page bounds %v", x, y, w, h, img.Bounds())
	}
	type subImager interface {
		SubImage(r image.Rectangle) image.Image
	}
	if si, ok := img.(subImager); ok {
		return si.SubImage(rect), nil
	}
	out := image.NewGray(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(out, out.Bounds(), img, rect.Min, draw.Src)
	return out, nil
}

// EncodePNG serializes an image as PNG bytes for the OCR engines.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeJPEG serializes an image as JPEG bytes for dashboard previews.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeToBase64 converts binary data to base64 string
func EncodeToBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeFromBase64 converts base64 string back to binary data
func DecodeFromBase64(b64 string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(b64)
}
