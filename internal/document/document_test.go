package document

import (
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writePNG(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, image.NewGray(image.Rect(0, 0, 32, 32))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
}

func TestRegisterScanImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.png")
	writePNG(t, path)

	m := NewManager(nil, "")
	pages, err := m.Register(context.Background(), "doc1", path)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if pages != 1 {
		t.Fatalf("scan image must count as one page, got %d", pages)
	}
	got, err := m.LocalPath(context.Background(), "doc1")
	if err != nil || got != path {
		t.Fatalf("LocalPath = %q, %v", got, err)
	}
}

func TestRegisterRejectsUnsupportedType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("lecture notes, not an exam paper\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	m := NewManager(nil, "")
	if _, err := m.Register(context.Background(), "doc1", path); err == nil {
		t.Fatal("expected rejection for a text file")
	} else if !strings.Contains(err.Error(), "only PDF and scan images") {
		t.Fatalf("rejection must say why: %v", err)
	}
}

type fakeCache struct {
	invalidated []string
}

func (f *fakeCache) Invalidate(path string) { f.invalidated = append(f.invalidated, path) }

func TestReRegisterInvalidatesRenderCache(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "v1.png")
	second := filepath.Join(dir, "v2.png")
	writePNG(t, first)
	writePNG(t, second)

	cache := &fakeCache{}
	m := NewManager(nil, "")
	m.SetRenderCache(cache)

	if _, err := m.Register(context.Background(), "doc1", first); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if len(cache.invalidated) != 0 {
		t.Fatalf("first registration must not invalidate anything: %v", cache.invalidated)
	}
	if _, err := m.Register(context.Background(), "doc1", second); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if len(cache.invalidated) != 1 || cache.invalidated[0] != first {
		t.Fatalf("stale renders not invalidated: %v", cache.invalidated)
	}
}
