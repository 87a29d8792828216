package document

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog/log"

	"github.com/local/examextract/internal/filetype"
	"github.com/local/examextract/internal/storage"
)

// Archive downloads encrypted exam papers from object storage.
type Archive interface {
	DownloadFile(ctx context.Context, key, password string) ([]byte, *storage.FileMetadata, error)
}

// RenderCache drops cached page renders when a document's backing file is
// replaced.
type RenderCache interface {
	Invalidate(path string)
}

// Manager resolves document ids to local files and exposes page counts.
// PDFs and single-page scan images are accepted; anything else is rejected
// at registration. Supported refs:
// - file://path or absolute/relative filesystem paths
// - http(s):// URLs (downloads to temp)
// - s3://key (downloads and decrypts via the archive client)
type Manager struct {
	archive  Archive
	password string
	detector *filetype.Detector
	cache    RenderCache

	mu   sync.Mutex
	docs map[string]*entry
}

type entry struct {
	ref       string
	localPath string
	pages     int
	temp      bool
}

// NewManager builds a manager. The archive client may be nil when only
// file/http refs are used; password is the archive decryption password.
func NewManager(archive Archive, password string) *Manager {
	return &Manager{
		archive:  archive,
		password: password,
		detector: filetype.New(),
		docs:     make(map[string]*entry),
	}
}

// SetRenderCache wires the page-render cache so re-registering a document
// invalidates its stale renders.
func (m *Manager) SetRenderCache(c RenderCache) {
	m.cache = c
}

// Register binds a document id to a ref, resolves the file locally, verifies
// the file type and caches the page count. Scan images count as one page.
// Registering an already-known id re-resolves it.
func (m *Manager) Register(ctx context.Context, docID, ref string) (int, error) {
	// Strip optional #page fragment if present
	if i := strings.Index(ref, "#"); i >= 0 {
		ref = ref[:i]
	}

	localPath, temp, err := m.resolve(ctx, ref)
	if err != nil {
		return 0, err
	}

	info, err := m.detector.Detect(localPath)
	if err != nil {
		if temp {
			os.Remove(localPath)
		}
		return 0, err
	}
	if !info.Supported {
		if temp {
			os.Remove(localPath)
		}
		return 0, fmt.Errorf("document %s rejected: %s; only PDF and scan images are accepted", docID, info.Description)
	}

	// A scan image is a single page; the renderer opens it directly.
	n := 1
	if info.IsPDF {
		n, err = api.PageCountFile(localPath)
		if err != nil {
			if temp {
				os.Remove(localPath)
			}
			return 0, fmt.Errorf("pdf page count failed: %w", err)
		}
	}

	m.mu.Lock()
	if old, ok := m.docs[docID]; ok {
		if m.cache != nil {
			m.cache.Invalidate(old.localPath)
		}
		if old.temp && old.localPath != localPath {
			os.Remove(old.localPath)
		}
	}
	m.docs[docID] = &entry{ref: ref, localPath: localPath, pages: n, temp: temp}
	m.mu.Unlock()

	log.Info().Str("doc", docID).Str("ref", ref).Int("pages", n).Msg("registered document")
	return n, nil
}

// LocalPath returns the local PDF path for a registered document. An
// unregistered id is treated as a ref and registered on the fly.
func (m *Manager) LocalPath(ctx context.Context, docID string) (string, error) {
	m.mu.Lock()
	e, ok := m.docs[docID]
	m.mu.Unlock()
	if ok {
		return e.localPath, nil
	}
	if _, err := m.Register(ctx, docID, docID); err != nil {
		return "", err
	}
	m.mu.Lock()
	e = m.docs[docID]
	m.mu.Unlock()
	return e.localPath, nil
}

// PageCount returns the number of pages of a registered document.
func (m *Manager) PageCount(ctx context.Context, docID string) (int, error) {
	m.mu.Lock()
	e, ok := m.docs[docID]
	m.mu.Unlock()
	if ok {
		return e.pages, nil
	}
	return m.Register(ctx, docID, docID)
}

// Close removes all downloaded temp files.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.docs {
		if e.temp {
			os.Remove(e.localPath)
		}
		delete(m.docs, id)
	}
}

func (m *Manager) resolve(ctx context.Context, ref string) (path string, temp bool, err error) {
	switch {
	case strings.HasPrefix(ref, "s3://"):
		p, err := m.downloadArchive(ctx, ref)
		return p, true, err
	case strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://"):
		p, err := downloadHTTPToTemp(ctx, ref)
		return p, true, err
	case strings.HasPrefix(ref, "file://"):
		return strings.TrimPrefix(ref, "file://"), false, nil
	default:
		// treat as filesystem path
		return ref, false, nil
	}
}

func (m *Manager) downloadArchive(ctx context.Context, s3url string) (string, error) {
	if m.archive == nil {
		return "", fmt.Errorf("no archive client configured for %s", s3url)
	}
	// s3://key (bucket is fixed by the archive client); tolerate s3://bucket/key
	key := strings.TrimPrefix(s3url, "s3://")
	if slash := strings.Index(key, "/"); slash > 0 {
		key = key[slash+1:]
	}
	data, meta, err := m.archive.DownloadFile(ctx, key, m.password)
	if err != nil {
		return "", err
	}

	f, err := os.CreateTemp("", "exampdf-*.pdf")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	log.Debug().Str("key", key).Str("name", meta.OriginalName).Int("size", len(data)).Msg("downloaded exam paper to temp")
	return f.Name(), nil
}

func downloadHTTPToTemp(ctx context.Context, url string) (string, error) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return "", fmt.Errorf("http %d", resp.StatusCode)
	}
	f, err := os.CreateTemp("", "pdfdl-*.pdf")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
