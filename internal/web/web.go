package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Web is the operator dashboard: register exam papers, watch review
// progress, and jump into a page. It talks to the API of its own process.
type Web struct {
	tpl      *template.Template
	username string
	password string
	port     string
}

// New builds the dashboard. addr is the HTTP listen address the API is
// served on; the dashboard proxies to it over loopback.
func New(addr string) *Web {
	tpl := template.Must(template.ParseGlob(filepath.Join("web", "templates", "*.html")))
	port := "8080"
	if i := strings.LastIndex(addr, ":"); i >= 0 && i+1 < len(addr) {
		port = addr[i+1:]
	}
	return &Web{
		tpl:      tpl,
		username: os.Getenv("WEB_USERNAME"),
		password: os.Getenv("WEB_PASSWORD"),
		port:     port,
	}
}

func (w *Web) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/web/login", w.handleLogin)
	mux.HandleFunc("/web/logout", w.handleLogout)
	mux.HandleFunc("/web/", w.requireAuth(w.handleDashboard))
	mux.HandleFunc("/web/dashboard", w.requireAuth(w.handleDashboard))
	mux.HandleFunc("/web/register", w.requireAuth(w.handleRegister))
	mux.HandleFunc("/web/summary/", w.requireAuth(w.handleSummary))
	mux.HandleFunc("/web/preview", w.requireAuth(w.handlePreview))
	mux.HandleFunc("/web/status", w.requireAuth(w.handleStatus))
}

func (w *Web) render(wr http.ResponseWriter, name string, data any) {
	_ = w.tpl.ExecuteTemplate(wr, name, data)
}

func (w *Web) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(wr http.ResponseWriter, r *http.Request) {
		if w.username == "" || w.password == "" {
			http.Error(wr, "WEB_USERNAME/WEB_PASSWORD not set", http.StatusForbidden)
			return
		}
		c, err := r.Cookie("auth")
		if err != nil || c.Value != "1" {
			http.Redirect(wr, r, "/web/login", http.StatusSeeOther)
			return
		}
		next(wr, r)
	}
}

func (w *Web) handleLogin(wr http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		w.render(wr, "login.html", map[string]any{"Error": r.URL.Query().Get("error")})
	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			http.Redirect(wr, r, "/web/login?error=invalid+form", http.StatusSeeOther)
			return
		}
		if r.Form.Get("username") == w.username && r.Form.Get("password") == w.password {
			http.SetCookie(wr, &http.Cookie{Name: "auth", Value: "1", Path: "/", HttpOnly: true})
			http.Redirect(wr, r, "/web/dashboard", http.StatusSeeOther)
			return
		}
		http.Redirect(wr, r, "/web/login?error=invalid+credentials", http.StatusSeeOther)
	default:
		wr.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (w *Web) handleLogout(wr http.ResponseWriter, r *http.Request) {
	http.SetCookie(wr, &http.Cookie{Name: "auth", Value: "", Path: "/", MaxAge: -1})
	http.Redirect(wr, r, "/web/login", http.StatusSeeOther)
}

func (w *Web) handleDashboard(wr http.ResponseWriter, r *http.Request) {
	w.render(wr, "dashboard.html", map[string]any{
		"Username": w.username,
	})
}

// handleRegister proxies the dashboard form to the document registration API.
func (w *Web) handleRegister(wr http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		wr.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(wr, "invalid form", 400)
		return
	}
	body := map[string]any{
		"document_id": r.Form.Get("document_id"),
		"ref":         r.Form.Get("ref"),
	}
	b, _ := json.Marshal(body)
	url := fmt.Sprintf("http://127.0.0.1:%s/api/documents", w.port)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		http.Error(wr, "request failed", 500)
		return
	}
	defer resp.Body.Close()
	wr.Header().Set("Content-Type", "application/json")
	wr.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(wr, resp.Body)
}

// handleSummary proxies the per-document review progress roll-up.
func (w *Web) handleSummary(wr http.ResponseWriter, r *http.Request) {
	docID := strings.TrimPrefix(r.URL.Path, "/web/summary/")
	url := fmt.Sprintf("http://127.0.0.1:%s/api/summary/%s", w.port, docID)
	resp, err := http.Get(url)
	if err != nil {
		http.Error(wr, "summary failed", 500)
		return
	}
	defer resp.Body.Close()
	wr.Header().Set("Content-Type", "application/json")
	wr.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(wr, resp.Body)
}

// handlePreview proxies rendered page previews into the dashboard viewer.
func (w *Web) handlePreview(wr http.ResponseWriter, r *http.Request) {
	url := fmt.Sprintf("http://127.0.0.1:%s/api/page_preview?%s", w.port, r.URL.RawQuery)
	resp, err := http.Get(url)
	if err != nil {
		http.Error(wr, "preview failed", 500)
		return
	}
	defer resp.Body.Close()
	wr.Header().Set("Content-Type", resp.Header.Get("Content-Type"))
	wr.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(wr, resp.Body)
}

// handleStatus proxies the subsystem health snapshot.
func (w *Web) handleStatus(wr http.ResponseWriter, r *http.Request) {
	url := fmt.Sprintf("http://127.0.0.1:%s/status", w.port)
	resp, err := http.Get(url)
	if err != nil {
		http.Error(wr, "status failed", 500)
		return
	}
	defer resp.Body.Close()
	wr.Header().Set("Content-Type", "application/json")
	_, _ = io.Copy(wr, resp.Body)
}
