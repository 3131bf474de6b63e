// Package server exposes the HTTP API over the fetch engine: catalog
// listing, series detail, chapter reader pages and a health probe.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mangatek/kumo/internal/extract"
	"github.com/mangatek/kumo/internal/fetch"
	"github.com/mangatek/kumo/internal/logger"
)

// Fetcher is the slice of the engine the handlers need.
type Fetcher interface {
	Fetch(ctx context.Context, req fetch.Request) (fetch.Result, error)
}

// Config controls the HTTP server.
type Config struct {
	Addr          string // listen address
	BaseHost      string // primary upstream host, used to compose page URLs
	RatePerMinute int    // per-client request budget; 0 disables limiting
}

// Server routes API requests onto the fetch engine.
type Server struct {
	cfg     Config
	engine  Fetcher
	mux     *http.ServeMux
	limiter *clientLimiter
}

// New wires handlers onto an HTTP mux.
func New(cfg Config, engine Fetcher) *Server {
	s := &Server{
		cfg:    cfg,
		engine: engine,
	}
	if cfg.RatePerMinute > 0 {
		s.limiter = newClientLimiter(cfg.RatePerMinute)
	}
	s.mux = http.NewServeMux()
	s.routes()
	return s
}

// ServeHTTP satisfies the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.allow(clientIP(r)) {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"detail": "rate limit exceeded",
		})
		return
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/manga-list", s.handleMangaList)
	s.mux.HandleFunc("/manga/", s.handleMangaDetail)
	s.mux.HandleFunc("/reader/from-url", s.handleReaderFromURL)
	s.mux.HandleFunc("/reader/", s.handleReader)
	s.mux.HandleFunc("/healthz", s.handleHealth)
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) baseURL() string {
	return "https://" + s.cfg.BaseHost
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleMangaList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	sort := r.URL.Query().Get("sort")
	if sort == "" {
		sort = "views"
	}
	page := 1
	if p := r.URL.Query().Get("page"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "page must be a positive integer")
			return
		}
		page = n
	}

	target := fmt.Sprintf("%s/manga-list?sort=%s", s.baseURL(), url.QueryEscape(sort))
	if page > 1 {
		target += fmt.Sprintf("&page=%d", page)
	}

	res, err := s.fetchPage(w, r, target, false)
	if err != nil {
		return
	}

	list, err := extract.MangaListPage(res.HTML, s.baseURL(), page)
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to parse listing page")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleMangaDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	slug := strings.Trim(strings.TrimPrefix(r.URL.Path, "/manga/"), "/")
	if slug == "" || strings.Contains(slug, "/") {
		http.NotFound(w, r)
		return
	}

	res, err := s.fetchPage(w, r, s.baseURL()+"/manga/"+url.PathEscape(slug), false)
	if err != nil {
		return
	}

	detail, err := extract.MangaDetailPage(res.HTML, s.baseURL(), slug)
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to parse detail page")
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleReader(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/reader/"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	chapter, err := strconv.Atoi(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, "chapter must be an integer")
		return
	}

	s.serveChapter(w, r, parts[0], chapter)
}

func (s *Server) handleReaderFromURL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	raw := r.URL.Query().Get("url")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "url parameter is required")
		return
	}

	// Only the configured site may be proxied through this endpoint.
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		if !strings.Contains(u.Hostname(), s.cfg.BaseHost) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("only %s URLs allowed", s.cfg.BaseHost))
			return
		}
	}

	slug, chapter, err := extract.ReaderRef(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not extract slug/chapter from URL")
		return
	}

	s.serveChapter(w, r, slug, chapter)
}

func (s *Server) serveChapter(w http.ResponseWriter, r *http.Request, slug string, chapter int) {
	debug := r.URL.Query().Get("debug") == "true" || r.URL.Query().Get("debug") == "1"

	target := fmt.Sprintf("%s/reader/%s/%d", s.baseURL(), url.PathEscape(slug), chapter)
	res, err := s.fetchPage(w, r, target, debug)
	if err != nil {
		return
	}

	images, err := extract.ChapterImages(res.HTML, s.baseURL())
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to parse reader page")
		return
	}

	payload := map[string]any{
		"slug":    slug,
		"chapter": chapter,
		"images":  images,
	}
	if len(images) == 0 {
		payload["note"] = "no images found; page may be JS-rendered or blocked"
	}
	if debug {
		payload["strategy"] = res.Strategy
		payload["cached"] = res.Cached
	}
	writeJSON(w, http.StatusOK, payload)
}

// fetchPage runs one engine fetch and translates failures into HTTP
// responses. A non-nil error means the response has already been written.
func (s *Server) fetchPage(w http.ResponseWriter, r *http.Request, target string, debug bool) (fetch.Result, error) {
	res, err := s.engine.Fetch(r.Context(), fetch.Request{URL: target, Debug: debug})
	if err == nil {
		return res, nil
	}

	logger.Warn("upstream fetch failed", "url", target, "error", err)

	switch {
	case errors.Is(err, fetch.ErrMalformedURL), errors.Is(err, fetch.ErrDisallowedHost):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		status := http.StatusBadGateway
		if errors.Is(err, fetch.ErrTimeout) {
			status = http.StatusGatewayTimeout
		}
		payload := map[string]any{"detail": "failed to fetch source"}
		var fe *fetch.Error
		if errors.As(err, &fe) {
			payload["kind"] = fe.Kind
			payload["attempts"] = fe.Attempts
			if debug && fe.Snippet != "" {
				payload["snippet"] = fe.Snippet
			}
		}
		writeJSON(w, status, payload)
	}
	return fetch.Result{}, err
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]any{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write response", "error", err)
	}
}
