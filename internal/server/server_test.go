package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mangatek/kumo/internal/fetch"
)

type stubFetcher struct {
	fn func(ctx context.Context, req fetch.Request) (fetch.Result, error)
}

func (s *stubFetcher) Fetch(ctx context.Context, req fetch.Request) (fetch.Result, error) {
	return s.fn(ctx, req)
}

func newTestServer(fn func(ctx context.Context, req fetch.Request) (fetch.Result, error)) *Server {
	return New(Config{BaseHost: "mangatek.com"}, &stubFetcher{fn: fn})
}

func htmlResult(html string) func(context.Context, fetch.Request) (fetch.Result, error) {
	return func(_ context.Context, _ fetch.Request) (fetch.Result, error) {
		return fetch.Result{HTML: html, Strategy: fetch.StrategyLightweight, BaseHost: "mangatek.com"}, nil
	}
}

func doRequest(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return body
}

func TestHealthz(t *testing.T) {
	s := newTestServer(htmlResult(""))

	rec := doRequest(t, s, http.MethodGet, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := decodeBody(t, rec); body["ok"] != true {
		t.Errorf("body = %v", body)
	}
}

func TestHealthz_MethodNotAllowed(t *testing.T) {
	s := newTestServer(htmlResult(""))

	rec := doRequest(t, s, http.MethodPost, "/healthz")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestMangaList(t *testing.T) {
	var fetchedURL string
	s := newTestServer(func(_ context.Context, req fetch.Request) (fetch.Result, error) {
		fetchedURL = req.URL
		return fetch.Result{HTML: `<a class="manga-card" href="/manga/one-piece"><img src="/c.jpg" alt="One Piece"></a>`}, nil
	})

	rec := doRequest(t, s, http.MethodGet, "/manga-list?sort=latest&page=2")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if fetchedURL != "https://mangatek.com/manga-list?sort=latest&page=2" {
		t.Errorf("fetched %q", fetchedURL)
	}

	body := decodeBody(t, rec)
	items := body["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("items = %v", items)
	}
	if items[0].(map[string]any)["slug"] != "one-piece" {
		t.Errorf("item = %v", items[0])
	}
}

func TestMangaList_InvalidPage(t *testing.T) {
	s := newTestServer(htmlResult(""))

	for _, q := range []string{"page=0", "page=abc", "page=-1"} {
		rec := doRequest(t, s, http.MethodGet, "/manga-list?"+q)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, rec.Code)
		}
	}
}

func TestMangaDetail(t *testing.T) {
	s := newTestServer(htmlResult(`<h1>One Piece</h1><a href="/reader/one-piece/5">Ch 5</a>`))

	rec := doRequest(t, s, http.MethodGet, "/manga/one-piece")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["title"] != "One Piece" {
		t.Errorf("title = %v", body["title"])
	}
	if body["slug"] != "one-piece" {
		t.Errorf("slug = %v", body["slug"])
	}
}

func TestMangaDetail_MissingSlug(t *testing.T) {
	s := newTestServer(htmlResult(""))

	rec := doRequest(t, s, http.MethodGet, "/manga/")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestReader(t *testing.T) {
	s := newTestServer(htmlResult(`<div class="reader"><img src="/uploads/op/5/01.jpg"></div>`))

	rec := doRequest(t, s, http.MethodGet, "/reader/one-piece/5")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["slug"] != "one-piece" || body["chapter"] != float64(5) {
		t.Errorf("body = %v", body)
	}
	images := body["images"].([]any)
	if len(images) != 1 || images[0] != "https://mangatek.com/uploads/op/5/01.jpg" {
		t.Errorf("images = %v", images)
	}
	if _, ok := body["note"]; ok {
		t.Error("note should be absent when images were found")
	}
}

func TestReader_NonIntegerChapter(t *testing.T) {
	s := newTestServer(htmlResult(""))

	rec := doRequest(t, s, http.MethodGet, "/reader/one-piece/latest")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestReader_NoImagesCarriesNote(t *testing.T) {
	s := newTestServer(htmlResult(strings.Repeat("<p>no images on this page</p>", 5)))

	rec := doRequest(t, s, http.MethodGet, "/reader/one-piece/5")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["note"] == nil {
		t.Error("expected a note when no images were found")
	}
}

func TestReaderFromURL(t *testing.T) {
	var fetchedURL string
	s := newTestServer(func(_ context.Context, req fetch.Request) (fetch.Result, error) {
		fetchedURL = req.URL
		return fetch.Result{HTML: `<div class="reader"><img src="/uploads/b/7/01.jpg"></div>`}, nil
	})

	rec := doRequest(t, s, http.MethodGet, "/reader/from-url?url=https%3A%2F%2Fmangatek.com%2Freader%2Fbleach%2F7")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if fetchedURL != "https://mangatek.com/reader/bleach/7" {
		t.Errorf("fetched %q", fetchedURL)
	}
	body := decodeBody(t, rec)
	if body["slug"] != "bleach" || body["chapter"] != float64(7) {
		t.Errorf("body = %v", body)
	}
}

func TestReaderFromURL_ForeignHostRejected(t *testing.T) {
	s := newTestServer(htmlResult(""))

	rec := doRequest(t, s, http.MethodGet, "/reader/from-url?url=https%3A%2F%2Fevil.example%2Freader%2Fx%2F1")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestReaderFromURL_UnparsableReference(t *testing.T) {
	s := newTestServer(htmlResult(""))

	rec := doRequest(t, s, http.MethodGet, "/reader/from-url?url=https%3A%2F%2Fmangatek.com%2Fabout")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestUpstreamFailure_ReturnsAttempts(t *testing.T) {
	s := newTestServer(func(_ context.Context, _ fetch.Request) (fetch.Result, error) {
		return fetch.Result{}, &fetch.Error{
			Kind:   fetch.KindBlocked,
			Detail: "blocked everywhere",
			Attempts: []fetch.Attempt{
				{Strategy: fetch.StrategyLightweight, Host: "mangatek.com", Status: 403, Error: "upstream returned 403"},
			},
		}
	})

	rec := doRequest(t, s, http.MethodGet, "/manga-list")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["kind"] != string(fetch.KindBlocked) {
		t.Errorf("kind = %v", body["kind"])
	}
	attempts := body["attempts"].([]any)
	if len(attempts) != 1 {
		t.Errorf("attempts = %v", attempts)
	}
}

func TestUpstreamTimeout_Returns504(t *testing.T) {
	s := newTestServer(func(_ context.Context, _ fetch.Request) (fetch.Result, error) {
		return fetch.Result{}, &fetch.Error{Kind: fetch.KindTimeout, Detail: "budget exhausted"}
	})

	rec := doRequest(t, s, http.MethodGet, "/manga-list")
	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", rec.Code)
	}
}

func TestEngineDefect_Returns400(t *testing.T) {
	s := newTestServer(func(_ context.Context, _ fetch.Request) (fetch.Result, error) {
		return fetch.Result{}, fetch.ErrDisallowedHost
	})

	rec := doRequest(t, s, http.MethodGet, "/manga-list")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestDebugFlag_PropagatesAndExposesSnippet(t *testing.T) {
	s := newTestServer(func(_ context.Context, req fetch.Request) (fetch.Result, error) {
		if !req.Debug {
			return fetch.Result{}, &fetch.Error{Kind: fetch.KindBlocked, Detail: "no debug flag"}
		}
		return fetch.Result{}, &fetch.Error{
			Kind:    fetch.KindBlocked,
			Detail:  "blocked",
			Snippet: "<html>challenge page</html>",
		}
	})

	rec := doRequest(t, s, http.MethodGet, "/reader/one-piece/5?debug=true")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["snippet"] != "<html>challenge page</html>" {
		t.Errorf("snippet = %v", body["snippet"])
	}
}

func TestRateLimit(t *testing.T) {
	s := New(Config{BaseHost: "mangatek.com", RatePerMinute: 2}, &stubFetcher{fn: htmlResult("")})

	for i := 0; i < 2; i++ {
		rec := doRequest(t, s, http.MethodGet, "/healthz")
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, rec.Code)
		}
	}
	rec := doRequest(t, s, http.MethodGet, "/healthz")
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429 after budget exhausted", rec.Code)
	}
}
