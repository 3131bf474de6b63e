package fetch

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	http "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"

	"github.com/mangatek/kumo/internal/identity"
	"github.com/mangatek/kumo/internal/logger"
)

// ErrSolverClosed indicates a dispatch after the solver pool shut down.
var ErrSolverClosed = errors.New("challenge solver closed")

// SolverConfig controls the challenge-solving strategy.
type SolverConfig struct {
	PoolSize     int   // dedicated blocking workers
	MaxBodyBytes int64 // response body cap
}

// DefaultSolverConfig returns sensible defaults.
func DefaultSolverConfig() SolverConfig {
	return SolverConfig{PoolSize: 2, MaxBodyBytes: 5 * 1024 * 1024}
}

// SolverFetcher is the challenge-solving strategy: a TLS-fingerprinting HTTP
// client that presents a real browser's TLS and header ordering, which clears
// common bot-challenge handshakes without full rendering. The underlying
// client is blocking, so attempts run on a dedicated bounded worker pool and
// callers only ever await a dispatch handle.
type SolverFetcher struct {
	cfg  SolverConfig
	jobs chan solverJob
	done chan struct{}
}

type solverJob struct {
	ctx     context.Context
	url     string
	id      identity.Identity
	timeout time.Duration
	reply   chan solverReply
}

type solverReply struct {
	raw Raw
	err error
}

// NewSolverFetcher starts the worker pool.
func NewSolverFetcher(cfg SolverConfig) *SolverFetcher {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultSolverConfig().PoolSize
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultSolverConfig().MaxBodyBytes
	}
	f := &SolverFetcher{
		cfg:  cfg,
		jobs: make(chan solverJob),
		done: make(chan struct{}),
	}
	for i := 0; i < cfg.PoolSize; i++ {
		go f.worker()
	}
	return f
}

// Attempt dispatches one solve to the worker pool and awaits the result or
// cancellation. The caller never blocks on the solve itself.
func (f *SolverFetcher) Attempt(ctx context.Context, targetURL string, id identity.Identity, timeout time.Duration) (Raw, error) {
	job := solverJob{
		ctx:     ctx,
		url:     targetURL,
		id:      id,
		timeout: timeout,
		reply:   make(chan solverReply, 1),
	}

	select {
	case f.jobs <- job:
	case <-f.done:
		return Raw{}, ErrSolverClosed
	case <-ctx.Done():
		return Raw{}, ctx.Err()
	}

	select {
	case r := <-job.reply:
		return r.raw, r.err
	case <-ctx.Done():
		// The worker finishes in the background; its client is scoped to
		// the attempt and gets discarded with the reply.
		return Raw{}, ctx.Err()
	}
}

func (f *SolverFetcher) worker() {
	for {
		select {
		case job := <-f.jobs:
			raw, err := f.solve(job)
			job.reply <- solverReply{raw: raw, err: err}
		case <-f.done:
			return
		}
	}
}

// solve performs the blocking request with a per-attempt client.
func (f *SolverFetcher) solve(job solverJob) (Raw, error) {
	if err := job.ctx.Err(); err != nil {
		return Raw{}, err
	}

	seconds := int(job.timeout / time.Second)
	if seconds < 1 {
		seconds = 1
	}

	jar := tls_client.NewCookieJar()
	opts := []tls_client.HttpClientOption{
		tls_client.WithTimeoutSeconds(seconds),
		tls_client.WithClientProfile(profiles.Chrome_120),
		tls_client.WithCookieJar(jar),
	}
	if job.id.Proxy != "" {
		opts = append(opts, tls_client.WithProxyUrl(job.id.Proxy))
	}

	client, err := tls_client.NewHttpClient(tls_client.NewNoopLogger(), opts...)
	if err != nil {
		return Raw{}, fmt.Errorf("create solver client: %w", err)
	}

	req, err := http.NewRequest(http.MethodGet, job.url, nil)
	if err != nil {
		return Raw{}, err
	}
	req.Header = f.navigationHeaders(job.id)

	resp, err := client.Do(req)
	if err != nil {
		return Raw{}, err
	}
	defer resp.Body.Close()

	body, err := f.readBody(resp)
	if err != nil {
		return Raw{Status: resp.StatusCode}, err
	}

	logger.Debug("solver attempt complete",
		"url", job.url,
		"status", resp.StatusCode,
		"body_bytes", len(body))

	return Raw{Status: resp.StatusCode, Body: string(body)}, nil
}

// navigationHeaders builds a browser-like navigation header set. Header
// order matters to fingerprinting systems, so it is pinned explicitly.
func (f *SolverFetcher) navigationHeaders(id identity.Identity) http.Header {
	h := http.Header{
		"upgrade-insecure-requests": {"1"},
		"user-agent":                {id.UserAgent},
		"accept":                    {"text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8"},
		"sec-fetch-site":            {"none"},
		"sec-fetch-mode":            {"navigate"},
		"sec-fetch-user":            {"?1"},
		"sec-fetch-dest":            {"document"},
		"accept-encoding":           {"gzip, deflate, br"},
		"accept-language":           {"en-US,en;q=0.9"},
		http.HeaderOrderKey: {
			"upgrade-insecure-requests",
			"user-agent",
			"accept",
			"sec-fetch-site",
			"sec-fetch-mode",
			"sec-fetch-user",
			"sec-fetch-dest",
			"accept-encoding",
			"accept-language",
			"cookie",
		},
		http.PHeaderOrderKey: {":method", ":authority", ":scheme", ":path"},
	}
	for k, v := range id.Headers {
		h.Set(k, v)
	}
	return h
}

// readBody decodes the response body per Content-Encoding and caps its size.
func (f *SolverFetcher) readBody(resp *http.Response) ([]byte, error) {
	reader := io.Reader(resp.Body)

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		defer gz.Close()
		reader = gz
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		defer fl.Close()
		reader = fl
	}

	body, err := io.ReadAll(io.LimitReader(reader, f.cfg.MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// Strategy identifies this executor.
func (f *SolverFetcher) Strategy() Strategy {
	return StrategySolver
}

// Close stops the worker pool.
func (f *SolverFetcher) Close() error {
	select {
	case <-f.done:
	default:
		close(f.done)
	}
	return nil
}
