package fetch

import (
	"context"
	"os/exec"
	"time"

	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"

	"github.com/mangatek/kumo/internal/identity"
	"github.com/mangatek/kumo/internal/logger"
)

// RenderConfig controls the browser-rendering strategy.
type RenderConfig struct {
	MaxSessions    int64         // concurrent browser contexts
	QuiescenceWait time.Duration // sub-timeout for document readiness
	CaptureDelay   time.Duration // fallback wait when readiness is not reached
	ChromePath     string        // explicit binary; discovered when empty
}

// DefaultRenderConfig returns sensible defaults.
func DefaultRenderConfig() RenderConfig {
	return RenderConfig{
		MaxSessions:    2,
		QuiescenceWait: 10 * time.Second,
		CaptureDelay:   1500 * time.Millisecond,
	}
}

// RenderFetcher is the rendering strategy: it drives headless Chrome to
// execute page JavaScript and returns the final DOM. Expensive, defeats
// JS-gated content. Every attempt gets an isolated browser context that is
// torn down on all exit paths.
type RenderFetcher struct {
	cfg RenderConfig
	sem *semaphore.Weighted
}

// NewRenderFetcher creates the rendering executor with bounded concurrency.
func NewRenderFetcher(cfg RenderConfig) *RenderFetcher {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultRenderConfig().MaxSessions
	}
	if cfg.QuiescenceWait <= 0 {
		cfg.QuiescenceWait = DefaultRenderConfig().QuiescenceWait
	}
	if cfg.CaptureDelay <= 0 {
		cfg.CaptureDelay = DefaultRenderConfig().CaptureDelay
	}
	if cfg.ChromePath == "" {
		cfg.ChromePath = findChromePath()
	}
	return &RenderFetcher{
		cfg: cfg,
		sem: semaphore.NewWeighted(cfg.MaxSessions),
	}
}

// Attempt renders the page and extracts the fully-resolved document.
func (f *RenderFetcher) Attempt(ctx context.Context, targetURL string, id identity.Identity, timeout time.Duration) (Raw, error) {
	if err := f.sem.Acquire(ctx, 1); err != nil {
		return Raw{}, err
	}
	defer f.sem.Release(1)

	attemptCtx, cancelAttempt := context.WithTimeout(ctx, timeout)
	defer cancelAttempt()

	opts := append(chromedp.DefaultExecAllocatorOptions[:], stealthAllocatorOptions()...)
	opts = append(opts, chromedp.UserAgent(id.UserAgent))
	if id.Proxy != "" {
		opts = append(opts, chromedp.ProxyServer(id.Proxy))
	}
	if f.cfg.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(f.cfg.ChromePath))
	}

	// The allocator and browser context are scoped to this attempt so
	// cancellation and timeouts can never leak a browser.
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(attemptCtx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	var html string
	actions := []chromedp.Action{
		injectStealthScript(),
		chromedp.Navigate(targetURL),
		f.waitForQuiescence(),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}

	if err := chromedp.Run(browserCtx, actions...); err != nil {
		logger.Debug("render attempt failed", "url", targetURL, "error", err)
		return Raw{}, err
	}

	// chromedp does not surface the navigation status code; challenge and
	// emptiness classification happen on the body.
	return Raw{Status: 200, Body: html}, nil
}

// waitForQuiescence polls document.readyState until complete, bounded by the
// quiescence sub-timeout; if readiness is not reached it falls back to a
// fixed capture delay so slow pages still yield whatever has loaded.
func (f *RenderFetcher) waitForQuiescence() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		deadline := time.Now().Add(f.cfg.QuiescenceWait)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()

		for time.Now().Before(deadline) {
			var readyState string
			if err := chromedp.Evaluate(`document.readyState`, &readyState).Do(ctx); err != nil {
				return err
			}
			if readyState == "complete" {
				return nil
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		logger.Debug("document readiness not reached, using capture delay",
			"delay", f.cfg.CaptureDelay)
		return chromedp.Sleep(f.cfg.CaptureDelay).Do(ctx)
	})
}

// Strategy identifies this executor.
func (f *RenderFetcher) Strategy() Strategy {
	return StrategyRendering
}

// Close releases resources. Contexts are per-attempt, nothing is retained.
func (f *RenderFetcher) Close() error {
	return nil
}

// Common Chrome/Chromium binary names across systems.
var chromeBinaryNames = []string{
	"google-chrome-stable",
	"google-chrome",
	"chromium",
	"chromium-browser",
	"chrome",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	"/usr/bin/google-chrome-stable",
	"/usr/bin/chromium",
	"/snap/bin/chromium",
}

// findChromePath searches PATH and common install locations for a Chrome
// binary. Returns empty string when none is found; chromedp then uses its
// own lookup.
func findChromePath() string {
	for _, name := range chromeBinaryNames {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return ""
}
