// Package fetch implements the resilient fetch engine: a layered set of
// acquisition strategies (lightweight HTTP, browser rendering, challenge
// solving) sequenced by an orchestrator with retry, backoff, identity
// rotation, caching and domain failover.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mangatek/kumo/internal/identity"
)

// Strategy identifies one acquisition technique.
type Strategy string

const (
	StrategyLightweight Strategy = "lightweight"
	StrategyRendering   Strategy = "rendering"
	StrategySolver      Strategy = "solver"
)

// ErrorKind classifies an upstream-facing failure.
type ErrorKind string

const (
	KindTimeout       ErrorKind = "timeout"
	KindBlocked       ErrorKind = "blocked"
	KindUpstreamError ErrorKind = "upstream_error"
	KindNetworkError  ErrorKind = "network_error"
	KindEmptyResponse ErrorKind = "empty_response"
	KindExhausted     ErrorKind = "all_strategies_exhausted"
)

// Sentinel errors for each failure kind. Check with errors.Is.
var (
	ErrTimeout       = errors.New("fetch timed out")
	ErrBlocked       = errors.New("blocked by upstream")
	ErrUpstream      = errors.New("upstream server error")
	ErrNetwork       = errors.New("network error")
	ErrEmptyResponse = errors.New("empty or suspicious response body")
	ErrExhausted     = errors.New("all fetch strategies exhausted")
)

// Defect-class errors: caller-contract violations that are never retried.
var (
	ErrMalformedURL   = errors.New("malformed target URL")
	ErrDisallowedHost = errors.New("target host not allowed")
)

// Request describes one fetch. It is immutable for the duration of the call.
type Request struct {
	URL        string
	Key        string        // normalized cache key; derived from URL when empty
	Timeout    time.Duration // overall budget; engine default when zero
	Strategies []Strategy    // optional restriction of the strategy set
	Debug      bool          // attach a bounded HTML snippet to failures
}

// Attempt records one strategy invocation, in execution order.
type Attempt struct {
	Strategy Strategy `json:"strategy"`
	Host     string   `json:"host"`
	Status   int      `json:"status,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Result is the success payload of a fetch.
type Result struct {
	HTML     string
	Strategy Strategy
	BaseHost string
	Cached   bool
}

// Error is the classified failure of a fetch. Attempts lists every strategy
// actually attempted, never empty for upstream failures.
type Error struct {
	Kind     ErrorKind `json:"kind"`
	Detail   string    `json:"detail"`
	Attempts []Attempt `json:"attempts"`
	Snippet  string    `json:"snippet,omitempty"` // bounded raw HTML excerpt, debug mode only
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch failed (%s): %s [%d attempts]", e.Kind, e.Detail, len(e.Attempts))
}

// Unwrap maps the kind back to its sentinel so errors.Is keeps working
// across the package boundary.
func (e *Error) Unwrap() error {
	switch e.Kind {
	case KindTimeout:
		return ErrTimeout
	case KindBlocked:
		return ErrBlocked
	case KindUpstreamError:
		return ErrUpstream
	case KindNetworkError:
		return ErrNetwork
	case KindEmptyResponse:
		return ErrEmptyResponse
	case KindExhausted:
		return ErrExhausted
	}
	return nil
}

// Raw is an uninterpreted strategy outcome. Executors report transport
// results verbatim; classification is the orchestrator's job.
type Raw struct {
	Status int
	Body   string
}

// Executor is one acquisition strategy.
type Executor interface {
	// Attempt fetches url once using the supplied identity, bounded by timeout.
	Attempt(ctx context.Context, url string, id identity.Identity, timeout time.Duration) (Raw, error)

	// Strategy identifies the executor in attempt logs and results.
	Strategy() Strategy

	// Close releases any resources (browser instances, clients).
	Close() error
}

// snippetLimit bounds the debug HTML excerpt attached to failures.
const snippetLimit = 512

func snippet(body string) string {
	body = strings.TrimSpace(body)
	if len(body) > snippetLimit {
		return body[:snippetLimit]
	}
	return body
}
