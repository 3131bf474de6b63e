package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/mangatek/kumo/internal/cache"
	"github.com/mangatek/kumo/internal/identity"
	"github.com/mangatek/kumo/internal/logger"
)

// Config controls the fetch engine.
type Config struct {
	Hosts         []string      // primary host first, then failover candidates
	AllowedHosts  []string      // hosts the engine may be pointed at; defaults to Hosts
	Timeout       time.Duration // default overall budget per fetch
	PerAttempt    time.Duration // per-attempt timeout; Timeout/4 when zero
	Retries       int           // retries per strategy on retryable failures
	Backoff       Backoff
	CacheTTL      time.Duration
	MinBodyBytes  int   // bodies shorter than this classify as EmptyResponse
	MaxConcurrent int64 // admission control on concurrent upstream fetches
}

// DefaultConfig returns sensible defaults for everything but Hosts.
func DefaultConfig() Config {
	return Config{
		Timeout:       30 * time.Second,
		Retries:       1,
		Backoff:       DefaultBackoff(),
		CacheTTL:      5 * time.Minute,
		MinBodyBytes:  50,
		MaxConcurrent: 8,
	}
}

// cachedPage is the cache payload for a successful fetch.
type cachedPage struct {
	HTML     string
	Strategy Strategy
	Host     string
}

// Engine sequences strategies over failover domains with retry, backoff,
// identity rotation, coalescing and caching. It never surfaces a raw
// transport error: upstream failures come back as *Error, and only
// caller-contract violations (malformed URL, disallowed host) are returned
// as plain defect errors.
type Engine struct {
	cfg       Config
	executors []Executor
	idents    *identity.Pool
	cache     *cache.Cache
	group     singleflight.Group
	sem       *semaphore.Weighted
	sleep     Sleeper
}

// NewEngine assembles the orchestrator from its injected collaborators.
func NewEngine(cfg Config, executors []Executor, idents *identity.Pool, store *cache.Cache) (*Engine, error) {
	if len(cfg.Hosts) == 0 {
		return nil, errors.New("fetch engine requires at least one upstream host")
	}
	if len(executors) == 0 {
		return nil, errors.New("fetch engine requires at least one strategy executor")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.PerAttempt <= 0 {
		cfg.PerAttempt = cfg.Timeout / 4
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = DefaultBackoff()
	}
	if cfg.MinBodyBytes <= 0 {
		cfg.MinBodyBytes = DefaultConfig().MinBodyBytes
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	if len(cfg.AllowedHosts) == 0 {
		cfg.AllowedHosts = cfg.Hosts
	}
	return &Engine{
		cfg:       cfg,
		executors: executors,
		idents:    idents,
		cache:     store,
		sem:       semaphore.NewWeighted(cfg.MaxConcurrent),
		sleep:     RealSleeper,
	}, nil
}

// SetSleeper replaces the backoff sleep function. Test hook.
func (e *Engine) SetSleeper(s Sleeper) {
	e.sleep = s
}

// Fetch resolves one request to a Result or a classified *Error.
func (e *Engine) Fetch(ctx context.Context, req Request) (Result, error) {
	target, err := e.validate(req.URL)
	if err != nil {
		return Result{}, err
	}

	key := req.Key
	if key == "" {
		key = NormalizeKey(req.URL)
	}

	// Cache lookup never touches the network.
	if e.cache != nil {
		if v, ok := e.cache.Get(key); ok {
			page := v.(cachedPage)
			return Result{HTML: page.HTML, Strategy: page.Strategy, BaseHost: page.Host, Cached: true}, nil
		}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.cfg.Timeout
	}

	// Coalesce concurrent callers for the same key onto one upstream fetch.
	// Settings that change what the fetch produces stay in the flight key so
	// a restricted or debug caller never receives another caller's result;
	// the cache key stays normalized so all of them still share the cache.
	ch := e.group.DoChan(flightKey(key, req), func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		return e.fetchUpstream(fetchCtx, req, target, key)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Result{}, res.Err
		}
		return res.Val.(Result), nil
	case <-ctx.Done():
		return Result{}, &Error{
			Kind:     KindTimeout,
			Detail:   ctx.Err().Error(),
			Attempts: []Attempt{{Strategy: "", Host: target.Host, Error: "caller cancelled while awaiting in-flight fetch"}},
		}
	}
}

// flightKey derives the coalescing key from the cache key plus the request
// settings that alter the outcome.
func flightKey(key string, req Request) string {
	if len(req.Strategies) > 0 {
		names := make([]string, len(req.Strategies))
		for i, s := range req.Strategies {
			names[i] = string(s)
		}
		sort.Strings(names)
		key += "|strategies=" + strings.Join(names, ",")
	}
	if req.Debug {
		key += "|debug"
	}
	return key
}

// fetchUpstream runs the domain/strategy/retry state machine. Always returns
// either a Result or an *Error.
func (e *Engine) fetchUpstream(ctx context.Context, req Request, target *url.URL, key string) (Result, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return Result{}, &Error{
			Kind:     KindTimeout,
			Detail:   "timed out waiting for an upstream slot",
			Attempts: []Attempt{{Host: target.Host, Error: err.Error()}},
		}
	}
	defer e.sem.Release(1)

	fetchID := uuid.NewString()
	log := logger.With("fetch_id", fetchID, "url", target.String())

	execs := e.selectExecutors(req.Strategies)
	if len(execs) == 0 {
		return Result{}, fmt.Errorf("%w: no enabled strategy matches the requested set", ErrMalformedURL)
	}

	var attempts []Attempt
	var lastDetail string
	var lastBody string
	allTimedOut := true

domains:
	for _, host := range e.cfg.Hosts {
		candidate := *target
		candidate.Host = host
		candidateURL := candidate.String()

	strategies:
		for _, exec := range execs {
			for try := 0; try <= e.cfg.Retries; try++ {
				if ctx.Err() != nil {
					return Result{}, e.failure(KindTimeout, "overall budget exhausted", attempts, req.Debug, lastBody)
				}

				id := e.idents.Next()
				raw, kind, detail := e.attempt(ctx, exec, candidateURL, id)

				a := Attempt{Strategy: exec.Strategy(), Host: host, Status: raw.Status}
				if kind != "" {
					a.Error = detail
				}
				attempts = append(attempts, a)

				if kind == "" {
					if e.cache != nil {
						e.cache.Put(key, cachedPage{HTML: raw.Body, Strategy: exec.Strategy(), Host: host}, e.cfg.CacheTTL)
					}
					log.Info("fetch succeeded",
						"strategy", string(exec.Strategy()),
						"host", host,
						"attempts", len(attempts))
					return Result{HTML: raw.Body, Strategy: exec.Strategy(), BaseHost: host}, nil
				}

				lastDetail = detail
				lastBody = raw.Body
				if kind != KindTimeout {
					allTimedOut = false
				}
				log.Debug("attempt failed",
					"strategy", string(exec.Strategy()),
					"host", host,
					"kind", string(kind),
					"detail", detail)

				switch kind {
				case KindEmptyResponse:
					// Likely a JS-gated or interstitial page at this tier;
					// retrying the same strategy cannot help. Escalate.
					continue strategies
				case KindNetworkError:
					if isDomainUnreachable(detail) {
						// The host itself is unreachable; remaining
						// strategies share its fate.
						continue domains
					}
				case KindTimeout, KindBlocked, KindUpstreamError:
					// retryable below
				}

				if try < e.cfg.Retries {
					if err := e.sleep(ctx, e.cfg.Backoff.Delay(try)); err != nil {
						return Result{}, e.failure(KindTimeout, "overall budget exhausted during backoff", attempts, req.Debug, lastBody)
					}
				}
			}
		}
	}

	// Every attempt timing out means the budget, not the strategies, was the
	// limiting factor.
	if ctx.Err() != nil || (allTimedOut && len(attempts) > 0) {
		return Result{}, e.failure(KindTimeout, lastDetail, attempts, req.Debug, lastBody)
	}
	return Result{}, e.failure(KindExhausted, lastDetail, attempts, req.Debug, lastBody)
}

// attempt invokes one executor and classifies the outcome. An empty kind
// means success.
func (e *Engine) attempt(ctx context.Context, exec Executor, targetURL string, id identity.Identity) (Raw, ErrorKind, string) {
	budget := e.cfg.PerAttempt
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < budget {
			budget = remaining
		}
	}
	if budget <= 0 {
		return Raw{}, KindTimeout, "overall budget exhausted"
	}

	attemptCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	raw, err := exec.Attempt(attemptCtx, targetURL, id, budget)
	if err != nil {
		return raw, classifyError(err), err.Error()
	}

	if raw.Status == 403 || raw.Status == 429 {
		return raw, KindBlocked, fmt.Sprintf("upstream returned %d", raw.Status)
	}
	if challenge := DetectChallenge(raw.Body); challenge != "" {
		return raw, KindBlocked, "challenge page detected: " + challenge
	}
	if raw.Status >= 400 {
		return raw, KindUpstreamError, fmt.Sprintf("upstream returned %d", raw.Status)
	}
	if len(raw.Body) < e.cfg.MinBodyBytes {
		return raw, KindEmptyResponse, fmt.Sprintf("body too short (%d bytes)", len(raw.Body))
	}
	return raw, "", ""
}

// classifyError maps a transport-level error to a failure kind.
func classifyError(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindNetworkError
}

// isDomainUnreachable reports whether a failure detail looks like the host
// itself is down (DNS, connection refused) rather than a single bad request.
func isDomainUnreachable(detail string) bool {
	lower := strings.ToLower(detail)
	return strings.Contains(lower, "no such host") ||
		strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "network is unreachable")
}

// selectExecutors filters the configured executors by an optional strategy
// restriction, preserving ascending cost order.
func (e *Engine) selectExecutors(restrict []Strategy) []Executor {
	if len(restrict) == 0 {
		return e.executors
	}
	allowed := make(map[Strategy]bool, len(restrict))
	for _, s := range restrict {
		allowed[s] = true
	}
	var out []Executor
	for _, exec := range e.executors {
		if allowed[exec.Strategy()] {
			out = append(out, exec)
		}
	}
	return out
}

func (e *Engine) failure(kind ErrorKind, detail string, attempts []Attempt, debug bool, body string) *Error {
	fe := &Error{Kind: kind, Detail: detail, Attempts: attempts}
	if debug {
		fe.Snippet = snippet(body)
	}
	return fe
}

// validate parses the target and enforces the host allowlist, preventing the
// engine from being used as an open proxy.
func (e *Engine) validate(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrMalformedURL, raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrMalformedURL, u.Scheme)
	}
	for _, allowed := range e.cfg.AllowedHosts {
		if hostMatches(u.Hostname(), allowed) {
			return u, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrDisallowedHost, u.Hostname())
}

func hostMatches(host, allowed string) bool {
	allowed = stripPort(allowed)
	return host == allowed || strings.HasSuffix(host, "."+allowed)
}

func stripPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

// NormalizeKey derives a stable cache key from a URL: scheme-insensitive,
// host-insensitive (failover domains share content), query parameters
// sorted. Distinct parameter combinations yield distinct keys.
func NormalizeKey(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	path := strings.TrimRight(u.Path, "/")
	if path == "" {
		path = "/"
	}
	q := u.Query().Encode() // Encode sorts keys
	if q == "" {
		return path
	}
	return path + "?" + q
}

// Close releases every executor's resources.
func (e *Engine) Close() error {
	var firstErr error
	for _, exec := range e.executors {
		if err := exec.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
