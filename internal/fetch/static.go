package fetch

import (
	"context"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/mangatek/kumo/internal/identity"
)

// StaticFetcher is the lightweight strategy: a plain HTTP request via Colly.
// Cheapest and fastest, most often blocked. Transport errors and status
// codes propagate verbatim; the orchestrator interprets them.
type StaticFetcher struct{}

// NewStaticFetcher creates the lightweight executor.
func NewStaticFetcher() *StaticFetcher {
	return &StaticFetcher{}
}

// Attempt performs one request with the supplied identity.
func (f *StaticFetcher) Attempt(ctx context.Context, targetURL string, id identity.Identity, timeout time.Duration) (Raw, error) {
	// A new collector per attempt keeps identities from bleeding between
	// requests through shared cookie state.
	c := colly.NewCollector(
		colly.UserAgent(id.UserAgent),
		colly.IgnoreRobotsTxt(),
	)
	c.SetRequestTimeout(timeout)

	if id.Proxy != "" {
		if err := c.SetProxy(id.Proxy); err != nil {
			return Raw{}, err
		}
	}

	if len(id.Headers) > 0 {
		c.OnRequest(func(r *colly.Request) {
			for k, v := range id.Headers {
				r.Headers.Set(k, v)
			}
		})
	}

	var raw Raw
	var fetchErr error

	c.OnResponse(func(r *colly.Response) {
		raw.Status = r.StatusCode
		raw.Body = string(r.Body)
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			raw.Status = r.StatusCode
			raw.Body = string(r.Body)
		}
		fetchErr = err
	})

	// raw and fetchErr are owned by the visit goroutine until it sends the
	// result; a cancelled caller never touches them and the late response is
	// discarded with the buffered channel.
	type result struct {
		raw Raw
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		if err := c.Visit(targetURL); err != nil && fetchErr == nil {
			fetchErr = err
		}
		c.Wait()

		// Colly reports HTTP error statuses through OnError with a synthetic
		// error; the orchestrator classifies by status, so surface the
		// response instead when one exists.
		if fetchErr != nil && raw.Status == 0 {
			resCh <- result{raw: raw, err: fetchErr}
			return
		}
		resCh <- result{raw: raw}
	}()

	select {
	case res := <-resCh:
		return res.raw, res.err
	case <-ctx.Done():
		return Raw{}, ctx.Err()
	}
}

// Strategy identifies this executor.
func (f *StaticFetcher) Strategy() Strategy {
	return StrategyLightweight
}

// Close releases resources.
func (f *StaticFetcher) Close() error {
	return nil
}
