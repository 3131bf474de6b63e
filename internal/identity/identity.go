// Package identity manages the pool of browser fingerprints presented to the
// upstream site. Identities are immutable once issued; rotation selects a
// different entry, it never mutates one.
package identity

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Identity is the set of client-presented fingerprint values used for one
// fetch attempt.
type Identity struct {
	UserAgent string            `yaml:"user_agent"`
	Headers   map[string]string `yaml:"headers"`
	Proxy     string            `yaml:"proxy"`
}

// Clone returns a deep copy so callers can never alias pool-owned state.
func (id Identity) Clone() Identity {
	out := Identity{UserAgent: id.UserAgent, Proxy: id.Proxy}
	if id.Headers != nil {
		out.Headers = make(map[string]string, len(id.Headers))
		for k, v := range id.Headers {
			out.Headers[k] = v
		}
	}
	return out
}

// Pool issues identities for fetch attempts. Safe for concurrent use.
type Pool struct {
	mu      sync.Mutex
	entries []Identity
	rng     *rand.Rand
	last    int // index of the previously issued identity
}

// NewPool creates a pool over the given identities. The seed makes selection
// reproducible in tests; use time-based seeding in production wiring.
func NewPool(entries []Identity, seed int64) (*Pool, error) {
	if len(entries) == 0 {
		return nil, errors.New("identity pool requires at least one identity")
	}
	owned := make([]Identity, len(entries))
	for i, e := range entries {
		owned[i] = e.Clone()
	}
	return &Pool{
		entries: owned,
		rng:     rand.New(rand.NewSource(seed)),
		last:    -1,
	}, nil
}

// LoadEntries reads identities from a YAML document: a top-level `identities`
// list of {user_agent, headers, proxy} entries.
func LoadEntries(path string) ([]Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read identities file: %w", err)
	}
	var doc struct {
		Identities []Identity `yaml:"identities"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse identities file: %w", err)
	}
	return doc.Identities, nil
}

// LoadFile builds a pool directly from an identities file.
func LoadFile(path string, seed int64) (*Pool, error) {
	entries, err := LoadEntries(path)
	if err != nil {
		return nil, err
	}
	return NewPool(entries, seed)
}

// Next issues an identity. With more than one entry it never returns the
// same identity twice in a row, so a blocked attempt always retries with
// fresh fingerprint material.
func (p *Pool) Next() Identity {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.entries)
	if n == 1 {
		p.last = 0
		return p.entries[0].Clone()
	}

	i := p.rng.Intn(n)
	if i == p.last {
		i = (i + 1) % n
	}
	p.last = i
	return p.entries[i].Clone()
}

// Size reports how many identities the pool holds.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Defaults returns a built-in identity set used when no identities file is
// configured. User agents match current desktop browser releases.
func Defaults() []Identity {
	headers := map[string]string{
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.9",
	}
	return []Identity{
		{
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			Headers:   headers,
		},
		{
			UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			Headers:   headers,
		},
		{
			UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			Headers:   headers,
		},
		{
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
			Headers:   headers,
		},
	}
}
