package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// staleAfter is how long an idle client keeps its limiter before pruning.
const staleAfter = 10 * time.Minute

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiter applies a per-client request budget keyed by remote IP.
type clientLimiter struct {
	mu        sync.Mutex
	perMinute int
	clients   map[string]*clientEntry
	lastPrune time.Time
}

func newClientLimiter(perMinute int) *clientLimiter {
	return &clientLimiter{
		perMinute: perMinute,
		clients:   make(map[string]*clientEntry),
		lastPrune: time.Now(),
	}
}

func (c *clientLimiter) allow(ip string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if now.Sub(c.lastPrune) > staleAfter {
		for k, e := range c.clients {
			if now.Sub(e.lastSeen) > staleAfter {
				delete(c.clients, k)
			}
		}
		c.lastPrune = now
	}

	entry, ok := c.clients[ip]
	if !ok {
		entry = &clientEntry{
			limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(c.perMinute)), c.perMinute),
		}
		c.clients[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter.Allow()
}
