// Package cache provides the time-bounded response cache used by the fetch
// engine. Entries expire by TTL and are evicted least-recently-used when the
// cache is at capacity.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Entry is an immutable cached value with its expiry.
type Entry struct {
	Value      any
	InsertedAt time.Time
	ExpiresAt  time.Time
}

type item struct {
	key   string
	entry Entry
}

// Cache is a capacity-bounded TTL + LRU store. Safe for concurrent use;
// readers never observe a half-written entry.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	entries  map[string]*list.Element
	order    *list.List // front = most recently used
	now      func() time.Time
}

// New creates a cache holding at most capacity entries, each living for ttl.
func New(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Cache{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[string]*list.Element, capacity),
		order:    list.New(),
		now:      time.Now,
	}
}

// Get returns the value for key if present and unexpired. An expired entry is
// an unconditional miss and is removed on the way out.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	it := el.Value.(*item)
	if !c.now().Before(it.entry.ExpiresAt) {
		c.order.Remove(el)
		delete(c.entries, key)
		return nil, false
	}
	c.order.MoveToFront(el)
	return it.entry.Value, true
}

// Put inserts value under key with the given ttl (the cache default when
// zero). Overwriting an existing key wins atomically; insertion beyond
// capacity evicts the least-recently-used entry.
func (c *Cache) Put(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entry := Entry{Value: value, InsertedAt: now, ExpiresAt: now.Add(ttl)}

	if el, ok := c.entries[key]; ok {
		el.Value = &item{key: key, entry: entry}
		c.order.MoveToFront(el)
		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*item).key)
		}
	}
	c.entries[key] = c.order.PushFront(&item{key: key, entry: entry})
}

// Len reports the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// SetClock replaces the time source. Test hook.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}
