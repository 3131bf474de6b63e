package cache

import (
	"testing"
	"time"
)

func TestGet_MissOnEmptyCache(t *testing.T) {
	c := New(4, time.Minute)
	if _, ok := c.Get("absent"); ok {
		t.Error("empty cache should miss")
	}
}

func TestPutGet_RoundTrip(t *testing.T) {
	c := New(4, time.Minute)
	c.Put("k", "v", 0)

	v, ok := c.Get("k")
	if !ok {
		t.Fatal("expected hit")
	}
	if v.(string) != "v" {
		t.Errorf("got %v, want v", v)
	}
}

func TestGet_ExpiredEntryIsMiss(t *testing.T) {
	c := New(4, time.Minute)

	now := time.Now()
	c.SetClock(func() time.Time { return now })
	c.Put("k", "v", 5*time.Second)

	// Still fresh just before expiry.
	c.SetClock(func() time.Time { return now.Add(4 * time.Second) })
	if _, ok := c.Get("k"); !ok {
		t.Error("entry should still be fresh")
	}

	// At expiry the entry is an unconditional miss and is removed.
	c.SetClock(func() time.Time { return now.Add(5 * time.Second) })
	if _, ok := c.Get("k"); ok {
		t.Error("expired entry should miss")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry should be removed, Len = %d", c.Len())
	}
}

func TestPut_EvictsLeastRecentlyUsed(t *testing.T) {
	c := New(2, time.Minute)
	c.Put("a", 1, 0)
	c.Put("b", 2, 0)

	// Touch "a" so "b" becomes least recently used.
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected hit on a")
	}

	c.Put("c", 3, 0)

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted as least recently used")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("a should survive eviction")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("c should be present")
	}
}

func TestPut_OverwriteKeepsSingleEntry(t *testing.T) {
	c := New(4, time.Minute)
	c.Put("k", "old", 0)
	c.Put("k", "new", 0)

	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
	v, _ := c.Get("k")
	if v.(string) != "new" {
		t.Errorf("got %v, want the overwriting value", v)
	}
}

func TestPut_ZeroTTLUsesDefault(t *testing.T) {
	c := New(4, 10*time.Second)

	now := time.Now()
	c.SetClock(func() time.Time { return now })
	c.Put("k", "v", 0)

	c.SetClock(func() time.Time { return now.Add(9 * time.Second) })
	if _, ok := c.Get("k"); !ok {
		t.Error("entry should live for the default TTL")
	}

	c.SetClock(func() time.Time { return now.Add(10 * time.Second) })
	if _, ok := c.Get("k"); ok {
		t.Error("entry should expire after the default TTL")
	}
}
