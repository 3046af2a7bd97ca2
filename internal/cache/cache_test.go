package cache

import (
	"fmt"
	"testing"
	"time"
)

func TestCache_SetGet(t *testing.T) {
	c := NewWithSweep[string](10, time.Minute, 0)
	defer c.Close()

	c.Set("k", "v")
	got, ok := c.Get("k")
	if !ok {
		t.Fatal("expected hit")
	}
	if got != "v" {
		t.Errorf("expected %q, got %q", "v", got)
	}
}

func TestCache_MissOnUnknownKey(t *testing.T) {
	c := NewWithSweep[int](10, time.Minute, 0)
	defer c.Close()

	if _, ok := c.Get("nope"); ok {
		t.Fatal("expected miss")
	}
	if s := c.Stats(); s.Misses != 1 {
		t.Errorf("expected 1 miss, got %d", s.Misses)
	}
}

func TestCache_EvictsLRUAtCapacity(t *testing.T) {
	c := NewWithSweep[int](3, time.Minute, 0)
	defer c.Close()

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	// Touch "a" so "b" becomes least recently used.
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected hit for a")
	}

	c.Set("d", 4)

	if c.Has("b") {
		t.Error("expected b to be evicted")
	}
	for _, k := range []string{"a", "c", "d"} {
		if !c.Has(k) {
			t.Errorf("expected %s to survive", k)
		}
	}
	if s := c.Stats(); s.Evictions != 1 {
		t.Errorf("expected 1 eviction, got %d", s.Evictions)
	}
}

func TestCache_UpdateDoesNotEvict(t *testing.T) {
	c := NewWithSweep[int](2, time.Minute, 0)
	defer c.Close()

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("a", 10) // overwrite, still at capacity

	if c.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", c.Len())
	}
	got, _ := c.Get("a")
	if got != 10 {
		t.Errorf("expected updated value 10, got %d", got)
	}
	if s := c.Stats(); s.Evictions != 0 {
		t.Errorf("expected no evictions, got %d", s.Evictions)
	}
}

func TestCache_ExpiredEntryIsMissAndRemoved(t *testing.T) {
	c := NewWithSweep[string](10, 10*time.Millisecond, 0)
	defer c.Close()

	c.Set("k", "v")
	time.Sleep(20 * time.Millisecond)

	if _, ok := c.Get("k"); ok {
		t.Fatal("expected expired entry to miss")
	}
	if c.Len() != 0 {
		t.Errorf("expected expired entry to be removed, len=%d", c.Len())
	}
	s := c.Stats()
	if s.Expired != 1 {
		t.Errorf("expected 1 expired, got %d", s.Expired)
	}
	if s.Misses != 1 {
		t.Errorf("expected expiry to count as miss, got %d misses", s.Misses)
	}
}

func TestCache_ZeroTTLNeverExpires(t *testing.T) {
	c := NewWithSweep[string](10, 0, 0)
	defer c.Close()

	c.Set("k", "v")
	time.Sleep(10 * time.Millisecond)
	if _, ok := c.Get("k"); !ok {
		t.Fatal("expected entry to persist with zero TTL")
	}
}

func TestCache_HitRate(t *testing.T) {
	c := NewWithSweep[int](10, time.Minute, 0)
	defer c.Close()

	c.Set("k", 1)
	c.Get("k")    // hit
	c.Get("k")    // hit
	c.Get("miss") // miss

	s := c.Stats()
	want := 2.0 / 3.0
	if diff := s.HitRate - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected hit rate %.4f, got %.4f", want, s.HitRate)
	}
}

func TestCache_Clear(t *testing.T) {
	c := NewWithSweep[int](10, time.Minute, 0)
	defer c.Close()

	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a")
	c.Clear()

	if c.Len() != 0 {
		t.Fatalf("expected empty cache, len=%d", c.Len())
	}
	// Counters survive a clear.
	if s := c.Stats(); s.Hits != 1 {
		t.Errorf("expected hit counter to survive clear, got %d", s.Hits)
	}
}

func TestCache_SweepRemovesExpired(t *testing.T) {
	c := NewWithSweep[int](10, 5*time.Millisecond, 0)
	defer c.Close()

	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
	}
	time.Sleep(10 * time.Millisecond)

	c.sweep(time.Now())

	if c.Len() != 0 {
		t.Errorf("expected sweep to remove all expired entries, len=%d", c.Len())
	}
	if s := c.Stats(); s.Expired != 5 {
		t.Errorf("expected 5 expired, got %d", s.Expired)
	}
}

func TestCache_CloseIsIdempotent(t *testing.T) {
	c := New[int](10, time.Minute)
	c.Close()
	c.Close() // must not panic
}
