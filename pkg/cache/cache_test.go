package cache

import (
	"errors"
	"testing"
	"time"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

// ============================================================================
// Basic Get/Set Tests
// ============================================================================

func TestCache_GetSet(t *testing.T) {
	c := New(10, time.Hour)

	if _, ok := c.Get("missing"); ok {
		t.Error("expected miss for unknown key")
	}

	c.Set("prompt", "response")
	v, ok := c.Get("prompt")
	if !ok || v != "response" {
		t.Errorf("expected hit with %q, got %q ok=%v", "response", v, ok)
	}
}

func TestCache_SetRefreshesExisting(t *testing.T) {
	c := New(10, time.Hour)
	c.Set("k", "v1")
	c.Set("k", "v2")

	if v, _ := c.Get("k"); v != "v2" {
		t.Errorf("expected refreshed value, got %q", v)
	}
	if c.Len() != 1 {
		t.Errorf("expected single entry, got %d", c.Len())
	}
}

// ============================================================================
// LRU Eviction Tests
// ============================================================================

func TestCache_LRUEviction(t *testing.T) {
	c := New(2, time.Hour)
	c.Set("a", "1")
	c.Set("b", "2")

	// Touch "a" so "b" is the LRU victim.
	c.Get("a")
	c.Set("c", "3")

	if _, ok := c.Get("b"); ok {
		t.Error("expected least recently used entry to be evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("recently used entry must survive eviction")
	}
	if c.Len() != 2 {
		t.Errorf("size bound violated: %d", c.Len())
	}
}

func TestCache_SizeBound(t *testing.T) {
	c := New(50, time.Hour)
	for i := 0; i < 200; i++ {
		c.Set(string(rune('a'+i%26))+string(rune('0'+i%10)), "v")
	}
	if c.Len() > 50 {
		t.Errorf("live entry set %d exceeds max 50", c.Len())
	}
}

// ============================================================================
// TTL Tests
// ============================================================================

func TestCache_LazyExpiry(t *testing.T) {
	clock := newFakeClock()
	c := New(10, time.Minute, WithClock(clock.now))

	c.Set("k", "v")
	clock.advance(2 * time.Minute)

	if _, ok := c.Get("k"); ok {
		t.Error("expired entry must miss")
	}
	if c.Len() != 0 {
		t.Error("expired entry must be removed on read")
	}
}

func TestCache_PerEntryTTL(t *testing.T) {
	clock := newFakeClock()
	c := New(10, time.Minute, WithClock(clock.now))

	c.Set("short", "v", 10*time.Second)
	c.Set("long", "v", time.Hour)
	clock.advance(30 * time.Second)

	if _, ok := c.Get("short"); ok {
		t.Error("short TTL entry should have expired")
	}
	if _, ok := c.Get("long"); !ok {
		t.Error("long TTL entry should survive")
	}
}

func TestCache_Sweep(t *testing.T) {
	clock := newFakeClock()
	c := New(10, time.Minute, WithClock(clock.now))

	c.Set("a", "1")
	c.Set("b", "2")
	clock.advance(2 * time.Minute)
	c.Set("c", "3")

	if removed := c.Sweep(); removed != 2 {
		t.Errorf("expected 2 swept, got %d", removed)
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 survivor, got %d", c.Len())
	}
}

// ============================================================================
// WithCache Tests
// ============================================================================

func TestWithCache_ProducerOncePerKey(t *testing.T) {
	c := New(10, time.Hour)
	calls := 0
	producer := func() (string, error) {
		calls++
		return "computed", nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.WithCache("k", producer)
		if err != nil {
			t.Fatal(err)
		}
		if v != "computed" {
			t.Errorf("got %q", v)
		}
	}
	if calls != 1 {
		t.Errorf("producer called %d times, want 1", calls)
	}
}

func TestWithCache_ProducerErrorNotCached(t *testing.T) {
	c := New(10, time.Hour)
	boom := errors.New("upstream down")
	if _, err := c.WithCache("k", func() (string, error) { return "", boom }); !errors.Is(err, boom) {
		t.Errorf("expected producer error, got %v", err)
	}
	if _, ok := c.Get("k"); ok {
		t.Error("failed compute must not be cached")
	}
}

// ============================================================================
// Stats Tests
// ============================================================================

func TestCache_Stats(t *testing.T) {
	c := New(10, time.Hour)
	c.Set("k", "v")
	c.Get("k")
	c.Get("k")
	c.Get("missing")

	s := c.GetStats()
	if s.Hits != 2 || s.Misses != 1 {
		t.Errorf("hits=%d misses=%d", s.Hits, s.Misses)
	}
	if want := 2.0 / 3.0; s.HitRate != want {
		t.Errorf("hit rate %g, want %g", s.HitRate, want)
	}
	if s.Size != 1 || s.MaxSize != 10 {
		t.Errorf("size=%d max=%d", s.Size, s.MaxSize)
	}
}

func TestCache_DeleteUnknownKeyNoOp(t *testing.T) {
	c := New(10, time.Hour)
	c.Delete("never-existed") // must not panic or error
	if c.Len() != 0 {
		t.Error("unexpected entries")
	}
}
