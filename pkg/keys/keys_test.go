package keys

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/TheProjectSEO/shield/pkg/config"
)

func testUpstreamConfig(keys ...config.KeyConfig) config.UpstreamConfig {
	return config.UpstreamConfig{
		Keys:                    keys,
		CircuitFailureThreshold: 3,
		CircuitCooldown:         time.Minute,
	}
}

type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func newManualClock() *manualClock {
	return &manualClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *manualClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// ============================================================================
// Quota Window Tests
// ============================================================================

func TestAcquire_RPMExhaustion(t *testing.T) {
	clock := newManualClock()
	m := NewManager(testUpstreamConfig(
		config.KeyConfig{ID: "k1", RPM: 2, RPH: 100, RPD: 100},
	), WithClock(clock.now))

	for i := 0; i < 2; i++ {
		if _, err := m.Acquire(); err != nil {
			t.Fatalf("acquire %d failed: %v", i, err)
		}
	}
	if _, err := m.Acquire(); !errors.Is(err, ErrNoKeysAvailable) {
		t.Errorf("expected exhaustion, got %v", err)
	}

	// The minute window rolls over and the key is usable again.
	clock.advance(time.Minute)
	if _, err := m.Acquire(); err != nil {
		t.Errorf("expected headroom after window roll, got %v", err)
	}
}

func TestAcquire_NeverExceedsRPMUnderConcurrency(t *testing.T) {
	clock := newManualClock()
	limit := 20
	m := NewManager(testUpstreamConfig(
		config.KeyConfig{ID: "k1", RPM: limit, RPH: 1000, RPD: 1000},
	), WithClock(clock.now))

	var wg sync.WaitGroup
	var mu sync.Mutex
	acquired := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Acquire(); err == nil {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if acquired != limit {
		t.Errorf("acquired %d, quota is %d", acquired, limit)
	}
	if used := m.Metrics()[0].RPM.Used; used != limit {
		t.Errorf("rpm used %d, want %d", used, limit)
	}
}

func TestAcquire_RotatesAcrossKeys(t *testing.T) {
	clock := newManualClock()
	m := NewManager(testUpstreamConfig(
		config.KeyConfig{ID: "k1", RPM: 10, RPH: 10, RPD: 10},
		config.KeyConfig{ID: "k2", RPM: 10, RPH: 10, RPD: 10},
	), WithClock(clock.now))

	first, _ := m.Acquire()
	second, _ := m.Acquire()
	if first.ID() == second.ID() {
		t.Errorf("round-robin should alternate keys, got %s twice", first.ID())
	}
}

func TestAcquire_FallsOverWhenKeyExhausted(t *testing.T) {
	clock := newManualClock()
	m := NewManager(testUpstreamConfig(
		config.KeyConfig{ID: "k1", RPM: 1, RPH: 100, RPD: 100},
		config.KeyConfig{ID: "k2", RPM: 100, RPH: 100, RPD: 100},
	), WithClock(clock.now))

	m.Acquire() // consumes k1's single slot (round-robin starts at k1)
	for i := 0; i < 5; i++ {
		k, err := m.Acquire()
		if err != nil {
			t.Fatalf("acquire failed: %v", err)
		}
		if k.ID() != "k2" {
			t.Errorf("expected k2 while k1 is exhausted, got %s", k.ID())
		}
	}
}

// ============================================================================
// Circuit Breaker Tests
// ============================================================================

func TestRelease_CircuitOpensAfterThreshold(t *testing.T) {
	clock := newManualClock()
	m := NewManager(testUpstreamConfig(
		config.KeyConfig{ID: "k1", RPM: 100, RPH: 100, RPD: 100},
	), WithClock(clock.now))

	callErr := errors.New("upstream 500")
	for i := 0; i < 3; i++ {
		k, err := m.Acquire()
		if err != nil {
			t.Fatalf("acquire failed: %v", err)
		}
		m.Release(k, 10*time.Millisecond, callErr)
	}

	if m.Metrics()[0].Healthy {
		t.Error("key should be circuit-open after 3 consecutive failures")
	}
	if _, err := m.Acquire(); !errors.Is(err, ErrNoKeysAvailable) {
		t.Errorf("circuit-open key must be skipped, got %v", err)
	}
}

func TestRelease_ProbeAfterCooldownAndRecovery(t *testing.T) {
	clock := newManualClock()
	m := NewManager(testUpstreamConfig(
		config.KeyConfig{ID: "k1", RPM: 100, RPH: 100, RPD: 100},
	), WithClock(clock.now))

	callErr := errors.New("upstream 500")
	for i := 0; i < 3; i++ {
		k, _ := m.Acquire()
		m.Release(k, 0, callErr)
	}

	// Cool-down not elapsed: still skipped.
	clock.advance(30 * time.Second)
	if _, err := m.Acquire(); err == nil {
		t.Fatal("expected key to stay out of rotation during cooldown")
	}

	// Cool-down elapsed: one probe allowed, success closes the circuit.
	clock.advance(31 * time.Second)
	k, err := m.Acquire()
	if err != nil {
		t.Fatalf("expected probe after cooldown, got %v", err)
	}
	m.Release(k, 5*time.Millisecond, nil)

	metrics := m.Metrics()[0]
	if !metrics.Healthy {
		t.Error("successful probe must close the circuit")
	}
	if metrics.ConsecutiveFailures != 0 {
		t.Errorf("consecutive failures not reset: %d", metrics.ConsecutiveFailures)
	}
}

func TestRelease_FailedProbeRestartsCooldown(t *testing.T) {
	clock := newManualClock()
	m := NewManager(testUpstreamConfig(
		config.KeyConfig{ID: "k1", RPM: 100, RPH: 100, RPD: 100},
	), WithClock(clock.now))

	callErr := errors.New("upstream 500")
	for i := 0; i < 3; i++ {
		k, _ := m.Acquire()
		m.Release(k, 0, callErr)
	}

	clock.advance(61 * time.Second)
	k, err := m.Acquire()
	if err != nil {
		t.Fatalf("expected probe, got %v", err)
	}
	m.Release(k, 0, callErr)

	// Probe failed moments ago; the key must be skipped again.
	clock.advance(time.Second)
	if _, err := m.Acquire(); !errors.Is(err, ErrNoKeysAvailable) {
		t.Errorf("failed probe must restart the cooldown, got %v", err)
	}
}

// ============================================================================
// Capacity and Metrics Tests
// ============================================================================

func TestTotalCapacity(t *testing.T) {
	clock := newManualClock()
	m := NewManager(testUpstreamConfig(
		config.KeyConfig{ID: "k1", RPM: 100, RPH: 100, RPD: 50},
		config.KeyConfig{ID: "k2", RPM: 100, RPH: 100, RPD: 50},
	), WithClock(clock.now))

	available, total := m.TotalCapacity()
	if available != 100 || total != 100 {
		t.Errorf("fresh pool: available=%d total=%d, want 100/100", available, total)
	}

	for i := 0; i < 10; i++ {
		m.Acquire()
	}
	available, total = m.TotalCapacity()
	if available != 90 || total != 100 {
		t.Errorf("after 10 calls: available=%d total=%d, want 90/100", available, total)
	}
}

func TestTotalCapacity_CircuitOpenKeyUnavailable(t *testing.T) {
	clock := newManualClock()
	m := NewManager(testUpstreamConfig(
		config.KeyConfig{ID: "k1", RPM: 100, RPH: 100, RPD: 50},
		config.KeyConfig{ID: "k2", RPM: 100, RPH: 100, RPD: 50},
	), WithClock(clock.now))

	callErr := errors.New("upstream 500")
	for i := 0; i < 6; i++ {
		k, err := m.Acquire()
		if err != nil {
			break
		}
		m.Release(k, 0, callErr)
	}

	// Both keys saw 3 consecutive failures each via round-robin.
	available, total := m.TotalCapacity()
	if available != 0 || total != 100 {
		t.Errorf("circuit-open pool: available=%d total=%d, want 0/100", available, total)
	}
}

func TestMetrics_Snapshot(t *testing.T) {
	clock := newManualClock()
	m := NewManager(testUpstreamConfig(
		config.KeyConfig{ID: "k1", RPM: 10, RPH: 20, RPD: 30},
	), WithClock(clock.now))

	k, _ := m.Acquire()
	m.Release(k, 42*time.Millisecond, nil)

	km := m.Metrics()[0]
	if km.ID != "k1" || !km.Healthy {
		t.Errorf("unexpected key metrics: %+v", km)
	}
	if km.RPM.Used != 1 || km.RPM.Total != 10 {
		t.Errorf("rpm usage %+v", km.RPM)
	}
	if km.LastLatency != 42*time.Millisecond {
		t.Errorf("last latency %s", km.LastLatency)
	}
	if km.TotalCalls != 1 || km.TotalFailures != 0 {
		t.Errorf("call counters %+v", km)
	}
}

// ============================================================================
// Backoff Tests
// ============================================================================

func TestBackoffPolicy_GrowthAndCap(t *testing.T) {
	p := BackoffPolicy{Base: 100 * time.Millisecond, Max: 2 * time.Second}

	prevMax := time.Duration(0)
	for attempt := 1; attempt <= MaxBackoffAttempts; attempt++ {
		d := p.Delay(attempt)
		if d > p.Max {
			t.Errorf("attempt %d delay %s exceeds cap %s", attempt, d, p.Max)
		}
		// Delay without jitter doubles each attempt until the cap.
		base := 100 * time.Millisecond << (attempt - 1)
		if base > p.Max {
			base = p.Max
		}
		if d < base {
			t.Errorf("attempt %d delay %s below base %s", attempt, d, base)
		}
		if base > prevMax {
			prevMax = base
		}
	}
}

func TestBackoffPolicy_JitterBounded(t *testing.T) {
	p := BackoffPolicy{Base: 1 * time.Second, Max: time.Minute}
	for i := 0; i < 50; i++ {
		d := p.Delay(1)
		if d < time.Second || d > 1250*time.Millisecond {
			t.Fatalf("jittered delay %s outside [1s, 1.25s]", d)
		}
	}
}
