package health

import (
	"testing"
	"time"

	"github.com/TheProjectSEO/shield/pkg/cache"
	"github.com/TheProjectSEO/shield/pkg/config"
	"github.com/TheProjectSEO/shield/pkg/keys"
	"github.com/TheProjectSEO/shield/pkg/queue"
)

func TestKeyPoolCheckerThresholds(t *testing.T) {
	cfg := testConfig()
	mgr := keys.NewManager(config.UpstreamConfig{
		Keys: []config.KeyConfig{
			{ID: "k1", Secret: "s1", RPM: 100, RPH: 100, RPD: 100},
		},
		CircuitFailureThreshold: 5,
		CircuitCooldown:         time.Minute,
	})
	check := KeyPoolChecker(mgr, cfg)

	sev, _, err := check()
	if err != nil || sev != Healthy {
		t.Fatalf("expected healthy pool, got %s err=%v", sev, err)
	}

	// Burn through 90% of the daily quota.
	for i := 0; i < 90; i++ {
		k, err := mgr.Acquire()
		if err != nil {
			t.Fatalf("Acquire %d failed: %v", i, err)
		}
		mgr.Release(k, time.Millisecond, nil)
	}
	if sev, _, _ = check(); sev != Degraded {
		t.Errorf("expected degraded at 90%% utilization, got %s", sev)
	}

	for i := 0; i < 8; i++ {
		k, err := mgr.Acquire()
		if err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}
		mgr.Release(k, time.Millisecond, nil)
	}
	if sev, _, _ = check(); sev != Critical {
		t.Errorf("expected critical at 98%% utilization, got %s", sev)
	}
}

func TestCacheCheckerWarmupThenDegraded(t *testing.T) {
	cfg := testConfig()
	c := cache.New(100, time.Hour)
	check := CacheChecker(c, cfg)

	// Below the sample floor everything reads healthy.
	for i := 0; i < 10; i++ {
		c.Get("missing")
	}
	if sev, _, _ := check(); sev != Healthy {
		t.Errorf("expected healthy during warmup, got %s", sev)
	}

	// Past the floor with a 0%% hit rate the cache is degraded.
	for i := 0; i < 50; i++ {
		c.Get("missing")
	}
	if sev, _, _ := check(); sev != Degraded {
		t.Errorf("expected degraded at 0%% hit rate, got %s", sev)
	}
}

func TestQueueCheckerBacklogThresholds(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSizeThreshold = 5
	q := queue.New(config.QueueConfig{
		MaxConcurrent:  10,
		MaxAttempts:    3,
		RetryBaseDelay: time.Second,
		RetryMaxDelay:  time.Minute,
	})
	check := QueueChecker(q, cfg)

	if sev, _, _ := check(); sev != Healthy {
		t.Error("expected healthy on empty queue")
	}

	for i := 0; i < 6; i++ {
		q.Enqueue(queue.RawPayload{Data: []byte{byte(i)}}, queue.PriorityNormal)
	}
	if sev, _, _ := check(); sev != Degraded {
		t.Error("expected degraded past the threshold")
	}

	for i := 0; i < 5; i++ {
		q.Enqueue(queue.RawPayload{Data: []byte{byte(100 + i)}}, queue.PriorityNormal)
	}
	if sev, _, _ := check(); sev != Critical {
		t.Error("expected critical past twice the threshold")
	}
}
