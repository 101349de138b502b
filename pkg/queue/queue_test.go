package queue

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/TheProjectSEO/shield/pkg/config"
	"github.com/TheProjectSEO/shield/pkg/telemetry/metrics"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testQueueConfig() config.QueueConfig {
	return config.QueueConfig{
		MaxConcurrent:  10,
		MaxAttempts:    3,
		RetryBaseDelay: 5 * time.Second,
		RetryMaxDelay:  5 * time.Minute,
	}
}

func newTestQueue(clock *testClock, mutate ...func(*config.QueueConfig)) *Queue {
	cfg := testQueueConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	return New(cfg, WithClock(clock.now))
}

func prompt(s string) CompletionPayload {
	return CompletionPayload{Prompt: s}
}

// ============================================================================
// Ordering Tests
// ============================================================================

func TestDequeue_PriorityBeatsAge(t *testing.T) {
	clock := newTestClock()
	q := newTestQueue(clock)

	normalID := q.Enqueue(prompt("older normal"), PriorityNormal)
	clock.advance(time.Second)
	highID := q.Enqueue(prompt("newer high"), PriorityHigh)

	if job := q.Dequeue(); job.ID != highID {
		t.Errorf("expected high-priority job first, got %s", job.ID)
	}
	if job := q.Dequeue(); job.ID != normalID {
		t.Errorf("expected normal job second, got %s", job.ID)
	}
}

func TestDequeue_FIFOWithinBand(t *testing.T) {
	clock := newTestClock()
	q := newTestQueue(clock)

	first := q.Enqueue(prompt("first"), PriorityNormal)
	clock.advance(time.Millisecond)
	second := q.Enqueue(prompt("second"), PriorityNormal)

	if job := q.Dequeue(); job.ID != first {
		t.Errorf("FIFO violated: got %s first", job.ID)
	}
	if job := q.Dequeue(); job.ID != second {
		t.Errorf("FIFO violated: got %s second", job.ID)
	}
}

func TestDequeue_CriticalPreemptsOlderBands(t *testing.T) {
	clock := newTestClock()
	q := newTestQueue(clock)

	q.Enqueue(prompt("low"), PriorityLow)
	q.Enqueue(prompt("normal"), PriorityNormal)
	clock.advance(time.Minute)
	criticalID := q.Enqueue(prompt("critical"), PriorityCritical)

	if job := q.Dequeue(); job.ID != criticalID {
		t.Errorf("newly enqueued critical job must preempt, got %s", job.ID)
	}
}

func TestDequeue_EmptyQueue(t *testing.T) {
	q := newTestQueue(newTestClock())
	if job := q.Dequeue(); job != nil {
		t.Errorf("expected nil from empty queue, got %+v", job)
	}
}

// ============================================================================
// Admission Control Tests
// ============================================================================

func TestDequeue_AdmissionControl(t *testing.T) {
	clock := newTestClock()
	q := newTestQueue(clock, func(c *config.QueueConfig) { c.MaxConcurrent = 2 })

	for i := 0; i < 3; i++ {
		q.Enqueue(prompt("job"), PriorityNormal)
	}

	if q.Dequeue() == nil || q.Dequeue() == nil {
		t.Fatal("first two dequeues must succeed")
	}
	if job := q.Dequeue(); job != nil {
		t.Errorf("third dequeue must refuse while 2 jobs are processing, got %+v", job)
	}

	// Completing one in-flight job frees a slot.
	stats := q.GetStats()
	if stats.Processing != 2 {
		t.Fatalf("processing = %d, want 2", stats.Processing)
	}
}

func TestDequeue_SlotFreedOnComplete(t *testing.T) {
	clock := newTestClock()
	q := newTestQueue(clock, func(c *config.QueueConfig) { c.MaxConcurrent = 1 })

	q.Enqueue(prompt("a"), PriorityNormal)
	q.Enqueue(prompt("b"), PriorityNormal)

	first := q.Dequeue()
	if q.Dequeue() != nil {
		t.Fatal("admission control should block the second job")
	}
	q.Complete(first.ID, "done")
	if q.Dequeue() == nil {
		t.Error("completing the in-flight job must free a slot")
	}
}

// ============================================================================
// Retry and DLQ Tests
// ============================================================================

func TestFail_RetryExhaustionAfterExactlyMaxAttempts(t *testing.T) {
	clock := newTestClock()
	q := newTestQueue(clock)

	id := q.Enqueue(prompt("doomed"), PriorityNormal)
	bang := errors.New("upstream exploded")

	dequeues := 0
	for {
		job := q.Dequeue()
		if job == nil {
			// Not terminal yet: advance past the backoff and retry.
			current, _ := q.Get(id)
			if current.Status.Terminal() {
				break
			}
			clock.advance(q.retryDelay(current.Attempts) + time.Second)
			continue
		}
		dequeues++
		q.Fail(job.ID, bang)
	}

	if dequeues != 3 {
		t.Errorf("job processed %d times, want exactly maxAttempts=3", dequeues)
	}

	job, _ := q.Get(id)
	if job.Status != StatusFailed {
		t.Errorf("status %s, want failed", job.Status)
	}
	if job.Attempts != job.MaxAttempts {
		t.Errorf("attempts %d != maxAttempts %d", job.Attempts, job.MaxAttempts)
	}
	if len(q.DLQ()) != 1 {
		t.Errorf("DLQ size %d, want 1", len(q.DLQ()))
	}
}

func TestFail_RetryNotEligibleBeforeBackoff(t *testing.T) {
	clock := newTestClock()
	q := newTestQueue(clock)

	q.Enqueue(prompt("flaky"), PriorityNormal)
	job := q.Dequeue()
	q.Fail(job.ID, errors.New("transient"))

	if q.Dequeue() != nil {
		t.Error("retry must not be eligible before the backoff delay")
	}
	clock.advance(5*time.Second + time.Millisecond)
	if q.Dequeue() == nil {
		t.Error("retry must be eligible after the backoff delay")
	}
}

func TestFail_BackoffDoubles(t *testing.T) {
	clock := newTestClock()
	q := newTestQueue(clock, func(c *config.QueueConfig) { c.MaxAttempts = 5 })

	q.Enqueue(prompt("flaky"), PriorityNormal)

	// Attempt 1 -> 5s, attempt 2 -> 10s, attempt 3 -> 20s.
	for _, wantDelay := range []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second} {
		job := q.Dequeue()
		if job == nil {
			t.Fatal("expected job to be eligible")
		}
		q.Fail(job.ID, errors.New("transient"))

		clock.advance(wantDelay - time.Second)
		if q.Dequeue() != nil {
			t.Fatalf("job eligible %s early", time.Second)
		}
		clock.advance(2 * time.Second)
	}
}

func TestFail_BackoffCapped(t *testing.T) {
	clock := newTestClock()
	q := newTestQueue(clock, func(c *config.QueueConfig) {
		c.MaxAttempts = 20
		c.RetryMaxDelay = 8 * time.Second
	})

	if d := q.retryDelay(10); d != 8*time.Second {
		t.Errorf("delay for attempt 10 = %s, want capped 8s", d)
	}
}

func TestRetryFromDLQ(t *testing.T) {
	clock := newTestClock()
	q := newTestQueue(clock, func(c *config.QueueConfig) { c.MaxAttempts = 1 })

	id := q.Enqueue(prompt("doomed"), PriorityNormal)
	job := q.Dequeue()
	q.Fail(job.ID, errors.New("permanent"))

	if len(q.DLQ()) != 1 {
		t.Fatalf("DLQ size %d, want 1", len(q.DLQ()))
	}

	if err := q.RetryFromDLQ(id); err != nil {
		t.Fatalf("RetryFromDLQ failed: %v", err)
	}
	if len(q.DLQ()) != 0 {
		t.Error("job must leave the DLQ on manual retry")
	}

	retried, _ := q.Get(id)
	if retried.Status != StatusPending || retried.Attempts != 0 {
		t.Errorf("retried job not reset: status=%s attempts=%d", retried.Status, retried.Attempts)
	}
	if q.Dequeue() == nil {
		t.Error("manually retried job must be dequeueable immediately")
	}
}

func TestRetryFromDLQ_UnknownJob(t *testing.T) {
	q := newTestQueue(newTestClock())
	if err := q.RetryFromDLQ("job_missing"); !errors.Is(err, ErrNotInDLQ) {
		t.Errorf("expected ErrNotInDLQ, got %v", err)
	}
}

func TestPruneDLQ_RetentionWindow(t *testing.T) {
	clock := newTestClock()
	q := newTestQueue(clock, func(c *config.QueueConfig) { c.MaxAttempts = 1 })

	old := q.Enqueue(prompt("old"), PriorityNormal)
	q.Fail(q.Dequeue().ID, errors.New("x"))

	clock.advance(8 * 24 * time.Hour)
	fresh := q.Enqueue(prompt("fresh"), PriorityNormal)
	q.Fail(q.Dequeue().ID, errors.New("x"))

	if removed := q.PruneDLQ(7 * 24 * time.Hour); removed != 1 {
		t.Errorf("pruned %d, want 1", removed)
	}
	if _, ok := q.Get(old); ok {
		t.Error("pruned job must be forgotten entirely")
	}
	if _, ok := q.Get(fresh); !ok {
		t.Error("job inside the retention window must survive")
	}
}

// ============================================================================
// Lifecycle and Identity Tests
// ============================================================================

func TestRoundTrip_EnqueueCompleteGet(t *testing.T) {
	q := newTestQueue(newTestClock())

	id := q.Enqueue(prompt("hello"), PriorityNormal)
	q.Complete(id, "the result")

	job, ok := q.Get(id)
	if !ok {
		t.Fatal("job lost after complete")
	}
	if job.Status != StatusCompleted || job.Result != "the result" {
		t.Errorf("got status=%s result=%q", job.Status, job.Result)
	}
}

func TestCompleteAndFail_UnknownJobIsNoOp(t *testing.T) {
	q := newTestQueue(newTestClock())
	q.Complete("job_never_existed", "result") // must not panic
	q.Fail("job_never_existed", errors.New("x"))

	s := q.GetStats()
	if s.CompletedTotal != 0 || s.FailedTotal != 0 {
		t.Errorf("no-op operations must not count: %+v", s)
	}
}

func TestComplete_TerminalJobIsNoOp(t *testing.T) {
	q := newTestQueue(newTestClock())
	id := q.Enqueue(prompt("x"), PriorityNormal)
	q.Complete(id, "first")
	q.Complete(id, "second")

	job, _ := q.Get(id)
	if job.Result != "first" {
		t.Errorf("terminal job mutated: %q", job.Result)
	}
}

func TestEnqueue_UniqueIDsForIdenticalPayloads(t *testing.T) {
	q := newTestQueue(newTestClock())
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id := q.Enqueue(prompt("same payload"), PriorityNormal)
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate job ID %s", id)
		}
		seen[id] = struct{}{}
	}
}

func TestDLQJobsAreFailedWithExhaustedAttempts(t *testing.T) {
	clock := newTestClock()
	q := newTestQueue(clock, func(c *config.QueueConfig) { c.MaxAttempts = 2 })

	q.Enqueue(prompt("a"), PriorityNormal)
	for {
		job := q.Dequeue()
		if job == nil {
			if dlq := q.DLQ(); len(dlq) > 0 {
				break
			}
			clock.advance(time.Minute)
			continue
		}
		q.Fail(job.ID, errors.New("x"))
	}

	for _, job := range q.DLQ() {
		if job.Status != StatusFailed {
			t.Errorf("DLQ job %s has status %s", job.ID, job.Status)
		}
		if job.Attempts != job.MaxAttempts {
			t.Errorf("DLQ job %s attempts %d != maxAttempts %d",
				job.ID, job.Attempts, job.MaxAttempts)
		}
	}
}

// ============================================================================
// Stats and Metrics Tests
// ============================================================================

func TestGetStats(t *testing.T) {
	clock := newTestClock()
	q := newTestQueue(clock)

	q.Enqueue(prompt("a"), PriorityNormal)
	q.Enqueue(prompt("b"), PriorityHigh)
	q.Dequeue()

	s := q.GetStats()
	if s.Pending != 1 || s.Processing != 1 {
		t.Errorf("pending=%d processing=%d, want 1/1", s.Pending, s.Processing)
	}
	if s.EnqueuedTotal != 2 {
		t.Errorf("enqueued total %d, want 2", s.EnqueuedTotal)
	}
}

func TestQueue_EmitsMetrics(t *testing.T) {
	collector := metrics.NewCollector(metrics.Options{Namespace: "test"})
	clock := newTestClock()
	cfg := testQueueConfig()
	q := New(cfg, WithClock(clock.now), WithMetrics(collector))

	id := q.Enqueue(prompt("a"), PriorityNormal)
	q.Dequeue()
	q.Complete(id, "done")

	ops := func(op string) float64 {
		return collector.CounterValue("queue_operations_total",
			metrics.Labels{"op": op, "priority": "normal"})
	}
	if ops("enqueue") != 1 || ops("dequeue") != 1 || ops("complete") != 1 {
		t.Errorf("operation counters: enqueue=%g dequeue=%g complete=%g",
			ops("enqueue"), ops("dequeue"), ops("complete"))
	}
	if size := collector.GaugeValue("queue_size", nil); size != 0 {
		t.Errorf("queue_size gauge %g, want 0", size)
	}
}

// ============================================================================
// Concurrency Tests
// ============================================================================

func TestQueue_ConcurrentProducersAndConsumers(t *testing.T) {
	q := New(config.QueueConfig{
		MaxConcurrent:  100,
		MaxAttempts:    3,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  time.Second,
	})

	const jobs = 200
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < jobs/4; j++ {
				q.Enqueue(prompt("load"), PriorityNormal)
			}
		}()
	}
	wg.Wait()

	done := make(chan struct{})
	var completed sync.WaitGroup
	for i := 0; i < 8; i++ {
		completed.Add(1)
		go func() {
			defer completed.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				if job := q.Dequeue(); job != nil {
					q.Complete(job.ID, "ok")
				} else if q.GetStats().CompletedTotal == jobs {
					return
				}
			}
		}()
	}
	completed.Wait()
	close(done)

	s := q.GetStats()
	if s.CompletedTotal != jobs {
		t.Errorf("completed %d of %d", s.CompletedTotal, jobs)
	}
	if s.Processing != 0 || s.Pending != 0 {
		t.Errorf("leftover work: %+v", s)
	}
}
