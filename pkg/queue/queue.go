package queue

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/TheProjectSEO/shield/pkg/config"
	"github.com/TheProjectSEO/shield/pkg/telemetry/metrics"
)

// ErrNotInDLQ is returned by RetryFromDLQ for a job that is not
// dead-lettered. Unlike Complete and Fail, this is an operator action, so
// a missing job is surfaced rather than swallowed.
var ErrNotInDLQ = errors.New("queue: job is not in the dead-letter queue")

// DeadLetterStore persists dead-lettered jobs so they survive a restart.
// The in-memory queue stays authoritative; store errors are logged, never
// propagated to job processing.
type DeadLetterStore interface {
	Append(job *Job) error
	Delete(jobID string) error
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock replaces the time source. Retry backoff becomes fully
// deterministic under a fake clock.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithLogger sets the queue logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) { q.logger = logger }
}

// WithMetrics attaches a metrics collector. Every enqueue, dequeue,
// complete, and fail updates queue metrics through it.
func WithMetrics(c *metrics.Collector) Option {
	return func(q *Queue) { q.metrics = c }
}

// WithDeadLetterStore attaches DLQ persistence.
func WithDeadLetterStore(store DeadLetterStore) Option {
	return func(q *Queue) { q.dlqStore = store }
}

// Queue is the in-memory priority job queue. All methods are safe for
// concurrent use.
type Queue struct {
	maxConcurrent      int
	defaultMaxAttempts int
	retryBase          time.Duration
	retryMax           time.Duration
	now                func() time.Time
	logger             *slog.Logger
	metrics            *metrics.Collector
	dlqStore           DeadLetterStore

	mu         sync.Mutex
	jobs       map[string]*Job
	ready      [PriorityCritical + 1][]*Job // PENDING and RETRY jobs per band
	dlq        []*Job
	processing int
	seq        uint64

	enqueuedTotal  int64
	completedTotal int64
	failedTotal    int64
	retriedTotal   int64
}

// New creates a queue from the queue configuration.
func New(cfg config.QueueConfig, opts ...Option) *Queue {
	q := &Queue{
		maxConcurrent:      cfg.MaxConcurrent,
		defaultMaxAttempts: cfg.MaxAttempts,
		retryBase:          cfg.RetryBaseDelay,
		retryMax:           cfg.RetryMaxDelay,
		now:                time.Now,
		logger:             slog.Default().With("component", "queue"),
		jobs:               make(map[string]*Job),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// EnqueueOption adjusts a single enqueue call.
type EnqueueOption func(*Job)

// WithMaxAttempts overrides the queue's default attempt budget for one job.
func WithMaxAttempts(n int) EnqueueOption {
	return func(j *Job) {
		if n > 0 {
			j.MaxAttempts = n
		}
	}
}

// Enqueue adds a job and returns its ID.
func (q *Queue) Enqueue(payload Payload, priority Priority, opts ...EnqueueOption) string {
	now := q.now()
	id := NewJobID(payload, now)

	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	job := &Job{
		ID:          id,
		Payload:     payload,
		PayloadKind: payload.Kind(),
		Priority:    priority,
		Status:      StatusPending,
		MaxAttempts: q.defaultMaxAttempts,
		CreatedAt:   now,
		eligibleAt:  now,
		seq:         q.seq,
	}
	for _, opt := range opts {
		opt(job)
	}

	q.jobs[job.ID] = job
	q.pushReady(job)
	q.enqueuedTotal++

	q.recordOp("enqueue", job.Priority)
	q.logger.Debug("job enqueued",
		"job_id", job.ID, "priority", priority.String(), "kind", payload.Kind())
	return job.ID
}

// Dequeue returns the next eligible job, or nil when the queue is empty,
// no retry is due yet, or the in-flight bound is reached. Selection is
// priority descending, FIFO within a band. The returned copy is safe to
// read without the queue lock.
func (q *Queue) Dequeue() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.processing >= q.maxConcurrent {
		return nil
	}

	now := q.now()
	for prio := PriorityCritical; prio >= PriorityLow; prio-- {
		band := q.ready[prio]
		best := -1
		for i, job := range band {
			if job.eligibleAt.After(now) {
				continue
			}
			if best < 0 || job.seq < band[best].seq {
				best = i
			}
		}
		if best < 0 {
			continue
		}

		job := band[best]
		q.ready[prio] = append(band[:best], band[best+1:]...)

		job.Status = StatusProcessing
		job.Attempts++
		started := now
		job.StartedAt = &started
		q.processing++

		q.recordOp("dequeue", job.Priority)
		return job.clone()
	}
	return nil
}

// Complete marks a job finished with its result. An unknown or already
// terminal job ID is a no-op.
func (q *Queue) Complete(jobID, result string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok || job.Status.Terminal() {
		return
	}

	if job.Status == StatusProcessing {
		q.processing--
	} else {
		q.removeReady(job)
	}

	now := q.now()
	job.Status = StatusCompleted
	job.Result = result
	job.CompletedAt = &now
	q.completedTotal++

	q.recordOp("complete", job.Priority)
	q.logger.Debug("job completed", "job_id", jobID, "attempts", job.Attempts)
}

// Fail records a failed attempt. While the attempt budget lasts the job
// returns to the queue and becomes eligible again after exponential
// backoff; once exhausted it moves to the dead-letter queue. An unknown or
// already terminal job ID is a no-op.
func (q *Queue) Fail(jobID string, jobErr error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok || job.Status.Terminal() {
		return
	}

	if job.Status == StatusProcessing {
		q.processing--
	} else {
		q.removeReady(job)
	}

	if jobErr != nil {
		job.Error = jobErr.Error()
	}

	if job.Attempts < job.MaxAttempts {
		job.Status = StatusRetry
		job.eligibleAt = q.now().Add(q.retryDelay(job.Attempts))
		q.pushReady(job)
		q.retriedTotal++
		q.recordOp("retry", job.Priority)
		q.logger.Debug("job scheduled for retry",
			"job_id", jobID, "attempt", job.Attempts, "eligible_at", job.eligibleAt)
		return
	}

	now := q.now()
	job.Status = StatusFailed
	job.CompletedAt = &now
	q.dlq = append(q.dlq, job)
	q.failedTotal++

	if q.dlqStore != nil {
		if err := q.dlqStore.Append(job); err != nil {
			q.logger.Error("failed to persist dead-lettered job", "job_id", jobID, "error", err)
		}
	}

	q.recordOp("dead_letter", job.Priority)
	q.logger.Warn("job dead-lettered",
		"job_id", jobID, "attempts", job.Attempts, "error", job.Error)
}

// retryDelay implements retryBase * 2^(attempts-1), capped at retryMax.
func (q *Queue) retryDelay(attempts int) time.Duration {
	d := q.retryBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= q.retryMax {
			return q.retryMax
		}
	}
	if d > q.retryMax {
		return q.retryMax
	}
	return d
}

// Get returns a copy of the job, whatever its state, including
// dead-lettered and completed jobs.
func (q *Queue) Get(jobID string) (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return nil, false
	}
	return job.clone(), true
}

// DLQ returns copies of every dead-lettered job, oldest first.
func (q *Queue) DLQ() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Job, len(q.dlq))
	for i, job := range q.dlq {
		out[i] = job.clone()
	}
	return out
}

// RetryFromDLQ returns a dead-lettered job to the queue with a fresh
// attempt budget. Unknown IDs return ErrNotInDLQ.
func (q *Queue) RetryFromDLQ(jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := -1
	for i, job := range q.dlq {
		if job.ID == jobID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNotInDLQ
	}

	job := q.dlq[idx]
	q.dlq = append(q.dlq[:idx], q.dlq[idx+1:]...)

	job.Status = StatusPending
	job.Attempts = 0
	job.Error = ""
	job.CompletedAt = nil
	job.eligibleAt = q.now()
	q.pushReady(job)

	if q.dlqStore != nil {
		if err := q.dlqStore.Delete(jobID); err != nil {
			q.logger.Error("failed to delete dead-lettered job from store",
				"job_id", jobID, "error", err)
		}
	}

	q.recordOp("retry_from_dlq", job.Priority)
	q.logger.Info("job returned from dead-letter queue", "job_id", jobID)
	return nil
}

// RestoreDLQ re-registers dead-lettered jobs loaded from a persistent
// store at startup. Jobs already known are skipped.
func (q *Queue) RestoreDLQ(jobs []*Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	restored := 0
	for _, job := range jobs {
		if _, exists := q.jobs[job.ID]; exists {
			continue
		}
		job.Status = StatusFailed
		q.jobs[job.ID] = job
		q.dlq = append(q.dlq, job)
		restored++
	}
	if restored > 0 {
		q.updateGauges()
		q.logger.Info("restored dead-lettered jobs", "count", restored)
	}
}

// PruneDLQ drops dead-lettered jobs past the retention window and returns
// how many were removed.
func (q *Queue) PruneDLQ(retention time.Duration) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.now().Add(-retention)
	kept := q.dlq[:0]
	removed := 0
	for _, job := range q.dlq {
		if job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(q.jobs, job.ID)
			removed++
			continue
		}
		kept = append(kept, job)
	}
	q.dlq = kept

	if removed > 0 {
		q.updateGauges()
		q.logger.Info("pruned dead-letter queue", "removed", removed)
	}
	return removed
}

// PruneCompleted drops terminal completed jobs older than maxAge so the
// job map does not grow without bound.
func (q *Queue) PruneCompleted(maxAge time.Duration) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.now().Add(-maxAge)
	removed := 0
	for id, job := range q.jobs {
		if job.Status == StatusCompleted && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(q.jobs, id)
			removed++
		}
	}
	return removed
}

// Stats is a snapshot of queue state and lifetime counters.
type Stats struct {
	Pending        int   `json:"pending"`
	Retry          int   `json:"retry"`
	Processing     int   `json:"processing"`
	DLQSize        int   `json:"dlq_size"`
	MaxConcurrent  int   `json:"max_concurrent"`
	EnqueuedTotal  int64 `json:"enqueued_total"`
	CompletedTotal int64 `json:"completed_total"`
	FailedTotal    int64 `json:"failed_total"`
	RetriedTotal   int64 `json:"retried_total"`
}

// GetStats returns a snapshot of the queue counters.
func (q *Queue) GetStats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Stats{
		Processing:     q.processing,
		DLQSize:        len(q.dlq),
		MaxConcurrent:  q.maxConcurrent,
		EnqueuedTotal:  q.enqueuedTotal,
		CompletedTotal: q.completedTotal,
		FailedTotal:    q.failedTotal,
		RetriedTotal:   q.retriedTotal,
	}
	for _, band := range q.ready {
		for _, job := range band {
			if job.Status == StatusRetry {
				s.Retry++
			} else {
				s.Pending++
			}
		}
	}
	return s
}

// Size returns the number of jobs waiting to run (pending plus retry).
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, band := range q.ready {
		n += len(band)
	}
	return n
}

func (q *Queue) pushReady(job *Job) {
	q.ready[job.Priority] = append(q.ready[job.Priority], job)
	q.updateGauges()
}

func (q *Queue) removeReady(job *Job) {
	band := q.ready[job.Priority]
	for i, j := range band {
		if j.ID == job.ID {
			q.ready[job.Priority] = append(band[:i], band[i+1:]...)
			return
		}
	}
}

// recordOp emits the queue operation counter and refreshes gauges.
// Callers hold the queue lock.
func (q *Queue) recordOp(op string, prio Priority) {
	if q.metrics == nil {
		return
	}
	q.metrics.IncrementCounter("queue_operations_total",
		metrics.Labels{"op": op, "priority": prio.String()})
	q.updateGauges()
}

func (q *Queue) updateGauges() {
	if q.metrics == nil {
		return
	}
	waiting := 0
	for _, band := range q.ready {
		waiting += len(band)
	}
	q.metrics.SetGauge("queue_size", nil, float64(waiting))
	q.metrics.SetGauge("queue_processing", nil, float64(q.processing))
	q.metrics.SetGauge("queue_dlq_size", nil, float64(len(q.dlq)))
}
