// Package redisqueue is the distributed variant of the job queue. Jobs
// live in Redis so several processes can produce and consume from one
// shared queue. The layout mirrors the in-memory queue: one ready list
// per priority band, a sorted set of retry jobs keyed by eligibility
// time, an in-flight counter for admission control, and a dead-letter
// list.
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/TheProjectSEO/shield/pkg/config"
	"github.com/TheProjectSEO/shield/pkg/queue"
)

// ErrNotInDLQ mirrors the in-memory queue's error for operator retries of
// jobs that are not dead-lettered.
var ErrNotInDLQ = errors.New("redisqueue: job is not in the dead-letter queue")

// jobTTL bounds how long terminal job records stay readable after they
// finish. Dead letters are pinned by the DLQ list and pruned separately.
const jobTTL = 7 * 24 * time.Hour

// Queue is a Redis-backed priority job queue.
type Queue struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
	now    func() time.Time

	maxConcurrent      int
	defaultMaxAttempts int
	retryBase          time.Duration
	retryMax           time.Duration
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithLogger overrides the default component logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) { q.logger = logger }
}

// New connects to Redis and returns a queue. The connection is verified
// with a ping before the queue is handed out.
func New(ctx context.Context, redisCfg config.RedisConfig, queueCfg config.QueueConfig, opts ...Option) (*Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     redisCfg.Addr,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redisqueue: failed to connect to %s: %w", redisCfg.Addr, err)
	}

	q := &Queue{
		client:             client,
		prefix:             redisCfg.KeyPrefix,
		logger:             slog.Default().With("component", "redisqueue"),
		now:                time.Now,
		maxConcurrent:      queueCfg.MaxConcurrent,
		defaultMaxAttempts: queueCfg.MaxAttempts,
		retryBase:          queueCfg.RetryBaseDelay,
		retryMax:           queueCfg.RetryMaxDelay,
	}
	if q.prefix == "" {
		q.prefix = "shield"
	}
	for _, opt := range opts {
		opt(q)
	}

	q.logger.Info("redis queue connected", "addr", redisCfg.Addr, "db", redisCfg.DB, "prefix", q.prefix)
	return q, nil
}

// Close releases the Redis connection pool.
func (q *Queue) Close() error {
	return q.client.Close()
}

func (q *Queue) readyKey(p queue.Priority) string {
	return fmt.Sprintf("%s:ready:%s", q.prefix, p)
}

func (q *Queue) jobKey(id string) string { return q.prefix + ":job:" + id }
func (q *Queue) retryKey() string        { return q.prefix + ":retry" }
func (q *Queue) processingKey() string   { return q.prefix + ":processing" }
func (q *Queue) dlqKey() string          { return q.prefix + ":dlq" }

// wireJob is the Redis representation of a job. The payload travels as
// raw JSON next to its kind so any consumer can decode it.
type wireJob struct {
	ID          string          `json:"id"`
	PayloadKind string          `json:"payload_kind"`
	Payload     json.RawMessage `json:"payload"`
	Priority    queue.Priority  `json:"priority"`
	Status      queue.Status    `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Error       string          `json:"error,omitempty"`
	Result      string          `json:"result,omitempty"`
}

func (w *wireJob) toJob() (*queue.Job, error) {
	payload, err := queue.DecodePayload(w.PayloadKind, w.Payload)
	if err != nil {
		return nil, err
	}
	return &queue.Job{
		ID:          w.ID,
		Payload:     payload,
		PayloadKind: w.PayloadKind,
		Priority:    w.Priority,
		Status:      w.Status,
		Attempts:    w.Attempts,
		MaxAttempts: w.MaxAttempts,
		CreatedAt:   w.CreatedAt,
		StartedAt:   w.StartedAt,
		CompletedAt: w.CompletedAt,
		Error:       w.Error,
		Result:      w.Result,
	}, nil
}

func (q *Queue) saveJob(ctx context.Context, w *wireJob) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("redisqueue: failed to encode job %s: %w", w.ID, err)
	}
	ttl := time.Duration(0)
	if w.Status.Terminal() {
		ttl = jobTTL
	}
	if err := q.client.Set(ctx, q.jobKey(w.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redisqueue: failed to save job %s: %w", w.ID, err)
	}
	return nil
}

func (q *Queue) loadJob(ctx context.Context, id string) (*wireJob, error) {
	data, err := q.client.Get(ctx, q.jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redisqueue: failed to load job %s: %w", id, err)
	}
	var w wireJob
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("redisqueue: failed to decode job %s: %w", id, err)
	}
	return &w, nil
}

// Enqueue adds a job to the shared queue and returns its ID.
func (q *Queue) Enqueue(ctx context.Context, payload queue.Payload, priority queue.Priority, maxAttempts int) (string, error) {
	now := q.now()
	if maxAttempts <= 0 {
		maxAttempts = q.defaultMaxAttempts
	}

	encoded, err := queue.EncodePayload(payload)
	if err != nil {
		return "", fmt.Errorf("redisqueue: failed to encode payload: %w", err)
	}
	w := &wireJob{
		ID:          queue.NewJobID(payload, now),
		PayloadKind: payload.Kind(),
		Payload:     encoded,
		Priority:    priority,
		Status:      queue.StatusPending,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
	}
	if err := q.saveJob(ctx, w); err != nil {
		return "", err
	}
	if err := q.client.LPush(ctx, q.readyKey(priority), w.ID).Err(); err != nil {
		return "", fmt.Errorf("redisqueue: failed to enqueue %s: %w", w.ID, err)
	}

	q.logger.Debug("job enqueued", "job_id", w.ID, "priority", priority.String(), "kind", w.PayloadKind)
	return w.ID, nil
}

// promoteDueRetries moves retry jobs whose backoff has elapsed back onto
// their ready list.
func (q *Queue) promoteDueRetries(ctx context.Context) error {
	now := q.now()
	ids, err := q.client.ZRangeByScore(ctx, q.retryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.UnixNano()),
	}).Result()
	if err != nil {
		return fmt.Errorf("redisqueue: failed to scan retry set: %w", err)
	}

	for _, id := range ids {
		removed, err := q.client.ZRem(ctx, q.retryKey(), id).Result()
		if err != nil {
			return fmt.Errorf("redisqueue: failed to claim retry %s: %w", id, err)
		}
		// Another consumer promoted it first.
		if removed == 0 {
			continue
		}
		w, err := q.loadJob(ctx, id)
		if err != nil {
			return err
		}
		if w == nil {
			q.logger.Warn("retry set referenced a missing job", "job_id", id)
			continue
		}
		if err := q.client.LPush(ctx, q.readyKey(w.Priority), id).Err(); err != nil {
			return fmt.Errorf("redisqueue: failed to requeue retry %s: %w", id, err)
		}
	}
	return nil
}

// Dequeue returns the next eligible job, or nil when nothing is ready or
// the in-flight bound is reached. Bands are scanned highest priority
// first; within a band jobs come back in enqueue order.
func (q *Queue) Dequeue(ctx context.Context) (*queue.Job, error) {
	if err := q.promoteDueRetries(ctx); err != nil {
		return nil, err
	}

	// Reserve an in-flight slot before popping. The counter, not the
	// popped list entry, is what bounds concurrency across processes.
	inflight, err := q.client.Incr(ctx, q.processingKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redisqueue: failed to reserve in-flight slot: %w", err)
	}
	if inflight > int64(q.maxConcurrent) {
		q.client.Decr(ctx, q.processingKey())
		return nil, nil
	}

	for prio := queue.PriorityCritical; prio >= queue.PriorityLow; prio-- {
		id, err := q.client.RPop(ctx, q.readyKey(prio)).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			q.client.Decr(ctx, q.processingKey())
			return nil, fmt.Errorf("redisqueue: failed to pop ready list: %w", err)
		}

		job, err := q.claim(ctx, id)
		if err != nil {
			q.client.Decr(ctx, q.processingKey())
			return nil, err
		}
		if job == nil {
			q.logger.Warn("ready list referenced a missing job", "job_id", id)
			continue
		}
		return job, nil
	}

	q.client.Decr(ctx, q.processingKey())
	return nil, nil
}

// DequeueBlock waits up to timeout for a job, using BRPOP across the
// ready lists so idle consumers do not spin. Band order on the BRPOP key
// list preserves priority when several bands have work. Returns nil on
// timeout or when the in-flight bound is reached.
func (q *Queue) DequeueBlock(ctx context.Context, timeout time.Duration) (*queue.Job, error) {
	if err := q.promoteDueRetries(ctx); err != nil {
		return nil, err
	}

	inflight, err := q.client.Incr(ctx, q.processingKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redisqueue: failed to reserve in-flight slot: %w", err)
	}
	if inflight > int64(q.maxConcurrent) {
		q.client.Decr(ctx, q.processingKey())
		return nil, nil
	}

	keys := make([]string, 0, 4)
	for prio := queue.PriorityCritical; prio >= queue.PriorityLow; prio-- {
		keys = append(keys, q.readyKey(prio))
	}
	res, err := q.client.BRPop(ctx, timeout, keys...).Result()
	if errors.Is(err, redis.Nil) {
		q.client.Decr(ctx, q.processingKey())
		return nil, nil
	}
	if err != nil {
		q.client.Decr(ctx, q.processingKey())
		return nil, fmt.Errorf("redisqueue: blocking pop failed: %w", err)
	}

	job, err := q.claim(ctx, res[1])
	if err != nil || job == nil {
		q.client.Decr(ctx, q.processingKey())
		if job == nil && err == nil {
			q.logger.Warn("ready list referenced a missing job", "job_id", res[1])
		}
		return nil, err
	}
	return job, nil
}

// claim transitions a popped job to PROCESSING. A nil job without error
// means the referenced record no longer exists.
func (q *Queue) claim(ctx context.Context, id string) (*queue.Job, error) {
	w, err := q.loadJob(ctx, id)
	if err != nil || w == nil {
		return nil, err
	}

	now := q.now()
	w.Status = queue.StatusProcessing
	w.Attempts++
	w.StartedAt = &now
	if err := q.saveJob(ctx, w); err != nil {
		return nil, err
	}
	return w.toJob()
}

// Complete marks a job finished with its result. Unknown and already
// terminal jobs are a no-op.
func (q *Queue) Complete(ctx context.Context, jobID, result string) error {
	w, err := q.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	if w == nil || w.Status.Terminal() {
		return nil
	}
	if w.Status == queue.StatusProcessing {
		q.client.Decr(ctx, q.processingKey())
	}

	now := q.now()
	w.Status = queue.StatusCompleted
	w.Result = result
	w.CompletedAt = &now
	if err := q.saveJob(ctx, w); err != nil {
		return err
	}

	q.logger.Debug("job completed", "job_id", jobID, "attempts", w.Attempts)
	return nil
}

// Fail records a failed attempt, scheduling a backoff retry while the
// attempt budget lasts and dead-lettering the job once it is exhausted.
func (q *Queue) Fail(ctx context.Context, jobID string, jobErr error) error {
	w, err := q.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	if w == nil || w.Status.Terminal() {
		return nil
	}
	if w.Status == queue.StatusProcessing {
		q.client.Decr(ctx, q.processingKey())
	}
	if jobErr != nil {
		w.Error = jobErr.Error()
	}

	if w.Attempts < w.MaxAttempts {
		w.Status = queue.StatusRetry
		eligibleAt := q.now().Add(q.retryDelay(w.Attempts))
		if err := q.saveJob(ctx, w); err != nil {
			return err
		}
		if err := q.client.ZAdd(ctx, q.retryKey(), &redis.Z{
			Score:  float64(eligibleAt.UnixNano()),
			Member: jobID,
		}).Err(); err != nil {
			return fmt.Errorf("redisqueue: failed to schedule retry %s: %w", jobID, err)
		}
		q.logger.Debug("job scheduled for retry",
			"job_id", jobID, "attempt", w.Attempts, "eligible_at", eligibleAt)
		return nil
	}

	now := q.now()
	w.Status = queue.StatusFailed
	w.CompletedAt = &now
	if err := q.saveJob(ctx, w); err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.dlqKey(), jobID).Err(); err != nil {
		return fmt.Errorf("redisqueue: failed to dead-letter %s: %w", jobID, err)
	}

	q.logger.Warn("job dead-lettered", "job_id", jobID, "attempts", w.Attempts, "error", w.Error)
	return nil
}

// retryDelay matches the in-memory queue's schedule: base doubled per
// prior attempt, capped.
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

// Get returns a job by ID.
func (q *Queue) Get(ctx context.Context, jobID string) (*queue.Job, bool, error) {
	w, err := q.loadJob(ctx, jobID)
	if err != nil || w == nil {
		return nil, false, err
	}
	job, err := w.toJob()
	if err != nil {
		return nil, false, err
	}
	return job, true, nil
}

// DLQ returns every dead-lettered job, oldest first.
func (q *Queue) DLQ(ctx context.Context) ([]*queue.Job, error) {
	ids, err := q.client.LRange(ctx, q.dlqKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redisqueue: failed to list dead letters: %w", err)
	}

	// LPush prepends, so the list runs newest to oldest.
	jobs := make([]*queue.Job, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		w, err := q.loadJob(ctx, ids[i])
		if err != nil {
			return nil, err
		}
		if w == nil {
			continue
		}
		job, err := w.toJob()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// RetryFromDLQ moves a dead-lettered job back into the queue with a fresh
// attempt budget.
func (q *Queue) RetryFromDLQ(ctx context.Context, jobID string) error {
	removed, err := q.client.LRem(ctx, q.dlqKey(), 1, jobID).Result()
	if err != nil {
		return fmt.Errorf("redisqueue: failed to remove %s from dead-letter list: %w", jobID, err)
	}
	if removed == 0 {
		return ErrNotInDLQ
	}

	w, err := q.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	if w == nil {
		return ErrNotInDLQ
	}

	w.Status = queue.StatusPending
	w.Attempts = 0
	w.Error = ""
	w.CompletedAt = nil
	w.StartedAt = nil
	if err := q.saveJob(ctx, w); err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.readyKey(w.Priority), jobID).Err(); err != nil {
		return fmt.Errorf("redisqueue: failed to requeue %s: %w", jobID, err)
	}

	q.logger.Info("dead-lettered job requeued", "job_id", jobID)
	return nil
}

// Stats reports queue depth per band plus in-flight and dead-letter
// counts.
type Stats struct {
	Ready      map[string]int64 `json:"ready"`
	Retry      int64            `json:"retry"`
	Processing int64            `json:"processing"`
	DLQ        int64            `json:"dlq"`
}

// GetStats reads the current queue gauges.
func (q *Queue) GetStats(ctx context.Context) (Stats, error) {
	stats := Stats{Ready: make(map[string]int64)}
	for prio := queue.PriorityLow; prio <= queue.PriorityCritical; prio++ {
		n, err := q.client.LLen(ctx, q.readyKey(prio)).Result()
		if err != nil {
			return Stats{}, fmt.Errorf("redisqueue: failed to read ready depth: %w", err)
		}
		stats.Ready[prio.String()] = n
	}

	var err error
	if stats.Retry, err = q.client.ZCard(ctx, q.retryKey()).Result(); err != nil {
		return Stats{}, fmt.Errorf("redisqueue: failed to read retry depth: %w", err)
	}
	if stats.Processing, err = q.client.Get(ctx, q.processingKey()).Int64(); err != nil && !errors.Is(err, redis.Nil) {
		return Stats{}, fmt.Errorf("redisqueue: failed to read in-flight count: %w", err)
	}
	if stats.DLQ, err = q.client.LLen(ctx, q.dlqKey()).Result(); err != nil {
		return Stats{}, fmt.Errorf("redisqueue: failed to read dead-letter depth: %w", err)
	}
	return stats, nil
}
