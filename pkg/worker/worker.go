// Package worker runs the pool of goroutines that drain the job queue.
// Each worker polls for an eligible job, runs the processor under the
// hard job timeout, and reports the outcome back to the queue. A panic
// in the processor fails the job and restarts the worker loop; the pool
// never silently stops dequeuing.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/TheProjectSEO/shield/pkg/config"
	"github.com/TheProjectSEO/shield/pkg/queue"
	"github.com/TheProjectSEO/shield/pkg/telemetry/metrics"
)

// ProcessorFunc handles one job. The context carries the hard job
// timeout. The returned string becomes the job result; a non-nil error
// sends the job through the queue's retry policy.
type ProcessorFunc func(ctx context.Context, job *queue.Job) (string, error)

// Status is a worker's observable state.
type Status string

// Worker states. A worker in StatusError has just recovered from a
// processor panic and is restarting its loop.
const (
	StatusIdle  Status = "idle"
	StatusBusy  Status = "busy"
	StatusError Status = "error"
)

// Stat is a point-in-time snapshot of one worker.
type Stat struct {
	ID            int        `json:"id"`
	Status        Status     `json:"status"`
	JobsProcessed uint64     `json:"jobs_processed"`
	JobsFailed    uint64     `json:"jobs_failed"`
	Panics        uint64     `json:"panics"`
	CurrentJobID  string     `json:"current_job_id,omitempty"`
	LastActive    *time.Time `json:"last_active,omitempty"`
}

// Pool owns the worker goroutines.
type Pool struct {
	queue      *queue.Queue
	processor  ProcessorFunc
	count      int
	pollEvery  time.Duration
	jobTimeout time.Duration
	logger     *slog.Logger
	metrics    *metrics.Collector
	now        func() time.Time

	mu      sync.Mutex
	workers []*workerState
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

type workerState struct {
	mu   sync.Mutex
	stat Stat
}

func (w *workerState) set(fn func(*Stat)) {
	w.mu.Lock()
	fn(&w.stat)
	w.mu.Unlock()
}

func (w *workerState) snapshot() Stat {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stat
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger overrides the default component logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) { p.logger = logger }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(p *Pool) { p.metrics = c }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// New builds a pool draining q with proc. Workers are not started until
// Start is called.
func New(q *queue.Queue, workerCfg config.WorkerConfig, jobTimeout time.Duration, proc ProcessorFunc, opts ...Option) *Pool {
	p := &Pool{
		queue:      q,
		processor:  proc,
		count:      workerCfg.Count,
		pollEvery:  workerCfg.PollInterval,
		jobTimeout: jobTimeout,
		logger:     slog.Default().With("component", "worker"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	p.workers = make([]*workerState, p.count)
	for i := range p.workers {
		p.workers[i] = &workerState{stat: Stat{ID: i, Status: StatusIdle}}
	}
	return p
}

// Start launches the workers. It returns immediately; the pool runs
// until Stop is called or ctx is cancelled.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("worker: pool already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	for i := range p.workers {
		p.wg.Add(1)
		go p.run(runCtx, p.workers[i])
	}

	p.logger.Info("worker pool started", "workers", p.count, "job_timeout", p.jobTimeout)
	return nil
}

// Stop halts polling and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.cancel()
	p.running = false
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

// Stats snapshots every worker.
func (p *Pool) Stats() []Stat {
	stats := make([]Stat, len(p.workers))
	for i, w := range p.workers {
		stats[i] = w.snapshot()
	}
	return stats
}

// run is one worker's poll loop. It only returns on context
// cancellation; a processor panic is absorbed by processJob and the loop
// continues with the next poll.
func (p *Pool) run(ctx context.Context, w *workerState) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	for {
		job := p.queue.Dequeue()
		if job == nil {
			w.set(func(s *Stat) {
				if s.Status == StatusBusy {
					s.Status = StatusIdle
				}
			})
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			continue
		}

		p.processJob(ctx, w, job)

		// Drain eagerly while jobs are available, but still honor
		// cancellation between jobs.
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// processJob runs the processor for one job under the hard timeout and
// reports the outcome. It is the recovery boundary for processor panics.
func (p *Pool) processJob(ctx context.Context, w *workerState, job *queue.Job) {
	start := p.now()
	w.set(func(s *Stat) {
		s.Status = StatusBusy
		s.CurrentJobID = job.ID
	})
	if p.metrics != nil {
		p.metrics.IncrementGauge("worker_busy", nil)
	}

	var (
		result string
		err    error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("worker: processor panicked: %v", r)
				w.set(func(s *Stat) {
					s.Status = StatusError
					s.Panics++
				})
				p.logger.Error("processor panicked, restarting worker loop",
					"worker_id", w.snapshot().ID, "job_id", job.ID, "panic", r)
			}
		}()

		jobCtx, cancel := context.WithTimeout(ctx, p.jobTimeout)
		defer cancel()
		result, err = p.processor(jobCtx, job)
	}()

	elapsed := p.now().Sub(start)
	outcome := "success"
	if err != nil {
		outcome = "failure"
		p.queue.Fail(job.ID, err)
	} else {
		p.queue.Complete(job.ID, result)
	}

	now := p.now()
	w.set(func(s *Stat) {
		s.JobsProcessed++
		if err != nil {
			s.JobsFailed++
		}
		s.CurrentJobID = ""
		s.LastActive = &now
		// A panic set StatusError inside the recover; it stays visible
		// until this worker picks up its next job.
		if s.Status == StatusBusy {
			s.Status = StatusIdle
		}
	})

	if p.metrics != nil {
		p.metrics.DecrementGauge("worker_busy", nil)
		p.metrics.IncrementCounter("worker_jobs_processed_total",
			metrics.Labels{"outcome": outcome, "kind": job.PayloadKind})
		p.metrics.ObserveHistogram("worker_job_duration_ms", nil,
			float64(elapsed.Milliseconds()))
	}
}
