// Package engine is the composition root. It owns every component —
// caches, credential pool, queue, workers, upstream client, health
// monitor, metrics — wires them together explicitly, and exposes the
// one operation the HTTP surface needs: Generate, which answers from a
// cache when it can and defers to the queue when it cannot.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/TheProjectSEO/shield/pkg/cache"
	"github.com/TheProjectSEO/shield/pkg/config"
	"github.com/TheProjectSEO/shield/pkg/health"
	"github.com/TheProjectSEO/shield/pkg/keys"
	"github.com/TheProjectSEO/shield/pkg/queue"
	"github.com/TheProjectSEO/shield/pkg/queue/dlqstore"
	"github.com/TheProjectSEO/shield/pkg/semcache"
	"github.com/TheProjectSEO/shield/pkg/telemetry/metrics"
	"github.com/TheProjectSEO/shield/pkg/upstream"
	"github.com/TheProjectSEO/shield/pkg/worker"
)

// embeddingDim is the vector size of the default hash embedder. A real
// embedding model replaces it through WithEmbedder.
const embeddingDim = 256

// completer is the upstream surface the processor needs.
type completer interface {
	Complete(ctx context.Context, req *upstream.Request, key *keys.Key) (*upstream.Response, error)
}

// GenerateRequest is one inbound completion request.
type GenerateRequest struct {
	Prompt      string
	Model       string
	MaxTokens   int
	Priority    queue.Priority
	MaxAttempts int
}

// GenerateResult is the immediate answer to a GenerateRequest: either a
// cached response or the ID of the queued job that will produce one.
type GenerateResult struct {
	Cached   bool   `json:"cached"`
	Source   string `json:"source,omitempty"`
	Response string `json:"response,omitempty"`
	JobID    string `json:"job_id,omitempty"`
}

// Engine holds the wired components.
type Engine struct {
	cfg       *config.Config
	logger    *slog.Logger
	collector *metrics.Collector
	exact     *cache.Cache
	semantic  *semcache.Store
	keys      *keys.Manager
	queue     *queue.Queue
	dlqStore  *dlqstore.Store
	pruner    *dlqstore.Pruner
	upstream  completer
	pool      *worker.Pool
	monitor   *health.Monitor
	watcher   *config.Watcher

	cancel    context.CancelFunc
	sweepStop chan struct{}
	running   bool
}

// Option overrides a default component, mostly for tests.
type Option func(*Engine)

// WithUpstream replaces the HTTP completion client.
func WithUpstream(c completer) Option {
	return func(e *Engine) { e.upstream = c }
}

// WithEmbedder replaces the default hash embedder for the semantic cache.
func WithEmbedder(emb semcache.Embedder) Option {
	return func(e *Engine) {
		cfg := e.cfg.SemanticCache
		e.semantic = semcache.New(emb, cfg.SimilarityThreshold, cfg.MaxEntries, cfg.TTL,
			semcache.WithMetrics(e.collector))
	}
}

// WithConfigWatcher attaches a config file watcher for hot reload.
func WithConfigWatcher(w *config.Watcher) Option {
	return func(e *Engine) { e.watcher = w }
}

// New wires an engine from configuration. No goroutines run until
// Start.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:    cfg,
		logger: slog.Default().With("component", "engine"),
	}

	e.collector = metrics.NewCollector(metrics.Options{
		Namespace: cfg.Telemetry.Metrics.Namespace,
		Disabled:  cfg.Telemetry.Metrics.Disabled,
	})

	e.exact = cache.New(cfg.Cache.MaxEntries, cfg.Cache.TTL,
		cache.WithMetrics(e.collector, "exact"))
	e.semantic = semcache.New(
		semcache.NewHashEmbedder(embeddingDim),
		cfg.SemanticCache.SimilarityThreshold,
		cfg.SemanticCache.MaxEntries,
		cfg.SemanticCache.TTL,
		semcache.WithMetrics(e.collector),
	)
	e.keys = keys.NewManager(cfg.Upstream)

	queueOpts := []queue.Option{queue.WithMetrics(e.collector)}
	if cfg.Queue.DLQStorePath != "" {
		store, err := dlqstore.Open(cfg.Queue.DLQStorePath)
		if err != nil {
			return nil, fmt.Errorf("engine: failed to open dead-letter store: %w", err)
		}
		e.dlqStore = store
		queueOpts = append(queueOpts, queue.WithDeadLetterStore(store))
	}
	e.queue = queue.New(cfg.Queue, queueOpts...)

	if cfg.Upstream.BaseURL != "" {
		client, err := upstream.New(cfg.Upstream)
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		e.upstream = client
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.upstream == nil {
		return nil, fmt.Errorf("engine: no upstream configured")
	}

	e.pool = worker.New(e.queue, cfg.Workers, cfg.Queue.JobTimeout, e.process,
		worker.WithMetrics(e.collector))

	e.monitor = health.NewMonitor(cfg.Health, health.WithMetrics(e.collector))
	e.monitor.Register("keys", health.KeyPoolChecker(e.keys, cfg.Health))
	e.monitor.Register("cache", health.CacheChecker(e.exact, cfg.Health))
	e.monitor.Register("semantic_cache", health.SemanticCacheChecker(e.semantic, cfg.Health))
	e.monitor.Register("queue", health.QueueChecker(e.queue, cfg.Health))
	e.monitor.Register("workers", health.WorkerChecker(e.pool, cfg.Health))

	if e.dlqStore != nil {
		e.pruner = dlqstore.NewPruner(e.dlqStore, e.queue, cfg.Queue.DLQRetention)
	}

	return e, nil
}

// Start brings up the background machinery: persisted dead letters are
// restored, then workers, the health monitor, the cache sweeper, the
// DLQ pruner, and the config watcher start.
func (e *Engine) Start(ctx context.Context) error {
	if e.running {
		return fmt.Errorf("engine: already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true

	if e.dlqStore != nil {
		jobs, err := e.dlqStore.Load()
		if err != nil {
			cancel()
			return fmt.Errorf("engine: failed to restore dead letters: %w", err)
		}
		if len(jobs) > 0 {
			e.queue.RestoreDLQ(jobs)
			e.logger.Info("restored persisted dead letters", "count", len(jobs))
		}
	}

	if err := e.pool.Start(runCtx); err != nil {
		cancel()
		return err
	}
	if err := e.monitor.Start(runCtx); err != nil {
		cancel()
		return err
	}

	e.sweepStop = make(chan struct{})
	if e.cfg.Cache.SweepInterval > 0 {
		e.exact.StartSweeper(e.cfg.Cache.SweepInterval, e.sweepStop)
	}

	if e.pruner != nil {
		if err := e.pruner.Start(e.cfg.Queue.DLQPruneSchedule); err != nil {
			cancel()
			return err
		}
	}

	if e.watcher != nil {
		go func() {
			if err := e.watcher.Watch(runCtx, e.applyReload); err != nil {
				e.logger.Error("config watcher stopped", "error", err)
			}
		}()
	}

	e.logger.Info("engine started")
	return nil
}

// applyReload re-applies the hot-tunable subset of a reloaded config.
func (e *Engine) applyReload(cfg *config.Config) {
	e.semantic.SetThreshold(cfg.SemanticCache.SimilarityThreshold)
	e.logger.Info("hot config applied",
		"similarity_threshold", cfg.SemanticCache.SimilarityThreshold)
}

// Stop shuts the machinery down in reverse order. Workers finish their
// in-flight jobs first so nothing is lost mid-processing.
func (e *Engine) Stop() {
	if !e.running {
		return
	}
	e.running = false

	e.pool.Stop()
	e.monitor.Stop()
	if e.pruner != nil {
		e.pruner.Stop()
	}
	close(e.sweepStop)
	e.cancel()

	if e.dlqStore != nil {
		if err := e.dlqStore.Close(); err != nil {
			e.logger.Error("failed to close dead-letter store", "error", err)
		}
	}
	e.logger.Info("engine stopped")
}

// exactKey builds the exact-match cache key. Model is part of the key:
// the same prompt against a different model is a different answer.
func exactKey(prompt, model string) string {
	return model + "\x00" + prompt
}

// Generate answers a completion request. It probes the semantic cache,
// then the exact cache; only a combined miss costs a queue slot.
func (e *Engine) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if req.Prompt == "" {
		return nil, fmt.Errorf("engine: prompt is required")
	}
	model := req.Model
	if model == "" {
		model = e.cfg.Upstream.DefaultModel
	}

	if resp, ok := e.semantic.FindSimilar(req.Prompt); ok {
		e.collector.IncrementCounter("generate_requests_total",
			metrics.Labels{"result": "semantic_hit"})
		return &GenerateResult{Cached: true, Source: "semantic", Response: resp}, nil
	}

	if resp, ok := e.exact.Get(exactKey(req.Prompt, model)); ok {
		e.collector.IncrementCounter("generate_requests_total",
			metrics.Labels{"result": "exact_hit"})
		return &GenerateResult{Cached: true, Source: "exact", Response: resp}, nil
	}

	payload := queue.CompletionPayload{
		Prompt:    req.Prompt,
		Model:     model,
		MaxTokens: req.MaxTokens,
	}
	var opts []queue.EnqueueOption
	if req.MaxAttempts > 0 {
		opts = append(opts, queue.WithMaxAttempts(req.MaxAttempts))
	}
	jobID := e.queue.Enqueue(payload, req.Priority, opts...)

	e.collector.IncrementCounter("generate_requests_total",
		metrics.Labels{"result": "enqueued"})
	return &GenerateResult{JobID: jobID}, nil
}

// process is the worker processor: borrow a credential, call upstream,
// and feed both caches on success.
func (e *Engine) process(ctx context.Context, job *queue.Job) (string, error) {
	payload, ok := job.Payload.(queue.CompletionPayload)
	if !ok {
		return "", fmt.Errorf("engine: unsupported payload kind %q", job.PayloadKind)
	}

	key, err := e.keys.Acquire()
	if err != nil {
		return "", err
	}

	start := time.Now()
	resp, err := e.upstream.Complete(ctx, &upstream.Request{
		Prompt:    payload.Prompt,
		Model:     payload.Model,
		MaxTokens: payload.MaxTokens,
	}, key)
	latency := time.Since(start)
	e.keys.Release(key, latency, err)

	if err != nil {
		e.collector.IncrementCounter("upstream_calls_total", metrics.Labels{"outcome": "failure"})
		return "", err
	}
	e.collector.IncrementCounter("upstream_calls_total", metrics.Labels{"outcome": "success"})
	e.collector.ObserveHistogram("upstream_latency_ms", nil, float64(latency.Milliseconds()))

	e.exact.Set(exactKey(payload.Prompt, payload.Model), resp.Text)
	if err := e.semantic.Cache(payload.Prompt, resp.Text); err != nil {
		e.logger.Warn("failed to store semantic cache entry", "job_id", job.ID, "error", err)
	}

	return resp.Text, nil
}

// Job looks up a job by ID.
func (e *Engine) Job(id string) (*queue.Job, bool) {
	return e.queue.Get(id)
}

// DeadLetters lists the dead-letter queue.
func (e *Engine) DeadLetters() []*queue.Job {
	return e.queue.DLQ()
}

// RetryDeadLetter requeues a dead-lettered job.
func (e *Engine) RetryDeadLetter(id string) error {
	return e.queue.RetryFromDLQ(id)
}

// Health returns the latest health report.
func (e *Engine) Health() health.Report {
	return e.monitor.Report()
}

// QueueStats snapshots the queue.
func (e *Engine) QueueStats() queue.Stats {
	return e.queue.GetStats()
}

// Collector exposes the metrics registry for the HTTP surface.
func (e *Engine) Collector() *metrics.Collector {
	return e.collector
}
