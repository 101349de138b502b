package config

import "time"

// Config is the root configuration structure for the shield service.
// It covers the HTTP surface, queueing, caching, upstream API keys,
// workers, health monitoring, and telemetry.
type Config struct {
	// Server contains HTTP server configuration for the health, metrics,
	// and job submission endpoints.
	Server ServerConfig `yaml:"server"`

	// Queue contains configuration for the priority job queue, retry
	// policy, and dead-letter queue.
	Queue QueueConfig `yaml:"queue"`

	// Redis holds connection settings for the Redis-backed queue variant,
	// for deployments where several processes consume one shared queue.
	Redis RedisConfig `yaml:"redis"`

	// Cache contains configuration for the exact-match response cache.
	Cache CacheConfig `yaml:"cache"`

	// SemanticCache contains configuration for the similarity-based
	// response cache.
	SemanticCache SemanticCacheConfig `yaml:"semantic_cache"`

	// Upstream contains configuration for the AI completion API and the
	// credential pool used against it.
	Upstream UpstreamConfig `yaml:"upstream"`

	// Workers contains configuration for the worker pool.
	Workers WorkerConfig `yaml:"workers"`

	// Health contains configuration for the health monitor.
	Health HealthConfig `yaml:"health"`

	// Telemetry contains logging and metrics configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the HTTP server.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Format: "host:port". Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out response
	// writes. Default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the keep-alive idle timeout. Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful
	// shutdown. Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// QueueConfig contains configuration for the job queue.
type QueueConfig struct {
	// MaxConcurrent is the maximum number of jobs that may be in the
	// PROCESSING state at once. Dequeue returns nothing once this bound
	// is reached. Default: 10
	MaxConcurrent int `yaml:"max_concurrent"`

	// MaxAttempts is the default number of attempts a job gets before it
	// is dead-lettered. Individual jobs may override it. Default: 3
	MaxAttempts int `yaml:"max_attempts"`

	// RetryBaseDelay is the base delay for exponential retry backoff.
	// Attempt n becomes eligible after RetryBaseDelay * 2^(n-1), capped
	// at RetryMaxDelay. Default: 5s
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`

	// RetryMaxDelay caps the exponential retry backoff. Default: 5m
	RetryMaxDelay time.Duration `yaml:"retry_max_delay"`

	// JobTimeout is the hard per-job processing timeout. An in-flight job
	// cannot be cancelled; this bound is the only forced abort.
	// Default: 5m
	JobTimeout time.Duration `yaml:"job_timeout"`

	// DLQRetention is how long dead-lettered jobs are retained for
	// operator inspection. Default: 168h (7 days)
	DLQRetention time.Duration `yaml:"dlq_retention"`

	// DLQStorePath is the SQLite file backing the dead-letter queue.
	// Empty disables DLQ persistence. Default: "data/dlq.db"
	DLQStorePath string `yaml:"dlq_store_path"`

	// DLQPruneSchedule is the cron schedule for pruning expired DLQ rows.
	// Default: "@hourly"
	DLQPruneSchedule string `yaml:"dlq_prune_schedule"`
}

// RedisConfig contains configuration for the optional Redis-backed queue.
type RedisConfig struct {
	// Addr is the Redis server address ("host:port").
	Addr string `yaml:"addr"`

	// Password is the Redis AUTH password, if any.
	Password string `yaml:"password"`

	// DB is the Redis database number. Default: 0
	DB int `yaml:"db"`

	// KeyPrefix namespaces all queue keys. Default: "shield"
	KeyPrefix string `yaml:"key_prefix"`
}

// CacheConfig contains configuration for the exact-match cache.
type CacheConfig struct {
	// MaxEntries bounds the number of live entries. Default: 5000
	MaxEntries int `yaml:"max_entries"`

	// TTL is the default entry time-to-live. Default: 24h
	TTL time.Duration `yaml:"ttl"`

	// SweepInterval is how often expired entries are swept eagerly.
	// Expiry is also checked lazily on every read. Default: 5m
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// SemanticCacheConfig contains configuration for the semantic cache.
type SemanticCacheConfig struct {
	// SimilarityThreshold is the minimum cosine similarity (exclusive)
	// for a stored response to count as a hit. Default: 0.92
	SimilarityThreshold float64 `yaml:"similarity_threshold"`

	// MaxEntries bounds the number of stored embeddings. When reached,
	// the least-reused, oldest 10% are evicted. Default: 5000
	MaxEntries int `yaml:"max_entries"`

	// TTL is the entry time-to-live. Default: 24h
	TTL time.Duration `yaml:"ttl"`
}

// UpstreamConfig contains configuration for the AI completion API.
type UpstreamConfig struct {
	// BaseURL is the base URL of the completion API.
	// Example: "https://api.anthropic.com/v1"
	BaseURL string `yaml:"base_url"`

	// Timeout is the per-request timeout against the upstream.
	// Default: 60s
	Timeout time.Duration `yaml:"timeout"`

	// DefaultModel is the model used when a job does not name one.
	DefaultModel string `yaml:"default_model"`

	// Keys is the pool of upstream credentials. At least one key is
	// required to run (but not to validate a config file).
	Keys []KeyConfig `yaml:"keys"`

	// CircuitFailureThreshold is the number of consecutive failures after
	// which a key is marked unhealthy. Default: 5
	CircuitFailureThreshold int `yaml:"circuit_failure_threshold"`

	// CircuitCooldown is how long an unhealthy key stays out of rotation
	// before it is probed again. Default: 60s
	CircuitCooldown time.Duration `yaml:"circuit_cooldown"`
}

// KeyConfig describes one upstream credential and its quota.
type KeyConfig struct {
	// ID is a short operator-facing identifier for the key. Never the
	// secret itself.
	ID string `yaml:"id"`

	// Secret is the API key value. Typically injected via environment.
	Secret string `yaml:"secret"`

	// RPM is the requests-per-minute quota. Default: 60
	RPM int `yaml:"rpm"`

	// RPH is the requests-per-hour quota. Default: 3600
	RPH int `yaml:"rph"`

	// RPD is the requests-per-day quota. Default: 10000
	RPD int `yaml:"rpd"`
}

// WorkerConfig contains configuration for the worker pool.
type WorkerConfig struct {
	// Count is the number of concurrent workers. Default: 4
	Count int `yaml:"count"`

	// PollInterval is how long an idle worker waits before polling the
	// queue again. Default: 250ms
	PollInterval time.Duration `yaml:"poll_interval"`
}

// HealthConfig contains configuration for the health monitor.
type HealthConfig struct {
	// Interval is the poll interval for recomputing component health.
	// Default: 30s
	Interval time.Duration `yaml:"interval"`

	// QueueSizeThreshold is the pending-job count above which the queue
	// is DEGRADED; twice it is CRITICAL. Default: 100
	QueueSizeThreshold int `yaml:"queue_size_threshold"`

	// CacheHitRateFloor is the hit rate below which the caches are
	// DEGRADED. Default: 0.30
	CacheHitRateFloor float64 `yaml:"cache_hit_rate_floor"`

	// CacheMinSamples is the number of lookups required before the hit
	// rate is judged at all. Default: 50
	CacheMinSamples int `yaml:"cache_min_samples"`

	// KeyUtilizationDegraded is the daily quota utilization above which
	// the key pool is DEGRADED. Default: 0.85
	KeyUtilizationDegraded float64 `yaml:"key_utilization_degraded"`

	// KeyUtilizationCritical is the daily quota utilization above which
	// the key pool is CRITICAL. Default: 0.95
	KeyUtilizationCritical float64 `yaml:"key_utilization_critical"`

	// WorkerErrorRatioCritical is the fraction of workers in the error
	// state above which the pool is CRITICAL. Any error state at all is
	// DEGRADED. Default: 0.30
	WorkerErrorRatioCritical float64 `yaml:"worker_error_ratio_critical"`
}

// TelemetryConfig contains logging and metrics configuration.
type TelemetryConfig struct {
	// Logging configures the structured logger.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics configures the metrics collector.
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig contains configuration for structured logging.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	// Default: "info"
	Level string `yaml:"level"`

	// Format is the output format: "json" or "text". Default: "json"
	Format string `yaml:"format"`
}

// MetricsConfig contains configuration for the metrics collector.
type MetricsConfig struct {
	// Disabled turns off metric recording and export. Metrics are on by
	// default.
	Disabled bool `yaml:"disabled"`

	// Namespace prefixes every exported metric name. Default: "shield"
	Namespace string `yaml:"namespace"`
}
