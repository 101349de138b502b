package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	// Queue defaults
	DefaultMaxConcurrent    = 10
	DefaultMaxAttempts      = 3
	DefaultRetryBaseDelay   = 5 * time.Second
	DefaultRetryMaxDelay    = 5 * time.Minute
	DefaultJobTimeout       = 5 * time.Minute
	DefaultDLQRetention     = 7 * 24 * time.Hour
	DefaultDLQStorePath     = "data/dlq.db"
	DefaultDLQPruneSchedule = "@hourly"

	// Redis defaults
	DefaultRedisKeyPrefix = "shield"

	// Cache defaults
	DefaultCacheMaxEntries    = 5000
	DefaultCacheTTL           = 24 * time.Hour
	DefaultCacheSweepInterval = 5 * time.Minute

	// Semantic cache defaults
	DefaultSimilarityThreshold = 0.92
	DefaultSemanticMaxEntries  = 5000
	DefaultSemanticTTL         = 24 * time.Hour

	// Upstream defaults
	DefaultUpstreamTimeout         = 60 * time.Second
	DefaultCircuitFailureThreshold = 5
	DefaultCircuitCooldown         = 60 * time.Second
	DefaultKeyRPM                  = 60
	DefaultKeyRPH                  = 3600
	DefaultKeyRPD                  = 10000

	// Worker defaults
	DefaultWorkerCount        = 4
	DefaultWorkerPollInterval = 250 * time.Millisecond

	// Health defaults
	DefaultHealthInterval           = 30 * time.Second
	DefaultQueueSizeThreshold       = 100
	DefaultCacheHitRateFloor        = 0.30
	DefaultCacheMinSamples          = 50
	DefaultKeyUtilizationDegraded   = 0.85
	DefaultKeyUtilizationCritical   = 0.95
	DefaultWorkerErrorRatioCritical = 0.30

	// Telemetry defaults
	DefaultLoggingLevel     = "info"
	DefaultLoggingFormat    = "json"
	DefaultMetricsNamespace = "shield"
)

// ApplyDefaults fills zero-valued fields with their defaults. It is called
// by the load functions and may be called directly on hand-built configs in
// tests.
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Queue defaults
	if cfg.Queue.MaxConcurrent == 0 {
		cfg.Queue.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.Queue.MaxAttempts == 0 {
		cfg.Queue.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Queue.RetryBaseDelay == 0 {
		cfg.Queue.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if cfg.Queue.RetryMaxDelay == 0 {
		cfg.Queue.RetryMaxDelay = DefaultRetryMaxDelay
	}
	if cfg.Queue.JobTimeout == 0 {
		cfg.Queue.JobTimeout = DefaultJobTimeout
	}
	if cfg.Queue.DLQRetention == 0 {
		cfg.Queue.DLQRetention = DefaultDLQRetention
	}
	if cfg.Queue.DLQStorePath == "" {
		cfg.Queue.DLQStorePath = DefaultDLQStorePath
	}
	if cfg.Queue.DLQPruneSchedule == "" {
		cfg.Queue.DLQPruneSchedule = DefaultDLQPruneSchedule
	}

	// Redis defaults
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}

	// Cache defaults
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = DefaultCacheMaxEntries
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = DefaultCacheTTL
	}
	if cfg.Cache.SweepInterval == 0 {
		cfg.Cache.SweepInterval = DefaultCacheSweepInterval
	}

	// Semantic cache defaults
	if cfg.SemanticCache.SimilarityThreshold == 0 {
		cfg.SemanticCache.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if cfg.SemanticCache.MaxEntries == 0 {
		cfg.SemanticCache.MaxEntries = DefaultSemanticMaxEntries
	}
	if cfg.SemanticCache.TTL == 0 {
		cfg.SemanticCache.TTL = DefaultSemanticTTL
	}

	// Upstream defaults
	if cfg.Upstream.Timeout == 0 {
		cfg.Upstream.Timeout = DefaultUpstreamTimeout
	}
	if cfg.Upstream.CircuitFailureThreshold == 0 {
		cfg.Upstream.CircuitFailureThreshold = DefaultCircuitFailureThreshold
	}
	if cfg.Upstream.CircuitCooldown == 0 {
		cfg.Upstream.CircuitCooldown = DefaultCircuitCooldown
	}
	for i := range cfg.Upstream.Keys {
		key := &cfg.Upstream.Keys[i]
		if key.RPM == 0 {
			key.RPM = DefaultKeyRPM
		}
		if key.RPH == 0 {
			key.RPH = DefaultKeyRPH
		}
		if key.RPD == 0 {
			key.RPD = DefaultKeyRPD
		}
	}

	// Worker defaults
	if cfg.Workers.Count == 0 {
		cfg.Workers.Count = DefaultWorkerCount
	}
	if cfg.Workers.PollInterval == 0 {
		cfg.Workers.PollInterval = DefaultWorkerPollInterval
	}

	// Health defaults
	if cfg.Health.Interval == 0 {
		cfg.Health.Interval = DefaultHealthInterval
	}
	if cfg.Health.QueueSizeThreshold == 0 {
		cfg.Health.QueueSizeThreshold = DefaultQueueSizeThreshold
	}
	if cfg.Health.CacheHitRateFloor == 0 {
		cfg.Health.CacheHitRateFloor = DefaultCacheHitRateFloor
	}
	if cfg.Health.CacheMinSamples == 0 {
		cfg.Health.CacheMinSamples = DefaultCacheMinSamples
	}
	if cfg.Health.KeyUtilizationDegraded == 0 {
		cfg.Health.KeyUtilizationDegraded = DefaultKeyUtilizationDegraded
	}
	if cfg.Health.KeyUtilizationCritical == 0 {
		cfg.Health.KeyUtilizationCritical = DefaultKeyUtilizationCritical
	}
	if cfg.Health.WorkerErrorRatioCritical == 0 {
		cfg.Health.WorkerErrorRatioCritical = DefaultWorkerErrorRatioCritical
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
}
