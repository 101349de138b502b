package config

import (
	"fmt"
	"net"

	"github.com/robfig/cron/v3"
)

// Validate checks the configuration for invalid or inconsistent values.
// It assumes defaults have already been applied.
func Validate(cfg *Config) error {
	if _, _, err := net.SplitHostPort(cfg.Server.ListenAddress); err != nil {
		return fmt.Errorf("server.listen_address %q is not host:port: %w",
			cfg.Server.ListenAddress, err)
	}

	if cfg.Queue.MaxConcurrent < 1 {
		return fmt.Errorf("queue.max_concurrent must be >= 1, got %d", cfg.Queue.MaxConcurrent)
	}
	if cfg.Queue.MaxAttempts < 1 {
		return fmt.Errorf("queue.max_attempts must be >= 1, got %d", cfg.Queue.MaxAttempts)
	}
	if cfg.Queue.RetryBaseDelay <= 0 {
		return fmt.Errorf("queue.retry_base_delay must be positive")
	}
	if cfg.Queue.RetryMaxDelay < cfg.Queue.RetryBaseDelay {
		return fmt.Errorf("queue.retry_max_delay %s is below retry_base_delay %s",
			cfg.Queue.RetryMaxDelay, cfg.Queue.RetryBaseDelay)
	}
	if cfg.Queue.JobTimeout <= 0 {
		return fmt.Errorf("queue.job_timeout must be positive")
	}
	if cfg.Queue.DLQPruneSchedule != "" {
		if _, err := cron.ParseStandard(cfg.Queue.DLQPruneSchedule); err != nil {
			return fmt.Errorf("queue.dlq_prune_schedule %q is not a valid cron expression: %w",
				cfg.Queue.DLQPruneSchedule, err)
		}
	}

	if cfg.Cache.MaxEntries < 1 {
		return fmt.Errorf("cache.max_entries must be >= 1, got %d", cfg.Cache.MaxEntries)
	}

	if t := cfg.SemanticCache.SimilarityThreshold; t <= 0 || t >= 1 {
		return fmt.Errorf("semantic_cache.similarity_threshold must be in (0, 1), got %g", t)
	}
	if cfg.SemanticCache.MaxEntries < 1 {
		return fmt.Errorf("semantic_cache.max_entries must be >= 1, got %d",
			cfg.SemanticCache.MaxEntries)
	}

	seen := make(map[string]struct{}, len(cfg.Upstream.Keys))
	for i, key := range cfg.Upstream.Keys {
		if key.ID == "" {
			return fmt.Errorf("upstream.keys[%d] is missing an id", i)
		}
		if _, dup := seen[key.ID]; dup {
			return fmt.Errorf("upstream.keys has duplicate id %q", key.ID)
		}
		seen[key.ID] = struct{}{}
		if key.RPM < 1 || key.RPH < 1 || key.RPD < 1 {
			return fmt.Errorf("upstream.keys[%s] quotas must be >= 1", key.ID)
		}
	}

	if cfg.Workers.Count < 1 {
		return fmt.Errorf("workers.count must be >= 1, got %d", cfg.Workers.Count)
	}

	if cfg.Health.Interval <= 0 {
		return fmt.Errorf("health.interval must be positive")
	}
	if d, c := cfg.Health.KeyUtilizationDegraded, cfg.Health.KeyUtilizationCritical; d >= c {
		return fmt.Errorf("health.key_utilization_degraded %g must be below critical %g", d, c)
	}

	switch cfg.Telemetry.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("telemetry.logging.level %q is not one of debug, info, warn, error",
			cfg.Telemetry.Logging.Level)
	}
	switch cfg.Telemetry.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("telemetry.logging.format %q is not one of json, text",
			cfg.Telemetry.Logging.Format)
	}

	return nil
}
