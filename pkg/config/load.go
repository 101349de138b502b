package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file at the specified path, applies
// defaults, and validates the result. Environment variables are not
// consulted; use LoadWithEnvOverrides for that.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Variables follow the naming convention
// SHIELD_SECTION_FIELD (e.g. SHIELD_SERVER_LISTEN_ADDRESS) and always take
// precedence over file values.
func LoadWithEnvOverrides(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides overwrites recognized fields from SHIELD_* environment
// variables. Unknown or malformed values are ignored rather than fatal so a
// stray variable cannot keep the service from starting.
func applyEnvOverrides(cfg *Config) {
	setString := func(name string, target *string) {
		if v := os.Getenv(name); v != "" {
			*target = v
		}
	}
	setInt := func(name string, target *int) {
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*target = n
			}
		}
	}
	setFloat := func(name string, target *float64) {
		if v := os.Getenv(name); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*target = f
			}
		}
	}
	setDuration := func(name string, target *time.Duration) {
		if v := os.Getenv(name); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*target = d
			}
		}
	}

	setString("SHIELD_SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)

	setInt("SHIELD_QUEUE_MAX_CONCURRENT", &cfg.Queue.MaxConcurrent)
	setInt("SHIELD_QUEUE_MAX_ATTEMPTS", &cfg.Queue.MaxAttempts)
	setDuration("SHIELD_QUEUE_RETRY_BASE_DELAY", &cfg.Queue.RetryBaseDelay)
	setDuration("SHIELD_QUEUE_JOB_TIMEOUT", &cfg.Queue.JobTimeout)
	setString("SHIELD_QUEUE_DLQ_STORE_PATH", &cfg.Queue.DLQStorePath)

	setString("SHIELD_REDIS_ADDR", &cfg.Redis.Addr)
	setString("SHIELD_REDIS_PASSWORD", &cfg.Redis.Password)
	setInt("SHIELD_REDIS_DB", &cfg.Redis.DB)

	setInt("SHIELD_CACHE_MAX_ENTRIES", &cfg.Cache.MaxEntries)
	setDuration("SHIELD_CACHE_TTL", &cfg.Cache.TTL)

	setFloat("SHIELD_SEMANTIC_CACHE_SIMILARITY_THRESHOLD", &cfg.SemanticCache.SimilarityThreshold)
	setInt("SHIELD_SEMANTIC_CACHE_MAX_ENTRIES", &cfg.SemanticCache.MaxEntries)

	setString("SHIELD_UPSTREAM_BASE_URL", &cfg.Upstream.BaseURL)
	setString("SHIELD_UPSTREAM_DEFAULT_MODEL", &cfg.Upstream.DefaultModel)
	setDuration("SHIELD_UPSTREAM_TIMEOUT", &cfg.Upstream.Timeout)

	setInt("SHIELD_WORKERS_COUNT", &cfg.Workers.Count)

	setDuration("SHIELD_HEALTH_INTERVAL", &cfg.Health.Interval)

	setString("SHIELD_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	setString("SHIELD_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
}
