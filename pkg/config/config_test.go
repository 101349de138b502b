package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// ============================================================================
// Defaults Tests
// ============================================================================

func TestApplyDefaults_EmptyConfig(t *testing.T) {
	var cfg Config
	ApplyDefaults(&cfg)

	if cfg.Server.ListenAddress != DefaultListenAddress {
		t.Errorf("expected listen address %q, got %q", DefaultListenAddress, cfg.Server.ListenAddress)
	}
	if cfg.Queue.MaxConcurrent != DefaultMaxConcurrent {
		t.Errorf("expected max concurrent %d, got %d", DefaultMaxConcurrent, cfg.Queue.MaxConcurrent)
	}
	if cfg.Queue.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("expected max attempts %d, got %d", DefaultMaxAttempts, cfg.Queue.MaxAttempts)
	}
	if cfg.SemanticCache.SimilarityThreshold != DefaultSimilarityThreshold {
		t.Errorf("expected similarity threshold %g, got %g",
			DefaultSimilarityThreshold, cfg.SemanticCache.SimilarityThreshold)
	}
	if cfg.Queue.DLQRetention != 7*24*time.Hour {
		t.Errorf("expected 7 day DLQ retention, got %s", cfg.Queue.DLQRetention)
	}
	if cfg.Queue.JobTimeout != 5*time.Minute {
		t.Errorf("expected 5m job timeout, got %s", cfg.Queue.JobTimeout)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := Config{}
	cfg.Queue.MaxConcurrent = 2
	cfg.SemanticCache.SimilarityThreshold = 0.85
	ApplyDefaults(&cfg)

	if cfg.Queue.MaxConcurrent != 2 {
		t.Errorf("explicit max_concurrent was overwritten: %d", cfg.Queue.MaxConcurrent)
	}
	if cfg.SemanticCache.SimilarityThreshold != 0.85 {
		t.Errorf("explicit threshold was overwritten: %g", cfg.SemanticCache.SimilarityThreshold)
	}
}

func TestApplyDefaults_KeyQuotas(t *testing.T) {
	cfg := Config{}
	cfg.Upstream.Keys = []KeyConfig{{ID: "primary", Secret: "sk-test"}}
	ApplyDefaults(&cfg)

	key := cfg.Upstream.Keys[0]
	if key.RPM != DefaultKeyRPM || key.RPH != DefaultKeyRPH || key.RPD != DefaultKeyRPD {
		t.Errorf("key quotas not defaulted: %+v", key)
	}
}

// ============================================================================
// Validation Tests
// ============================================================================

func validConfig() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	return &cfg
}

func TestValidate_Defaults(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad listen address", func(c *Config) { c.Server.ListenAddress = "not-an-addr" }},
		{"zero max concurrent", func(c *Config) { c.Queue.MaxConcurrent = -1 }},
		{"threshold above one", func(c *Config) { c.SemanticCache.SimilarityThreshold = 1.5 }},
		{"bad cron schedule", func(c *Config) { c.Queue.DLQPruneSchedule = "every sometimes" }},
		{"duplicate key ids", func(c *Config) {
			c.Upstream.Keys = []KeyConfig{{ID: "a", RPM: 1, RPH: 1, RPD: 1}, {ID: "a", RPM: 1, RPH: 1, RPD: 1}}
		}},
		{"key missing id", func(c *Config) {
			c.Upstream.Keys = []KeyConfig{{RPM: 1, RPH: 1, RPD: 1}}
		}},
		{"degraded above critical", func(c *Config) {
			c.Health.KeyUtilizationDegraded = 0.99
			c.Health.KeyUtilizationCritical = 0.95
		}},
		{"bad log level", func(c *Config) { c.Telemetry.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Telemetry.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

// ============================================================================
// Load Tests
// ============================================================================

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shield.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_File(t *testing.T) {
	path := writeConfigFile(t, `
queue:
  max_concurrent: 4
  max_attempts: 5
semantic_cache:
  similarity_threshold: 0.9
upstream:
  base_url: "https://api.example.com/v1"
  keys:
    - id: primary
      secret: sk-live-1
      rpm: 30
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Queue.MaxConcurrent != 4 {
		t.Errorf("expected max_concurrent 4, got %d", cfg.Queue.MaxConcurrent)
	}
	if cfg.Queue.MaxAttempts != 5 {
		t.Errorf("expected max_attempts 5, got %d", cfg.Queue.MaxAttempts)
	}
	if cfg.SemanticCache.SimilarityThreshold != 0.9 {
		t.Errorf("expected threshold 0.9, got %g", cfg.SemanticCache.SimilarityThreshold)
	}
	// File value kept, unset quotas defaulted.
	key := cfg.Upstream.Keys[0]
	if key.RPM != 30 {
		t.Errorf("expected rpm 30, got %d", key.RPM)
	}
	if key.RPD != DefaultKeyRPD {
		t.Errorf("expected default rpd, got %d", key.RPD)
	}
	// Untouched section fully defaulted.
	if cfg.Cache.MaxEntries != DefaultCacheMaxEntries {
		t.Errorf("expected default cache size, got %d", cfg.Cache.MaxEntries)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfigFile(t, "queue: [not a mapping")
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	path := writeConfigFile(t, `
queue:
  max_concurrent: 4
`)

	t.Setenv("SHIELD_QUEUE_MAX_CONCURRENT", "7")
	t.Setenv("SHIELD_SEMANTIC_CACHE_SIMILARITY_THRESHOLD", "0.88")
	t.Setenv("SHIELD_LOGGING_LEVEL", "debug")

	cfg, err := LoadWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("LoadWithEnvOverrides failed: %v", err)
	}

	if cfg.Queue.MaxConcurrent != 7 {
		t.Errorf("env override lost: max_concurrent %d", cfg.Queue.MaxConcurrent)
	}
	if cfg.SemanticCache.SimilarityThreshold != 0.88 {
		t.Errorf("env override lost: threshold %g", cfg.SemanticCache.SimilarityThreshold)
	}
	if cfg.Telemetry.Logging.Level != "debug" {
		t.Errorf("env override lost: level %q", cfg.Telemetry.Logging.Level)
	}
}

func TestLoadWithEnvOverrides_MalformedValueIgnored(t *testing.T) {
	path := writeConfigFile(t, "queue:\n  max_concurrent: 4\n")
	t.Setenv("SHIELD_QUEUE_MAX_CONCURRENT", "lots")

	cfg, err := LoadWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("LoadWithEnvOverrides failed: %v", err)
	}
	if cfg.Queue.MaxConcurrent != 4 {
		t.Errorf("malformed env value should be ignored, got %d", cfg.Queue.MaxConcurrent)
	}
}
