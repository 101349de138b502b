// Package config defines the configuration model for the shield service.
//
// Configuration is loaded from a YAML file, defaulted, validated, and
// optionally overridden by SHIELD_* environment variables. A small set of
// runtime tunables (similarity threshold, health thresholds) can be
// hot-reloaded through the file watcher.
//
// The loading sequence is:
//
//  1. Parse YAML from file
//  2. Apply default values
//  3. Apply environment variable overrides
//  4. Validate the final configuration
//
// Example:
//
//	cfg, err := config.LoadWithEnvOverrides("shield.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
