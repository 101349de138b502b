// Shield is a request-shielding layer for a costly AI completion API.
//
// It absorbs traffic with an exact-match and a semantic response cache,
// defers misses to a prioritized retrying job queue, spreads upstream
// calls across a pool of rate-limited credentials, and exposes the
// whole thing over a small HTTP API with health and metrics endpoints.
//
// Usage:
//
//	# Start with the default configuration file
//	shield run
//
//	# Start with a custom configuration file
//	shield run --config /etc/shield/shield.yaml
//
//	# Validate a configuration file without starting
//	shield validate
//
//	# Show version information
//	shield version
package main

func main() {
	Execute()
}
