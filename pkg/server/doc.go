// Package server exposes the shield over HTTP.
//
// The surface is deliberately small:
//
//   - GET  /healthz            aggregate health report (503 when unhealthy)
//   - GET  /metrics            Prometheus text, or JSON with ?format=json
//   - POST /v1/jobs            submit a prompt; cached answers return 200,
//     queued work returns 202 with a job ID
//   - GET  /v1/jobs/{id}       job status and result
//   - GET  /v1/dlq             dead-lettered jobs
//   - POST /v1/dlq/{id}/retry  requeue a dead-lettered job
//
// The server talks to the composition root through the Engine interface,
// so handler tests run against a stub. Every request passes through the
// recovery, request-ID, and access-log middleware, outermost first.
//
// Start blocks until the context is cancelled or a SIGINT/SIGTERM
// arrives, then drains in-flight requests within the configured
// shutdown timeout.
package server
