// Package metrics implements the in-process metrics collector for the
// shield service.
//
// # Overview
//
// The collector keeps counters, gauges, and latency histograms in its own
// registry. A time series is identified by metric name plus its sorted
// label set; labels are fixed at series creation. Histograms use fixed
// cumulative latency buckets (Prometheus semantics) and support
// approximate p50/p95/p99 estimation by cumulative-bucket walk.
//
// # Export
//
// The registry implements prometheus.Collector, so the standard
// /metrics endpoint is served by promhttp against a prometheus.Registry
// containing the collector. A JSON export and an operator summary are
// available for dashboards that do not scrape Prometheus text.
//
// # Usage
//
//	c := metrics.NewCollector(metrics.Options{Namespace: "shield"})
//	c.IncrementCounter("queue_operations_total", metrics.Labels{"op": "enqueue"})
//	c.ObserveHistogram("job_duration_ms", nil, 128)
//	http.Handle("/metrics", metrics.Handler(c))
package metrics
