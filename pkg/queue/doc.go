// Package queue implements the priority job queue that fronts the
// upstream AI completion API.
//
// # Overview
//
// Jobs are enqueued with a priority and dequeued highest-priority first,
// FIFO within a band. Dequeue admits no new job once the configured number
// of jobs is in flight; this is the sole admission-control mechanism.
// Failed jobs retry with exponential backoff until their attempt budget is
// exhausted, then move to the dead-letter queue where they stay
// inspectable and manually retryable for a retention window.
//
// Retry eligibility is a timestamp compared against an injectable clock at
// dequeue time, so backoff behavior is deterministic under test without
// wall-clock waits.
//
// # Ownership
//
// The queue owns a Job for its whole lifetime. Workers hold a transient
// reference between Dequeue and Complete/Fail. Complete or Fail with an
// unknown job ID is a no-op, never an error: the caller cannot tell
// "already handled" from "never existed", which is an accepted trade-off
// in favor of liveness.
package queue
