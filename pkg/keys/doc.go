// Package keys manages the pool of upstream API credentials and the rate
// limits attached to them.
//
// Each key carries independent requests-per-minute, per-hour, and per-day
// quotas tracked as fixed windows. Acquire selects a healthy key with
// headroom and reserves one unit across all three windows atomically under
// the manager lock, so a check can never be split from its reservation.
// Sustained failures open a per-key circuit that takes the key out of
// rotation until a cool-down elapses.
//
// The health monitor reads TotalCapacity (aggregate daily headroom) and
// Metrics (per-key health and usage).
package keys
