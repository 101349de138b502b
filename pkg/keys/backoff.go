package keys

import (
	"math/rand"
	"time"
)

// MaxBackoffAttempts bounds retry-with-backoff against upstream rate
// limits before the failure surfaces to the caller.
const MaxBackoffAttempts = 8

// BackoffPolicy computes exponential backoff delays with jitter for
// upstream rate-limit responses.
type BackoffPolicy struct {
	// Base is the delay before the first retry. Default: 500ms
	Base time.Duration

	// Max caps the computed delay. Default: 30s
	Max time.Duration
}

// DefaultBackoff is the policy used against upstream 429 responses.
var DefaultBackoff = BackoffPolicy{Base: 500 * time.Millisecond, Max: 30 * time.Second}

// Delay returns the backoff before retry number attempt (1-based):
// Base * 2^(attempt-1), capped at Max, with up to 25% random jitter added
// so synchronized retries spread out.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = DefaultBackoff.Base
	}
	max := p.Max
	if max <= 0 {
		max = DefaultBackoff.Max
	}

	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			d = max
			break
		}
	}

	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	if d+jitter > max {
		return max
	}
	return d + jitter
}
