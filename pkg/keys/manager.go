package keys

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/TheProjectSEO/shield/pkg/config"
)

// ErrNoKeysAvailable is returned by Acquire when every key is either
// circuit-open or out of quota. Callers back off and retry; the queue's
// retry policy absorbs sustained exhaustion.
var ErrNoKeysAvailable = errors.New("keys: no healthy key with quota headroom")

// Key is one upstream credential under management. Fields are guarded by
// the manager lock; callers only hold a Key between Acquire and Release.
type Key struct {
	id     string
	secret string

	rpm *quotaWindow
	rph *quotaWindow
	rpd *quotaWindow

	healthy             bool
	consecutiveFailures int
	openedAt            time.Time
	lastLatency         time.Duration
	totalCalls          int64
	totalFailures       int64
}

// ID returns the operator-facing key identifier.
func (k *Key) ID() string { return k.id }

// Secret returns the credential value for the auth header.
func (k *Key) Secret() string { return k.secret }

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the time source, for deterministic window tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the manager logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// Manager rotates a pool of upstream credentials. All methods are safe for
// concurrent use; a single lock covers selection and reservation so the
// quota check and the increment can never be split.
type Manager struct {
	failureThreshold int
	cooldown         time.Duration
	now              func() time.Time
	logger           *slog.Logger

	mu   sync.Mutex
	keys []*Key
	next int // round-robin cursor
}

// NewManager builds a manager from the upstream configuration.
func NewManager(cfg config.UpstreamConfig, opts ...Option) *Manager {
	m := &Manager{
		failureThreshold: cfg.CircuitFailureThreshold,
		cooldown:         cfg.CircuitCooldown,
		now:              time.Now,
		logger:           slog.Default().With("component", "keys"),
	}
	for _, kc := range cfg.Keys {
		m.keys = append(m.keys, &Key{
			id:      kc.ID,
			secret:  kc.Secret,
			rpm:     newQuotaWindow(kc.RPM, time.Minute),
			rph:     newQuotaWindow(kc.RPH, time.Hour),
			rpd:     newQuotaWindow(kc.RPD, 24*time.Hour),
			healthy: true,
		})
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire selects a healthy key with quota headroom and reserves one
// request against its minute, hour, and day windows. Keys are tried in
// round-robin order. A circuit-open key whose cool-down has elapsed is
// eligible again as a probe.
func (m *Manager) Acquire() (*Key, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	n := len(m.keys)
	for i := 0; i < n; i++ {
		k := m.keys[(m.next+i)%n]

		if !k.healthy {
			if now.Sub(k.openedAt) < m.cooldown {
				continue
			}
			// Cool-down elapsed: let one probe through.
			m.logger.Info("probing circuit-open key", "key", k.id)
		}
		if !k.rpm.hasHeadroom(now) || !k.rph.hasHeadroom(now) || !k.rpd.hasHeadroom(now) {
			continue
		}

		k.rpm.reserve(now)
		k.rph.reserve(now)
		k.rpd.reserve(now)
		k.totalCalls++
		m.next = (m.next + i + 1) % n
		return k, nil
	}
	return nil, ErrNoKeysAvailable
}

// Release records the outcome of a call made with key k. Failures count
// toward the circuit breaker; a success closes it.
func (m *Manager) Release(k *Key, latency time.Duration, callErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k.lastLatency = latency
	if callErr != nil {
		k.totalFailures++
		k.consecutiveFailures++
		if k.healthy && k.consecutiveFailures >= m.failureThreshold {
			k.healthy = false
			k.openedAt = m.now()
			m.logger.Warn("key circuit opened",
				"key", k.id,
				"consecutive_failures", k.consecutiveFailures,
				"cooldown", m.cooldown,
			)
		} else if !k.healthy {
			// Failed probe: restart the cool-down.
			k.openedAt = m.now()
		}
		return
	}

	if !k.healthy || k.consecutiveFailures > 0 {
		m.logger.Info("key recovered", "key", k.id)
	}
	k.healthy = true
	k.consecutiveFailures = 0
}

// TotalCapacity returns the aggregate available and total daily quota
// across all keys. Circuit-open keys contribute zero availability.
func (m *Manager) TotalCapacity() (available, total int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for _, k := range m.keys {
		total += k.rpd.limit
		if !k.healthy && now.Sub(k.openedAt) < m.cooldown {
			continue
		}
		k.rpd.roll(now)
		available += k.rpd.limit - k.rpd.used
	}
	return available, total
}

// QuotaUsage reports one window's used/total pair.
type QuotaUsage struct {
	Used  int `json:"used"`
	Total int `json:"total"`
}

// KeyMetrics is the per-key view read by the health monitor and the
// operator surface.
type KeyMetrics struct {
	ID                  string        `json:"id"`
	Healthy             bool          `json:"healthy"`
	RPM                 QuotaUsage    `json:"rpm"`
	RPH                 QuotaUsage    `json:"rph"`
	RPD                 QuotaUsage    `json:"rpd"`
	LastLatency         time.Duration `json:"last_latency"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	TotalCalls          int64         `json:"total_calls"`
	TotalFailures       int64         `json:"total_failures"`
}

// Metrics returns a snapshot of every key's health and usage.
func (m *Manager) Metrics() []KeyMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	out := make([]KeyMetrics, 0, len(m.keys))
	for _, k := range m.keys {
		k.rpm.roll(now)
		k.rph.roll(now)
		k.rpd.roll(now)
		out = append(out, KeyMetrics{
			ID:                  k.id,
			Healthy:             k.healthy,
			RPM:                 QuotaUsage{Used: k.rpm.used, Total: k.rpm.limit},
			RPH:                 QuotaUsage{Used: k.rph.used, Total: k.rph.limit},
			RPD:                 QuotaUsage{Used: k.rpd.used, Total: k.rpd.limit},
			LastLatency:         k.lastLatency,
			ConsecutiveFailures: k.consecutiveFailures,
			TotalCalls:          k.totalCalls,
			TotalFailures:       k.totalFailures,
		})
	}
	return out
}

// Len returns the number of keys in the pool.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys)
}
