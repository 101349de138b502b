// Package health computes per-component health checks and an aggregate
// severity for the whole service. Components register checkers; a poll
// loop replaces the full check set each interval. A single degraded
// component degrades the aggregate, and any critical component makes the
// aggregate critical and fires the alert hook.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/TheProjectSEO/shield/pkg/config"
	"github.com/TheProjectSEO/shield/pkg/telemetry/metrics"
)

// Severity orders health states from best to worst.
type Severity int

const (
	Healthy Severity = iota
	Degraded
	Unhealthy
	Critical
)

var severityNames = map[Severity]string{
	Healthy:   "healthy",
	Degraded:  "degraded",
	Unhealthy: "unhealthy",
	Critical:  "critical",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// MarshalJSON renders the severity by name.
func (s Severity) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Check is one component's health at a point in time.
type Check struct {
	Component string    `json:"component"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// CheckFunc computes one component's current severity and message.
// Returning an error, like panicking, marks the component unhealthy.
type CheckFunc func() (Severity, string, error)

// Report is the full health picture served on /healthz.
type Report struct {
	Overall Severity      `json:"overall"`
	Checks  []Check       `json:"checks"`
	Uptime  time.Duration `json:"uptime"`
}

// AlertFunc is called once each time the aggregate severity enters
// Critical.
type AlertFunc func(report Report)

// Monitor polls registered checkers.
type Monitor struct {
	interval time.Duration
	logger   *slog.Logger
	metrics  *metrics.Collector
	alert    AlertFunc
	now      func() time.Time

	mu        sync.Mutex
	checkers  map[string]CheckFunc
	checks    map[string]Check
	overall   Severity
	alerting  bool
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
	running   bool
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger overrides the default component logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) { m.logger = logger }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Monitor) { m.metrics = c }
}

// WithAlert replaces the default log-based critical alert.
func WithAlert(fn AlertFunc) Option {
	return func(m *Monitor) { m.alert = fn }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// NewMonitor builds a monitor with no checkers registered.
func NewMonitor(cfg config.HealthConfig, opts ...Option) *Monitor {
	m := &Monitor{
		interval: cfg.Interval,
		logger:   slog.Default().With("component", "health"),
		now:      time.Now,
		checkers: make(map[string]CheckFunc),
		checks:   make(map[string]Check),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.alert == nil {
		m.alert = func(report Report) {
			m.logger.Error("service health is critical", "checks", len(report.Checks))
		}
	}
	m.startedAt = m.now()
	return m
}

// Register adds or replaces a component checker.
func (m *Monitor) Register(component string, fn CheckFunc) {
	m.mu.Lock()
	m.checkers[component] = fn
	m.mu.Unlock()
}

// Start launches the poll loop. The first poll runs immediately so the
// report is populated before the first interval elapses.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("health: monitor already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true
	m.mu.Unlock()

	m.Poll()

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				m.Poll()
			}
		}
	}()

	m.logger.Info("health monitor started", "interval", m.interval)
	return nil
}

// Stop halts the poll loop.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.cancel()
	m.running = false
	done := m.done
	m.mu.Unlock()
	<-done
}

// Poll runs every checker once and replaces the check set wholesale.
func (m *Monitor) Poll() {
	m.mu.Lock()
	names := make([]string, 0, len(m.checkers))
	for name := range m.checkers {
		names = append(names, name)
	}
	checkers := make(map[string]CheckFunc, len(m.checkers))
	for name, fn := range m.checkers {
		checkers[name] = fn
	}
	m.mu.Unlock()

	now := m.now()
	checks := make(map[string]Check, len(names))
	for _, name := range names {
		sev, msg := m.runChecker(name, checkers[name])
		checks[name] = Check{Component: name, Severity: sev, Message: msg, CheckedAt: now}
	}

	overall := Healthy
	for _, c := range checks {
		if c.Severity > overall {
			overall = c.Severity
		}
	}

	m.mu.Lock()
	previous := m.overall
	m.checks = checks
	m.overall = overall
	fireAlert := overall == Critical && !m.alerting
	m.alerting = overall == Critical
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SetGauge("health_status", nil, float64(overall))
		for _, c := range checks {
			m.metrics.SetGauge("health_component_status",
				metrics.Labels{"check": c.Component}, float64(c.Severity))
		}
	}
	if overall != previous {
		m.logger.Info("aggregate health changed",
			"from", previous.String(), "to", overall.String())
	}
	if fireAlert {
		m.alert(m.Report())
	}
}

// runChecker isolates one checker: a panic or error becomes an
// unhealthy check for that component only.
func (m *Monitor) runChecker(name string, fn CheckFunc) (sev Severity, msg string) {
	defer func() {
		if r := recover(); r != nil {
			sev = Unhealthy
			msg = fmt.Sprintf("checker panicked: %v", r)
			m.logger.Error("health checker panicked", "check", name, "panic", r)
		}
	}()

	sev, msg, err := fn()
	if err != nil {
		return Unhealthy, fmt.Sprintf("checker failed: %v", err)
	}
	return sev, msg
}

// Report snapshots the latest poll, checks sorted by component name.
func (m *Monitor) Report() Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	checks := make([]Check, 0, len(m.checks))
	for _, c := range m.checks {
		checks = append(checks, c)
	}
	sort.Slice(checks, func(i, j int) bool {
		return checks[i].Component < checks[j].Component
	})

	return Report{
		Overall: m.overall,
		Checks:  checks,
		Uptime:  m.now().Sub(m.startedAt),
	}
}
