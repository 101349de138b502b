package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Labels is the label set attached to a time series. Labels are fixed once
// the series exists; the same name with a different label set is a
// different series.
type Labels map[string]string

// LatencyBuckets are the fixed histogram bucket upper bounds in
// milliseconds. A final +Inf bucket is implicit.
var LatencyBuckets = []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// Options configures a Collector.
type Options struct {
	// Namespace prefixes every exported metric name.
	Namespace string

	// Disabled turns every recording call into a no-op.
	Disabled bool
}

// Collector is an in-process registry of counters, gauges, and latency
// histograms. All methods are safe for concurrent use.
type Collector struct {
	namespace string
	disabled  bool

	mu         sync.RWMutex
	counters   map[string]*scalarSeries
	gauges     map[string]*scalarSeries
	histograms map[string]*histogramSeries
}

// scalarSeries is one counter or gauge time series.
type scalarSeries struct {
	name   string
	labels Labels
	value  float64
}

// histogramSeries is one histogram time series with cumulative buckets:
// buckets[i] counts observations <= LatencyBuckets[i]; the final slot is
// the +Inf bucket and always equals count.
type histogramSeries struct {
	name    string
	labels  Labels
	buckets []uint64
	sum     float64
	count   uint64
}

// NewCollector creates a collector.
func NewCollector(opts Options) *Collector {
	if opts.Namespace == "" {
		opts.Namespace = "shield"
	}
	return &Collector{
		namespace:  opts.Namespace,
		disabled:   opts.Disabled,
		counters:   make(map[string]*scalarSeries),
		gauges:     make(map[string]*scalarSeries),
		histograms: make(map[string]*histogramSeries),
	}
}

// seriesKey builds the identity of a series: name plus the sorted label
// set rendered as k="v" pairs.
func seriesKey(name string, labels Labels) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%q", k, labels[k])
	}
	b.WriteByte('}')
	return b.String()
}

func cloneLabels(labels Labels) Labels {
	if len(labels) == 0 {
		return nil
	}
	out := make(Labels, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

// IncrementCounter adds 1 to the counter series, creating it on first use.
func (c *Collector) IncrementCounter(name string, labels Labels) {
	c.AddCounter(name, labels, 1)
}

// AddCounter adds delta to the counter series. Negative deltas are ignored;
// counters are monotonic.
func (c *Collector) AddCounter(name string, labels Labels, delta float64) {
	if c.disabled || delta < 0 {
		return
	}
	key := seriesKey(name, labels)

	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.counters[key]
	if !ok {
		s = &scalarSeries{name: name, labels: cloneLabels(labels)}
		c.counters[key] = s
	}
	s.value += delta
}

// CounterValue returns the current value of a counter series, or 0 if the
// series does not exist.
func (c *Collector) CounterValue(name string, labels Labels) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.counters[seriesKey(name, labels)]; ok {
		return s.value
	}
	return 0
}

// SetGauge sets the gauge series to v, creating it on first use.
func (c *Collector) SetGauge(name string, labels Labels, v float64) {
	if c.disabled {
		return
	}
	key := seriesKey(name, labels)

	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.gauges[key]
	if !ok {
		s = &scalarSeries{name: name, labels: cloneLabels(labels)}
		c.gauges[key] = s
	}
	s.value = v
}

// IncrementGauge adds 1 to the gauge series.
func (c *Collector) IncrementGauge(name string, labels Labels) {
	c.addGauge(name, labels, 1)
}

// DecrementGauge subtracts 1 from the gauge series.
func (c *Collector) DecrementGauge(name string, labels Labels) {
	c.addGauge(name, labels, -1)
}

func (c *Collector) addGauge(name string, labels Labels, delta float64) {
	if c.disabled {
		return
	}
	key := seriesKey(name, labels)

	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.gauges[key]
	if !ok {
		s = &scalarSeries{name: name, labels: cloneLabels(labels)}
		c.gauges[key] = s
	}
	s.value += delta
}

// GaugeValue returns the current value of a gauge series, or 0 if the
// series does not exist.
func (c *Collector) GaugeValue(name string, labels Labels) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.gauges[seriesKey(name, labels)]; ok {
		return s.value
	}
	return 0
}

// ObserveHistogram records a latency observation in milliseconds. Every
// bucket whose bound is >= v is incremented (cumulative buckets), along
// with the running sum and count.
func (c *Collector) ObserveHistogram(name string, labels Labels, v float64) {
	if c.disabled {
		return
	}
	key := seriesKey(name, labels)

	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.histograms[key]
	if !ok {
		h = &histogramSeries{
			name:    name,
			labels:  cloneLabels(labels),
			buckets: make([]uint64, len(LatencyBuckets)+1),
		}
		c.histograms[key] = h
	}
	h.observe(v)
}

func (h *histogramSeries) observe(v float64) {
	for i, bound := range LatencyBuckets {
		if v <= bound {
			h.buckets[i]++
		}
	}
	h.buckets[len(h.buckets)-1]++ // +Inf
	h.sum += v
	h.count++
}

// percentile walks the cumulative buckets until the running count reaches
// p * count and returns that bucket's upper bound. The result is an
// approximation bounded by bucket granularity. The +Inf bucket reports the
// largest finite bound.
func (h *histogramSeries) percentile(p float64) float64 {
	if h.count == 0 {
		return 0
	}
	target := p * float64(h.count)
	for i, bound := range LatencyBuckets {
		if float64(h.buckets[i]) >= target {
			return bound
		}
	}
	return LatencyBuckets[len(LatencyBuckets)-1]
}

// ResetHistograms zeroes every histogram series. Counters and gauges are
// never reset.
func (c *Collector) ResetHistograms() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, h := range c.histograms {
		h.buckets = make([]uint64, len(LatencyBuckets)+1)
		h.sum = 0
		h.count = 0
	}
}

// HistogramStat is a read-only view of one histogram series.
type HistogramStat struct {
	Name   string  `json:"name"`
	Labels Labels  `json:"labels,omitempty"`
	Count  uint64  `json:"count"`
	Sum    float64 `json:"sum"`
	P50    float64 `json:"p50"`
	P95    float64 `json:"p95"`
	P99    float64 `json:"p99"`
}

// histogramStat snapshots a series under the collector lock.
func (h *histogramSeries) stat() HistogramStat {
	return HistogramStat{
		Name:   h.name,
		Labels: cloneLabels(h.labels),
		Count:  h.count,
		Sum:    h.sum,
		P50:    h.percentile(0.50),
		P95:    h.percentile(0.95),
		P99:    h.percentile(0.99),
	}
}

// HistogramStats returns a snapshot of every histogram series.
func (c *Collector) HistogramStats() []HistogramStat {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]HistogramStat, 0, len(c.histograms))
	for _, h := range c.histograms {
		out = append(out, h.stat())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
