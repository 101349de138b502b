package metrics

import (
	"sort"

	"github.com/prometheus/client_golang/prometheus"
)

// Describe implements prometheus.Collector. The collector is unchecked:
// series come and go as components create them, so no descriptors are
// sent up front.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector by emitting every series as a
// const metric. This lets the standard promhttp handler serve the
// registry without double-bookkeeping between two metric systems.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	emitScalar := func(s *scalarSeries, vt prometheus.ValueType) {
		keys, vals := splitLabels(s.labels)
		desc := prometheus.NewDesc(c.namespace+"_"+s.name, s.name, keys, nil)
		m, err := prometheus.NewConstMetric(desc, vt, s.value, vals...)
		if err != nil {
			return
		}
		ch <- m
	}

	for _, s := range c.counters {
		emitScalar(s, prometheus.CounterValue)
	}
	for _, s := range c.gauges {
		emitScalar(s, prometheus.GaugeValue)
	}

	for _, h := range c.histograms {
		keys, vals := splitLabels(h.labels)
		desc := prometheus.NewDesc(c.namespace+"_"+h.name, h.name, keys, nil)
		buckets := make(map[float64]uint64, len(LatencyBuckets))
		for i, bound := range LatencyBuckets {
			buckets[bound] = h.buckets[i]
		}
		m, err := prometheus.NewConstHistogram(desc, h.count, h.sum, buckets, vals...)
		if err != nil {
			continue
		}
		ch <- m
	}
}

// splitLabels returns sorted label keys and their values in matching order.
func splitLabels(labels Labels) ([]string, []string) {
	if len(labels) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	vals := make([]string, len(keys))
	for i, k := range keys {
		vals[i] = labels[k]
	}
	return keys, vals
}
