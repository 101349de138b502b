package metrics

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

// PrometheusText renders every series in the Prometheus text exposition
// format (# TYPE headers, name{labels} value lines). Series are sorted by
// name for stable output.
func (c *Collector) PrometheusText() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var b strings.Builder

	writeScalars := func(series map[string]*scalarSeries, typ string) {
		keys := make([]string, 0, len(series))
		for k := range series {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		lastName := ""
		for _, k := range keys {
			s := series[k]
			fq := c.namespace + "_" + s.name
			if s.name != lastName {
				fmt.Fprintf(&b, "# TYPE %s %s\n", fq, typ)
				lastName = s.name
			}
			fmt.Fprintf(&b, "%s%s %s\n", fq, renderLabels(s.labels, "", 0), formatValue(s.value))
		}
	}

	writeScalars(c.counters, "counter")
	writeScalars(c.gauges, "gauge")

	keys := make([]string, 0, len(c.histograms))
	for k := range c.histograms {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lastName := ""
	for _, k := range keys {
		h := c.histograms[k]
		fq := c.namespace + "_" + h.name
		if h.name != lastName {
			fmt.Fprintf(&b, "# TYPE %s histogram\n", fq)
			lastName = h.name
		}
		for i, bound := range LatencyBuckets {
			fmt.Fprintf(&b, "%s_bucket%s %d\n", fq, renderLabels(h.labels, "le", bound), h.buckets[i])
		}
		fmt.Fprintf(&b, "%s_bucket%s %d\n", fq, renderLabels(h.labels, "le", math.Inf(1)), h.count)
		fmt.Fprintf(&b, "%s_sum%s %s\n", fq, renderLabels(h.labels, "", 0), formatValue(h.sum))
		fmt.Fprintf(&b, "%s_count%s %d\n", fq, renderLabels(h.labels, "", 0), h.count)
	}

	return b.String()
}

// renderLabels renders a label set, optionally with a trailing le label for
// histogram buckets. Keys are sorted.
func renderLabels(labels Labels, le string, bound float64) string {
	if len(labels) == 0 && le == "" {
		return ""
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%q", k, labels[k])
	}
	if le != "" {
		if len(keys) > 0 {
			b.WriteByte(',')
		}
		if math.IsInf(bound, 1) {
			fmt.Fprintf(&b, "%s=%q", le, "+Inf")
		} else {
			fmt.Fprintf(&b, "%s=%q", le, formatValue(bound))
		}
	}
	b.WriteByte('}')
	return b.String()
}

func formatValue(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%g", v)
}

// jsonSeries is a scalar series in the JSON export.
type jsonSeries struct {
	Name   string  `json:"name"`
	Labels Labels  `json:"labels,omitempty"`
	Value  float64 `json:"value"`
}

// jsonHistogram is a histogram series in the JSON export.
type jsonHistogram struct {
	Name    string            `json:"name"`
	Labels  Labels            `json:"labels,omitempty"`
	Count   uint64            `json:"count"`
	Sum     float64           `json:"sum"`
	Buckets map[string]uint64 `json:"buckets"`
	P50     float64           `json:"p50"`
	P95     float64           `json:"p95"`
	P99     float64           `json:"p99"`
}

// jsonExport is the root of the JSON export document.
type jsonExport struct {
	Namespace  string          `json:"namespace"`
	Counters   []jsonSeries    `json:"counters"`
	Gauges     []jsonSeries    `json:"gauges"`
	Histograms []jsonHistogram `json:"histograms"`
}

// JSON renders every series as a JSON document for consumers that do not
// scrape the Prometheus text format.
func (c *Collector) JSON() ([]byte, error) {
	c.mu.RLock()

	doc := jsonExport{Namespace: c.namespace}
	for _, s := range c.counters {
		doc.Counters = append(doc.Counters, jsonSeries{Name: s.name, Labels: cloneLabels(s.labels), Value: s.value})
	}
	for _, s := range c.gauges {
		doc.Gauges = append(doc.Gauges, jsonSeries{Name: s.name, Labels: cloneLabels(s.labels), Value: s.value})
	}
	for _, h := range c.histograms {
		buckets := make(map[string]uint64, len(LatencyBuckets)+1)
		for i, bound := range LatencyBuckets {
			buckets[formatValue(bound)] = h.buckets[i]
		}
		buckets["+Inf"] = h.count
		doc.Histograms = append(doc.Histograms, jsonHistogram{
			Name:    h.name,
			Labels:  cloneLabels(h.labels),
			Count:   h.count,
			Sum:     h.sum,
			Buckets: buckets,
			P50:     h.percentile(0.50),
			P95:     h.percentile(0.95),
			P99:     h.percentile(0.99),
		})
	}
	c.mu.RUnlock()

	sort.Slice(doc.Counters, func(i, j int) bool { return doc.Counters[i].Name < doc.Counters[j].Name })
	sort.Slice(doc.Gauges, func(i, j int) bool { return doc.Gauges[i].Name < doc.Gauges[j].Name })
	sort.Slice(doc.Histograms, func(i, j int) bool { return doc.Histograms[i].Name < doc.Histograms[j].Name })

	return json.MarshalIndent(doc, "", "  ")
}

// Summary is a compact operator view of the registry.
type Summary struct {
	CounterSeries   int             `json:"counter_series"`
	GaugeSeries     int             `json:"gauge_series"`
	HistogramSeries int             `json:"histogram_series"`
	Histograms      []HistogramStat `json:"histograms"`
}

// GetSummary returns series counts and per-histogram latency percentiles.
func (c *Collector) GetSummary() Summary {
	c.mu.RLock()
	s := Summary{
		CounterSeries:   len(c.counters),
		GaugeSeries:     len(c.gauges),
		HistogramSeries: len(c.histograms),
	}
	for _, h := range c.histograms {
		s.Histograms = append(s.Histograms, h.stat())
	}
	c.mu.RUnlock()

	sort.Slice(s.Histograms, func(i, j int) bool { return s.Histograms[i].Name < s.Histograms[j].Name })
	return s
}
