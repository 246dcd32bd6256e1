// Copyright 2025 Joseph Cumines
//
// Metrics registry for observability

package transport

import (
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

// Metric names exported by the server.
const (
	MetricToolCalls        = "miniprogram_mcp_tool_calls_total"
	MetricToolDuration     = "miniprogram_mcp_tool_call_duration_seconds"
	MetricSSEEvents        = "miniprogram_mcp_sse_events_sent_total"
	MetricSSEConnections   = "miniprogram_mcp_sse_connections_active"
	MetricSessionConnected = "miniprogram_mcp_session_connected"
	MetricLaunches         = "miniprogram_mcp_launches_total"
)

// MetricsRegistry collects counters, gauges and histograms in memory and renders
// them in the Prometheus text exposition format. Series are keyed by a
// preformatted label string such as tool="tap",status="ok".
type MetricsRegistry struct {
	counters   map[string]map[string]float64
	gauges     map[string]map[string]float64
	histograms map[string]*histogram
	mu         sync.Mutex
}

type histogram struct {
	series  map[string]*histogramSeries
	buckets []float64
}

type histogramSeries struct {
	counts []uint64 // per bucket, last is +Inf
	sum    float64
	total  uint64
}

// Latency buckets in seconds. Automation calls are slow compared to RPCs, so the
// range extends to a minute.
var defaultLatencyBuckets = []float64{
	0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetricsRegistry returns a registry with the server's metrics registered.
func NewMetricsRegistry() *MetricsRegistry {
	m := &MetricsRegistry{
		counters:   make(map[string]map[string]float64),
		gauges:     make(map[string]map[string]float64),
		histograms: make(map[string]*histogram),
	}
	for _, name := range []string{MetricToolCalls, MetricSSEEvents, MetricLaunches} {
		m.counters[name] = make(map[string]float64)
	}
	for _, name := range []string{MetricSSEConnections, MetricSessionConnected} {
		m.gauges[name] = make(map[string]float64)
	}
	m.histograms[MetricToolDuration] = &histogram{
		buckets: defaultLatencyBuckets,
		series:  make(map[string]*histogramSeries),
	}
	return m
}

// IncrementCounter adds one to a registered counter. Unknown names are ignored.
// All recording methods are no-ops on a nil registry.
func (m *MetricsRegistry) IncrementCounter(name, labels string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.counters[name]; ok {
		c[labels]++
	}
}

// SetGauge sets a registered gauge. Unknown names are ignored.
func (m *MetricsRegistry) SetGauge(name, labels string, value float64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.gauges[name]; ok {
		g[labels] = value
	}
}

// IncrementGauge adds delta to a registered gauge.
func (m *MetricsRegistry) IncrementGauge(name, labels string, delta float64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.gauges[name]; ok {
		g[labels] += delta
	}
}

// ObserveHistogram records value in a registered histogram.
func (m *MetricsRegistry) ObserveHistogram(name, labels string, value float64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.histograms[name]
	if !ok {
		return
	}
	s, ok := h.series[labels]
	if !ok {
		s = &histogramSeries{counts: make([]uint64, len(h.buckets)+1)}
		h.series[labels] = s
	}
	s.sum += value
	s.total++
	i, _ := slices.BinarySearch(h.buckets, value)
	s.counts[i]++
}

// WritePrometheus writes every metric, sorted by name then labels.
func (m *MetricsRegistry) WritePrometheus(w io.Writer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var b strings.Builder
	for _, name := range sortedKeys(m.counters) {
		writeFamily(&b, name, "counter", m.counters[name])
	}
	for _, name := range sortedKeys(m.gauges) {
		writeFamily(&b, name, "gauge", m.gauges[name])
	}
	for _, name := range sortedKeys(m.histograms) {
		h := m.histograms[name]
		fmt.Fprintf(&b, "# TYPE %s histogram\n", name)
		for _, labels := range sortedKeys(h.series) {
			s := h.series[labels]
			prefix := ""
			if labels != "" {
				prefix = labels + ","
			}
			var cumulative uint64
			for i, bound := range h.buckets {
				cumulative += s.counts[i]
				fmt.Fprintf(&b, "%s_bucket{%sle=\"%g\"} %d\n", name, prefix, bound, cumulative)
			}
			cumulative += s.counts[len(h.buckets)]
			fmt.Fprintf(&b, "%s_bucket{%sle=\"+Inf\"} %d\n", name, prefix, cumulative)
			fmt.Fprintf(&b, "%s %g\n", series(name+"_sum", labels), s.sum)
			fmt.Fprintf(&b, "%s %d\n", series(name+"_count", labels), s.total)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func writeFamily(b *strings.Builder, name, kind string, values map[string]float64) {
	fmt.Fprintf(b, "# TYPE %s %s\n", name, kind)
	for _, labels := range sortedKeys(values) {
		fmt.Fprintf(b, "%s %g\n", series(name, labels), values[labels])
	}
}

func series(name, labels string) string {
	if labels == "" {
		return name
	}
	return name + "{" + labels + "}"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RecordToolCall records one tools/call with its outcome and latency.
func (m *MetricsRegistry) RecordToolCall(tool, status string, duration time.Duration) {
	m.IncrementCounter(MetricToolCalls, fmt.Sprintf(`tool=%q,status=%q`, tool, status))
	m.ObserveHistogram(MetricToolDuration, fmt.Sprintf(`tool=%q`, tool), duration.Seconds())
}

// RecordLaunch records a developer tool launch attempt.
func (m *MetricsRegistry) RecordLaunch(status string) {
	m.IncrementCounter(MetricLaunches, fmt.Sprintf(`status=%q`, status))
}

// SetSessionConnected reports whether an automation session is live.
func (m *MetricsRegistry) SetSessionConnected(connected bool) {
	v := 0.0
	if connected {
		v = 1
	}
	m.SetGauge(MetricSessionConnected, "", v)
}

// RecordSSEEvent records an SSE event being sent.
func (m *MetricsRegistry) RecordSSEEvent() {
	m.IncrementCounter(MetricSSEEvents, "")
}

// SetSSEConnections sets the current number of active SSE connections.
func (m *MetricsRegistry) SetSSEConnections(count int) {
	m.SetGauge(MetricSSEConnections, "", float64(count))
}
