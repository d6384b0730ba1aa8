package observability

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics implements MetricsClient on a prometheus registry.
// Collectors are created lazily so components can emit metrics without
// pre-registration.
type PrometheusMetrics struct {
	registry *prometheus.Registry
	mu       sync.Mutex
	counters map[string]*prometheus.CounterVec
	gauges   map[string]prometheus.Gauge
	timers   map[string]prometheus.Histogram
}

// NewPrometheusMetrics creates a metrics client with its own registry.
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		registry: prometheus.NewRegistry(),
		counters: make(map[string]*prometheus.CounterVec),
		gauges:   make(map[string]prometheus.Gauge),
		timers:   make(map[string]prometheus.Histogram),
	}
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// IncrementCounter increments a label-less counter.
func (m *PrometheusMetrics) IncrementCounter(name string, value float64) {
	m.IncrementCounterWithLabels(name, value, nil)
}

// IncrementCounterWithLabels increments a counter with the given labels.
// A counter's label set is fixed by its first use.
func (m *PrometheusMetrics) IncrementCounterWithLabels(name string, value float64, labels map[string]string) {
	// Keys are sorted so label values line up with the vec's label order on
	// every call, not just the first.
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make([]string, 0, len(labels))
	for _, k := range keys {
		values = append(values, labels[k])
	}

	m.mu.Lock()
	vec, ok := m.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name}, keys)
		m.registry.MustRegister(vec)
		m.counters[name] = vec
	}
	m.mu.Unlock()

	counter, err := vec.GetMetricWithLabelValues(values...)
	if err != nil {
		return
	}
	counter.Add(value)
}

// RecordDuration observes a duration in seconds.
func (m *PrometheusMetrics) RecordDuration(name string, seconds float64) {
	m.mu.Lock()
	hist, ok := m.timers[name]
	if !ok {
		hist = prometheus.NewHistogram(prometheus.HistogramOpts{Name: name})
		m.registry.MustRegister(hist)
		m.timers[name] = hist
	}
	m.mu.Unlock()
	hist.Observe(seconds)
}

// SetGauge sets a gauge value.
func (m *PrometheusMetrics) SetGauge(name string, value float64) {
	m.mu.Lock()
	gauge, ok := m.gauges[name]
	if !ok {
		gauge = prometheus.NewGauge(prometheus.GaugeOpts{Name: name})
		m.registry.MustRegister(gauge)
		m.gauges[name] = gauge
	}
	m.mu.Unlock()
	gauge.Set(value)
}

// NoopMetrics discards all metrics.
type NoopMetrics struct{}

func (NoopMetrics) IncrementCounter(name string, value float64) {}
func (NoopMetrics) IncrementCounterWithLabels(name string, value float64, labels map[string]string) {
}
func (NoopMetrics) RecordDuration(name string, seconds float64) {}
func (NoopMetrics) SetGauge(name string, value float64)         {}

// NewNoopMetrics creates a metrics client that does nothing.
func NewNoopMetrics() MetricsClient { return NoopMetrics{} }
