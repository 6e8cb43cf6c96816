package prometrics

import (
	"fmt"

	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
)

// Registry owns the Prometheus vectors behind every observability.MetricKey.
type Registry struct {
	counters   map[observability.MetricKey]*prometheus.CounterVec
	histograms map[observability.MetricKey]*prometheus.HistogramVec
}

var _ observability.Metrics = (*Registry)(nil)

// New creates one vector per MetricSpec and registers it on reg. Passing prometheus.NewRegistry()
// keeps tests isolated from the default registry.
func New(reg prometheus.Registerer, namespace string, specs []observability.MetricSpec) (*Registry, error) {
	r := &Registry{
		counters:   make(map[observability.MetricKey]*prometheus.CounterVec),
		histograms: make(map[observability.MetricKey]*prometheus.HistogramVec),
	}
	for _, s := range specs {
		var c prometheus.Collector
		if s.Histogram {
			hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace, Name: string(s.Key), Help: s.Help, Buckets: prometheus.DefBuckets,
			}, s.Labels)
			r.histograms[s.Key] = hv
			c = hv
		} else {
			cv := prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace, Name: string(s.Key), Help: s.Help,
			}, s.Labels)
			r.counters[s.Key] = cv
			c = cv
		}
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register %s: %w", s.Key, err)
		}
	}
	return r, nil
}

// CounterVec returns the raw vector, mostly for testutil assertions.
func (r *Registry) CounterVec(key observability.MetricKey) *prometheus.CounterVec {
	return r.counters[key]
}

func (r *Registry) HistogramVec(key observability.MetricKey) *prometheus.HistogramVec {
	return r.histograms[key]
}

func (r *Registry) Counter(key observability.MetricKey) observability.Counter {
	if v, ok := r.counters[key]; ok {
		return &counter{v: v}
	}
	return observability.NopCounter()
}

func (r *Registry) Histogram(key observability.MetricKey) observability.Histogram {
	if v, ok := r.histograms[key]; ok {
		return &histogram{v: v}
	}
	return observability.NopHistogram()
}

type counter struct{ v *prometheus.CounterVec }

func (c *counter) Add(d float64, labels ...observability.Label) {
	m, err := c.v.GetMetricWith(labelMap(labels))
	if err != nil {
		return
	}
	m.Add(d)
}

type histogram struct{ v *prometheus.HistogramVec }

func (h *histogram) Observe(v float64, labels ...observability.Label) {
	m, err := h.v.GetMetricWith(labelMap(labels))
	if err != nil {
		return
	}
	m.Observe(v)
}

func labelMap(ls []observability.Label) prometheus.Labels {
	m := make(prometheus.Labels, len(ls))
	for _, l := range ls {
		m[l.Key] = l.Value
	}
	return m
}
