// Package telemetry records the best-effort counters and latency
// observations the router emits. Recording returns no error to the
// caller, so telemetry never affects the outcome of the operation it
// describes.
package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder is the capability contract components depend on. It is
// intentionally narrow: a counter increment and a latency observation,
// both labeled by provider/operation name.
type Recorder interface {
	IncrCounter(name string, labels ...string)
	ObserveLatencySeconds(name string, seconds float64, labels ...string)
	Gather() ([]*prometheus.MetricFamily, error)
}

// PromRecorder backs Recorder with a dedicated prometheus.Registry so
// multiple instances (e.g. in tests) never collide on the default
// global registry.
type PromRecorder struct {
	registry *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

func NewPromRecorder() *PromRecorder {
	return &PromRecorder{
		registry:   prometheus.NewRegistry(),
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

func (r *PromRecorder) IncrCounter(name string, labels ...string) {
	r.mu.Lock()
	c, ok := r.counters[name]
	if !ok {
		c = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: sanitize(name),
			Help: name,
		}, []string{"label"})
		r.registry.MustRegister(c)
		r.counters[name] = c
	}
	r.mu.Unlock()

	label := ""
	if len(labels) > 0 {
		label = labels[0]
	}
	c.WithLabelValues(label).Inc()
}

func (r *PromRecorder) ObserveLatencySeconds(name string, seconds float64, labels ...string) {
	r.mu.Lock()
	h, ok := r.histograms[name]
	if !ok {
		h = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    sanitize(name),
			Help:    name,
			Buckets: prometheus.DefBuckets,
		}, []string{"label"})
		r.registry.MustRegister(h)
		r.histograms[name] = h
	}
	r.mu.Unlock()

	label := ""
	if len(labels) > 0 {
		label = labels[0]
	}
	h.WithLabelValues(label).Observe(seconds)
}

func (r *PromRecorder) Gather() ([]*prometheus.MetricFamily, error) {
	return r.registry.Gather()
}

// NullRecorder no-ops every call; used in tests that don't care about
// telemetry and don't want to pull in a registry.
type NullRecorder struct{}

func (NullRecorder) IncrCounter(string, ...string)                  {}
func (NullRecorder) ObserveLatencySeconds(string, float64, ...string) {}
func (NullRecorder) Gather() ([]*prometheus.MetricFamily, error)    { return nil, nil }

func sanitize(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
