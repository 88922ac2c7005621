// Package metrics exposes controller activity as Prometheus metrics.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dokzlo13/fluxd/internal/eventbus"
)

const namespace = "fluxd"

// States in the order of the controller enum, used for the state gauge.
var states = []string{"offline", "active", "overridden"}

type Metrics struct {
	registry *prometheus.Registry

	state          *prometheus.GaugeVec
	targetKelvin   prometheus.Gauge
	transitions    *prometheus.CounterVec
	applies        *prometheus.CounterVec
	applyFailures  prometheus.Counter
	overrides      prometheus.Counter
	devicesAcked   prometheus.Gauge
	lastAppliedSec prometheus.Gauge

	// latest event applied to the state and target gauges
	mu            sync.Mutex
	lastStateSeq  uint64
	lastTargetSeq uint64
}

// New creates metrics on a private registry together with the Go and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "controller_state",
			Help:      "1 for the current controller state, 0 for the others.",
		}, []string{"state"}),
		targetKelvin: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "target_kelvin",
			Help:      "Color temperature the schedule asks for right now.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Controller state transitions by destination state.",
		}, []string{"to"}),
		applies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "color_applies_total",
			Help:      "Colors applied to every bulb, by color mode.",
		}, []string{"mode"}),
		applyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "apply_failures_total",
			Help:      "Fan-outs where not every bulb acknowledged.",
		}),
		overrides: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "overrides_detected_total",
			Help:      "Manual overrides detected.",
		}),
		devicesAcked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_failed_apply_acked_devices",
			Help:      "Bulbs that acknowledged the most recent failed fan-out.",
		}),
		lastAppliedSec: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_apply_timestamp_seconds",
			Help:      "Unix time of the last successful apply.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.state,
		m.targetKelvin,
		m.transitions,
		m.applies,
		m.applyFailures,
		m.overrides,
		m.devicesAcked,
		m.lastAppliedSec,
	)

	m.SetState("offline")
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Attach subscribes to every controller event the metrics track.
func (m *Metrics) Attach(bus *eventbus.Bus) {
	if m == nil {
		return
	}
	bus.SubscribeAll(m.Observe,
		eventbus.EventTypeStateChanged,
		eventbus.EventTypeColorApplied,
		eventbus.EventTypeApplyFailed,
		eventbus.EventTypeOverrideDetected,
		eventbus.EventTypeTargetComputed,
	)
}

// Observe updates metrics from one event.
func (m *Metrics) Observe(e eventbus.Event) {
	if m == nil {
		return
	}

	switch e.Type {
	case eventbus.EventTypeStateChanged:
		if to, ok := e.Data["to"].(string); ok {
			m.transitions.WithLabelValues(to).Inc()
			m.ifNewer(&m.lastStateSeq, e.Seq, func() { m.SetState(to) })
		}
	case eventbus.EventTypeTargetComputed:
		if k, ok := e.Data["kelvin"].(int); ok {
			m.ifNewer(&m.lastTargetSeq, e.Seq, func() { m.targetKelvin.Set(float64(k)) })
		}
	case eventbus.EventTypeColorApplied:
		mode, _ := e.Data["mode"].(string)
		m.applies.WithLabelValues(mode).Inc()
		m.lastAppliedSec.Set(float64(e.At.Unix()))
	case eventbus.EventTypeApplyFailed:
		m.applyFailures.Inc()
		if acked, ok := e.Data["acked"].(int); ok {
			m.devicesAcked.Set(float64(acked))
		}
	case eventbus.EventTypeOverrideDetected:
		m.overrides.Inc()
	}
}

// ifNewer runs set when seq is newer than *last, so a gauge never moves back
// to a value from an older event.
func (m *Metrics) ifNewer(last *uint64, seq uint64, set func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if seq <= *last {
		return
	}
	*last = seq
	set()
}

// SetState marks state as the current controller state.
func (m *Metrics) SetState(state string) {
	if m == nil {
		return
	}
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1
		}
		m.state.WithLabelValues(s).Set(v)
	}
}
