// Package metrics holds the prometheus instruments for the data-channel
// layer. A nil *Metrics is valid and records nothing, so components can be
// built without instrumentation in tests and design-time tools.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "cncpanel"

// Metrics contains the instruments shared by plugins, channels and rules
type Metrics struct {
	registry *prometheus.Registry

	TicksTotal         *prometheus.CounterVec
	TickDuration       *prometheus.HistogramVec
	ChannelUpdates     *prometheus.CounterVec
	SubscriberFailures *prometheus.CounterVec
	RefreshFailures    *prometheus.CounterVec
	PluginState        *prometheus.GaugeVec
	RuleEvaluations    *prometheus.CounterVec
}

// New creates the instruments and registers them, together with the Go
// runtime collectors, on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		TicksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "plugin",
				Name:      "ticks_total",
				Help:      "Total number of poll ticks executed",
			},
			[]string{"plugin"},
		),

		TickDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "plugin",
				Name:      "tick_duration_seconds",
				Help:      "Time spent in one poll tick, including subscriber callbacks",
				Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
			},
			[]string{"plugin"},
		),

		ChannelUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "channel",
				Name:      "updates_total",
				Help:      "Total number of channel change notifications",
			},
			[]string{"plugin"},
		),

		SubscriberFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "channel",
				Name:      "subscriber_failures_total",
				Help:      "Total number of subscriber callbacks that panicked",
			},
			[]string{"channel"},
		),

		RefreshFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "plugin",
				Name:      "refresh_failures_total",
				Help:      "Total number of failed snapshot refreshes",
			},
			[]string{"plugin"},
		),

		PluginState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "plugin",
				Name:      "state",
				Help:      "Plugin state (0=uninitialised, 1=polling, 2=stopped)",
			},
			[]string{"plugin"},
		),

		RuleEvaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rules",
				Name:      "evaluations_total",
				Help:      "Total number of rule evaluations by result",
			},
			[]string{"result"},
		),
	}

	m.registry.MustRegister(
		m.TicksTotal,
		m.TickDuration,
		m.ChannelUpdates,
		m.SubscriberFailures,
		m.RefreshFailures,
		m.PluginState,
		m.RuleEvaluations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the prometheus registry holding every instrument
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordTick counts a tick and observes its duration
func (m *Metrics) RecordTick(plugin string, d time.Duration) {
	if m == nil {
		return
	}
	m.TicksTotal.WithLabelValues(plugin).Inc()
	m.TickDuration.WithLabelValues(plugin).Observe(d.Seconds())
}

// RecordUpdates adds n channel updates for a plugin
func (m *Metrics) RecordUpdates(plugin string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.ChannelUpdates.WithLabelValues(plugin).Add(float64(n))
}

// RecordSubscriberFailure counts a failed subscriber callback
func (m *Metrics) RecordSubscriberFailure(channel string) {
	if m == nil {
		return
	}
	m.SubscriberFailures.WithLabelValues(channel).Inc()
}

// RecordRefreshFailure counts a failed snapshot refresh
func (m *Metrics) RecordRefreshFailure(plugin string) {
	if m == nil {
		return
	}
	m.RefreshFailures.WithLabelValues(plugin).Inc()
}

// RecordPluginState updates the plugin state gauge
func (m *Metrics) RecordPluginState(plugin string, state int) {
	if m == nil {
		return
	}
	m.PluginState.WithLabelValues(plugin).Set(float64(state))
}

// RecordRuleEvaluation counts a rule evaluation ("ok", "error", "mismatch")
func (m *Metrics) RecordRuleEvaluation(result string) {
	if m == nil {
		return
	}
	m.RuleEvaluations.WithLabelValues(result).Inc()
}
