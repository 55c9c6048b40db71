// Package metrics exposes Prometheus collectors for workflow activity.
package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/specflow/specflow/internal/event"
)

// Metrics groups the collectors. A nil *Metrics records nothing.
type Metrics struct {
	transitions   *prometheus.CounterVec
	runs          *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	events        *prometheus.CounterVec
	kills         *prometheus.CounterVec
	healthChecks  *prometheus.CounterVec
	subscriptions prometheus.Gauge
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "specflow_workflow_transitions_total",
			Help: "Workflow executions entering each status.",
		}, []string{"status"}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "specflow_agent_runs_total",
			Help: "Agent invocations by mode and outcome.",
		}, []string{"mode", "outcome"}),
		runDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "specflow_agent_run_duration_seconds",
			Help:    "Wall time of agent invocations.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"mode"}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "specflow_workflow_events_total",
			Help: "Workflow events emitted, by type.",
		}, []string{"type"}),
		kills: f.NewCounterVec(prometheus.CounterOpts{
			Name: "specflow_process_kills_total",
			Help: "Processes terminated by kill, by how they stopped.",
		}, []string{"mode"}),
		healthChecks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "specflow_health_checks_total",
			Help: "Process health assessments, by result.",
		}, []string{"status"}),
		subscriptions: f.NewGauge(prometheus.GaugeOpts{
			Name: "specflow_session_subscriptions",
			Help: "Active session log subscriptions.",
		}),
	}
}

// Default is registered with the Prometheus default registry and served on
// /metrics.
var Default = New(prometheus.DefaultRegisterer)

// Transition counts an execution entering status.
func (m *Metrics) Transition(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
}

// Run records one agent invocation.
func (m *Metrics) Run(mode string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.runs.WithLabelValues(mode, outcome).Inc()
	m.runDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// Event counts one workflow event.
func (m *Metrics) Event(t event.Type) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(string(t)).Inc()
}

// Observe wraps next so every event is counted before it is forwarded.
func (m *Metrics) Observe(next event.Handler) event.Handler {
	return func(e event.Event) {
		m.Event(e.Type)
		if next != nil {
			next(e)
		}
	}
}

// Kill counts a terminated process. mode is graceful, escalated or forced.
func (m *Metrics) Kill(mode string) {
	if m == nil {
		return
	}
	m.kills.WithLabelValues(strings.ToLower(mode)).Inc()
}

// HealthCheck counts one assessment.
func (m *Metrics) HealthCheck(status string) {
	if m == nil {
		return
	}
	m.healthChecks.WithLabelValues(status).Inc()
}

// Subscriptions sets the active subscription gauge.
func (m *Metrics) Subscriptions(n int) {
	if m == nil {
		return
	}
	m.subscriptions.Set(float64(n))
}
