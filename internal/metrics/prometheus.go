// Package metrics provides Prometheus-based metrics for conversational turns.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zhouzirui/z-tavern/salesbot/internal/model/chat"
)

// PrometheusRecorder records turn, dispatch and stage transition metrics on its own registry.
type PrometheusRecorder struct {
	registry         *prometheus.Registry
	turnsTotal       *prometheus.CounterVec
	turnDuration     *prometheus.HistogramVec
	dispatchTotal    *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
}

// NewPrometheusRecorder creates a recorder with Go runtime and process collectors registered.
func NewPrometheusRecorder() *PrometheusRecorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &PrometheusRecorder{
		registry: reg,
		turnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "salesbot_turns_total",
				Help: "Total number of handled turns by resulting stage and outcome",
			},
			[]string{"stage", "outcome"},
		),
		turnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "salesbot_turn_duration_seconds",
				Help:    "Duration of a full turn including agent calls and persistence",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		dispatchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "salesbot_agent_dispatch_total",
				Help: "Total number of agent invocations by agent and status",
			},
			[]string{"agent", "status"},
		),
		transitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "salesbot_stage_transitions_total",
				Help: "Total number of stage transitions",
			},
			[]string{"from", "to"},
		),
	}
}

// TurnCompleted records the outcome and latency of a turn.
func (p *PrometheusRecorder) TurnCompleted(stage chat.Stage, outcome string, elapsed time.Duration) {
	p.turnsTotal.WithLabelValues(string(stage), outcome).Inc()
	p.turnDuration.WithLabelValues(string(stage)).Observe(elapsed.Seconds())
}

// AgentDispatched counts an agent call.
func (p *PrometheusRecorder) AgentDispatched(agent string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	p.dispatchTotal.WithLabelValues(agent, status).Inc()
}

// StageChanged counts a persisted stage transition.
func (p *PrometheusRecorder) StageChanged(from, to chat.Stage) {
	p.transitionsTotal.WithLabelValues(string(from), string(to)).Inc()
}

// Handler exposes the registry in the Prometheus text format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}
