package api

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the process-level gauges/counters exposed at /metrics via
// promhttp.Handler (registered against the default registry). Grounded
// on the prometheus/client_golang usage elsewhere in the retrieval pack
// (DimaJoyti-ai-agentic-crypto-browser's go.mod).
var Metrics = struct {
	CyclesTotal         prometheus.Counter
	LLMCallsTotal       prometheus.Counter
	ActionsTotal        *prometheus.CounterVec
	RestoresTotal       prometheus.Counter
	ObservationErrors   prometheus.Counter
	CurrentDeviationPct prometheus.Gauge
	WebSocketClients    prometheus.Gauge
}{
	CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_cycles_total",
		Help: "Total number of observation cycles started.",
	}),
	LLMCallsTotal: prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_llm_calls_total",
		Help: "Total number of reasoner LLM calls made.",
	}),
	ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_actions_total",
		Help: "Total number of actor actions, labeled by action kind and outcome.",
	}, []string{"action", "success"}),
	RestoresTotal: prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_restores_total",
		Help: "Total number of armed restore tasks that reached an outcome, cancellations included.",
	}),
	ObservationErrors: prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_observation_errors_total",
		Help: "Total number of observation cycles that failed permanently.",
	}),
	CurrentDeviationPct: prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_current_deviation_pct",
		Help: "Most recent oracle/AMM price deviation percentage.",
	}),
	WebSocketClients: prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_websocket_clients",
		Help: "Current number of connected WebSocket subscribers.",
	}),
}

func init() {
	prometheus.MustRegister(
		Metrics.CyclesTotal,
		Metrics.LLMCallsTotal,
		Metrics.ActionsTotal,
		Metrics.RestoresTotal,
		Metrics.ObservationErrors,
		Metrics.CurrentDeviationPct,
		Metrics.WebSocketClients,
	)
}
