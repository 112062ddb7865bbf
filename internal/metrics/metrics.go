// Package metrics exposes the engine's Prometheus series: cycle duration,
// signals triggered/escalated, decisions by action, executions by outcome,
// open-position count, and circuit-breaker state, the way a bot's own
// metrics.go registers a fixed set of series in init() and is served at
// /metrics by the dashboard API.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	CycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "candlewatch_cycle_duration_seconds",
		Help:    "Duration of one orchestrator cycle.",
		Buckets: prometheus.DefBuckets,
	})

	SignalsTriggered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "candlewatch_signals_triggered_total",
		Help: "Signals produced by the scanner across all cycles.",
	})

	SignalsEscalated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "candlewatch_signals_escalated_total",
		Help: "Signals the filter escalated to the Decision Maker.",
	})

	DecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "candlewatch_decisions_total",
		Help: "Decisions returned by the Decision Maker, by action.",
	}, []string{"action"})

	ExecutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "candlewatch_executions_total",
		Help: "Executor outcomes, by executed/rejected.",
	}, []string{"outcome"})

	OpenPositions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "candlewatch_open_positions",
		Help: "Currently open positions.",
	})

	CircuitBreakerActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "candlewatch_circuit_breaker_active",
		Help: "1 if the circuit breaker is currently tripped, else 0.",
	})
)

func init() {
	prometheus.MustRegister(
		CycleDuration, SignalsTriggered, SignalsEscalated,
		DecisionsTotal, ExecutionsTotal, OpenPositions, CircuitBreakerActive,
	)
}

// ObserveCycle records a completed cycle's duration and trigger/escalation
// counts in one call, matching the one-line-per-cycle update pattern of the
// orchestrator's own completion log.
func ObserveCycle(d time.Duration, triggered, escalated int) {
	CycleDuration.Observe(d.Seconds())
	SignalsTriggered.Add(float64(triggered))
	SignalsEscalated.Add(float64(escalated))
}

// RecordDecision increments the decisions counter for the given action.
func RecordDecision(action string) {
	DecisionsTotal.WithLabelValues(action).Inc()
}

// RecordExecution increments the executions counter for executed/rejected.
func RecordExecution(executed bool) {
	outcome := "rejected"
	if executed {
		outcome = "executed"
	}
	ExecutionsTotal.WithLabelValues(outcome).Inc()
}

// SetPortfolioState updates the open-position and circuit-breaker gauges.
func SetPortfolioState(openCount int, circuitBreakerActive bool) {
	OpenPositions.Set(float64(openCount))
	v := 0.0
	if circuitBreakerActive {
		v = 1.0
	}
	CircuitBreakerActive.Set(v)
}
