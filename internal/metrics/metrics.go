// Package metrics exposes the pipeline's Prometheus instruments. All are
// registered on the default registry and served from /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LLMCalls counts provider invocations by outcome: ok, transport_error,
	// parse_error, short_circuited.
	LLMCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jd_llm_calls_total",
		Help: "LLM provider calls by provider and outcome.",
	}, []string{"provider", "outcome"})

	// LLMInFlight tracks concurrent LLM invocations; bounded by the
	// dispatcher semaphore, so it must never exceed that size.
	LLMInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "jd_llm_in_flight",
		Help: "Concurrent LLM invocations.",
	})

	LLMLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "jd_llm_latency_seconds",
		Help:    "LLM call latency by provider.",
		Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40},
	}, []string{"provider"})

	// BreakerState is 0 closed, 1 half-open, 2 open.
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "jd_llm_breaker_state",
		Help: "Circuit breaker state per provider (0 closed, 1 half-open, 2 open).",
	}, []string{"provider"})

	RecordsTerminal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jd_records_terminal_total",
		Help: "Processing records reaching a terminal state, by status.",
	}, []string{"status"})

	IntakeDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jd_intake_decisions_total",
		Help: "Intake policy decisions by kind and reason.",
	}, []string{"kind", "reason"})

	// SweepClaims counts pending entries re-claimed from dead consumers.
	SweepClaims = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jd_stream_sweep_claims_total",
		Help: "Pending stream entries re-claimed by the idle sweep, per group.",
	}, []string{"group"})

	FailedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jd_failed_events_total",
		Help: "Messages dead-lettered to the failed_events table.",
	})

	StuckRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jd_stuck_records_recovered_total",
		Help: "SUMMARIZING records replayed from a cached LLM result.",
	})
)
