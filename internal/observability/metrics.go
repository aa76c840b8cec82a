// Package observability provides the Prometheus metrics and
// OpenTelemetry tracing wired into C5 (internal/toolrouter) and C6
// (internal/turnengine), adapted from the teacher's
// internal/observability package and narrowed to the two surfaces
// those components actually emit: tool-call outcomes/latency and
// turn/LLM-request outcomes/latency/token usage.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is a centralized set of Prometheus collectors for the turn
// engine and tool orchestrator.
type Metrics struct {
	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// TurnCounter counts completed RunTurn calls by outcome.
	// Labels: outcome (completed|needs_more_input|cancelled|
	// max_turns_exceeded|provider_error|tool_error)
	TurnCounter *prometheus.CounterVec

	// TurnDuration measures a full RunTurn call's wall time in seconds.
	TurnDuration prometheus.Histogram

	// LLMRequestCounter counts provider streaming requests.
	// Labels: provider, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMRequestDuration measures a single streaming request's latency.
	// Labels: provider
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokensUsed tracks cumulative token consumption.
	// Labels: provider, type (input|output|cache_read|cache_write)
	LLMTokensUsed *prometheus.CounterVec
}

// defaultMetrics is package-scoped, matching the teacher's pattern of
// registering collectors once against the default Prometheus registry
// at process startup rather than threading a *Metrics through every
// call site.
var defaultMetrics = NewMetrics()

// NewMetrics constructs a Metrics whose collectors promauto registers on
// the default Prometheus registry. defaultMetrics already calls it at
// package init, so any further call panics on duplicate registration;
// code uses the package-level helpers (RecordToolExecution, RecordTurn,
// ...) backed by defaultMetrics.
func NewMetrics() *Metrics {
	return &Metrics{
		ToolExecutionCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nexus_core",
			Subsystem: "toolrouter",
			Name:      "tool_calls_total",
			Help:      "Total tool calls dispatched, by tool and outcome.",
		}, []string{"tool_name", "status"}),

		ToolExecutionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nexus_core",
			Subsystem: "toolrouter",
			Name:      "tool_call_duration_seconds",
			Help:      "Duration of a single tool call, from dispatch to result.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool_name"}),

		TurnCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nexus_core",
			Subsystem: "turnengine",
			Name:      "turns_total",
			Help:      "Total RunTurn calls, by terminal outcome.",
		}, []string{"outcome"}),

		TurnDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "nexus_core",
			Subsystem: "turnengine",
			Name:      "turn_duration_seconds",
			Help:      "Wall-clock duration of a full RunTurn call.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),

		LLMRequestCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nexus_core",
			Subsystem: "turnengine",
			Name:      "llm_requests_total",
			Help:      "Total provider streaming requests, by provider and status.",
		}, []string{"provider", "status"}),

		LLMRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nexus_core",
			Subsystem: "turnengine",
			Name:      "llm_request_duration_seconds",
			Help:      "Latency of a single provider streaming request.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider"}),

		LLMTokensUsed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nexus_core",
			Subsystem: "turnengine",
			Name:      "llm_tokens_total",
			Help:      "Cumulative token usage, by provider and token type.",
		}, []string{"provider", "type"}),
	}
}

// RecordToolExecution records one tool call's outcome and duration.
func RecordToolExecution(toolName string, seconds float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	defaultMetrics.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	defaultMetrics.ToolExecutionDuration.WithLabelValues(toolName).Observe(seconds)
}

// RecordTurn records one RunTurn call's terminal outcome and duration.
func RecordTurn(outcome string, seconds float64) {
	defaultMetrics.TurnCounter.WithLabelValues(outcome).Inc()
	defaultMetrics.TurnDuration.Observe(seconds)
}

// RecordLLMRequest records one provider streaming request's outcome,
// duration, and token usage.
func RecordLLMRequest(provider string, seconds float64, err error, input, output, cacheRead, cacheWrite int) {
	status := "success"
	if err != nil {
		status = "error"
	}
	defaultMetrics.LLMRequestCounter.WithLabelValues(provider, status).Inc()
	defaultMetrics.LLMRequestDuration.WithLabelValues(provider).Observe(seconds)
	defaultMetrics.LLMTokensUsed.WithLabelValues(provider, "input").Add(float64(input))
	defaultMetrics.LLMTokensUsed.WithLabelValues(provider, "output").Add(float64(output))
	defaultMetrics.LLMTokensUsed.WithLabelValues(provider, "cache_read").Add(float64(cacheRead))
	defaultMetrics.LLMTokensUsed.WithLabelValues(provider, "cache_write").Add(float64(cacheWrite))
}
