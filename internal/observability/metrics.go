// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for the runtime. Metrics register against the default registry and
// surface at /metrics; tracing is a no-op unless an OTLP endpoint is set.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the full metric set for the runtime.
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.RecordHTTPRequest("POST", "/v1/chat", "200", time.Since(start).Seconds())
type Metrics struct {
	// HTTPRequestDuration measures request latency in seconds.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// LLMRequestDuration measures model call latency in seconds.
	// Labels: provider (anthropic|openai|google), model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts model calls.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (input|output)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool dispatches.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool dispatch time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// VerifierOutcomes counts verifier verdicts by outcome.
	// Labels: verifier, outcome (pass|warn|block)
	VerifierOutcomes *prometheus.CounterVec

	// HitlEvents counts pause lifecycle transitions.
	// Labels: event (paused|resumed|cancelled|expired)
	HitlEvents *prometheus.CounterVec

	// ActiveStreams is a gauge of open SSE chat streams.
	ActiveStreams prometheus.Gauge

	// ErrorCounter tracks errors by component and type.
	// Labels: component (loop|provider|store|gateway), error_type
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics registers all metrics with the default Prometheus registry.
// Call once at startup.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers against an explicit registerer; tests use this to
// avoid duplicate-registration panics.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "forged_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forged_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "forged_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forged_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forged_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),
		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forged_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "forged_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"tool_name"},
		),
		VerifierOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forged_verifier_outcomes_total",
				Help: "Total verifier verdicts by verifier and outcome",
			},
			[]string{"verifier", "outcome"},
		),
		HitlEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forged_hitl_events_total",
				Help: "Total pause lifecycle transitions",
			},
			[]string{"event"},
		),
		ActiveStreams: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "forged_active_streams",
				Help: "Current number of open SSE chat streams",
			},
		),
		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forged_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),
	}
}

// RecordHTTPRequest records one finished request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}

// RecordLLMRequest records one finished model call.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, inputTokens, outputTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if inputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	}
}

// RecordToolExecution records one tool dispatch.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordVerifierOutcome records one verdict.
func (m *Metrics) RecordVerifierOutcome(verifier, outcome string) {
	m.VerifierOutcomes.WithLabelValues(verifier, outcome).Inc()
}

// RecordHitlEvent records one pause lifecycle transition.
func (m *Metrics) RecordHitlEvent(event string) {
	m.HitlEvents.WithLabelValues(event).Inc()
}

// StreamOpened and StreamClosed bracket one SSE chat stream.
func (m *Metrics) StreamOpened() { m.ActiveStreams.Inc() }
func (m *Metrics) StreamClosed() { m.ActiveStreams.Dec() }

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}
