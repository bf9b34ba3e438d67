package observability

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecordHTTPRequest(t *testing.T) {
	metrics := NewMetricsWith(prometheus.NewRegistry())

	metrics.RecordHTTPRequest("POST", "/v1/chat", "200", 0.25)
	metrics.RecordHTTPRequest("POST", "/v1/chat", "200", 0.5)
	metrics.RecordHTTPRequest("POST", "/v1/chat", "429", 0.001)

	assert.Equal(t, 2.0, testutil.ToFloat64(
		metrics.HTTPRequestCounter.WithLabelValues("POST", "/v1/chat", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		metrics.HTTPRequestCounter.WithLabelValues("POST", "/v1/chat", "429")))
}

func TestMetricsRecordLLMRequestTokens(t *testing.T) {
	metrics := NewMetricsWith(prometheus.NewRegistry())

	metrics.RecordLLMRequest("anthropic", "claude-sonnet-4-5", "success", 1.2, 100, 40)
	metrics.RecordLLMRequest("anthropic", "claude-sonnet-4-5", "success", 0.8, 50, 10)

	assert.Equal(t, 150.0, testutil.ToFloat64(
		metrics.LLMTokensUsed.WithLabelValues("anthropic", "claude-sonnet-4-5", "input")))
	assert.Equal(t, 50.0, testutil.ToFloat64(
		metrics.LLMTokensUsed.WithLabelValues("anthropic", "claude-sonnet-4-5", "output")))
}

func TestMetricsStreamGauge(t *testing.T) {
	metrics := NewMetricsWith(prometheus.NewRegistry())

	metrics.StreamOpened()
	metrics.StreamOpened()
	metrics.StreamClosed()

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ActiveStreams))
}

func TestNoopTracerProducesInvalidIDs(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "forged-test"})
	t.Cleanup(func() { require.NoError(t, shutdown(context.Background())) })

	ctx, span := tracer.Start(context.Background(), "op")
	defer span.End()

	// Without an exporter the span is unrecorded and exposes no ids.
	assert.Empty(t, GetTraceID(ctx))
	assert.Empty(t, GetSpanID(ctx))
}
