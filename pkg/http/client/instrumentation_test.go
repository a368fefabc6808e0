package client

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

func TestBatchSender_WithInstrumentation(t *testing.T) {
	// Given: a sender reporting to in-memory providers
	srv, captured := newDataPlane(t, http.StatusOK)
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	s, err := NewBatchSender(SenderConfig{
		DataPlaneURL: srv.URL,
		WriteKey:     "write-key",
		HTTP:         ClientConfig{Timeout: lo.ToPtr(2 * time.Second)},
	}, zap.NewNop(), WithInstrumentation(tp, mp))
	require.NoError(t, err)

	// When
	require.NoError(t, s.SendBatch(context.Background(), []byte(`{"batch":[]}`), nil))

	// Then: the request went out with trace context and was recorded
	req := <-captured
	assert.NotEmpty(t, req.header.Get("Traceparent"))
	require.Len(t, spans.Ended(), 1)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	assert.NotEmpty(t, rm.ScopeMetrics)
}

func TestBatchSender_InstrumentationKeepsCallerClient(t *testing.T) {
	custom := &http.Client{Timeout: time.Second}

	s, err := NewBatchSender(SenderConfig{DataPlaneURL: "http://localhost", WriteKey: "k"}, nil,
		WithHTTPClient(custom), WithInstrumentation(sdktrace.NewTracerProvider(), nil))

	require.NoError(t, err)
	assert.Nil(t, custom.Transport)
	assert.NotSame(t, custom, s.httpClient)
	assert.Equal(t, time.Second, s.httpClient.Timeout)
}
