package analytics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/Sokol111/analytics-pipeline/pkg/analytics"

// Reasons attached to dropped, failed and discarded counters.
const (
	reasonSerialization = "serialization"
	reasonEventTooLarge = "event_too_large"
	reasonStoreFull     = "store_full"
	reasonStorage       = "storage"
	reasonStopped       = "stopped"
	reasonBadRequest    = "bad_request"
	reasonTooLarge      = "payload_too_large"
	reasonEmpty         = "empty"
)

type pipelineMetrics struct {
	stored    metric.Int64Counter
	dropped   metric.Int64Counter
	uploaded  metric.Int64Counter
	failed    metric.Int64Counter
	discarded metric.Int64Counter
}

func newPipelineMetrics(mp metric.MeterProvider) (*pipelineMetrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	var (
		m   pipelineMetrics
		err error
	)
	if m.stored, err = meter.Int64Counter("analytics.events.stored",
		metric.WithDescription("Events appended to the event store")); err != nil {
		return nil, err
	}
	if m.dropped, err = meter.Int64Counter("analytics.events.dropped",
		metric.WithDescription("Events discarded before reaching the event store")); err != nil {
		return nil, err
	}
	if m.uploaded, err = meter.Int64Counter("analytics.batches.uploaded",
		metric.WithDescription("Batches acknowledged by the data plane")); err != nil {
		return nil, err
	}
	if m.failed, err = meter.Int64Counter("analytics.batches.failed",
		metric.WithDescription("Batch uploads that failed and will be retried")); err != nil {
		return nil, err
	}
	if m.discarded, err = meter.Int64Counter("analytics.batches.discarded",
		metric.WithDescription("Batches removed without delivery")); err != nil {
		return nil, err
	}
	return &m, nil
}

func reasonAttr(reason string) metric.AddOption {
	return metric.WithAttributes(attribute.String("reason", reason))
}

func (m *pipelineMetrics) eventStored(ctx context.Context) {
	m.stored.Add(ctx, 1)
}

func (m *pipelineMetrics) eventDropped(ctx context.Context, reason string) {
	m.dropped.Add(ctx, 1, reasonAttr(reason))
}

func (m *pipelineMetrics) batchUploaded(ctx context.Context) {
	m.uploaded.Add(ctx, 1)
}

func (m *pipelineMetrics) batchFailed(ctx context.Context, reason string) {
	m.failed.Add(ctx, 1, reasonAttr(reason))
}

func (m *pipelineMetrics) batchDiscarded(ctx context.Context, reason string) {
	m.discarded.Add(ctx, 1, reasonAttr(reason))
}
