package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/Sokol111/analytics-pipeline/pkg/core/logger"
	"github.com/Sokol111/analytics-pipeline/pkg/http/client"
	"github.com/Sokol111/analytics-pipeline/pkg/observability/tracing"
	"github.com/Sokol111/analytics-pipeline/pkg/storage/eventstore"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const uploadThrottleKey = "upload"

type batchOutcome int

const (
	batchDelivered batchOutcome = iota
	batchDiscarded
	batchRetry
	batchAborted
	batchSourceDisabled
	batchInvalidWriteKey
)

func (o batchOutcome) String() string {
	switch o {
	case batchDelivered:
		return "delivered"
	case batchDiscarded:
		return "discarded"
	case batchRetry:
		return "retry"
	case batchAborted:
		return "aborted"
	case batchSourceDisabled:
		return "source_disabled"
	case batchInvalidWriteKey:
		return "invalid_write_key"
	}
	return "unknown"
}

type cycleResult int

const (
	cycleDone cycleResult = iota
	cycleRetry
	cycleHalted
)

func (m *Manager) runUpload(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-m.uploadSignal:
			if !ok {
				return nil
			}
		}

		if !m.source.Value().Enabled {
			m.log.Debug("source disabled, skipping upload")
			continue
		}

		switch m.uploadCycle(ctx) {
		case cycleHalted:
			return nil
		case cycleRetry:
			if err := m.waitBackoff(ctx); err != nil {
				m.log.Debug("backoff interrupted", zap.Error(err))
				continue
			}
			m.signalUpload()
		}
	}
}

// waitBackoff sleeps for the next backoff delay. Closing the upload path interrupts it.
func (m *Manager) waitBackoff(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-m.closing:
			cancel()
		case <-ctx.Done():
		}
	}()
	return m.backoff.WaitWithBackoff(ctx)
}

// uploadCycle tries every closed batch once, oldest first. A transient failure on one batch does not
// stop the others.
func (m *Manager) uploadCycle(ctx context.Context) cycleResult {
	items, err := m.store.Read()
	if err != nil {
		m.throttler.Warn("read", "failed to read stored batches", zap.Error(err))
		return cycleDone
	}
	if len(items) == 0 {
		return cycleDone
	}

	ctx, span := m.tracer.Start(ctx, "analytics.upload_cycle",
		trace.WithAttributes(attribute.Int("analytics.batches", len(items))))
	defer span.End()

	result := cycleDone
	for _, item := range items {
		switch m.uploadBatch(ctx, item) {
		case batchRetry:
			result = cycleRetry
		case batchAborted:
			return cycleDone
		case batchSourceDisabled:
			return cycleDone
		case batchInvalidWriteKey:
			return cycleHalted
		}
	}
	return result
}

func (m *Manager) uploadBatch(ctx context.Context, item eventstore.DataItem) (outcome batchOutcome) {
	ctx, span := m.tracer.Start(ctx, "analytics.upload_batch",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(attribute.String("analytics.batch", item.Reference)))
	defer func() {
		span.SetAttributes(attribute.String("analytics.outcome", outcome.String()))
		span.End()
	}()
	log := m.log.With(zap.String("batch", item.Reference)).With(tracing.LogFields(ctx)...)

	if strings.TrimSpace(item.Content) == "" {
		log.Debug("removing empty batch")
		m.removeBatch(item.Reference)
		m.metrics.batchDiscarded(ctx, reasonEmpty)
		return batchDiscarded
	}

	payload := eventstore.StampSentAt(item.Content, m.now())
	header := http.Header{}
	if id := extractAnonymousID(payload); id != "" {
		header.Set(client.HeaderAnonymousID, id)
	}
	m.retry.apply(header, item.Reference)

	err := m.sender.SendBatch(logger.With(ctx, log), []byte(payload), header)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	switch {
	case err == nil:
		log.Debug("batch uploaded")
		m.removeBatch(item.Reference)
		m.retry.clear(item.Reference)
		m.backoff.Reset()
		m.throttler.Reset(uploadThrottleKey)
		m.metrics.batchUploaded(ctx)
		return batchDelivered

	case errors.Is(err, client.ErrBadRequest), errors.Is(err, client.ErrPayloadTooLarge):
		reason := reasonBadRequest
		if errors.Is(err, client.ErrPayloadTooLarge) {
			reason = reasonTooLarge
		}
		log.Error("batch rejected by data plane, discarding it", zap.Error(err))
		m.removeBatch(item.Reference)
		m.retry.clear(item.Reference)
		m.metrics.batchDiscarded(ctx, reason)
		return batchDiscarded

	case errors.Is(err, client.ErrInvalidWriteKey):
		log.Error("invalid write key, uploads stopped", zap.Error(err))
		m.publishError(err)
		return batchInvalidWriteKey

	case errors.Is(err, client.ErrSourceDisabled):
		log.Warn("source disabled by data plane, uploads paused", zap.Error(err))
		m.source.Dispatch(DisableSource)
		return batchSourceDisabled

	case ctx.Err() != nil:
		return batchAborted

	default:
		reason := client.RetryReason(err)
		m.retry.recordFailure(item.Reference, reason)
		m.throttler.Warn(uploadThrottleKey, "batch upload failed, will retry",
			zap.String("batch", item.Reference), zap.String("reason", reason), zap.Error(err))
		m.metrics.batchFailed(ctx, reason)
		return batchRetry
	}
}

func (m *Manager) removeBatch(reference string) {
	if !m.store.Remove(reference) {
		m.log.Warn("failed to remove batch", zap.String("batch", reference))
	}
}

// extractAnonymousID returns the anonymousId of the first event in a batch payload.
// Only the envelope and the first event are decoded.
func extractAnonymousID(payload string) string {
	dec := json.NewDecoder(strings.NewReader(payload))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return ""
	}
	for dec.More() {
		key, err := dec.Token()
		if err != nil {
			return ""
		}
		if key != "batch" {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return ""
			}
			continue
		}
		if tok, err := dec.Token(); err != nil || tok != json.Delim('[') || !dec.More() {
			return ""
		}
		var first struct {
			AnonymousID string `json:"anonymousId"`
		}
		if err := dec.Decode(&first); err != nil {
			return ""
		}
		return first.AnonymousID
	}
	return ""
}
