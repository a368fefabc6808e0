package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Sokol111/analytics-pipeline/pkg/core/logger"
	"github.com/Sokol111/analytics-pipeline/pkg/core/worker"
	"github.com/Sokol111/analytics-pipeline/pkg/policy/backoff"
	"github.com/Sokol111/analytics-pipeline/pkg/policy/flush"
	"github.com/Sokol111/analytics-pipeline/pkg/storage/eventstore"
	"github.com/Sokol111/analytics-pipeline/pkg/storage/kv"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Sender delivers one batch payload to the data plane.
type Sender interface {
	SendBatch(ctx context.Context, payload []byte, header http.Header) error
}

// ManagerConfig holds the collaborators of a Manager. Store and Sender are required.
type ManagerConfig struct {
	Store          eventstore.Store
	Sender         Sender
	KV             kv.Store
	Flush          *flush.Facade
	Backoff        *backoff.Handler
	Source         *State[SourceState, SourceAction]
	MaxEventSize   int
	Logger         *zap.Logger
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
	Now            func() time.Time
}

type itemKind int

const (
	itemEvent itemKind = iota
	itemFlush
	itemClear
)

// ingestItem is an event or a control signal. Signals are ordered with the events around them.
type ingestItem struct {
	kind  itemKind
	event Event
	done  chan struct{}
}

// ErrStopped is returned when waiting on a manager that no longer accepts work.
var ErrStopped = errors.New("analytics: event manager stopped")

// Manager moves events from producers into the event store and from the event store to the data plane.
//
// Two workers own the pipeline. The ingest worker is the only writer of the event store: it serializes
// queued events, appends them and rolls the open batch over when a flush policy fires. The upload worker
// drains closed batches oldest first whenever it is signalled.
type Manager struct {
	store        eventstore.Store
	sender       Sender
	policies     *flush.Facade
	backoff      *backoff.Handler
	source       *State[SourceState, SourceAction]
	retry        *retryTracker
	metrics      *pipelineMetrics
	tracer       trace.Tracer
	log          *zap.Logger
	throttler    *logger.LogThrottler
	now          func() time.Time
	maxEventSize int

	ingest       *queue[ingestItem]
	ingestWorker *worker.Worker
	uploadWorker *worker.Worker

	uploadMu     sync.Mutex
	uploadClosed bool
	uploadSignal chan struct{}
	closing      chan struct{}

	errs chan error

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool
	unsubscribe func()
}

// NewManager creates a manager. Call Start to begin processing.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errors.New("analytics: event store is required")
	}
	if cfg.Sender == nil {
		return nil, errors.New("analytics: sender is required")
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "event-manager"))

	metrics, err := newPipelineMetrics(cfg.MeterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline metrics: %w", err)
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	m := &Manager{
		store:        cfg.Store,
		sender:       cfg.Sender,
		policies:     cfg.Flush,
		backoff:      cfg.Backoff,
		source:       cfg.Source,
		metrics:      metrics,
		tracer:       tp.Tracer(instrumentationName),
		log:          log,
		throttler:    logger.NewLogThrottler(log, time.Minute),
		now:          cfg.Now,
		maxEventSize: cfg.MaxEventSize,
		ingest:       newQueue[ingestItem](),
		uploadSignal: make(chan struct{}, 1),
		closing:      make(chan struct{}),
		errs:         make(chan error, 1),
	}
	if m.policies == nil {
		m.policies = flush.NewFacade(log, flush.DefaultPolicies()...)
	}
	if m.backoff == nil {
		m.backoff = backoff.NewHandler(nil, log)
	}
	if m.source == nil {
		m.source = NewSourceState()
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.maxEventSize <= 0 {
		m.maxEventSize = DefaultMaxEventSize
	}
	store := cfg.KV
	if store == nil {
		store = kv.NewMemoryStore()
	}
	m.retry = newRetryTracker(store, m.now, log)

	m.ingestWorker = worker.New("ingest worker", log, m.runIngest)
	m.uploadWorker = worker.New("upload worker", log, m.runUpload)
	return m, nil
}

// Start launches the workers and arms the flush schedule. It is a no-op after the first call or after Stop.
func (m *Manager) Start() {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()
	if m.started || m.stopped {
		return
	}
	m.started = true

	m.unsubscribe = m.source.Subscribe(func(s SourceState) {
		if s.Enabled {
			m.signalUpload()
		}
	})
	m.ingestWorker.Start()
	m.uploadWorker.Start()
	m.policies.StartSchedule(m.Flush)
	m.log.Info("event manager started")
}

// Put queues an event. It never blocks. Events put after Stop are dropped.
func (m *Manager) Put(e Event) {
	if e == nil {
		return
	}
	if !m.ingest.Push(ingestItem{kind: itemEvent, event: e}) {
		m.log.Debug("event manager stopped, dropping event", zap.String("messageId", e.Base().MessageID))
		m.metrics.eventDropped(context.Background(), reasonStopped)
	}
}

// Flush rolls over every event put before this call and signals an upload.
func (m *Manager) Flush() {
	m.ingest.Push(ingestItem{kind: itemFlush})
}

// FlushAndWait is Flush that returns once every event put before the call is in a closed batch
// and the upload has been signalled.
func (m *Manager) FlushAndWait(ctx context.Context) error {
	done := make(chan struct{})
	if !m.ingest.Push(ingestItem{kind: itemFlush, done: done}) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Clear discards every stored batch, including events put before this call.
func (m *Manager) Clear() {
	m.ingest.Push(ingestItem{kind: itemClear})
}

// Errors reports failures the owner must act on, such as an invalid write key.
func (m *Manager) Errors() <-chan error {
	return m.errs
}

// Source returns the observable source state.
func (m *Manager) Source() *State[SourceState, SourceAction] {
	return m.source
}

// Stop cancels the flush schedule, closes the upload path and then the ingest queue, and waits
// for both workers. Items already queued are still appended and rolled over. When ctx ends first
// the workers are cancelled.
func (m *Manager) Stop(ctx context.Context) {
	m.lifecycleMu.Lock()
	if m.stopped {
		m.lifecycleMu.Unlock()
		return
	}
	m.stopped = true
	unsubscribe := m.unsubscribe
	m.lifecycleMu.Unlock()

	m.policies.CancelSchedule()
	m.closeUploadPath()
	m.ingest.Close()
	if unsubscribe != nil {
		unsubscribe()
	}

	var g errgroup.Group
	g.Go(func() error { return m.ingestWorker.Wait(ctx) })
	g.Go(func() error { return m.uploadWorker.Wait(ctx) })
	if err := g.Wait(); err != nil {
		m.log.Warn("event manager stopped before its queues were drained",
			zap.Int("pending", m.ingest.Len()), zap.Error(err))
		return
	}
	m.log.Info("event manager stopped")
}

func (m *Manager) closeUploadPath() {
	m.uploadMu.Lock()
	defer m.uploadMu.Unlock()
	if m.uploadClosed {
		return
	}
	m.uploadClosed = true
	close(m.uploadSignal)
	close(m.closing)
}

// signalUpload wakes the upload worker. Signals coalesce and are ignored once the upload path is closed.
func (m *Manager) signalUpload() bool {
	m.uploadMu.Lock()
	defer m.uploadMu.Unlock()
	if m.uploadClosed {
		return false
	}
	select {
	case m.uploadSignal <- struct{}{}:
	default:
	}
	return true
}

func (m *Manager) publishError(err error) {
	select {
	case m.errs <- err:
	default:
	}
}

func (m *Manager) runIngest(ctx context.Context) error {
	for {
		item, ok := m.ingest.Pop(ctx)
		if !ok {
			return nil
		}
		switch item.kind {
		case itemFlush:
			m.rollover()
			if item.done != nil {
				close(item.done)
			}
		case itemClear:
			m.clear()
		default:
			m.persist(ctx, item.event)
			if m.policies.ShouldFlush() {
				m.rollover()
			}
		}
	}
}

func (m *Manager) persist(ctx context.Context, e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		m.log.Error("failed to serialize event, dropping it", zap.Error(err))
		m.metrics.eventDropped(ctx, reasonSerialization)
		return
	}
	if len(data) > m.maxEventSize {
		m.log.Warn("event exceeds max event size, dropping it",
			zap.Int("size", len(data)), zap.Int("maxEventSize", m.maxEventSize))
		m.metrics.eventDropped(ctx, reasonEventTooLarge)
		return
	}

	if err := m.store.Append(string(data)); err != nil {
		reason := reasonStorage
		switch {
		case errors.Is(err, eventstore.ErrStoreFull):
			reason = reasonStoreFull
		case errors.Is(err, eventstore.ErrEventTooLarge):
			reason = reasonEventTooLarge
		}
		m.throttler.Warn("append-"+reason, "failed to store event, dropping it",
			zap.String("reason", reason), zap.Error(err))
		m.metrics.eventDropped(ctx, reason)
		return
	}
	m.policies.UpdateCount()
	m.metrics.eventStored(ctx)
}

func (m *Manager) rollover() {
	m.policies.ResetCount()
	if err := m.store.Rollover(); err != nil {
		m.throttler.Warn("rollover", "failed to roll over open batch", zap.Error(err))
	}
	if !m.signalUpload() {
		m.log.Debug("upload path closed, batch kept for the next run")
	}
}

func (m *Manager) clear() {
	m.policies.ResetCount()
	if items, err := m.store.Read(); err == nil {
		for _, item := range items {
			m.retry.clear(item.Reference)
		}
	}
	if err := m.store.RemoveAll(); err != nil {
		m.log.Warn("failed to clear stored batches", zap.Error(err))
		return
	}
	m.log.Info("stored batches cleared")
}
