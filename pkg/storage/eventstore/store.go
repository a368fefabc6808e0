// Package eventstore accumulates serialized events into batches and keeps closed batches
// until they are acknowledged by the data plane.
//
// Exactly one batch is open at a time. Closed batches are immutable and are only removed
// through Remove.
package eventstore

import (
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// SentAtPlaceholder marks the position of the send timestamp in a closed batch.
	SentAtPlaceholder = "{{_RSA_DEF_SENT_AT_TS_}}"

	batchPrefix       = `{"batch":[`
	batchSentAtSuffix = `],"sentAt":"`
	batchSuffix       = `"}`
	eventSeparator    = ","

	DefaultMaxBatchSize     = 500 * 1024
	DefaultMaxStoredBatches = 1000

	sentAtLayout = "2006-01-02T15:04:05.000Z"
)

var (
	// ErrStoreFull is returned when closing another batch would exceed the stored batch cap.
	ErrStoreFull = errors.New("eventstore: stored batch limit reached")

	// ErrEventTooLarge is returned when a single event cannot fit into an empty batch.
	ErrEventTooLarge = errors.New("eventstore: event exceeds max batch size")

	// ErrEmptyEvent is returned when appending an empty string.
	ErrEmptyEvent = errors.New("eventstore: event is empty")
)

// DataItem is one batch held by a store.
type DataItem struct {
	Reference string
	Content   string
	Closed    bool
}

// Store is an append-only batch accumulator. It expects a single writer.
type Store interface {
	// Append adds a serialized event to the open batch, closing it first if the event would not fit.
	Append(event string) error
	// Rollover closes the open batch. It is a no-op when nothing was appended since the last rollover.
	Rollover() error
	// Read returns the closed batches, oldest first.
	Read() ([]DataItem, error)
	// Remove deletes one closed batch. It returns false for unknown or open references.
	Remove(reference string) bool
	// RemoveAll deletes every batch, including the open one.
	RemoveAll() error
	// OpenBatch returns the batch currently accumulating, if any. For inspection only.
	OpenBatch() (DataItem, bool)
}

type options struct {
	maxBatchSize     int
	maxStoredBatches int
	log              *zap.Logger
}

// Option configures a store.
type Option func(*options)

// WithMaxBatchSize caps the byte size of a closed batch.
func WithMaxBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxBatchSize = n
		}
	}
}

// WithMaxStoredBatches caps the number of closed batches kept. Zero or less means unlimited.
func WithMaxStoredBatches(n int) Option {
	return func(o *options) {
		o.maxStoredBatches = n
	}
}

// WithLogger sets the store logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		maxBatchSize:     DefaultMaxBatchSize,
		maxStoredBatches: DefaultMaxStoredBatches,
		log:              zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// overhead is the fixed size of the batch envelope.
const overhead = len(batchPrefix) + len(batchSentAtSuffix) + len(SentAtPlaceholder) + len(batchSuffix)

// fits reports whether an event can be added to a batch whose events already take size bytes.
func (o options) fits(size, n int, event string) bool {
	next := size + len(event)
	if n > 0 {
		next += len(eventSeparator)
	}
	return next+overhead <= o.maxBatchSize
}

func (o options) full(closed int) bool {
	return o.maxStoredBatches > 0 && closed >= o.maxStoredBatches
}

func sealSuffix() string {
	return batchSentAtSuffix + SentAtPlaceholder + batchSuffix
}

// StampSentAt replaces every send time placeholder of a closed batch with t in ISO-8601 UTC.
func StampSentAt(content string, t time.Time) string {
	return strings.ReplaceAll(content, SentAtPlaceholder, t.UTC().Format(sentAtLayout))
}
