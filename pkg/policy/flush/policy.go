// Package flush decides when accumulated events are sealed into a batch and uploaded.
//
// Policies advertise what they can do through optional interfaces:
// Counter for policies fed by stored events, Resetter for policies cleared after each flush,
// Scheduler for timer driven policies, Starter for policies evaluated when the schedule starts
// and LoggerSetter for policies that log. The Facade combines them.
package flush

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sokol111/analytics-pipeline/pkg/core/worker"
	"go.uber.org/zap"
)

const (
	DefaultFlushAt = 30
	MinFlushAt     = 1
	MaxFlushAt     = 100

	DefaultInterval = 10 * time.Second
	MinInterval     = time.Millisecond
)

// Policy answers whether a flush is due.
type Policy interface {
	ShouldFlush() bool
}

// Counter is implemented by policies that count stored events.
type Counter interface {
	UpdateCount()
}

// Resetter is implemented by policies that must be cleared after a flush.
type Resetter interface {
	Reset()
}

// Scheduler is implemented by policies that trigger flushes on their own.
type Scheduler interface {
	Schedule(trigger func())
	CancelSchedule()
}

// Starter is implemented by policies evaluated once when the schedule starts.
type Starter interface {
	ShouldFlushOnStart() bool
}

// LoggerSetter is implemented by policies that accept the facade's logger.
type LoggerSetter interface {
	SetLogger(log *zap.Logger)
}

// CountPolicy fires once flushAt events have been stored since the last reset.
type CountPolicy struct {
	flushAt int64
	count   atomic.Int64
}

// NewCountPolicy creates a count policy. Values outside [MinFlushAt, MaxFlushAt] fall back to DefaultFlushAt.
func NewCountPolicy(flushAt int) *CountPolicy {
	if flushAt < MinFlushAt || flushAt > MaxFlushAt {
		flushAt = DefaultFlushAt
	}
	return &CountPolicy{flushAt: int64(flushAt)}
}

// FlushAt returns the effective threshold.
func (p *CountPolicy) FlushAt() int {
	return int(p.flushAt)
}

func (p *CountPolicy) UpdateCount() {
	p.count.Add(1)
}

func (p *CountPolicy) ShouldFlush() bool {
	return p.count.Load() >= p.flushAt
}

func (p *CountPolicy) Reset() {
	p.count.Store(0)
}

// FrequencyPolicy triggers a flush on a fixed repeating interval, independent of resets.
type FrequencyPolicy struct {
	interval time.Duration
	log      *zap.Logger
	mu       sync.Mutex
	ticker   *worker.Worker
}

// NewFrequencyPolicy creates a timer policy. A non-positive interval uses DefaultInterval;
// shorter than MinInterval is raised to MinInterval.
func NewFrequencyPolicy(interval time.Duration) *FrequencyPolicy {
	switch {
	case interval <= 0:
		interval = DefaultInterval
	case interval < MinInterval:
		interval = MinInterval
	}
	return &FrequencyPolicy{interval: interval, log: zap.NewNop()}
}

func (p *FrequencyPolicy) SetLogger(log *zap.Logger) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.log = log
}

// Interval returns the effective interval.
func (p *FrequencyPolicy) Interval() time.Duration {
	return p.interval
}

// ShouldFlush is always false: the policy acts through its trigger instead.
func (p *FrequencyPolicy) ShouldFlush() bool {
	return false
}

// Schedule starts calling trigger every interval. Calling it while already scheduled does nothing.
func (p *FrequencyPolicy) Schedule(trigger func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ticker != nil {
		return
	}

	p.ticker = worker.New("flush-frequency", p.log, func(ctx context.Context) error {
		t := time.NewTicker(p.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
				trigger()
			}
		}
	})
	p.ticker.Start()
}

// CancelSchedule stops the timer and waits for an in-flight trigger to return. It is idempotent.
func (p *FrequencyPolicy) CancelSchedule() {
	p.mu.Lock()
	ticker := p.ticker
	p.ticker = nil
	p.mu.Unlock()

	if ticker != nil {
		ticker.Stop()
	}
}

// StartupPolicy reports true exactly once, prompting the upload of batches left over from a previous run.
type StartupPolicy struct {
	fired atomic.Bool
}

func NewStartupPolicy() *StartupPolicy {
	return &StartupPolicy{}
}

func (p *StartupPolicy) ShouldFlush() bool {
	return p.fired.CompareAndSwap(false, true)
}

func (p *StartupPolicy) ShouldFlushOnStart() bool {
	return p.ShouldFlush()
}

// Reset does not re-arm the policy.
func (p *StartupPolicy) Reset() {}

// DefaultPolicies returns the count, frequency and startup policies with default settings.
func DefaultPolicies() []Policy {
	return []Policy{
		NewCountPolicy(DefaultFlushAt),
		NewFrequencyPolicy(DefaultInterval),
		NewStartupPolicy(),
	}
}
