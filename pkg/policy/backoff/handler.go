package backoff

import (
	"context"
	"sync"
	"time"

	cbackoff "github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	// DefaultMaxAttempts is the number of consecutive backoff waits before a cool-off.
	DefaultMaxAttempts = 5
	// DefaultCoolOff is the pause applied once the attempts are exhausted.
	DefaultCoolOff = 30 * time.Minute
)

// Handler suspends the caller for the delay produced by a backoff policy.
// After maxAttempts consecutive waits it resets the policy and sleeps the cool-off period instead.
type Handler struct {
	mu          sync.Mutex
	policy      cbackoff.BackOff
	maxAttempts int
	coolOff     time.Duration
	attempt     int
	sleep       func(ctx context.Context, d time.Duration) error
	log         *zap.Logger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithMaxAttempts sets the number of waits before a cool-off. Zero or less disables the cool-off.
func WithMaxAttempts(n int) HandlerOption {
	return func(h *Handler) {
		h.maxAttempts = n
	}
}

// WithCoolOff sets the cool-off period.
func WithCoolOff(d time.Duration) HandlerOption {
	return func(h *Handler) {
		if d > 0 {
			h.coolOff = d
		}
	}
}

// WithSleeper replaces the function used to wait, mainly for tests.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) HandlerOption {
	return func(h *Handler) {
		h.sleep = fn
	}
}

// NewHandler creates a handler around policy. A nil policy uses NewExponentialPolicy(DefaultMinDelay).
func NewHandler(policy cbackoff.BackOff, log *zap.Logger, opts ...HandlerOption) *Handler {
	if policy == nil {
		policy = NewExponentialPolicy(DefaultMinDelay)
	}
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{
		policy:      policy,
		maxAttempts: DefaultMaxAttempts,
		coolOff:     DefaultCoolOff,
		sleep:       sleepContext,
		log:         log.With(zap.String("component", "backoff")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// WaitWithBackoff blocks for the next delay. It returns early with ctx.Err() when ctx is done.
func (h *Handler) WaitWithBackoff(ctx context.Context) error {
	return h.sleep(ctx, h.nextWait())
}

func (h *Handler) nextWait() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.attempt++
	if h.maxAttempts > 0 && h.attempt > h.maxAttempts {
		h.resetLocked()
		h.log.Debug("max attempts reached, entering cool-off", zap.Duration("coolOff", h.coolOff))
		return h.coolOff
	}

	delay := h.policy.NextBackOff()
	if delay == cbackoff.Stop {
		h.resetLocked()
		return h.coolOff
	}
	h.log.Debug("backing off",
		zap.Duration("delay", delay),
		zap.Int("attempt", h.attempt),
		zap.Int("maxAttempts", h.maxAttempts))
	return delay
}

// Reset zeroes the attempt counter and resets the policy. Called after a successful delivery.
func (h *Handler) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resetLocked()
}

func (h *Handler) resetLocked() {
	h.attempt = 0
	h.policy.Reset()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
