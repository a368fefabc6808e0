// Package backoff computes and applies growing retry delays for failed batch uploads.
package backoff

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	cbackoff "github.com/cenkalti/backoff/v4"
)

const (
	// DefaultMinDelay is the delay range lower bound of the first attempt.
	DefaultMinDelay = 3 * time.Second
	defaultBase     = 2.0
)

// Policy is a stateful retry-delay calculator.
type Policy interface {
	// NextDelay returns the delay for the current attempt and advances the attempt counter.
	NextDelay() time.Duration
	// ResetBackoff restores the first attempt.
	ResetBackoff()
}

// ExponentialPolicy returns minDelay * 2^attempt * (1 + jitter) with jitter uniform in [0, 1).
// The k-th call after a reset returns a value in [minDelay*2^k, minDelay*2^(k+1)).
//
// It also satisfies cbackoff.BackOff so it can drive backoff.Retry style helpers.
type ExponentialPolicy struct {
	mu       sync.Mutex
	minDelay time.Duration
	base     float64
	attempt  int
	jitter   func() float64
}

var (
	_ Policy           = (*ExponentialPolicy)(nil)
	_ cbackoff.BackOff = (*ExponentialPolicy)(nil)
)

// PolicyOption configures an ExponentialPolicy.
type PolicyOption func(*ExponentialPolicy)

// WithJitterSource replaces the random source. fn must return values in [0, 1).
func WithJitterSource(fn func() float64) PolicyOption {
	return func(p *ExponentialPolicy) {
		p.jitter = fn
	}
}

// NewExponentialPolicy creates a policy. A non-positive minDelay falls back to DefaultMinDelay.
func NewExponentialPolicy(minDelay time.Duration, opts ...PolicyOption) *ExponentialPolicy {
	if minDelay <= 0 {
		minDelay = DefaultMinDelay
	}
	p := &ExponentialPolicy{
		minDelay: minDelay,
		base:     defaultBase,
		jitter:   rand.Float64,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *ExponentialPolicy) NextDelay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	delay := float64(p.minDelay) * math.Pow(p.base, float64(p.attempt))
	p.attempt++

	delay *= 1 + p.jitter()
	if delay >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// NextDelayInSeconds is NextDelay truncated to whole seconds.
func (p *ExponentialPolicy) NextDelayInSeconds() int {
	return int(p.NextDelay() / time.Second)
}

func (p *ExponentialPolicy) ResetBackoff() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempt = 0
}

// Attempt returns the number of delays handed out since the last reset.
func (p *ExponentialPolicy) Attempt() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempt
}

// NextBackOff implements cbackoff.BackOff. The policy never gives up.
func (p *ExponentialPolicy) NextBackOff() time.Duration {
	return p.NextDelay()
}

// Reset implements cbackoff.BackOff.
func (p *ExponentialPolicy) Reset() {
	p.ResetBackoff()
}
