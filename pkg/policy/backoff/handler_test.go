package backoff

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func (r *recordingSleeper) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func fixedPolicy() *ExponentialPolicy {
	return NewExponentialPolicy(time.Second, WithJitterSource(func() float64 { return 0 }))
}

func TestHandler_WaitWithBackoff_GrowsThenCoolsOff(t *testing.T) {
	// Given: a handler allowing 3 attempts before a cool-off
	sleeper := &recordingSleeper{}
	h := NewHandler(fixedPolicy(), zap.NewNop(),
		WithMaxAttempts(3),
		WithCoolOff(time.Hour),
		WithSleeper(sleeper.sleep))

	// When: waiting five times in a row
	for range 5 {
		require.NoError(t, h.WaitWithBackoff(context.Background()))
	}

	// Then: delays grow, the fourth wait is the cool-off and the policy starts over
	assert.Equal(t, []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		time.Hour,
		time.Second,
	}, sleeper.recorded())
}

func TestHandler_ResetRestartsSequence(t *testing.T) {
	sleeper := &recordingSleeper{}
	h := NewHandler(fixedPolicy(), zap.NewNop(), WithSleeper(sleeper.sleep))

	require.NoError(t, h.WaitWithBackoff(context.Background()))
	require.NoError(t, h.WaitWithBackoff(context.Background()))
	h.Reset()
	require.NoError(t, h.WaitWithBackoff(context.Background()))

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, time.Second}, sleeper.recorded())
}

func TestHandler_WaitWithBackoff_ContextCancelled(t *testing.T) {
	// Given: a handler with the real sleeper and a long delay
	h := NewHandler(NewExponentialPolicy(time.Hour), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	// When: cancelling while waiting
	done := make(chan error, 1)
	go func() { done <- h.WaitWithBackoff(ctx) }()
	cancel()

	// Then: the wait returns promptly with the context error
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("WaitWithBackoff did not return after cancellation")
	}
}

func TestHandler_RealSleep(t *testing.T) {
	h := NewHandler(NewExponentialPolicy(5*time.Millisecond), zap.NewNop())

	start := time.Now()
	require.NoError(t, h.WaitWithBackoff(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}

func TestNewHandler_Defaults(t *testing.T) {
	h := NewHandler(nil, nil)

	assert.Equal(t, DefaultMaxAttempts, h.maxAttempts)
	assert.Equal(t, DefaultCoolOff, h.coolOff)
	assert.NotNil(t, h.policy)
}
