package flush

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewCountPolicy_Threshold(t *testing.T) {
	tests := []struct {
		name     string
		flushAt  int
		expected int
	}{
		{name: "in range", flushAt: 5, expected: 5},
		{name: "lower bound", flushAt: MinFlushAt, expected: MinFlushAt},
		{name: "upper bound", flushAt: MaxFlushAt, expected: MaxFlushAt},
		{name: "zero", flushAt: 0, expected: DefaultFlushAt},
		{name: "negative", flushAt: -3, expected: DefaultFlushAt},
		{name: "above max", flushAt: MaxFlushAt + 1, expected: DefaultFlushAt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NewCountPolicy(tt.flushAt).FlushAt())
		})
	}
}

func TestCountPolicy_ShouldFlush(t *testing.T) {
	// Given: a count policy with flushAt=5
	p := NewCountPolicy(5)

	// When: four events are counted
	for range 4 {
		p.UpdateCount()
		assert.False(t, p.ShouldFlush())
	}

	// Then: the fifth fires and reset clears it
	p.UpdateCount()
	assert.True(t, p.ShouldFlush())

	p.Reset()
	assert.False(t, p.ShouldFlush())
}

func TestNewFrequencyPolicy_Interval(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
		expected time.Duration
	}{
		{name: "configured", interval: 2 * time.Second, expected: 2 * time.Second},
		{name: "zero", interval: 0, expected: DefaultInterval},
		{name: "below floor", interval: time.Microsecond, expected: MinInterval},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NewFrequencyPolicy(tt.interval).Interval())
		})
	}
}

func TestFrequencyPolicy_ScheduleAndCancel(t *testing.T) {
	p := NewFrequencyPolicy(5 * time.Millisecond)
	var calls atomic.Int32

	p.Schedule(func() { calls.Add(1) })
	p.Schedule(func() { t.Error("second schedule must not replace the first") })

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, time.Millisecond)
	assert.False(t, p.ShouldFlush())

	p.CancelSchedule()
	p.CancelSchedule()

	after := calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, calls.Load())
}

func TestStartupPolicy_FiresOnce(t *testing.T) {
	p := NewStartupPolicy()

	assert.True(t, p.ShouldFlush())
	assert.False(t, p.ShouldFlush())

	p.Reset()
	assert.False(t, p.ShouldFlush())
}

func TestDefaultPolicies(t *testing.T) {
	policies := DefaultPolicies()

	require.Len(t, policies, 3)
	assert.IsType(t, &CountPolicy{}, policies[0])
	assert.IsType(t, &FrequencyPolicy{}, policies[1])
	assert.IsType(t, &StartupPolicy{}, policies[2])
}

func TestNewFacade_SkipsNil(t *testing.T) {
	f := NewFacade(zap.NewNop(), nil, NewCountPolicy(1), nil)
	assert.Len(t, f.Policies(), 1)
}
