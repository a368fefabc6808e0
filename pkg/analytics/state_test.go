package analytics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReduceSource(t *testing.T) {
	tests := []struct {
		name   string
		state  SourceState
		action SourceAction
		want   SourceState
	}{
		{name: "disable enabled", state: SourceState{Enabled: true}, action: DisableSource, want: SourceState{Enabled: false}},
		{name: "enable disabled", state: SourceState{Enabled: false}, action: EnableSource, want: SourceState{Enabled: true}},
		{name: "enable enabled", state: SourceState{Enabled: true}, action: EnableSource, want: SourceState{Enabled: true}},
		{name: "unknown action keeps state", state: SourceState{Enabled: false}, action: SourceAction(42), want: SourceState{Enabled: false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, reduceSource(tt.state, tt.action))
		})
	}
}

func TestState_DispatchNotifiesSubscribers(t *testing.T) {
	// Given
	state := NewSourceState()
	var got []SourceState
	unsubscribe := state.Subscribe(func(s SourceState) { got = append(got, s) })

	// When
	state.Dispatch(DisableSource)
	state.Dispatch(EnableSource)
	unsubscribe()
	state.Dispatch(DisableSource)

	// Then
	assert.Equal(t, []SourceState{{Enabled: false}, {Enabled: true}}, got)
	assert.False(t, state.Value().Enabled)
}

func TestState_SubscriberMayReadState(t *testing.T) {
	state := NewState(0, func(s, delta int) int { return s + delta })
	var seen int
	state.Subscribe(func(int) { seen = state.Value() })

	state.Dispatch(5)

	assert.Equal(t, 5, seen)
}

func TestState_ConcurrentDispatch(t *testing.T) {
	state := NewState(0, func(s, delta int) int { return s + delta })

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			state.Dispatch(1)
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, state.Value())
}
