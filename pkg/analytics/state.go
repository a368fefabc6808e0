package analytics

import "sync"

// State is an observable value changed only through Dispatch and a pure reduce function.
type State[S, A any] struct {
	mu     sync.RWMutex
	value  S
	reduce func(S, A) S
	subs   map[int]func(S)
	nextID int
}

// NewState creates a state holding initial.
func NewState[S, A any](initial S, reduce func(S, A) S) *State[S, A] {
	return &State[S, A]{
		value:  initial,
		reduce: reduce,
		subs:   make(map[int]func(S)),
	}
}

// Value returns the current value.
func (s *State[S, A]) Value() S {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Dispatch applies action and notifies subscribers with the new value.
// Subscribers run synchronously on the dispatching goroutine.
func (s *State[S, A]) Dispatch(action A) {
	s.mu.Lock()
	s.value = s.reduce(s.value, action)
	value := s.value
	subs := make([]func(S), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(value)
	}
}

// Subscribe registers fn and returns a function that removes it.
func (s *State[S, A]) Subscribe(fn func(S)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// SourceState tells whether the data plane currently accepts events for the source.
type SourceState struct {
	Enabled bool
}

// SourceAction changes a SourceState.
type SourceAction int

const (
	EnableSource SourceAction = iota
	DisableSource
)

func reduceSource(state SourceState, action SourceAction) SourceState {
	switch action {
	case EnableSource:
		state.Enabled = true
	case DisableSource:
		state.Enabled = false
	}
	return state
}

// NewSourceState creates an enabled source state.
func NewSourceState() *State[SourceState, SourceAction] {
	return NewState(SourceState{Enabled: true}, reduceSource)
}
