package flush

import (
	"sync"

	"go.uber.org/zap"
)

// Facade combines a set of policies. Its verdict is the logical OR of its members.
type Facade struct {
	policies  []Policy
	log       *zap.Logger
	mu        sync.Mutex
	scheduled bool
}

// NewFacade creates a facade over policies. Nil entries are ignored.
func NewFacade(log *zap.Logger, policies ...Policy) *Facade {
	if log == nil {
		log = zap.NewNop()
	}
	f := &Facade{log: log.With(zap.String("component", "flush-policy"))}
	for _, p := range policies {
		if p == nil {
			continue
		}
		if ls, ok := p.(LoggerSetter); ok {
			ls.SetLogger(f.log)
		}
		f.policies = append(f.policies, p)
	}
	return f
}

// Policies returns the member policies.
func (f *Facade) Policies() []Policy {
	return append([]Policy(nil), f.policies...)
}

// StartSchedule arms every timer policy with trigger and evaluates the startup policy once,
// calling trigger if it fires.
func (f *Facade) StartSchedule(trigger func()) {
	f.mu.Lock()
	if f.scheduled {
		f.mu.Unlock()
		return
	}
	f.scheduled = true
	f.mu.Unlock()

	for _, p := range f.policies {
		if s, ok := p.(Scheduler); ok {
			s.Schedule(trigger)
		}
	}

	for _, p := range f.policies {
		if sp, ok := p.(Starter); ok && sp.ShouldFlushOnStart() {
			f.log.Debug("startup flush")
			trigger()
		}
	}
}

// UpdateCount records one stored event.
func (f *Facade) UpdateCount() {
	for _, p := range f.policies {
		if c, ok := p.(Counter); ok {
			c.UpdateCount()
		}
	}
}

// ShouldFlush reports whether any member policy wants a flush.
func (f *Facade) ShouldFlush() bool {
	for _, p := range f.policies {
		if p.ShouldFlush() {
			return true
		}
	}
	return false
}

// ResetCount clears every resettable policy after a flush.
func (f *Facade) ResetCount() {
	for _, p := range f.policies {
		if r, ok := p.(Resetter); ok {
			r.Reset()
		}
	}
}

// CancelSchedule stops every timer policy. It is idempotent.
func (f *Facade) CancelSchedule() {
	f.mu.Lock()
	wasScheduled := f.scheduled
	f.scheduled = false
	f.mu.Unlock()

	if !wasScheduled {
		return
	}
	for _, p := range f.policies {
		if s, ok := p.(Scheduler); ok {
			s.CancelSchedule()
		}
	}
}
