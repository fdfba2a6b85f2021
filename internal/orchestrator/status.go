package orchestrator

import (
	"time"
)

// Status is a state of the sync state machine.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusDisconnected Status = "disconnected"
	StatusDebouncing   Status = "debouncing"
	StatusInFlight     Status = "in_flight"
	StatusSucceeded    Status = "succeeded"
	StatusFailed       Status = "failed"
)

// StatusEvent is one status transition.
type StatusEvent struct {
	Status Status
	Err    error
	At     time.Time
}

// Message returns the error text, or "" when the event carries none.
func (e StatusEvent) Message() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

// Status returns the most recent status event.
func (o *Orchestrator) Status() StatusEvent {
	o.statusMu.RLock()
	defer o.statusMu.RUnlock()
	return o.status
}

// OnStatusChange registers fn for every status transition and returns a
// function that unregisters it. fn runs on the goroutine that made the
// transition and must not block.
func (o *Orchestrator) OnStatusChange(fn func(StatusEvent)) func() {
	o.statusMu.Lock()
	id := o.nextObs
	o.nextObs++
	o.observers[id] = fn
	o.statusMu.Unlock()

	return func() {
		o.statusMu.Lock()
		delete(o.observers, id)
		o.statusMu.Unlock()
	}
}

func (o *Orchestrator) report(ev StatusEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	o.statusMu.Lock()
	o.status = ev
	observers := make([]func(StatusEvent), 0, len(o.observers))
	for _, fn := range o.observers {
		observers = append(observers, fn)
	}
	o.statusMu.Unlock()

	for _, fn := range observers {
		fn(ev)
	}
}
