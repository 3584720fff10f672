package connectivity

import (
	"context"
	"sync"
)

type State int

const (
	Disconnected State = iota
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connected:
		return "CONNECTED"
	default:
		return "INVALID STATE"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type Reporter interface {
	CurrentState() State
	WaitForStateChange(context.Context, State) bool
}

// StateReporter mirrors the connection state reported by the network manager
// and lets callers block until it moves away from a known state.
type StateReporter struct {
	mu      sync.Mutex
	state   State
	changed chan struct{}
}

// check StateReporter compliance to its interface during compile time
var _ Reporter = (*StateReporter)(nil)

func NewReporter() *StateReporter {
	return &StateReporter{
		state:   Disconnected,
		changed: make(chan struct{}),
	}
}

func (r *StateReporter) CurrentState() State {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.state
}

// Set records a new state and wakes up all waiters if it differs from the
// current one.
func (r *StateReporter) Set(state State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == state {
		return
	}

	r.state = state
	close(r.changed)
	r.changed = make(chan struct{})
}

// WaitForStateChange blocks until the state differs from the given one. It
// returns false if the context ends first.
func (r *StateReporter) WaitForStateChange(ctx context.Context, state State) bool {
	for {
		r.mu.Lock()
		if r.state != state {
			r.mu.Unlock()
			return true
		}
		changed := r.changed
		r.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return false
		}
	}
}
