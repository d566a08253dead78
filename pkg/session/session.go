// Package session tracks the process-wide authentication state and owns
// the single reauthentication choke point. Every signal that should prompt
// the user to log in again (idle timeout, a 401, an unreachable API) goes
// through Trigger so at most one prompt is visible at a time.
package session

import (
	"sync"
	"sync/atomic"
	"time"
)

// State is the authentication state of the application.
type State int32

const (
	// Unauthenticated means no credential has been established.
	Unauthenticated State = iota

	// Authenticated means a credential is present and usable.
	Authenticated

	// PendingReauth means the user must re-establish a credential.
	PendingReauth
)

// String returns the state as a human-readable string.
func (s State) String() string {
	switch s {
	case Authenticated:
		return "authenticated"
	case PendingReauth:
		return "pending_reauth"
	default:
		return "unauthenticated"
	}
}

// Transition records a state change.
type Transition struct {
	From State
	To   State
	At   time.Time
}

// Tracker holds the current State. It is safe for concurrent use.
type Tracker struct {
	state atomic.Int32
	now   func() time.Time

	mu        sync.RWMutex
	listeners []func(Transition)
}

// NewTracker creates a Tracker in the given state.
func NewTracker(initial State) *Tracker {
	t := &Tracker{now: time.Now}
	t.state.Store(int32(initial))
	return t
}

// State returns the current state.
func (t *Tracker) State() State {
	return State(t.state.Load())
}

// OnTransition registers fn to be called after every effective change.
func (t *Tracker) OnTransition(fn func(Transition)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// compareAndSwap moves from -> to atomically and notifies listeners.
func (t *Tracker) compareAndSwap(from, to State) bool {
	if from == to {
		return false
	}
	if !t.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	t.notify(Transition{From: from, To: to, At: t.now()})
	return true
}

// set moves to the given state from whatever the current state is. It
// reports whether the state changed.
func (t *Tracker) set(to State) bool {
	for {
		from := t.State()
		if from == to {
			return false
		}
		if t.compareAndSwap(from, to) {
			return true
		}
	}
}

func (t *Tracker) notify(tr Transition) {
	t.mu.RLock()
	listeners := make([]func(Transition), len(t.listeners))
	copy(listeners, t.listeners)
	t.mu.RUnlock()

	for _, fn := range listeners {
		fn(tr)
	}
}
