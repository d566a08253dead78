// Package health tracks whether the remote API is reachable and serves
// local health endpoints.
package health

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Reachability constants for the connectivity state machine.
const (
	stateUnknown int32 = iota
	stateReachable
	stateUnreachable
)

// Change describes a connectivity transition.
type Change struct {
	From string
	To   string
	At   time.Time
}

// Connectivity tracks the reachability of the remote API.
//
// Transitions:
//
//	unknown     -> reachable | unreachable
//	reachable   -> unreachable
//	unreachable -> reachable
//
// It is safe for concurrent use.
type Connectivity struct {
	state atomic.Int32

	mu        sync.RWMutex
	listeners []func(Change)
	now       func() time.Time
}

// NewConnectivity creates a Connectivity in the unknown state.
func NewConnectivity() *Connectivity {
	return &Connectivity{now: time.Now}
}

// MarkReachable records a successful exchange with the API. It reports
// true only when this call recovered from the unreachable state.
func (c *Connectivity) MarkReachable() bool {
	from := c.state.Swap(stateReachable)
	if from == stateReachable {
		return false
	}
	c.notify(from, stateReachable)
	return from == stateUnreachable
}

// MarkUnreachable records that the API gave no response. It reports true
// only for the call that entered the unreachable state.
func (c *Connectivity) MarkUnreachable() bool {
	from := c.state.Swap(stateUnreachable)
	if from == stateUnreachable {
		return false
	}
	c.notify(from, stateUnreachable)
	return true
}

// Reachable returns true unless the API is known to be unreachable.
func (c *Connectivity) Reachable() bool {
	return c.state.Load() != stateUnreachable
}

// State returns the current state as a human-readable string.
func (c *Connectivity) State() string {
	return stateName(c.state.Load())
}

// OnChange registers fn to run after each transition.
func (c *Connectivity) OnChange(fn func(Change)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Connectivity) notify(from, to int32) {
	c.mu.RLock()
	listeners := make([]func(Change), len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.RUnlock()

	change := Change{From: stateName(from), To: stateName(to), At: c.now()}
	for _, fn := range listeners {
		fn(change)
	}
}

func stateName(s int32) string {
	switch s {
	case stateReachable:
		return "reachable"
	case stateUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// statusResponse is the JSON body returned by health endpoints.
type statusResponse struct {
	Status string `json:"status"`
	API    string `json:"api,omitempty"`
}

// LivenessHandler returns an http.HandlerFunc that always responds 200 OK.
func (*Connectivity) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
	}
}

// ConnectivityHandler returns an http.HandlerFunc that responds 200 unless
// the API is known to be unreachable, in which case it responds 503.
func (c *Connectivity) ConnectivityHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if c.Reachable() {
			writeJSON(w, http.StatusOK, statusResponse{Status: "ok", API: c.State()})
			return
		}
		writeJSON(w, http.StatusServiceUnavailable, statusResponse{Status: "degraded", API: c.State()})
	}
}

func writeJSON(w http.ResponseWriter, code int, v statusResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
