// Package nav models the host application's view location so that
// recovery actions (access denied, login) can redirect the user without
// reaching into UI code.
package nav

import (
	"sync"
	"time"
)

// Mode selects how a navigation is performed.
type Mode int

const (
	// Push adds a new entry to the history.
	Push Mode = iota

	// Replace swaps the current entry so "back" does not return to the
	// view that failed.
	Replace

	// Full reloads the application at the destination. It is the
	// last-resort recovery used before any UI scaffolding is mounted.
	Full
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case Replace:
		return "replace"
	case Full:
		return "full"
	default:
		return "push"
	}
}

// Navigator reads and changes the current view.
type Navigator interface {
	// Current returns the path of the view currently shown.
	Current() string

	// Navigate moves to path using mode.
	Navigate(path string, mode Mode)
}

// Entry is one navigation performed through a History.
type Entry struct {
	Path string
	Mode Mode
	At   time.Time
}

// History is an in-process Navigator that records every navigation. Host
// UIs subscribe with OnNavigate to render the new location.
type History struct {
	mu        sync.RWMutex
	stack     []string
	log       []Entry
	listeners []func(Entry)
	now       func() time.Time
}

// NewHistory creates a History positioned at initial.
func NewHistory(initial string) *History {
	return &History{
		stack: []string{initial},
		now:   time.Now,
	}
}

// Current returns the top of the stack.
func (h *History) Current() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stack[len(h.stack)-1]
}

// Navigate moves to path. Full navigation resets the stack, as a reload
// discards in-app history.
func (h *History) Navigate(path string, mode Mode) {
	h.mu.Lock()
	switch mode {
	case Replace:
		h.stack[len(h.stack)-1] = path
	case Full:
		h.stack = []string{path}
	default:
		h.stack = append(h.stack, path)
	}
	entry := Entry{Path: path, Mode: mode, At: h.now()}
	h.log = append(h.log, entry)
	listeners := make([]func(Entry), len(h.listeners))
	copy(listeners, h.listeners)
	h.mu.Unlock()

	for _, fn := range listeners {
		fn(entry)
	}
}

// Back pops the current entry. It reports false at the root.
func (h *History) Back() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.stack) <= 1 {
		return false
	}
	h.stack = h.stack[:len(h.stack)-1]
	return true
}

// Entries returns a copy of every navigation performed.
func (h *History) Entries() []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Entry, len(h.log))
	copy(out, h.log)
	return out
}

// OnNavigate registers fn to run after each navigation.
func (h *History) OnNavigate(fn func(Entry)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, fn)
}

// Verify interface compliance.
var _ Navigator = (*History)(nil)
