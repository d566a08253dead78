package idle

import "sync"

// ActivityKind is a user input that counts as activity.
type ActivityKind string

// Activity kinds that reset the idle deadline.
const (
	PointerMove ActivityKind = "pointermove"
	PointerDown ActivityKind = "pointerdown"
	KeyDown     ActivityKind = "keydown"
	TouchStart  ActivityKind = "touchstart"
	Scroll      ActivityKind = "scroll"
)

// ActivityKinds lists every kind that resets the deadline.
var ActivityKinds = []ActivityKind{PointerMove, PointerDown, KeyDown, TouchStart, Scroll}

// Valid reports whether k resets the deadline.
func (k ActivityKind) Valid() bool {
	for _, known := range ActivityKinds {
		if k == known {
			return true
		}
	}
	return false
}

// ActivitySource delivers user activity. The returned function removes
// the listener.
type ActivitySource interface {
	Subscribe(fn func(ActivityKind)) (unsubscribe func())
}

// Broadcaster is an ActivitySource fed by the host's input layer.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[int]func(ActivityKind)
	nextID    int
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{listeners: make(map[int]func(ActivityKind))}
}

// Subscribe registers fn.
func (b *Broadcaster) Subscribe(fn func(ActivityKind)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners, id)
	}
}

// Emit delivers k to every listener. Unknown kinds are ignored.
func (b *Broadcaster) Emit(k ActivityKind) {
	if !k.Valid() {
		return
	}
	b.mu.RLock()
	fns := make([]func(ActivityKind), 0, len(b.listeners))
	for _, fn := range b.listeners {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(k)
	}
}

// Listeners returns the number of registered listeners.
func (b *Broadcaster) Listeners() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Verify interface compliance.
var _ ActivitySource = (*Broadcaster)(nil)
