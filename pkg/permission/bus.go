package permission

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

const defaultBusCapacity = 100

// MemoryBus keeps a bounded ring of recent denial events and fans each
// new event out to subscribers. An optional Store receives every event
// for durable history.
type MemoryBus struct {
	mu          sync.RWMutex
	events      []Event
	capacity    int
	subscribers map[int]func(Event)
	nextID      int
	store       Store
	logger      *slog.Logger
}

// BusConfig configures a MemoryBus.
type BusConfig struct {
	Capacity int
	Store    Store
	Logger   *slog.Logger
}

// NewMemoryBus creates a MemoryBus.
func NewMemoryBus(cfg BusConfig) *MemoryBus {
	if cfg.Capacity <= 0 {
		cfg.Capacity = defaultBusCapacity
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &MemoryBus{
		capacity:    cfg.Capacity,
		subscribers: make(map[int]func(Event)),
		store:       cfg.Store,
		logger:      cfg.Logger,
	}
}

// Append records event and notifies subscribers. The event is kept in
// memory even when forwarding to the store fails.
func (b *MemoryBus) Append(ctx context.Context, event Event) error {
	b.mu.Lock()
	if len(b.events) == b.capacity {
		b.events = append(b.events[:0], b.events[1:]...)
	}
	b.events = append(b.events, event)
	subs := make([]func(Event), 0, len(b.subscribers))
	for _, fn := range b.subscribers {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	b.logger.Info("permission denied",
		"path", event.AttemptedPath,
		"capability", event.RequiredCapability,
		"origin", event.OriginComponent)

	for _, fn := range subs {
		fn(event)
	}

	if b.store == nil {
		return nil
	}
	if err := b.store.Log(ctx, event); err != nil {
		return fmt.Errorf("storing permission event: %w", err)
	}
	return nil
}

// Recent returns the retained events, oldest first.
func (b *MemoryBus) Recent() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// Len returns the number of retained events.
func (b *MemoryBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.events)
}

// Subscribe registers fn to receive every subsequent event. The returned
// function removes the subscription.
func (b *MemoryBus) Subscribe(fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subscribers, id)
	}
}

// History queries the durable store. Without a store it filters the
// in-memory ring by capability and path, newest first.
func (b *MemoryBus) History(ctx context.Context, filter QueryFilter) ([]Event, error) {
	if b.store != nil {
		events, err := b.store.Query(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("querying permission events: %w", err)
		}
		return events, nil
	}

	recent := b.Recent()
	var out []Event
	for i := len(recent) - 1; i >= 0; i-- {
		if matches(recent[i], filter) {
			out = append(out, recent[i])
		}
	}
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Close closes the underlying store, if any.
func (b *MemoryBus) Close() error {
	if b.store == nil {
		return nil
	}
	if err := b.store.Close(); err != nil {
		return fmt.Errorf("closing permission store: %w", err)
	}
	return nil
}

func matches(e Event, f QueryFilter) bool {
	if f.Capability != "" && e.RequiredCapability != f.Capability {
		return false
	}
	if f.AttemptedPath != "" && e.AttemptedPath != f.AttemptedPath {
		return false
	}
	if f.StartTime != nil && e.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && e.Timestamp.After(*f.EndTime) {
		return false
	}
	return true
}
