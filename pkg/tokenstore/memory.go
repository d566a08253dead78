package tokenstore

import (
	"context"
	"sync"
)

// MemorySlot keeps the token in process memory only.
type MemorySlot struct {
	mu  sync.Mutex
	raw string
}

// NewMemorySlot creates an empty in-memory slot.
func NewMemorySlot() *MemorySlot {
	return &MemorySlot{}
}

// Load returns the stored token.
func (m *MemorySlot) Load(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.raw, nil
}

// Save replaces the stored token.
func (m *MemorySlot) Save(_ context.Context, raw string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.raw = raw
	return nil
}

// Delete empties the slot.
func (m *MemorySlot) Delete(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.raw = ""
	return nil
}

// Verify interface compliance.
var _ Slot = (*MemorySlot)(nil)
