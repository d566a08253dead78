// Package tokenstore owns the process-wide bearer token. It keeps an
// in-memory copy for the request path and mirrors every change into a
// durable Slot so the credential survives a restart.
package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/txn2/adminsession/pkg/credential"
)

// ErrRejected is returned by Set when the input cannot be a credential.
var ErrRejected = errors.New("credential rejected")

// Slot is the durable location of the raw credential string.
type Slot interface {
	// Load returns the stored token, or "" if the slot is empty.
	Load(ctx context.Context) (string, error)

	// Save replaces the stored token.
	Save(ctx context.Context, raw string) error

	// Delete empties the slot. Deleting an empty slot is not an error.
	Delete(ctx context.Context) error
}

// Store is the single owner of the active credential.
type Store struct {
	slot   Slot
	logger *slog.Logger

	// mu serializes writers; readers use current without locking.
	mu      sync.Mutex
	current atomic.Pointer[string]

	onSet   func(credential.Credential, bool)
	onClear func()
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for rejected writes and slot failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithOnSet registers a hook run after a credential is stored. ok is false
// when the stored token is opaque (no decodable expiry).
func WithOnSet(fn func(cred credential.Credential, ok bool)) Option {
	return func(s *Store) { s.onSet = fn }
}

// WithOnClear registers a hook run once per effective clear.
func WithOnClear(fn func()) Option {
	return func(s *Store) { s.onClear = fn }
}

// New creates a Store backed by slot.
func New(slot Slot, opts ...Option) *Store {
	s := &Store{
		slot:   slot,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hydrate loads the durable slot into memory. It is called once at
// process start; an empty slot leaves the store empty. A slot holding
// content that can no longer be opened is treated as empty and deleted.
func (s *Store) Hydrate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.slot.Load(ctx)
	if errors.Is(err, ErrSealed) {
		s.logger.Warn("discarding unreadable credential slot", "error", err)
		s.current.Store(nil)
		if err := s.slot.Delete(ctx); err != nil {
			s.logger.Warn("deleting credential slot failed", "error", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading slot: %w", err)
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		s.current.Store(nil)
		return nil
	}
	s.current.Store(&raw)
	s.logger.Debug("credential hydrated from slot")
	return nil
}

// Get returns the decoded credential. Tokens that cannot be decoded are
// reported as absent.
func (s *Store) Get() (credential.Credential, bool) {
	raw, ok := s.Bearer()
	if !ok {
		return credential.Credential{}, false
	}
	cred, err := credential.Parse(raw)
	if err != nil {
		return credential.Credential{}, false
	}
	return cred, true
}

// Bearer returns the raw token string for transport, including opaque
// tokens that carry no decodable expiry.
func (s *Store) Bearer() (string, bool) {
	p := s.current.Load()
	if p == nil {
		return "", false
	}
	return *p, true
}

// Set replaces the active credential. Empty or whitespace input is
// rejected and logged; the previous credential is left in place.
func (s *Store) Set(ctx context.Context, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		s.logger.Warn("rejecting empty credential")
		return ErrRejected
	}

	s.mu.Lock()
	if err := s.slot.Save(ctx, raw); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("writing slot: %w", err)
	}
	s.current.Store(&raw)
	s.mu.Unlock()

	if s.onSet != nil {
		cred, err := credential.Parse(raw)
		s.onSet(cred, err == nil)
	}
	return nil
}

// Clear removes the credential from memory and from the durable slot.
// The slot is emptied even when memory holds nothing. Clear reports
// whether this call cleared an in-memory credential; concurrent callers
// see true exactly once.
func (s *Store) Clear(ctx context.Context) bool {
	s.mu.Lock()
	cleared := s.current.Swap(nil) != nil
	if err := s.slot.Delete(ctx); err != nil {
		s.logger.Warn("deleting credential slot failed", "error", err)
	}
	s.mu.Unlock()

	if cleared && s.onClear != nil {
		s.onClear()
	}
	return cleared
}

// Invalidate clears the credential only if it is still raw. An empty raw
// behaves like Clear. Responses that were sent with an older token
// must not wipe a newer one, so the request path always passes the token
// it actually sent.
func (s *Store) Invalidate(ctx context.Context, raw string) bool {
	if raw == "" {
		return s.Clear(ctx)
	}
	s.mu.Lock()
	p := s.current.Load()
	if p == nil || *p != raw {
		s.mu.Unlock()
		return false
	}
	s.current.Store(nil)
	if err := s.slot.Delete(ctx); err != nil {
		s.logger.Warn("deleting credential slot failed", "error", err)
	}
	s.mu.Unlock()

	if s.onClear != nil {
		s.onClear()
	}
	return true
}
