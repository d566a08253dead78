package session

import (
	"log/slog"
	"sync"
	"time"
)

// Reason identifies why reauthentication was requested.
type Reason string

const (
	// ReasonIdle is raised by the idle monitor.
	ReasonIdle Reason = "idle"

	// ReasonUnauthenticated is raised on a 401 response.
	ReasonUnauthenticated Reason = "unauthenticated"

	// ReasonUnreachable is raised when the API gave no response at all.
	ReasonUnreachable Reason = "unreachable"

	// ReasonRelogin is raised by an explicit user action.
	ReasonRelogin Reason = "relogin"
)

// Prompt describes a reauthentication request shown to the user.
type Prompt struct {
	Reason   Reason
	RaisedAt time.Time
}

// Surface is the UI element that asks the user to log in again.
type Surface interface {
	Show(p Prompt)
	Hide()
}

// Trigger coalesces reauthentication requests onto one Tracker.
type Trigger struct {
	tracker *Tracker
	logger  *slog.Logger

	mu      sync.RWMutex
	surface Surface
}

// NewTrigger creates a Trigger driving tracker.
func NewTrigger(tracker *Tracker, logger *slog.Logger) *Trigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trigger{
		tracker: tracker,
		logger:  logger,
	}
}

// Tracker returns the underlying state tracker.
func (tr *Trigger) Tracker() *Tracker {
	return tr.tracker
}

// Register installs the reauthentication surface. The returned function
// removes it again, if it is still the registered one.
func (tr *Trigger) Register(s Surface) (unregister func()) {
	tr.mu.Lock()
	tr.surface = s
	tr.mu.Unlock()

	if tr.Pending() {
		s.Show(Prompt{Reason: ReasonRelogin, RaisedAt: tr.tracker.now()})
	}

	return func() {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		if tr.surface == s {
			tr.surface = nil
		}
	}
}

// HasSurface reports whether a surface is registered.
func (tr *Trigger) HasSurface() bool {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return tr.surface != nil
}

// Pending reports whether reauthentication is outstanding.
func (tr *Trigger) Pending() bool {
	return tr.tracker.State() == PendingReauth
}

// RequestReauth moves the application into PendingReauth and shows the
// surface. Calls made while already pending are no-ops. It reports whether
// this call raised the prompt.
func (tr *Trigger) RequestReauth(reason Reason) bool {
	if !tr.tracker.set(PendingReauth) {
		return false
	}

	tr.logger.Info("reauthentication requested", "reason", string(reason))

	if s := tr.currentSurface(); s != nil {
		s.Show(Prompt{Reason: reason, RaisedAt: tr.tracker.now()})
	}
	return true
}

// Resolve marks the session as authenticated again and hides the surface.
// It is called once the user has re-established a valid credential.
func (tr *Trigger) Resolve() {
	wasPending := tr.Pending()
	tr.tracker.set(Authenticated)

	if wasPending {
		tr.logger.Info("reauthentication resolved")
		if s := tr.currentSurface(); s != nil {
			s.Hide()
		}
	}
}

// Reset returns to Unauthenticated (logout) and hides any open prompt.
func (tr *Trigger) Reset() {
	wasPending := tr.Pending()
	tr.tracker.set(Unauthenticated)
	if wasPending {
		if s := tr.currentSurface(); s != nil {
			s.Hide()
		}
	}
}

func (tr *Trigger) currentSurface() Surface {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return tr.surface
}
