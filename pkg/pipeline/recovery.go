package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/txn2/adminsession/pkg/nav"
	"github.com/txn2/adminsession/pkg/notice"
	"github.com/txn2/adminsession/pkg/permission"
	"github.com/txn2/adminsession/pkg/session"
)

// Default recovery destinations.
const (
	DefaultLoginPath        = "/login"
	DefaultAccessDeniedPath = "/access-denied"
)

// Tokens is the credential holder consulted during recovery.
type Tokens interface {
	// Bearer returns the raw credential currently held.
	Bearer() (string, bool)

	// Invalidate clears the credential if it is still raw and reports
	// whether this call cleared it.
	Invalidate(ctx context.Context, raw string) bool
}

// Reauth raises the reauthentication surface.
type Reauth interface {
	RequestReauth(reason session.Reason) bool
	HasSurface() bool
}

// Denials records permission denial events.
type Denials interface {
	Append(ctx context.Context, event permission.Event) error
}

// Connectivity tracks API reachability.
type Connectivity interface {
	MarkReachable() bool
	MarkUnreachable() bool
}

// RecoveryDeps are the collaborators of a Recovery.
type RecoveryDeps struct {
	Tokens       Tokens
	Reauth       Reauth
	Navigator    nav.Navigator
	Notifier     notice.Notifier
	Denials      Denials
	Connectivity Connectivity

	// Chain defaults to DefaultChain.
	Chain *Chain

	LoginPath        string
	AccessDeniedPath string

	Logger *slog.Logger
}

// Recovery classifies failed calls and runs the side effects for each
// class. It is shared by the request client and the asset loader so that
// both recover identically.
type Recovery struct {
	deps RecoveryDeps

	// forbiddenMu serializes forbidden handling so that simultaneous 403s
	// from one view produce a single event and a single redirect.
	forbiddenMu sync.Mutex
	lastDenial  denial
}

// denial identifies a 403 by the view it came from and the capability
// it lacked.
type denial struct {
	view       string
	capability string
}

// NewRecovery validates deps and creates a Recovery.
func NewRecovery(deps RecoveryDeps) (*Recovery, error) {
	if deps.Tokens == nil {
		return nil, fmt.Errorf("recovery: tokens are required")
	}
	if deps.Reauth == nil {
		return nil, fmt.Errorf("recovery: reauth trigger is required")
	}
	if deps.Navigator == nil {
		return nil, fmt.Errorf("recovery: navigator is required")
	}
	if deps.Chain == nil {
		deps.Chain = DefaultChain()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Notifier == nil {
		deps.Notifier = notice.NewLogNotifier(deps.Logger)
	}
	if deps.LoginPath == "" {
		deps.LoginPath = DefaultLoginPath
	}
	if deps.AccessDeniedPath == "" {
		deps.AccessDeniedPath = DefaultAccessDeniedPath
	}
	return &Recovery{deps: deps}, nil
}

// Classify returns the class of o without running side effects.
func (r *Recovery) Classify(o Outcome) Class {
	return r.deps.Chain.Classify(o)
}

// Resolve classifies a failed call, runs its recovery and returns the
// error the caller should see.
func (r *Recovery) Resolve(ctx context.Context, o Outcome) *Error {
	class := r.Classify(o)
	e := &Error{
		Class:      class,
		StatusCode: o.StatusCode(),
		Body:       o.Body,
		Err:        o.Err,
	}
	if o.Request != nil {
		e.Method = o.Request.Method
		e.URL = o.Request.URL.Redacted()
	}
	if class == Forbidden {
		e.Capability = Capability(o.Body)
	}

	if recoverySkipped(ctx) {
		return e
	}
	// Side effects outlive the call that triggered them.
	ctx = context.WithoutCancel(ctx)

	switch class {
	case Unreachable:
		r.unreachable()
	case Unauthenticated:
		r.unauthenticated(ctx, o.Bearer)
	case Forbidden:
		r.forbidden(ctx, e)
	case Opaque:
	}
	return e
}

// ReportReachable records that the API answered. A recovery from the
// unreachable state emits a notice.
func (r *Recovery) ReportReachable() {
	if r.deps.Connectivity == nil {
		return
	}
	if r.deps.Connectivity.MarkReachable() {
		r.deps.Logger.Info("api reachable again")
		r.deps.Notifier.Notify(notice.Notice{
			Level:   notice.LevelSuccess,
			Title:   "Connection restored",
			Message: "The server is reachable again.",
			At:      time.Now(),
		})
	}
}

// ReportUnreachable records a failed health probe. Probes only track
// connectivity; they never raise the reauthentication surface.
func (r *Recovery) ReportUnreachable(err error) {
	if r.deps.Connectivity == nil {
		return
	}
	if r.deps.Connectivity.MarkUnreachable() {
		r.deps.Logger.Warn("api unreachable", "error", err)
	}
}

func (r *Recovery) unreachable() {
	entered := true
	if r.deps.Connectivity != nil {
		entered = r.deps.Connectivity.MarkUnreachable()
	}
	r.deps.Reauth.RequestReauth(session.ReasonUnreachable)
	if !entered {
		return
	}
	r.deps.Logger.Warn("api unreachable")
	r.deps.Notifier.Notify(notice.Notice{
		Level:   notice.LevelError,
		Title:   "Connection lost",
		Message: "The server could not be reached.",
		At:      time.Now(),
	})
}

func (r *Recovery) unauthenticated(ctx context.Context, sent string) {
	if sent != "" {
		if r.deps.Tokens.Invalidate(ctx, sent) {
			r.deps.Logger.Info("credential rejected by api; cleared")
		}
	}
	if current, ok := r.deps.Tokens.Bearer(); ok && current != sent {
		r.deps.Logger.Debug("ignoring 401 for a superseded credential")
		return
	}

	if !r.deps.Reauth.RequestReauth(session.ReasonUnauthenticated) {
		return
	}
	if !r.deps.Reauth.HasSurface() && r.deps.Navigator.Current() != r.deps.LoginPath {
		r.deps.Logger.Warn("no reauthentication surface registered; navigating to login")
		r.deps.Navigator.Navigate(r.deps.LoginPath, nav.Full)
	}
}

func (r *Recovery) forbidden(ctx context.Context, e *Error) {
	r.forbiddenMu.Lock()
	defer r.forbiddenMu.Unlock()

	current := r.deps.Navigator.Current()
	onDenied := current == r.deps.AccessDeniedPath

	key := denial{view: View(ctx), capability: e.Capability}
	if key.view == "" {
		key.view = current
		if onDenied {
			// The redirect of an earlier 403 has already happened.
			key.view = r.lastDenial.view
		}
	}
	if onDenied && key == r.lastDenial {
		r.deps.Logger.Debug("permission denial already reported", "view", key.view, "capability", key.capability)
		return
	}
	r.lastDenial = key

	description := fmt.Sprintf("%s %s requires %q", e.Method, e.URL, e.Capability)
	event := permission.NewEvent(key.view, e.Capability, Origin(ctx), description)

	if r.deps.Denials != nil {
		if err := r.deps.Denials.Append(ctx, event); err != nil {
			r.deps.Logger.Warn("recording permission denial failed", "error", err)
		}
	}
	r.deps.Notifier.Notify(notice.Notice{
		Level:   notice.LevelError,
		Title:   "Access denied",
		Message: fmt.Sprintf("You do not have the %q permission.", e.Capability),
		At:      event.Timestamp,
	})
	if !onDenied {
		r.deps.Navigator.Navigate(r.deps.AccessDeniedPath, nav.Replace)
	}
}
