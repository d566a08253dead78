package idle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/txn2/adminsession/pkg/clock"
	"github.com/txn2/adminsession/pkg/credential"
	"github.com/txn2/adminsession/pkg/session"
)

// ErrAlreadyRunning is returned by Start on a running monitor.
var ErrAlreadyRunning = errors.New("idle monitor already running")

// State is the monitor's lifecycle state.
type State int

const (
	// Stopped monitors hold no timer and no listener.
	Stopped State = iota

	// Armed monitors are waiting for the deadline.
	Armed

	// Idle monitors have reached the deadline and signalled.
	Idle
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Armed:
		return "armed"
	case Idle:
		return "idle"
	default:
		return "stopped"
	}
}

// Credentials provides the credential the deadline is derived from.
type Credentials interface {
	Get() (credential.Credential, bool)
}

// Signaler receives the idle signal.
type Signaler interface {
	RequestReauth(reason session.Reason) bool
}

// Config configures a Monitor.
type Config struct {
	Policy Policy
	Clock  clock.Clock
	Logger *slog.Logger
}

// Monitor watches user activity and signals reauthentication once the
// idle deadline passes. An application owns exactly one Monitor.
type Monitor struct {
	policy Policy
	clock  clock.Clock
	logger *slog.Logger
	creds  Credentials
	signal Signaler
	source ActivitySource

	mu          sync.Mutex
	state       State
	timer       *clock.Timer
	generation  uint64
	deadline    time.Time
	unsubscribe func()
}

// New creates a stopped Monitor.
func New(cfg Config, creds Credentials, signal Signaler, source ActivitySource) *Monitor {
	if cfg.Policy.Floor <= 0 {
		cfg.Policy = DefaultPolicy()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Monitor{
		policy: cfg.Policy,
		clock:  cfg.Clock,
		logger: cfg.Logger,
		creds:  creds,
		signal: signal,
		source: source,
	}
}

// Start subscribes to activity and arms the deadline timer.
func (m *Monitor) Start(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Stopped {
		return ErrAlreadyRunning
	}
	if m.source != nil {
		m.unsubscribe = m.source.Subscribe(m.Touch)
	}
	m.armLocked()
	return nil
}

// Stop releases the activity listener and the timer. It is safe to call
// on a stopped monitor.
func (m *Monitor) Stop(_ context.Context) error {
	m.mu.Lock()
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.generation++
	m.state = Stopped
	m.deadline = time.Time{}
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	return nil
}

// Touch records user activity and restarts the deadline.
func (m *Monitor) Touch(kind ActivityKind) {
	if !kind.Valid() {
		return
	}
	m.Reset()
}

// Reset restarts the deadline, recomputing it from the current
// credential. It moves an idle monitor back to armed.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Stopped {
		return
	}
	m.armLocked()
}

// State returns the current state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Deadline returns the instant the monitor goes idle, or the zero time
// when it is not armed.
func (m *Monitor) Deadline() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Armed {
		return time.Time{}
	}
	return m.deadline
}

func (m *Monitor) armLocked() {
	if m.timer != nil {
		m.timer.Stop()
	}
	m.generation++
	gen := m.generation

	now := m.clock.Now()
	cred, ok := m.creds.Get()
	d := m.policy.Deadline(cred, ok, now)

	m.state = Armed
	m.deadline = now.Add(d)
	m.timer = m.clock.AfterFunc(d, func() { m.fire(gen) })
}

func (m *Monitor) fire(gen uint64) {
	m.mu.Lock()
	if gen != m.generation || m.state != Armed {
		m.mu.Unlock()
		return
	}
	m.state = Idle
	m.timer = nil
	m.mu.Unlock()

	m.logger.Info("idle deadline reached")
	m.signal.RequestReauth(session.ReasonIdle)
}
