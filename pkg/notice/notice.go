// Package notice delivers short, user-visible transient messages
// (toasts) raised by the session layer.
package notice

import (
	"log/slog"
	"sync"
	"time"
)

// Level is the severity of a notice.
type Level string

const (
	// LevelInfo is informational.
	LevelInfo Level = "info"

	// LevelSuccess reports a recovered condition.
	LevelSuccess Level = "success"

	// LevelWarning reports a recoverable problem.
	LevelWarning Level = "warning"

	// LevelError reports a failed operation.
	LevelError Level = "error"
)

// Notice is a single transient message.
type Notice struct {
	Level   Level     `json:"level"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Notifier displays notices.
type Notifier interface {
	Notify(n Notice)
}

// Func adapts a function to Notifier.
type Func func(Notice)

// Notify calls f.
func (f Func) Notify(n Notice) { f(n) }

// LogNotifier writes notices to a structured logger.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier. A nil logger uses slog.Default.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs the notice at a level matching its severity.
func (l *LogNotifier) Notify(n Notice) {
	attrs := []any{"title", n.Title, "message", n.Message}
	switch n.Level {
	case LevelError:
		l.logger.Error("notice", attrs...)
	case LevelWarning:
		l.logger.Warn("notice", attrs...)
	default:
		l.logger.Info("notice", attrs...)
	}
}

// Recorder keeps the most recent notices for hosts that poll.
type Recorder struct {
	mu       sync.Mutex
	notices  []Notice
	capacity int
}

// NewRecorder creates a Recorder retaining up to capacity notices.
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = 1
	}
	return &Recorder{capacity: capacity}
}

// Notify records n, evicting the oldest notice when full.
func (r *Recorder) Notify(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.notices) == r.capacity {
		r.notices = append(r.notices[:0], r.notices[1:]...)
	}
	r.notices = append(r.notices, n)
}

// Notices returns a copy of the retained notices, oldest first.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notice, len(r.notices))
	copy(out, r.notices)
	return out
}

// Multi fans a notice out to several notifiers.
type Multi []Notifier

// Notify forwards n to every notifier.
func (m Multi) Notify(n Notice) {
	for _, nt := range m {
		nt.Notify(n)
	}
}

// Verify interface compliance.
var (
	_ Notifier = Func(nil)
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = (*Recorder)(nil)
	_ Notifier = Multi(nil)
)
