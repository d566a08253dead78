package app

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/txn2/adminsession/pkg/clock"
	"github.com/txn2/adminsession/pkg/notice"
	"github.com/txn2/adminsession/pkg/tokenstore"
)

// Options configures an App beyond what the config file expresses.
type Options struct {
	Logger     *slog.Logger
	HTTPClient *http.Client
	Clock      clock.Clock
	Slot       tokenstore.Slot
	DB         *sql.DB
	Notifier   notice.Notifier
}

// Option configures the App.
type Option func(*Options)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithHTTPClient sets the client used for API, asset and health calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Options) {
		o.HTTPClient = c
	}
}

// WithClock sets the clock driving the idle monitor and the prober.
func WithClock(c clock.Clock) Option {
	return func(o *Options) {
		o.Clock = c
	}
}

// WithSlot overrides the credential slot selected by storage.kind.
func WithSlot(s tokenstore.Slot) Option {
	return func(o *Options) {
		o.Slot = s
	}
}

// WithDB supplies an open database instead of dialing storage.dsn. The
// caller keeps ownership and closes it.
func WithDB(db *sql.DB) Option {
	return func(o *Options) {
		o.DB = db
	}
}

// WithNotifier adds a notifier that receives every user-facing notice.
func WithNotifier(n notice.Notifier) Option {
	return func(o *Options) {
		o.Notifier = n
	}
}
