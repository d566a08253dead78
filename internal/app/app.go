// Package app assembles the session layer from configuration: the token
// store and its slot, the reauthentication trigger, the request pipeline,
// the idle monitor, the asset loader and the local blob server.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/txn2/adminsession/pkg/asset"
	"github.com/txn2/adminsession/pkg/clock"
	"github.com/txn2/adminsession/pkg/config"
	"github.com/txn2/adminsession/pkg/credential"
	"github.com/txn2/adminsession/pkg/database/migrate"
	"github.com/txn2/adminsession/pkg/health"
	"github.com/txn2/adminsession/pkg/idle"
	"github.com/txn2/adminsession/pkg/nav"
	"github.com/txn2/adminsession/pkg/notice"
	"github.com/txn2/adminsession/pkg/permission"
	permpg "github.com/txn2/adminsession/pkg/permission/postgres"
	"github.com/txn2/adminsession/pkg/pipeline"
	"github.com/txn2/adminsession/pkg/session"
	"github.com/txn2/adminsession/pkg/tokenstore"
	slotpg "github.com/txn2/adminsession/pkg/tokenstore/postgres"
)

const (
	noticeHistory   = 50
	shutdownTimeout = 10 * time.Second
	readTimeout     = 10 * time.Second
)

// App is one running session layer.
type App struct {
	cfg    *config.Config
	logger *slog.Logger
	clock  clock.Clock

	db    *sql.DB
	ownDB bool

	tokens       *tokenstore.Store
	tracker      *session.Tracker
	trigger      *session.Trigger
	history      *nav.History
	notices      *notice.Recorder
	denials      *permission.MemoryBus
	denialStore  *permpg.Store
	connectivity *health.Connectivity
	recovery     *pipeline.Recovery
	client       *pipeline.Client
	activity     *idle.Broadcaster
	monitor      *idle.Monitor
	urls         *asset.ObjectURLs
	assets       *asset.Loader
	prober       *health.Prober

	listener net.Listener
	server   *http.Server

	lifecycle *lifecycle
}

// New builds an App from cfg. The blob listener is bound here so that
// object URLs carry their final origin; nothing else runs until Start.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.HTTPClient == nil {
		options.HTTPClient = &http.Client{}
	}

	a := &App{
		cfg:       cfg,
		logger:    options.Logger,
		clock:     options.Clock,
		lifecycle: newLifecycle(options.Logger),
	}

	if err := a.initialize(options); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) initialize(opts *Options) error {
	if err := a.initDatabase(opts); err != nil {
		return err
	}
	slot, err := a.createSlot(opts)
	if err != nil {
		return fmt.Errorf("creating credential slot: %w", err)
	}
	a.initSession(slot)
	a.initConnectivity()
	a.initDenials()
	if err := a.initPipeline(opts); err != nil {
		return err
	}
	a.initIdle()
	if err := a.initAssets(opts); err != nil {
		return err
	}
	if err := a.initProber(opts); err != nil {
		return err
	}
	a.registerSteps()
	return nil
}

func (a *App) needsDatabase() bool {
	return a.cfg.Storage.Kind == config.StoragePostgres || a.cfg.Denials.Persist
}

// initDatabase opens and migrates the database when the postgres slot or
// denial persistence is configured. A database supplied through WithDB is
// used as is.
func (a *App) initDatabase(opts *Options) error {
	if !a.needsDatabase() {
		return nil
	}
	if opts.DB != nil {
		a.db = opts.DB
		return nil
	}

	db, err := sql.Open("postgres", a.cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(a.cfg.Storage.MaxOpenConns)
	a.db = db
	a.ownDB = true

	if err := migrate.Run(db); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	return nil
}

func (a *App) createSlot(opts *Options) (tokenstore.Slot, error) {
	if opts.Slot != nil {
		return opts.Slot, nil
	}
	switch a.cfg.Storage.Kind {
	case config.StorageMemory:
		return tokenstore.NewMemorySlot(), nil
	case config.StoragePostgres:
		return slotpg.New(a.db, slotpg.Config{Name: a.cfg.Storage.Name})
	case config.StorageFile:
		return tokenstore.NewFileSlot(a.cfg.Storage.Dir, a.cfg.Storage.Name, a.cfg.Storage.Secret)
	default:
		return nil, fmt.Errorf("unknown storage kind %q", a.cfg.Storage.Kind)
	}
}

func (a *App) initSession(slot tokenstore.Slot) {
	a.tracker = session.NewTracker(session.Unauthenticated)
	a.trigger = session.NewTrigger(a.tracker, a.logger)
	a.tracker.OnTransition(func(tr session.Transition) {
		a.logger.Debug("session transition", "from", tr.From.String(), "to", tr.To.String())
	})

	a.tokens = tokenstore.New(slot,
		tokenstore.WithLogger(a.logger),
		tokenstore.WithOnSet(a.credentialSet),
	)
	a.history = nav.NewHistory(a.cfg.Routes.Home)
}

// credentialSet runs after every successful login or refresh.
func (a *App) credentialSet(cred credential.Credential, ok bool) {
	if ok {
		a.logger.Info("credential stored", "credential", cred.String())
	} else {
		a.logger.Info("opaque credential stored")
	}
	a.trigger.Resolve()
	if a.monitor != nil {
		a.monitor.Reset()
	}
}

func (a *App) initConnectivity() {
	a.notices = notice.NewRecorder(noticeHistory)
	a.connectivity = health.NewConnectivity()
	a.connectivity.OnChange(func(c health.Change) {
		a.logger.Debug("connectivity changed", "from", c.From, "to", c.To)
	})
}

func (a *App) initDenials() {
	var store permission.Store
	if a.cfg.Denials.Persist {
		a.denialStore = permpg.New(a.db, permpg.Config{RetentionDays: a.cfg.Denials.RetentionDays})
		store = a.denialStore
	}
	a.denials = permission.NewMemoryBus(permission.BusConfig{
		Capacity: a.cfg.Denials.Capacity,
		Store:    store,
		Logger:   a.logger,
	})
}

func (a *App) notifier(opts *Options) notice.Notifier {
	multi := notice.Multi{notice.NewLogNotifier(a.logger), a.notices}
	if opts.Notifier != nil {
		multi = append(multi, opts.Notifier)
	}
	return multi
}

func (a *App) initPipeline(opts *Options) error {
	recovery, err := pipeline.NewRecovery(pipeline.RecoveryDeps{
		Tokens:           a.tokens,
		Reauth:           a.trigger,
		Navigator:        a.history,
		Notifier:         a.notifier(opts),
		Denials:          a.denials,
		Connectivity:     a.connectivity,
		LoginPath:        a.cfg.Routes.Login,
		AccessDeniedPath: a.cfg.Routes.AccessDenied,
		Logger:           a.logger,
	})
	if err != nil {
		return fmt.Errorf("creating recovery: %w", err)
	}
	a.recovery = recovery

	client, err := pipeline.New(pipeline.Config{
		BaseURL:     a.cfg.API.BaseURL,
		Timeout:     a.cfg.API.Timeout,
		HeaderName:  a.cfg.API.HeaderName,
		Scheme:      a.cfg.API.Scheme,
		Development: a.cfg.Development,
	}, pipeline.Deps{
		HTTPClient: opts.HTTPClient,
		Tokens:     a.tokens,
		Recovery:   recovery,
		Logger:     a.logger,
	})
	if err != nil {
		return fmt.Errorf("creating request client: %w", err)
	}
	a.client = client
	return nil
}

func (a *App) initIdle() {
	a.activity = idle.NewBroadcaster()
	if !a.cfg.Idle.IsEnabled() {
		return
	}
	a.monitor = idle.New(idle.Config{
		Policy: idle.Policy{Floor: a.cfg.Idle.Floor, Fraction: a.cfg.Idle.Fraction},
		Clock:  a.clock,
		Logger: a.logger,
	}, a.tokens, a.trigger, a.activity)
}

func (a *App) initAssets(opts *Options) error {
	ln, err := net.Listen("tcp", a.cfg.Assets.Listen)
	if err != nil {
		return fmt.Errorf("binding blob listener: %w", err)
	}
	a.listener = ln
	a.urls = asset.NewObjectURLs("http://" + ln.Addr().String())

	loader, err := asset.NewLoader(asset.Config{
		BaseURL:         a.cfg.API.BaseURL,
		RawTemplate:     a.cfg.Assets.RawTemplate,
		PreviewTemplate: a.cfg.Assets.PreviewTemplate,
		HeaderName:      a.cfg.API.HeaderName,
		Scheme:          a.cfg.API.Scheme,
		MaxBytes:        a.cfg.Assets.MaxBytes,
		Timeout:         a.cfg.Assets.Timeout,
	}, asset.Deps{
		HTTPClient: opts.HTTPClient,
		Tokens:     a.tokens,
		Recovery:   a.recovery,
		URLs:       a.urls,
		Logger:     a.logger,
	})
	if err != nil {
		return fmt.Errorf("creating asset loader: %w", err)
	}
	a.assets = loader

	a.server = &http.Server{
		Handler:           a.routes(),
		ReadHeaderTimeout: readTimeout,
	}
	return nil
}

// initProber creates the health prober. It only runs in development
// builds, where the API is restarted often.
func (a *App) initProber(opts *Options) error {
	if !a.cfg.Health.Enabled || !a.cfg.Development {
		return nil
	}
	prober, err := health.NewProber(health.ProberConfig{
		BaseURL:  a.cfg.API.BaseURL,
		Path:     a.cfg.Health.Path,
		Interval: a.cfg.Health.Interval,
	}, opts.HTTPClient, a.clock, a.recovery, a.logger)
	if err != nil {
		return fmt.Errorf("creating health prober: %w", err)
	}
	a.prober = prober
	return nil
}

func (a *App) registerSteps() {
	a.lifecycle.add("credential", a.restore, nil)
	if a.denialStore != nil {
		a.lifecycle.add("denial-cleanup", func(context.Context) error {
			a.denialStore.StartCleanupRoutine(a.cfg.Denials.CleanupInterval)
			return nil
		}, nil)
	}
	a.lifecycle.addCloser("denials", a.denials.Close)
	if a.monitor != nil {
		a.lifecycle.addComponent("idle-monitor", a.monitor)
	}
	if a.prober != nil {
		a.lifecycle.addComponent("health-prober", a.prober)
	}
	a.lifecycle.add("blob-server", a.serve, a.shutdown)
}

// restore hydrates the token store from its slot. A stored credential
// resumes the authenticated session. A slot that cannot be read leaves
// the session unauthenticated.
func (a *App) restore(ctx context.Context) error {
	if err := a.tokens.Hydrate(ctx); err != nil {
		a.logger.Warn("stored credential unavailable", "error", err)
		return nil
	}
	if _, ok := a.tokens.Bearer(); !ok {
		a.logger.Info("no stored credential")
		return nil
	}
	if cred, ok := a.tokens.Get(); ok && cred.Expired(a.clock.Now()) {
		a.logger.Info("stored credential has expired", "credential", cred.String())
	}
	a.trigger.Resolve()
	return nil
}

func (a *App) serve(_ context.Context) error {
	go func() {
		if err := a.server.Serve(a.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("blob server failed", "error", err)
		}
	}()
	a.logger.Info("blob server listening", "addr", a.listener.Addr().String())
	return nil
}

func (a *App) shutdown(ctx context.Context) error {
	if err := a.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down blob server: %w", err)
	}
	return nil
}

// Start runs the startup steps in order.
func (a *App) Start(ctx context.Context) error {
	return a.lifecycle.Start(ctx)
}

// Stop runs the shutdown steps in reverse order.
func (a *App) Stop(ctx context.Context) error {
	return a.lifecycle.Stop(ctx)
}

// Run starts the app, blocks until ctx is done, then stops it.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := a.Stop(stopCtx); err != nil {
		return err
	}
	return a.Close()
}

// Close releases resources held since New. It is called after Stop.
func (a *App) Close() error {
	var errs []error
	if a.listener != nil && !a.lifecycle.isRunning() {
		if err := a.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, fmt.Errorf("closing blob listener: %w", err))
		}
	}
	if a.ownDB && a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing database: %w", err))
		}
		a.db = nil
	}
	return errors.Join(errs...)
}

// Login stores raw as the active credential. It resolves an outstanding
// reauthentication prompt and restarts the idle deadline.
func (a *App) Login(ctx context.Context, raw string) error {
	if err := a.tokens.Set(ctx, raw); err != nil {
		return fmt.Errorf("storing credential: %w", err)
	}
	if a.history.Current() == a.cfg.Routes.Login {
		a.history.Navigate(a.cfg.Routes.Home, nav.Replace)
	}
	return nil
}

// Logout clears the credential, returns the session to unauthenticated
// and navigates to the login view.
func (a *App) Logout(ctx context.Context) {
	if a.tokens.Clear(ctx) {
		a.logger.Info("logged out")
	}
	a.trigger.Reset()
	a.history.Navigate(a.cfg.Routes.Login, nav.Full)
}

// RegisterSurface installs the reauthentication surface.
func (a *App) RegisterSurface(s session.Surface) (unregister func()) {
	return a.trigger.Register(s)
}

// Touch reports user activity to the idle monitor.
func (a *App) Touch(kind idle.ActivityKind) {
	a.activity.Emit(kind)
}

// Tokens returns the token store.
func (a *App) Tokens() *tokenstore.Store { return a.tokens }

// Trigger returns the reauthentication trigger.
func (a *App) Trigger() *session.Trigger { return a.trigger }

// Navigator returns the navigation history.
func (a *App) Navigator() *nav.History { return a.history }

// Client returns the request pipeline client.
func (a *App) Client() *pipeline.Client { return a.client }

// Assets returns the asset loader.
func (a *App) Assets() *asset.Loader { return a.assets }

// Denials returns the permission event bus.
func (a *App) Denials() *permission.MemoryBus { return a.denials }

// Notices returns recently emitted notices.
func (a *App) Notices() []notice.Notice { return a.notices.Notices() }

// Connectivity returns the API connectivity state.
func (a *App) Connectivity() *health.Connectivity { return a.connectivity }

// Idle returns the idle monitor, or nil when idle monitoring is disabled.
func (a *App) Idle() *idle.Monitor { return a.monitor }

// BlobOrigin returns the origin of the local blob server.
func (a *App) BlobOrigin() string { return a.urls.Origin() }
