// Package main provides the entry point for the adminsession host.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/txn2/adminsession/internal/app"
	"github.com/txn2/adminsession/pkg/config"
	"github.com/txn2/adminsession/pkg/session"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath  string
	envFile     string
	token       string
	logout      bool
	interactive bool
	showVersion bool
	schema      schemaAction
}

func parseFlags() options {
	opts := options{}
	flag.StringVar(&opts.configPath, "config", "adminsession.yaml", "Path to configuration file")
	flag.StringVar(&opts.envFile, "env", ".env", "Path to an optional .env file")
	flag.StringVar(&opts.token, "token", "", "Store this bearer token on startup (or set ADMINSESSION_TOKEN)")
	flag.BoolVar(&opts.logout, "logout", false, "Clear the stored credential and exit")
	flag.BoolVar(&opts.interactive, "interactive", true, "Read commands from stdin")
	flag.BoolVar(&opts.showVersion, "version", false, "Show version and exit")
	flag.BoolVar(&opts.schema.version, "migrate-version", false, "Print the database schema version and exit")
	flag.BoolVar(&opts.schema.down, "migrate-down", false, "Roll back every database migration and exit")
	flag.IntVar(&opts.schema.steps, "migrate-steps", 0, "Apply n migrations (negative rolls back) and exit")
	flag.Parse()
	return opts
}

func setupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx
}

// loadEnv loads the .env file when it exists.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

func newLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

func run() error {
	opts := parseFlags()

	if opts.showVersion {
		fmt.Printf("adminsession version %s\n", app.Version)
		return nil
	}

	if err := loadEnv(opts.envFile); err != nil {
		return err
	}

	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := newLogger(cfg.Logging, os.Stderr)
	slog.SetDefault(logger)

	if opts.schema.requested() {
		return runSchema(cfg, opts.schema, os.Stdout)
	}

	a, err := app.New(cfg, app.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("creating app: %w", err)
	}

	ctx := setupSignalHandler()
	if err := a.Start(ctx); err != nil {
		_ = a.Close()
		return fmt.Errorf("starting app: %w", err)
	}
	defer func() {
		_ = a.Stop(context.WithoutCancel(ctx))
		_ = a.Close()
	}()

	if opts.logout {
		a.Logout(ctx)
		return nil
	}

	token := opts.token
	if token == "" {
		token = os.Getenv("ADMINSESSION_TOKEN")
	}
	if token != "" {
		if err := a.Login(ctx, token); err != nil {
			return fmt.Errorf("storing token: %w", err)
		}
	}

	if !opts.interactive {
		unregister := a.RegisterSurface(logSurface(logger))
		defer unregister()
		<-ctx.Done()
		return nil
	}

	surface := session.NewChannelSurface(4)
	unregister := a.RegisterSurface(surface)
	defer unregister()

	sh := newShell(a, os.Stdout)
	go sh.watch(ctx, surface)
	return sh.run(ctx, os.Stdin)
}

// logSurface reports reauthentication prompts in the log when no one is
// reading stdin.
func logSurface(logger *slog.Logger) session.SurfaceFuncs {
	return session.SurfaceFuncs{
		OnShow: func(p session.Prompt) {
			logger.Warn("login required; restart with -token", "reason", string(p.Reason))
		},
		OnHide: func() {
			logger.Info("session restored")
		},
	}
}
