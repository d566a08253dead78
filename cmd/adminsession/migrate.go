package main

import (
	"database/sql"
	"errors"
	"fmt"
	"io"

	gomigrate "github.com/golang-migrate/migrate/v4"

	"github.com/txn2/adminsession/pkg/config"
	"github.com/txn2/adminsession/pkg/database/migrate"
)

// schemaAction is a one-shot schema operation requested on the command
// line. The process exits once it has run.
type schemaAction struct {
	version bool
	down    bool
	steps   int
}

func (s schemaAction) requested() bool {
	return s.version || s.down || s.steps != 0
}

func (s schemaAction) validate() error {
	if s.down && s.steps != 0 {
		return errors.New("-migrate-down and -migrate-steps are mutually exclusive")
	}
	return nil
}

// runSchema opens the configured database and applies action.
func runSchema(cfg *config.Config, action schemaAction, out io.Writer) error {
	if err := action.validate(); err != nil {
		return err
	}
	if cfg.Storage.DSN == "" {
		return errors.New("schema commands need storage.dsn")
	}

	db, err := sql.Open("postgres", cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = db.Close() }()

	return applySchema(db, action, out)
}

func applySchema(db *sql.DB, action schemaAction, out io.Writer) error {
	switch {
	case action.down:
		if err := migrate.Down(db); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(out, "schema rolled back; stored credentials and denial history dropped")
	case action.steps != 0:
		if err := migrate.Steps(db, action.steps); err != nil {
			return err
		}
	}

	version, dirty, err := migrate.Version(db)
	if errors.Is(err, gomigrate.ErrNilVersion) {
		_, _ = fmt.Fprintln(out, "schema version: none")
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	_, _ = fmt.Fprintf(out, "schema version: %d (dirty: %t)\n", version, dirty)
	return nil
}
