// Package postgres provides a PostgreSQL-backed credential slot for hosts
// that keep the session server-side (backend-for-frontend deployments).
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/txn2/adminsession/pkg/tokenstore"
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Slot implements tokenstore.Slot using the credential_slots table.
type Slot struct {
	db   *sql.DB
	name string
	now  func() time.Time
}

// Config configures the PostgreSQL slot.
type Config struct {
	// Name is the slot key; one row per name.
	Name string
}

// New creates a new PostgreSQL slot.
func New(db *sql.DB, cfg Config) (*Slot, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("slot name is required")
	}
	return &Slot{
		db:   db,
		name: cfg.Name,
		now:  time.Now,
	}, nil
}

// Load returns the stored token, or "" if no row exists.
func (s *Slot) Load(ctx context.Context) (string, error) {
	query, args, err := psq.Select("token").
		From("credential_slots").
		Where(sq.Eq{"name": s.name}).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("building slot query: %w", err)
	}

	var token string
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("querying slot: %w", err)
	}
	return token, nil
}

// Save upserts the token for this slot.
func (s *Slot) Save(ctx context.Context, raw string) error {
	query, args, err := psq.Insert("credential_slots").
		Columns("name", "token", "updated_at").
		Values(s.name, raw, s.now().UTC()).
		Suffix("ON CONFLICT (name) DO UPDATE SET token = EXCLUDED.token, updated_at = EXCLUDED.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("building slot upsert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upserting slot: %w", err)
	}
	return nil
}

// Delete removes the slot row.
func (s *Slot) Delete(ctx context.Context) error {
	query, args, err := psq.Delete("credential_slots").
		Where(sq.Eq{"name": s.name}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building slot delete: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("deleting slot: %w", err)
	}
	return nil
}

// Verify interface compliance.
var _ tokenstore.Slot = (*Slot)(nil)
