// Package postgres provides PostgreSQL storage for permission denials.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/txn2/adminsession/pkg/permission"
)

const (
	defaultRetentionDays = 30
	defaultQueryCapacity = 100
	maxQueryCapacity     = 10000
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// eventColumns lists columns returned by SELECT queries, in scan order.
var eventColumns = []string{
	"id", "timestamp", "attempted_path", "required_capability",
	"origin_component", "description",
}

// Store implements permission.Store using PostgreSQL.
type Store struct {
	db            *sql.DB
	retentionDays int
	cancel        context.CancelFunc
	done          chan struct{}
}

// Config configures the PostgreSQL permission store.
type Config struct {
	RetentionDays int
}

// New creates a new PostgreSQL permission store.
func New(db *sql.DB, cfg Config) *Store {
	if cfg.RetentionDays == 0 {
		cfg.RetentionDays = defaultRetentionDays
	}
	return &Store{
		db:            db,
		retentionDays: cfg.RetentionDays,
	}
}

// Log records a denial event.
func (s *Store) Log(ctx context.Context, event permission.Event) error {
	query, args, err := psq.Insert("permission_denials").
		Columns(eventColumns...).
		Values(event.ID, event.Timestamp, event.AttemptedPath, event.RequiredCapability,
			event.OriginComponent, event.Description).
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting permission denial: %w", err)
	}
	return nil
}

// applyFilter adds filter conditions to a SELECT builder.
func applyFilter(qb sq.SelectBuilder, filter permission.QueryFilter) sq.SelectBuilder {
	if filter.StartTime != nil {
		qb = qb.Where(sq.GtOrEq{"timestamp": *filter.StartTime})
	}
	if filter.EndTime != nil {
		qb = qb.Where(sq.LtOrEq{"timestamp": *filter.EndTime})
	}
	if filter.Capability != "" {
		qb = qb.Where(sq.Eq{"required_capability": filter.Capability})
	}
	if filter.AttemptedPath != "" {
		qb = qb.Where(sq.Eq{"attempted_path": filter.AttemptedPath})
	}
	return qb
}

// Query retrieves denial events matching the filter, newest first.
func (s *Store) Query(ctx context.Context, filter permission.QueryFilter) ([]permission.Event, error) {
	qb := applyFilter(psq.Select(eventColumns...).From("permission_denials"), filter)
	qb = qb.OrderBy("timestamp DESC")
	if filter.Limit > 0 {
		qb = qb.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		qb = qb.Offset(uint64(filter.Offset))
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building denial query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying permission denials: %w", err)
	}
	defer func() { _ = rows.Close() }()

	allocCap := defaultQueryCapacity
	if filter.Limit > 0 && filter.Limit <= maxQueryCapacity {
		allocCap = filter.Limit
	}
	events := make([]permission.Event, 0, allocCap)

	for rows.Next() {
		var e permission.Event
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.AttemptedPath, &e.RequiredCapability,
			&e.OriginComponent, &e.Description); err != nil {
			return nil, fmt.Errorf("scanning permission denial row: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating permission denial rows: %w", err)
	}
	return events, nil
}

// Count returns the number of denial events matching the filter.
func (s *Store) Count(ctx context.Context, filter permission.QueryFilter) (int, error) {
	query, args, err := applyFilter(psq.Select("COUNT(*)").From("permission_denials"), filter).ToSql()
	if err != nil {
		return 0, fmt.Errorf("building count query: %w", err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting permission denials: %w", err)
	}
	return count, nil
}

// Cleanup removes denial events older than the retention period.
func (s *Store) Cleanup(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	query, args, err := psq.Delete("permission_denials").Where(sq.Lt{"timestamp": cutoff}).ToSql()
	if err != nil {
		return fmt.Errorf("building cleanup: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("cleaning up permission denials: %w", err)
	}
	return nil
}

// StartCleanupRoutine starts a background goroutine that periodically
// deletes expired events. The goroutine is stopped when Close is called.
func (s *Store) StartCleanupRoutine(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = s.Cleanup(ctx)
			}
		}
	}()
}

// Close cancels the cleanup goroutine and waits for it to exit.
// It is safe to call Close even if StartCleanupRoutine was never called.
func (s *Store) Close() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	return nil
}

// Verify interface compliance.
var _ permission.Store = (*Store)(nil)
