//go:build integration

package main

import (
	"bytes"
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestApplySchema(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	pgContainer, err := postgres.Run(ctx, "postgres:15",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgContainer.Terminate(ctx) })

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var out bytes.Buffer
	require.NoError(t, applySchema(db, schemaAction{version: true}, &out))
	assert.Contains(t, out.String(), "schema version: none")

	out.Reset()
	require.NoError(t, applySchema(db, schemaAction{steps: 2}, &out))
	assert.Contains(t, out.String(), "schema version: 2 (dirty: false)")

	out.Reset()
	require.NoError(t, applySchema(db, schemaAction{down: true}, &out))
	assert.Contains(t, out.String(), "schema rolled back")
	assert.Contains(t, out.String(), "schema version: none")
}
