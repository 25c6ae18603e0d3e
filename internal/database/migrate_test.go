//go:build integration

package database_test

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/saturnino-fabrica-de-software/facewatch/internal/database"
)

func startPostgres(t *testing.T) string {
	t.Helper()

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "pgvector/pgvector:pg16",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "facewatch_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://test:test@%s:%s/facewatch_test?sslmode=disable", host, port.Port())
}

func TestMigratorIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()
	dsn := startPostgres(t)

	db, err := database.OpenSQL(ctx, dsn)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	t.Run("Up creates the identities table", func(t *testing.T) {
		migrator, err := database.NewMigrator(db, "facewatch_test", nil)
		require.NoError(t, err)

		before, err := migrator.Status()
		require.NoError(t, err)
		assert.Equal(t, database.SchemaStatus{}, before)

		require.NoError(t, migrator.Up())
		require.NoError(t, migrator.Up(), "second run must be a no-op")

		status, err := migrator.Status()
		require.NoError(t, err)
		assert.Equal(t, database.SchemaStatus{Version: 1}, status)

		columns := getTableColumns(t, db, "identities")
		assert.Equal(t, []string{"id", "embedding", "first_seen", "last_seen", "detection_count", "created_at"}, columns)
	})

	t.Run("detection_count must be positive", func(t *testing.T) {
		_, err := db.Exec(`
			INSERT INTO identities (id, embedding, first_seen, last_seen, detection_count)
			VALUES ('PERSON_X', '[1,0,0]', NOW(), NOW(), 0)
		`)
		assert.Error(t, err)
	})

	t.Run("MigrateUp is idempotent", func(t *testing.T) {
		logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
		assert.NoError(t, database.MigrateUp(ctx, dsn, "facewatch_test", logger))
	})

	t.Run("Down drops the table", func(t *testing.T) {
		migrator, err := database.NewMigrator(db, "facewatch_test", nil)
		require.NoError(t, err)

		assert.Error(t, migrator.Down(0))
		require.NoError(t, migrator.Down(1))
		assert.Empty(t, getTableColumns(t, db, "identities"))
	})
}

func TestNewPoolIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()
	pool, err := database.NewPool(ctx, database.DefaultPoolConfig(startPostgres(t)))
	require.NoError(t, err)
	defer pool.Close()

	assert.NoError(t, database.HealthCheck(ctx, pool, time.Second))
}

func getTableColumns(t *testing.T, db *sql.DB, tableName string) []string {
	t.Helper()

	rows, err := db.Query(`
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = 'public'
		AND table_name = $1
		ORDER BY ordinal_position
	`, tableName)
	require.NoError(t, err)
	defer func() { _ = rows.Close() }()

	var columns []string
	for rows.Next() {
		var col string
		require.NoError(t, rows.Scan(&col))
		columns = append(columns, col)
	}

	return columns
}
