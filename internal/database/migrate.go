package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SchemaStatus is the migration state recorded in schema_migrations.
// Version 0 means nothing has been applied.
type SchemaStatus struct {
	Version uint
	Dirty   bool
}

// Migrator applies the embedded identity-store migrations.
type Migrator struct {
	m *migrate.Migrate
}

// slogMigrateLogger adapts slog to migrate.Logger.
type slogMigrateLogger struct {
	logger *slog.Logger
}

func (l slogMigrateLogger) Printf(format string, v ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l slogMigrateLogger) Verbose() bool {
	return l.logger.Enabled(context.Background(), slog.LevelDebug)
}

func NewMigrator(db *sql.DB, dbName string, logger *slog.Logger) (*Migrator, error) {
	driver, err := postgres.WithInstance(db, &postgres.Config{DatabaseName: dbName})
	if err != nil {
		return nil, fmt.Errorf("migrate driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("migrate source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, dbName, driver)
	if err != nil {
		return nil, fmt.Errorf("migrate instance: %w", err)
	}
	if logger != nil {
		m.Log = slogMigrateLogger{logger: logger.With("component", "migrate")}
	}

	return &Migrator{m: m}, nil
}

// Up applies every pending migration; an up-to-date schema is not an error.
func (m *Migrator) Up() error {
	if err := m.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// Down rolls back the given number of migrations.
func (m *Migrator) Down(steps int) error {
	if steps < 1 {
		return fmt.Errorf("migrate down: steps must be positive, got %d", steps)
	}
	if err := m.m.Steps(-steps); err != nil {
		return fmt.Errorf("migrate down %d: %w", steps, err)
	}
	return nil
}

func (m *Migrator) Status() (SchemaStatus, error) {
	version, dirty, err := m.m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return SchemaStatus{}, nil
	case err != nil:
		return SchemaStatus{}, fmt.Errorf("migrate status: %w", err)
	}
	return SchemaStatus{Version: version, Dirty: dirty}, nil
}

// Force records version as applied and clears the dirty flag without
// running any migration.
func (m *Migrator) Force(version int) error {
	if err := m.m.Force(version); err != nil {
		return fmt.Errorf("migrate force %d: %w", version, err)
	}
	return nil
}

func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	return errors.Join(srcErr, dbErr)
}

// WithMigrator opens a short-lived connection to dsn, hands a Migrator to
// fn and closes both afterwards.
func WithMigrator(ctx context.Context, dsn, dbName string, logger *slog.Logger, fn func(*Migrator) error) (err error) {
	db, err := OpenSQL(ctx, dsn)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, db.Close()) }()

	migrator, err := NewMigrator(db, dbName, logger)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, migrator.Close()) }()

	return fn(migrator)
}

// MigrateUp brings the schema at dsn up to date. The API calls it at
// startup when auto-migrate is on.
func MigrateUp(ctx context.Context, dsn, dbName string, logger *slog.Logger) error {
	return WithMigrator(ctx, dsn, dbName, logger, func(m *Migrator) error {
		if err := m.Up(); err != nil {
			return err
		}
		status, err := m.Status()
		if err != nil {
			return err
		}
		logger.Info("database schema ready", "version", status.Version, "dirty", status.Dirty)
		return nil
	})
}
