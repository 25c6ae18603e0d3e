package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/saturnino-fabrica-de-software/facewatch/internal/config"
	"github.com/saturnino-fabrica-de-software/facewatch/internal/database"
)

// schemaMigrator is the part of database.Migrator the commands drive.
type schemaMigrator interface {
	Up() error
	Down(steps int) error
	Status() (database.SchemaStatus, error)
	Force(version int) error
}

type migratorRunner func(ctx context.Context, dbName string, fn func(schemaMigrator) error) error

// runConfigured runs fn against the postgres store named by the usual
// config sources.
func runConfigured(ctx context.Context, dbName string, fn func(schemaMigrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Store.Driver != "postgres" {
		return fmt.Errorf("migrations only apply to the postgres store (driver is %q)", cfg.Store.Driver)
	}

	logger := config.NewLogger(cfg.Environment, cfg.LogFile)
	return database.WithMigrator(ctx, cfg.Store.DatabaseURL, dbName, logger, func(m *database.Migrator) error {
		return fn(m)
	})
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(runConfigured, slog.Default()).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd(run migratorRunner, logger *slog.Logger) *cobra.Command {
	var dbName string

	with := func(fn func(*cobra.Command, []string, schemaMigrator) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), dbName, func(m schemaMigrator) error {
				return fn(cmd, args, m)
			})
		}
	}

	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the facewatch postgres schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dbName, "db", "facewatch", "Database name recorded by the migration driver")

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: with(func(_ *cobra.Command, _ []string, m schemaMigrator) error {
				if err := m.Up(); err != nil {
					return err
				}
				logger.Info("migrations applied")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "down [steps]",
			Short: "Roll back migrations (one by default)",
			Args:  cobra.MaximumNArgs(1),
			RunE: with(func(_ *cobra.Command, args []string, m schemaMigrator) error {
				steps := 1
				if len(args) == 1 {
					n, err := strconv.Atoi(args[0])
					if err != nil {
						return fmt.Errorf("invalid step count %q", args[0])
					}
					steps = n
				}
				if err := m.Down(steps); err != nil {
					return err
				}
				logger.Info("migrations rolled back", slog.Int("steps", steps))
				return nil
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: with(func(cmd *cobra.Command, _ []string, m schemaMigrator) error {
				status, err := m.Status()
				if err != nil {
					return err
				}
				suffix := ""
				if status.Dirty {
					suffix = " (dirty)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version %d%s\n", status.Version, suffix)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Record a version as applied without running it",
			Args:  cobra.ExactArgs(1),
			RunE: with(func(_ *cobra.Command, args []string, m schemaMigrator) error {
				version, err := strconv.Atoi(args[0])
				if err != nil || version < 0 {
					return fmt.Errorf("invalid version %q", args[0])
				}
				if err := m.Force(version); err != nil {
					return err
				}
				logger.Warn("migration version forced", slog.Int("version", version))
				return nil
			}),
		},
	)

	return root
}
