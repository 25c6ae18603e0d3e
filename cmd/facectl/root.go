package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/saturnino-fabrica-de-software/facewatch/internal/audit"
	"github.com/saturnino-fabrica-de-software/facewatch/internal/config"
	"github.com/saturnino-fabrica-de-software/facewatch/internal/repository"
)

// Version is the application version.
const Version = "0.1.0"

// session is what every subcommand works against.
type session struct {
	store repository.IdentityStore
	audit audit.Logger
	close func() error
}

type storeOpener func(ctx context.Context, driver string) (*session, error)

// openConfiguredStore opens the store from the usual config sources. A
// non-empty driver overrides store.driver. Logs and audit records go to
// stderr so they never mix with command output.
func openConfiguredStore(ctx context.Context, driver string) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if driver != "" {
		cfg.Store.Driver = driver
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	store, closeFn, err := repository.Open(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}

	return &session{
		store: store,
		audit: audit.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stderr, nil))),
		close: closeFn,
	}, nil
}

type cli struct {
	open   storeOpener
	driver string
	asJSON bool

	*session
}

func newRootCmd(open storeOpener) *cobra.Command {
	c := &cli{open: open}

	root := &cobra.Command{
		Use:           "facectl",
		Short:         "Inspect and manage the facewatch identity catalog",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.open(cmd.Context(), c.driver)
			if err != nil {
				return fmt.Errorf("failed to open identity store: %w", err)
			}
			c.session = s
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if c.session == nil || c.close == nil {
				return nil
			}
			return c.close()
		},
	}

	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	root.PersistentFlags().StringVar(&c.driver, "driver", "", "Identity store driver: postgres, mongo, memory (default: from config)")
	root.PersistentFlags().BoolVar(&c.asJSON, "json", false, "Print JSON instead of a table")

	root.AddCommand(c.identitiesCmd(), c.statsCmd())

	return root
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
