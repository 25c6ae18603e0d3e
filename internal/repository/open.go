package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/saturnino-fabrica-de-software/facewatch/internal/config"
	"github.com/saturnino-fabrica-de-software/facewatch/internal/database"
)

const (
	migrationsDatabase  = "facewatch"
	mongoConnectTimeout = 10 * time.Second
)

// Open connects the identity store selected by cfg.Driver. The returned
// function releases the underlying connections.
func Open(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (IdentityStore, func() error, error) {
	switch cfg.Driver {
	case "postgres":
		if cfg.AutoMigrate {
			if err := database.MigrateUp(ctx, cfg.DatabaseURL, migrationsDatabase, logger); err != nil {
				return nil, nil, fmt.Errorf("migrate: %w", err)
			}
		}

		pool, err := database.NewPool(ctx, database.DefaultPoolConfig(cfg.DatabaseURL))
		if err != nil {
			return nil, nil, err
		}

		logger.Info("identity store ready", "driver", cfg.Driver)
		return NewIdentityRepository(pool), func() error {
			pool.Close()
			return nil
		}, nil

	case "mongo":
		client, err := database.NewMongoClient(ctx, cfg.MongoURI, mongoConnectTimeout)
		if err != nil {
			return nil, nil, err
		}

		repo := NewMongoIdentityRepository(client.Database(cfg.MongoDatabase).Collection(cfg.MongoCollection))
		if err := repo.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, err
		}

		logger.Info("identity store ready",
			"driver", cfg.Driver,
			"database", cfg.MongoDatabase,
			"collection", cfg.MongoCollection,
		)
		return repo, func() error {
			return client.Disconnect(context.Background())
		}, nil

	case "memory":
		logger.Warn("identity store is in memory; identities are lost on restart")
		return NewMemoryIdentityRepository(), func() error { return nil }, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
