package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/heartmarshall/fedrecords/internal/adapter/bolt"
	"github.com/heartmarshall/fedrecords/internal/adapter/memory"
	"github.com/heartmarshall/fedrecords/internal/adapter/postgres"
	"github.com/heartmarshall/fedrecords/internal/adapter/sqlite"
	"github.com/heartmarshall/fedrecords/internal/config"
	"github.com/heartmarshall/fedrecords/internal/records"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// backend is an opened record store. ping is nil for the in-memory store.
type backend struct {
	store records.Store
	ping  pinger
	close func()
}

// openStore connects the configured record store. Postgres schemas are
// migrated before the store is returned.
func openStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (*backend, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return &backend{store: memory.NewStore(), close: func() {}}, nil

	case config.DriverBolt:
		s, err := bolt.Open(cfg.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("open bolt store: %w", err)
		}
		return &backend{store: s, ping: s, close: closer(logger, "bolt", s.Close)}, nil

	case config.DriverSQLite:
		s, err := sqlite.Open(ctx, cfg.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return &backend{store: s, ping: s, close: closer(logger, "sqlite", s.Close)}, nil

	case config.DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		s := postgres.NewStore(pool, logger)
		return &backend{store: s, ping: s, close: pool.Close}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

func closer(logger *slog.Logger, name string, fn func() error) func() {
	return func() {
		if err := fn(); err != nil {
			logger.Error("close store", slog.String("driver", name), slog.String("error", err.Error()))
		}
	}
}
