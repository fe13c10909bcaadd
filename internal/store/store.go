// Package store opens the repository driver selected by configuration.
package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"bufficorns/internal/db"
	"bufficorns/internal/game"
	"bufficorns/internal/store/memory"
	"bufficorns/internal/store/postgres"
	"bufficorns/internal/store/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

type Options struct {
	Driver      string
	DatabaseURL string
	SQLitePath  string
	MaxConns    int32
	// AppName tags postgres sessions so api and worker connections can be told apart.
	AppName string
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type closerFunc func()

func (f closerFunc) Close() error {
	f()
	return nil
}

// Open returns the repositories and a closer that releases the driver.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (game.Repositories, io.Closer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch opts.Driver {
	case DriverPostgres, "":
		poolOpts := []db.PoolOption{db.WithMaxConns(opts.MaxConns)}
		if opts.AppName != "" {
			poolOpts = append(poolOpts, db.WithApplicationName(opts.AppName))
		}
		pool, err := db.Connect(ctx, opts.DatabaseURL, poolOpts...)
		if err != nil {
			return game.Repositories{}, nil, err
		}
		if err := db.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return game.Repositories{}, nil, err
		}
		logger.Info("store opened", "driver", DriverPostgres)
		return postgres.New(pool).Repositories(), closerFunc(pool.Close), nil
	case DriverSQLite:
		s, err := sqlite.Open(opts.SQLitePath)
		if err != nil {
			return game.Repositories{}, nil, err
		}
		logger.Info("store opened", "driver", DriverSQLite, "path", s.Path())
		return s.Repositories(), s, nil
	case DriverMemory:
		logger.Warn("memory store opened; state is lost on exit", "driver", DriverMemory)
		return memory.New().Repositories(), nopCloser{}, nil
	}
	return game.Repositories{}, nil, fmt.Errorf("unknown store driver %q", opts.Driver)
}
