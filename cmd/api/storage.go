package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/M-ajor19/quillify/internal/config"
	"github.com/M-ajor19/quillify/internal/generation"
	"github.com/M-ajor19/quillify/internal/handlers"
	"github.com/M-ajor19/quillify/internal/ledger"
	"github.com/M-ajor19/quillify/internal/repository"
	"github.com/M-ajor19/quillify/internal/repository/sqlite"
)

// storage is the persistence backend selected by config.
type storage struct {
	ledger  ledger.Store
	records generation.RecordStore
	db      handlers.Pinger
	// pool is nil for the sqlite driver, which runs without the job queue.
	pool  *pgxpool.Pool
	close func()
}

func openStorage(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*storage, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		store, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
		}
		logger.Info("Using SQLite store", "path", cfg.SQLitePath)
		return &storage{
			ledger:  store,
			records: store,
			db:      store,
			close:   func() { _ = store.Close() },
		}, nil

	default:
		pool, err := pgxpool.New(ctx, cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("create database pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("cannot reach PostgreSQL: %w", err)
		}
		logger.Info("Connected to PostgreSQL database")

		if err := repository.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
		return &storage{
			ledger:  repository.NewLedgerRepo(pool),
			records: repository.NewGenerationRepo(pool),
			db:      pool,
			pool:    pool,
			close:   pool.Close,
		}, nil
	}
}
