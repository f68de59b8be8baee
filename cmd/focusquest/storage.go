package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alem-hub/focus-quest/config"
	"github.com/alem-hub/focus-quest/internal/domain/session"
	"github.com/alem-hub/focus-quest/internal/domain/user"
	"github.com/alem-hub/focus-quest/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/focus-quest/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/focus-quest/internal/infrastructure/persistence/sqlite"
	"github.com/alem-hub/focus-quest/internal/interface/http/handlers"
)

// userRepository - хранилище пользователей с ранжированием.
type userRepository interface {
	user.Repository
	user.RankReader
}

// storage - выбранный драйвер хранения.
type storage struct {
	users    userRepository
	sessions session.LogRepository

	// pinger проверяет соединение (nil для memory).
	pinger handlers.Pinger

	// pg заполнен только для драйвера postgres.
	pg *postgres.Connection

	close func()
}

// openStorage открывает хранилище по STORAGE_DRIVER.
func openStorage(ctx context.Context, cfg *config.Config, log *slog.Logger) (*storage, error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		log.Info("connecting to database...")
		pgCfg := postgres.DefaultConfig(cfg.Database.URL)
		pgCfg.MaxConns = int32(cfg.Database.MaxConns)
		pgCfg.MinConns = int32(cfg.Database.MinConns)
		pgCfg.QueryTimeout = cfg.Database.QueryTimeout

		conn, err := postgres.NewConnection(ctx, pgCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := conn.Ping(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("database ping failed: %w", err)
		}
		log.Info("database connection established")

		return &storage{
			users:    postgres.NewUserRepository(conn),
			sessions: postgres.NewSessionLogRepository(conn),
			pinger:   conn,
			pg:       conn,
			close: func() {
				log.Info("closing database connection...")
				conn.Close()
			},
		}, nil

	case config.DriverSQLite:
		store, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		log.Info("sqlite store opened", "path", cfg.SQLite.Path)

		return &storage{
			users:    store.Users(),
			sessions: store.Sessions(),
			pinger:   store,
			close: func() {
				if err := store.Close(); err != nil {
					log.Warn("failed to close sqlite store", "error", err)
				}
			},
		}, nil

	default:
		log.Warn("using in-memory storage, progress is lost on restart")
		return &storage{
			users:    memory.NewUserRepository(),
			sessions: memory.NewSessionLogRepository(),
			close:    func() {},
		}, nil
	}
}
