package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	// One connection stays pinned by the message listener for LISTEN.
	maxPoolConns = 11
	minPoolConns = 2
	pingTimeout  = 5 * time.Second
)

var DB *pgxpool.Pool

// ConnectDB opens the shared pool and verifies it with a ping.
func ConnectDB(ctx context.Context, dbURL string, logger *zap.Logger) error {
	poolConfig, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = maxPoolConns
	poolConfig.MinConns = minPoolConns
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return fmt.Errorf("unable to connect to database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return fmt.Errorf("unable to ping database: %w", err)
	}

	DB = pool
	logger.Info("connected to postgres",
		zap.String("host", poolConfig.ConnConfig.Host),
		zap.String("database", poolConfig.ConnConfig.Database),
		zap.Int32("max_conns", poolConfig.MaxConns),
	)
	return nil
}

func CloseDB(logger *zap.Logger) {
	if DB == nil {
		return
	}
	stat := DB.Stat()
	logger.Info("closing postgres pool",
		zap.Int32("acquired_conns", stat.AcquiredConns()),
		zap.Int64("acquire_count", stat.AcquireCount()),
	)
	DB.Close()
	DB = nil
}
