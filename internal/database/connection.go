// Package database builds the pgx connection pool behind the Postgres-backed
// embedding cache and retrieval log. The pool is optional: without a
// configured database URL the server never calls into this package.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// pingTimeout bounds the startup ping so an unreachable host fails the
// serve command quickly instead of hanging on the driver's own timeout.
const pingTimeout = 5 * time.Second

// Config holds the connection settings for NewPool. Conn bounds of zero
// keep the driver defaults.
type Config struct {
	URL      string
	MaxConns int32
	MinConns int32
}

// NewPool parses cfg.URL, opens a pool and verifies it with a bounded ping.
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}
