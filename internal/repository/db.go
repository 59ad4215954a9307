// Package repository holds the Postgres-backed persistence used when
// LOGSEER_DATABASE_URL is configured: the shared embedding cache and the
// retrieval log. The knowledge bases themselves live on the filesystem; the
// database only carries state worth sharing across hosts.
package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// dbtx is the querying surface shared by *pgxpool.Pool and pgx.Tx, so a
// repository can run inside or outside a transaction.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
