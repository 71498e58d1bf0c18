package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Queryable is the subset of pgx both *pgxpool.Pool and pgx.Tx satisfy. The
// repository reads and writes through it so the same code runs inside and
// outside a transaction, and tests can substitute a fake.
type Queryable interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
