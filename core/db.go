package core

import (
	"context"
	"database/sql"
)

// DBExecutor is the part of *sql.Tx (and *sqlx.Tx) a repository needs to join a unit of work.
type DBExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Transactor runs fn inside one unit of work. Repository calls receiving `exec` join it.
// A nil exec means the backing store has no transactions (in-memory repositories).
// Services lock a sheet and write it within the same call so concurrent submits serialize.
type Transactor interface {
	InTx(ctx context.Context, fn func(exec DBExecutor) error) error
}
