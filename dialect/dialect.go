// Package dialect defines the storage-collaborator abstraction: the engine
// issues statements through a Driver and never depends on a concrete SQL
// dialect beyond the named constants below.
package dialect

import (
	"context"
	"database/sql"
)

// Supported dialect names.
const (
	MySQL    = "mysql"
	SQLite   = "sqlite"
	Postgres = "postgres"
)

// ExecQuerier wraps the two standard statement methods.
type ExecQuerier interface {
	// Exec executes a statement that does not return rows. The v argument
	// may be nil, or a *sql.Result to receive the execution result.
	Exec(ctx context.Context, query string, args, v any) error
	// Query executes a statement that returns rows. The v argument must be
	// a *sql.Rows-compatible destination provided by the driver package.
	Query(ctx context.Context, query string, args, v any) error
}

// Driver is the interface the engine uses to reach the backing store.
type Driver interface {
	ExecQuerier
	// Tx starts and returns a new transaction.
	Tx(ctx context.Context) (Tx, error)
	// BeginTx starts a transaction with the given options. Isolation is a
	// pass-through contract to the store, not reimplemented by the engine.
	BeginTx(ctx context.Context, opts *sql.TxOptions) (Tx, error)
	// Close closes the underlying connection pool.
	Close() error
	// Dialect returns the dialect name of the driver.
	Dialect() string
}

// Tx wraps transactional statement execution. A transaction's connection is
// exclusively owned by that transaction until Commit or Rollback.
type Tx interface {
	ExecQuerier
	Commit() error
	Rollback() error
}
