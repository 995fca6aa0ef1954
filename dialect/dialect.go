// Package dialect defines the database abstraction loom executes against:
// named dialects, the ExecQuerier contract shared by connections and
// transactions, and the Driver interface dialect/sql implements.
package dialect

import (
	"context"
)

// Dialect names loom ships support for.
const (
	MySQL    = "mysql"
	SQLite   = "sqlite"
	Postgres = "postgres"
)

// ExecQuerier wraps the Exec and Query operations. Exec expects v to be
// nil or *sql.Result; Query expects v to be *sql.Rows.
type ExecQuerier interface {
	Exec(ctx context.Context, query string, args, v any) error
	Query(ctx context.Context, query string, args, v any) error
}

// Driver is the minimal interface a database backend implements.
type Driver interface {
	ExecQuerier
	// Tx starts and returns a new transaction.
	Tx(ctx context.Context) (Tx, error)
	// Close closes the underlying connection.
	Close() error
	// Dialect returns the dialect name of the driver.
	Dialect() string
}

// Tx is a transactional ExecQuerier.
type Tx interface {
	ExecQuerier
	Commit() error
	Rollback() error
}
