// Package exec runs fetch plans and relation-scoped mutations against a
// storage backend. The Runner owns the operation lifecycle: it applies
// scopes, plans queries, sequences hooks through the coordinator, threads
// units of work, and materializes raw rows into records. Backends plug in
// through the Executor interface; dialect/sql provides the database/sql
// implementation.
package exec

import (
	"context"

	"github.com/syssam/loom/plan"
	"github.com/syssam/loom/query"
	"github.com/syssam/loom/schema"
)

// A Row is one result row of a fetch step, keyed by result label.
type Row map[string]any

// A UnitOfWork scopes a group of writes to one atomic commit. The zero
// notion of nesting is deliberate: a unit of work is flat, and the Runner
// never commits or rolls back a unit it did not begin.
type UnitOfWork interface {
	Commit() error
	Rollback() error
}

// MutationKind discriminates the write shapes an Executor must support.
type MutationKind uint8

const (
	Insert MutationKind = iota + 1
	Update
	Delete
)

// String returns the lower-cased kind name.
func (k MutationKind) String() string {
	switch k {
	case Insert:
		return "insert"
	case Update:
		return "update"
	case Delete:
		return "delete"
	default:
		return "invalid"
	}
}

// A Mutation is one write against a single record type. Values are storage
// values, already encoded by the Runner's codec and keyed by attribute
// name; the executor maps attributes to columns through Type. Where
// predicates reference attributes of Type only.
type Mutation struct {
	Kind   MutationKind
	Type   *schema.RecordType
	Values map[string]any
	Where  query.P
	// Returning names the auto-generated key attribute the executor must
	// report back on insert, or "" when the caller supplies the key.
	Returning string
}

// A Result reports the outcome of one mutation.
type Result struct {
	Affected int64
	// Key is the generated key value when the mutation requested one.
	Key any
}

// An Executor is a storage backend. Query runs one fetch step; keys carries
// the parent key set of a stitched step (nil for root steps) and constrains
// the step's filter column, already encoded to storage values. Passing a
// nil UnitOfWork runs the call outside any transaction.
type Executor interface {
	Query(ctx context.Context, step *plan.FetchStep, keys []any, uow UnitOfWork) ([]Row, error)
	Exec(ctx context.Context, m *Mutation, uow UnitOfWork) (Result, error)
	Begin(ctx context.Context) (UnitOfWork, error)
}
