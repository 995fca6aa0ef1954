package sql

import (
	"context"

	"github.com/syssam/loom/dialect"
	"github.com/syssam/loom/exec"
	"github.com/syssam/loom/plan"
)

// Executor adapts a Driver to the exec.Executor interface.
type Executor struct {
	drv *Driver
}

// NewExecutor returns an executor over the given driver.
func NewExecutor(drv *Driver) *Executor {
	return &Executor{drv: drv}
}

// Driver returns the underlying driver.
func (e *Executor) Driver() *Driver { return e.drv }

// Begin starts a transaction-backed unit of work.
func (e *Executor) Begin(ctx context.Context) (exec.UnitOfWork, error) {
	tx, err := e.drv.Tx(ctx)
	if err != nil {
		return nil, err
	}
	return &txUOW{tx: tx}, nil
}

type txUOW struct {
	tx dialect.Tx
}

func (u *txUOW) Commit() error   { return u.tx.Commit() }
func (u *txUOW) Rollback() error { return u.tx.Rollback() }

func (e *Executor) conn(uow exec.UnitOfWork) dialect.ExecQuerier {
	if u, ok := uow.(*txUOW); ok && u != nil {
		return u.tx
	}
	return e.drv
}

// Query compiles and runs one fetch step, returning labeled rows.
func (e *Executor) Query(ctx context.Context, step *plan.FetchStep, keys []any, uow exec.UnitOfWork) ([]exec.Row, error) {
	q, args, err := compileStep(e.drv.Dialect(), step, keys)
	if err != nil {
		return nil, err
	}
	var rows Rows
	if err := e.conn(uow).Query(ctx, q, args, &rows); err != nil {
		return nil, err
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []exec.Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(exec.Row, len(cols))
		for i, col := range cols {
			row[col] = vals[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Exec compiles and runs one mutation. Constraint violations are
// classified into ConstraintErrors; generated keys come from RETURNING on
// Postgres and LastInsertId elsewhere.
func (e *Executor) Exec(ctx context.Context, m *exec.Mutation, uow exec.UnitOfWork) (exec.Result, error) {
	q, args, returning, err := compileMutation(e.drv.Dialect(), m)
	if err != nil {
		return exec.Result{}, err
	}
	conn := e.conn(uow)
	if returning {
		var rows Rows
		if err := conn.Query(ctx, q, args, &rows); err != nil {
			return exec.Result{}, wrapConstraint(err)
		}
		defer rows.Close()
		var key any
		if rows.Next() {
			if err := rows.Scan(&key); err != nil {
				return exec.Result{}, err
			}
		}
		if err := rows.Err(); err != nil {
			return exec.Result{}, wrapConstraint(err)
		}
		return exec.Result{Affected: 1, Key: key}, nil
	}
	var res Result
	if err := conn.Exec(ctx, q, args, &res); err != nil {
		return exec.Result{}, wrapConstraint(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		affected = 0
	}
	out := exec.Result{Affected: affected}
	if m.Kind == exec.Insert && m.Returning != "" {
		if id, err := res.LastInsertId(); err == nil {
			out.Key = id
		}
	}
	return out, nil
}

var _ exec.Executor = (*Executor)(nil)
