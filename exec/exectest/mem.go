// Package exectest provides an in-memory Executor for tests: it interprets
// fetch steps against plain table maps, emulates joins and stitched key
// filters, enforces unique constraints, and supports snapshot-based units
// of work.
package exectest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/spf13/cast"

	"github.com/syssam/loom"
	"github.com/syssam/loom/exec"
	"github.com/syssam/loom/plan"
	"github.com/syssam/loom/query"
	"github.com/syssam/loom/schema"
)

// Mem is an in-memory storage backend keyed by table name. The zero value
// is not usable; construct with NewMem.
type Mem struct {
	mu      sync.Mutex
	tables  map[string][]map[string]any
	autoinc map[string]int64

	// ExecHook, when set, runs before every mutation and can force a
	// failure, for atomicity tests.
	ExecHook func(m *exec.Mutation) error
}

// NewMem returns an empty in-memory backend.
func NewMem() *Mem {
	return &Mem{
		tables:  make(map[string][]map[string]any),
		autoinc: make(map[string]int64),
	}
}

// Seed appends rows to a table, advancing the auto-increment counter past
// any seeded "id" values.
func (m *Mem) Seed(table string, rows ...map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range rows {
		cp := make(map[string]any, len(row))
		for k, v := range row {
			cp[k] = v
		}
		if id, err := cast.ToInt64E(cp["id"]); err == nil && id > m.autoinc[table] {
			m.autoinc[table] = id
		}
		m.tables[table] = append(m.tables[table], cp)
	}
}

// Rows returns a copy of the table's rows, for assertions.
func (m *Mem) Rows(table string) []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]any, 0, len(m.tables[table]))
	for _, row := range m.tables[table] {
		cp := make(map[string]any, len(row))
		for k, v := range row {
			cp[k] = v
		}
		out = append(out, cp)
	}
	return out
}

type memUOW struct {
	m        *Mem
	snapshot map[string][]map[string]any
	autoinc  map[string]int64
	done     bool
}

// Begin snapshots the current state; Rollback restores it.
func (m *Mem) Begin(ctx context.Context) (exec.UnitOfWork, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := make(map[string][]map[string]any, len(m.tables))
	for t, rows := range m.tables {
		cp := make([]map[string]any, len(rows))
		for i, row := range rows {
			rc := make(map[string]any, len(row))
			for k, v := range row {
				rc[k] = v
			}
			cp[i] = rc
		}
		snap[t] = cp
	}
	ai := make(map[string]int64, len(m.autoinc))
	for t, n := range m.autoinc {
		ai[t] = n
	}
	return &memUOW{m: m, snapshot: snap, autoinc: ai}, nil
}

func (u *memUOW) Commit() error {
	u.done = true
	return nil
}

func (u *memUOW) Rollback() error {
	if u.done {
		return nil
	}
	u.m.mu.Lock()
	defer u.m.mu.Unlock()
	u.m.tables = u.snapshot
	u.m.autoinc = u.autoinc
	u.done = true
	return nil
}

// Exec applies one mutation. Unique attributes and unique groups are
// enforced, surfacing violations as ConstraintErrors the way a SQL backend
// would.
func (m *Mem) Exec(ctx context.Context, mut *exec.Mutation, uow exec.UnitOfWork) (exec.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ExecHook != nil {
		if err := m.ExecHook(mut); err != nil {
			return exec.Result{}, err
		}
	}
	table := mut.Type.Table()
	switch mut.Kind {
	case exec.Insert:
		row := make(map[string]any, len(mut.Values))
		for name, v := range mut.Values {
			attr, ok := mut.Type.Attribute(name)
			if !ok {
				return exec.Result{}, fmt.Errorf("exectest: %s has no attribute %q", mut.Type.Name(), name)
			}
			row[attr.Column] = v
		}
		var key any
		if mut.Returning != "" {
			attr, ok := mut.Type.Attribute(mut.Returning)
			if !ok {
				return exec.Result{}, fmt.Errorf("exectest: %s has no attribute %q", mut.Type.Name(), mut.Returning)
			}
			m.autoinc[table]++
			key = m.autoinc[table]
			row[attr.Column] = key
		}
		if err := m.checkUnique(mut.Type, table, row, -1); err != nil {
			return exec.Result{}, err
		}
		m.tables[table] = append(m.tables[table], row)
		return exec.Result{Affected: 1, Key: key}, nil
	case exec.Update:
		var n int64
		for i, row := range m.tables[table] {
			match, err := m.matches(mut.Type, row, mut.Where)
			if err != nil {
				return exec.Result{}, err
			}
			if !match {
				continue
			}
			updated := make(map[string]any, len(row))
			for k, v := range row {
				updated[k] = v
			}
			for name, v := range mut.Values {
				attr, ok := mut.Type.Attribute(name)
				if !ok {
					return exec.Result{}, fmt.Errorf("exectest: %s has no attribute %q", mut.Type.Name(), name)
				}
				updated[attr.Column] = v
			}
			if err := m.checkUnique(mut.Type, table, updated, i); err != nil {
				return exec.Result{}, err
			}
			m.tables[table][i] = updated
			n++
		}
		return exec.Result{Affected: n}, nil
	case exec.Delete:
		kept := m.tables[table][:0:0]
		var n int64
		for _, row := range m.tables[table] {
			match, err := m.matches(mut.Type, row, mut.Where)
			if err != nil {
				return exec.Result{}, err
			}
			if match {
				n++
				continue
			}
			kept = append(kept, row)
		}
		m.tables[table] = kept
		return exec.Result{Affected: n}, nil
	default:
		return exec.Result{}, fmt.Errorf("exectest: invalid mutation kind %d", mut.Kind)
	}
}

func (m *Mem) matches(rt *schema.RecordType, row map[string]any, p query.P) (bool, error) {
	if p == nil {
		return true, nil
	}
	return query.Matches(p, func(name string) (any, bool) {
		attr, ok := rt.Attribute(name)
		if !ok {
			return nil, false
		}
		v, ok := row[attr.Column]
		return v, ok
	})
}

func (m *Mem) checkUnique(rt *schema.RecordType, table string, row map[string]any, skip int) error {
	groups := make(map[string][]*schema.Attribute)
	for _, attr := range rt.Attributes() {
		if attr.UniqueGroup != "" {
			groups[attr.UniqueGroup] = append(groups[attr.UniqueGroup], attr)
		}
		if !attr.Unique || row[attr.Column] == nil {
			continue
		}
		for i, other := range m.tables[table] {
			if i == skip {
				continue
			}
			if canon(other[attr.Column]) == canon(row[attr.Column]) && other[attr.Column] != nil {
				return loom.NewConstraintError(
					fmt.Sprintf("duplicate %s.%s value %v", table, attr.Column, row[attr.Column]), nil)
			}
		}
	}
	for name, attrs := range groups {
		complete := true
		for _, attr := range attrs {
			if row[attr.Column] == nil {
				complete = false
				break
			}
		}
		if !complete {
			continue
		}
		for i, other := range m.tables[table] {
			if i == skip {
				continue
			}
			same := true
			for _, attr := range attrs {
				if canon(other[attr.Column]) != canon(row[attr.Column]) {
					same = false
					break
				}
			}
			if same {
				return loom.NewConstraintError(
					fmt.Sprintf("duplicate %s tuple for unique group %q", table, name), nil)
			}
		}
	}
	return nil
}

// boundRow is one result row mid-join: the row matched at each table
// alias, nil where a left join found nothing.
type boundRow map[string]map[string]any

// Query interprets one fetch step: base table scan, join emulation, key
// filtering for stitched steps, predicate evaluation, ordering and
// pagination, projected into labeled rows.
func (m *Mem) Query(ctx context.Context, step *plan.FetchStep, keys []any, uow exec.UnitOfWork) ([]exec.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bound := make([]boundRow, 0, len(m.tables[step.Table]))
	for _, row := range m.tables[step.Table] {
		bound = append(bound, boundRow{step.TableAlias: row})
	}
	for _, join := range step.Joins {
		var next []boundRow
		for _, br := range bound {
			from := br[join.FromAlias]
			if from == nil {
				if join.Kind == plan.LeftJoin {
					ext := br.clone()
					ext[join.TableAlias] = nil
					next = append(next, ext)
				}
				continue
			}
			matched := false
			for _, cand := range m.tables[join.Table] {
				if from[join.FromColumn] == nil || cand[join.ToColumn] == nil {
					continue
				}
				if canon(from[join.FromColumn]) != canon(cand[join.ToColumn]) {
					continue
				}
				matched = true
				ext := br.clone()
				ext[join.TableAlias] = cand
				next = append(next, ext)
			}
			if !matched && join.Kind == plan.LeftJoin {
				ext := br.clone()
				ext[join.TableAlias] = nil
				next = append(next, ext)
			}
		}
		bound = next
	}
	if keys != nil {
		st := step.Stitch
		keySet := make(map[string]bool, len(keys))
		for _, k := range keys {
			keySet[canon(k)] = true
		}
		var kept []boundRow
		for _, br := range bound {
			row := br[st.FilterAlias]
			if row == nil || row[st.FilterColumn] == nil {
				continue
			}
			if keySet[canon(row[st.FilterColumn])] {
				kept = append(kept, br)
			}
		}
		bound = kept
	}
	var kept []boundRow
	for _, br := range bound {
		ok := true
		for _, f := range step.Filters {
			match, err := m.matchBound(br, f)
			if err != nil {
				return nil, err
			}
			if !match {
				ok = false
				break
			}
		}
		if ok {
			kept = append(kept, br)
		}
	}
	bound = kept
	if len(step.Order) > 0 {
		sort.SliceStable(bound, func(i, j int) bool {
			for _, o := range step.Order {
				a := orderValue(bound[i], o)
				b := orderValue(bound[j], o)
				c := compare(a, b)
				if c == 0 {
					continue
				}
				if o.Dir == query.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}
	if step.Offset != nil {
		if *step.Offset >= len(bound) {
			bound = nil
		} else {
			bound = bound[*step.Offset:]
		}
	}
	if step.Limit != nil && *step.Limit < len(bound) {
		bound = bound[:*step.Limit]
	}
	out := make([]exec.Row, 0, len(bound))
	for _, br := range bound {
		row := make(exec.Row, len(step.Columns))
		for _, col := range step.Columns {
			src := br[col.TableAlias]
			if src == nil {
				row[col.Label] = nil
				continue
			}
			row[col.Label] = src[col.Name]
		}
		out = append(out, row)
	}
	return out, nil
}

func (m *Mem) matchBound(br boundRow, f plan.Filter) (bool, error) {
	row := br[f.TableAlias]
	return query.Matches(f.Pred, func(name string) (any, bool) {
		attr, ok := f.Type.Attribute(name)
		if !ok {
			return nil, false
		}
		if row == nil {
			return nil, true
		}
		v, ok := row[attr.Column]
		return v, ok
	})
}

func orderValue(br boundRow, o plan.OrderSpec) any {
	attr, ok := o.Expr.(query.Attr)
	if !ok {
		return nil
	}
	row := br[o.TableAlias]
	if row == nil {
		return nil
	}
	a, ok := o.Type.Attribute(attr.Name)
	if !ok {
		return nil
	}
	return row[a.Column]
}

func (b boundRow) clone() boundRow {
	cp := make(boundRow, len(b)+1)
	for k, v := range b {
		cp[k] = v
	}
	return cp
}

// compare orders two storage values, nils first.
func compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	af, aerr := cast.ToFloat64E(a)
	bf, berr := cast.ToFloat64E(b)
	if aerr == nil && berr == nil {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as, bs := cast.ToString(a), cast.ToString(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

func canon(v any) string { return fmt.Sprintf("%v", v) }
