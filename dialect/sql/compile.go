package sql

import (
	"fmt"
	"sort"
	"strings"

	"github.com/syssam/loom/dialect"
	"github.com/syssam/loom/exec"
	"github.com/syssam/loom/plan"
	"github.com/syssam/loom/query"
	"github.com/syssam/loom/schema"
)

// compiler renders one statement. Placeholders and identifier quoting
// follow the dialect.
type compiler struct {
	dialect string
	b       strings.Builder
	args    []any
}

func newCompiler(d string) *compiler {
	return &compiler{dialect: d}
}

func (c *compiler) placeholder(v any) string {
	c.args = append(c.args, v)
	if c.dialect == dialect.Postgres {
		return fmt.Sprintf("$%d", len(c.args))
	}
	return "?"
}

func (c *compiler) ident(name string) string {
	if c.dialect == dialect.MySQL {
		return "`" + name + "`"
	}
	return `"` + name + `"`
}

func (c *compiler) column(alias, col string) string {
	if alias == "" {
		return c.ident(col)
	}
	return c.ident(alias) + "." + c.ident(col)
}

// compileStep renders a fetch step as one SELECT. keys, when non-nil,
// constrain the stitch filter column to the parent key set.
func compileStep(d string, step *plan.FetchStep, keys []any) (string, []any, error) {
	c := newCompiler(d)
	c.b.WriteString("SELECT ")
	for i, col := range step.Columns {
		if i > 0 {
			c.b.WriteString(", ")
		}
		c.b.WriteString(c.column(col.TableAlias, col.Name))
		c.b.WriteString(" AS ")
		c.b.WriteString(c.ident(col.Label))
	}
	c.b.WriteString(" FROM ")
	c.b.WriteString(c.ident(step.Table))
	c.b.WriteString(" AS ")
	c.b.WriteString(c.ident(step.TableAlias))
	for _, j := range step.Joins {
		switch j.Kind {
		case plan.InnerJoin:
			c.b.WriteString(" JOIN ")
		default:
			c.b.WriteString(" LEFT JOIN ")
		}
		c.b.WriteString(c.ident(j.Table))
		c.b.WriteString(" AS ")
		c.b.WriteString(c.ident(j.TableAlias))
		c.b.WriteString(" ON ")
		c.b.WriteString(c.column(j.FromAlias, j.FromColumn))
		c.b.WriteString(" = ")
		c.b.WriteString(c.column(j.TableAlias, j.ToColumn))
	}
	var conds []string
	for _, f := range step.Filters {
		s, err := c.pred(f.TableAlias, f.Type, f.Pred)
		if err != nil {
			return "", nil, err
		}
		conds = append(conds, s)
	}
	if keys != nil {
		st := step.Stitch
		phs := make([]string, len(keys))
		for i, k := range keys {
			phs[i] = c.placeholder(k)
		}
		conds = append(conds, c.column(st.FilterAlias, st.FilterColumn)+" IN ("+strings.Join(phs, ", ")+")")
	}
	if len(conds) > 0 {
		c.b.WriteString(" WHERE ")
		c.b.WriteString(strings.Join(conds, " AND "))
	}
	if len(step.Group) > 0 {
		c.b.WriteString(" GROUP BY ")
		for i, g := range step.Group {
			if i > 0 {
				c.b.WriteString(", ")
			}
			s, err := c.expr(g.TableAlias, g.Type, g.Expr)
			if err != nil {
				return "", nil, err
			}
			c.b.WriteString(s)
		}
	}
	if len(step.Order) > 0 {
		c.b.WriteString(" ORDER BY ")
		for i, o := range step.Order {
			if i > 0 {
				c.b.WriteString(", ")
			}
			s, err := c.expr(o.TableAlias, o.Type, o.Expr)
			if err != nil {
				return "", nil, err
			}
			c.b.WriteString(s)
			if o.Dir == query.Desc {
				c.b.WriteString(" DESC")
			}
		}
	}
	if step.Limit != nil {
		fmt.Fprintf(&c.b, " LIMIT %d", *step.Limit)
	}
	if step.Offset != nil {
		fmt.Fprintf(&c.b, " OFFSET %d", *step.Offset)
	}
	return c.b.String(), c.args, nil
}

// compileMutation renders one DML statement. The second return reports
// whether the statement selects the generated key through RETURNING
// instead of LastInsertId.
func compileMutation(d string, m *exec.Mutation) (string, []any, bool, error) {
	c := newCompiler(d)
	switch m.Kind {
	case exec.Insert:
		names := sortedNames(m.Values)
		cols := make([]string, 0, len(names))
		phs := make([]string, 0, len(names))
		for _, name := range names {
			attr, ok := m.Type.Attribute(name)
			if !ok {
				return "", nil, false, fmt.Errorf("dialect/sql: %s has no attribute %q", m.Type.Name(), name)
			}
			cols = append(cols, c.ident(attr.Column))
			phs = append(phs, c.placeholder(m.Values[name]))
		}
		c.b.WriteString("INSERT INTO ")
		c.b.WriteString(c.ident(m.Type.Table()))
		c.b.WriteString(" (")
		c.b.WriteString(strings.Join(cols, ", "))
		c.b.WriteString(") VALUES (")
		c.b.WriteString(strings.Join(phs, ", "))
		c.b.WriteString(")")
		returning := false
		if m.Returning != "" && d == dialect.Postgres {
			attr, ok := m.Type.Attribute(m.Returning)
			if !ok {
				return "", nil, false, fmt.Errorf("dialect/sql: %s has no attribute %q", m.Type.Name(), m.Returning)
			}
			c.b.WriteString(" RETURNING ")
			c.b.WriteString(c.ident(attr.Column))
			returning = true
		}
		return c.b.String(), c.args, returning, nil
	case exec.Update:
		names := sortedNames(m.Values)
		c.b.WriteString("UPDATE ")
		c.b.WriteString(c.ident(m.Type.Table()))
		c.b.WriteString(" SET ")
		for i, name := range names {
			attr, ok := m.Type.Attribute(name)
			if !ok {
				return "", nil, false, fmt.Errorf("dialect/sql: %s has no attribute %q", m.Type.Name(), name)
			}
			if i > 0 {
				c.b.WriteString(", ")
			}
			c.b.WriteString(c.ident(attr.Column))
			c.b.WriteString(" = ")
			c.b.WriteString(c.placeholder(m.Values[name]))
		}
		if err := c.where(m); err != nil {
			return "", nil, false, err
		}
		return c.b.String(), c.args, false, nil
	case exec.Delete:
		c.b.WriteString("DELETE FROM ")
		c.b.WriteString(c.ident(m.Type.Table()))
		if err := c.where(m); err != nil {
			return "", nil, false, err
		}
		return c.b.String(), c.args, false, nil
	default:
		return "", nil, false, fmt.Errorf("dialect/sql: invalid mutation kind %d", m.Kind)
	}
}

func (c *compiler) where(m *exec.Mutation) error {
	if m.Where == nil {
		return nil
	}
	s, err := c.pred("", m.Type, m.Where)
	if err != nil {
		return err
	}
	c.b.WriteString(" WHERE ")
	c.b.WriteString(s)
	return nil
}

func (c *compiler) pred(alias string, rt *schema.RecordType, p query.P) (string, error) {
	switch p := p.(type) {
	case query.AndP:
		return c.join(alias, rt, p.Xs, " AND ")
	case query.OrP:
		return c.join(alias, rt, p.Xs, " OR ")
	case query.NotP:
		s, err := c.pred(alias, rt, p.X)
		if err != nil {
			return "", err
		}
		return "NOT (" + s + ")", nil
	case query.Comparison:
		return c.cmp(alias, rt, p)
	default:
		return "", fmt.Errorf("dialect/sql: invalid predicate %T", p)
	}
}

func (c *compiler) join(alias string, rt *schema.RecordType, xs []query.P, sep string) (string, error) {
	parts := make([]string, 0, len(xs))
	for _, x := range xs {
		s, err := c.pred(alias, rt, x)
		if err != nil {
			return "", err
		}
		parts = append(parts, "("+s+")")
	}
	return strings.Join(parts, sep), nil
}

func (c *compiler) cmp(alias string, rt *schema.RecordType, p query.Comparison) (string, error) {
	lhs, err := c.expr(alias, rt, p.Expr)
	if err != nil {
		return "", err
	}
	switch p.Op {
	case query.OpIsNull:
		return lhs + " IS NULL", nil
	case query.OpNotNull:
		return lhs + " IS NOT NULL", nil
	case query.OpIn, query.OpNotIn:
		vals, err := operandList(p.Operand)
		if err != nil {
			return "", err
		}
		if len(vals) == 0 {
			// Empty membership never matches; the negation always does.
			if p.Op == query.OpIn {
				return "1 = 0", nil
			}
			return "1 = 1", nil
		}
		phs := make([]string, len(vals))
		for i, v := range vals {
			phs[i] = c.placeholder(v)
		}
		op := " IN ("
		if p.Op == query.OpNotIn {
			op = " NOT IN ("
		}
		return lhs + op + strings.Join(phs, ", ") + ")", nil
	case query.OpBetween, query.OpNotBetween:
		vals, err := operandList(p.Operand)
		if err != nil {
			return "", err
		}
		if len(vals) != 2 {
			return "", fmt.Errorf("dialect/sql: between expects 2 operands, got %d", len(vals))
		}
		op := " BETWEEN "
		if p.Op == query.OpNotBetween {
			op = " NOT BETWEEN "
		}
		return lhs + op + c.placeholder(vals[0]) + " AND " + c.placeholder(vals[1]), nil
	}
	// Null-literal equality compiles to IS NULL semantics.
	if v, ok := p.Operand.(query.Value); ok && v.V == nil {
		switch p.Op {
		case query.OpEQ:
			return lhs + " IS NULL", nil
		case query.OpNEQ:
			return lhs + " IS NOT NULL", nil
		}
	}
	rhs, err := c.expr(alias, rt, p.Operand)
	if err != nil {
		return "", err
	}
	var op string
	switch p.Op {
	case query.OpEQ:
		op = " = "
	case query.OpNEQ:
		op = " <> "
	case query.OpGT:
		op = " > "
	case query.OpGTE:
		op = " >= "
	case query.OpLT:
		op = " < "
	case query.OpLTE:
		op = " <= "
	case query.OpLike:
		op = " LIKE "
	case query.OpNotLike:
		op = " NOT LIKE "
	default:
		return "", fmt.Errorf("dialect/sql: invalid operator %s", p.Op)
	}
	return lhs + op + rhs, nil
}

func (c *compiler) expr(alias string, rt *schema.RecordType, e query.Expr) (string, error) {
	switch e := e.(type) {
	case query.Attr:
		attr, ok := rt.Attribute(e.Name)
		if !ok {
			return "", fmt.Errorf("dialect/sql: %s has no attribute %q", rt.Name(), e.Name)
		}
		return c.column(alias, attr.Column), nil
	case query.Func:
		fn, ok := sqlFuncs[e.Name]
		if !ok {
			return "", fmt.Errorf("dialect/sql: unsupported function %q", e.Name)
		}
		args := make([]string, len(e.Args))
		for i, a := range e.Args {
			s, err := c.expr(alias, rt, a)
			if err != nil {
				return "", err
			}
			args[i] = s
		}
		return fn + "(" + strings.Join(args, ", ") + ")", nil
	case query.Value:
		return c.placeholder(e.V), nil
	default:
		return "", fmt.Errorf("dialect/sql: invalid expression %T", e)
	}
}

var sqlFuncs = map[string]string{
	"lower":    "LOWER",
	"upper":    "UPPER",
	"length":   "LENGTH",
	"coalesce": "COALESCE",
}

func operandList(e query.Expr) ([]any, error) {
	v, ok := e.(query.Value)
	if !ok {
		return nil, fmt.Errorf("dialect/sql: list operand must be a literal, got %T", e)
	}
	switch xs := v.V.(type) {
	case []any:
		return xs, nil
	case nil:
		return nil, nil
	default:
		return []any{xs}, nil
	}
}

func sortedNames(values map[string]any) []string {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
