package query

import (
	"strconv"
	"strings"
)

// Direction is an ordering direction.
type Direction uint8

// Ordering directions.
const (
	Asc Direction = iota
	Desc
)

// String returns "asc" or "desc".
func (d Direction) String() string {
	if d == Desc {
		return "desc"
	}
	return "asc"
}

// Order is one (expression, direction) pair of an ORDER BY sequence.
type Order struct {
	Expr Expr
	Dir  Direction
}

// Include names a relation to eager-load, with an optional nested
// descriptor scoping the related records. Alias is either an association
// alias on the including type, or a record-type name when the including
// type has exactly one association to that target.
type Include struct {
	Alias  string
	As     string // optional explicit result alias, required to include the same target twice
	Nested *Descriptor
	// Required forces inner-join semantics. When nil, the planner derives
	// it: true iff the nested descriptor carries a predicate.
	Required *bool
}

// Key returns the alias under which the include's results are attached.
func (in Include) Key() string {
	if in.As != "" {
		return in.As
	}
	return in.Alias
}

// Projection restricts the attributes fetched for a step: either an
// include-list or an exclude-list, never a partial merge of both.
type Projection struct {
	Exclude bool
	Names   []string
}

// Apply filters the given attribute names through the projection.
func (p *Projection) Apply(names []string) []string {
	if p == nil {
		return names
	}
	keep := make(map[string]bool, len(p.Names))
	for _, n := range p.Names {
		keep[n] = true
	}
	var out []string
	for _, n := range names {
		if keep[n] != p.Exclude {
			out = append(out, n)
		}
	}
	return out
}

// A Descriptor is an immutable query value: predicate, ordering, pagination,
// eager-load tree, projection and grouping. The zero value (and nil) is the
// empty query. Builder methods return derived copies.
type Descriptor struct {
	where    P
	order    []Order
	limit    *int
	offset   *int
	includes []Include
	attrs    *Projection
	group    []Expr
	unscoped bool
}

// New returns the empty descriptor.
func New() *Descriptor { return &Descriptor{} }

func (d *Descriptor) clone() *Descriptor {
	if d == nil {
		return &Descriptor{}
	}
	c := *d
	c.order = append([]Order(nil), d.order...)
	c.includes = append([]Include(nil), d.includes...)
	c.group = append([]Expr(nil), d.group...)
	return &c
}

// Where returns a descriptor whose predicate is the conjunction of the
// receiver's predicate and p.
func (d *Descriptor) Where(p P) *Descriptor {
	c := d.clone()
	c.where = And(c.where, p)
	return c
}

// OrderBy appends an ascending order on the given attribute.
func (d *Descriptor) OrderBy(attr string) *Descriptor {
	return d.OrderByExpr(A(attr), Asc)
}

// OrderByDesc appends a descending order on the given attribute.
func (d *Descriptor) OrderByDesc(attr string) *Descriptor {
	return d.OrderByExpr(A(attr), Desc)
}

// OrderByExpr appends an order on an arbitrary column expression.
func (d *Descriptor) OrderByExpr(e Expr, dir Direction) *Descriptor {
	c := d.clone()
	c.order = append(c.order, Order{Expr: e, Dir: dir})
	return c
}

// Limit returns a descriptor with the given limit.
func (d *Descriptor) Limit(n int) *Descriptor {
	c := d.clone()
	c.limit = &n
	return c
}

// Offset returns a descriptor with the given offset.
func (d *Descriptor) Offset(n int) *Descriptor {
	c := d.clone()
	c.offset = &n
	return c
}

// Include appends an eager-load of the given association alias, optionally
// scoped by a nested descriptor.
func (d *Descriptor) Include(alias string, nested *Descriptor) *Descriptor {
	return d.IncludeSpec(Include{Alias: alias, Nested: nested})
}

// IncludeRequired appends an eager-load with forced inner-join semantics.
func (d *Descriptor) IncludeRequired(alias string, nested *Descriptor) *Descriptor {
	req := true
	return d.IncludeSpec(Include{Alias: alias, Nested: nested, Required: &req})
}

// IncludeSpec appends a fully specified include.
func (d *Descriptor) IncludeSpec(in Include) *Descriptor {
	c := d.clone()
	c.includes = append(c.includes, in)
	return c
}

// Select returns a descriptor projecting only the named attributes.
func (d *Descriptor) Select(names ...string) *Descriptor {
	c := d.clone()
	c.attrs = &Projection{Names: names}
	return c
}

// Omit returns a descriptor projecting all but the named attributes.
func (d *Descriptor) Omit(names ...string) *Descriptor {
	c := d.clone()
	c.attrs = &Projection{Exclude: true, Names: names}
	return c
}

// GroupBy appends grouping expressions.
func (d *Descriptor) GroupBy(exprs ...Expr) *Descriptor {
	c := d.clone()
	c.group = append(c.group, exprs...)
	return c
}

// Unscoped tags the descriptor so that no default scope is merged into it
// for the remainder of the call chain. Predicates carried explicitly on the
// descriptor are preserved.
func (d *Descriptor) Unscoped() *Descriptor {
	c := d.clone()
	c.unscoped = true
	return c
}

// Predicate returns the descriptor's predicate tree, possibly nil.
func (d *Descriptor) Predicate() P {
	if d == nil {
		return nil
	}
	return d.where
}

// Orders returns the ordering sequence.
func (d *Descriptor) Orders() []Order {
	if d == nil {
		return nil
	}
	return d.order
}

// LimitValue returns the limit and whether one is set.
func (d *Descriptor) LimitValue() (int, bool) {
	if d == nil || d.limit == nil {
		return 0, false
	}
	return *d.limit, true
}

// OffsetValue returns the offset and whether one is set.
func (d *Descriptor) OffsetValue() (int, bool) {
	if d == nil || d.offset == nil {
		return 0, false
	}
	return *d.offset, true
}

// Includes returns the include specs in declaration order.
func (d *Descriptor) Includes() []Include {
	if d == nil {
		return nil
	}
	return d.includes
}

// Attrs returns the projection, possibly nil.
func (d *Descriptor) Attrs() *Projection {
	if d == nil {
		return nil
	}
	return d.attrs
}

// Groups returns the grouping expressions.
func (d *Descriptor) Groups() []Expr {
	if d == nil {
		return nil
	}
	return d.group
}

// IsUnscoped reports whether the descriptor suppresses default scopes.
func (d *Descriptor) IsUnscoped() bool { return d != nil && d.unscoped }

// Merge combines base and override into a new descriptor:
//
//   - predicates are ANDed
//   - override's ordering is appended after base's
//   - override's limit/offset win when present
//   - includes are merged by alias (nested descriptors merged recursively,
//     required ORed), otherwise concatenated
//   - override's projection wins wholesale
//   - grouping is appended
//
// Merge never fails; unknown attribute references surface at plan time.
func Merge(base, override *Descriptor) *Descriptor {
	if base == nil {
		return override.clone()
	}
	if override == nil {
		return base.clone()
	}
	c := base.clone()
	c.where = And(base.where, override.where)
	c.order = append(c.order, override.order...)
	if override.limit != nil {
		c.limit = override.limit
	}
	if override.offset != nil {
		c.offset = override.offset
	}
	c.includes = mergeIncludes(base.includes, override.includes)
	if override.attrs != nil {
		c.attrs = override.attrs
	}
	c.group = append(c.group, override.group...)
	c.unscoped = base.unscoped || override.unscoped
	return c
}

func mergeIncludes(base, override []Include) []Include {
	merged := append([]Include(nil), base...)
	pos := make(map[string]int, len(merged))
	for i, in := range merged {
		pos[in.Key()] = i
	}
	for _, in := range override {
		i, ok := pos[in.Key()]
		if !ok {
			pos[in.Key()] = len(merged)
			merged = append(merged, in)
			continue
		}
		cur := merged[i]
		cur.Nested = Merge(cur.Nested, in.Nested)
		cur.Required = orRequired(cur.Required, in.Required)
		merged[i] = cur
	}
	return merged
}

func orRequired(a, b *bool) *bool {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	v := *a || *b
	return &v
}

// String returns a canonical textual form of the descriptor. Structurally
// equal descriptors render identically, which makes the form usable as a
// cache-key component.
func (d *Descriptor) String() string {
	if d == nil {
		return "{}"
	}
	var sb strings.Builder
	sb.WriteString("{")
	if d.where != nil {
		sb.WriteString("where: " + d.where.String() + "; ")
	}
	if len(d.order) > 0 {
		parts := make([]string, len(d.order))
		for i, o := range d.order {
			parts[i] = o.Expr.String() + " " + o.Dir.String()
		}
		sb.WriteString("order: " + strings.Join(parts, ", ") + "; ")
	}
	if d.limit != nil {
		sb.WriteString("limit: " + strconv.Itoa(*d.limit) + "; ")
	}
	if d.offset != nil {
		sb.WriteString("offset: " + strconv.Itoa(*d.offset) + "; ")
	}
	if d.attrs != nil {
		op := "select"
		if d.attrs.Exclude {
			op = "omit"
		}
		sb.WriteString(op + ": " + strings.Join(d.attrs.Names, ",") + "; ")
	}
	if len(d.group) > 0 {
		parts := make([]string, len(d.group))
		for i, g := range d.group {
			parts[i] = g.String()
		}
		sb.WriteString("group: " + strings.Join(parts, ",") + "; ")
	}
	// Required renders as a tri-state: the planner derives a nil Required
	// from the nested predicate, so an explicit false must not collide
	// with it.
	for _, in := range d.includes {
		sb.WriteString("include " + in.Key())
		if in.Required != nil {
			if *in.Required {
				sb.WriteString("!")
			} else {
				sb.WriteString("?")
			}
		}
		sb.WriteString(": " + in.Nested.String() + "; ")
	}
	if d.unscoped {
		sb.WriteString("unscoped; ")
	}
	return strings.TrimSuffix(sb.String(), " ") + "}"
}
