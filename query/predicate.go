// Package query provides the composable query descriptor of loom: a
// predicate tree over a closed operator set, ordering, projection, eager
// include specs and pagination, together with the merge algebra used for
// scope composition. Descriptors are immutable values; every builder method
// returns a derived copy, so they are freely shared across goroutines.
package query

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// An Op represents a comparison operator. The set is closed: unknown
// operators cannot be introduced by callers, which keeps planner handling
// exhaustive and turns operator typos into compile-time errors.
type Op uint8

// List of comparison operators.
const (
	OpEQ Op = iota + 1
	OpNEQ
	OpGT
	OpGTE
	OpLT
	OpLTE
	OpIn
	OpNotIn
	OpLike
	OpNotLike
	OpBetween
	OpNotBetween
	OpIsNull
	OpNotNull
	endOps
)

var opText = [...]string{
	OpEQ:         "==",
	OpNEQ:        "!=",
	OpGT:         ">",
	OpGTE:        ">=",
	OpLT:         "<",
	OpLTE:        "<=",
	OpIn:         "in",
	OpNotIn:      "not in",
	OpLike:       "like",
	OpNotLike:    "not like",
	OpBetween:    "between",
	OpNotBetween: "not between",
	OpIsNull:     "is null",
	OpNotNull:    "is not null",
}

// String returns the textual representation of the operator.
func (o Op) String() string {
	if o > 0 && o < endOps {
		return opText[o]
	}
	return fmt.Sprintf("Op(%d)", o)
}

// Valid reports if the operator is a member of the closed set.
func (o Op) Valid() bool { return o > 0 && o < endOps }

// Unary reports if the operator takes no operand.
func (o Op) Unary() bool { return o == OpIsNull || o == OpNotNull }

// An Expr is a column expression: a raw attribute reference, a function
// call, or a literal value.
type Expr interface {
	expr()
	// String returns the textual representation used for debugging and for
	// canonical plan-cache keys.
	String() string
}

// Attr references an attribute by name.
type Attr struct{ Name string }

func (Attr) expr() {}

// String returns the attribute name.
func (a Attr) String() string { return a.Name }

// Func is a function-call expression, e.g. lower(name).
type Func struct {
	Name string
	Args []Expr
}

func (Func) expr() {}

// String returns the rendered function call.
func (f Func) String() string {
	args := make([]string, len(f.Args))
	for i, a := range f.Args {
		args[i] = a.String()
	}
	return f.Name + "(" + strings.Join(args, ", ") + ")"
}

// Value is a literal operand.
type Value struct{ V any }

func (Value) expr() {}

// String returns the rendered literal.
func (v Value) String() string {
	switch x := v.V.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(x)
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = Value{V: e}.String()
		}
		return "[" + strings.Join(parts, ",") + "]"
	default:
		return fmt.Sprintf("%v", x)
	}
}

// A returns an attribute expression.
func A(name string) Expr { return Attr{Name: name} }

// F returns a function-call expression.
func F(name string, args ...Expr) Expr { return Func{Name: name, Args: args} }

// V returns a literal expression.
func V(v any) Expr { return Value{V: v} }

// P is a predicate: a tree of And/Or/Not nodes over comparisons.
type P interface {
	pred()
	// String returns the textual representation of the predicate.
	String() string
}

// AndP groups predicates with the AND operator.
type AndP struct{ Xs []P }

// OrP groups predicates with the OR operator.
type OrP struct{ Xs []P }

// NotP negates a predicate.
type NotP struct{ X P }

// Comparison is a predicate leaf comparing a column expression with an
// operand expression.
type Comparison struct {
	Expr    Expr
	Op      Op
	Operand Expr // nil for unary operators
}

func (AndP) pred()       {}
func (OrP) pred()        {}
func (NotP) pred()       {}
func (Comparison) pred() {}

// String returns the rendered conjunction.
func (p AndP) String() string { return joinPreds(p.Xs, " && ") }

// String returns the rendered disjunction.
func (p OrP) String() string { return joinPreds(p.Xs, " || ") }

// String returns the rendered negation.
func (p NotP) String() string { return "!(" + p.X.String() + ")" }

// String returns the rendered comparison.
func (p Comparison) String() string {
	if p.Op.Unary() || p.Operand == nil {
		return p.Expr.String() + " " + p.Op.String()
	}
	return p.Expr.String() + " " + p.Op.String() + " " + p.Operand.String()
}

func joinPreds(xs []P, sep string) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		switch x.(type) {
		case AndP, OrP:
			parts[i] = "(" + x.String() + ")"
		default:
			parts[i] = x.String()
		}
	}
	return strings.Join(parts, sep)
}

// And groups the given predicates with AND, skipping nils. It returns nil
// for an empty list and the predicate itself for a single-element list.
func And(ps ...P) P {
	xs := compact(ps)
	switch len(xs) {
	case 0:
		return nil
	case 1:
		return xs[0]
	default:
		return AndP{Xs: xs}
	}
}

// Or groups the given predicates with OR, skipping nils.
func Or(ps ...P) P {
	xs := compact(ps)
	switch len(xs) {
	case 0:
		return nil
	case 1:
		return xs[0]
	default:
		return OrP{Xs: xs}
	}
}

// Not negates the given predicate.
func Not(p P) P {
	if p == nil {
		return nil
	}
	return NotP{X: p}
}

func compact(ps []P) []P {
	var xs []P
	for _, p := range ps {
		if p != nil {
			xs = append(xs, p)
		}
	}
	return xs
}

// Compare builds a comparison leaf from arbitrary expressions. Most callers
// use the attribute-based helpers below instead.
func Compare(e Expr, op Op, operand Expr) P {
	return Comparison{Expr: e, Op: op, Operand: operand}
}

// EQ returns an attribute == value predicate.
func EQ(attr string, v any) P { return Compare(A(attr), OpEQ, V(v)) }

// NEQ returns an attribute != value predicate.
func NEQ(attr string, v any) P { return Compare(A(attr), OpNEQ, V(v)) }

// GT returns an attribute > value predicate.
func GT(attr string, v any) P { return Compare(A(attr), OpGT, V(v)) }

// GTE returns an attribute >= value predicate.
func GTE(attr string, v any) P { return Compare(A(attr), OpGTE, V(v)) }

// LT returns an attribute < value predicate.
func LT(attr string, v any) P { return Compare(A(attr), OpLT, V(v)) }

// LTE returns an attribute <= value predicate.
func LTE(attr string, v any) P { return Compare(A(attr), OpLTE, V(v)) }

// In returns an attribute-membership predicate.
func In(attr string, vs ...any) P { return Compare(A(attr), OpIn, V(vs)) }

// NotIn returns a negated attribute-membership predicate.
func NotIn(attr string, vs ...any) P { return Compare(A(attr), OpNotIn, V(vs)) }

// Like returns a pattern-match predicate. The pattern uses SQL LIKE syntax.
func Like(attr, pattern string) P { return Compare(A(attr), OpLike, V(pattern)) }

// NotLike returns a negated pattern-match predicate.
func NotLike(attr, pattern string) P { return Compare(A(attr), OpNotLike, V(pattern)) }

// Between returns a range predicate (inclusive on both ends).
func Between(attr string, lo, hi any) P {
	return Compare(A(attr), OpBetween, V([]any{lo, hi}))
}

// NotBetween returns a negated range predicate.
func NotBetween(attr string, lo, hi any) P {
	return Compare(A(attr), OpNotBetween, V([]any{lo, hi}))
}

// IsNull returns an attribute-is-null predicate.
func IsNull(attr string) P { return Compare(A(attr), OpIsNull, nil) }

// NotNull returns an attribute-is-not-null predicate.
func NotNull(attr string) P { return Compare(A(attr), OpNotNull, nil) }

// Attrs returns the set of attribute names referenced by the predicate, in
// sorted order. The planner uses it to detect unknown attribute references
// before any I/O happens.
func Attrs(p P) []string {
	seen := make(map[string]bool)
	collectAttrs(p, seen)
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ExprAttrs returns the attribute names referenced by a single expression,
// in sorted order.
func ExprAttrs(e Expr) []string {
	seen := make(map[string]bool)
	collectExprAttrs(e, seen)
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func collectAttrs(p P, seen map[string]bool) {
	switch x := p.(type) {
	case nil:
	case AndP:
		for _, c := range x.Xs {
			collectAttrs(c, seen)
		}
	case OrP:
		for _, c := range x.Xs {
			collectAttrs(c, seen)
		}
	case NotP:
		collectAttrs(x.X, seen)
	case Comparison:
		collectExprAttrs(x.Expr, seen)
		collectExprAttrs(x.Operand, seen)
	}
}

func collectExprAttrs(e Expr, seen map[string]bool) {
	switch x := e.(type) {
	case nil:
	case Attr:
		seen[x.Name] = true
	case Func:
		for _, a := range x.Args {
			collectExprAttrs(a, seen)
		}
	}
}
