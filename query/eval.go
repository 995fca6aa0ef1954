package query

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Matches evaluates the predicate against a single row, reading attribute
// values through get. It follows SQL comparison semantics: a comparison
// against a missing or null value is false (not an error), while IsNull and
// NotNull test presence. It is used by in-memory executors and by tests;
// SQL backends compile predicates instead of evaluating them.
func Matches(p P, get func(name string) (any, bool)) (bool, error) {
	switch x := p.(type) {
	case nil:
		return true, nil
	case AndP:
		for _, c := range x.Xs {
			ok, err := Matches(c, get)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case OrP:
		for _, c := range x.Xs {
			ok, err := Matches(c, get)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case NotP:
		ok, err := Matches(x.X, get)
		return !ok && err == nil, err
	case Comparison:
		return matchComparison(x, get)
	default:
		return false, fmt.Errorf("query: unknown predicate node %T", p)
	}
}

func matchComparison(c Comparison, get func(string) (any, bool)) (bool, error) {
	lv, lok, err := evalExpr(c.Expr, get)
	if err != nil {
		return false, err
	}
	switch c.Op {
	case OpIsNull:
		return !lok || lv == nil, nil
	case OpNotNull:
		return lok && lv != nil, nil
	}
	if !lok || lv == nil {
		return false, nil
	}
	rv, rok, err := evalExpr(c.Operand, get)
	if err != nil {
		return false, err
	}
	switch c.Op {
	case OpEQ:
		return rok && equalValues(lv, rv), nil
	case OpNEQ:
		return rok && !equalValues(lv, rv), nil
	case OpGT, OpGTE, OpLT, OpLTE:
		if !rok || rv == nil {
			return false, nil
		}
		n, err := compareValues(lv, rv)
		if err != nil {
			return false, err
		}
		switch c.Op {
		case OpGT:
			return n > 0, nil
		case OpGTE:
			return n >= 0, nil
		case OpLT:
			return n < 0, nil
		default:
			return n <= 0, nil
		}
	case OpIn, OpNotIn:
		list, err := operandList(rv)
		if err != nil {
			return false, err
		}
		found := false
		for _, e := range list {
			if equalValues(lv, e) {
				found = true
				break
			}
		}
		return found == (c.Op == OpIn), nil
	case OpLike, OpNotLike:
		pattern, err := cast.ToStringE(rv)
		if err != nil {
			return false, err
		}
		s, err := cast.ToStringE(lv)
		if err != nil {
			return false, err
		}
		ok := likeMatch(s, pattern)
		return ok == (c.Op == OpLike), nil
	case OpBetween, OpNotBetween:
		list, err := operandList(rv)
		if err != nil {
			return false, err
		}
		if len(list) != 2 {
			return false, fmt.Errorf("query: between expects two operands, got %d", len(list))
		}
		lo, err := compareValues(lv, list[0])
		if err != nil {
			return false, err
		}
		hi, err := compareValues(lv, list[1])
		if err != nil {
			return false, err
		}
		in := lo >= 0 && hi <= 0
		return in == (c.Op == OpBetween), nil
	default:
		return false, fmt.Errorf("query: unknown operator %s", c.Op)
	}
}

func evalExpr(e Expr, get func(string) (any, bool)) (any, bool, error) {
	switch x := e.(type) {
	case nil:
		return nil, false, nil
	case Attr:
		v, ok := get(x.Name)
		return v, ok, nil
	case Value:
		return x.V, true, nil
	case Func:
		return evalFunc(x, get)
	default:
		return nil, false, fmt.Errorf("query: unknown expression %T", e)
	}
}

func evalFunc(f Func, get func(string) (any, bool)) (any, bool, error) {
	args := make([]any, len(f.Args))
	for i, a := range f.Args {
		v, _, err := evalExpr(a, get)
		if err != nil {
			return nil, false, err
		}
		args[i] = v
	}
	switch strings.ToLower(f.Name) {
	case "lower":
		return strings.ToLower(cast.ToString(args[0])), true, nil
	case "upper":
		return strings.ToUpper(cast.ToString(args[0])), true, nil
	case "length":
		return len(cast.ToString(args[0])), true, nil
	case "coalesce":
		for _, a := range args {
			if a != nil {
				return a, true, nil
			}
		}
		return nil, true, nil
	default:
		return nil, false, fmt.Errorf("query: unknown function %q", f.Name)
	}
}

func operandList(v any) ([]any, error) {
	if list, ok := v.([]any); ok {
		return list, nil
	}
	return nil, fmt.Errorf("query: list operand expected, got %T", v)
}

func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	if n, err := compareValues(a, b); err == nil {
		return n == 0
	}
	return false
}

// compareValues compares two scalars with loose coercion: numerics compare
// numerically, times as times, everything else as strings.
func compareValues(a, b any) (int, error) {
	if at, aok := a.(time.Time); aok {
		bt, err := cast.ToTimeE(b)
		if err != nil {
			return 0, err
		}
		switch {
		case at.Before(bt):
			return -1, nil
		case at.After(bt):
			return 1, nil
		default:
			return 0, nil
		}
	}
	af, aerr := cast.ToFloat64E(a)
	bf, berr := cast.ToFloat64E(b)
	if aerr == nil && berr == nil {
		switch {
		case af < bf:
			return -1, nil
		case af > bf:
			return 1, nil
		default:
			return 0, nil
		}
	}
	as, err := cast.ToStringE(a)
	if err != nil {
		return 0, err
	}
	bs, err := cast.ToStringE(b)
	if err != nil {
		return 0, err
	}
	return strings.Compare(as, bs), nil
}

func likeMatch(s, pattern string) bool {
	var sb strings.Builder
	sb.WriteString("(?is)^")
	for _, r := range pattern {
		switch r {
		case '%':
			sb.WriteString(".*")
		case '_':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	re, err := regexp.Compile(sb.String())
	if err != nil {
		return false
	}
	return re.MatchString(s)
}
