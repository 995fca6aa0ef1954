package query_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/loom/query"
)

func rowGetter(row map[string]any) func(string) (any, bool) {
	return func(name string) (any, bool) {
		v, ok := row[name]
		return v, ok
	}
}

func TestMatches(t *testing.T) {
	row := map[string]any{
		"name":      "Ariel",
		"age":       30,
		"score":     7.5,
		"state":     "active",
		"deletedAt": nil,
	}
	get := rowGetter(row)

	tests := []struct {
		name string
		p    query.P
		want bool
	}{
		{"nil predicate", nil, true},
		{"eq", query.EQ("name", "Ariel"), true},
		{"eq mismatch", query.EQ("name", "other"), false},
		{"eq missing attr", query.EQ("email", "x"), false},
		{"neq", query.NEQ("age", 31), true},
		{"numeric coercion", query.EQ("age", int64(30)), true},
		{"float against int", query.GT("score", 7), true},
		{"gte boundary", query.GTE("age", 30), true},
		{"lt", query.LT("age", 18), false},
		{"in", query.In("state", "active", "pending"), true},
		{"not in", query.NotIn("state", "banned"), true},
		{"like", query.Like("name", "Ar%"), true},
		{"like case-insensitive", query.Like("name", "ariel"), true},
		{"like underscore", query.Like("name", "Arie_"), true},
		{"not like", query.NotLike("name", "B%"), true},
		{"between", query.Between("age", 18, 65), true},
		{"not between", query.NotBetween("age", 40, 65), true},
		{"is null on nil", query.IsNull("deletedAt"), true},
		{"is null on missing", query.IsNull("email"), true},
		{"is null on value", query.IsNull("name"), false},
		{"not null", query.NotNull("name"), true},
		{"not null on nil", query.NotNull("deletedAt"), false},
		{"and", query.And(query.EQ("state", "active"), query.GT("age", 18)), true},
		{"and short-circuit", query.And(query.EQ("state", "banned"), query.GT("age", 18)), false},
		{"or", query.Or(query.EQ("state", "banned"), query.GT("age", 18)), true},
		{"not", query.Not(query.EQ("state", "banned")), true},
		{"func lower", query.Compare(query.F("lower", query.A("name")), query.OpEQ, query.V("ariel")), true},
		{"func upper", query.Compare(query.F("upper", query.A("state")), query.OpEQ, query.V("ACTIVE")), true},
		{"func length", query.Compare(query.F("length", query.A("name")), query.OpEQ, query.V(5)), true},
		{"func coalesce", query.Compare(query.F("coalesce", query.A("deletedAt"), query.V("x")), query.OpEQ, query.V("x")), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := query.Matches(tt.p, get)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatchesNullComparisons(t *testing.T) {
	get := rowGetter(map[string]any{"deletedAt": nil})

	// Comparisons against null are false, never errors.
	for _, p := range []query.P{
		query.EQ("deletedAt", "2024-01-01"),
		query.GT("deletedAt", 1),
		query.In("deletedAt", 1, 2),
		query.Like("deletedAt", "%"),
	} {
		got, err := query.Matches(p, get)
		require.NoError(t, err)
		assert.False(t, got, p.String())
	}
}

func TestMatchesTime(t *testing.T) {
	now := time.Now()
	get := rowGetter(map[string]any{"createdAt": now})

	got, err := query.Matches(query.GT("createdAt", now.Add(-time.Hour)), get)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = query.Matches(query.LT("createdAt", now.Add(-time.Hour)), get)
	require.NoError(t, err)
	assert.False(t, got)

	got, err = query.Matches(query.EQ("createdAt", now), get)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestMatchesErrors(t *testing.T) {
	get := rowGetter(map[string]any{"name": "x"})

	_, err := query.Matches(query.Compare(query.A("name"), query.OpIn, query.V("not-a-list")), get)
	assert.Error(t, err)

	_, err = query.Matches(query.Compare(query.F("nope", query.A("name")), query.OpEQ, query.V(1)), get)
	assert.Error(t, err)

	_, err = query.Matches(query.Compare(query.A("name"), query.Op(99), query.V(1)), get)
	assert.Error(t, err)
}
