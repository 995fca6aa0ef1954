package query_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/loom/query"
)

func TestDescriptorBuilders(t *testing.T) {
	base := query.New()
	d := base.
		Where(query.EQ("state", "active")).
		OrderBy("name").
		OrderByDesc("createdAt").
		Limit(10).
		Offset(20).
		Select("id", "name").
		GroupBy(query.A("state"))

	// Builders derive copies; the base stays empty.
	assert.Nil(t, base.Predicate())
	assert.Empty(t, base.Orders())
	_, ok := base.LimitValue()
	assert.False(t, ok)

	assert.Equal(t, "state == \"active\"", d.Predicate().String())
	orders := d.Orders()
	require.Len(t, orders, 2)
	assert.Equal(t, query.Asc, orders[0].Dir)
	assert.Equal(t, query.Desc, orders[1].Dir)

	limit, ok := d.LimitValue()
	require.True(t, ok)
	assert.Equal(t, 10, limit)
	offset, ok := d.OffsetValue()
	require.True(t, ok)
	assert.Equal(t, 20, offset)

	require.NotNil(t, d.Attrs())
	assert.Equal(t, []string{"id", "name"}, d.Attrs().Names)
	assert.False(t, d.Attrs().Exclude)
	assert.Len(t, d.Groups(), 1)

	t.Run("where conjoins", func(t *testing.T) {
		d2 := d.Where(query.GT("age", 18))
		assert.Equal(t, `state == "active" && age > 18`, d2.Predicate().String())
	})

	t.Run("nil receiver", func(t *testing.T) {
		var nilD *query.Descriptor
		assert.Nil(t, nilD.Predicate())
		assert.Empty(t, nilD.Includes())
		assert.Equal(t, "{}", nilD.String())
	})
}

func TestIncludes(t *testing.T) {
	d := query.New().
		Include("posts", query.New().Limit(3)).
		IncludeRequired("profile", nil).
		IncludeSpec(query.Include{Alias: "posts", As: "recent", Nested: query.New().OrderByDesc("createdAt")})

	ins := d.Includes()
	require.Len(t, ins, 3)
	assert.Equal(t, "posts", ins[0].Key())
	assert.Nil(t, ins[0].Required)
	require.NotNil(t, ins[1].Required)
	assert.True(t, *ins[1].Required)
	assert.Equal(t, "recent", ins[2].Key())
}

func TestProjection(t *testing.T) {
	names := []string{"id", "name", "email"}

	sel := &query.Projection{Names: []string{"id", "email"}}
	assert.Equal(t, []string{"id", "email"}, sel.Apply(names))

	omit := &query.Projection{Exclude: true, Names: []string{"email"}}
	assert.Equal(t, []string{"id", "name"}, omit.Apply(names))

	var none *query.Projection
	assert.Equal(t, names, none.Apply(names))
}

func TestMerge(t *testing.T) {
	t.Run("nil operands", func(t *testing.T) {
		d := query.New().Limit(5)
		got := query.Merge(nil, d)
		limit, ok := got.LimitValue()
		require.True(t, ok)
		assert.Equal(t, 5, limit)

		got = query.Merge(d, nil)
		limit, ok = got.LimitValue()
		require.True(t, ok)
		assert.Equal(t, 5, limit)
	})

	t.Run("predicates conjoin", func(t *testing.T) {
		base := query.New().Where(query.EQ("a", 1))
		override := query.New().Where(query.EQ("b", 2))
		got := query.Merge(base, override)
		assert.Equal(t, "a == 1 && b == 2", got.Predicate().String())
	})

	t.Run("override wins pagination and projection", func(t *testing.T) {
		base := query.New().Limit(10).Offset(0).Select("id")
		override := query.New().Limit(3).Select("id", "name")
		got := query.Merge(base, override)
		limit, _ := got.LimitValue()
		assert.Equal(t, 3, limit)
		offset, ok := got.OffsetValue()
		require.True(t, ok)
		assert.Equal(t, 0, offset)
		assert.Equal(t, []string{"id", "name"}, got.Attrs().Names)
	})

	t.Run("ordering appends", func(t *testing.T) {
		got := query.Merge(query.New().OrderBy("a"), query.New().OrderBy("b"))
		orders := got.Orders()
		require.Len(t, orders, 2)
		assert.Equal(t, "a", orders[0].Expr.String())
		assert.Equal(t, "b", orders[1].Expr.String())
	})

	t.Run("includes merge by alias", func(t *testing.T) {
		base := query.New().Include("posts", query.New().Where(query.EQ("draft", false)))
		override := query.New().
			Include("posts", query.New().Limit(3)).
			Include("tags", nil)
		got := query.Merge(base, override)
		ins := got.Includes()
		require.Len(t, ins, 2)
		assert.Equal(t, "posts", ins[0].Alias)
		assert.Equal(t, "draft == false", ins[0].Nested.Predicate().String())
		limit, ok := ins[0].Nested.LimitValue()
		require.True(t, ok)
		assert.Equal(t, 3, limit)
		assert.Equal(t, "tags", ins[1].Alias)
	})

	t.Run("distinct result aliases stay separate", func(t *testing.T) {
		base := query.New().IncludeSpec(query.Include{Alias: "posts", As: "recent"})
		override := query.New().Include("posts", nil)
		got := query.Merge(base, override)
		assert.Len(t, got.Includes(), 2)
	})

	t.Run("unscoped propagates", func(t *testing.T) {
		got := query.Merge(query.New().Unscoped(), query.New())
		assert.True(t, got.IsUnscoped())
		got = query.Merge(query.New(), query.New().Unscoped())
		assert.True(t, got.IsUnscoped())
	})

	t.Run("not associative for pagination", func(t *testing.T) {
		a := query.New().Limit(1)
		b := query.New().Limit(2)
		ab := query.Merge(a, b)
		ba := query.Merge(b, a)
		abLimit, _ := ab.LimitValue()
		baLimit, _ := ba.LimitValue()
		assert.Equal(t, 2, abLimit)
		assert.Equal(t, 1, baLimit)
	})
}

func TestDescriptorString(t *testing.T) {
	d := query.New().
		Where(query.EQ("state", "active")).
		OrderByDesc("createdAt").
		Limit(10).
		Include("posts", query.New().Limit(3))
	want := `{where: state == "active"; order: createdAt desc; limit: 10; include posts: {limit: 3;};}`
	assert.Equal(t, want, d.String())

	// Structurally equal descriptors render identically.
	d2 := query.New().
		Where(query.EQ("state", "active")).
		OrderByDesc("createdAt").
		Limit(10).
		Include("posts", query.New().Limit(3))
	assert.Equal(t, d.String(), d2.String())

	assert.Equal(t, "{}", query.New().String())
	assert.Equal(t, "{unscoped;}", query.New().Unscoped().String())

	t.Run("required tri-state", func(t *testing.T) {
		off := false
		plain := query.New().Include("posts", nil)
		forced := query.New().IncludeRequired("posts", nil)
		optional := query.New().IncludeSpec(query.Include{Alias: "posts", Required: &off})

		assert.Equal(t, "{include posts: {};}", plain.String())
		assert.Equal(t, "{include posts!: {};}", forced.String())
		assert.Equal(t, "{include posts?: {};}", optional.String())
	})
}
