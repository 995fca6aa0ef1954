package plan_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/loom/graph"
	"github.com/syssam/loom/plan"
	"github.com/syssam/loom/query"
	"github.com/syssam/loom/schema"
	"github.com/syssam/loom/schema/field"
)

// library returns a small publishing schema: authors write books, books are
// reviewed and tagged, and soft-deleting users ghostwrite for authors.
func library(t *testing.T) (*graph.Graph, map[string]*schema.RecordType) {
	t.Helper()
	reg := schema.NewRegistry()
	types := make(map[string]*schema.RecordType)
	for name, attrs := range map[string][]schema.AttributeBuilder{
		"Author": {field.String("name")},
		"Book":   {field.String("title")},
		"Review": {field.Text("body")},
		"Tag":    {field.String("name").Unique()},
	} {
		rt, err := reg.Define(name, schema.Attributes(attrs...))
		require.NoError(t, err)
		types[name] = rt
	}
	user, err := reg.Define("User", schema.Paranoid(), schema.Attributes(field.String("name")))
	require.NoError(t, err)
	types["User"] = user

	g := graph.New(reg)
	for _, b := range []*graph.Builder{
		graph.NewHasMany(types["Author"], types["Book"]),
		graph.NewBelongsTo(types["Book"], types["Author"]),
		graph.NewHasMany(types["Book"], types["Review"]),
		graph.NewBelongsToMany(types["Book"], types["Tag"]),
		graph.NewHasMany(types["Author"], types["User"]).Alias("ghostwriters"),
	} {
		_, err := g.Declare(b)
		require.NoError(t, err)
	}
	g.Seal()
	types["BookTag"] = mustLookup(t, reg, "BookTag")
	return g, types
}

func mustLookup(t *testing.T, reg *schema.Registry, name string) *schema.RecordType {
	t.Helper()
	rt, ok := reg.Lookup(name)
	require.True(t, ok)
	return rt
}

func TestPlanRoot(t *testing.T) {
	g, types := library(t)

	p, err := plan.Plan(types["Author"], query.New(), g)
	require.NoError(t, err)
	assert.Equal(t, "Author", p.Root)
	require.Len(t, p.Steps, 1)

	step := p.Steps[0]
	assert.Equal(t, 0, step.Index)
	assert.Equal(t, "authors", step.Table)
	assert.Equal(t, "author", step.TableAlias)
	assert.Nil(t, step.Stitch)
	assert.Empty(t, step.Joins)

	require.Len(t, step.Columns, 2)
	assert.Equal(t, "author__id", step.Columns[0].Label)
	assert.Equal(t, "author__name", step.Columns[1].Label)
	assert.Equal(t, "author__id", step.ColumnLabel("id"))
	assert.Empty(t, step.ColumnLabel("title"))
}

func TestPlanDescriptor(t *testing.T) {
	g, types := library(t)

	d := query.New().
		Where(query.EQ("title", "Sapiens")).
		OrderByDesc("title").
		Limit(5).
		Offset(10)
	p, err := plan.Plan(types["Book"], d, g)
	require.NoError(t, err)
	step := p.Steps[0]

	require.Len(t, step.Filters, 1)
	assert.Equal(t, "book", step.Filters[0].TableAlias)
	assert.Equal(t, `title == "Sapiens"`, step.Filters[0].Pred.String())

	require.Len(t, step.Order, 1)
	assert.Equal(t, query.Desc, step.Order[0].Dir)

	require.NotNil(t, step.Limit)
	assert.Equal(t, 5, *step.Limit)
	require.NotNil(t, step.Offset)
	assert.Equal(t, 10, *step.Offset)
}

func TestProjectionKeepsPrimaryKey(t *testing.T) {
	g, types := library(t)

	p, err := plan.Plan(types["Book"], query.New().Select("title"), g)
	require.NoError(t, err)
	step := p.Steps[0]
	require.Len(t, step.Columns, 2)
	assert.Equal(t, "id", step.Columns[0].Attr)
	assert.Equal(t, "title", step.Columns[1].Attr)
}

func TestJoinBelongsTo(t *testing.T) {
	g, types := library(t)

	p, err := plan.Plan(types["Book"], query.New().Include("author", nil), g)
	require.NoError(t, err)
	require.Len(t, p.Steps, 1)
	step := p.Steps[0]

	require.Len(t, step.Joins, 1)
	j := step.Joins[0]
	assert.Equal(t, plan.LeftJoin, j.Kind)
	assert.Equal(t, "authors", j.Table)
	assert.Equal(t, "book_author", j.TableAlias)
	assert.Equal(t, "book", j.FromAlias)
	assert.Equal(t, "author_id", j.FromColumn)
	assert.Equal(t, "id", j.ToColumn)

	require.Len(t, step.Attaches, 1)
	att := step.Attaches[0]
	assert.Equal(t, "author", att.Alias)
	assert.Equal(t, []string{"author"}, att.Path)
	assert.Same(t, types["Author"], att.Type)
	assert.Equal(t, "book_author", att.TableAlias)
	assert.Equal(t, "book", att.ParentTableAlias)
	assert.False(t, att.ToMany)

	// The joined table's columns ride along in the same step.
	assert.Contains(t, labelsOf(step.Columns), "book_author__name")
}

func TestJoinSemantics(t *testing.T) {
	g, types := library(t)

	t.Run("default left", func(t *testing.T) {
		p, err := plan.Plan(types["Book"], query.New().Include("author", nil), g)
		require.NoError(t, err)
		assert.Equal(t, plan.LeftJoin, p.Steps[0].Joins[0].Kind)
	})

	t.Run("predicate derives inner", func(t *testing.T) {
		nested := query.New().Where(query.EQ("name", "Yuval"))
		p, err := plan.Plan(types["Book"], query.New().Include("author", nested), g)
		require.NoError(t, err)
		assert.Equal(t, plan.InnerJoin, p.Steps[0].Joins[0].Kind)
	})

	t.Run("forced required", func(t *testing.T) {
		p, err := plan.Plan(types["Book"], query.New().IncludeRequired("author", nil), g)
		require.NoError(t, err)
		assert.Equal(t, plan.InnerJoin, p.Steps[0].Joins[0].Kind)
	})

	t.Run("forced optional overrides predicate", func(t *testing.T) {
		req := false
		in := query.Include{Alias: "author", Nested: query.New().Where(query.EQ("name", "Yuval")), Required: &req}
		p, err := plan.Plan(types["Book"], query.New().IncludeSpec(in), g)
		require.NoError(t, err)
		assert.Equal(t, plan.LeftJoin, p.Steps[0].Joins[0].Kind)
	})
}

func TestJoinHasMany(t *testing.T) {
	g, types := library(t)

	p, err := plan.Plan(types["Author"], query.New().Include("books", nil), g)
	require.NoError(t, err)
	require.Len(t, p.Steps, 1)
	step := p.Steps[0]

	require.Len(t, step.Joins, 1)
	j := step.Joins[0]
	assert.Equal(t, "author_books", j.TableAlias)
	assert.Equal(t, "id", j.FromColumn)
	assert.Equal(t, "author_id", j.ToColumn)

	require.Len(t, step.Attaches, 1)
	assert.True(t, step.Attaches[0].ToMany)
}

func TestJoinBelongsToMany(t *testing.T) {
	g, types := library(t)

	p, err := plan.Plan(types["Book"], query.New().Include("tags", nil), g)
	require.NoError(t, err)
	require.Len(t, p.Steps, 1)
	step := p.Steps[0]

	require.Len(t, step.Joins, 2)
	junction, target := step.Joins[0], step.Joins[1]
	assert.Equal(t, "book_tags", junction.Table)
	assert.Equal(t, "book_tags_book_tag", junction.TableAlias)
	assert.Equal(t, "book", junction.FromAlias)
	assert.Equal(t, "id", junction.FromColumn)
	assert.Equal(t, "book_id", junction.ToColumn)
	assert.Equal(t, "tags", target.Table)
	assert.Equal(t, "book_tags", target.TableAlias)
	assert.Equal(t, "book_tags_book_tag", target.FromAlias)
	assert.Equal(t, "tag_id", target.FromColumn)
	assert.Equal(t, "id", target.ToColumn)

	att := step.Attaches[0]
	assert.Equal(t, "book_tags_book_tag", att.ThroughAlias)
	assert.Same(t, types["BookTag"], att.ThroughType)
	assert.Equal(t, "book_tags_book_tag__book_id", att.ThroughSourceLabel)
	assert.Equal(t, "book_tags_book_tag__tag_id", att.ThroughTargetLabel)
	// The synthesized junction has no extra attributes to lift.
	assert.Empty(t, att.ThroughLift)

	labels := labelsOf(step.Columns)
	assert.Contains(t, labels, "book_tags_book_tag__book_id")
	assert.Contains(t, labels, "book_tags_book_tag__tag_id")
}

func TestSplitOnNestedLimit(t *testing.T) {
	g, types := library(t)

	p, err := plan.Plan(types["Author"], query.New().Include("books", query.New().Limit(2)), g)
	require.NoError(t, err)
	require.Len(t, p.Steps, 2)

	root, split := p.Steps[0], p.Steps[1]
	assert.Empty(t, root.Joins, "paginated to-many includes never join the parent step")
	assert.Equal(t, 1, split.Index)
	assert.Equal(t, "author_books", split.TableAlias)
	require.NotNil(t, split.Limit)
	assert.Equal(t, 2, *split.Limit)

	st := split.Stitch
	require.NotNil(t, st)
	assert.Equal(t, 0, st.ParentStep)
	assert.Same(t, types["Author"], st.ParentType)
	assert.Equal(t, "id", st.ParentAttr)
	assert.Equal(t, "author_books", st.FilterAlias)
	assert.Equal(t, "author_id", st.FilterColumn)
	assert.Equal(t, "author_books__author_id", st.ChildLabel)
	assert.Equal(t, "books", st.Alias)
	assert.True(t, st.ToMany)
	assert.True(t, st.PerParent, "nested limit forces per-parent execution")
	assert.Equal(t, []string{"books"}, st.Path)

	// Split steps order by primary key when no ordering was given.
	require.Len(t, split.Order, 1)
	assert.Equal(t, "id", split.Order[0].Expr.String())
}

func TestSplitOnPaginatedParent(t *testing.T) {
	g, types := library(t)

	p, err := plan.Plan(types["Author"], query.New().Limit(10).Include("books", nil), g)
	require.NoError(t, err)
	require.Len(t, p.Steps, 2)

	st := p.Steps[1].Stitch
	require.NotNil(t, st)
	assert.False(t, st.PerParent, "one keyed query suffices without nested pagination")
	assert.Nil(t, p.Steps[1].Limit)
}

func TestSplitOnSecondToMany(t *testing.T) {
	g, types := library(t)

	d := query.New().Include("reviews", nil).Include("tags", nil)
	p, err := plan.Plan(types["Book"], d, g)
	require.NoError(t, err)
	require.Len(t, p.Steps, 2)

	// The first to-many joins, the second splits off.
	root := p.Steps[0]
	require.Len(t, root.Attaches, 1)
	assert.Equal(t, "reviews", root.Attaches[0].Alias)

	split := p.Steps[1]
	require.NotNil(t, split.Stitch)
	assert.Equal(t, []string{"tags"}, split.Stitch.Path)
}

func TestSplitBelongsToMany(t *testing.T) {
	g, types := library(t)

	p, err := plan.Plan(types["Book"], query.New().Include("tags", query.New().Limit(3)), g)
	require.NoError(t, err)
	require.Len(t, p.Steps, 2)
	split := p.Steps[1]

	require.Len(t, split.Joins, 1)
	j := split.Joins[0]
	assert.Equal(t, plan.InnerJoin, j.Kind)
	assert.Equal(t, "book_tags", j.Table)
	assert.Equal(t, "book_tags_book_tag", j.TableAlias)
	assert.Equal(t, "book_tags", j.FromAlias)

	st := split.Stitch
	require.NotNil(t, st)
	assert.Equal(t, "id", st.ParentAttr)
	assert.Equal(t, "book_tags_book_tag", st.FilterAlias)
	assert.Equal(t, "book_id", st.FilterColumn)
	assert.Equal(t, "book_tags_book_tag__book_id", st.ChildLabel)
	assert.Same(t, types["BookTag"], st.ThroughType)
	assert.Equal(t, st.ChildLabel, st.ThroughSourceLabel)
	assert.Equal(t, "book_tags_book_tag__tag_id", st.ThroughTargetLabel)
}

func TestNestedIncludes(t *testing.T) {
	g, types := library(t)

	d := query.New().Include("books", query.New().Include("author", nil))
	p, err := plan.Plan(types["Author"], d, g)
	require.NoError(t, err)
	require.Len(t, p.Steps, 1)
	step := p.Steps[0]

	require.Len(t, step.Joins, 2)
	assert.Equal(t, "author_books", step.Joins[0].TableAlias)
	assert.Equal(t, "author_books_author", step.Joins[1].TableAlias)

	require.Len(t, step.Attaches, 1)
	books := step.Attaches[0]
	require.Len(t, books.Children, 1)
	assert.Equal(t, "author", books.Children[0].Alias)
	assert.Equal(t, []string{"books", "author"}, books.Children[0].Path)
}

func TestNestedSplitPath(t *testing.T) {
	g, types := library(t)

	d := query.New().Include("books", query.New().Include("reviews", query.New().Limit(1)))
	p, err := plan.Plan(types["Author"], d, g)
	require.NoError(t, err)
	require.Len(t, p.Steps, 2)

	st := p.Steps[1].Stitch
	require.NotNil(t, st)
	assert.Equal(t, []string{"books", "reviews"}, st.Path)
	assert.Same(t, types["Book"], st.ParentType)
	assert.Equal(t, "author_books_reviews", p.Steps[1].TableAlias)
}

func TestParanoidFilter(t *testing.T) {
	g, types := library(t)

	t.Run("root", func(t *testing.T) {
		p, err := plan.Plan(types["User"], query.New(), g)
		require.NoError(t, err)
		require.Len(t, p.Steps[0].Filters, 1)
		assert.Equal(t, "deletedAt is null", p.Steps[0].Filters[0].Pred.String())
	})

	t.Run("unscoped", func(t *testing.T) {
		p, err := plan.Plan(types["User"], query.New().Unscoped(), g)
		require.NoError(t, err)
		assert.Empty(t, p.Steps[0].Filters)
	})

	t.Run("included type", func(t *testing.T) {
		p, err := plan.Plan(types["Author"], query.New().Include("ghostwriters", nil), g)
		require.NoError(t, err)
		require.Len(t, p.Steps[0].Filters, 1)
		f := p.Steps[0].Filters[0]
		assert.Equal(t, "author_ghostwriters", f.TableAlias)
		assert.Equal(t, "deletedAt is null", f.Pred.String())
	})
}

func TestResolveByTypeName(t *testing.T) {
	g, types := library(t)

	p, err := plan.Plan(types["Author"], query.New().Include("Book", nil), g)
	require.NoError(t, err)
	require.Len(t, p.Steps, 1)
	require.Len(t, p.Steps[0].Attaches, 1)
	assert.Equal(t, "Book", p.Steps[0].Attaches[0].Alias)
	assert.Equal(t, "author_books", p.Steps[0].Attaches[0].TableAlias)
}

func TestPlanErrors(t *testing.T) {
	g, types := library(t)

	t.Run("unknown association", func(t *testing.T) {
		_, err := plan.Plan(types["Author"], query.New().Include("nope", nil), g)
		require.Error(t, err)
		assert.True(t, plan.IsUnknownAssociation(err))
		assert.Equal(t, `plan: unknown association "nope" on Author`, err.Error())
	})

	t.Run("duplicate include", func(t *testing.T) {
		d := query.New().Include("books", nil).Include("books", nil)
		_, err := plan.Plan(types["Author"], d, g)
		require.Error(t, err)
		assert.True(t, plan.IsAmbiguousAlias(err))
	})

	t.Run("distinct result aliases allowed", func(t *testing.T) {
		d := query.New().
			Include("books", nil).
			IncludeSpec(query.Include{Alias: "books", As: "recent", Nested: query.New().Limit(1)})
		_, err := plan.Plan(types["Author"], d, g)
		require.NoError(t, err)
	})

	t.Run("unknown attribute in predicate", func(t *testing.T) {
		_, err := plan.Plan(types["Book"], query.New().Where(query.EQ("missing", 1)), g)
		require.Error(t, err)
		assert.True(t, plan.IsUnknownAttribute(err))
		assert.Equal(t, "plan: unknown attribute Book.missing", err.Error())
	})

	t.Run("unknown attribute in order", func(t *testing.T) {
		_, err := plan.Plan(types["Book"], query.New().OrderBy("missing"), g)
		require.Error(t, err)
		assert.True(t, plan.IsUnknownAttribute(err))
	})

	t.Run("unknown attribute in projection", func(t *testing.T) {
		_, err := plan.Plan(types["Book"], query.New().Select("missing"), g)
		require.Error(t, err)
		assert.True(t, plan.IsUnknownAttribute(err))
	})

	t.Run("unknown attribute in nested include", func(t *testing.T) {
		d := query.New().Include("books", query.New().Where(query.EQ("missing", 1)))
		_, err := plan.Plan(types["Author"], d, g)
		require.Error(t, err)
		assert.True(t, plan.IsUnknownAttribute(err))
	})
}

func TestPlanDeterminism(t *testing.T) {
	g, types := library(t)

	build := func() *query.Descriptor {
		return query.New().
			Where(query.EQ("name", "x")).
			Include("books", query.New().
				OrderByDesc("title").
				Limit(3).
				Include("tags", nil)).
			Include("ghostwriters", nil)
	}
	p1, err := plan.Plan(types["Author"], build(), g)
	require.NoError(t, err)
	p2, err := plan.Plan(types["Author"], build(), g)
	require.NoError(t, err)

	assert.Equal(t, p1.String(), p2.String())
	assert.Equal(t, p1, p2)
}

func TestPlanString(t *testing.T) {
	g, types := library(t)

	p, err := plan.Plan(types["Author"], query.New().Include("books", query.New().Limit(1)), g)
	require.NoError(t, err)
	assert.Equal(t, "plan Author\n  step author (Author)\n  step author_books (Book) stitch books", p.String())
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "author__id", plan.Label("author", "id"))
	assert.Equal(t, "left", plan.LeftJoin.String())
	assert.Equal(t, "inner", plan.InnerJoin.String())
}

func labelsOf(cols []plan.Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Label
	}
	return out
}
