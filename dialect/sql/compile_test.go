package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/loom/dialect"
	"github.com/syssam/loom/exec"
	"github.com/syssam/loom/graph"
	"github.com/syssam/loom/plan"
	"github.com/syssam/loom/query"
	"github.com/syssam/loom/schema"
	"github.com/syssam/loom/schema/field"
)

func compileFixture(t *testing.T) (*graph.Graph, *schema.RecordType, *schema.RecordType) {
	t.Helper()
	reg := schema.NewRegistry()
	author, err := reg.Define("Author", schema.Attributes(field.String("name")))
	require.NoError(t, err)
	book, err := reg.Define("Book", schema.Attributes(field.String("title")))
	require.NoError(t, err)
	g := graph.New(reg)
	_, err = g.Declare(graph.NewHasMany(author, book))
	require.NoError(t, err)
	_, err = g.Declare(graph.NewBelongsTo(book, author))
	require.NoError(t, err)
	g.Seal()
	return g, author, book
}

func TestCompileStep(t *testing.T) {
	g, author, _ := compileFixture(t)

	t.Run("root select", func(t *testing.T) {
		p, err := plan.Plan(author, nil, g)
		require.NoError(t, err)
		q, args, err := compileStep(dialect.Postgres, p.Steps[0], nil)
		require.NoError(t, err)
		assert.Equal(t,
			`SELECT "author"."id" AS "author__id", "author"."name" AS "author__name" FROM "authors" AS "author"`,
			q)
		assert.Empty(t, args)
	})

	t.Run("filter order and pagination", func(t *testing.T) {
		d := query.New().Where(query.EQ("name", "Ann")).OrderByDesc("name").Limit(2).Offset(1)
		p, err := plan.Plan(author, d, g)
		require.NoError(t, err)
		q, args, err := compileStep(dialect.Postgres, p.Steps[0], nil)
		require.NoError(t, err)
		assert.Equal(t,
			`SELECT "author"."id" AS "author__id", "author"."name" AS "author__name"`+
				` FROM "authors" AS "author"`+
				` WHERE "author"."name" = $1`+
				` ORDER BY "author"."name" DESC LIMIT 2 OFFSET 1`,
			q)
		assert.Equal(t, []any{"Ann"}, args)
	})

	t.Run("mysql placeholders and quoting", func(t *testing.T) {
		d := query.New().Where(query.EQ("name", "Ann"))
		p, err := plan.Plan(author, d, g)
		require.NoError(t, err)
		q, args, err := compileStep(dialect.MySQL, p.Steps[0], nil)
		require.NoError(t, err)
		assert.Equal(t,
			"SELECT `author`.`id` AS `author__id`, `author`.`name` AS `author__name`"+
				" FROM `authors` AS `author`"+
				" WHERE `author`.`name` = ?",
			q)
		assert.Equal(t, []any{"Ann"}, args)
	})

	t.Run("joined include", func(t *testing.T) {
		p, err := plan.Plan(author, query.New().Include("books", nil), g)
		require.NoError(t, err)
		q, _, err := compileStep(dialect.Postgres, p.Steps[0], nil)
		require.NoError(t, err)
		assert.Equal(t,
			`SELECT "author"."id" AS "author__id", "author"."name" AS "author__name",`+
				` "author_books"."id" AS "author_books__id", "author_books"."title" AS "author_books__title",`+
				` "author_books"."author_id" AS "author_books__author_id"`+
				` FROM "authors" AS "author"`+
				` LEFT JOIN "books" AS "author_books" ON "author"."id" = "author_books"."author_id"`,
			q)
	})

	t.Run("required include joins inner", func(t *testing.T) {
		p, err := plan.Plan(author, query.New().IncludeRequired("books", nil), g)
		require.NoError(t, err)
		q, _, err := compileStep(dialect.Postgres, p.Steps[0], nil)
		require.NoError(t, err)
		assert.Contains(t, q, ` JOIN "books" AS "author_books" ON `)
		assert.NotContains(t, q, "LEFT JOIN")
	})

	t.Run("stitched step keys", func(t *testing.T) {
		d := query.New().Limit(2).Include("books", nil)
		p, err := plan.Plan(author, d, g)
		require.NoError(t, err)
		require.Len(t, p.Steps, 2)
		q, args, err := compileStep(dialect.Postgres, p.Steps[1], []any{int64(1), int64(2)})
		require.NoError(t, err)
		assert.Equal(t,
			`SELECT "author_books"."id" AS "author_books__id", "author_books"."title" AS "author_books__title",`+
				` "author_books"."author_id" AS "author_books__author_id"`+
				` FROM "books" AS "author_books"`+
				` WHERE "author_books"."author_id" IN ($1, $2)`+
				` ORDER BY "author_books"."id"`,
			q)
		assert.Equal(t, []any{int64(1), int64(2)}, args)
	})

	t.Run("conjunction groups operands", func(t *testing.T) {
		d := query.New().Where(query.And(query.EQ("name", "Ann"), query.GT("id", 1)))
		p, err := plan.Plan(author, d, g)
		require.NoError(t, err)
		q, args, err := compileStep(dialect.Postgres, p.Steps[0], nil)
		require.NoError(t, err)
		assert.Contains(t, q, `WHERE ("author"."name" = $1) AND ("author"."id" > $2)`)
		assert.Equal(t, []any{"Ann", 1}, args)
	})
}

func TestCompileMutation(t *testing.T) {
	_, author, book := compileFixture(t)

	t.Run("insert postgres returning", func(t *testing.T) {
		q, args, returning, err := compileMutation(dialect.Postgres, &exec.Mutation{
			Kind: exec.Insert, Type: author,
			Values:    map[string]any{"name": "Ann"},
			Returning: "id",
		})
		require.NoError(t, err)
		assert.Equal(t, `INSERT INTO "authors" ("name") VALUES ($1) RETURNING "id"`, q)
		assert.Equal(t, []any{"Ann"}, args)
		assert.True(t, returning)
	})

	t.Run("insert mysql", func(t *testing.T) {
		q, args, returning, err := compileMutation(dialect.MySQL, &exec.Mutation{
			Kind: exec.Insert, Type: author,
			Values:    map[string]any{"name": "Ann"},
			Returning: "id",
		})
		require.NoError(t, err)
		assert.Equal(t, "INSERT INTO `authors` (`name`) VALUES (?)", q)
		assert.Equal(t, []any{"Ann"}, args)
		assert.False(t, returning, "mysql reads the key from LastInsertId")
	})

	t.Run("insert columns are deterministic", func(t *testing.T) {
		q, args, _, err := compileMutation(dialect.Postgres, &exec.Mutation{
			Kind: exec.Insert, Type: book,
			Values: map[string]any{"title": "Alpha", "authorId": int64(1)},
		})
		require.NoError(t, err)
		assert.Equal(t, `INSERT INTO "books" ("author_id", "title") VALUES ($1, $2)`, q)
		assert.Equal(t, []any{int64(1), "Alpha"}, args)
	})

	t.Run("update", func(t *testing.T) {
		q, args, _, err := compileMutation(dialect.Postgres, &exec.Mutation{
			Kind: exec.Update, Type: author,
			Values: map[string]any{"name": "Bo"},
			Where:  query.EQ("id", int64(7)),
		})
		require.NoError(t, err)
		assert.Equal(t, `UPDATE "authors" SET "name" = $1 WHERE "id" = $2`, q)
		assert.Equal(t, []any{"Bo", int64(7)}, args)
	})

	t.Run("delete", func(t *testing.T) {
		q, args, _, err := compileMutation(dialect.Postgres, &exec.Mutation{
			Kind: exec.Delete, Type: author,
			Where: query.EQ("id", int64(7)),
		})
		require.NoError(t, err)
		assert.Equal(t, `DELETE FROM "authors" WHERE "id" = $1`, q)
		assert.Equal(t, []any{int64(7)}, args)
	})

	t.Run("empty membership", func(t *testing.T) {
		q, _, _, err := compileMutation(dialect.Postgres, &exec.Mutation{
			Kind: exec.Delete, Type: author,
			Where: query.In("id"),
		})
		require.NoError(t, err)
		assert.Equal(t, `DELETE FROM "authors" WHERE 1 = 0`, q)

		q, _, _, err = compileMutation(dialect.Postgres, &exec.Mutation{
			Kind: exec.Delete, Type: author,
			Where: query.NotIn("id"),
		})
		require.NoError(t, err)
		assert.Equal(t, `DELETE FROM "authors" WHERE 1 = 1`, q)
	})

	t.Run("null equality", func(t *testing.T) {
		q, args, _, err := compileMutation(dialect.Postgres, &exec.Mutation{
			Kind: exec.Delete, Type: author,
			Where: query.EQ("name", nil),
		})
		require.NoError(t, err)
		assert.Equal(t, `DELETE FROM "authors" WHERE "name" IS NULL`, q)
		assert.Empty(t, args)
	})

	t.Run("between", func(t *testing.T) {
		q, args, _, err := compileMutation(dialect.Postgres, &exec.Mutation{
			Kind: exec.Delete, Type: author,
			Where: query.Between("id", 1, 5),
		})
		require.NoError(t, err)
		assert.Equal(t, `DELETE FROM "authors" WHERE "id" BETWEEN $1 AND $2`, q)
		assert.Equal(t, []any{1, 5}, args)
	})

	t.Run("unknown attribute", func(t *testing.T) {
		_, _, _, err := compileMutation(dialect.Postgres, &exec.Mutation{
			Kind: exec.Insert, Type: author,
			Values: map[string]any{"shoeSize": 43},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `no attribute "shoeSize"`)
	})
}
