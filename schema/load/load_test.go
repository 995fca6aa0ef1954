package load_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/loom/graph"
	"github.com/syssam/loom/schema/field"
	"github.com/syssam/loom/schema/load"
)

const blogDoc = `
types:
  - name: Author
    attributes:
      - {name: name, type: string}
      - {name: email, type: string, unique: true}
  - name: Book
    table: publications
    attributes:
      - {name: title, type: string}
      - {name: state, type: enum, values: [draft, published], default: draft}
      - {name: isbn, type: string, optional: true, nullable: true, immutable: true}
  - name: Tag
    attributes:
      - {name: name, type: string, unique: true}
  - name: User
    paranoid: true
    attributes:
      - {name: name, type: string}
associations:
  - {kind: hasMany, source: Author, target: Book}
  - {kind: belongsTo, source: Book, target: Author}
  - {kind: belongsToMany, source: Book, target: Tag}
  - {kind: hasMany, source: Author, target: User, alias: ghostwriters, foreignKey: editorId}
`

func TestBytes(t *testing.T) {
	g, err := load.Bytes([]byte(blogDoc))
	require.NoError(t, err)
	assert.True(t, g.Sealed())

	reg := g.Registry()
	author, ok := reg.Lookup("Author")
	require.True(t, ok)
	assert.Equal(t, "authors", author.Table())

	book, ok := reg.Lookup("Book")
	require.True(t, ok)
	assert.Equal(t, "publications", book.Table())

	t.Run("attribute flags survive", func(t *testing.T) {
		email, ok := author.Attribute("email")
		require.True(t, ok)
		assert.True(t, email.Unique)

		state, ok := book.Attribute("state")
		require.True(t, ok)
		assert.Equal(t, field.TypeEnum, state.Type)
		assert.Equal(t, []string{"draft", "published"}, state.Values)
		d, ok := state.DefaultValue()
		require.True(t, ok)
		assert.Equal(t, "draft", d)

		isbn, ok := book.Attribute("isbn")
		require.True(t, ok)
		assert.True(t, isbn.Immutable)
		assert.True(t, isbn.Optional)

		user, ok := reg.Lookup("User")
		require.True(t, ok)
		assert.True(t, user.Paranoid())
	})

	t.Run("associations resolve", func(t *testing.T) {
		a, ok := g.Resolve(author, "books")
		require.True(t, ok)
		assert.Equal(t, graph.HasMany, a.Kind())

		a, ok = g.Resolve(book, "tags")
		require.True(t, ok)
		assert.Equal(t, graph.BelongsToMany, a.Kind())
		assert.Equal(t, "BookTag", a.Through().Name())

		a, ok = g.Resolve(author, "ghostwriters")
		require.True(t, ok)
		assert.Equal(t, "editorId", a.ForeignKey())
	})
}

func TestBytesErrors(t *testing.T) {
	for _, tt := range []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "malformed yaml",
			doc:  "types: [",
			want: "parsing schema",
		},
		{
			name: "invalid attribute type",
			doc: `
types:
  - name: A
    attributes:
      - {name: x, type: varchar}
`,
			want: `A.x has invalid type "varchar"`,
		},
		{
			name: "unnamed attribute",
			doc: `
types:
  - name: A
    attributes:
      - {type: string}
`,
			want: "attribute without a name",
		},
		{
			name: "enum without values",
			doc: `
types:
  - name: A
    attributes:
      - {name: state, type: enum}
`,
			want: "enum without values",
		},
		{
			name: "unknown source type",
			doc: `
types:
  - name: A
    attributes: [{name: x, type: string}]
associations:
  - {kind: hasMany, source: Nope, target: A}
`,
			want: `unknown source type "Nope"`,
		},
		{
			name: "unknown target type",
			doc: `
types:
  - name: A
    attributes: [{name: x, type: string}]
associations:
  - {kind: hasMany, source: A, target: Nope}
`,
			want: `unknown target type "Nope"`,
		},
		{
			name: "invalid association kind",
			doc: `
types:
  - name: A
    attributes: [{name: x, type: string}]
associations:
  - {kind: owns, source: A, target: A}
`,
			want: `invalid association kind "owns"`,
		},
		{
			name: "bad throughKeys arity",
			doc: `
types:
  - name: A
    attributes: [{name: x, type: string}]
associations:
  - {kind: belongsToMany, source: A, target: A, throughKeys: [aId]}
`,
			want: "throughKeys expects",
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load.Bytes([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte(blogDoc), 0o644))

	g, err := load.File(path)
	require.NoError(t, err)
	_, ok := g.Registry().Lookup("Author")
	assert.True(t, ok)

	_, err = load.File(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.yaml")
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte(blogDoc), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, w, err := load.Watch(ctx, path)
	require.NoError(t, err)
	defer w.Close()
	require.NotNil(t, g)

	// Rewrite the document with one more type; the watcher delivers a
	// rebuilt graph.
	require.NoError(t, os.WriteFile(path, []byte(blogDoc+`
  - {kind: hasOne, source: Author, target: Tag, alias: pen}
`), 0o644))

	select {
	case g2 := <-w.Graphs():
		require.NotNil(t, g2)
		author, ok := g2.Registry().Lookup("Author")
		require.True(t, ok)
		_, ok = g2.Resolve(author, "pen")
		assert.True(t, ok)
	case err := <-w.Errors():
		t.Fatalf("unexpected rebuild error: %v", err)
	case <-time.After(5 * time.Second):
		t.Skip("no filesystem event delivered")
	}
}

func TestWatchBadInitialDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte("types: ["), 0o644))

	_, _, err := load.Watch(context.Background(), path)
	assert.Error(t, err)
}
