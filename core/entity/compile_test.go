package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/apiforge/core/apierror"
	"github.com/artpar/apiforge/core/manifest"
	"github.com/artpar/apiforge/core/schema"
)

func compileYAML(t *testing.T, src string) (*Graph, error) {
	t.Helper()
	doc, err := manifest.LoadBytes([]byte(src), manifest.FormatYAML)
	require.NoError(t, err)
	return Compile(doc)
}

func mustCompile(t *testing.T, src string) *Graph {
	t.Helper()
	g, err := compileYAML(t, src)
	require.NoError(t, err)
	return g
}

func TestCompile_AuthorBook(t *testing.T) {
	g := mustCompile(t, `
entities:
  - name: Author
    properties: [name]
  - name: Book
    properties: [title]
    belongsTo: [Author]
`)
	author, ok := g.Lookup("author")
	require.True(t, ok)
	book, ok := g.BySlug("books")
	require.True(t, ok)

	// Book.author is the declared belongs-to.
	rel, ok := book.Relation("author")
	require.True(t, ok)
	assert.Equal(t, schema.BelongsTo, rel.Kind)
	assert.Same(t, author, rel.Target)
	assert.Equal(t, "authorId", rel.ForeignKey)
	assert.False(t, rel.Inverse)

	// Author.books is implied.
	inv, ok := author.Relation("books")
	require.True(t, ok)
	assert.Equal(t, schema.HasMany, inv.Kind)
	assert.Same(t, book, inv.Target)
	assert.Equal(t, "authorId", inv.ForeignKey)
	assert.True(t, inv.Inverse)
	assert.False(t, inv.Cascade)
	assert.Same(t, rel, inv.Counterpart)

	var names []string
	for _, col := range book.Columns {
		names = append(names, col.Name)
	}
	assert.Equal(t, []string{"id", "title", "authorId", "createdAt", "updatedAt"}, names)

	key, _ := book.Column("authorId")
	assert.True(t, key.IsKey())
	assert.Same(t, author, key.References)

	assert.Equal(t, []*Relation{inv}, author.Dependents())
}

func TestCompile_ExplicitHasManyMerges(t *testing.T) {
	g := mustCompile(t, `
entities:
  - name: Author
    hasMany: [{ target: Book, cascade: true }]
  - name: Book
    belongsTo: [Author]
`)
	author, _ := g.Lookup("Author")
	require.Len(t, author.Relations, 1, "explicit has-many and the inverse are one relation")
	assert.True(t, author.Relations[0].Cascade)
	assert.False(t, author.Relations[0].Inverse)

	book, _ := g.Lookup("Book")
	rel, _ := book.Relation("author")
	assert.True(t, rel.Cascade, "belongs-to shares the reconciled flag")
}

func TestCompile_CascadeConflict(t *testing.T) {
	_, err := compileYAML(t, `
entities:
  - name: Author
    hasMany: [{ target: Book, cascade: true }]
  - name: Book
    belongsTo: [{ target: Author, cascade: false }]
`)
	require.Error(t, err)
	assert.True(t, apierror.IsValidation(err))
}

func TestCompile_HasManyImpliesKey(t *testing.T) {
	g := mustCompile(t, `
entities:
  - name: Post
    hasMany: [Comment]
  - name: Comment
    properties: [body]
`)
	comment, _ := g.Lookup("Comment")
	col, ok := comment.Column("postId")
	require.True(t, ok, "key column is implied on the target")
	assert.True(t, col.Nullable)

	back, ok := comment.Relation("post")
	require.True(t, ok)
	assert.True(t, back.Inverse)
	assert.Equal(t, schema.BelongsTo, back.Kind)
}

func TestCompile_SelfReference(t *testing.T) {
	g := mustCompile(t, `
entities:
  - name: Employee
    properties: [name]
    relationships:
      - { kind: belongs-to, target: Employee, name: manager }
      - { kind: many-to-many, target: Employee, name: mentors }
`)
	e, _ := g.Lookup("Employee")

	manager, ok := e.Relation("manager")
	require.True(t, ok)
	assert.Same(t, e, manager.Target)
	assert.Equal(t, "managerId", manager.ForeignKey)

	reports, ok := e.Relation("employees")
	require.True(t, ok)
	assert.Equal(t, "managerId", reports.ForeignKey)

	mentors, ok := e.Relation("mentors")
	require.True(t, ok)
	assert.Equal(t, "employees_mentors", mentors.Through.Table)
	assert.Equal(t, "employeeId", mentors.Through.OwnerColumn)
	assert.Equal(t, "mentorId", mentors.Through.TargetColumn)
}

func TestCompile_CycleTerminates(t *testing.T) {
	g := mustCompile(t, `
entities:
  - name: A
    belongsTo: [B]
  - name: B
    belongsTo: [C]
  - name: C
    belongsTo: [A]
`)
	a, _ := g.Lookup("A")
	b, _ := g.Lookup("B")
	rel, _ := a.Relation("b")
	assert.Same(t, b, rel.Target)
	assert.Len(t, g.Entities, 3)
}

func TestCompile_ManyToMany(t *testing.T) {
	g := mustCompile(t, `
entities:
  - name: Book
    belongsToMany: [Tag]
  - name: Tag
    properties: [label]
`)
	book, _ := g.Lookup("Book")
	tag, _ := g.Lookup("Tag")

	tags, ok := book.Relation("tags")
	require.True(t, ok)
	assert.Equal(t, "books_tags", tags.Through.Table)
	assert.Equal(t, "bookId", tags.Through.OwnerColumn)
	assert.Equal(t, "tagId", tags.Through.TargetColumn)

	books, ok := tag.Relation("books")
	require.True(t, ok)
	assert.True(t, books.Inverse)
	assert.Equal(t, "tagId", books.Through.OwnerColumn)
	assert.Equal(t, "bookId", books.Through.TargetColumn)
	assert.Equal(t, "tagIds", LinkField(tags))
}

func TestCompile_InverseNameCollision(t *testing.T) {
	g := mustCompile(t, `
entities:
  - name: Person
  - name: Book
    relationships:
      - { kind: belongs-to, target: Person, name: author }
      - { kind: belongs-to, target: Person, name: editor }
`)
	person, _ := g.Lookup("Person")
	_, ok := person.Relation("books")
	assert.True(t, ok)
	second, ok := person.Relation("booksEditor")
	require.True(t, ok)
	assert.Equal(t, "editorId", second.ForeignKey)
}

func TestCompile_KeyCollidesWithProperty(t *testing.T) {
	_, err := compileYAML(t, `
entities:
  - name: Author
  - name: Book
    properties: [{ name: authorId, type: uuid }]
    belongsTo: [Author]
`)
	require.Error(t, err)
	assert.True(t, apierror.IsValidation(err))
}

func TestCompile_Deterministic(t *testing.T) {
	src := `
entities:
  - name: Author
    hasMany: [Book]
  - name: Book
    belongsTo: [Author]
    belongsToMany: [Tag]
  - name: Tag
`
	a := mustCompile(t, src)
	b := mustCompile(t, src)
	require.Len(t, b.Entities, len(a.Entities))
	for i := range a.Entities {
		var ra, rb []string
		for _, r := range a.Entities[i].Relations {
			ra = append(ra, r.Name)
		}
		for _, r := range b.Entities[i].Relations {
			rb = append(rb, r.Name)
		}
		assert.Equal(t, ra, rb)
	}
}
