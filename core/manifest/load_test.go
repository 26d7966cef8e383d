package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/apiforge/core/apierror"
	"github.com/artpar/apiforge/core/schema"
)

const bookshopYAML = `
name: Bookshop
version: 1.0.0
entities:
  - name: Author
    properties:
      - { name: name, type: string, constraints: { minLength: 1, maxLength: 120 } }
      - { name: born, type: date, nullable: true }
    relationships:
      - { kind: has-many, target: Book }
    policies:
      read: public
      create: authenticated
      update: [editor, admin]
      delete: { roles: [admin] }

  - name: Book
    properties:
      - title
      - { name: price, type: money, nullable: true, constraints: { min: 0 } }
      - { name: status, type: enum, values: [draft, published], default: draft }
    belongsTo: [author]
    policies:
      "*": public
`

func mustDecode(t *testing.T, src string) map[string]any {
	t.Helper()
	raw, err := Decode([]byte(src), FormatYAML)
	require.NoError(t, err)
	return raw
}

// violations returns the field paths of a load error.
func violations(t *testing.T, err error) []string {
	t.Helper()
	var verr *apierror.ValidationError
	require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
	var paths []string
	for _, f := range verr.Fields {
		paths = append(paths, f.Field)
	}
	return paths
}

func TestLoad_Bookshop(t *testing.T) {
	doc, err := Load(mustDecode(t, bookshopYAML))
	require.NoError(t, err)

	assert.Equal(t, "Bookshop", doc.Name)
	assert.Equal(t, "1.0.0", doc.Version)
	require.Len(t, doc.Entities, 2)

	author := doc.Entities[0]
	assert.Equal(t, "Author", author.Name)
	require.Len(t, author.Properties, 2)
	assert.Equal(t, schema.KindDate, author.Properties[1].Kind)
	assert.True(t, author.Properties[1].Nullable)
	require.NotNil(t, author.Properties[0].Constraints.MaxLength)
	assert.Equal(t, 120, *author.Properties[0].Constraints.MaxLength)

	assert.Equal(t, []schema.PolicyRule{
		{Operation: schema.OpCreate, Access: schema.AccessAuthenticated},
		{Operation: schema.OpRead, Access: schema.AccessPublic},
		{Operation: schema.OpUpdate, Access: schema.AccessRoles, Roles: []string{"editor", "admin"}},
		{Operation: schema.OpDelete, Access: schema.AccessRoles, Roles: []string{"admin"}},
	}, author.Policies)

	book := doc.Entities[1]
	assert.Equal(t, schema.KindString, book.Properties[0].Kind, "bare name is a string property")
	require.Len(t, book.Relationships, 1)
	assert.Equal(t, schema.BelongsTo, book.Relationships[0].Kind)
	assert.Equal(t, "Author", book.Relationships[0].Target, "target is canonicalized")
}

func TestLoad_Idempotent(t *testing.T) {
	a, err := Load(mustDecode(t, bookshopYAML))
	require.NoError(t, err)
	b, err := Load(mustDecode(t, bookshopYAML))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestLoad_MapFormIsSorted(t *testing.T) {
	doc, err := Load(mustDecode(t, `
entities:
  Zebra:
    properties: { stripes: integer, name: string }
  Apple: {}
`))
	require.NoError(t, err)
	require.Len(t, doc.Entities, 2)
	assert.Equal(t, "Apple", doc.Entities[0].Name)
	assert.Equal(t, "Zebra", doc.Entities[1].Name)
	assert.Equal(t, "name", doc.Entities[1].Properties[0].Name)
	assert.Equal(t, schema.KindInteger, doc.Entities[1].Properties[1].Kind)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "no entities",
			src:  `name: empty`,
			want: "entities",
		},
		{
			name: "unknown kind",
			src: `
entities:
  - name: A
    properties: [{ name: x, type: blob }]`,
			want: "entities.A.properties[0].type",
		},
		{
			name: "unknown key",
			src: `
entities:
  - name: A
    propertees: []`,
			want: "entities.A.propertees",
		},
		{
			name: "duplicate entity case-insensitive",
			src: `
entities:
  - name: Author
  - name: author`,
			want: "entities.author.name",
		},
		{
			name: "duplicate property",
			src: `
entities:
  - name: A
    properties: [x, x]`,
			want: "entities.A.properties[1].name",
		},
		{
			name: "reserved slug",
			src: `
entities:
  - name: Doc`,
			want: "entities.Doc.slug",
		},
		{
			name: "missing target",
			src: `
entities:
  - name: Book
    belongsTo: [Publisher]`,
			want: "entities.Book.relationships[0].target",
		},
		{
			name: "unknown display",
			src: `
entities:
  - name: A
    display: title`,
			want: "entities.A.display",
		},
		{
			name: "bad relationship kind",
			src: `
entities:
  - name: A
    relationships: [{ kind: owns, target: A }]`,
			want: "entities.A.relationships[0].kind",
		},
		{
			name: "through on belongs-to",
			src: `
entities:
  - name: A
    relationships: [{ kind: belongs-to, target: A, through: x }]`,
			want: "entities.A.relationships[0].through",
		},
		{
			name: "relation collides with property",
			src: `
entities:
  - name: Author
  - name: Book
    properties: [author]
    belongsTo: [Author]`,
			want: "entities.Book.relationships[0].name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(mustDecode(t, tt.src))
			require.Error(t, err)
			assert.Contains(t, violations(t, err), tt.want)
		})
	}
}

func TestLoad_PolicyAmbiguity(t *testing.T) {
	tests := []struct {
		name     string
		policies string
	}{
		{"empty roles", `{ update: [] }`},
		{"keyword in role list", `{ update: [public, admin] }`},
		{"bare role string", `{ update: admin }`},
		{"unknown operation", `{ publish: public }`},
		{"access with roles", `{ update: { access: public, roles: [admin] } }`},
		{"roles without list", `{ update: { access: roles } }`},
		{"duplicate rule", `[ { operation: read, access: public }, { operation: read, access: deny } ]`},
		{"incomplete map", `{ read: public }`},
		{"incomplete list", `[ { operation: create, access: authenticated } ]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := "entities:\n  - name: A\n    policies: " + tt.policies
			_, err := Load(mustDecode(t, src))
			require.Error(t, err)
			for _, p := range violations(t, err) {
				assert.True(t, strings.HasPrefix(p, "entities.A.policies"), "unexpected path %q", p)
			}
		})
	}
}

func TestLoad_PolicyCompleteness(t *testing.T) {
	_, err := Load(mustDecode(t, `
entities:
  - name: A
    policies: { read: public, delete: [admin] }`))
	require.Error(t, err)
	assert.Equal(t, []string{"entities.A.policies.create", "entities.A.policies.update"}, violations(t, err))

	// The wildcard settles every operation without an exact rule.
	_, err = Load(mustDecode(t, `
entities:
  - name: A
    policies: { read: public, "*": deny }`))
	require.NoError(t, err)

	// No policies at all: every operation is denied.
	doc, err := Load(mustDecode(t, `
entities:
  - name: A`))
	require.NoError(t, err)
	assert.Empty(t, doc.Entities[0].Policies)
}

func TestLoad_PolicyForms(t *testing.T) {
	doc, err := Load(mustDecode(t, `
entities:
  - name: A
    policies:
      - { operation: read, access: public }
      - { operation: update, access: restricted, allow: [editor, editor] }
      - { operation: "*", access: forbidden }
`))
	require.NoError(t, err)
	assert.Equal(t, []schema.PolicyRule{
		{Operation: schema.OpRead, Access: schema.AccessPublic},
		{Operation: schema.OpUpdate, Access: schema.AccessRoles, Roles: []string{"editor"}},
		{Operation: schema.OpWildcard, Access: schema.AccessDeny},
	}, doc.Entities[0].Policies)
}

func TestLoad_PhaseOrder(t *testing.T) {
	// The shape error hides the dangling reference: later phases only run
	// once earlier ones pass.
	_, err := Load(mustDecode(t, `
entities:
  - name: A
    properties: [{ name: x, type: blob }]
    belongsTo: [Missing]`))
	paths := violations(t, err)
	assert.Equal(t, []string{"entities.A.properties[0].type"}, paths)
}

func TestLoadFile_JSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schema.json")
	src := `{"entities":[{"name":"Tag","properties":[{"name":"label","type":"string","unique":true}],"policies":{"*":"public"}}]}`
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))

	doc, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, doc.Entities, 1)
	assert.True(t, doc.Entities[0].Properties[0].Unique)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
	assert.False(t, apierror.IsValidation(err))
}
