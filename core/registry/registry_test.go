package registry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/artpar/apiforge/core/apierror"
	"github.com/artpar/apiforge/core/entity"
	"github.com/artpar/apiforge/core/manifest"
	"github.com/artpar/apiforge/core/openapi"
	"github.com/artpar/apiforge/core/schema"
	"github.com/artpar/apiforge/core/storage"
	"github.com/artpar/apiforge/core/synth"
	"github.com/artpar/apiforge/core/validation"
)

const v1 = `
name: Bookshop
version: 1.0.0
entities:
  - name: Author
    properties: [name]
    hasMany: [Book]
    policies:
      "*": public
  - name: Book
    properties: [title]
    policies:
      "*": public
`

const v2 = `
name: Bookshop
version: 1.1.0
entities:
  - name: Author
    properties: [name, email]
    hasMany: [Book]
    policies:
      "*": public
  - name: Book
    properties: [title]
    policies:
      "*": public
  - name: Tag
    properties: [label]
`

type recorder struct {
	results []string
	version int
	ops     int
}

func (r *recorder) RegistryReload(result string) { r.results = append(r.results, result) }

func (r *recorder) RegistryActive(version, operations int) {
	r.version, r.ops = version, operations
}

type failingMigrator struct{}

func (failingMigrator) Migrate(context.Context, []*entity.Compiled) error {
	return errors.New("disk full")
}

func load(t *testing.T, src string) schema.Document {
	t.Helper()
	doc, err := manifest.LoadBytes([]byte(src), manifest.FormatYAML)
	require.NoError(t, err)
	return doc
}

func setup(t *testing.T, opts ...Option) (*Registry, *storage.Mapper) {
	t.Helper()
	db, d, err := storage.Open(context.Background(), "sqlite3", ":memory:")
	require.NoError(t, err)
	m := storage.New(db, d, storage.WithBcryptCost(bcrypt.MinCost))
	t.Cleanup(func() { m.Close() })
	return New(synth.New(m, validation.Default()), m, opts...), m
}

func TestRegister_Publishes(t *testing.T) {
	rec := &recorder{}
	r, m := setup(t, WithRecorder(rec))
	assert.Nil(t, r.Current())

	snap, err := r.Register(context.Background(), load(t, v1))
	require.NoError(t, err)

	assert.Equal(t, 1, snap.Version)
	assert.Len(t, snap.Fingerprint, 64)
	assert.Same(t, snap, r.Current())
	assert.Len(t, snap.Graph.Entities, 2)
	// Author: 5 CRUD + books; Book: 5 CRUD + implied author.
	assert.Equal(t, 12, snap.Operations.Len())
	assert.Equal(t, "Bookshop", snap.Spec.Info.Title)
	assert.Equal(t, "1.0.0", snap.Spec.Info.Version)
	assert.False(t, snap.PublishedAt.IsZero())

	assert.Equal(t, []string{ResultPublished}, rec.results)
	assert.Equal(t, 1, rec.version)
	assert.Equal(t, 12, rec.ops)

	// Storage was migrated before publish.
	author, err := r.Lookup("Author")
	require.NoError(t, err)
	_, err = m.Insert(context.Background(), author, map[string]any{"name": "Le Guin"})
	assert.NoError(t, err)
}

func TestRegister_SameFingerprintKeepsSnapshot(t *testing.T) {
	rec := &recorder{}
	r, _ := setup(t, WithRecorder(rec))

	first, err := r.Register(context.Background(), load(t, v1))
	require.NoError(t, err)
	second, err := r.Register(context.Background(), load(t, v1))
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, second.Version)
	assert.Equal(t, []string{ResultPublished, ResultKept}, rec.results)
}

func TestRegister_NewDocumentPublishesNextVersion(t *testing.T) {
	r, _ := setup(t)
	changed := 0
	r.OnChange(func(s *Snapshot) { changed = s.Version })

	_, err := r.Register(context.Background(), load(t, v1))
	require.NoError(t, err)
	snap, err := r.Register(context.Background(), load(t, v2))
	require.NoError(t, err)

	assert.Equal(t, 2, snap.Version)
	assert.Equal(t, 2, changed)
	assert.Len(t, r.All(), 3)
	assert.Equal(t, "1.1.0", snap.Spec.Info.Version)
}

func TestRegister_FailureKeepsActiveSnapshot(t *testing.T) {
	rec := &recorder{}
	r, _ := setup(t, WithRecorder(rec))
	first, err := r.Register(context.Background(), load(t, v1))
	require.NoError(t, err)

	r.migrator = failingMigrator{}
	_, err = r.Register(context.Background(), load(t, v2))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	assert.Same(t, first, r.Current())
	assert.Equal(t, []string{ResultPublished, ResultRejected}, rec.results)

	// A later valid publish continues the version sequence.
	r.migrator = nil
	snap, err := r.Register(context.Background(), load(t, v2))
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Version)
}

func TestRegister_InfoOverridesDocument(t *testing.T) {
	r, _ := setup(t, WithInfo(openapi.Info{Title: "Catalog API"}), WithPrefix("/v1"))

	snap, err := r.Register(context.Background(), load(t, v1))
	require.NoError(t, err)

	assert.Equal(t, "Catalog API", snap.Spec.Info.Title)
	assert.Equal(t, "1.0.0", snap.Spec.Info.Version)
	_, ok := snap.Spec.Paths["/v1/authors"]
	assert.True(t, ok)
}

func TestLookup(t *testing.T) {
	r, _ := setup(t)

	_, err := r.Lookup("Author")
	assert.True(t, apierror.IsNotFound(err), "lookup before register")
	assert.Nil(t, r.All())

	_, err = r.Register(context.Background(), load(t, v1))
	require.NoError(t, err)

	e, err := r.Lookup("author")
	require.NoError(t, err)
	assert.Equal(t, "Author", e.Name)

	_, err = r.Lookup("Publisher")
	var nf *apierror.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "Publisher", nf.Entity)
}

func TestFingerprint(t *testing.T) {
	a, err := Fingerprint(load(t, v1))
	require.NoError(t, err)
	b, err := Fingerprint(load(t, v1))
	require.NoError(t, err)
	c, err := Fingerprint(load(t, v2))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestCurrent_ConcurrentReaders(t *testing.T) {
	r, _ := setup(t)
	_, err := r.Register(context.Background(), load(t, v1))
	require.NoError(t, err)

	// Operations per entity count for v1 and v2.
	want := map[int]int{2: 12, 3: 17}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				s := r.Current()
				if s.Operations.Len() != want[len(s.Graph.Entities)] {
					t.Error("torn snapshot")
					return
				}
			}
		}()
	}

	_, err = r.Register(context.Background(), load(t, v2))
	close(stop)
	wg.Wait()
	require.NoError(t, err)
	assert.Equal(t, 2, r.Current().Version)
}
