package validation

import (
	"encoding/json"
	"net/url"
	"strings"
	"testing"

	"github.com/artpar/apiforge/core/apierror"
	"github.com/artpar/apiforge/core/entity"
	"github.com/artpar/apiforge/core/manifest"
	"github.com/artpar/apiforge/core/schema"
)

const testSchema = `
entities:
  - name: Author
    properties:
      - { name: name, type: string, constraints: { minLength: 2, maxLength: 40 } }
      - { name: email, type: email, unique: true, nullable: true }
      - { name: secret, type: password, nullable: true }
  - name: Book
    properties:
      - title
      - { name: pages, type: integer, nullable: true, constraints: { min: 1 } }
      - { name: price, type: money, default: 0 }
      - { name: status, type: enum, values: [draft, published], default: draft }
      - { name: published, type: date, nullable: true }
    belongsTo: [Author]
    belongsToMany: [Tag]
  - name: Tag
    properties: [label]
`

func testGraph(t *testing.T) *entity.Graph {
	t.Helper()
	doc, err := manifest.LoadBytes([]byte(testSchema), manifest.FormatYAML)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	g, err := entity.Compile(doc)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return g
}

func lookup(t *testing.T, g *entity.Graph, name string) *entity.Compiled {
	t.Helper()
	e, ok := g.Lookup(name)
	if !ok {
		t.Fatalf("entity %s not found", name)
	}
	return e
}

func fieldsOf(t *testing.T, err error) map[string]string {
	t.Helper()
	verr, ok := err.(*apierror.ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T: %v", err, err)
	}
	out := map[string]string{}
	for _, f := range verr.Fields {
		out[f.Field] = f.Constraint
	}
	return out
}

func TestSchemas(t *testing.T) {
	book := lookup(t, testGraph(t), "Book")

	create := CreateSchema(book)
	var names []string
	for _, f := range create.Fields {
		names = append(names, f.Name)
	}
	want := []string{"title", "pages", "price", "status", "published", "authorId", "tagIds"}
	if len(names) != len(want) {
		t.Fatalf("create fields = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("create field %d = %q, want %q", i, names[i], want[i])
		}
	}

	title, _ := create.Field("title")
	if !title.Required {
		t.Error("title should be required on create")
	}
	price, _ := create.Field("price")
	if price.Required {
		t.Error("fields with defaults should not be required")
	}

	for _, f := range UpdateSchema(book).Fields {
		if f.Required {
			t.Errorf("update field %q should be optional", f.Name)
		}
	}

	out := OutputSchema(lookup(t, testGraph(t), "Author"))
	if _, ok := out.Field("secret"); ok {
		t.Error("password should not be in the output schema")
	}
	id, ok := out.Field("id")
	if !ok || !id.ReadOnly {
		t.Error("id should be a read-only output field")
	}
}

func TestBody_Create(t *testing.T) {
	book := lookup(t, testGraph(t), "Book")
	v := Default()

	out, err := v.Body(CreateSchema(book), map[string]any{
		"title":     "1984",
		"pages":     float64(328),
		"price":     9.999,
		"published": "1949-06-08",
		"tagIds":   []any{"6ba7b810-9dad-11d1-80b4-00c04fd430c8", "6ba7b810-9dad-11d1-80b4-00c04fd430c8"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["pages"] != int64(328) {
		t.Errorf("pages = %#v, want int64(328)", out["pages"])
	}
	if out["price"] != 10.0 {
		t.Errorf("price = %v, want 10 after rounding", out["price"])
	}
	if out["status"] != "draft" {
		t.Errorf("status = %v, want default draft", out["status"])
	}
	if ids := out["tagIds"].([]string); len(ids) != 1 {
		t.Errorf("duplicate link ids should collapse, got %v", ids)
	}
}

func TestBody_Violations(t *testing.T) {
	author := lookup(t, testGraph(t), "Author")
	book := lookup(t, testGraph(t), "Book")
	v := Default()

	tests := []struct {
		name   string
		schema *Schema
		body   map[string]any
		want   map[string]string
	}{
		{
			name:   "missing required",
			schema: CreateSchema(book),
			body:   map[string]any{},
			want:   map[string]string{"title": "required"},
		},
		{
			name:   "unknown and read-only",
			schema: CreateSchema(author),
			body:   map[string]any{"name": "Orwell", "id": "x", "nickname": "G"},
			want:   map[string]string{"id": "readOnly", "nickname": "unknown"},
		},
		{
			name:   "type errors",
			schema: CreateSchema(book),
			body:   map[string]any{"title": 5, "pages": 1.5, "status": "gone", "published": "June"},
			want:   map[string]string{"title": "type", "pages": "type", "status": "type", "published": "type"},
		},
		{
			name:   "constraints",
			schema: CreateSchema(author),
			body:   map[string]any{"name": "O", "email": "not-an-email"},
			want:   map[string]string{"name": "minLength", "email": "type"},
		},
		{
			name:   "null on non-nullable",
			schema: UpdateSchema(book),
			body:   map[string]any{"title": nil},
			want:   map[string]string{"title": "nullable"},
		},
		{
			name:   "bad link ids",
			schema: UpdateSchema(book),
			body:   map[string]any{"tagIds": []any{"nope"}},
			want:   map[string]string{"tagIds": "type"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Body(tt.schema, tt.body)
			if err == nil {
				t.Fatal("expected validation error")
			}
			got := fieldsOf(t, err)
			if len(got) != len(tt.want) {
				t.Errorf("violations = %v, want %v", got, tt.want)
			}
			for field, constraint := range tt.want {
				if got[field] != constraint {
					t.Errorf("violation on %q = %q, want %q", field, got[field], constraint)
				}
			}
		})
	}
}

func TestBody_ModeFirst(t *testing.T) {
	book := lookup(t, testGraph(t), "Book")
	v := Default()
	v.Mode = ModeFirst

	_, err := v.Body(CreateSchema(book), map[string]any{"pages": "x", "zzz": 1})
	got := fieldsOf(t, err)
	if len(got) != 1 || got["zzz"] != "unknown" {
		t.Errorf("first mode should report only the unknown field, got %v", got)
	}
}

func TestBody_UpdateNullable(t *testing.T) {
	book := lookup(t, testGraph(t), "Book")
	out, err := Default().Body(UpdateSchema(book), map[string]any{"pages": nil})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v, ok := out["pages"]; !ok || v != nil {
		t.Errorf("explicit null should be kept, got %v", out)
	}
	if _, ok := out["status"]; ok {
		t.Error("partial schemas should not apply defaults")
	}
}

func TestList(t *testing.T) {
	g := testGraph(t)
	book := lookup(t, g, "Book")
	v := Default()

	q := url.Values{}
	q.Set("page", "2")
	q.Set("perPage", "5")
	q.Set("orderBy", "title")
	q.Set("order", "desc")
	q.Set("pages_gte", "100")
	q.Set("status_in", "draft,published")
	q.Set("title_like", "%84%")
	q.Set("relations", "author,tags")

	lq, err := v.List(book, q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lq.Page != 2 || lq.PerPage != 5 || lq.Offset() != 5 {
		t.Errorf("paging = %d/%d offset %d", lq.Page, lq.PerPage, lq.Offset())
	}
	if lq.Sort == nil || lq.Sort.Field != "title" || !lq.Sort.Desc {
		t.Errorf("sort = %+v", lq.Sort)
	}
	if len(lq.Filters) != 3 {
		t.Fatalf("filters = %+v", lq.Filters)
	}
	// Parameters are processed in name order.
	if f := lq.Filters[0]; f.Field != "pages" || f.Op != OpGte || f.Value != int64(100) {
		t.Errorf("filter 0 = %+v", f)
	}
	if f := lq.Filters[1]; f.Field != "status" || f.Op != OpIn || len(f.Values) != 2 {
		t.Errorf("filter 1 = %+v", f)
	}
	if len(lq.Relations) != 2 {
		t.Errorf("relations = %v", lq.Relations)
	}
}

func TestList_Defaults(t *testing.T) {
	book := lookup(t, testGraph(t), "Book")
	lq, err := Default().List(book, url.Values{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lq.Page != 1 || lq.PerPage != 20 || lq.Sort != nil {
		t.Errorf("unexpected defaults %+v", lq)
	}
}

func TestList_Rejects(t *testing.T) {
	g := testGraph(t)
	book := lookup(t, g, "Book")
	author := lookup(t, g, "Author")

	tests := []struct {
		name   string
		entity *entity.Compiled
		key    string
		value  string
	}{
		{"page zero", book, "page", "0"},
		{"perPage too large", book, "perPage", "1000"},
		{"unknown sort", book, "orderBy", "nope"},
		{"bad order", book, "order", "sideways"},
		{"unknown param", book, "color", "red"},
		{"bad operator", book, "title_gt", "a"},
		{"bad value", book, "pages_eq", "many"},
		{"password filter", author, "secret_eq", "x"},
		{"unknown relation", book, "relations", "publisher"},
		{"too deep", author, "relations", "books.tags.books"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := url.Values{}
			q.Set(tt.key, tt.value)
			_, err := Default().List(tt.entity, q)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if _, ok := fieldsOf(t, err)["query."+tt.key]; !ok {
				t.Errorf("expected violation on query.%s, got %v", tt.key, err)
			}
		})
	}
}

func TestSingle(t *testing.T) {
	author := lookup(t, testGraph(t), "Author")
	rels, err := Default().Single(author, url.Values{"relations": {"books.tags"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rels) != 1 || rels[0] != "books.tags" {
		t.Errorf("relations = %v", rels)
	}
	if _, err := Default().Single(author, url.Values{"page": {"1"}}); err == nil {
		t.Error("single requests should reject list parameters")
	}
}

func TestListParameters(t *testing.T) {
	book := lookup(t, testGraph(t), "Book")
	v := Default()
	params := v.ListParameters(book)

	names := map[string]bool{}
	for _, p := range params {
		names[p.Name] = true
	}
	for _, want := range []string{"page", "perPage", "orderBy", "order", "relations", "title_like", "pages_gte", "status_in", "authorId_eq"} {
		if !names[want] {
			t.Errorf("missing documented parameter %q", want)
		}
	}
	if names["title_gt"] {
		t.Error("text fields should not document range operators")
	}

	// Every documented filter parameter is accepted.
	cols := map[string]entity.Column{}
	for _, col := range queryable(book) {
		cols[col.Name] = col
	}
	for _, p := range params {
		i := strings.LastIndex(p.Name, "_")
		if i < 0 {
			continue
		}
		col := cols[p.Name[:i]]
		sample := sampleValue(Parameter{Kind: col.Kind, Values: valuesOf(col)})
		if _, msg := parseFilter(cols, p.Name, sample); msg != "" {
			t.Errorf("documented parameter %q rejected: %s", p.Name, msg)
		}
	}
}

func sampleValue(p Parameter) string {
	if len(p.Values) > 0 {
		return p.Values[0]
	}
	switch p.Kind {
	case "integer", "number", "money":
		return "1"
	case "boolean":
		return "true"
	case "date":
		return "2024-01-01"
	case "timestamp":
		return "2024-01-01T00:00:00Z"
	case "uuid":
		return "6ba7b810-9dad-11d1-80b4-00c04fd430c8"
	}
	return "x"
}

func TestCoerce_Integer(t *testing.T) {
	tests := []struct {
		name  string
		in    any
		want  int64
		valid bool
	}{
		{"json number", json.Number("42"), 42, true},
		{"exact above float precision", json.Number("9007199254740993"), 9007199254740993, true},
		{"max int64", json.Number("9223372036854775807"), 9223372036854775807, true},
		{"integral float notation", json.Number("3.0"), 3, true},
		{"float64", float64(-7), -7, true},
		{"past int64", json.Number("9223372036854775808"), 0, false},
		{"huge exponent", json.Number("1e300"), 0, false},
		{"inexact float64", float64(1 << 60), 0, false},
		{"fraction", json.Number("1.5"), 0, false},
		{"string", "12", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, msg := Coerce(schema.KindInteger, nil, tt.in)
			if !tt.valid {
				if msg == "" {
					t.Fatalf("Coerce(%v) = %v, want a violation", tt.in, got)
				}
				return
			}
			if msg != "" {
				t.Fatalf("Coerce(%v) violation: %s", tt.in, msg)
			}
			if got != tt.want {
				t.Errorf("Coerce(%v) = %v, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestCoerceString_Integer(t *testing.T) {
	if got, msg := CoerceString(schema.KindInteger, nil, "9007199254740993"); msg != "" || got != int64(9007199254740993) {
		t.Errorf("CoerceString = %v, %q", got, msg)
	}
	if _, msg := CoerceString(schema.KindInteger, nil, "1e300"); msg == "" {
		t.Error("1e300 accepted as an integer")
	}
	if _, msg := CoerceString(schema.KindInteger, nil, "abc"); msg != "must be a number" {
		t.Errorf("msg = %q", msg)
	}
}
