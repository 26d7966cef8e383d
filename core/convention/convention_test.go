package convention

import (
	"reflect"
	"testing"

	"github.com/artpar/apiforge/core/schema"
)

func TestWords(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"Author", []string{"author"}},
		{"BlogPost", []string{"blog", "post"}},
		{"blogPost", []string{"blog", "post"}},
		{"blog_post", []string{"blog", "post"}},
		{"blog-post", []string{"blog", "post"}},
		{"HTTPServer", []string{"http", "server"}},
		{"v2Item", []string{"v2", "item"}},
	}
	for _, tt := range tests {
		if got := Words(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Words(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNames(t *testing.T) {
	tests := []struct {
		entity      string
		slug        string
		table       string
		foreignKey  string
		pluralCamel string
	}{
		{"Author", "authors", "authors", "authorId", "authors"},
		{"Book", "books", "books", "bookId", "books"},
		{"BlogPost", "blog-posts", "blog_posts", "blogPostId", "blogPosts"},
		{"Category", "categories", "categories", "categoryId", "categories"},
		{"Person", "people", "people", "personId", "people"},
		{"Address", "addresses", "addresses", "addressId", "addresses"},
	}

	for _, tt := range tests {
		t.Run(tt.entity, func(t *testing.T) {
			if got := Slug(tt.entity); got != tt.slug {
				t.Errorf("Slug = %q, want %q", got, tt.slug)
			}
			if got := Table(tt.entity); got != tt.table {
				t.Errorf("Table = %q, want %q", got, tt.table)
			}
			if got := ForeignKey(tt.entity); got != tt.foreignKey {
				t.Errorf("ForeignKey = %q, want %q", got, tt.foreignKey)
			}
			if got := ManyName(tt.entity); got != tt.pluralCamel {
				t.Errorf("ManyName = %q, want %q", got, tt.pluralCamel)
			}
		})
	}
}

func TestCamel(t *testing.T) {
	if got := LowerCamel("blog_post"); got != "blogPost" {
		t.Errorf("LowerCamel = %q, want %q", got, "blogPost")
	}
	if got := UpperCamel("blog_post"); got != "BlogPost" {
		t.Errorf("UpperCamel = %q, want %q", got, "BlogPost")
	}
	if got := BelongsToName("Author"); got != "author" {
		t.Errorf("BelongsToName = %q, want %q", got, "author")
	}
}

func TestJoinTable(t *testing.T) {
	if got := JoinTable("tags", "books"); got != "books_tags" {
		t.Errorf("JoinTable = %q, want %q", got, "books_tags")
	}
	if JoinTable("a", "b") != JoinTable("b", "a") {
		t.Error("JoinTable should not depend on argument order")
	}
}

func TestSlugs(t *testing.T) {
	if !IsReservedSlug("docs") || !IsReservedSlug("openapi.json") {
		t.Error("engine routes should be reserved")
	}
	if IsReservedSlug("authors") {
		t.Error("authors should not be reserved")
	}

	for _, s := range []string{"authors", "blog-posts", "v2-items"} {
		if !IsSlug(s) {
			t.Errorf("IsSlug(%q) = false, want true", s)
		}
	}
	for _, s := range []string{"", "Authors", "-a", "a-", "a--b", "a_b", "2a"} {
		if IsSlug(s) {
			t.Errorf("IsSlug(%q) = true, want false", s)
		}
	}
}

func TestPluralize(t *testing.T) {
	tests := map[string]string{
		"user":   "users",
		"box":    "boxes",
		"city":   "cities",
		"day":    "days",
		"knife":  "knives",
		"leaf":   "leaves",
		"child":  "children",
		"status": "statuses",
		"data":   "data",
		"roof":   "roofs",
	}
	for in, want := range tests {
		if got := Pluralize(in); got != want {
			t.Errorf("Pluralize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSingularize(t *testing.T) {
	tests := map[string]string{
		"users":    "user",
		"boxes":    "box",
		"cities":   "city",
		"knives":   "knife",
		"leaves":   "leaf",
		"children": "child",
		"class":    "class",
		"tags":     "tag",
	}
	for in, want := range tests {
		if got := Singularize(in); got != want {
			t.Errorf("Singularize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSlugForAndTableFor(t *testing.T) {
	e := schema.EntityDefinition{Name: "BlogPost"}
	if got := SlugFor(e); got != "blog-posts" {
		t.Errorf("SlugFor = %q, want %q", got, "blog-posts")
	}
	e.Slug, e.Table = "posts", "post_rows"
	if got := SlugFor(e); got != "posts" {
		t.Errorf("SlugFor = %q, want declared %q", got, "posts")
	}
	if got := TableFor(e); got != "post_rows" {
		t.Errorf("TableFor = %q, want declared %q", got, "post_rows")
	}
}
