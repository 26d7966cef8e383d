// Package convention derives names from entity definitions. Every default
// the engine applies (URL slugs, table names, foreign keys, relation names,
// join tables) comes from here so that routing, storage and documentation
// agree on them.
package convention

import (
	"sort"
	"strings"
	"unicode"

	"github.com/artpar/apiforge/core/schema"
)

// Words splits an identifier into lower-case words. CamelCase, snake_case,
// kebab-case and spaces are all word boundaries.
func Words(name string) []string {
	var words []string
	var cur []rune
	runes := []rune(name)

	flush := func() {
		if len(cur) > 0 {
			words = append(words, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}

	for i, r := range runes {
		switch {
		case r == '_' || r == '-' || unicode.IsSpace(r):
			flush()
		case unicode.IsUpper(r):
			// Split before an upper-case rune that starts a new word:
			// "blogPost" -> blog|Post, "HTTPServer" -> HTTP|Server.
			if len(cur) > 0 {
				prevLower := unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1])
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if prevLower || nextLower {
					flush()
				}
			}
			cur = append(cur, r)
		default:
			cur = append(cur, r)
		}
	}
	flush()
	return words
}

// pluralWords returns the words of name with the last one pluralized.
func pluralWords(name string) []string {
	words := Words(name)
	if len(words) > 0 {
		words[len(words)-1] = Pluralize(words[len(words)-1])
	}
	return words
}

// Slug returns the URL segment of an entity: kebab-case plural.
// BlogPost -> blog-posts.
func Slug(entity string) string {
	return strings.Join(pluralWords(entity), "-")
}

// Table returns the storage table of an entity: snake_case plural.
// BlogPost -> blog_posts.
func Table(entity string) string {
	return strings.Join(pluralWords(entity), "_")
}

// SlugFor returns the declared slug of e, or the derived one.
func SlugFor(e schema.EntityDefinition) string {
	if e.Slug != "" {
		return e.Slug
	}
	return Slug(e.Name)
}

// TableFor returns the declared table of e, or the derived one.
func TableFor(e schema.EntityDefinition) string {
	if e.Table != "" {
		return e.Table
	}
	return Table(e.Name)
}

// LowerCamel returns name in lowerCamelCase. BlogPost -> blogPost.
func LowerCamel(name string) string {
	words := Words(name)
	for i := 1; i < len(words); i++ {
		words[i] = upperFirst(words[i])
	}
	return strings.Join(words, "")
}

// UpperCamel returns name in UpperCamelCase. blog_post -> BlogPost.
func UpperCamel(name string) string {
	words := Words(name)
	for i := range words {
		words[i] = upperFirst(words[i])
	}
	return strings.Join(words, "")
}

// PluralCamel returns the lowerCamel plural of name. BlogPost -> blogPosts.
func PluralCamel(name string) string {
	words := pluralWords(name)
	for i := 1; i < len(words); i++ {
		words[i] = upperFirst(words[i])
	}
	return strings.Join(words, "")
}

// ForeignKey returns the default key column referencing entity.
// Author -> authorId.
func ForeignKey(entity string) string {
	return LowerCamel(entity) + "Id"
}

// BelongsToName returns the default name of a belongs-to relation.
func BelongsToName(target string) string {
	return LowerCamel(target)
}

// ManyName returns the default name of a has-many or many-to-many relation.
func ManyName(target string) string {
	return PluralCamel(target)
}

// JoinTable returns the default join table between two tables: the names
// sorted and joined by an underscore.
func JoinTable(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair[0] + "_" + pair[1]
}

// reservedSlugs are path segments under the API prefix that the engine
// serves itself.
var reservedSlugs = map[string]bool{
	"docs":         true,
	"openapi":      true,
	"openapi.json": true,
	"health":       true,
	"metrics":      true,
}

// IsReservedSlug reports whether slug collides with an engine route.
func IsReservedSlug(slug string) bool {
	return reservedSlugs[strings.ToLower(slug)]
}

// IsSlug reports whether s is usable as a URL segment: lower-case letters,
// digits and single hyphens, starting with a letter.
func IsSlug(s string) bool {
	if s == "" || s[0] < 'a' || s[0] > 'z' || strings.HasSuffix(s, "-") || strings.Contains(s, "--") {
		return false
	}
	for _, c := range s {
		if !(c >= 'a' && c <= 'z') && !(c >= '0' && c <= '9') && c != '-' {
			return false
		}
	}
	return true
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
