// Package entity compiles a schema.Document into the graph of Compiled
// entities every other component reads. Relationship targets become direct
// pointers, implied inverse relations and key columns are added, cascade
// flags are reconciled and each entity gets its policy table.
//
// A Compiled graph is read-only after Compile returns and is shared by
// every request without locking.
package entity

import (
	"strings"

	"github.com/artpar/apiforge/core/convention"
	"github.com/artpar/apiforge/core/policy"
	"github.com/artpar/apiforge/core/schema"
)

// Column is one stored column of an entity table.
type Column struct {
	Name     string
	Kind     schema.Kind
	Nullable bool
	Unique   bool

	// Property is the declaring property, nil for implicit and key columns.
	Property *schema.PropertyDefinition

	// References is set on foreign key columns.
	References *Compiled

	// Implicit marks id, createdAt and updatedAt.
	Implicit bool
}

// IsKey reports whether the column is a foreign key.
func (c Column) IsKey() bool { return c.References != nil }

// Writable reports whether requests may set the column.
func (c Column) Writable() bool { return !c.Implicit }

// Exposed reports whether the column appears in responses.
func (c Column) Exposed() bool {
	return c.Property == nil || c.Property.Exposed()
}

// JoinTable describes the link table of a many-to-many relation.
type JoinTable struct {
	Table string

	// OwnerColumn references the entity declaring the relation,
	// TargetColumn the related entity.
	OwnerColumn  string
	TargetColumn string
}

// Relation is a resolved relationship from Owner to Target.
type Relation struct {
	Name   string
	Kind   schema.RelationKind
	Owner  *Compiled
	Target *Compiled

	// ForeignKey is the key column. For belongs-to it lives on Owner, for
	// has-many on Target. Empty for many-to-many.
	ForeignKey string

	// Through is set for many-to-many.
	Through *JoinTable

	// Cascade is the effective delete behavior for has-many and
	// many-to-many relations.
	Cascade bool

	// Nullable applies to belongs-to keys.
	Nullable bool

	// Inverse marks relations implied by a declaration on the other side.
	Inverse bool

	// Counterpart is the relation on Target describing the same link, if any.
	Counterpart *Relation
}

// Many reports whether the relation yields a list.
func (r *Relation) Many() bool { return r.Kind != schema.BelongsTo }

// Compiled is the resolved form of one entity.
type Compiled struct {
	Definition schema.EntityDefinition
	Name       string
	Slug       string
	Table      string

	// Columns are in storage order: id, properties, keys, timestamps.
	Columns []Column

	// Relations are declared relations in order, then implied ones.
	Relations []*Relation

	Policy *policy.Table
}

// Column returns the column with the given name.
func (c *Compiled) Column(name string) (Column, bool) {
	for _, col := range c.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return Column{}, false
}

// Relation returns the relation with the given name.
func (c *Compiled) Relation(name string) (*Relation, bool) {
	for _, r := range c.Relations {
		if r.Name == name {
			return r, true
		}
	}
	return nil, false
}

// Dependents returns the relations whose rows depend on a row of c: the
// has-many and many-to-many relations, in relation order.
func (c *Compiled) Dependents() []*Relation {
	var out []*Relation
	for _, r := range c.Relations {
		if r.Kind != schema.BelongsTo {
			out = append(out, r)
		}
	}
	return out
}

// PasswordColumns returns the columns holding password values.
func (c *Compiled) PasswordColumns() []string {
	var out []string
	for _, col := range c.Columns {
		if col.Kind == schema.KindPassword {
			out = append(out, col.Name)
		}
	}
	return out
}

// LinkField returns the request field that sets the links of a
// many-to-many relation: the singular relation name followed by "Ids",
// e.g. tagIds for tags.
func LinkField(r *Relation) string {
	return convention.Singularize(r.Name) + "Ids"
}

// Graph is the compiled entity set of one document, in declaration order.
type Graph struct {
	Entities []*Compiled
	byName   map[string]*Compiled
	bySlug   map[string]*Compiled
}

// Lookup returns the entity with the given name, matched case-insensitively.
func (g *Graph) Lookup(name string) (*Compiled, bool) {
	c, ok := g.byName[strings.ToLower(name)]
	return c, ok
}

// BySlug returns the entity served under slug.
func (g *Graph) BySlug(slug string) (*Compiled, bool) {
	c, ok := g.bySlug[slug]
	return c, ok
}
