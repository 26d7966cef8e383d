// Package validation derives request and response schemas from compiled
// entities and validates input against them. The same Schema value drives
// request validation and the API description, so what is accepted and
// what is documented cannot differ.
package validation

import (
	"github.com/artpar/apiforge/core/entity"
	"github.com/artpar/apiforge/core/schema"
)

// Field is one field of a request or response schema.
type Field struct {
	Name        string
	Kind        schema.Kind
	Required    bool
	Nullable    bool
	ReadOnly    bool
	Default     any
	Values      []string
	Constraints schema.Constraints
	Description string

	// References names the entity a key field points to.
	References string

	// Links marks a list of ids replacing the links of a many-to-many relation.
	Links bool
}

// Schema is an ordered set of fields. Unknown fields are rejected.
type Schema struct {
	// Name is the component name used in the API description.
	Name   string
	Entity string
	Fields []Field

	// Partial schemas require no field and apply no defaults.
	Partial bool
}

// Field returns the field with the given name.
func (s *Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// CreateSchema returns the schema of create request bodies.
func CreateSchema(e *entity.Compiled) *Schema {
	return &Schema{Name: e.Name + "Create", Entity: e.Name, Fields: inputFields(e, true)}
}

// UpdateSchema returns the schema of update request bodies. Every field is
// optional.
func UpdateSchema(e *entity.Compiled) *Schema {
	return &Schema{Name: e.Name + "Update", Entity: e.Name, Fields: inputFields(e, false), Partial: true}
}

// OutputSchema returns the schema of a record in responses.
func OutputSchema(e *entity.Compiled) *Schema {
	s := &Schema{Name: e.Name, Entity: e.Name}
	for _, col := range e.Columns {
		if !col.Exposed() {
			continue
		}
		f := columnField(col)
		f.Required = !col.Nullable
		f.ReadOnly = col.Implicit
		f.Default = nil
		s.Fields = append(s.Fields, f)
	}
	return s
}

func inputFields(e *entity.Compiled, create bool) []Field {
	var fields []Field
	for _, col := range e.Columns {
		if !col.Writable() {
			continue
		}
		f := columnField(col)
		if create {
			f.Required = !col.Nullable && f.Default == nil
		}
		fields = append(fields, f)
	}
	for _, r := range e.Relations {
		if r.Kind != schema.ManyToMany {
			continue
		}
		fields = append(fields, Field{
			Name:        entity.LinkField(r),
			Kind:        schema.KindUUID,
			Links:       true,
			References:  r.Target.Name,
			Description: "Replaces the linked " + r.Target.Name + " ids of " + r.Name + ".",
		})
	}
	return fields
}

func columnField(col entity.Column) Field {
	f := Field{Name: col.Name, Kind: col.Kind, Nullable: col.Nullable}
	if col.Property != nil {
		f.Default = col.Property.Default
		f.Values = col.Property.Values
		f.Constraints = col.Property.Constraints
		f.Description = col.Property.Description
	}
	if col.References != nil {
		f.References = col.References.Name
	}
	return f
}
