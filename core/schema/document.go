package schema

import "strings"

// Document is the root of a schema. Entities keep declaration order.
type Document struct {
	// Name is used as the API title.
	Name string `json:"name,omitempty"`

	// Version is used as the API version.
	Version string `json:"version,omitempty"`

	// Entities are the declared entities, in order.
	Entities []EntityDefinition `json:"entities"`
}

// Entity returns the entity with the given name, matched case-insensitively.
func (d Document) Entity(name string) (EntityDefinition, bool) {
	for _, e := range d.Entities {
		if strings.EqualFold(e.Name, name) {
			return e, true
		}
	}
	return EntityDefinition{}, false
}

// EntityDefinition declares one entity.
type EntityDefinition struct {
	// Name is the entity name, unique case-insensitively within a document.
	Name string `json:"name"`

	// Slug overrides the URL segment. Empty means derived from Name.
	Slug string `json:"slug,omitempty"`

	// Table overrides the storage table. Empty means derived from Name.
	Table string `json:"table,omitempty"`

	// Display names the property used to label records.
	Display string `json:"display,omitempty"`

	// Description is human-readable documentation.
	Description string `json:"description,omitempty"`

	// Properties are the declared properties, in order.
	Properties []PropertyDefinition `json:"properties"`

	// Relationships are the declared relationships, in order.
	Relationships []RelationshipDefinition `json:"relationships,omitempty"`

	// Policies are the declared access rules.
	Policies []PolicyRule `json:"policies,omitempty"`
}

// Property returns the property with the given name.
func (e EntityDefinition) Property(name string) (PropertyDefinition, bool) {
	for _, p := range e.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return PropertyDefinition{}, false
}

// Implicit property names present on every entity.
const (
	FieldID        = "id"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
)

// IsImplicit reports whether name is one of the implicit read-only properties.
func IsImplicit(name string) bool {
	return name == FieldID || name == FieldCreatedAt || name == FieldUpdatedAt
}

// IsIdentifier reports whether s is a valid identifier: a letter or
// underscore followed by letters, digits or underscores.
func IsIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		if c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
			continue
		}
		if i > 0 && c >= '0' && c <= '9' {
			continue
		}
		return false
	}
	return true
}
