package schema

// RelationKind is the kind of a relationship.
type RelationKind string

const (
	BelongsTo  RelationKind = "belongs-to"
	HasMany    RelationKind = "has-many"
	ManyToMany RelationKind = "many-to-many"
)

// Valid reports whether k is a recognized relationship kind.
func (k RelationKind) Valid() bool {
	return k == BelongsTo || k == HasMany || k == ManyToMany
}

// RelationshipDefinition declares an association from the owning entity to
// Target.
type RelationshipDefinition struct {
	// Name is the relation name used in URLs and expansion. Empty means
	// derived from Target.
	Name string `json:"name,omitempty"`

	Kind RelationKind `json:"kind"`

	// Target is the name of the related entity.
	Target string `json:"target"`

	// ForeignKey names the key column. For belongs-to it lives on the
	// owner, for has-many on the target.
	ForeignKey string `json:"foreignKey,omitempty"`

	// Through names the join table of a many-to-many relationship.
	Through string `json:"through,omitempty"`

	// Cascade controls delete behavior. Nil means not stated.
	Cascade *bool `json:"cascade,omitempty"`

	// Nullable controls whether a belongs-to key may be empty. Nil means true.
	Nullable *bool `json:"nullable,omitempty"`
}

// IsNullable reports whether a belongs-to key may be empty.
func (r RelationshipDefinition) IsNullable() bool {
	return r.Nullable == nil || *r.Nullable
}
