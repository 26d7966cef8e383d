package entity

import (
	"fmt"
	"strings"

	"github.com/artpar/apiforge/core/apierror"
	"github.com/artpar/apiforge/core/convention"
	"github.com/artpar/apiforge/core/policy"
	"github.com/artpar/apiforge/core/schema"
)

// Compile resolves doc into a Graph. Resolution is a fixed number of flat
// passes: identities are created first, then every relationship is
// resolved on its own against them, so cyclic and self-referential
// schemas terminate. The error, when non-nil, is a
// *apierror.ValidationError and no graph is returned.
func Compile(doc schema.Document) (*Graph, error) {
	c := &compiler{
		errs: &apierror.ValidationError{},
		graph: &Graph{
			byName: make(map[string]*Compiled, len(doc.Entities)),
			bySlug: make(map[string]*Compiled, len(doc.Entities)),
		},
		members:  map[*Compiled]map[string]bool{},
		explicit: map[*Relation]*bool{},
		paths:    map[*Relation]string{},
	}

	c.identities(doc)
	if c.errs.Empty() {
		c.resolve()
	}
	if c.errs.Empty() {
		c.inverses()
	}
	if c.errs.Empty() {
		c.columns()
	}

	if err := c.errs.Err(); err != nil {
		return nil, err
	}
	return c.graph, nil
}

type compiler struct {
	errs  *apierror.ValidationError
	graph *Graph

	// members holds the names used by each entity: properties, relations,
	// key columns and link fields.
	members map[*Compiled]map[string]bool

	// explicit holds the declared cascade flag of declared relations.
	explicit map[*Relation]*bool

	// paths locates declared relations in the document.
	paths map[*Relation]string
}

// identities creates one Compiled per entity with no relations yet.
func (c *compiler) identities(doc schema.Document) {
	for _, def := range doc.Entities {
		e := &Compiled{
			Definition: def,
			Name:       def.Name,
			Slug:       convention.SlugFor(def),
			Table:      convention.TableFor(def),
			Policy:     policy.Compile(def.Name, def.Policies),
		}
		key := strings.ToLower(def.Name)
		if _, dup := c.graph.byName[key]; dup {
			c.errs.Addf("entities."+def.Name+".name", "unique", "entity %q is declared twice", def.Name)
			continue
		}
		if prev, dup := c.graph.bySlug[e.Slug]; dup {
			c.errs.Addf("entities."+def.Name+".slug", "unique", "slug %q already used by %q", e.Slug, prev.Name)
			continue
		}
		c.graph.byName[key] = e
		c.graph.bySlug[e.Slug] = e
		c.graph.Entities = append(c.graph.Entities, e)

		names := map[string]bool{}
		for _, p := range def.Properties {
			names[p.Name] = true
		}
		c.members[e] = names
	}
}

// resolve turns every declared relationship into a Relation.
func (c *compiler) resolve() {
	for _, e := range c.graph.Entities {
		for i, def := range e.Definition.Relationships {
			path := fmt.Sprintf("entities.%s.relationships[%d]", e.Name, i)
			target, ok := c.graph.Lookup(def.Target)
			if !ok {
				c.errs.Addf(path+".target", "reference", "target entity %q does not exist", def.Target)
				continue
			}

			r := &Relation{Name: def.Name, Kind: def.Kind, Owner: e, Target: target}
			switch def.Kind {
			case schema.BelongsTo:
				if r.Name == "" {
					r.Name = convention.BelongsToName(target.Name)
				}
				r.ForeignKey = def.ForeignKey
				if r.ForeignKey == "" {
					r.ForeignKey = r.Name + "Id"
				}
				r.Nullable = def.IsNullable()
			case schema.HasMany:
				if r.Name == "" {
					r.Name = convention.ManyName(target.Name)
				}
				r.ForeignKey = def.ForeignKey
				if r.ForeignKey == "" {
					r.ForeignKey = convention.ForeignKey(e.Name)
				}
			case schema.ManyToMany:
				if r.Name == "" {
					r.Name = convention.ManyName(target.Name)
				}
				r.Through = c.joinTable(e, target, r.Name, def.Through)
			default:
				c.errs.Addf(path+".kind", "kind", "unknown relationship kind %q", def.Kind)
				continue
			}

			if !c.claim(e, r.Name) {
				c.errs.Addf(path+".name", "unique", "name %q is already used on %s", r.Name, e.Name)
				continue
			}
			if r.Kind == schema.ManyToMany && !c.claim(e, LinkField(r)) {
				c.errs.Addf(path+".name", "unique", "link field %q is already used on %s", LinkField(r), e.Name)
				continue
			}

			e.Relations = append(e.Relations, r)
			c.explicit[r] = def.Cascade
			c.paths[r] = path
		}
	}
}

func (c *compiler) joinTable(owner, target *Compiled, name, through string) *JoinTable {
	j := &JoinTable{
		Table:        through,
		OwnerColumn:  convention.ForeignKey(owner.Name),
		TargetColumn: convention.ForeignKey(target.Name),
	}
	if owner == target {
		j.TargetColumn = convention.Singularize(name) + "Id"
		if j.TargetColumn == j.OwnerColumn {
			j.TargetColumn = "related" + convention.UpperCamel(j.OwnerColumn)
		}
		if j.Table == "" {
			j.Table = owner.Table + "_" + strings.Join(convention.Words(name), "_")
		}
	}
	if j.Table == "" {
		j.Table = convention.JoinTable(owner.Table, target.Table)
	}
	return j
}

// claim reserves name on e, reporting false when it is already taken.
func (c *compiler) claim(e *Compiled, name string) bool {
	if c.members[e][name] || schema.IsImplicit(name) {
		return false
	}
	c.members[e][name] = true
	return true
}

// inverses pairs every declared relation with its counterpart on the
// target, creating the counterpart when it is not declared, and settles
// the cascade flag of each pair.
func (c *compiler) inverses() {
	declared := c.declared()

	for _, r := range declared {
		if r.Kind != schema.BelongsTo {
			continue
		}
		child := r.Owner
		if h := findUnpaired(r.Target, schema.HasMany, child, func(h *Relation) bool { return h.ForeignKey == r.ForeignKey }); h != nil {
			c.pair(h, r)
			continue
		}
		name := c.inverseName(r.Target, convention.ManyName(child.Name), r)
		if name == "" {
			continue
		}
		h := &Relation{
			Name: name, Kind: schema.HasMany, Owner: r.Target, Target: child,
			ForeignKey: r.ForeignKey, Inverse: true,
		}
		r.Target.Relations = append(r.Target.Relations, h)
		c.pair(h, r)
	}

	for _, r := range declared {
		if r.Kind != schema.HasMany || r.Counterpart != nil {
			continue
		}
		// A has-many without a declared belongs-to implies the key column
		// and a belongs-to on the target.
		name := c.inverseName(r.Target, convention.BelongsToName(r.Owner.Name), r)
		if name == "" {
			continue
		}
		b := &Relation{
			Name: name, Kind: schema.BelongsTo, Owner: r.Target, Target: r.Owner,
			ForeignKey: r.ForeignKey, Nullable: true, Inverse: true,
		}
		r.Target.Relations = append(r.Target.Relations, b)
		c.pair(r, b)
	}

	joins := map[string]*Relation{}
	for _, e := range c.graph.Entities {
		joins[e.Table] = nil
	}
	for _, r := range declared {
		if r.Kind != schema.ManyToMany || r.Counterpart != nil {
			continue
		}
		if prev, taken := joins[r.Through.Table]; taken {
			if prev == nil {
				c.errs.Addf(c.paths[r]+".through", "unique", "join table %q collides with an entity table", r.Through.Table)
			} else {
				c.errs.Addf(c.paths[r]+".through", "unique", "join table %q is already used by %s.%s", r.Through.Table, prev.Owner.Name, prev.Name)
			}
			continue
		}
		joins[r.Through.Table] = r

		if r.Owner == r.Target {
			r.Cascade = c.cascadeOf(r)
			continue
		}
		if m := findUnpaired(r.Target, schema.ManyToMany, r.Owner, func(m *Relation) bool { return m.Through.Table == r.Through.Table }); m != nil {
			c.pair(r, m)
			continue
		}
		name := c.inverseName(r.Target, convention.ManyName(r.Owner.Name), r)
		if name == "" {
			continue
		}
		m := &Relation{
			Name: name, Kind: schema.ManyToMany, Owner: r.Target, Target: r.Owner,
			Through: &JoinTable{
				Table:        r.Through.Table,
				OwnerColumn:  r.Through.TargetColumn,
				TargetColumn: r.Through.OwnerColumn,
			},
			Inverse: true,
		}
		c.claim(r.Target, LinkField(m))
		r.Target.Relations = append(r.Target.Relations, m)
		c.pair(r, m)
	}
}

// declared returns the declared relations in document order.
func (c *compiler) declared() []*Relation {
	var out []*Relation
	for _, e := range c.graph.Entities {
		for _, r := range e.Relations {
			if _, ok := c.paths[r]; ok {
				out = append(out, r)
			}
		}
	}
	return out
}

// findUnpaired returns the first declared relation on e of the given kind
// targeting target that satisfies match and has no counterpart yet.
func findUnpaired(e *Compiled, kind schema.RelationKind, target *Compiled, match func(*Relation) bool) *Relation {
	for _, r := range e.Relations {
		if r.Kind == kind && r.Target == target && r.Counterpart == nil && !r.Inverse && match(r) {
			return r
		}
	}
	return nil
}

// inverseName picks the name of an implied relation on e. base is tried
// first, then base followed by the originating relation name.
func (c *compiler) inverseName(e *Compiled, base string, from *Relation) string {
	if c.claim(e, base) {
		return base
	}
	alt := base + convention.UpperCamel(from.Name)
	if c.claim(e, alt) {
		return alt
	}
	c.errs.Addf(c.paths[from]+".name", "unique", "cannot name the inverse of %s.%s on %s: %q and %q are taken", from.Owner.Name, from.Name, e.Name, base, alt)
	return ""
}

// pair links a and b and gives both the reconciled cascade flag.
func (c *compiler) pair(a, b *Relation) {
	a.Counterpart, b.Counterpart = b, a
	cascade := c.reconcile(a, b)
	a.Cascade, b.Cascade = cascade, cascade
}

// reconcile returns the effective cascade of a pair. An explicit flag wins
// over an unstated one; two explicit flags must agree; the default is false.
func (c *compiler) reconcile(a, b *Relation) bool {
	ea, eb := c.explicit[a], c.explicit[b]
	switch {
	case ea != nil && eb != nil && *ea != *eb:
		c.errs.Addf(c.paths[b]+".cascade", "cascade", "cascade %v conflicts with cascade %v on %s.%s", *eb, *ea, a.Owner.Name, a.Name)
		return false
	case ea != nil:
		return *ea
	case eb != nil:
		return *eb
	}
	return false
}

func (c *compiler) cascadeOf(r *Relation) bool {
	if v := c.explicit[r]; v != nil {
		return *v
	}
	return false
}

// columns lays out the stored columns of every entity.
func (c *compiler) columns() {
	for _, e := range c.graph.Entities {
		cols := []Column{{Name: schema.FieldID, Kind: schema.KindUUID, Implicit: true}}

		for i := range e.Definition.Properties {
			p := &e.Definition.Properties[i]
			cols = append(cols, Column{
				Name: p.Name, Kind: p.Kind, Nullable: p.Nullable, Unique: p.Unique, Property: p,
			})
		}

		keys := map[string]*Relation{}
		for _, r := range e.Relations {
			if r.Kind != schema.BelongsTo {
				continue
			}
			if prev, dup := keys[r.ForeignKey]; dup {
				if prev.Target != r.Target {
					c.errs.Addf(c.pathOf(r)+".foreignKey", "unique", "key %q already references %s", r.ForeignKey, prev.Target.Name)
				}
				continue
			}
			if _, isProp := e.Definition.Property(r.ForeignKey); isProp || schema.IsImplicit(r.ForeignKey) {
				c.errs.Addf(c.pathOf(r)+".foreignKey", "unique", "key %q collides with a property of %s", r.ForeignKey, e.Name)
				continue
			}
			if _, isRel := e.Relation(r.ForeignKey); isRel {
				c.errs.Addf(c.pathOf(r)+".foreignKey", "unique", "key %q collides with a relation of %s", r.ForeignKey, e.Name)
				continue
			}
			keys[r.ForeignKey] = r
			cols = append(cols, Column{
				Name: r.ForeignKey, Kind: schema.KindUUID, Nullable: r.Nullable, References: r.Target,
			})
		}

		cols = append(cols,
			Column{Name: schema.FieldCreatedAt, Kind: schema.KindTimestamp, Implicit: true},
			Column{Name: schema.FieldUpdatedAt, Kind: schema.KindTimestamp, Implicit: true},
		)
		e.Columns = cols
	}
}

// pathOf locates r in the document. Implied relations report the
// relation they were derived from.
func (c *compiler) pathOf(r *Relation) string {
	if p, ok := c.paths[r]; ok {
		return p
	}
	if r.Counterpart != nil {
		if p, ok := c.paths[r.Counterpart]; ok {
			return p
		}
	}
	return "entities." + r.Owner.Name
}
