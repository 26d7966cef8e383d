// Package manifest loads schema documents. Load takes a document already
// decoded into generic maps and lists, validates it in a fixed order and
// returns either a complete schema.Document or every violation found. It
// never returns a partial document.
//
// Validation runs in phases: shape, uniqueness, references, then policies.
// A phase runs only when every earlier phase passed, so each reported
// violation is meaningful on its own.
package manifest

import (
	"fmt"
	"strings"

	"github.com/artpar/apiforge/core/apierror"
	"github.com/artpar/apiforge/core/convention"
	"github.com/artpar/apiforge/core/schema"
)

// Load validates raw and builds a Document. The error, when non-nil, is a
// *apierror.ValidationError. Loading the same input twice yields equal
// documents.
func Load(raw map[string]any) (schema.Document, error) {
	l := &loader{dec: decoder{errs: &apierror.ValidationError{}}}

	phases := []func(){
		func() { l.shape(raw) },
		l.uniqueness,
		l.references,
		l.policies,
	}
	for _, phase := range phases {
		phase()
		if err := l.dec.errs.Err(); err != nil {
			return schema.Document{}, err
		}
	}
	return l.doc, nil
}

type loader struct {
	dec decoder
	doc schema.Document

	// paths and rawPolicies are parallel to doc.Entities.
	paths       []string
	rawPolicies []any
}

// shape decodes every value and checks kinds and required fields.
func (l *loader) shape(raw map[string]any) {
	d := &l.dec
	if raw == nil {
		d.fail("", "required", "document is empty")
		return
	}
	d.only("", raw, "name", "version", "description", "entities")

	if v, ok := raw["name"]; ok {
		l.doc.Name, _ = d.str("name", v)
	}
	if v, ok := raw["version"]; ok {
		switch ver := v.(type) {
		case string:
			l.doc.Version = ver
		default:
			if f, ok := schema.AsFloat(ver); ok {
				l.doc.Version = fmt.Sprint(f)
			} else {
				d.fail("version", "shape", "expected a string, got %s", describe(v))
			}
		}
	}

	entities, ok := raw["entities"]
	if !ok {
		d.fail("entities", "required", "at least one entity is required")
		return
	}

	switch es := entities.(type) {
	case []any:
		for i, item := range es {
			path := fmt.Sprintf("entities[%d]", i)
			m, ok := d.object(path, item)
			if !ok {
				continue
			}
			name, _ := m["name"].(string)
			if name != "" {
				path = "entities." + name
			}
			l.entity(path, name, m)
		}
	default:
		m, ok := d.object("entities", entities)
		if !ok {
			return
		}
		for _, name := range sortedKeys(m) {
			path := "entities." + name
			body := m[name]
			if body == nil {
				body = map[string]any{}
			}
			em, ok := d.object(path, body)
			if !ok {
				continue
			}
			if n, has := em["name"]; has && n != name {
				d.fail(path+".name", "shape", "name %v does not match key %q", n, name)
			}
			l.entity(path, name, em)
		}
	}

	if len(l.doc.Entities) == 0 && l.dec.errs.Empty() {
		d.fail("entities", "required", "at least one entity is required")
	}
}

func (l *loader) entity(path, name string, m map[string]any) {
	d := &l.dec
	d.only(path, m, "name", "slug", "table", "display", "description",
		"properties", "relationships", "belongsTo", "hasMany", "belongsToMany", "policies")

	e := schema.EntityDefinition{Name: name}
	if name == "" {
		d.fail(path+".name", "required", "entity name is required")
	} else if !schema.IsIdentifier(name) {
		d.fail(path+".name", "identifier", "%q is not a valid identifier", name)
	}

	if v, ok := m["slug"]; ok {
		if e.Slug, ok = d.str(path+".slug", v); ok {
			if !convention.IsSlug(e.Slug) {
				d.fail(path+".slug", "slug", "%q is not a valid URL segment", e.Slug)
			}
		}
	}
	if v, ok := m["table"]; ok {
		if e.Table, ok = d.str(path+".table", v); ok && !schema.IsIdentifier(e.Table) {
			d.fail(path+".table", "identifier", "%q is not a valid identifier", e.Table)
		}
	}
	if v, ok := m["display"]; ok {
		e.Display, _ = d.str(path+".display", v)
	}
	if v, ok := m["description"]; ok {
		e.Description, _ = d.str(path+".description", v)
	}

	e.Properties = l.properties(path+".properties", m["properties"])
	for i, p := range e.Properties {
		p.Check(fmt.Sprintf("%s.properties[%d]", path, i), d.errs)
	}

	e.Relationships = l.relationships(path, m)

	l.doc.Entities = append(l.doc.Entities, e)
	l.paths = append(l.paths, path)
	l.rawPolicies = append(l.rawPolicies, m["policies"])
}

func (l *loader) properties(path string, v any) []schema.PropertyDefinition {
	d := &l.dec
	if v == nil {
		return nil
	}

	var out []schema.PropertyDefinition
	switch ps := v.(type) {
	case []any:
		for i, item := range ps {
			itemPath := fmt.Sprintf("%s[%d]", path, i)
			// Shorthand: a bare name is a string property.
			if name, ok := item.(string); ok {
				out = append(out, schema.PropertyDefinition{Name: name, Kind: schema.KindString})
				continue
			}
			m, ok := d.object(itemPath, item)
			if !ok {
				continue
			}
			name, _ := m["name"].(string)
			if name == "" {
				d.fail(itemPath+".name", "required", "property name is required")
				continue
			}
			if p, ok := l.property(itemPath, name, m); ok {
				out = append(out, p)
			}
		}
	default:
		m, ok := d.object(path, v)
		if !ok {
			return nil
		}
		for _, name := range sortedKeys(m) {
			itemPath := path + "." + name
			// Shorthand: name: kind.
			if kind, ok := m[name].(string); ok {
				out = append(out, schema.PropertyDefinition{Name: name, Kind: schema.Kind(kind)})
				continue
			}
			pm, ok := d.object(itemPath, m[name])
			if !ok {
				continue
			}
			if p, ok := l.property(itemPath, name, pm); ok {
				out = append(out, p)
			}
		}
	}
	return out
}

func (l *loader) property(path, name string, m map[string]any) (schema.PropertyDefinition, bool) {
	d := &l.dec
	before := len(d.errs.Fields)
	d.only(path, m, "name", "type", "nullable", "default", "unique", "hidden", "values", "description", "constraints")

	p := schema.PropertyDefinition{Name: name, Kind: schema.KindString}
	if v, ok := m["type"]; ok {
		if s, ok := d.str(path+".type", v); ok {
			p.Kind = schema.Kind(s)
		}
	}
	if v, ok := m["nullable"]; ok {
		p.Nullable, _ = d.boolean(path+".nullable", v)
	}
	if v, ok := m["unique"]; ok {
		p.Unique, _ = d.boolean(path+".unique", v)
	}
	if v, ok := m["hidden"]; ok {
		p.Hidden, _ = d.boolean(path+".hidden", v)
	}
	if v, ok := m["values"]; ok {
		p.Values, _ = d.strings(path+".values", v)
	}
	if v, ok := m["description"]; ok {
		p.Description, _ = d.str(path+".description", v)
	}
	p.Default = m["default"]

	if v, ok := m["constraints"]; ok {
		cm, ok := d.object(path+".constraints", v)
		if ok {
			p.Constraints = l.constraints(path+".constraints", cm)
		}
	}
	return p, len(d.errs.Fields) == before
}

func (l *loader) constraints(path string, m map[string]any) schema.Constraints {
	d := &l.dec
	d.only(path, m, "minLength", "maxLength", "pattern", "min", "max")

	var c schema.Constraints
	if v, ok := m["minLength"]; ok {
		if n, ok := d.integer(path+".minLength", v); ok {
			c.MinLength = &n
		}
	}
	if v, ok := m["maxLength"]; ok {
		if n, ok := d.integer(path+".maxLength", v); ok {
			c.MaxLength = &n
		}
	}
	if v, ok := m["pattern"]; ok {
		c.Pattern, _ = d.str(path+".pattern", v)
	}
	if v, ok := m["min"]; ok {
		if f, ok := d.number(path+".min", v); ok {
			c.Min = &f
		}
	}
	if v, ok := m["max"]; ok {
		if f, ok := d.number(path+".max", v); ok {
			c.Max = &f
		}
	}
	return c
}

// relationships decodes the relationships list and the belongsTo, hasMany
// and belongsToMany shorthands, in that order.
func (l *loader) relationships(path string, m map[string]any) []schema.RelationshipDefinition {
	d := &l.dec
	var out []schema.RelationshipDefinition

	if v, ok := m["relationships"]; ok {
		items, ok := d.list(path+".relationships", v)
		if ok {
			for i, item := range items {
				itemPath := fmt.Sprintf("%s.relationships[%d]", path, i)
				rm, ok := d.object(itemPath, item)
				if !ok {
					continue
				}
				if r, ok := l.relationship(itemPath, "", rm); ok {
					out = append(out, r)
				}
			}
		}
	}

	shorthands := []struct {
		key  string
		kind schema.RelationKind
	}{
		{"belongsTo", schema.BelongsTo},
		{"hasMany", schema.HasMany},
		{"belongsToMany", schema.ManyToMany},
	}
	for _, sh := range shorthands {
		v, ok := m[sh.key]
		if !ok {
			continue
		}
		items, ok := d.list(path+"."+sh.key, v)
		if !ok {
			continue
		}
		for i, item := range items {
			itemPath := fmt.Sprintf("%s.%s[%d]", path, sh.key, i)
			if target, ok := item.(string); ok {
				out = append(out, schema.RelationshipDefinition{Kind: sh.kind, Target: target})
				continue
			}
			rm, ok := d.object(itemPath, item)
			if !ok {
				continue
			}
			if r, ok := l.relationship(itemPath, sh.kind, rm); ok {
				out = append(out, r)
			}
		}
	}
	return out
}

func (l *loader) relationship(path string, kind schema.RelationKind, m map[string]any) (schema.RelationshipDefinition, bool) {
	d := &l.dec
	before := len(d.errs.Fields)
	allowed := []string{"name", "target", "entity", "foreignKey", "through", "cascade", "nullable"}
	if kind == "" {
		allowed = append(allowed, "kind")
	}
	d.only(path, m, allowed...)

	r := schema.RelationshipDefinition{Kind: kind}
	if kind == "" {
		if s, ok := d.str(path+".kind", m["kind"]); ok {
			r.Kind = schema.RelationKind(s)
			if !r.Kind.Valid() {
				d.fail(path+".kind", "kind", "unknown relationship kind %q", s)
			}
		}
	}

	target := m["target"]
	if target == nil {
		target = m["entity"]
	}
	if s, ok := d.str(path+".target", target); ok {
		r.Target = s
		if s == "" {
			d.fail(path+".target", "required", "relationship target is required")
		}
	}

	if v, ok := m["name"]; ok {
		if r.Name, ok = d.str(path+".name", v); ok && !schema.IsIdentifier(r.Name) {
			d.fail(path+".name", "identifier", "%q is not a valid identifier", r.Name)
		}
	}
	if v, ok := m["foreignKey"]; ok {
		if r.ForeignKey, ok = d.str(path+".foreignKey", v); ok && !schema.IsIdentifier(r.ForeignKey) {
			d.fail(path+".foreignKey", "identifier", "%q is not a valid identifier", r.ForeignKey)
		}
	}
	if v, ok := m["through"]; ok {
		if r.Through, ok = d.str(path+".through", v); ok && !schema.IsIdentifier(r.Through) {
			d.fail(path+".through", "identifier", "%q is not a valid identifier", r.Through)
		}
	}
	if v, ok := m["cascade"]; ok {
		if b, ok := d.boolean(path+".cascade", v); ok {
			r.Cascade = &b
		}
	}
	if v, ok := m["nullable"]; ok {
		if b, ok := d.boolean(path+".nullable", v); ok {
			r.Nullable = &b
		}
	}

	// Fields that only make sense for one kind.
	if r.Through != "" && r.Kind != schema.ManyToMany {
		d.fail(path+".through", "kind", "through only applies to many-to-many")
	}
	if r.ForeignKey != "" && r.Kind == schema.ManyToMany {
		d.fail(path+".foreignKey", "kind", "foreignKey does not apply to many-to-many")
	}
	if r.Nullable != nil && r.Kind != schema.BelongsTo {
		d.fail(path+".nullable", "kind", "nullable only applies to belongs-to")
	}

	return r, len(d.errs.Fields) == before
}

// uniqueness checks entity names, slugs and tables across the document,
// and property and relation names within each entity.
func (l *loader) uniqueness() {
	d := &l.dec
	names := map[string]string{}
	slugs := map[string]string{}
	tables := map[string]string{}

	for i, e := range l.doc.Entities {
		path := l.paths[i]

		key := strings.ToLower(e.Name)
		if prev, ok := names[key]; ok {
			d.fail(path+".name", "unique", "entity %q duplicates %q", e.Name, prev)
		} else {
			names[key] = e.Name
		}

		slug := convention.SlugFor(e)
		if convention.IsReservedSlug(slug) {
			d.fail(path+".slug", "reserved", "slug %q is reserved", slug)
		}
		if prev, ok := slugs[slug]; ok {
			d.fail(path+".slug", "unique", "slug %q already used by %q", slug, prev)
		} else {
			slugs[slug] = e.Name
		}

		table := convention.TableFor(e)
		if prev, ok := tables[table]; ok {
			d.fail(path+".table", "unique", "table %q already used by %q", table, prev)
		} else {
			tables[table] = e.Name
		}

		members := map[string]string{}
		for j, p := range e.Properties {
			if _, ok := members[p.Name]; ok {
				d.fail(fmt.Sprintf("%s.properties[%d].name", path, j), "unique", "property %q is declared twice", p.Name)
				continue
			}
			members[p.Name] = "property"
		}
		for j, r := range e.Relationships {
			name := relationName(r)
			if what, ok := members[name]; ok {
				d.fail(fmt.Sprintf("%s.relationships[%d].name", path, j), "unique", "relation %q collides with %s %q", name, what, name)
				continue
			}
			members[name] = "relation"
		}
	}
}

// references checks that relationship targets and display properties
// resolve. Targets are rewritten to the declared entity name.
func (l *loader) references() {
	d := &l.dec
	for i := range l.doc.Entities {
		e := &l.doc.Entities[i]
		path := l.paths[i]

		for j := range e.Relationships {
			r := &e.Relationships[j]
			target, ok := l.doc.Entity(r.Target)
			if !ok {
				d.fail(fmt.Sprintf("%s.relationships[%d].target", path, j), "reference", "target entity %q does not exist", r.Target)
				continue
			}
			r.Target = target.Name
		}

		if e.Display != "" {
			if _, ok := e.Property(e.Display); !ok {
				d.fail(path+".display", "reference", "display property %q does not exist", e.Display)
			}
		}
	}
}

// policies decodes every entity's rules, rejecting ambiguity. An entity
// without policies denies everything; an entity with policies must settle
// every operation, by an exact rule or the wildcard.
func (l *loader) policies() {
	for i := range l.doc.Entities {
		path := l.paths[i] + ".policies"
		rules := l.policyRules(path, l.rawPolicies[i])
		l.doc.Entities[i].Policies = rules
		if len(rules) == 0 {
			continue
		}
		for _, op := range unsettled(rules) {
			l.dec.fail(path+"."+string(op), "incomplete",
				"operation %q has no rule; add one, or a \"*\" rule such as deny", op)
		}
	}
}

func relationName(r schema.RelationshipDefinition) string {
	if r.Name != "" {
		return r.Name
	}
	if r.Kind == schema.BelongsTo {
		return convention.BelongsToName(r.Target)
	}
	return convention.ManyName(r.Target)
}
