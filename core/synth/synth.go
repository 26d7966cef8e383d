// Package synth builds one operation descriptor per entity operation and
// relation sub-resource. A descriptor carries everything needed to serve
// and to document the operation: method and path, input and output
// schemas, query parameters, authorization checks and the Execute
// pipeline. The HTTP binding and the API description both read the same
// descriptors.
package synth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/artpar/apiforge/core/entity"
	"github.com/artpar/apiforge/core/policy"
	"github.com/artpar/apiforge/core/schema"
	"github.com/artpar/apiforge/core/storage"
	"github.com/artpar/apiforge/core/validation"
)

// Kind identifies the shape of an operation.
type Kind string

const (
	KindList    Kind = "list"
	KindGet     Kind = "get"
	KindCreate  Kind = "create"
	KindUpdate  Kind = "update"
	KindDelete  Kind = "delete"
	KindRelated Kind = "related"
)

// Store is the persistence the pipeline drives. *storage.Mapper
// implements it.
type Store interface {
	Insert(ctx context.Context, e *entity.Compiled, values map[string]any) (storage.Record, error)
	FindOne(ctx context.Context, e *entity.Compiled, id string) (storage.Record, error)
	FindMany(ctx context.Context, e *entity.Compiled, lq validation.ListQuery) ([]storage.Record, int, error)
	Update(ctx context.Context, e *entity.Compiled, id string, values map[string]any) (storage.Record, error)
	Delete(ctx context.Context, e *entity.Compiled, id string) error
	Related(ctx context.Context, r *entity.Relation, parents []storage.Record) (map[string][]storage.Record, error)
	ListRelated(ctx context.Context, r *entity.Relation, parentID string, lq validation.ListQuery) ([]storage.Record, int, error)
}

// Check is one authorization check of an operation.
type Check struct {
	Entity      string
	Operation   schema.Operation
	Requirement policy.Requirement

	table *policy.Table
}

// Request is the transport-independent input of an operation.
type Request struct {
	// ID is the {id} path parameter.
	ID    string
	Query url.Values
	Body  map[string]any
}

// Result is the outcome of an operation. Single-record operations set
// Record, list operations set Records and the pagination fields.
type Result struct {
	Many    bool
	Record  storage.Record
	Records []storage.Record
	Total   int
	Page    int
	PerPage int
}

// Pages returns the number of pages of a list result. An empty list has
// one empty page.
func (r *Result) Pages() int {
	if r.PerPage <= 0 || r.Total == 0 {
		return 1
	}
	return (r.Total + r.PerPage - 1) / r.PerPage
}

// Descriptor describes one synthesized operation.
type Descriptor struct {
	// ID is "<slug>.<kind>", or "<slug>.<relation>" for sub-resources.
	ID        string
	Entity    *entity.Compiled
	Kind      Kind
	Operation schema.Operation
	Method    string

	// Path is relative to the API prefix.
	Path string

	// Relation is set on sub-resource operations.
	Relation *entity.Relation

	// Input is the request body schema, nil when there is no body.
	Input *validation.Schema

	// Query documents the accepted query parameters.
	Query []validation.Parameter

	// Output is the response record schema, nil when there is no body.
	Output *validation.Schema
	Many   bool

	// Auth lists the checks Execute performs, in order.
	Auth []Check

	// Execute runs the pipeline: validate, authorize, persist, expand,
	// shape.
	Execute func(ctx context.Context, req Request) (*Result, error)
}

// HasID reports whether the path carries the {id} parameter.
func (d *Descriptor) HasID() bool {
	return strings.Contains(d.Path, "{id}")
}

// Summary returns a one-line description of the operation.
func (d *Descriptor) Summary() string {
	switch d.Kind {
	case KindList:
		return "List " + d.Entity.Name + " records"
	case KindGet:
		return "Get a " + d.Entity.Name
	case KindCreate:
		return "Create a " + d.Entity.Name
	case KindUpdate:
		return "Update a " + d.Entity.Name
	case KindDelete:
		return "Delete a " + d.Entity.Name
	}
	if d.Many {
		return fmt.Sprintf("List the %s of a %s", d.Relation.Name, d.Entity.Name)
	}
	return fmt.Sprintf("Get the %s of a %s", d.Relation.Name, d.Entity.Name)
}

// Set is the ordered descriptor set of one entity graph.
type Set struct {
	Operations []*Descriptor
	byID       map[string]*Descriptor
}

// Lookup returns the descriptor with id.
func (s *Set) Lookup(id string) (*Descriptor, bool) {
	d, ok := s.byID[id]
	return d, ok
}

// Len returns the number of operations.
func (s *Set) Len() int { return len(s.Operations) }

// ForEntity returns the operations of one entity, in order.
func (s *Set) ForEntity(name string) []*Descriptor {
	var out []*Descriptor
	for _, d := range s.Operations {
		if d.Entity.Name == name {
			out = append(out, d)
		}
	}
	return out
}

// Synthesizer builds descriptor sets.
type Synthesizer struct {
	Store     Store
	Validator validation.Validator
}

// New creates a Synthesizer.
func New(store Store, v validation.Validator) *Synthesizer {
	return &Synthesizer{Store: store, Validator: v}
}

// Synthesize builds the descriptors of every entity of g: list, get,
// create, update and delete, then one sub-resource per relation. The
// result depends only on g, so identical graphs yield identical sets.
func (s *Synthesizer) Synthesize(g *entity.Graph) (*Set, error) {
	set := &Set{byID: map[string]*Descriptor{}}
	routes := map[string]string{}

	add := func(d *Descriptor) error {
		route := d.Method + " " + d.Path
		if prev, ok := routes[route]; ok {
			return fmt.Errorf("route %s claimed by both %s and %s", route, prev, d.ID)
		}
		if _, ok := set.byID[d.ID]; ok {
			return fmt.Errorf("duplicate operation id %s", d.ID)
		}
		routes[route] = d.ID
		set.byID[d.ID] = d
		set.Operations = append(set.Operations, d)
		return nil
	}

	for _, e := range g.Entities {
		for _, d := range s.crud(e) {
			if err := add(d); err != nil {
				return nil, err
			}
		}
		for _, r := range e.Relations {
			if err := add(s.related(r)); err != nil {
				return nil, err
			}
		}
	}
	return set, nil
}

func check(e *entity.Compiled, op schema.Operation) Check {
	return Check{
		Entity:      e.Name,
		Operation:   op,
		Requirement: e.Policy.Requirement(op),
		table:       e.Policy,
	}
}

func (s *Synthesizer) crud(e *entity.Compiled) []*Descriptor {
	collection := "/" + e.Slug
	item := collection + "/{id}"
	output := validation.OutputSchema(e)

	list := &Descriptor{
		ID: e.Slug + "." + string(KindList), Entity: e, Kind: KindList, Operation: schema.OpRead,
		Method: http.MethodGet, Path: collection,
		Query: s.Validator.ListParameters(e), Output: output, Many: true,
		Auth: []Check{check(e, schema.OpRead)},
	}
	list.Execute = s.list(list)

	get := &Descriptor{
		ID: e.Slug + "." + string(KindGet), Entity: e, Kind: KindGet, Operation: schema.OpRead,
		Method: http.MethodGet, Path: item,
		Query: s.Validator.SingleParameters(e), Output: output,
		Auth: []Check{check(e, schema.OpRead)},
	}
	get.Execute = s.get(get)

	create := &Descriptor{
		ID: e.Slug + "." + string(KindCreate), Entity: e, Kind: KindCreate, Operation: schema.OpCreate,
		Method: http.MethodPost, Path: collection,
		Input: validation.CreateSchema(e), Output: output,
		Auth: []Check{check(e, schema.OpCreate)},
	}
	create.Execute = s.create(create)

	update := &Descriptor{
		ID: e.Slug + "." + string(KindUpdate), Entity: e, Kind: KindUpdate, Operation: schema.OpUpdate,
		Method: http.MethodPatch, Path: item,
		Input: validation.UpdateSchema(e), Output: output,
		Auth: []Check{check(e, schema.OpUpdate)},
	}
	update.Execute = s.update(update)

	del := &Descriptor{
		ID: e.Slug + "." + string(KindDelete), Entity: e, Kind: KindDelete, Operation: schema.OpDelete,
		Method: http.MethodDelete, Path: item,
		Auth: []Check{check(e, schema.OpDelete)},
	}
	del.Execute = s.delete(del)

	return []*Descriptor{list, get, create, update, del}
}

// related builds the sub-resource of r. Reading it needs read access to
// both the owner and the target.
func (s *Synthesizer) related(r *entity.Relation) *Descriptor {
	e := r.Owner
	d := &Descriptor{
		ID: e.Slug + "." + r.Name, Entity: e, Kind: KindRelated, Operation: schema.OpRead,
		Method: http.MethodGet, Path: "/" + e.Slug + "/{id}/" + r.Name,
		Relation: r, Output: validation.OutputSchema(r.Target), Many: r.Many(),
		Auth: []Check{check(e, schema.OpRead), check(r.Target, schema.OpRead)},
	}
	if d.Many {
		d.Query = s.Validator.ListParameters(r.Target)
	} else {
		d.Query = s.Validator.SingleParameters(r.Target)
	}
	d.Execute = s.relatedExec(d)
	return d
}
