package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/artpar/apiforge/core/apierror"
	"github.com/artpar/apiforge/core/entity"
	"github.com/artpar/apiforge/core/registry"
	"github.com/artpar/apiforge/core/schema"
	"github.com/artpar/apiforge/core/synth"
	"github.com/artpar/apiforge/pkg/envelope"
)

// SchemaHandler serves the compiled entities of one snapshot, so clients
// can discover fields, relations and access rules at runtime.
type SchemaHandler struct {
	snap *registry.Snapshot
}

// NewSchemaHandler creates a schema handler.
func NewSchemaHandler(snap *registry.Snapshot) *SchemaHandler {
	return &SchemaHandler{snap: snap}
}

// Routes returns a router with all schema routes.
func (h *SchemaHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.listEntities)
	r.Get("/{entity}", h.getEntity)
	return r
}

// EntitySummary is one entry of the entity list.
type EntitySummary struct {
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description,omitempty"`
	Operations  int    `json:"operations"`
}

// EntitySchema describes one compiled entity.
type EntitySchema struct {
	Name        string            `json:"name"`
	Slug        string            `json:"slug"`
	Table       string            `json:"table"`
	Description string            `json:"description,omitempty"`
	Version     int               `json:"version"`
	Fields      []FieldSchema     `json:"fields"`
	Relations   []RelationSchema  `json:"relations"`
	Policies    map[string]string `json:"policies"`
	Endpoints   []EndpointSchema  `json:"endpoints"`
}

// FieldSchema describes one column.
type FieldSchema struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Nullable   bool   `json:"nullable"`
	Unique     bool   `json:"unique,omitempty"`
	ReadOnly   bool   `json:"readOnly,omitempty"`
	References string `json:"references,omitempty"`
}

// RelationSchema describes one relation.
type RelationSchema struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Target     string `json:"target"`
	ForeignKey string `json:"foreignKey,omitempty"`
	Through    string `json:"through,omitempty"`
	Cascade    bool   `json:"cascade,omitempty"`
	Implied    bool   `json:"implied,omitempty"`
}

// EndpointSchema describes one operation.
type EndpointSchema struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Path   string `json:"path"`
}

// listEntities handles GET <prefix>/_schema
func (h *SchemaHandler) listEntities(w http.ResponseWriter, r *http.Request) {
	summaries := make([]EntitySummary, 0, len(h.snap.Graph.Entities))
	for _, e := range h.snap.Graph.Entities {
		summaries = append(summaries, EntitySummary{
			Name:        e.Name,
			Slug:        e.Slug,
			Description: e.Definition.Description,
			Operations:  len(h.snap.Operations.ForEntity(e.Name)),
		})
	}
	envelope.WriteData(w, http.StatusOK, summaries)
}

// getEntity handles GET <prefix>/_schema/{entity}, by name or slug.
func (h *SchemaHandler) getEntity(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "entity")
	e, ok := h.snap.Graph.Lookup(name)
	if !ok {
		e, ok = h.snap.Graph.BySlug(name)
	}
	if !ok {
		envelope.WriteError(w, &apierror.NotFoundError{Entity: name})
		return
	}
	envelope.WriteData(w, http.StatusOK, h.describe(e))
}

func (h *SchemaHandler) describe(e *entity.Compiled) EntitySchema {
	out := EntitySchema{
		Name:        e.Name,
		Slug:        e.Slug,
		Table:       e.Table,
		Description: e.Definition.Description,
		Version:     h.snap.Version,
		Fields:      make([]FieldSchema, 0, len(e.Columns)),
		Relations:   make([]RelationSchema, 0, len(e.Relations)),
		Policies:    map[string]string{},
		Endpoints:   []EndpointSchema{},
	}
	for _, col := range e.Columns {
		if !col.Exposed() {
			continue
		}
		f := FieldSchema{
			Name:     col.Name,
			Kind:     string(col.Kind),
			Nullable: col.Nullable,
			Unique:   col.Unique,
			ReadOnly: col.Implicit,
		}
		if col.References != nil {
			f.References = col.References.Name
		}
		out.Fields = append(out.Fields, f)
	}
	for _, rel := range e.Relations {
		rs := RelationSchema{
			Name:       rel.Name,
			Kind:       string(rel.Kind),
			Target:     rel.Target.Name,
			ForeignKey: rel.ForeignKey,
			Cascade:    rel.Cascade,
			Implied:    rel.Inverse,
		}
		if rel.Through != nil {
			rs.Through = rel.Through.Table
		}
		out.Relations = append(out.Relations, rs)
	}
	for _, op := range schema.Operations {
		out.Policies[string(op)] = e.Policy.Requirement(op).String()
	}
	for _, d := range h.snap.Operations.ForEntity(e.Name) {
		out.Endpoints = append(out.Endpoints, endpointOf(d))
	}
	return out
}

func endpointOf(d *synth.Descriptor) EndpointSchema {
	return EndpointSchema{ID: d.ID, Method: d.Method, Path: d.Path}
}
