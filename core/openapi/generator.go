// Package openapi generates the OpenAPI 3.0 description of a synthesized
// operation set. It walks the descriptors the router serves, never the
// manifest, so every documented schema and authorization requirement is
// the one enforced.
package openapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/artpar/apiforge/core/policy"
	"github.com/artpar/apiforge/core/schema"
	"github.com/artpar/apiforge/core/synth"
	"github.com/artpar/apiforge/core/validation"
)

// Spec represents an OpenAPI 3.0 specification.
type Spec struct {
	OpenAPI    string              `json:"openapi"`
	Info       Info                `json:"info"`
	Servers    []Server            `json:"servers,omitempty"`
	Paths      map[string]PathItem `json:"paths"`
	Components Components          `json:"components"`
	Tags       []Tag               `json:"tags,omitempty"`
}

// Info provides API metadata.
type Info struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version"`
}

// Server represents a server URL.
type Server struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

// PathItem contains operations for a path.
type PathItem struct {
	Get    *Operation `json:"get,omitempty"`
	Post   *Operation `json:"post,omitempty"`
	Patch  *Operation `json:"patch,omitempty"`
	Delete *Operation `json:"delete,omitempty"`
}

// Operation represents an API operation.
type Operation struct {
	Tags        []string              `json:"tags,omitempty"`
	Summary     string                `json:"summary,omitempty"`
	OperationID string                `json:"operationId,omitempty"`
	Parameters  []Parameter           `json:"parameters,omitempty"`
	RequestBody *RequestBody          `json:"requestBody,omitempty"`
	Responses   map[string]Response   `json:"responses"`
	Security    []SecurityRequirement `json:"security,omitempty"`

	// Policy documents the authorization checks of the operation.
	Policy []PolicyCheck `json:"x-policy"`
}

// PolicyCheck is one entry of the x-policy extension.
type PolicyCheck struct {
	Entity    string             `json:"entity"`
	Operation string             `json:"operation"`
	Rule      policy.Requirement `json:"rule"`
}

// Parameter represents an API parameter.
type Parameter struct {
	Name        string  `json:"name"`
	In          string  `json:"in"` // path, query
	Description string  `json:"description,omitempty"`
	Required    bool    `json:"required,omitempty"`
	Schema      *Schema `json:"schema,omitempty"`
}

// RequestBody represents a request body.
type RequestBody struct {
	Required bool                 `json:"required,omitempty"`
	Content  map[string]MediaType `json:"content"`
}

// Response represents an API response.
type Response struct {
	Description string               `json:"description"`
	Headers     map[string]Header    `json:"headers,omitempty"`
	Content     map[string]MediaType `json:"content,omitempty"`
}

// Header represents a response header.
type Header struct {
	Description string  `json:"description,omitempty"`
	Schema      *Schema `json:"schema,omitempty"`
}

// MediaType represents a media type.
type MediaType struct {
	Schema *Schema `json:"schema,omitempty"`
}

// Schema represents a JSON Schema.
type Schema struct {
	Type                 string             `json:"type,omitempty"`
	Format               string             `json:"format,omitempty"`
	Description          string             `json:"description,omitempty"`
	Properties           map[string]*Schema `json:"properties,omitempty"`
	Required             []string           `json:"required,omitempty"`
	Items                *Schema            `json:"items,omitempty"`
	Enum                 []string           `json:"enum,omitempty"`
	Ref                  string             `json:"$ref,omitempty"`
	MinLength            *int               `json:"minLength,omitempty"`
	MaxLength            *int               `json:"maxLength,omitempty"`
	Minimum              *float64           `json:"minimum,omitempty"`
	Maximum              *float64           `json:"maximum,omitempty"`
	Pattern              string             `json:"pattern,omitempty"`
	Default              any                `json:"default,omitempty"`
	Nullable             bool               `json:"nullable,omitempty"`
	ReadOnly             bool               `json:"readOnly,omitempty"`
	AdditionalProperties *bool              `json:"additionalProperties,omitempty"`
}

// Components contains reusable schemas.
type Components struct {
	Schemas         map[string]*Schema        `json:"schemas,omitempty"`
	SecuritySchemes map[string]SecurityScheme `json:"securitySchemes,omitempty"`
}

// SecurityScheme defines an authentication method.
type SecurityScheme struct {
	Type         string `json:"type"`
	Scheme       string `json:"scheme,omitempty"`
	BearerFormat string `json:"bearerFormat,omitempty"`
	Description  string `json:"description,omitempty"`
}

// SecurityRequirement specifies required security schemes.
type SecurityRequirement map[string][]string

// Tag provides metadata for a group of operations.
type Tag struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

const (
	jsonContent = "application/json"
	bearerAuth  = "bearerAuth"
	refPrefix   = "#/components/schemas/"
)

// Generator generates OpenAPI specs from operation sets.
type Generator struct {
	info   Info
	prefix string
}

// NewGenerator creates a generator. prefix is prepended to every
// operation path.
func NewGenerator(info Info, prefix string) *Generator {
	if info.Title == "" {
		info.Title = "apiforge"
	}
	if info.Version == "" {
		info.Version = "1.0.0"
	}
	return &Generator{info: info, prefix: strings.TrimSuffix(prefix, "/")}
}

// Generate creates the specification of set. The output depends only on
// set and the generator settings.
func (g *Generator) Generate(set *synth.Set) *Spec {
	spec := &Spec{
		OpenAPI: "3.0.3",
		Info:    g.info,
		Paths:   make(map[string]PathItem),
		Components: Components{
			Schemas: envelopeSchemas(),
			SecuritySchemes: map[string]SecurityScheme{
				bearerAuth: {
					Type:         "http",
					Scheme:       "bearer",
					BearerFormat: "JWT",
					Description:  "Caller identity and roles",
				},
			},
		},
	}

	tagged := map[string]bool{}
	for _, d := range set.Operations {
		if !tagged[d.Entity.Name] {
			tagged[d.Entity.Name] = true
			spec.Tags = append(spec.Tags, Tag{Name: d.Entity.Name, Description: d.Entity.Definition.Description})
		}
		if d.Input != nil {
			spec.Components.Schemas[d.Input.Name] = SchemaFrom(d.Input)
		}
		if d.Output != nil {
			spec.Components.Schemas[d.Output.Name] = SchemaFrom(d.Output)
		}

		path := g.prefix + d.Path
		item := spec.Paths[path]
		op := g.operation(d)
		switch d.Method {
		case http.MethodGet:
			item.Get = op
		case http.MethodPost:
			item.Post = op
		case http.MethodPatch:
			item.Patch = op
		case http.MethodDelete:
			item.Delete = op
		}
		spec.Paths[path] = item
	}
	return spec
}

// operation documents one descriptor.
func (g *Generator) operation(d *synth.Descriptor) *Operation {
	op := &Operation{
		Tags:        []string{d.Entity.Name},
		Summary:     d.Summary(),
		OperationID: d.ID,
		Responses:   map[string]Response{},
		Policy:      PolicyOf(d),
	}

	if d.HasID() {
		op.Parameters = append(op.Parameters, Parameter{
			Name: "id", In: "path", Required: true,
			Description: d.Entity.Name + " id",
			Schema:      &Schema{Type: "string", Format: "uuid"},
		})
	}
	for _, p := range d.Query {
		op.Parameters = append(op.Parameters, ParameterFrom(p))
	}

	if d.Input != nil {
		op.RequestBody = &RequestBody{
			Required: true,
			Content:  map[string]MediaType{jsonContent: {Schema: &Schema{Ref: refPrefix + d.Input.Name}}},
		}
	}

	switch {
	case d.Kind == synth.KindDelete:
		op.Responses["204"] = Response{Description: "Deleted"}
	case d.Kind == synth.KindCreate:
		op.Responses["201"] = Response{Description: "Created", Content: envelopeOf(d)}
	default:
		op.Responses["200"] = Response{Description: "Success", Content: envelopeOf(d)}
	}

	errRef := map[string]MediaType{jsonContent: {Schema: &Schema{Ref: refPrefix + "ErrorResponse"}}}
	op.Responses["400"] = Response{Description: "Invalid request", Content: errRef}
	if !public(d) {
		op.Responses["401"] = Response{Description: "Authentication required", Content: errRef}
		op.Responses["403"] = Response{Description: "Not allowed", Content: errRef}
	}
	if d.HasID() {
		op.Responses["404"] = Response{Description: "Not found", Content: errRef}
	}
	switch d.Kind {
	case synth.KindCreate, synth.KindUpdate, synth.KindDelete:
		op.Responses["409"] = Response{Description: "Conflict", Content: errRef}
	}
	op.Responses["503"] = Response{
		Description: "Storage unavailable, retry later",
		Headers:     map[string]Header{"Retry-After": {Description: "Seconds to wait", Schema: &Schema{Type: "integer"}}},
		Content:     errRef,
	}

	for _, c := range d.Auth {
		if c.Requirement.NeedsIdentity() {
			op.Security = []SecurityRequirement{{bearerAuth: {}}}
			break
		}
	}
	return op
}

// PolicyOf returns the x-policy entries of d.
func PolicyOf(d *synth.Descriptor) []PolicyCheck {
	out := make([]PolicyCheck, len(d.Auth))
	for i, c := range d.Auth {
		out[i] = PolicyCheck{Entity: c.Entity, Operation: string(c.Operation), Rule: c.Requirement}
	}
	return out
}

func public(d *synth.Descriptor) bool {
	for _, c := range d.Auth {
		if c.Requirement.Access != schema.AccessPublic {
			return false
		}
	}
	return true
}

func envelopeOf(d *synth.Descriptor) map[string]MediaType {
	record := &Schema{Ref: refPrefix + d.Output.Name}
	if d.Many {
		return map[string]MediaType{jsonContent: {Schema: &Schema{
			Type:     "object",
			Required: []string{"data", "meta"},
			Properties: map[string]*Schema{
				"data":  {Type: "array", Items: record},
				"meta":  {Ref: refPrefix + "ListMeta"},
				"links": {Ref: refPrefix + "Links"},
			},
		}}}
	}
	if d.Kind == synth.KindRelated {
		record = &Schema{Ref: record.Ref, Nullable: true}
	}
	return map[string]MediaType{jsonContent: {Schema: &Schema{
		Type:       "object",
		Required:   []string{"data"},
		Properties: map[string]*Schema{"data": record},
	}}}
}

// SchemaFrom converts a validation schema. Unknown properties are
// rejected by the validator, which additionalProperties: false states.
func SchemaFrom(s *validation.Schema) *Schema {
	closed := false
	out := &Schema{
		Type:       "object",
		Properties: make(map[string]*Schema, len(s.Fields)),
	}
	if s.Name != s.Entity {
		out.AdditionalProperties = &closed
	}
	for _, f := range s.Fields {
		out.Properties[f.Name] = FieldSchema(f)
		if f.Required {
			out.Required = append(out.Required, f.Name)
		}
	}
	return out
}

// FieldSchema converts one field.
func FieldSchema(f validation.Field) *Schema {
	s := KindSchema(f.Kind, f.Values)
	s.Description = f.Description
	s.Nullable = f.Nullable
	s.ReadOnly = f.ReadOnly
	s.Default = f.Default
	if f.References != "" && s.Description == "" {
		s.Description = "Id of a " + f.References
	}

	c := f.Constraints
	s.MinLength, s.MaxLength = c.MinLength, c.MaxLength
	s.Minimum, s.Maximum = c.Min, c.Max
	s.Pattern = c.Pattern

	if f.Links {
		return &Schema{
			Type:        "array",
			Items:       s,
			Description: f.Description,
		}
	}
	return s
}

// KindSchema maps a property kind to its JSON Schema type and format.
func KindSchema(kind schema.Kind, values []string) *Schema {
	switch kind {
	case schema.KindInteger:
		return &Schema{Type: "integer", Format: "int64"}
	case schema.KindNumber:
		return &Schema{Type: "number", Format: "double"}
	case schema.KindMoney:
		return &Schema{Type: "number", Format: "double", Description: "Rounded to two decimals"}
	case schema.KindBoolean:
		return &Schema{Type: "boolean"}
	case schema.KindDate:
		return &Schema{Type: "string", Format: "date"}
	case schema.KindTimestamp:
		return &Schema{Type: "string", Format: "date-time"}
	case schema.KindEmail:
		return &Schema{Type: "string", Format: "email"}
	case schema.KindLink:
		return &Schema{Type: "string", Format: "uri"}
	case schema.KindUUID:
		return &Schema{Type: "string", Format: "uuid"}
	case schema.KindPassword:
		return &Schema{Type: "string", Format: "password"}
	case schema.KindEnum:
		return &Schema{Type: "string", Enum: values}
	case schema.KindJSON:
		return &Schema{}
	}
	return &Schema{Type: "string"}
}

// ParameterFrom converts a documented query parameter.
func ParameterFrom(p validation.Parameter) Parameter {
	return Parameter{
		Name:        p.Name,
		In:          "query",
		Description: p.Description,
		Schema:      KindSchema(p.Kind, p.Values),
	}
}

// envelopeSchemas are the shared response components.
func envelopeSchemas() map[string]*Schema {
	return map[string]*Schema{
		"ListMeta": {
			Type:     "object",
			Required: []string{"total", "page", "per_page", "pages"},
			Properties: map[string]*Schema{
				"total":    {Type: "integer"},
				"page":     {Type: "integer"},
				"per_page": {Type: "integer"},
				"pages":    {Type: "integer"},
			},
		},
		"Links": {
			Type: "object",
			Properties: map[string]*Schema{
				"self":  {Type: "string"},
				"first": {Type: "string"},
				"last":  {Type: "string"},
				"prev":  {Type: "string"},
				"next":  {Type: "string"},
			},
		},
		"Error": {
			Type:     "object",
			Required: []string{"status", "code", "title"},
			Properties: map[string]*Schema{
				"status": {Type: "string"},
				"code":   {Type: "string"},
				"title":  {Type: "string"},
				"detail": {Type: "string"},
				"source": {
					Type: "object",
					Properties: map[string]*Schema{
						"pointer":   {Type: "string"},
						"parameter": {Type: "string"},
					},
				},
			},
		},
		"ErrorResponse": {
			Type:       "object",
			Required:   []string{"errors"},
			Properties: map[string]*Schema{"errors": {Type: "array", Items: &Schema{Ref: refPrefix + "Error"}}},
		},
	}
}

// Operation returns the documented operation at method and path.
func (spec *Spec) Operation(method, path string) (*Operation, bool) {
	item, ok := spec.Paths[path]
	if !ok {
		return nil, false
	}
	var op *Operation
	switch method {
	case http.MethodGet:
		op = item.Get
	case http.MethodPost:
		op = item.Post
	case http.MethodPatch:
		op = item.Patch
	case http.MethodDelete:
		op = item.Delete
	}
	return op, op != nil
}

// WithServer returns a copy of the spec listing baseURL as its server.
func (spec *Spec) WithServer(baseURL string) *Spec {
	cloned := *spec
	cloned.Servers = []Server{{URL: baseURL, Description: "Current server"}}
	return &cloned
}

// ToJSON converts the spec to JSON.
func (spec *Spec) ToJSON() ([]byte, error) {
	return json.MarshalIndent(spec, "", "  ")
}

// ToJSONCompact converts the spec to compact JSON.
func (spec *Spec) ToJSONCompact() ([]byte, error) {
	return json.Marshal(spec)
}

// String renders a short description for logs.
func (spec *Spec) String() string {
	n := 0
	for _, item := range spec.Paths {
		for _, op := range []*Operation{item.Get, item.Post, item.Patch, item.Delete} {
			if op != nil {
				n++
			}
		}
	}
	return fmt.Sprintf("%s %s (%d operations)", spec.Info.Title, spec.Info.Version, n)
}
