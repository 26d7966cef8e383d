package validation

import (
	"sort"

	"github.com/artpar/apiforge/core/apierror"
	"github.com/artpar/apiforge/core/schema"
)

// Mode selects how many violations a validation reports.
type Mode string

const (
	// ModeAll reports every violation.
	ModeAll Mode = "all"

	// ModeFirst stops at the first violation. Violations are found in a
	// fixed order, so the reported one is deterministic.
	ModeFirst Mode = "first"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool { return m == ModeAll || m == ModeFirst }

// Validator validates request bodies and list queries.
type Validator struct {
	Mode           Mode
	DefaultPerPage int
	MaxPerPage     int
	MaxExpandDepth int
}

// Default returns a validator with the default limits.
func Default() Validator {
	return Validator{Mode: ModeAll, DefaultPerPage: 20, MaxPerPage: 100, MaxExpandDepth: 2}
}

// collector accumulates violations and knows when to stop.
type collector struct {
	mode Mode
	errs *apierror.ValidationError
}

func (c *collector) add(field, constraint, message string) {
	c.errs.Add(field, constraint, message)
}

func (c *collector) done() bool {
	return c.mode == ModeFirst && !c.errs.Empty()
}

func (c *collector) result() error {
	if c.mode == ModeFirst && len(c.errs.Fields) > 1 {
		c.errs.Fields = c.errs.Fields[:1]
	}
	return c.errs.Err()
}

// Body validates body against s and returns the canonical values to
// persist. Unknown and read-only fields are rejected. For non-partial
// schemas missing fields take their defaults.
func (v Validator) Body(s *Schema, body map[string]any) (map[string]any, error) {
	c := &collector{mode: v.Mode, errs: &apierror.ValidationError{}}

	// Unknown fields first, in name order.
	keys := make([]string, 0, len(body))
	for k := range body {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, ok := s.Field(k); ok {
			continue
		}
		if schema.IsImplicit(k) {
			c.add(k, "readOnly", "is read-only")
		} else {
			c.add(k, "unknown", "unknown field - not defined in schema")
		}
		if c.done() {
			return nil, c.result()
		}
	}

	out := make(map[string]any, len(s.Fields))
	for _, f := range s.Fields {
		val, has := body[f.Name]
		if !has {
			if s.Partial {
				continue
			}
			if f.Default != nil {
				if d, msg := Coerce(f.Kind, f.Values, f.Default); msg == "" {
					out[f.Name] = d
				}
			} else if f.Required {
				c.add(f.Name, "required", "is required")
			}
		} else {
			v.field(c, f, val, out)
		}
		if c.done() {
			return nil, c.result()
		}
	}

	if err := c.result(); err != nil {
		return nil, err
	}
	return out, nil
}

func (v Validator) field(c *collector, f Field, val any, out map[string]any) {
	if val == nil {
		if !f.Nullable {
			c.add(f.Name, "nullable", "must not be null")
			return
		}
		out[f.Name] = nil
		return
	}

	if f.Links {
		ids, msg := coerceLinks(val)
		if msg != "" {
			c.add(f.Name, "type", msg)
			return
		}
		out[f.Name] = ids
		return
	}

	coerced, msg := Coerce(f.Kind, f.Values, val)
	if msg != "" {
		c.add(f.Name, "type", msg)
		return
	}
	violations := f.Constraints.Evaluate(f.Name, coerced)
	if len(violations) > 0 {
		c.errs.Fields = append(c.errs.Fields, violations...)
		return
	}
	out[f.Name] = coerced
}

// coerceLinks validates a list of ids, dropping duplicates.
func coerceLinks(val any) ([]string, string) {
	items, ok := val.([]any)
	if !ok {
		if strs, isStrs := val.([]string); isStrs {
			items = make([]any, len(strs))
			for i, s := range strs {
				items[i] = s
			}
		} else {
			return nil, "must be a list of ids"
		}
	}
	ids := make([]string, 0, len(items))
	seen := map[string]bool{}
	for _, item := range items {
		id, msg := Coerce(schema.KindUUID, nil, item)
		if msg != "" {
			return nil, "must be a list of ids: " + msg
		}
		if s := id.(string); !seen[s] {
			seen[s] = true
			ids = append(ids, s)
		}
	}
	return ids, ""
}
