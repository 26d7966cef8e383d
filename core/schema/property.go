package schema

import (
	"fmt"
	"regexp"

	"github.com/artpar/apiforge/core/apierror"
)

// Kind is the primitive kind of a property. The set is closed.
type Kind string

const (
	KindString    Kind = "string"
	KindText      Kind = "text"
	KindNumber    Kind = "number"
	KindInteger   Kind = "integer"
	KindMoney     Kind = "money"
	KindBoolean   Kind = "boolean"
	KindDate      Kind = "date"
	KindTimestamp Kind = "timestamp"
	KindEmail     Kind = "email"
	KindLink      Kind = "link"
	KindUUID      Kind = "uuid"
	KindEnum      Kind = "enum"
	KindPassword  Kind = "password"
	KindJSON      Kind = "json"
)

var kinds = []Kind{
	KindString, KindText, KindNumber, KindInteger, KindMoney, KindBoolean,
	KindDate, KindTimestamp, KindEmail, KindLink, KindUUID, KindEnum,
	KindPassword, KindJSON,
}

// Kinds returns every recognized kind.
func Kinds() []Kind {
	out := make([]Kind, len(kinds))
	copy(out, kinds)
	return out
}

// Valid reports whether k is a recognized kind.
func (k Kind) Valid() bool {
	for _, known := range kinds {
		if k == known {
			return true
		}
	}
	return false
}

// IsTextual reports whether values of k are carried as strings.
func (k Kind) IsTextual() bool {
	switch k {
	case KindString, KindText, KindEmail, KindLink, KindUUID, KindEnum, KindPassword, KindDate, KindTimestamp:
		return true
	}
	return false
}

// IsNumeric reports whether values of k are numbers.
func (k Kind) IsNumeric() bool {
	return k == KindNumber || k == KindInteger || k == KindMoney
}

// PropertyDefinition declares one property of an entity.
type PropertyDefinition struct {
	Name        string      `json:"name"`
	Kind        Kind        `json:"type"`
	Nullable    bool        `json:"nullable,omitempty"`
	Default     any         `json:"default,omitempty"`
	Unique      bool        `json:"unique,omitempty"`
	Hidden      bool        `json:"hidden,omitempty"`
	Values      []string    `json:"values,omitempty"`
	Description string      `json:"description,omitempty"`
	Constraints Constraints `json:"constraints,omitempty"`
}

// Required reports whether create requests must supply the property.
func (p PropertyDefinition) Required() bool {
	return !p.Nullable && p.Default == nil
}

// Exposed reports whether the property appears in responses.
func (p PropertyDefinition) Exposed() bool {
	return !p.Hidden && p.Kind != KindPassword
}

// Check records every shape violation of the definition under path.
func (p PropertyDefinition) Check(path string, errs *apierror.ValidationError) {
	if !IsIdentifier(p.Name) {
		errs.Addf(path+".name", "identifier", "%q is not a valid identifier", p.Name)
	}
	if IsImplicit(p.Name) {
		errs.Addf(path+".name", "reserved", "%q is implicit on every entity", p.Name)
	}
	if !p.Kind.Valid() {
		errs.Addf(path+".type", "kind", "unknown kind %q", p.Kind)
		return
	}

	if p.Kind == KindEnum && len(p.Values) == 0 {
		errs.Add(path+".values", "required", "enum requires values")
	}
	if p.Kind != KindEnum && len(p.Values) > 0 {
		errs.Add(path+".values", "kind", "values only apply to enum")
	}
	if p.Kind == KindPassword && p.Default != nil {
		errs.Add(path+".default", "kind", "password cannot have a default")
	}

	p.Constraints.check(path+".constraints", p.Kind, errs)

	if p.Default != nil {
		if msg := p.conforms(p.Default); msg != "" {
			errs.Addf(path+".default", "default", "default %v %s", p.Default, msg)
		}
	}
}

// conforms returns a description of why v is not a valid value for p, or
// the empty string. Only the shapes a decoded document can produce are
// handled.
func (p PropertyDefinition) conforms(v any) string {
	switch p.Kind {
	case KindBoolean:
		if _, ok := v.(bool); !ok {
			return "is not a boolean"
		}
	case KindInteger:
		f, ok := AsFloat(v)
		if !ok || f != float64(int64(f)) {
			return "is not an integer"
		}
	case KindNumber, KindMoney:
		if _, ok := AsFloat(v); !ok {
			return "is not a number"
		}
	case KindEnum:
		s, ok := v.(string)
		if !ok {
			return "is not a string"
		}
		for _, allowed := range p.Values {
			if s == allowed {
				return ""
			}
		}
		return "is not one of the enum values"
	case KindJSON:
		return ""
	default:
		if _, ok := v.(string); !ok {
			return "is not a string"
		}
	}
	if violations := p.Constraints.Evaluate(p.Name, v); len(violations) > 0 {
		return violations[0].Message
	}
	return ""
}

// Constraints are the validation constraints of a property. Nil pointers
// mean unset.
type Constraints struct {
	MinLength *int     `json:"minLength,omitempty"`
	MaxLength *int     `json:"maxLength,omitempty"`
	Pattern   string   `json:"pattern,omitempty"`
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
}

// Empty reports whether no constraint is set.
func (c Constraints) Empty() bool {
	return c.MinLength == nil && c.MaxLength == nil && c.Pattern == "" && c.Min == nil && c.Max == nil
}

func (c Constraints) check(path string, kind Kind, errs *apierror.ValidationError) {
	if (c.MinLength != nil || c.MaxLength != nil || c.Pattern != "") && !kind.IsTextual() {
		errs.Addf(path, "kind", "length and pattern constraints do not apply to %s", kind)
	}
	if (c.Min != nil || c.Max != nil) && !kind.IsNumeric() {
		errs.Addf(path, "kind", "range constraints do not apply to %s", kind)
	}
	if c.MinLength != nil && *c.MinLength < 0 {
		errs.Add(path+".minLength", "range", "must not be negative")
	}
	if c.MinLength != nil && c.MaxLength != nil && *c.MinLength > *c.MaxLength {
		errs.Add(path, "range", "minLength exceeds maxLength")
	}
	if c.Min != nil && c.Max != nil && *c.Min > *c.Max {
		errs.Add(path, "range", "min exceeds max")
	}
	if c.Pattern != "" {
		if _, err := regexp.Compile(c.Pattern); err != nil {
			errs.Add(path+".pattern", "pattern", fmt.Sprintf("invalid pattern: %v", err))
		}
	}
}
