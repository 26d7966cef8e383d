package schema

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sync"
	"unicode/utf8"

	"github.com/artpar/apiforge/core/apierror"
)

// Constraint identifiers reported in field errors.
const (
	ConstraintMin       = "min"
	ConstraintMax       = "max"
	ConstraintMinLength = "minLength"
	ConstraintMaxLength = "maxLength"
	ConstraintPattern   = "pattern"
)

var patterns sync.Map // string -> *regexp.Regexp

// Evaluate checks value against every constraint and returns the
// violations in a fixed order: minLength, maxLength, pattern, min, max.
// Values of the wrong shape for a constraint are skipped; kind checks
// happen before evaluation.
// This is a PURE function.
func (c Constraints) Evaluate(field string, value any) []apierror.FieldError {
	var out []apierror.FieldError

	if s, ok := value.(string); ok {
		n := utf8.RuneCountInString(s)
		if c.MinLength != nil && n < *c.MinLength {
			out = append(out, apierror.FieldError{
				Field: field, Constraint: ConstraintMinLength,
				Message: fmt.Sprintf("must be at least %d characters", *c.MinLength),
			})
		}
		if c.MaxLength != nil && n > *c.MaxLength {
			out = append(out, apierror.FieldError{
				Field: field, Constraint: ConstraintMaxLength,
				Message: fmt.Sprintf("must be at most %d characters", *c.MaxLength),
			})
		}
		if c.Pattern != "" {
			if re := compilePattern(c.Pattern); re != nil && !re.MatchString(s) {
				out = append(out, apierror.FieldError{
					Field: field, Constraint: ConstraintPattern,
					Message: "does not match required pattern",
				})
			}
		}
	}

	if f, ok := AsFloat(value); ok {
		if c.Min != nil && f < *c.Min {
			out = append(out, apierror.FieldError{
				Field: field, Constraint: ConstraintMin,
				Message: fmt.Sprintf("must be at least %v", *c.Min),
			})
		}
		if c.Max != nil && f > *c.Max {
			out = append(out, apierror.FieldError{
				Field: field, Constraint: ConstraintMax,
				Message: fmt.Sprintf("must be at most %v", *c.Max),
			})
		}
	}

	return out
}

func compilePattern(p string) *regexp.Regexp {
	if re, ok := patterns.Load(p); ok {
		return re.(*regexp.Regexp)
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return nil
	}
	patterns.Store(p, re)
	return re
}

// AsFloat converts the numeric shapes produced by JSON and YAML decoding
// to float64. Strings are not numbers.
func AsFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
