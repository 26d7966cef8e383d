package manifest

import (
	"fmt"
	"sort"

	"github.com/artpar/apiforge/core/apierror"
	"github.com/artpar/apiforge/core/schema"
)

// decoder converts generic decoded values into typed values, recording a
// violation for every value of the wrong shape.
type decoder struct {
	errs *apierror.ValidationError
}

func (d *decoder) fail(path, constraint, format string, args ...any) {
	d.errs.Addf(path, constraint, format, args...)
}

func (d *decoder) object(path string, v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		// Some YAML decoders produce non-string keys.
		out := make(map[string]any, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				d.fail(path, "shape", "key %v is not a string", k)
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	}
	d.fail(path, "shape", "expected an object, got %s", describe(v))
	return nil, false
}

func (d *decoder) list(path string, v any) ([]any, bool) {
	l, ok := v.([]any)
	if !ok {
		d.fail(path, "shape", "expected a list, got %s", describe(v))
	}
	return l, ok
}

func (d *decoder) str(path string, v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		d.fail(path, "shape", "expected a string, got %s", describe(v))
	}
	return s, ok
}

func (d *decoder) boolean(path string, v any) (bool, bool) {
	b, ok := v.(bool)
	if !ok {
		d.fail(path, "shape", "expected a boolean, got %s", describe(v))
	}
	return b, ok
}

func (d *decoder) integer(path string, v any) (int, bool) {
	f, ok := schema.AsFloat(v)
	if !ok || f != float64(int(f)) {
		d.fail(path, "shape", "expected an integer, got %s", describe(v))
		return 0, false
	}
	return int(f), true
}

func (d *decoder) number(path string, v any) (float64, bool) {
	f, ok := schema.AsFloat(v)
	if !ok {
		d.fail(path, "shape", "expected a number, got %s", describe(v))
	}
	return f, ok
}

func (d *decoder) strings(path string, v any) ([]string, bool) {
	l, ok := d.list(path, v)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(l))
	for i, item := range l {
		s, ok := d.str(fmt.Sprintf("%s[%d]", path, i), item)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

// only records a violation for every key of m not in allowed.
func (d *decoder) only(path string, m map[string]any, allowed ...string) {
	for _, k := range sortedKeys(m) {
		known := false
		for _, a := range allowed {
			if k == a {
				known = true
				break
			}
		}
		if !known {
			d.fail(path+"."+k, "unknown", "unknown key %q", k)
		}
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func describe(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "a string"
	case bool:
		return "a boolean"
	case []any:
		return "a list"
	case map[string]any, map[any]any:
		return "an object"
	}
	if _, ok := schema.AsFloat(v); ok {
		return "a number"
	}
	return fmt.Sprintf("%T", v)
}
