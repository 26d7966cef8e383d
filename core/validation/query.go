package validation

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/artpar/apiforge/core/apierror"
	"github.com/artpar/apiforge/core/entity"
	"github.com/artpar/apiforge/core/schema"
)

// Reserved query parameters.
const (
	ParamPage      = "page"
	ParamPerPage   = "perPage"
	ParamOrderBy   = "orderBy"
	ParamOrder     = "order"
	ParamRelations = "relations"
)

// FilterOp is a comparison applied by a filter parameter.
type FilterOp string

const (
	OpEq   FilterOp = "eq"
	OpNeq  FilterOp = "neq"
	OpGt   FilterOp = "gt"
	OpGte  FilterOp = "gte"
	OpLt   FilterOp = "lt"
	OpLte  FilterOp = "lte"
	OpLike FilterOp = "like"
	OpIn   FilterOp = "in"
)

// Filter restricts a list to rows whose Field compares to Value. OpIn
// uses Values instead.
type Filter struct {
	Field  string
	Op     FilterOp
	Value  any
	Values []any
}

// Sort orders a list by one column.
type Sort struct {
	Field string
	Desc  bool
}

// ListQuery is a validated list request.
type ListQuery struct {
	Page      int
	PerPage   int
	Sort      *Sort
	Filters   []Filter
	Relations []string
}

// Offset returns the number of rows to skip.
func (q ListQuery) Offset() int {
	return (q.Page - 1) * q.PerPage
}

// Parameter documents one accepted query parameter.
type Parameter struct {
	Name        string
	Kind        schema.Kind
	Values      []string
	Description string
}

// opsFor returns the filter operations that apply to kind.
func opsFor(kind schema.Kind) []FilterOp {
	switch {
	case kind == schema.KindJSON || kind == schema.KindPassword:
		return nil
	case kind.IsNumeric() || kind == schema.KindDate || kind == schema.KindTimestamp:
		return []FilterOp{OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpIn}
	case kind == schema.KindBoolean:
		return []FilterOp{OpEq, OpNeq}
	case kind == schema.KindUUID || kind == schema.KindEnum:
		return []FilterOp{OpEq, OpNeq, OpIn}
	}
	return []FilterOp{OpEq, OpNeq, OpLike, OpIn}
}

// queryable returns the columns usable in filters and sorting.
func queryable(e *entity.Compiled) []entity.Column {
	var out []entity.Column
	for _, col := range e.Columns {
		if col.Exposed() && len(opsFor(col.Kind)) > 0 {
			out = append(out, col)
		}
	}
	return out
}

// List validates the query of a list request on e.
func (v Validator) List(e *entity.Compiled, q url.Values) (ListQuery, error) {
	c := &collector{mode: v.Mode, errs: &apierror.ValidationError{}}
	lq := ListQuery{Page: 1, PerPage: v.DefaultPerPage}

	cols := map[string]entity.Column{}
	for _, col := range queryable(e) {
		cols[col.Name] = col
	}

	for _, key := range sortedParams(q) {
		raw := q.Get(key)
		path := "query." + key

		switch key {
		case ParamPage:
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				c.add(path, "range", "must be a positive integer")
			} else {
				lq.Page = n
			}
		case ParamPerPage:
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > v.MaxPerPage {
				c.add(path, "range", fmt.Sprintf("must be an integer between 1 and %d", v.MaxPerPage))
			} else {
				lq.PerPage = n
			}
		case ParamOrderBy:
			if _, ok := cols[raw]; !ok {
				c.add(path, "unknown", fmt.Sprintf("cannot sort by %q", raw))
			} else {
				if lq.Sort == nil {
					lq.Sort = &Sort{}
				}
				lq.Sort.Field = raw
			}
		case ParamOrder:
			switch strings.ToLower(raw) {
			case "asc":
			case "desc":
				if lq.Sort == nil {
					lq.Sort = &Sort{}
				}
				lq.Sort.Desc = true
			default:
				c.add(path, "enum", "must be asc or desc")
			}
		case ParamRelations:
			rels, msg := v.relations(e, raw)
			if msg != "" {
				c.add(path, "relations", msg)
			} else {
				lq.Relations = rels
			}
		default:
			f, msg := parseFilter(cols, key, raw)
			if msg != "" {
				c.add(path, "filter", msg)
			} else {
				lq.Filters = append(lq.Filters, f)
			}
		}
		if c.done() {
			break
		}
	}

	// order without orderBy sorts by creation time.
	if lq.Sort != nil && lq.Sort.Field == "" {
		lq.Sort.Field = schema.FieldCreatedAt
	}

	if err := c.result(); err != nil {
		return ListQuery{}, err
	}
	return lq, nil
}

// Single validates the query of a single-record request on e. Only
// relations is accepted.
func (v Validator) Single(e *entity.Compiled, q url.Values) ([]string, error) {
	c := &collector{mode: v.Mode, errs: &apierror.ValidationError{}}
	var rels []string
	for _, key := range sortedParams(q) {
		if key != ParamRelations {
			c.add("query."+key, "unknown", "unknown query parameter")
		} else {
			var msg string
			if rels, msg = v.relations(e, q.Get(key)); msg != "" {
				c.add("query."+key, "relations", msg)
			}
		}
		if c.done() {
			break
		}
	}
	if err := c.result(); err != nil {
		return nil, err
	}
	return rels, nil
}

// relations parses a comma separated list of dotted relation paths.
func (v Validator) relations(e *entity.Compiled, raw string) ([]string, string) {
	var out []string
	seen := map[string]bool{}
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		segments := strings.Split(p, ".")
		if len(segments) > v.MaxExpandDepth {
			return nil, fmt.Sprintf("%q exceeds the maximum depth of %d", p, v.MaxExpandDepth)
		}
		cur := e
		for _, seg := range segments {
			r, ok := cur.Relation(seg)
			if !ok {
				return nil, fmt.Sprintf("%s has no relation %q", cur.Name, seg)
			}
			cur = r.Target
		}
		seen[p] = true
		out = append(out, p)
	}
	return out, ""
}

// parseFilter parses "field", "field_op" or "field_in" parameters.
func parseFilter(cols map[string]entity.Column, key, raw string) (Filter, string) {
	field, op := key, OpEq
	if _, ok := cols[key]; !ok {
		i := strings.LastIndex(key, "_")
		if i <= 0 {
			return Filter{}, "unknown query parameter"
		}
		field, op = key[:i], FilterOp(key[i+1:])
	}

	col, ok := cols[field]
	if !ok {
		return Filter{}, "unknown query parameter"
	}
	allowed := false
	for _, candidate := range opsFor(col.Kind) {
		if candidate == op {
			allowed = true
			break
		}
	}
	if !allowed {
		return Filter{}, fmt.Sprintf("operator %q does not apply to %s", op, field)
	}

	f := Filter{Field: field, Op: op}
	if op == OpIn {
		for _, part := range strings.Split(raw, ",") {
			val, msg := CoerceString(col.Kind, valuesOf(col), strings.TrimSpace(part))
			if msg != "" {
				return Filter{}, msg
			}
			f.Values = append(f.Values, val)
		}
		return f, ""
	}
	if op == OpLike {
		f.Value = raw
		return f, ""
	}
	val, msg := CoerceString(col.Kind, valuesOf(col), raw)
	if msg != "" {
		return Filter{}, msg
	}
	f.Value = val
	return f, ""
}

// ListParameters documents every query parameter List accepts on e.
func (v Validator) ListParameters(e *entity.Compiled) []Parameter {
	cols := queryable(e)
	sortable := make([]string, len(cols))
	for i, col := range cols {
		sortable[i] = col.Name
	}

	params := []Parameter{
		{Name: ParamPage, Kind: schema.KindInteger, Description: "Page number, starting at 1."},
		{Name: ParamPerPage, Kind: schema.KindInteger, Description: fmt.Sprintf("Page size, 1 to %d. Defaults to %d.", v.MaxPerPage, v.DefaultPerPage)},
		{Name: ParamOrderBy, Kind: schema.KindEnum, Values: sortable, Description: "Column to sort by."},
		{Name: ParamOrder, Kind: schema.KindEnum, Values: []string{"asc", "desc"}, Description: "Sort direction."},
	}
	params = append(params, v.SingleParameters(e)...)

	for _, col := range cols {
		for _, op := range opsFor(col.Kind) {
			p := Parameter{Name: col.Name + "_" + string(op), Kind: col.Kind, Values: valuesOf(col)}
			switch op {
			case OpIn:
				p.Kind = schema.KindString
				p.Values = nil
				p.Description = fmt.Sprintf("%s is one of the comma separated values.", col.Name)
			case OpLike:
				p.Kind = schema.KindString
				p.Description = fmt.Sprintf("%s matches the pattern; %% is a wildcard.", col.Name)
			default:
				p.Description = fmt.Sprintf("%s %s value.", col.Name, op)
			}
			params = append(params, p)
		}
	}
	return params
}

// SingleParameters documents the query parameters Single accepts.
func (v Validator) SingleParameters(e *entity.Compiled) []Parameter {
	if len(e.Relations) == 0 || v.MaxExpandDepth < 1 {
		return nil
	}
	return []Parameter{{
		Name:        ParamRelations,
		Kind:        schema.KindString,
		Description: fmt.Sprintf("Comma separated relation paths to embed, up to %d levels deep.", v.MaxExpandDepth),
	}}
}

func valuesOf(col entity.Column) []string {
	if col.Property != nil {
		return col.Property.Values
	}
	return nil
}

func sortedParams(q url.Values) []string {
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
