package manifest

import (
	"fmt"

	"github.com/artpar/apiforge/core/schema"
)

// policyRules decodes the policies of one entity. Two forms are accepted:
//
//	policies: { read: public, update: [editor], "*": deny }
//	policies: [ { operation: read, access: public }, { operation: update, roles: [editor] } ]
//
// Anything that could be read two ways is rejected.
func (l *loader) policyRules(path string, v any) []schema.PolicyRule {
	d := &l.dec
	if v == nil {
		return nil
	}

	var rules []schema.PolicyRule
	seen := map[schema.Operation]bool{}
	add := func(rulePath string, op schema.Operation, value any) {
		if !op.Valid() {
			d.fail(rulePath, "operation", "unknown operation %q", op)
			return
		}
		if seen[op] {
			d.fail(rulePath, "ambiguous", "operation %q has more than one rule", op)
			return
		}
		seen[op] = true
		if r, ok := l.policyRule(rulePath, op, value); ok {
			rules = append(rules, r)
		}
	}

	switch ps := v.(type) {
	case []any:
		for i, item := range ps {
			itemPath := fmt.Sprintf("%s[%d]", path, i)
			m, ok := d.object(itemPath, item)
			if !ok {
				continue
			}
			d.only(itemPath, m, "operation", "access", "roles", "allow")
			op, ok := d.str(itemPath+".operation", m["operation"])
			if !ok {
				continue
			}
			body := map[string]any{}
			for _, k := range []string{"access", "roles", "allow"} {
				if val, has := m[k]; has {
					body[k] = val
				}
			}
			add(itemPath, schema.Operation(op), body)
		}
	default:
		m, ok := d.object(path, v)
		if !ok {
			return nil
		}
		for _, op := range policyKeyOrder(m) {
			add(path+"."+op, schema.Operation(op), m[op])
		}
	}
	return rules
}

// unsettled returns the operations rules leave to the default deny.
func unsettled(rules []schema.PolicyRule) []schema.Operation {
	set := map[schema.Operation]bool{}
	for _, r := range rules {
		if r.Operation == schema.OpWildcard {
			return nil
		}
		set[r.Operation] = true
	}
	var out []schema.Operation
	for _, op := range schema.Operations {
		if !set[op] {
			out = append(out, op)
		}
	}
	return out
}

// policyKeyOrder returns the keys of m with concrete operations first in
// their canonical order, then the wildcard, then anything unknown.
func policyKeyOrder(m map[string]any) []string {
	var keys []string
	for _, op := range schema.Operations {
		if _, ok := m[string(op)]; ok {
			keys = append(keys, string(op))
		}
	}
	if _, ok := m[string(schema.OpWildcard)]; ok {
		keys = append(keys, string(schema.OpWildcard))
	}
	for _, k := range sortedKeys(m) {
		if !schema.Operation(k).Valid() {
			keys = append(keys, k)
		}
	}
	return keys
}

// accessKeywords maps the accepted spellings of non-role access levels.
var accessKeywords = map[string]schema.Access{
	"public":        schema.AccessPublic,
	"authenticated": schema.AccessAuthenticated,
	"deny":          schema.AccessDeny,
	"forbidden":     schema.AccessDeny,
}

func (l *loader) policyRule(path string, op schema.Operation, v any) (schema.PolicyRule, bool) {
	d := &l.dec
	rule := schema.PolicyRule{Operation: op}

	switch val := v.(type) {
	case string:
		access, ok := accessKeywords[val]
		if !ok {
			d.fail(path, "ambiguous", "access %q is not a keyword; list roles as [%s]", val, val)
			return rule, false
		}
		rule.Access = access
		return rule, true

	case []any:
		roles, ok := l.roles(path, val)
		if !ok {
			return rule, false
		}
		rule.Access = schema.AccessRoles
		rule.Roles = roles
		return rule, true

	case map[string]any:
		d.only(path, val, "access", "roles", "allow")
		rolesValue, hasRoles := val["roles"]
		if allow, ok := val["allow"]; ok {
			if hasRoles {
				d.fail(path, "ambiguous", "roles and allow are both set")
				return rule, false
			}
			rolesValue, hasRoles = allow, true
		}

		accessValue, hasAccess := val["access"]
		if !hasAccess {
			if !hasRoles {
				d.fail(path, "required", "rule needs access or roles")
				return rule, false
			}
			return l.policyRule(path, op, rolesValue)
		}

		access, ok := d.str(path+".access", accessValue)
		if !ok {
			return rule, false
		}
		if access == "roles" || access == "restricted" {
			if !hasRoles {
				d.fail(path+".roles", "required", "access %q requires roles", access)
				return rule, false
			}
			items, ok := d.list(path+".roles", rolesValue)
			if !ok {
				return rule, false
			}
			return l.policyRule(path, op, items)
		}
		if hasRoles {
			d.fail(path, "ambiguous", "access %q cannot be combined with roles", access)
			return rule, false
		}
		return l.policyRule(path, op, access)

	default:
		d.fail(path, "shape", "expected an access keyword, a role list or an object, got %s", describe(v))
		return rule, false
	}
}

// roles decodes a role list. Empty lists and lists mixing keywords with
// role ids are rejected. Duplicates are dropped, order is kept.
func (l *loader) roles(path string, items []any) ([]string, bool) {
	d := &l.dec
	if len(items) == 0 {
		d.fail(path, "ambiguous", "role list is empty; use deny to forbid the operation")
		return nil, false
	}

	var roles []string
	seen := map[string]bool{}
	ok := true
	for i, item := range items {
		itemPath := fmt.Sprintf("%s[%d]", path, i)
		role, isStr := d.str(itemPath, item)
		if !isStr {
			ok = false
			continue
		}
		if _, kw := accessKeywords[role]; kw {
			d.fail(itemPath, "ambiguous", "keyword %q cannot appear in a role list", role)
			ok = false
			continue
		}
		if role == "" {
			d.fail(itemPath, "required", "role id is empty")
			ok = false
			continue
		}
		if !seen[role] {
			seen[role] = true
			roles = append(roles, role)
		}
	}
	return roles, ok
}
