// Package policy evaluates per-entity, per-operation access rules.
//
// Rules are compiled once into a Table. Authorize is a pure function of
// the Table and the caller's RequestContext: an exact operation rule wins
// over the wildcard rule, and an operation with neither is denied.
package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/artpar/apiforge/core/schema"
)

// Source records where a Requirement came from.
type Source string

const (
	SourceExact    Source = "exact"
	SourceWildcard Source = "wildcard"
	SourceDefault  Source = "default"
)

// Requirement is the effective rule for one operation. It is what the
// router enforces and what the API description documents.
type Requirement struct {
	Access schema.Access `json:"access"`
	Roles  []string      `json:"roles,omitempty"`
	Source Source        `json:"source"`
}

// NeedsIdentity reports whether the requirement can only be met by an
// authenticated caller.
func (r Requirement) NeedsIdentity() bool {
	return r.Access == schema.AccessAuthenticated || r.Access == schema.AccessRoles
}

// String renders the requirement for logs and CLI output.
func (r Requirement) String() string {
	switch r.Access {
	case schema.AccessRoles:
		return fmt.Sprintf("roles(%s)", strings.Join(r.Roles, ","))
	case schema.AccessDeny:
		if r.Source == SourceDefault {
			return "deny(default)"
		}
	}
	return string(r.Access)
}

// Table is the precomputed rule lookup of one entity.
type Table struct {
	entity string
	reqs   map[schema.Operation]Requirement
}

// Compile builds the Table of an entity from its declared rules. Rules
// are assumed to be unambiguous, which the manifest loader guarantees.
func Compile(entity string, rules []schema.PolicyRule) *Table {
	exact := map[schema.Operation]schema.PolicyRule{}
	var wildcard *schema.PolicyRule
	for i := range rules {
		r := rules[i]
		if r.Operation == schema.OpWildcard {
			wildcard = &r
			continue
		}
		exact[r.Operation] = r
	}

	t := &Table{entity: entity, reqs: make(map[schema.Operation]Requirement, len(schema.Operations))}
	for _, op := range schema.Operations {
		switch r, ok := exact[op]; {
		case ok:
			t.reqs[op] = requirementOf(r, SourceExact)
		case wildcard != nil:
			t.reqs[op] = requirementOf(*wildcard, SourceWildcard)
		default:
			t.reqs[op] = Requirement{Access: schema.AccessDeny, Source: SourceDefault}
		}
	}
	return t
}

func requirementOf(r schema.PolicyRule, src Source) Requirement {
	req := Requirement{Access: r.Access, Source: src}
	if r.Access == schema.AccessRoles {
		req.Roles = append([]string(nil), r.Roles...)
		sort.Strings(req.Roles)
	}
	return req
}

// Entity returns the entity the table belongs to.
func (t *Table) Entity() string { return t.entity }

// Requirement returns the effective requirement of op. Unknown operations
// are denied.
func (t *Table) Requirement(op schema.Operation) Requirement {
	if req, ok := t.reqs[op]; ok {
		return req
	}
	return Requirement{Access: schema.AccessDeny, Source: SourceDefault}
}

// Defaulted returns the operations that fall back to the default deny.
func (t *Table) Defaulted() []schema.Operation {
	var out []schema.Operation
	for _, op := range schema.Operations {
		if t.reqs[op].Source == SourceDefault {
			out = append(out, op)
		}
	}
	return out
}

// Decision is the outcome of Authorize.
type Decision struct {
	Allowed bool
	Reason  string
	Rule    Requirement
}

// Authorize decides whether rc may perform op on the table's entity.
// This is a PURE function.
func (t *Table) Authorize(op schema.Operation, rc RequestContext) Decision {
	req := t.Requirement(op)
	d := Decision{Rule: req}

	switch req.Access {
	case schema.AccessPublic:
		d.Allowed = true
	case schema.AccessAuthenticated:
		d.Allowed = rc.Authenticated
		if !d.Allowed {
			d.Reason = "authentication required"
		}
	case schema.AccessRoles:
		if !rc.Authenticated {
			d.Reason = "authentication required"
			break
		}
		for _, role := range req.Roles {
			if rc.HasRole(role) {
				d.Allowed = true
				break
			}
		}
		if !d.Allowed {
			d.Reason = fmt.Sprintf("requires one of roles %s", strings.Join(req.Roles, ", "))
		}
	default:
		if req.Source == SourceDefault {
			d.Reason = fmt.Sprintf("no rule allows %s", op)
		} else {
			d.Reason = fmt.Sprintf("%s is denied", op)
		}
	}
	return d
}

// RequestContext carries the caller identity supplied by the
// authentication layer.
type RequestContext struct {
	Authenticated bool
	Subject       string
	Roles         []string
}

// Anonymous is the context of an unauthenticated caller.
var Anonymous = RequestContext{}

// HasRole reports whether the caller holds role.
func (rc RequestContext) HasRole(role string) bool {
	for _, r := range rc.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type contextKey struct{}

// WithRequestContext returns a context carrying rc.
func WithRequestContext(ctx context.Context, rc RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rc)
}

// FromContext returns the RequestContext carried by ctx, or Anonymous.
func FromContext(ctx context.Context) RequestContext {
	if rc, ok := ctx.Value(contextKey{}).(RequestContext); ok {
		return rc
	}
	return Anonymous
}
