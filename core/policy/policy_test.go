package policy

import (
	"context"
	"testing"

	"github.com/artpar/apiforge/core/schema"
)

var everyone = RequestContext{
	Authenticated: true,
	Subject:       "root",
	Roles:         []string{"admin", "editor", "owner", "superuser"},
}

// TestAuthorize_FailClosed checks that operations without rules are denied
// even for a caller holding every role.
func TestAuthorize_FailClosed(t *testing.T) {
	table := Compile("Secret", nil)

	for _, op := range schema.Operations {
		for _, rc := range []RequestContext{Anonymous, everyone} {
			d := table.Authorize(op, rc)
			if d.Allowed {
				t.Errorf("Authorize(%s, %+v) allowed, want deny", op, rc)
			}
			if d.Rule.Source != SourceDefault {
				t.Errorf("expected default source, got %q", d.Rule.Source)
			}
		}
	}
	if got := table.Defaulted(); len(got) != 4 {
		t.Errorf("expected 4 defaulted operations, got %v", got)
	}
}

func TestAuthorize_ExactBeatsWildcard(t *testing.T) {
	tests := []struct {
		name  string
		rules []schema.PolicyRule
		op    schema.Operation
		rc    RequestContext
		allow bool
		src   Source
	}{
		{
			name: "exact deny over wildcard public",
			rules: []schema.PolicyRule{
				{Operation: schema.OpWildcard, Access: schema.AccessPublic},
				{Operation: schema.OpDelete, Access: schema.AccessDeny},
			},
			op: schema.OpDelete, rc: everyone, allow: false, src: SourceExact,
		},
		{
			name: "exact public over wildcard deny",
			rules: []schema.PolicyRule{
				{Operation: schema.OpRead, Access: schema.AccessPublic},
				{Operation: schema.OpWildcard, Access: schema.AccessDeny},
			},
			op: schema.OpRead, rc: Anonymous, allow: true, src: SourceExact,
		},
		{
			name: "wildcard applies without exact",
			rules: []schema.PolicyRule{
				{Operation: schema.OpRead, Access: schema.AccessPublic},
				{Operation: schema.OpWildcard, Access: schema.AccessAuthenticated},
			},
			op: schema.OpUpdate, rc: Anonymous, allow: false, src: SourceWildcard,
		},
		{
			name: "roles match",
			rules: []schema.PolicyRule{
				{Operation: schema.OpUpdate, Access: schema.AccessRoles, Roles: []string{"editor"}},
			},
			op: schema.OpUpdate, rc: RequestContext{Authenticated: true, Roles: []string{"editor"}}, allow: true, src: SourceExact,
		},
		{
			name: "roles mismatch",
			rules: []schema.PolicyRule{
				{Operation: schema.OpUpdate, Access: schema.AccessRoles, Roles: []string{"editor"}},
			},
			op: schema.OpUpdate, rc: RequestContext{Authenticated: true, Roles: []string{"viewer"}}, allow: false, src: SourceExact,
		},
		{
			name: "roles need authentication",
			rules: []schema.PolicyRule{
				{Operation: schema.OpUpdate, Access: schema.AccessRoles, Roles: []string{"editor"}},
			},
			op: schema.OpUpdate, rc: RequestContext{Roles: []string{"editor"}}, allow: false, src: SourceExact,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Compile("Doc", tt.rules).Authorize(tt.op, tt.rc)
			if d.Allowed != tt.allow {
				t.Errorf("Allowed = %v, want %v (reason %q)", d.Allowed, tt.allow, d.Reason)
			}
			if d.Rule.Source != tt.src {
				t.Errorf("Source = %q, want %q", d.Rule.Source, tt.src)
			}
			if !d.Allowed && d.Reason == "" {
				t.Error("denials should carry a reason")
			}
		})
	}
}

func TestAuthorize_Deterministic(t *testing.T) {
	rules := []schema.PolicyRule{
		{Operation: schema.OpWildcard, Access: schema.AccessRoles, Roles: []string{"b", "a"}},
	}
	first := Compile("X", rules)
	second := Compile("X", rules)
	for _, op := range schema.Operations {
		a, b := first.Requirement(op), second.Requirement(op)
		if a.String() != b.String() {
			t.Errorf("requirement of %s differs: %s vs %s", op, a, b)
		}
	}
	if got := first.Requirement(schema.OpRead).String(); got != "roles(a,b)" {
		t.Errorf("expected sorted roles, got %q", got)
	}
}

func TestRequirement_NeedsIdentity(t *testing.T) {
	if (Requirement{Access: schema.AccessPublic}).NeedsIdentity() {
		t.Error("public should not need identity")
	}
	if !(Requirement{Access: schema.AccessAuthenticated}).NeedsIdentity() {
		t.Error("authenticated should need identity")
	}
	if !(Requirement{Access: schema.AccessRoles, Roles: []string{"a"}}).NeedsIdentity() {
		t.Error("roles should need identity")
	}
}

func TestRequestContext_Context(t *testing.T) {
	if rc := FromContext(context.Background()); rc.Authenticated {
		t.Error("empty context should be anonymous")
	}
	ctx := WithRequestContext(context.Background(), RequestContext{Authenticated: true, Subject: "u1", Roles: []string{"admin"}})
	rc := FromContext(ctx)
	if !rc.Authenticated || rc.Subject != "u1" || !rc.HasRole("admin") {
		t.Errorf("unexpected request context %+v", rc)
	}
}
