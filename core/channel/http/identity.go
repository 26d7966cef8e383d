package http

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/artpar/apiforge/core/policy"
	"github.com/artpar/apiforge/pkg/envelope"
)

// Identity modes.
const (
	IdentityNone   = "none"
	IdentityHeader = "header"
	IdentityJWT    = "jwt"
)

// Trusted identity headers, read in header mode.
const (
	HeaderSubject = "X-Subject"
	HeaderRoles   = "X-Roles"
)

// TokenVerifier verifies bearer tokens. *auth.TokenService implements it.
type TokenVerifier interface {
	Verify(token string) (policy.RequestContext, error)
}

// Identity resolves the caller of a request into a policy.RequestContext.
// A request without credentials is anonymous; a request with invalid
// credentials is rejected with 401.
type Identity struct {
	mode     string
	verifier TokenVerifier
}

// NewIdentity creates a resolver. verifier is only used in jwt mode.
func NewIdentity(mode string, verifier TokenVerifier) *Identity {
	return &Identity{mode: mode, verifier: verifier}
}

// ValidIdentityMode reports whether mode is known.
func ValidIdentityMode(mode string) bool {
	switch mode {
	case IdentityNone, IdentityHeader, IdentityJWT:
		return true
	}
	return false
}

// Resolve returns the caller of r.
func (id *Identity) Resolve(r *http.Request) (policy.RequestContext, error) {
	switch id.mode {
	case IdentityHeader:
		subject := strings.TrimSpace(r.Header.Get(HeaderSubject))
		if subject == "" {
			return policy.RequestContext{}, nil
		}
		return policy.RequestContext{
			Authenticated: true,
			Subject:       subject,
			Roles:         splitRoles(r.Header.Get(HeaderRoles)),
		}, nil

	case IdentityJWT:
		header := r.Header.Get("Authorization")
		if header == "" {
			return policy.RequestContext{}, nil
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			return policy.RequestContext{}, fmt.Errorf("authorization header must be a bearer token")
		}
		if id.verifier == nil {
			return policy.RequestContext{}, fmt.Errorf("token verification is not configured")
		}
		rc, err := id.verifier.Verify(strings.TrimSpace(token))
		if err != nil {
			return policy.RequestContext{}, fmt.Errorf("invalid token: %w", err)
		}
		return rc, nil
	}
	return policy.RequestContext{}, nil
}

// Middleware stores the caller in the request context.
func (id *Identity) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc, err := id.Resolve(r)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			envelope.WriteFailure(w, envelope.Failure{
				Status: http.StatusUnauthorized,
				Errors: []envelope.Error{envelope.NewError(http.StatusUnauthorized, "invalid_token", "Unauthorized", err.Error())},
			})
			return
		}
		next.ServeHTTP(w, r.WithContext(policy.WithRequestContext(r.Context(), rc)))
	})
}

func splitRoles(s string) []string {
	var roles []string
	for _, r := range strings.Split(s, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}
