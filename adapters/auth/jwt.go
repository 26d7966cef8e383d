// Package auth resolves caller identity from HS256 bearer tokens.
// Verification is stateless: no shared state between instances.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/artpar/apiforge/core/policy"
)

// DefaultRolesClaim is the claim roles are read from when none is
// configured.
const DefaultRolesClaim = "roles"

// ErrMissingSecret is returned when a TokenService has no signing secret.
var ErrMissingSecret = errors.New("jwt secret is not configured")

// TokenService verifies bearer tokens and, for local tooling, signs them.
// Thread-safe and suitable for concurrent use.
type TokenService struct {
	secret     []byte
	issuer     string
	rolesClaim string
	expiration time.Duration
	now        func() time.Time
}

// NewTokenService creates a token service. An empty issuer accepts any
// issuer; an empty rolesClaim reads DefaultRolesClaim.
func NewTokenService(secret, issuer, rolesClaim string, expiration time.Duration) *TokenService {
	if rolesClaim == "" {
		rolesClaim = DefaultRolesClaim
	}
	if expiration == 0 {
		expiration = 24 * time.Hour
	}
	return &TokenService{
		secret:     []byte(secret),
		issuer:     issuer,
		rolesClaim: rolesClaim,
		expiration: expiration,
		now:        time.Now,
	}
}

// GenerateToken signs a token for subject with roles.
func (s *TokenService) GenerateToken(subject string, roles []string) (string, time.Time, error) {
	if len(s.secret) == 0 {
		return "", time.Time{}, ErrMissingSecret
	}
	now := s.now().UTC()
	expiresAt := now.Add(s.expiration)

	claims := jwt.MapClaims{
		"sub":        subject,
		"iat":        now.Unix(),
		"exp":        expiresAt.Unix(),
		s.rolesClaim: roles,
	}
	if s.issuer != "" {
		claims["iss"] = s.issuer
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify validates tokenString and returns the caller it identifies.
func (s *TokenService) Verify(tokenString string) (policy.RequestContext, error) {
	if len(s.secret) == 0 {
		return policy.RequestContext{}, ErrMissingSecret
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, opts...)
	if err != nil {
		return policy.RequestContext{}, err
	}
	if !token.Valid {
		return policy.RequestContext{}, errors.New("invalid token")
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return policy.RequestContext{}, errors.New("token has no subject")
	}

	return policy.RequestContext{
		Authenticated: true,
		Subject:       subject,
		Roles:         rolesOf(claims[s.rolesClaim]),
	}, nil
}

// rolesOf accepts a list of strings or one comma separated string.
func rolesOf(v any) []string {
	switch t := v.(type) {
	case string:
		return SplitRoles(t)
	case []any:
		roles := make([]string, 0, len(t))
		for _, r := range t {
			if s, ok := r.(string); ok && s != "" {
				roles = append(roles, s)
			}
		}
		return roles
	}
	return nil
}

// SplitRoles splits a comma separated role list, dropping blanks.
func SplitRoles(s string) []string {
	var roles []string
	for _, r := range strings.Split(s, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}
