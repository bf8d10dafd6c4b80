package credential

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultOrgClaims are checked in order. Dotted paths walk nested objects.
var DefaultOrgClaims = []string{"org_id", "o.id", "organization_id"} //nolint:gochecknoglobals

type tokenGetter interface {
	Token(ctx context.Context, template string) (string, error)
}

// ClaimsOrg reads the organization id out of the bearer token's claims.
// Without a key function the signature is not checked; the backend verifies
// the token anyway, this only mirrors what it will see.
type ClaimsOrg struct {
	tokens   tokenGetter
	template string
	claims   []string
	keyfunc  jwt.Keyfunc
	parser   *jwt.Parser
}

type ClaimsOption func(*ClaimsOrg)

func WithClaimPaths(paths ...string) ClaimsOption {
	return func(c *ClaimsOrg) {
		c.claims = paths
	}
}

func WithClaimsTemplate(template string) ClaimsOption {
	return func(c *ClaimsOrg) {
		c.template = template
	}
}

// WithKeyfunc verifies token signatures before trusting the claims.
func WithKeyfunc(keyfunc jwt.Keyfunc) ClaimsOption {
	return func(c *ClaimsOrg) {
		c.keyfunc = keyfunc
	}
}

func NewClaimsOrg(tokens tokenGetter, opts ...ClaimsOption) *ClaimsOrg {
	claimsOrg := &ClaimsOrg{
		tokens:   tokens,
		template: "",
		claims:   DefaultOrgClaims,
		keyfunc:  nil,
		parser:   jwt.NewParser(),
	}

	for _, opt := range opts {
		opt(claimsOrg)
	}

	return claimsOrg
}

// WithOrgFromClaims makes the provider derive the organization from its own
// tokens.
func WithOrgFromClaims(opts ...ClaimsOption) ProviderOption {
	return func(p *Provider) {
		p.org = NewClaimsOrg(p, opts...)
	}
}

func (c *ClaimsOrg) OrgID(ctx context.Context) (string, error) {
	raw, err := c.tokens.Token(ctx, c.template)
	if err != nil {
		return "", err //nolint:wrapcheck
	}

	if raw == "" {
		return "", nil
	}

	return OrgIDFromToken(c.parser, raw, c.keyfunc, c.claims)
}

// OrgIDFromToken extracts the first non-empty claim in paths from raw.
func OrgIDFromToken(parser *jwt.Parser, raw string, keyfunc jwt.Keyfunc, paths []string) (string, error) {
	claims := jwt.MapClaims{}

	var err error
	if keyfunc == nil {
		_, _, err = parser.ParseUnverified(raw, claims)
	} else {
		_, err = parser.ParseWithClaims(raw, claims, keyfunc)
	}

	if err != nil {
		return "", fmt.Errorf("credential: parse token: %w", err)
	}

	for _, path := range paths {
		if value := lookupClaim(claims, path); value != "" {
			return value, nil
		}
	}

	return "", ErrClaimNotFound
}

func lookupClaim(claims map[string]any, path string) string {
	var current any = claims

	for _, part := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return ""
		}

		current = obj[part]
	}

	value, _ := current.(string)

	return value
}
