// Package credential supplies identity for audited requests: bearer tokens
// per template and the caller's organization id.
package credential

import (
	"context"
	"errors"
	"time"

	"github.com/reconai/auditkit/auditfetch"
)

var (
	ErrTokenRequestFailed = errors.New("credential: token request failed")
	ErrNoAccessToken      = errors.New("credential: no access token in response")
	ErrNoSource           = errors.New("credential: token source is nil")
	ErrClaimNotFound      = errors.New("credential: organization claim not found")
)

// Token is an access token and the moment it stops being usable.
type Token struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Valid reports whether the token is usable for at least buffer longer.
func (t Token) Valid(now time.Time, buffer time.Duration) bool {
	if t.AccessToken == "" {
		return false
	}

	if t.ExpiresAt.IsZero() {
		return true
	}

	return now.Add(buffer).Before(t.ExpiresAt)
}

// TokenSource fetches a new token for a template. The template is
// provider-specific, typically an OAuth scope.
type TokenSource interface {
	FetchToken(ctx context.Context, template string) (Token, error)
}

type TokenSourceFunc func(ctx context.Context, template string) (Token, error)

func (f TokenSourceFunc) FetchToken(ctx context.Context, template string) (Token, error) {
	return f(ctx, template)
}

// OrgResolver yields the caller's organization id.
type OrgResolver interface {
	OrgID(ctx context.Context) (string, error)
}

// Static always returns the same token and organization.
type Static struct {
	AccessToken    string
	OrganizationID string
}

var _ auditfetch.CredentialProvider = Static{} //nolint:exhaustruct

func (s Static) Token(context.Context, string) (string, error) {
	return s.AccessToken, nil
}

func (s Static) OrgID(context.Context) (string, error) {
	return s.OrganizationID, nil
}

// Chain asks each provider in order. The first non-empty value wins; errors
// from earlier providers are skipped and the last one is returned only when
// nothing produced a value.
type Chain []auditfetch.CredentialProvider

func (c Chain) Token(ctx context.Context, template string) (string, error) {
	var lastErr error

	for _, provider := range c {
		token, err := provider.Token(ctx, template)
		if err != nil {
			lastErr = err

			continue
		}

		if token != "" {
			return token, nil
		}
	}

	return "", lastErr
}

func (c Chain) OrgID(ctx context.Context) (string, error) {
	var lastErr error

	for _, provider := range c {
		orgID, err := provider.OrgID(ctx)
		if err != nil {
			lastErr = err

			continue
		}

		if orgID != "" {
			return orgID, nil
		}
	}

	return "", lastErr
}
