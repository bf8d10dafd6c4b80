package credential_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/reconai/auditkit/credential"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hmacKey = []byte("test-signing-key")

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(hmacKey)
	require.NoError(t, err)

	return signed
}

func hmacKeyfunc(*jwt.Token) (any, error) {
	return hmacKey, nil
}

func TestClaimsOrg_ReadsDefaultClaims(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		claims jwt.MapClaims
		want   string
	}{
		{"flat org_id", jwt.MapClaims{"sub": "u1", "org_id": "org_flat"}, "org_flat"},
		{"nested o.id", jwt.MapClaims{"sub": "u1", "o": map[string]any{"id": "org_nested"}}, "org_nested"},
		{"organization_id", jwt.MapClaims{"organization_id": "org_long"}, "org_long"},
		{"first path wins", jwt.MapClaims{"org_id": "first", "organization_id": "second"}, "first"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tokens := credential.Static{AccessToken: signToken(t, tt.claims), OrganizationID: ""}

			org, err := credential.NewClaimsOrg(tokens).OrgID(t.Context())

			require.NoError(t, err)
			assert.Equal(t, tt.want, org)
		})
	}
}

func TestClaimsOrg_MissingClaim(t *testing.T) {
	t.Parallel()

	tokens := credential.Static{AccessToken: signToken(t, jwt.MapClaims{"sub": "u1"}), OrganizationID: ""}

	_, err := credential.NewClaimsOrg(tokens).OrgID(t.Context())

	require.ErrorIs(t, err, credential.ErrClaimNotFound)
}

func TestClaimsOrg_CustomPath(t *testing.T) {
	t.Parallel()

	tokens := credential.Static{
		AccessToken:    signToken(t, jwt.MapClaims{"tenant": map[string]any{"org": "org_custom"}}),
		OrganizationID: "",
	}

	org, err := credential.NewClaimsOrg(tokens, credential.WithClaimPaths("tenant.org")).OrgID(t.Context())

	require.NoError(t, err)
	assert.Equal(t, "org_custom", org)
}

func TestClaimsOrg_VerifiesWithKeyfunc(t *testing.T) {
	t.Parallel()

	valid := credential.Static{
		AccessToken: signToken(t, jwt.MapClaims{
			"org_id": "org_ok",
			"exp":    time.Now().Add(time.Hour).Unix(),
		}),
		OrganizationID: "",
	}

	org, err := credential.NewClaimsOrg(valid, credential.WithKeyfunc(hmacKeyfunc)).OrgID(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "org_ok", org)

	wrongKey := func(*jwt.Token) (any, error) { return []byte("other"), nil }

	_, err = credential.NewClaimsOrg(valid, credential.WithKeyfunc(wrongKey)).OrgID(t.Context())
	require.Error(t, err)

	expired := credential.Static{
		AccessToken:    signToken(t, jwt.MapClaims{"org_id": "org_old", "exp": time.Now().Add(-time.Hour).Unix()}),
		OrganizationID: "",
	}

	_, err = credential.NewClaimsOrg(expired, credential.WithKeyfunc(hmacKeyfunc)).OrgID(t.Context())
	require.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestClaimsOrg_EmptyTokenMeansNoOrg(t *testing.T) {
	t.Parallel()

	org, err := credential.NewClaimsOrg(credential.Static{}).OrgID(t.Context())

	require.NoError(t, err)
	assert.Empty(t, org)
}

func TestClaimsOrg_GarbageToken(t *testing.T) {
	t.Parallel()

	_, err := credential.NewClaimsOrg(credential.Static{AccessToken: "not.a.jwt", OrganizationID: ""}).OrgID(t.Context())

	require.Error(t, err)
}

func TestWithOrgFromClaims_UsesProviderTokens(t *testing.T) {
	t.Parallel()

	raw := signToken(t, jwt.MapClaims{"org_id": "org_self"})
	source := credential.TokenSourceFunc(func(_ context.Context, template string) (credential.Token, error) {
		assert.Equal(t, "org-scope", template)

		return credential.Token{AccessToken: raw, ExpiresAt: time.Time{}}, nil
	})

	provider := credential.NewProvider(source, credential.WithOrgFromClaims(credential.WithClaimsTemplate("org-scope")))

	org, err := provider.OrgID(t.Context())

	require.NoError(t, err)
	assert.Equal(t, "org_self", org)
}
