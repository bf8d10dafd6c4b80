package middleware_test

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reconai/auditkit/jwks"
	"github.com/reconai/auditkit/middleware"
	"github.com/reconai/auditkit/testutil"
)

const testKID = "stub-key"

func newJWTServer(t *testing.T) (*echo.Echo, *rsa.PrivateKey) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	verifier, err := jwks.NewFromKeys(t.Context(), []jwks.Key{{ID: testKID, Alg: "RS256", Public: &key.PublicKey}})
	require.NoError(t, err)

	e := testutil.NewEcho()
	e.Use(middleware.RequestID(nil))
	e.Use(middleware.JWT(verifier.Keyfunc.Keyfunc))
	e.GET("/me", func(c *echo.Context) error {
		claims, err := middleware.GetExtendedClaims(c)
		if err != nil {
			return err
		}

		return c.JSON(http.StatusOK, map[string]string{
			"org":   middleware.GetOrgID(c),
			"azp":   claims.GetAzp(),
			"token": middleware.GetToken(c),
		})
	})

	return e, key
}

func signClaims(t *testing.T, key *rsa.PrivateKey, claims *middleware.ExtendedClaims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKID

	signed, err := token.SignedString(key)
	require.NoError(t, err)

	return signed
}

func bearerRequest(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return req
}

func TestJWT_ValidTokenExposesClaims(t *testing.T) {
	t.Parallel()

	e, key := newJWTServer(t)
	token := signClaims(t, key, &middleware.ExtendedClaims{
		Azp:   "auditctl",
		OrgID: "org-7",
		Scope: "things:read things:write",
		//nolint:exhaustruct
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	})

	rec := testutil.Serve(e, bearerRequest(token))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"org":"org-7","azp":"auditctl","token":"`+token+`"}`, rec.Body.String())
}

func TestJWT_Rejections(t *testing.T) {
	t.Parallel()

	e, key := newJWTServer(t)

	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	expired := signClaims(t, key, &middleware.ExtendedClaims{ //nolint:exhaustruct
		//nolint:exhaustruct
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))},
	})
	foreign := signClaims(t, other, &middleware.ExtendedClaims{OrgID: "org-7"}) //nolint:exhaustruct

	tests := []struct {
		name    string
		token   string
		message string
	}{
		{name: "missing", token: "", message: "Authorization header is required"},
		{name: "garbage", token: "not.a.jwt", message: "Invalid token"},
		{name: "expired", token: expired, message: "Invalid token"},
		{name: "wrong key", token: foreign, message: "Invalid token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := testutil.Serve(e, bearerRequest(tt.token))

			env := testutil.AssertEnvelope(t, rec, http.StatusUnauthorized)
			assert.Equal(t, tt.message, env.Message)
		})
	}
}

func TestExtendedClaims_HasScope(t *testing.T) {
	t.Parallel()

	claims := &middleware.ExtendedClaims{Scope: "things:read audit"} //nolint:exhaustruct

	assert.True(t, claims.HasScope("audit"))
	assert.False(t, claims.HasScope("things"))
}

func TestGetExtendedClaims_Missing(t *testing.T) {
	t.Parallel()

	ctx, _ := testutil.NewEchoContext(t, testutil.EchoRequest{Path: "/"}) //nolint:exhaustruct

	_, err := middleware.GetExtendedClaims(ctx)
	require.ErrorIs(t, err, middleware.ErrClaimsNotFound)
	assert.Empty(t, middleware.GetOrgID(ctx))
}
