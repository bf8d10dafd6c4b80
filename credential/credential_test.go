package credential_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/reconai/auditkit/auditfetch"
	"github.com/reconai/auditkit/credential"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errIdP = errors.New("identity provider down")

type countingSource struct {
	calls     atomic.Int32
	token     string
	ttl       time.Duration
	err       error
	templates sync.Map
}

func (s *countingSource) FetchToken(_ context.Context, template string) (credential.Token, error) {
	n := s.calls.Add(1)
	s.templates.Store(template, true)

	if s.err != nil {
		return credential.Token{}, s.err
	}

	token := credential.Token{AccessToken: s.token, ExpiresAt: time.Time{}}
	if s.token == "" {
		token.AccessToken = template + "-" + string(rune('0'+n))
	}

	if s.ttl > 0 {
		token.ExpiresAt = time.Now().Add(s.ttl)
	}

	return token, nil
}

func TestToken_Valid(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.False(t, credential.Token{}.Valid(now, 0))
	assert.True(t, credential.Token{AccessToken: "a"}.Valid(now, time.Hour))
	assert.True(t, credential.Token{AccessToken: "a", ExpiresAt: now.Add(time.Minute)}.Valid(now, 30*time.Second))
	assert.False(t, credential.Token{AccessToken: "a", ExpiresAt: now.Add(20 * time.Second)}.Valid(now, 30*time.Second))
}

func TestStatic(t *testing.T) {
	t.Parallel()

	var provider auditfetch.CredentialProvider = credential.Static{AccessToken: "tok", OrganizationID: "org"}

	token, err := provider.Token(t.Context(), "any")
	require.NoError(t, err)
	assert.Equal(t, "tok", token)

	org, err := provider.OrgID(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "org", org)
}

type failingProvider struct{}

func (failingProvider) Token(context.Context, string) (string, error) { return "", errIdP }
func (failingProvider) OrgID(context.Context) (string, error)         { return "", errIdP }

func TestChain_FirstNonEmptyWins(t *testing.T) {
	t.Parallel()

	chain := credential.Chain{
		failingProvider{},
		credential.Static{AccessToken: "", OrganizationID: "org-b"},
		credential.Static{AccessToken: "tok-c", OrganizationID: "org-c"},
	}

	token, err := chain.Token(t.Context(), "")
	require.NoError(t, err)
	assert.Equal(t, "tok-c", token)

	org, err := chain.OrgID(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "org-b", org)
}

func TestChain_ReturnsLastErrorWhenNothingResolves(t *testing.T) {
	t.Parallel()

	chain := credential.Chain{failingProvider{}, credential.Static{}}

	token, err := chain.Token(t.Context(), "")

	require.ErrorIs(t, err, errIdP)
	assert.Empty(t, token)

	empty, err := credential.Chain{}.OrgID(t.Context())
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestProvider_CachesPerTemplate(t *testing.T) {
	t.Parallel()

	source := &countingSource{ttl: time.Hour}
	provider := credential.NewProvider(source)

	first, err := provider.Token(t.Context(), "ledger")
	require.NoError(t, err)

	second, err := provider.Token(t.Context(), "ledger")
	require.NoError(t, err)

	other, err := provider.Token(t.Context(), "govcon")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.NotEqual(t, first, other)
	assert.Equal(t, int32(2), source.calls.Load())
}

func TestProvider_RefreshesInsideExpiryBuffer(t *testing.T) {
	t.Parallel()

	source := &countingSource{ttl: 20 * time.Second}
	provider := credential.NewProvider(source, credential.WithExpiryBuffer(30*time.Second))

	_, err := provider.Token(t.Context(), "")
	require.NoError(t, err)

	_, err = provider.Token(t.Context(), "")
	require.NoError(t, err)

	assert.Equal(t, int32(2), source.calls.Load())
}

func TestProvider_ConcurrentCallersShareRefresh(t *testing.T) {
	t.Parallel()

	source := &countingSource{token: "shared", ttl: time.Hour}
	provider := credential.NewProvider(source)

	var wg sync.WaitGroup

	for range 32 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			token, err := provider.Token(context.Background(), "x")
			assert.NoError(t, err)
			assert.Equal(t, "shared", token)
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(1), source.calls.Load())
}

func TestProvider_Invalidate(t *testing.T) {
	t.Parallel()

	source := &countingSource{ttl: time.Hour}
	provider := credential.NewProvider(source)

	_, err := provider.Token(t.Context(), "x")
	require.NoError(t, err)

	provider.Invalidate("x")

	_, err = provider.Token(t.Context(), "x")
	require.NoError(t, err)

	assert.Equal(t, int32(2), source.calls.Load())
}

func TestProvider_Errors(t *testing.T) {
	t.Parallel()

	_, err := credential.NewProvider(&countingSource{err: errIdP}).Token(t.Context(), "")
	require.ErrorIs(t, err, errIdP)

	_, err = credential.NewProvider(nil).Token(t.Context(), "")
	require.ErrorIs(t, err, credential.ErrNoSource)

	empty := credential.TokenSourceFunc(func(context.Context, string) (credential.Token, error) {
		return credential.Token{}, nil
	})
	_, err = credential.NewProvider(empty).Token(t.Context(), "")
	require.ErrorIs(t, err, credential.ErrNoAccessToken)
}

func TestProvider_OrgID(t *testing.T) {
	t.Parallel()

	org, err := credential.NewProvider(&countingSource{}).OrgID(t.Context())
	require.NoError(t, err)
	assert.Empty(t, org)

	org, err = credential.NewProvider(&countingSource{}, credential.WithOrgID("org_7")).OrgID(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "org_7", org)

	org, err = credential.NewProvider(&countingSource{}, credential.WithOrgResolver(failingProvider{})).OrgID(t.Context())
	require.ErrorIs(t, err, errIdP)
	assert.Empty(t, org)
}
