package credential

import (
	"context"
	"sync"
	"time"

	"github.com/reconai/auditkit/auditfetch"
)

const defaultExpiryBuffer = 30 * time.Second

// Provider caches tokens from a TokenSource per template and pairs them with an
// organization resolver.
type Provider struct {
	source       TokenSource
	org          OrgResolver
	expiryBuffer time.Duration
	now          func() time.Time

	mu     sync.RWMutex
	tokens map[string]Token
}

var _ auditfetch.CredentialProvider = (*Provider)(nil)

type ProviderOption func(*Provider)

// WithOrgID resolves every call to the same organization.
func WithOrgID(orgID string) ProviderOption {
	return func(p *Provider) {
		p.org = Static{AccessToken: "", OrganizationID: orgID}
	}
}

func WithOrgResolver(resolver OrgResolver) ProviderOption {
	return func(p *Provider) {
		p.org = resolver
	}
}

// WithExpiryBuffer refreshes tokens this long before they expire.
func WithExpiryBuffer(buffer time.Duration) ProviderOption {
	return func(p *Provider) {
		p.expiryBuffer = buffer
	}
}

func WithClock(now func() time.Time) ProviderOption {
	return func(p *Provider) {
		p.now = now
	}
}

func NewProvider(source TokenSource, opts ...ProviderOption) *Provider {
	provider := &Provider{
		source:       source,
		org:          nil,
		expiryBuffer: defaultExpiryBuffer,
		now:          time.Now,
		mu:           sync.RWMutex{},
		tokens:       make(map[string]Token),
	}

	for _, opt := range opts {
		opt(provider)
	}

	return provider
}

func (p *Provider) Token(ctx context.Context, template string) (string, error) {
	p.mu.RLock()
	cached, ok := p.tokens[template]
	p.mu.RUnlock()

	if ok && cached.Valid(p.now(), p.expiryBuffer) {
		return cached.AccessToken, nil
	}

	return p.refresh(ctx, template)
}

func (p *Provider) refresh(ctx context.Context, template string) (string, error) {
	if p.source == nil {
		return "", ErrNoSource
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Another goroutine may have refreshed while we waited for the lock.
	if cached, ok := p.tokens[template]; ok && cached.Valid(p.now(), p.expiryBuffer) {
		return cached.AccessToken, nil
	}

	token, err := p.source.FetchToken(ctx, template)
	if err != nil {
		return "", err //nolint:wrapcheck
	}

	if token.AccessToken == "" {
		return "", ErrNoAccessToken
	}

	p.tokens[template] = token

	return token.AccessToken, nil
}

func (p *Provider) OrgID(ctx context.Context) (string, error) {
	if p.org == nil {
		return "", nil
	}

	return p.org.OrgID(ctx) //nolint:wrapcheck
}

// Invalidate drops the cached token for template, forcing the next call to
// refresh. Callers typically do this after a 401.
func (p *Provider) Invalidate(template string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.tokens, template)
}
