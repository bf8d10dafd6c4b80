package credential

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

//nolint:tagliatelle // Keycloak API returns snake_case
type KeycloakError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

//nolint:tagliatelle // Keycloak API returns snake_case
type KeycloakTokenResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int    `json:"expires_in"`
	RefreshExpiresIn int    `json:"refresh_expires_in"`
	TokenType        string `json:"token_type"`
	NotBeforePolicy  int    `json:"not-before-policy"`
	Scope            string `json:"scope"`
}

// Keycloak requests service-account tokens from a realm token endpoint.
// Tenant and customer ids are forwarded for realms that map them into claims.
type Keycloak struct {
	url          string
	clientID     string
	clientSecret string
	tenantID     string
	customerID   string
	restyClient  *resty.Client
	now          func() time.Time
}

var _ TokenSource = (*Keycloak)(nil)

type KeycloakOption func(*Keycloak)

func WithRestyClient(client *resty.Client) KeycloakOption {
	return func(k *Keycloak) {
		if client != nil {
			k.restyClient = client
		}
	}
}

func WithKeycloakTimeout(timeout time.Duration) KeycloakOption {
	return func(k *Keycloak) {
		k.restyClient.SetTimeout(timeout)
	}
}

func WithTenantID(tenantID string) KeycloakOption {
	return func(k *Keycloak) {
		k.tenantID = tenantID
	}
}

func WithCustomerID(customerID string) KeycloakOption {
	return func(k *Keycloak) {
		k.customerID = customerID
	}
}

// KeycloakTokenURL builds the realm token endpoint for baseURL.
func KeycloakTokenURL(baseURL, realm string) string {
	return strings.TrimRight(baseURL, "/") + "/realms/" + realm + "/protocol/openid-connect/token"
}

func NewKeycloak(tokenURL, clientID, clientSecret string, opts ...KeycloakOption) *Keycloak {
	source := &Keycloak{
		url:          tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		tenantID:     "",
		customerID:   "",
		restyClient:  newRestyClient(),
		now:          time.Now,
	}

	for _, opt := range opts {
		opt(source)
	}

	return source
}

func newRestyClient() *resty.Client {
	return resty.New().
		SetTimeout(DefaultTimeout).
		SetHeader(headerContentType, contentTypeForm).
		SetHeader("Accept", "application/json")
}

func (k *Keycloak) FetchToken(ctx context.Context, template string) (Token, error) {
	formData := map[string]string{
		"grant_type":    grantTypeCredentials,
		"client_id":     k.clientID,
		"client_secret": k.clientSecret,
	}

	if template != "" {
		formData["scope"] = template
	}

	if k.tenantID != "" {
		formData["tenant_id"] = k.tenantID
	}

	if k.customerID != "" {
		formData["customer_id"] = k.customerID
	}

	var (
		tokenResp KeycloakTokenResponse
		tokenErr  KeycloakError
	)

	resp, err := k.restyClient.R().
		SetContext(ctx).
		SetFormData(formData).
		SetResult(&tokenResp).
		SetError(&tokenErr).
		Post(k.url)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %w", ErrTokenRequestFailed, err)
	}

	if !resp.IsSuccess() {
		return Token{}, fmt.Errorf("%w: status=%d, error=%s, description=%s",
			ErrTokenRequestFailed, resp.StatusCode(), tokenErr.Error, tokenErr.ErrorDescription)
	}

	if tokenResp.AccessToken == "" {
		return Token{}, ErrNoAccessToken
	}

	return newToken(tokenResp.AccessToken, tokenResp.ExpiresIn, k.now()), nil
}
