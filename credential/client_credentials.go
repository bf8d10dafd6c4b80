package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultTimeout       = 10 * time.Second
	headerContentType    = "Content-Type"
	contentTypeForm      = "application/x-www-form-urlencoded"
	grantTypeCredentials = "client_credentials"
)

//nolint:tagliatelle
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
}

// ClientCredentials performs the OAuth2 client-credentials grant. A non-empty
// template is sent as the scope.
type ClientCredentials struct {
	tokenURL     string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	now          func() time.Time
}

var _ TokenSource = (*ClientCredentials)(nil)

type ClientCredentialsOption func(*ClientCredentials)

func WithHTTPClient(client *http.Client) ClientCredentialsOption {
	return func(c *ClientCredentials) {
		c.httpClient = client
	}
}

func WithTimeout(timeout time.Duration) ClientCredentialsOption {
	return func(c *ClientCredentials) {
		c.httpClient.Timeout = timeout
	}
}

func NewClientCredentials(tokenURL, clientID, clientSecret string, opts ...ClientCredentialsOption) *ClientCredentials {
	source := &ClientCredentials{
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient: &http.Client{ //nolint:exhaustruct
			Timeout: DefaultTimeout,
		},
		now: time.Now,
	}

	for _, opt := range opts {
		opt(source)
	}

	return source
}

func (c *ClientCredentials) FetchToken(ctx context.Context, template string) (Token, error) {
	form := url.Values{}
	form.Set("grant_type", grantTypeCredentials)
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)

	if template != "" {
		form.Set("scope", template)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, fmt.Errorf("failed to create token request: %w", err)
	}

	req.Header.Set(headerContentType, contentTypeForm)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("failed to fetch token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Token{}, fmt.Errorf("%w: status %d", ErrTokenRequestFailed, resp.StatusCode)
	}

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Token{}, fmt.Errorf("failed to decode token response: %w", err)
	}

	if body.AccessToken == "" {
		return Token{}, ErrNoAccessToken
	}

	return newToken(body.AccessToken, body.ExpiresIn, c.now()), nil
}

func newToken(accessToken string, expiresIn int, now time.Time) Token {
	token := Token{AccessToken: accessToken, ExpiresAt: time.Time{}}

	if expiresIn > 0 {
		token.ExpiresAt = now.Add(time.Duration(expiresIn) * time.Second)
	}

	return token
}
