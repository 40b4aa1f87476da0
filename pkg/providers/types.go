// Package providers implements the upstream identity provider abstraction
// and the OAuth authorization-code + PKCE flow that orchestrates it over
// the session, PKCE, and token stores.
package providers

import (
	"context"
	"time"

	"github.com/jdutton/mcp-scaffold/pkg/storage"
)

// Provider type identifiers.
const (
	TypeGoogle    = "google"
	TypeGitHub    = "github"
	TypeMicrosoft = "microsoft"
	TypeOIDC      = "oidc"
)

// tokenExpirationBuffer is subtracted from the advertised expiry to account
// for clock skew and network latency.
const tokenExpirationBuffer = 30 * time.Second

// defaultTokenLifetime applies when the upstream response omits expires_in.
const defaultTokenLifetime = time.Hour

// Tokens is the result of an upstream token endpoint call.
type Tokens struct {
	// AccessToken is the access token from the upstream IdP.
	AccessToken string

	// RefreshToken is the refresh token, if the upstream issued one.
	RefreshToken string

	// IDToken is the OIDC ID token, when present.
	IDToken string

	// Scope is the granted scope string, when the upstream echoes it.
	Scope string

	// ExpiresAt is when the access token expires.
	ExpiresAt time.Time
}

// IsExpired returns true if the access token has expired or will expire
// within the buffer period. Nil tokens are expired.
func (t *Tokens) IsExpired() bool {
	if t == nil {
		return true
	}
	return time.Now().Add(tokenExpirationBuffer).After(t.ExpiresAt)
}

// IdentityProvider is the upstream IdP surface the flow drives. One
// instance serves all requests for its provider concurrently.
type IdentityProvider interface {
	// Name returns the provider name used in routes and records.
	Name() string

	// AuthorizationURL builds the upstream authorization redirect for the
	// given state and PKCE challenge.
	AuthorizationURL(state, codeChallenge string) (string, error)

	// ExchangeCode redeems an upstream authorization code, presenting the
	// stored PKCE verifier.
	ExchangeCode(ctx context.Context, code, codeVerifier string) (*Tokens, error)

	// RefreshTokens exchanges a refresh token for fresh tokens. Providers
	// without refresh support return a RefreshNotSupported error.
	RefreshTokens(ctx context.Context, refreshToken string) (*Tokens, error)

	// UserInfo resolves the identity behind an upstream access token.
	UserInfo(ctx context.Context, accessToken string) (*storage.UserInfo, error)
}

// TokenRevoker is an optional capability for providers whose upstream
// exposes a revocation endpoint. Checked by type assertion at logout.
type TokenRevoker interface {
	RevokeToken(ctx context.Context, token string) error
}

// Config describes one upstream provider. The factory builds an
// IdentityProvider from it and caches by its canonical hash.
type Config struct {
	// Name is the routing name, e.g. "github". Defaults to Type.
	Name string `json:"name,omitempty"`

	// Type selects the implementation: google, github, microsoft, or oidc.
	Type string `json:"type"`

	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`

	// RedirectURL is our callback URL registered with the upstream.
	RedirectURL string `json:"redirect_url"`

	// Scopes requested from the upstream. Defaults are provider-specific.
	Scopes []string `json:"scopes,omitempty"`

	// Issuer is the OIDC issuer URL, required for the oidc type.
	Issuer string `json:"issuer,omitempty"`

	// Tenant selects the Microsoft tenant. Defaults to "common".
	Tenant string `json:"tenant,omitempty"`
}

// routeName returns the name requests address this provider by.
func (c *Config) routeName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Type
}
