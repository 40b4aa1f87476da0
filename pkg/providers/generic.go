package providers

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/jdutton/mcp-scaffold/pkg/errors"
	"github.com/jdutton/mcp-scaffold/pkg/logger"
	"github.com/jdutton/mcp-scaffold/pkg/storage"
)

// defaultOIDCScopes are applied when the config names none.
var defaultOIDCScopes = []string{oidc.ScopeOpenID, "email", "profile"}

// GenericProvider serves any OIDC-compliant upstream via issuer discovery.
// Refresh is declined: generic upstreams vary too much in refresh-grant
// behavior to promise rotation semantics, so callers re-authenticate.
type GenericProvider struct {
	oauth2Provider
	oidcProvider *oidc.Provider
}

// NewGenericProvider creates a provider from an OIDC issuer URL. Discovery
// runs once at construction; a failed fetch fails the provider.
func NewGenericProvider(ctx context.Context, cfg *Config) (*GenericProvider, error) {
	if err := validateOAuth2Config(cfg); err != nil {
		return nil, err
	}
	if cfg.Issuer == "" {
		return nil, errors.NewInvalidInput("issuer is required for oidc providers")
	}

	oidcProvider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery failed for %s: %w", cfg.Issuer, err)
	}

	scoped := *cfg
	if len(scoped.Scopes) == 0 {
		scoped.Scopes = defaultOIDCScopes
	}

	logger.Infow("discovered oidc provider",
		"issuer", cfg.Issuer,
		"name", scoped.routeName(),
	)

	return &GenericProvider{
		oauth2Provider: newOAuth2Provider(scoped.routeName(), &scoped, oidcProvider.Endpoint()),
		oidcProvider:   oidcProvider,
	}, nil
}

// RefreshTokens declines for generic OIDC upstreams.
func (p *GenericProvider) RefreshTokens(_ context.Context, _ string) (*Tokens, error) {
	return nil, errors.NewRefreshNotSupported(p.Name())
}

// UserInfo resolves the identity via the discovered userinfo endpoint.
func (p *GenericProvider) UserInfo(ctx context.Context, accessToken string) (*storage.UserInfo, error) {
	userInfo, err := p.oidcProvider.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))
	if err != nil {
		return nil, fmt.Errorf("userinfo request failed: %w", err)
	}

	var claims map[string]any
	if err := userInfo.Claims(&claims); err != nil {
		logger.Warnw("failed to decode userinfo claims", "provider", p.Name(), "error", err)
	}

	name := ""
	if v, ok := claims["name"].(string); ok {
		name = v
	}

	return &storage.UserInfo{
		Subject:  userInfo.Subject,
		Email:    userInfo.Email,
		Name:     name,
		Provider: p.Name(),
		Claims:   claims,
	}, nil
}

// Compile-time interface compliance check
var _ IdentityProvider = (*GenericProvider)(nil)
