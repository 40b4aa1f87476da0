package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2/endpoints"

	"github.com/jdutton/mcp-scaffold/pkg/errors"
	"github.com/jdutton/mcp-scaffold/pkg/storage"
)

const (
	googleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"
	googleRevokeURL   = "https://oauth2.googleapis.com/revoke"
)

// defaultGoogleScopes are applied when the config names none.
var defaultGoogleScopes = []string{"openid", "email", "profile"}

// GoogleProvider drives Google's OAuth 2.0 endpoints.
type GoogleProvider struct {
	oauth2Provider
}

// NewGoogleProvider creates a Google provider from config.
func NewGoogleProvider(cfg *Config) (*GoogleProvider, error) {
	if err := validateOAuth2Config(cfg); err != nil {
		return nil, err
	}
	if len(cfg.Scopes) == 0 {
		scoped := *cfg
		scoped.Scopes = defaultGoogleScopes
		cfg = &scoped
	}
	return &GoogleProvider{
		oauth2Provider: newOAuth2Provider(cfg.routeName(), cfg, endpoints.Google),
	}, nil
}

// googleUserInfo is the OIDC userinfo shape Google returns.
type googleUserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// UserInfo resolves the Google identity behind an access token.
func (p *GoogleProvider) UserInfo(ctx context.Context, accessToken string) (*storage.UserInfo, error) {
	var info googleUserInfo
	if err := p.userInfoRequest(ctx, googleUserInfoURL, accessToken, &info); err != nil {
		return nil, err
	}
	if info.Sub == "" {
		return nil, fmt.Errorf("google userinfo response missing sub")
	}
	return &storage.UserInfo{
		Subject:  info.Sub,
		Email:    info.Email,
		Name:     info.Name,
		Provider: p.Name(),
		Claims: map[string]any{
			"email_verified": info.EmailVerified,
			"picture":        info.Picture,
		},
	}, nil
}

// RevokeToken revokes an access or refresh token at Google's revocation
// endpoint.
func (p *GoogleProvider) RevokeToken(ctx context.Context, token string) error {
	params := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, googleRevokeURL, strings.NewReader(params.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("revoke request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revoke request failed with status %d", resp.StatusCode)
	}
	return nil
}

func validateOAuth2Config(cfg *Config) error {
	if cfg == nil {
		return errors.NewInvalidInput("provider config is required")
	}
	if cfg.ClientID == "" {
		return errors.NewInvalidInput("client_id is required")
	}
	if cfg.ClientSecret == "" {
		return errors.NewInvalidInput("client_secret is required")
	}
	if cfg.RedirectURL == "" {
		return errors.NewInvalidInput("redirect_url is required")
	}
	return nil
}

// Compile-time interface compliance checks
var (
	_ IdentityProvider = (*GoogleProvider)(nil)
	_ TokenRevoker     = (*GoogleProvider)(nil)
)
