package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/jdutton/mcp-scaffold/pkg/crypto"
	"github.com/jdutton/mcp-scaffold/pkg/errors"
	"github.com/jdutton/mcp-scaffold/pkg/logger"
)

// maxResponseSize bounds upstream response bodies.
const maxResponseSize = 1024 * 1024 // 1MB

// defaultHTTPTimeout applies to upstream calls when no client is injected.
const defaultHTTPTimeout = 30 * time.Second

// oauth2Provider carries the OAuth 2.0 mechanics shared by all concrete
// providers: authorization URL construction and the token endpoint client.
// Provider structs embed it and add their userinfo decoding.
type oauth2Provider struct {
	name       string
	cfg        *Config
	endpoint   oauth2.Endpoint
	httpClient *http.Client
}

func newOAuth2Provider(name string, cfg *Config, endpoint oauth2.Endpoint) oauth2Provider {
	return oauth2Provider{
		name:       name,
		cfg:        cfg,
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// Name returns the provider name.
func (p *oauth2Provider) Name() string {
	return p.name
}

// AuthorizationURL builds the upstream authorization redirect.
func (p *oauth2Provider) AuthorizationURL(state, codeChallenge string) (string, error) {
	if state == "" {
		return "", errors.NewInvalidInput("state parameter is required")
	}

	params := url.Values{
		"response_type": {"code"},
		"client_id":     {p.cfg.ClientID},
		"redirect_uri":  {p.cfg.RedirectURL},
		"state":         {state},
	}
	if len(p.cfg.Scopes) > 0 {
		params.Set("scope", strings.Join(p.cfg.Scopes, " "))
	}
	if codeChallenge != "" {
		params.Set("code_challenge", codeChallenge)
		params.Set("code_challenge_method", crypto.PKCEChallengeMethodS256)
	}

	return p.endpoint.AuthURL + "?" + params.Encode(), nil
}

// ExchangeCode redeems an upstream authorization code.
func (p *oauth2Provider) ExchangeCode(ctx context.Context, code, codeVerifier string) (*Tokens, error) {
	if code == "" {
		return nil, errors.NewInvalidInput("authorization code is required")
	}

	logger.Debugw("exchanging authorization code",
		"provider", p.name,
		"has_pkce_verifier", codeVerifier != "",
	)

	params := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {p.cfg.RedirectURL},
		"client_id":     {p.cfg.ClientID},
		"client_secret": {p.cfg.ClientSecret},
	}
	if codeVerifier != "" {
		params.Set("code_verifier", codeVerifier)
	}

	return p.tokenRequest(ctx, params)
}

// RefreshTokens exchanges a refresh token for fresh tokens.
func (p *oauth2Provider) RefreshTokens(ctx context.Context, refreshToken string) (*Tokens, error) {
	if refreshToken == "" {
		return nil, errors.NewInvalidInput("refresh token is required")
	}

	logger.Debugw("refreshing tokens", "provider", p.name)

	params := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {p.cfg.ClientID},
		"client_secret": {p.cfg.ClientSecret},
	}

	return p.tokenRequest(ctx, params)
}

// tokenRequest posts params to the upstream token endpoint and parses the
// response. Upstream rejections come back as TokenExchangeFailed; the raw
// upstream body is logged at debug level, never echoed to callers.
func (p *oauth2Provider) tokenRequest(ctx context.Context, params url.Values) (*Tokens, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint.TokenURL, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewTokenExchangeFailed("token request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, errors.NewTokenExchangeFailed("failed to read token response", err)
	}

	return parseTokenResponse(body, resp.StatusCode)
}

// userInfoRequest GETs a provider userinfo endpoint with a bearer token and
// decodes the JSON body into out.
func (p *oauth2Provider) userInfoRequest(ctx context.Context, endpoint, accessToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("userinfo request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read userinfo response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		logger.Debugw("userinfo request rejected",
			"provider", p.name,
			"status", resp.StatusCode,
		)
		return fmt.Errorf("userinfo request failed with status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse userinfo response: %w", err)
	}
	return nil
}

// tokenResponse is the token endpoint success shape per RFC 6749 §5.1.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// tokenErrorResponse is the token endpoint error shape per RFC 6749 §5.2.
type tokenErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func parseTokenResponse(body []byte, statusCode int) (*Tokens, error) {
	if statusCode != http.StatusOK {
		var tokenError tokenErrorResponse
		if err := json.Unmarshal(body, &tokenError); err == nil && tokenError.Error != "" {
			// error/error_description are standardized and safe to carry.
			return nil, errors.NewTokenExchangeFailed(
				fmt.Sprintf("upstream rejected request: %s", tokenError.Error), nil)
		}
		logger.Debugw("token request failed", "status", statusCode, "body", string(body))
		return nil, errors.NewTokenExchangeFailed(
			fmt.Sprintf("token request failed with status %d", statusCode), nil)
	}

	var tokenResp tokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, errors.NewTokenExchangeFailed("failed to parse token response", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, errors.NewTokenExchangeFailed("token response missing access_token", nil)
	}
	// token_type comparison is case-insensitive per RFC 6749 §5.1.
	if tokenResp.TokenType != "" && !strings.EqualFold(tokenResp.TokenType, "bearer") {
		return nil, errors.NewTokenExchangeFailed(
			fmt.Sprintf("unexpected token_type %q", tokenResp.TokenType), nil)
	}

	expiresAt := time.Now().Add(defaultTokenLifetime)
	if tokenResp.ExpiresIn > 0 {
		expiresAt = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	}

	return &Tokens{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		IDToken:      tokenResp.IDToken,
		Scope:        tokenResp.Scope,
		ExpiresAt:    expiresAt,
	}, nil
}
