package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/jdutton/mcp-scaffold/pkg/errors"
)

func testConfig() *Config {
	return &Config{
		Type:         TypeGitHub,
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "https://scaffold.example.com/auth/github/callback",
		Scopes:       []string{"read:user"},
	}
}

func TestOAuth2Provider_AuthorizationURL(t *testing.T) {
	t.Parallel()

	p := newOAuth2Provider("test", testConfig(), oauth2.Endpoint{
		AuthURL:  "https://idp.example.com/authorize",
		TokenURL: "https://idp.example.com/token",
	})

	authURL, err := p.AuthorizationURL("state-123", "challenge-abc")
	require.NoError(t, err)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	q := parsed.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "state-123", q.Get("state"))
	assert.Equal(t, "challenge-abc", q.Get("code_challenge"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, "read:user", q.Get("scope"))
	assert.Equal(t, "https://scaffold.example.com/auth/github/callback", q.Get("redirect_uri"))
}

func TestOAuth2Provider_AuthorizationURLRequiresState(t *testing.T) {
	t.Parallel()

	p := newOAuth2Provider("test", testConfig(), oauth2.Endpoint{AuthURL: "https://idp.example.com/authorize"})
	_, err := p.AuthorizationURL("", "challenge")
	assert.True(t, errors.IsType(err, errors.TypeInvalidInput))
}

func TestOAuth2Provider_ExchangeCode(t *testing.T) {
	t.Parallel()

	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-1","token_type":"Bearer","refresh_token":"rt-1","expires_in":3600}`))
	}))
	defer srv.Close()

	p := newOAuth2Provider("test", testConfig(), oauth2.Endpoint{TokenURL: srv.URL})

	tokens, err := p.ExchangeCode(context.Background(), "code-ABC", "verifier-xyz")
	require.NoError(t, err)

	assert.Equal(t, "authorization_code", gotForm.Get("grant_type"))
	assert.Equal(t, "code-ABC", gotForm.Get("code"))
	assert.Equal(t, "verifier-xyz", gotForm.Get("code_verifier"))
	assert.Equal(t, "client-secret", gotForm.Get("client_secret"))

	assert.Equal(t, "at-1", tokens.AccessToken)
	assert.Equal(t, "rt-1", tokens.RefreshToken)
	assert.False(t, tokens.IsExpired())
	assert.WithinDuration(t, time.Now().Add(time.Hour), tokens.ExpiresAt, 5*time.Second)
}

func TestOAuth2Provider_ExchangeCodeUpstreamRejection(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"code expired"}`))
	}))
	defer srv.Close()

	p := newOAuth2Provider("test", testConfig(), oauth2.Endpoint{TokenURL: srv.URL})

	_, err := p.ExchangeCode(context.Background(), "code-ABC", "verifier")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.TypeTokenExchangeFailed))
	assert.Contains(t, err.Error(), "invalid_grant")
	// The upstream description is logged, not echoed.
	assert.NotContains(t, err.Error(), "code expired")
}

func TestOAuth2Provider_RefreshTokens(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "rt-old", r.PostForm.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-new","token_type":"bearer","expires_in":1800}`))
	}))
	defer srv.Close()

	p := newOAuth2Provider("test", testConfig(), oauth2.Endpoint{TokenURL: srv.URL})

	tokens, err := p.RefreshTokens(context.Background(), "rt-old")
	require.NoError(t, err)
	assert.Equal(t, "at-new", tokens.AccessToken)
}

func TestParseTokenResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		body     string
		status   int
		wantErr  bool
		wantType string
	}{
		{
			name:   "success",
			body:   `{"access_token":"at","token_type":"Bearer"}`,
			status: http.StatusOK,
		},
		{
			name:   "success without token_type",
			body:   `{"access_token":"at"}`,
			status: http.StatusOK,
		},
		{
			name:     "missing access_token",
			body:     `{"token_type":"Bearer"}`,
			status:   http.StatusOK,
			wantErr:  true,
			wantType: errors.TypeTokenExchangeFailed,
		},
		{
			name:     "wrong token_type",
			body:     `{"access_token":"at","token_type":"mac"}`,
			status:   http.StatusOK,
			wantErr:  true,
			wantType: errors.TypeTokenExchangeFailed,
		},
		{
			name:     "non-json error body",
			body:     `<html>backend down</html>`,
			status:   http.StatusBadGateway,
			wantErr:  true,
			wantType: errors.TypeTokenExchangeFailed,
		},
		{
			name:     "malformed success body",
			body:     `{not json`,
			status:   http.StatusOK,
			wantErr:  true,
			wantType: errors.TypeTokenExchangeFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tokens, err := parseTokenResponse([]byte(tt.body), tt.status)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsType(err, tt.wantType))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "at", tokens.AccessToken)
		})
	}
}

func TestTokens_IsExpired(t *testing.T) {
	t.Parallel()

	var nilTokens *Tokens
	assert.True(t, nilTokens.IsExpired())

	assert.True(t, (&Tokens{ExpiresAt: time.Now().Add(10 * time.Second)}).IsExpired())
	assert.False(t, (&Tokens{ExpiresAt: time.Now().Add(time.Hour)}).IsExpired())
}

func TestGitHubProvider_AuthorizationEndpoint(t *testing.T) {
	t.Parallel()

	p, err := NewGitHubProvider(testConfig())
	require.NoError(t, err)

	authURL, err := p.AuthorizationURL("state-1", "chal")
	require.NoError(t, err)
	assert.Contains(t, authURL, "https://github.com/login/oauth/authorize?")
}

func TestGitHubProvider_RefreshNotSupported(t *testing.T) {
	t.Parallel()

	p, err := NewGitHubProvider(testConfig())
	require.NoError(t, err)

	_, err = p.RefreshTokens(context.Background(), "rt")
	assert.True(t, errors.IsType(err, errors.TypeRefreshNotSupported))
}

func TestGitHubProvider_UserInfoPrimaryEmail(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer at-1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/user":
			_, _ = w.Write([]byte(`{"id":42,"login":"octocat","name":""}`))
		case "/user/emails":
			_, _ = w.Write([]byte(`[{"email":"secondary@example.com","primary":false},{"email":"primary@example.com","primary":true}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	p, err := NewGitHubProvider(testConfig())
	require.NoError(t, err)

	// Point the fixed API URLs at the test server.
	info, err := p.userInfoFrom(context.Background(), srv.URL+"/user", srv.URL+"/user/emails", "at-1")
	require.NoError(t, err)
	assert.Equal(t, "42", info.Subject)
	assert.Equal(t, "primary@example.com", info.Email)
	assert.Equal(t, "octocat", info.Name)
}

func TestProviderConfigValidation(t *testing.T) {
	t.Parallel()

	_, err := NewGoogleProvider(nil)
	assert.True(t, errors.IsType(err, errors.TypeInvalidInput))

	cfg := testConfig()
	cfg.ClientSecret = ""
	_, err = NewGitHubProvider(cfg)
	assert.True(t, errors.IsType(err, errors.TypeInvalidInput))

	cfg = testConfig()
	cfg.RedirectURL = ""
	_, err = NewMicrosoftProvider(cfg)
	assert.True(t, errors.IsType(err, errors.TypeInvalidInput))
}
