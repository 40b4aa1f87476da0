package providers

import (
	"context"
	"fmt"
	"strconv"

	"golang.org/x/oauth2/endpoints"

	"github.com/jdutton/mcp-scaffold/pkg/errors"
	"github.com/jdutton/mcp-scaffold/pkg/storage"
)

const (
	githubUserURL   = "https://api.github.com/user"
	githubEmailsURL = "https://api.github.com/user/emails"
)

// defaultGitHubScopes are applied when the config names none.
var defaultGitHubScopes = []string{"read:user", "user:email"}

// GitHubProvider drives GitHub's OAuth 2.0 endpoints. GitHub does not issue
// refresh tokens for standard OAuth apps, so refresh is declined.
type GitHubProvider struct {
	oauth2Provider
}

// NewGitHubProvider creates a GitHub provider from config.
func NewGitHubProvider(cfg *Config) (*GitHubProvider, error) {
	if err := validateOAuth2Config(cfg); err != nil {
		return nil, err
	}
	if len(cfg.Scopes) == 0 {
		scoped := *cfg
		scoped.Scopes = defaultGitHubScopes
		cfg = &scoped
	}
	return &GitHubProvider{
		oauth2Provider: newOAuth2Provider(cfg.routeName(), cfg, endpoints.GitHub),
	}, nil
}

// RefreshTokens declines; GitHub OAuth apps issue non-expiring tokens
// without a refresh grant.
func (p *GitHubProvider) RefreshTokens(_ context.Context, _ string) (*Tokens, error) {
	return nil, errors.NewRefreshNotSupported(p.Name())
}

// githubUser is the /user response shape.
type githubUser struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// githubEmail is one entry of the /user/emails response.
type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// UserInfo resolves the GitHub identity behind an access token. The email
// on /user is empty for users with private emails, so the primary address
// is fetched from /user/emails when needed.
func (p *GitHubProvider) UserInfo(ctx context.Context, accessToken string) (*storage.UserInfo, error) {
	return p.userInfoFrom(ctx, githubUserURL, githubEmailsURL, accessToken)
}

func (p *GitHubProvider) userInfoFrom(ctx context.Context, userURL, emailsURL, accessToken string) (*storage.UserInfo, error) {
	var user githubUser
	if err := p.userInfoRequest(ctx, userURL, accessToken, &user); err != nil {
		return nil, err
	}
	if user.ID == 0 {
		return nil, fmt.Errorf("github user response missing id")
	}

	email := user.Email
	if email == "" {
		var emails []githubEmail
		if err := p.userInfoRequest(ctx, emailsURL, accessToken, &emails); err == nil {
			for _, e := range emails {
				if e.Primary {
					email = e.Email
					break
				}
			}
		}
	}

	name := user.Name
	if name == "" {
		name = user.Login
	}

	return &storage.UserInfo{
		Subject:  strconv.FormatInt(user.ID, 10),
		Email:    email,
		Name:     name,
		Provider: p.Name(),
		Claims: map[string]any{
			"login": user.Login,
		},
	}, nil
}

// Compile-time interface compliance check
var _ IdentityProvider = (*GitHubProvider)(nil)
