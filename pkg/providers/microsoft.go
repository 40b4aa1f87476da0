package providers

import (
	"context"
	"fmt"

	"golang.org/x/oauth2/endpoints"

	"github.com/jdutton/mcp-scaffold/pkg/storage"
)

const microsoftGraphMeURL = "https://graph.microsoft.com/v1.0/me"

// defaultMicrosoftTenant is used when the config names no tenant.
const defaultMicrosoftTenant = "common"

// defaultMicrosoftScopes are applied when the config names none.
// offline_access is what makes Entra ID issue a refresh token.
var defaultMicrosoftScopes = []string{"openid", "email", "profile", "offline_access", "User.Read"}

// MicrosoftProvider drives the Microsoft identity platform (Entra ID).
type MicrosoftProvider struct {
	oauth2Provider
}

// NewMicrosoftProvider creates a Microsoft provider from config.
func NewMicrosoftProvider(cfg *Config) (*MicrosoftProvider, error) {
	if err := validateOAuth2Config(cfg); err != nil {
		return nil, err
	}
	scoped := *cfg
	if len(scoped.Scopes) == 0 {
		scoped.Scopes = defaultMicrosoftScopes
	}
	tenant := scoped.Tenant
	if tenant == "" {
		tenant = defaultMicrosoftTenant
	}
	return &MicrosoftProvider{
		oauth2Provider: newOAuth2Provider(scoped.routeName(), &scoped, endpoints.AzureAD(tenant)),
	}, nil
}

// microsoftUser is the Graph /me response shape.
type microsoftUser struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}

// UserInfo resolves the Microsoft identity behind an access token via the
// Graph API. mail is empty for accounts without a mailbox; the principal
// name is the fallback address.
func (p *MicrosoftProvider) UserInfo(ctx context.Context, accessToken string) (*storage.UserInfo, error) {
	var user microsoftUser
	if err := p.userInfoRequest(ctx, microsoftGraphMeURL, accessToken, &user); err != nil {
		return nil, err
	}
	if user.ID == "" {
		return nil, fmt.Errorf("microsoft graph response missing id")
	}

	email := user.Mail
	if email == "" {
		email = user.UserPrincipalName
	}

	return &storage.UserInfo{
		Subject:  user.ID,
		Email:    email,
		Name:     user.DisplayName,
		Provider: p.Name(),
		Claims: map[string]any{
			"user_principal_name": user.UserPrincipalName,
		},
	}, nil
}

// Compile-time interface compliance check
var _ IdentityProvider = (*MicrosoftProvider)(nil)
