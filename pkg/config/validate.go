package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/jdutton/mcp-scaffold/pkg/providers"
	"github.com/jdutton/mcp-scaffold/pkg/secrets"
	"github.com/jdutton/mcp-scaffold/pkg/storage"
)

// Validate checks the whole configuration and reports every problem
// found, not just the first.
func (c *Config) Validate() error {
	var problems []string

	if err := c.validateServer(); err != nil {
		problems = append(problems, err.Error())
	}
	if err := c.validateStorage(); err != nil {
		problems = append(problems, err.Error())
	}
	if err := c.validateSecrets(); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Encryption.KeySecret == "" {
		problems = append(problems, "encryption.key_secret is required")
	}
	for i := range c.Providers {
		if err := c.Providers[i].validate(); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if err := c.validateProviderNames(); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	if c.Server.ExternalURL == "" {
		return fmt.Errorf("server.external_url is required")
	}
	u, err := url.Parse(c.Server.ExternalURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("server.external_url must be an absolute URL, got %q", c.Server.ExternalURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server.external_url must be http or https, got %q", u.Scheme)
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch storage.Type(c.Storage.Type) {
	case storage.TypeMemory, "":
		return nil
	case storage.TypeRedis:
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr is required for redis storage")
		}
		return nil
	default:
		return fmt.Errorf("storage.type must be memory or redis, got %q", c.Storage.Type)
	}
}

func (c *Config) validateSecrets() error {
	switch secrets.ProviderType(c.Secrets.Provider) {
	case secrets.EnvironmentType, "":
		return nil
	case secrets.BasicType:
		if c.Secrets.File == "" {
			return fmt.Errorf("secrets.file is required for the basic provider")
		}
		return nil
	default:
		return fmt.Errorf("secrets.provider must be environment or basic, got %q", c.Secrets.Provider)
	}
}

func (p *ProviderConfig) validate() error {
	name := p.providerName()
	switch p.Type {
	case providers.TypeGoogle, providers.TypeGitHub, providers.TypeMicrosoft:
	case providers.TypeOIDC:
		if p.Issuer == "" {
			return fmt.Errorf("provider %s: issuer is required for oidc providers", name)
		}
	case "":
		return fmt.Errorf("provider %q: type is required", p.Name)
	default:
		return fmt.Errorf("provider %s: unknown type %q", name, p.Type)
	}
	if p.ClientID == "" {
		return fmt.Errorf("provider %s: client_id is required", name)
	}
	if p.ClientSecret == "" && p.ClientSecretRef == "" {
		return fmt.Errorf("provider %s: client_secret or client_secret_ref is required", name)
	}
	return nil
}

// validateProviderNames rejects duplicate routing names, which would make
// /auth/{provider} ambiguous.
func (c *Config) validateProviderNames() error {
	seen := make(map[string]struct{}, len(c.Providers))
	for i := range c.Providers {
		name := c.Providers[i].providerName()
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("duplicate provider name %q", name)
		}
		seen[name] = struct{}{}
	}
	return nil
}
