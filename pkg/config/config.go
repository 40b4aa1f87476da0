// Package config loads and validates the scaffold's configuration from a
// YAML file with MCP_SCAFFOLD_* environment overrides.
//
// Only this package and the composition root touch the environment; the
// rest of the codebase receives typed configuration structs.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jdutton/mcp-scaffold/pkg/clients"
	"github.com/jdutton/mcp-scaffold/pkg/providers"
	"github.com/jdutton/mcp-scaffold/pkg/secrets"
	"github.com/jdutton/mcp-scaffold/pkg/storage"
)

// envPrefix namespaces environment overrides, e.g.
// MCP_SCAFFOLD_SERVER_ADDRESS overrides server.address.
const envPrefix = "MCP_SCAFFOLD"

// Config is the root configuration schema.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Secrets      SecretsConfig      `mapstructure:"secrets"`
	Encryption   EncryptionConfig   `mapstructure:"encryption"`
	Registration RegistrationConfig `mapstructure:"registration"`
	Providers    []ProviderConfig   `mapstructure:"providers"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Address is the listen address, host:port.
	Address string `mapstructure:"address"`

	// ExternalURL is the base URL clients reach us at, used to build
	// callback redirect URLs. No trailing slash.
	ExternalURL string `mapstructure:"external_url"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	// Type is "memory" or "redis".
	Type string `mapstructure:"type"`

	// CleanupInterval overrides the in-memory janitor interval.
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`

	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds Redis connection settings, used when storage.type is
// "redis".
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	// KeyPrefix namespaces all keys written by this deployment.
	KeyPrefix string `mapstructure:"key_prefix"`

	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// SecretsConfig selects the secrets manager backend.
type SecretsConfig struct {
	// Provider is "environment" or "basic".
	Provider string `mapstructure:"provider"`

	// File is the secrets file path for the basic provider.
	File string `mapstructure:"file"`
}

// EncryptionConfig names the secret holding the AES-256 key.
type EncryptionConfig struct {
	// KeySecret is the secret name resolved through the secrets manager.
	// The value must be a base64-encoded 32-byte key.
	KeySecret string `mapstructure:"key_secret"`
}

// RegistrationConfig configures dynamic client registration policy.
type RegistrationConfig struct {
	// Enabled exposes POST /auth/register.
	Enabled bool `mapstructure:"enabled"`

	// SecretTTL bounds issued client secrets. Zero means no expiry.
	SecretTTL time.Duration `mapstructure:"secret_ttl"`

	// ProductionMode rejects wildcard redirect URIs.
	ProductionMode bool `mapstructure:"production_mode"`
}

// ProviderConfig describes one upstream identity provider.
type ProviderConfig struct {
	// Name is the routing name used in /auth/{provider} paths.
	// Defaults to Type.
	Name string `mapstructure:"name"`

	// Type is google, github, microsoft, or oidc.
	Type string `mapstructure:"type"`

	ClientID string `mapstructure:"client_id"`

	// ClientSecret is the literal secret. Prefer ClientSecretRef.
	ClientSecret string `mapstructure:"client_secret"`

	// ClientSecretRef names a secret resolved through the secrets
	// manager. Takes precedence over ClientSecret when set.
	ClientSecretRef string `mapstructure:"client_secret_ref"`

	// RedirectURL overrides the default external_url-derived callback.
	RedirectURL string `mapstructure:"redirect_url"`

	Scopes []string `mapstructure:"scopes"`

	// Issuer is required for the oidc type.
	Issuer string `mapstructure:"issuer"`

	// Tenant selects the Microsoft tenant.
	Tenant string `mapstructure:"tenant"`
}

// Load reads configuration from the given YAML file (optional) plus
// environment overrides, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "127.0.0.1:8080")
	v.SetDefault("server.external_url", "http://127.0.0.1:8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("storage.type", string(storage.TypeMemory))
	v.SetDefault("storage.redis.addr", "127.0.0.1:6379")
	v.SetDefault("storage.redis.key_prefix", "mcpscaffold:")
	v.SetDefault("secrets.provider", string(secrets.EnvironmentType))
	v.SetDefault("encryption.key_secret", "encryption_key")
	v.SetDefault("registration.enabled", true)
}

// StorageConfig translates to the storage package's configuration.
func (c *Config) StorageConfig() *storage.Config {
	out := &storage.Config{
		Type:            storage.Type(c.Storage.Type),
		CleanupInterval: c.Storage.CleanupInterval,
	}
	if out.Type == storage.TypeRedis {
		out.Redis = &storage.RedisConfig{
			Addr:         c.Storage.Redis.Addr,
			Username:     c.Storage.Redis.Username,
			Password:     c.Storage.Redis.Password,
			DB:           c.Storage.Redis.DB,
			KeyPrefix:    c.Storage.Redis.KeyPrefix,
			DialTimeout:  c.Storage.Redis.DialTimeout,
			ReadTimeout:  c.Storage.Redis.ReadTimeout,
			WriteTimeout: c.Storage.Redis.WriteTimeout,
		}
	}
	return out
}

// ClientOptions translates to the client registration policy.
func (c *Config) ClientOptions() clients.Options {
	return clients.Options{
		SecretTTL:      c.Registration.SecretTTL,
		ProductionMode: c.Registration.ProductionMode,
	}
}

// SecretsProvider returns the secrets manager type.
func (c *Config) SecretsProvider() secrets.ProviderType {
	return secrets.ProviderType(c.Secrets.Provider)
}

// ProviderConfigs resolves per-provider secrets and defaults each
// provider's redirect URL under the external base URL.
func (c *Config) ProviderConfigs(resolve func(name string) (string, error)) ([]providers.Config, error) {
	out := make([]providers.Config, 0, len(c.Providers))
	for i := range c.Providers {
		p := &c.Providers[i]

		secret := p.ClientSecret
		if p.ClientSecretRef != "" {
			resolved, err := resolve(p.ClientSecretRef)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve client secret for provider %s: %w", p.providerName(), err)
			}
			secret = resolved
		}

		redirect := p.RedirectURL
		if redirect == "" {
			redirect = fmt.Sprintf("%s/auth/%s/callback",
				strings.TrimSuffix(c.Server.ExternalURL, "/"), p.providerName())
		}

		out = append(out, providers.Config{
			Name:         p.Name,
			Type:         p.Type,
			ClientID:     p.ClientID,
			ClientSecret: secret,
			RedirectURL:  redirect,
			Scopes:       p.Scopes,
			Issuer:       p.Issuer,
			Tenant:       p.Tenant,
		})
	}
	return out, nil
}

func (p *ProviderConfig) providerName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Type
}
