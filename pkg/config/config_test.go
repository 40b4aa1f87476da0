package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdutton/mcp-scaffold/pkg/providers"
	"github.com/jdutton/mcp-scaffold/pkg/secrets"
	"github.com/jdutton/mcp-scaffold/pkg/storage"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Address)
	assert.Equal(t, "http://127.0.0.1:8080", cfg.Server.ExternalURL)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, string(storage.TypeMemory), cfg.Storage.Type)
	assert.Equal(t, string(secrets.EnvironmentType), cfg.Secrets.Provider)
	assert.Equal(t, "encryption_key", cfg.Encryption.KeySecret)
	assert.True(t, cfg.Registration.Enabled)
	assert.Empty(t, cfg.Providers)
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, `
server:
  address: 0.0.0.0:9000
  external_url: https://auth.example.com
storage:
  type: redis
  redis:
    addr: redis.internal:6379
    key_prefix: "prod:"
registration:
  secret_ttl: 720h
  production_mode: true
providers:
  - type: github
    client_id: gh-client
    client_secret: gh-secret
  - name: corp
    type: oidc
    issuer: https://login.corp.example.com
    client_id: corp-client
    client_secret_ref: corp_oidc_secret
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Address)
	assert.Equal(t, "redis", cfg.Storage.Type)
	assert.Equal(t, "redis.internal:6379", cfg.Storage.Redis.Addr)
	assert.Equal(t, 720*time.Hour, cfg.Registration.SecretTTL)
	assert.True(t, cfg.Registration.ProductionMode)
	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, providers.TypeGitHub, cfg.Providers[0].Type)
	assert.Equal(t, "corp", cfg.Providers[1].Name)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("MCP_SCAFFOLD_SERVER_ADDRESS", "127.0.0.1:7777")
	t.Setenv("MCP_SCAFFOLD_STORAGE_TYPE", "redis")
	t.Setenv("MCP_SCAFFOLD_STORAGE_REDIS_ADDR", "env-redis:6379")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7777", cfg.Server.Address)
	assert.Equal(t, "redis", cfg.Storage.Type)
	assert.Equal(t, "env-redis:6379", cfg.Storage.Redis.Addr)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing address",
			mutate:  func(c *Config) { c.Server.Address = "" },
			wantErr: "server.address is required",
		},
		{
			name:    "relative external url",
			mutate:  func(c *Config) { c.Server.ExternalURL = "/auth" },
			wantErr: "absolute URL",
		},
		{
			name:    "bad external scheme",
			mutate:  func(c *Config) { c.Server.ExternalURL = "ftp://example.com" },
			wantErr: "must be http or https",
		},
		{
			name:    "unknown storage type",
			mutate:  func(c *Config) { c.Storage.Type = "etcd" },
			wantErr: "storage.type must be memory or redis",
		},
		{
			name: "redis without addr",
			mutate: func(c *Config) {
				c.Storage.Type = "redis"
				c.Storage.Redis.Addr = ""
			},
			wantErr: "storage.redis.addr is required",
		},
		{
			name:    "basic secrets without file",
			mutate:  func(c *Config) { c.Secrets.Provider = "basic" },
			wantErr: "secrets.file is required",
		},
		{
			name:    "empty encryption key secret",
			mutate:  func(c *Config) { c.Encryption.KeySecret = "" },
			wantErr: "encryption.key_secret is required",
		},
		{
			name: "provider without type",
			mutate: func(c *Config) {
				c.Providers = []ProviderConfig{{ClientID: "x", ClientSecret: "y"}}
			},
			wantErr: "type is required",
		},
		{
			name: "unknown provider type",
			mutate: func(c *Config) {
				c.Providers = []ProviderConfig{{Type: "okta", ClientID: "x", ClientSecret: "y"}}
			},
			wantErr: "unknown type",
		},
		{
			name: "oidc without issuer",
			mutate: func(c *Config) {
				c.Providers = []ProviderConfig{{Type: "oidc", ClientID: "x", ClientSecret: "y"}}
			},
			wantErr: "issuer is required",
		},
		{
			name: "provider without credentials",
			mutate: func(c *Config) {
				c.Providers = []ProviderConfig{{Type: "google", ClientID: "x"}}
			},
			wantErr: "client_secret or client_secret_ref",
		},
		{
			name: "duplicate provider names",
			mutate: func(c *Config) {
				c.Providers = []ProviderConfig{
					{Type: "github", ClientID: "a", ClientSecret: "s"},
					{Name: "github", Type: "oidc", Issuer: "https://x", ClientID: "b", ClientSecret: "s"},
				}
			},
			wantErr: `duplicate provider name "github"`,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Server.Address = ""
	cfg.Encryption.KeySecret = ""

	verr := cfg.Validate()
	require.Error(t, verr)
	assert.Contains(t, verr.Error(), "server.address is required")
	assert.Contains(t, verr.Error(), "encryption.key_secret is required")
}

func TestStorageConfigTranslation(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Storage: StorageConfig{
			Type:            "redis",
			CleanupInterval: time.Minute,
			Redis: RedisConfig{
				Addr:      "r:6379",
				Password:  "pw",
				DB:        2,
				KeyPrefix: "x:",
			},
		},
	}

	sc := cfg.StorageConfig()
	assert.Equal(t, storage.TypeRedis, sc.Type)
	assert.Equal(t, time.Minute, sc.CleanupInterval)
	require.NotNil(t, sc.Redis)
	assert.Equal(t, "r:6379", sc.Redis.Addr)
	assert.Equal(t, 2, sc.Redis.DB)

	cfg.Storage.Type = "memory"
	assert.Nil(t, cfg.StorageConfig().Redis)
}

func TestProviderConfigsResolution(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Server: ServerConfig{ExternalURL: "https://auth.example.com/"},
		Providers: []ProviderConfig{
			{Type: "github", ClientID: "gh", ClientSecret: "inline"},
			{Name: "corp", Type: "oidc", Issuer: "https://login.corp", ClientID: "c", ClientSecretRef: "corp_secret"},
			{Type: "google", ClientID: "g", ClientSecret: "s", RedirectURL: "https://other.example.com/cb"},
		},
	}

	resolved, err := cfg.ProviderConfigs(func(name string) (string, error) {
		require.Equal(t, "corp_secret", name)
		return "from-manager", nil
	})
	require.NoError(t, err)
	require.Len(t, resolved, 3)

	assert.Equal(t, "inline", resolved[0].ClientSecret)
	assert.Equal(t, "https://auth.example.com/auth/github/callback", resolved[0].RedirectURL)
	assert.Equal(t, "from-manager", resolved[1].ClientSecret)
	assert.Equal(t, "https://auth.example.com/auth/corp/callback", resolved[1].RedirectURL)
	assert.Equal(t, "https://other.example.com/cb", resolved[2].RedirectURL)
}

func TestProviderConfigsResolveFailure(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Server: ServerConfig{ExternalURL: "https://auth.example.com"},
		Providers: []ProviderConfig{
			{Type: "github", ClientID: "gh", ClientSecretRef: "missing"},
		},
	}

	_, err := cfg.ProviderConfigs(func(string) (string, error) {
		return "", os.ErrNotExist
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to resolve client secret for provider github")
}
