package app

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jdutton/mcp-scaffold/pkg/clients"
	"github.com/jdutton/mcp-scaffold/pkg/config"
	"github.com/jdutton/mcp-scaffold/pkg/crypto"
	"github.com/jdutton/mcp-scaffold/pkg/logger"
	"github.com/jdutton/mcp-scaffold/pkg/mcpserver"
	"github.com/jdutton/mcp-scaffold/pkg/providers"
	"github.com/jdutton/mcp-scaffold/pkg/secrets"
	"github.com/jdutton/mcp-scaffold/pkg/server"
	"github.com/jdutton/mcp-scaffold/pkg/storage"
)

// runServe wires configuration, secrets, encryption, storage, providers,
// and the HTTP server together, then serves until the context is
// cancelled.
func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return err
	}

	secretsMgr, err := secrets.NewManager(cfg.SecretsProvider(), cfg.Secrets.File)
	if err != nil {
		return fmt.Errorf("failed to create secrets manager: %w", err)
	}

	encodedKey, err := secretsMgr.GetSecret(cfg.Encryption.KeySecret)
	if err != nil {
		return fmt.Errorf("failed to read encryption key secret %q: %w", cfg.Encryption.KeySecret, err)
	}
	enc, err := crypto.NewTokenEncryptionServiceFromBase64(encodedKey)
	if err != nil {
		return fmt.Errorf("invalid encryption key: %w", err)
	}

	backend, err := storage.NewBackend(ctx, cfg.StorageConfig(), enc)
	if err != nil {
		return fmt.Errorf("failed to create storage backend: %w", err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Warnw("failed to close storage backend", "error", err)
		}
	}()

	clientStore, closeClients, err := newClientStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeClients()

	registry := providers.NewRegistry()
	defer registry.Dispose()

	flows, err := buildFlows(cmd, cfg, secretsMgr, registry, backend)
	if err != nil {
		return err
	}

	mcpSrv := mcpserver.New("mcp-scaffold", getVersion())

	srv := server.New(server.Options{
		Address:             cfg.Server.Address,
		ShutdownTimeout:     cfg.Server.ShutdownTimeout,
		RegistrationEnabled: cfg.Registration.Enabled,
	}, backend, clientStore, flows, mcpSrv.Handler())

	return srv.Serve(ctx)
}

// newClientStore builds the DCR client store on the same backend family as
// token storage. The redis variant holds its own connection so the stores
// stay independently closeable.
func newClientStore(ctx context.Context, cfg *config.Config) (clients.Store, func(), error) {
	opts := cfg.ClientOptions()

	storageCfg := cfg.StorageConfig()
	if storageCfg.Type != storage.TypeRedis {
		store := clients.NewMemoryStore(opts)
		return store, func() { _ = store.Close() }, nil
	}

	client, err := storage.NewRedisClient(ctx, storageCfg.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect redis for client store: %w", err)
	}
	store := clients.NewRedisStore(client, storageCfg.Redis.KeyPrefix, opts)
	return store, func() {
		_ = store.Close()
		if err := client.Close(); err != nil {
			logger.Warnw("failed to close redis client", "error", err)
		}
	}, nil
}

// buildFlows resolves provider secrets and constructs one OAuth flow per
// configured provider, keyed by routing name.
func buildFlows(cmd *cobra.Command, cfg *config.Config, secretsMgr secrets.Manager,
	registry *providers.Registry, backend *storage.Backend) (map[string]*providers.Flow, error) {
	ctx := cmd.Context()

	providerCfgs, err := cfg.ProviderConfigs(secretsMgr.GetSecret)
	if err != nil {
		return nil, err
	}

	flows := make(map[string]*providers.Flow, len(providerCfgs))
	for i := range providerCfgs {
		pc := &providerCfgs[i]

		provider, err := registry.Get(ctx, pc)
		if err != nil {
			return nil, fmt.Errorf("failed to build provider %s: %w", pc.Type, err)
		}

		flow, err := providers.NewFlow(provider, backend)
		if err != nil {
			return nil, fmt.Errorf("failed to build flow for provider %s: %w", provider.Name(), err)
		}

		flows[provider.Name()] = flow
		logger.Infow("registered provider", "name", provider.Name(), "type", pc.Type)
	}

	if len(flows) == 0 {
		logger.Warnw("no providers configured, OAuth endpoints will reject all requests")
	}

	return flows, nil
}
