package storage

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/jdutton/mcp-scaffold/pkg/crypto"
	"github.com/jdutton/mcp-scaffold/pkg/logger"
)

// NewBackend builds the session, PKCE, and token stores for the configured
// backend type. All redis stores share one client.
func NewBackend(ctx context.Context, cfg *Config, enc *crypto.TokenEncryptionService) (*Backend, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	switch cfg.Type {
	case TypeMemory, "":
		logger.Infow("using in-memory storage backend")
		return newMemoryBackend(cfg, enc)

	case TypeRedis:
		client, err := NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		logger.Infow("using redis storage backend", "addr", cfg.Redis.Addr, "db", cfg.Redis.DB)
		return NewRedisBackendWithClient(client, cfg.Redis.KeyPrefix, enc, true)

	default:
		return nil, fmt.Errorf("unknown storage type: %q", cfg.Type)
	}
}

func newMemoryBackend(cfg *Config, enc *crypto.TokenEncryptionService) (*Backend, error) {
	opts := []MemoryOption{}
	if cfg.CleanupInterval > 0 {
		opts = append(opts, WithCleanupInterval(cfg.CleanupInterval))
	}

	tokens, err := NewMemoryTokenStore(enc, opts...)
	if err != nil {
		return nil, err
	}

	return &Backend{
		Sessions: NewMemorySessionStore(opts...),
		PKCE:     NewMemoryPKCEStore(opts...),
		Tokens:   tokens,
	}, nil
}

// NewRedisBackendWithClient builds redis stores on an existing client.
// When ownsClient is set, closing the backend closes the client; tests
// that hand in a miniredis-backed client keep ownership themselves.
func NewRedisBackendWithClient(client redis.UniversalClient, keyPrefix string, enc *crypto.TokenEncryptionService, ownsClient bool) (*Backend, error) {
	sessions, err := NewRedisSessionStore(client, keyPrefix, enc)
	if err != nil {
		return nil, err
	}
	pkce, err := NewRedisPKCEStore(client, keyPrefix, enc)
	if err != nil {
		return nil, err
	}
	tokens, err := NewRedisTokenStore(client, keyPrefix, enc)
	if err != nil {
		return nil, err
	}

	// One store owns the shared client so Close runs exactly once.
	sessions.ownsClient = ownsClient

	return &Backend{Sessions: sessions, PKCE: pkce, Tokens: tokens}, nil
}
