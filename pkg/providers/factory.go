package providers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jdutton/mcp-scaffold/pkg/errors"
	"github.com/jdutton/mcp-scaffold/pkg/logger"
)

// New builds an IdentityProvider from config. The context is used for OIDC
// discovery only.
func New(ctx context.Context, cfg *Config) (IdentityProvider, error) {
	if cfg == nil {
		return nil, errors.NewInvalidInput("provider config is required")
	}

	switch cfg.Type {
	case TypeGoogle:
		return NewGoogleProvider(cfg)
	case TypeGitHub:
		return NewGitHubProvider(cfg)
	case TypeMicrosoft:
		return NewMicrosoftProvider(cfg)
	case TypeOIDC:
		return NewGenericProvider(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown provider type: %q", cfg.Type)
	}
}

// Registry caches built providers by config hash so repeated lookups with
// an unchanged config reuse the instance (and its discovery state), while
// a config change yields a fresh provider.
type Registry struct {
	mu        sync.Mutex
	providers map[string]IdentityProvider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]IdentityProvider),
	}
}

// Get returns the cached provider for cfg, building it on first use.
// Construction happens outside the lock: OIDC discovery can block on the
// network, and a slow issuer must not stall lookups for other providers.
func (r *Registry) Get(ctx context.Context, cfg *Config) (IdentityProvider, error) {
	hash, err := configHash(cfg)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if p, ok := r.providers[hash]; ok {
		r.mu.Unlock()
		return p, nil
	}
	r.mu.Unlock()

	p, err := New(ctx, cfg)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// A concurrent Get may have built the same provider; keep the first
	// cached instance so callers keep observing one identity per config.
	if cached, ok := r.providers[hash]; ok {
		return cached, nil
	}
	r.providers[hash] = p

	logger.Debugw("cached provider", "name", p.Name(), "config_hash", hash[:12])
	return p, nil
}

// Dispose drops all cached providers. Safe to call more than once.
func (r *Registry) Dispose() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = make(map[string]IdentityProvider)
}

// configHash returns the hex sha256 of the canonical JSON encoding of cfg.
// Go's json encoder emits struct fields in declaration order, so equal
// configs always hash equal.
func configHash(cfg *Config) (string, error) {
	if cfg == nil {
		return "", errors.NewInvalidInput("provider config is required")
	}
	canonical, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to hash provider config: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
