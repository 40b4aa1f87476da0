package clients

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jdutton/mcp-scaffold/pkg/logger"
)

// secretBytes is the entropy of a generated client secret.
const secretBytes = 32

// Options configures client registration policy, shared by both store
// implementations.
type Options struct {
	// SecretTTL is how long issued client secrets remain valid. Zero means
	// secrets never expire.
	SecretTTL time.Duration

	// ProductionMode rejects wildcard redirect URIs at registration.
	ProductionMode bool
}

// mint validates metadata and builds a fresh record plus its plaintext
// secret. Distinct concurrent registrations are guaranteed distinct IDs by
// UUID entropy, not by locking.
func mint(metadata *Metadata, opts Options) (*Registration, error) {
	validated, regErr := validateMetadata(metadata, opts.ProductionMode)
	if regErr != nil {
		return nil, regErr
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, fmt.Errorf("failed to generate client secret: %w", err)
	}

	now := time.Now()
	client := &Client{
		ClientID:                uuid.NewString(),
		ClientSecretHash:        HashSecret(secret),
		ClientIDIssuedAt:        now,
		RedirectURIs:            validated.RedirectURIs,
		ClientName:              validated.ClientName,
		TokenEndpointAuthMethod: validated.TokenEndpointAuthMethod,
		GrantTypes:              validated.GrantTypes,
		ResponseTypes:           validated.ResponseTypes,
		Scope:                   validated.Scope,
	}
	// Only an exact zero means no expiry; a negative TTL mints secrets
	// already past their expiry.
	if opts.SecretTTL != 0 {
		client.ClientSecretExpiresAt = now.Add(opts.SecretTTL)
	}

	return &Registration{Client: client, ClientSecret: secret}, nil
}

func generateSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// MemoryStore implements Store with an in-process map. Registrations are
// lost on restart; suitable for single-instance deployments and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	clients map[string]*Client
	opts    Options
}

// NewMemoryStore creates an in-memory client store.
func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		clients: make(map[string]*Client),
		opts:    opts,
	}
}

// Register mints and persists a new client.
func (s *MemoryStore) Register(_ context.Context, metadata *Metadata) (*Registration, error) {
	reg, err := mint(metadata, s.opts)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.clients[reg.ClientID] = reg.Client
	s.mu.Unlock()

	logger.Infow("registered client", "client_id", reg.ClientID, "client_name", reg.ClientName)
	return reg, nil
}

// Get returns the client record, or nil if not registered.
func (s *MemoryStore) Get(_ context.Context, clientID string) (*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		return nil, nil
	}
	copied := *client
	return &copied, nil
}

// Delete removes a client.
func (s *MemoryStore) Delete(_ context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, clientID)
	return nil
}

// List returns all registered clients.
func (s *MemoryStore) List(_ context.Context) ([]*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Client, 0, len(s.clients))
	for _, client := range s.clients {
		copied := *client
		out = append(out, &copied)
	}
	return out, nil
}

// CleanupExpired removes clients whose secret expiry has passed.
func (s *MemoryStore) CleanupExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, client := range s.clients {
		if client.SecretExpired() {
			delete(s.clients, id)
			removed++
		}
	}
	return removed, nil
}

// Close is a no-op for the in-memory store.
func (*MemoryStore) Close() error {
	return nil
}

// Compile-time interface compliance check
var _ Store = (*MemoryStore)(nil)
