package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	scaffolderrors "github.com/jdutton/mcp-scaffold/pkg/errors"
	"github.com/jdutton/mcp-scaffold/pkg/logger"
)

// keyKindClient namespaces client records: <prefix>oauth:client:<client_id>.
const keyKindClient = "oauth:client:"

// clientScanBatchSize is the COUNT hint for key scans in List and cleanup.
const clientScanBatchSize = 100

// RedisStore implements Store on a Redis-compatible backend so registrations
// survive restarts and are visible across instances. Records hold only the
// hashed secret, so they are stored as plain JSON.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	opts      Options
}

// NewRedisStore creates a client store on an existing redis client. The
// store does not own the client; the caller closes it.
func NewRedisStore(client redis.UniversalClient, keyPrefix string, opts Options) *RedisStore {
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		opts:      opts,
	}
}

func (s *RedisStore) key(clientID string) string {
	return s.keyPrefix + keyKindClient + clientID
}

// Register mints and persists a new client. Records have no native TTL;
// secret expiry is policy enforced by readers and CleanupExpired.
func (s *RedisStore) Register(ctx context.Context, metadata *Metadata) (*Registration, error) {
	reg, err := mint(metadata, s.opts)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(reg.Client)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal client: %w", err)
	}

	if err := s.client.Set(ctx, s.key(reg.ClientID), payload, 0).Err(); err != nil {
		return nil, scaffolderrors.NewStorageFailed("failed to store client", err)
	}

	logger.Infow("registered client", "client_id", reg.ClientID, "client_name", reg.ClientName)
	return reg, nil
}

// Get returns the client record, or nil if not registered.
func (s *RedisStore) Get(ctx context.Context, clientID string) (*Client, error) {
	payload, err := s.client.Get(ctx, s.key(clientID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	var client Client
	if err := json.Unmarshal([]byte(payload), &client); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client: %w", err)
	}
	return &client, nil
}

// Delete removes a client.
func (s *RedisStore) Delete(ctx context.Context, clientID string) error {
	if err := s.client.Del(ctx, s.key(clientID)).Err(); err != nil {
		return scaffolderrors.NewStorageFailed("failed to delete client", err)
	}
	return nil
}

// List returns all registered clients via a key scan. O(n) over the key
// space.
func (s *RedisStore) List(ctx context.Context) ([]*Client, error) {
	var out []*Client
	err := s.scan(ctx, func(client *Client) error {
		out = append(out, client)
		return nil
	})
	return out, err
}

// CleanupExpired removes clients whose secret expiry has passed.
func (s *RedisStore) CleanupExpired(ctx context.Context) (int, error) {
	removed := 0
	err := s.scan(ctx, func(client *Client) error {
		if !client.SecretExpired() {
			return nil
		}
		if err := s.client.Del(ctx, s.key(client.ClientID)).Err(); err != nil {
			return scaffolderrors.NewStorageFailed("failed to delete expired client", err)
		}
		removed++
		return nil
	})
	return removed, err
}

func (s *RedisStore) scan(ctx context.Context, visit func(*Client) error) error {
	var cursor uint64
	pattern := s.keyPrefix + keyKindClient + "*"
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, clientScanBatchSize).Result()
		if err != nil {
			return fmt.Errorf("failed to scan clients: %w", err)
		}
		for _, key := range keys {
			payload, err := s.client.Get(ctx, key).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				return fmt.Errorf("failed to get client: %w", err)
			}
			var client Client
			if err := json.Unmarshal([]byte(payload), &client); err != nil {
				logger.Warnw("skipping malformed client record", "key", key, "error", err)
				continue
			}
			if err := visit(&client); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Close is a no-op; the shared redis client is owned elsewhere.
func (*RedisStore) Close() error {
	return nil
}

// Compile-time interface compliance check
var _ Store = (*RedisStore)(nil)
