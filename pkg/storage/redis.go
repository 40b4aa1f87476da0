package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"

	"github.com/jdutton/mcp-scaffold/pkg/crypto"
	scaffolderrors "github.com/jdutton/mcp-scaffold/pkg/errors"
	"github.com/jdutton/mcp-scaffold/pkg/logger"
)

// Key namespaces. Keys are namespaced under the configured prefix so logical
// stores can safely share one backend:
//
//	<prefix>oauth:session:<state>
//	<prefix>oauth:pkce:<code>
//	<prefix>oauth:token:<sha256(accessToken)>
//	<prefix>oauth:refresh:<sha256(refreshToken)>
const (
	keyKindSession = "oauth:session:"
	keyKindPKCE    = "oauth:pkce:"
	keyKindToken   = "oauth:token:"
	keyKindRefresh = "oauth:refresh:"
)

// scanBatchSize is the COUNT hint used for key scans in the count operations.
const scanBatchSize = 100

// NewRedisClient creates a redis client from config and verifies
// connectivity with a ping.
func NewRedisClient(ctx context.Context, cfg *RedisConfig) (redis.UniversalClient, error) {
	if cfg == nil || cfg.Addr == "" {
		return nil, scaffolderrors.NewInvalidInput("redis address is required")
	}

	dialTimeout := cfg.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = DefaultDialTimeout
	}
	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = DefaultReadTimeout
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = DefaultWriteTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	// Transient startup ordering (redis container still coming up) is the
	// common failure here, so retry the ping briefly before giving up.
	ping := func() (struct{}, error) {
		return struct{}{}, client.Ping(ctx).Err()
	}
	if _, err := backoff.Retry(ctx, ping,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(10*time.Second),
	); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// redisBase carries the client and key prefix shared by the redis stores.
type redisBase struct {
	client    redis.UniversalClient
	keyPrefix string

	// ownsClient marks the store responsible for closing the client.
	ownsClient bool
}

func (b *redisBase) key(kind, id string) string {
	return b.keyPrefix + kind + id
}

func (b *redisBase) close() error {
	if b.ownsClient {
		return b.client.Close()
	}
	return nil
}

// countKeys scans the key space for a kind and counts matches. O(n) over the
// backend key space; acceptable for monitoring, never for the hot path.
func (b *redisBase) countKeys(ctx context.Context, kind string) (int, error) {
	var cursor uint64
	count := 0
	pattern := b.keyPrefix + kind + "*"
	for {
		keys, next, err := b.client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to scan keys: %w", err)
		}
		count += len(keys)
		cursor = next
		if cursor == 0 {
			return count, nil
		}
	}
}

// RedisSessionStore implements SessionStore on a shared Redis backend.
// Expiry is delegated to native key TTLs, so state created by one process
// instance is visible to the instance that serves the callback.
type RedisSessionStore struct {
	redisBase
	enc *crypto.TokenEncryptionService
}

// NewRedisSessionStore creates a session store on an existing client.
func NewRedisSessionStore(client redis.UniversalClient, keyPrefix string, enc *crypto.TokenEncryptionService) (*RedisSessionStore, error) {
	if enc == nil {
		return nil, scaffolderrors.NewInvalidInput("encryption service is required")
	}
	return &RedisSessionStore{
		redisBase: redisBase{client: client, keyPrefix: keyPrefix},
		enc:       enc,
	}, nil
}

// StoreSession persists an encrypted session with a native TTL.
func (s *RedisSessionStore) StoreSession(ctx context.Context, state string, session *OAuthSession) error {
	if state == "" {
		return scaffolderrors.NewInvalidInput("state cannot be empty")
	}
	if session == nil {
		return scaffolderrors.NewInvalidInput("session cannot be nil")
	}

	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	payload, err := s.enc.EncryptJSON(session)
	if err != nil {
		return err
	}

	if err := s.client.Set(ctx, s.key(keyKindSession, state), payload, ttl).Err(); err != nil {
		return scaffolderrors.NewStorageFailed("failed to store session", err)
	}
	return nil
}

// GetSession returns the session for a state, or nil if absent or expired.
func (s *RedisSessionStore) GetSession(ctx context.Context, state string) (*OAuthSession, error) {
	payload, err := s.client.Get(ctx, s.key(keyKindSession, state)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			logger.Debugw("session not found", "store", "redis")
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session OAuthSession
	if err := s.enc.DecryptJSON(payload, &session); err != nil {
		return nil, err
	}

	// The native TTL should have removed it already; double-check.
	if session.IsExpired() {
		_ = s.client.Del(ctx, s.key(keyKindSession, state)).Err()
		logger.Debugw("session expired", "store", "redis")
		return nil, nil
	}

	return &session, nil
}

// DeleteSession removes a session.
func (s *RedisSessionStore) DeleteSession(ctx context.Context, state string) error {
	if err := s.client.Del(ctx, s.key(keyKindSession, state)).Err(); err != nil {
		return scaffolderrors.NewStorageFailed("failed to delete session", err)
	}
	return nil
}

// Cleanup is a compatibility shim; native TTLs already expire sessions.
func (*RedisSessionStore) Cleanup(_ context.Context) (int, error) {
	return 0, nil
}

// SessionCount scans the session key space. O(n); debug and monitoring only.
func (s *RedisSessionStore) SessionCount(ctx context.Context) (int, error) {
	return s.countKeys(ctx, keyKindSession)
}

// Close closes the underlying client if this store owns it.
func (s *RedisSessionStore) Close() error {
	return s.close()
}

// RedisPKCEStore implements PKCEStore on a shared Redis backend. The
// consume-once guarantee rides on GETDEL, which Redis executes atomically,
// so two racing callbacks can never both redeem one code.
type RedisPKCEStore struct {
	redisBase
	enc *crypto.TokenEncryptionService
}

// NewRedisPKCEStore creates a PKCE store on an existing client.
func NewRedisPKCEStore(client redis.UniversalClient, keyPrefix string, enc *crypto.TokenEncryptionService) (*RedisPKCEStore, error) {
	if enc == nil {
		return nil, scaffolderrors.NewInvalidInput("encryption service is required")
	}
	return &RedisPKCEStore{
		redisBase: redisBase{client: client, keyPrefix: keyPrefix},
		enc:       enc,
	}, nil
}

// StoreCodeVerifier persists encrypted data under code with a native TTL.
func (s *RedisPKCEStore) StoreCodeVerifier(ctx context.Context, code string, data *PKCEData, ttl time.Duration) error {
	if code == "" {
		return scaffolderrors.NewInvalidInput("code cannot be empty")
	}
	if data == nil {
		return scaffolderrors.NewInvalidInput("data cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultPKCETTL
	}

	payload, err := s.enc.EncryptJSON(data)
	if err != nil {
		return err
	}

	if err := s.client.Set(ctx, s.key(keyKindPKCE, code), payload, ttl).Err(); err != nil {
		return scaffolderrors.NewStorageFailed("failed to store code verifier", err)
	}
	return nil
}

// GetCodeVerifier returns the data for a code without consuming it.
func (s *RedisPKCEStore) GetCodeVerifier(ctx context.Context, code string) (*PKCEData, error) {
	payload, err := s.client.Get(ctx, s.key(keyKindPKCE, code)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get code verifier: %w", err)
	}
	return s.decode(payload)
}

// GetAndDeleteCodeVerifier atomically retrieves and removes the data for a
// code via GETDEL.
func (s *RedisPKCEStore) GetAndDeleteCodeVerifier(ctx context.Context, code string) (*PKCEData, error) {
	payload, err := s.client.GetDel(ctx, s.key(keyKindPKCE, code)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			logger.Debugw("code verifier not found or already consumed", "store", "redis")
			return nil, nil
		}
		return nil, fmt.Errorf("failed to consume code verifier: %w", err)
	}
	return s.decode(payload)
}

// HasCodeVerifier reports whether a code is currently stored.
func (s *RedisPKCEStore) HasCodeVerifier(ctx context.Context, code string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(keyKindPKCE, code)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check code verifier: %w", err)
	}
	return n > 0, nil
}

// DeleteCodeVerifier removes the data for a code.
func (s *RedisPKCEStore) DeleteCodeVerifier(ctx context.Context, code string) error {
	if err := s.client.Del(ctx, s.key(keyKindPKCE, code)).Err(); err != nil {
		return scaffolderrors.NewStorageFailed("failed to delete code verifier", err)
	}
	return nil
}

// Close closes the underlying client if this store owns it.
func (s *RedisPKCEStore) Close() error {
	return s.close()
}

func (s *RedisPKCEStore) decode(payload string) (*PKCEData, error) {
	var data PKCEData
	if err := s.enc.DecryptJSON(payload, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// RedisTokenStore implements TokenStore on a shared Redis backend. Records
// are encrypted and keyed by the hashed access token; the refresh index maps
// hashed refresh tokens to the record key. Raw token values never appear in
// key names.
type RedisTokenStore struct {
	redisBase
	enc *crypto.TokenEncryptionService
}

// NewRedisTokenStore creates a token store on an existing client.
func NewRedisTokenStore(client redis.UniversalClient, keyPrefix string, enc *crypto.TokenEncryptionService) (*RedisTokenStore, error) {
	if enc == nil {
		return nil, scaffolderrors.NewInvalidInput("encryption service is required")
	}
	return &RedisTokenStore{
		redisBase: redisBase{client: client, keyPrefix: keyPrefix},
		enc:       enc,
	}, nil
}

// StoreToken persists an encrypted record plus its refresh index entry.
// If indexing fails the record is deleted again so the two never diverge.
func (s *RedisTokenStore) StoreToken(ctx context.Context, info *StoredTokenInfo) error {
	if info == nil || info.AccessToken == "" {
		return scaffolderrors.NewInvalidInput("token record requires an access token")
	}

	ttl := time.Until(info.ExpiresAt)
	if info.ExpiresAt.IsZero() || ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	payload, err := s.enc.EncryptJSON(info)
	if err != nil {
		return err
	}

	hashed := s.enc.HashKey(info.AccessToken)
	tokenKey := s.key(keyKindToken, hashed)

	if err := s.client.Set(ctx, tokenKey, payload, ttl).Err(); err != nil {
		return scaffolderrors.NewStorageFailed("failed to store token", err)
	}

	if info.RefreshToken != "" {
		refreshKey := s.key(keyKindRefresh, s.enc.HashKey(info.RefreshToken))
		if err := s.client.Set(ctx, refreshKey, hashed, ttl).Err(); err != nil {
			// Compensating delete: never leave a token without its index.
			_ = s.client.Del(ctx, tokenKey).Err()
			return scaffolderrors.NewStorageFailed("failed to store refresh index", err)
		}
	}

	return nil
}

// GetToken returns the record for an access token, or nil if absent or
// expired.
func (s *RedisTokenStore) GetToken(ctx context.Context, accessToken string) (*StoredTokenInfo, error) {
	return s.getByHash(ctx, s.enc.HashKey(accessToken))
}

func (s *RedisTokenStore) getByHash(ctx context.Context, hashed string) (*StoredTokenInfo, error) {
	payload, err := s.client.Get(ctx, s.key(keyKindToken, hashed)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			logger.Debugw("token not found", "store", "redis")
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	var info StoredTokenInfo
	if err := s.enc.DecryptJSON(payload, &info); err != nil {
		return nil, err
	}
	if info.IsExpired() {
		return nil, nil
	}
	return &info, nil
}

// FindByRefreshToken resolves a refresh token to its record via the reverse
// index.
func (s *RedisTokenStore) FindByRefreshToken(ctx context.Context, refreshToken string) (*StoredTokenInfo, error) {
	hashed, err := s.client.Get(ctx, s.key(keyKindRefresh, s.enc.HashKey(refreshToken))).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get refresh index: %w", err)
	}
	return s.getByHash(ctx, hashed)
}

// DeleteToken removes the record and its refresh index entry.
func (s *RedisTokenStore) DeleteToken(ctx context.Context, accessToken string) error {
	hashed := s.enc.HashKey(accessToken)
	tokenKey := s.key(keyKindToken, hashed)

	// Read first so the refresh index entry can be located. Best effort: a
	// dangling index entry expires with its own TTL anyway. Rotation can
	// re-point the index at a newer record, so only remove the entry if it
	// still refers to this one.
	payload, err := s.client.Get(ctx, tokenKey).Result()
	if err == nil {
		var info StoredTokenInfo
		if decErr := s.enc.DecryptJSON(payload, &info); decErr == nil && info.RefreshToken != "" {
			refreshKey := s.key(keyKindRefresh, s.enc.HashKey(info.RefreshToken))
			if target, getErr := s.client.Get(ctx, refreshKey).Result(); getErr == nil && target == hashed {
				_ = s.client.Del(ctx, refreshKey).Err()
			}
		}
	}

	if err := s.client.Del(ctx, tokenKey).Err(); err != nil {
		return scaffolderrors.NewStorageFailed("failed to delete token", err)
	}
	return nil
}

// Cleanup is a compatibility shim; native TTLs already expire records.
func (*RedisTokenStore) Cleanup(_ context.Context) (int, error) {
	return 0, nil
}

// TokenCount scans the token key space. O(n); debug and monitoring only.
func (s *RedisTokenStore) TokenCount(ctx context.Context) (int, error) {
	return s.countKeys(ctx, keyKindToken)
}

// Close closes the underlying client if this store owns it.
func (s *RedisTokenStore) Close() error {
	return s.close()
}

// Compile-time interface compliance checks
var (
	_ SessionStore = (*RedisSessionStore)(nil)
	_ PKCEStore    = (*RedisPKCEStore)(nil)
	_ TokenStore   = (*RedisTokenStore)(nil)
)
