package storage

import (
	"context"
	"sync"
	"time"

	"github.com/jdutton/mcp-scaffold/pkg/crypto"
	"github.com/jdutton/mcp-scaffold/pkg/errors"
	"github.com/jdutton/mcp-scaffold/pkg/logger"
)

// timedEntry wraps a value with its expiry for TTL tracking.
type timedEntry[T any] struct {
	value     T
	expiresAt time.Time
}

func (e *timedEntry[T]) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// janitor runs a periodic sweep on a background goroutine. Sweep panics are
// caught and logged; cleanup must never crash the process or block request
// handling.
type janitor struct {
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
}

func newJanitor(interval time.Duration, sweep func()) *janitor {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	j := &janitor{
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go j.loop(sweep)
	return j
}

func (j *janitor) loop(sweep func()) {
	defer close(j.done)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stop:
			return
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						logger.Errorw("storage cleanup panicked", "panic", r)
					}
				}()
				sweep()
			}()
		}
	}
}

// Close stops the janitor and waits for the goroutine to exit.
func (j *janitor) Close() {
	j.once.Do(func() { close(j.stop) })
	<-j.done
}

// MemorySessionStore implements SessionStore with an in-process map.
// Data is not shared across instances and is lost on restart.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*timedEntry[*OAuthSession]
	janitor  *janitor
}

// MemoryOption configures the in-memory stores.
type MemoryOption func(*memoryOptions)

type memoryOptions struct {
	cleanupInterval time.Duration
}

// WithCleanupInterval sets a custom janitor sweep interval.
func WithCleanupInterval(interval time.Duration) MemoryOption {
	return func(o *memoryOptions) {
		o.cleanupInterval = interval
	}
}

func applyMemoryOptions(opts []MemoryOption) *memoryOptions {
	o := &memoryOptions{cleanupInterval: DefaultCleanupInterval}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// NewMemorySessionStore creates a session store backed by an in-process map
// and starts its background janitor.
func NewMemorySessionStore(opts ...MemoryOption) *MemorySessionStore {
	o := applyMemoryOptions(opts)
	s := &MemorySessionStore{
		sessions: make(map[string]*timedEntry[*OAuthSession]),
	}
	s.janitor = newJanitor(o.cleanupInterval, func() {
		if _, err := s.Cleanup(context.Background()); err != nil {
			logger.Warnw("session cleanup failed", "error", err)
		}
	})
	return s
}

// StoreSession persists a session under its state.
func (s *MemorySessionStore) StoreSession(_ context.Context, state string, session *OAuthSession) error {
	if state == "" {
		return errors.NewInvalidInput("state cannot be empty")
	}
	if session == nil {
		return errors.NewInvalidInput("session cannot be nil")
	}

	expiresAt := session.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(DefaultSessionTTL)
	}

	// Defensive copy so callers cannot mutate stored state.
	stored := *session
	stored.Scopes = append([]string(nil), session.Scopes...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[state] = &timedEntry[*OAuthSession]{value: &stored, expiresAt: expiresAt}
	return nil
}

// GetSession returns the session for a state, deleting it first if expired.
func (s *MemorySessionStore) GetSession(_ context.Context, state string) (*OAuthSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[state]
	if !ok {
		logger.Debugw("session not found", "store", "memory")
		return nil, nil
	}
	if entry.expired(time.Now()) {
		delete(s.sessions, state)
		logger.Debugw("session expired", "store", "memory")
		return nil, nil
	}

	session := *entry.value
	session.Scopes = append([]string(nil), entry.value.Scopes...)
	return &session, nil
}

// DeleteSession removes a session.
func (s *MemorySessionStore) DeleteSession(_ context.Context, state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, state)
	return nil
}

// Cleanup sweeps expired sessions and returns the number removed.
func (s *MemorySessionStore) Cleanup(_ context.Context) (int, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for state, entry := range s.sessions {
		if entry.expired(now) {
			delete(s.sessions, state)
			removed++
		}
	}
	return removed, nil
}

// SessionCount returns the number of stored sessions, including any that
// expired since the last sweep.
func (s *MemorySessionStore) SessionCount(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions), nil
}

// Close stops the background janitor and waits for it to finish.
func (s *MemorySessionStore) Close() error {
	s.janitor.Close()
	return nil
}

// MemoryPKCEStore implements PKCEStore with an in-process map. The
// get-and-delete path holds the write lock for the whole check-and-remove,
// so no concurrent mutation can interleave.
type MemoryPKCEStore struct {
	mu      sync.RWMutex
	codes   map[string]*timedEntry[*PKCEData]
	janitor *janitor
}

// NewMemoryPKCEStore creates a PKCE store backed by an in-process map.
func NewMemoryPKCEStore(opts ...MemoryOption) *MemoryPKCEStore {
	o := applyMemoryOptions(opts)
	s := &MemoryPKCEStore{
		codes: make(map[string]*timedEntry[*PKCEData]),
	}
	s.janitor = newJanitor(o.cleanupInterval, s.sweep)
	return s
}

func (s *MemoryPKCEStore) sweep() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for code, entry := range s.codes {
		if entry.expired(now) {
			delete(s.codes, code)
		}
	}
}

// StoreCodeVerifier persists data under code for ttl.
func (s *MemoryPKCEStore) StoreCodeVerifier(_ context.Context, code string, data *PKCEData, ttl time.Duration) error {
	if code == "" {
		return errors.NewInvalidInput("code cannot be empty")
	}
	if data == nil {
		return errors.NewInvalidInput("data cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultPKCETTL
	}

	stored := *data

	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code] = &timedEntry[*PKCEData]{value: &stored, expiresAt: time.Now().Add(ttl)}
	return nil
}

// GetCodeVerifier returns the data for a code without consuming it.
func (s *MemoryPKCEStore) GetCodeVerifier(_ context.Context, code string) (*PKCEData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.codes[code]
	if !ok || entry.expired(time.Now()) {
		return nil, nil
	}
	data := *entry.value
	return &data, nil
}

// GetAndDeleteCodeVerifier atomically retrieves and removes the data for a
// code. Exactly one of any set of concurrent callers receives the data.
func (s *MemoryPKCEStore) GetAndDeleteCodeVerifier(_ context.Context, code string) (*PKCEData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.codes[code]
	if !ok {
		return nil, nil
	}
	delete(s.codes, code)

	if entry.expired(time.Now()) {
		return nil, nil
	}
	data := *entry.value
	return &data, nil
}

// HasCodeVerifier reports whether a code is currently stored.
func (s *MemoryPKCEStore) HasCodeVerifier(_ context.Context, code string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.codes[code]
	return ok && !entry.expired(time.Now()), nil
}

// DeleteCodeVerifier removes the data for a code.
func (s *MemoryPKCEStore) DeleteCodeVerifier(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.codes, code)
	return nil
}

// Close stops the background janitor and waits for it to finish.
func (s *MemoryPKCEStore) Close() error {
	s.janitor.Close()
	return nil
}

// MemoryTokenStore implements TokenStore with an in-process map. Records are
// encrypted at rest and keyed by the hashed access token, matching the
// shared-backend layout so either backend can be swapped in.
type MemoryTokenStore struct {
	mu sync.RWMutex

	// tokens maps hashKey(accessToken) -> encrypted record.
	tokens map[string]*timedEntry[string]

	// refreshIndex maps hashKey(refreshToken) -> hashKey(accessToken).
	refreshIndex map[string]string

	enc     *crypto.TokenEncryptionService
	janitor *janitor
}

// NewMemoryTokenStore creates a token store backed by an in-process map.
// The encryption service is required; records never hit the map unencrypted.
func NewMemoryTokenStore(enc *crypto.TokenEncryptionService, opts ...MemoryOption) (*MemoryTokenStore, error) {
	if enc == nil {
		return nil, errors.NewInvalidInput("encryption service is required")
	}

	o := applyMemoryOptions(opts)
	s := &MemoryTokenStore{
		tokens:       make(map[string]*timedEntry[string]),
		refreshIndex: make(map[string]string),
		enc:          enc,
	}
	s.janitor = newJanitor(o.cleanupInterval, func() {
		if _, err := s.Cleanup(context.Background()); err != nil {
			logger.Warnw("token cleanup failed", "error", err)
		}
	})
	return s, nil
}

// StoreToken persists an encrypted token record.
func (s *MemoryTokenStore) StoreToken(_ context.Context, info *StoredTokenInfo) error {
	if info == nil || info.AccessToken == "" {
		return errors.NewInvalidInput("token record requires an access token")
	}

	payload, err := s.enc.EncryptJSON(info)
	if err != nil {
		return err
	}

	expiresAt := info.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(DefaultTokenTTL)
	}

	key := s.enc.HashKey(info.AccessToken)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[key] = &timedEntry[string]{value: payload, expiresAt: expiresAt}
	if info.RefreshToken != "" {
		s.refreshIndex[s.enc.HashKey(info.RefreshToken)] = key
	}
	return nil
}

// GetToken returns the record for an access token, or nil if absent or
// expired.
func (s *MemoryTokenStore) GetToken(_ context.Context, accessToken string) (*StoredTokenInfo, error) {
	s.mu.RLock()
	entry, ok := s.tokens[s.enc.HashKey(accessToken)]
	s.mu.RUnlock()

	if !ok || entry.expired(time.Now()) {
		logger.Debugw("token not found", "store", "memory")
		return nil, nil
	}

	var info StoredTokenInfo
	if err := s.enc.DecryptJSON(entry.value, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// FindByRefreshToken resolves a refresh token to its record via the reverse
// index.
func (s *MemoryTokenStore) FindByRefreshToken(_ context.Context, refreshToken string) (*StoredTokenInfo, error) {
	s.mu.RLock()
	key, ok := s.refreshIndex[s.enc.HashKey(refreshToken)]
	var entry *timedEntry[string]
	if ok {
		entry, ok = s.tokens[key]
	}
	s.mu.RUnlock()

	if !ok || entry.expired(time.Now()) {
		return nil, nil
	}

	var info StoredTokenInfo
	if err := s.enc.DecryptJSON(entry.value, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// DeleteToken removes the record and its refresh index entry.
func (s *MemoryTokenStore) DeleteToken(_ context.Context, accessToken string) error {
	key := s.enc.HashKey(accessToken)

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.tokens[key]
	if !ok {
		return nil
	}
	delete(s.tokens, key)

	// Clean up the refresh index. The record must be decrypted to learn the
	// refresh token; best effort on decrypt failure. Rotation can re-point
	// the index entry at a newer record, so only remove it if it still
	// refers to this one.
	var info StoredTokenInfo
	if err := s.enc.DecryptJSON(entry.value, &info); err == nil && info.RefreshToken != "" {
		refreshKey := s.enc.HashKey(info.RefreshToken)
		if s.refreshIndex[refreshKey] == key {
			delete(s.refreshIndex, refreshKey)
		}
	}
	return nil
}

// Cleanup sweeps expired records and orphaned refresh index entries.
func (s *MemoryTokenStore) Cleanup(_ context.Context) (int, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.tokens {
		if entry.expired(now) {
			delete(s.tokens, key)
			removed++
		}
	}
	for refreshKey, tokenKey := range s.refreshIndex {
		if _, ok := s.tokens[tokenKey]; !ok {
			delete(s.refreshIndex, refreshKey)
		}
	}
	return removed, nil
}

// TokenCount returns the number of stored records, including any that
// expired since the last sweep.
func (s *MemoryTokenStore) TokenCount(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens), nil
}

// Close stops the background janitor and waits for it to finish.
func (s *MemoryTokenStore) Close() error {
	s.janitor.Close()
	return nil
}

// Compile-time interface compliance checks
var (
	_ SessionStore = (*MemorySessionStore)(nil)
	_ PKCEStore    = (*MemoryPKCEStore)(nil)
	_ TokenStore   = (*MemoryTokenStore)(nil)
)
