package storage

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdutton/mcp-scaffold/pkg/crypto"
)

func newTestEncryption(t *testing.T) *crypto.TokenEncryptionService {
	t.Helper()
	enc, err := crypto.NewTokenEncryptionService(bytes.Repeat([]byte{0x42}, crypto.KeySize))
	require.NoError(t, err)
	return enc
}

func testSession(state string, ttl time.Duration) *OAuthSession {
	now := time.Now()
	return &OAuthSession{
		State:             state,
		CodeVerifier:      "verifier-" + state,
		CodeChallenge:     "challenge-" + state,
		ClientRedirectURI: "https://client.example.com/callback",
		ClientState:       "client-state",
		Provider:          "github",
		Scopes:            []string{"openid", "email"},
		CreatedAt:         now,
		ExpiresAt:         now.Add(ttl),
	}
}

func TestMemorySessionStore_RoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := NewMemorySessionStore()
	defer store.Close()

	session := testSession("state-1", time.Minute)
	require.NoError(t, store.StoreSession(ctx, "state-1", session))

	got, err := store.GetSession(ctx, "state-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, session.CodeVerifier, got.CodeVerifier)
	assert.Equal(t, session.Scopes, got.Scopes)

	// Returned session is a copy; mutating it must not affect the store.
	got.Scopes[0] = "mutated"
	again, err := store.GetSession(ctx, "state-1")
	require.NoError(t, err)
	assert.Equal(t, "openid", again.Scopes[0])
}

func TestMemorySessionStore_MissAndExpiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := NewMemorySessionStore()
	defer store.Close()

	got, err := store.GetSession(ctx, "no-such-state")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.StoreSession(ctx, "state-exp", testSession("state-exp", -time.Second)))

	got, err = store.GetSession(ctx, "state-exp")
	require.NoError(t, err)
	assert.Nil(t, got)

	// Expired session is deleted on read.
	count, err := store.SessionCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestMemorySessionStore_InvalidInput(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := NewMemorySessionStore()
	defer store.Close()

	assert.Error(t, store.StoreSession(ctx, "", testSession("x", time.Minute)))
	assert.Error(t, store.StoreSession(ctx, "state", nil))
}

func TestMemorySessionStore_Cleanup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := NewMemorySessionStore()
	defer store.Close()

	require.NoError(t, store.StoreSession(ctx, "live", testSession("live", time.Minute)))
	require.NoError(t, store.StoreSession(ctx, "dead-1", testSession("dead-1", -time.Second)))
	require.NoError(t, store.StoreSession(ctx, "dead-2", testSession("dead-2", -time.Second)))

	removed, err := store.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	count, err := store.SessionCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMemorySessionStore_DeleteAbsent(t *testing.T) {
	t.Parallel()

	store := NewMemorySessionStore()
	defer store.Close()

	assert.NoError(t, store.DeleteSession(context.Background(), "absent"))
}

func TestMemoryPKCEStore_ConsumeOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := NewMemoryPKCEStore()
	defer store.Close()

	data := &PKCEData{CodeVerifier: "verifier", State: "state"}
	require.NoError(t, store.StoreCodeVerifier(ctx, "code-1", data, time.Minute))

	ok, err := store.HasCodeVerifier(ctx, "code-1")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.GetAndDeleteCodeVerifier(ctx, "code-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "verifier", got.CodeVerifier)

	// Second redemption of the same code yields nothing.
	got, err = store.GetAndDeleteCodeVerifier(ctx, "code-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryPKCEStore_ConcurrentConsume(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := NewMemoryPKCEStore()
	defer store.Close()

	require.NoError(t, store.StoreCodeVerifier(ctx, "code-race", &PKCEData{CodeVerifier: "v"}, time.Minute))

	const goroutines = 32
	var wg sync.WaitGroup
	winners := make(chan *PKCEData, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := store.GetAndDeleteCodeVerifier(ctx, "code-race")
			assert.NoError(t, err)
			if got != nil {
				winners <- got
			}
		}()
	}
	wg.Wait()
	close(winners)

	assert.Len(t, winners, 1, "exactly one caller should redeem the code")
}

func TestMemoryPKCEStore_GetWithoutConsuming(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := NewMemoryPKCEStore()
	defer store.Close()

	require.NoError(t, store.StoreCodeVerifier(ctx, "code-peek", &PKCEData{CodeVerifier: "v"}, time.Minute))

	for i := 0; i < 3; i++ {
		got, err := store.GetCodeVerifier(ctx, "code-peek")
		require.NoError(t, err)
		require.NotNil(t, got)
	}
}

func TestMemoryPKCEStore_Expiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := NewMemoryPKCEStore(WithCleanupInterval(10 * time.Millisecond))
	defer store.Close()

	require.NoError(t, store.StoreCodeVerifier(ctx, "code-ttl", &PKCEData{CodeVerifier: "v"}, time.Millisecond))
	time.Sleep(50 * time.Millisecond)

	got, err := store.GetCodeVerifier(ctx, "code-ttl")
	require.NoError(t, err)
	assert.Nil(t, got)

	ok, err := store.HasCodeVerifier(ctx, "code-ttl")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testTokenInfo(accessToken, refreshToken string) *StoredTokenInfo {
	now := time.Now()
	return &StoredTokenInfo{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		Provider:     "google",
		Scopes:       []string{"openid"},
		UserInfo: &UserInfo{
			Subject: "user-123",
			Email:   "user@example.com",
		},
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	}
}

func TestMemoryTokenStore_RoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, err := NewMemoryTokenStore(newTestEncryption(t))
	require.NoError(t, err)
	defer store.Close()

	info := testTokenInfo("access-1", "refresh-1")
	require.NoError(t, store.StoreToken(ctx, info))

	got, err := store.GetToken(ctx, "access-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "user-123", got.UserInfo.Subject)
	assert.Equal(t, "google", got.Provider)

	byRefresh, err := store.FindByRefreshToken(ctx, "refresh-1")
	require.NoError(t, err)
	require.NotNil(t, byRefresh)
	assert.Equal(t, "access-1", byRefresh.AccessToken)
}

func TestMemoryTokenStore_RequiresEncryption(t *testing.T) {
	t.Parallel()

	_, err := NewMemoryTokenStore(nil)
	assert.Error(t, err)
}

func TestMemoryTokenStore_DeleteRemovesRefreshIndex(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, err := NewMemoryTokenStore(newTestEncryption(t))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.StoreToken(ctx, testTokenInfo("access-del", "refresh-del")))
	require.NoError(t, store.DeleteToken(ctx, "access-del"))

	got, err := store.GetToken(ctx, "access-del")
	require.NoError(t, err)
	assert.Nil(t, got)

	byRefresh, err := store.FindByRefreshToken(ctx, "refresh-del")
	require.NoError(t, err)
	assert.Nil(t, byRefresh)
}

func TestMemoryTokenStore_DeleteOldRecordKeepsRotatedIndex(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, err := NewMemoryTokenStore(newTestEncryption(t))
	require.NoError(t, err)
	defer store.Close()

	// Rotation: a new record reuses the old refresh token, then the old
	// access token is revoked. The refresh index must keep pointing at the
	// new record.
	require.NoError(t, store.StoreToken(ctx, testTokenInfo("access-old", "refresh-shared")))
	require.NoError(t, store.StoreToken(ctx, testTokenInfo("access-new", "refresh-shared")))
	require.NoError(t, store.DeleteToken(ctx, "access-old"))

	byRefresh, err := store.FindByRefreshToken(ctx, "refresh-shared")
	require.NoError(t, err)
	require.NotNil(t, byRefresh)
	assert.Equal(t, "access-new", byRefresh.AccessToken)
}

func TestMemoryTokenStore_ExpiredIsMiss(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, err := NewMemoryTokenStore(newTestEncryption(t))
	require.NoError(t, err)
	defer store.Close()

	info := testTokenInfo("access-exp", "")
	info.ExpiresAt = time.Now().Add(-time.Second)
	require.NoError(t, store.StoreToken(ctx, info))

	got, err := store.GetToken(ctx, "access-exp")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryTokenStore_CleanupSweepsOrphanedIndex(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, err := NewMemoryTokenStore(newTestEncryption(t))
	require.NoError(t, err)
	defer store.Close()

	expired := testTokenInfo("access-orphan", "refresh-orphan")
	expired.ExpiresAt = time.Now().Add(-time.Second)
	require.NoError(t, store.StoreToken(ctx, expired))

	removed, err := store.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	byRefresh, err := store.FindByRefreshToken(ctx, "refresh-orphan")
	require.NoError(t, err)
	assert.Nil(t, byRefresh)
}

func TestMemoryTokenStore_OverwriteSameAccessToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, err := NewMemoryTokenStore(newTestEncryption(t))
	require.NoError(t, err)
	defer store.Close()

	first := testTokenInfo("access-same", "refresh-a")
	require.NoError(t, store.StoreToken(ctx, first))

	second := testTokenInfo("access-same", "refresh-b")
	second.Provider = "github"
	require.NoError(t, store.StoreToken(ctx, second))

	got, err := store.GetToken(ctx, "access-same")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "github", got.Provider)

	count, err := store.TokenCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMemoryStores_CloseIsIdempotentAndStopsJanitor(t *testing.T) {
	t.Parallel()

	sessions := NewMemorySessionStore(WithCleanupInterval(10 * time.Millisecond))
	require.NoError(t, sessions.Close())
	require.NoError(t, sessions.Close())

	pkce := NewMemoryPKCEStore(WithCleanupInterval(10 * time.Millisecond))
	require.NoError(t, pkce.Close())
	require.NoError(t, pkce.Close())
}
