// Package storage provides the session, PKCE, and token store interfaces
// used by the OAuth flow, with in-memory and Redis-backed implementations.
//
// The dual backend exists because session and PKCE state is generated in one
// process instance and consumed in another (the OAuth callback). In-memory
// stores are only correct where a single process serves all traffic (STDIO
// mode, local development, tests); multi-instance deployments require the
// shared backend.
package storage

import (
	"context"
	"time"
)

// Default TTLs and intervals.
const (
	// DefaultSessionTTL is how long an OAuth flow session (state parameter)
	// remains valid.
	DefaultSessionTTL = 10 * time.Minute

	// DefaultPKCETTL is how long a stored code verifier remains redeemable.
	DefaultPKCETTL = 10 * time.Minute

	// DefaultTokenTTL applies when a token record carries no expiry of its own.
	DefaultTokenTTL = 1 * time.Hour

	// DefaultCleanupInterval is how often the in-memory janitor sweeps.
	DefaultCleanupInterval = 1 * time.Hour
)

// OAuthSession is the ephemeral state of one authorization flow, keyed by
// the internal state parameter. Sessions are created when an authorization
// request is initiated, consumed exactly once on callback, and never mutated
// after creation.
type OAuthSession struct {
	// State is the internal, unguessable state parameter (primary key).
	State string `json:"state"`

	// CodeVerifier and CodeChallenge are our PKCE pair for the upstream IdP.
	CodeVerifier  string `json:"code_verifier"`
	CodeChallenge string `json:"code_challenge"`

	// ClientRedirectURI and ClientState are relayed back to the original
	// caller on completion, not forwarded to the upstream IdP.
	ClientRedirectURI string `json:"client_redirect_uri"`
	ClientState       string `json:"client_state"`

	// ClientCodeChallenge is the caller's own PKCE challenge, when supplied.
	// The client completes its half of PKCE against this value; it is
	// independent of our upstream pair and must never be conflated with it.
	ClientCodeChallenge       string `json:"client_code_challenge,omitempty"`
	ClientCodeChallengeMethod string `json:"client_code_challenge_method,omitempty"`

	// Provider is the provider name this flow runs against.
	Provider string `json:"provider"`

	// Scopes are the requested scopes, order preserved.
	Scopes []string `json:"scopes"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired returns true if the session has passed its expiry.
func (s *OAuthSession) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// PKCEData binds an authorization code to the verifier material needed to
// redeem it. A code may be redeemed for its data at most once; the store
// makes get-and-delete atomic to block replay under concurrent requests.
type PKCEData struct {
	// CodeVerifier is the stored verifier for the upstream exchange, when the
	// provider prepares the exchange keyed by code rather than by state.
	CodeVerifier string `json:"code_verifier,omitempty"`

	// State is the client's state associated with the code.
	State string `json:"state,omitempty"`

	// ClientCodeChallenge is the caller's PKCE challenge for client-facing
	// codes. When set, redemption must present a matching code_verifier.
	ClientCodeChallenge string `json:"client_code_challenge,omitempty"`

	// TokenKey is the access token the code redeems to, for client-facing
	// codes minted at callback time. Shared backends encrypt the whole
	// record, so the token never hits the wire in plaintext.
	TokenKey string `json:"token_key,omitempty"`
}

// UserInfo is the identity resolved from the upstream provider.
type UserInfo struct {
	// Subject is the unique identifier for the user (sub claim).
	Subject string `json:"sub"`

	// Email is the user's email address.
	Email string `json:"email,omitempty"`

	// Name is the user's display name.
	Name string `json:"name,omitempty"`

	// Provider is the provider this identity came from.
	Provider string `json:"provider,omitempty"`

	// Claims carries the raw provider claims.
	Claims map[string]any `json:"claims,omitempty"`
}

// StoredTokenInfo is the long-lived record persisted per access token.
// Stores encrypt the whole record before it touches the backend; the access
// token itself never appears in plaintext key names (see HashKey).
type StoredTokenInfo struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	UserInfo     *UserInfo `json:"user_info,omitempty"`
	Provider     string    `json:"provider"`
	Scopes       []string  `json:"scopes,omitempty"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// IsExpired returns true if the access token has passed its expiry.
// Records without an expiry never expire here.
func (t *StoredTokenInfo) IsExpired() bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().After(t.ExpiresAt)
}

// SessionStore persists OAuth flow sessions keyed by state parameter.
//
// Reads return (nil, nil) when the session is absent or expired; errors are
// reserved for backend failures. Writes that fail surface a StorageFailed
// error, which callers must treat as fatal for the OAuth step (a lost
// session is unrecoverable mid-flow).
type SessionStore interface {
	// StoreSession persists a session under its state.
	StoreSession(ctx context.Context, state string, session *OAuthSession) error

	// GetSession returns the session for a state, or nil if absent or
	// expired. An expired session is deleted on read.
	GetSession(ctx context.Context, state string) (*OAuthSession, error)

	// DeleteSession removes a session. Deleting an absent session is not an
	// error.
	DeleteSession(ctx context.Context, state string) error

	// Cleanup sweeps expired sessions and returns the number removed.
	// Backends with native TTL expiry implement this as a no-op shim.
	Cleanup(ctx context.Context) (int, error)

	// SessionCount returns the number of live sessions. On shared backends
	// this is a key-pattern scan: O(n), debug and monitoring use only.
	SessionCount(ctx context.Context) (int, error)

	// Close releases timers and connections deterministically.
	Close() error
}

// PKCEStore persists code → PKCEData mappings with consume-once semantics.
type PKCEStore interface {
	// StoreCodeVerifier persists data under code for ttl (DefaultPKCETTL if
	// zero).
	StoreCodeVerifier(ctx context.Context, code string, data *PKCEData, ttl time.Duration) error

	// GetCodeVerifier returns the data for a code without consuming it, or
	// nil if absent.
	GetCodeVerifier(ctx context.Context, code string) (*PKCEData, error)

	// GetAndDeleteCodeVerifier atomically retrieves and removes the data for
	// a code. Under concurrent calls for the same code, exactly one caller
	// receives the data; the rest receive nil.
	GetAndDeleteCodeVerifier(ctx context.Context, code string) (*PKCEData, error)

	// HasCodeVerifier reports whether a code is currently stored.
	HasCodeVerifier(ctx context.Context, code string) (bool, error)

	// DeleteCodeVerifier removes the data for a code.
	DeleteCodeVerifier(ctx context.Context, code string) error

	// Close releases timers and connections deterministically.
	Close() error
}

// TokenStore persists encrypted token records indexed by access token, with
// a reverse index from refresh token to record.
type TokenStore interface {
	// StoreToken persists a token record. Exactly one live record exists per
	// access token; storing again overwrites.
	StoreToken(ctx context.Context, info *StoredTokenInfo) error

	// GetToken returns the record for an access token, or nil if absent or
	// expired.
	GetToken(ctx context.Context, accessToken string) (*StoredTokenInfo, error)

	// FindByRefreshToken resolves a refresh token to its record, or nil.
	FindByRefreshToken(ctx context.Context, refreshToken string) (*StoredTokenInfo, error)

	// DeleteToken removes the record and its refresh index entry.
	DeleteToken(ctx context.Context, accessToken string) error

	// Cleanup sweeps expired records and returns the number removed.
	Cleanup(ctx context.Context) (int, error)

	// TokenCount returns the number of live records. O(n) on shared
	// backends; debug and monitoring use only.
	TokenCount(ctx context.Context) (int, error)

	// Close releases timers and connections deterministically.
	Close() error
}

// Backend bundles the three stores a flow needs, built by the factory from
// one configuration.
type Backend struct {
	Sessions SessionStore
	PKCE     PKCEStore
	Tokens   TokenStore
}

// Close closes all stores, returning the first error encountered.
func (b *Backend) Close() error {
	var firstErr error
	for _, c := range []interface{ Close() error }{b.Sessions, b.PKCE, b.Tokens} {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
