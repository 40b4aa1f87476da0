// Package clients implements OAuth 2.0 Dynamic Client Registration
// (RFC 7591) records and their persistence, with in-memory and
// Redis-backed stores.
package clients

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
	"time"
)

// Registration error codes per RFC 7591 Section 3.2.2
const (
	// ErrorInvalidRedirectURI indicates that the value of one or more
	// redirect_uris is invalid.
	ErrorInvalidRedirectURI = "invalid_redirect_uri"

	// ErrorInvalidClientMetadata indicates that one of the client metadata
	// fields is invalid and the server has rejected the request.
	ErrorInvalidClientMetadata = "invalid_client_metadata"
)

// Validation limits to bound request size.
const (
	// MaxRedirectURICount is the maximum number of redirect URIs per client.
	MaxRedirectURICount = 10

	// MaxClientNameLength is the maximum allowed length for a client name.
	MaxClientNameLength = 256
)

// Metadata is the client-supplied registration request body per
// RFC 7591 Section 2.
type Metadata struct {
	// RedirectURIs is the list of redirection URIs. Required.
	RedirectURIs []string `json:"redirect_uris"`

	// ClientName is a human-readable name for the client.
	ClientName string `json:"client_name,omitempty"`

	// TokenEndpointAuthMethod is the requested token endpoint auth method.
	// Defaults to "client_secret_basic".
	TokenEndpointAuthMethod string `json:"token_endpoint_auth_method,omitempty"`

	// GrantTypes defaults to ["authorization_code", "refresh_token"].
	GrantTypes []string `json:"grant_types,omitempty"`

	// ResponseTypes defaults to ["code"].
	ResponseTypes []string `json:"response_types,omitempty"`

	// Scope is the space-separated scope string the client requests.
	Scope string `json:"scope,omitempty"`
}

// Client is the persisted registration record. The secret is stored only as
// a SHA-256 hash; the plaintext exists solely in the Registration returned
// by Store.Register.
type Client struct {
	ClientID                string    `json:"client_id"`
	ClientSecretHash        string    `json:"client_secret_hash"`
	ClientIDIssuedAt        time.Time `json:"client_id_issued_at"`
	ClientSecretExpiresAt   time.Time `json:"client_secret_expires_at,omitempty"`
	RedirectURIs            []string  `json:"redirect_uris"`
	ClientName              string    `json:"client_name,omitempty"`
	TokenEndpointAuthMethod string    `json:"token_endpoint_auth_method"`
	GrantTypes              []string  `json:"grant_types"`
	ResponseTypes           []string  `json:"response_types"`
	Scope                   string    `json:"scope,omitempty"`
}

// SecretExpired reports whether the client secret has passed its expiry.
// A zero expiry means the secret never expires. Stores do not purge
// expired clients on read; enforcement belongs to the caller.
func (c *Client) SecretExpired() bool {
	if c.ClientSecretExpiresAt.IsZero() {
		return false
	}
	return time.Now().After(c.ClientSecretExpiresAt)
}

// VerifySecret checks a presented plaintext secret against the stored hash
// in constant time.
func (c *Client) VerifySecret(secret string) bool {
	if secret == "" || c.ClientSecretHash == "" {
		return false
	}
	presented := HashSecret(secret)
	return subtle.ConstantTimeCompare([]byte(presented), []byte(c.ClientSecretHash)) == 1
}

// MatchRedirectURI reports whether uri exactly matches one of the client's
// registered redirect URIs.
func (c *Client) MatchRedirectURI(uri string) bool {
	for _, registered := range c.RedirectURIs {
		if uri == registered {
			return true
		}
	}
	return false
}

// HashSecret returns the hex SHA-256 digest of a client secret.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// Registration is the result of a successful Register call. ClientSecret is
// the plaintext secret, visible here exactly once.
type Registration struct {
	*Client
	ClientSecret string
}

// Response serializes a registration for the RFC 7591 Section 3.2.1 wire
// shape, with Unix timestamps and the plaintext secret.
func (r *Registration) Response() map[string]any {
	resp := map[string]any{
		"client_id":                  r.ClientID,
		"client_secret":              r.ClientSecret,
		"client_id_issued_at":        r.ClientIDIssuedAt.Unix(),
		"redirect_uris":              r.RedirectURIs,
		"token_endpoint_auth_method": r.TokenEndpointAuthMethod,
		"grant_types":                r.GrantTypes,
		"response_types":             r.ResponseTypes,
	}
	if r.ClientName != "" {
		resp["client_name"] = r.ClientName
	}
	if r.Scope != "" {
		resp["scope"] = r.Scope
	}
	// RFC 7591: 0 means the secret does not expire.
	if r.ClientSecretExpiresAt.IsZero() {
		resp["client_secret_expires_at"] = 0
	} else {
		resp["client_secret_expires_at"] = r.ClientSecretExpiresAt.Unix()
	}
	return resp
}

// RegistrationError is the RFC 7591 Section 3.2.2 error response shape.
type RegistrationError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// Error implements the error interface.
func (e *RegistrationError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

// Store persists dynamically registered OAuth clients.
type Store interface {
	// Register validates metadata, mints a client_id and secret, persists the
	// record with the secret hashed, and returns the plaintext secret exactly
	// once. Validation failures return a *RegistrationError.
	Register(ctx context.Context, metadata *Metadata) (*Registration, error)

	// Get returns the client record, or nil if not registered. Expired
	// secrets are returned as-is; callers enforce expiry.
	Get(ctx context.Context, clientID string) (*Client, error)

	// Delete removes a client. Deleting an absent client is not an error.
	Delete(ctx context.Context, clientID string) error

	// List returns all registered clients.
	List(ctx context.Context) ([]*Client, error)

	// CleanupExpired removes clients whose secret expiry has passed and
	// returns the number removed.
	CleanupExpired(ctx context.Context) (int, error)

	// Close releases any backend resources.
	Close() error
}

// hasWildcard reports whether a redirect URI contains a wildcard component.
func hasWildcard(uri string) bool {
	return strings.Contains(uri, "*")
}
