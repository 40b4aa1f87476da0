package crypto

import (
	"crypto/rand"
	"encoding/base64"

	"golang.org/x/oauth2"
)

// PKCEChallengeMethodS256 is the PKCE challenge method using SHA-256 (RFC 7636).
const PKCEChallengeMethodS256 = "S256"

// GeneratePKCEVerifier generates a cryptographically random code_verifier
// per RFC 7636 Section 4.1, delegating to oauth2.GenerateVerifier.
func GeneratePKCEVerifier() string {
	return oauth2.GenerateVerifier()
}

// ComputePKCEChallenge computes the S256 code_challenge from a code_verifier
// per RFC 7636 Section 4.2: BASE64URL(SHA256(code_verifier)).
func ComputePKCEChallenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// VerifyPKCEChallenge reports whether the given verifier hashes to the given
// S256 challenge.
func VerifyPKCEChallenge(verifier, challenge string) bool {
	return ComputePKCEChallenge(verifier) == challenge
}

// GenerateState generates a 256-bit cryptographically random, unguessable
// value encoded as url-safe base64. Used for OAuth state parameters,
// authorization codes, and session identifiers.
func GenerateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
