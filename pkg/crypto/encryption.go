// Package crypto provides the token encryption service used to protect
// OAuth tokens at rest, along with PKCE and state generation helpers.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"

	"github.com/jdutton/mcp-scaffold/pkg/errors"
)

// KeySize is the required encryption key size in bytes (AES-256).
const KeySize = 32

// nonceSize is the AES-GCM nonce size in bytes.
const nonceSize = 12

// TokenEncryptionService provides authenticated symmetric encryption for
// tokens at rest. Ciphertext tokens are url-safe base64 strings of
// nonce||ciphertext||tag, where the tag is GCM's 128-bit authentication tag.
//
// The service is purely CPU-bound and safe for concurrent use.
type TokenEncryptionService struct {
	aead cipher.AEAD
}

// NewTokenEncryptionService creates a service from a raw 32-byte key.
// Returns an InvalidKeyLength error for any other key size.
func NewTokenEncryptionService(key []byte) (*TokenEncryptionService, error) {
	if len(key) != KeySize {
		return nil, errors.NewInvalidKeyLength(len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.NewError(errors.TypeInvalidInput, "failed to initialize cipher", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.NewError(errors.TypeInvalidInput, "failed to initialize GCM", err)
	}

	return &TokenEncryptionService{aead: aead}, nil
}

// NewTokenEncryptionServiceFromBase64 creates a service from a base64-encoded
// key, as produced by GenerateKey.
func NewTokenEncryptionServiceFromBase64(encodedKey string) (*TokenEncryptionService, error) {
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, errors.NewInvalidInput("encryption key is not valid base64")
	}
	return NewTokenEncryptionService(key)
}

// Encrypt encrypts plaintext and returns a url-safe base64 ciphertext token.
// Fails with InvalidInput if plaintext is empty.
func (s *TokenEncryptionService) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", errors.NewInvalidInput("plaintext cannot be empty")
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.NewError(errors.TypeInvalidInput, "failed to generate nonce", err)
	}

	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Any failure (bad key, truncated input, tag
// mismatch, bad encoding) surfaces as the same DecryptionFailed error so
// callers cannot be used as a padding/tamper oracle.
func (s *TokenEncryptionService) Decrypt(ciphertextToken string) (string, error) {
	sealed, err := base64.RawURLEncoding.DecodeString(ciphertextToken)
	if err != nil {
		return "", errors.NewDecryptionFailed()
	}

	if len(sealed) < nonceSize+s.aead.Overhead() {
		return "", errors.NewDecryptionFailed()
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", errors.NewDecryptionFailed()
	}

	return string(plaintext), nil
}

// EncryptJSON serializes v as JSON and encrypts the result.
func (s *TokenEncryptionService) EncryptJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", errors.NewError(errors.TypeInvalidInput, "failed to marshal value", err)
	}
	return s.Encrypt(string(data))
}

// DecryptJSON decrypts a ciphertext token and unmarshals the plaintext into v.
// Parse failures are folded into DecryptionFailed so nothing about the
// plaintext structure leaks.
func (s *TokenEncryptionService) DecryptJSON(ciphertextToken string, v any) error {
	plaintext, err := s.Decrypt(ciphertextToken)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(plaintext), v); err != nil {
		return errors.NewDecryptionFailed()
	}
	return nil
}

// HashKey returns the hex-encoded SHA-256 digest of a token, for use as a
// storage key name. Raw tokens must never appear as key material in a store
// whose key space may have broader read visibility than its values.
func (*TokenEncryptionService) HashKey(token string) string {
	digest := sha256.Sum256([]byte(token))
	return hex.EncodeToString(digest[:])
}

// GenerateKey produces a fresh random 256-bit key, base64-encoded, for
// provisioning a deployment.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// VerifyKey validates that a base64-encoded key decodes to exactly 32 bytes.
func VerifyKey(encodedKey string) error {
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return errors.NewInvalidInput("encryption key is not valid base64")
	}
	if len(key) != KeySize {
		return errors.NewInvalidKeyLength(len(key))
	}
	return nil
}
