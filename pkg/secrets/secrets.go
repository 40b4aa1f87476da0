// Package secrets supplies the encryption key and provider credentials to
// the composition root through a pluggable manager interface.
package secrets

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Manager describes a type which can manage named secrets.
type Manager interface {
	GetSecret(name string) (string, error)
	SetSecret(name, value string) error
	DeleteSecret(name string) error
	ListSecrets() ([]string, error)
	Cleanup() error
}

// ProviderType selects a manager implementation.
type ProviderType string

const (
	// EnvironmentType reads secrets from prefixed environment variables.
	// Read-only.
	EnvironmentType ProviderType = "environment"

	// BasicType stores secrets in an unencrypted JSON file. Development and
	// testing only.
	BasicType ProviderType = "basic"
)

// ErrUnknownManagerType is returned when an invalid ProviderType is
// specified.
var ErrUnknownManagerType = errors.New("unknown secret manager type")

// EnvVarPrefix is prepended to secret names to form environment variable
// names for the environment provider.
const EnvVarPrefix = "MCP_SCAFFOLD_SECRET_"

// NewManager builds a manager for the given provider type. The basic
// provider requires a file path.
func NewManager(providerType ProviderType, secretsFile string) (Manager, error) {
	switch providerType {
	case EnvironmentType, "":
		return NewEnvironmentManager(), nil
	case BasicType:
		return NewBasicManager(secretsFile)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownManagerType, providerType)
	}
}

// EnvironmentManager reads secrets from environment variables named
// EnvVarPrefix + name. It is read-only; mutation calls fail.
type EnvironmentManager struct{}

// NewEnvironmentManager creates an environment-backed manager.
func NewEnvironmentManager() *EnvironmentManager {
	return &EnvironmentManager{}
}

// GetSecret retrieves a secret from the environment.
func (*EnvironmentManager) GetSecret(name string) (string, error) {
	if name == "" {
		return "", errors.New("secret name cannot be empty")
	}

	value, ok := os.LookupEnv(EnvVarPrefix + name)
	if !ok {
		return "", fmt.Errorf("secret not found: %s", name)
	}
	return value, nil
}

// SetSecret fails; the environment provider is read-only.
func (*EnvironmentManager) SetSecret(_, _ string) error {
	return errors.New("environment provider is read-only")
}

// DeleteSecret fails; the environment provider is read-only.
func (*EnvironmentManager) DeleteSecret(_ string) error {
	return errors.New("environment provider is read-only")
}

// ListSecrets returns the names of all secrets visible in the environment.
func (*EnvironmentManager) ListSecrets() ([]string, error) {
	var names []string
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, EnvVarPrefix) {
			continue
		}
		name, _, _ := strings.Cut(strings.TrimPrefix(kv, EnvVarPrefix), "=")
		names = append(names, name)
	}
	return names, nil
}

// Cleanup is a no-op for the environment provider.
func (*EnvironmentManager) Cleanup() error {
	return nil
}

// Compile-time interface compliance check
var _ Manager = (*EnvironmentManager)(nil)
