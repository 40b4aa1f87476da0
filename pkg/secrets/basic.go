package secrets

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"sync"
)

// BasicManager is a simple secrets manager that stores secrets in an
// unencrypted JSON file. For testing and development only.
type BasicManager struct {
	filePath string
	secrets  map[string]string
	mu       sync.RWMutex
}

// fileStructure is the on-disk shape of the secrets file.
type fileStructure struct {
	Secrets map[string]string `json:"secrets"`
}

// NewBasicManager creates a file-backed manager, loading any existing
// secrets from filePath.
func NewBasicManager(filePath string) (*BasicManager, error) {
	if filePath == "" {
		return nil, errors.New("secrets file path is required")
	}
	filePath = path.Clean(filePath)

	secretsFile, err := os.OpenFile(filePath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open secrets file: %w", err)
	}
	defer func() { _ = secretsFile.Close() }()

	stat, err := secretsFile.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat secrets file: %w", err)
	}

	secrets := make(map[string]string)
	if stat.Size() > 0 {
		var contents fileStructure
		if err := json.NewDecoder(secretsFile).Decode(&contents); err != nil {
			return nil, fmt.Errorf("failed to parse secrets file: %w", err)
		}
		if contents.Secrets != nil {
			secrets = contents.Secrets
		}
	}

	return &BasicManager{
		filePath: filePath,
		secrets:  secrets,
	}, nil
}

// GetSecret retrieves a secret from the store.
func (b *BasicManager) GetSecret(name string) (string, error) {
	if name == "" {
		return "", errors.New("secret name cannot be empty")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	value, ok := b.secrets[name]
	if !ok {
		return "", fmt.Errorf("secret not found: %s", name)
	}
	return value, nil
}

// SetSecret stores a secret and rewrites the file.
func (b *BasicManager) SetSecret(name, value string) error {
	if name == "" {
		return errors.New("secret name cannot be empty")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.secrets[name] = value
	return b.updateFile()
}

// DeleteSecret removes a secret and rewrites the file.
func (b *BasicManager) DeleteSecret(name string) error {
	if name == "" {
		return errors.New("secret name cannot be empty")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.secrets[name]; !exists {
		return fmt.Errorf("cannot delete non-existent secret: %s", name)
	}

	delete(b.secrets, name)
	return b.updateFile()
}

// ListSecrets returns all secret names in the store.
func (b *BasicManager) ListSecrets() ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.secrets))
	for name := range b.secrets {
		names = append(names, name)
	}
	return names, nil
}

// Cleanup is a no-op for the file-backed store.
func (*BasicManager) Cleanup() error {
	return nil
}

func (b *BasicManager) updateFile() error {
	contents, err := json.Marshal(fileStructure{Secrets: b.secrets})
	if err != nil {
		return fmt.Errorf("failed to marshal secrets: %w", err)
	}

	secretsFile, err := os.OpenFile(b.filePath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to open secrets file: %w", err)
	}
	defer func() { _ = secretsFile.Close() }()

	if _, err := secretsFile.Write(contents); err != nil {
		return fmt.Errorf("failed to write secrets to file: %w", err)
	}
	return nil
}

// Compile-time interface compliance check
var _ Manager = (*BasicManager)(nil)
