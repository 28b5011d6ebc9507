package config

import (
	"fmt"

	"github.com/hashicorp/vault/api"
)

// Secret names the indexer reads.
const (
	SecretDatabaseUser     = "DATABASE_USER"
	SecretDatabasePassword = "DATABASE_PASSWORD"
	SecretSolrUser         = "SOLR_USER"
	SecretSolrPassword     = "SOLR_PASSWORD"
)

// SecretManager wraps the Vault API client for reading secrets.
type SecretManager struct {
	client *api.Client
}

// NewSecretManager creates a Vault client pointed at the given address and
// authenticated with the provided token.
func NewSecretManager(address, token string) (*SecretManager, error) {
	cfg := api.DefaultConfig()
	cfg.Address = address

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault client initialization failed: %w", err)
	}
	client.SetToken(token)

	return &SecretManager{client: client}, nil
}

// Secrets is the unwrapped KV v2 data map with typed access.
type Secrets map[string]any

// String returns the named secret as text, failing loudly on absence or a
// non-text value rather than letting a bad type assert panic at startup.
func (s Secrets) String(name string) (string, error) {
	raw, ok := s[name]
	if !ok {
		return "", fmt.Errorf("secret %s not found", name)
	}
	val, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("secret %s is not a string", name)
	}
	return val, nil
}

// GetKV2 reads from a KV v2 backend and returns the inner "data" map,
// unwrapping the v2 envelope automatically.
func (s *SecretManager) GetKV2(path string) (Secrets, error) {
	secret, err := s.client.Logical().Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret at %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no data found at %s", path)
	}
	data, ok := secret.Data["data"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected data format at %s", path)
	}
	return Secrets(data), nil
}
