package keystore

import (
	"context"
	"encoding/base64"
	"fmt"

	vault "github.com/hashicorp/vault/api"
)

// VaultSealer implements Sealer using the HashiCorp Vault Transit engine.
type VaultSealer struct {
	transitKey string
	client     *vault.Client
}

// NewVaultSealer creates a new Vault Transit sealer.
func NewVaultSealer(address, token, transitKey string) (*VaultSealer, error) {
	if address == "" {
		return nil, fmt.Errorf("Vault address is required")
	}
	if token == "" {
		return nil, fmt.Errorf("Vault token is required")
	}
	if transitKey == "" {
		return nil, fmt.Errorf("Vault transit key name is required")
	}

	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = address

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	client.SetToken(token)

	return &VaultSealer{
		transitKey: transitKey,
		client:     client,
	}, nil
}

// Encrypt encrypts data using the Vault Transit engine
func (s *VaultSealer) Encrypt(ctx context.Context, data []byte) ([]byte, error) {
	// Vault Transit requires base64-encoded plaintext
	plaintext := base64.StdEncoding.EncodeToString(data)

	path := fmt.Sprintf("transit/encrypt/%s", s.transitKey)
	secret, err := s.client.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"plaintext": plaintext,
	})
	if err != nil {
		return nil, fmt.Errorf("Vault Transit encrypt failed: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("Vault Transit encrypt returned empty response")
	}

	ciphertext, ok := secret.Data["ciphertext"].(string)
	if !ok {
		return nil, fmt.Errorf("Vault Transit encrypt: ciphertext not found in response")
	}
	return []byte(ciphertext), nil
}

// Decrypt decrypts data using the Vault Transit engine
func (s *VaultSealer) Decrypt(ctx context.Context, sealed []byte) ([]byte, error) {
	path := fmt.Sprintf("transit/decrypt/%s", s.transitKey)
	secret, err := s.client.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"ciphertext": string(sealed),
	})
	if err != nil {
		return nil, fmt.Errorf("Vault Transit decrypt failed: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("Vault Transit decrypt returned empty response")
	}

	plaintextB64, ok := secret.Data["plaintext"].(string)
	if !ok {
		return nil, fmt.Errorf("Vault Transit decrypt: plaintext not found in response")
	}

	plaintext, err := base64.StdEncoding.DecodeString(plaintextB64)
	if err != nil {
		return nil, fmt.Errorf("Vault Transit decrypt: invalid base64 plaintext: %w", err)
	}
	return plaintext, nil
}

// Provider returns the provider name
func (s *VaultSealer) Provider() string {
	return "vault"
}
