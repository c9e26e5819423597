package keystore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Sealer encrypts secret material for storage at rest. Different
// backends (local master key, AWS KMS, HashiCorp Vault Transit) can
// implement this interface.
type Sealer interface {
	// Encrypt encrypts data for storage
	Encrypt(ctx context.Context, data []byte) ([]byte, error)

	// Decrypt decrypts previously sealed data
	Decrypt(ctx context.Context, sealed []byte) ([]byte, error)

	// Provider returns the provider name (e.g. "local", "aws-kms", "vault")
	Provider() string
}

// SealerConfig contains configuration for sealer providers
type SealerConfig struct {
	// Provider specifies which sealer to use: local, aws-kms or vault
	Provider string

	// Local provider config
	LocalMasterKeyHex string

	// AWS KMS config
	AWSKMSKeyID  string
	AWSKMSRegion string

	// Vault config
	VaultAddress    string
	VaultToken      string
	VaultTransitKey string
}

// NewSealer constructs the sealer named by cfg.Provider.
func NewSealer(cfg *SealerConfig) (Sealer, error) {
	switch cfg.Provider {
	case "local":
		return NewLocalSealer(cfg.LocalMasterKeyHex)
	case "aws-kms":
		return NewAWSKMSSealer(cfg.AWSKMSKeyID, cfg.AWSKMSRegion)
	case "vault":
		return NewVaultSealer(cfg.VaultAddress, cfg.VaultToken, cfg.VaultTransitKey)
	default:
		return nil, fmt.Errorf("unknown sealer provider: %s", cfg.Provider)
	}
}

const localSaltSize = 16

// LocalSealer implements Sealer with AES-256-GCM under a master key.
// Each entry is encrypted with a fresh key derived via HKDF-SHA256 from
// the master key and a random per-entry salt, so no two entries share
// an AES key.
type LocalSealer struct {
	masterKey []byte
}

// NewLocalSealer creates a sealer from a hex-encoded 32-byte master key.
func NewLocalSealer(masterKeyHex string) (*LocalSealer, error) {
	if masterKeyHex == "" {
		return nil, fmt.Errorf("master key is required for local sealer")
	}

	masterKey, err := hex.DecodeString(masterKeyHex)
	if err != nil {
		return nil, fmt.Errorf("master key must be hex encoded: %w", err)
	}
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes, got %d", len(masterKey))
	}

	return &LocalSealer{masterKey: masterKey}, nil
}

func (s *LocalSealer) entryKey(salt []byte) ([]byte, error) {
	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, s.masterKey, salt, []byte("walletcore-keystore-v1"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive entry key: %w", err)
	}
	return key, nil
}

// Encrypt encrypts data as salt || nonce || ciphertext.
func (s *LocalSealer) Encrypt(ctx context.Context, data []byte) ([]byte, error) {
	salt := make([]byte, localSaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	entryKey, err := s.entryKey(salt)
	if err != nil {
		return nil, err
	}
	defer Zero(entryKey)

	block, err := aes.NewCipher(entryKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := append(salt, gcm.Seal(nonce, nonce, data, nil)...)
	return sealed, nil
}

// Decrypt decrypts a salt || nonce || ciphertext blob.
func (s *LocalSealer) Decrypt(ctx context.Context, sealed []byte) ([]byte, error) {
	if len(sealed) < localSaltSize {
		return nil, fmt.Errorf("sealed blob too short")
	}
	salt, rest := sealed[:localSaltSize], sealed[localSaltSize:]

	entryKey, err := s.entryKey(salt)
	if err != nil {
		return nil, err
	}
	defer Zero(entryKey)

	block, err := aes.NewCipher(entryKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(rest) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := rest[:nonceSize], rest[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

// Provider returns the provider name
func (s *LocalSealer) Provider() string {
	return "local"
}
