package keystore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMasterKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestLocalSealer(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		sealer, err := NewLocalSealer(testMasterKeyHex)
		require.NoError(t, err)

		plaintext := []byte("key material bytes")
		sealed, err := sealer.Encrypt(ctx, plaintext)
		require.NoError(t, err)
		assert.NotEqual(t, plaintext, sealed)

		opened, err := sealer.Decrypt(ctx, sealed)
		require.NoError(t, err)
		assert.Equal(t, plaintext, opened)
	})

	t.Run("fresh salt per entry", func(t *testing.T) {
		sealer, err := NewLocalSealer(testMasterKeyHex)
		require.NoError(t, err)

		a, err := sealer.Encrypt(ctx, []byte("same"))
		require.NoError(t, err)
		b, err := sealer.Encrypt(ctx, []byte("same"))
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})

	t.Run("detects tampering", func(t *testing.T) {
		sealer, err := NewLocalSealer(testMasterKeyHex)
		require.NoError(t, err)

		sealed, err := sealer.Encrypt(ctx, []byte("key material"))
		require.NoError(t, err)
		sealed[len(sealed)-1] ^= 0xFF

		_, err = sealer.Decrypt(ctx, sealed)
		assert.Error(t, err)
	})

	t.Run("rejects bad master key", func(t *testing.T) {
		_, err := NewLocalSealer("")
		assert.Error(t, err)

		_, err = NewLocalSealer("not hex")
		assert.Error(t, err)

		_, err = NewLocalSealer("0001")
		assert.Error(t, err)
	})
}

type vaultTransitRequest struct {
	Plaintext  string `json:"plaintext"`
	Ciphertext string `json:"ciphertext"`
}

type vaultSecretResponse struct {
	RequestID     string                 `json:"request_id"`
	LeaseID       string                 `json:"lease_id"`
	LeaseDuration int                    `json:"lease_duration"`
	Renewable     bool                   `json:"renewable"`
	Data          map[string]interface{} `json:"data"`
}

func newVaultTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/v1/transit/encrypt/"):
			var req vaultTransitRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			resp := vaultSecretResponse{
				RequestID: "req-encrypt",
				Data: map[string]interface{}{
					"ciphertext": "vault:v1:" + req.Plaintext,
				},
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(resp)
		case strings.HasPrefix(r.URL.Path, "/v1/transit/decrypt/"):
			var req vaultTransitRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			resp := vaultSecretResponse{
				RequestID: "req-decrypt",
				Data: map[string]interface{}{
					"plaintext": strings.TrimPrefix(req.Ciphertext, "vault:v1:"),
				},
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(resp)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestVaultSealerContract(t *testing.T) {
	server := newVaultTestServer(t)
	defer server.Close()

	sealer, err := NewVaultSealer(server.URL, "test-token", "walletcore")
	require.NoError(t, err)
	assert.Equal(t, "vault", sealer.Provider())

	ctx := context.Background()
	plaintext := []byte("hd seed phrase goes here")

	sealed, err := sealer.Encrypt(ctx, plaintext)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(sealed), "vault:v1:"))

	opened, err := sealer.Decrypt(ctx, sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestNewSealerProviderSelection(t *testing.T) {
	sealer, err := NewSealer(&SealerConfig{Provider: "local", LocalMasterKeyHex: testMasterKeyHex})
	require.NoError(t, err)
	assert.Equal(t, "local", sealer.Provider())

	_, err = NewSealer(&SealerConfig{Provider: "unknown"})
	assert.Error(t, err)
}
