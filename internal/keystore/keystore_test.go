package keystore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStoreContract(t *testing.T, store Store) {
	ctx := context.Background()
	secret := []byte{0x01, 0x02, 0x03, 0x04}

	t.Run("missing entry", func(t *testing.T) {
		err := store.WithSecret(ctx, "0xAbC", func([]byte) error { return nil })
		assert.ErrorIs(t, err, ErrNotFound)

		has, err := store.Has(ctx, "0xAbC")
		require.NoError(t, err)
		assert.False(t, has)
	})

	t.Run("put then read back", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "0xAbC", secret))

		has, err := store.Has(ctx, "0xabc")
		require.NoError(t, err)
		assert.True(t, has)

		var seen []byte
		err = store.WithSecret(ctx, "0xABC", func(s []byte) error {
			seen = append([]byte(nil), s...)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, secret, seen)
	})

	t.Run("callback copy is zeroed after use", func(t *testing.T) {
		var handed []byte
		err := store.WithSecret(ctx, "0xabc", func(s []byte) error {
			handed = s
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, make([]byte, len(secret)), handed)
	})

	t.Run("mutation inside callback does not corrupt the store", func(t *testing.T) {
		err := store.WithSecret(ctx, "0xabc", func(s []byte) error {
			for i := range s {
				s[i] = 0xFF
			}
			return nil
		})
		require.NoError(t, err)

		var seen []byte
		err = store.WithSecret(ctx, "0xabc", func(s []byte) error {
			seen = append([]byte(nil), s...)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, secret, seen)
	})

	t.Run("remove makes entry unobservable", func(t *testing.T) {
		require.NoError(t, store.Remove(ctx, "0xabc"))

		err := store.WithSecret(ctx, "0xabc", func([]byte) error { return nil })
		assert.ErrorIs(t, err, ErrNotFound)

		// Removing again is fine.
		require.NoError(t, store.Remove(ctx, "0xabc"))
	})
}

func TestMemoryStore(t *testing.T) {
	testStoreContract(t, NewMemoryStore())
}

func TestSecureStore(t *testing.T) {
	sealer, err := NewLocalSealer("000102030405060708090a0b0c0d0e0f000102030405060708090a0b0c0d0e0f")
	require.NoError(t, err)
	testStoreContract(t, NewSecureStore(NewMemoryKV(), sealer))
}

func TestSecureStorePersistsSealed(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	sealer, err := NewLocalSealer("000102030405060708090a0b0c0d0e0f000102030405060708090a0b0c0d0e0f")
	require.NoError(t, err)

	store := NewSecureStore(kv, sealer)
	secret := []byte("super secret key bytes")
	require.NoError(t, store.Put(ctx, "0xdef", secret))

	sealed, err := kv.Get(ctx, "keymaterial:0xdef")
	require.NoError(t, err)
	require.NotNil(t, sealed)
	assert.NotContains(t, string(sealed), "super secret")
}
