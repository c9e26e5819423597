package keystore

import (
	"context"
	"fmt"
	"sync"
)

// KV is the persistent key-value collaborator backing SecureStore.
// Implementations must treat missing keys as (nil, nil).
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

const kvPrefix = "keymaterial:"

// SecureStore persists secrets through a KV collaborator, sealed at
// rest by a Sealer. Plaintext exists only inside WithSecret and is
// zeroed when the callback returns.
type SecureStore struct {
	kv     KV
	sealer Sealer

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSecureStore creates a store over the given KV and sealer.
func NewSecureStore(kv KV, sealer Sealer) *SecureStore {
	return &SecureStore{
		kv:     kv,
		sealer: sealer,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (s *SecureStore) addressLock(address string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[address]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[address] = lock
	}
	return lock
}

// Put seals and persists secret material for an address.
func (s *SecureStore) Put(ctx context.Context, address string, secret []byte) error {
	address = normalize(address)
	lock := s.addressLock(address)
	lock.Lock()
	defer lock.Unlock()

	sealed, err := s.sealer.Encrypt(ctx, secret)
	if err != nil {
		return fmt.Errorf("failed to seal key material: %w", err)
	}
	if err := s.kv.Set(ctx, kvPrefix+address, sealed); err != nil {
		return fmt.Errorf("failed to persist key material: %w", err)
	}
	return nil
}

// Remove deletes the entry for an address.
func (s *SecureStore) Remove(ctx context.Context, address string) error {
	address = normalize(address)
	lock := s.addressLock(address)
	lock.Lock()
	defer lock.Unlock()

	if err := s.kv.Delete(ctx, kvPrefix+address); err != nil {
		return fmt.Errorf("failed to delete key material: %w", err)
	}
	return nil
}

// Has reports whether an entry exists for the address.
func (s *SecureStore) Has(ctx context.Context, address string) (bool, error) {
	sealed, err := s.kv.Get(ctx, kvPrefix+normalize(address))
	if err != nil {
		return false, fmt.Errorf("failed to read key material: %w", err)
	}
	return sealed != nil, nil
}

// WithSecret unseals the secret for the address and invokes fn with a
// plaintext copy, zeroed afterwards.
func (s *SecureStore) WithSecret(ctx context.Context, address string, fn func(secret []byte) error) error {
	address = normalize(address)
	lock := s.addressLock(address)
	lock.Lock()
	defer lock.Unlock()

	sealed, err := s.kv.Get(ctx, kvPrefix+address)
	if err != nil {
		return fmt.Errorf("failed to read key material: %w", err)
	}
	if sealed == nil {
		return ErrNotFound
	}

	secret, err := s.sealer.Decrypt(ctx, sealed)
	if err != nil {
		return fmt.Errorf("failed to unseal key material: %w", err)
	}
	defer Zero(secret)
	return fn(secret)
}

// MemoryKV is an in-memory KV for tests and development.
type MemoryKV struct {
	mu      sync.Mutex
	entries map[string][]byte
}

// NewMemoryKV creates an empty in-memory KV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{entries: make(map[string][]byte)}
}

// Get returns the value for key, or (nil, nil) when absent.
func (kv *MemoryKV) Get(ctx context.Context, key string) ([]byte, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	value, ok := kv.entries[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Set stores a copy of value under key.
func (kv *MemoryKV) Set(ctx context.Context, key string, value []byte) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	stored := make([]byte, len(value))
	copy(stored, value)
	kv.entries[key] = stored
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (kv *MemoryKV) Delete(ctx context.Context, key string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	delete(kv.entries, key)
	return nil
}
