package keystore

import (
	"context"
	"sync"
)

// MemoryStore keeps secrets unencrypted in process memory. Intended for
// tests and development; production deployments use SecureStore.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]byte
	locks   map[string]*sync.Mutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string][]byte),
		locks:   make(map[string]*sync.Mutex),
	}
}

func (s *MemoryStore) addressLock(address string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[address]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[address] = lock
	}
	return lock
}

// Put stores secret material for an address.
func (s *MemoryStore) Put(ctx context.Context, address string, secret []byte) error {
	address = normalize(address)
	lock := s.addressLock(address)
	lock.Lock()
	defer lock.Unlock()

	stored := make([]byte, len(secret))
	copy(stored, secret)

	s.mu.Lock()
	if old, ok := s.entries[address]; ok {
		Zero(old)
	}
	s.entries[address] = stored
	s.mu.Unlock()
	return nil
}

// Remove deletes and zeroes the entry for an address.
func (s *MemoryStore) Remove(ctx context.Context, address string) error {
	address = normalize(address)
	lock := s.addressLock(address)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	if old, ok := s.entries[address]; ok {
		Zero(old)
		delete(s.entries, address)
	}
	s.mu.Unlock()
	return nil
}

// Has reports whether an entry exists for the address.
func (s *MemoryStore) Has(ctx context.Context, address string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[normalize(address)]
	return ok, nil
}

// WithSecret invokes fn with a copy of the secret, zeroed afterwards.
func (s *MemoryStore) WithSecret(ctx context.Context, address string, fn func(secret []byte) error) error {
	address = normalize(address)
	lock := s.addressLock(address)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	stored, ok := s.entries[address]
	var secret []byte
	if ok {
		secret = make([]byte, len(stored))
		copy(secret, stored)
	}
	s.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	defer Zero(secret)
	return fn(secret)
}
