package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// KVRepository is a string-keyed blob store backing the key material
// store. Missing keys read as (nil, nil).
type KVRepository struct {
	store *Store
}

// NewKVRepository creates a new KVRepository
func NewKVRepository(store *Store) *KVRepository {
	return &KVRepository{store: store}
}

// Get returns the value for key, or (nil, nil) when absent.
func (r *KVRepository) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := r.store.pool.QueryRow(ctx, `SELECT value FROM key_value WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get value: %w", err)
	}
	return value, nil
}

// Set upserts a value under key.
func (r *KVRepository) Set(ctx context.Context, key string, value []byte) error {
	query := `
		INSERT INTO key_value (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`
	if _, err := r.store.pool.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to set value: %w", err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (r *KVRepository) Delete(ctx context.Context, key string) error {
	if _, err := r.store.pool.Exec(ctx, `DELETE FROM key_value WHERE key = $1`, key); err != nil {
		return fmt.Errorf("failed to delete value: %w", err)
	}
	return nil
}
