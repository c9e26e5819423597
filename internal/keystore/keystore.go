// Package keystore holds wallet secret material keyed by address.
//
// Secrets never leave the process unencrypted: callers access them only
// inside WithSecret, which hands out a copy that is zeroed when the
// callback returns. Access is exclusive per address for the duration of
// a call.
package keystore

import (
	"context"
	"errors"

	"github.com/domainwallet/walletcore/pkg/types"
)

// ErrNotFound is returned when no secret exists for an address.
var ErrNotFound = errors.New("keystore: entry not found")

// Store is address-keyed secret storage.
type Store interface {
	// Put stores secret material for an address, replacing any
	// previous entry. The store owns its own copy of the bytes.
	Put(ctx context.Context, address string, secret []byte) error

	// Remove deletes the entry for an address. Removing a missing
	// entry is not an error.
	Remove(ctx context.Context, address string) error

	// Has reports whether an entry exists for the address.
	Has(ctx context.Context, address string) (bool, error)

	// WithSecret invokes fn with a copy of the secret for the
	// address. The copy is zeroed after fn returns. Calls for the
	// same address are serialized.
	WithSecret(ctx context.Context, address string, fn func(secret []byte) error) error
}

// Zero overwrites b in place.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func normalize(address string) string {
	return types.NormalizeAddress(address)
}
