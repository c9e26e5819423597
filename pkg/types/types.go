package types

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Classification describes how a wallet's signatures are produced.
// It is fixed at creation time; recovery or migration creates a new
// wallet record instead of mutating the classification in place.
type Classification string

const (
	// ClassificationLocalPrivateKey signs with a raw private key held in the key store.
	ClassificationLocalPrivateKey Classification = "local_private_key"

	// ClassificationLocalHDSeed signs with a key derived from a stored seed phrase.
	ClassificationLocalHDSeed Classification = "local_hd_seed"

	// ClassificationExternallyLinked delegates signing to an external app over a session.
	ClassificationExternallyLinked Classification = "externally_linked"

	// ClassificationUnverified marks a watch-only wallet with no signing capability.
	ClassificationUnverified Classification = "unverified"
)

// IsLocal reports whether signing happens with in-process key material.
func (c Classification) IsLocal() bool {
	return c == ClassificationLocalPrivateKey || c == ClassificationLocalHDSeed
}

// CanSign reports whether the wallet can produce signatures at all.
func (c Classification) CanSign() bool {
	return c.IsLocal() || c == ClassificationExternallyLinked
}

// Wallet represents a signing identity with one canonical address.
type Wallet struct {
	ID             uuid.UUID      `json:"id"`
	Address        string         `json:"address"`
	Classification Classification `json:"classification"`

	// ExternalApp names the remote signer app. Set only for
	// externally linked wallets.
	ExternalApp string `json:"external_app,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// PeerDescriptor identifies the remote end of a session.
type PeerDescriptor struct {
	Name   string   `json:"name"`
	Origin string   `json:"origin"`
	Icons  []string `json:"icons,omitempty"`
}

// Namespace lists the accounts, methods and events permitted for one
// chain family (e.g. "eip155").
type Namespace struct {
	Accounts []string `json:"accounts"`
	Methods  []string `json:"methods"`
	Events   []string `json:"events"`
}

// Session is a live channel to one external signer app.
type Session struct {
	Topic        string               `json:"topic"`
	PairingTopic string               `json:"pairing_topic"`
	Peer         PeerDescriptor       `json:"peer"`
	Namespaces   map[string]Namespace `json:"namespaces"`
	Expiry       time.Time            `json:"expiry"`
	CreatedAt    time.Time            `json:"created_at"`
}

// Addresses returns every account address across all namespaces,
// lowercased for lookup. Accounts use CAIP-10 form "eip155:1:0xabc..";
// bare addresses are accepted as-is.
func (s *Session) Addresses() []string {
	var out []string
	seen := make(map[string]struct{})
	for _, ns := range s.Namespaces {
		for _, account := range ns.Accounts {
			addr := account
			if i := strings.LastIndex(account, ":"); i >= 0 {
				addr = account[i+1:]
			}
			addr = strings.ToLower(addr)
			if _, ok := seen[addr]; ok {
				continue
			}
			seen[addr] = struct{}{}
			out = append(out, addr)
		}
	}
	return out
}

// HasAddress reports whether the session's namespaces include the address.
func (s *Session) HasAddress(address string) bool {
	address = strings.ToLower(address)
	for _, a := range s.Addresses() {
		if a == address {
			return true
		}
	}
	return false
}

// ConnectionIntent records which domain/account the user intends to
// link before the remote party confirms settlement. At most one intent
// is active at a time.
type ConnectionIntent struct {
	Domain     string               `json:"domain"`
	Address    string               `json:"address"`
	Namespaces map[string]Namespace `json:"namespaces"`
	Proposer   PeerDescriptor       `json:"proposer"`
	CreatedAt  time.Time            `json:"created_at"`
}

// ConnectedApp binds a wallet+domain context to a settled session.
type ConnectedApp struct {
	Session       Session `json:"session"`
	WalletAddress string  `json:"wallet_address"`
	Domain        string  `json:"domain"`
}

// RequestMethod identifies a delegated signing operation.
type RequestMethod string

const (
	MethodPersonalSign    RequestMethod = "personal_sign"
	MethodEthSign         RequestMethod = "eth_sign"
	MethodSignTypedData   RequestMethod = "eth_signTypedData"
	MethodSignTransaction RequestMethod = "eth_signTransaction"
	MethodSendTransaction RequestMethod = "eth_sendTransaction"
)

// NormalizeAddress lowercases an address for registry lookups.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
