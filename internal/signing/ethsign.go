package signing

import (
	"strings"

	"github.com/domainwallet/walletcore/pkg/types"
)

// EthSignBehavior describes how a remote signer app treats eth_sign
// payloads. Some apps hash the payload internally and must receive the
// raw message; sending them a precomputed digest would double-hash it.
type EthSignBehavior int

const (
	// BehaviorExpectsDigest means the app signs the payload verbatim,
	// so it must receive the precomputed EIP-191 digest.
	BehaviorExpectsDigest EthSignBehavior = iota

	// BehaviorHashesInternally means the app applies the personal
	// message hash itself, so it must receive the raw message.
	BehaviorHashesInternally
)

// CapabilityTable maps remote app names to their eth_sign behavior.
// Unknown apps default to BehaviorExpectsDigest.
type CapabilityTable struct {
	behaviors map[string]EthSignBehavior
}

// NewCapabilityTable creates a table seeded with the known behaviors
// of popular signer apps.
func NewCapabilityTable() *CapabilityTable {
	return &CapabilityTable{
		behaviors: map[string]EthSignBehavior{
			"metamask":        BehaviorHashesInternally,
			"rainbow":         BehaviorHashesInternally,
			"trust wallet":    BehaviorExpectsDigest,
			"ledger live":     BehaviorExpectsDigest,
			"alpha wallet":    BehaviorHashesInternally,
			"coinbase wallet": BehaviorExpectsDigest,
		},
	}
}

// Set overrides the behavior recorded for an app name.
func (t *CapabilityTable) Set(appName string, behavior EthSignBehavior) {
	t.behaviors[normalizeAppName(appName)] = behavior
}

// Lookup returns the recorded behavior for an app, defaulting to
// BehaviorExpectsDigest for unknown apps.
func (t *CapabilityTable) Lookup(appName string) EthSignBehavior {
	if behavior, ok := t.behaviors[normalizeAppName(appName)]; ok {
		return behavior
	}
	return BehaviorExpectsDigest
}

func normalizeAppName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// PrepareForDelegatedEthSign decides what payload a remote app should
// receive for an eth_sign request: the raw message when the app hashes
// internally, the precomputed digest otherwise.
func PrepareForDelegatedEthSign(table *CapabilityTable, peer types.PeerDescriptor, message string) string {
	if table.Lookup(peer.Name) == BehaviorHashesInternally {
		return message
	}
	return hexutilEncode(PersonalMessageDigest(message))
}
