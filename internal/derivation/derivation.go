// Package derivation contains pure key and address derivation helpers.
// Nothing here performs I/O; callers own key material lifetime.
package derivation

import (
	"crypto/ecdsa"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	bip39 "github.com/tyler-smith/go-bip39"

	apperrors "github.com/domainwallet/walletcore/pkg/errors"
)

// hdPathComponents is the standard Ethereum path m/44'/60'/0'/0/0.
var hdPathComponents = []uint32{
	hdkeychain.HardenedKeyStart + 44,
	hdkeychain.HardenedKeyStart + 60,
	hdkeychain.HardenedKeyStart + 0,
	0,
	0,
}

// PrivateKeyFromBytes parses raw private key bytes into an ECDSA key.
func PrivateKeyFromBytes(key []byte) (*ecdsa.PrivateKey, error) {
	priv, err := crypto.ToECDSA(key)
	if err != nil {
		return nil, apperrors.InvalidKeyMaterial(err.Error())
	}
	return priv, nil
}

// AddressFromPrivateKey derives the canonical address for raw private
// key bytes. Deterministic: the same key always yields the same address.
func AddressFromPrivateKey(key []byte) (common.Address, error) {
	priv, err := PrivateKeyFromBytes(key)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(priv.PublicKey), nil
}

// HDPrivateKeyFromSeedPhrase derives the first account's private key
// from a BIP-39 mnemonic at m/44'/60'/0'/0/0.
func HDPrivateKeyFromSeedPhrase(phrase string) (*ecdsa.PrivateKey, error) {
	if !bip39.IsMnemonicValid(phrase) {
		return nil, apperrors.InvalidSeedPhrase("mnemonic checksum validation failed")
	}

	seed := bip39.NewSeed(phrase, "")
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, apperrors.InvalidSeedPhrase(err.Error())
	}

	key := master
	for _, component := range hdPathComponents {
		key, err = key.Derive(component)
		if err != nil {
			return nil, apperrors.InvalidSeedPhrase(err.Error())
		}
	}

	btcPriv, err := key.ECPrivKey()
	if err != nil {
		return nil, apperrors.InvalidSeedPhrase(err.Error())
	}
	// Re-parse through go-ethereum so the key carries crypto.S256();
	// crypto.Sign rejects keys whose Curve is btcec's instance.
	priv, err := crypto.ToECDSA(btcPriv.Serialize())
	if err != nil {
		return nil, apperrors.InvalidSeedPhrase(err.Error())
	}
	return priv, nil
}

// AddressFromSeedPhrase derives the first account's address from a
// BIP-39 mnemonic.
func AddressFromSeedPhrase(phrase string) (common.Address, error) {
	priv, err := HDPrivateKeyFromSeedPhrase(phrase)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(priv.PublicKey), nil
}
