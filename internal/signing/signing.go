// Package signing produces signatures for messages, typed data and
// transactions using locally held key material. Every operation is
// stateless per call; the wallet classification decides how the
// private key is resolved.
package signing

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/domainwallet/walletcore/internal/derivation"
	"github.com/domainwallet/walletcore/internal/keystore"
	apperrors "github.com/domainwallet/walletcore/pkg/errors"
	"github.com/domainwallet/walletcore/pkg/types"
)

// Core signs with key material from the key store.
type Core struct {
	store keystore.Store
}

// NewCore creates a signing core over the given key store.
func NewCore(store keystore.Store) *Core {
	return &Core{store: store}
}

// withPrivateKey resolves the wallet's private key inside the key
// store's exclusive section and hands it to fn. The key never escapes
// the callback.
func (c *Core) withPrivateKey(ctx context.Context, wallet *types.Wallet, fn func(priv *ecdsa.PrivateKey) error) error {
	return c.store.WithSecret(ctx, wallet.Address, func(secret []byte) error {
		var priv *ecdsa.PrivateKey
		var err error

		switch wallet.Classification {
		case types.ClassificationLocalPrivateKey:
			priv, err = derivation.PrivateKeyFromBytes(secret)
		case types.ClassificationLocalHDSeed:
			priv, err = derivation.HDPrivateKeyFromSeedPhrase(string(secret))
		default:
			return apperrors.SigningFailed(fmt.Sprintf("wallet classification %s has no local key material", wallet.Classification))
		}
		if err != nil {
			return apperrors.SigningFailed(err.Error())
		}
		defer zeroKey(priv)
		return fn(priv)
	})
}

func zeroKey(priv *ecdsa.PrivateKey) {
	if priv != nil && priv.D != nil {
		priv.D.SetInt64(0)
	}
}

// PersonalMessageDigest computes the digest signed for a personal
// message. Hex strings that decode to a 32-byte value are treated as
// precomputed digests and signed as-is; everything else is hashed
// under the EIP-191 personal message prefix.
func PersonalMessageDigest(message string) []byte {
	if strings.HasPrefix(message, "0x") || strings.HasPrefix(message, "0X") {
		if raw, err := hex.DecodeString(message[2:]); err == nil && len(raw) == common.HashLength {
			return raw
		}
	}
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(message))
	return crypto.Keccak256(append([]byte(prefix), []byte(message)...))
}

// SignDigest signs a precomputed 32-byte digest and returns the
// 0x-prefixed r||s||v signature with v adjusted to 27/28.
func (c *Core) SignDigest(ctx context.Context, wallet *types.Wallet, digest []byte) (string, error) {
	if len(digest) != common.HashLength {
		return "", apperrors.SigningFailed(fmt.Sprintf("digest must be %d bytes, got %d", common.HashLength, len(digest)))
	}

	var sig []byte
	err := c.withPrivateKey(ctx, wallet, func(priv *ecdsa.PrivateKey) error {
		var err error
		sig, err = crypto.Sign(digest, priv)
		if err != nil {
			return apperrors.SigningFailed(err.Error())
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, keystore.ErrNotFound) {
			return "", apperrors.SigningFailed("no key material for " + wallet.Address)
		}
		return "", err
	}

	// Adjust v from 0/1 to 27/28 for Ethereum compatibility.
	if sig[crypto.RecoveryIDOffset] < 27 {
		sig[crypto.RecoveryIDOffset] += 27
	}
	return hexutilEncode(sig), nil
}

// SignPersonalMessage signs a personal message under EIP-191.
func (c *Core) SignPersonalMessage(ctx context.Context, wallet *types.Wallet, message string) (string, error) {
	return c.SignDigest(ctx, wallet, PersonalMessageDigest(message))
}

// SignTypedData signs EIP-712 typed data.
func (c *Core) SignTypedData(ctx context.Context, wallet *types.Wallet, typedData apitypes.TypedData) (string, error) {
	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return "", apperrors.SigningFailed("failed to hash typed data: " + err.Error())
	}
	return c.SignDigest(ctx, wallet, hash)
}

// TransactionParams carries the fields of a transaction to sign.
// GasPrice selects a legacy transaction; MaxFeePerGas/MaxPriorityFee
// select a dynamic-fee one.
type TransactionParams struct {
	To             string
	Nonce          uint64
	Gas            uint64
	GasPrice       *big.Int
	MaxFeePerGas   *big.Int
	MaxPriorityFee *big.Int
	Value          *big.Int
	Data           []byte
}

func (p *TransactionParams) build(chainID int64) (*ethtypes.Transaction, error) {
	if p.Gas == 0 {
		return nil, apperrors.InvalidTransaction("gas limit is zero")
	}
	if p.Value != nil && p.Value.Sign() < 0 {
		return nil, apperrors.InvalidTransaction("negative value")
	}

	var to *common.Address
	if p.To != "" {
		if !common.IsHexAddress(p.To) {
			return nil, apperrors.InvalidTransaction("malformed to address: " + p.To)
		}
		addr := common.HexToAddress(p.To)
		to = &addr
	}

	if p.MaxFeePerGas != nil {
		return ethtypes.NewTx(&ethtypes.DynamicFeeTx{
			ChainID:   big.NewInt(chainID),
			Nonce:     p.Nonce,
			GasTipCap: p.MaxPriorityFee,
			GasFeeCap: p.MaxFeePerGas,
			Gas:       p.Gas,
			To:        to,
			Value:     p.Value,
			Data:      p.Data,
		}), nil
	}
	if p.GasPrice == nil {
		return nil, apperrors.InvalidTransaction("neither gas price nor max fee set")
	}
	return ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    p.Nonce,
		GasPrice: p.GasPrice,
		Gas:      p.Gas,
		To:       to,
		Value:    p.Value,
		Data:     p.Data,
	}), nil
}

// SignTransaction signs a transaction for the given chain and returns
// the r||s||v signature tuple as 0x-prefixed hex. The chain id is
// folded into v per EIP-155 replay protection.
func (c *Core) SignTransaction(ctx context.Context, wallet *types.Wallet, params *TransactionParams, chainID int64) (string, error) {
	tx, err := params.build(chainID)
	if err != nil {
		return "", err
	}

	signer := ethtypes.LatestSignerForChainID(big.NewInt(chainID))

	var signed *ethtypes.Transaction
	err = c.withPrivateKey(ctx, wallet, func(priv *ecdsa.PrivateKey) error {
		var err error
		signed, err = ethtypes.SignTx(tx, signer, priv)
		if err != nil {
			return apperrors.SigningFailed(err.Error())
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, keystore.ErrNotFound) {
			return "", apperrors.SigningFailed("no key material for " + wallet.Address)
		}
		return "", err
	}

	v, r, s := signed.RawSignatureValues()
	out := make([]byte, 0, 65)
	out = append(out, common.LeftPadBytes(r.Bytes(), 32)...)
	out = append(out, common.LeftPadBytes(s.Bytes(), 32)...)
	out = append(out, v.Bytes()...)
	return hexutilEncode(out), nil
}

// RecoverAddress recovers the signer address from a personal message
// and its signature.
func RecoverAddress(message, signature string) (common.Address, error) {
	sig := common.FromHex(signature)
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length: %d", len(sig))
	}

	local := make([]byte, crypto.SignatureLength)
	copy(local, sig)
	if local[crypto.RecoveryIDOffset] >= 27 {
		local[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(PersonalMessageDigest(message), local)
	if err != nil {
		return common.Address{}, fmt.Errorf("signature recovery failed: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func hexutilEncode(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}
