package signing

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/domainwallet/walletcore/internal/keystore"
	apperrors "github.com/domainwallet/walletcore/pkg/errors"
	"github.com/domainwallet/walletcore/pkg/types"
)

func newTestWallet(t *testing.T, store keystore.Store) *types.Wallet {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	address := crypto.PubkeyToAddress(key.PublicKey).Hex()
	require.NoError(t, store.Put(context.Background(), address, crypto.FromECDSA(key)))

	return &types.Wallet{
		Address:        address,
		Classification: types.ClassificationLocalPrivateKey,
	}
}

func TestSignPersonalMessage(t *testing.T) {
	ctx := context.Background()
	store := keystore.NewMemoryStore()
	core := NewCore(store)
	wallet := newTestWallet(t, store)

	t.Run("round trip recovers the signer", func(t *testing.T) {
		sig, err := core.SignPersonalMessage(ctx, wallet, "hello")
		require.NoError(t, err)
		assert.True(t, len(sig) == 2+65*2 && sig[:2] == "0x")

		recovered, err := RecoverAddress("hello", sig)
		require.NoError(t, err)
		assert.Equal(t, common.HexToAddress(wallet.Address), recovered)
	})

	t.Run("32-byte hex message is signed as a digest", func(t *testing.T) {
		digest := crypto.Keccak256([]byte("payload"))
		message := "0x" + common.Bytes2Hex(digest)

		sigFromMessage, err := core.SignPersonalMessage(ctx, wallet, message)
		require.NoError(t, err)
		sigFromDigest, err := core.SignDigest(ctx, wallet, digest)
		require.NoError(t, err)

		assert.Equal(t, sigFromDigest, sigFromMessage)
	})

	t.Run("missing key material fails with signing error", func(t *testing.T) {
		orphan := &types.Wallet{
			Address:        "0x0000000000000000000000000000000000000001",
			Classification: types.ClassificationLocalPrivateKey,
		}
		_, err := core.SignPersonalMessage(ctx, orphan, "hello")
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSigningFailed))
	})

	t.Run("succeeds after key material is restored", func(t *testing.T) {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		address := crypto.PubkeyToAddress(key.PublicKey).Hex()
		wallet := &types.Wallet{Address: address, Classification: types.ClassificationLocalPrivateKey}

		_, err = core.SignPersonalMessage(ctx, wallet, "hello")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSigningFailed))

		require.NoError(t, store.Put(ctx, address, crypto.FromECDSA(key)))

		sig, err := core.SignPersonalMessage(ctx, wallet, "hello")
		require.NoError(t, err)
		recovered, err := RecoverAddress("hello", sig)
		require.NoError(t, err)
		assert.Equal(t, common.HexToAddress(address), recovered)
	})

	t.Run("externally linked wallet has no local path", func(t *testing.T) {
		linked := &types.Wallet{
			Address:        wallet.Address,
			Classification: types.ClassificationExternallyLinked,
		}
		_, err := core.SignPersonalMessage(ctx, linked, "hello")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSigningFailed))
	})
}

func TestSignHDSeedWallet(t *testing.T) {
	ctx := context.Background()
	store := keystore.NewMemoryStore()
	core := NewCore(store)

	const mnemonic = "test test test test test test test test test test test junk"
	const address = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	require.NoError(t, store.Put(ctx, address, []byte(mnemonic)))

	wallet := &types.Wallet{Address: address, Classification: types.ClassificationLocalHDSeed}

	sig, err := core.SignPersonalMessage(ctx, wallet, "seed phrase signing")
	require.NoError(t, err)

	recovered, err := RecoverAddress("seed phrase signing", sig)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(address), recovered)
}

func TestSignTypedData(t *testing.T) {
	ctx := context.Background()
	store := keystore.NewMemoryStore()
	core := NewCore(store)
	wallet := newTestWallet(t, store)

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"Transfer": []apitypes.Type{
				{Name: "to", Type: "address"},
				{Name: "amount", Type: "uint256"},
			},
		},
		PrimaryType: "Transfer",
		Domain: apitypes.TypedDataDomain{
			Name:    "walletcore",
			Version: "1",
			ChainId: math.NewHexOrDecimal256(1),
		},
		Message: apitypes.TypedDataMessage{
			"to":     "0x0000000000000000000000000000000000000002",
			"amount": "1000",
		},
	}

	sig, err := core.SignTypedData(ctx, wallet, typedData)
	require.NoError(t, err)

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	require.NoError(t, err)

	raw := common.FromHex(sig)
	raw[64] -= 27
	pub, err := crypto.SigToPub(hash, raw)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(wallet.Address), crypto.PubkeyToAddress(*pub))
}

func TestSignTransaction(t *testing.T) {
	ctx := context.Background()
	store := keystore.NewMemoryStore()
	core := NewCore(store)
	wallet := newTestWallet(t, store)

	t.Run("legacy transaction yields r||s||v", func(t *testing.T) {
		sig, err := core.SignTransaction(ctx, wallet, &TransactionParams{
			To:       "0x0000000000000000000000000000000000000002",
			Nonce:    1,
			Gas:      21000,
			GasPrice: big.NewInt(1_000_000_000),
			Value:    big.NewInt(1),
		}, 1)
		require.NoError(t, err)

		raw := common.FromHex(sig)
		require.GreaterOrEqual(t, len(raw), 65)
		// EIP-155: v = recid + 35 + 2*chainID, so 37 or 38 on mainnet.
		v := new(big.Int).SetBytes(raw[64:])
		assert.Contains(t, []int64{37, 38}, v.Int64())
	})

	t.Run("dynamic fee transaction", func(t *testing.T) {
		sig, err := core.SignTransaction(ctx, wallet, &TransactionParams{
			To:             "0x0000000000000000000000000000000000000002",
			Nonce:          2,
			Gas:            21000,
			MaxFeePerGas:   big.NewInt(2_000_000_000),
			MaxPriorityFee: big.NewInt(1_000_000_000),
			Value:          big.NewInt(1),
		}, 1)
		require.NoError(t, err)
		assert.True(t, len(sig) > 2)
	})

	t.Run("malformed fields", func(t *testing.T) {
		_, err := core.SignTransaction(ctx, wallet, &TransactionParams{
			To:       "not-an-address",
			Gas:      21000,
			GasPrice: big.NewInt(1),
		}, 1)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidTransaction))

		_, err = core.SignTransaction(ctx, wallet, &TransactionParams{
			To:       "0x0000000000000000000000000000000000000002",
			GasPrice: big.NewInt(1),
		}, 1)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidTransaction))

		_, err = core.SignTransaction(ctx, wallet, &TransactionParams{
			To:  "0x0000000000000000000000000000000000000002",
			Gas: 21000,
		}, 1)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidTransaction))
	})

	t.Run("missing key material", func(t *testing.T) {
		orphan := &types.Wallet{
			Address:        "0x0000000000000000000000000000000000000003",
			Classification: types.ClassificationLocalPrivateKey,
		}
		_, err := core.SignTransaction(ctx, orphan, &TransactionParams{
			To:       "0x0000000000000000000000000000000000000002",
			Gas:      21000,
			GasPrice: big.NewInt(1),
		}, 1)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSigningFailed))
	})
}

func TestPrepareForDelegatedEthSign(t *testing.T) {
	table := NewCapabilityTable()

	t.Run("app that hashes internally gets the raw message", func(t *testing.T) {
		payload := PrepareForDelegatedEthSign(table, types.PeerDescriptor{Name: "MetaMask"}, "hello")
		assert.Equal(t, "hello", payload)
	})

	t.Run("unknown app gets the precomputed digest", func(t *testing.T) {
		payload := PrepareForDelegatedEthSign(table, types.PeerDescriptor{Name: "some new wallet"}, "hello")
		assert.Equal(t, "0x"+common.Bytes2Hex(PersonalMessageDigest("hello")), payload)
	})

	t.Run("behavior overrides", func(t *testing.T) {
		table.Set("Some New Wallet", BehaviorHashesInternally)
		payload := PrepareForDelegatedEthSign(table, types.PeerDescriptor{Name: "some new wallet"}, "hello")
		assert.Equal(t, "hello", payload)
	})
}
