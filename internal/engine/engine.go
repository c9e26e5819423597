// Package engine orchestrates wallet lifecycle and signing. It routes
// each signing request either to the local signing core or, for
// externally linked wallets, to the remote signer app over a live
// session.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/google/uuid"
	bip39 "github.com/tyler-smith/go-bip39"
	"golang.org/x/sync/errgroup"

	"github.com/domainwallet/walletcore/internal/derivation"
	"github.com/domainwallet/walletcore/internal/dispatch"
	"github.com/domainwallet/walletcore/internal/keystore"
	"github.com/domainwallet/walletcore/internal/logger"
	"github.com/domainwallet/walletcore/internal/pairing"
	"github.com/domainwallet/walletcore/internal/registry"
	"github.com/domainwallet/walletcore/internal/signing"
	apperrors "github.com/domainwallet/walletcore/pkg/errors"
	"github.com/domainwallet/walletcore/pkg/types"
)

const defaultMaxParallelSigns = 4

// Delegator sends a request to an external signer app and awaits its
// response. Implemented by dispatch.Correlator.
type Delegator interface {
	SendToAddress(ctx context.Context, address string, method types.RequestMethod, params json.RawMessage) (*dispatch.PendingRequest, error)
	Await(ctx context.Context, pr *dispatch.PendingRequest) (json.RawMessage, error)
}

// DomainDirectory answers whether a domain still exists. Sessions
// bound to vanished domains are dropped during reconciliation.
type DomainDirectory interface {
	Exists(ctx context.Context, domain string) (bool, error)
}

// SignRequest describes one signing operation. Exactly one payload
// field is meaningful for a given method.
type SignRequest struct {
	Method types.RequestMethod

	// Message for personal_sign and eth_sign.
	Message string

	// TypedData for eth_signTypedData.
	TypedData apitypes.TypedData

	// Transaction and ChainID for eth_signTransaction and
	// eth_sendTransaction.
	Transaction *signing.TransactionParams
	ChainID     int64
}

// Config carries the manager's collaborators.
type Config struct {
	Keystore     keystore.Store
	Capabilities *signing.CapabilityTable
	Pairing      *pairing.Engine
	Dispatcher   Delegator
	Registry     *registry.Registry
	Directory    DomainDirectory

	// MaxParallelSigns bounds local batch fan-out. Zero gets a default.
	MaxParallelSigns int
}

// Manager owns the wallet set and routes signing requests.
type Manager struct {
	mu      sync.RWMutex
	wallets map[string]*types.Wallet

	store        keystore.Store
	signer       *signing.Core
	capabilities *signing.CapabilityTable
	pairing      *pairing.Engine
	dispatcher   Delegator
	registry     *registry.Registry
	directory    DomainDirectory
	maxParallel  int
}

// NewManager validates the config and builds a manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Keystore == nil {
		return nil, fmt.Errorf("keystore is required")
	}
	if cfg.Capabilities == nil {
		cfg.Capabilities = signing.NewCapabilityTable()
	}
	if cfg.MaxParallelSigns <= 0 {
		cfg.MaxParallelSigns = defaultMaxParallelSigns
	}
	return &Manager{
		wallets:      make(map[string]*types.Wallet),
		store:        cfg.Keystore,
		signer:       signing.NewCore(cfg.Keystore),
		capabilities: cfg.Capabilities,
		pairing:      cfg.Pairing,
		dispatcher:   cfg.Dispatcher,
		registry:     cfg.Registry,
		directory:    cfg.Directory,
		maxParallel:  cfg.MaxParallelSigns,
	}, nil
}

// GenerateWallet creates a fresh HD wallet from new random entropy and
// returns it along with the seed phrase for the user to back up.
func (m *Manager) GenerateWallet(ctx context.Context) (*types.Wallet, string, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return nil, "", fmt.Errorf("generating entropy: %w", err)
	}
	phrase, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, "", fmt.Errorf("generating mnemonic: %w", err)
	}

	wallet, err := m.ImportSeedPhrase(ctx, phrase)
	if err != nil {
		return nil, "", err
	}
	return wallet, phrase, nil
}

// ImportPrivateKey registers a wallet backed by raw key bytes. The
// classification is fixed at creation.
func (m *Manager) ImportPrivateKey(ctx context.Context, keyBytes []byte) (*types.Wallet, error) {
	address, err := derivation.AddressFromPrivateKey(keyBytes)
	if err != nil {
		return nil, err
	}

	wallet := m.newWallet(address.Hex(), types.ClassificationLocalPrivateKey, "")
	if err := m.store.Put(ctx, wallet.Address, keyBytes); err != nil {
		return nil, fmt.Errorf("storing key material: %w", err)
	}
	m.register(wallet)
	logger.Info(ctx, "wallet imported", "address", wallet.Address, "classification", string(wallet.Classification))
	return wallet, nil
}

// ImportSeedPhrase registers a wallet backed by a BIP-39 seed phrase.
func (m *Manager) ImportSeedPhrase(ctx context.Context, phrase string) (*types.Wallet, error) {
	address, err := derivation.AddressFromSeedPhrase(phrase)
	if err != nil {
		return nil, err
	}

	wallet := m.newWallet(address.Hex(), types.ClassificationLocalHDSeed, "")
	if err := m.store.Put(ctx, wallet.Address, []byte(phrase)); err != nil {
		return nil, fmt.Errorf("storing seed phrase: %w", err)
	}
	m.register(wallet)
	logger.Info(ctx, "wallet imported", "address", wallet.Address, "classification", string(wallet.Classification))
	return wallet, nil
}

// LinkExternal registers a wallet whose signatures are produced by a
// remote signer app. No key material is stored.
func (m *Manager) LinkExternal(ctx context.Context, address, appName string) (*types.Wallet, error) {
	if !common.IsHexAddress(address) {
		return nil, apperrors.InvalidKeyMaterial("malformed address: " + address)
	}

	wallet := m.newWallet(common.HexToAddress(address).Hex(), types.ClassificationExternallyLinked, appName)
	m.register(wallet)
	logger.Info(ctx, "external wallet linked", "address", wallet.Address, "app", appName)
	return wallet, nil
}

// Wallet returns the wallet for an address, or nil.
func (m *Manager) Wallet(address string) *types.Wallet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.wallets[types.NormalizeAddress(address)]
}

// Wallets returns all registered wallets.
func (m *Manager) Wallets() []*types.Wallet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.Wallet, 0, len(m.wallets))
	for _, w := range m.wallets {
		out = append(out, w)
	}
	return out
}

// RemoveWallet purges the wallet's key material and tears down every
// session bound to its address.
func (m *Manager) RemoveWallet(ctx context.Context, address string) error {
	normalized := types.NormalizeAddress(address)

	m.mu.Lock()
	wallet, ok := m.wallets[normalized]
	if ok {
		delete(m.wallets, normalized)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	if err := m.store.Remove(ctx, wallet.Address); err != nil {
		return fmt.Errorf("removing key material: %w", err)
	}

	if m.registry != nil && m.pairing != nil {
		sessions, err := m.registry.FindSessions(ctx, normalized)
		if err != nil {
			return fmt.Errorf("looking up sessions for %s: %w", normalized, err)
		}
		for _, session := range sessions {
			if err := m.pairing.Disconnect(ctx, session.Topic); err != nil {
				logger.Warn(ctx, "failed to disconnect session", "topic", session.Topic, "error", err)
			}
		}
	}

	logger.Info(ctx, "wallet removed", "address", wallet.Address)
	return nil
}

// Sign produces one signature, routing by wallet classification.
func (m *Manager) Sign(ctx context.Context, address string, req *SignRequest) (string, error) {
	wallet := m.Wallet(address)
	if wallet == nil {
		return "", apperrors.SigningFailed("unknown wallet: " + address)
	}
	if !wallet.Classification.CanSign() {
		return "", apperrors.SigningFailed(fmt.Sprintf("wallet classification %s cannot sign", wallet.Classification))
	}

	if wallet.Classification == types.ClassificationExternallyLinked {
		return m.signDelegated(ctx, wallet, req)
	}
	return m.signLocal(ctx, wallet, req)
}

// SignMultiple produces one signature per request, in input order.
// Externally linked wallets are driven strictly sequentially, one
// confirmation at a time on the remote app. Local wallets fan out with
// bounded parallelism. A partial batch fails as a whole.
func (m *Manager) SignMultiple(ctx context.Context, address string, reqs []*SignRequest) ([]string, error) {
	wallet := m.Wallet(address)
	if wallet == nil {
		return nil, apperrors.SigningFailed("unknown wallet: " + address)
	}

	results := make([]string, len(reqs))

	if wallet.Classification == types.ClassificationExternallyLinked {
		for i, req := range reqs {
			sig, err := m.signDelegated(ctx, wallet, req)
			if err != nil {
				logger.Error(ctx, "batch signing aborted", "address", wallet.Address, "index", i, "error", err)
				return nil, apperrors.IncompleteSignatureSet(i, len(reqs))
			}
			results[i] = sig
		}
		return results, nil
	}

	if !wallet.Classification.IsLocal() {
		return nil, apperrors.SigningFailed(fmt.Sprintf("wallet classification %s cannot sign", wallet.Classification))
	}

	var completed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.maxParallel)
	for i, req := range reqs {
		g.Go(func() error {
			sig, err := m.signLocal(gctx, wallet, req)
			if err != nil {
				return err
			}
			results[i] = sig
			completed.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error(ctx, "batch signing aborted", "address", wallet.Address, "error", err)
		return nil, apperrors.IncompleteSignatureSet(int(completed.Load()), len(reqs))
	}
	return results, nil
}

// ReconcileSessions drops every connected app whose bound domain no
// longer exists in the directory.
func (m *Manager) ReconcileSessions(ctx context.Context) error {
	if m.directory == nil || m.pairing == nil {
		return nil
	}

	for _, app := range m.pairing.ConnectedApps() {
		exists, err := m.directory.Exists(ctx, app.Domain)
		if err != nil {
			return fmt.Errorf("checking domain %s: %w", app.Domain, err)
		}
		if exists {
			continue
		}
		logger.Warn(ctx, "dropping session for vanished domain", "domain", app.Domain, "topic", app.Session.Topic)
		if err := m.pairing.Disconnect(ctx, app.Session.Topic); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) signLocal(ctx context.Context, wallet *types.Wallet, req *SignRequest) (string, error) {
	switch req.Method {
	case types.MethodPersonalSign, types.MethodEthSign:
		return m.signer.SignPersonalMessage(ctx, wallet, req.Message)
	case types.MethodSignTypedData:
		return m.signer.SignTypedData(ctx, wallet, req.TypedData)
	case types.MethodSignTransaction, types.MethodSendTransaction:
		if req.Transaction == nil {
			return "", apperrors.InvalidTransaction("missing transaction payload")
		}
		return m.signer.SignTransaction(ctx, wallet, req.Transaction, req.ChainID)
	default:
		return "", apperrors.SigningFailed("unsupported method: " + string(req.Method))
	}
}

func (m *Manager) signDelegated(ctx context.Context, wallet *types.Wallet, req *SignRequest) (string, error) {
	if m.dispatcher == nil {
		return "", apperrors.SigningFailed("no dispatcher configured for delegated signing")
	}

	params, err := m.delegatedParams(wallet, req)
	if err != nil {
		return "", err
	}

	pr, err := m.dispatcher.SendToAddress(ctx, wallet.Address, req.Method, params)
	if err != nil {
		return "", err
	}
	payload, err := m.dispatcher.Await(ctx, pr)
	if err != nil {
		return "", err
	}

	var signature string
	if err := json.Unmarshal(payload, &signature); err != nil {
		return "", apperrors.SigningFailed("undecodable signature payload: " + err.Error())
	}
	return signature, nil
}

// delegatedParams builds the JSON-RPC positional params for a remote
// signing request.
func (m *Manager) delegatedParams(wallet *types.Wallet, req *SignRequest) (json.RawMessage, error) {
	switch req.Method {
	case types.MethodPersonalSign:
		return json.Marshal([]any{req.Message, wallet.Address})
	case types.MethodEthSign:
		peer := types.PeerDescriptor{Name: wallet.ExternalApp}
		payload := signing.PrepareForDelegatedEthSign(m.capabilities, peer, req.Message)
		return json.Marshal([]any{wallet.Address, payload})
	case types.MethodSignTypedData:
		return json.Marshal([]any{wallet.Address, req.TypedData})
	case types.MethodSignTransaction, types.MethodSendTransaction:
		if req.Transaction == nil {
			return nil, apperrors.InvalidTransaction("missing transaction payload")
		}
		return json.Marshal([]any{transactionObject(wallet.Address, req.Transaction)})
	default:
		return nil, apperrors.SigningFailed("unsupported method: " + string(req.Method))
	}
}

// transactionObject renders transaction params in the hex object form
// remote apps expect.
func transactionObject(from string, tx *signing.TransactionParams) map[string]any {
	obj := map[string]any{
		"from":  from,
		"nonce": hexutil.EncodeUint64(tx.Nonce),
		"gas":   hexutil.EncodeUint64(tx.Gas),
	}
	if tx.To != "" {
		obj["to"] = tx.To
	}
	if tx.GasPrice != nil {
		obj["gasPrice"] = hexutil.EncodeBig(tx.GasPrice)
	}
	if tx.MaxFeePerGas != nil {
		obj["maxFeePerGas"] = hexutil.EncodeBig(tx.MaxFeePerGas)
	}
	if tx.MaxPriorityFee != nil {
		obj["maxPriorityFeePerGas"] = hexutil.EncodeBig(tx.MaxPriorityFee)
	}
	if tx.Value != nil {
		obj["value"] = hexutil.EncodeBig(tx.Value)
	}
	if len(tx.Data) > 0 {
		obj["data"] = hexutil.Encode(tx.Data)
	}
	return obj
}

func (m *Manager) newWallet(address string, classification types.Classification, externalApp string) *types.Wallet {
	return &types.Wallet{
		ID:             uuid.New(),
		Address:        address,
		Classification: classification,
		ExternalApp:    externalApp,
		CreatedAt:      time.Now().UTC(),
	}
}

func (m *Manager) register(wallet *types.Wallet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wallets[types.NormalizeAddress(wallet.Address)] = wallet
}
