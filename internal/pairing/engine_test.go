package pairing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/domainwallet/walletcore/internal/registry"
	apperrors "github.com/domainwallet/walletcore/pkg/errors"
	"github.com/domainwallet/walletcore/pkg/types"
)

type fakeProtocol struct {
	mu          sync.Mutex
	paired      []string
	approved    []string
	rejected    []string
	disconnects []string
}

func (p *fakeProtocol) Pair(ctx context.Context, uri *PairingURI) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paired = append(p.paired, uri.Topic)
	return nil
}

func (p *fakeProtocol) Approve(ctx context.Context, proposalID string, _ map[string]types.Namespace) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.approved = append(p.approved, proposalID)
	return nil
}

func (p *fakeProtocol) Reject(ctx context.Context, proposalID, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejected = append(p.rejected, proposalID)
	return nil
}

func (p *fakeProtocol) Disconnect(ctx context.Context, topic string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnects = append(p.disconnects, topic)
	return nil
}

type fakeConfirmer struct {
	approve bool
	err     error
}

func (c *fakeConfirmer) ConfirmConnection(ctx context.Context, proposal *Proposal, domain, address string) (bool, error) {
	return c.approve, c.err
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

const walletAddr = "0x1234567890abcdef1234567890abcdef12345678"

func newTestEngine(t *testing.T, confirmer Confirmer) (*Engine, *fakeProtocol, *fakeClock, *registry.Registry) {
	t.Helper()

	protocol := &fakeProtocol{}
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	reg := registry.New(registry.NewMemoryRepository())

	engine, err := NewEngine(Config{
		Protocol:        protocol,
		Confirmer:       confirmer,
		Registry:        reg,
		Clock:           clock,
		SupportedChains: []string{"eip155:1", "eip155:137"},
		PairingTimeout:  time.Minute,
	})
	require.NoError(t, err)
	return engine, protocol, clock, reg
}

func testProposal() *Proposal {
	return &Proposal{
		ID:           "proposal-1",
		PairingTopic: "abc",
		Proposer:     types.PeerDescriptor{Name: "Remote Wallet", Origin: "https://wallet.example"},
		RequestedNamespaces: map[string]types.Namespace{
			"eip155:1": {
				Accounts: []string{"eip155:1:" + walletAddr},
				Methods:  []string{"personal_sign"},
			},
		},
	}
}

func settledSession(topic string) *types.Session {
	return &types.Session{
		Topic:        topic,
		PairingTopic: "abc",
		Peer:         types.PeerDescriptor{Name: "Remote Wallet"},
		Namespaces: map[string]types.Namespace{
			"eip155:1": {Accounts: []string{"eip155:1:" + walletAddr}},
		},
		Expiry: time.Unix(1_700_100_000, 0),
	}
}

func TestPairingHappyPath(t *testing.T) {
	ctx := context.Background()
	engine, protocol, _, reg := newTestEngine(t, &fakeConfirmer{approve: true})

	var results []ConnectionResult
	engine.OnResult(func(r ConnectionResult) { results = append(results, r) })

	require.NoError(t, engine.BeginPairing(ctx, "wc:abc@2?relay-protocol=irn&symKey=00", "mydomain.crypto", walletAddr))
	assert.Equal(t, []string{"abc"}, protocol.paired)

	require.NoError(t, engine.OnProposalReceived(ctx, testProposal()))
	assert.Equal(t, StateSettling, engine.State())
	assert.Equal(t, []string{"proposal-1"}, protocol.approved)

	intent := engine.Intent()
	require.NotNil(t, intent)
	assert.Equal(t, "mydomain.crypto", intent.Domain)
	assert.Equal(t, walletAddr, intent.Address)

	require.NoError(t, engine.OnSettled(ctx, settledSession("topic-1")))
	assert.Equal(t, StateSettled, engine.State())
	assert.Nil(t, engine.Intent(), "intent must be cleared after settlement")

	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	require.NotNil(t, results[0].App)
	assert.Equal(t, "mydomain.crypto", results[0].App.Domain)
	assert.Equal(t, walletAddr, results[0].App.WalletAddress)

	sessions, err := reg.FindSessions(ctx, walletAddr)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "topic-1", sessions[0].Topic)
}

func TestProposalUnsupportedChain(t *testing.T) {
	ctx := context.Background()
	engine, protocol, _, _ := newTestEngine(t, &fakeConfirmer{approve: true})

	require.NoError(t, engine.BeginPairing(ctx, "wc:abc@2?relay-protocol=irn", "mydomain.crypto", walletAddr))

	proposal := testProposal()
	proposal.RequestedNamespaces = map[string]types.Namespace{
		"eip155:9999": {Accounts: []string{"eip155:9999:" + walletAddr}},
	}

	err := engine.OnProposalReceived(ctx, proposal)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUnsupportedNetwork))
	assert.Equal(t, StateRejected, engine.State())
	assert.Nil(t, engine.Intent(), "no intent may persist after auto-reject")
	assert.Equal(t, []string{"proposal-1"}, protocol.rejected)
	assert.Empty(t, protocol.approved)
}

func TestProposalUserRejected(t *testing.T) {
	ctx := context.Background()

	t.Run("declined", func(t *testing.T) {
		engine, protocol, _, _ := newTestEngine(t, &fakeConfirmer{approve: false})
		require.NoError(t, engine.BeginPairing(ctx, "wc:abc@2?relay-protocol=irn", "d.crypto", walletAddr))

		err := engine.OnProposalReceived(ctx, testProposal())
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUserRejected))
		assert.Equal(t, StateRejected, engine.State())
		assert.Equal(t, []string{"proposal-1"}, protocol.rejected)
	})

	t.Run("confirmation error counts as rejection", func(t *testing.T) {
		engine, _, _, _ := newTestEngine(t, &fakeConfirmer{err: context.Canceled})
		require.NoError(t, engine.BeginPairing(ctx, "wc:abc@2?relay-protocol=irn", "d.crypto", walletAddr))

		err := engine.OnProposalReceived(ctx, testProposal())
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUserRejected))
	})
}

func TestProposalWithoutConfirmer(t *testing.T) {
	ctx := context.Background()
	engine, _, _, _ := newTestEngine(t, nil)

	require.NoError(t, engine.BeginPairing(ctx, "wc:abc@2?relay-protocol=irn", "d.crypto", walletAddr))
	err := engine.OnProposalReceived(ctx, testProposal())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUiHandlerNotConfigured))
	assert.Equal(t, StateFailed, engine.State())
}

func TestPairingTimeout(t *testing.T) {
	ctx := context.Background()
	engine, _, clock, _ := newTestEngine(t, &fakeConfirmer{approve: true})

	var results []ConnectionResult
	engine.OnResult(func(r ConnectionResult) { results = append(results, r) })

	require.NoError(t, engine.BeginPairing(ctx, "wc:abc@2?relay-protocol=irn", "d.crypto", walletAddr))
	require.NoError(t, engine.OnProposalReceived(ctx, testProposal()))
	require.NotNil(t, engine.Intent())

	// Deadline not yet passed: nothing happens.
	engine.ExpirePending(ctx)
	assert.Equal(t, StateSettling, engine.State())

	clock.Advance(2 * time.Minute)
	engine.ExpirePending(ctx)

	assert.Equal(t, StateTimedOut, engine.State())
	assert.Nil(t, engine.Intent(), "timeout must clear the pending intent")
	require.Len(t, results, 1)
	assert.True(t, apperrors.HasCode(results[0].Err, apperrors.ErrCodeConnectionTimeout))
}

func TestUnsolicitedSettlement(t *testing.T) {
	ctx := context.Background()
	engine, _, _, reg := newTestEngine(t, &fakeConfirmer{approve: true})

	// No BeginPairing, no intent: a remote wallet connected to us.
	require.NoError(t, engine.OnSettled(ctx, settledSession("topic-x")))

	assert.Empty(t, engine.ConnectedApps())
	session, err := reg.FindByTopic(ctx, "topic-x")
	require.NoError(t, err)
	require.NotNil(t, session)
}

func TestOnSessionDeleted(t *testing.T) {
	ctx := context.Background()
	engine, _, _, reg := newTestEngine(t, &fakeConfirmer{approve: true})

	var disconnected []*types.ConnectedApp
	engine.OnAppDisconnected(func(app *types.ConnectedApp) { disconnected = append(disconnected, app) })

	require.NoError(t, engine.BeginPairing(ctx, "wc:abc@2?relay-protocol=irn", "d.crypto", walletAddr))
	require.NoError(t, engine.OnProposalReceived(ctx, testProposal()))
	require.NoError(t, engine.OnSettled(ctx, settledSession("topic-1")))
	require.Len(t, engine.ConnectedApps(), 1)

	t.Run("connected app removed first", func(t *testing.T) {
		require.NoError(t, engine.OnSessionDeleted(ctx, "topic-1"))
		assert.Equal(t, StateDisconnected, engine.State())
		assert.Empty(t, engine.ConnectedApps())
		require.Len(t, disconnected, 1)
		assert.Equal(t, "d.crypto", disconnected[0].Domain)

		session, err := reg.FindByTopic(ctx, "topic-1")
		require.NoError(t, err)
		assert.Nil(t, session)
	})

	t.Run("raw registry session", func(t *testing.T) {
		require.NoError(t, engine.OnSettled(ctx, settledSession("topic-2")))
		require.NoError(t, engine.OnSessionDeleted(ctx, "topic-2"))

		session, err := reg.FindByTopic(ctx, "topic-2")
		require.NoError(t, err)
		assert.Nil(t, session)
	})

	t.Run("unknown topic is idempotent", func(t *testing.T) {
		assert.NoError(t, engine.OnSessionDeleted(ctx, "never-existed"))
	})
}
