// Package pairing drives connection attempts with external signer
// apps: URI-based pairing, namespace negotiation, user confirmation,
// settlement and asynchronous teardown.
package pairing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/domainwallet/walletcore/internal/logger"
	"github.com/domainwallet/walletcore/internal/registry"
	apperrors "github.com/domainwallet/walletcore/pkg/errors"
	"github.com/domainwallet/walletcore/pkg/types"
)

// State is the position of a connection attempt in its lifecycle.
type State int

const (
	StateIdle State = iota
	StatePairing
	StateProposalReceived
	StateAwaitingConfirmation
	StateApproved
	StateSettling
	StateSettled
	StateRejected
	StateTimedOut
	StateFailed
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePairing:
		return "pairing"
	case StateProposalReceived:
		return "proposal_received"
	case StateAwaitingConfirmation:
		return "awaiting_confirmation"
	case StateApproved:
		return "approved"
	case StateSettling:
		return "settling"
	case StateSettled:
		return "settled"
	case StateRejected:
		return "rejected"
	case StateTimedOut:
		return "timed_out"
	case StateFailed:
		return "failed"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Proposal is a session proposal received from a remote peer.
type Proposal struct {
	ID                  string
	PairingTopic        string
	Proposer            types.PeerDescriptor
	RequestedNamespaces map[string]types.Namespace
}

// Chains returns the chain identifiers the proposal requests.
func (p *Proposal) Chains() []string {
	var chains []string
	for chain := range p.RequestedNamespaces {
		chains = append(chains, chain)
	}
	return chains
}

// Confirmer is the UI collaborator that asks the user to approve a
// connection.
type Confirmer interface {
	ConfirmConnection(ctx context.Context, proposal *Proposal, domain, address string) (bool, error)
}

// Protocol is the transport collaborator driving the handshake wire
// exchange.
type Protocol interface {
	Pair(ctx context.Context, uri *PairingURI) error
	Approve(ctx context.Context, proposalID string, namespaces map[string]types.Namespace) error
	Reject(ctx context.Context, proposalID, reason string) error
	Disconnect(ctx context.Context, topic string) error
}

// ConnectionResult reports the outcome of a connection attempt.
type ConnectionResult struct {
	App *types.ConnectedApp
	Err error
}

// Clock is an injectable time source.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// NewRealClock returns the default clock.
func NewRealClock() Clock { return realClock{} }

// Engine is the pairing/proposal state machine. All event handlers are
// serialized, so deletion and settlement events for the same topic are
// applied in arrival order.
type Engine struct {
	mu sync.Mutex

	state     State
	protocol  Protocol
	confirmer Confirmer
	registry  *registry.Registry
	clock     Clock

	supported map[string]struct{}
	timeout   time.Duration
	deadline  time.Time

	// target of the in-flight attempt
	domain  string
	address string
	intent  *types.ConnectionIntent

	apps map[string]*types.ConnectedApp

	onResult          func(ConnectionResult)
	onAppDisconnected func(app *types.ConnectedApp)
}

// Config configures an Engine.
type Config struct {
	Protocol        Protocol
	Confirmer       Confirmer
	Registry        *registry.Registry
	Clock           Clock
	SupportedChains []string
	PairingTimeout  time.Duration
}

// NewEngine creates a pairing engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Protocol == nil {
		return nil, fmt.Errorf("protocol is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = NewRealClock()
	}
	if cfg.PairingTimeout <= 0 {
		cfg.PairingTimeout = time.Minute
	}

	supported := make(map[string]struct{}, len(cfg.SupportedChains))
	for _, chain := range cfg.SupportedChains {
		supported[chain] = struct{}{}
	}

	return &Engine{
		state:     StateIdle,
		protocol:  cfg.Protocol,
		confirmer: cfg.Confirmer,
		registry:  cfg.Registry,
		clock:     cfg.Clock,
		supported: supported,
		timeout:   cfg.PairingTimeout,
		apps:      make(map[string]*types.ConnectedApp),
	}, nil
}

// OnResult registers the connection-result callback.
func (e *Engine) OnResult(fn func(ConnectionResult)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onResult = fn
}

// OnAppDisconnected registers the app-disconnected callback.
func (e *Engine) OnAppDisconnected(fn func(app *types.ConnectedApp)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onAppDisconnected = fn
}

// State returns the current state of the in-flight attempt.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Intent returns the active connection intent, or nil.
func (e *Engine) Intent() *types.ConnectionIntent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.intent
}

// BeginPairing initiates a handshake toward the app behind the URI,
// on behalf of the given domain/account.
func (e *Engine) BeginPairing(ctx context.Context, rawURI, domain, address string) error {
	uri, err := ParsePairingURI(rawURI)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.state = StatePairing
	e.domain = domain
	e.address = types.NormalizeAddress(address)
	e.deadline = e.clock.Now().Add(e.timeout)
	e.intent = nil
	e.mu.Unlock()

	if err := e.protocol.Pair(ctx, uri); err != nil {
		e.fail(ctx, fmt.Errorf("pairing failed: %w", err))
		return err
	}

	logger.Info(ctx, "pairing started", "topic", uri.Topic, "version", int(uri.Version), "domain", domain)
	return nil
}

// OnProposalReceived handles a session proposal from the remote peer.
// Proposals requesting chains outside the supported set are rejected
// automatically.
func (e *Engine) OnProposalReceived(ctx context.Context, proposal *Proposal) error {
	e.mu.Lock()
	e.state = StateProposalReceived
	confirmer := e.confirmer
	domain, address := e.domain, e.address
	e.mu.Unlock()

	if unsupported := e.unsupportedChains(proposal); len(unsupported) > 0 {
		err := apperrors.UnsupportedNetwork(fmt.Sprintf("%v", unsupported))
		if rejectErr := e.protocol.Reject(ctx, proposal.ID, apperrors.ErrCodeUnsupportedNetwork); rejectErr != nil {
			logger.Warn(ctx, "failed to reject proposal", "proposal_id", proposal.ID, "error", rejectErr)
		}
		e.finish(ctx, StateRejected, ConnectionResult{Err: err})
		return err
	}

	if confirmer == nil {
		// Programmer error: fail loudly instead of degrading silently.
		err := apperrors.UiHandlerNotConfigured()
		e.finish(ctx, StateFailed, ConnectionResult{Err: err})
		return err
	}

	e.mu.Lock()
	e.state = StateAwaitingConfirmation
	e.mu.Unlock()

	approved, err := confirmer.ConfirmConnection(ctx, proposal, domain, address)
	if err != nil || !approved {
		rejection := apperrors.UserRejected()
		if rejectErr := e.protocol.Reject(ctx, proposal.ID, apperrors.ErrCodeUserRejected); rejectErr != nil {
			logger.Warn(ctx, "failed to reject proposal", "proposal_id", proposal.ID, "error", rejectErr)
		}
		e.finish(ctx, StateRejected, ConnectionResult{Err: rejection})
		return rejection
	}

	e.mu.Lock()
	e.state = StateApproved
	e.intent = &types.ConnectionIntent{
		Domain:     domain,
		Address:    address,
		Namespaces: proposal.RequestedNamespaces,
		Proposer:   proposal.Proposer,
		CreatedAt:  e.clock.Now(),
	}
	e.mu.Unlock()

	if err := e.protocol.Approve(ctx, proposal.ID, proposal.RequestedNamespaces); err != nil {
		e.fail(ctx, fmt.Errorf("approval failed: %w", err))
		return err
	}

	e.mu.Lock()
	e.state = StateSettling
	e.mu.Unlock()
	return nil
}

func (e *Engine) unsupportedChains(proposal *Proposal) []string {
	var unsupported []string
	for _, chain := range proposal.Chains() {
		if _, ok := e.supported[chain]; !ok {
			unsupported = append(unsupported, chain)
		}
	}
	return unsupported
}

// OnSettled handles a settled session. When a connection intent
// matches the proposer, a ConnectedApp is materialized; an unsolicited
// settlement registers the session directly. The intent is cleared
// unconditionally.
func (e *Engine) OnSettled(ctx context.Context, session *types.Session) error {
	if err := e.registry.Save(ctx, session); err != nil {
		e.fail(ctx, fmt.Errorf("failed to register session: %w", err))
		return err
	}

	e.mu.Lock()
	intent := e.intent
	e.intent = nil
	e.state = StateSettled

	var app *types.ConnectedApp
	if intent != nil && intent.Proposer.Name == session.Peer.Name {
		app = &types.ConnectedApp{
			Session:       *session,
			WalletAddress: intent.Address,
			Domain:        intent.Domain,
		}
		e.apps[session.Topic] = app
	}
	onResult := e.onResult
	e.mu.Unlock()

	if app != nil {
		logger.Info(ctx, "session settled", "topic", session.Topic, "domain", app.Domain)
		if onResult != nil {
			onResult(ConnectionResult{App: app})
		}
	} else {
		logger.Info(ctx, "unsolicited session registered", "topic", session.Topic, "peer", session.Peer.Name)
	}
	return nil
}

// OnSessionDeleted handles a remote- or locally-initiated session
// deletion. Unknown topics are logged and ignored so teardown stays
// idempotent.
func (e *Engine) OnSessionDeleted(ctx context.Context, topic string) error {
	e.mu.Lock()
	app, isApp := e.apps[topic]
	if isApp {
		delete(e.apps, topic)
		if e.state == StateSettled {
			e.state = StateDisconnected
		}
	}
	onAppDisconnected := e.onAppDisconnected
	e.mu.Unlock()

	if isApp {
		if err := e.registry.Remove(ctx, topic); err != nil {
			return err
		}
		logger.Info(ctx, "connected app removed", "topic", topic, "domain", app.Domain)
		if onAppDisconnected != nil {
			onAppDisconnected(app)
		}
		return nil
	}

	session, err := e.registry.FindByTopic(ctx, topic)
	if err != nil {
		return err
	}
	if session == nil {
		logger.Warn(ctx, "deletion for unknown topic", "topic", topic)
		return nil
	}
	if err := e.registry.Remove(ctx, topic); err != nil {
		return err
	}
	logger.Info(ctx, "session removed", "topic", topic)
	return nil
}

// Disconnect tears down a session explicitly.
func (e *Engine) Disconnect(ctx context.Context, topic string) error {
	if err := e.protocol.Disconnect(ctx, topic); err != nil {
		logger.Warn(ctx, "protocol disconnect failed", "topic", topic, "error", err)
	}
	return e.OnSessionDeleted(ctx, topic)
}

// ExpirePending fails the in-flight attempt when its deadline has
// passed without settlement. Called periodically by the owner.
func (e *Engine) ExpirePending(ctx context.Context) {
	e.mu.Lock()
	pending := e.state == StatePairing || e.state == StateProposalReceived ||
		e.state == StateAwaitingConfirmation || e.state == StateApproved || e.state == StateSettling
	expired := pending && e.clock.Now().After(e.deadline)
	e.mu.Unlock()

	if !expired {
		return
	}
	logger.Warn(ctx, "pairing deadline passed before settlement")
	e.finish(ctx, StateTimedOut, ConnectionResult{Err: apperrors.ConnectionTimeout()})
}

// ConnectedApps returns the current app-level connections.
func (e *Engine) ConnectedApps() []*types.ConnectedApp {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*types.ConnectedApp, 0, len(e.apps))
	for _, app := range e.apps {
		out = append(out, app)
	}
	return out
}

// AppsForAddress returns connected apps bound to the wallet address.
func (e *Engine) AppsForAddress(address string) []*types.ConnectedApp {
	address = types.NormalizeAddress(address)
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*types.ConnectedApp
	for _, app := range e.apps {
		if types.NormalizeAddress(app.WalletAddress) == address {
			out = append(out, app)
		}
	}
	return out
}

func (e *Engine) fail(ctx context.Context, err error) {
	logger.Error(ctx, "pairing failed", "error", err)
	e.finish(ctx, StateFailed, ConnectionResult{Err: err})
}

// finish moves to a terminal state, clears the intent and reports the
// outcome.
func (e *Engine) finish(ctx context.Context, state State, result ConnectionResult) {
	e.mu.Lock()
	e.state = state
	e.intent = nil
	onResult := e.onResult
	e.mu.Unlock()

	if onResult != nil && result.Err != nil {
		onResult(result)
	}
}
