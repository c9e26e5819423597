package relay

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/domainwallet/walletcore/internal/pairing"
	"github.com/domainwallet/walletcore/pkg/types"
)

// Control methods exchanged with the relay during the handshake.
const (
	methodPair       types.RequestMethod = "wallet_pair"
	methodApprove    types.RequestMethod = "wallet_approveSession"
	methodReject     types.RequestMethod = "wallet_rejectSession"
	methodDisconnect types.RequestMethod = "wallet_deleteSession"
)

// ProtocolClient drives the pairing handshake over the relay and
// tracks which topics the relay currently reports as settled. It is
// the authoritative liveness source for the dispatcher.
type ProtocolClient struct {
	transport Transport

	mu      sync.RWMutex
	settled map[string]struct{}
}

// NewProtocolClient wraps a transport.
func NewProtocolClient(transport Transport) *ProtocolClient {
	return &ProtocolClient{
		transport: transport,
		settled:   make(map[string]struct{}),
	}
}

// Pair publishes a pairing frame for the topic in the URI.
func (c *ProtocolClient) Pair(ctx context.Context, uri *pairing.PairingURI) error {
	params, err := json.Marshal(map[string]any{
		"relayProtocol": uri.RelayProtocol,
		"symKey":        uri.SymKey,
		"bridge":        uri.Bridge,
		"key":           uri.Key,
		"version":       int(uri.Version),
	})
	if err != nil {
		return err
	}
	return c.publish(ctx, uri.Topic, methodPair, params)
}

// Approve publishes session approval with the granted namespaces.
func (c *ProtocolClient) Approve(ctx context.Context, proposalID string, namespaces map[string]types.Namespace) error {
	params, err := json.Marshal(map[string]any{
		"proposalId": proposalID,
		"namespaces": namespaces,
	})
	if err != nil {
		return err
	}
	return c.publish(ctx, proposalID, methodApprove, params)
}

// Reject publishes session rejection with a reason code.
func (c *ProtocolClient) Reject(ctx context.Context, proposalID, reason string) error {
	params, err := json.Marshal(map[string]any{
		"proposalId": proposalID,
		"reason":     reason,
	})
	if err != nil {
		return err
	}
	return c.publish(ctx, proposalID, methodReject, params)
}

// Disconnect publishes session teardown and drops the topic from the
// settled set.
func (c *ProtocolClient) Disconnect(ctx context.Context, topic string) error {
	c.MarkDeleted(topic)
	return c.publish(ctx, topic, methodDisconnect, nil)
}

// MarkSettled records a topic as live. Called when the relay reports
// settlement.
func (c *ProtocolClient) MarkSettled(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settled[topic] = struct{}{}
}

// MarkDeleted drops a topic from the live set.
func (c *ProtocolClient) MarkDeleted(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.settled, topic)
}

// LiveTopics returns the topics currently reported settled.
func (c *ProtocolClient) LiveTopics(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.settled))
	for topic := range c.settled {
		out = append(out, topic)
	}
	return out, nil
}

func (c *ProtocolClient) publish(ctx context.Context, topic string, method types.RequestMethod, params json.RawMessage) error {
	return c.transport.Publish(ctx, &Request{
		ID:     uuid.NewString(),
		Topic:  topic,
		Method: method,
		Params: params,
	})
}
