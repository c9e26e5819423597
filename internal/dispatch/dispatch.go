// Package dispatch correlates delegated requests sent to external
// signer apps with the asynchronous responses that come back over the
// relay.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/domainwallet/walletcore/internal/logger"
	"github.com/domainwallet/walletcore/internal/registry"
	"github.com/domainwallet/walletcore/internal/relay"
	apperrors "github.com/domainwallet/walletcore/pkg/errors"
	"github.com/domainwallet/walletcore/pkg/types"
)

// Peer error code meaning the remote user declined the request.
const peerCodeUserRejected = 4001

const (
	defaultTimeout   = 30 * time.Second
	defaultRateLimit = 5
	defaultRateBurst = 10
)

// LiveTopicSource reports which session topics the protocol layer
// currently considers settled. The registry is reconciled against this
// before every delegated request.
type LiveTopicSource interface {
	LiveTopics(ctx context.Context) ([]string, error)
}

type result struct {
	payload json.RawMessage
	err     error
}

// PendingRequest is an in-flight delegated request. It is resolved at
// most once: by a matching response, by its deadline, or by
// cancellation.
type PendingRequest struct {
	ID       string
	Topic    string
	Method   types.RequestMethod
	Deadline time.Time

	done chan result
}

// Config carries the correlator's collaborators.
type Config struct {
	Transport relay.Transport
	Registry  *registry.Registry
	Live      LiveTopicSource

	// Optional. Zero values get defaults.
	Clock     Clock
	Timeout   time.Duration
	RateLimit rate.Limit
	RateBurst int
	Metrics   *Metrics
}

// Correlator tracks pending delegated requests in a table keyed by
// request ID and matches incoming responses against it.
type Correlator struct {
	transport relay.Transport
	registry  *registry.Registry
	live      LiveTopicSource
	clock     Clock
	timeout   time.Duration
	limiter   *rate.Limiter
	metrics   *Metrics

	mu      sync.Mutex
	pending map[string]*PendingRequest
}

// NewCorrelator validates the config and builds a correlator.
func NewCorrelator(cfg Config) (*Correlator, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = NewRealClock()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = defaultRateBurst
	}
	return &Correlator{
		transport: cfg.Transport,
		registry:  cfg.Registry,
		live:      cfg.Live,
		clock:     cfg.Clock,
		timeout:   cfg.Timeout,
		limiter:   rate.NewLimiter(cfg.RateLimit, cfg.RateBurst),
		metrics:   cfg.Metrics,
		pending:   make(map[string]*PendingRequest),
	}, nil
}

// Run consumes the transport's response channel until it closes or ctx
// is canceled. Intended to run in its own goroutine.
func (c *Correlator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case resp, ok := <-c.transport.Responses():
			if !ok {
				return
			}
			c.OnResponse(ctx, resp)
		}
	}
}

// SendToAddress resolves a live session for the address and publishes
// the request on its topic. The registry is reconciled against the
// protocol layer first, so requests never go out on a dead session.
func (c *Correlator) SendToAddress(ctx context.Context, address string, method types.RequestMethod, params json.RawMessage) (*PendingRequest, error) {
	sessions, err := c.registry.FindSessions(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("looking up sessions for %s: %w", address, err)
	}

	if c.live != nil {
		liveTopics, err := c.live.LiveTopics(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetching live topics: %w", err)
		}
		sessions, err = c.registry.FilterLive(ctx, sessions, liveTopics)
		if err != nil {
			return nil, err
		}
	}

	if len(sessions) == 0 {
		return nil, apperrors.NoActiveSession(address)
	}
	return c.Send(ctx, sessions[0].Topic, method, params)
}

// Send registers a pending entry and publishes the request. The
// returned PendingRequest must be resolved with Await or Cancel.
func (c *Correlator) Send(ctx context.Context, topic string, method types.RequestMethod, params json.RawMessage) (*PendingRequest, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	pr := &PendingRequest{
		ID:       uuid.NewString(),
		Topic:    topic,
		Method:   method,
		Deadline: c.clock.Now().Add(c.timeout),
		done:     make(chan result, 1),
	}

	c.mu.Lock()
	c.pending[pr.ID] = pr
	c.mu.Unlock()
	c.metrics.incPending()

	err := c.transport.Publish(ctx, &relay.Request{
		ID:     pr.ID,
		Topic:  topic,
		Method: method,
		Params: params,
	})
	if err != nil {
		c.take(pr.ID)
		return nil, fmt.Errorf("publishing request %s: %w", pr.ID, err)
	}

	c.metrics.incSent(string(method))
	logger.Info(ctx, "delegated request sent",
		"request_id", pr.ID, "topic", topic, "method", string(method))
	return pr, nil
}

// OnResponse resolves the matching pending request. Responses with no
// matching entry, including late arrivals after a timeout, are logged
// and dropped without side effects.
func (c *Correlator) OnResponse(ctx context.Context, resp *relay.Response) {
	pr := c.take(resp.ID)
	if pr == nil {
		c.metrics.incDropped()
		logger.Warn(ctx, "dropping response with no pending request", "request_id", resp.ID)
		return
	}

	if resp.Error != nil {
		pr.done <- result{err: peerError(resp.Error)}
		return
	}
	pr.done <- result{payload: resp.Result}
}

// Await blocks until the request resolves, its deadline passes, or ctx
// is canceled. On timeout the pending entry is removed so a late
// response cannot resolve it.
func (c *Correlator) Await(ctx context.Context, pr *PendingRequest) (json.RawMessage, error) {
	remaining := pr.Deadline.Sub(c.clock.Now())
	if remaining <= 0 {
		return c.expire(ctx, pr)
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case res := <-pr.done:
		return res.payload, res.err
	case <-timer.C:
		return c.expire(ctx, pr)
	case <-ctx.Done():
		c.Cancel(ctx, pr)
		return nil, ctx.Err()
	}
}

// Cancel removes the pending entry and tells the remote side to drop
// the request. Remote delivery is best effort.
func (c *Correlator) Cancel(ctx context.Context, pr *PendingRequest) {
	if c.take(pr.ID) == nil {
		return
	}
	canceler, ok := c.transport.(relay.Canceler)
	if !ok {
		return
	}
	if err := canceler.CancelRequest(ctx, pr.Topic, pr.ID); err != nil {
		logger.Warn(ctx, "remote cancel failed", "request_id", pr.ID, "error", err)
	}
}

// PendingCount returns the number of in-flight requests.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// expire removes the entry and reports a timeout. If a response raced
// in and resolved the request first, that result wins.
func (c *Correlator) expire(ctx context.Context, pr *PendingRequest) (json.RawMessage, error) {
	if c.take(pr.ID) == nil {
		select {
		case res := <-pr.done:
			return res.payload, res.err
		default:
		}
	}
	c.metrics.incTimeout(string(pr.Method))
	logger.Warn(ctx, "delegated request timed out",
		"request_id", pr.ID, "topic", pr.Topic, "method", string(pr.Method))
	return nil, apperrors.RequestTimedOut(pr.ID)
}

// take removes and returns the pending entry for id, or nil.
func (c *Correlator) take(id string) *PendingRequest {
	c.mu.Lock()
	pr, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if ok {
		c.metrics.decPending()
	}
	return pr
}

func peerError(respErr *relay.ResponseError) error {
	if respErr.Code == peerCodeUserRejected {
		return apperrors.UserRejected()
	}
	return apperrors.SigningFailed(fmt.Sprintf("peer error %d: %s", respErr.Code, respErr.Message))
}
