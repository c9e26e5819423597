// Package registry tracks established sessions with external signer
// apps and reconciles them against the protocol layer's authoritative
// view of settled topics.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/domainwallet/walletcore/internal/logger"
	"github.com/domainwallet/walletcore/pkg/types"
)

// Repository persists sessions. Implemented by storage.SessionRepository
// for Postgres and by MemoryRepository for tests.
type Repository interface {
	Save(ctx context.Context, session *types.Session) error
	FindByTopic(ctx context.Context, topic string) (*types.Session, error)
	FindByAddress(ctx context.Context, address string) ([]*types.Session, error)
	All(ctx context.Context) ([]*types.Session, error)
	Remove(ctx context.Context, topic string) error
}

// StaleFunc is called when reconciliation purges a session, so that
// dependent app-level connections bound to the same address can be
// torn down.
type StaleFunc func(ctx context.Context, session *types.Session)

// Registry is the durable set of established sessions. Reads may run
// concurrently; writes are serialized.
type Registry struct {
	mu      sync.RWMutex
	repo    Repository
	onStale StaleFunc
}

// New creates a registry over the given repository.
func New(repo Repository) *Registry {
	return &Registry{repo: repo}
}

// OnStale registers the callback fired for sessions purged during
// reconciliation.
func (r *Registry) OnStale(fn StaleFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onStale = fn
}

// Save stores a session. Sessions with empty account namespaces are
// rejected. A second live session for an address already covered is
// tolerated but flagged.
func (r *Registry) Save(ctx context.Context, session *types.Session) error {
	if len(session.Namespaces) == 0 || len(session.Addresses()) == 0 {
		return fmt.Errorf("session %s has no account namespaces", session.Topic)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, address := range session.Addresses() {
		existing, err := r.repo.FindByAddress(ctx, address)
		if err != nil {
			return fmt.Errorf("failed to check existing sessions: %w", err)
		}
		for _, old := range existing {
			if old.Topic != session.Topic {
				logger.Warn(ctx, "address already bound to another session",
					"address", address, "existing_topic", old.Topic, "new_topic", session.Topic)
			}
		}
	}

	return r.repo.Save(ctx, session)
}

// FindSessions returns sessions whose namespaces include the address.
// Lookup is case-normalized.
func (r *Registry) FindSessions(ctx context.Context, address string) ([]*types.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.repo.FindByAddress(ctx, types.NormalizeAddress(address))
}

// FindByTopic returns the session for a topic, or nil.
func (r *Registry) FindByTopic(ctx context.Context, topic string) (*types.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.repo.FindByTopic(ctx, topic)
}

// All returns every registered session.
func (r *Registry) All(ctx context.Context) ([]*types.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.repo.All(ctx)
}

// Remove deletes a session by topic. Subsequent lookups will not
// return it.
func (r *Registry) Remove(ctx context.Context, topic string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.repo.Remove(ctx, topic)
}

// FilterLive intersects sessions with the protocol layer's
// authoritative list of currently settled topics. Sessions absent from
// the authoritative list are purged from the registry and reported via
// the stale callback. This reconciliation runs before every delegated
// request.
func (r *Registry) FilterLive(ctx context.Context, sessions []*types.Session, liveTopics []string) ([]*types.Session, error) {
	live := make(map[string]struct{}, len(liveTopics))
	for _, topic := range liveTopics {
		live[topic] = struct{}{}
	}

	r.mu.Lock()
	onStale := r.onStale
	var survivors []*types.Session
	var purged []*types.Session
	for _, session := range sessions {
		if _, ok := live[session.Topic]; ok {
			survivors = append(survivors, session)
			continue
		}
		logger.Warn(ctx, "purging stale session", "topic", session.Topic, "peer", session.Peer.Name)
		if err := r.repo.Remove(ctx, session.Topic); err != nil {
			r.mu.Unlock()
			return nil, fmt.Errorf("failed to purge stale session %s: %w", session.Topic, err)
		}
		purged = append(purged, session)
	}
	r.mu.Unlock()

	if onStale != nil {
		for _, session := range purged {
			onStale(ctx, session)
		}
	}
	return survivors, nil
}
