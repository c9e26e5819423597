package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/domainwallet/walletcore/pkg/types"
)

// MemoryRepository is an in-memory Repository for tests and development.
type MemoryRepository struct {
	mu       sync.Mutex
	sessions map[string]*types.Session
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: make(map[string]*types.Session)}
}

func cloneSession(s *types.Session) *types.Session {
	out := *s
	out.Namespaces = make(map[string]types.Namespace, len(s.Namespaces))
	for k, v := range s.Namespaces {
		out.Namespaces[k] = v
	}
	return &out
}

// Save stores a copy of the session.
func (r *MemoryRepository) Save(ctx context.Context, session *types.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.Topic] = cloneSession(session)
	return nil
}

// FindByTopic returns the session for a topic, or nil.
func (r *MemoryRepository) FindByTopic(ctx context.Context, topic string) (*types.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[topic]
	if !ok {
		return nil, nil
	}
	return cloneSession(session), nil
}

// FindByAddress returns sessions covering the normalized address.
func (r *MemoryRepository) FindByAddress(ctx context.Context, address string) ([]*types.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	address = types.NormalizeAddress(address)
	var out []*types.Session
	for _, session := range r.sessions {
		if session.HasAddress(address) {
			out = append(out, cloneSession(session))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out, nil
}

// All returns every stored session.
func (r *MemoryRepository) All(ctx context.Context) ([]*types.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Session
	for _, session := range r.sessions {
		out = append(out, cloneSession(session))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out, nil
}

// Remove deletes a session by topic.
func (r *MemoryRepository) Remove(ctx context.Context, topic string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, topic)
	return nil
}
