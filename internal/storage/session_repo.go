package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/domainwallet/walletcore/pkg/types"
)

// SessionRepository handles session persistence across process restarts.
type SessionRepository struct {
	store *Store
}

// NewSessionRepository creates a new SessionRepository
func NewSessionRepository(store *Store) *SessionRepository {
	return &SessionRepository{store: store}
}

// Save upserts a session. Renegotiated sessions are replaced wholesale,
// never partially mutated.
func (r *SessionRepository) Save(ctx context.Context, session *types.Session) error {
	namespaces, err := json.Marshal(session.Namespaces)
	if err != nil {
		return fmt.Errorf("failed to marshal namespaces: %w", err)
	}

	tx, err := r.store.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO sessions (topic, pairing_topic, peer_name, peer_origin, peer_icons, namespaces, expiry, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (topic) DO UPDATE SET
			pairing_topic = EXCLUDED.pairing_topic,
			peer_name = EXCLUDED.peer_name,
			peer_origin = EXCLUDED.peer_origin,
			peer_icons = EXCLUDED.peer_icons,
			namespaces = EXCLUDED.namespaces,
			expiry = EXCLUDED.expiry
	`
	_, err = tx.Exec(ctx, query,
		session.Topic,
		session.PairingTopic,
		session.Peer.Name,
		session.Peer.Origin,
		session.Peer.Icons,
		namespaces,
		session.Expiry,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM session_addresses WHERE topic = $1`, session.Topic); err != nil {
		return fmt.Errorf("failed to clear session addresses: %w", err)
	}
	for _, address := range session.Addresses() {
		_, err := tx.Exec(ctx,
			`INSERT INTO session_addresses (topic, address) VALUES ($1, $2)`,
			session.Topic, address,
		)
		if err != nil {
			return fmt.Errorf("failed to index session address: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit session save: %w", err)
	}
	return nil
}

// FindByTopic retrieves a session by topic. Returns nil when absent.
func (r *SessionRepository) FindByTopic(ctx context.Context, topic string) (*types.Session, error) {
	query := `
		SELECT topic, pairing_topic, peer_name, peer_origin, peer_icons, namespaces, expiry, created_at
		FROM sessions
		WHERE topic = $1
	`
	session, err := scanSession(r.store.pool.QueryRow(ctx, query, topic))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session by topic: %w", err)
	}
	return session, nil
}

// FindByAddress retrieves all sessions whose namespaces include the
// normalized address.
func (r *SessionRepository) FindByAddress(ctx context.Context, address string) ([]*types.Session, error) {
	query := `
		SELECT s.topic, s.pairing_topic, s.peer_name, s.peer_origin, s.peer_icons, s.namespaces, s.expiry, s.created_at
		FROM sessions s
		JOIN session_addresses sa ON sa.topic = s.topic
		WHERE sa.address = $1
		ORDER BY s.created_at DESC
	`
	rows, err := r.store.pool.Query(ctx, query, types.NormalizeAddress(address))
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions by address: %w", err)
	}
	defer rows.Close()

	return collectSessions(rows)
}

// All retrieves every persisted session.
func (r *SessionRepository) All(ctx context.Context) ([]*types.Session, error) {
	query := `
		SELECT topic, pairing_topic, peer_name, peer_origin, peer_icons, namespaces, expiry, created_at
		FROM sessions
		ORDER BY created_at DESC
	`
	rows, err := r.store.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	return collectSessions(rows)
}

// Remove deletes a session by topic. Removing a missing topic is not
// an error.
func (r *SessionRepository) Remove(ctx context.Context, topic string) error {
	if _, err := r.store.pool.Exec(ctx, `DELETE FROM sessions WHERE topic = $1`, topic); err != nil {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	return nil
}

func scanSession(row pgx.Row) (*types.Session, error) {
	var session types.Session
	var namespaces []byte
	err := row.Scan(
		&session.Topic,
		&session.PairingTopic,
		&session.Peer.Name,
		&session.Peer.Origin,
		&session.Peer.Icons,
		&namespaces,
		&session.Expiry,
		&session.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(namespaces, &session.Namespaces); err != nil {
		return nil, fmt.Errorf("failed to unmarshal namespaces: %w", err)
	}
	return &session, nil
}

func collectSessions(rows pgx.Rows) ([]*types.Session, error) {
	var sessions []*types.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("session rows error: %w", err)
	}
	return sessions, nil
}
