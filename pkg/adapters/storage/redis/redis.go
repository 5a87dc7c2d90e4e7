// Package redis provides a Redis-backed session store.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/clearstake/clearstake/internal/domain"
)

const keyPrefix = "clearstake:session:"

// SessionStore implements ports.SessionStore on top of Redis. Sessions
// are stored as JSON with a TTL so abandoned sessions eventually expire.
type SessionStore struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewSessionStore creates a new Redis session store.
func NewSessionStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *SessionStore {
	return &SessionStore{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// Save persists a session (ports.SessionStore interface)
func (s *SessionStore) Save(ctx context.Context, session *domain.Session) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("session must have an ID")
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := s.client.Set(ctx, sessionKey(session.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	return nil
}

// Get retrieves a session by ID (ports.SessionStore interface)
func (s *SessionStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	data, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session domain.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	return &session, nil
}

// Delete removes a session (ports.SessionStore interface)
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// List returns all stored sessions (ports.SessionStore interface)
func (s *SessionStore) List(ctx context.Context) ([]*domain.Session, error) {
	var (
		cursor   uint64
		sessions []*domain.Session
	)

	for {
		keys, next, err := s.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}

		for _, key := range keys {
			data, err := s.client.Get(ctx, key).Bytes()
			if err != nil {
				if err == redis.Nil {
					continue
				}
				return nil, fmt.Errorf("failed to get session: %w", err)
			}

			var session domain.Session
			if err := json.Unmarshal(data, &session); err != nil {
				s.logger.Warn("skipping malformed session",
					zap.String("key", key),
					zap.Error(err))
				continue
			}
			sessions = append(sessions, &session)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return sessions, nil
}

func sessionKey(id string) string {
	return keyPrefix + id
}
