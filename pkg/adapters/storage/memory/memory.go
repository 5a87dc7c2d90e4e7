// Package memory provides an in-memory session store for development
// and testing.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/clearstake/clearstake/internal/domain"
)

// SessionStore keeps sessions in a map guarded by a RWMutex. Sessions
// are copied on save and load so callers cannot mutate stored state
// through shared pointers.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

// NewSessionStore creates an empty in-memory session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*domain.Session),
	}
}

// Save stores a copy of the session keyed by its ID.
func (s *SessionStore) Save(ctx context.Context, session *domain.Session) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("session must have an ID")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[session.ID] = copySession(session)
	return nil
}

// Get returns a copy of the session with the given ID.
func (s *SessionStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	return copySession(session), nil
}

// Delete removes the session with the given ID. Deleting a missing
// session is not an error.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	return nil
}

// List returns copies of all stored sessions.
func (s *SessionStore) List(ctx context.Context) ([]*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, copySession(session))
	}
	return out, nil
}

func copySession(in *domain.Session) *domain.Session {
	out := *in
	if in.Rounds != nil {
		out.Rounds = make([]domain.Round, len(in.Rounds))
		copy(out.Rounds, in.Rounds)
	}
	return &out
}
