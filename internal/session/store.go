package session

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrNotFound is returned for unknown session IDs.
	ErrNotFound = errors.New("session not found")
	// ErrForbidden is returned when a session exists but belongs to a
	// different user.
	ErrForbidden = errors.New("session belongs to another user")
	// ErrExists is returned when a session with the same ID already exists
	// (same owner starting two sessions within one second).
	ErrExists = errors.New("session already exists")
)

// Store is the session registry. Get performs the ownership check so callers
// can never read or advance another user's session. Save persists mutations
// for backends with external state; the in-memory backend treats it as a
// no-op since sessions are mutated in place.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id, ownerID string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
}

// MemoryStore keeps sessions in a mutex-guarded process-local map. This is
// the only cross-session shared structure; each session guards its own
// fields. State does not survive a restart, which is an accepted limitation
// of the in-memory backend.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func (m *MemoryStore) Create(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return ErrExists
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id, ownerID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if s.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	return s, nil
}

func (m *MemoryStore) Save(ctx context.Context, s *Session) error {
	// Sessions are mutated in place; nothing to persist.
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

// Len returns the number of live sessions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
