package session

import (
	"context"
	"sync"
)

// Store persists session state for restart recovery. Implementations
// must tolerate being called after every transition.
type Store interface {
	// SaveSession upserts the session record.
	SaveSession(ctx context.Context, s *Session) error
	// LoadCurrent returns the session with status active or paused,
	// or nil when there is none.
	LoadCurrent(ctx context.Context) (*Session, error)
}

// MemStore is an in-memory Store for tests and storage-less deployments.
type MemStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{sessions: make(map[string]*Session)}
}

func (m *MemStore) SaveSession(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID.String()] = s.Clone()
	return nil
}

func (m *MemStore) LoadCurrent(_ context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.Status == StatusActive || s.Status == StatusPaused {
			return s.Clone(), nil
		}
	}
	return nil, nil
}
