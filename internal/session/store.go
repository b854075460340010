package session

import (
	"context"
	"sync"

	"github.com/cx-tal-miterani/parking-session-system/internal/models"
)

// Store persists session snapshots written by the session workflow.
// Save keeps the newest snapshot by UpdatedAt so retried writes cannot roll a session back.
type Store interface {
	Save(ctx context.Context, s *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
}

// MemoryStore is a Store for local runs and tests
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]models.Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]models.Session)}
}

func (m *MemoryStore) Save(_ context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.sessions[s.ID]; ok && cur.UpdatedAt.After(s.UpdatedAt) {
		return nil
	}
	m.sessions[s.ID] = *s
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &s, nil
}
