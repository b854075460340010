package occupancy

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cx-tal-miterani/parking-session-system/internal/models"
	"gopkg.in/guregu/null.v4"
)

// MemoryStore keeps spots in process. Used for local runs and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	spots map[models.SpotRef]*models.Spot
	now   func() time.Time
}

// NewMemoryStore creates a store provisioned with spots
func NewMemoryStore(spots ...models.Spot) *MemoryStore {
	s := &MemoryStore{
		spots: make(map[models.SpotRef]*models.Spot),
		now:   time.Now,
	}
	s.Provision(spots...)
	return s
}

// Provision adds or replaces spots. Structure provisioning is the only writer outside claim/release.
func (s *MemoryStore) Provision(spots ...models.Spot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, spot := range spots {
		sp := spot
		if sp.Type == "" {
			sp.Type = models.SpotTypeStandard
		}
		s.spots[sp.SpotRef] = &sp
	}
}

func (s *MemoryStore) Get(_ context.Context, ref models.SpotRef) (*models.Spot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	spot, ok := s.spots[ref]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *spot
	return &cp, nil
}

func (s *MemoryStore) Claim(_ context.Context, ref models.SpotRef, sessionID string, expectedVersion int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	spot, ok := s.spots[ref]
	if !ok {
		return 0, models.ErrNotFound
	}
	if spot.Version != expectedVersion || spot.Occupied {
		return 0, models.ErrConflict
	}

	spot.Occupied = true
	spot.ReservedBy = null.StringFrom(sessionID)
	spot.Version++
	spot.UpdatedAt = s.now()
	return spot.Version, nil
}

func (s *MemoryStore) Release(_ context.Context, ref models.SpotRef, expectedVersion int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	spot, ok := s.spots[ref]
	if !ok {
		return 0, models.ErrNotFound
	}
	if spot.Version != expectedVersion || !spot.Occupied {
		return 0, models.ErrConflict
	}

	spot.Occupied = false
	spot.ReservedBy = null.String{}
	spot.Version++
	spot.UpdatedAt = s.now()
	return spot.Version, nil
}

func (s *MemoryStore) ListFloor(_ context.Context, scope models.FloorScope) ([]models.Spot, error) {
	return s.collect(func(sp *models.Spot) bool { return scope.Contains(sp.SpotRef) }, 0), nil
}

func (s *MemoryStore) Candidates(_ context.Context, criteria models.AssignmentCriteria, limit int) ([]models.Spot, error) {
	return s.collect(func(sp *models.Spot) bool { return !sp.Occupied && criteria.Matches(*sp) }, limit), nil
}

func (s *MemoryStore) ListOccupied(_ context.Context) ([]models.Spot, error) {
	return s.collect(func(sp *models.Spot) bool { return sp.Occupied }, 0), nil
}

func (s *MemoryStore) collect(keep func(*models.Spot) bool, limit int) []models.Spot {
	s.mu.RLock()
	out := make([]models.Spot, 0)
	for _, sp := range s.spots {
		if keep(sp) {
			out = append(out, *sp)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].SpotRef.Less(out[j].SpotRef) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
