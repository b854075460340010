package feed

import (
	"sync"

	"github.com/cx-tal-miterani/parking-session-system/internal/models"
)

// Replica is a follower view of spot occupancy, last writer wins by version
type Replica struct {
	mu    sync.RWMutex
	spots map[models.SpotRef]models.OccupancyDiff
}

func NewReplica() *Replica {
	return &Replica{spots: make(map[models.SpotRef]models.OccupancyDiff)}
}

// Apply stores diff unless a diff with the same or a higher version was already applied.
// It reports whether the replica changed.
func (r *Replica) Apply(diff models.OccupancyDiff) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.spots[diff.Spot]; ok && cur.Version >= diff.Version {
		return false
	}
	r.spots[diff.Spot] = diff
	return true
}

// Get returns the latest applied state of ref
func (r *Replica) Get(ref models.SpotRef) (models.OccupancyDiff, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.spots[ref]
	return d, ok
}

// State copies the replica
func (r *Replica) State() map[models.SpotRef]models.OccupancyDiff {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[models.SpotRef]models.OccupancyDiff, len(r.spots))
	for k, v := range r.spots {
		out[k] = v
	}
	return out
}
