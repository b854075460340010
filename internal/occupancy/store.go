// Package occupancy is the single source of truth for spot state.
// Every mutation is a compare-and-swap on the spot version; nothing else may flip occupied.
package occupancy

import (
	"context"
	"errors"
	"fmt"

	"github.com/cx-tal-miterani/parking-session-system/internal/models"
)

// DefaultReleaseAttempts bounds the re-read/retry loop of ReleaseFor
const DefaultReleaseAttempts = 5

// Store is the CAS-protected occupancy record.
// Claim and Release return models.ErrConflict when expectedVersion is stale (or the spot is in the
// wrong state for the operation) and models.ErrNotFound when the spot does not exist.
type Store interface {
	Get(ctx context.Context, ref models.SpotRef) (*models.Spot, error)
	Claim(ctx context.Context, ref models.SpotRef, sessionID string, expectedVersion int64) (int64, error)
	Release(ctx context.Context, ref models.SpotRef, expectedVersion int64) (int64, error)
	ListFloor(ctx context.Context, scope models.FloorScope) ([]models.Spot, error)
	// Candidates returns free spots matching criteria in ascending spot order
	Candidates(ctx context.Context, criteria models.AssignmentCriteria, limit int) ([]models.Spot, error)
	ListOccupied(ctx context.Context) ([]models.Spot, error)
}

// ReleaseFor frees ref if, and only if, it is still held by sessionID.
// It re-reads on conflict up to attempts times and reports whether this call released the spot.
func ReleaseFor(ctx context.Context, store Store, ref models.SpotRef, sessionID string, attempts int) (bool, error) {
	if attempts <= 0 {
		attempts = DefaultReleaseAttempts
	}

	for i := 0; i < attempts; i++ {
		spot, err := store.Get(ctx, ref)
		if err != nil {
			return false, err
		}
		if !spot.Occupied || spot.ReservedBy.String != sessionID {
			return false, nil
		}

		_, err = store.Release(ctx, ref, spot.Version)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, models.ErrConflict) {
			return false, err
		}
	}

	return false, fmt.Errorf("failed to release spot %s after %d attempts: %w", ref, attempts, models.ErrConflict)
}
