// Package assignment picks and atomically claims one free spot per request.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/cx-tal-miterani/parking-session-system/internal/metrics"
	"github.com/cx-tal-miterani/parking-session-system/internal/models"
	"github.com/cx-tal-miterani/parking-session-system/internal/occupancy"
)

// DefaultCandidateLimit caps how many candidates one listing returns
const DefaultCandidateLimit = 50

// maxBatches bounds how often one request lists candidates
const maxBatches = 2

// Assigner claims the first free spot, in ascending spot order, that it can win
type Assigner struct {
	store occupancy.Store
	limit int
}

// NewAssigner creates an assigner over store trying at most limit candidates
func NewAssigner(store occupancy.Store, limit int) *Assigner {
	if limit <= 0 {
		limit = DefaultCandidateLimit
	}
	return &Assigner{store: store, limit: limit}
}

// Assign claims a spot for sessionID. Each candidate is tried once; a lost race moves on to the
// next candidate. When a full batch is lost the free spots are listed once more, since every won
// race took its spot out of the free set; after that models.ErrNoAvailability is returned.
func (a *Assigner) Assign(ctx context.Context, criteria models.AssignmentCriteria, sessionID string) (*models.Spot, error) {
	tried := 0
	for batch := 0; batch < maxBatches; batch++ {
		candidates, err := a.store.Candidates(ctx, criteria, a.limit)
		if err != nil {
			return nil, fmt.Errorf("failed to list candidates: %w", err)
		}

		for _, c := range candidates {
			tried++
			version, err := a.store.Claim(ctx, c.SpotRef, sessionID, c.Version)
			switch {
			case err == nil:
				metrics.Assignments.WithLabelValues("assigned").Inc()
				metrics.AssignmentCandidatesTried.Observe(float64(tried))
				spot := c
				spot.Occupied = true
				spot.ReservedBy.SetValid(sessionID)
				spot.Version = version
				return &spot, nil
			case errors.Is(err, models.ErrConflict):
				continue
			case errors.Is(err, models.ErrNotFound):
				log.Printf("Candidate %s vanished during assignment", c.SpotRef)
				continue
			default:
				metrics.Assignments.WithLabelValues("error").Inc()
				return nil, fmt.Errorf("failed to claim %s: %w", c.SpotRef, err)
			}
		}

		if len(candidates) < a.limit {
			break
		}
	}

	metrics.Assignments.WithLabelValues("no_availability").Inc()
	metrics.AssignmentCandidatesTried.Observe(float64(tried))
	return nil, models.ErrNoAvailability
}
