// Package reconcile releases spots whose session can no longer release them itself.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cx-tal-miterani/parking-session-system/internal/metrics"
	"github.com/cx-tal-miterani/parking-session-system/internal/models"
	"github.com/cx-tal-miterani/parking-session-system/internal/occupancy"
	"github.com/cx-tal-miterani/parking-session-system/internal/session"
)

// Sweeper finds occupied spots held by a terminal session, or by a session that was never
// persisted and is older than the reservation hold, and frees them through the CAS release path.
type Sweeper struct {
	spots    occupancy.Store
	sessions session.Store
	hold     time.Duration
	interval time.Duration
	now      func() time.Time
}

func NewSweeper(spots occupancy.Store, sessions session.Store, hold, interval time.Duration) *Sweeper {
	return &Sweeper{
		spots:    spots,
		sessions: sessions,
		hold:     hold,
		interval: interval,
		now:      time.Now,
	}
}

// Run sweeps every interval until ctx is cancelled
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Printf("Reconciliation sweeper running every %s", s.interval)
	for {
		select {
		case <-ctx.Done():
			log.Println("Reconciliation sweeper stopped")
			return
		case <-ticker.C:
			released, err := s.SweepOnce(ctx)
			if err != nil {
				log.Printf("Reconciliation sweep failed: %v", err)
				continue
			}
			if released > 0 {
				log.Printf("Reconciliation sweep released %d spot(s)", released)
			}
		}
	}
}

// SweepOnce returns how many spots it released
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	spots, err := s.spots.ListOccupied(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list occupied spots: %w", err)
	}

	released := 0
	for _, spot := range spots {
		orphaned, err := s.orphaned(ctx, spot)
		if err != nil {
			log.Printf("Reconciliation: skipping %s: %v", spot.SpotRef, err)
			continue
		}
		if !orphaned {
			continue
		}

		ok, err := occupancy.ReleaseFor(ctx, s.spots, spot.SpotRef, spot.ReservedBy.String, occupancy.DefaultReleaseAttempts)
		if err != nil {
			log.Printf("Reconciliation: failed to release %s: %v", spot.SpotRef, err)
			continue
		}
		if ok {
			released++
			metrics.SpotsReconciled.Inc()
			log.Printf("Reconciliation: released %s held by %s", spot.SpotRef, spot.ReservedBy.String)
		}
	}
	return released, nil
}

func (s *Sweeper) orphaned(ctx context.Context, spot models.Spot) (bool, error) {
	if !spot.ReservedBy.Valid {
		return false, nil
	}

	sess, err := s.sessions.Get(ctx, spot.ReservedBy.String)
	if errors.Is(err, models.ErrNotFound) {
		// claimed but the session never started; give RequestSession time to finish
		return s.now().Sub(spot.UpdatedAt) > s.hold, nil
	}
	if err != nil {
		return false, err
	}
	return sess.Status.Terminal(), nil
}
