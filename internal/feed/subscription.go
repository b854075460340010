package feed

import (
	"context"
	"fmt"

	"github.com/cx-tal-miterani/parking-session-system/internal/models"
)

// Snapshotter reads the current state of a floor
type Snapshotter interface {
	ListFloor(ctx context.Context, scope models.FloorScope) ([]models.Spot, error)
}

// Event is one element of a subscription. Snapshot marks events replayed from a fresh snapshot.
type Event struct {
	models.OccupancyDiff
	Snapshot bool `json:"snapshot"`
}

// Subscription is a lazy, unbounded, restartable sequence of diffs for one floor.
// Nothing is read until the first Next. Whenever the live stream is lost the next call
// re-attaches and replays a full snapshot; callers must not assume gap-free delivery.
type Subscription struct {
	broker  *Broker
	source  Snapshotter
	scope   models.FloorScope
	live    *stream
	pending []models.OccupancyDiff
	resyncs int
}

// Subscribe prepares a subscription on scope whose snapshots come from source
func (b *Broker) Subscribe(scope models.FloorScope, source Snapshotter) *Subscription {
	return &Subscription{broker: b, source: source, scope: scope}
}

// Scope returns the subscribed floor
func (s *Subscription) Scope() models.FloorScope {
	return s.scope
}

// Resyncs counts how many times the subscription had to start over from a snapshot
func (s *Subscription) Resyncs() int {
	return s.resyncs
}

// Next blocks until the next event or ctx is done
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	for {
		if s.live == nil {
			if err := s.connect(ctx); err != nil {
				return Event{}, err
			}
		}

		if len(s.pending) > 0 {
			d := s.pending[0]
			s.pending = s.pending[1:]
			return Event{OccupancyDiff: d, Snapshot: true}, nil
		}

		select {
		case d, ok := <-s.live.ch:
			if !ok {
				s.live = nil
				s.resyncs++
				continue
			}
			return Event{OccupancyDiff: d}, nil
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// connect attaches to the live stream before reading the snapshot so no diff committed
// in between is lost; diffs already covered by the snapshot are filtered by version downstream.
func (s *Subscription) connect(ctx context.Context) error {
	live := s.broker.attach(s.scope)

	spots, err := s.source.ListFloor(ctx, s.scope)
	if err != nil {
		s.broker.detach(live)
		return fmt.Errorf("failed to snapshot %s: %w", s.scope, err)
	}

	s.pending = s.pending[:0]
	for _, spot := range spots {
		s.pending = append(s.pending, models.DiffOf(spot))
	}
	s.live = live
	return nil
}

// Close releases the live stream. A closed subscription may be reused; it reconnects on Next.
func (s *Subscription) Close() {
	if s.live != nil {
		s.broker.detach(s.live)
		s.live = nil
	}
	s.pending = nil
}
