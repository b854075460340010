package occupancy

import (
	"context"
	"errors"

	"github.com/cx-tal-miterani/parking-session-system/internal/metrics"
	"github.com/cx-tal-miterani/parking-session-system/internal/models"
)

// DiffSink receives every successful occupancy mutation
type DiffSink interface {
	Publish(diff models.OccupancyDiff)
}

// Observed wraps a Store so every committed claim/release is emitted as a diff and counted
type Observed struct {
	Store
	sink DiffSink
}

// WithFeed decorates store with diff publication to sink
func WithFeed(store Store, sink DiffSink) *Observed {
	return &Observed{Store: store, sink: sink}
}

func (o *Observed) Claim(ctx context.Context, ref models.SpotRef, sessionID string, expectedVersion int64) (int64, error) {
	version, err := o.Store.Claim(ctx, ref, sessionID, expectedVersion)
	record("claim", err)
	if err != nil {
		return 0, err
	}
	o.sink.Publish(models.OccupancyDiff{Spot: ref, Occupied: true, Version: version})
	return version, nil
}

func (o *Observed) Release(ctx context.Context, ref models.SpotRef, expectedVersion int64) (int64, error) {
	version, err := o.Store.Release(ctx, ref, expectedVersion)
	record("release", err)
	if err != nil {
		return 0, err
	}
	o.sink.Publish(models.OccupancyDiff{Spot: ref, Occupied: false, Version: version})
	return version, nil
}

func record(op string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, models.ErrConflict):
		result = "conflict"
	case errors.Is(err, models.ErrNotFound):
		result = "not_found"
	default:
		result = "error"
	}
	metrics.OccupancyMutations.WithLabelValues(op, result).Inc()
}
