package occupancy

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cx-tal-miterani/parking-session-system/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ref(spot string) models.SpotRef {
	return models.SpotRef{StructureID: "garage-1", FloorID: "L1", SpotID: spot}
}

func provisioned() *MemoryStore {
	return NewMemoryStore(
		models.Spot{SpotRef: ref("A-02"), Organization: "acme"},
		models.Spot{SpotRef: ref("A-01"), Organization: "acme"},
		models.Spot{SpotRef: ref("B-01"), Organization: "acme", Type: models.SpotTypeEV},
	)
}

func TestMemoryStore_ClaimAndRelease(t *testing.T) {
	ctx := context.Background()
	store := provisioned()

	v, err := store.Claim(ctx, ref("A-01"), "sess-1", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	spot, err := store.Get(ctx, ref("A-01"))
	require.NoError(t, err)
	assert.True(t, spot.Occupied)
	assert.Equal(t, "sess-1", spot.ReservedBy.String)

	v, err = store.Release(ctx, ref("A-01"), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	spot, err = store.Get(ctx, ref("A-01"))
	require.NoError(t, err)
	assert.False(t, spot.Occupied)
	assert.False(t, spot.ReservedBy.Valid)
}

func TestMemoryStore_Conflicts(t *testing.T) {
	ctx := context.Background()
	store := provisioned()

	_, err := store.Claim(ctx, ref("A-01"), "sess-1", 7)
	assert.ErrorIs(t, err, models.ErrConflict, "stale version")

	_, err = store.Claim(ctx, ref("A-01"), "sess-1", 0)
	require.NoError(t, err)

	_, err = store.Claim(ctx, ref("A-01"), "sess-2", 1)
	assert.ErrorIs(t, err, models.ErrConflict, "already occupied")

	_, err = store.Release(ctx, ref("A-02"), 0)
	assert.ErrorIs(t, err, models.ErrConflict, "release of a free spot")

	_, err = store.Claim(ctx, ref("Z-99"), "sess-1", 0)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemoryStore_ConcurrentClaimsAtMostOneWins(t *testing.T) {
	ctx := context.Background()
	store := provisioned()

	var (
		wg      sync.WaitGroup
		success atomic.Int32
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Claim(ctx, ref("A-01"), "sess", 0); err == nil {
				success.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), success.Load())
}

func TestMemoryStore_CandidatesOrderedAndFiltered(t *testing.T) {
	ctx := context.Background()
	store := provisioned()
	_, err := store.Claim(ctx, ref("A-02"), "sess-1", 0)
	require.NoError(t, err)

	spots, err := store.Candidates(ctx, models.AssignmentCriteria{Organization: "acme"}, 0)
	require.NoError(t, err)
	require.Len(t, spots, 2)
	assert.Equal(t, "A-01", spots[0].SpotID)
	assert.Equal(t, "B-01", spots[1].SpotID)

	spots, err = store.Candidates(ctx, models.AssignmentCriteria{Organization: "acme", Type: models.SpotTypeEV}, 0)
	require.NoError(t, err)
	require.Len(t, spots, 1)
	assert.Equal(t, "B-01", spots[0].SpotID)

	spots, err = store.Candidates(ctx, models.AssignmentCriteria{Organization: "other"}, 0)
	require.NoError(t, err)
	assert.Empty(t, spots)
}

func TestReleaseFor(t *testing.T) {
	ctx := context.Background()
	store := provisioned()
	_, err := store.Claim(ctx, ref("A-01"), "sess-1", 0)
	require.NoError(t, err)

	released, err := ReleaseFor(ctx, store, ref("A-01"), "sess-2", 0)
	require.NoError(t, err)
	assert.False(t, released, "spot held by another session must stay claimed")

	released, err = ReleaseFor(ctx, store, ref("A-01"), "sess-1", 0)
	require.NoError(t, err)
	assert.True(t, released)

	released, err = ReleaseFor(ctx, store, ref("A-01"), "sess-1", 0)
	require.NoError(t, err)
	assert.False(t, released, "second release is a no-op")

	_, err = ReleaseFor(ctx, store, ref("Z-99"), "sess-1", 0)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

type sinkRecorder struct {
	mu    sync.Mutex
	diffs []models.OccupancyDiff
}

func (s *sinkRecorder) Publish(d models.OccupancyDiff) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.diffs = append(s.diffs, d)
}

func TestObserved_PublishesCommittedMutationsOnly(t *testing.T) {
	ctx := context.Background()
	sink := &sinkRecorder{}
	store := WithFeed(provisioned(), sink)

	_, err := store.Claim(ctx, ref("A-01"), "sess-1", 0)
	require.NoError(t, err)
	_, err = store.Claim(ctx, ref("A-01"), "sess-2", 0)
	require.ErrorIs(t, err, models.ErrConflict)
	_, err = store.Release(ctx, ref("A-01"), 1)
	require.NoError(t, err)

	assert.Equal(t, []models.OccupancyDiff{
		{Spot: ref("A-01"), Occupied: true, Version: 1},
		{Spot: ref("A-01"), Occupied: false, Version: 2},
	}, sink.diffs)
}
