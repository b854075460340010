// Package feed fans occupancy diffs out to subscribers with snapshot-then-diff semantics.
package feed

import (
	"log"
	"sync"

	"github.com/cx-tal-miterani/parking-session-system/internal/metrics"
	"github.com/cx-tal-miterani/parking-session-system/internal/models"
)

const DefaultBuffer = 256

// Broker delivers diffs to every live stream of the diff's floor.
// A stream that cannot keep up is closed; its subscription resynchronises from a fresh snapshot.
type Broker struct {
	mu      sync.RWMutex
	streams map[models.FloorScope]map[*stream]struct{}
	buffer  int
}

type stream struct {
	scope models.FloorScope
	ch    chan models.OccupancyDiff
}

// NewBroker creates a broker whose per-stream buffer holds buffer diffs
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broker{
		streams: make(map[models.FloorScope]map[*stream]struct{}),
		buffer:  buffer,
	}
}

// Publish never blocks the writer that committed the mutation
func (b *Broker) Publish(diff models.OccupancyDiff) {
	scope := diff.Spot.Scope()

	b.mu.RLock()
	var slow []*stream
	for st := range b.streams[scope] {
		select {
		case st.ch <- diff:
		default:
			slow = append(slow, st)
		}
	}
	b.mu.RUnlock()

	for _, st := range slow {
		if b.detach(st) {
			metrics.FeedDropped.Inc()
			log.Printf("Feed subscriber on %s fell behind, forcing resync", scope)
		}
	}
}

// Subscribers returns the number of live streams on scope
func (b *Broker) Subscribers(scope models.FloorScope) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.streams[scope])
}

func (b *Broker) attach(scope models.FloorScope) *stream {
	st := &stream{scope: scope, ch: make(chan models.OccupancyDiff, b.buffer)}

	b.mu.Lock()
	if b.streams[scope] == nil {
		b.streams[scope] = make(map[*stream]struct{})
	}
	b.streams[scope][st] = struct{}{}
	b.mu.Unlock()

	metrics.FeedSubscribers.Inc()
	return st
}

// detach removes st and closes its channel; it reports false if st was already gone
func (b *Broker) detach(st *stream) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.streams[st.scope]
	if !ok {
		return false
	}
	if _, ok := set[st]; !ok {
		return false
	}
	delete(set, st)
	if len(set) == 0 {
		delete(b.streams, st.scope)
	}
	close(st.ch)
	metrics.FeedSubscribers.Dec()
	return true
}
