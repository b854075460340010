package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/cx-tal-miterani/parking-session-system/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultRedisChannel = "parking:occupancy"
	publishTimeout      = 2 * time.Second
)

// RedisRelay carries diffs between API nodes. Writers publish to Redis and every node,
// including the writer, feeds what it receives into its local Broker.
type RedisRelay struct {
	rdb     *redis.Client
	channel string
	local   *Broker
}

// NewRedisRelay creates a relay delivering into local
func NewRedisRelay(rdb *redis.Client, channel string, local *Broker) *RedisRelay {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisRelay{rdb: rdb, channel: channel, local: local}
}

// Publish sends diff to every node. If Redis is unreachable the diff is delivered locally
// only; remote subscribers converge on their next snapshot.
func (r *RedisRelay) Publish(diff models.OccupancyDiff) {
	payload, err := encodeDiff(diff)
	if err != nil {
		log.Printf("Failed to encode diff for %s: %v", diff.Spot, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := r.rdb.Publish(ctx, r.channel, payload).Err(); err != nil {
		log.Printf("Redis publish failed, delivering %s locally: %v", diff.Spot, err)
		r.local.Publish(diff)
	}
}

// Run forwards relayed diffs to the local broker until ctx is done
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.rdb.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}
	log.Printf("Relaying occupancy diffs from redis channel %s", r.channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			diff, err := decodeDiff([]byte(msg.Payload))
			if err != nil {
				log.Printf("Dropping malformed diff: %v", err)
				continue
			}
			r.local.Publish(diff)
		}
	}
}

func encodeDiff(diff models.OccupancyDiff) ([]byte, error) {
	return json.Marshal(diff)
}

func decodeDiff(b []byte) (models.OccupancyDiff, error) {
	var d models.OccupancyDiff
	if err := json.Unmarshal(b, &d); err != nil {
		return d, err
	}
	if d.Spot.SpotID == "" {
		return d, fmt.Errorf("diff without spot id")
	}
	return d, nil
}
