package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AnshulParate2004/ChunkSmith/internal/events"
	"github.com/AnshulParate2004/ChunkSmith/pkg/logger"
)

// Redis is a Bus backed by redis pub/sub, for deployments where the
// worker and the API server are separate processes. The latest event
// per job lives in a keyspace entry with a TTL.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	log    logger.Logger
}

func NewRedis(client *redis.Client, ttl time.Duration, log logger.Logger) *Redis {
	return &Redis{client: client, ttl: ttl, log: log.Named("bus")}
}

func latestKey(jobID string) string  { return fmt.Sprintf("progress:last:%s", jobID) }
func channelKey(jobID string) string { return fmt.Sprintf("progress:events:%s", jobID) }

func (r *Redis) Publish(ctx context.Context, jobID string, ev events.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := r.client.Set(ctx, latestKey(jobID), payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store latest event: %w", err)
	}

	if err := r.client.Publish(ctx, channelKey(jobID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func (r *Redis) Latest(ctx context.Context, jobID string) (events.Event, bool, error) {
	payload, err := r.client.Get(ctx, latestKey(jobID)).Bytes()
	if err == redis.Nil {
		return events.Event{}, false, nil
	}
	if err != nil {
		return events.Event{}, false, fmt.Errorf("failed to load latest event: %w", err)
	}

	var ev events.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return events.Event{}, false, fmt.Errorf("failed to unmarshal latest event: %w", err)
	}
	return ev, true, nil
}

func (r *Redis) Subscribe(ctx context.Context, jobID string) (<-chan events.Event, error) {
	sub := r.client.Subscribe(ctx, channelKey(jobID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan events.Event, 64)
	go func() {
		defer close(out)
		defer sub.Close()

		in := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				var ev events.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					r.log.Warn("dropping malformed event",
						logger.String("job_id", jobID),
						logger.Error(err))
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (r *Redis) Close() error { return r.client.Close() }
