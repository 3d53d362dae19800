package export

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"flowfire/internal/models/config"
)

// RedisStreamPublisher appends attempt records to a Redis stream. Collectors
// read the stream with XREAD/XREADGROUP at their own pace.
type RedisStreamPublisher struct {
	client *redis.Client
	stream string
}

func NewRedisStreamPublisher(ctx context.Context, cfg config.RedisConfig) (*RedisStreamPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisStreamPublisher{
		client: client,
		stream: cfg.Stream,
	}, nil
}

// NewRedisStreamPublisherWithClient wraps an existing client; the caller owns
// its lifecycle.
func NewRedisStreamPublisherWithClient(client *redis.Client, stream string) *RedisStreamPublisher {
	return &RedisStreamPublisher{client: client, stream: stream}
}

func (r *RedisStreamPublisher) Publish(ctx context.Context, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	return r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]any{
			"job_id":  rec.JobID,
			"attempt": rec.Attempt,
			"outcome": rec.Outcome,
			"record":  payload,
		},
	}).Err()
}

func (r *RedisStreamPublisher) Close() error {
	return r.client.Close()
}

var _ Publisher = (*RedisStreamPublisher)(nil)
