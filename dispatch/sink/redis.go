package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/maxpert/logcursor/cfg"
	"github.com/maxpert/logcursor/dispatch"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultStreamMaxLen caps each worker stream, approximately
	DefaultStreamMaxLen = 100_000

	redisPublishTimeout = 5 * time.Second
)

func init() {
	dispatch.RegisterSink(cfg.SinkRedis, func(config cfg.SinkConfiguration) (dispatch.Sink, error) {
		if config.RedisAddress == "" {
			return nil, fmt.Errorf("redis sink requires redis_address")
		}
		client := redis.NewClient(&redis.Options{Addr: config.RedisAddress})
		return NewRedisStreamSink(client, config.RedisStreamLen), nil
	})
}

// RedisStreamSink appends jobs to Redis streams, one stream per worker
type RedisStreamSink struct {
	client redis.UniversalClient
	maxLen int64
}

// NewRedisStreamSink creates a sink on client; maxLen <= 0 selects DefaultStreamMaxLen
func NewRedisStreamSink(client redis.UniversalClient, maxLen int64) *RedisStreamSink {
	if maxLen <= 0 {
		maxLen = DefaultStreamMaxLen
	}
	return &RedisStreamSink{client: client, maxLen: maxLen}
}

// Publish adds one entry with key and payload fields to the stream named topic
func (r *RedisStreamSink) Publish(topic, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisPublishTimeout)
	defer cancel()

	err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"key":     key,
			"payload": value,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to add to stream %s: %w", topic, err)
	}
	return nil
}

// Close closes the Redis client
func (r *RedisStreamSink) Close() error {
	return r.client.Close()
}
