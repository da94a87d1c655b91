package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// StreamAdder is the subset of *redis.Client used by RedisSink.
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// RedisSink appends each record to the stream analytics:<type>.
type RedisSink struct {
	client StreamAdder
	maxLen int64
}

// NewRedisSink connects to redisURL (redis://[:password@]host:port/db).
func NewRedisSink(redisURL string, maxLen int64) (*RedisSink, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis URL required")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisSinkWithClient(client, maxLen), nil
}

// NewRedisSinkWithClient wraps an existing client. maxLen > 0 trims each
// stream approximately to that length.
func NewRedisSinkWithClient(client StreamAdder, maxLen int64) *RedisSink {
	return &RedisSink{client: client, maxLen: maxLen}
}

// StreamKey returns the stream a record type is written to.
func StreamKey(eventType string) string {
	return "analytics:" + eventType
}

func (s *RedisSink) Name() string { return BackendRedis }

func (s *RedisSink) Send(ctx context.Context, r Record) error {
	args := &redis.XAddArgs{
		Stream: StreamKey(r.EventType),
		Values: map[string]interface{}{
			"id":          r.ID.String(),
			"type":        r.EventType,
			"occurred_at": r.OccurredAt.UTC().Format(time.RFC3339Nano),
			"properties":  string(r.Properties),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", args.Stream, err)
	}
	return nil
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
