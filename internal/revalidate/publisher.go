// Package revalidate tells the presentation layer which rendered paths are stale.
package revalidate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pwardo/nextjs-threads/internal/logging"
	"github.com/redis/go-redis/v9"
)

// Channel is the pub/sub channel frontends subscribe to.
const Channel = "threads:revalidate"

const keyPrefix = "revalidate:"

// Publisher emits a fire-and-forget signal for a path. Implementations log
// failures instead of returning them.
type Publisher interface {
	Revalidate(ctx context.Context, path string)
}

// Signal is the message published on Channel.
type Signal struct {
	Path string    `json:"path"`
	At   time.Time `json:"at"`
}

// Noop is used when no cache layer is configured.
type Noop struct{}

func (Noop) Revalidate(context.Context, string) {}

// RedisPublisher publishes signals over Redis pub/sub and remembers the last
// revalidation time of each path.
type RedisPublisher struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisPublisher connects to redisURL and verifies the connection.
func NewRedisPublisher(redisURL string) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisPublisherWithClient(client), nil
}

// NewRedisPublisherWithClient wraps an existing client.
func NewRedisPublisherWithClient(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{
		client: client,
		ttl:    24 * time.Hour,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (p *RedisPublisher) Revalidate(ctx context.Context, path string) {
	if err := p.Publish(ctx, path); err != nil {
		logging.Log.WithError(err).WithField("path", path).Warn("revalidate failed")
	}
}

// Publish records and broadcasts one signal. Blank paths are ignored.
func (p *RedisPublisher) Publish(ctx context.Context, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}

	signal := Signal{Path: path, At: p.now()}
	payload, err := json.Marshal(signal)
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}

	if err := p.client.Set(ctx, keyPrefix+path, signal.At.Format(time.RFC3339Nano), p.ttl).Err(); err != nil {
		return fmt.Errorf("record revalidation: %w", err)
	}
	if err := p.client.Publish(ctx, Channel, payload).Err(); err != nil {
		return fmt.Errorf("publish revalidation: %w", err)
	}
	return nil
}

// LastRevalidated reports when path was last revalidated.
func (p *RedisPublisher) LastRevalidated(ctx context.Context, path string) (time.Time, bool, error) {
	raw, err := p.client.Get(ctx, keyPrefix+path).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("lookup revalidation: %w", err)
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse revalidation time: %w", err)
	}
	return at, true, nil
}

// Close closes the Redis connection
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// Ping checks if Redis is reachable
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
