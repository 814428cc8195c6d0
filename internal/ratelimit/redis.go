// Package ratelimit provides an httprate.LimitCounter backed by Redis so that
// several server instances share one set of request windows.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
	"github.com/redis/go-redis/v9"
)

const defaultTimeout = 100 * time.Millisecond

var _ httprate.LimitCounter = (*RedisCounter)(nil)

// RedisCounter stores one integer key per (limit key, window start). Keys
// expire after two windows, which keeps the previous window readable for the
// sliding estimate httprate computes.
type RedisCounter struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration

	windowLength time.Duration
}

func NewRedisCounter(client redis.UniversalClient, prefix string) *RedisCounter {
	if prefix == "" {
		prefix = "samadhan:rl"
	}
	return &RedisCounter{
		client:  client,
		prefix:  prefix,
		timeout: defaultTimeout,
	}
}

func (c *RedisCounter) Config(requestLimit int, windowLength time.Duration) {
	c.windowLength = windowLength
}

func (c *RedisCounter) Increment(key string, currentWindow time.Time) error {
	return c.IncrementBy(key, currentWindow, 1)
}

func (c *RedisCounter) IncrementBy(key string, currentWindow time.Time, amount int) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	k := c.windowKey(key, currentWindow)
	pipe := c.client.TxPipeline()
	pipe.IncrBy(ctx, k, int64(amount))
	pipe.Expire(ctx, k, 2*c.windowLength)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("incrementing rate limit counter: %w", err)
	}
	return nil
}

func (c *RedisCounter) Get(key string, currentWindow, previousWindow time.Time) (int, int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	values, err := c.client.MGet(ctx, c.windowKey(key, currentWindow), c.windowKey(key, previousWindow)).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("reading rate limit counters: %w", err)
	}

	current, err := counterValue(values[0])
	if err != nil {
		return 0, 0, err
	}
	previous, err := counterValue(values[1])
	if err != nil {
		return 0, 0, err
	}
	return current, previous, nil
}

func (c *RedisCounter) windowKey(key string, window time.Time) string {
	return c.prefix + ":" + key + ":" + strconv.FormatInt(window.Unix(), 10)
}

func counterValue(v any) (int, error) {
	if v == nil {
		return 0, nil
	}
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("unexpected rate limit counter type %T", v)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("parsing rate limit counter: %w", err)
	}
	return n, nil
}

// NewClient connects to a Redis server and checks that it answers.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return client, nil
}

// HealthCheck exposes a client's PING as a context-aware check.
type HealthCheck struct {
	Client redis.UniversalClient
}

func (h HealthCheck) PingContext(ctx context.Context) error {
	return h.Client.Ping(ctx).Err()
}
