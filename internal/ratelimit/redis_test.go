package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCounter(t *testing.T) (*RedisCounter, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c := NewRedisCounter(client, "test")
	c.Config(5, time.Minute)
	return c, mr
}

func TestRedisCounterCountsPerWindow(t *testing.T) {
	c, _ := newTestCounter(t)

	previous := time.Unix(1_700_000_000, 0).Truncate(time.Minute)
	current := previous.Add(time.Minute)

	require.NoError(t, c.IncrementBy("ip:1", previous, 3))
	require.NoError(t, c.Increment("ip:1", current))
	require.NoError(t, c.Increment("ip:1", current))

	cur, prev, err := c.Get("ip:1", current, previous)
	require.NoError(t, err)
	require.Equal(t, 2, cur)
	require.Equal(t, 3, prev)
}

func TestRedisCounterMissingKeysAreZero(t *testing.T) {
	c, _ := newTestCounter(t)

	now := time.Now().Truncate(time.Minute)
	cur, prev, err := c.Get("unknown", now, now.Add(-time.Minute))
	require.NoError(t, err)
	require.Zero(t, cur)
	require.Zero(t, prev)
}

func TestRedisCounterKeysExpire(t *testing.T) {
	c, mr := newTestCounter(t)

	now := time.Now().Truncate(time.Minute)
	require.NoError(t, c.Increment("ip:2", now))

	key := c.windowKey("ip:2", now)
	require.True(t, mr.Exists(key))
	require.Equal(t, 2*time.Minute, mr.TTL(key))

	mr.FastForward(3 * time.Minute)
	require.False(t, mr.Exists(key))
}

func TestRedisCounterSeparatesKeys(t *testing.T) {
	c, _ := newTestCounter(t)

	now := time.Now().Truncate(time.Minute)
	require.NoError(t, c.Increment("a", now))

	cur, _, err := c.Get("b", now, now.Add(-time.Minute))
	require.NoError(t, err)
	require.Zero(t, cur)
}

func TestRedisCounterUnavailable(t *testing.T) {
	c, mr := newTestCounter(t)
	mr.Close()

	err := c.Increment("ip:3", time.Now())
	require.Error(t, err)
}

func TestNewClientAndHealthCheck(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewClient(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	check := HealthCheck{Client: client}
	require.NoError(t, check.PingContext(context.Background()))

	mr.Close()
	require.Error(t, check.PingContext(context.Background()))
}

func TestNewClientFailsWhenUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewClient(context.Background(), addr, "", 0)
	require.Error(t, err)
}
