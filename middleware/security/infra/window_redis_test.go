package infra

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	client.FlushDB(ctx)
	t.Cleanup(func() {
		client.FlushDB(ctx)
		_ = client.Close()
	})
	return client
}

func TestRedisWindowStore_CountAddRoundtrip(t *testing.T) {
	s := NewRedisWindowStore(setupTestRedis(t))
	ctx := context.Background()
	now := time.Now()

	n, err := s.Count(ctx, "win", time.Minute, now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	require.NoError(t, s.Add(ctx, "win", "a", now, time.Minute))
	require.NoError(t, s.Add(ctx, "win", "b", now.Add(time.Millisecond), time.Minute))

	n, err = s.Count(ctx, "win", time.Minute, now.Add(2*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRedisWindowStore_CountPrunesOutsideWindow(t *testing.T) {
	s := NewRedisWindowStore(setupTestRedis(t))
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Add(ctx, "win", "old", now.Add(-2*time.Second), time.Minute))
	require.NoError(t, s.Add(ctx, "win", "fresh", now, time.Minute))

	n, err := s.Count(ctx, "win", time.Second, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "entry older than the window must be pruned")
}

func TestRedisWindowStore_ObserveDeduplicatesMembers(t *testing.T) {
	s := NewRedisWindowStore(setupTestRedis(t))
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 4; i++ {
		n, err := s.Observe(ctx, "div", "/same", time.Minute, now.Add(time.Duration(i)*time.Millisecond), time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	}

	n, err := s.Observe(ctx, "div", "/other", time.Minute, now.Add(time.Second), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRedisWindowStore_Oldest(t *testing.T) {
	s := NewRedisWindowStore(setupTestRedis(t))
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)

	_, ok, err := s.Oldest(ctx, "empty")
	require.NoError(t, err)
	assert.False(t, ok)

	first := now.Add(-10 * time.Second)
	require.NoError(t, s.Add(ctx, "win", "a", first, time.Minute))
	require.NoError(t, s.Add(ctx, "win", "b", now, time.Minute))

	at, ok, err := s.Oldest(ctx, "win")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first.UnixMilli(), at.UnixMilli())
}

func TestRedisBlockRegistry_BlockAndLazyExpiry(t *testing.T) {
	r := NewRedisBlockRegistry(setupTestRedis(t))
	ctx := context.Background()

	require.NoError(t, r.Block(ctx, "5.6.7.8", 5*time.Second, "rapid_requests"))

	rec, err := r.Lookup(ctx, "5.6.7.8")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "5.6.7.8", rec.IP)
	assert.Equal(t, "rapid_requests", rec.Reason)
	assert.Equal(t, 5*time.Second, rec.Duration)

	rec, err = r.Lookup(ctx, "unknown-ip")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRedisBlockRegistry_ExpiredRecordIsAbsent(t *testing.T) {
	r := NewRedisBlockRegistry(setupTestRedis(t))
	ctx := context.Background()

	require.NoError(t, r.Block(ctx, "5.6.7.8", 50*time.Millisecond, "test"))
	time.Sleep(80 * time.Millisecond)

	rec, err := r.Lookup(ctx, "5.6.7.8")
	require.NoError(t, err)
	assert.Nil(t, rec, "expired record must be treated as absent")
}
