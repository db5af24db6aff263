package redisclient

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests need a disposable Redis, e.g. REDIS_TEST_ADDR=localhost:6379.
func testClientOptions(t *testing.T) Options {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	return Options{Addr: addr}
}

func TestLockerExcludesConcurrentHolder(t *testing.T) {
	ctx := context.Background()
	client, err := NewRedisClient(ctx, testClientOptions(t))
	require.NoError(t, err)
	defer client.Close()

	l := NewLocker(client, 5*time.Second)
	key := "lock:test:" + uuid.NewString()

	err = l.WithLock(ctx, key, func(ctx context.Context) error {
		inner := l.WithLock(ctx, key, func(context.Context) error { return nil })
		assert.ErrorIs(t, inner, ErrLockNotAcquired)
		return nil
	})
	require.NoError(t, err)

	// released after the holder returns
	require.NoError(t, l.WithLock(ctx, key, func(context.Context) error { return nil }))
	n, err := client.Exists(ctx, key).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLockerReleasesOnError(t *testing.T) {
	ctx := context.Background()
	client, err := NewRedisClient(ctx, testClientOptions(t))
	require.NoError(t, err)
	defer client.Close()

	l := NewLocker(client, 5*time.Second)
	key := "lock:test:" + uuid.NewString()
	boom := errors.New("boom")

	assert.ErrorIs(t, l.WithLock(ctx, key, func(context.Context) error { return boom }), boom)
	assert.NoError(t, l.WithLock(ctx, key, func(context.Context) error { return nil }))
}

func TestLockerDoesNotReleaseForeignToken(t *testing.T) {
	ctx := context.Background()
	client, err := NewRedisClient(ctx, testClientOptions(t))
	require.NoError(t, err)
	defer client.Close()

	l := NewLocker(client, 5*time.Second)
	key := "lock:test:" + uuid.NewString()

	err = l.WithLock(ctx, key, func(ctx context.Context) error {
		// simulate expiry and takeover by another instance
		return client.Set(ctx, key, "someone-else", time.Minute).Err()
	})
	require.NoError(t, err)

	val, err := client.Get(ctx, key).Result()
	require.NoError(t, err)
	assert.Equal(t, "someone-else", val)
	client.Del(ctx, key)
}

func TestLockerWaitsForRelease(t *testing.T) {
	ctx := context.Background()
	client, err := NewRedisClient(ctx, testClientOptions(t))
	require.NoError(t, err)
	defer client.Close()

	holder := NewLocker(client, 5*time.Second)
	waiter := NewLocker(client, 5*time.Second, WithWait(2*time.Second))
	key := "lock:test:" + uuid.NewString()

	acquired := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- holder.WithLock(ctx, key, func(context.Context) error {
			close(acquired)
			time.Sleep(200 * time.Millisecond)
			return nil
		})
	}()
	<-acquired

	ran := false
	require.NoError(t, waiter.WithLock(ctx, key, func(context.Context) error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
	require.NoError(t, <-done)
}

func TestNewRedisClientFailsFast(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := NewRedisClient(ctx, Options{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}
