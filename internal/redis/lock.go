package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrLockNotAcquired = errors.New("lock not acquired")
)

const retryInterval = 25 * time.Millisecond

// Locker guards a critical section per key across service instances.
// It satisfies konsultasi.Locker.
type Locker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	log    *zap.Logger
}

type LockerOption func(*Locker)

// WithWait lets a contended acquire retry for up to d before giving up.
func WithWait(d time.Duration) LockerOption {
	return func(l *Locker) { l.wait = d }
}

func WithLockLogger(log *zap.Logger) LockerOption {
	return func(l *Locker) { l.log = log }
}

// NewLocker creates a locker that stores one Redis key per locked resource.
// Without WithWait a contended key fails at once with ErrLockNotAcquired.
func NewLocker(client *redis.Client, ttl time.Duration, opts ...LockerOption) *Locker {
	l := &Locker{
		client: client,
		ttl:    ttl,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Locker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}

	defer func() {
		// release on a fresh context so a cancelled request still unlocks
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := l.release(releaseCtx, key, token); err != nil {
			l.log.Warn("lock release failed, key expires on its own", zap.String("key", key), zap.Error(err))
		}
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *Locker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return nil
		}
		if !time.Now().Add(retryInterval).Before(deadline) {
			l.log.Debug("lock contended", zap.String("key", key))
			return ErrLockNotAcquired
		}

		t := time.NewTimer(retryInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

func (l *Locker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}
