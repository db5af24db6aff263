package konsultasi

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Locker guards the check-then-write critical sections per key.
// redisclient.Locker satisfies it for multi-instance deployments.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

func caregiverLockKey(id uuid.UUID) string {
	return "lock:caregiver:" + id.String()
}

func pacilianLockKey(id uuid.UUID) string {
	return "lock:pacilian:" + id.String()
}

// keyedMutex is a one-slot semaphore so waiters can give up on ctx.
type keyedMutex struct {
	ch   chan struct{}
	refs int
}

// LocalLocker serialises callers per key inside one process. Entries are
// dropped once no caller holds or waits on them.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedMutex
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*keyedMutex)}
}

func (l *LocalLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	km, ok := l.locks[key]
	if !ok {
		km = &keyedMutex{ch: make(chan struct{}, 1)}
		l.locks[key] = km
	}
	km.refs++
	l.mu.Unlock()
	defer l.release(key, km)

	select {
	case km.ch <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-km.ch }()

	return fn(ctx)
}

func (l *LocalLocker) release(key string, km *keyedMutex) {
	l.mu.Lock()
	defer l.mu.Unlock()
	km.refs--
	if km.refs == 0 {
		delete(l.locks, key)
	}
}
