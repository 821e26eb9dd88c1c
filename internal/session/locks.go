package session

import (
	"context"
	"sync"
	"time"

	"voip-billing-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// Locker serializes tick/finalize per call id (single-writer-per-session
// discipline). Ticks for different calls run freely in parallel.
type Locker interface {
	Acquire(ctx context.Context, callID string) (release func(), err error)
}

// LocalLocker is an in-process keyed mutex. Sufficient when one process
// owns all tick loops.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*refLock)}
}

func (l *LocalLocker) Acquire(ctx context.Context, callID string) (func(), error) {
	_ = ctx

	l.mu.Lock()
	e, ok := l.locks[callID]
	if !ok {
		e = &refLock{}
		l.locks[callID] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, callID)
		}
		l.mu.Unlock()
	}, nil
}

const lockKeyPrefix = "billing:session_lock:"

// RedisLocker serializes per call id across processes using an owned,
// TTL-bounded Redis lock. Use when tick loops and the batch processor run
// in separate processes against the same session store.
type RedisLocker struct {
	Client *redis.Client

	// TTL bounds how long a crashed holder can block others.
	TTL time.Duration

	RetryInterval time.Duration
}

func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{Client: rdb, TTL: 30 * time.Second, RetryInterval: 50 * time.Millisecond}
}

func (l *RedisLocker) Acquire(ctx context.Context, callID string) (func(), error) {
	key := lockKeyPrefix + callID

	ttl := l.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	retry := l.RetryInterval
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}

	for {
		token, ok, err := utils.AcquireSessionLock(ctx, l.Client, key, ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				// Release must not inherit a canceled request context.
				rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = utils.ReleaseSessionLock(rctx, l.Client, key, token)
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retry):
		}
	}
}
