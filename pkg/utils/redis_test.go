package utils

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestSessionLockExclusive(t *testing.T) {
	ctx := context.Background()
	rdb := testRedis(t)

	token, ok, err := AcquireSessionLock(ctx, rdb, "lock:call-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	if token == "" {
		t.Fatalf("missing owner token")
	}

	if _, ok, err := AcquireSessionLock(ctx, rdb, "lock:call-1", time.Minute); err != nil || ok {
		t.Fatalf("second acquire while held: ok=%v err=%v", ok, err)
	}

	if err := ReleaseSessionLock(ctx, rdb, "lock:call-1", token); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok, err := AcquireSessionLock(ctx, rdb, "lock:call-1", time.Minute); err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	}
}

func TestSessionLockReleaseIsOwnerChecked(t *testing.T) {
	ctx := context.Background()
	rdb := testRedis(t)

	token, ok, err := AcquireSessionLock(ctx, rdb, "lock:call-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}

	// A stale owner token must not release the current holder's lock.
	if err := ReleaseSessionLock(ctx, rdb, "lock:call-1", "stale-token"); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	if _, ok, _ := AcquireSessionLock(ctx, rdb, "lock:call-1", time.Minute); ok {
		t.Fatalf("lock was stolen by stale release")
	}

	if err := ReleaseSessionLock(ctx, rdb, "lock:call-1", token); err != nil {
		t.Fatalf("owner release: %v", err)
	}
}

func TestSessionLockValidation(t *testing.T) {
	ctx := context.Background()
	rdb := testRedis(t)

	if _, _, err := AcquireSessionLock(ctx, nil, "k", time.Minute); err == nil {
		t.Fatalf("nil client accepted")
	}
	if _, _, err := AcquireSessionLock(ctx, rdb, "", time.Minute); err == nil {
		t.Fatalf("empty key accepted")
	}
	if _, _, err := AcquireSessionLock(ctx, rdb, "k", 0); err == nil {
		t.Fatalf("zero ttl accepted")
	}
	if err := ReleaseSessionLock(ctx, rdb, "", "tok"); err == nil {
		t.Fatalf("empty key release accepted")
	}
}
