package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "billing:session:"
	expiryIndexKey   = "billing:sessions:expiry"

	// expiredRetention keeps a session readable after its TTL so the batch
	// processor can escalate it instead of finding nothing. Keys vanish for
	// good once the retention window also passes.
	expiredRetention = 24 * time.Hour
)

// RedisStore keeps billing sessions in Redis.
//
// Layout:
// - billing:session:<call_id>  -> JSON session, expiring at TTL+retention
// - billing:sessions:expiry    -> ZSET call_id scored by TTL deadline
//
// The ZSET is the expiry index: sessions past their score that still have
// a key are stuck calls.
type RedisStore struct {
	rdb   *redis.Client
	clock func() time.Time
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, clock: time.Now}
}

func (s *RedisStore) Put(ctx context.Context, sess Session, ttl time.Duration) error {
	if sess.CallID == "" {
		return fmt.Errorf("session: call id is required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if sess.ExpiresAt.IsZero() {
		sess.ExpiresAt = s.clock().UTC().Add(ttl)
	}

	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}

	retain := time.Until(sess.ExpiresAt) + expiredRetention

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, sessionKeyPrefix+sess.CallID, raw, retain)
	pipe.ZAdd(ctx, expiryIndexKey, redis.Z{
		Score:  float64(sess.ExpiresAt.Unix()),
		Member: sess.CallID,
	})
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Get(ctx context.Context, callID string) (Session, bool, error) {
	raw, err := s.rdb.Get(ctx, sessionKeyPrefix+callID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Session{}, false, nil
		}
		return Session{}, false, err
	}

	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return Session{}, false, fmt.Errorf("session: corrupt payload for %s: %w", callID, err)
	}
	return sess, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, callID string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, sessionKeyPrefix+callID)
	pipe.ZRem(ctx, expiryIndexKey, callID)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) ListExpired(ctx context.Context, now time.Time) ([]Session, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, expiryIndexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, err
	}

	var out []Session
	for _, id := range ids {
		sess, ok, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			// Retention passed as well; drop the dangling index entry.
			_ = s.rdb.ZRem(ctx, expiryIndexKey, id).Err()
			continue
		}
		out = append(out, sess)
	}
	return out, nil
}
