package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps one sorted set per user, `<prefix>refresh:<userId>`, with
// fingerprints as members scored by expiry in unix milliseconds. The key
// expires with the most recently added token.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a RedisStore. now may be nil.
func NewRedisStore(client redis.UniversalClient, prefix string, now func() time.Time) *RedisStore {
	if now == nil {
		now = time.Now
	}
	return &RedisStore{redis: client, prefix: prefix, now: now}
}

func (s *RedisStore) key(userID string) string {
	return s.prefix + "refresh:" + userID
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func (s *RedisStore) Add(ctx context.Context, userID, fingerprint string, expiresAt time.Time) error {
	key := s.key(userID)
	nowMs := s.now().UnixMilli()
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(nowMs, 10))
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(expiresAt.UnixMilli()), Member: fingerprint})
		pipe.PExpireAt(ctx, key, expiresAt)
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, userID, fingerprint string) (bool, error) {
	key := s.key(userID)
	var (
		scoreCmd *redis.FloatCmd
		remCmd   *redis.IntCmd
	)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		scoreCmd = pipe.ZScore(ctx, key, fingerprint)
		remCmd = pipe.ZRem(ctx, key, fingerprint)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, unavailable(err)
	}
	if remCmd.Val() == 0 {
		return false, nil
	}
	return int64(scoreCmd.Val()) > s.now().UnixMilli(), nil
}

func (s *RedisStore) RemoveAll(ctx context.Context, userID string) error {
	if err := s.redis.Del(ctx, s.key(userID)).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}
