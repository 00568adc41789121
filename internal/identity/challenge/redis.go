package challenge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/vaultgate/internal/identity/domain"
	"github.com/redis/go-redis/v9"
)

const (
	challengePrefix = "mfa:chal:"
	attemptPrefix   = "mfa:att:"
)

// RedisStore keeps challenges and counters in Redis so every gateway
// replica sees the same state.
type RedisStore struct {
	redis   *redis.Client
	lockout LockoutConfig
}

func NewRedisStore(client *redis.Client, lockout LockoutConfig) *RedisStore {
	return &RedisStore{redis: client, lockout: lockout.withDefaults()}
}

func (s *RedisStore) Save(ctx context.Context, c domain.MFAChallenge) error {
	ttl := time.Until(c.ExpiresAt)
	if ttl <= 0 {
		return errAlreadyExpired
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, challengePrefix+c.ID, raw, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Consume(ctx context.Context, id string) (domain.MFAChallenge, error) {
	raw, err := s.redis.GetDel(ctx, challengePrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MFAChallenge{}, ErrNotFound
		}
		return domain.MFAChallenge{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var c domain.MFAChallenge
	if err := json.Unmarshal(raw, &c); err != nil {
		return domain.MFAChallenge{}, err
	}
	if !c.ExpiresAt.After(time.Now()) {
		return domain.MFAChallenge{}, ErrNotFound
	}
	return c, nil
}

func (s *RedisStore) Check(ctx context.Context, key string) error {
	count, err := s.redis.Get(ctx, attemptPrefix+key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count >= int64(s.lockout.MaxAttempts) {
		return ErrLocked
	}
	return nil
}

// RecordFailure seeds the counter with the window TTL and increments it
// in one transaction, so a counter never exists without an expiry.
func (s *RedisStore) RecordFailure(ctx context.Context, key string) error {
	k := attemptPrefix + key

	var incr *redis.IntCmd
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, k, 0, s.lockout.Window)
		incr = pipe.Incr(ctx, k)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if incr.Val() >= int64(s.lockout.MaxAttempts) {
		return ErrLocked
	}
	return nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, attemptPrefix+key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
