package lockout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// failAndLockScript increments the failure counter, bounds it to the sliding
// window, and installs the lock key once the threshold is reached, all in
// one atomic Redis round trip.
var failAndLockScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
if tonumber(count) >= tonumber(ARGV[2]) then
  redis.call("SET", KEYS[2], "1", "PX", ARGV[3])
end
return count
`)

// RedisStore keeps lockout counters in Redis so stateless instances share
// failure state with minimal latency.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore constructs a RedisStore.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: strings.TrimSpace(prefix)}
}

func (s *RedisStore) failKey(key string) string {
	if s.prefix == "" {
		return "fail:" + key
	}
	return s.prefix + ":fail:" + key
}

func (s *RedisStore) lockKey(key string) string {
	if s.prefix == "" {
		return "lock:" + key
	}
	return s.prefix + ":lock:" + key
}

// Check reports whether the key is currently locked out.
func (s *RedisStore) Check(ctx context.Context, key string, now time.Time) (Result, error) {
	ttl, errTTL := s.client.PTTL(ctx, s.lockKey(key)).Result()
	if errTTL != nil {
		return Result{}, fmt.Errorf("lockout redis: check: %w", errTTL)
	}
	if ttl > 0 {
		return Result{Locked: true, LockedUntil: now.Add(ttl)}, nil
	}
	return Result{}, nil
}

// RecordFailure atomically advances the failure counter and applies the
// lockout once the threshold is reached.
func (s *RedisStore) RecordFailure(ctx context.Context, key string, now time.Time, policy Policy) (Result, error) {
	res, errEval := failAndLockScript.Run(ctx, s.client,
		[]string{s.failKey(key), s.lockKey(key)},
		policy.Window.Milliseconds(),
		policy.Threshold,
		policy.LockDuration.Milliseconds(),
	).Result()
	if errEval != nil {
		return Result{}, fmt.Errorf("lockout redis: record failure: %w", errEval)
	}
	count, ok := res.(int64)
	if !ok {
		return Result{}, errors.New("lockout redis: unexpected response type")
	}
	result := Result{FailureCount: int(count)}
	if int(count) >= policy.Threshold {
		result.Locked = true
		result.LockedUntil = now.Add(policy.LockDuration)
	}
	return result, nil
}

// RecordSuccess resets the failure counter and clears any lockout.
func (s *RedisStore) RecordSuccess(ctx context.Context, key string) error {
	if errDel := s.client.Del(ctx, s.failKey(key), s.lockKey(key)).Err(); errDel != nil {
		return fmt.Errorf("lockout redis: record success: %w", errDel)
	}
	return nil
}
