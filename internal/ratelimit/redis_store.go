package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "ratelimit:"

// hitScript increments the window counter, starts the expiry on the first
// hit and returns {count, pttl}. Key expiry is the purge.
var hitScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisStore shares windows across instances.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Hit(ctx context.Context, key string, cfg Config, now time.Time) (Result, error) {
	ms := cfg.Window.Milliseconds()
	if ms <= 0 {
		return Result{}, fmt.Errorf("invalid window %s", cfg.Window)
	}
	vals, err := hitScript.Run(ctx, s.client, []string{redisKeyPrefix + key}, ms).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("redis hit %s: %w", key, err)
	}
	if len(vals) != 2 {
		return Result{}, fmt.Errorf("redis hit %s: unexpected reply %v", key, vals)
	}
	count, ttl := int(vals[0]), time.Duration(vals[1])*time.Millisecond
	return Result{
		Allowed:   count <= cfg.MaxRequests,
		Remaining: remaining(cfg.MaxRequests, count),
		ResetAt:   now.Add(ttl),
	}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
