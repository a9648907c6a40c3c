package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript mirrors Decide. It returns {allowed, remaining, msUntilReset}.
var fixedWindowScript = redis.NewScript(`
local key = KEYS[1]
local max = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local count = redis.call('HGET', key, 'count')
local reset = redis.call('HGET', key, 'reset')

if not count or not reset or now > tonumber(reset) then
	redis.call('HSET', key, 'count', 1, 'reset', now + window)
	redis.call('PEXPIRE', key, window + 1000)
	return {1, max - 1, 0}
end

count = tonumber(count)
reset = tonumber(reset)

if count >= max then
	return {0, 0, reset - now}
end

count = redis.call('HINCRBY', key, 'count', 1)
return {1, max - count, 0}
`)

// RedisStore shares windows between processes through Redis.
// Expired windows are dropped by key TTL.
type RedisStore struct {
	client  redis.Scripter
	baseKey string
}

// NewRedisStore creates a store that prefixes every key with baseKey.
func NewRedisStore(client redis.Scripter, baseKey string) *RedisStore {
	return &RedisStore{client: client, baseKey: baseKey}
}

// Connect parses redisURL and verifies the connection.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// Apply implements Store.
func (s *RedisStore) Apply(ctx context.Context, key string, max int, window time.Duration, now time.Time) (Result, error) {
	vals, err := fixedWindowScript.Run(ctx, s.client,
		[]string{s.baseKey + ":" + key},
		max, window.Milliseconds(), now.UnixMilli(),
	).Int64Slice()
	if err != nil {
		return Result{}, err
	}
	if len(vals) != 3 {
		return Result{}, fmt.Errorf("unexpected script reply of length %d", len(vals))
	}

	if vals[0] == 1 {
		return Result{Allowed: true, Remaining: int(vals[1])}, nil
	}
	return Result{Allowed: false, RetryAfter: retryAfter(time.Duration(vals[2]) * time.Millisecond)}, nil
}

// Sweep implements Store. Redis expires keys on its own.
func (s *RedisStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}
