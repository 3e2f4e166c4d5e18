package ratestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/reqguard/reqguard/guardlib"
)

// DefaultRedisPrefix is prepended to every key.
const DefaultRedisPrefix = "reqguard:"

// takeScript counts a hit atomically. A key without TTL is considered to
// be a new window. Returns {count, ttl_ms, allowed}.
var takeScript = redis.NewScript(`
local length = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local ttl = redis.call('PTTL', KEYS[1])
local current = 0

if ttl > 0 then
  current = tonumber(redis.call('GET', KEYS[1]) or '0')
else
  ttl = length
end

if limit > 0 and current >= limit then
  return {current, ttl, 0}
end

if current == 0 then
  redis.call('SET', KEYS[1], 1, 'PX', length)
  return {1, length, 1}
end

current = redis.call('INCR', KEYS[1])

return {current, ttl, 1}
`)

// Redis is a RateStore shared between processes. Windows are represented
// by keys with TTL so Redis evicts them itself.
type Redis struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// Take implements guardlib.RateStore.
func (r *Redis) Take(ctx context.Context, key string, length time.Duration, limit int64) (guardlib.Window, error) {
	now := r.now()

	raw, err := takeScript.Run(ctx, r.client, []string{r.prefix + key},
		length.Milliseconds(), limit).Result()
	if err != nil {
		return guardlib.Window{}, fmt.Errorf("cannot execute take script: %w", err)
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 3 { //nolint: gomnd
		return guardlib.Window{}, fmt.Errorf("unexpected take script result %v", raw)
	}

	count, _ := values[0].(int64)
	ttl, _ := values[1].(int64)
	allowed, _ := values[2].(int64)

	return guardlib.Window{
		Start:   windowStart(now, length, ttl),
		Count:   count,
		Allowed: allowed == 1,
	}, nil
}

// Peek implements guardlib.RateStore.
func (r *Redis) Peek(ctx context.Context, key string, length time.Duration) (guardlib.Window, error) {
	now := r.now()
	pipe := r.client.Pipeline()
	getCmd := pipe.Get(ctx, r.prefix+key)
	ttlCmd := pipe.PTTL(ctx, r.prefix+key)

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return guardlib.Window{}, fmt.Errorf("cannot peek a window of %s: %w", key, err)
	}

	count, err := getCmd.Int64()
	if err != nil || ttlCmd.Val() <= 0 {
		return guardlib.Window{
			Start:   now,
			Allowed: true,
		}, nil
	}

	return guardlib.Window{
		Start:   windowStart(now, length, ttlCmd.Val().Milliseconds()),
		Count:   count,
		Allowed: true,
	}, nil
}

// Reset implements guardlib.RateStore.
func (r *Redis) Reset(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("cannot reset %s: %w", key, err)
	}

	return nil
}

func windowStart(now time.Time, length time.Duration, ttlMs int64) time.Time {
	return now.Add(-(length - time.Duration(ttlMs)*time.Millisecond))
}

// NewRedis creates a new Redis-backed store. Empty prefix means
// DefaultRedisPrefix, nil clock means time.Now.
func NewRedis(client redis.UniversalClient, prefix string, now func() time.Time) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}

	if now == nil {
		now = time.Now
	}

	return &Redis{
		client: client,
		prefix: prefix,
		now:    now,
	}
}

var _ guardlib.RateStore = (*Redis)(nil)
