package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/dukerupert/snaglist/internal/model"
	"github.com/redis/go-redis/v9"
)

// Same contract as the SQL upsert: a missing or dead window restarts at 1, a
// live window increments while count <= limit and then stays at limit+1.
var incrementIfBelowScript = redis.NewScript(`
local now_ms = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

local count = tonumber(redis.call("HGET", KEYS[1], "count"))
local window_end = tonumber(redis.call("HGET", KEYS[1], "end"))

if (not count) or (not window_end) or window_end <= now_ms then
  window_end = now_ms + window_ms
  redis.call("HSET", KEYS[1], "count", 1, "start", now_ms, "end", window_end)
  redis.call("PEXPIREAT", KEYS[1], window_end)
  return {1, now_ms, window_end}
end

if count <= limit then
  count = redis.call("HINCRBY", KEYS[1], "count", 1)
end
local window_start = tonumber(redis.call("HGET", KEYS[1], "start"))
return {count, window_start, window_end}
`)

// RedisStore keeps counters in Redis so every instance shares one budget.
// Keys expire at their window end, so DeleteExpired has nothing to do.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(key string, action model.Action) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, action, key)
}

func (s *RedisStore) IncrementIfBelow(ctx context.Context, key string, action model.Action, limit int, window time.Duration, now time.Time) (model.RateLimitCounter, error) {
	if s.client == nil {
		return model.RateLimitCounter{}, fmt.Errorf("redis client is nil")
	}
	raw, err := incrementIfBelowScript.Run(ctx, s.client,
		[]string{s.key(key, action)},
		now.UnixMilli(), window.Milliseconds(), limit,
	).Int64Slice()
	if err != nil {
		return model.RateLimitCounter{}, fmt.Errorf("redis increment: %w", err)
	}
	if len(raw) != 3 {
		return model.RateLimitCounter{}, fmt.Errorf("unexpected redis script response length %d", len(raw))
	}
	return model.RateLimitCounter{
		Key:         key,
		Action:      action,
		Count:       int(raw[0]),
		WindowStart: time.UnixMilli(raw[1]).UTC(),
		WindowEnd:   time.UnixMilli(raw[2]).UTC(),
	}, nil
}

func (s *RedisStore) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}
