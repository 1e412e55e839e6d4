package limiter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisBucketScript runs the refill-and-take math atomically in Redis so
// multiple processes share one bucket per target.
// KEYS[1] = bucket key ("dispatch_limit:<target>")
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity
// ARGV[3] = mode: "take" | "force" | "peek"
// ARGV[4] = current unix time (seconds, fractional)
// Returns {granted, tostring(tokens)}. Tokens come back as a string because
// Lua number replies truncate to integers and the level is fractional.
var redisBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local mode = ARGV[3]
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = tokens + elapsed * rate
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

local granted = 0
if mode ~= "peek" then
    if tokens >= 1 then
        tokens = tokens - 1
        granted = 1
    elseif mode == "force" then
        tokens = tokens - 1
        if tokens < 0 then
            tokens = 0
        end
        granted = 1
    end
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 3600)

return {granted, tostring(tokens)}
`)

// RedisStore implements Store on a shared Redis instance.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStore connects a bucket store to Redis.
func NewRedisStore(addr, password string, db int) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisStore{client: rdb, keyPrefix: "dispatch_limit:"}
}

// NewRedisStoreWithClient wraps an existing client, for tests and shared
// pools.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, keyPrefix: "dispatch_limit:"}
}

func (s *RedisStore) run(ctx context.Context, target string, cfg TargetConfig, mode string) (bool, float64, error) {
	key := s.keyPrefix + target
	ratePerSec := cfg.RefillPerMinute / 60.0
	now := float64(time.Now().UnixMicro()) / 1e6

	res, err := redisBucketScript.Run(ctx, s.client, []string{key}, ratePerSec, cfg.Capacity, mode, now).Result()
	if err != nil {
		return false, 0, fmt.Errorf("redis limiter error: %w", err)
	}
	results, ok := res.([]interface{})
	if !ok || len(results) != 2 {
		return false, 0, fmt.Errorf("invalid response from bucket script")
	}
	grantedVal, _ := results[0].(int64)
	tokensStr, _ := results[1].(string)
	tokens, err := strconv.ParseFloat(tokensStr, 64)
	if err != nil {
		return false, 0, fmt.Errorf("invalid token level %q from bucket script", tokensStr)
	}
	return grantedVal == 1, tokens, nil
}

func (s *RedisStore) Take(ctx context.Context, target string, cfg TargetConfig, force bool) (bool, float64, error) {
	mode := "take"
	if force {
		mode = "force"
	}
	return s.run(ctx, target, cfg, mode)
}

func (s *RedisStore) Peek(ctx context.Context, target string, cfg TargetConfig) (float64, error) {
	_, tokens, err := s.run(ctx, target, cfg, "peek")
	return tokens, err
}
