package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenBucketLimiter 基于 Redis 的令牌桶，用于刷新接口限流：
// - 两个键：<key>:t（令牌数）、<key>:ts（上次补充时间毫秒）
// - Lua 脚本原子完成补充、扣减与过期
// - 键在桶回满所需时间后过期，空闲用户不占内存
// - Redis 出错时返回 allowed=true 与错误，由调用方记录后放行
type TokenBucketLimiter struct {
	client *redis.Client
	prefix string
}

func NewTokenBucketLimiter(c *redis.Client) *TokenBucketLimiter {
	return &TokenBucketLimiter{client: c, prefix: "tl:rl:"}
}

var luaScript = redis.NewScript(`
local tokens_key = KEYS[1]
local ts_key = KEYS[2]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])
local ttl_ms = tonumber(ARGV[4])

local tokens = tonumber(redis.call('GET', tokens_key))
if tokens == nil then tokens = burst end
local ts = tonumber(redis.call('GET', ts_key))
if ts == nil then ts = now_ms end

local delta = math.max(0, now_ms - ts) / 1000.0
local new_tokens = math.min(burst, tokens + delta * rate)

local allowed = 0
if new_tokens >= 1 then
  allowed = 1
  new_tokens = new_tokens - 1
end

redis.call('SET', tokens_key, tostring(new_tokens), 'PX', ttl_ms)
redis.call('SET', ts_key, tostring(now_ms), 'PX', ttl_ms)

return {allowed, math.floor(new_tokens)}
`)

// Allow 尝试消耗一个令牌，返回 (allowed, remainingTokens, err)
func (l *TokenBucketLimiter) Allow(ctx context.Context, key string, ratePerSec, burst int) (bool, int64, error) {
	if ratePerSec <= 0 || burst <= 0 {
		return true, 0, nil
	}
	now := time.Now().UnixMilli()
	ttl := int64(burst)*1000/int64(ratePerSec) + 1000
	k := l.prefix + key
	vals, err := luaScript.Run(ctx, l.client, []string{k + ":t", k + ":ts"}, ratePerSec, burst, now, ttl).Slice()
	if err != nil {
		return true, 0, err
	}
	if len(vals) != 2 {
		return true, 0, nil
	}
	allowed, _ := vals[0].(int64)
	rem, _ := vals[1].(int64)
	return allowed == 1, rem, nil
}
