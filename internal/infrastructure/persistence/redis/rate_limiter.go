package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
)

// slidingWindow 清理窗口外记录、计数并在未超限时记入本次请求，整个过程原子执行
// KEYS[1] 限流键；ARGV: now(ms) window(ms) limit member
// 返回 {allowed(0|1), 本次之后窗口内的请求数}
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
	return {0, count}
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window * 2)
return {1, count + 1}
`)

// RateLimiter 滑动窗口限流器
type RateLimiter struct {
	client *Client
}

// NewRateLimiter 创建限流器
func NewRateLimiter(client *Client) *RateLimiter {
	return &RateLimiter{client: client}
}

// Allow 检查并记入一次请求
func (l *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	ctx, span := tracer.Start(ctx, "ratelimit.Allow")
	span.SetAttributes(
		attribute.String("ratelimit.key", key),
		attribute.Int("ratelimit.limit", limit),
		attribute.Int64("ratelimit.window_ms", window.Milliseconds()),
	)
	defer span.End()

	now := time.Now().UnixMilli()
	// 成员带随机后缀，同一毫秒内的请求不会互相覆盖
	member := strconv.FormatInt(now, 10) + "-" + uuid.NewString()

	res, err := slidingWindow.Run(ctx, l.client.rdb, []string{l.client.Key(key)},
		now, window.Milliseconds(), limit, member).Int64Slice()
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 2 {
		return false, fmt.Errorf("rate limit script: unexpected reply %v", res)
	}

	allowed := res[0] == 1
	span.SetAttributes(
		attribute.Bool("ratelimit.allowed", allowed),
		attribute.Int64("ratelimit.current_count", res[1]),
	)
	return allowed, nil
}

// Remaining 窗口内剩余配额，只读
func (l *RateLimiter) Remaining(ctx context.Context, key string, limit int, window time.Duration) (int, error) {
	ctx, span := tracer.Start(ctx, "ratelimit.Remaining")
	span.SetAttributes(attribute.String("ratelimit.key", key))
	defer span.End()

	now := time.Now().UnixMilli()
	count, err := l.client.rdb.ZCount(ctx, l.client.Key(key),
		"("+strconv.FormatInt(now-window.Milliseconds(), 10), "+inf").Result()
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	remaining := max(0, limit-int(count))
	span.SetAttributes(attribute.Int("ratelimit.remaining", remaining))
	return remaining, nil
}

// BuildRateLimitKey 构建限流键：客户端 + 路由
func BuildRateLimitKey(clientID, route string) string {
	return fmt.Sprintf("ratelimit:%s:%s", clientID, route)
}
