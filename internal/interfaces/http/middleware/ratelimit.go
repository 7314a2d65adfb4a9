// Package middleware 提供 HTTP 中间件
package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"z-novel-canon-api/internal/infrastructure/persistence/redis"
	"z-novel-canon-api/pkg/logger"
)

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	// Enabled 是否启用限流
	Enabled bool
	// RequestsPerSecond 每秒请求数
	RequestsPerSecond int
	// Burst 突发容量，叠加在每秒请求数之上
	Burst int
}

// RateLimiter 限流器接口
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// remainingReporter 可选：报告剩余配额
type remainingReporter interface {
	Remaining(ctx context.Context, key string, limit int, window time.Duration) (int, error)
}

// RateLimit 限流中间件，按客户端 IP 与路由模板计数
func RateLimit(cfg RateLimitConfig, limiter RateLimiter) gin.HandlerFunc {
	// 如果未启用限流，返回空中间件
	if !cfg.Enabled || limiter == nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	// 设置默认值
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 100
	}
	if cfg.Burst < 0 {
		cfg.Burst = 0
	}
	limit := cfg.RequestsPerSecond + cfg.Burst

	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		key := redis.BuildRateLimitKey(c.ClientIP(), route)

		allowed, err := limiter.Allow(c.Request.Context(), key, limit, time.Second)
		if err != nil {
			// 限流器故障时放行，避免影响业务
			logger.Warn(c.Request.Context(), "rate limiter unavailable, request allowed", "error", err.Error())
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		if !allowed {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":     http.StatusTooManyRequests,
				"message":  "rate limit exceeded",
				"trace_id": c.GetString("trace_id"),
			})
			return
		}

		if rr, ok := limiter.(remainingReporter); ok {
			if remaining, err := rr.Remaining(c.Request.Context(), key, limit, time.Second); err == nil {
				c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
			}
		}

		c.Next()
	}
}
