// Package redis 提供生成上下文缓存、限流与变更通知流共用的 Redis 连接
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"z-novel-canon-api/internal/config"
)

var tracer = otel.Tracer("redis")

// Client Redis 客户端；缓存与限流键统一加上 namespace 前缀，多个环境可共用一个实例
type Client struct {
	rdb       *redis.Client
	namespace string
}

// NewClient 创建 Redis 客户端并验证连接
func NewClient(cfg *config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis at %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	return NewClientFromRedis(rdb, cfg.KeyPrefix), nil
}

// NewClientFromRedis 包装已有连接
func NewClientFromRedis(rdb *redis.Client, namespace string) *Client {
	return &Client{rdb: rdb, namespace: strings.TrimSuffix(namespace, ":")}
}

// Redis 底层客户端，Stream 生产者与消费者直接使用
func (c *Client) Redis() *redis.Client {
	return c.rdb
}

// Key 加上 namespace 前缀
func (c *Client) Key(key string) string {
	if c.namespace == "" {
		return key
	}
	return c.namespace + ":" + key
}

// Close 关闭连接
func (c *Client) Close() error {
	return c.rdb.Close()
}

// HealthCheck 就绪检查，连接池统计写入 span
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "redis.HealthCheck")
	defer span.End()

	if err := c.rdb.Ping(ctx).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("redis health check failed: %w", err)
	}

	stats := c.rdb.PoolStats()
	span.SetAttributes(
		attribute.Int64("redis.pool.total", int64(stats.TotalConns)),
		attribute.Int64("redis.pool.idle", int64(stats.IdleConns)),
		attribute.Int64("redis.pool.timeouts", int64(stats.Timeouts)),
	)
	return nil
}

// IsNil 是否为键不存在
func IsNil(err error) bool {
	return errors.Is(err, redis.Nil)
}
