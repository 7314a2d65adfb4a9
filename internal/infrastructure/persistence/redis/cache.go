package redis

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"z-novel-canon-api/pkg/logger"
)

var cacheTracer = otel.Tracer("redis.cache")

// Cache 生成上下文缓存
// 键中带有系列状态版本，写入后不会被原地修改，只会过期或被按前缀清理
type Cache struct {
	client *Client
	group  singleflight.Group
}

// NewCache 创建缓存服务
func NewCache(client *Client) *Cache {
	return &Cache{
		client: client,
	}
}

// Get 获取缓存值，未命中时返回 redis.Nil
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, span := cacheTracer.Start(ctx, "cache.Get",
		trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	val, err := c.client.rdb.Get(ctx, c.client.Key(key)).Bytes()
	if err != nil {
		if IsNil(err) {
			span.SetAttributes(attribute.Bool("cache.hit", false))
			return nil, err
		}
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.Bool("cache.hit", true))
	return val, nil
}

// GetOrLoad 读穿缓存，使用 singleflight 合并同一键的并发加载
// 返回值第二项表示是否命中缓存
func (c *Cache) GetOrLoad(ctx context.Context, key string, ttl time.Duration, loader func() ([]byte, error)) ([]byte, bool, error) {
	ctx, span := cacheTracer.Start(ctx, "cache.GetOrLoad",
		trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	full := c.client.Key(key)
	val, err := c.client.rdb.Get(ctx, full).Bytes()
	if err == nil {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return val, true, nil
	}
	if !IsNil(err) {
		// Redis 不可用时直接加载，缓存只是加速
		span.RecordError(err)
		logger.Warn(ctx, "context cache read failed, loading directly", "key", key, "error", err.Error())
		data, err := loader()
		return data, false, err
	}

	span.SetAttributes(attribute.Bool("cache.hit", false))

	// 使用 singleflight 合并并发请求
	result, err, shared := c.group.Do(key, func() (interface{}, error) {
		// 再次检查缓存（可能已被其他请求填充）
		if val, err := c.client.rdb.Get(ctx, full).Bytes(); err == nil {
			return val, nil
		}

		data, err := loader()
		if err != nil {
			return nil, err
		}

		if err := c.client.rdb.Set(ctx, full, data, ttl).Err(); err != nil {
			// 缓存写入失败不影响返回结果
			logger.Warn(ctx, "context cache write failed", "key", key, "error", err.Error())
		}
		return data, nil
	})

	span.SetAttributes(attribute.Bool("cache.shared", shared))

	if err != nil {
		span.RecordError(err)
		return nil, false, err
	}

	return result.([]byte), false, nil
}

// Delete 删除缓存
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	ctx, span := cacheTracer.Start(ctx, "cache.Delete",
		trace.WithAttributes(attribute.Int("cache.key_count", len(keys))))
	defer span.End()

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.client.Key(k)
	}
	return c.client.rdb.Del(ctx, full...).Err()
}

// InvalidatePattern 按模式使缓存失效，返回删除的键数
func (c *Cache) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	ctx, span := cacheTracer.Start(ctx, "cache.InvalidatePattern",
		trace.WithAttributes(attribute.String("cache.pattern", pattern)))
	defer span.End()

	iter := c.client.rdb.Scan(ctx, 0, c.client.Key(pattern), 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}

	if err := iter.Err(); err != nil {
		span.RecordError(err)
		return 0, err
	}

	if len(keys) == 0 {
		return 0, nil
	}
	span.SetAttributes(attribute.Int("cache.invalidated_count", len(keys)))
	if err := c.client.rdb.Del(ctx, keys...).Err(); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to delete %d cache keys: %w", len(keys), err)
	}
	return len(keys), nil
}

// InvalidatePrefix 清理某一前缀下的全部缓存
func (c *Cache) InvalidatePrefix(ctx context.Context, prefix string) (int, error) {
	return c.InvalidatePattern(ctx, prefix+"*")
}
