// Package wire 提供依赖装配
package wire

import (
	"context"
	"fmt"
	"os"

	"z-novel-canon-api/internal/application/canon"
	"z-novel-canon-api/internal/application/genctx"
	"z-novel-canon-api/internal/application/revision"
	"z-novel-canon-api/internal/config"
	"z-novel-canon-api/internal/domain/repository"
	"z-novel-canon-api/internal/infrastructure/messaging"
	"z-novel-canon-api/internal/infrastructure/persistence/memory"
	"z-novel-canon-api/internal/infrastructure/persistence/postgres"
	"z-novel-canon-api/internal/infrastructure/persistence/redis"
	"z-novel-canon-api/internal/interfaces/http/handler"
	"z-novel-canon-api/internal/interfaces/http/middleware"
	"z-novel-canon-api/internal/interfaces/http/router"
	"z-novel-canon-api/pkg/logger"
)

// DriverMemory 与 DriverPostgres 为 database.driver 可选值
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// DataLayer 数据层组件
type DataLayer struct {
	Repos    *repository.CanonRepositories
	Postgres *postgres.Client
}

// ProvideDataLayer 按配置选择存储驱动
func ProvideDataLayer(ctx context.Context, cfg *config.Config) (*DataLayer, func(), error) {
	switch cfg.Database.Driver {
	case DriverMemory:
		logger.Warn(ctx, "using in-memory canon store, data will not survive restart")
		return &DataLayer{Repos: memory.NewStore().Repositories()}, func() {}, nil
	case DriverPostgres, "":
		client, cleanup, err := ProvidePostgresClient(cfg)
		if err != nil {
			return nil, nil, err
		}
		return &DataLayer{Repos: client.Repositories(), Postgres: client}, cleanup, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}
}

// ProvidePostgresClient 提供 PostgreSQL 客户端
func ProvidePostgresClient(cfg *config.Config) (*postgres.Client, func(), error) {
	client, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = client.Close()
	}
	return client, cleanup, nil
}

// ProvideRedisClient 提供 Redis 客户端；缓存未启用时返回 nil
func ProvideRedisClient(cfg *config.Config) (*redis.Client, func(), error) {
	if !cfg.Cache.Enabled {
		return nil, func() {}, nil
	}
	client, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = client.Close()
	}
	return client, cleanup, nil
}

// ProvideCanonOptions 从配置构建服务选项
func ProvideCanonOptions(cfg *config.Config) canon.Options {
	limits := revision.DefaultLimits()
	if cfg.Canon.MaxTraversalDepth > 0 {
		limits.MaxDepth = cfg.Canon.MaxTraversalDepth
	}
	if cfg.Canon.MaxImpactNodes > 0 {
		limits.MaxNodes = cfg.Canon.MaxImpactNodes
	}
	if cfg.Canon.PlanTimeout > 0 {
		limits.Timeout = cfg.Canon.PlanTimeout
	}
	return canon.Options{
		Limits: limits,
		DefaultBudget: genctx.Budget{
			MaxItems: cfg.Canon.DefaultContextItems,
			MaxChars: cfg.Canon.DefaultContextChars,
		},
		ContextCacheTTL: cfg.Canon.ContextCacheTTL,
	}
}

// ProvideCanonService 提供设定引擎服务
// 接口参数只在依赖存在时赋值，避免把 nil 指针装进非 nil 接口
func ProvideCanonService(cfg *config.Config, repos *repository.CanonRepositories, redisClient *redis.Client) *canon.Service {
	var (
		cache    canon.ContextCache
		notifier canon.Notifier
	)
	if redisClient != nil {
		cache = redis.NewCache(redisClient)
		if cfg.Canon.PublishChanges {
			notifier = ProvideMessagingProducer(redisClient, cfg)
		}
	}
	return canon.NewService(repos, ProvideCanonOptions(cfg), cache, notifier)
}

// ProvideMessagingProducer 提供消息生产者
func ProvideMessagingProducer(redisClient *redis.Client, cfg *config.Config) *messaging.Producer {
	return messaging.NewProducer(redisClient.Redis(), int64(cfg.Messaging.RedisStream.MaxLen))
}

// ProvideHandlers 提供 HTTP 处理器集合
func ProvideHandlers(cfg *config.Config, svc *canon.Service, data *DataLayer, redisClient *redis.Client) *router.Handlers {
	health := handler.NewHealthHandler(cfg.App.Version)
	if data.Postgres != nil {
		health.Require("postgres", data.Postgres)
	}
	if redisClient != nil {
		// 缓存不可用时生成上下文回退到直接编译
		health.Optional("redis", redisClient)
	}

	return &router.Handlers{
		Health:     health,
		Series:     handler.NewSeriesHandler(svc),
		Character:  handler.NewCharacterHandler(svc),
		Rule:       handler.NewRuleHandler(svc),
		Continuity: handler.NewContinuityHandler(svc),
		Arc:        handler.NewArcHandler(svc),
		Revision:   handler.NewRevisionHandler(svc),
		Context:    handler.NewContextHandler(svc),
	}
}

// InitializeApp 装配 API 服务
func InitializeApp(ctx context.Context, cfg *config.Config) (*router.Router, func(), error) {
	data, cleanupData, err := ProvideDataLayer(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	redisClient, cleanupRedis, err := ProvideRedisClient(cfg)
	if err != nil {
		cleanupData()
		return nil, nil, err
	}

	svc := ProvideCanonService(cfg, data.Repos, redisClient)
	handlers := ProvideHandlers(cfg, svc, data, redisClient)

	var limiter middleware.RateLimiter
	if redisClient != nil {
		limiter = redis.NewRateLimiter(redisClient)
	}

	cleanup := func() {
		cleanupRedis()
		cleanupData()
	}
	return router.New(cfg, handlers, limiter), cleanup, nil
}

// Worker 后台消费者组件
type Worker struct {
	Redis     *redis.Client
	Cache     *redis.Cache
	Consumers []*messaging.Consumer
}

// InitializeWorker 装配缓存失效与审计归档消费者
func InitializeWorker(cfg *config.Config) (*Worker, func(), error) {
	if !cfg.Cache.Enabled {
		return nil, nil, fmt.Errorf("worker requires cache.enabled")
	}
	redisClient, cleanup, err := ProvideRedisClient(cfg)
	if err != nil {
		return nil, nil, err
	}
	cache := redis.NewCache(redisClient)

	invalidator := messaging.NewConsumer(redisClient.Redis(),
		ProvideConsumerConfig(cfg, messaging.StreamCanonChange, messaging.ConsumerGroupCacheInvalidator))
	invalidator.RegisterHandler(messaging.TypeCanonChange, messaging.CacheInvalidationHandler(cache))

	archiver := messaging.NewConsumer(redisClient.Redis(),
		ProvideConsumerConfig(cfg, messaging.StreamAuditLog, messaging.ConsumerGroupAuditArchiver))
	archiver.RegisterHandler(messaging.TypeAudit, messaging.AuditLogHandler())

	return &Worker{
		Redis:     redisClient,
		Cache:     cache,
		Consumers: []*messaging.Consumer{invalidator, archiver},
	}, cleanup, nil
}

// ProvideConsumerConfig 从配置构建消费者参数
func ProvideConsumerConfig(cfg *config.Config, stream messaging.Stream, group messaging.ConsumerGroup) messaging.ConsumerConfig {
	rs := cfg.Messaging.RedisStream
	return messaging.ConsumerConfig{
		Stream:        stream,
		Group:         group.WithPrefix(rs.ConsumerGroupPrefix),
		ConsumerName:  consumerName(),
		BlockTimeout:  rs.BlockTimeout,
		ClaimInterval: rs.ClaimInterval,
		RetryLimit:    rs.RetryLimit,
		Backoff: messaging.BackoffConfig{
			Initial:    rs.RetryBackoff.Initial,
			Max:        rs.RetryBackoff.Max,
			Multiplier: rs.RetryBackoff.Multiplier,
		},
	}
}

func consumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "canon-worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
