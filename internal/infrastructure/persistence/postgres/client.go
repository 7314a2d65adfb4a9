// Package postgres 提供 PostgreSQL 数据库访问层实现
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"

	"z-novel-canon-api/internal/config"
	"z-novel-canon-api/internal/domain/repository"
	apperrors "z-novel-canon-api/pkg/errors"
)

var tracer = otel.Tracer("postgres")

// Client PostgreSQL 客户端
type Client struct {
	db     *sql.DB
	config *config.PostgresConfig
}

// NewClient 创建 PostgreSQL 客户端
func NewClient(cfg *config.PostgresConfig) (*Client, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 配置连接池
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// 验证连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Client{
		db:     db,
		config: cfg,
	}, nil
}

// NewClientFromDB 使用已有连接创建客户端
func NewClientFromDB(db *sql.DB) *Client {
	return &Client{db: db}
}

// DB 获取底层 sql.DB
func (c *Client) DB() *sql.DB {
	return c.db
}

// Close 关闭数据库连接
func (c *Client) Close() error {
	return c.db.Close()
}

// Ping 检查数据库连接
func (c *Client) Ping(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "postgres.Ping")
	defer span.End()

	return c.db.PingContext(ctx)
}

// Stats 获取连接池统计信息
func (c *Client) Stats() sql.DBStats {
	return c.db.Stats()
}

// HealthCheck 健康检查
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "postgres.HealthCheck")
	defer span.End()

	var result int
	if err := c.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		span.RecordError(err)
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// Repositories 返回绑定到本客户端的全部设定仓储
func (c *Client) Repositories() *repository.CanonRepositories {
	return &repository.CanonRepositories{
		Tx:            NewTxManager(c),
		Series:        NewSeriesRepository(c),
		Characters:    NewCharacterRepository(c),
		WorldElements: NewWorldElementRepository(c),
		Events:        NewCanonEventRepository(c),
		Relationships: NewRelationshipRepository(c),
		Rules:         NewCanonRuleRepository(c),
		Violations:    NewViolationRepository(c),
		Arcs:          NewArcRepository(c),
		Revisions:     NewRevisionRepository(c),
	}
}

// pq 错误码
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
	pqSerialization       = "40001"
)

// mapError 将驱动错误转换为应用错误；constraint 命中 uniqueSequence 时返回序号冲突
func mapError(err error, op string) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqUniqueViolation:
			if pqErr.Constraint == uniqueEventLocator {
				return apperrors.ErrSequenceConflict.WithDetail(op).WithError(err)
			}
			return apperrors.ErrConflict.WithDetail(op).WithError(err)
		case pqForeignKeyViolation:
			return apperrors.ErrNotFound.WithDetail(op).WithError(err)
		case pqSerialization:
			return apperrors.ErrConflict.WithDetail(op + ": concurrent update").WithError(err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.ErrTimeout.WithDetail(op).WithError(err)
	}
	return apperrors.Wrap(err, apperrors.CodeDatabaseError, fmt.Sprintf("failed to %s", op))
}

// nullString 空字符串写入 NULL
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// stringsOrEmpty 保证数组列非 NULL
func stringsOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
