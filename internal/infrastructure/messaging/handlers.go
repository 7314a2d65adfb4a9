package messaging

import (
	"context"
	"fmt"

	"z-novel-canon-api/internal/application/canon"
	"z-novel-canon-api/pkg/logger"
)

// PrefixInvalidator 按前缀清理缓存
type PrefixInvalidator interface {
	InvalidatePrefix(ctx context.Context, prefix string) (int, error)
}

// CacheInvalidationHandler 收到设定变更后清理该系列的生成上下文缓存
func CacheInvalidationHandler(cache PrefixInvalidator) MessageHandler {
	return func(ctx context.Context, msg *Message) error {
		var change CanonChangeMessage
		if err := msg.UnmarshalPayload(&change); err != nil {
			// 载荷损坏时重试无意义
			logger.Warn(ctx, "malformed canon change payload", "message_id", msg.ID, "error", err.Error())
			return nil
		}
		if change.SeriesID == "" {
			return nil
		}

		n, err := cache.InvalidatePrefix(ctx, canon.ContextCachePrefix(change.SeriesID))
		if err != nil {
			return fmt.Errorf("invalidate context cache for %s: %w", change.SeriesID, err)
		}
		logger.Info(ctx, "context cache invalidated",
			"kind", change.Kind,
			"version", change.Version,
			"keys", n,
		)
		return nil
	}
}

// AuditLogHandler 将审计消息写入结构化日志
func AuditLogHandler() MessageHandler {
	return func(ctx context.Context, msg *Message) error {
		var entry AuditLogMessage
		if err := msg.UnmarshalPayload(&entry); err != nil {
			logger.Warn(ctx, "malformed audit payload", "message_id", msg.ID, "error", err.Error())
			return nil
		}
		logger.Info(ctx, "audit",
			"action", entry.Action,
			"actor", entry.Actor,
			"resource_type", entry.ResourceType,
			"resource_id", entry.ResourceID,
			"changes", entry.Changes,
			"occurred_at", entry.OccurredAt,
		)
		return nil
	}
}
