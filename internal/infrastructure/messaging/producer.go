package messaging

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"z-novel-canon-api/internal/application/canon"
	"z-novel-canon-api/pkg/logger"
	"z-novel-canon-api/pkg/metrics"
)

var tracer = otel.Tracer("messaging")

// Producer 消息生产者
type Producer struct {
	client *redis.Client
	maxLen int64
}

// NewProducer 创建消息生产者
func NewProducer(client *redis.Client, maxLen int64) *Producer {
	if maxLen <= 0 {
		maxLen = 100000
	}
	return &Producer{
		client: client,
		maxLen: maxLen,
	}
}

var _ canon.Notifier = (*Producer)(nil)

// Publish 发布消息到指定流
func (p *Producer) Publish(ctx context.Context, stream Stream, msg *Message) (string, error) {
	ctx, span := tracer.Start(ctx, "producer.Publish",
		trace.WithAttributes(
			attribute.String("stream", string(stream)),
			attribute.String("message.id", msg.ID),
			attribute.String("message.type", msg.Type),
		))
	defer span.End()

	values, err := msg.encode()
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	result, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: string(stream),
		MaxLen: p.maxLen,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		span.RecordError(err)
		metrics.RedisStreamPublished.WithLabelValues(string(stream), "error").Inc()
		return "", fmt.Errorf("failed to publish message: %w", err)
	}

	metrics.RedisStreamPublished.WithLabelValues(string(stream), "ok").Inc()
	span.SetAttributes(attribute.String("stream.message_id", result))
	return result, nil
}

// NotifyChange 发布设定变更；修订额外写一条审计记录
func (p *Producer) NotifyChange(ctx context.Context, change *canon.Change) error {
	payload := &CanonChangeMessage{
		SeriesID:          change.SeriesID,
		Kind:              string(change.Kind),
		Version:           change.Version,
		EventIDs:          change.EventIDs,
		RevisionRequestID: change.RevisionRequestID,
		RevisionKind:      change.RevisionKind,
		Actor:             change.Actor,
		OccurredAt:        change.OccurredAt,
	}
	if _, err := p.PublishCanonChange(ctx, payload); err != nil {
		return err
	}

	if change.Kind != canon.ChangeRevision {
		return nil
	}
	audit := &AuditLogMessage{
		SeriesID:     change.SeriesID,
		Actor:        change.Actor,
		Action:       "revision." + change.RevisionKind,
		ResourceType: "revision",
		ResourceID:   change.RevisionRequestID,
		RequestID:    contextString(ctx, logger.RequestIDKey),
		TraceID:      contextString(ctx, logger.TraceIDKey),
		Changes: map[string]interface{}{
			"version":   change.Version,
			"event_ids": change.EventIDs,
		},
		OccurredAt: change.OccurredAt,
	}
	if _, err := p.PublishAuditLog(ctx, audit); err != nil {
		// 审计写入失败不回报，变更通知已经送达
		logger.Warn(ctx, "failed to publish revision audit", "revision_request_id", change.RevisionRequestID, "error", err.Error())
	}
	return nil
}

// PublishCanonChange 发布设定变更
func (p *Producer) PublishCanonChange(ctx context.Context, change *CanonChangeMessage) (string, error) {
	msg, err := NewMessage(uuid.NewString(), TypeCanonChange, change.SeriesID, change)
	if err != nil {
		return "", err
	}

	msg.SetMetadata("version", strconv.FormatInt(change.Version, 10))
	msg.SetMetadata("request_id", contextString(ctx, logger.RequestIDKey))
	msg.SetMetadata("trace_id", contextString(ctx, logger.TraceIDKey))
	return p.Publish(ctx, StreamCanonChange, msg)
}

// PublishAuditLog 发布审计日志
func (p *Producer) PublishAuditLog(ctx context.Context, log *AuditLogMessage) (string, error) {
	id := log.RequestID
	if id == "" {
		id = uuid.NewString()
	}
	msg, err := NewMessage(id, TypeAudit, log.SeriesID, log)
	if err != nil {
		return "", err
	}

	return p.Publish(ctx, StreamAuditLog, msg)
}

func contextString(ctx context.Context, key logger.ContextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
