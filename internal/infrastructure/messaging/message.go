// Package messaging 提供基于 Redis Stream 的设定变更通知与审计消息
package messaging

import (
	"encoding/json"
	"time"
)

// 消息类型
const (
	TypeCanonChange = "canon_change"
	TypeAudit       = "audit"
)

// Message 消息结构
type Message struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	SeriesID  string            `json:"series_id"`
	Payload   json.RawMessage   `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	CreatedAt time.Time         `json:"created_at"`
}

// NewMessage 创建新消息
func NewMessage(id, msgType, seriesID string, payload interface{}) (*Message, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Message{
		ID:        id,
		Type:      msgType,
		SeriesID:  seriesID,
		Payload:   payloadBytes,
		Metadata:  make(map[string]string),
		CreatedAt: time.Now(),
	}, nil
}

// SetMetadata 设置元数据，空值忽略
func (m *Message) SetMetadata(key, value string) {
	if value == "" {
		return
	}
	if m.Metadata == nil {
		m.Metadata = make(map[string]string)
	}
	m.Metadata[key] = value
}

// GetMetadata 获取元数据
func (m *Message) GetMetadata(key string) string {
	if m.Metadata == nil {
		return ""
	}
	return m.Metadata[key]
}

// UnmarshalPayload 解析消息载荷
func (m *Message) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(m.Payload, v)
}

// encode 序列化为 Stream 字段值
func (m *Message) encode() (map[string]interface{}, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"data": string(data)}, nil
}

// decodeMessage 从 Stream 字段值解析消息
func decodeMessage(values map[string]interface{}) (*Message, bool) {
	raw, ok := values["data"].(string)
	if !ok {
		return nil, false
	}
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return nil, false
	}
	return &msg, true
}

// Stream 流定义
type Stream string

const (
	StreamCanonChange Stream = "stream:canon:change"
	StreamAuditLog    Stream = "stream:audit:log"
)

// DLQStream 获取对应的死信队列流名称
func (s Stream) DLQStream() string {
	return "dlq:" + string(s)
}

// ConsumerGroup 消费者组定义
type ConsumerGroup string

const (
	ConsumerGroupCacheInvalidator ConsumerGroup = "cg-cache-invalidator"
	ConsumerGroupAuditArchiver    ConsumerGroup = "cg-audit-archiver"
)

// WithPrefix 为消费者组加部署前缀，多套环境共用一个 Redis 时互不抢消息
func (g ConsumerGroup) WithPrefix(prefix string) ConsumerGroup {
	if prefix == "" {
		return g
	}
	return ConsumerGroup(prefix + ":" + string(g))
}

// BackoffConfig 退避配置
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultBackoffConfig 默认退避配置
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    time.Second,
		Max:        time.Minute,
		Multiplier: 2,
	}
}

// CalculateBackoff 计算退避时间
func (c BackoffConfig) CalculateBackoff(retryCount int) time.Duration {
	backoff := c.Initial
	for i := 0; i < retryCount; i++ {
		backoff = time.Duration(float64(backoff) * c.Multiplier)
		if backoff > c.Max {
			backoff = c.Max
			break
		}
	}
	return backoff
}

// CanonChangeMessage 设定变更消息载荷
type CanonChangeMessage struct {
	SeriesID          string    `json:"series_id"`
	Kind              string    `json:"kind"`
	Version           int64     `json:"version"`
	EventIDs          []string  `json:"event_ids,omitempty"`
	RevisionRequestID string    `json:"revision_request_id,omitempty"`
	RevisionKind      string    `json:"revision_kind,omitempty"`
	Actor             string    `json:"actor,omitempty"`
	OccurredAt        time.Time `json:"occurred_at"`
}

// AuditLogMessage 审计日志消息
type AuditLogMessage struct {
	SeriesID     string                 `json:"series_id"`
	Actor        string                 `json:"actor,omitempty"`
	Action       string                 `json:"action"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	RequestID    string                 `json:"request_id,omitempty"`
	TraceID      string                 `json:"trace_id,omitempty"`
	Changes      map[string]interface{} `json:"changes,omitempty"`
	OccurredAt   time.Time              `json:"occurred_at"`
}
