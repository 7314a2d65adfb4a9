package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"z-novel-canon-api/pkg/logger"
)

const (
	// RequestIDHeader 请求 ID 头
	RequestIDHeader = "X-Request-ID"
	// ActorHeader 操作者标识头，写入修订与覆盖记录
	ActorHeader = "X-Actor"
)

// RequestID 请求 ID 与操作者注入中间件
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		ctx := logger.WithContext(c.Request.Context(), logger.RequestIDKey, requestID)

		if actor := strings.TrimSpace(c.GetHeader(ActorHeader)); actor != "" {
			c.Set("actor", actor)
			ctx = logger.WithContext(ctx, logger.ActorKey, actor)
		}

		c.Request = c.Request.WithContext(ctx)
		c.Header(RequestIDHeader, requestID)

		c.Next()
	}
}
