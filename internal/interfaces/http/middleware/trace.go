package middleware

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"z-novel-canon-api/pkg/logger"
)

// SeriesParam 路由中系列 ID 的参数名
const SeriesParam = "sid"

// Trace OpenTelemetry 追踪中间件
func Trace(serviceName string) gin.HandlerFunc {
	return otelgin.Middleware(serviceName)
}

// TraceContext 注入 trace_id 与系列 ID 到日志上下文
func TraceContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		span := trace.SpanFromContext(ctx)
		if span.SpanContext().IsValid() {
			traceID := span.SpanContext().TraceID().String()
			spanID := span.SpanContext().SpanID().String()

			c.Set("trace_id", traceID)
			c.Set("span_id", spanID)

			ctx = logger.WithContext(ctx, logger.TraceIDKey, traceID)
			ctx = logger.WithContext(ctx, logger.SpanIDKey, spanID)
			c.Header("X-Trace-ID", traceID)
		}

		if seriesID := c.Param(SeriesParam); seriesID != "" {
			ctx = logger.WithSeries(ctx, seriesID)
			span.SetAttributes(attribute.String("canon.series_id", seriesID))
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}
