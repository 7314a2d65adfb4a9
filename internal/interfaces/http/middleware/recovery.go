package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"z-novel-canon-api/pkg/errors"
	"z-novel-canon-api/pkg/logger"
)

// Recovery Panic 恢复中间件
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error(c.Request.Context(), "panic recovered",
					fmt.Errorf("%v", r),
					"stack", string(debug.Stack()),
					"route", c.FullPath(),
					"method", c.Request.Method,
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"code":       http.StatusInternalServerError,
					"message":    "internal server error",
					"error":      gin.H{"error_code": errors.CodeInternalError},
					"trace_id":   c.GetString("trace_id"),
					"request_id": c.GetString("request_id"),
				})
			}
		}()

		c.Next()
	}
}
