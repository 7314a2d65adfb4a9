// Package handler 提供 HTTP 请求处理器
package handler

import (
	"context"
	stderrors "errors"

	"github.com/gin-gonic/gin"

	"z-novel-canon-api/internal/interfaces/http/dto"
	"z-novel-canon-api/pkg/errors"
	"z-novel-canon-api/pkg/logger"
)

// respondError 应用错误按其状态码输出；未知错误记录日志后返回 500
func respondError(c *gin.Context, err error, msg string) {
	ctx := c.Request.Context()

	if stderrors.Is(err, context.DeadlineExceeded) {
		err = errors.ErrTimeout.WithError(err)
	}
	if errors.IsAppError(err) {
		appErr := errors.AsAppError(err)
		if appErr.HTTPStatus >= 500 {
			logger.Error(ctx, msg, err)
		} else {
			logger.Debug(ctx, msg, "error", err.Error())
		}
		dto.AppError(c, appErr)
		return
	}

	logger.Error(ctx, msg, err)
	dto.InternalError(c, msg)
}

// bindJSON 绑定请求体，失败时直接写入 400
func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return false
	}
	return true
}
