package handler

import (
	"encoding/json"

	"github.com/gin-gonic/gin"

	"z-novel-canon-api/internal/application/canon"
	"z-novel-canon-api/internal/interfaces/http/dto"
)

// ContextHandler 生成上下文处理器
type ContextHandler struct {
	svc *canon.Service
}

// NewContextHandler 创建生成上下文处理器
func NewContextHandler(svc *canon.Service) *ContextHandler {
	return &ContextHandler{svc: svc}
}

// Compile 编译生成上下文
// @Summary 编译生成上下文
// @Description 相同状态与相同请求返回逐字节一致的内容
// @Tags Context
// @Accept json
// @Produce json
// @Param sid path string true "系列 ID"
// @Param body body dto.CompileContextRequest true "截止位置与预算"
// @Success 200 {object} dto.Response[genctx.GenerationContext]
// @Router /v1/series/{sid}/context [post]
func (h *ContextHandler) Compile(c *gin.Context) {
	var req dto.CompileContextRequest
	if !bindJSON(c, &req) {
		return
	}

	payload, err := h.svc.CompileGenerationContext(c.Request.Context(), req.ToGenctxRequest(dto.BindSeriesID(c)))
	if err != nil {
		respondError(c, err, "failed to compile generation context")
		return
	}
	dto.Success(c, json.RawMessage(payload))
}
