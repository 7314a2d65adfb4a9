package handler

import (
	"github.com/gin-gonic/gin"

	"z-novel-canon-api/internal/application/canon"
	"z-novel-canon-api/internal/interfaces/http/dto"
)

// ContinuityHandler 校验、提交与违规处理器
type ContinuityHandler struct {
	svc *canon.Service
}

// NewContinuityHandler 创建处理器
func NewContinuityHandler(svc *canon.Service) *ContinuityHandler {
	return &ContinuityHandler{svc: svc}
}

// Validate 只读校验提议事实
// @Summary 校验提议事实
// @Description 与权威状态比较并按规则判定，不写入任何数据；违规作为报告内容返回
// @Tags Continuity
// @Accept json
// @Produce json
// @Param sid path string true "系列 ID"
// @Param body body dto.FactsRequest true "提议事实"
// @Success 200 {object} dto.Response[continuity.ValidationReport]
// @Router /v1/series/{sid}/validate [post]
func (h *ContinuityHandler) Validate(c *gin.Context) {
	var req dto.FactsRequest
	if !bindJSON(c, &req) {
		return
	}

	report, err := h.svc.ValidateContent(c.Request.Context(), req.ToContinuityRequest(dto.BindSeriesID(c), dto.BindActor(c)))
	if err != nil {
		respondError(c, err, "failed to validate facts")
		return
	}
	dto.Success(c, report)
}

// Commit 重新校验后提交
// @Summary 提交事实
// @Description 被阻断时不写入事件，返回 blocked=true 与违规列表
// @Tags Continuity
// @Accept json
// @Produce json
// @Param sid path string true "系列 ID"
// @Param body body dto.FactsRequest true "提议事实"
// @Success 200 {object} dto.Response[continuity.CommitResult]
// @Router /v1/series/{sid}/commit [post]
func (h *ContinuityHandler) Commit(c *gin.Context) {
	var req dto.FactsRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.svc.CommitFacts(c.Request.Context(), req.ToContinuityRequest(dto.BindSeriesID(c), dto.BindActor(c)))
	if err != nil {
		respondError(c, err, "failed to commit facts")
		return
	}
	dto.Success(c, result)
}

// ListViolations 获取系列违规
// @Summary 获取系列违规
// @Tags Continuity
// @Produce json
// @Param sid path string true "系列 ID"
// @Param status query string false "状态，逗号分隔"
// @Param severity query string false "严重程度"
// @Success 200 {object} dto.Response[dto.ViolationListResponse]
// @Router /v1/series/{sid}/violations [get]
func (h *ContinuityHandler) ListViolations(c *gin.Context) {
	violations, err := h.svc.ListViolations(c.Request.Context(), dto.BindSeriesID(c), dto.BindViolationFilter(c))
	if err != nil {
		respondError(c, err, "failed to list violations")
		return
	}
	dto.Success(c, dto.ViolationListResponse{Violations: violations})
}

// UpdateViolation 违规状态迁移
func (h *ContinuityHandler) UpdateViolation(c *gin.Context) {
	var req dto.UpdateViolationRequest
	if !bindJSON(c, &req) {
		return
	}

	violation, err := h.svc.TransitionViolation(c.Request.Context(), dto.BindViolationID(c), req.ToViolationUpdate(dto.BindActor(c)))
	if err != nil {
		respondError(c, err, "failed to update violation")
		return
	}
	dto.Success(c, violation)
}
