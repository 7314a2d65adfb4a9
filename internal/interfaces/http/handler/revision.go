package handler

import (
	"github.com/gin-gonic/gin"

	"z-novel-canon-api/internal/application/canon"
	"z-novel-canon-api/internal/interfaces/http/dto"
	"z-novel-canon-api/pkg/logger"
)

// RevisionHandler 修订处理器
type RevisionHandler struct {
	svc *canon.Service
}

// NewRevisionHandler 创建修订处理器
func NewRevisionHandler(svc *canon.Service) *RevisionHandler {
	return &RevisionHandler{svc: svc}
}

// Plan 影响分析
// @Summary 修订影响分析
// @Description 只读；返回受影响的事实、实体、章节与故事线以及计划指纹
// @Tags Revisions
// @Accept json
// @Produce json
// @Param sid path string true "系列 ID"
// @Param body body dto.RevisionRequest true "修订请求"
// @Success 200 {object} dto.Response[entity.ImpactAnalysis]
// @Router /v1/series/{sid}/revisions/plan [post]
func (h *RevisionHandler) Plan(c *gin.Context) {
	var req dto.RevisionRequest
	if !bindJSON(c, &req) {
		return
	}

	revReq := req.ToRevisionEntity(dto.BindSeriesID(c), c.GetHeader(dto.IdempotencyKeyHeader), dto.BindActor(c))
	// 影响分析不落库，幂等键缺省时不要求
	if revReq.IdempotencyKey == "" {
		revReq.IdempotencyKey = "plan"
	}

	plan, err := h.svc.PlanRevision(c.Request.Context(), revReq)
	if err != nil {
		respondError(c, err, "failed to plan revision")
		return
	}
	dto.Success(c, plan)
}

// Apply 幂等应用修订
// @Summary 应用修订
// @Description 相同幂等键与相同请求重放返回首次结果；幂等键被不同请求复用时返回 409
// @Tags Revisions
// @Accept json
// @Produce json
// @Param sid path string true "系列 ID"
// @Param Idempotency-Key header string false "幂等键"
// @Param body body dto.ApplyRevisionRequest true "修订请求与审批"
// @Success 200 {object} dto.Response[dto.ApplyRevisionResponse]
// @Failure 409 {object} dto.ErrorResponse
// @Failure 422 {object} dto.ErrorResponse
// @Router /v1/series/{sid}/revisions/apply [post]
func (h *RevisionHandler) Apply(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.ApplyRevisionRequest
	if !bindJSON(c, &req) {
		return
	}

	actor := dto.BindActor(c)
	approval := req.Approval
	if approval.ApprovedBy == "" {
		approval.ApprovedBy = actor
	}
	revReq := req.ToRevisionEntity(dto.BindSeriesID(c), c.GetHeader(dto.IdempotencyKeyHeader), actor)

	out, err := h.svc.ApplyRevision(ctx, revReq, approval)
	if err != nil {
		respondError(c, err, "failed to apply revision")
		return
	}

	logger.Info(ctx, "revision applied",
		"revision_request_id", out.Result.RevisionRequestID,
		"replayed", out.Replayed,
		"events", len(out.Result.AppliedEventIDs),
	)
	dto.Success(c, dto.ApplyRevisionResponse{Result: out.Result, Plan: out.Plan, Replayed: out.Replayed})
}
