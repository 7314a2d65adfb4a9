package handler

import (
	"github.com/gin-gonic/gin"

	"z-novel-canon-api/internal/application/canon"
	"z-novel-canon-api/internal/interfaces/http/dto"
)

// ArcHandler 故事线处理器
type ArcHandler struct {
	svc *canon.Service
}

// NewArcHandler 创建故事线处理器
func NewArcHandler(svc *canon.Service) *ArcHandler {
	return &ArcHandler{svc: svc}
}

// CreateArc 创建故事线
func (h *ArcHandler) CreateArc(c *gin.Context) {
	var req dto.CreateArcRequest
	if !bindJSON(c, &req) {
		return
	}

	arc, err := h.svc.CreateArc(c.Request.Context(), req.ToArcEntity(dto.BindSeriesID(c)))
	if err != nil {
		respondError(c, err, "failed to create arc")
		return
	}
	dto.Created(c, arc)
}

// ListArcs 获取系列故事线
func (h *ArcHandler) ListArcs(c *gin.Context) {
	arcs, err := h.svc.ListArcs(c.Request.Context(), dto.BindSeriesID(c))
	if err != nil {
		respondError(c, err, "failed to list arcs")
		return
	}
	dto.Success(c, dto.ArcListResponse{Arcs: arcs})
}

// UpdateArc 推进故事线状态或替换里程碑
func (h *ArcHandler) UpdateArc(c *gin.Context) {
	var req dto.UpdateArcRequest
	if !bindJSON(c, &req) {
		return
	}

	arc, err := h.svc.UpdateArc(c.Request.Context(), dto.BindArcID(c), req.ToArcUpdate())
	if err != nil {
		respondError(c, err, "failed to update arc")
		return
	}
	dto.Success(c, arc)
}
