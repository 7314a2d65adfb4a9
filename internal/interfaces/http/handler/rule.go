package handler

import (
	"github.com/gin-gonic/gin"

	"z-novel-canon-api/internal/application/canon"
	"z-novel-canon-api/internal/interfaces/http/dto"
)

// RuleHandler 设定规则处理器
type RuleHandler struct {
	svc *canon.Service
}

// NewRuleHandler 创建规则处理器
func NewRuleHandler(svc *canon.Service) *RuleHandler {
	return &RuleHandler{svc: svc}
}

// DefineRule 定义设定规则
// @Summary 定义设定规则
// @Description 规则作用域引用的实体必须存在；同一作用域可有多条规则，按锁定级别与作用域精度决定优先级
// @Tags Rules
// @Accept json
// @Produce json
// @Param sid path string true "系列 ID"
// @Param body body dto.DefineRuleRequest true "规则"
// @Success 201 {object} dto.Response[dto.DefineRuleResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/series/{sid}/rules [post]
func (h *RuleHandler) DefineRule(c *gin.Context) {
	var req dto.DefineRuleRequest
	if !bindJSON(c, &req) {
		return
	}

	id, err := h.svc.DefineCanonRule(c.Request.Context(), dto.BindSeriesID(c), req.Scope, req.LockLevel, req.ToRuleEntity(dto.BindActor(c)))
	if err != nil {
		respondError(c, err, "failed to define canon rule")
		return
	}
	dto.Created(c, dto.DefineRuleResponse{ID: id})
}

// ListRules 获取系列规则
// @Summary 获取系列规则
// @Tags Rules
// @Produce json
// @Param sid path string true "系列 ID"
// @Success 200 {object} dto.Response[dto.RuleListResponse]
// @Router /v1/series/{sid}/rules [get]
func (h *RuleHandler) ListRules(c *gin.Context) {
	rules, err := h.svc.ListRules(c.Request.Context(), dto.BindSeriesID(c))
	if err != nil {
		respondError(c, err, "failed to list canon rules")
		return
	}
	dto.Success(c, dto.RuleListResponse{Rules: rules})
}
