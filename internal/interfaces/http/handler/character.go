package handler

import (
	"github.com/gin-gonic/gin"

	"z-novel-canon-api/internal/application/canon"
	"z-novel-canon-api/internal/interfaces/http/dto"
)

// CharacterHandler 角色与世界元素处理器
type CharacterHandler struct {
	svc *canon.Service
}

// NewCharacterHandler 创建角色处理器
func NewCharacterHandler(svc *canon.Service) *CharacterHandler {
	return &CharacterHandler{svc: svc}
}

// CreateCharacter 创建角色，初始属性写为登场位置上的确立事件
// @Summary 创建角色
// @Tags Characters
// @Accept json
// @Produce json
// @Param sid path string true "系列 ID"
// @Param body body dto.CreateCharacterRequest true "角色信息"
// @Success 201 {object} dto.Response[entity.Character]
// @Router /v1/series/{sid}/characters [post]
func (h *CharacterHandler) CreateCharacter(c *gin.Context) {
	var req dto.CreateCharacterRequest
	if !bindJSON(c, &req) {
		return
	}

	character, est := req.ToCharacterEntity(dto.BindSeriesID(c))
	created, err := h.svc.CreateCharacter(c.Request.Context(), character, est)
	if err != nil {
		respondError(c, err, "failed to create character")
		return
	}
	dto.Created(c, created)
}

// ListCharacters 获取系列角色
// @Summary 获取系列角色
// @Tags Characters
// @Produce json
// @Param sid path string true "系列 ID"
// @Success 200 {object} dto.Response[dto.CharacterListResponse]
// @Router /v1/series/{sid}/characters [get]
func (h *CharacterHandler) ListCharacters(c *gin.Context) {
	characters, err := h.svc.ListCharacters(c.Request.Context(), dto.BindSeriesID(c))
	if err != nil {
		respondError(c, err, "failed to list characters")
		return
	}
	dto.Success(c, dto.CharacterListResponse{Characters: characters})
}

// GetCharacter 获取角色
// @Summary 获取角色
// @Tags Characters
// @Produce json
// @Param cid path string true "角色 ID"
// @Success 200 {object} dto.Response[entity.Character]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/characters/{cid} [get]
func (h *CharacterHandler) GetCharacter(c *gin.Context) {
	character, err := h.svc.GetCharacter(c.Request.Context(), dto.BindCharacterID(c))
	if err != nil {
		respondError(c, err, "failed to get character")
		return
	}
	dto.Success(c, character)
}

// GetTimeline 角色事件时间线
// @Summary 角色时间线
// @Tags Characters
// @Produce json
// @Param cid path string true "角色 ID"
// @Success 200 {object} dto.Response[dto.TimelineResponse]
// @Router /v1/characters/{cid}/timeline [get]
func (h *CharacterHandler) GetTimeline(c *gin.Context) {
	characterID := dto.BindCharacterID(c)

	events, err := h.svc.GetCharacterTimeline(c.Request.Context(), characterID)
	if err != nil {
		respondError(c, err, "failed to get character timeline")
		return
	}
	dto.Success(c, dto.TimelineResponse{CharacterID: characterID, Events: events})
}

// CreateWorldElement 创建世界元素
func (h *CharacterHandler) CreateWorldElement(c *gin.Context) {
	var req dto.CreateWorldElementRequest
	if !bindJSON(c, &req) {
		return
	}

	element, est := req.ToWorldElementEntity(dto.BindSeriesID(c))
	created, err := h.svc.CreateWorldElement(c.Request.Context(), element, est)
	if err != nil {
		respondError(c, err, "failed to create world element")
		return
	}
	dto.Created(c, created)
}

// ListWorldElements 获取系列世界元素
func (h *CharacterHandler) ListWorldElements(c *gin.Context) {
	elements, err := h.svc.ListWorldElements(c.Request.Context(), dto.BindSeriesID(c))
	if err != nil {
		respondError(c, err, "failed to list world elements")
		return
	}
	dto.Success(c, dto.WorldElementListResponse{WorldElements: elements})
}
