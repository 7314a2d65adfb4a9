package dto

import (
	"z-novel-canon-api/internal/application/canon"
	"z-novel-canon-api/internal/application/continuity"
	"z-novel-canon-api/internal/domain/entity"
)

// FactsRequest 校验与提交共用的提议事实批次
type FactsRequest struct {
	Locator        entity.Locator     `json:"locator"`
	Facts          []entity.Fact      `json:"facts" binding:"required,min=1,max=200"`
	Origin         entity.EventOrigin `json:"origin,omitempty" binding:"omitempty,oneof=author generator"`
	Override       bool               `json:"override"`
	OverrideReason string             `json:"override_reason,omitempty" binding:"max=2000"`
	Justification  string             `json:"justification,omitempty" binding:"max=2000"`
}

// ToContinuityRequest 转换为校验请求
func (r *FactsRequest) ToContinuityRequest(seriesID, actor string) *continuity.Request {
	origin := r.Origin
	if origin == "" {
		origin = entity.OriginAuthor
	}
	return &continuity.Request{
		SeriesID:       seriesID,
		Locator:        r.Locator,
		Facts:          r.Facts,
		Origin:         origin,
		Override:       r.Override,
		OverrideReason: r.OverrideReason,
		Justification:  r.Justification,
		Actor:          actor,
	}
}

// ViolationListResponse 违规列表响应
type ViolationListResponse struct {
	Violations []*entity.CanonViolation `json:"violations"`
}

// UpdateViolationRequest 违规状态迁移请求
type UpdateViolationRequest struct {
	Status            entity.ViolationStatus `json:"status" binding:"required,oneof=acknowledged dismissed resolved"`
	RevisionRequestID string                 `json:"revision_request_id,omitempty"`
	OverrideReason    string                 `json:"override_reason,omitempty" binding:"max=2000"`
}

// ToViolationUpdate 转换为服务层参数
func (r *UpdateViolationRequest) ToViolationUpdate(actor string) canon.ViolationUpdate {
	return canon.ViolationUpdate{
		Status:            r.Status,
		RevisionRequestID: r.RevisionRequestID,
		OverrideBy:        actor,
		OverrideReason:    r.OverrideReason,
	}
}
