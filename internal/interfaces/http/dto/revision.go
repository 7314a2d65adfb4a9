package dto

import (
	"z-novel-canon-api/internal/domain/entity"
)

// RevisionRequest 修订请求体；幂等键也可通过 Idempotency-Key 请求头提供
type RevisionRequest struct {
	Kind           entity.RevisionKind `json:"kind" binding:"required,oneof=character_change world_change retcon"`
	TargetType     entity.SubjectType  `json:"target_type" binding:"required"`
	TargetID       string              `json:"target_id" binding:"required"`
	Delta          entity.AttributeMap `json:"delta" binding:"required,min=1"`
	Justification  string              `json:"justification,omitempty" binding:"max=2000"`
	IdempotencyKey string              `json:"idempotency_key,omitempty" binding:"max=128"`
	EffectiveAt    *entity.Locator     `json:"effective_at,omitempty"`
}

// ToRevisionEntity 转换为修订请求实体
func (r *RevisionRequest) ToRevisionEntity(seriesID, idempotencyKey, actor string) *entity.RevisionRequest {
	key := r.IdempotencyKey
	if idempotencyKey != "" {
		key = idempotencyKey
	}
	return &entity.RevisionRequest{
		SeriesID:       seriesID,
		Kind:           r.Kind,
		TargetType:     r.TargetType,
		TargetID:       r.TargetID,
		Delta:          r.Delta,
		Justification:  r.Justification,
		IdempotencyKey: key,
		EffectiveAt:    r.EffectiveAt,
		RequestedBy:    actor,
	}
}

// ApplyRevisionRequest 应用修订请求
type ApplyRevisionRequest struct {
	RevisionRequest
	Approval entity.Approval `json:"approval"`
}

// ApplyRevisionResponse 应用修订响应
type ApplyRevisionResponse struct {
	Result   *entity.PropagationResult `json:"result"`
	Plan     *entity.ImpactAnalysis    `json:"plan,omitempty"`
	Replayed bool                      `json:"replayed"`
}
