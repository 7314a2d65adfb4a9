package dto

import (
	"z-novel-canon-api/internal/application/canon"
	"z-novel-canon-api/internal/domain/entity"
)

// CreateArcRequest 创建故事线请求
type CreateArcRequest struct {
	Title          string            `json:"title" binding:"required,max=200"`
	ParticipantIDs []string          `json:"participant_ids,omitempty"`
	Milestones     entity.Milestones `json:"milestones,omitempty"`
}

// ToArcEntity 转换为故事线实体
func (r *CreateArcRequest) ToArcEntity(seriesID string) *entity.NarrativeArc {
	return entity.NewNarrativeArc(seriesID, r.Title, r.ParticipantIDs, r.Milestones)
}

// UpdateArcRequest 故事线更新请求
type UpdateArcRequest struct {
	Title      string            `json:"title,omitempty" binding:"max=200"`
	Status     entity.ArcStatus  `json:"status,omitempty" binding:"omitempty,oneof=planned active resolved"`
	Milestones entity.Milestones `json:"milestones,omitempty"`
}

// ToArcUpdate 转换为服务层参数
func (r *UpdateArcRequest) ToArcUpdate() canon.ArcUpdate {
	return canon.ArcUpdate{
		Title:      r.Title,
		Status:     r.Status,
		Milestones: r.Milestones,
	}
}

// ArcListResponse 故事线列表响应
type ArcListResponse struct {
	Arcs []*entity.NarrativeArc `json:"arcs"`
}
