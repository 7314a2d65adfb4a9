package dto

import (
	"z-novel-canon-api/internal/application/statestore"
	"z-novel-canon-api/internal/domain/entity"
)

// EstablishRequest 首次登场时确立的属性
type EstablishRequest struct {
	Attributes   entity.AttributeMap `json:"attributes,omitempty"`
	LockKeys     []string            `json:"lock_keys,omitempty"`
	Significance int                 `json:"significance" binding:"min=0,max=10"`
	References   []string            `json:"references,omitempty"`
}

func (r EstablishRequest) toEstablish() statestore.Establish {
	attrs := r.Attributes
	if attrs == nil {
		attrs = entity.AttributeMap{}
	}
	return statestore.Establish{
		Attributes:   attrs,
		LockKeys:     r.LockKeys,
		Significance: r.Significance,
		References:   r.References,
	}
}

// CreateCharacterRequest 创建角色请求
type CreateCharacterRequest struct {
	Name            string               `json:"name" binding:"required,max=128"`
	Role            entity.CharacterRole `json:"role" binding:"omitempty,oneof=protagonist antagonist supporting minor"`
	CanonLockLevel  entity.LockLevel     `json:"canon_lock_level,omitempty" binding:"omitempty,oneof=suggestion soft hard immutable"`
	FirstAppearance entity.Locator       `json:"first_appearance"`
	EstablishRequest
}

// ToCharacterEntity 转换为角色实体与确立属性
func (r *CreateCharacterRequest) ToCharacterEntity(seriesID string) (*entity.Character, statestore.Establish) {
	c := entity.NewCharacter(seriesID, r.Name, r.Role, r.FirstAppearance)
	c.CanonLockLevel = r.CanonLockLevel
	return c, r.toEstablish()
}

// CharacterListResponse 角色列表响应
type CharacterListResponse struct {
	Characters []*entity.Character `json:"characters"`
}

// TimelineResponse 角色时间线响应
type TimelineResponse struct {
	CharacterID string               `json:"character_id"`
	Events      []*entity.CanonEvent `json:"events"`
}

// CreateWorldElementRequest 创建世界元素请求
type CreateWorldElementRequest struct {
	Name            string                  `json:"name" binding:"required,max=128"`
	Kind            entity.WorldElementKind `json:"kind" binding:"required,oneof=location item faction system"`
	ParentID        string                  `json:"parent_id,omitempty"`
	CanonLockLevel  entity.LockLevel        `json:"canon_lock_level,omitempty" binding:"omitempty,oneof=suggestion soft hard immutable"`
	FirstAppearance entity.Locator          `json:"first_appearance"`
	EstablishRequest
}

// ToWorldElementEntity 转换为世界元素实体与确立属性
func (r *CreateWorldElementRequest) ToWorldElementEntity(seriesID string) (*entity.WorldElement, statestore.Establish) {
	w := entity.NewWorldElement(seriesID, r.Name, r.Kind, r.ParentID, r.FirstAppearance)
	w.CanonLockLevel = r.CanonLockLevel
	return w, r.toEstablish()
}

// WorldElementListResponse 世界元素列表响应
type WorldElementListResponse struct {
	WorldElements []*entity.WorldElement `json:"world_elements"`
}
