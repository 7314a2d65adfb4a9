package entity

import (
	"time"
)

// WorldElementKind 世界元素类型
type WorldElementKind string

const (
	WorldLocation WorldElementKind = "location"
	WorldItem     WorldElementKind = "item"
	WorldFaction  WorldElementKind = "faction"
	WorldSystem   WorldElementKind = "system"
)

// WorldElement 世界设定元素（地点/物品/势力/体系）
type WorldElement struct {
	ID       string           `json:"id"`
	SeriesID string           `json:"series_id"`
	Name     string           `json:"name" validate:"required,max=128"`
	Kind     WorldElementKind `json:"kind" validate:"required,oneof=location item faction system"`
	// ParentID 所属的势力或地点
	ParentID            string    `json:"parent_id,omitempty"`
	CanonLockLevel      LockLevel `json:"canon_lock_level,omitempty" validate:"omitempty,oneof=suggestion soft hard immutable"`
	LockedAttributeKeys []string  `json:"locked_attribute_keys"`
	FirstAppearance     Locator   `json:"first_appearance"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// NewWorldElement 创建世界元素
func NewWorldElement(seriesID, name string, kind WorldElementKind, parentID string, firstAppearance Locator) *WorldElement {
	now := time.Now()
	return &WorldElement{
		SeriesID:            seriesID,
		Name:                name,
		Kind:                kind,
		ParentID:            parentID,
		LockedAttributeKeys: []string{},
		FirstAppearance:     firstAppearance,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// IsLocked 属性是否被锁定
func (w *WorldElement) IsLocked(key string) bool {
	return containsString(w.LockedAttributeKeys, key)
}

// LockKeys 追加锁定属性
func (w *WorldElement) LockKeys(keys ...string) bool {
	var changed bool
	w.LockedAttributeKeys, changed = mergeKeys(w.LockedAttributeKeys, keys)
	if changed {
		w.UpdatedAt = time.Now()
	}
	return changed
}
