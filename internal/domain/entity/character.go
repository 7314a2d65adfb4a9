package entity

import (
	"sort"
	"time"
)

// CharacterStatus 角色状态
type CharacterStatus string

const (
	CharacterActive      CharacterStatus = "active"
	CharacterDeceased    CharacterStatus = "deceased"
	CharacterMissing     CharacterStatus = "missing"
	CharacterRetired     CharacterStatus = "retired"
	CharacterTransformed CharacterStatus = "transformed"
)

// statusTransitions 角色状态机；deceased 为终态，仅能通过 retcon 改写
var statusTransitions = map[CharacterStatus][]CharacterStatus{
	CharacterActive:      {CharacterDeceased, CharacterMissing, CharacterRetired, CharacterTransformed},
	CharacterTransformed: {CharacterActive, CharacterDeceased, CharacterMissing, CharacterRetired, CharacterTransformed},
	CharacterMissing:     {CharacterActive, CharacterDeceased, CharacterTransformed},
	CharacterRetired:     {CharacterActive, CharacterDeceased},
	CharacterDeceased:    {},
}

// IsValid 是否为合法状态
func (s CharacterStatus) IsValid() bool {
	_, ok := statusTransitions[s]
	return ok
}

// CanTransitionTo 检查状态迁移是否合法
func (s CharacterStatus) CanTransitionTo(next CharacterStatus) bool {
	if s == next && s != CharacterTransformed {
		return true
	}
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CharacterRole 角色定位
type CharacterRole string

const (
	RoleProtagonist CharacterRole = "protagonist"
	RoleAntagonist  CharacterRole = "antagonist"
	RoleSupporting  CharacterRole = "supporting"
	RoleMinor       CharacterRole = "minor"
)

// 角色核心属性键
const (
	AttrStatus              = "status"
	AttrTraits              = "traits"
	AttrPhysicalDescription = "physical_description"
	AttrDialogueStyle       = "dialogue_style"
)

// Character 角色
// 核心属性只能通过 CanonEvent 变更，行内仅保存状态与锁定投影
type Character struct {
	ID                  string          `json:"id"`
	SeriesID            string          `json:"series_id"`
	Name                string          `json:"name" validate:"required,max=128"`
	Role                CharacterRole   `json:"role" validate:"omitempty,oneof=protagonist antagonist supporting minor"`
	Status              CharacterStatus `json:"status"`
	CanonLockLevel      LockLevel       `json:"canon_lock_level,omitempty" validate:"omitempty,oneof=suggestion soft hard immutable"`
	LockedAttributeKeys []string        `json:"locked_attribute_keys"`
	FirstAppearance     Locator         `json:"first_appearance"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// NewCharacter 创建角色
func NewCharacter(seriesID, name string, role CharacterRole, firstAppearance Locator) *Character {
	now := time.Now()
	if role == "" {
		role = RoleSupporting
	}
	return &Character{
		SeriesID:            seriesID,
		Name:                name,
		Role:                role,
		Status:              CharacterActive,
		LockedAttributeKeys: []string{},
		FirstAppearance:     firstAppearance,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// IsLocked 属性是否被锁定
func (c *Character) IsLocked(key string) bool {
	return containsString(c.LockedAttributeKeys, key)
}

// LockKeys 追加锁定属性，返回是否有变化
func (c *Character) LockKeys(keys ...string) bool {
	var changed bool
	c.LockedAttributeKeys, changed = mergeKeys(c.LockedAttributeKeys, keys)
	if changed {
		c.UpdatedAt = time.Now()
	}
	return changed
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// mergeKeys 合并并排序键集合
func mergeKeys(existing, add []string) ([]string, bool) {
	changed := false
	out := append([]string(nil), existing...)
	for _, k := range add {
		if k == "" || containsString(out, k) {
			continue
		}
		out = append(out, k)
		changed = true
	}
	sort.Strings(out)
	return out, changed
}
