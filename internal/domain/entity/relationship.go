package entity

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// RelationType 关系类型
type RelationType string

const (
	RelationFriend      RelationType = "friend"
	RelationEnemy       RelationType = "enemy"
	RelationFamily      RelationType = "family"
	RelationLover       RelationType = "lover"
	RelationSubordinate RelationType = "subordinate"
	RelationMentor      RelationType = "mentor"
	RelationRival       RelationType = "rival"
	RelationAlly        RelationType = "ally"
)

// IsValid 是否为已知关系类型
func (t RelationType) IsValid() bool {
	switch t {
	case RelationFriend, RelationEnemy, RelationFamily, RelationLover,
		RelationSubordinate, RelationMentor, RelationRival, RelationAlly:
		return true
	}
	return false
}

// 关系事件的属性键
const (
	RelAttrType      = "type"
	RelAttrIntensity = "intensity"
	RelAttrTension   = "tension_points"
)

// tensionSep 张力点在属性快照中的分隔符
const tensionSep = "|"

// PairID 无序角色对标识
func PairID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

// SplitPairID 拆分 PairID
func SplitPairID(id string) (string, string, bool) {
	a, b, ok := strings.Cut(id, ":")
	if !ok || a == "" || b == "" {
		return "", "", false
	}
	return a, b, true
}

// CharacterRelationship 角色关系，由关系事件投影而来
type CharacterRelationship struct {
	ID            string       `json:"id"`
	SeriesID      string       `json:"series_id"`
	CharacterA    string       `json:"character_a"`
	CharacterB    string       `json:"character_b"`
	Type          RelationType `json:"type"`
	Intensity     int          `json:"intensity" validate:"min=0,max=10"`
	TensionPoints []string     `json:"tension_points"`
	// SourceEventID 最近一次改变关系的事件
	SourceEventID string    `json:"source_event_id"`
	Since         Locator   `json:"since"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Other 返回关系中的另一方
func (r *CharacterRelationship) Other(characterID string) string {
	if r.CharacterA == characterID {
		return r.CharacterB
	}
	return r.CharacterA
}

// ApplyState 用关系事件的新状态更新投影；状态非法时投影保持不变
func (r *CharacterRelationship) ApplyState(state AttributeMap) error {
	if err := ValidateRelationshipState(state); err != nil {
		return err
	}
	if t, ok := state[RelAttrType]; ok {
		r.Type = RelationType(t)
	}
	if v, ok := state[RelAttrIntensity]; ok {
		r.Intensity, _ = strconv.Atoi(v)
	}
	if v, ok := state[RelAttrTension]; ok {
		r.TensionPoints = SplitTension(v)
	}
	return nil
}

// ValidateRelationshipState 校验关系属性快照，允许只包含部分键
func ValidateRelationshipState(state AttributeMap) error {
	for _, k := range state.Keys() {
		v := state[k]
		switch k {
		case RelAttrType:
			if !RelationType(v).IsValid() {
				return invalidFact(fmt.Sprintf("unknown relationship type %q", v))
			}
		case RelAttrIntensity:
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 || n > 10 {
				return invalidFact(fmt.Sprintf("relationship intensity %q must be an integer in 0..10", v))
			}
		case RelAttrTension:
		default:
			return invalidFact("unknown relationship attribute " + k)
		}
	}
	return nil
}

// RelationshipState 将关系字段编码为属性快照
func RelationshipState(t RelationType, intensity int, tension []string) AttributeMap {
	return AttributeMap{
		RelAttrType:      string(t),
		RelAttrIntensity: strconv.Itoa(intensity),
		RelAttrTension:   JoinTension(tension),
	}
}

// JoinTension 排序后拼接张力点
func JoinTension(points []string) string {
	out := append([]string(nil), points...)
	sort.Strings(out)
	return strings.Join(out, tensionSep)
}

// SplitTension 拆分张力点
func SplitTension(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, tensionSep)
}
