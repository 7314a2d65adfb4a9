package entity

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// SubjectType 事件主体类型
type SubjectType string

const (
	SubjectCharacter    SubjectType = "character"
	SubjectWorldElement SubjectType = "world_element"
	SubjectRelationship SubjectType = "relationship"
	SubjectTimeline     SubjectType = "timeline"
)

// IsValid 是否为合法主体类型
func (s SubjectType) IsValid() bool {
	switch s {
	case SubjectCharacter, SubjectWorldElement, SubjectRelationship, SubjectTimeline:
		return true
	}
	return false
}

// EventKind 事件类型
type EventKind string

const (
	EventPhysical      EventKind = "physical"
	EventPsychological EventKind = "psychological"
	EventRelational    EventKind = "relational"
	EventStatus        EventKind = "status"
	EventAbility       EventKind = "ability"
	// EventEstablish 初次登场时的设定
	EventEstablish EventKind = "establish"
	EventWorld     EventKind = "world"
	EventTimeline  EventKind = "timeline"
)

// IsValid 是否为合法事件类型
func (k EventKind) IsValid() bool {
	switch k {
	case EventPhysical, EventPsychological, EventRelational, EventStatus, EventAbility,
		EventEstablish, EventWorld, EventTimeline:
		return true
	}
	return false
}

// EventOrigin 事件来源
type EventOrigin string

const (
	OriginAuthor    EventOrigin = "author"
	OriginGenerator EventOrigin = "generator"
	OriginRevision  EventOrigin = "revision"
	OriginSystem    EventOrigin = "system"
)

// TimelineAttr 时间线断言的属性键
const TimelineAttr = "at"

// AttributeMap 属性快照
type AttributeMap map[string]string

// Value 实现 driver.Valuer 接口
func (a AttributeMap) Value() (driver.Value, error) {
	if a == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(a)
}

// Scan 实现 sql.Scanner 接口
func (a *AttributeMap) Scan(value interface{}) error {
	if value == nil {
		*a = AttributeMap{}
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("unsupported attribute map type %T", value)
	}
	return json.Unmarshal(b, a)
}

// Clone 深拷贝
func (a AttributeMap) Clone() AttributeMap {
	out := make(AttributeMap, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Keys 排序后的键
func (a AttributeMap) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FactRef 事实引用：(主体, 属性)
type FactRef struct {
	SubjectID string `json:"subject_id" validate:"required"`
	Attribute string `json:"attribute" validate:"required"`
}

// String 返回 subject#attribute 形式
func (r FactRef) String() string {
	return r.SubjectID + "#" + r.Attribute
}

// ParseFactRef 解析 subject#attribute
func ParseFactRef(s string) (FactRef, bool) {
	i := strings.LastIndex(s, "#")
	if i <= 0 || i == len(s)-1 {
		return FactRef{}, false
	}
	return FactRef{SubjectID: s[:i], Attribute: s[i+1:]}, true
}

// FactRefs 用于 jsonb 持久化的引用列表
type FactRefs []FactRef

// Value 实现 driver.Valuer 接口
func (f FactRefs) Value() (driver.Value, error) {
	if f == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(f)
}

// Scan 实现 sql.Scanner 接口
func (f *FactRefs) Scan(value interface{}) error {
	if value == nil {
		*f = nil
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("unsupported fact refs type %T", value)
	}
	return json.Unmarshal(b, f)
}

// Contains 是否包含引用
func (f FactRefs) Contains(ref FactRef) bool {
	for _, r := range f {
		if r == ref {
			return true
		}
	}
	return false
}

// CanonEvent 设定事件，追加写入，永不原地修改
type CanonEvent struct {
	ID          string      `json:"id"`
	SeriesID    string      `json:"series_id"`
	SubjectType SubjectType `json:"subject_type"`
	SubjectID   string      `json:"subject_id"`
	Kind        EventKind   `json:"kind"`
	Locator     Locator     `json:"locator"`
	IsPermanent bool        `json:"is_permanent"`
	// Significance 重要度 0..10，越界直接拒绝
	Significance  int          `json:"significance" validate:"min=0,max=10"`
	PreviousState AttributeMap `json:"previous_state"`
	NewState      AttributeMap `json:"new_state"`
	// LockKeys 本事件确立并锁定的属性
	LockKeys []string `json:"lock_keys,omitempty"`
	// References 本事件提及的其他实体
	References []string `json:"references,omitempty"`
	DependsOn  FactRefs `json:"depends_on,omitempty"`
	// Supersedes 被本事件覆盖的事件
	Supersedes        string      `json:"supersedes,omitempty"`
	RevisionRequestID string      `json:"revision_request_id,omitempty"`
	RevisionKind      string      `json:"revision_kind,omitempty"`
	Origin            EventOrigin `json:"origin"`
	Summary           string      `json:"summary,omitempty"`
	// Consequence 长期后果（涟漪），在后续生成上下文中呈现
	Consequence     string    `json:"consequence,omitempty"`
	ResolvesRipples []string  `json:"resolves_ripples,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// NewCanonEvent 创建设定事件
func NewCanonEvent(seriesID string, subjectType SubjectType, subjectID string, kind EventKind, loc Locator, newState AttributeMap) *CanonEvent {
	return &CanonEvent{
		SeriesID:      seriesID,
		SubjectType:   subjectType,
		SubjectID:     subjectID,
		Kind:          kind,
		Locator:       loc,
		IsPermanent:   true,
		NewState:      newState,
		PreviousState: AttributeMap{},
		Origin:        OriginAuthor,
		CreatedAt:     time.Now(),
	}
}

// Mentions 事件是否提及某个实体或值
func (e *CanonEvent) Mentions(idOrValue string) bool {
	if idOrValue == "" {
		return false
	}
	if e.SubjectID == idOrValue || containsString(e.References, idOrValue) {
		return true
	}
	for _, v := range e.NewState {
		if v == idOrValue {
			return true
		}
	}
	return false
}

// Ref 事件对某个属性的事实引用
func (e *CanonEvent) Ref(attr string) FactRef {
	return FactRef{SubjectID: e.SubjectID, Attribute: attr}
}

// Clone 深拷贝事件
func (e *CanonEvent) Clone() *CanonEvent {
	c := *e
	c.PreviousState = e.PreviousState.Clone()
	c.NewState = e.NewState.Clone()
	c.LockKeys = append([]string(nil), e.LockKeys...)
	c.References = append([]string(nil), e.References...)
	c.DependsOn = append(FactRefs(nil), e.DependsOn...)
	c.ResolvesRipples = append([]string(nil), e.ResolvesRipples...)
	return &c
}
