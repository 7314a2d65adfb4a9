package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// FactKind 事实类型（封闭集合）
type FactKind string

const (
	FactAttribute    FactKind = "attribute"
	FactEvent        FactKind = "event"
	FactRelationship FactKind = "relationship"
	FactTimeline     FactKind = "timeline"
)

// AttributeAssertion 属性断言：subject.key = value
type AttributeAssertion struct {
	SubjectID string `json:"subject_id" validate:"required"`
	Key       string `json:"key" validate:"required,max=128"`
	Value     string `json:"value"`
	// EventKind 提交时生成的事件类型，为空时按主体推断
	EventKind    EventKind `json:"event_kind,omitempty"`
	Transient    bool      `json:"transient,omitempty"`
	Significance int       `json:"significance" validate:"min=0,max=10"`
}

// EventFact 叙事事件
type EventFact struct {
	SubjectID       string       `json:"subject_id" validate:"required"`
	Kind            EventKind    `json:"kind" validate:"required"`
	NewState        AttributeMap `json:"new_state" validate:"required,min=1"`
	Permanent       bool         `json:"permanent"`
	Significance    int          `json:"significance" validate:"min=0,max=10"`
	LockKeys        []string     `json:"lock_keys,omitempty"`
	References      []string     `json:"references,omitempty"`
	DependsOn       FactRefs     `json:"depends_on,omitempty" validate:"dive"`
	Summary         string       `json:"summary,omitempty" validate:"max=2000"`
	Consequence     string       `json:"consequence,omitempty" validate:"max=2000"`
	ResolvesRipples []string     `json:"resolves_ripples,omitempty"`
}

// RelationshipChange 关系变化
type RelationshipChange struct {
	CharacterA    string       `json:"character_a" validate:"required"`
	CharacterB    string       `json:"character_b" validate:"required,nefield=CharacterA"`
	Type          RelationType `json:"type" validate:"required"`
	Intensity     int          `json:"intensity" validate:"min=0,max=10"`
	TensionPoints []string     `json:"tension_points,omitempty"`
	Significance  int          `json:"significance" validate:"min=0,max=10"`
}

// TimelineClaim 时间线断言：assertion 发生于 value
type TimelineClaim struct {
	Assertion    string `json:"assertion" validate:"required,max=200"`
	Value        string `json:"value" validate:"required"`
	Significance int    `json:"significance" validate:"min=0,max=10"`
}

// Fact 待校验的事实，Kind 决定唯一有效的载荷
type Fact struct {
	Kind FactKind `json:"kind"`
	// Locator 为空时使用批次位置
	Locator      *Locator            `json:"locator,omitempty"`
	Attribute    *AttributeAssertion `json:"attribute,omitempty"`
	Event        *EventFact          `json:"event,omitempty"`
	Relationship *RelationshipChange `json:"relationship,omitempty"`
	Timeline     *TimelineClaim      `json:"timeline,omitempty"`
}

// Claim 事实展开后的单个 (主体, 属性, 值) 断言
type Claim struct {
	SubjectID string `json:"subject_id"`
	Key       string `json:"key"`
	Value     string `json:"value"`
}

// Validate 校验载荷与类型一致且字段合法
func (f *Fact) Validate() error {
	payloads := 0
	for _, set := range []bool{f.Attribute != nil, f.Event != nil, f.Relationship != nil, f.Timeline != nil} {
		if set {
			payloads++
		}
	}
	if payloads != 1 {
		return invalidFact(fmt.Sprintf("fact must carry exactly one payload, got %d", payloads))
	}
	if f.Locator != nil {
		if err := ValidateStruct(f.Locator); err != nil {
			return err
		}
	}
	switch f.Kind {
	case FactAttribute:
		if f.Attribute == nil {
			return invalidFact("attribute fact without attribute payload")
		}
		return ValidateStruct(f.Attribute)
	case FactEvent:
		if f.Event == nil {
			return invalidFact("event fact without event payload")
		}
		if !f.Event.Kind.IsValid() {
			return invalidFact("unknown event kind " + string(f.Event.Kind))
		}
		return ValidateStruct(f.Event)
	case FactRelationship:
		if f.Relationship == nil {
			return invalidFact("relationship fact without relationship payload")
		}
		if !f.Relationship.Type.IsValid() {
			return invalidFact("unknown relationship type " + string(f.Relationship.Type))
		}
		return ValidateStruct(f.Relationship)
	case FactTimeline:
		if f.Timeline == nil {
			return invalidFact("timeline fact without timeline payload")
		}
		return ValidateStruct(f.Timeline)
	default:
		return invalidFact("unknown fact kind " + string(f.Kind))
	}
}

// At 事实的有效位置
func (f *Fact) At(batch Locator) Locator {
	if f.Locator != nil {
		return *f.Locator
	}
	return batch
}

// SubjectID 事实主体
func (f *Fact) SubjectID() string {
	switch f.Kind {
	case FactAttribute:
		return f.Attribute.SubjectID
	case FactEvent:
		return f.Event.SubjectID
	case FactRelationship:
		return PairID(f.Relationship.CharacterA, f.Relationship.CharacterB)
	case FactTimeline:
		return f.Timeline.Assertion
	}
	return ""
}

// Claims 展开为 (主体, 属性, 值) 断言；事件按键排序
func (f *Fact) Claims() []Claim {
	switch f.Kind {
	case FactAttribute:
		a := f.Attribute
		return []Claim{{SubjectID: a.SubjectID, Key: a.Key, Value: a.Value}}
	case FactEvent:
		e := f.Event
		out := make([]Claim, 0, len(e.NewState))
		for _, k := range e.NewState.Keys() {
			out = append(out, Claim{SubjectID: e.SubjectID, Key: k, Value: e.NewState[k]})
		}
		return out
	case FactRelationship:
		r := f.Relationship
		pair := PairID(r.CharacterA, r.CharacterB)
		state := RelationshipState(r.Type, r.Intensity, r.TensionPoints)
		out := make([]Claim, 0, len(state))
		for _, k := range state.Keys() {
			out = append(out, Claim{SubjectID: pair, Key: k, Value: state[k]})
		}
		return out
	case FactTimeline:
		t := f.Timeline
		return []Claim{{SubjectID: t.Assertion, Key: TimelineAttr, Value: t.Value}}
	}
	return nil
}

// Significance 事实自带的重要度
func (f *Fact) Significance() int {
	switch f.Kind {
	case FactAttribute:
		return f.Attribute.Significance
	case FactEvent:
		return f.Event.Significance
	case FactRelationship:
		return f.Relationship.Significance
	case FactTimeline:
		return f.Timeline.Significance
	}
	return 0
}

// Ref 违规引用的事实标识：kind:subject:key@locator~digest
func (f *Fact) Ref(c Claim, at Locator) string {
	b, _ := json.Marshal(f)
	sum := sha256.Sum256(b)
	return fmt.Sprintf("%s:%s:%s@%s~%s", f.Kind, c.SubjectID, c.Key, at, hex.EncodeToString(sum[:6]))
}

// ToEvent 将事实转换为待追加的设定事件；subjectType 由调用方解析
func (f *Fact) ToEvent(seriesID string, subjectType SubjectType, at Locator, origin EventOrigin) *CanonEvent {
	var evt *CanonEvent
	switch f.Kind {
	case FactAttribute:
		a := f.Attribute
		kind := a.EventKind
		if kind == "" {
			kind = DefaultEventKind(subjectType, a.Key)
		}
		evt = NewCanonEvent(seriesID, subjectType, a.SubjectID, kind, at, AttributeMap{a.Key: a.Value})
		evt.IsPermanent = !a.Transient
		evt.Significance = a.Significance
	case FactEvent:
		e := f.Event
		evt = NewCanonEvent(seriesID, subjectType, e.SubjectID, e.Kind, at, e.NewState.Clone())
		evt.IsPermanent = e.Permanent
		evt.Significance = e.Significance
		evt.LockKeys = append([]string(nil), e.LockKeys...)
		evt.References = append([]string(nil), e.References...)
		evt.DependsOn = append(FactRefs(nil), e.DependsOn...)
		evt.Summary = e.Summary
		evt.Consequence = e.Consequence
		evt.ResolvesRipples = append([]string(nil), e.ResolvesRipples...)
	case FactRelationship:
		r := f.Relationship
		evt = NewCanonEvent(seriesID, SubjectRelationship, PairID(r.CharacterA, r.CharacterB), EventRelational, at,
			RelationshipState(r.Type, r.Intensity, r.TensionPoints))
		evt.References = []string{r.CharacterA, r.CharacterB}
		evt.Significance = r.Significance
	case FactTimeline:
		t := f.Timeline
		evt = NewCanonEvent(seriesID, SubjectTimeline, t.Assertion, EventTimeline, at, AttributeMap{TimelineAttr: t.Value})
		evt.Significance = t.Significance
	default:
		return nil
	}
	evt.Origin = origin
	return evt
}

// DefaultEventKind 未指定事件类型时按主体与属性推断
func DefaultEventKind(subjectType SubjectType, key string) EventKind {
	switch {
	case subjectType == SubjectWorldElement:
		return EventWorld
	case subjectType == SubjectRelationship:
		return EventRelational
	case subjectType == SubjectTimeline:
		return EventTimeline
	case key == AttrStatus:
		return EventStatus
	default:
		return EventPhysical
	}
}
