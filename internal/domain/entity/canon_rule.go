package entity

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// RuleScopeKind 规则作用域类型
type RuleScopeKind string

const (
	ScopeAttribute RuleScopeKind = "attribute"
	ScopeTimeline  RuleScopeKind = "timeline"
	ScopeEntity    RuleScopeKind = "entity"
	ScopeSeries    RuleScopeKind = "series"
)

// RuleScope 规则作用域
// attribute: (EntityID, AttributeKey)；timeline: (SeriesID, TimelineAssertion)；
// entity: 整个实体；series: 系列默认
type RuleScope struct {
	Kind              RuleScopeKind `json:"kind" validate:"required,oneof=attribute timeline entity series"`
	EntityID          string        `json:"entity_id,omitempty"`
	AttributeKey      string        `json:"attribute_key,omitempty"`
	TimelineAssertion string        `json:"timeline_assertion,omitempty"`
}

// Specificity 作用域越窄数值越大
func (s RuleScope) Specificity() int {
	switch s.Kind {
	case ScopeAttribute, ScopeTimeline:
		return 3
	case ScopeEntity:
		return 2
	case ScopeSeries:
		return 1
	default:
		return 0
	}
}

// Matches 作用域是否覆盖 (subject, attribute)
func (s RuleScope) Matches(subjectID, attr string) bool {
	switch s.Kind {
	case ScopeAttribute:
		return s.EntityID == subjectID && s.AttributeKey == attr
	case ScopeTimeline:
		return s.TimelineAssertion == subjectID && attr == TimelineAttr
	case ScopeEntity:
		return s.EntityID == subjectID
	case ScopeSeries:
		return true
	default:
		return false
	}
}

// Validate 校验作用域字段完整性
func (s RuleScope) Validate() error {
	if err := ValidateStruct(s); err != nil {
		return err
	}
	switch s.Kind {
	case ScopeAttribute:
		if s.EntityID == "" || s.AttributeKey == "" {
			return invalidFact("attribute scope requires entity_id and attribute_key")
		}
	case ScopeTimeline:
		if s.TimelineAssertion == "" {
			return invalidFact("timeline scope requires timeline_assertion")
		}
	case ScopeEntity:
		if s.EntityID == "" {
			return invalidFact("entity scope requires entity_id")
		}
	}
	return nil
}

// PredicateOp 谓词运算符
type PredicateOp string

const (
	PredEquals    PredicateOp = "equals"
	PredNotEquals PredicateOp = "not_equals"
	PredOneOf     PredicateOp = "one_of"
	PredNoneOf    PredicateOp = "none_of"
)

// Predicate 规则谓词
type Predicate struct {
	Op     PredicateOp `json:"op" validate:"required,oneof=equals not_equals one_of none_of"`
	Values []string    `json:"values" validate:"required,min=1"`
}

// Accepts 值是否满足谓词
func (p Predicate) Accepts(value string) bool {
	switch p.Op {
	case PredEquals:
		return len(p.Values) > 0 && value == p.Values[0]
	case PredNotEquals:
		return len(p.Values) > 0 && value != p.Values[0]
	case PredOneOf:
		return containsString(p.Values, value)
	case PredNoneOf:
		return !containsString(p.Values, value)
	default:
		return false
	}
}

// Value 实现 driver.Valuer 接口
func (p *Predicate) Value() (driver.Value, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

// Scan 实现 sql.Scanner 接口
func (p *Predicate) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("unsupported predicate type %T", value)
	}
	return json.Unmarshal(b, p)
}

// CanonRule 设定规则
type CanonRule struct {
	ID        string    `json:"id"`
	SeriesID  string    `json:"series_id"`
	Scope     RuleScope `json:"scope"`
	LockLevel LockLevel `json:"lock_level" validate:"required,oneof=suggestion soft hard immutable"`
	// ExpectedValue 与 Predicate 均为空时，规则锁定为已确立的值
	ExpectedValue *string    `json:"expected_value,omitempty"`
	Predicate     *Predicate `json:"predicate,omitempty"`
	Description   string     `json:"description,omitempty" validate:"max=500"`
	SourceEventID string     `json:"source_event_id,omitempty"`
	CreatedBy     string     `json:"created_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// NewCanonRule 创建规则
func NewCanonRule(seriesID string, scope RuleScope, level LockLevel) *CanonRule {
	return &CanonRule{
		SeriesID:  seriesID,
		Scope:     scope,
		LockLevel: level,
		CreatedAt: time.Now(),
	}
}

// HasExpectation 规则是否声明了期望
func (r *CanonRule) HasExpectation() bool {
	return r.Predicate != nil || r.ExpectedValue != nil
}

// Expected 规则声明的期望值
func (r *CanonRule) Expected() (string, bool) {
	if r.ExpectedValue != nil {
		return *r.ExpectedValue, true
	}
	if r.Predicate != nil && r.Predicate.Op == PredEquals && len(r.Predicate.Values) > 0 {
		return r.Predicate.Values[0], true
	}
	return "", false
}

// ViolatedBy 提议值是否违反规则
// 无期望时以当前确立值为准；没有确立值则无可违反
func (r *CanonRule) ViolatedBy(value, current string, hasCurrent bool) bool {
	switch {
	case r.Predicate != nil:
		return !r.Predicate.Accepts(value)
	case r.ExpectedValue != nil:
		return value != *r.ExpectedValue
	case hasCurrent:
		return value != current
	default:
		return false
	}
}

// Validate 校验规则
func (r *CanonRule) Validate() error {
	if err := ValidateStruct(r); err != nil {
		return err
	}
	if r.Predicate != nil {
		if err := ValidateStruct(r.Predicate); err != nil {
			return err
		}
	}
	return r.Scope.Validate()
}

// RuleOutranks 规则优先级：锁定级别更高优先，同级时作用域更窄优先，最后按 ID
func RuleOutranks(a, b *CanonRule) bool {
	if la, lb := a.LockLevel.Rank(), b.LockLevel.Rank(); la != lb {
		return la > lb
	}
	if sa, sb := a.Scope.Specificity(), b.Scope.Specificity(); sa != sb {
		return sa > sb
	}
	return a.ID < b.ID
}
