package dto

import (
	"z-novel-canon-api/internal/domain/entity"
)

// DefineRuleRequest 定义设定规则请求
type DefineRuleRequest struct {
	Scope         entity.RuleScope  `json:"scope"`
	LockLevel     entity.LockLevel  `json:"lock_level" binding:"required,oneof=suggestion soft hard immutable"`
	ExpectedValue *string           `json:"expected_value,omitempty"`
	Predicate     *entity.Predicate `json:"predicate,omitempty"`
	Description   string            `json:"description,omitempty" binding:"max=500"`
}

// ToRuleEntity 转换为规则实体
func (r *DefineRuleRequest) ToRuleEntity(actor string) *entity.CanonRule {
	return &entity.CanonRule{
		ExpectedValue: r.ExpectedValue,
		Predicate:     r.Predicate,
		Description:   r.Description,
		CreatedBy:     actor,
	}
}

// DefineRuleResponse 定义规则响应
type DefineRuleResponse struct {
	ID string `json:"id"`
}

// RuleListResponse 规则列表响应
type RuleListResponse struct {
	Rules []*entity.CanonRule `json:"rules"`
}
