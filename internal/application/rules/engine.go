// Package rules 实现设定规则引擎：规则定义、判定与存储层锁定检查
package rules

import (
	"context"
	"fmt"

	"z-novel-canon-api/internal/domain/entity"
	"z-novel-canon-api/internal/domain/repository"
	apperrors "z-novel-canon-api/pkg/errors"
	"z-novel-canon-api/pkg/logger"
	"z-novel-canon-api/pkg/tracer"
)

// Engine 规则引擎
type Engine struct {
	rules repository.CanonRuleRepository
}

// NewEngine 创建规则引擎
func NewEngine(rules repository.CanonRuleRepository) *Engine {
	return &Engine{rules: rules}
}

// Define 保存规则并返回规则 ID；调用方负责确认作用域中的实体存在
func (e *Engine) Define(ctx context.Context, rule *entity.CanonRule) (string, error) {
	ctx, span := tracer.StartSeries(ctx, "rules.Define", rule.SeriesID)
	var err error
	defer func() { tracer.End(span, err) }()

	if err = rule.Validate(); err != nil {
		return "", err
	}
	if err = e.rules.Create(ctx, rule); err != nil {
		return "", err
	}
	logger.Info(ctx, "canon rule defined",
		"rule_id", rule.ID,
		"scope", string(rule.Scope.Kind),
		"lock_level", string(rule.LockLevel),
	)
	return rule.ID, nil
}

// List 系列的全部规则
func (e *Engine) List(ctx context.Context, seriesID string) ([]*entity.CanonRule, error) {
	return e.rules.ListBySeries(ctx, seriesID)
}

// Evaluate 判定对 (subject, key) 的提议取值
func (e *Engine) Evaluate(ctx context.Context, seriesID, subjectID, key, proposed string, ec EvalContext) (Decision, error) {
	rules, err := e.rules.ListBySeries(ctx, seriesID)
	if err != nil {
		return Decision{}, err
	}
	return Decide(rules, subjectID, key, proposed, ec), nil
}

// CheckAppend 实现 statestore.LockGuard：immutable 值只能被 retcon 覆盖事件改写
func (e *Engine) CheckAppend(ctx context.Context, event *entity.CanonEvent, previous entity.AttributeMap) error {
	rules, err := e.rules.ListBySeries(ctx, event.SeriesID)
	if err != nil {
		return err
	}
	retcon := event.RevisionKind == string(entity.RevisionRetcon) && event.Supersedes != ""
	for _, key := range event.NewState.Keys() {
		current, hasCurrent := previous[key]
		for _, r := range Matching(rules, event.SubjectID, key, event.NewState[key], current, hasCurrent) {
			if r.LockLevel != entity.LockImmutable {
				continue
			}
			if retcon {
				break
			}
			return apperrors.ErrCanonLocked.WithDetail(
				fmt.Sprintf("%s.%s is immutable (rule %s)", event.SubjectID, key, r.ID))
		}
	}
	return nil
}
