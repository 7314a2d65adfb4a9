// Package statestore 维护系列的版本化设定状态：只追加的事件日志与其投影
package statestore

import (
	"context"
	"fmt"
	"time"

	"z-novel-canon-api/internal/domain/entity"
	"z-novel-canon-api/internal/domain/repository"
	apperrors "z-novel-canon-api/pkg/errors"
	"z-novel-canon-api/pkg/logger"
	"z-novel-canon-api/pkg/metrics"
	"z-novel-canon-api/pkg/tracer"
)

// LockGuard 追加事件前的锁定检查
type LockGuard interface {
	// CheckAppend 检查事件是否会改写被锁定的值；previous 为事件涉及属性的当前值
	CheckAppend(ctx context.Context, event *entity.CanonEvent, previous entity.AttributeMap) error
}

// Store 状态存储引擎
type Store struct {
	repos *repository.CanonRepositories
	guard LockGuard
	now   func() time.Time
}

// NewStore 创建状态存储引擎
func NewStore(repos *repository.CanonRepositories, guard LockGuard) *Store {
	return &Store{repos: repos, guard: guard, now: time.Now}
}

// Repos 底层仓储
func (s *Store) Repos() *repository.CanonRepositories {
	return s.repos
}

// AppendEvent 追加设定事件并返回事件 ID
// 同一系列内串行执行；序号为 0 时分配章节内下一个序号
func (s *Store) AppendEvent(ctx context.Context, event *entity.CanonEvent) (string, error) {
	ctx, span := tracer.StartSeries(ctx, "statestore.AppendEvent", event.SeriesID)
	var err error
	defer func() { tracer.End(span, err) }()

	err = s.repos.Tx.WithSeriesLock(ctx, event.SeriesID, func(ctx context.Context) error {
		if err := s.appendLocked(ctx, event); err != nil {
			return err
		}
		_, err := s.repos.Series.IncrementVersion(ctx, event.SeriesID)
		return err
	})
	if err != nil {
		return "", err
	}
	return event.ID, nil
}

// appendLocked 在系列锁内追加事件
func (s *Store) appendLocked(ctx context.Context, event *entity.CanonEvent) error {
	if err := s.checkEvent(ctx, event); err != nil {
		return err
	}

	// 1) 已写入后续卷时，较早的卷视为封存
	head, err := s.repos.Events.Head(ctx, event.SeriesID)
	if err != nil {
		return err
	}
	if head != nil && event.Locator.Book < head.Book {
		return apperrors.ErrHistorySealed.WithDetail(fmt.Sprintf("book %d sealed, head is %s", event.Locator.Book, head))
	}

	// 2) 分配或校验章节内序号
	last, err := s.repos.Events.LastSequence(ctx, event.SeriesID, event.Locator.Book, event.Locator.Chapter)
	if err != nil {
		return err
	}
	switch {
	case event.Locator.Sequence == 0:
		event.Locator.Sequence = last + 1
	case event.Locator.Sequence <= last:
		return apperrors.ErrSequenceConflict.WithDetail(
			fmt.Sprintf("sequence %d not after %d in B%dC%d", event.Locator.Sequence, last, event.Locator.Book, event.Locator.Chapter))
	}

	// 3) 覆盖事件必须晚于被覆盖事件
	if event.Supersedes != "" {
		target, err := s.repos.Events.GetByID(ctx, event.Supersedes)
		if err != nil {
			return err
		}
		if target == nil || target.SeriesID != event.SeriesID {
			return apperrors.ErrEventNotFound.WithDetail(event.Supersedes)
		}
		if !target.Locator.Before(event.Locator) {
			return apperrors.ErrInvalidRevision.WithDetail(
				fmt.Sprintf("superseding event at %s must follow %s", event.Locator, target.Locator))
		}
	}

	// 4) 锁定与状态机检查
	previous, setAt, err := s.currentValues(ctx, event.SeriesID, event.SubjectID, event.NewState.Keys())
	if err != nil {
		return err
	}
	event.PreviousState = previous
	if s.guard != nil {
		// 补写在确立事件之前的值不改变当前值，不受锁定约束
		check := event
		for k, loc := range setAt {
			if event.Locator.Before(loc) {
				if check == event {
					check = event.Clone()
				}
				delete(check.NewState, k)
			}
		}
		if len(check.NewState) > 0 {
			if err := s.guard.CheckAppend(ctx, check, previous); err != nil {
				return err
			}
		}
	}
	if err := s.checkStatusTransition(ctx, event); err != nil {
		return err
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now()
	}
	if err := s.repos.Events.Append(ctx, event); err != nil {
		return err
	}
	if err := s.project(ctx, event); err != nil {
		return err
	}

	metrics.EventsAppended.WithLabelValues(string(event.SubjectType), string(event.Origin)).Inc()
	logger.Debug(ctx, "canon event appended",
		"event_id", event.ID,
		"subject_id", event.SubjectID,
		"locator", event.Locator.String(),
	)
	return nil
}

// AppendInTx 在调用方已持有的系列事务内追加事件，不递增版本
func (s *Store) AppendInTx(ctx context.Context, event *entity.CanonEvent) error {
	return s.repos.Tx.WithSeriesLock(ctx, event.SeriesID, func(ctx context.Context) error {
		return s.appendLocked(ctx, event)
	})
}

// Touch 递增系列状态版本
func (s *Store) Touch(ctx context.Context, seriesID string) (int64, error) {
	return s.repos.Series.IncrementVersion(ctx, seriesID)
}

// checkEvent 边界校验：越界的重要度直接拒绝，主体必须存在
func (s *Store) checkEvent(ctx context.Context, event *entity.CanonEvent) error {
	if !event.SubjectType.IsValid() {
		return apperrors.ErrInvalidFact.WithDetail("unknown subject type " + string(event.SubjectType))
	}
	if !event.Kind.IsValid() {
		return apperrors.ErrInvalidFact.WithDetail("unknown event kind " + string(event.Kind))
	}
	if len(event.NewState) == 0 {
		return apperrors.ErrInvalidFact.WithDetail("event has empty new_state")
	}
	if err := entity.ValidateStruct(event); err != nil {
		return err
	}
	if err := entity.ValidateStruct(event.Locator); err != nil {
		return err
	}
	if event.SubjectType == entity.SubjectRelationship {
		if err := entity.ValidateRelationshipState(event.NewState); err != nil {
			return err
		}
	}
	series, err := s.repos.Series.GetByID(ctx, event.SeriesID)
	if err != nil {
		return err
	}
	if series == nil {
		return apperrors.ErrSeriesNotFound.WithDetail(event.SeriesID)
	}
	return s.CheckSubject(ctx, event.SeriesID, event.SubjectType, event.SubjectID)
}

// CheckSubject 检查主体存在于系列中
func (s *Store) CheckSubject(ctx context.Context, seriesID string, subjectType entity.SubjectType, subjectID string) error {
	switch subjectType {
	case entity.SubjectCharacter:
		c, err := s.repos.Characters.GetByID(ctx, subjectID)
		if err != nil {
			return err
		}
		if c == nil || c.SeriesID != seriesID {
			return apperrors.ErrCharacterNotFound.WithDetail(subjectID)
		}
	case entity.SubjectWorldElement:
		w, err := s.repos.WorldElements.GetByID(ctx, subjectID)
		if err != nil {
			return err
		}
		if w == nil || w.SeriesID != seriesID {
			return apperrors.ErrWorldElementNotFound.WithDetail(subjectID)
		}
	case entity.SubjectRelationship:
		a, b, ok := entity.SplitPairID(subjectID)
		if !ok {
			return apperrors.ErrInvalidFact.WithDetail("malformed pair id " + subjectID)
		}
		for _, id := range []string{a, b} {
			if err := s.CheckSubject(ctx, seriesID, entity.SubjectCharacter, id); err != nil {
				return err
			}
		}
	case entity.SubjectTimeline:
		if subjectID == "" {
			return apperrors.ErrInvalidFact.WithDetail("timeline assertion is empty")
		}
	}
	return nil
}

// ResolveSubject 判断主体类型：角色或世界元素
func (s *Store) ResolveSubject(ctx context.Context, seriesID, subjectID string) (entity.SubjectType, error) {
	c, err := s.repos.Characters.GetByID(ctx, subjectID)
	if err != nil {
		return "", err
	}
	if c != nil && c.SeriesID == seriesID {
		return entity.SubjectCharacter, nil
	}
	w, err := s.repos.WorldElements.GetByID(ctx, subjectID)
	if err != nil {
		return "", err
	}
	if w != nil && w.SeriesID == seriesID {
		return entity.SubjectWorldElement, nil
	}
	return "", apperrors.ErrEntityNotFound.WithDetail(subjectID)
}

// currentValues 主体在最新位置上的永久属性值及其确立位置
func (s *Store) currentValues(ctx context.Context, seriesID, subjectID string, keys []string) (entity.AttributeMap, map[string]entity.Locator, error) {
	events, err := s.repos.Events.ListBySubject(ctx, seriesID, subjectID)
	if err != nil {
		return nil, nil, err
	}
	out := entity.AttributeMap{}
	setAt := map[string]entity.Locator{}
	for _, e := range events {
		if !e.IsPermanent {
			continue
		}
		for _, k := range keys {
			if v, ok := e.NewState[k]; ok {
				out[k] = v
				setAt[k] = e.Locator
			}
		}
	}
	return out, setAt, nil
}

// checkStatusTransition 角色状态迁移检查；retcon 覆盖事件不受状态机约束
func (s *Store) checkStatusTransition(ctx context.Context, event *entity.CanonEvent) error {
	next, ok := event.NewState[entity.AttrStatus]
	if !ok || event.SubjectType != entity.SubjectCharacter {
		return nil
	}
	to := entity.CharacterStatus(next)
	if !to.IsValid() {
		return apperrors.ErrInvalidFact.WithDetail("unknown character status " + next)
	}
	if event.RevisionKind == string(entity.RevisionRetcon) {
		return nil
	}
	c, err := s.repos.Characters.GetByID(ctx, event.SubjectID)
	if err != nil {
		return err
	}
	if event.Kind == entity.EventEstablish {
		return nil
	}
	if !c.Status.CanTransitionTo(to) {
		return apperrors.ErrInvalidTransition.WithDetail(fmt.Sprintf("character %s: %s -> %s", c.Name, c.Status, to))
	}
	return nil
}
