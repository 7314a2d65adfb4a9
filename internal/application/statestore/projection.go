package statestore

import (
	"context"

	"z-novel-canon-api/internal/domain/entity"
	apperrors "z-novel-canon-api/pkg/errors"
)

// project 将事件投影到角色、世界元素、关系与锁定规则
func (s *Store) project(ctx context.Context, event *entity.CanonEvent) error {
	switch event.SubjectType {
	case entity.SubjectCharacter:
		return s.projectCharacter(ctx, event)
	case entity.SubjectWorldElement:
		return s.projectWorldElement(ctx, event)
	case entity.SubjectRelationship:
		return s.projectRelationship(ctx, event)
	}
	return s.materializeLocks(ctx, event, event.LockKeys)
}

func (s *Store) projectCharacter(ctx context.Context, event *entity.CanonEvent) error {
	c, err := s.repos.Characters.GetByID(ctx, event.SubjectID)
	if err != nil {
		return err
	}
	if c == nil {
		return apperrors.ErrCharacterNotFound.WithDetail(event.SubjectID)
	}

	changed := false
	locks := append([]string(nil), event.LockKeys...)
	if next, ok := event.NewState[entity.AttrStatus]; ok && event.IsPermanent {
		status := entity.CharacterStatus(next)
		if c.Status != status {
			c.Status = status
			c.UpdatedAt = s.now()
			changed = true
		}
		// 死亡为终态，锁定 status，仅 retcon 可改写
		if status == entity.CharacterDeceased {
			locks = append(locks, entity.AttrStatus)
		}
	}
	if event.IsPermanent && c.LockKeys(locks...) {
		changed = true
	}
	if changed {
		if err := s.repos.Characters.Update(ctx, c); err != nil {
			return err
		}
	}
	if !event.IsPermanent {
		return nil
	}
	return s.materializeLocks(ctx, event, locks)
}

func (s *Store) projectWorldElement(ctx context.Context, event *entity.CanonEvent) error {
	if !event.IsPermanent || len(event.LockKeys) == 0 {
		return nil
	}
	w, err := s.repos.WorldElements.GetByID(ctx, event.SubjectID)
	if err != nil {
		return err
	}
	if w == nil {
		return apperrors.ErrWorldElementNotFound.WithDetail(event.SubjectID)
	}
	if w.LockKeys(event.LockKeys...) {
		if err := s.repos.WorldElements.Update(ctx, w); err != nil {
			return err
		}
	}
	return s.materializeLocks(ctx, event, event.LockKeys)
}

func (s *Store) projectRelationship(ctx context.Context, event *entity.CanonEvent) error {
	rel, err := s.repos.Relationships.GetByPair(ctx, event.SeriesID, event.SubjectID)
	if err != nil {
		return err
	}
	if rel == nil {
		a, b, _ := entity.SplitPairID(event.SubjectID)
		rel = &entity.CharacterRelationship{
			ID:            event.SubjectID,
			SeriesID:      event.SeriesID,
			CharacterA:    a,
			CharacterB:    b,
			TensionPoints: []string{},
			Since:         event.Locator,
		}
	}
	if err := rel.ApplyState(event.NewState); err != nil {
		return err
	}
	if err := entity.ValidateStruct(rel); err != nil {
		return err
	}
	rel.SourceEventID = event.ID
	rel.UpdatedAt = s.now()
	if err := s.repos.Relationships.Upsert(ctx, rel); err != nil {
		return err
	}
	return s.materializeLocks(ctx, event, event.LockKeys)
}

// materializeLocks 为锁定属性写入 immutable 规则；已有同范围 immutable 规则时跳过
func (s *Store) materializeLocks(ctx context.Context, event *entity.CanonEvent, keys []string) error {
	if len(keys) == 0 || !event.IsPermanent {
		return nil
	}
	rules, err := s.repos.Rules.ListBySeries(ctx, event.SeriesID)
	if err != nil {
		return err
	}
	seen := map[string]bool{}
	for _, r := range rules {
		if r.Scope.Kind == entity.ScopeAttribute && r.LockLevel == entity.LockImmutable && r.Scope.EntityID == event.SubjectID {
			seen[r.Scope.AttributeKey] = true
		}
	}
	for _, key := range keys {
		if seen[key] {
			continue
		}
		seen[key] = true
		rule := entity.NewCanonRule(event.SeriesID, entity.RuleScope{
			Kind:         entity.ScopeAttribute,
			EntityID:     event.SubjectID,
			AttributeKey: key,
		}, entity.LockImmutable)
		rule.SourceEventID = event.ID
		rule.Description = "locked by event at " + event.Locator.String()
		rule.CreatedBy = string(entity.OriginSystem)
		rule.CreatedAt = s.now()
		if err := s.repos.Rules.Create(ctx, rule); err != nil {
			return err
		}
	}
	return nil
}
