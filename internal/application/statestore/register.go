package statestore

import (
	"context"

	"github.com/google/uuid"

	"z-novel-canon-api/internal/domain/entity"
	apperrors "z-novel-canon-api/pkg/errors"
	"z-novel-canon-api/pkg/logger"
	"z-novel-canon-api/pkg/tracer"
)

// Establish 初次登场时确立的属性
type Establish struct {
	Attributes   entity.AttributeMap
	LockKeys     []string
	Significance int
	References   []string
}

// CreateSeries 创建系列并写入系列级默认规则
func (s *Store) CreateSeries(ctx context.Context, series *entity.Series) error {
	if err := entity.ValidateStruct(series); err != nil {
		return err
	}
	if series.ID == "" {
		series.ID = uuid.New().String()
	}
	if series.Config.DefaultLockLevel == "" {
		series.Config.DefaultLockLevel = entity.LockSuggestion
	}
	ctx, span := tracer.StartSeries(ctx, "statestore.CreateSeries", series.ID)
	err := s.repos.Tx.WithSeriesLock(ctx, series.ID, func(ctx context.Context) error {
		if err := s.repos.Series.Create(ctx, series); err != nil {
			return err
		}
		rule := entity.NewCanonRule(series.ID, entity.RuleScope{Kind: entity.ScopeSeries}, series.DefaultLock())
		rule.Description = "series default"
		rule.CreatedBy = string(entity.OriginSystem)
		rule.CreatedAt = s.now()
		return s.repos.Rules.Create(ctx, rule)
	})
	tracer.End(span, err)
	if err == nil {
		logger.Info(logger.WithSeries(ctx, series.ID), "series created", "title", series.Title)
	}
	return err
}

// UpdateSeries 更新系列配置；默认锁定级别创建后不可修改
func (s *Store) UpdateSeries(ctx context.Context, series *entity.Series) error {
	if err := entity.ValidateStruct(series); err != nil {
		return err
	}
	return s.repos.Tx.WithSeriesLock(ctx, series.ID, func(ctx context.Context) error {
		current, err := s.repos.Series.GetByID(ctx, series.ID)
		if err != nil {
			return err
		}
		if current == nil {
			return apperrors.ErrSeriesNotFound.WithDetail(series.ID)
		}
		if series.Config.DefaultLockLevel != "" && series.Config.DefaultLockLevel != current.DefaultLock() {
			return apperrors.ErrInvalidParam.WithDetail("default_lock_level cannot change; define a canon rule instead")
		}
		series.Config.DefaultLockLevel = current.DefaultLock()
		series.CreatedAt = current.CreatedAt
		return s.repos.Series.Update(ctx, series)
	})
}

// CreateCharacter 创建角色，初始属性作为登场位置上的确立事件写入
func (s *Store) CreateCharacter(ctx context.Context, c *entity.Character, est Establish) error {
	if err := entity.ValidateStruct(c); err != nil {
		return err
	}
	if err := entity.ValidateStruct(c.FirstAppearance); err != nil {
		return err
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	ctx, span := tracer.StartSeries(ctx, "statestore.CreateCharacter", c.SeriesID)
	err := s.repos.Tx.WithSeriesLock(ctx, c.SeriesID, func(ctx context.Context) error {
		if err := s.requireSeries(ctx, c.SeriesID); err != nil {
			return err
		}
		if c.Status == "" {
			c.Status = entity.CharacterActive
		}
		if err := s.repos.Characters.Create(ctx, c); err != nil {
			return err
		}
		if err := s.entityRule(ctx, c.SeriesID, c.ID, c.CanonLockLevel); err != nil {
			return err
		}
		attrs := est.Attributes.Clone()
		attrs[entity.AttrStatus] = string(c.Status)
		evt := entity.NewCanonEvent(c.SeriesID, entity.SubjectCharacter, c.ID, entity.EventEstablish, c.FirstAppearance, attrs)
		evt.LockKeys = est.LockKeys
		evt.Significance = est.Significance
		evt.References = est.References
		evt.Origin = entity.OriginAuthor
		evt.Summary = c.Name + " first appears"
		if err := s.appendLocked(ctx, evt); err != nil {
			return err
		}
		_, err := s.Touch(ctx, c.SeriesID)
		return err
	})
	tracer.End(span, err)
	if err == nil {
		logger.Info(logger.WithSeries(ctx, c.SeriesID), "character created", "character_id", c.ID, "name", c.Name)
	}
	return err
}

// CreateWorldElement 创建世界元素
func (s *Store) CreateWorldElement(ctx context.Context, w *entity.WorldElement, est Establish) error {
	if err := entity.ValidateStruct(w); err != nil {
		return err
	}
	if err := entity.ValidateStruct(w.FirstAppearance); err != nil {
		return err
	}
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	ctx, span := tracer.StartSeries(ctx, "statestore.CreateWorldElement", w.SeriesID)
	err := s.repos.Tx.WithSeriesLock(ctx, w.SeriesID, func(ctx context.Context) error {
		if err := s.requireSeries(ctx, w.SeriesID); err != nil {
			return err
		}
		if w.ParentID != "" {
			parent, err := s.repos.WorldElements.GetByID(ctx, w.ParentID)
			if err != nil {
				return err
			}
			if parent == nil || parent.SeriesID != w.SeriesID {
				return apperrors.ErrWorldElementNotFound.WithDetail("parent " + w.ParentID)
			}
		}
		if err := s.repos.WorldElements.Create(ctx, w); err != nil {
			return err
		}
		if err := s.entityRule(ctx, w.SeriesID, w.ID, w.CanonLockLevel); err != nil {
			return err
		}
		attrs := est.Attributes.Clone()
		attrs["name"] = w.Name
		attrs["kind"] = string(w.Kind)
		if w.ParentID != "" {
			attrs["parent"] = w.ParentID
		}
		evt := entity.NewCanonEvent(w.SeriesID, entity.SubjectWorldElement, w.ID, entity.EventEstablish, w.FirstAppearance, attrs)
		evt.LockKeys = est.LockKeys
		evt.Significance = est.Significance
		evt.References = est.References
		evt.Summary = w.Name + " established"
		if err := s.appendLocked(ctx, evt); err != nil {
			return err
		}
		_, err := s.Touch(ctx, w.SeriesID)
		return err
	})
	tracer.End(span, err)
	if err == nil {
		logger.Info(logger.WithSeries(ctx, w.SeriesID), "world element created", "element_id", w.ID, "kind", string(w.Kind))
	}
	return err
}

func (s *Store) requireSeries(ctx context.Context, seriesID string) error {
	series, err := s.repos.Series.GetByID(ctx, seriesID)
	if err != nil {
		return err
	}
	if series == nil {
		return apperrors.ErrSeriesNotFound.WithDetail(seriesID)
	}
	return nil
}

// entityRule 实体级锁定规则
func (s *Store) entityRule(ctx context.Context, seriesID, entityID string, level entity.LockLevel) error {
	if !level.IsValid() {
		return nil
	}
	rule := entity.NewCanonRule(seriesID, entity.RuleScope{Kind: entity.ScopeEntity, EntityID: entityID}, level)
	rule.Description = "entity canon lock"
	rule.CreatedBy = string(entity.OriginSystem)
	rule.CreatedAt = s.now()
	return s.repos.Rules.Create(ctx, rule)
}
