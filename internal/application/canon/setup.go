package canon

import (
	"context"

	"github.com/google/uuid"

	"z-novel-canon-api/internal/application/statestore"
	"z-novel-canon-api/internal/domain/entity"
	"z-novel-canon-api/internal/domain/repository"
	apperrors "z-novel-canon-api/pkg/errors"
)

// CreateSeries 创建系列
func (s *Service) CreateSeries(ctx context.Context, series *entity.Series) (*entity.Series, error) {
	if err := s.state.CreateSeries(ctx, series); err != nil {
		return nil, err
	}
	return s.GetSeries(ctx, series.ID)
}

// GetSeries 获取系列
func (s *Service) GetSeries(ctx context.Context, id string) (*entity.Series, error) {
	series, err := s.repos.Series.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if series == nil {
		return nil, apperrors.ErrSeriesNotFound.WithDetail(id)
	}
	return series, nil
}

// ListSeries 分页获取系列
func (s *Service) ListSeries(ctx context.Context, pagination repository.Pagination) (*repository.PagedResult[*entity.Series], error) {
	return s.repos.Series.List(ctx, pagination)
}

// UpdateSeries 更新系列基础信息与基调
func (s *Service) UpdateSeries(ctx context.Context, series *entity.Series) (*entity.Series, error) {
	if err := s.state.UpdateSeries(ctx, series); err != nil {
		return nil, err
	}
	return s.GetSeries(ctx, series.ID)
}

// GetState 截至第 book 卷的状态快照
func (s *Service) GetState(ctx context.Context, seriesID string, book int) (*statestore.StateSnapshot, error) {
	return s.state.ReconstructAsOf(ctx, seriesID, book)
}

// CreateCharacter 创建角色并写入确立事件
func (s *Service) CreateCharacter(ctx context.Context, c *entity.Character, est statestore.Establish) (*entity.Character, error) {
	if err := s.state.CreateCharacter(ctx, c, est); err != nil {
		return nil, err
	}
	return s.GetCharacter(ctx, c.ID)
}

// GetCharacter 获取角色
func (s *Service) GetCharacter(ctx context.Context, id string) (*entity.Character, error) {
	c, err := s.repos.Characters.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, apperrors.ErrCharacterNotFound.WithDetail(id)
	}
	return c, nil
}

// ListCharacters 系列全部角色
func (s *Service) ListCharacters(ctx context.Context, seriesID string) ([]*entity.Character, error) {
	if _, err := s.GetSeries(ctx, seriesID); err != nil {
		return nil, err
	}
	return s.repos.Characters.ListBySeries(ctx, seriesID)
}

// GetCharacterTimeline 角色事件按位置排序
func (s *Service) GetCharacterTimeline(ctx context.Context, characterID string) ([]*entity.CanonEvent, error) {
	return s.state.Timeline(ctx, characterID)
}

// CreateWorldElement 创建世界元素并写入确立事件
func (s *Service) CreateWorldElement(ctx context.Context, w *entity.WorldElement, est statestore.Establish) (*entity.WorldElement, error) {
	if err := s.state.CreateWorldElement(ctx, w, est); err != nil {
		return nil, err
	}
	el, err := s.repos.WorldElements.GetByID(ctx, w.ID)
	if err != nil {
		return nil, err
	}
	if el == nil {
		return nil, apperrors.ErrWorldElementNotFound.WithDetail(w.ID)
	}
	return el, nil
}

// ListWorldElements 系列全部世界元素
func (s *Service) ListWorldElements(ctx context.Context, seriesID string) ([]*entity.WorldElement, error) {
	if _, err := s.GetSeries(ctx, seriesID); err != nil {
		return nil, err
	}
	return s.repos.WorldElements.ListBySeries(ctx, seriesID)
}

// CreateArc 创建故事线；参与者必须是系列内的角色或世界元素
func (s *Service) CreateArc(ctx context.Context, arc *entity.NarrativeArc) (*entity.NarrativeArc, error) {
	if err := entity.ValidateStruct(arc); err != nil {
		return nil, err
	}
	if arc.ID == "" {
		arc.ID = uuid.New().String()
	}
	if arc.Status == "" {
		arc.Status = entity.ArcPlanned
	}
	var version int64
	err := s.repos.Tx.WithSeriesLock(ctx, arc.SeriesID, func(ctx context.Context) error {
		if _, err := s.GetSeries(ctx, arc.SeriesID); err != nil {
			return err
		}
		for _, id := range arc.ParticipantIDs {
			if _, err := s.state.ResolveSubject(ctx, arc.SeriesID, id); err != nil {
				return err
			}
		}
		if err := s.repos.Arcs.Create(ctx, arc); err != nil {
			return err
		}
		var err error
		version, err = s.state.Touch(ctx, arc.SeriesID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, &Change{SeriesID: arc.SeriesID, Kind: ChangeArc, Version: version})
	return arc, nil
}

// ArcUpdate 故事线更新；空字段保持不变
type ArcUpdate struct {
	Status     entity.ArcStatus
	Milestones entity.Milestones
	Title      string
}

// UpdateArc 推进故事线状态或替换里程碑
func (s *Service) UpdateArc(ctx context.Context, arcID string, upd ArcUpdate) (*entity.NarrativeArc, error) {
	current, err := s.repos.Arcs.GetByID(ctx, arcID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, apperrors.ErrArcNotFound.WithDetail(arcID)
	}

	var (
		arc     *entity.NarrativeArc
		version int64
	)
	err = s.repos.Tx.WithSeriesLock(ctx, current.SeriesID, func(ctx context.Context) error {
		var err error
		arc, err = s.repos.Arcs.GetByID(ctx, arcID)
		if err != nil {
			return err
		}
		if arc == nil {
			return apperrors.ErrArcNotFound.WithDetail(arcID)
		}
		now := s.now()
		if upd.Status != "" {
			if err := arc.TransitionTo(upd.Status, now); err != nil {
				return err
			}
		}
		if upd.Milestones != nil {
			arc.Milestones = upd.Milestones
		}
		if upd.Title != "" {
			arc.Title = upd.Title
		}
		if err := entity.ValidateStruct(arc); err != nil {
			return err
		}
		arc.UpdatedAt = now
		if err := s.repos.Arcs.Update(ctx, arc); err != nil {
			return err
		}
		version, err = s.state.Touch(ctx, arc.SeriesID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, &Change{SeriesID: arc.SeriesID, Kind: ChangeArc, Version: version})
	return arc, nil
}

// ListArcs 系列全部故事线
func (s *Service) ListArcs(ctx context.Context, seriesID string) ([]*entity.NarrativeArc, error) {
	if _, err := s.GetSeries(ctx, seriesID); err != nil {
		return nil, err
	}
	return s.repos.Arcs.ListBySeries(ctx, seriesID)
}
