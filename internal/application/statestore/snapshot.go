package statestore

import (
	"context"

	"z-novel-canon-api/internal/domain/entity"
	apperrors "z-novel-canon-api/pkg/errors"
	"z-novel-canon-api/pkg/tracer"
)

// FactValue 某个 (主体, 属性) 的权威值及其确立事件
type FactValue struct {
	Value        string         `json:"value"`
	EventID      string         `json:"event_id"`
	Locator      entity.Locator `json:"locator"`
	Significance int            `json:"significance"`
}

// StateSnapshot 截至某一卷的设定状态
type StateSnapshot struct {
	SeriesID string `json:"series_id"`
	AsOfBook int    `json:"as_of_book"`
	Version  int64  `json:"version"`
	// Subjects subject -> attribute -> value
	Subjects map[string]map[string]FactValue `json:"subjects"`
	// SubjectTypes subject -> 类型
	SubjectTypes map[string]entity.SubjectType `json:"subject_types"`
}

// Lookup 查询权威值
func (s *StateSnapshot) Lookup(subjectID, key string) (FactValue, bool) {
	attrs, ok := s.Subjects[subjectID]
	if !ok {
		return FactValue{}, false
	}
	v, ok := attrs[key]
	return v, ok
}

// Attributes 主体的全部属性值
func (s *StateSnapshot) Attributes(subjectID string) entity.AttributeMap {
	out := entity.AttributeMap{}
	for k, v := range s.Subjects[subjectID] {
		out[k] = v.Value
	}
	return out
}

// ReconstructAsOf 重建截至第 book 卷（含）的状态
// 只统计永久事件；同一属性以位置最大的事件为准，位置相同不可能出现
func (s *Store) ReconstructAsOf(ctx context.Context, seriesID string, book int) (*StateSnapshot, error) {
	if book < 1 {
		return nil, apperrors.ErrInvalidParam.WithDetail("book must be >= 1")
	}
	snap, err := s.ReconstructAt(ctx, seriesID, entity.EndOfBook(book))
	if err != nil {
		return nil, err
	}
	snap.AsOfBook = book
	return snap, nil
}

// ReconstructAt 重建截至任意位置（含）的状态
func (s *Store) ReconstructAt(ctx context.Context, seriesID string, cutoff entity.Locator) (*StateSnapshot, error) {
	ctx, span := tracer.StartSeries(ctx, "statestore.ReconstructAt", seriesID)
	var snap *StateSnapshot
	err := s.repos.Tx.WithSnapshot(ctx, seriesID, func(ctx context.Context) error {
		series, err := s.repos.Series.GetByID(ctx, seriesID)
		if err != nil {
			return err
		}
		if series == nil {
			return apperrors.ErrSeriesNotFound.WithDetail(seriesID)
		}
		events, err := s.repos.Events.ListBySeries(ctx, seriesID, &cutoff)
		if err != nil {
			return err
		}
		snap = Fold(events)
		snap.SeriesID = seriesID
		snap.AsOfBook = cutoff.Book
		snap.Version = series.Version
		return nil
	})
	tracer.End(span, err)
	return snap, err
}

// Fold 将按位置排序的事件折叠为状态
func Fold(events []*entity.CanonEvent) *StateSnapshot {
	snap := &StateSnapshot{
		Subjects:     map[string]map[string]FactValue{},
		SubjectTypes: map[string]entity.SubjectType{},
	}
	for _, e := range events {
		if !e.IsPermanent {
			continue
		}
		attrs, ok := snap.Subjects[e.SubjectID]
		if !ok {
			attrs = map[string]FactValue{}
			snap.Subjects[e.SubjectID] = attrs
			snap.SubjectTypes[e.SubjectID] = e.SubjectType
		}
		for k, v := range e.NewState {
			prev, exists := attrs[k]
			if exists && e.Locator.Before(prev.Locator) {
				continue
			}
			attrs[k] = FactValue{Value: v, EventID: e.ID, Locator: e.Locator, Significance: e.Significance}
		}
	}
	return snap
}

// EventsUpTo 截至 cutoff 的全部事件（按位置顺序）
func (s *Store) EventsUpTo(ctx context.Context, seriesID string, cutoff entity.Locator) ([]*entity.CanonEvent, error) {
	return s.repos.Events.ListBySeries(ctx, seriesID, &cutoff)
}

// Timeline 角色时间线：角色自身事件与其参与的关系事件，按位置顺序
func (s *Store) Timeline(ctx context.Context, characterID string) ([]*entity.CanonEvent, error) {
	ctx, span := tracer.Start(ctx, "statestore.Timeline")
	var (
		out []*entity.CanonEvent
		err error
	)
	defer func() { tracer.End(span, err) }()

	c, err := s.repos.Characters.GetByID(ctx, characterID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		err = apperrors.ErrCharacterNotFound.WithDetail(characterID)
		return nil, err
	}
	err = s.repos.Tx.WithSnapshot(ctx, c.SeriesID, func(ctx context.Context) error {
		events, err := s.repos.Events.ListBySeries(ctx, c.SeriesID, nil)
		if err != nil {
			return err
		}
		out = make([]*entity.CanonEvent, 0)
		for _, e := range events {
			if e.SubjectID == characterID ||
				(e.SubjectType == entity.SubjectRelationship && containsID(e.References, characterID)) {
				out = append(out, e)
			}
		}
		return nil
	})
	return out, err
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
