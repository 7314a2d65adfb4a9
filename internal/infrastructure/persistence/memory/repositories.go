package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"z-novel-canon-api/internal/domain/entity"
	"z-novel-canon-api/internal/domain/repository"
	apperrors "z-novel-canon-api/pkg/errors"
)

func newID() string {
	return uuid.New().String()
}

func errSeriesMissing(seriesID string) error {
	return apperrors.ErrSeriesNotFound.WithDetail(seriesID)
}

// SeriesRepository 系列仓储
type SeriesRepository struct {
	store *Store
}

// Create 创建系列
func (r *SeriesRepository) Create(ctx context.Context, series *entity.Series) error {
	if series.ID == "" {
		series.ID = newID()
	}
	return r.store.write(ctx, series.ID, func(tx *memTx) error {
		if tx.data.series != nil {
			return apperrors.ErrConflict.WithDetail("series " + series.ID + " already exists")
		}
		cp := *series
		tx.data.series = &cp
		return nil
	})
}

// GetByID 根据 ID 获取系列
func (r *SeriesRepository) GetByID(ctx context.Context, id string) (*entity.Series, error) {
	d := r.store.view(ctx, id)
	if d == nil || d.series == nil {
		return nil, nil
	}
	cp := *d.series
	return &cp, nil
}

// Update 更新系列配置
func (r *SeriesRepository) Update(ctx context.Context, series *entity.Series) error {
	return r.store.write(ctx, series.ID, func(tx *memTx) error {
		if tx.data.series == nil {
			return errSeriesMissing(series.ID)
		}
		cp := *series
		cp.Version = tx.data.series.Version
		cp.UpdatedAt = time.Now()
		tx.data.series = &cp
		return nil
	})
}

// IncrementVersion 递增状态版本
func (r *SeriesRepository) IncrementVersion(ctx context.Context, id string) (int64, error) {
	var version int64
	err := r.store.write(ctx, id, func(tx *memTx) error {
		if tx.data.series == nil {
			return errSeriesMissing(id)
		}
		cp := *tx.data.series
		cp.Version++
		cp.UpdatedAt = time.Now()
		tx.data.series = &cp
		version = cp.Version
		return nil
	})
	return version, err
}

// List 分页获取系列
func (r *SeriesRepository) List(ctx context.Context, pagination repository.Pagination) (*repository.PagedResult[*entity.Series], error) {
	r.store.mu.RLock()
	all := make([]*entity.Series, 0, len(r.store.series))
	for _, d := range r.store.series {
		cp := *d.series
		all = append(all, &cp)
	}
	r.store.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})
	total := int64(len(all))
	start := pagination.Offset()
	if start > len(all) {
		start = len(all)
	}
	end := start + pagination.Limit()
	if end > len(all) {
		end = len(all)
	}
	return repository.NewPagedResult(all[start:end], total, pagination), nil
}

// CharacterRepository 角色仓储
type CharacterRepository struct {
	store *Store
}

func cloneCharacter(c *entity.Character) *entity.Character {
	cp := *c
	cp.LockedAttributeKeys = append([]string{}, c.LockedAttributeKeys...)
	return &cp
}

// Create 创建角色
func (r *CharacterRepository) Create(ctx context.Context, character *entity.Character) error {
	if character.ID == "" {
		character.ID = newID()
	}
	return r.store.write(ctx, character.SeriesID, func(tx *memTx) error {
		if tx.data.series == nil {
			return errSeriesMissing(character.SeriesID)
		}
		tx.data.characters[character.ID] = cloneCharacter(character)
		tx.index[character.ID] = character.SeriesID
		return nil
	})
}

// GetByID 根据 ID 获取角色
func (r *CharacterRepository) GetByID(ctx context.Context, id string) (*entity.Character, error) {
	sid, ok := r.store.lookup(ctx, id)
	if !ok {
		return nil, nil
	}
	d := r.store.view(ctx, sid)
	if d == nil {
		return nil, nil
	}
	c, ok := d.characters[id]
	if !ok {
		return nil, nil
	}
	return cloneCharacter(c), nil
}

// Update 更新角色投影
func (r *CharacterRepository) Update(ctx context.Context, character *entity.Character) error {
	return r.store.write(ctx, character.SeriesID, func(tx *memTx) error {
		if _, ok := tx.data.characters[character.ID]; !ok {
			return apperrors.ErrCharacterNotFound.WithDetail(character.ID)
		}
		tx.data.characters[character.ID] = cloneCharacter(character)
		return nil
	})
}

// ListBySeries 获取系列全部角色
func (r *CharacterRepository) ListBySeries(ctx context.Context, seriesID string) ([]*entity.Character, error) {
	d := r.store.view(ctx, seriesID)
	if d == nil {
		return []*entity.Character{}, nil
	}
	out := make([]*entity.Character, 0, len(d.characters))
	for _, k := range sortedKeys(d.characters) {
		out = append(out, cloneCharacter(d.characters[k]))
	}
	return out, nil
}

// WorldElementRepository 世界元素仓储
type WorldElementRepository struct {
	store *Store
}

func cloneElement(w *entity.WorldElement) *entity.WorldElement {
	cp := *w
	cp.LockedAttributeKeys = append([]string{}, w.LockedAttributeKeys...)
	return &cp
}

// Create 创建世界元素
func (r *WorldElementRepository) Create(ctx context.Context, element *entity.WorldElement) error {
	if element.ID == "" {
		element.ID = newID()
	}
	return r.store.write(ctx, element.SeriesID, func(tx *memTx) error {
		if tx.data.series == nil {
			return errSeriesMissing(element.SeriesID)
		}
		tx.data.elements[element.ID] = cloneElement(element)
		tx.index[element.ID] = element.SeriesID
		return nil
	})
}

// GetByID 根据 ID 获取世界元素
func (r *WorldElementRepository) GetByID(ctx context.Context, id string) (*entity.WorldElement, error) {
	sid, ok := r.store.lookup(ctx, id)
	if !ok {
		return nil, nil
	}
	d := r.store.view(ctx, sid)
	if d == nil {
		return nil, nil
	}
	w, ok := d.elements[id]
	if !ok {
		return nil, nil
	}
	return cloneElement(w), nil
}

// Update 更新世界元素投影
func (r *WorldElementRepository) Update(ctx context.Context, element *entity.WorldElement) error {
	return r.store.write(ctx, element.SeriesID, func(tx *memTx) error {
		if _, ok := tx.data.elements[element.ID]; !ok {
			return apperrors.ErrWorldElementNotFound.WithDetail(element.ID)
		}
		tx.data.elements[element.ID] = cloneElement(element)
		return nil
	})
}

// ListBySeries 获取系列全部世界元素
func (r *WorldElementRepository) ListBySeries(ctx context.Context, seriesID string) ([]*entity.WorldElement, error) {
	d := r.store.view(ctx, seriesID)
	if d == nil {
		return []*entity.WorldElement{}, nil
	}
	out := make([]*entity.WorldElement, 0, len(d.elements))
	for _, k := range sortedKeys(d.elements) {
		out = append(out, cloneElement(d.elements[k]))
	}
	return out, nil
}

// CanonEventRepository 设定事件仓储，只追加
type CanonEventRepository struct {
	store *Store
}

// Append 追加事件，保持 events 按位置有序
func (r *CanonEventRepository) Append(ctx context.Context, event *entity.CanonEvent) error {
	if event.ID == "" {
		event.ID = newID()
	}
	return r.store.write(ctx, event.SeriesID, func(tx *memTx) error {
		if tx.data.series == nil {
			return errSeriesMissing(event.SeriesID)
		}
		events := tx.data.events
		pos := sort.Search(len(events), func(i int) bool {
			return !events[i].Locator.Before(event.Locator)
		})
		if pos < len(events) && events[pos].Locator.Compare(event.Locator) == 0 {
			return apperrors.ErrSequenceConflict.WithDetail(fmt.Sprintf("locator %s already used", event.Locator))
		}
		if _, dup := tx.data.eventIndex[event.ID]; dup {
			return apperrors.ErrConflict.WithDetail("event " + event.ID + " already exists")
		}

		stored := event.Clone()
		events = append(events, nil)
		copy(events[pos+1:], events[pos:])
		events[pos] = stored
		tx.data.events = events
		for i := pos; i < len(events); i++ {
			tx.data.eventIndex[events[i].ID] = i
		}
		tx.index[event.ID] = event.SeriesID
		return nil
	})
}

// GetByID 根据 ID 获取事件
func (r *CanonEventRepository) GetByID(ctx context.Context, id string) (*entity.CanonEvent, error) {
	sid, ok := r.store.lookup(ctx, id)
	if !ok {
		return nil, nil
	}
	d := r.store.view(ctx, sid)
	if d == nil {
		return nil, nil
	}
	i, ok := d.eventIndex[id]
	if !ok {
		return nil, nil
	}
	return d.events[i].Clone(), nil
}

// ListBySeries 按位置顺序获取事件
func (r *CanonEventRepository) ListBySeries(ctx context.Context, seriesID string, upTo *entity.Locator) ([]*entity.CanonEvent, error) {
	d := r.store.view(ctx, seriesID)
	if d == nil {
		return []*entity.CanonEvent{}, nil
	}
	out := make([]*entity.CanonEvent, 0, len(d.events))
	for _, e := range d.events {
		if upTo != nil && upTo.Before(e.Locator) {
			break
		}
		out = append(out, e.Clone())
	}
	return out, nil
}

// ListBySubject 按位置顺序获取主体事件
func (r *CanonEventRepository) ListBySubject(ctx context.Context, seriesID, subjectID string) ([]*entity.CanonEvent, error) {
	d := r.store.view(ctx, seriesID)
	if d == nil {
		return []*entity.CanonEvent{}, nil
	}
	out := make([]*entity.CanonEvent, 0)
	for _, e := range d.events {
		if e.SubjectID == subjectID {
			out = append(out, e.Clone())
		}
	}
	return out, nil
}

// LastSequence 获取章节内最大序号
func (r *CanonEventRepository) LastSequence(ctx context.Context, seriesID string, book, chapter int) (int64, error) {
	d := r.store.view(ctx, seriesID)
	if d == nil {
		return 0, nil
	}
	var last int64
	for _, e := range d.events {
		if e.Locator.Book == book && e.Locator.Chapter == chapter && e.Locator.Sequence > last {
			last = e.Locator.Sequence
		}
	}
	return last, nil
}

// Head 获取最新事件位置
func (r *CanonEventRepository) Head(ctx context.Context, seriesID string) (*entity.Locator, error) {
	d := r.store.view(ctx, seriesID)
	if d == nil || len(d.events) == 0 {
		return nil, nil
	}
	loc := d.events[len(d.events)-1].Locator
	return &loc, nil
}

// RelationshipRepository 角色关系仓储
type RelationshipRepository struct {
	store *Store
}

func cloneRelationship(rel *entity.CharacterRelationship) *entity.CharacterRelationship {
	cp := *rel
	cp.TensionPoints = append([]string{}, rel.TensionPoints...)
	return &cp
}

// Upsert 写入关系投影
func (r *RelationshipRepository) Upsert(ctx context.Context, rel *entity.CharacterRelationship) error {
	if rel.ID == "" {
		rel.ID = entity.PairID(rel.CharacterA, rel.CharacterB)
	}
	return r.store.write(ctx, rel.SeriesID, func(tx *memTx) error {
		if tx.data.series == nil {
			return errSeriesMissing(rel.SeriesID)
		}
		tx.data.relationships[rel.ID] = cloneRelationship(rel)
		return nil
	})
}

// GetByPair 根据 PairID 获取关系
func (r *RelationshipRepository) GetByPair(ctx context.Context, seriesID, pairID string) (*entity.CharacterRelationship, error) {
	d := r.store.view(ctx, seriesID)
	if d == nil {
		return nil, nil
	}
	rel, ok := d.relationships[pairID]
	if !ok {
		return nil, nil
	}
	return cloneRelationship(rel), nil
}

// ListBySeries 获取系列全部关系
func (r *RelationshipRepository) ListBySeries(ctx context.Context, seriesID string) ([]*entity.CharacterRelationship, error) {
	return r.list(ctx, seriesID, "")
}

// ListByCharacter 获取角色参与的关系
func (r *RelationshipRepository) ListByCharacter(ctx context.Context, seriesID, characterID string) ([]*entity.CharacterRelationship, error) {
	return r.list(ctx, seriesID, characterID)
}

func (r *RelationshipRepository) list(ctx context.Context, seriesID, characterID string) ([]*entity.CharacterRelationship, error) {
	d := r.store.view(ctx, seriesID)
	if d == nil {
		return []*entity.CharacterRelationship{}, nil
	}
	out := make([]*entity.CharacterRelationship, 0)
	for _, k := range sortedKeys(d.relationships) {
		rel := d.relationships[k]
		if characterID != "" && rel.CharacterA != characterID && rel.CharacterB != characterID {
			continue
		}
		out = append(out, cloneRelationship(rel))
	}
	return out, nil
}

// CanonRuleRepository 设定规则仓储
type CanonRuleRepository struct {
	store *Store
}

func cloneRule(rule *entity.CanonRule) *entity.CanonRule {
	cp := *rule
	if rule.ExpectedValue != nil {
		v := *rule.ExpectedValue
		cp.ExpectedValue = &v
	}
	if rule.Predicate != nil {
		p := *rule.Predicate
		p.Values = append([]string(nil), rule.Predicate.Values...)
		cp.Predicate = &p
	}
	return &cp
}

// Create 创建规则
func (r *CanonRuleRepository) Create(ctx context.Context, rule *entity.CanonRule) error {
	if rule.ID == "" {
		rule.ID = newID()
	}
	return r.store.write(ctx, rule.SeriesID, func(tx *memTx) error {
		if tx.data.series == nil {
			return errSeriesMissing(rule.SeriesID)
		}
		tx.data.rules[rule.ID] = cloneRule(rule)
		tx.index[rule.ID] = rule.SeriesID
		return nil
	})
}

// GetByID 根据 ID 获取规则
func (r *CanonRuleRepository) GetByID(ctx context.Context, id string) (*entity.CanonRule, error) {
	sid, ok := r.store.lookup(ctx, id)
	if !ok {
		return nil, nil
	}
	d := r.store.view(ctx, sid)
	if d == nil {
		return nil, nil
	}
	rule, ok := d.rules[id]
	if !ok {
		return nil, nil
	}
	return cloneRule(rule), nil
}

// ListBySeries 获取系列全部规则
func (r *CanonRuleRepository) ListBySeries(ctx context.Context, seriesID string) ([]*entity.CanonRule, error) {
	d := r.store.view(ctx, seriesID)
	if d == nil {
		return []*entity.CanonRule{}, nil
	}
	out := make([]*entity.CanonRule, 0, len(d.rules))
	for _, k := range sortedKeys(d.rules) {
		out = append(out, cloneRule(d.rules[k]))
	}
	return out, nil
}

// ViolationRepository 设定违规仓储
type ViolationRepository struct {
	store *Store
}

func cloneViolation(v *entity.CanonViolation) *entity.CanonViolation {
	cp := *v
	if v.Override != nil {
		o := *v.Override
		cp.Override = &o
	}
	return &cp
}

// Create 创建违规记录
func (r *ViolationRepository) Create(ctx context.Context, violation *entity.CanonViolation) error {
	if violation.ID == "" {
		violation.ID = newID()
	}
	return r.store.write(ctx, violation.SeriesID, func(tx *memTx) error {
		if tx.data.series == nil {
			return errSeriesMissing(violation.SeriesID)
		}
		tx.data.violations[violation.ID] = cloneViolation(violation)
		tx.index[violation.ID] = violation.SeriesID
		return nil
	})
}

// GetByID 根据 ID 获取违规
func (r *ViolationRepository) GetByID(ctx context.Context, id string) (*entity.CanonViolation, error) {
	sid, ok := r.store.lookup(ctx, id)
	if !ok {
		return nil, nil
	}
	d := r.store.view(ctx, sid)
	if d == nil {
		return nil, nil
	}
	v, ok := d.violations[id]
	if !ok {
		return nil, nil
	}
	return cloneViolation(v), nil
}

// Update 更新违规状态
func (r *ViolationRepository) Update(ctx context.Context, violation *entity.CanonViolation) error {
	return r.store.write(ctx, violation.SeriesID, func(tx *memTx) error {
		if _, ok := tx.data.violations[violation.ID]; !ok {
			return apperrors.ErrViolationNotFound.WithDetail(violation.ID)
		}
		tx.data.violations[violation.ID] = cloneViolation(violation)
		return nil
	})
}

// ListBySeries 获取系列违规
func (r *ViolationRepository) ListBySeries(ctx context.Context, seriesID string, filter *repository.ViolationFilter) ([]*entity.CanonViolation, error) {
	d := r.store.view(ctx, seriesID)
	if d == nil {
		return []*entity.CanonViolation{}, nil
	}
	out := make([]*entity.CanonViolation, 0)
	for _, v := range d.violations {
		if filter != nil && !matchViolation(v, filter) {
			continue
		}
		out = append(out, cloneViolation(v))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].DetectedAt.Before(out[j].DetectedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func matchViolation(v *entity.CanonViolation, f *repository.ViolationFilter) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if v.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Severity != "" && v.Severity != f.Severity {
		return false
	}
	if f.RuleID != "" && v.RuleID != f.RuleID {
		return false
	}
	if f.OffendingFactRef != "" && v.OffendingFactRef != f.OffendingFactRef {
		return false
	}
	if f.SubjectID != "" && v.SubjectID != f.SubjectID {
		return false
	}
	return true
}

// ArcRepository 故事线仓储
type ArcRepository struct {
	store *Store
}

func cloneArc(a *entity.NarrativeArc) *entity.NarrativeArc {
	cp := *a
	cp.ParticipantIDs = append([]string{}, a.ParticipantIDs...)
	cp.Milestones = append(entity.Milestones{}, a.Milestones...)
	return &cp
}

// Create 创建故事线
func (r *ArcRepository) Create(ctx context.Context, arc *entity.NarrativeArc) error {
	if arc.ID == "" {
		arc.ID = newID()
	}
	return r.store.write(ctx, arc.SeriesID, func(tx *memTx) error {
		if tx.data.series == nil {
			return errSeriesMissing(arc.SeriesID)
		}
		tx.data.arcs[arc.ID] = cloneArc(arc)
		tx.index[arc.ID] = arc.SeriesID
		return nil
	})
}

// GetByID 根据 ID 获取故事线
func (r *ArcRepository) GetByID(ctx context.Context, id string) (*entity.NarrativeArc, error) {
	sid, ok := r.store.lookup(ctx, id)
	if !ok {
		return nil, nil
	}
	d := r.store.view(ctx, sid)
	if d == nil {
		return nil, nil
	}
	a, ok := d.arcs[id]
	if !ok {
		return nil, nil
	}
	return cloneArc(a), nil
}

// Update 更新故事线
func (r *ArcRepository) Update(ctx context.Context, arc *entity.NarrativeArc) error {
	return r.store.write(ctx, arc.SeriesID, func(tx *memTx) error {
		if _, ok := tx.data.arcs[arc.ID]; !ok {
			return apperrors.ErrArcNotFound.WithDetail(arc.ID)
		}
		tx.data.arcs[arc.ID] = cloneArc(arc)
		return nil
	})
}

// ListBySeries 获取系列故事线
func (r *ArcRepository) ListBySeries(ctx context.Context, seriesID string) ([]*entity.NarrativeArc, error) {
	d := r.store.view(ctx, seriesID)
	if d == nil {
		return []*entity.NarrativeArc{}, nil
	}
	out := make([]*entity.NarrativeArc, 0, len(d.arcs))
	for _, k := range sortedKeys(d.arcs) {
		out = append(out, cloneArc(d.arcs[k]))
	}
	return out, nil
}

// RevisionRepository 修订记录仓储
type RevisionRepository struct {
	store *Store
}

// GetByIdempotencyKey 根据幂等键获取修订记录
func (r *RevisionRepository) GetByIdempotencyKey(ctx context.Context, seriesID, key string) (*entity.RevisionRecord, error) {
	d := r.store.view(ctx, seriesID)
	if d == nil {
		return nil, nil
	}
	rec, ok := d.revisions[key]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

// Save 保存修订记录
func (r *RevisionRepository) Save(ctx context.Context, record *entity.RevisionRecord) error {
	seriesID := record.Request.SeriesID
	return r.store.write(ctx, seriesID, func(tx *memTx) error {
		if tx.data.series == nil {
			return errSeriesMissing(seriesID)
		}
		key := record.Request.IdempotencyKey
		if _, dup := tx.data.revisions[key]; dup {
			return apperrors.ErrConflict.WithDetail("idempotency key " + key + " already applied")
		}
		cp := *record
		tx.data.revisions[key] = &cp
		return nil
	})
}

// SaveChange 保存传播变更
func (r *RevisionRepository) SaveChange(ctx context.Context, change *entity.PropagatedChange) error {
	if change.ID == "" {
		change.ID = newID()
	}
	return r.store.write(ctx, change.SeriesID, func(tx *memTx) error {
		if tx.data.series == nil {
			return errSeriesMissing(change.SeriesID)
		}
		cp := *change
		tx.data.changes = append(tx.data.changes, &cp)
		tx.index[change.RevisionRequestID] = change.SeriesID
		return nil
	})
}

// ListChanges 获取修订产生的传播变更
func (r *RevisionRepository) ListChanges(ctx context.Context, revisionRequestID string) ([]*entity.PropagatedChange, error) {
	sid, ok := r.store.lookup(ctx, revisionRequestID)
	if !ok {
		return []*entity.PropagatedChange{}, nil
	}
	d := r.store.view(ctx, sid)
	if d == nil {
		return []*entity.PropagatedChange{}, nil
	}
	out := make([]*entity.PropagatedChange, 0)
	for _, c := range d.changes {
		if c.RevisionRequestID == revisionRequestID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}
