// Package memory 提供基于内存的设定存储实现（开发与测试使用）
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"

	"z-novel-canon-api/internal/domain/entity"
	"z-novel-canon-api/internal/domain/repository"
)

var tracer = otel.Tracer("memory")

// seriesData 单个系列的已提交状态；提交后不再修改，写事务在副本上进行
type seriesData struct {
	series        *entity.Series
	characters    map[string]*entity.Character
	elements      map[string]*entity.WorldElement
	events        []*entity.CanonEvent
	eventIndex    map[string]int
	relationships map[string]*entity.CharacterRelationship
	rules         map[string]*entity.CanonRule
	violations    map[string]*entity.CanonViolation
	arcs          map[string]*entity.NarrativeArc
	revisions     map[string]*entity.RevisionRecord
	changes       []*entity.PropagatedChange
}

func newSeriesData() *seriesData {
	return &seriesData{
		characters:    map[string]*entity.Character{},
		elements:      map[string]*entity.WorldElement{},
		eventIndex:    map[string]int{},
		relationships: map[string]*entity.CharacterRelationship{},
		rules:         map[string]*entity.CanonRule{},
		violations:    map[string]*entity.CanonViolation{},
		arcs:          map[string]*entity.NarrativeArc{},
		revisions:     map[string]*entity.RevisionRecord{},
	}
}

// clone 复制容器；元素均为不可变快照，写入时整体替换
func (d *seriesData) clone() *seriesData {
	c := &seriesData{
		series:        d.series,
		characters:    make(map[string]*entity.Character, len(d.characters)),
		elements:      make(map[string]*entity.WorldElement, len(d.elements)),
		events:        append([]*entity.CanonEvent(nil), d.events...),
		eventIndex:    make(map[string]int, len(d.eventIndex)),
		relationships: make(map[string]*entity.CharacterRelationship, len(d.relationships)),
		rules:         make(map[string]*entity.CanonRule, len(d.rules)),
		violations:    make(map[string]*entity.CanonViolation, len(d.violations)),
		arcs:          make(map[string]*entity.NarrativeArc, len(d.arcs)),
		revisions:     make(map[string]*entity.RevisionRecord, len(d.revisions)),
		changes:       append([]*entity.PropagatedChange(nil), d.changes...),
	}
	for k, v := range d.characters {
		c.characters[k] = v
	}
	for k, v := range d.elements {
		c.elements[k] = v
	}
	for k, v := range d.eventIndex {
		c.eventIndex[k] = v
	}
	for k, v := range d.relationships {
		c.relationships[k] = v
	}
	for k, v := range d.rules {
		c.rules[k] = v
	}
	for k, v := range d.violations {
		c.violations[k] = v
	}
	for k, v := range d.arcs {
		c.arcs[k] = v
	}
	for k, v := range d.revisions {
		c.revisions[k] = v
	}
	return c
}

// memTx 上下文中的内存事务
type memTx struct {
	seriesID string
	data     *seriesData
	// index 事务内新建对象的 id -> series 映射，提交时合并
	index    map[string]string
	readOnly bool
}

// Store 内存设定存储
type Store struct {
	mu     sync.RWMutex
	series map[string]*seriesData
	index  map[string]string

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewStore 创建内存存储
func NewStore() *Store {
	return &Store{
		series: map[string]*seriesData{},
		index:  map[string]string{},
		locks:  map[string]*sync.Mutex{},
	}
}

// Repositories 返回绑定到本存储的全部仓储
func (s *Store) Repositories() *repository.CanonRepositories {
	return &repository.CanonRepositories{
		Tx:            s,
		Series:        &SeriesRepository{store: s},
		Characters:    &CharacterRepository{store: s},
		WorldElements: &WorldElementRepository{store: s},
		Events:        &CanonEventRepository{store: s},
		Relationships: &RelationshipRepository{store: s},
		Rules:         &CanonRuleRepository{store: s},
		Violations:    &ViolationRepository{store: s},
		Arcs:          &ArcRepository{store: s},
		Revisions:     &RevisionRepository{store: s},
	}
}

func (s *Store) seriesLock(seriesID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[seriesID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[seriesID] = l
	}
	return l
}

func txFromContext(ctx context.Context) *memTx {
	if tx, ok := ctx.Value(repository.TxKey{}).(*memTx); ok {
		return tx
	}
	return nil
}

// WithTransaction 内存实现中无系列的事务直接执行，写操作各自提交
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// WithSeriesLock 在系列排他事务中执行
func (s *Store) WithSeriesLock(ctx context.Context, seriesID string, fn func(ctx context.Context) error) error {
	if tx := txFromContext(ctx); tx != nil && tx.seriesID == seriesID && !tx.readOnly {
		// 已在事务中，直接执行
		return fn(ctx)
	}

	ctx, span := tracer.Start(ctx, "memory.Store.WithSeriesLock")
	defer span.End()

	lock := s.seriesLock(seriesID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	committed := s.series[seriesID]
	s.mu.RUnlock()

	working := newSeriesData()
	if committed != nil {
		working = committed.clone()
	}
	tx := &memTx{seriesID: seriesID, data: working, index: map[string]string{}}

	if err := fn(context.WithValue(ctx, repository.TxKey{}, tx)); err != nil {
		span.RecordError(err)
		return err
	}

	// 空系列（未创建 Series 行）不落盘
	if working.series == nil {
		return nil
	}

	s.mu.Lock()
	s.series[seriesID] = working
	for id, sid := range tx.index {
		s.index[id] = sid
	}
	s.mu.Unlock()
	return nil
}

// WithSnapshot 固定已提交状态执行只读操作
func (s *Store) WithSnapshot(ctx context.Context, seriesID string, fn func(ctx context.Context) error) error {
	if tx := txFromContext(ctx); tx != nil && tx.seriesID == seriesID {
		return fn(ctx)
	}
	s.mu.RLock()
	committed := s.series[seriesID]
	s.mu.RUnlock()
	if committed == nil {
		committed = newSeriesData()
	}
	tx := &memTx{seriesID: seriesID, data: committed, readOnly: true}
	return fn(context.WithValue(ctx, repository.TxKey{}, tx))
}

// view 返回读取用的系列数据：事务内使用事务副本，否则使用最新提交
func (s *Store) view(ctx context.Context, seriesID string) *seriesData {
	if tx := txFromContext(ctx); tx != nil && tx.seriesID == seriesID {
		return tx.data
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.series[seriesID]
}

// lookup 根据对象 ID 找到所属系列
func (s *Store) lookup(ctx context.Context, id string) (string, bool) {
	if tx := txFromContext(ctx); tx != nil {
		if sid, ok := tx.index[id]; ok {
			return sid, true
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sid, ok := s.index[id]
	return sid, ok
}

// write 在系列写事务中执行修改；没有外层事务时自动开启并提交
func (s *Store) write(ctx context.Context, seriesID string, fn func(tx *memTx) error) error {
	if tx := txFromContext(ctx); tx != nil && tx.seriesID == seriesID {
		if tx.readOnly {
			return fmt.Errorf("memory: write to series %s inside read-only snapshot", seriesID)
		}
		return fn(tx)
	}
	return s.WithSeriesLock(ctx, seriesID, func(ctx context.Context) error {
		return fn(txFromContext(ctx))
	})
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
