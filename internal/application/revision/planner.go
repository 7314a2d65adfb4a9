// Package revision 实现修订传播：有界影响分析与幂等应用
package revision

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"z-novel-canon-api/internal/application/rules"
	"z-novel-canon-api/internal/application/statestore"
	"z-novel-canon-api/internal/domain/entity"
	"z-novel-canon-api/internal/domain/repository"
	apperrors "z-novel-canon-api/pkg/errors"
	"z-novel-canon-api/pkg/metrics"
	"z-novel-canon-api/pkg/tracer"
)

// Limits 影响分析的遍历上限
type Limits struct {
	MaxDepth int
	MaxNodes int
	Timeout  time.Duration
}

// DefaultLimits 默认上限
func DefaultLimits() Limits {
	return Limits{MaxDepth: 4, MaxNodes: 512, Timeout: 5 * time.Second}
}

// Propagator 修订传播器
type Propagator struct {
	state  *statestore.Store
	rules  *rules.Engine
	repos  *repository.CanonRepositories
	limits Limits
	now    func() time.Time
}

// NewPropagator 创建修订传播器
func NewPropagator(state *statestore.Store, ruleEngine *rules.Engine, limits Limits) *Propagator {
	def := DefaultLimits()
	if limits.MaxDepth <= 0 {
		limits.MaxDepth = def.MaxDepth
	}
	if limits.MaxNodes <= 0 {
		limits.MaxNodes = def.MaxNodes
	}
	if limits.Timeout <= 0 {
		limits.Timeout = def.Timeout
	}
	return &Propagator{
		state:  state,
		rules:  ruleEngine,
		repos:  state.Repos(),
		limits: limits,
		now:    time.Now,
	}
}

// Plan 只读影响分析，在已提交快照上执行
func (p *Propagator) Plan(ctx context.Context, req *entity.RevisionRequest) (*entity.ImpactAnalysis, error) {
	ctx, span := tracer.StartSeries(ctx, "revision.Plan", req.SeriesID)
	var (
		plan *entity.ImpactAnalysis
		err  error
	)
	defer func() { tracer.End(span, err) }()

	if err = req.Validate(); err != nil {
		return nil, err
	}
	err = p.repos.Tx.WithSnapshot(ctx, req.SeriesID, func(ctx context.Context) error {
		var err error
		plan, err = p.analyze(ctx, req, p.evalContext(req, nil))
		return err
	})
	if err != nil {
		err = wrapCancel(err)
		return nil, err
	}
	return plan, nil
}

func (p *Propagator) evalContext(req *entity.RevisionRequest, approval *entity.Approval) rules.EvalContext {
	ec := rules.EvalContext{
		Origin:        entity.OriginRevision,
		RevisionKind:  req.Kind,
		Justification: req.Justification,
	}
	if approval != nil {
		if approval.Justification != "" {
			ec.Justification = approval.Justification
		}
		ec.Override = approval.Override
		ec.OverrideReason = approval.OverrideReason
	}
	return ec
}

// analyze 计算影响分析；超时或取消时丢弃全部部分结果
func (p *Propagator) analyze(ctx context.Context, req *entity.RevisionRequest, ec rules.EvalContext) (*entity.ImpactAnalysis, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, p.limits.Timeout)
	defer cancel()

	series, err := p.repos.Series.GetByID(ctx, req.SeriesID)
	if err != nil {
		return nil, err
	}
	if series == nil {
		return nil, apperrors.ErrSeriesNotFound.WithDetail(req.SeriesID)
	}
	if err := p.state.CheckSubject(ctx, req.SeriesID, req.TargetType, req.TargetID); err != nil {
		return nil, err
	}
	idx, err := loadIndex(ctx, p.repos, req.SeriesID)
	if err != nil {
		return nil, err
	}
	ruleSet, err := p.rules.List(ctx, req.SeriesID)
	if err != nil {
		return nil, err
	}

	plan := &entity.ImpactAnalysis{
		SeriesID:       req.SeriesID,
		Kind:           req.Kind,
		TargetType:     req.TargetType,
		TargetID:       req.TargetID,
		BaseVersion:    series.Version,
		DirectFacts:    []entity.AffectedFact{},
		DependentFacts: []entity.AffectedFact{},
		ReviewFacts:    []entity.AffectedFact{},
	}
	w := newWalker(idx, plan, p.limits)

	// 1) 目标自身被替换的事实
	for _, key := range req.Delta.Keys() {
		ref := entity.FactRef{SubjectID: req.TargetID, Attribute: key}
		f := entity.AffectedFact{Ref: ref, NewValue: req.Delta[key]}
		if evt, ok := idx.latest[ref]; ok {
			f.EventID, f.OldValue, f.Locator = evt.ID, evt.NewState[key], evt.Locator
			if f.OldValue == f.NewValue {
				continue
			}
			w.addEvent(evt)
			w.seen[evt.ID+"|"+key] = true
		}
		plan.DirectFacts = append(plan.DirectFacts, f)
	}

	// 2) 事实依赖闭包
	if err := w.dependents(ctx, plan.DirectFacts); err != nil {
		return nil, wrapCancel(err)
	}

	// 3) 实体图遍历：角色→关系→角色，角色→事件→章节，世界元素→上下级
	if err := w.walk(ctx, req); err != nil {
		return nil, wrapCancel(err)
	}

	w.finish()
	checkRules(plan, ruleSet, idx, ec)
	plan.Fingerprint = plan.ComputeFingerprint()

	metrics.ImpactNodes.Observe(float64(plan.Nodes))
	metrics.ImpactDuration.Observe(time.Since(start).Seconds())
	return plan, nil
}

// checkRules 被替换的每个事实都要通过规则判定
func checkRules(plan *entity.ImpactAnalysis, ruleSet []*entity.CanonRule, idx *factIndex, base rules.EvalContext) {
	for _, f := range plan.Superseded() {
		ec := base
		ec.Current, ec.HasCurrent = f.OldValue, f.EventID != ""
		ec.Significance = entity.DefaultSignificance
		if evt, ok := idx.byID[f.EventID]; ok {
			ec.Significance = evt.Significance
		}
		d := rules.Decide(ruleSet, f.Ref.SubjectID, f.Ref.Attribute, f.NewValue, ec)
		if d.Violated && !d.Allowed() {
			plan.Blocked = true
			plan.BlockReason = fmt.Sprintf("%s: %s (rule %s)", f.Ref, d.Note, d.Rule.ID)
			return
		}
	}
}

func wrapCancel(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperrors.ErrTimeout.WithDetail("impact analysis cancelled").WithError(err)
	}
	return err
}

// factIndex 系列的事件与实体索引
type factIndex struct {
	byID       map[string]*entity.CanonEvent
	bySubject  map[string][]*entity.CanonEvent
	latest     map[entity.FactRef]*entity.CanonEvent
	dependents map[entity.FactRef][]*entity.CanonEvent
	characters map[string]*entity.Character
	elements   map[string]*entity.WorldElement
	children   map[string][]string
	relations  map[string][]*entity.CharacterRelationship
	arcs       []*entity.NarrativeArc
}

func loadIndex(ctx context.Context, repos *repository.CanonRepositories, seriesID string) (*factIndex, error) {
	events, err := repos.Events.ListBySeries(ctx, seriesID, nil)
	if err != nil {
		return nil, err
	}
	chars, err := repos.Characters.ListBySeries(ctx, seriesID)
	if err != nil {
		return nil, err
	}
	elements, err := repos.WorldElements.ListBySeries(ctx, seriesID)
	if err != nil {
		return nil, err
	}
	rels, err := repos.Relationships.ListBySeries(ctx, seriesID)
	if err != nil {
		return nil, err
	}
	arcs, err := repos.Arcs.ListBySeries(ctx, seriesID)
	if err != nil {
		return nil, err
	}

	idx := &factIndex{
		byID:       make(map[string]*entity.CanonEvent, len(events)),
		bySubject:  map[string][]*entity.CanonEvent{},
		latest:     map[entity.FactRef]*entity.CanonEvent{},
		dependents: map[entity.FactRef][]*entity.CanonEvent{},
		characters: make(map[string]*entity.Character, len(chars)),
		elements:   make(map[string]*entity.WorldElement, len(elements)),
		children:   map[string][]string{},
		relations:  map[string][]*entity.CharacterRelationship{},
		arcs:       arcs,
	}
	for _, e := range events {
		idx.byID[e.ID] = e
		idx.bySubject[e.SubjectID] = append(idx.bySubject[e.SubjectID], e)
		if !e.IsPermanent {
			continue
		}
		for k := range e.NewState {
			idx.latest[e.Ref(k)] = e
		}
		for _, dep := range e.DependsOn {
			idx.dependents[dep] = append(idx.dependents[dep], e)
		}
	}
	for _, c := range chars {
		idx.characters[c.ID] = c
	}
	for _, w := range elements {
		idx.elements[w.ID] = w
		if w.ParentID != "" {
			idx.children[w.ParentID] = append(idx.children[w.ParentID], w.ID)
		}
	}
	for _, r := range rels {
		idx.relations[r.CharacterA] = append(idx.relations[r.CharacterA], r)
		idx.relations[r.CharacterB] = append(idx.relations[r.CharacterB], r)
	}
	return idx, nil
}

type node struct {
	kind  entity.SubjectType
	id    string
	depth int
}

// walker 广度优先遍历，深度与节点数受 Limits 约束
type walker struct {
	idx    *factIndex
	plan   *entity.ImpactAnalysis
	limits Limits

	seen     map[string]bool
	visited  map[string]bool
	events   map[string]bool
	chapters map[entity.ChapterRef]bool
	rels     map[string]bool
	chars    map[string]bool
	elements map[string]bool

	// byKey 属性 -> 旧值，anchors 旧值指向的世界元素 ID 与名称
	byKey   map[string]map[string]bool
	anchors map[string]bool
}

func newWalker(idx *factIndex, plan *entity.ImpactAnalysis, limits Limits) *walker {
	return &walker{
		idx:      idx,
		plan:     plan,
		limits:   limits,
		seen:     map[string]bool{},
		visited:  map[string]bool{},
		events:   map[string]bool{},
		chapters: map[entity.ChapterRef]bool{},
		rels:     map[string]bool{},
		chars:    map[string]bool{},
		elements: map[string]bool{},
		byKey:    map[string]map[string]bool{},
		anchors:  map[string]bool{},
	}
}

// count 计入一个节点，超过上限时标记 DepthExceeded
func (w *walker) count() bool {
	w.plan.Nodes++
	if w.plan.Nodes > w.limits.MaxNodes {
		w.plan.DepthExceeded = true
		return false
	}
	return true
}

func (w *walker) addEvent(e *entity.CanonEvent) {
	w.events[e.ID] = true
	w.chapters[e.Locator.ChapterRef()] = true
}

// dependents 声明依赖被替换事实的事件：值等于旧值的随之替换，其余列入复核
func (w *walker) dependents(ctx context.Context, direct []entity.AffectedFact) error {
	frontier := direct
	for depth := 1; len(frontier) > 0; depth++ {
		var next []entity.AffectedFact
		for _, changed := range frontier {
			if err := ctx.Err(); err != nil {
				return err
			}
			for _, evt := range w.idx.dependents[changed.Ref] {
				for _, key := range evt.NewState.Keys() {
					ref := evt.Ref(key)
					if w.seen[evt.ID+"|"+key] || w.idx.latest[ref] != evt {
						continue
					}
					w.seen[evt.ID+"|"+key] = true
					if depth > w.limits.MaxDepth {
						w.plan.DepthExceeded = true
						return nil
					}
					if !w.count() {
						return nil
					}
					f := entity.AffectedFact{
						Ref:      ref,
						EventID:  evt.ID,
						OldValue: evt.NewState[key],
						Locator:  evt.Locator,
						Depth:    depth,
					}
					w.addEvent(evt)
					if changed.OldValue != "" && f.OldValue == changed.OldValue {
						f.NewValue = changed.NewValue
						w.plan.DependentFacts = append(w.plan.DependentFacts, f)
						next = append(next, f)
					} else {
						w.plan.ReviewFacts = append(w.plan.ReviewFacts, f)
					}
				}
			}
		}
		frontier = next
	}
	return nil
}

// walk 实体图遍历；非目标节点只有在其事件提及旧值时才继续展开
func (w *walker) walk(ctx context.Context, req *entity.RevisionRequest) error {
	for _, f := range w.plan.Superseded() {
		if f.OldValue == "" {
			continue
		}
		if w.byKey[f.Ref.Attribute] == nil {
			w.byKey[f.Ref.Attribute] = map[string]bool{}
		}
		w.byKey[f.Ref.Attribute][f.OldValue] = true
		for _, el := range w.idx.elements {
			if el.ID == f.OldValue || el.Name == f.OldValue {
				w.anchors[el.ID] = true
				w.anchors[el.Name] = true
			}
		}
	}

	queue := []node{{kind: req.TargetType, id: req.TargetID}}
	for _, id := range sortedIDs(w.anchors) {
		if _, ok := w.idx.elements[id]; ok {
			queue = append(queue, node{kind: entity.SubjectWorldElement, id: id})
		}
	}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := queue[0]
		queue = queue[1:]
		if w.visited[n.id] {
			continue
		}
		if n.depth > w.limits.MaxDepth {
			w.plan.DepthExceeded = true
			continue
		}
		if !w.count() {
			return nil
		}
		w.visited[n.id] = true
		w.record(n)

		relevant := w.scanEvents(n.id)
		if n.depth > 0 && !relevant {
			continue
		}
		for _, next := range w.neighbors(n) {
			if !w.visited[next.id] {
				queue = append(queue, next)
			}
		}
	}

	for _, arc := range w.idx.arcs {
		for _, id := range arc.ParticipantIDs {
			if w.visited[id] {
				w.plan.Arcs = append(w.plan.Arcs, arc.ID)
				break
			}
		}
	}
	return nil
}

func (w *walker) record(n node) {
	switch n.kind {
	case entity.SubjectCharacter:
		w.chars[n.id] = true
	case entity.SubjectWorldElement:
		w.elements[n.id] = true
	case entity.SubjectRelationship:
		w.rels[n.id] = true
	}
}

// scanEvents 记录主体提及旧值或锚点的事件，返回是否存在这样的事件
func (w *walker) scanEvents(subjectID string) bool {
	found := false
	for _, e := range w.idx.bySubject[subjectID] {
		if w.matches(e) {
			w.addEvent(e)
			found = true
		}
	}
	return found
}

func (w *walker) matches(e *entity.CanonEvent) bool {
	if w.anchors[e.SubjectID] {
		return true
	}
	for k, v := range e.NewState {
		if w.byKey[k][v] || w.anchors[v] {
			return true
		}
	}
	for _, r := range e.References {
		if w.anchors[r] {
			return true
		}
	}
	return false
}

func (w *walker) neighbors(n node) []node {
	d := n.depth + 1
	var out []node
	switch n.kind {
	case entity.SubjectCharacter:
		for _, r := range w.idx.relations[n.id] {
			pair := entity.PairID(r.CharacterA, r.CharacterB)
			w.rels[pair] = true
			w.scanEvents(pair)
			out = append(out, node{kind: entity.SubjectCharacter, id: r.Other(n.id), depth: d})
		}
	case entity.SubjectWorldElement:
		if el, ok := w.idx.elements[n.id]; ok && el.ParentID != "" {
			out = append(out, node{kind: entity.SubjectWorldElement, id: el.ParentID, depth: d})
		}
		for _, child := range w.idx.children[n.id] {
			out = append(out, node{kind: entity.SubjectWorldElement, id: child, depth: d})
		}
	case entity.SubjectRelationship:
		if a, b, ok := entity.SplitPairID(n.id); ok {
			out = append(out,
				node{kind: entity.SubjectCharacter, id: a, depth: d},
				node{kind: entity.SubjectCharacter, id: b, depth: d})
		}
	}

	// 相关事件提及的实体
	for _, e := range w.idx.bySubject[n.id] {
		if !w.events[e.ID] {
			continue
		}
		for _, ref := range e.References {
			if _, ok := w.idx.characters[ref]; ok {
				out = append(out, node{kind: entity.SubjectCharacter, id: ref, depth: d})
			} else if _, ok := w.idx.elements[ref]; ok {
				out = append(out, node{kind: entity.SubjectWorldElement, id: ref, depth: d})
			}
		}
	}
	return out
}

// finish 输出稳定排序
func (w *walker) finish() {
	p := w.plan
	p.Characters = sortedIDs(w.chars)
	p.WorldElements = sortedIDs(w.elements)
	p.Relationships = sortedIDs(w.rels)
	p.Events = sortedIDs(w.events)
	sort.Strings(p.Arcs)
	if p.Arcs == nil {
		p.Arcs = []string{}
	}

	p.Chapters = make([]entity.ChapterRef, 0, len(w.chapters))
	for c := range w.chapters {
		p.Chapters = append(p.Chapters, c)
	}
	sort.Slice(p.Chapters, func(i, j int) bool { return p.Chapters[i].Less(p.Chapters[j]) })

	sort.Slice(p.DirectFacts, func(i, j int) bool { return p.DirectFacts[i].Ref.String() < p.DirectFacts[j].Ref.String() })
	sortFacts(p.DependentFacts)
	sortFacts(p.ReviewFacts)
}

func sortFacts(facts []entity.AffectedFact) {
	sort.Slice(facts, func(i, j int) bool {
		a, b := facts[i], facts[j]
		if a.Depth != b.Depth {
			return a.Depth < b.Depth
		}
		if a.Ref != b.Ref {
			return a.Ref.String() < b.Ref.String()
		}
		return a.EventID < b.EventID
	})
}

func sortedIDs(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
