// Package genctx 编译供外部文本生成使用的设定上下文：确定性排序、按预算截断
package genctx

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"z-novel-canon-api/internal/application/statestore"
	"z-novel-canon-api/internal/domain/entity"
	"z-novel-canon-api/internal/domain/repository"
	apperrors "z-novel-canon-api/pkg/errors"
	"z-novel-canon-api/pkg/metrics"
	"z-novel-canon-api/pkg/tracer"
)

// 评分权重
const (
	sameBookRecency    = 10
	earlierBookRecency = 4
	sceneBonus         = 20
	activeArcScore     = 5
	plannedArcScore    = 1
)

// ItemKind 上下文条目类型
type ItemKind string

const (
	ItemCharacter    ItemKind = "character"
	ItemWorldElement ItemKind = "world_element"
	ItemArc          ItemKind = "arc"
	ItemRipple       ItemKind = "ripple"
)

// Budget 上下文预算；0 表示不限
type Budget struct {
	MaxItems int `json:"max_items" validate:"min=0,max=1000"`
	MaxChars int `json:"max_chars" validate:"min=0,max=1000000"`
}

// IsZero 是否未设置
func (b Budget) IsZero() bool {
	return b.MaxItems == 0 && b.MaxChars == 0
}

// Request 编译请求
type Request struct {
	SeriesID string         `json:"series_id"`
	Cutoff   entity.Locator `json:"cutoff"`
	Budget   Budget         `json:"budget"`
	// SceneRefs 当前场景直接出现的实体
	SceneRefs []string `json:"scene_refs,omitempty"`
}

// Relation 角色关系摘要
type Relation struct {
	With      string `json:"with"`
	Type      string `json:"type,omitempty"`
	Intensity string `json:"intensity,omitempty"`
}

// Item 上下文条目
type Item struct {
	Kind          ItemKind          `json:"kind"`
	ID            string            `json:"id"`
	Name          string            `json:"name,omitempty"`
	Score         int               `json:"score"`
	Status        string            `json:"status,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	Locked        []string          `json:"locked,omitempty"`
	Relationships []Relation        `json:"relationships,omitempty"`
	Participants  []string          `json:"participants,omitempty"`
	Summary       string            `json:"summary,omitempty"`
	Locator       *entity.Locator   `json:"locator,omitempty"`
}

// SeriesHeader 系列基调
type SeriesHeader struct {
	Title  string `json:"title"`
	Genre  string `json:"genre,omitempty"`
	Tone   string `json:"tone,omitempty"`
	Pacing string `json:"pacing,omitempty"`
}

// GenerationContext 生成上下文
type GenerationContext struct {
	SeriesID     string         `json:"series_id"`
	Cutoff       entity.Locator `json:"cutoff"`
	Budget       Budget         `json:"budget"`
	StateVersion int64          `json:"state_version"`
	Series       SeriesHeader   `json:"series"`
	Items        []Item         `json:"items"`
	Truncated    bool           `json:"truncated"`
	Omitted      int            `json:"omitted"`
}

// Compiled 编译结果；Payload 为上下文的规范 JSON 编码
type Compiled struct {
	Context *GenerationContext
	Payload []byte
}

// Compiler 上下文编译器
type Compiler struct {
	state *statestore.Store
	repos *repository.CanonRepositories
}

// NewCompiler 创建编译器
func NewCompiler(state *statestore.Store) *Compiler {
	return &Compiler{state: state, repos: state.Repos()}
}

// Compile 在已提交快照上编译上下文；相同输入与状态得到逐字节相同的输出
func (c *Compiler) Compile(ctx context.Context, req *Request) (*Compiled, error) {
	ctx, span := tracer.StartSeries(ctx, "genctx.Compile", req.SeriesID)
	var (
		out *Compiled
		err error
	)
	defer func() { tracer.End(span, err) }()
	start := time.Now()

	if err = entity.ValidateStruct(req.Cutoff); err != nil {
		return nil, err
	}
	if err = entity.ValidateStruct(req.Budget); err != nil {
		return nil, err
	}

	err = c.repos.Tx.WithSnapshot(ctx, req.SeriesID, func(ctx context.Context) error {
		gc, err := c.build(ctx, req)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(gc)
		if err != nil {
			return apperrors.Wrap(err, apperrors.CodeInternalError, "encode generation context")
		}
		out = &Compiled{Context: gc, Payload: payload}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.ContextCompileDuration.Observe(time.Since(start).Seconds())
	return out, nil
}

func (c *Compiler) build(ctx context.Context, req *Request) (*GenerationContext, error) {
	series, err := c.repos.Series.GetByID(ctx, req.SeriesID)
	if err != nil {
		return nil, err
	}
	if series == nil {
		return nil, apperrors.ErrSeriesNotFound.WithDetail(req.SeriesID)
	}
	end := entity.EndOfChapter(req.Cutoff.Book, req.Cutoff.Chapter)
	events, err := c.state.EventsUpTo(ctx, req.SeriesID, end)
	if err != nil {
		return nil, err
	}
	chars, err := c.repos.Characters.ListBySeries(ctx, req.SeriesID)
	if err != nil {
		return nil, err
	}
	elements, err := c.repos.WorldElements.ListBySeries(ctx, req.SeriesID)
	if err != nil {
		return nil, err
	}
	arcs, err := c.repos.Arcs.ListBySeries(ctx, req.SeriesID)
	if err != nil {
		return nil, err
	}

	s := newScorer(req, events)
	items := make([]Item, 0, len(chars)+len(elements)+len(arcs))

	// 1) 截止位置前已登场的角色与世界元素
	for _, ch := range chars {
		if end.Before(ch.FirstAppearance) {
			continue
		}
		attrs := s.snap.Attributes(ch.ID)
		item := Item{
			Kind:          ItemCharacter,
			ID:            ch.ID,
			Name:          ch.Name,
			Score:         s.entityScore(ch.ID),
			Status:        attrs[entity.AttrStatus],
			Attributes:    attrs,
			Locked:        s.locked[ch.ID],
			Relationships: s.relations(ch.ID),
			Locator:       s.lastSeenPtr(ch.ID),
		}
		delete(item.Attributes, entity.AttrStatus)
		items = append(items, item)
	}
	for _, el := range elements {
		if end.Before(el.FirstAppearance) {
			continue
		}
		items = append(items, Item{
			Kind:       ItemWorldElement,
			ID:         el.ID,
			Name:       el.Name,
			Score:      s.entityScore(el.ID),
			Attributes: s.snap.Attributes(el.ID),
			Locked:     s.locked[el.ID],
			Locator:    s.lastSeenPtr(el.ID),
		})
	}

	// 2) 未完结的故事线
	for _, arc := range arcs {
		if arc.Status == entity.ArcResolved {
			continue
		}
		score := plannedArcScore
		if arc.Status == entity.ArcActive {
			score = activeArcScore
		}
		if s.scene[arc.ID] {
			score += sceneBonus
		}
		participants := append([]string(nil), arc.ParticipantIDs...)
		sort.Strings(participants)
		items = append(items, Item{
			Kind:         ItemArc,
			ID:           arc.ID,
			Name:         arc.Title,
			Score:        score,
			Status:       string(arc.Status),
			Participants: participants,
		})
	}

	// 3) 未解决的涟漪
	items = append(items, s.ripples()...)

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		if items[i].ID != items[j].ID {
			return items[i].ID < items[j].ID
		}
		return items[i].Kind < items[j].Kind
	})

	kept, omitted := truncate(items, req.Budget)
	return &GenerationContext{
		SeriesID:     req.SeriesID,
		Cutoff:       req.Cutoff,
		Budget:       req.Budget,
		StateVersion: series.Version,
		Series: SeriesHeader{
			Title:  series.Title,
			Genre:  series.Genre,
			Tone:   series.Config.Tone,
			Pacing: series.Config.Pacing,
		},
		Items:     kept,
		Truncated: omitted > 0,
		Omitted:   omitted,
	}, nil
}

// truncate 按排序取最长前缀；第一条放不下的条目即为截断点
func truncate(items []Item, budget Budget) ([]Item, int) {
	used := 0
	for i, item := range items {
		if budget.MaxItems > 0 && i >= budget.MaxItems {
			return items[:i], len(items) - i
		}
		if budget.MaxChars > 0 {
			b, _ := json.Marshal(item)
			if used+len(b) > budget.MaxChars {
				return items[:i], len(items) - i
			}
			used += len(b)
		}
	}
	return items, 0
}
