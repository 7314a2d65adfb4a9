package dto

import (
	"z-novel-canon-api/internal/application/genctx"
	"z-novel-canon-api/internal/domain/entity"
)

// CompileContextRequest 生成上下文编译请求
type CompileContextRequest struct {
	Cutoff    entity.Locator `json:"cutoff"`
	MaxItems  int            `json:"max_items,omitempty" binding:"min=0,max=1000"`
	MaxChars  int            `json:"max_chars,omitempty" binding:"min=0,max=1000000"`
	SceneRefs []string       `json:"scene_refs,omitempty" binding:"max=200"`
}

// ToGenctxRequest 转换为编译请求；预算为零时由服务使用默认值
func (r *CompileContextRequest) ToGenctxRequest(seriesID string) *genctx.Request {
	return &genctx.Request{
		SeriesID:  seriesID,
		Cutoff:    r.Cutoff,
		Budget:    genctx.Budget{MaxItems: r.MaxItems, MaxChars: r.MaxChars},
		SceneRefs: r.SceneRefs,
	}
}
