package dto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	jsonpatch "github.com/evanphx/json-patch"

	"z-novel-canon-api/internal/domain/entity"
)

// CreateSeriesRequest 创建系列请求
type CreateSeriesRequest struct {
	Title            string           `json:"title" binding:"required,max=200"`
	Genre            string           `json:"genre" binding:"max=64"`
	TargetBookCount  int              `json:"target_book_count" binding:"required,min=1,max=100"`
	Tone             string           `json:"tone,omitempty"`
	Pacing           string           `json:"pacing,omitempty"`
	DefaultLockLevel entity.LockLevel `json:"default_lock_level,omitempty" binding:"omitempty,oneof=suggestion soft hard immutable"`
}

// ToSeriesEntity 转换为系列实体
func (r *CreateSeriesRequest) ToSeriesEntity() *entity.Series {
	return entity.NewSeries(r.Title, r.Genre, r.TargetBookCount, entity.SeriesConfig{
		Tone:             r.Tone,
		Pacing:           r.Pacing,
		DefaultLockLevel: r.DefaultLockLevel,
	})
}

// UpdateSeriesRequest 更新系列请求；默认锁定级别不可修改
type UpdateSeriesRequest struct {
	Title           *string `json:"title,omitempty" binding:"omitempty,max=200"`
	Genre           *string `json:"genre,omitempty" binding:"omitempty,max=64"`
	TargetBookCount *int    `json:"target_book_count,omitempty" binding:"omitempty,min=1,max=100"`
	Tone            *string `json:"tone,omitempty"`
	Pacing          *string `json:"pacing,omitempty"`
}

// ApplyTo 将非空字段写入系列
func (r *UpdateSeriesRequest) ApplyTo(s *entity.Series) {
	if r.Title != nil {
		s.Title = *r.Title
	}
	if r.Genre != nil {
		s.Genre = *r.Genre
	}
	if r.TargetBookCount != nil {
		s.TargetBookCount = *r.TargetBookCount
	}
	if r.Tone != nil {
		s.Config.Tone = *r.Tone
	}
	if r.Pacing != nil {
		s.Config.Pacing = *r.Pacing
	}
}

// seriesPatchPaths JSON Patch 允许修改的路径；default_lock_level 与版本号不在其中
var seriesPatchPaths = map[string]struct{}{
	"/title":             {},
	"/genre":             {},
	"/target_book_count": {},
	"/config/tone":       {},
	"/config/pacing":     {},
}

type jsonPatchOp struct {
	Op    string          `json:"op"`
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value"`
}

// ApplySeriesPatch 对系列应用 RFC 6902 JSON Patch，只允许 add/replace 白名单路径
func ApplySeriesPatch(s *entity.Series, patch []byte) error {
	patch = bytes.TrimSpace(patch)
	if len(patch) == 0 {
		return fmt.Errorf("empty json patch")
	}

	var ops []jsonPatchOp
	if err := json.Unmarshal(patch, &ops); err != nil {
		return fmt.Errorf("invalid json patch: %w", err)
	}
	if len(ops) == 0 {
		return nil
	}
	for i := range ops {
		op := strings.ToLower(strings.TrimSpace(ops[i].Op))
		if op != "add" && op != "replace" {
			return fmt.Errorf("invalid json patch op at index %d: op=%s", i, ops[i].Op)
		}
		if _, ok := seriesPatchPaths[strings.TrimSpace(ops[i].Path)]; !ok {
			return fmt.Errorf("invalid json patch path at index %d: path=%s", i, ops[i].Path)
		}
	}

	p, err := jsonpatch.DecodePatch(patch)
	if err != nil {
		return fmt.Errorf("invalid json patch: %w", err)
	}
	doc, err := json.Marshal(s)
	if err != nil {
		return err
	}
	out, err := p.Apply(doc)
	if err != nil {
		return fmt.Errorf("failed to apply json patch: %w", err)
	}

	var patched entity.Series
	if err := json.Unmarshal(out, &patched); err != nil {
		return fmt.Errorf("patched series is invalid: %w", err)
	}
	s.Title = patched.Title
	s.Genre = patched.Genre
	s.TargetBookCount = patched.TargetBookCount
	s.Config.Tone = patched.Config.Tone
	s.Config.Pacing = patched.Config.Pacing
	return nil
}

// SeriesListResponse 系列列表响应
type SeriesListResponse struct {
	Series []*entity.Series `json:"series"`
}
