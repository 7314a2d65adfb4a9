package entity

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// LockLevel 设定锁定级别
type LockLevel string

const (
	LockSuggestion LockLevel = "suggestion"
	LockSoft       LockLevel = "soft"
	LockHard       LockLevel = "hard"
	LockImmutable  LockLevel = "immutable"
)

// Rank 锁定强度，数值越大越严格
func (l LockLevel) Rank() int {
	switch l {
	case LockSuggestion:
		return 1
	case LockSoft:
		return 2
	case LockHard:
		return 3
	case LockImmutable:
		return 4
	default:
		return 0
	}
}

// IsValid 是否为合法锁定级别
func (l LockLevel) IsValid() bool {
	return l.Rank() > 0
}

// SeriesConfig 系列配置（基调/节奏/默认锁定级别）
type SeriesConfig struct {
	Tone             string    `json:"tone,omitempty"`
	Pacing           string    `json:"pacing,omitempty"`
	DefaultLockLevel LockLevel `json:"default_lock_level,omitempty" validate:"omitempty,oneof=suggestion soft hard immutable"`
}

// Value 实现 driver.Valuer 接口
func (c SeriesConfig) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// Scan 实现 sql.Scanner 接口
func (c *SeriesConfig) Scan(value interface{}) error {
	if value == nil {
		*c = SeriesConfig{}
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("unsupported series config type %T", value)
	}
	return json.Unmarshal(b, c)
}

// Series 多卷系列
type Series struct {
	ID              string       `json:"id"`
	Title           string       `json:"title" validate:"required,max=200"`
	Genre           string       `json:"genre,omitempty" validate:"max=64"`
	TargetBookCount int          `json:"target_book_count" validate:"min=1,max=100"`
	Config          SeriesConfig `json:"config"`
	// Version 每次系列内提交的写操作递增，用于缓存键与快照比较
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSeries 创建系列
func NewSeries(title, genre string, targetBookCount int, cfg SeriesConfig) *Series {
	now := time.Now()
	if cfg.DefaultLockLevel == "" {
		cfg.DefaultLockLevel = LockSuggestion
	}
	return &Series{
		Title:           title,
		Genre:           genre,
		TargetBookCount: targetBookCount,
		Config:          cfg,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// DefaultLock 返回系列默认锁定级别
func (s *Series) DefaultLock() LockLevel {
	if s.Config.DefaultLockLevel.IsValid() {
		return s.Config.DefaultLockLevel
	}
	return LockSuggestion
}
