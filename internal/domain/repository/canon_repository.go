// Package repository 定义数据访问层接口
package repository

import (
	"context"

	"z-novel-canon-api/internal/domain/entity"
)

// SeriesRepository 系列仓储接口
type SeriesRepository interface {
	// Create 创建系列
	Create(ctx context.Context, series *entity.Series) error

	// GetByID 根据 ID 获取系列
	GetByID(ctx context.Context, id string) (*entity.Series, error)

	// Update 更新系列配置
	Update(ctx context.Context, series *entity.Series) error

	// IncrementVersion 递增状态版本并返回新版本
	IncrementVersion(ctx context.Context, id string) (int64, error)

	// List 分页获取系列
	List(ctx context.Context, pagination Pagination) (*PagedResult[*entity.Series], error)
}

// CharacterRepository 角色仓储接口
type CharacterRepository interface {
	// Create 创建角色
	Create(ctx context.Context, character *entity.Character) error

	// GetByID 根据 ID 获取角色
	GetByID(ctx context.Context, id string) (*entity.Character, error)

	// Update 更新角色的状态与锁定投影
	Update(ctx context.Context, character *entity.Character) error

	// ListBySeries 获取系列全部角色（按 ID 排序）
	ListBySeries(ctx context.Context, seriesID string) ([]*entity.Character, error)
}

// WorldElementRepository 世界元素仓储接口
type WorldElementRepository interface {
	// Create 创建世界元素
	Create(ctx context.Context, element *entity.WorldElement) error

	// GetByID 根据 ID 获取世界元素
	GetByID(ctx context.Context, id string) (*entity.WorldElement, error)

	// Update 更新锁定投影
	Update(ctx context.Context, element *entity.WorldElement) error

	// ListBySeries 获取系列全部世界元素（按 ID 排序）
	ListBySeries(ctx context.Context, seriesID string) ([]*entity.WorldElement, error)
}

// CanonEventRepository 设定事件仓储接口，只追加，不提供更新与删除
type CanonEventRepository interface {
	// Append 追加事件；位置与已有事件冲突时返回 ErrSequenceConflict
	Append(ctx context.Context, event *entity.CanonEvent) error

	// GetByID 根据 ID 获取事件
	GetByID(ctx context.Context, id string) (*entity.CanonEvent, error)

	// ListBySeries 按位置顺序获取事件，upTo 非空时只返回不晚于该位置的事件
	ListBySeries(ctx context.Context, seriesID string, upTo *entity.Locator) ([]*entity.CanonEvent, error)

	// ListBySubject 按位置顺序获取某主体的事件
	ListBySubject(ctx context.Context, seriesID, subjectID string) ([]*entity.CanonEvent, error)

	// LastSequence 获取章节内最大序号，无事件时返回 0
	LastSequence(ctx context.Context, seriesID string, book, chapter int) (int64, error)

	// Head 获取系列最新事件位置，无事件时返回 nil
	Head(ctx context.Context, seriesID string) (*entity.Locator, error)
}

// RelationshipRepository 角色关系仓储接口
type RelationshipRepository interface {
	// Upsert 写入关系投影
	Upsert(ctx context.Context, rel *entity.CharacterRelationship) error

	// GetByPair 根据 PairID 获取关系
	GetByPair(ctx context.Context, seriesID, pairID string) (*entity.CharacterRelationship, error)

	// ListBySeries 获取系列全部关系
	ListBySeries(ctx context.Context, seriesID string) ([]*entity.CharacterRelationship, error)

	// ListByCharacter 获取角色参与的关系
	ListByCharacter(ctx context.Context, seriesID, characterID string) ([]*entity.CharacterRelationship, error)
}

// CanonRuleRepository 设定规则仓储接口
type CanonRuleRepository interface {
	// Create 创建规则
	Create(ctx context.Context, rule *entity.CanonRule) error

	// GetByID 根据 ID 获取规则
	GetByID(ctx context.Context, id string) (*entity.CanonRule, error)

	// ListBySeries 获取系列全部规则（按 ID 排序）
	ListBySeries(ctx context.Context, seriesID string) ([]*entity.CanonRule, error)
}

// ViolationFilter 违规过滤条件
type ViolationFilter struct {
	Statuses         []entity.ViolationStatus
	Severity         entity.Severity
	RuleID           string
	OffendingFactRef string
	SubjectID        string
}

// ViolationRepository 设定违规仓储接口
type ViolationRepository interface {
	// Create 创建违规记录
	Create(ctx context.Context, violation *entity.CanonViolation) error

	// GetByID 根据 ID 获取违规
	GetByID(ctx context.Context, id string) (*entity.CanonViolation, error)

	// Update 更新违规状态
	Update(ctx context.Context, violation *entity.CanonViolation) error

	// ListBySeries 获取系列违规（按检测时间、ID 排序）
	ListBySeries(ctx context.Context, seriesID string, filter *ViolationFilter) ([]*entity.CanonViolation, error)
}

// ArcRepository 故事线仓储接口
type ArcRepository interface {
	// Create 创建故事线
	Create(ctx context.Context, arc *entity.NarrativeArc) error

	// GetByID 根据 ID 获取故事线
	GetByID(ctx context.Context, id string) (*entity.NarrativeArc, error)

	// Update 更新故事线
	Update(ctx context.Context, arc *entity.NarrativeArc) error

	// ListBySeries 获取系列故事线（按 ID 排序）
	ListBySeries(ctx context.Context, seriesID string) ([]*entity.NarrativeArc, error)
}

// RevisionRepository 修订记录仓储接口
type RevisionRepository interface {
	// GetByIdempotencyKey 根据幂等键获取已应用的修订
	GetByIdempotencyKey(ctx context.Context, seriesID, key string) (*entity.RevisionRecord, error)

	// Save 保存修订记录；幂等键重复时返回 ErrConflict
	Save(ctx context.Context, record *entity.RevisionRecord) error

	// SaveChange 保存传播变更
	SaveChange(ctx context.Context, change *entity.PropagatedChange) error

	// ListChanges 获取修订产生的传播变更
	ListChanges(ctx context.Context, revisionRequestID string) ([]*entity.PropagatedChange, error)
}

// CanonRepositories 设定存储的全部仓储
type CanonRepositories struct {
	Tx            SeriesTransactor
	Series        SeriesRepository
	Characters    CharacterRepository
	WorldElements WorldElementRepository
	Events        CanonEventRepository
	Relationships RelationshipRepository
	Rules         CanonRuleRepository
	Violations    ViolationRepository
	Arcs          ArcRepository
	Revisions     RevisionRepository
}
