// Package canon 对外暴露设定引擎的全部操作，组合状态存储、规则、校验、修订与上下文编译
package canon

import (
	"context"
	"time"

	"z-novel-canon-api/internal/application/continuity"
	"z-novel-canon-api/internal/application/genctx"
	"z-novel-canon-api/internal/application/revision"
	"z-novel-canon-api/internal/application/rules"
	"z-novel-canon-api/internal/application/statestore"
	"z-novel-canon-api/internal/domain/repository"
	"z-novel-canon-api/pkg/logger"
)

// ContextCache 生成上下文缓存
type ContextCache interface {
	// GetOrLoad 读穿缓存，返回是否命中
	GetOrLoad(ctx context.Context, key string, ttl time.Duration, loader func() ([]byte, error)) ([]byte, bool, error)
}

// ChangeKind 变更来源
type ChangeKind string

const (
	ChangeCommit   ChangeKind = "commit"
	ChangeRevision ChangeKind = "revision"
	ChangeRule     ChangeKind = "rule"
	ChangeArc      ChangeKind = "arc"
)

// Change 已提交的设定变更
type Change struct {
	SeriesID          string     `json:"series_id"`
	Kind              ChangeKind `json:"kind"`
	Version           int64      `json:"version"`
	EventIDs          []string   `json:"event_ids,omitempty"`
	RevisionRequestID string     `json:"revision_request_id,omitempty"`
	RevisionKind      string     `json:"revision_kind,omitempty"`
	Actor             string     `json:"actor,omitempty"`
	OccurredAt        time.Time  `json:"occurred_at"`
}

// Notifier 变更通知
type Notifier interface {
	NotifyChange(ctx context.Context, change *Change) error
}

// Options 服务选项
type Options struct {
	Limits          revision.Limits
	DefaultBudget   genctx.Budget
	ContextCacheTTL time.Duration
}

// Service 设定引擎门面
type Service struct {
	repos      *repository.CanonRepositories
	state      *statestore.Store
	rules      *rules.Engine
	validator  *continuity.Validator
	committer  *continuity.Committer
	propagator *revision.Propagator
	compiler   *genctx.Compiler

	cache    ContextCache
	notifier Notifier
	opts     Options
	now      func() time.Time
}

// NewService 创建服务；cache 与 notifier 可为空
func NewService(repos *repository.CanonRepositories, opts Options, cache ContextCache, notifier Notifier) *Service {
	ruleEngine := rules.NewEngine(repos.Rules)
	state := statestore.NewStore(repos, ruleEngine)
	validator := continuity.NewValidator(state, ruleEngine)
	if opts.ContextCacheTTL <= 0 {
		opts.ContextCacheTTL = 10 * time.Minute
	}
	return &Service{
		repos:      repos,
		state:      state,
		rules:      ruleEngine,
		validator:  validator,
		committer:  continuity.NewCommitter(validator, repos.Violations),
		propagator: revision.NewPropagator(state, ruleEngine, opts.Limits),
		compiler:   genctx.NewCompiler(state),
		cache:      cache,
		notifier:   notifier,
		opts:       opts,
		now:        time.Now,
	}
}

// notify 通知失败只记录日志，不影响已提交的变更
func (s *Service) notify(ctx context.Context, change *Change) {
	if s.notifier == nil {
		return
	}
	change.OccurredAt = s.now()
	if err := s.notifier.NotifyChange(ctx, change); err != nil {
		logger.Error(logger.WithSeries(ctx, change.SeriesID), "failed to publish canon change", err,
			"kind", string(change.Kind),
			"version", change.Version,
		)
	}
}
