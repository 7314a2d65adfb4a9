package canon

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"z-novel-canon-api/internal/application/continuity"
	"z-novel-canon-api/internal/application/genctx"
	"z-novel-canon-api/internal/application/revision"
	"z-novel-canon-api/internal/domain/entity"
	"z-novel-canon-api/internal/domain/repository"
	apperrors "z-novel-canon-api/pkg/errors"
	"z-novel-canon-api/pkg/logger"
	"z-novel-canon-api/pkg/metrics"
)

// DefineCanonRule 定义设定规则；作用域引用的实体必须存在
func (s *Service) DefineCanonRule(ctx context.Context, seriesID string, scope entity.RuleScope, level entity.LockLevel, rule *entity.CanonRule) (string, error) {
	if rule == nil {
		rule = &entity.CanonRule{}
	}
	rule.SeriesID = seriesID
	rule.Scope = scope
	rule.LockLevel = level
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = s.now()
	}

	var (
		id      string
		version int64
	)
	err := s.repos.Tx.WithSeriesLock(ctx, seriesID, func(ctx context.Context) error {
		if _, err := s.GetSeries(ctx, seriesID); err != nil {
			return err
		}
		if err := s.checkScope(ctx, seriesID, scope); err != nil {
			return err
		}
		var err error
		if id, err = s.rules.Define(ctx, rule); err != nil {
			return err
		}
		version, err = s.state.Touch(ctx, seriesID)
		return err
	})
	if err != nil {
		return "", err
	}
	s.notify(ctx, &Change{SeriesID: seriesID, Kind: ChangeRule, Version: version, Actor: rule.CreatedBy})
	return id, nil
}

func (s *Service) checkScope(ctx context.Context, seriesID string, scope entity.RuleScope) error {
	switch scope.Kind {
	case entity.ScopeAttribute, entity.ScopeEntity:
		if _, _, ok := entity.SplitPairID(scope.EntityID); ok {
			return s.state.CheckSubject(ctx, seriesID, entity.SubjectRelationship, scope.EntityID)
		}
		_, err := s.state.ResolveSubject(ctx, seriesID, scope.EntityID)
		return err
	}
	return nil
}

// ListRules 系列全部规则
func (s *Service) ListRules(ctx context.Context, seriesID string) ([]*entity.CanonRule, error) {
	if _, err := s.GetSeries(ctx, seriesID); err != nil {
		return nil, err
	}
	return s.rules.List(ctx, seriesID)
}

// ValidateContent 只读校验一批提议事实
func (s *Service) ValidateContent(ctx context.Context, req *continuity.Request) (*continuity.ValidationReport, error) {
	return s.validator.Validate(logger.WithSeries(ctx, req.SeriesID), req)
}

// CommitFacts 重新校验并提交；被阻断时不写入事件
func (s *Service) CommitFacts(ctx context.Context, req *continuity.Request) (*continuity.CommitResult, error) {
	ctx = logger.WithSeries(ctx, req.SeriesID)
	res, err := s.committer.Commit(ctx, req)
	if err != nil {
		return nil, err
	}
	if !res.Blocked {
		s.notify(ctx, &Change{
			SeriesID: req.SeriesID,
			Kind:     ChangeCommit,
			Version:  res.Version,
			EventIDs: res.EventIDs,
			Actor:    req.Actor,
		})
	}
	return res, nil
}

// ListViolations 系列违规
func (s *Service) ListViolations(ctx context.Context, seriesID string, filter *repository.ViolationFilter) ([]*entity.CanonViolation, error) {
	if _, err := s.GetSeries(ctx, seriesID); err != nil {
		return nil, err
	}
	return s.repos.Violations.ListBySeries(ctx, seriesID, filter)
}

// ViolationUpdate 违规状态迁移
type ViolationUpdate struct {
	Status            entity.ViolationStatus
	RevisionRequestID string
	OverrideBy        string
	OverrideReason    string
}

// TransitionViolation acknowledge / dismiss / resolve
func (s *Service) TransitionViolation(ctx context.Context, id string, upd ViolationUpdate) (*entity.CanonViolation, error) {
	current, err := s.repos.Violations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, apperrors.ErrViolationNotFound.WithDetail(id)
	}

	var viol *entity.CanonViolation
	err = s.repos.Tx.WithSeriesLock(ctx, current.SeriesID, func(ctx context.Context) error {
		var err error
		viol, err = s.repos.Violations.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if viol == nil {
			return apperrors.ErrViolationNotFound.WithDetail(id)
		}
		now := s.now()
		var override *entity.OverrideRecord
		if strings.TrimSpace(upd.OverrideReason) != "" {
			override = &entity.OverrideRecord{
				By:         upd.OverrideBy,
				Reason:     upd.OverrideReason,
				LockLevel:  viol.LockLevel,
				RecordedAt: now,
			}
		}
		if upd.RevisionRequestID != "" {
			changes, err := s.repos.Revisions.ListChanges(ctx, upd.RevisionRequestID)
			if err != nil {
				return err
			}
			if len(changes) == 0 {
				return apperrors.ErrInvalidRevision.WithDetail("unknown revision " + upd.RevisionRequestID)
			}
		}
		if err := viol.Transition(upd.Status, upd.RevisionRequestID, override, now); err != nil {
			return err
		}
		return s.repos.Violations.Update(ctx, viol)
	})
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "canon violation updated", "violation_id", id, "status", string(viol.Status))
	return viol, nil
}

// PlanRevision 只读影响分析
func (s *Service) PlanRevision(ctx context.Context, req *entity.RevisionRequest) (*entity.ImpactAnalysis, error) {
	return s.propagator.Plan(logger.WithSeries(ctx, req.SeriesID), req)
}

// ApplyRevision 幂等应用修订；重放时不再发送通知
func (s *Service) ApplyRevision(ctx context.Context, req *entity.RevisionRequest, approval entity.Approval) (*revision.Applied, error) {
	ctx = logger.WithSeries(ctx, req.SeriesID)
	out, err := s.propagator.Apply(ctx, req, approval)
	if err != nil {
		return nil, err
	}
	if !out.Replayed {
		actor := approval.ApprovedBy
		if actor == "" {
			actor = req.RequestedBy
		}
		s.notify(ctx, &Change{
			SeriesID:          req.SeriesID,
			Kind:              ChangeRevision,
			Version:           out.Result.SeriesVersion,
			EventIDs:          out.Result.AppliedEventIDs,
			RevisionRequestID: out.Result.RevisionRequestID,
			RevisionKind:      string(req.Kind),
			Actor:             actor,
		})
	}
	return out, nil
}

// CompileGenerationContext 编译生成上下文；缓存键包含状态版本，命中的内容总是当前状态的结果
func (s *Service) CompileGenerationContext(ctx context.Context, req *genctx.Request) ([]byte, error) {
	ctx = logger.WithSeries(ctx, req.SeriesID)
	if req.Budget.IsZero() {
		req.Budget = s.opts.DefaultBudget
	}
	req.SceneRefs = normalizeRefs(req.SceneRefs)
	// 上下文按整章截止，序号不参与编译
	req.Cutoff = entity.NewLocator(req.Cutoff.Book, req.Cutoff.Chapter)

	if s.cache == nil {
		metrics.ContextCacheTotal.WithLabelValues("bypass").Inc()
		out, err := s.compiler.Compile(ctx, req)
		if err != nil {
			return nil, err
		}
		return out.Payload, nil
	}

	series, err := s.GetSeries(ctx, req.SeriesID)
	if err != nil {
		return nil, err
	}
	key := ContextCacheKey(req, series.Version)
	payload, hit, err := s.cache.GetOrLoad(ctx, key, s.opts.ContextCacheTTL, func() ([]byte, error) {
		out, err := s.compiler.Compile(ctx, req)
		if err != nil {
			return nil, err
		}
		return out.Payload, nil
	})
	if err != nil {
		return nil, err
	}
	if hit {
		metrics.ContextCacheTotal.WithLabelValues("hit").Inc()
	} else {
		metrics.ContextCacheTotal.WithLabelValues("miss").Inc()
	}
	return payload, nil
}

// ContextCachePrefix 系列上下文缓存键前缀
func ContextCachePrefix(seriesID string) string {
	return "genctx:" + seriesID + ":"
}

// ContextCacheKey (series, version, cutoff, budget, scene refs)
func ContextCacheKey(req *genctx.Request, version int64) string {
	sum := sha256.Sum256([]byte(strings.Join(req.SceneRefs, ",")))
	return fmt.Sprintf("%sv%d:%s:i%d:c%d:%s",
		ContextCachePrefix(req.SeriesID),
		version,
		req.Cutoff,
		req.Budget.MaxItems,
		req.Budget.MaxChars,
		hex.EncodeToString(sum[:8]),
	)
}

func normalizeRefs(refs []string) []string {
	set := make(map[string]bool, len(refs))
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		r = strings.TrimSpace(r)
		if r == "" || set[r] {
			continue
		}
		set[r] = true
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}
