package revision

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"z-novel-canon-api/internal/domain/entity"
	apperrors "z-novel-canon-api/pkg/errors"
	"z-novel-canon-api/pkg/logger"
	"z-novel-canon-api/pkg/metrics"
	"z-novel-canon-api/pkg/tracer"
)

// Applied 修订应用结果；Replayed 表示幂等键已应用，返回的是首次结果
type Applied struct {
	Result   *entity.PropagationResult
	Plan     *entity.ImpactAnalysis
	Replayed bool
}

// Apply 在系列锁内重新分析并写入覆盖事件；任一步失败整体回滚
func (p *Propagator) Apply(ctx context.Context, req *entity.RevisionRequest, approval entity.Approval) (*Applied, error) {
	ctx, span := tracer.StartSeries(ctx, "revision.Apply", req.SeriesID)
	var (
		out *Applied
		err error
	)
	defer func() { tracer.End(span, err) }()

	if err = req.Validate(); err != nil {
		metrics.RevisionsTotal.WithLabelValues(string(req.Kind), "invalid").Inc()
		return nil, err
	}
	hash := req.Hash()

	err = p.repos.Tx.WithSeriesLock(ctx, req.SeriesID, func(ctx context.Context) error {
		// 1) 幂等：同一键只应用一次
		prior, err := p.repos.Revisions.GetByIdempotencyKey(ctx, req.SeriesID, req.IdempotencyKey)
		if err != nil {
			return err
		}
		if prior != nil {
			if prior.RequestHash != hash {
				return apperrors.ErrIdempotencyMismatch.WithDetail(req.IdempotencyKey)
			}
			res := prior.Result
			out = &Applied{Result: &res, Replayed: true}
			return nil
		}

		// 2) 基于当前状态重新分析，拒绝过期或越界的计划
		plan, err := p.analyze(ctx, req, p.evalContext(req, &approval))
		if err != nil {
			return err
		}
		switch {
		case plan.DepthExceeded:
			return apperrors.ErrImpactTooDeep.WithDetail(
				fmt.Sprintf("depth %d / nodes %d", p.limits.MaxDepth, p.limits.MaxNodes))
		case approval.PlanFingerprint != "" && approval.PlanFingerprint != plan.Fingerprint:
			return apperrors.ErrStalePlan.WithDetail("state changed since the plan was computed")
		case plan.Blocked:
			return apperrors.ErrCanonLocked.WithDetail(plan.BlockReason)
		case len(plan.Superseded()) == 0:
			return apperrors.ErrInvalidRevision.WithDetail("delta does not change canon")
		}

		if req.ID == "" {
			req.ID = uuid.New().String()
		}
		now := p.now()
		at, err := p.effectiveAt(ctx, req)
		if err != nil {
			return err
		}

		result := entity.PropagationResult{
			RevisionRequestID:    req.ID,
			IdempotencyKey:       req.IdempotencyKey,
			SeriesID:             req.SeriesID,
			Kind:                 req.Kind,
			AppliedEventIDs:      []string{},
			Changes:              []entity.PropagatedChange{},
			ResolvedViolationIDs: []string{},
			PlanFingerprint:      plan.Fingerprint,
			AppliedAt:            now,
		}

		// 3) 每个受影响事实一条覆盖事件
		for _, f := range plan.Superseded() {
			evt, err := p.supersede(ctx, req, f, at)
			if err != nil {
				return err
			}
			change := entity.PropagatedChange{
				ID:                uuid.New().String(),
				SeriesID:          req.SeriesID,
				RevisionRequestID: req.ID,
				AffectedEntityIDs: affectedEntities(evt),
				AffectedEventIDs:  compact(f.EventID, evt.ID),
				AppliedDelta:      entity.AttributeMap{f.Ref.Attribute: f.NewValue},
				AppliedAt:         now,
			}
			if err := p.repos.Revisions.SaveChange(ctx, &change); err != nil {
				return err
			}
			result.AppliedEventIDs = append(result.AppliedEventIDs, evt.ID)
			result.Changes = append(result.Changes, change)
		}

		// 4) 审批中声明由本次修订解决的违规
		for _, id := range approval.ResolvesViolationIDs {
			viol, err := p.repos.Violations.GetByID(ctx, id)
			if err != nil {
				return err
			}
			if viol == nil || viol.SeriesID != req.SeriesID {
				return apperrors.ErrViolationNotFound.WithDetail(id)
			}
			if err := viol.Transition(entity.ViolationResolved, req.ID, nil, now); err != nil {
				return err
			}
			if err := p.repos.Violations.Update(ctx, viol); err != nil {
				return err
			}
			result.ResolvedViolationIDs = append(result.ResolvedViolationIDs, id)
		}

		version, err := p.state.Touch(ctx, req.SeriesID)
		if err != nil {
			return err
		}
		result.SeriesVersion = version

		record := &entity.RevisionRecord{
			Request:     *req,
			RequestHash: hash,
			Approval:    approval,
			Result:      result,
			CreatedAt:   now,
		}
		if err := p.repos.Revisions.Save(ctx, record); err != nil {
			return err
		}
		out = &Applied{Result: &result, Plan: plan}
		return nil
	})
	if err != nil {
		// 取消或超时时事务已回滚，部分分析结果一并丢弃
		err = wrapCancel(err)
		metrics.RevisionsTotal.WithLabelValues(string(req.Kind), rejectReason(err)).Inc()
		logger.Warn(ctx, "revision rejected",
			"idempotency_key", req.IdempotencyKey,
			"target_id", req.TargetID,
			"error", err.Error(),
		)
		return nil, err
	}

	if out.Replayed {
		metrics.RevisionsTotal.WithLabelValues(string(req.Kind), "replayed").Inc()
		logger.Info(ctx, "revision replayed", "idempotency_key", req.IdempotencyKey, "revision_id", out.Result.RevisionRequestID)
		return out, nil
	}
	metrics.RevisionsTotal.WithLabelValues(string(req.Kind), "applied").Inc()
	logger.Info(ctx, "revision applied",
		"revision_id", out.Result.RevisionRequestID,
		"kind", string(req.Kind),
		"target_id", req.TargetID,
		"events", len(out.Result.AppliedEventIDs),
		"version", out.Result.SeriesVersion,
	)
	return out, nil
}

// effectiveAt 覆盖事件的写入位置，默认为当前最新章节
func (p *Propagator) effectiveAt(ctx context.Context, req *entity.RevisionRequest) (entity.Locator, error) {
	if req.EffectiveAt != nil {
		if err := entity.ValidateStruct(*req.EffectiveAt); err != nil {
			return entity.Locator{}, err
		}
		at := *req.EffectiveAt
		at.Sequence = 0
		return at, nil
	}
	head, err := p.repos.Events.Head(ctx, req.SeriesID)
	if err != nil {
		return entity.Locator{}, err
	}
	if head == nil {
		return entity.NewLocator(1, 1), nil
	}
	return entity.NewLocator(head.Book, head.Chapter), nil
}

// supersede 写入一条覆盖事件，链接到被覆盖的事件
func (p *Propagator) supersede(ctx context.Context, req *entity.RevisionRequest, f entity.AffectedFact, at entity.Locator) (*entity.CanonEvent, error) {
	subjectType := req.TargetType
	var prior *entity.CanonEvent
	if f.EventID != "" {
		var err error
		prior, err = p.repos.Events.GetByID(ctx, f.EventID)
		if err != nil {
			return nil, err
		}
		if prior == nil {
			return nil, apperrors.ErrEventNotFound.WithDetail(f.EventID)
		}
		subjectType = prior.SubjectType
	}

	kind := entity.DefaultEventKind(subjectType, f.Ref.Attribute)
	if prior != nil && prior.Kind != entity.EventEstablish {
		kind = prior.Kind
	}
	evt := entity.NewCanonEvent(req.SeriesID, subjectType, f.Ref.SubjectID, kind, at, entity.AttributeMap{f.Ref.Attribute: f.NewValue})
	evt.Supersedes = f.EventID
	evt.RevisionRequestID = req.ID
	evt.RevisionKind = string(req.Kind)
	evt.Origin = entity.OriginRevision
	evt.Summary = fmt.Sprintf("%s: %s %q -> %q", req.Kind, f.Ref, f.OldValue, f.NewValue)
	if prior != nil {
		evt.Significance = prior.Significance
		evt.References = append([]string(nil), prior.References...)
		evt.DependsOn = append(entity.FactRefs(nil), prior.DependsOn...)
	}
	if err := p.state.AppendInTx(ctx, evt); err != nil {
		return nil, err
	}
	return evt, nil
}

func affectedEntities(evt *entity.CanonEvent) []string {
	if evt.SubjectType == entity.SubjectRelationship {
		if a, b, ok := entity.SplitPairID(evt.SubjectID); ok {
			return []string{a, b}
		}
	}
	return []string{evt.SubjectID}
}

func compact(ids ...string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

func rejectReason(err error) string {
	switch apperrors.AsAppError(err).Code {
	case apperrors.CodeStalePlan:
		return "stale_plan"
	case apperrors.CodeImpactTooDeep:
		return "too_deep"
	case apperrors.CodeCanonLocked:
		return "locked"
	case apperrors.CodeIdempotencyMismatch:
		return "idempotency_mismatch"
	case apperrors.CodeInvalidRevision:
		return "invalid"
	case apperrors.CodeTimeout:
		return "timeout"
	default:
		return "error"
	}
}
