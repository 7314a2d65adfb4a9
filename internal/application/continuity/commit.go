package continuity

import (
	"context"
	"strings"

	"z-novel-canon-api/internal/domain/entity"
	"z-novel-canon-api/internal/domain/repository"
	"z-novel-canon-api/pkg/logger"
	"z-novel-canon-api/pkg/metrics"
	"z-novel-canon-api/pkg/tracer"
)

// CommitResult 提交结果
type CommitResult struct {
	SeriesID string `json:"series_id"`
	// Blocked 存在被阻断的事实，本次未写入任何事件
	Blocked    bool                     `json:"blocked"`
	EventIDs   []string                 `json:"event_ids"`
	Violations []*entity.CanonViolation `json:"violations"`
	Report     *ValidationReport        `json:"report"`
	Version    int64                    `json:"version"`
}

// Committer 将通过校验的事实写入事件日志
type Committer struct {
	validator  *Validator
	violations repository.ViolationRepository
}

// NewCommitter 创建提交器
func NewCommitter(validator *Validator, violations repository.ViolationRepository) *Committer {
	return &Committer{validator: validator, violations: violations}
}

// Commit 在系列锁内重新校验并提交
// 任一事实被阻断时不追加事件，只记录 detected 违规；否则追加全部事件并记录被放行的违规
func (c *Committer) Commit(ctx context.Context, req *Request) (*CommitResult, error) {
	ctx, span := tracer.StartSeries(ctx, "continuity.Commit", req.SeriesID)
	var (
		result *CommitResult
		err    error
	)
	defer func() { tracer.End(span, err) }()

	state := c.validator.state
	err = c.validator.tx.WithSeriesLock(ctx, req.SeriesID, func(ctx context.Context) error {
		report, err := c.validator.Evaluate(ctx, req)
		if err != nil {
			return err
		}
		result = &CommitResult{
			SeriesID:   req.SeriesID,
			Report:     report,
			Version:    report.Version,
			EventIDs:   []string{},
			Violations: []*entity.CanonViolation{},
		}

		if !report.Accepted {
			result.Blocked = true
			for _, viol := range report.Blocking() {
				stored, err := c.recordDetected(ctx, viol)
				if err != nil {
					return err
				}
				result.Violations = append(result.Violations, stored)
			}
			logBlocked(ctx, report)
			return nil
		}

		for i := range req.Facts {
			fact := &req.Facts[i]
			subjectType, err := subjectTypeOf(ctx, state.ResolveSubject, req.SeriesID, fact)
			if err != nil {
				return err
			}
			evt := fact.ToEvent(req.SeriesID, subjectType, fact.At(req.Locator), req.Origin)
			if err := state.AppendInTx(ctx, evt); err != nil {
				return err
			}
			result.EventIDs = append(result.EventIDs, evt.ID)
		}

		for _, viol := range report.Violations {
			stored, err := c.recordAllowed(ctx, req, viol)
			if err != nil {
				return err
			}
			result.Violations = append(result.Violations, stored)
		}

		version, err := state.Touch(ctx, req.SeriesID)
		if err != nil {
			return err
		}
		result.Version = version
		return nil
	})
	if err != nil {
		metrics.CommitsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	observe(result.Report)
	if result.Blocked {
		metrics.CommitsTotal.WithLabelValues("blocked").Inc()
	} else {
		metrics.CommitsTotal.WithLabelValues("committed").Inc()
		logger.Info(logger.WithSeries(ctx, req.SeriesID), "facts committed",
			"events", len(result.EventIDs),
			"violations", len(result.Violations),
			"version", result.Version,
		)
	}
	return result, nil
}

// recordDetected 记录被阻断的违规；同一规则与事实已有未处理记录时复用
func (c *Committer) recordDetected(ctx context.Context, viol *entity.CanonViolation) (*entity.CanonViolation, error) {
	open, err := c.openFor(ctx, viol)
	if err != nil {
		return nil, err
	}
	if len(open) > 0 {
		return open[0], nil
	}
	if err := c.violations.Create(ctx, viol); err != nil {
		return nil, err
	}
	return viol, nil
}

// recordAllowed 记录被放行的违规：建议级为 acknowledged，覆盖或说明放行为 resolved
func (c *Committer) recordAllowed(ctx context.Context, req *Request, viol *entity.CanonViolation) (*entity.CanonViolation, error) {
	now := c.validator.now()
	overridden := viol.LockLevel != entity.LockSuggestion
	var override *entity.OverrideRecord
	if overridden {
		reason := strings.TrimSpace(req.OverrideReason)
		if viol.LockLevel != entity.LockSoft || reason == "" {
			reason = strings.TrimSpace(req.Justification)
		}
		override = &entity.OverrideRecord{
			By:         req.Actor,
			Reason:     reason,
			LockLevel:  viol.LockLevel,
			RecordedAt: now,
		}
	}

	open, err := c.openFor(ctx, viol)
	if err != nil {
		return nil, err
	}
	// 之前被阻断的同一事实，由本次覆盖一并解决
	for _, prev := range open {
		if !overridden {
			continue
		}
		if err := prev.Transition(entity.ViolationResolved, "", override, now); err != nil {
			return nil, err
		}
		if err := c.violations.Update(ctx, prev); err != nil {
			return nil, err
		}
	}
	if overridden && len(open) > 0 {
		return open[0], nil
	}

	if overridden {
		err = viol.Transition(entity.ViolationResolved, "", override, now)
	} else {
		err = viol.Transition(entity.ViolationAcknowledged, "", nil, now)
	}
	if err != nil {
		return nil, err
	}
	if err := c.violations.Create(ctx, viol); err != nil {
		return nil, err
	}
	return viol, nil
}

func (c *Committer) openFor(ctx context.Context, viol *entity.CanonViolation) ([]*entity.CanonViolation, error) {
	return c.violations.ListBySeries(ctx, viol.SeriesID, &repository.ViolationFilter{
		Statuses:         []entity.ViolationStatus{entity.ViolationDetected, entity.ViolationAcknowledged},
		RuleID:           viol.RuleID,
		OffendingFactRef: viol.OffendingFactRef,
	})
}

type subjectResolver func(ctx context.Context, seriesID, subjectID string) (entity.SubjectType, error)

func subjectTypeOf(ctx context.Context, resolve subjectResolver, seriesID string, fact *entity.Fact) (entity.SubjectType, error) {
	switch fact.Kind {
	case entity.FactRelationship:
		return entity.SubjectRelationship, nil
	case entity.FactTimeline:
		return entity.SubjectTimeline, nil
	default:
		return resolve(ctx, seriesID, fact.SubjectID())
	}
}
