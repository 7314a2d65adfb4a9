// Package continuity 实现连续性校验：将提议事实与截至当前位置的设定及规则比对
package continuity

import (
	"context"
	"time"

	"github.com/google/uuid"

	"z-novel-canon-api/internal/application/rules"
	"z-novel-canon-api/internal/application/statestore"
	"z-novel-canon-api/internal/domain/entity"
	"z-novel-canon-api/internal/domain/repository"
	apperrors "z-novel-canon-api/pkg/errors"
	"z-novel-canon-api/pkg/logger"
	"z-novel-canon-api/pkg/metrics"
	"z-novel-canon-api/pkg/tracer"
)

// Reason 单条断言的判定依据
type Reason string

const (
	ReasonNoAuthority       Reason = "no_authority"
	ReasonMatches           Reason = "matches"
	ReasonPrecedesAuthority Reason = "precedes_authority"
	ReasonNoRule            Reason = "no_rule"
	ReasonRuleAllowed       Reason = "rule_allowed"
	ReasonRuleBlocked       Reason = "rule_blocked"
)

// Request 校验请求
type Request struct {
	SeriesID       string             `json:"series_id"`
	Locator        entity.Locator     `json:"locator"`
	Facts          []entity.Fact      `json:"facts"`
	Origin         entity.EventOrigin `json:"origin"`
	Override       bool               `json:"override"`
	OverrideReason string             `json:"override_reason,omitempty"`
	Justification  string             `json:"justification,omitempty"`
	Actor          string             `json:"actor,omitempty"`
}

// ClaimResult 单条断言的校验结果
type ClaimResult struct {
	FactIndex     int                   `json:"fact_index"`
	Claim         entity.Claim          `json:"claim"`
	Locator       entity.Locator        `json:"locator"`
	Accepted      bool                  `json:"accepted"`
	Reason        Reason                `json:"reason"`
	Authoritative *statestore.FactValue `json:"authoritative,omitempty"`
	Decision      *rules.Decision       `json:"decision,omitempty"`
	// ViolationIndex 对应 Violations 下标，无违规为 -1
	ViolationIndex int `json:"violation_index"`
}

// ValidationReport 校验报告；违规是结果而不是错误
type ValidationReport struct {
	SeriesID   string                   `json:"series_id"`
	Locator    entity.Locator           `json:"locator"`
	Version    int64                    `json:"version"`
	Accepted   bool                     `json:"accepted"`
	Results    []ClaimResult            `json:"results"`
	Violations []*entity.CanonViolation `json:"violations"`
}

// Blocking 被阻断的违规
func (r *ValidationReport) Blocking() []*entity.CanonViolation {
	out := make([]*entity.CanonViolation, 0)
	for _, res := range r.Results {
		if !res.Accepted && res.ViolationIndex >= 0 {
			out = append(out, r.Violations[res.ViolationIndex])
		}
	}
	return out
}

// Validator 连续性校验器
type Validator struct {
	state *statestore.Store
	rules *rules.Engine
	tx    repository.SeriesTransactor
	now   func() time.Time
}

// NewValidator 创建校验器
func NewValidator(state *statestore.Store, ruleEngine *rules.Engine) *Validator {
	return &Validator{state: state, rules: ruleEngine, tx: state.Repos().Tx, now: time.Now}
}

// Validate 只读校验，在已提交快照上执行
func (v *Validator) Validate(ctx context.Context, req *Request) (*ValidationReport, error) {
	ctx, span := tracer.StartSeries(ctx, "continuity.Validate", req.SeriesID)
	var (
		report *ValidationReport
		err    error
	)
	defer func() { tracer.End(span, err) }()

	err = v.tx.WithSnapshot(ctx, req.SeriesID, func(ctx context.Context) error {
		var err error
		report, err = v.Evaluate(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	observe(report)
	return report, nil
}

// Evaluate 在调用方提供的事务或快照内执行校验，不写入任何数据
func (v *Validator) Evaluate(ctx context.Context, req *Request) (*ValidationReport, error) {
	if err := entity.ValidateStruct(req.Locator); err != nil {
		return nil, err
	}
	if len(req.Facts) == 0 {
		return nil, apperrors.ErrInvalidFact.WithDetail("no facts proposed")
	}
	if req.Origin == "" {
		req.Origin = entity.OriginAuthor
	}
	for i := range req.Facts {
		if err := req.Facts[i].Validate(); err != nil {
			return nil, err
		}
	}

	snap, err := v.state.ReconstructAsOf(ctx, req.SeriesID, req.Locator.Book)
	if err != nil {
		return nil, err
	}
	ruleSet, err := v.rules.List(ctx, req.SeriesID)
	if err != nil {
		return nil, err
	}

	report := &ValidationReport{
		SeriesID:   req.SeriesID,
		Locator:    req.Locator,
		Version:    snap.Version,
		Accepted:   true,
		Results:    make([]ClaimResult, 0),
		Violations: make([]*entity.CanonViolation, 0),
	}
	// overlay 记录本批次已接受的永久事实，后续事实与其比对
	overlay := map[string]map[string]statestore.FactValue{}

	for i := range req.Facts {
		fact := &req.Facts[i]
		if err := v.checkSubjects(ctx, req.SeriesID, fact); err != nil {
			return nil, err
		}
		at := fact.At(req.Locator)
		for _, claim := range fact.Claims() {
			res := v.checkClaim(snap, overlay, ruleSet, req, fact, claim, at)
			res.FactIndex = i
			res.ViolationIndex = -1
			if res.Decision != nil && res.Decision.Violated {
				viol := v.newViolation(req, fact, claim, at, res)
				report.Violations = append(report.Violations, viol)
				res.ViolationIndex = len(report.Violations) - 1
			}
			if !res.Accepted {
				report.Accepted = false
			} else if permanentFact(fact) {
				attrs, ok := overlay[claim.SubjectID]
				if !ok {
					attrs = map[string]statestore.FactValue{}
					overlay[claim.SubjectID] = attrs
				}
				attrs[claim.Key] = statestore.FactValue{Value: claim.Value, Locator: at, Significance: fact.Significance()}
			}
			report.Results = append(report.Results, res)
		}
	}
	return report, nil
}

// checkClaim 对单条断言执行四步判定
func (v *Validator) checkClaim(
	snap *statestore.StateSnapshot,
	overlay map[string]map[string]statestore.FactValue,
	ruleSet []*entity.CanonRule,
	req *Request,
	fact *entity.Fact,
	claim entity.Claim,
	at entity.Locator,
) ClaimResult {
	res := ClaimResult{Claim: claim, Locator: at}

	auth, hasAuth := snap.Lookup(claim.SubjectID, claim.Key)
	if o, ok := overlay[claim.SubjectID][claim.Key]; ok {
		auth, hasAuth = o, true
	}
	ec := rules.EvalContext{
		Origin:         req.Origin,
		Override:       req.Override,
		OverrideReason: req.OverrideReason,
		Justification:  req.Justification,
		Significance:   entity.DefaultSignificance,
	}
	if hasAuth {
		a := auth
		res.Authoritative = &a
		ec.Current, ec.HasCurrent = auth.Value, true
		ec.Significance = auth.Significance
	}

	// 1) 无权威值：事件未确立，且没有声明期望的规则
	if !hasAuth && !hasExpectation(ruleSet, claim) {
		res.Accepted, res.Reason = true, ReasonNoAuthority
		return res
	}

	// 2) 与权威值一致
	violated := rules.Matching(ruleSet, claim.SubjectID, claim.Key, claim.Value, ec.Current, ec.HasCurrent)
	if (hasAuth && auth.Value == claim.Value) || (!hasAuth && len(violated) == 0) {
		res.Accepted, res.Reason = true, ReasonMatches
		return res
	}

	// 3) 提议位置早于确立事件：描述的是另一个时间点
	if hasAuth && !auth.Locator.IsZero() && at.Before(auth.Locator) {
		res.Accepted, res.Reason = true, ReasonPrecedesAuthority
		return res
	}

	// 4) 冲突：交给规则引擎
	d := rules.Decide(ruleSet, claim.SubjectID, claim.Key, claim.Value, ec)
	if !d.Violated {
		res.Accepted, res.Reason = true, ReasonNoRule
		return res
	}
	res.Decision = &d
	if d.Allowed() {
		res.Accepted, res.Reason = true, ReasonRuleAllowed
	} else {
		res.Accepted, res.Reason = false, ReasonRuleBlocked
	}
	return res
}

func (v *Validator) newViolation(req *Request, fact *entity.Fact, claim entity.Claim, at entity.Locator, res ClaimResult) *entity.CanonViolation {
	now := v.now()
	viol := &entity.CanonViolation{
		ID:               uuid.New().String(),
		SeriesID:         req.SeriesID,
		RuleID:           res.Decision.Rule.ID,
		OffendingFactRef: fact.Ref(claim, at),
		SubjectID:        claim.SubjectID,
		Attribute:        claim.Key,
		ProposedValue:    claim.Value,
		Locator:          at,
		LockLevel:        res.Decision.LockLevel,
		Severity:         res.Decision.Severity,
		Status:           entity.ViolationDetected,
		Message:          res.Decision.Note,
		DetectedAt:       now,
		UpdatedAt:        now,
	}
	if res.Authoritative != nil {
		viol.AuthoritativeValue = res.Authoritative.Value
		viol.EstablishingEventID = res.Authoritative.EventID
	} else if exp, ok := res.Decision.Rule.Expected(); ok {
		viol.AuthoritativeValue = exp
	}
	return viol
}

// checkSubjects 事实引用的实体必须存在
func (v *Validator) checkSubjects(ctx context.Context, seriesID string, fact *entity.Fact) error {
	switch fact.Kind {
	case entity.FactAttribute, entity.FactEvent:
		_, err := v.state.ResolveSubject(ctx, seriesID, fact.SubjectID())
		return err
	case entity.FactRelationship:
		for _, id := range []string{fact.Relationship.CharacterA, fact.Relationship.CharacterB} {
			t, err := v.state.ResolveSubject(ctx, seriesID, id)
			if err != nil {
				return err
			}
			if t != entity.SubjectCharacter {
				return apperrors.ErrCharacterNotFound.WithDetail(id)
			}
		}
	}
	return nil
}

func hasExpectation(ruleSet []*entity.CanonRule, claim entity.Claim) bool {
	for _, r := range ruleSet {
		if r.HasExpectation() && r.Scope.Matches(claim.SubjectID, claim.Key) {
			return true
		}
	}
	return false
}

func permanentFact(f *entity.Fact) bool {
	switch f.Kind {
	case entity.FactAttribute:
		return !f.Attribute.Transient
	case entity.FactEvent:
		return f.Event.Permanent
	default:
		return true
	}
}

func observe(report *ValidationReport) {
	for _, res := range report.Results {
		switch {
		case !res.Accepted:
			metrics.ValidationTotal.WithLabelValues("blocked").Inc()
		case res.Decision != nil:
			metrics.ValidationTotal.WithLabelValues("violation").Inc()
		default:
			metrics.ValidationTotal.WithLabelValues("accepted").Inc()
		}
	}
	for _, viol := range report.Violations {
		metrics.ViolationsTotal.WithLabelValues(string(viol.Severity), string(viol.LockLevel)).Inc()
	}
}

func logBlocked(ctx context.Context, report *ValidationReport) {
	for _, viol := range report.Blocking() {
		logger.Warn(ctx, "proposed fact blocked by canon",
			"rule_id", viol.RuleID,
			"fact_ref", viol.OffendingFactRef,
			"severity", string(viol.Severity),
			"lock_level", string(viol.LockLevel),
		)
	}
}
