package rules

import (
	"fmt"
	"sort"
	"strings"

	"z-novel-canon-api/internal/domain/entity"
)

// Outcome 规则判定结果
type Outcome string

const (
	Allow Outcome = "allow"
	Block Outcome = "block"
)

// EvalContext 判定上下文
type EvalContext struct {
	Origin         entity.EventOrigin  `json:"origin"`
	RevisionKind   entity.RevisionKind `json:"revision_kind,omitempty"`
	Override       bool                `json:"override"`
	OverrideReason string              `json:"override_reason,omitempty"`
	Justification  string              `json:"justification,omitempty"`
	// Current 当前权威值
	Current    string `json:"current,omitempty"`
	HasCurrent bool   `json:"has_current"`
	// Significance 确立事件的重要度
	Significance int `json:"significance"`
}

// IsRetcon 是否为 retcon 修订
func (c EvalContext) IsRetcon() bool {
	return c.Origin == entity.OriginRevision && c.RevisionKind == entity.RevisionRetcon
}

// Decision 规则判定
type Decision struct {
	Outcome   Outcome           `json:"outcome"`
	Rule      *entity.CanonRule `json:"rule,omitempty"`
	LockLevel entity.LockLevel  `json:"lock_level,omitempty"`
	Severity  entity.Severity   `json:"severity,omitempty"`
	// Violated 存在被违反的规则
	Violated bool `json:"violated"`
	// Overridden 违反规则但因覆盖/说明/retcon 被放行
	Overridden bool   `json:"overridden"`
	Note       string `json:"note,omitempty"`
}

// Allowed 是否放行
func (d Decision) Allowed() bool {
	return d.Outcome == Allow
}

// Matching 返回覆盖 (subject, key) 且被提议值违反的规则，按优先级排序
func Matching(rules []*entity.CanonRule, subjectID, key, proposed string, current string, hasCurrent bool) []*entity.CanonRule {
	out := make([]*entity.CanonRule, 0)
	for _, r := range rules {
		if !r.Scope.Matches(subjectID, key) {
			continue
		}
		if !r.ViolatedBy(proposed, current, hasCurrent) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return entity.RuleOutranks(out[i], out[j]) })
	return out
}

// Decide 对一次提议取值做出判定；纯函数，不访问存储
func Decide(rules []*entity.CanonRule, subjectID, key, proposed string, ec EvalContext) Decision {
	matched := Matching(rules, subjectID, key, proposed, ec.Current, ec.HasCurrent)
	if len(matched) == 0 {
		return Decision{Outcome: Allow}
	}
	rule := matched[0]
	d := Decision{
		Rule:      rule,
		LockLevel: rule.LockLevel,
		Severity:  entity.SeverityFor(rule.LockLevel, ec.Significance),
		Violated:  true,
	}

	justified := strings.TrimSpace(ec.Justification) != ""
	switch rule.LockLevel {
	case entity.LockSuggestion:
		d.Outcome = Allow
		d.Note = fmt.Sprintf("advisory: %s.%s differs from suggested canon", subjectID, key)

	case entity.LockSoft:
		switch {
		case ec.IsRetcon() && justified:
			d.Outcome, d.Overridden = Allow, true
		case ec.Override && strings.TrimSpace(ec.OverrideReason) != "":
			d.Outcome, d.Overridden = Allow, true
			d.Note = "soft rule overridden: " + ec.OverrideReason
		default:
			d.Outcome = Block
			d.Note = "soft rule requires override flag and reason"
		}

	case entity.LockHard:
		switch {
		case ec.Origin == entity.OriginGenerator:
			d.Outcome = Block
			d.Note = "hard rule blocks generated content"
		case justified:
			d.Outcome, d.Overridden = Allow, true
			d.Note = "hard rule justified: " + ec.Justification
		default:
			d.Outcome = Block
			d.Note = "hard rule requires a justification"
		}

	case entity.LockImmutable:
		if ec.IsRetcon() && justified {
			d.Outcome, d.Overridden = Allow, true
			d.Note = "immutable canon superseded by retcon"
		} else {
			d.Outcome = Block
			d.Note = "immutable canon can only change through a retcon revision"
		}

	default:
		d.Outcome = Block
		d.Note = "unknown lock level " + string(rule.LockLevel)
	}
	return d
}
