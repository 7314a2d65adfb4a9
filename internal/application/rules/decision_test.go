package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"z-novel-canon-api/internal/domain/entity"
)

func attrRule(id string, level entity.LockLevel, expected *string) *entity.CanonRule {
	return &entity.CanonRule{
		ID:            id,
		Scope:         entity.RuleScope{Kind: entity.ScopeAttribute, EntityID: "kael", AttributeKey: "hometown"},
		LockLevel:     level,
		ExpectedValue: expected,
	}
}

func established(ec EvalContext) EvalContext {
	ec.Current, ec.HasCurrent = "Varos", true
	ec.Significance = entity.DefaultSignificance
	return ec
}

func TestDecideNoMatchingRule(t *testing.T) {
	d := Decide(nil, "kael", "hometown", "Meridia", established(EvalContext{Origin: entity.OriginAuthor}))
	assert.True(t, d.Allowed())
	assert.False(t, d.Violated)
}

func TestDecideByLockLevel(t *testing.T) {
	tests := []struct {
		name       string
		level      entity.LockLevel
		ec         EvalContext
		allowed    bool
		overridden bool
	}{
		{"suggestion is advisory", entity.LockSuggestion, EvalContext{Origin: entity.OriginGenerator}, true, false},
		{"soft blocks without override", entity.LockSoft, EvalContext{Origin: entity.OriginAuthor}, false, false},
		{"soft override needs reason", entity.LockSoft, EvalContext{Origin: entity.OriginAuthor, Override: true}, false, false},
		{"soft override with reason", entity.LockSoft, EvalContext{Origin: entity.OriginAuthor, Override: true, OverrideReason: "dream sequence"}, true, true},
		{"hard blocks generator even when justified", entity.LockHard, EvalContext{Origin: entity.OriginGenerator, Justification: "because"}, false, false},
		{"hard allows justified author", entity.LockHard, EvalContext{Origin: entity.OriginAuthor, Justification: "planned twist"}, true, true},
		{"hard blocks unjustified author", entity.LockHard, EvalContext{Origin: entity.OriginAuthor}, false, false},
		{"immutable blocks override", entity.LockImmutable, EvalContext{Origin: entity.OriginAuthor, Override: true, OverrideReason: "please"}, false, false},
		{"immutable blocks unjustified retcon", entity.LockImmutable, EvalContext{Origin: entity.OriginRevision, RevisionKind: entity.RevisionRetcon}, false, false},
		{"immutable allows justified retcon", entity.LockImmutable, EvalContext{Origin: entity.OriginRevision, RevisionKind: entity.RevisionRetcon, Justification: "new origin"}, true, true},
		{"immutable blocks character change", entity.LockImmutable, EvalContext{Origin: entity.OriginRevision, RevisionKind: entity.RevisionCharacterChange, Justification: "x"}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules := []*entity.CanonRule{attrRule("r1", tt.level, nil)}
			d := Decide(rules, "kael", "hometown", "Meridia", established(tt.ec))

			assert.True(t, d.Violated)
			assert.Equal(t, tt.allowed, d.Allowed())
			assert.Equal(t, tt.overridden, d.Overridden)
			assert.Equal(t, tt.level, d.LockLevel)
			assert.Equal(t, "r1", d.Rule.ID)
			assert.NotEmpty(t, d.Note)
		})
	}
}

func TestDecidePicksStrictestRule(t *testing.T) {
	series := &entity.CanonRule{ID: "series", Scope: entity.RuleScope{Kind: entity.ScopeSeries}, LockLevel: entity.LockSoft}
	immutable := attrRule("lock", entity.LockImmutable, nil)

	d := Decide([]*entity.CanonRule{series, immutable}, "kael", "hometown", "Meridia",
		established(EvalContext{Origin: entity.OriginAuthor, Override: true, OverrideReason: "r"}))

	assert.Equal(t, "lock", d.Rule.ID)
	assert.Equal(t, entity.SeverityCritical, d.Severity)
	assert.False(t, d.Allowed())
}

func TestDecideExpectationWithoutEstablishedValue(t *testing.T) {
	expected := "false"
	rule := &entity.CanonRule{
		ID:            "avoid-magic",
		Scope:         entity.RuleScope{Kind: entity.ScopeAttribute, EntityID: "kael", AttributeKey: "uses_magic"},
		LockLevel:     entity.LockSoft,
		ExpectedValue: &expected,
	}
	ec := EvalContext{Origin: entity.OriginAuthor, Significance: entity.DefaultSignificance}

	assert.False(t, Decide([]*entity.CanonRule{rule}, "kael", "uses_magic", "false", ec).Violated)

	d := Decide([]*entity.CanonRule{rule}, "kael", "uses_magic", "true", ec)
	assert.True(t, d.Violated)
	assert.False(t, d.Allowed())
	assert.Equal(t, entity.SeverityLow, d.Severity)
}

func TestMatchingSkipsSatisfiedRules(t *testing.T) {
	expected := "Varos"
	rules := []*entity.CanonRule{
		attrRule("keeps", entity.LockHard, &expected),
		{ID: "other", Scope: entity.RuleScope{Kind: entity.ScopeEntity, EntityID: "mira"}, LockLevel: entity.LockHard},
	}
	assert.Empty(t, Matching(rules, "kael", "hometown", "Varos", "Varos", true))
	assert.Len(t, Matching(rules, "kael", "hometown", "Meridia", "Varos", true), 1)
}
