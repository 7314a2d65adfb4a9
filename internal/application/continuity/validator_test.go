package continuity_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"z-novel-canon-api/internal/application/canon"
	"z-novel-canon-api/internal/application/continuity"
	"z-novel-canon-api/internal/domain/entity"
	"z-novel-canon-api/internal/domain/repository"
	"z-novel-canon-api/internal/seed"
	apperrors "z-novel-canon-api/pkg/errors"
	"z-novel-canon-api/pkg/logger"
)

func setup(t *testing.T) (*canon.Service, *seed.Fixture) {
	t.Helper()
	svc := seed.NewMemoryService(canon.Options{})
	fx, err := seed.AshenCrown(context.Background(), svc)
	require.NoError(t, err)
	return svc, fx
}

func attribute(subjectID, key, value string) entity.Fact {
	return entity.Fact{
		Kind:      entity.FactAttribute,
		Attribute: &entity.AttributeAssertion{SubjectID: subjectID, Key: key, Value: value},
	}
}

func TestImmutableFactBlocksLaterBook(t *testing.T) {
	ctx := context.Background()
	svc, fx := setup(t)

	before, err := svc.GetSeries(ctx, fx.SeriesID)
	require.NoError(t, err)

	res, err := svc.CommitFacts(ctx, &continuity.Request{
		SeriesID: fx.SeriesID,
		Locator:  entity.NewLocator(3, 1),
		Facts:    []entity.Fact{attribute(fx.KaelID, seed.AttrMissingRightHand, "false")},
		Origin:   entity.OriginGenerator,
	})
	require.NoError(t, err)

	assert.True(t, res.Blocked)
	assert.Empty(t, res.EventIDs)
	require.Len(t, res.Violations, 1)

	viol := res.Violations[0]
	assert.Equal(t, entity.LockImmutable, viol.LockLevel)
	assert.Equal(t, entity.SeverityCritical, viol.Severity)
	assert.Equal(t, entity.ViolationDetected, viol.Status)
	assert.Equal(t, "true", viol.AuthoritativeValue)
	assert.Equal(t, "false", viol.ProposedValue)
	assert.NotEmpty(t, viol.EstablishingEventID)

	require.Len(t, res.Report.Results, 1)
	assert.Equal(t, continuity.ReasonRuleBlocked, res.Report.Results[0].Reason)

	after, err := svc.GetSeries(ctx, fx.SeriesID)
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version, "blocked commit must not advance state")

	state, err := svc.GetState(ctx, fx.SeriesID, 3)
	require.NoError(t, err)
	hand, _ := state.Lookup(fx.KaelID, seed.AttrMissingRightHand)
	assert.Equal(t, "true", hand.Value)
}

func TestRepeatedBlockReusesOpenViolation(t *testing.T) {
	ctx := context.Background()
	svc, fx := setup(t)

	req := &continuity.Request{
		SeriesID: fx.SeriesID,
		Locator:  entity.NewLocator(3, 1),
		Facts:    []entity.Fact{attribute(fx.KaelID, seed.AttrMissingRightHand, "false")},
	}
	first, err := svc.CommitFacts(ctx, req)
	require.NoError(t, err)
	second, err := svc.CommitFacts(ctx, req)
	require.NoError(t, err)

	require.Len(t, second.Violations, 1)
	assert.Equal(t, first.Violations[0].ID, second.Violations[0].ID)

	open, err := svc.ListViolations(ctx, fx.SeriesID, &repository.ViolationFilter{
		Statuses: []entity.ViolationStatus{entity.ViolationDetected},
	})
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestSoftRuleRequiresOverride(t *testing.T) {
	ctx := context.Background()
	svc, fx := setup(t)

	base := continuity.Request{
		SeriesID: fx.SeriesID,
		Locator:  entity.NewLocator(3, 2),
		Facts:    []entity.Fact{attribute(fx.KaelID, seed.AttrUsesMagic, "true")},
		Origin:   entity.OriginAuthor,
		Actor:    "editor",
	}

	blocked := base
	res, err := svc.CommitFacts(ctx, &blocked)
	require.NoError(t, err)
	require.True(t, res.Blocked)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, fx.AvoidMagicRuleID, res.Violations[0].RuleID)
	assert.Equal(t, entity.LockSoft, res.Violations[0].LockLevel)
	assert.Equal(t, entity.SeverityLow, res.Violations[0].Severity)
	assert.Equal(t, "false", res.Violations[0].AuthoritativeValue)

	noReason := base
	noReason.Override = true
	res, err = svc.CommitFacts(ctx, &noReason)
	require.NoError(t, err)
	assert.True(t, res.Blocked, "override without a reason is not an override")

	overridden := base
	overridden.Override = true
	overridden.OverrideReason = "the prophecy forces his hand"
	res, err = svc.CommitFacts(ctx, &overridden)
	require.NoError(t, err)
	require.False(t, res.Blocked)
	require.Len(t, res.EventIDs, 1)
	require.Len(t, res.Violations, 1)

	viol := res.Violations[0]
	assert.Equal(t, entity.ViolationResolved, viol.Status)
	require.NotNil(t, viol.Override)
	assert.Equal(t, "the prophecy forces his hand", viol.Override.Reason)
	assert.Equal(t, "editor", viol.Override.By)

	open, err := svc.ListViolations(ctx, fx.SeriesID, &repository.ViolationFilter{
		Statuses: []entity.ViolationStatus{entity.ViolationDetected, entity.ViolationAcknowledged},
	})
	require.NoError(t, err)
	assert.Empty(t, open)

	state, err := svc.GetState(ctx, fx.SeriesID, 3)
	require.NoError(t, err)
	magic, ok := state.Lookup(fx.KaelID, seed.AttrUsesMagic)
	require.True(t, ok)
	assert.Equal(t, "true", magic.Value)
}

func TestValidateIsReadOnly(t *testing.T) {
	ctx := context.Background()
	svc, fx := setup(t)

	report, err := svc.ValidateContent(ctx, &continuity.Request{
		SeriesID: fx.SeriesID,
		Locator:  entity.NewLocator(3, 1),
		Facts:    []entity.Fact{attribute(fx.KaelID, seed.AttrMissingRightHand, "false")},
	})
	require.NoError(t, err)
	assert.False(t, report.Accepted)
	assert.Len(t, report.Blocking(), 1)

	stored, err := svc.ListViolations(ctx, fx.SeriesID, nil)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestValidateReasons(t *testing.T) {
	ctx := context.Background()
	svc, fx := setup(t)

	tests := []struct {
		name   string
		at     entity.Locator
		fact   entity.Fact
		reason continuity.Reason
	}{
		{"unestablished attribute", entity.NewLocator(3, 1), attribute(fx.KaelID, "eye_color", "grey"), continuity.ReasonNoAuthority},
		{"restates canon", entity.NewLocator(3, 1), attribute(fx.KaelID, seed.AttrHometown, "Varos"), continuity.ReasonMatches},
		{"describes an earlier moment", entity.NewLocator(1, 2), attribute(fx.KaelID, seed.AttrMissingRightHand, "false"), continuity.ReasonPrecedesAuthority},
		{"suggestion is advisory", entity.NewLocator(3, 1), attribute(fx.VarosID, "climate", "humid"), continuity.ReasonRuleAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := svc.ValidateContent(ctx, &continuity.Request{
				SeriesID: fx.SeriesID,
				Locator:  tt.at,
				Facts:    []entity.Fact{tt.fact},
			})
			require.NoError(t, err)
			assert.True(t, report.Accepted)
			require.Len(t, report.Results, 1)
			assert.Equal(t, tt.reason, report.Results[0].Reason)
		})
	}
}

func TestSuggestionViolationIsAcknowledged(t *testing.T) {
	ctx := context.Background()
	svc, fx := setup(t)

	res, err := svc.CommitFacts(ctx, &continuity.Request{
		SeriesID: fx.SeriesID,
		Locator:  entity.NewLocator(3, 1),
		Facts:    []entity.Fact{attribute(fx.VarosID, "climate", "humid")},
	})
	require.NoError(t, err)
	require.False(t, res.Blocked)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, entity.LockSuggestion, res.Violations[0].LockLevel)
	assert.Equal(t, entity.ViolationAcknowledged, res.Violations[0].Status)
	assert.Nil(t, res.Violations[0].Override)
}

func TestBatchSeesEarlierFacts(t *testing.T) {
	ctx := context.Background()
	svc, fx := setup(t)

	// 第二条事实与同批次第一条冲突，按系列默认建议级放行并记录
	report, err := svc.ValidateContent(ctx, &continuity.Request{
		SeriesID: fx.SeriesID,
		Locator:  entity.NewLocator(3, 1),
		Facts: []entity.Fact{
			attribute(fx.MiraID, "eye_color", "green"),
			attribute(fx.MiraID, "eye_color", "brown"),
		},
	})
	require.NoError(t, err)
	require.Len(t, report.Results, 2)
	assert.Equal(t, continuity.ReasonNoAuthority, report.Results[0].Reason)
	assert.Equal(t, continuity.ReasonRuleAllowed, report.Results[1].Reason)
	require.Len(t, report.Violations, 1)
	assert.Equal(t, "green", report.Violations[0].AuthoritativeValue)
}

func TestValidateRejectsMalformedInput(t *testing.T) {
	ctx := context.Background()
	svc, fx := setup(t)

	_, err := svc.ValidateContent(ctx, &continuity.Request{
		SeriesID: fx.SeriesID,
		Locator:  entity.NewLocator(3, 1),
	})
	assert.ErrorIs(t, err, apperrors.ErrInvalidFact)

	bad := attribute(fx.KaelID, "mood", "calm")
	bad.Attribute.Significance = 12
	_, err = svc.ValidateContent(ctx, &continuity.Request{
		SeriesID: fx.SeriesID,
		Locator:  entity.NewLocator(3, 1),
		Facts:    []entity.Fact{bad},
	})
	assert.ErrorIs(t, err, apperrors.ErrInvalidFact)

	_, err = svc.ValidateContent(ctx, &continuity.Request{
		SeriesID: fx.SeriesID,
		Locator:  entity.NewLocator(3, 1),
		Facts:    []entity.Fact{attribute("nobody", "mood", "calm")},
	})
	assert.ErrorIs(t, err, apperrors.ErrEntityNotFound)
}

func TestHardRuleOnRelationshipIntensity(t *testing.T) {
	ctx := context.Background()
	svc, fx := setup(t)
	pair := entity.PairID(fx.KaelID, fx.MiraID)

	expected := "7"
	ruleID, err := svc.DefineCanonRule(ctx, fx.SeriesID,
		entity.RuleScope{Kind: entity.ScopeAttribute, EntityID: pair, AttributeKey: entity.RelAttrIntensity},
		entity.LockHard, &entity.CanonRule{Description: "Kael and Mira stay close", ExpectedValue: &expected})
	require.NoError(t, err)

	weaker := entity.Fact{
		Kind: entity.FactRelationship,
		Relationship: &entity.RelationshipChange{
			CharacterA: fx.KaelID,
			CharacterB: fx.MiraID,
			Type:       entity.RelationAlly,
			Intensity:  1,
		},
	}

	res, err := svc.CommitFacts(ctx, &continuity.Request{
		SeriesID:      fx.SeriesID,
		Locator:       entity.NewLocator(3, 1),
		Facts:         []entity.Fact{weaker},
		Origin:        entity.OriginGenerator,
		Justification: "generator thinks they drifted apart",
	})
	require.NoError(t, err)
	assert.True(t, res.Blocked)
	assert.Empty(t, res.EventIDs)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, ruleID, res.Violations[0].RuleID)
	assert.Equal(t, entity.RelAttrIntensity, res.Violations[0].Attribute)
	assert.Equal(t, "1", res.Violations[0].ProposedValue)

	state, err := svc.GetState(ctx, fx.SeriesID, 3)
	require.NoError(t, err)
	intensity, ok := state.Lookup(pair, entity.RelAttrIntensity)
	require.True(t, ok)
	assert.Equal(t, "7", intensity.Value)

	res, err = svc.CommitFacts(ctx, &continuity.Request{
		SeriesID:      fx.SeriesID,
		Locator:       entity.NewLocator(3, 1),
		Facts:         []entity.Fact{weaker},
		Origin:        entity.OriginAuthor,
		Justification: "the betrayal in the salt mines",
	})
	require.NoError(t, err)
	require.False(t, res.Blocked)
	require.Len(t, res.EventIDs, 1)

	state, err = svc.GetState(ctx, fx.SeriesID, 3)
	require.NoError(t, err)
	intensity, _ = state.Lookup(pair, entity.RelAttrIntensity)
	assert.Equal(t, "1", intensity.Value)
}

func TestUnknownRelationshipTypeRejected(t *testing.T) {
	ctx := context.Background()
	svc, fx := setup(t)

	_, err := svc.CommitFacts(ctx, &continuity.Request{
		SeriesID: fx.SeriesID,
		Locator:  entity.NewLocator(3, 1),
		Facts: []entity.Fact{{
			Kind: entity.FactRelationship,
			Relationship: &entity.RelationshipChange{
				CharacterA: fx.KaelID, CharacterB: fx.MiraID, Type: "sworn-blood-nemesis", Intensity: 4,
			},
		}},
	})
	assert.ErrorIs(t, err, apperrors.ErrInvalidFact)
}

func TestCommitLogCarriesSeriesOnce(t *testing.T) {
	ctx := context.Background()
	svc, fx := setup(t)

	var buf bytes.Buffer
	logger.InitWithWriter("info", "json", &buf)
	t.Cleanup(func() { logger.Init("info", "json") })

	_, err := svc.CommitFacts(ctx, &continuity.Request{
		SeriesID: fx.SeriesID,
		Locator:  entity.NewLocator(3, 1),
		Facts:    []entity.Fact{attribute(fx.MiraID, "eye_color", "green")},
	})
	require.NoError(t, err)

	var committed string
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.Contains(line, `"msg":"facts committed"`) {
			committed = line
		}
	}
	require.NotEmpty(t, committed)
	assert.Equal(t, 1, strings.Count(committed, `"series_id"`))
}
