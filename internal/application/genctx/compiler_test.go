package genctx_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"z-novel-canon-api/internal/application/canon"
	"z-novel-canon-api/internal/application/continuity"
	"z-novel-canon-api/internal/application/genctx"
	"z-novel-canon-api/internal/domain/entity"
	"z-novel-canon-api/internal/seed"
	apperrors "z-novel-canon-api/pkg/errors"
)

func setup(t *testing.T) (*canon.Service, *seed.Fixture) {
	t.Helper()
	svc := seed.NewMemoryService(canon.Options{})
	fx, err := seed.AshenCrown(context.Background(), svc)
	require.NoError(t, err)
	return svc, fx
}

func compile(t *testing.T, svc *canon.Service, req *genctx.Request) ([]byte, *genctx.GenerationContext) {
	t.Helper()
	payload, err := svc.CompileGenerationContext(context.Background(), req)
	require.NoError(t, err)
	var gc genctx.GenerationContext
	require.NoError(t, json.Unmarshal(payload, &gc))
	return payload, &gc
}

func find(gc *genctx.GenerationContext, id string) *genctx.Item {
	for i := range gc.Items {
		if gc.Items[i].ID == id {
			return &gc.Items[i]
		}
	}
	return nil
}

func TestCompileIsDeterministic(t *testing.T) {
	svc, fx := setup(t)
	req := func() *genctx.Request {
		return &genctx.Request{
			SeriesID:  fx.SeriesID,
			Cutoff:    entity.NewLocator(2, 6),
			SceneRefs: []string{fx.MiraID, fx.VarosID, fx.MiraID},
		}
	}

	first, _ := compile(t, svc, req())
	for i := 0; i < 5; i++ {
		again, _ := compile(t, svc, req())
		assert.Equal(t, first, again)
	}
}

func TestCompileRespectsCutoff(t *testing.T) {
	svc, fx := setup(t)

	_, early := compile(t, svc, &genctx.Request{SeriesID: fx.SeriesID, Cutoff: entity.NewLocator(1, 1)})
	assert.NotNil(t, find(early, fx.KaelID))
	assert.Nil(t, find(early, fx.MiraID), "Mira first appears in chapter 2")
	assert.Nil(t, find(early, fx.GuardID))
	kael := find(early, fx.KaelID)
	assert.NotContains(t, kael.Attributes, seed.AttrMissingRightHand)

	_, later := compile(t, svc, &genctx.Request{SeriesID: fx.SeriesID, Cutoff: entity.NewLocator(2, 4)})
	kael = find(later, fx.KaelID)
	require.NotNil(t, kael)
	assert.Equal(t, string(entity.CharacterActive), kael.Status)
	assert.Equal(t, "true", kael.Attributes[seed.AttrMissingRightHand])
	assert.Equal(t, []string{seed.AttrMissingRightHand}, kael.Locked)
	require.Len(t, kael.Relationships, 1)
	assert.Equal(t, fx.MiraID, kael.Relationships[0].With)
	assert.Equal(t, string(entity.RelationAlly), kael.Relationships[0].Type)

	arc := find(later, fx.ArcID)
	require.NotNil(t, arc)
	assert.Equal(t, genctx.ItemArc, arc.Kind)
	assert.Equal(t, "The Ashen Crown", later.Series.Title)
	assert.Equal(t, "grim", later.Series.Tone)
}

func TestCompileOrdersByScore(t *testing.T) {
	svc, fx := setup(t)

	_, gc := compile(t, svc, &genctx.Request{
		SeriesID:  fx.SeriesID,
		Cutoff:    entity.NewLocator(2, 4),
		SceneRefs: []string{fx.MeridiaID},
	})
	require.NotEmpty(t, gc.Items)
	assert.Equal(t, fx.MeridiaID, gc.Items[0].ID, "scene references outrank everything else")
	for i := 1; i < len(gc.Items); i++ {
		prev, cur := gc.Items[i-1], gc.Items[i]
		assert.True(t, prev.Score > cur.Score || (prev.Score == cur.Score && prev.ID <= cur.ID))
	}
}

func TestCompileTruncatesToBudget(t *testing.T) {
	svc, fx := setup(t)
	cutoff := entity.NewLocator(2, 4)

	_, full := compile(t, svc, &genctx.Request{SeriesID: fx.SeriesID, Cutoff: cutoff})
	require.Greater(t, len(full.Items), 2)
	assert.False(t, full.Truncated)

	_, byItems := compile(t, svc, &genctx.Request{SeriesID: fx.SeriesID, Cutoff: cutoff, Budget: genctx.Budget{MaxItems: 2}})
	assert.True(t, byItems.Truncated)
	assert.Equal(t, len(full.Items)-2, byItems.Omitted)
	assert.Equal(t, full.Items[:2], byItems.Items, "truncation keeps the highest ranked prefix")

	_, byChars := compile(t, svc, &genctx.Request{SeriesID: fx.SeriesID, Cutoff: cutoff, Budget: genctx.Budget{MaxChars: 1}})
	assert.Empty(t, byChars.Items)
	assert.Equal(t, len(full.Items), byChars.Omitted)
}

func TestCompileTracksRipples(t *testing.T) {
	ctx := context.Background()
	svc, fx := setup(t)

	res, err := svc.CommitFacts(ctx, &continuity.Request{
		SeriesID: fx.SeriesID,
		Locator:  entity.NewLocator(2, 5),
		Facts: []entity.Fact{{Kind: entity.FactEvent, Event: &entity.EventFact{
			SubjectID: fx.MiraID, Kind: entity.EventRelational, Permanent: true, Significance: 6,
			NewState:    entity.AttributeMap{"owes": "guard captain"},
			References:  []string{fx.GuardID},
			Consequence: "The guard captain will call in Mira's debt",
		}}},
	})
	require.NoError(t, err)
	rippleID := res.EventIDs[0]

	_, open := compile(t, svc, &genctx.Request{SeriesID: fx.SeriesID, Cutoff: entity.NewLocator(2, 5)})
	ripple := find(open, rippleID)
	require.NotNil(t, ripple)
	assert.Equal(t, genctx.ItemRipple, ripple.Kind)
	assert.Equal(t, "The guard captain will call in Mira's debt", ripple.Summary)

	_, err = svc.CommitFacts(ctx, &continuity.Request{
		SeriesID: fx.SeriesID,
		Locator:  entity.NewLocator(2, 6),
		Facts: []entity.Fact{{Kind: entity.FactEvent, Event: &entity.EventFact{
			SubjectID: fx.MiraID, Kind: entity.EventRelational, Permanent: true,
			NewState:        entity.AttributeMap{"owes": "nobody"},
			ResolvesRipples: []string{rippleID},
		}}},
	})
	require.NoError(t, err)

	_, settled := compile(t, svc, &genctx.Request{SeriesID: fx.SeriesID, Cutoff: entity.NewLocator(2, 6)})
	assert.Nil(t, find(settled, rippleID))

	// 截止位置早于解决事件时仍然可见
	_, before := compile(t, svc, &genctx.Request{SeriesID: fx.SeriesID, Cutoff: entity.NewLocator(2, 5)})
	assert.NotNil(t, find(before, rippleID))
}

func TestCompileRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	svc, fx := setup(t)

	_, err := svc.CompileGenerationContext(ctx, &genctx.Request{SeriesID: "missing", Cutoff: entity.NewLocator(1, 1)})
	assert.ErrorIs(t, err, apperrors.ErrSeriesNotFound)

	_, err = svc.CompileGenerationContext(ctx, &genctx.Request{
		SeriesID: fx.SeriesID,
		Cutoff:   entity.NewLocator(1, 1),
		Budget:   genctx.Budget{MaxItems: -1},
	})
	assert.ErrorIs(t, err, apperrors.ErrInvalidFact)
}
