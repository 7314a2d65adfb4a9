package revision_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"z-novel-canon-api/internal/application/canon"
	"z-novel-canon-api/internal/application/continuity"
	"z-novel-canon-api/internal/application/revision"
	"z-novel-canon-api/internal/domain/entity"
	"z-novel-canon-api/internal/seed"
	apperrors "z-novel-canon-api/pkg/errors"
)

func setup(t *testing.T, opts canon.Options) (*canon.Service, *seed.Fixture) {
	t.Helper()
	svc := seed.NewMemoryService(opts)
	fx, err := seed.AshenCrown(context.Background(), svc)
	require.NoError(t, err)
	return svc, fx
}

func hometownRetcon(fx *seed.Fixture, key, value string) *entity.RevisionRequest {
	return &entity.RevisionRequest{
		SeriesID:       fx.SeriesID,
		Kind:           entity.RevisionRetcon,
		TargetType:     entity.SubjectCharacter,
		TargetID:       fx.KaelID,
		Delta:          entity.AttributeMap{seed.AttrHometown: value},
		Justification:  "Kael was raised in Meridia and only fled to Varos later",
		IdempotencyKey: key,
		RequestedBy:    "editor",
	}
}

func TestPlanHometownRetcon(t *testing.T) {
	ctx := context.Background()
	svc, fx := setup(t, canon.Options{})

	plan, err := svc.PlanRevision(ctx, hometownRetcon(fx, "retcon-1", "Meridia"))
	require.NoError(t, err)

	assert.False(t, plan.Blocked)
	assert.False(t, plan.DepthExceeded)
	require.Len(t, plan.DirectFacts, 1)
	direct := plan.DirectFacts[0]
	assert.Equal(t, entity.FactRef{SubjectID: fx.KaelID, Attribute: seed.AttrHometown}, direct.Ref)
	assert.Equal(t, "Varos", direct.OldValue)
	assert.Equal(t, "Meridia", direct.NewValue)
	assert.NotEmpty(t, direct.EventID)

	assert.ElementsMatch(t, []string{fx.KaelID, fx.MiraID}, plan.Characters)
	assert.Contains(t, plan.WorldElements, fx.VarosID)
	assert.Contains(t, plan.WorldElements, fx.GuardID)
	assert.NotContains(t, plan.WorldElements, fx.MeridiaID)
	assert.Equal(t, []string{entity.PairID(fx.KaelID, fx.MiraID)}, plan.Relationships)
	assert.Equal(t, []string{fx.ArcID}, plan.Arcs)

	for _, ch := range []entity.ChapterRef{{Book: 1, Chapter: 1}, {Book: 1, Chapter: 3}, {Book: 2, Chapter: 4}} {
		assert.Contains(t, plan.Chapters, ch)
	}
	for i := 1; i < len(plan.Chapters); i++ {
		assert.True(t, plan.Chapters[i-1].Less(plan.Chapters[i]))
	}
	assert.NotEmpty(t, plan.Fingerprint)

	again, err := svc.PlanRevision(ctx, hometownRetcon(fx, "retcon-1", "Meridia"))
	require.NoError(t, err)
	assert.Equal(t, plan.Fingerprint, again.Fingerprint, "planning is read-only and deterministic")
}

func TestApplyHometownRetcon(t *testing.T) {
	ctx := context.Background()
	svc, fx := setup(t, canon.Options{})

	req := hometownRetcon(fx, "retcon-1", "Meridia")
	plan, err := svc.PlanRevision(ctx, req)
	require.NoError(t, err)

	applied, err := svc.ApplyRevision(ctx, req, entity.Approval{
		ApprovedBy:      "lead-editor",
		PlanFingerprint: plan.Fingerprint,
	})
	require.NoError(t, err)
	require.False(t, applied.Replayed)
	require.Len(t, applied.Result.AppliedEventIDs, 1)
	require.Len(t, applied.Result.Changes, 1)
	assert.Equal(t, entity.AttributeMap{seed.AttrHometown: "Meridia"}, applied.Result.Changes[0].AppliedDelta)
	assert.Equal(t, plan.Fingerprint, applied.Result.PlanFingerprint)

	now, err := svc.GetState(ctx, fx.SeriesID, 2)
	require.NoError(t, err)
	home, _ := now.Lookup(fx.KaelID, seed.AttrHometown)
	assert.Equal(t, "Meridia", home.Value)
	assert.Equal(t, applied.Result.AppliedEventIDs[0], home.EventID)
	assert.Equal(t, applied.Result.SeriesVersion, now.Version)

	// 修订写在当前最新章节，第一卷的历史保持不变
	then, err := svc.GetState(ctx, fx.SeriesID, 1)
	require.NoError(t, err)
	old, _ := then.Lookup(fx.KaelID, seed.AttrHometown)
	assert.Equal(t, "Varos", old.Value)

	timeline, err := svc.GetCharacterTimeline(ctx, fx.KaelID)
	require.NoError(t, err)
	last := timeline[len(timeline)-1]
	assert.Equal(t, entity.OriginRevision, last.Origin)
	assert.Equal(t, plan.DirectFacts[0].EventID, last.Supersedes)
	assert.Equal(t, string(entity.RevisionRetcon), last.RevisionKind)
}

func TestApplyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, fx := setup(t, canon.Options{})

	first, err := svc.ApplyRevision(ctx, hometownRetcon(fx, "retcon-1", "Meridia"), entity.Approval{})
	require.NoError(t, err)

	replay, err := svc.ApplyRevision(ctx, hometownRetcon(fx, "retcon-1", "Meridia"), entity.Approval{})
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, first.Result.RevisionRequestID, replay.Result.RevisionRequestID)
	assert.Equal(t, first.Result.AppliedEventIDs, replay.Result.AppliedEventIDs)

	_, err = svc.ApplyRevision(ctx, hometownRetcon(fx, "retcon-1", "Ashfall"), entity.Approval{})
	assert.ErrorIs(t, err, apperrors.ErrIdempotencyMismatch)

	timeline, err := svc.GetCharacterTimeline(ctx, fx.KaelID)
	require.NoError(t, err)
	revisions := 0
	for _, e := range timeline {
		if e.Origin == entity.OriginRevision {
			revisions++
		}
	}
	assert.Equal(t, 1, revisions)
}

func TestConcurrentApplySerializes(t *testing.T) {
	ctx := context.Background()
	svc, fx := setup(t, canon.Options{})

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
		noop    int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// 不同幂等键、相同变更：只有第一个真正改变设定
			req := hometownRetcon(fx, "retcon-"+string(rune('a'+i)), "Meridia")
			_, err := svc.ApplyRevision(ctx, req, entity.Approval{})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				applied++
			case errors.Is(err, apperrors.ErrInvalidRevision):
				noop++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	assert.Equal(t, workers-1, noop)

	state, err := svc.GetState(ctx, fx.SeriesID, 2)
	require.NoError(t, err)
	home, _ := state.Lookup(fx.KaelID, seed.AttrHometown)
	assert.Equal(t, "Meridia", home.Value)
}

func TestConcurrentReplaySameKey(t *testing.T) {
	ctx := context.Background()
	svc, fx := setup(t, canon.Options{})

	results := make([]*revision.Applied, 4)
	errs := make([]error, 4)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.ApplyRevision(ctx, hometownRetcon(fx, "retcon-shared", "Meridia"), entity.Approval{})
		}(i)
	}
	wg.Wait()

	fresh := 0
	for i := range results {
		require.NoError(t, errs[i])
		if !results[i].Replayed {
			fresh++
		}
		assert.Equal(t, results[0].Result.RevisionRequestID, results[i].Result.RevisionRequestID)
	}
	assert.Equal(t, 1, fresh)
}

func TestApplyRejectsStalePlan(t *testing.T) {
	ctx := context.Background()
	svc, fx := setup(t, canon.Options{})

	req := hometownRetcon(fx, "retcon-1", "Meridia")
	plan, err := svc.PlanRevision(ctx, req)
	require.NoError(t, err)

	// 计划之后 Kael 的出生地被改写，计划不再成立
	res, err := svc.CommitFacts(ctx, &continuity.Request{
		SeriesID: fx.SeriesID,
		Locator:  entity.NewLocator(2, 5),
		Facts: []entity.Fact{{
			Kind:      entity.FactAttribute,
			Attribute: &entity.AttributeAssertion{SubjectID: fx.KaelID, Key: seed.AttrHometown, Value: "Ashfall"},
		}},
	})
	require.NoError(t, err)
	require.False(t, res.Blocked)

	_, err = svc.ApplyRevision(ctx, req, entity.Approval{PlanFingerprint: plan.Fingerprint})
	assert.ErrorIs(t, err, apperrors.ErrStalePlan)
}

func TestApplyRespectsImmutableLock(t *testing.T) {
	ctx := context.Background()
	svc, fx := setup(t, canon.Options{})

	req := &entity.RevisionRequest{
		SeriesID:       fx.SeriesID,
		Kind:           entity.RevisionCharacterChange,
		TargetType:     entity.SubjectCharacter,
		TargetID:       fx.KaelID,
		Delta:          entity.AttributeMap{seed.AttrMissingRightHand: "false"},
		IdempotencyKey: "regrow",
	}
	plan, err := svc.PlanRevision(ctx, req)
	require.NoError(t, err)
	assert.True(t, plan.Blocked)
	assert.NotEmpty(t, plan.BlockReason)

	_, err = svc.ApplyRevision(ctx, req, entity.Approval{Override: true, OverrideReason: "please"})
	assert.ErrorIs(t, err, apperrors.ErrCanonLocked)

	// 有说明的 retcon 可以改写 immutable 事实
	retcon := *req
	retcon.Kind = entity.RevisionRetcon
	retcon.IdempotencyKey = "regrow-retcon"
	retcon.Justification = "the hand was an illusion"
	applied, err := svc.ApplyRevision(ctx, &retcon, entity.Approval{})
	require.NoError(t, err)
	assert.Len(t, applied.Result.AppliedEventIDs, 1)
}

func TestImpactBounded(t *testing.T) {
	ctx := context.Background()
	svc, fx := setup(t, canon.Options{Limits: revision.Limits{MaxNodes: 2}})

	req := hometownRetcon(fx, "retcon-1", "Meridia")
	plan, err := svc.PlanRevision(ctx, req)
	require.NoError(t, err)
	assert.True(t, plan.DepthExceeded)

	_, err = svc.ApplyRevision(ctx, req, entity.Approval{})
	assert.ErrorIs(t, err, apperrors.ErrImpactTooDeep)
}

func TestCancelledPlanDiscardsPartialImpact(t *testing.T) {
	svc, fx := setup(t, canon.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	plan, err := svc.PlanRevision(ctx, hometownRetcon(fx, "retcon-1", "Meridia"))
	assert.Nil(t, plan)
	assert.ErrorIs(t, err, apperrors.ErrTimeout)
}

func TestCancelledApplyWritesNothing(t *testing.T) {
	ctx := context.Background()
	svc, fx := setup(t, canon.Options{})

	before, err := svc.GetSeries(ctx, fx.SeriesID)
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	applied, err := svc.ApplyRevision(cancelled, hometownRetcon(fx, "retcon-1", "Meridia"), entity.Approval{})
	assert.Nil(t, applied)
	assert.ErrorIs(t, err, apperrors.ErrTimeout)

	after, err := svc.GetSeries(ctx, fx.SeriesID)
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version)

	state, err := svc.GetState(ctx, fx.SeriesID, 2)
	require.NoError(t, err)
	hometown, _ := state.Lookup(fx.KaelID, seed.AttrHometown)
	assert.Equal(t, "Varos", hometown.Value)

	// 没有留下修订记录：同一幂等键再次提交时真正生效
	retry, err := svc.ApplyRevision(ctx, hometownRetcon(fx, "retcon-1", "Meridia"), entity.Approval{})
	require.NoError(t, err)
	assert.False(t, retry.Replayed)
}

func TestRelationshipRetconChecksState(t *testing.T) {
	ctx := context.Background()
	svc, fx := setup(t, canon.Options{})
	pair := entity.PairID(fx.KaelID, fx.MiraID)

	req := &entity.RevisionRequest{
		SeriesID:       fx.SeriesID,
		Kind:           entity.RevisionRetcon,
		TargetType:     entity.SubjectRelationship,
		TargetID:       pair,
		Delta:          entity.AttributeMap{entity.RelAttrIntensity: "eleven", entity.RelAttrType: "sworn-blood-nemesis"},
		Justification:  "they were always enemies",
		IdempotencyKey: "retcon-pair",
	}
	_, err := svc.PlanRevision(ctx, req)
	assert.ErrorIs(t, err, apperrors.ErrInvalidRevision)
	_, err = svc.ApplyRevision(ctx, req, entity.Approval{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidRevision)

	req.Delta = entity.AttributeMap{entity.RelAttrIntensity: "9", entity.RelAttrType: string(entity.RelationEnemy)}
	applied, err := svc.ApplyRevision(ctx, req, entity.Approval{})
	require.NoError(t, err)
	assert.Len(t, applied.Result.AppliedEventIDs, 2)

	state, err := svc.GetState(ctx, fx.SeriesID, 2)
	require.NoError(t, err)
	intensity, _ := state.Lookup(pair, entity.RelAttrIntensity)
	relType, _ := state.Lookup(pair, entity.RelAttrType)
	assert.Equal(t, "9", intensity.Value)
	assert.Equal(t, string(entity.RelationEnemy), relType.Value)
}

func TestDependentFactsFollowOldValue(t *testing.T) {
	ctx := context.Background()
	svc, fx := setup(t, canon.Options{})

	dependsOnHometown := entity.FactRefs{{SubjectID: fx.KaelID, Attribute: seed.AttrHometown}}
	res, err := svc.CommitFacts(ctx, &continuity.Request{
		SeriesID: fx.SeriesID,
		Locator:  entity.NewLocator(2, 5),
		Facts: []entity.Fact{
			{Kind: entity.FactEvent, Event: &entity.EventFact{
				SubjectID: fx.MiraID, Kind: entity.EventPsychological, Permanent: true,
				NewState:  entity.AttributeMap{"childhood_friend_from": "Varos"},
				DependsOn: dependsOnHometown,
			}},
			{Kind: entity.FactEvent, Event: &entity.EventFact{
				SubjectID: fx.MiraID, Kind: entity.EventPsychological, Permanent: true,
				NewState:  entity.AttributeMap{"distrusts_kael": "true"},
				DependsOn: dependsOnHometown,
			}},
		},
	})
	require.NoError(t, err)
	require.False(t, res.Blocked)

	plan, err := svc.PlanRevision(ctx, hometownRetcon(fx, "retcon-1", "Meridia"))
	require.NoError(t, err)

	require.Len(t, plan.DependentFacts, 1)
	dep := plan.DependentFacts[0]
	assert.Equal(t, entity.FactRef{SubjectID: fx.MiraID, Attribute: "childhood_friend_from"}, dep.Ref)
	assert.Equal(t, "Meridia", dep.NewValue)
	assert.Equal(t, 1, dep.Depth)

	require.Len(t, plan.ReviewFacts, 1)
	assert.Equal(t, "distrusts_kael", plan.ReviewFacts[0].Ref.Attribute)

	applied, err := svc.ApplyRevision(ctx, hometownRetcon(fx, "retcon-1", "Meridia"), entity.Approval{})
	require.NoError(t, err)
	assert.Len(t, applied.Result.AppliedEventIDs, 2)

	state, err := svc.GetState(ctx, fx.SeriesID, 2)
	require.NoError(t, err)
	friend, _ := state.Lookup(fx.MiraID, "childhood_friend_from")
	assert.Equal(t, "Meridia", friend.Value)
}

func TestApplyResolvesViolations(t *testing.T) {
	ctx := context.Background()
	svc, fx := setup(t, canon.Options{})

	blocked, err := svc.CommitFacts(ctx, &continuity.Request{
		SeriesID: fx.SeriesID,
		Locator:  entity.NewLocator(3, 1),
		Facts: []entity.Fact{{
			Kind:      entity.FactAttribute,
			Attribute: &entity.AttributeAssertion{SubjectID: fx.KaelID, Key: seed.AttrUsesMagic, Value: "true"},
		}},
	})
	require.NoError(t, err)
	require.True(t, blocked.Blocked)
	violationID := blocked.Violations[0].ID

	applied, err := svc.ApplyRevision(ctx, hometownRetcon(fx, "retcon-1", "Meridia"), entity.Approval{
		ResolvesViolationIDs: []string{violationID},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{violationID}, applied.Result.ResolvedViolationIDs)

	list, err := svc.ListViolations(ctx, fx.SeriesID, nil)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, entity.ViolationResolved, list[0].Status)
	assert.Equal(t, applied.Result.RevisionRequestID, list[0].RevisionRequestID)
}

func TestRevisionRequestValidation(t *testing.T) {
	ctx := context.Background()
	svc, fx := setup(t, canon.Options{})

	noJustification := hometownRetcon(fx, "k", "Meridia")
	noJustification.Justification = ""
	_, err := svc.PlanRevision(ctx, noJustification)
	assert.ErrorIs(t, err, apperrors.ErrInvalidRevision)

	wrongTarget := hometownRetcon(fx, "k", "Meridia")
	wrongTarget.Kind = entity.RevisionWorldChange
	_, err = svc.ApplyRevision(ctx, wrongTarget, entity.Approval{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidRevision)

	unknown := hometownRetcon(fx, "k", "Meridia")
	unknown.TargetID = "nobody"
	_, err = svc.PlanRevision(ctx, unknown)
	assert.ErrorIs(t, err, apperrors.ErrCharacterNotFound)
}
