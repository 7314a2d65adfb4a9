package canon_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"z-novel-canon-api/internal/application/canon"
	"z-novel-canon-api/internal/application/continuity"
	"z-novel-canon-api/internal/application/genctx"
	"z-novel-canon-api/internal/domain/entity"
	"z-novel-canon-api/internal/infrastructure/persistence/memory"
	"z-novel-canon-api/internal/seed"
	apperrors "z-novel-canon-api/pkg/errors"
)

type mapCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	keys    []string
}

func (c *mapCache) GetOrLoad(_ context.Context, key string, _ time.Duration, loader func() ([]byte, error)) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = append(c.keys, key)
	if v, ok := c.entries[key]; ok {
		return v, true, nil
	}
	v, err := loader()
	if err != nil {
		return nil, false, err
	}
	c.entries[key] = v
	return v, false, nil
}

type recordingNotifier struct {
	changes []*canon.Change
	err     error
}

func (n *recordingNotifier) NotifyChange(_ context.Context, change *canon.Change) error {
	n.changes = append(n.changes, change)
	return n.err
}

func setup(t *testing.T) (*canon.Service, *seed.Fixture, *mapCache, *recordingNotifier) {
	t.Helper()
	cache := &mapCache{entries: map[string][]byte{}}
	notifier := &recordingNotifier{}
	svc := canon.NewService(memory.NewStore().Repositories(), canon.Options{}, cache, notifier)
	fx, err := seed.AshenCrown(context.Background(), svc)
	require.NoError(t, err)
	notifier.changes = nil
	return svc, fx, cache, notifier
}

func attribute(subjectID, key, value string) entity.Fact {
	return entity.Fact{
		Kind:      entity.FactAttribute,
		Attribute: &entity.AttributeAssertion{SubjectID: subjectID, Key: key, Value: value},
	}
}

func TestContextCacheKeyFollowsVersion(t *testing.T) {
	ctx := context.Background()
	svc, fx, cache, _ := setup(t)

	req := func(refs ...string) *genctx.Request {
		return &genctx.Request{SeriesID: fx.SeriesID, Cutoff: entity.NewLocator(2, 5), SceneRefs: refs}
	}

	first, err := svc.CompileGenerationContext(ctx, req(fx.MiraID, fx.KaelID))
	require.NoError(t, err)
	// 场景引用顺序与重复不影响缓存键
	second, err := svc.CompileGenerationContext(ctx, req(fx.KaelID, " "+fx.MiraID, fx.KaelID))
	require.NoError(t, err)
	assert.Equal(t, first, second)
	require.Len(t, cache.keys, 2)
	assert.Equal(t, cache.keys[0], cache.keys[1])
	assert.True(t, strings.HasPrefix(cache.keys[0], canon.ContextCachePrefix(fx.SeriesID)))

	_, err = svc.CommitFacts(ctx, &continuity.Request{
		SeriesID: fx.SeriesID,
		Locator:  entity.NewLocator(2, 5),
		Facts:    []entity.Fact{attribute(fx.MiraID, "eye_color", "green")},
	})
	require.NoError(t, err)

	third, err := svc.CompileGenerationContext(ctx, req(fx.MiraID, fx.KaelID))
	require.NoError(t, err)
	require.Len(t, cache.keys, 3)
	assert.NotEqual(t, cache.keys[0], cache.keys[2], "a commit moves the state version")
	assert.Contains(t, string(third), "green")
	assert.NotContains(t, string(first), "green")
}

func TestContextCutoffIgnoresSequence(t *testing.T) {
	ctx := context.Background()
	svc, fx, cache, _ := setup(t)

	chapter, err := svc.CompileGenerationContext(ctx, &genctx.Request{SeriesID: fx.SeriesID, Cutoff: entity.NewLocator(2, 4)})
	require.NoError(t, err)
	withSeq, err := svc.CompileGenerationContext(ctx, &genctx.Request{
		SeriesID: fx.SeriesID,
		Cutoff:   entity.Locator{Book: 2, Chapter: 4, Sequence: 3},
	})
	require.NoError(t, err)

	require.Len(t, cache.keys, 2)
	assert.Equal(t, cache.keys[0], cache.keys[1])
	assert.Equal(t, chapter, withSeq)

	uncached := seed.NewMemoryService(canon.Options{})
	fx2, err := seed.AshenCrown(ctx, uncached)
	require.NoError(t, err)
	direct, err := uncached.CompileGenerationContext(ctx, &genctx.Request{
		SeriesID: fx2.SeriesID,
		Cutoff:   entity.Locator{Book: 2, Chapter: 4, Sequence: 3},
	})
	require.NoError(t, err)
	var payload struct {
		Cutoff entity.Locator `json:"cutoff"`
	}
	require.NoError(t, json.Unmarshal(direct, &payload))
	assert.Equal(t, entity.NewLocator(2, 4), payload.Cutoff)
}

func TestContextCacheKeyComponents(t *testing.T) {
	base := &genctx.Request{SeriesID: "s-1", Cutoff: entity.NewLocator(2, 4), SceneRefs: []string{"a", "b"}}
	key := canon.ContextCacheKey(base, 3)
	assert.True(t, strings.HasPrefix(key, "genctx:s-1:v3:"))

	variants := []*genctx.Request{
		{SeriesID: "s-1", Cutoff: entity.NewLocator(2, 5), SceneRefs: []string{"a", "b"}},
		{SeriesID: "s-1", Cutoff: entity.NewLocator(2, 4), SceneRefs: []string{"a"}},
		{SeriesID: "s-1", Cutoff: entity.NewLocator(2, 4), SceneRefs: []string{"a", "b"}, Budget: genctx.Budget{MaxItems: 5}},
		{SeriesID: "s-1", Cutoff: entity.NewLocator(2, 4), SceneRefs: []string{"a", "b"}, Budget: genctx.Budget{MaxChars: 100}},
	}
	for _, v := range variants {
		assert.NotEqual(t, key, canon.ContextCacheKey(v, 3))
	}
	assert.NotEqual(t, key, canon.ContextCacheKey(base, 4))
}

func TestCommitNotifiesOnlyWhenWritten(t *testing.T) {
	ctx := context.Background()
	svc, fx, _, notifier := setup(t)

	res, err := svc.CommitFacts(ctx, &continuity.Request{
		SeriesID: fx.SeriesID,
		Locator:  entity.NewLocator(3, 1),
		Facts:    []entity.Fact{attribute(fx.KaelID, seed.AttrMissingRightHand, "false")},
	})
	require.NoError(t, err)
	require.True(t, res.Blocked)
	assert.Empty(t, notifier.changes)

	res, err = svc.CommitFacts(ctx, &continuity.Request{
		SeriesID: fx.SeriesID,
		Locator:  entity.NewLocator(3, 1),
		Facts:    []entity.Fact{attribute(fx.MiraID, "eye_color", "green")},
		Actor:    "author",
	})
	require.NoError(t, err)
	require.False(t, res.Blocked)
	require.Len(t, notifier.changes, 1)

	change := notifier.changes[0]
	assert.Equal(t, canon.ChangeCommit, change.Kind)
	assert.Equal(t, res.Version, change.Version)
	assert.Equal(t, res.EventIDs, change.EventIDs)
	assert.Equal(t, "author", change.Actor)
	assert.False(t, change.OccurredAt.IsZero())
}

func TestNotifyFailureDoesNotFailCommit(t *testing.T) {
	ctx := context.Background()
	svc, fx, _, notifier := setup(t)
	notifier.err = errors.New("stream unavailable")

	res, err := svc.CommitFacts(ctx, &continuity.Request{
		SeriesID: fx.SeriesID,
		Locator:  entity.NewLocator(3, 1),
		Facts:    []entity.Fact{attribute(fx.MiraID, "eye_color", "green")},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.EventIDs)
}

func TestRevisionReplayIsNotRenotified(t *testing.T) {
	ctx := context.Background()
	svc, fx, _, notifier := setup(t)

	req := func() *entity.RevisionRequest {
		return &entity.RevisionRequest{
			SeriesID:       fx.SeriesID,
			Kind:           entity.RevisionRetcon,
			TargetType:     entity.SubjectCharacter,
			TargetID:       fx.KaelID,
			Delta:          entity.AttributeMap{seed.AttrHometown: "Meridia"},
			Justification:  "Kael was raised in Meridia",
			IdempotencyKey: "retcon-hometown",
			RequestedBy:    "editor",
		}
	}

	first, err := svc.ApplyRevision(ctx, req(), entity.Approval{ApprovedBy: "lead"})
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	again, err := svc.ApplyRevision(ctx, req(), entity.Approval{ApprovedBy: "lead"})
	require.NoError(t, err)
	assert.True(t, again.Replayed)

	require.Len(t, notifier.changes, 1)
	assert.Equal(t, canon.ChangeRevision, notifier.changes[0].Kind)
	assert.Equal(t, "lead", notifier.changes[0].Actor)
	assert.Equal(t, string(entity.RevisionRetcon), notifier.changes[0].RevisionKind)
}

func TestTransitionViolation(t *testing.T) {
	ctx := context.Background()
	svc, fx, _, _ := setup(t)

	res, err := svc.CommitFacts(ctx, &continuity.Request{
		SeriesID: fx.SeriesID,
		Locator:  entity.NewLocator(3, 1),
		Facts:    []entity.Fact{attribute(fx.KaelID, seed.AttrMissingRightHand, "false")},
	})
	require.NoError(t, err)
	require.Len(t, res.Violations, 1)
	id := res.Violations[0].ID

	viol, err := svc.TransitionViolation(ctx, id, canon.ViolationUpdate{Status: entity.ViolationAcknowledged})
	require.NoError(t, err)
	assert.Equal(t, entity.ViolationAcknowledged, viol.Status)

	_, err = svc.TransitionViolation(ctx, id, canon.ViolationUpdate{Status: entity.ViolationResolved})
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition, "resolving needs a revision or an override")

	_, err = svc.TransitionViolation(ctx, id, canon.ViolationUpdate{Status: entity.ViolationResolved, RevisionRequestID: "unknown"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidRevision)

	viol, err = svc.TransitionViolation(ctx, id, canon.ViolationUpdate{
		Status:         entity.ViolationResolved,
		OverrideBy:     "lead",
		OverrideReason: "flashback chapter",
	})
	require.NoError(t, err)
	assert.Equal(t, entity.ViolationResolved, viol.Status)
	require.NotNil(t, viol.Override)
	assert.Equal(t, "flashback chapter", viol.Override.Reason)

	_, err = svc.TransitionViolation(ctx, id, canon.ViolationUpdate{Status: entity.ViolationDismissed})
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition, "resolved is terminal")

	_, err = svc.TransitionViolation(ctx, "missing", canon.ViolationUpdate{Status: entity.ViolationDismissed})
	assert.ErrorIs(t, err, apperrors.ErrViolationNotFound)
}

func TestDefineCanonRuleChecksScope(t *testing.T) {
	ctx := context.Background()
	svc, fx, _, notifier := setup(t)

	_, err := svc.DefineCanonRule(ctx, fx.SeriesID, entity.RuleScope{Kind: entity.ScopeEntity, EntityID: "ghost"}, entity.LockHard, nil)
	assert.Error(t, err)
	assert.Empty(t, notifier.changes)

	id, err := svc.DefineCanonRule(ctx, fx.SeriesID,
		entity.RuleScope{Kind: entity.ScopeAttribute, EntityID: fx.MiraID, AttributeKey: "eye_color"},
		entity.LockHard, &entity.CanonRule{Description: "Mira's eyes stay grey"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.Len(t, notifier.changes, 1)
	assert.Equal(t, canon.ChangeRule, notifier.changes[0].Kind)

	_, err = svc.DefineCanonRule(ctx, "missing", entity.RuleScope{Kind: entity.ScopeSeries}, entity.LockSoft, nil)
	assert.ErrorIs(t, err, apperrors.ErrSeriesNotFound)
}
