package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "z-novel-canon-api/pkg/errors"
)

func TestLocatorOrdering(t *testing.T) {
	a := Locator{Book: 1, Chapter: 3, Sequence: 2}
	b := Locator{Book: 1, Chapter: 3, Sequence: 5}
	c := Locator{Book: 2, Chapter: 1}

	assert.True(t, a.Before(b))
	assert.True(t, b.Before(c))
	assert.False(t, c.Before(a))
	assert.Equal(t, 0, a.Compare(a))
	assert.True(t, c.Before(EndOfBook(2)))
	assert.True(t, b.Before(EndOfChapter(1, 3)))
	assert.Equal(t, "B1C3#2", a.String())
	assert.Equal(t, "B2C1", c.String())
}

func TestCharacterStatusTransitions(t *testing.T) {
	assert.True(t, CharacterActive.CanTransitionTo(CharacterDeceased))
	assert.True(t, CharacterMissing.CanTransitionTo(CharacterActive))
	assert.True(t, CharacterTransformed.CanTransitionTo(CharacterTransformed))
	assert.False(t, CharacterDeceased.CanTransitionTo(CharacterActive))
	assert.False(t, CharacterRetired.CanTransitionTo(CharacterMissing))
	assert.False(t, CharacterStatus("ghost").IsValid())
}

func TestPredicateAccepts(t *testing.T) {
	tests := []struct {
		name  string
		pred  Predicate
		value string
		want  bool
	}{
		{"equals match", Predicate{Op: PredEquals, Values: []string{"true"}}, "true", true},
		{"equals miss", Predicate{Op: PredEquals, Values: []string{"true"}}, "false", false},
		{"not equals", Predicate{Op: PredNotEquals, Values: []string{"magic"}}, "sword", true},
		{"one of", Predicate{Op: PredOneOf, Values: []string{"Varos", "Meridia"}}, "Meridia", true},
		{"none of", Predicate{Op: PredNoneOf, Values: []string{"Varos"}}, "Varos", false},
		{"unknown op", Predicate{Op: "like", Values: []string{"x"}}, "x", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.pred.Accepts(tt.value))
		})
	}
}

func TestRuleScopeValidate(t *testing.T) {
	require.NoError(t, RuleScope{Kind: ScopeAttribute, EntityID: "c1", AttributeKey: "hometown"}.Validate())
	require.NoError(t, RuleScope{Kind: ScopeSeries}.Validate())

	err := RuleScope{Kind: ScopeAttribute, EntityID: "c1"}.Validate()
	assert.ErrorIs(t, err, apperrors.ErrInvalidFact)

	err = RuleScope{Kind: ScopeTimeline}.Validate()
	assert.ErrorIs(t, err, apperrors.ErrInvalidFact)

	assert.Error(t, RuleScope{Kind: "chapter"}.Validate())
}

func TestRuleScopeMatches(t *testing.T) {
	attr := RuleScope{Kind: ScopeAttribute, EntityID: "kael", AttributeKey: "hometown"}
	assert.True(t, attr.Matches("kael", "hometown"))
	assert.False(t, attr.Matches("kael", "traits"))

	assert.True(t, RuleScope{Kind: ScopeEntity, EntityID: "kael"}.Matches("kael", "anything"))
	assert.True(t, RuleScope{Kind: ScopeSeries}.Matches("mira", "traits"))

	timeline := RuleScope{Kind: ScopeTimeline, TimelineAssertion: "fall-of-varos"}
	assert.True(t, timeline.Matches("fall-of-varos", TimelineAttr))
	assert.False(t, timeline.Matches("fall-of-varos", "hometown"))
}

func TestCanonRuleViolatedBy(t *testing.T) {
	expected := "false"
	withExpectation := &CanonRule{ExpectedValue: &expected}
	assert.True(t, withExpectation.ViolatedBy("true", "", false))
	assert.False(t, withExpectation.ViolatedBy("false", "", false))

	lockEstablished := &CanonRule{}
	assert.True(t, lockEstablished.ViolatedBy("Meridia", "Varos", true))
	assert.False(t, lockEstablished.ViolatedBy("Varos", "Varos", true))
	assert.False(t, lockEstablished.ViolatedBy("Meridia", "", false), "nothing established, nothing to violate")

	pred := &CanonRule{Predicate: &Predicate{Op: PredOneOf, Values: []string{"a", "b"}}}
	assert.True(t, pred.ViolatedBy("c", "a", true))
}

func TestRuleOutranks(t *testing.T) {
	immutable := &CanonRule{ID: "z", LockLevel: LockImmutable, Scope: RuleScope{Kind: ScopeSeries}}
	soft := &CanonRule{ID: "a", LockLevel: LockSoft, Scope: RuleScope{Kind: ScopeAttribute}}
	softEntity := &CanonRule{ID: "b", LockLevel: LockSoft, Scope: RuleScope{Kind: ScopeEntity}}

	assert.True(t, RuleOutranks(immutable, soft), "lock level wins over specificity")
	assert.True(t, RuleOutranks(soft, softEntity), "narrower scope wins within a level")
	assert.False(t, RuleOutranks(softEntity, soft))
}

func TestSeverityFor(t *testing.T) {
	assert.Equal(t, SeverityCritical, SeverityFor(LockImmutable, 1))
	assert.Equal(t, SeverityCritical, SeverityFor(LockHard, 8))
	assert.Equal(t, SeverityHigh, SeverityFor(LockHard, 5))
	assert.Equal(t, SeverityMedium, SeverityFor(LockHard, 2))
	assert.Equal(t, SeverityMedium, SeverityFor(LockSoft, 7))
	assert.Equal(t, SeverityLow, SeverityFor(LockSoft, 6))
	assert.Equal(t, SeverityLow, SeverityFor(LockSuggestion, 10))
}

func TestViolationTransition(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	v := &CanonViolation{Status: ViolationDetected}
	require.NoError(t, v.Transition(ViolationAcknowledged, "", nil, now))
	assert.Equal(t, ViolationAcknowledged, v.Status)
	assert.True(t, v.Status.IsOpen())

	err := v.Transition(ViolationResolved, "", nil, now)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)

	err = v.Transition(ViolationResolved, "", &OverrideRecord{}, now)
	assert.Error(t, err, "override without reason")

	require.NoError(t, v.Transition(ViolationResolved, "rev-1", nil, now))
	assert.Equal(t, "rev-1", v.RevisionRequestID)
	assert.False(t, v.Status.IsOpen())

	err = v.Transition(ViolationDetected, "", nil, now)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition, "resolved is terminal")
}

func TestFactValidate(t *testing.T) {
	ok := Fact{Kind: FactAttribute, Attribute: &AttributeAssertion{SubjectID: "kael", Key: "hometown", Value: "Varos"}}
	require.NoError(t, ok.Validate())

	twoPayloads := ok
	twoPayloads.Timeline = &TimelineClaim{Assertion: "x", Value: "y"}
	assert.ErrorIs(t, twoPayloads.Validate(), apperrors.ErrInvalidFact)

	mismatch := Fact{Kind: FactEvent, Attribute: ok.Attribute}
	assert.ErrorIs(t, mismatch.Validate(), apperrors.ErrInvalidFact)

	badEvent := Fact{Kind: FactEvent, Event: &EventFact{SubjectID: "kael", Kind: "dream", NewState: AttributeMap{"a": "b"}}}
	assert.ErrorIs(t, badEvent.Validate(), apperrors.ErrInvalidFact)

	selfRelation := Fact{Kind: FactRelationship, Relationship: &RelationshipChange{CharacterA: "kael", CharacterB: "kael", Type: RelationAlly}}
	assert.Error(t, selfRelation.Validate())
}

func TestFactClaimsAndEvent(t *testing.T) {
	at := NewLocator(3, 2)
	f := Fact{Kind: FactEvent, Event: &EventFact{
		SubjectID:  "kael",
		Kind:       EventPhysical,
		NewState:   AttributeMap{"scar": "left cheek", "missing_right_hand": "true"},
		Permanent:  true,
		LockKeys:   []string{"missing_right_hand"},
		References: []string{"varos"},
	}}

	claims := f.Claims()
	require.Len(t, claims, 2)
	assert.Equal(t, "missing_right_hand", claims[0].Key, "claims are sorted by key")
	assert.Equal(t, "scar", claims[1].Key)

	evt := f.ToEvent("s1", SubjectCharacter, at, OriginAuthor)
	require.NotNil(t, evt)
	assert.True(t, evt.IsPermanent)
	assert.Equal(t, at, evt.Locator)
	assert.Equal(t, []string{"missing_right_hand"}, evt.LockKeys)
	assert.Equal(t, OriginAuthor, evt.Origin)

	ref := f.Ref(claims[0], at)
	assert.Contains(t, ref, "event:kael:missing_right_hand@B3C2~")
	assert.Equal(t, ref, f.Ref(claims[0], at), "reference is stable")
}

func TestRelationshipFactUsesPairID(t *testing.T) {
	f := Fact{Kind: FactRelationship, Relationship: &RelationshipChange{
		CharacterA: "mira", CharacterB: "kael", Type: RelationAlly, Intensity: 7,
		TensionPoints: []string{"debt", "ambush"},
	}}
	assert.Equal(t, "kael:mira", f.SubjectID())

	evt := f.ToEvent("s1", SubjectRelationship, NewLocator(1, 3), OriginAuthor)
	assert.Equal(t, "ambush|debt", evt.NewState[RelAttrTension])

	claims := f.Claims()
	require.Len(t, claims, 3, "every relationship field is checked against canon")
	assert.Equal(t, Claim{SubjectID: "kael:mira", Key: RelAttrIntensity, Value: "7"}, claims[0])
	assert.Equal(t, Claim{SubjectID: "kael:mira", Key: RelAttrTension, Value: "ambush|debt"}, claims[1])
	assert.Equal(t, Claim{SubjectID: "kael:mira", Key: RelAttrType, Value: "ally"}, claims[2])

	rel := &CharacterRelationship{CharacterA: "kael", CharacterB: "mira"}
	require.NoError(t, rel.ApplyState(evt.NewState))
	assert.Equal(t, RelationAlly, rel.Type)
	assert.Equal(t, 7, rel.Intensity)
	assert.Equal(t, []string{"ambush", "debt"}, rel.TensionPoints)
	assert.Equal(t, "mira", rel.Other("kael"))

	unknown := Fact{Kind: FactRelationship, Relationship: &RelationshipChange{
		CharacterA: "mira", CharacterB: "kael", Type: "sworn-blood-nemesis",
	}}
	assert.ErrorIs(t, unknown.Validate(), apperrors.ErrInvalidFact)
}

func TestRelationshipStateIsChecked(t *testing.T) {
	tests := []struct {
		name  string
		state AttributeMap
		ok    bool
	}{
		{"partial state", AttributeMap{RelAttrIntensity: "3"}, true},
		{"full state", RelationshipState(RelationRival, 10, []string{"throne"}), true},
		{"word intensity", AttributeMap{RelAttrIntensity: "eleven"}, false},
		{"intensity above range", AttributeMap{RelAttrIntensity: "11"}, false},
		{"negative intensity", AttributeMap{RelAttrIntensity: "-1"}, false},
		{"unknown type", AttributeMap{RelAttrType: "sworn-blood-nemesis"}, false},
		{"unknown key", AttributeMap{"trust": "high"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rel := &CharacterRelationship{Type: RelationAlly, Intensity: 5, TensionPoints: []string{}}
			err := rel.ApplyState(tt.state)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, apperrors.ErrInvalidFact)
			assert.Equal(t, RelationAlly, rel.Type, "projection unchanged")
			assert.Equal(t, 5, rel.Intensity)
		})
	}
}

func TestRevisionRequestValidate(t *testing.T) {
	base := RevisionRequest{
		SeriesID:       "s1",
		Kind:           RevisionRetcon,
		TargetType:     SubjectCharacter,
		TargetID:       "kael",
		Delta:          AttributeMap{"hometown": "Meridia"},
		IdempotencyKey: "k1",
	}

	noJustification := base
	assert.ErrorIs(t, noJustification.Validate(), apperrors.ErrInvalidRevision)

	ok := base
	ok.Justification = "moving the origin story"
	require.NoError(t, ok.Validate())

	relation := ok
	relation.TargetType = SubjectRelationship
	relation.TargetID = "kael:mira"
	relation.Delta = AttributeMap{RelAttrIntensity: "2", RelAttrType: string(RelationRival)}
	require.NoError(t, relation.Validate())

	relation.Delta = AttributeMap{RelAttrIntensity: "eleven", RelAttrType: "sworn-blood-nemesis"}
	assert.ErrorIs(t, relation.Validate(), apperrors.ErrInvalidRevision)

	relation.Delta = AttributeMap{RelAttrIntensity: "2"}
	relation.TargetID = "kael"
	assert.ErrorIs(t, relation.Validate(), apperrors.ErrInvalidRevision)

	wrongTarget := ok
	wrongTarget.Kind = RevisionWorldChange
	assert.ErrorIs(t, wrongTarget.Validate(), apperrors.ErrInvalidRevision)

	noKey := ok
	noKey.IdempotencyKey = ""
	assert.ErrorIs(t, noKey.Validate(), apperrors.ErrInvalidRevision)
}

func TestRevisionRequestHash(t *testing.T) {
	a := &RevisionRequest{SeriesID: "s1", Kind: RevisionRetcon, TargetType: SubjectCharacter, TargetID: "kael",
		Delta: AttributeMap{"hometown": "Meridia", "traits": "bitter"}}
	b := &RevisionRequest{SeriesID: "s1", Kind: RevisionRetcon, TargetType: SubjectCharacter, TargetID: "kael",
		Delta: AttributeMap{"traits": "bitter", "hometown": "Meridia"}, Justification: "wording differs"}
	c := &RevisionRequest{SeriesID: "s1", Kind: RevisionRetcon, TargetType: SubjectCharacter, TargetID: "kael",
		Delta: AttributeMap{"hometown": "Varos"}}

	assert.Equal(t, a.Hash(), b.Hash())
	assert.NotEqual(t, a.Hash(), c.Hash())
}

func TestImpactFingerprintIgnoresOrder(t *testing.T) {
	f1 := AffectedFact{Ref: FactRef{SubjectID: "kael", Attribute: "hometown"}, EventID: "e1", OldValue: "Varos", NewValue: "Meridia"}
	f2 := AffectedFact{Ref: FactRef{SubjectID: "mira", Attribute: "hometown"}, EventID: "e2", OldValue: "Varos", NewValue: "Meridia", Depth: 1}

	a := &ImpactAnalysis{TargetType: SubjectCharacter, TargetID: "kael", DirectFacts: []AffectedFact{f1}, DependentFacts: []AffectedFact{f2}}
	b := &ImpactAnalysis{TargetType: SubjectCharacter, TargetID: "kael", DirectFacts: []AffectedFact{f2}, DependentFacts: []AffectedFact{f1}, Blocked: true}

	assert.Equal(t, a.ComputeFingerprint(), b.ComputeFingerprint())

	b.DependentFacts[0].NewValue = "Ashfall"
	assert.NotEqual(t, a.ComputeFingerprint(), b.ComputeFingerprint())
}
