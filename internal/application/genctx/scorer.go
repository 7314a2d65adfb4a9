package genctx

import (
	"sort"

	"z-novel-canon-api/internal/application/statestore"
	"z-novel-canon-api/internal/domain/entity"
)

// scorer 基于截止位置前的事件计算条目得分
// 得分 = 近期度 + 最高永久事件重要度 + 场景直接引用加成
type scorer struct {
	cutoff   entity.Locator
	events   []*entity.CanonEvent
	snap     *statestore.StateSnapshot
	scene    map[string]bool
	lastSeen map[string]entity.Locator
	maxSig   map[string]int
	locked   map[string][]string
}

func newScorer(req *Request, events []*entity.CanonEvent) *scorer {
	s := &scorer{
		cutoff:   req.Cutoff,
		events:   events,
		snap:     statestore.Fold(events),
		scene:    make(map[string]bool, len(req.SceneRefs)),
		lastSeen: map[string]entity.Locator{},
		maxSig:   map[string]int{},
		locked:   map[string][]string{},
	}
	for _, id := range req.SceneRefs {
		s.scene[id] = true
	}

	lockSet := map[string]map[string]bool{}
	for _, e := range events {
		ids := append([]string{e.SubjectID}, e.References...)
		for _, id := range ids {
			s.lastSeen[id] = e.Locator
		}
		if !e.IsPermanent {
			continue
		}
		if e.Significance > s.maxSig[e.SubjectID] {
			s.maxSig[e.SubjectID] = e.Significance
		}
		for _, k := range e.LockKeys {
			if lockSet[e.SubjectID] == nil {
				lockSet[e.SubjectID] = map[string]bool{}
			}
			lockSet[e.SubjectID][k] = true
		}
	}
	for id, keys := range lockSet {
		list := make([]string, 0, len(keys))
		for k := range keys {
			list = append(list, k)
		}
		sort.Strings(list)
		s.locked[id] = list
	}
	return s
}

// recencyAt 同卷按章距衰减，较早卷按卷距衰减
func (s *scorer) recencyAt(loc entity.Locator) int {
	if loc.Book == s.cutoff.Book {
		return max(0, sameBookRecency-(s.cutoff.Chapter-loc.Chapter))
	}
	return max(0, earlierBookRecency-2*(s.cutoff.Book-loc.Book-1))
}

func (s *scorer) recency(id string) int {
	seen, ok := s.lastSeen[id]
	if !ok {
		return 0
	}
	return s.recencyAt(seen)
}

func (s *scorer) entityScore(id string) int {
	score := s.recency(id) + s.maxSig[id]
	if s.scene[id] {
		score += sceneBonus
	}
	return score
}

func (s *scorer) lastSeenPtr(id string) *entity.Locator {
	seen, ok := s.lastSeen[id]
	if !ok {
		return nil
	}
	return &seen
}

// relations 截止位置时角色参与的关系
func (s *scorer) relations(characterID string) []Relation {
	out := make([]Relation, 0)
	for subject, typ := range s.snap.SubjectTypes {
		if typ != entity.SubjectRelationship {
			continue
		}
		a, b, ok := entity.SplitPairID(subject)
		if !ok || (a != characterID && b != characterID) {
			continue
		}
		other := a
		if a == characterID {
			other = b
		}
		attrs := s.snap.Attributes(subject)
		out = append(out, Relation{
			With:      other,
			Type:      attrs[entity.RelAttrType],
			Intensity: attrs[entity.RelAttrIntensity],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].With < out[j].With })
	if len(out) == 0 {
		return nil
	}
	return out
}

// ripples 截止位置前永久事件留下、尚未被后续事件解决的后果
func (s *scorer) ripples() []Item {
	resolved := map[string]bool{}
	for _, e := range s.events {
		for _, id := range e.ResolvesRipples {
			resolved[id] = true
		}
	}
	out := make([]Item, 0)
	for _, e := range s.events {
		if !e.IsPermanent || e.Consequence == "" || resolved[e.ID] {
			continue
		}
		loc := e.Locator
		score := e.Significance + s.recencyAt(loc)
		for _, id := range append([]string{e.SubjectID}, e.References...) {
			if s.scene[id] {
				score += sceneBonus
				break
			}
		}
		out = append(out, Item{
			Kind:         ItemRipple,
			ID:           e.ID,
			Score:        score,
			Summary:      e.Consequence,
			Participants: append([]string{e.SubjectID}, e.References...),
			Locator:      &loc,
		})
	}
	return out
}
