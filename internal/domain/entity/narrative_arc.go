package entity

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	apperrors "z-novel-canon-api/pkg/errors"
)

// ArcStatus 故事线状态
type ArcStatus string

const (
	ArcPlanned  ArcStatus = "planned"
	ArcActive   ArcStatus = "active"
	ArcResolved ArcStatus = "resolved"
)

// Milestone 故事线节点
type Milestone struct {
	Title   string   `json:"title" validate:"required,max=200"`
	Target  *Locator `json:"target,omitempty"`
	Reached bool     `json:"reached"`
}

// Milestones 用于 jsonb 持久化
type Milestones []Milestone

// Value 实现 driver.Valuer 接口
func (m Milestones) Value() (driver.Value, error) {
	if m == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(m)
}

// Scan 实现 sql.Scanner 接口
func (m *Milestones) Scan(value interface{}) error {
	if value == nil {
		*m = Milestones{}
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("unsupported milestones type %T", value)
	}
	return json.Unmarshal(b, m)
}

// NarrativeArc 故事线
type NarrativeArc struct {
	ID             string     `json:"id"`
	SeriesID       string     `json:"series_id"`
	Title          string     `json:"title" validate:"required,max=200"`
	Status         ArcStatus  `json:"status"`
	ParticipantIDs []string   `json:"participant_ids"`
	Milestones     Milestones `json:"milestones" validate:"dive"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// NewNarrativeArc 创建故事线
func NewNarrativeArc(seriesID, title string, participants []string, milestones Milestones) *NarrativeArc {
	now := time.Now()
	if milestones == nil {
		milestones = Milestones{}
	}
	return &NarrativeArc{
		SeriesID:       seriesID,
		Title:          title,
		Status:         ArcPlanned,
		ParticipantIDs: append([]string{}, participants...),
		Milestones:     milestones,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Involves 故事线是否包含实体
func (a *NarrativeArc) Involves(entityID string) bool {
	return containsString(a.ParticipantIDs, entityID)
}

// TransitionTo planned -> active -> resolved，逐级前进
func (a *NarrativeArc) TransitionTo(next ArcStatus, now time.Time) error {
	rank := map[ArcStatus]int{ArcPlanned: 1, ArcActive: 2, ArcResolved: 3}
	cur, ok1 := rank[a.Status]
	nxt, ok2 := rank[next]
	if !ok1 || !ok2 || nxt < cur || nxt > cur+1 {
		return apperrors.ErrInvalidTransition.WithDetail(fmt.Sprintf("arc %s -> %s", a.Status, next))
	}
	if nxt == cur {
		return nil
	}
	a.Status = next
	a.UpdatedAt = now
	return nil
}
