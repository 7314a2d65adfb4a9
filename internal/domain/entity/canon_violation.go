package entity

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	apperrors "z-novel-canon-api/pkg/errors"
)

// Severity 违规严重程度
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// DefaultSignificance 没有确立事件时使用的重要度
const DefaultSignificance = 5

// SeverityFor 由锁定级别与确立事件重要度推导严重程度
//
//	immutable              -> critical
//	hard   sig>=7 / 4..6 / <=3 -> critical / high / medium
//	soft   sig>=7 / <7     -> medium / low
//	suggestion             -> low
func SeverityFor(level LockLevel, significance int) Severity {
	switch level {
	case LockImmutable:
		return SeverityCritical
	case LockHard:
		switch {
		case significance >= 7:
			return SeverityCritical
		case significance <= 3:
			return SeverityMedium
		default:
			return SeverityHigh
		}
	case LockSoft:
		if significance >= 7 {
			return SeverityMedium
		}
		return SeverityLow
	default:
		return SeverityLow
	}
}

// ViolationStatus 违规状态
type ViolationStatus string

const (
	ViolationDetected     ViolationStatus = "detected"
	ViolationAcknowledged ViolationStatus = "acknowledged"
	ViolationDismissed    ViolationStatus = "dismissed"
	ViolationResolved     ViolationStatus = "resolved"
)

var violationTransitions = map[ViolationStatus][]ViolationStatus{
	ViolationDetected:     {ViolationAcknowledged, ViolationDismissed, ViolationResolved},
	ViolationAcknowledged: {ViolationDismissed, ViolationResolved},
}

// IsOpen 违规是否仍待处理
func (s ViolationStatus) IsOpen() bool {
	return s == ViolationDetected || s == ViolationAcknowledged
}

// OverrideRecord 覆盖记录
type OverrideRecord struct {
	By         string    `json:"by,omitempty"`
	Reason     string    `json:"reason" validate:"required"`
	LockLevel  LockLevel `json:"lock_level,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Value 实现 driver.Valuer 接口
func (o *OverrideRecord) Value() (driver.Value, error) {
	if o == nil {
		return nil, nil
	}
	return json.Marshal(o)
}

// Scan 实现 sql.Scanner 接口
func (o *OverrideRecord) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("unsupported override record type %T", value)
	}
	return json.Unmarshal(b, o)
}

// CanonViolation 设定违规，恰好引用一条规则与一个违规事实
type CanonViolation struct {
	ID                  string          `json:"id"`
	SeriesID            string          `json:"series_id"`
	RuleID              string          `json:"rule_id"`
	OffendingFactRef    string          `json:"offending_fact_ref"`
	SubjectID           string          `json:"subject_id"`
	Attribute           string          `json:"attribute"`
	ProposedValue       string          `json:"proposed_value"`
	AuthoritativeValue  string          `json:"authoritative_value"`
	Locator             Locator         `json:"locator"`
	EstablishingEventID string          `json:"establishing_event_id,omitempty"`
	LockLevel           LockLevel       `json:"lock_level"`
	Severity            Severity        `json:"severity"`
	Status              ViolationStatus `json:"status"`
	Message             string          `json:"message"`
	RevisionRequestID   string          `json:"revision_request_id,omitempty"`
	Override            *OverrideRecord `json:"override,omitempty"`
	DetectedAt          time.Time       `json:"detected_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// Transition 迁移违规状态；resolved 需要关联修订请求或覆盖记录
func (v *CanonViolation) Transition(to ViolationStatus, revisionRequestID string, override *OverrideRecord, now time.Time) error {
	allowed := false
	for _, s := range violationTransitions[v.Status] {
		if s == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return apperrors.ErrInvalidTransition.WithDetail(fmt.Sprintf("violation %s -> %s", v.Status, to))
	}
	if to == ViolationResolved {
		if revisionRequestID == "" && override == nil {
			return apperrors.ErrInvalidTransition.WithDetail("resolved requires revision_request_id or override")
		}
		if override != nil {
			if err := ValidateStruct(override); err != nil {
				return err
			}
		}
		v.RevisionRequestID = revisionRequestID
		v.Override = override
	}
	v.Status = to
	v.UpdatedAt = now
	return nil
}
