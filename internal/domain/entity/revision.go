package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"

	apperrors "z-novel-canon-api/pkg/errors"
)

// RevisionKind 修订类型
type RevisionKind string

const (
	RevisionCharacterChange RevisionKind = "character_change"
	RevisionWorldChange     RevisionKind = "world_change"
	RevisionRetcon          RevisionKind = "retcon"
)

// RevisionRequest 修订请求
type RevisionRequest struct {
	ID             string       `json:"id"`
	SeriesID       string       `json:"series_id" validate:"required"`
	Kind           RevisionKind `json:"kind" validate:"required,oneof=character_change world_change retcon"`
	TargetType     SubjectType  `json:"target_type" validate:"required,oneof=character world_element relationship timeline"`
	TargetID       string       `json:"target_id" validate:"required"`
	Delta          AttributeMap `json:"delta" validate:"required,min=1"`
	Justification  string       `json:"justification,omitempty" validate:"max=2000"`
	IdempotencyKey string       `json:"idempotency_key" validate:"required,max=128"`
	// EffectiveAt 覆盖事件写入位置，默认为系列当前最新位置
	EffectiveAt *Locator  `json:"effective_at,omitempty"`
	RequestedBy string    `json:"requested_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Validate 校验修订请求，在任何写入之前拒绝非法请求
func (r *RevisionRequest) Validate() error {
	if err := domainValidate.Struct(r); err != nil {
		return apperrors.ErrInvalidRevision.WithDetail(describeValidation(err)).WithError(err)
	}
	if r.Kind == RevisionRetcon && strings.TrimSpace(r.Justification) == "" {
		return apperrors.ErrInvalidRevision.WithDetail("retcon requires justification")
	}
	if r.Kind == RevisionCharacterChange && r.TargetType != SubjectCharacter {
		return apperrors.ErrInvalidRevision.WithDetail("character_change must target a character")
	}
	if r.Kind == RevisionWorldChange && r.TargetType != SubjectWorldElement {
		return apperrors.ErrInvalidRevision.WithDetail("world_change must target a world element")
	}
	for k := range r.Delta {
		if k == "" {
			return apperrors.ErrInvalidRevision.WithDetail("delta contains empty attribute key")
		}
	}
	if r.TargetType == SubjectRelationship {
		if _, _, ok := SplitPairID(r.TargetID); !ok {
			return apperrors.ErrInvalidRevision.WithDetail("relationship target must be a character pair id")
		}
		if err := ValidateRelationshipState(r.Delta); err != nil {
			return apperrors.ErrInvalidRevision.WithDetail(apperrors.AsAppError(err).Detail).WithError(err)
		}
	}
	return nil
}

// Hash 请求内容摘要，用于检测幂等键被不同请求复用
func (r *RevisionRequest) Hash() string {
	h := sha256.New()
	h.Write([]byte(r.SeriesID + "\x00" + string(r.Kind) + "\x00" + string(r.TargetType) + "\x00" + r.TargetID + "\x00"))
	for _, k := range r.Delta.Keys() {
		h.Write([]byte(k + "=" + r.Delta[k] + "\x00"))
	}
	if r.EffectiveAt != nil {
		h.Write([]byte(r.EffectiveAt.String()))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Approval 修订审批
type Approval struct {
	ApprovedBy     string `json:"approved_by,omitempty"`
	Justification  string `json:"justification,omitempty"`
	Override       bool   `json:"override"`
	OverrideReason string `json:"override_reason,omitempty"`
	// PlanFingerprint 审批时看到的影响分析指纹，非空且与重算结果不一致时拒绝
	PlanFingerprint      string   `json:"plan_fingerprint,omitempty"`
	ResolvesViolationIDs []string `json:"resolves_violation_ids,omitempty"`
}

// AffectedFact 受影响事实
type AffectedFact struct {
	Ref      FactRef `json:"ref"`
	EventID  string  `json:"event_id"`
	OldValue string  `json:"old_value"`
	NewValue string  `json:"new_value,omitempty"`
	Locator  Locator `json:"locator"`
	Depth    int     `json:"depth"`
}

// ImpactAnalysis 影响分析
type ImpactAnalysis struct {
	SeriesID    string       `json:"series_id"`
	Kind        RevisionKind `json:"kind"`
	TargetType  SubjectType  `json:"target_type"`
	TargetID    string       `json:"target_id"`
	BaseVersion int64        `json:"base_version"`
	// DirectFacts 目标自身被替换的事实
	DirectFacts []AffectedFact `json:"direct_facts"`
	// DependentFacts 依赖旧值、随之替换的事实
	DependentFacts []AffectedFact `json:"dependent_facts"`
	// ReviewFacts 依赖目标但值不同，需要人工复核
	ReviewFacts   []AffectedFact `json:"review_facts"`
	Relationships []string       `json:"relationships"`
	Characters    []string       `json:"characters"`
	WorldElements []string       `json:"world_elements"`
	Chapters      []ChapterRef   `json:"chapters"`
	Arcs          []string       `json:"arcs"`
	Events        []string       `json:"events"`
	Blocked       bool           `json:"blocked"`
	BlockReason   string         `json:"block_reason,omitempty"`
	DepthExceeded bool           `json:"depth_exceeded"`
	Nodes         int            `json:"nodes"`
	Fingerprint   string         `json:"fingerprint"`
}

// Superseded 需要写入覆盖事件的全部事实
func (a *ImpactAnalysis) Superseded() []AffectedFact {
	out := make([]AffectedFact, 0, len(a.DirectFacts)+len(a.DependentFacts))
	out = append(out, a.DirectFacts...)
	return append(out, a.DependentFacts...)
}

// ComputeFingerprint 对目标与被替换事实求摘要
// 阻断标记取决于审批参数而非状态，不计入指纹
func (a *ImpactAnalysis) ComputeFingerprint() string {
	facts := a.Superseded()
	lines := make([]string, 0, len(facts)+1)
	for _, f := range facts {
		lines = append(lines, f.EventID+"|"+f.Ref.String()+"|"+f.OldValue+"|"+f.NewValue+"|"+strconv.Itoa(f.Depth))
	}
	sort.Strings(lines)
	lines = append(lines, "target="+string(a.TargetType)+":"+a.TargetID)
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}

// PropagatedChange 传播变更记录
type PropagatedChange struct {
	ID                string       `json:"id"`
	SeriesID          string       `json:"series_id"`
	RevisionRequestID string       `json:"revision_request_id"`
	AffectedEntityIDs []string     `json:"affected_entity_ids"`
	AffectedEventIDs  []string     `json:"affected_event_ids"`
	AppliedDelta      AttributeMap `json:"applied_delta"`
	AppliedAt         time.Time    `json:"applied_at"`
}

// PropagationResult 修订应用结果
type PropagationResult struct {
	RevisionRequestID    string             `json:"revision_request_id"`
	IdempotencyKey       string             `json:"idempotency_key"`
	SeriesID             string             `json:"series_id"`
	Kind                 RevisionKind       `json:"kind"`
	AppliedEventIDs      []string           `json:"applied_event_ids"`
	Changes              []PropagatedChange `json:"changes"`
	ResolvedViolationIDs []string           `json:"resolved_violation_ids"`
	PlanFingerprint      string             `json:"plan_fingerprint"`
	SeriesVersion        int64              `json:"series_version"`
	AppliedAt            time.Time          `json:"applied_at"`
}

// RevisionRecord 已应用的修订，按 (series, idempotency_key) 唯一
type RevisionRecord struct {
	Request     RevisionRequest   `json:"request"`
	RequestHash string            `json:"request_hash"`
	Approval    Approval          `json:"approval"`
	Result      PropagationResult `json:"result"`
	CreatedAt   time.Time         `json:"created_at"`
}
