package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"z-novel-canon-api/internal/domain/entity"
	"z-novel-canon-api/internal/domain/repository"
	apperrors "z-novel-canon-api/pkg/errors"
)

// ViolationRepository 设定违规仓储实现
type ViolationRepository struct {
	client *Client
}

// NewViolationRepository 创建违规仓储
func NewViolationRepository(client *Client) *ViolationRepository {
	return &ViolationRepository{client: client}
}

const violationColumns = `id, series_id, rule_id, offending_fact_ref, subject_id, attribute, proposed_value,
	authoritative_value, book, chapter, sequence, establishing_event_id, lock_level, severity, status,
	message, revision_request_id, override, detected_at, updated_at`

// Create 创建违规记录
func (r *ViolationRepository) Create(ctx context.Context, v *entity.CanonViolation) error {
	ctx, span := tracer.Start(ctx, "postgres.ViolationRepository.Create")
	defer span.End()

	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	q := getQuerier(ctx, r.client.db)

	query := `
		INSERT INTO canon_violations (` + violationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`
	_, err := q.ExecContext(ctx, query,
		v.ID, v.SeriesID, v.RuleID, v.OffendingFactRef, v.SubjectID, v.Attribute, v.ProposedValue,
		v.AuthoritativeValue, v.Locator.Book, v.Locator.Chapter, v.Locator.Sequence,
		nullString(v.EstablishingEventID), v.LockLevel, v.Severity, v.Status, v.Message,
		nullString(v.RevisionRequestID), v.Override, v.DetectedAt, v.UpdatedAt,
	)
	if err != nil {
		span.RecordError(err)
		return mapError(err, "create canon violation "+v.ID)
	}
	return nil
}

// GetByID 根据 ID 获取违规
func (r *ViolationRepository) GetByID(ctx context.Context, id string) (*entity.CanonViolation, error) {
	ctx, span := tracer.Start(ctx, "postgres.ViolationRepository.GetByID")
	defer span.End()

	q := getQuerier(ctx, r.client.db)
	query := `SELECT ` + violationColumns + ` FROM canon_violations WHERE id = $1`

	v, err := scanViolation(q.QueryRowContext(ctx, query, id))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return v, nil
}

// Update 更新违规状态
func (r *ViolationRepository) Update(ctx context.Context, v *entity.CanonViolation) error {
	ctx, span := tracer.Start(ctx, "postgres.ViolationRepository.Update")
	defer span.End()

	q := getQuerier(ctx, r.client.db)
	query := `
		UPDATE canon_violations
		SET status = $1, revision_request_id = $2, override = $3, updated_at = $4
		WHERE id = $5
	`
	res, err := q.ExecContext(ctx, query, v.Status, nullString(v.RevisionRequestID), v.Override, v.UpdatedAt, v.ID)
	if err != nil {
		span.RecordError(err)
		return mapError(err, "update canon violation "+v.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.ErrViolationNotFound.WithDetail(v.ID)
	}
	return nil
}

// ListBySeries 获取系列违规
func (r *ViolationRepository) ListBySeries(ctx context.Context, seriesID string, filter *repository.ViolationFilter) ([]*entity.CanonViolation, error) {
	ctx, span := tracer.Start(ctx, "postgres.ViolationRepository.ListBySeries")
	defer span.End()

	q := getQuerier(ctx, r.client.db)

	// 构建查询条件
	whereClause := "series_id = $1"
	args := []interface{}{seriesID}
	argIdx := 2

	if filter != nil {
		if len(filter.Statuses) > 0 {
			statuses := make([]string, len(filter.Statuses))
			for i, s := range filter.Statuses {
				statuses[i] = string(s)
			}
			whereClause += fmt.Sprintf(" AND status = ANY($%d)", argIdx)
			args = append(args, pq.Array(statuses))
			argIdx++
		}
		if filter.Severity != "" {
			whereClause += fmt.Sprintf(" AND severity = $%d", argIdx)
			args = append(args, filter.Severity)
			argIdx++
		}
		if filter.RuleID != "" {
			whereClause += fmt.Sprintf(" AND rule_id = $%d", argIdx)
			args = append(args, filter.RuleID)
			argIdx++
		}
		if filter.OffendingFactRef != "" {
			whereClause += fmt.Sprintf(" AND offending_fact_ref = $%d", argIdx)
			args = append(args, filter.OffendingFactRef)
			argIdx++
		}
		if filter.SubjectID != "" {
			whereClause += fmt.Sprintf(" AND subject_id = $%d", argIdx)
			args = append(args, filter.SubjectID)
		}
	}

	query := fmt.Sprintf(`
		SELECT %s FROM canon_violations
		WHERE %s
		ORDER BY detected_at ASC, id ASC
	`, violationColumns, whereClause)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list canon violations: %w", err)
	}
	defer rows.Close()

	out := make([]*entity.CanonViolation, 0)
	for rows.Next() {
		v, err := scanViolation(rows)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanViolation(row rowScanner) (*entity.CanonViolation, error) {
	var (
		v                      entity.CanonViolation
		establishing, revision sql.NullString
		override               entity.OverrideRecord
		overrideRaw            []byte
	)
	err := row.Scan(
		&v.ID, &v.SeriesID, &v.RuleID, &v.OffendingFactRef, &v.SubjectID, &v.Attribute, &v.ProposedValue,
		&v.AuthoritativeValue, &v.Locator.Book, &v.Locator.Chapter, &v.Locator.Sequence,
		&establishing, &v.LockLevel, &v.Severity, &v.Status, &v.Message,
		&revision, &overrideRaw, &v.DetectedAt, &v.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan canon violation: %w", err)
	}
	v.EstablishingEventID = establishing.String
	v.RevisionRequestID = revision.String
	if overrideRaw != nil {
		if err := override.Scan(overrideRaw); err != nil {
			return nil, err
		}
		v.Override = &override
	}
	return &v, nil
}
