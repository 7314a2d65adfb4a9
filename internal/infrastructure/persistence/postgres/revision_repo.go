package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"z-novel-canon-api/internal/domain/entity"
)

// RevisionRepository 修订记录仓储实现
type RevisionRepository struct {
	client *Client
}

// NewRevisionRepository 创建修订记录仓储
func NewRevisionRepository(client *Client) *RevisionRepository {
	return &RevisionRepository{client: client}
}

// GetByIdempotencyKey 根据幂等键获取修订记录
func (r *RevisionRepository) GetByIdempotencyKey(ctx context.Context, seriesID, key string) (*entity.RevisionRecord, error) {
	ctx, span := tracer.Start(ctx, "postgres.RevisionRepository.GetByIdempotencyKey")
	defer span.End()

	q := getQuerier(ctx, r.client.db)
	query := `
		SELECT request, request_hash, approval, result, created_at
		FROM canon_revisions
		WHERE series_id = $1 AND idempotency_key = $2
	`
	var (
		rec                       entity.RevisionRecord
		request, approval, result []byte
	)
	err := q.QueryRowContext(ctx, query, seriesID, key).Scan(&request, &rec.RequestHash, &approval, &result, &rec.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		span.RecordError(err)
		return nil, mapError(err, "read revision record")
	}
	if err := json.Unmarshal(request, &rec.Request); err != nil {
		return nil, fmt.Errorf("failed to decode revision request: %w", err)
	}
	if err := json.Unmarshal(approval, &rec.Approval); err != nil {
		return nil, fmt.Errorf("failed to decode revision approval: %w", err)
	}
	if err := json.Unmarshal(result, &rec.Result); err != nil {
		return nil, fmt.Errorf("failed to decode revision result: %w", err)
	}
	return &rec, nil
}

// Save 保存修订记录；幂等键重复时主键冲突转换为 ErrConflict
func (r *RevisionRepository) Save(ctx context.Context, rec *entity.RevisionRecord) error {
	ctx, span := tracer.Start(ctx, "postgres.RevisionRepository.Save")
	defer span.End()

	request, err := json.Marshal(rec.Request)
	if err != nil {
		return fmt.Errorf("failed to encode revision request: %w", err)
	}
	approval, err := json.Marshal(rec.Approval)
	if err != nil {
		return fmt.Errorf("failed to encode revision approval: %w", err)
	}
	result, err := json.Marshal(rec.Result)
	if err != nil {
		return fmt.Errorf("failed to encode revision result: %w", err)
	}

	q := getQuerier(ctx, r.client.db)
	query := `
		INSERT INTO canon_revisions (series_id, idempotency_key, revision_id, request, request_hash, approval, result, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = q.ExecContext(ctx, query,
		rec.Request.SeriesID, rec.Request.IdempotencyKey, rec.Request.ID, request, rec.RequestHash,
		approval, result, rec.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)
		return mapError(err, "save revision "+rec.Request.IdempotencyKey)
	}
	return nil
}

// SaveChange 保存传播变更
func (r *RevisionRepository) SaveChange(ctx context.Context, c *entity.PropagatedChange) error {
	ctx, span := tracer.Start(ctx, "postgres.RevisionRepository.SaveChange")
	defer span.End()

	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	q := getQuerier(ctx, r.client.db)
	query := `
		INSERT INTO canon_propagated_changes (id, series_id, revision_request_id, affected_entity_ids,
			affected_event_ids, applied_delta, applied_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := q.ExecContext(ctx, query,
		c.ID, c.SeriesID, c.RevisionRequestID, pq.Array(stringsOrEmpty(c.AffectedEntityIDs)),
		pq.Array(stringsOrEmpty(c.AffectedEventIDs)), c.AppliedDelta, c.AppliedAt,
	)
	if err != nil {
		span.RecordError(err)
		return mapError(err, "save propagated change")
	}
	return nil
}

// ListChanges 获取修订产生的传播变更
func (r *RevisionRepository) ListChanges(ctx context.Context, revisionRequestID string) ([]*entity.PropagatedChange, error) {
	ctx, span := tracer.Start(ctx, "postgres.RevisionRepository.ListChanges")
	defer span.End()

	q := getQuerier(ctx, r.client.db)
	query := `
		SELECT id, series_id, revision_request_id, affected_entity_ids, affected_event_ids, applied_delta, applied_at
		FROM canon_propagated_changes
		WHERE revision_request_id = $1
		ORDER BY applied_at, id
	`
	rows, err := q.QueryContext(ctx, query, revisionRequestID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list propagated changes: %w", err)
	}
	defer rows.Close()

	out := make([]*entity.PropagatedChange, 0)
	for rows.Next() {
		var (
			c                  entity.PropagatedChange
			entities, eventIDs pq.StringArray
		)
		if err := rows.Scan(&c.ID, &c.SeriesID, &c.RevisionRequestID, &entities, &eventIDs, &c.AppliedDelta, &c.AppliedAt); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan propagated change: %w", err)
		}
		c.AffectedEntityIDs = stringsOrEmpty(entities)
		c.AffectedEventIDs = stringsOrEmpty(eventIDs)
		out = append(out, &c)
	}
	return out, rows.Err()
}
