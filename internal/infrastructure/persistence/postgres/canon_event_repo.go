package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"z-novel-canon-api/internal/domain/entity"
)

// CanonEventRepository 设定事件仓储实现，只追加
type CanonEventRepository struct {
	client *Client
}

// NewCanonEventRepository 创建设定事件仓储
func NewCanonEventRepository(client *Client) *CanonEventRepository {
	return &CanonEventRepository{client: client}
}

const canonEventColumns = `id, series_id, subject_type, subject_id, kind, book, chapter, sequence,
	is_permanent, significance, previous_state, new_state, lock_keys, refs, depends_on,
	supersedes, revision_request_id, revision_kind, origin, summary, consequence, resolves_ripples, created_at`

const canonEventOrder = ` ORDER BY book, chapter, sequence`

// Append 追加事件；位置冲突由唯一约束转换为 ErrSequenceConflict
func (r *CanonEventRepository) Append(ctx context.Context, e *entity.CanonEvent) error {
	ctx, span := tracer.Start(ctx, "postgres.CanonEventRepository.Append")
	defer span.End()

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	q := getQuerier(ctx, r.client.db)

	query := `
		INSERT INTO canon_events (` + canonEventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23)
	`
	_, err := q.ExecContext(ctx, query,
		e.ID, e.SeriesID, e.SubjectType, e.SubjectID, e.Kind,
		e.Locator.Book, e.Locator.Chapter, e.Locator.Sequence,
		e.IsPermanent, e.Significance, e.PreviousState, e.NewState,
		pq.Array(stringsOrEmpty(e.LockKeys)), pq.Array(stringsOrEmpty(e.References)), e.DependsOn,
		nullString(e.Supersedes), nullString(e.RevisionRequestID), nullString(e.RevisionKind),
		e.Origin, e.Summary, e.Consequence, pq.Array(stringsOrEmpty(e.ResolvesRipples)), e.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)
		return mapError(err, fmt.Sprintf("append event at %s", e.Locator))
	}
	return nil
}

// GetByID 根据 ID 获取事件
func (r *CanonEventRepository) GetByID(ctx context.Context, id string) (*entity.CanonEvent, error) {
	ctx, span := tracer.Start(ctx, "postgres.CanonEventRepository.GetByID")
	defer span.End()

	q := getQuerier(ctx, r.client.db)
	query := `SELECT ` + canonEventColumns + ` FROM canon_events WHERE id = $1`

	e, err := scanCanonEvent(q.QueryRowContext(ctx, query, id))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return e, nil
}

// ListBySeries 按位置顺序获取事件
func (r *CanonEventRepository) ListBySeries(ctx context.Context, seriesID string, upTo *entity.Locator) ([]*entity.CanonEvent, error) {
	ctx, span := tracer.Start(ctx, "postgres.CanonEventRepository.ListBySeries")
	defer span.End()

	q := getQuerier(ctx, r.client.db)

	whereClause := "series_id = $1"
	args := []interface{}{seriesID}
	if upTo != nil {
		whereClause += " AND (book, chapter, sequence) <= ($2, $3, $4)"
		args = append(args, upTo.Book, upTo.Chapter, upTo.Sequence)
	}
	query := `SELECT ` + canonEventColumns + ` FROM canon_events WHERE ` + whereClause + canonEventOrder

	events, err := r.queryEvents(ctx, q, query, args...)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return events, nil
}

// ListBySubject 按位置顺序获取主体事件
func (r *CanonEventRepository) ListBySubject(ctx context.Context, seriesID, subjectID string) ([]*entity.CanonEvent, error) {
	ctx, span := tracer.Start(ctx, "postgres.CanonEventRepository.ListBySubject")
	defer span.End()

	q := getQuerier(ctx, r.client.db)
	query := `SELECT ` + canonEventColumns + ` FROM canon_events WHERE series_id = $1 AND subject_id = $2` + canonEventOrder

	events, err := r.queryEvents(ctx, q, query, seriesID, subjectID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return events, nil
}

// LastSequence 章节内最大序号
func (r *CanonEventRepository) LastSequence(ctx context.Context, seriesID string, book, chapter int) (int64, error) {
	ctx, span := tracer.Start(ctx, "postgres.CanonEventRepository.LastSequence")
	defer span.End()

	q := getQuerier(ctx, r.client.db)
	query := `SELECT COALESCE(MAX(sequence), 0) FROM canon_events WHERE series_id = $1 AND book = $2 AND chapter = $3`

	var seq int64
	if err := q.QueryRowContext(ctx, query, seriesID, book, chapter).Scan(&seq); err != nil {
		span.RecordError(err)
		return 0, mapError(err, "read last sequence")
	}
	return seq, nil
}

// Head 系列最新事件位置
func (r *CanonEventRepository) Head(ctx context.Context, seriesID string) (*entity.Locator, error) {
	ctx, span := tracer.Start(ctx, "postgres.CanonEventRepository.Head")
	defer span.End()

	q := getQuerier(ctx, r.client.db)
	query := `
		SELECT book, chapter, sequence FROM canon_events
		WHERE series_id = $1
		ORDER BY book DESC, chapter DESC, sequence DESC
		LIMIT 1
	`
	var loc entity.Locator
	err := q.QueryRowContext(ctx, query, seriesID).Scan(&loc.Book, &loc.Chapter, &loc.Sequence)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		span.RecordError(err)
		return nil, mapError(err, "read series head")
	}
	return &loc, nil
}

// queryEvents 通用查询事件
func (r *CanonEventRepository) queryEvents(ctx context.Context, q Querier, query string, args ...interface{}) ([]*entity.CanonEvent, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query canon events: %w", err)
	}
	defer rows.Close()

	events := make([]*entity.CanonEvent, 0)
	for rows.Next() {
		e, err := scanCanonEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func scanCanonEvent(row rowScanner) (*entity.CanonEvent, error) {
	var (
		e                                    entity.CanonEvent
		lockKeys, refs, resolves             pq.StringArray
		supersedes, revisionID, revisionKind sql.NullString
	)
	err := row.Scan(
		&e.ID, &e.SeriesID, &e.SubjectType, &e.SubjectID, &e.Kind,
		&e.Locator.Book, &e.Locator.Chapter, &e.Locator.Sequence,
		&e.IsPermanent, &e.Significance, &e.PreviousState, &e.NewState,
		&lockKeys, &refs, &e.DependsOn,
		&supersedes, &revisionID, &revisionKind,
		&e.Origin, &e.Summary, &e.Consequence, &resolves, &e.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan canon event: %w", err)
	}
	if len(lockKeys) > 0 {
		e.LockKeys = lockKeys
	}
	if len(refs) > 0 {
		e.References = refs
	}
	if len(resolves) > 0 {
		e.ResolvesRipples = resolves
	}
	if len(e.DependsOn) == 0 {
		e.DependsOn = nil
	}
	e.Supersedes = supersedes.String
	e.RevisionRequestID = revisionID.String
	e.RevisionKind = revisionKind.String
	return &e, nil
}
