package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"z-novel-canon-api/internal/domain/entity"
	apperrors "z-novel-canon-api/pkg/errors"
)

// ArcRepository 故事线仓储实现
type ArcRepository struct {
	client *Client
}

// NewArcRepository 创建故事线仓储
func NewArcRepository(client *Client) *ArcRepository {
	return &ArcRepository{client: client}
}

const arcColumns = `id, series_id, title, status, participant_ids, milestones, created_at, updated_at`

// Create 创建故事线
func (r *ArcRepository) Create(ctx context.Context, arc *entity.NarrativeArc) error {
	ctx, span := tracer.Start(ctx, "postgres.ArcRepository.Create")
	defer span.End()

	if arc.ID == "" {
		arc.ID = uuid.New().String()
	}
	q := getQuerier(ctx, r.client.db)

	query := `INSERT INTO canon_arcs (` + arcColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := q.ExecContext(ctx, query,
		arc.ID, arc.SeriesID, arc.Title, arc.Status, pq.Array(stringsOrEmpty(arc.ParticipantIDs)),
		arc.Milestones, arc.CreatedAt, arc.UpdatedAt,
	)
	if err != nil {
		span.RecordError(err)
		return mapError(err, "create arc "+arc.ID)
	}
	return nil
}

// GetByID 根据 ID 获取故事线
func (r *ArcRepository) GetByID(ctx context.Context, id string) (*entity.NarrativeArc, error) {
	ctx, span := tracer.Start(ctx, "postgres.ArcRepository.GetByID")
	defer span.End()

	q := getQuerier(ctx, r.client.db)
	query := `SELECT ` + arcColumns + ` FROM canon_arcs WHERE id = $1`

	arc, err := scanArc(q.QueryRowContext(ctx, query, id))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return arc, nil
}

// Update 更新故事线
func (r *ArcRepository) Update(ctx context.Context, arc *entity.NarrativeArc) error {
	ctx, span := tracer.Start(ctx, "postgres.ArcRepository.Update")
	defer span.End()

	q := getQuerier(ctx, r.client.db)
	query := `
		UPDATE canon_arcs
		SET title = $1, status = $2, participant_ids = $3, milestones = $4, updated_at = $5
		WHERE id = $6
	`
	res, err := q.ExecContext(ctx, query,
		arc.Title, arc.Status, pq.Array(stringsOrEmpty(arc.ParticipantIDs)), arc.Milestones, arc.UpdatedAt, arc.ID,
	)
	if err != nil {
		span.RecordError(err)
		return mapError(err, "update arc "+arc.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.ErrArcNotFound.WithDetail(arc.ID)
	}
	return nil
}

// ListBySeries 获取系列故事线
func (r *ArcRepository) ListBySeries(ctx context.Context, seriesID string) ([]*entity.NarrativeArc, error) {
	ctx, span := tracer.Start(ctx, "postgres.ArcRepository.ListBySeries")
	defer span.End()

	q := getQuerier(ctx, r.client.db)
	query := `SELECT ` + arcColumns + ` FROM canon_arcs WHERE series_id = $1 ORDER BY id`

	rows, err := q.QueryContext(ctx, query, seriesID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list arcs: %w", err)
	}
	defer rows.Close()

	out := make([]*entity.NarrativeArc, 0)
	for rows.Next() {
		arc, err := scanArc(rows)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		out = append(out, arc)
	}
	return out, rows.Err()
}

func scanArc(row rowScanner) (*entity.NarrativeArc, error) {
	var (
		arc          entity.NarrativeArc
		participants pq.StringArray
	)
	err := row.Scan(&arc.ID, &arc.SeriesID, &arc.Title, &arc.Status, &participants, &arc.Milestones, &arc.CreatedAt, &arc.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan arc: %w", err)
	}
	arc.ParticipantIDs = stringsOrEmpty(participants)
	return &arc, nil
}
