package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"z-novel-canon-api/internal/domain/entity"
	"z-novel-canon-api/internal/domain/repository"
	apperrors "z-novel-canon-api/pkg/errors"
)

// SeriesRepository 系列仓储实现
type SeriesRepository struct {
	client *Client
}

// NewSeriesRepository 创建系列仓储
func NewSeriesRepository(client *Client) *SeriesRepository {
	return &SeriesRepository{client: client}
}

const seriesColumns = `id, title, genre, target_book_count, config, version, created_at, updated_at`

// Create 创建系列
func (r *SeriesRepository) Create(ctx context.Context, series *entity.Series) error {
	ctx, span := tracer.Start(ctx, "postgres.SeriesRepository.Create")
	defer span.End()

	if series.ID == "" {
		series.ID = uuid.New().String()
	}
	q := getQuerier(ctx, r.client.db)

	query := `
		INSERT INTO canon_series (` + seriesColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := q.ExecContext(ctx, query,
		series.ID, series.Title, series.Genre, series.TargetBookCount, series.Config,
		series.Version, series.CreatedAt, series.UpdatedAt,
	)
	if err != nil {
		span.RecordError(err)
		return mapError(err, "create series "+series.ID)
	}
	return nil
}

// GetByID 根据 ID 获取系列
func (r *SeriesRepository) GetByID(ctx context.Context, id string) (*entity.Series, error) {
	ctx, span := tracer.Start(ctx, "postgres.SeriesRepository.GetByID")
	defer span.End()

	q := getQuerier(ctx, r.client.db)
	query := `SELECT ` + seriesColumns + ` FROM canon_series WHERE id = $1`

	series, err := scanSeries(q.QueryRowContext(ctx, query, id))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return series, nil
}

// Update 更新系列配置，版本号不受影响
func (r *SeriesRepository) Update(ctx context.Context, series *entity.Series) error {
	ctx, span := tracer.Start(ctx, "postgres.SeriesRepository.Update")
	defer span.End()

	q := getQuerier(ctx, r.client.db)
	query := `
		UPDATE canon_series
		SET title = $1, genre = $2, target_book_count = $3, config = $4, updated_at = $5
		WHERE id = $6
	`
	res, err := q.ExecContext(ctx, query,
		series.Title, series.Genre, series.TargetBookCount, series.Config, time.Now(), series.ID,
	)
	if err != nil {
		span.RecordError(err)
		return mapError(err, "update series "+series.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.ErrSeriesNotFound.WithDetail(series.ID)
	}
	return nil
}

// IncrementVersion 递增状态版本
func (r *SeriesRepository) IncrementVersion(ctx context.Context, id string) (int64, error) {
	ctx, span := tracer.Start(ctx, "postgres.SeriesRepository.IncrementVersion")
	defer span.End()

	q := getQuerier(ctx, r.client.db)
	query := `UPDATE canon_series SET version = version + 1, updated_at = NOW() WHERE id = $1 RETURNING version`

	var version int64
	if err := q.QueryRowContext(ctx, query, id).Scan(&version); err != nil {
		if err == sql.ErrNoRows {
			return 0, apperrors.ErrSeriesNotFound.WithDetail(id)
		}
		span.RecordError(err)
		return 0, mapError(err, "increment series version")
	}
	return version, nil
}

// List 分页获取系列（按创建时间倒序）
func (r *SeriesRepository) List(ctx context.Context, pagination repository.Pagination) (*repository.PagedResult[*entity.Series], error) {
	ctx, span := tracer.Start(ctx, "postgres.SeriesRepository.List")
	defer span.End()

	q := getQuerier(ctx, r.client.db)

	// 获取总数
	var total int64
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM canon_series`).Scan(&total); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to count series: %w", err)
	}

	// 获取列表
	query := `
		SELECT ` + seriesColumns + `
		FROM canon_series
		ORDER BY created_at DESC, id ASC
		LIMIT $1 OFFSET $2
	`
	rows, err := q.QueryContext(ctx, query, pagination.Limit(), pagination.Offset())
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list series: %w", err)
	}
	defer rows.Close()

	items := make([]*entity.Series, 0, pagination.Limit())
	for rows.Next() {
		s, err := scanSeries(rows)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		items = append(items, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate series: %w", err)
	}

	return repository.NewPagedResult(items, total, pagination), nil
}

// rowScanner 兼容 *sql.Row 与 *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSeries(row rowScanner) (*entity.Series, error) {
	var s entity.Series
	err := row.Scan(&s.ID, &s.Title, &s.Genre, &s.TargetBookCount, &s.Config, &s.Version, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan series: %w", err)
	}
	return &s, nil
}
