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

// CharacterRepository 角色仓储实现
type CharacterRepository struct {
	client *Client
}

// NewCharacterRepository 创建角色仓储
func NewCharacterRepository(client *Client) *CharacterRepository {
	return &CharacterRepository{client: client}
}

const characterColumns = `id, series_id, name, role, status, canon_lock_level, locked_attribute_keys,
	first_book, first_chapter, first_sequence, created_at, updated_at`

// Create 创建角色
func (r *CharacterRepository) Create(ctx context.Context, c *entity.Character) error {
	ctx, span := tracer.Start(ctx, "postgres.CharacterRepository.Create")
	defer span.End()

	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	q := getQuerier(ctx, r.client.db)

	query := `
		INSERT INTO canon_characters (` + characterColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := q.ExecContext(ctx, query,
		c.ID, c.SeriesID, c.Name, c.Role, c.Status, nullString(string(c.CanonLockLevel)),
		pq.Array(stringsOrEmpty(c.LockedAttributeKeys)),
		c.FirstAppearance.Book, c.FirstAppearance.Chapter, c.FirstAppearance.Sequence,
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		span.RecordError(err)
		return mapError(err, "create character "+c.ID)
	}
	return nil
}

// GetByID 根据 ID 获取角色
func (r *CharacterRepository) GetByID(ctx context.Context, id string) (*entity.Character, error) {
	ctx, span := tracer.Start(ctx, "postgres.CharacterRepository.GetByID")
	defer span.End()

	q := getQuerier(ctx, r.client.db)
	query := `SELECT ` + characterColumns + ` FROM canon_characters WHERE id = $1`

	c, err := scanCharacter(q.QueryRowContext(ctx, query, id))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return c, nil
}

// Update 更新状态与锁定投影
func (r *CharacterRepository) Update(ctx context.Context, c *entity.Character) error {
	ctx, span := tracer.Start(ctx, "postgres.CharacterRepository.Update")
	defer span.End()

	q := getQuerier(ctx, r.client.db)
	query := `
		UPDATE canon_characters
		SET name = $1, role = $2, status = $3, canon_lock_level = $4, locked_attribute_keys = $5, updated_at = $6
		WHERE id = $7
	`
	res, err := q.ExecContext(ctx, query,
		c.Name, c.Role, c.Status, nullString(string(c.CanonLockLevel)),
		pq.Array(stringsOrEmpty(c.LockedAttributeKeys)), c.UpdatedAt, c.ID,
	)
	if err != nil {
		span.RecordError(err)
		return mapError(err, "update character "+c.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.ErrCharacterNotFound.WithDetail(c.ID)
	}
	return nil
}

// ListBySeries 获取系列全部角色
func (r *CharacterRepository) ListBySeries(ctx context.Context, seriesID string) ([]*entity.Character, error) {
	ctx, span := tracer.Start(ctx, "postgres.CharacterRepository.ListBySeries")
	defer span.End()

	q := getQuerier(ctx, r.client.db)
	query := `SELECT ` + characterColumns + ` FROM canon_characters WHERE series_id = $1 ORDER BY id`

	rows, err := q.QueryContext(ctx, query, seriesID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list characters: %w", err)
	}
	defer rows.Close()

	out := make([]*entity.Character, 0)
	for rows.Next() {
		c, err := scanCharacter(rows)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCharacter(row rowScanner) (*entity.Character, error) {
	var (
		c         entity.Character
		lockLevel sql.NullString
		keys      pq.StringArray
	)
	err := row.Scan(
		&c.ID, &c.SeriesID, &c.Name, &c.Role, &c.Status, &lockLevel, &keys,
		&c.FirstAppearance.Book, &c.FirstAppearance.Chapter, &c.FirstAppearance.Sequence,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan character: %w", err)
	}
	c.CanonLockLevel = entity.LockLevel(lockLevel.String)
	c.LockedAttributeKeys = stringsOrEmpty(keys)
	return &c, nil
}

// WorldElementRepository 世界元素仓储实现
type WorldElementRepository struct {
	client *Client
}

// NewWorldElementRepository 创建世界元素仓储
func NewWorldElementRepository(client *Client) *WorldElementRepository {
	return &WorldElementRepository{client: client}
}

const worldElementColumns = `id, series_id, name, kind, parent_id, canon_lock_level, locked_attribute_keys,
	first_book, first_chapter, first_sequence, created_at, updated_at`

// Create 创建世界元素
func (r *WorldElementRepository) Create(ctx context.Context, w *entity.WorldElement) error {
	ctx, span := tracer.Start(ctx, "postgres.WorldElementRepository.Create")
	defer span.End()

	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	q := getQuerier(ctx, r.client.db)

	query := `
		INSERT INTO canon_world_elements (` + worldElementColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := q.ExecContext(ctx, query,
		w.ID, w.SeriesID, w.Name, w.Kind, nullString(w.ParentID), nullString(string(w.CanonLockLevel)),
		pq.Array(stringsOrEmpty(w.LockedAttributeKeys)),
		w.FirstAppearance.Book, w.FirstAppearance.Chapter, w.FirstAppearance.Sequence,
		w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		span.RecordError(err)
		return mapError(err, "create world element "+w.ID)
	}
	return nil
}

// GetByID 根据 ID 获取世界元素
func (r *WorldElementRepository) GetByID(ctx context.Context, id string) (*entity.WorldElement, error) {
	ctx, span := tracer.Start(ctx, "postgres.WorldElementRepository.GetByID")
	defer span.End()

	q := getQuerier(ctx, r.client.db)
	query := `SELECT ` + worldElementColumns + ` FROM canon_world_elements WHERE id = $1`

	w, err := scanWorldElement(q.QueryRowContext(ctx, query, id))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return w, nil
}

// Update 更新锁定投影
func (r *WorldElementRepository) Update(ctx context.Context, w *entity.WorldElement) error {
	ctx, span := tracer.Start(ctx, "postgres.WorldElementRepository.Update")
	defer span.End()

	q := getQuerier(ctx, r.client.db)
	query := `
		UPDATE canon_world_elements
		SET name = $1, parent_id = $2, canon_lock_level = $3, locked_attribute_keys = $4, updated_at = $5
		WHERE id = $6
	`
	res, err := q.ExecContext(ctx, query,
		w.Name, nullString(w.ParentID), nullString(string(w.CanonLockLevel)),
		pq.Array(stringsOrEmpty(w.LockedAttributeKeys)), w.UpdatedAt, w.ID,
	)
	if err != nil {
		span.RecordError(err)
		return mapError(err, "update world element "+w.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.ErrWorldElementNotFound.WithDetail(w.ID)
	}
	return nil
}

// ListBySeries 获取系列全部世界元素
func (r *WorldElementRepository) ListBySeries(ctx context.Context, seriesID string) ([]*entity.WorldElement, error) {
	ctx, span := tracer.Start(ctx, "postgres.WorldElementRepository.ListBySeries")
	defer span.End()

	q := getQuerier(ctx, r.client.db)
	query := `SELECT ` + worldElementColumns + ` FROM canon_world_elements WHERE series_id = $1 ORDER BY id`

	rows, err := q.QueryContext(ctx, query, seriesID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list world elements: %w", err)
	}
	defer rows.Close()

	out := make([]*entity.WorldElement, 0)
	for rows.Next() {
		w, err := scanWorldElement(rows)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func scanWorldElement(row rowScanner) (*entity.WorldElement, error) {
	var (
		w                   entity.WorldElement
		parentID, lockLevel sql.NullString
		keys                pq.StringArray
	)
	err := row.Scan(
		&w.ID, &w.SeriesID, &w.Name, &w.Kind, &parentID, &lockLevel, &keys,
		&w.FirstAppearance.Book, &w.FirstAppearance.Chapter, &w.FirstAppearance.Sequence,
		&w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan world element: %w", err)
	}
	w.ParentID = parentID.String
	w.CanonLockLevel = entity.LockLevel(lockLevel.String)
	w.LockedAttributeKeys = stringsOrEmpty(keys)
	return &w, nil
}
