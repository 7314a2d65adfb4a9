package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"z-novel-canon-api/internal/domain/entity"
)

// RelationshipRepository 角色关系仓储实现
type RelationshipRepository struct {
	client *Client
}

// NewRelationshipRepository 创建关系仓储
func NewRelationshipRepository(client *Client) *RelationshipRepository {
	return &RelationshipRepository{client: client}
}

const relationshipColumns = `id, series_id, character_a, character_b, type, intensity, tension_points,
	source_event_id, since_book, since_chapter, since_sequence, updated_at`

// Upsert 写入关系投影
func (r *RelationshipRepository) Upsert(ctx context.Context, rel *entity.CharacterRelationship) error {
	ctx, span := tracer.Start(ctx, "postgres.RelationshipRepository.Upsert")
	defer span.End()

	if rel.ID == "" {
		rel.ID = entity.PairID(rel.CharacterA, rel.CharacterB)
	}
	q := getQuerier(ctx, r.client.db)

	query := `
		INSERT INTO canon_relationships (` + relationshipColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (series_id, id) DO UPDATE
		SET type = EXCLUDED.type, intensity = EXCLUDED.intensity, tension_points = EXCLUDED.tension_points,
			source_event_id = EXCLUDED.source_event_id, updated_at = EXCLUDED.updated_at
	`
	_, err := q.ExecContext(ctx, query,
		rel.ID, rel.SeriesID, rel.CharacterA, rel.CharacterB, rel.Type, rel.Intensity,
		pq.Array(stringsOrEmpty(rel.TensionPoints)), rel.SourceEventID,
		rel.Since.Book, rel.Since.Chapter, rel.Since.Sequence, rel.UpdatedAt,
	)
	if err != nil {
		span.RecordError(err)
		return mapError(err, "upsert relationship "+rel.ID)
	}
	return nil
}

// GetByPair 根据 PairID 获取关系
func (r *RelationshipRepository) GetByPair(ctx context.Context, seriesID, pairID string) (*entity.CharacterRelationship, error) {
	ctx, span := tracer.Start(ctx, "postgres.RelationshipRepository.GetByPair")
	defer span.End()

	q := getQuerier(ctx, r.client.db)
	query := `SELECT ` + relationshipColumns + ` FROM canon_relationships WHERE series_id = $1 AND id = $2`

	rel, err := scanRelationship(q.QueryRowContext(ctx, query, seriesID, pairID))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return rel, nil
}

// ListBySeries 获取系列全部关系
func (r *RelationshipRepository) ListBySeries(ctx context.Context, seriesID string) ([]*entity.CharacterRelationship, error) {
	ctx, span := tracer.Start(ctx, "postgres.RelationshipRepository.ListBySeries")
	defer span.End()

	query := `SELECT ` + relationshipColumns + ` FROM canon_relationships WHERE series_id = $1 ORDER BY id`
	return r.query(ctx, query, seriesID)
}

// ListByCharacter 获取角色参与的关系
func (r *RelationshipRepository) ListByCharacter(ctx context.Context, seriesID, characterID string) ([]*entity.CharacterRelationship, error) {
	ctx, span := tracer.Start(ctx, "postgres.RelationshipRepository.ListByCharacter")
	defer span.End()

	query := `
		SELECT ` + relationshipColumns + ` FROM canon_relationships
		WHERE series_id = $1 AND (character_a = $2 OR character_b = $2)
		ORDER BY id
	`
	return r.query(ctx, query, seriesID, characterID)
}

func (r *RelationshipRepository) query(ctx context.Context, query string, args ...interface{}) ([]*entity.CharacterRelationship, error) {
	q := getQuerier(ctx, r.client.db)
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query relationships: %w", err)
	}
	defer rows.Close()

	out := make([]*entity.CharacterRelationship, 0)
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	return out, rows.Err()
}

func scanRelationship(row rowScanner) (*entity.CharacterRelationship, error) {
	var (
		rel     entity.CharacterRelationship
		tension pq.StringArray
	)
	err := row.Scan(
		&rel.ID, &rel.SeriesID, &rel.CharacterA, &rel.CharacterB, &rel.Type, &rel.Intensity, &tension,
		&rel.SourceEventID, &rel.Since.Book, &rel.Since.Chapter, &rel.Since.Sequence, &rel.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan relationship: %w", err)
	}
	rel.TensionPoints = stringsOrEmpty(tension)
	return &rel, nil
}
