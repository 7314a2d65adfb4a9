package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"z-novel-canon-api/internal/domain/entity"
)

// CanonRuleRepository 设定规则仓储实现
type CanonRuleRepository struct {
	client *Client
}

// NewCanonRuleRepository 创建规则仓储
func NewCanonRuleRepository(client *Client) *CanonRuleRepository {
	return &CanonRuleRepository{client: client}
}

const canonRuleColumns = `id, series_id, scope_kind, scope_entity_id, scope_attribute_key, scope_timeline_assertion,
	lock_level, expected_value, predicate, description, source_event_id, created_by, created_at`

// Create 创建规则
func (r *CanonRuleRepository) Create(ctx context.Context, rule *entity.CanonRule) error {
	ctx, span := tracer.Start(ctx, "postgres.CanonRuleRepository.Create")
	defer span.End()

	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	q := getQuerier(ctx, r.client.db)

	var expected sql.NullString
	if rule.ExpectedValue != nil {
		expected = sql.NullString{String: *rule.ExpectedValue, Valid: true}
	}

	query := `
		INSERT INTO canon_rules (` + canonRuleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := q.ExecContext(ctx, query,
		rule.ID, rule.SeriesID, rule.Scope.Kind, rule.Scope.EntityID, rule.Scope.AttributeKey,
		rule.Scope.TimelineAssertion, rule.LockLevel, expected, rule.Predicate, rule.Description,
		nullString(rule.SourceEventID), rule.CreatedBy, rule.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)
		return mapError(err, "create canon rule "+rule.ID)
	}
	return nil
}

// GetByID 根据 ID 获取规则
func (r *CanonRuleRepository) GetByID(ctx context.Context, id string) (*entity.CanonRule, error) {
	ctx, span := tracer.Start(ctx, "postgres.CanonRuleRepository.GetByID")
	defer span.End()

	q := getQuerier(ctx, r.client.db)
	query := `SELECT ` + canonRuleColumns + ` FROM canon_rules WHERE id = $1`

	rule, err := scanCanonRule(q.QueryRowContext(ctx, query, id))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return rule, nil
}

// ListBySeries 获取系列全部规则
func (r *CanonRuleRepository) ListBySeries(ctx context.Context, seriesID string) ([]*entity.CanonRule, error) {
	ctx, span := tracer.Start(ctx, "postgres.CanonRuleRepository.ListBySeries")
	defer span.End()

	q := getQuerier(ctx, r.client.db)
	query := `SELECT ` + canonRuleColumns + ` FROM canon_rules WHERE series_id = $1 ORDER BY id`

	rows, err := q.QueryContext(ctx, query, seriesID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list canon rules: %w", err)
	}
	defer rows.Close()

	out := make([]*entity.CanonRule, 0)
	for rows.Next() {
		rule, err := scanCanonRule(rows)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func scanCanonRule(row rowScanner) (*entity.CanonRule, error) {
	var (
		rule             entity.CanonRule
		expected, source sql.NullString
		predicate        entity.Predicate
		predicateRaw     []byte
	)
	err := row.Scan(
		&rule.ID, &rule.SeriesID, &rule.Scope.Kind, &rule.Scope.EntityID, &rule.Scope.AttributeKey,
		&rule.Scope.TimelineAssertion, &rule.LockLevel, &expected, &predicateRaw, &rule.Description,
		&source, &rule.CreatedBy, &rule.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan canon rule: %w", err)
	}
	if expected.Valid {
		v := expected.String
		rule.ExpectedValue = &v
	}
	if predicateRaw != nil {
		if err := predicate.Scan(predicateRaw); err != nil {
			return nil, err
		}
		rule.Predicate = &predicate
	}
	rule.SourceEventID = source.String
	return &rule, nil
}
