package postgres

import (
	"context"
	"fmt"
)

// uniqueEventLocator 事件位置唯一约束名，用于识别序号冲突
const uniqueEventLocator = "canon_events_locator_key"

// schemaStatements 设定存储表结构；全部语句幂等
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS canon_series (
		id                TEXT PRIMARY KEY,
		title             TEXT NOT NULL,
		genre             TEXT NOT NULL DEFAULT '',
		target_book_count INTEGER NOT NULL,
		config            JSONB NOT NULL DEFAULT '{}',
		version           BIGINT NOT NULL DEFAULT 0,
		created_at        TIMESTAMPTZ NOT NULL,
		updated_at        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS canon_characters (
		id                    TEXT PRIMARY KEY,
		series_id             TEXT NOT NULL REFERENCES canon_series(id),
		name                  TEXT NOT NULL,
		role                  TEXT NOT NULL,
		status                TEXT NOT NULL,
		canon_lock_level      TEXT,
		locked_attribute_keys TEXT[] NOT NULL DEFAULT '{}',
		first_book            INTEGER NOT NULL,
		first_chapter         INTEGER NOT NULL,
		first_sequence        BIGINT NOT NULL DEFAULT 0,
		created_at            TIMESTAMPTZ NOT NULL,
		updated_at            TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_canon_characters_series ON canon_characters (series_id, id)`,
	`CREATE TABLE IF NOT EXISTS canon_world_elements (
		id                    TEXT PRIMARY KEY,
		series_id             TEXT NOT NULL REFERENCES canon_series(id),
		name                  TEXT NOT NULL,
		kind                  TEXT NOT NULL,
		parent_id             TEXT,
		canon_lock_level      TEXT,
		locked_attribute_keys TEXT[] NOT NULL DEFAULT '{}',
		first_book            INTEGER NOT NULL,
		first_chapter         INTEGER NOT NULL,
		first_sequence        BIGINT NOT NULL DEFAULT 0,
		created_at            TIMESTAMPTZ NOT NULL,
		updated_at            TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_canon_world_elements_series ON canon_world_elements (series_id, id)`,
	`CREATE TABLE IF NOT EXISTS canon_events (
		id                  TEXT PRIMARY KEY,
		series_id           TEXT NOT NULL REFERENCES canon_series(id),
		subject_type        TEXT NOT NULL,
		subject_id          TEXT NOT NULL,
		kind                TEXT NOT NULL,
		book                INTEGER NOT NULL CHECK (book >= 1),
		chapter             INTEGER NOT NULL CHECK (chapter >= 1),
		sequence            BIGINT NOT NULL CHECK (sequence >= 1),
		is_permanent        BOOLEAN NOT NULL,
		significance        SMALLINT NOT NULL CHECK (significance BETWEEN 0 AND 10),
		previous_state      JSONB NOT NULL DEFAULT '{}',
		new_state           JSONB NOT NULL DEFAULT '{}',
		lock_keys           TEXT[] NOT NULL DEFAULT '{}',
		refs                TEXT[] NOT NULL DEFAULT '{}',
		depends_on          JSONB NOT NULL DEFAULT '[]',
		supersedes          TEXT,
		revision_request_id TEXT,
		revision_kind       TEXT,
		origin              TEXT NOT NULL,
		summary             TEXT NOT NULL DEFAULT '',
		consequence         TEXT NOT NULL DEFAULT '',
		resolves_ripples    TEXT[] NOT NULL DEFAULT '{}',
		created_at          TIMESTAMPTZ NOT NULL,
		CONSTRAINT ` + uniqueEventLocator + ` UNIQUE (series_id, book, chapter, sequence)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_canon_events_subject ON canon_events (series_id, subject_id, book, chapter, sequence)`,
	`CREATE TABLE IF NOT EXISTS canon_relationships (
		series_id       TEXT NOT NULL REFERENCES canon_series(id),
		id              TEXT NOT NULL,
		character_a     TEXT NOT NULL,
		character_b     TEXT NOT NULL,
		type            TEXT NOT NULL DEFAULT '',
		intensity       SMALLINT NOT NULL DEFAULT 0,
		tension_points  TEXT[] NOT NULL DEFAULT '{}',
		source_event_id TEXT NOT NULL,
		since_book      INTEGER NOT NULL,
		since_chapter   INTEGER NOT NULL,
		since_sequence  BIGINT NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (series_id, id)
	)`,
	`CREATE TABLE IF NOT EXISTS canon_rules (
		id                       TEXT PRIMARY KEY,
		series_id                TEXT NOT NULL REFERENCES canon_series(id),
		scope_kind               TEXT NOT NULL,
		scope_entity_id          TEXT NOT NULL DEFAULT '',
		scope_attribute_key      TEXT NOT NULL DEFAULT '',
		scope_timeline_assertion TEXT NOT NULL DEFAULT '',
		lock_level               TEXT NOT NULL,
		expected_value           TEXT,
		predicate                JSONB,
		description              TEXT NOT NULL DEFAULT '',
		source_event_id          TEXT,
		created_by               TEXT NOT NULL DEFAULT '',
		created_at               TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_canon_rules_series ON canon_rules (series_id, id)`,
	`CREATE TABLE IF NOT EXISTS canon_violations (
		id                    TEXT PRIMARY KEY,
		series_id             TEXT NOT NULL REFERENCES canon_series(id),
		rule_id               TEXT NOT NULL,
		offending_fact_ref    TEXT NOT NULL,
		subject_id            TEXT NOT NULL,
		attribute             TEXT NOT NULL,
		proposed_value        TEXT NOT NULL,
		authoritative_value   TEXT NOT NULL,
		book                  INTEGER NOT NULL,
		chapter               INTEGER NOT NULL,
		sequence              BIGINT NOT NULL DEFAULT 0,
		establishing_event_id TEXT,
		lock_level            TEXT NOT NULL,
		severity              TEXT NOT NULL,
		status                TEXT NOT NULL,
		message               TEXT NOT NULL,
		revision_request_id   TEXT,
		override              JSONB,
		detected_at           TIMESTAMPTZ NOT NULL,
		updated_at            TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_canon_violations_series ON canon_violations (series_id, detected_at, id)`,
	`CREATE TABLE IF NOT EXISTS canon_arcs (
		id              TEXT PRIMARY KEY,
		series_id       TEXT NOT NULL REFERENCES canon_series(id),
		title           TEXT NOT NULL,
		status          TEXT NOT NULL,
		participant_ids TEXT[] NOT NULL DEFAULT '{}',
		milestones      JSONB NOT NULL DEFAULT '[]',
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS canon_revisions (
		series_id       TEXT NOT NULL REFERENCES canon_series(id),
		idempotency_key TEXT NOT NULL,
		revision_id     TEXT NOT NULL,
		request         JSONB NOT NULL,
		request_hash    TEXT NOT NULL,
		approval        JSONB NOT NULL,
		result          JSONB NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (series_id, idempotency_key)
	)`,
	`CREATE TABLE IF NOT EXISTS canon_propagated_changes (
		id                  TEXT PRIMARY KEY,
		series_id           TEXT NOT NULL REFERENCES canon_series(id),
		revision_request_id TEXT NOT NULL,
		affected_entity_ids TEXT[] NOT NULL DEFAULT '{}',
		affected_event_ids  TEXT[] NOT NULL DEFAULT '{}',
		applied_delta       JSONB NOT NULL DEFAULT '{}',
		applied_at          TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_canon_changes_revision ON canon_propagated_changes (revision_request_id, applied_at)`,
}

// Migrate 创建设定存储所需的表
func (c *Client) Migrate(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "postgres.Migrate")
	defer span.End()

	for i, stmt := range schemaStatements {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to apply schema statement %d: %w", i, err)
		}
	}
	return nil
}
