package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the full DDL for a fresh database.
const Schema = `
CREATE TABLE IF NOT EXISTS workflows (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	tags        TEXT[] NOT NULL DEFAULT '{}',
	variables   JSONB NOT NULL DEFAULT '{}',
	metadata    JSONB NOT NULL DEFAULT '{}',
	version     INT NOT NULL DEFAULT 1,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS workflow_steps (
	id             TEXT PRIMARY KEY,
	workflow_id    TEXT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
	name           TEXT NOT NULL,
	type           TEXT NOT NULL,
	step_order     INT NOT NULL,
	config         JSONB NOT NULL DEFAULT '{}',
	input_mapping  JSONB NOT NULL DEFAULT '{}',
	output_mapping JSONB NOT NULL DEFAULT '{}',
	condition      TEXT NOT NULL DEFAULT '',
	retry_config   JSONB,
	code           TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL,
	UNIQUE (workflow_id, step_order)
);

CREATE TABLE IF NOT EXISTS workflow_versions (
	id             TEXT PRIMARY KEY,
	workflow_id    TEXT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
	version        INT NOT NULL,
	name           TEXT NOT NULL,
	description    TEXT NOT NULL DEFAULT '',
	definition     JSONB NOT NULL,
	change_summary TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL,
	UNIQUE (workflow_id, version)
);

CREATE TABLE IF NOT EXISTS executions (
	id               TEXT PRIMARY KEY,
	workflow_id      TEXT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
	trigger_id       TEXT,
	status           TEXT NOT NULL,
	input_data       JSONB NOT NULL DEFAULT '{}',
	variables        JSONB NOT NULL DEFAULT '{}',
	step_outputs     JSONB NOT NULL DEFAULT '{}',
	errors           JSONB NOT NULL DEFAULT '[]',
	error_message    TEXT NOT NULL DEFAULT '',
	error_step_id    TEXT NOT NULL DEFAULT '',
	started_at       TIMESTAMPTZ,
	completed_at     TIMESTAMPTZ,
	duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_workflow ON executions (workflow_id, created_at DESC);

CREATE TABLE IF NOT EXISTS step_executions (
	id               TEXT PRIMARY KEY,
	execution_id     TEXT NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
	step_id          TEXT NOT NULL,
	status           TEXT NOT NULL,
	input_data       JSONB NOT NULL DEFAULT '{}',
	output_data      JSONB NOT NULL DEFAULT '{}',
	started_at       TIMESTAMPTZ,
	completed_at     TIMESTAMPTZ,
	duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
	retry_count      INT NOT NULL DEFAULT 0,
	logs             TEXT NOT NULL DEFAULT '',
	error_message    TEXT NOT NULL DEFAULT '',
	error_trace      TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_step_executions_execution ON step_executions (execution_id, created_at);

CREATE TABLE IF NOT EXISTS triggers (
	id            TEXT PRIMARY KEY,
	workflow_id   TEXT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
	name          TEXT NOT NULL,
	type          TEXT NOT NULL,
	enabled       BOOLEAN NOT NULL DEFAULT TRUE,
	config        JSONB NOT NULL DEFAULT '{}',
	last_fired_at TIMESTAMPTZ,
	next_fire_at  TIMESTAMPTZ,
	fire_count    INT NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_triggers_due ON triggers (next_fire_at) WHERE enabled;
`

// Migrate applies the schema. Idempotent.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	_, err := db.Exec(ctx, Schema)
	return err
}
