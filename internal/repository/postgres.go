package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kimjoonhwaan/metaworkflow/pkg/models"
)

// PostgresStore is the PostgreSQL implementation of Store.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func mapErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func asJSON(v interface{}) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

func fromJSON(raw []byte, dst interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

// --- workflows ---

func (s *PostgresStore) SaveWorkflow(ctx context.Context, wf *models.Workflow) error {
	vars, err := asJSON(wf.Variables)
	if err != nil {
		return err
	}
	meta, err := asJSON(wf.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO workflows (id, name, description, status, tags, variables, metadata, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		wf.ID, wf.Name, wf.Description, wf.Status, wf.Tags, vars, meta, wf.Version, wf.CreatedAt, wf.UpdatedAt)
	return err
}

func (s *PostgresStore) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	wf, err := s.scanWorkflow(s.db.QueryRow(ctx, `
		SELECT id, name, description, status, tags, variables, metadata, version, created_at, updated_at
		FROM workflows WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr(err)
	}
	steps, err := s.ListSteps(ctx, id)
	if err != nil {
		return nil, err
	}
	wf.Steps = steps
	return wf, nil
}

func (s *PostgresStore) ListWorkflows(ctx context.Context, status models.WorkflowStatus) ([]*models.Workflow, error) {
	query := `SELECT id, name, description, status, tags, variables, metadata, version, created_at, updated_at
		FROM workflows`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Workflow
	for rows.Next() {
		wf, err := s.scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateWorkflow(ctx context.Context, wf *models.Workflow) error {
	vars, err := asJSON(wf.Variables)
	if err != nil {
		return err
	}
	meta, err := asJSON(wf.Metadata)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE workflows SET name = $1, description = $2, status = $3, tags = $4,
			variables = $5, metadata = $6, version = $7, updated_at = $8
		WHERE id = $9`,
		wf.Name, wf.Description, wf.Status, wf.Tags, vars, meta, wf.Version, wf.UpdatedAt, wf.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteWorkflow(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) scanWorkflow(row pgx.Row) (*models.Workflow, error) {
	var wf models.Workflow
	var vars, meta []byte
	err := row.Scan(&wf.ID, &wf.Name, &wf.Description, &wf.Status, &wf.Tags,
		&vars, &meta, &wf.Version, &wf.CreatedAt, &wf.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := fromJSON(vars, &wf.Variables); err != nil {
		return nil, err
	}
	if err := fromJSON(meta, &wf.Metadata); err != nil {
		return nil, err
	}
	return &wf, nil
}

// --- steps ---

func (s *PostgresStore) ReplaceSteps(ctx context.Context, workflowID string, steps []models.Step) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM workflow_steps WHERE workflow_id = $1`, workflowID); err != nil {
		return err
	}
	for i := range steps {
		st := &steps[i]
		config, err := asJSON(st.Config)
		if err != nil {
			return err
		}
		inMap, err := asJSON(st.InputMapping)
		if err != nil {
			return err
		}
		outMap, err := asJSON(st.OutputMapping)
		if err != nil {
			return err
		}
		var retry []byte
		if st.RetryConfig != nil {
			if retry, err = asJSON(st.RetryConfig); err != nil {
				return err
			}
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO workflow_steps (id, workflow_id, name, type, step_order, config,
				input_mapping, output_mapping, condition, retry_config, code, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			st.ID, workflowID, st.Name, st.Type, st.Order, config,
			inMap, outMap, st.Condition, retry, st.Code, st.CreatedAt, st.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert step %q: %w", st.Name, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ListSteps(ctx context.Context, workflowID string) ([]models.Step, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, workflow_id, name, type, step_order, config, input_mapping,
			output_mapping, condition, retry_config, code, created_at, updated_at
		FROM workflow_steps WHERE workflow_id = $1 ORDER BY step_order`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Step
	for rows.Next() {
		var st models.Step
		var config, inMap, outMap, retry []byte
		err := rows.Scan(&st.ID, &st.WorkflowID, &st.Name, &st.Type, &st.Order, &config,
			&inMap, &outMap, &st.Condition, &retry, &st.Code, &st.CreatedAt, &st.UpdatedAt)
		if err != nil {
			return nil, err
		}
		if err := fromJSON(config, &st.Config); err != nil {
			return nil, err
		}
		if err := fromJSON(inMap, &st.InputMapping); err != nil {
			return nil, err
		}
		if err := fromJSON(outMap, &st.OutputMapping); err != nil {
			return nil, err
		}
		if err := fromJSON(retry, &st.RetryConfig); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// --- versions ---

func (s *PostgresStore) SaveVersion(ctx context.Context, v *models.WorkflowVersion) error {
	def, err := asJSON(v.Definition)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO workflow_versions (id, workflow_id, version, name, description, definition, change_summary, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		v.ID, v.WorkflowID, v.Version, v.Name, v.Description, def, v.ChangeSummary, v.CreatedAt)
	return err
}

func (s *PostgresStore) ListVersions(ctx context.Context, workflowID string) ([]*models.WorkflowVersion, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, workflow_id, version, name, description, definition, change_summary, created_at
		FROM workflow_versions WHERE workflow_id = $1 ORDER BY version DESC`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.WorkflowVersion
	for rows.Next() {
		var v models.WorkflowVersion
		var def []byte
		err := rows.Scan(&v.ID, &v.WorkflowID, &v.Version, &v.Name, &v.Description, &def, &v.ChangeSummary, &v.CreatedAt)
		if err != nil {
			return nil, err
		}
		if err := fromJSON(def, &v.Definition); err != nil {
			return nil, err
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

// --- executions ---

func (s *PostgresStore) SaveExecution(ctx context.Context, e *models.Execution) error {
	input, vars, outputs, errs, err := executionJSON(e)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO executions (id, workflow_id, trigger_id, status, input_data, variables,
			step_outputs, errors, error_message, error_step_id, started_at, completed_at,
			duration_seconds, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		e.ID, e.WorkflowID, e.TriggerID, e.Status, input, vars, outputs, errs,
		e.ErrorMessage, e.ErrorStepID, e.StartedAt, e.CompletedAt, e.DurationSeconds, e.CreatedAt)
	return err
}

func (s *PostgresStore) GetExecution(ctx context.Context, id string) (*models.Execution, error) {
	e, err := s.scanExecution(s.db.QueryRow(ctx, `
		SELECT id, workflow_id, trigger_id, status, input_data, variables, step_outputs,
			errors, error_message, error_step_id, started_at, completed_at, duration_seconds, created_at
		FROM executions WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr(err)
	}
	return e, nil
}

func (s *PostgresStore) UpdateExecution(ctx context.Context, e *models.Execution) error {
	input, vars, outputs, errs, err := executionJSON(e)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE executions SET status = $1, input_data = $2, variables = $3, step_outputs = $4,
			errors = $5, error_message = $6, error_step_id = $7, started_at = $8,
			completed_at = $9, duration_seconds = $10
		WHERE id = $11`,
		e.Status, input, vars, outputs, errs, e.ErrorMessage, e.ErrorStepID,
		e.StartedAt, e.CompletedAt, e.DurationSeconds, e.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListExecutions(ctx context.Context, workflowID string, limit int) ([]*models.Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, workflow_id, trigger_id, status, input_data, variables, step_outputs,
			errors, error_message, error_step_id, started_at, completed_at, duration_seconds, created_at
		FROM executions`
	args := []interface{}{}
	if workflowID != "" {
		query += ` WHERE workflow_id = $1 ORDER BY created_at DESC LIMIT $2`
		args = append(args, workflowID, limit)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Execution
	for rows.Next() {
		e, err := s.scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func executionJSON(e *models.Execution) (input, vars, outputs, errs []byte, err error) {
	if input, err = asJSON(e.InputData); err != nil {
		return
	}
	if vars, err = asJSON(e.Variables); err != nil {
		return
	}
	if outputs, err = asJSON(e.StepOutputs); err != nil {
		return
	}
	errs, err = asJSON(e.Errors)
	return
}

func (s *PostgresStore) scanExecution(row pgx.Row) (*models.Execution, error) {
	var e models.Execution
	var input, vars, outputs, errs []byte
	err := row.Scan(&e.ID, &e.WorkflowID, &e.TriggerID, &e.Status, &input, &vars, &outputs,
		&errs, &e.ErrorMessage, &e.ErrorStepID, &e.StartedAt, &e.CompletedAt,
		&e.DurationSeconds, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := fromJSON(input, &e.InputData); err != nil {
		return nil, err
	}
	if err := fromJSON(vars, &e.Variables); err != nil {
		return nil, err
	}
	if err := fromJSON(outputs, &e.StepOutputs); err != nil {
		return nil, err
	}
	if err := fromJSON(errs, &e.Errors); err != nil {
		return nil, err
	}
	return &e, nil
}

// --- step executions ---

func (s *PostgresStore) SaveStepExecution(ctx context.Context, se *models.StepExecution) error {
	input, err := asJSON(se.InputData)
	if err != nil {
		return err
	}
	output, err := asJSON(se.OutputData)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO step_executions (id, execution_id, step_id, status, input_data, output_data,
			started_at, completed_at, duration_seconds, retry_count, logs, error_message, error_trace, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		se.ID, se.ExecutionID, se.StepID, se.Status, input, output,
		se.StartedAt, se.CompletedAt, se.DurationSeconds, se.RetryCount,
		se.Logs, se.ErrorMessage, se.ErrorTrace, se.CreatedAt)
	return err
}

func (s *PostgresStore) UpdateStepExecution(ctx context.Context, se *models.StepExecution) error {
	input, err := asJSON(se.InputData)
	if err != nil {
		return err
	}
	output, err := asJSON(se.OutputData)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE step_executions
		SET status = $2, input_data = $3, output_data = $4, started_at = $5, completed_at = $6,
			duration_seconds = $7, retry_count = $8, logs = $9, error_message = $10, error_trace = $11
		WHERE id = $1`,
		se.ID, se.Status, input, output, se.StartedAt, se.CompletedAt,
		se.DurationSeconds, se.RetryCount, se.Logs, se.ErrorMessage, se.ErrorTrace)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListStepExecutions(ctx context.Context, executionID string) ([]*models.StepExecution, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, execution_id, step_id, status, input_data, output_data, started_at,
			completed_at, duration_seconds, retry_count, logs, error_message, error_trace, created_at
		FROM step_executions WHERE execution_id = $1 ORDER BY created_at`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.StepExecution
	for rows.Next() {
		var se models.StepExecution
		var input, output []byte
		err := rows.Scan(&se.ID, &se.ExecutionID, &se.StepID, &se.Status, &input, &output,
			&se.StartedAt, &se.CompletedAt, &se.DurationSeconds, &se.RetryCount,
			&se.Logs, &se.ErrorMessage, &se.ErrorTrace, &se.CreatedAt)
		if err != nil {
			return nil, err
		}
		if err := fromJSON(input, &se.InputData); err != nil {
			return nil, err
		}
		if err := fromJSON(output, &se.OutputData); err != nil {
			return nil, err
		}
		out = append(out, &se)
	}
	return out, rows.Err()
}

// --- triggers ---

func (s *PostgresStore) SaveTrigger(ctx context.Context, tr *models.Trigger) error {
	config, err := asJSON(tr.Config)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO triggers (id, workflow_id, name, type, enabled, config, last_fired_at,
			next_fire_at, fire_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		tr.ID, tr.WorkflowID, tr.Name, tr.Type, tr.Enabled, config,
		tr.LastFiredAt, tr.NextFireAt, tr.FireCount, tr.CreatedAt, tr.UpdatedAt)
	return err
}

func (s *PostgresStore) GetTrigger(ctx context.Context, id string) (*models.Trigger, error) {
	tr, err := s.scanTrigger(s.db.QueryRow(ctx, triggerSelect+` WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr(err)
	}
	return tr, nil
}

const triggerSelect = `SELECT id, workflow_id, name, type, enabled, config, last_fired_at,
	next_fire_at, fire_count, created_at, updated_at FROM triggers`

func (s *PostgresStore) ListTriggers(ctx context.Context, workflowID string) ([]*models.Trigger, error) {
	query := triggerSelect
	args := []interface{}{}
	if workflowID != "" {
		query += ` WHERE workflow_id = $1`
		args = append(args, workflowID)
	}
	query += ` ORDER BY created_at`
	return s.queryTriggers(ctx, query, args...)
}

func (s *PostgresStore) UpdateTrigger(ctx context.Context, tr *models.Trigger) error {
	config, err := asJSON(tr.Config)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE triggers SET name = $1, enabled = $2, config = $3, last_fired_at = $4,
			next_fire_at = $5, fire_count = $6, updated_at = $7
		WHERE id = $8`,
		tr.Name, tr.Enabled, config, tr.LastFiredAt, tr.NextFireAt, tr.FireCount, tr.UpdatedAt, tr.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteTrigger(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM triggers WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DueTriggers(ctx context.Context, now time.Time) ([]*models.Trigger, error) {
	return s.queryTriggers(ctx,
		triggerSelect+` WHERE enabled AND type = $1 AND next_fire_at IS NOT NULL AND next_fire_at <= $2 ORDER BY next_fire_at`,
		models.TriggerScheduled, now)
}

func (s *PostgresStore) ListEnabledByType(ctx context.Context, t models.TriggerType) ([]*models.Trigger, error) {
	return s.queryTriggers(ctx, triggerSelect+` WHERE enabled AND type = $1 ORDER BY created_at`, t)
}

func (s *PostgresStore) queryTriggers(ctx context.Context, query string, args ...interface{}) ([]*models.Trigger, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Trigger
	for rows.Next() {
		tr, err := s.scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

func (s *PostgresStore) scanTrigger(row pgx.Row) (*models.Trigger, error) {
	var tr models.Trigger
	var config []byte
	err := row.Scan(&tr.ID, &tr.WorkflowID, &tr.Name, &tr.Type, &tr.Enabled, &config,
		&tr.LastFiredAt, &tr.NextFireAt, &tr.FireCount, &tr.CreatedAt, &tr.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := fromJSON(config, &tr.Config); err != nil {
		return nil, err
	}
	return &tr, nil
}
