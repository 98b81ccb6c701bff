package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/models"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/persistence"
	"github.com/lib/pq"
)

const runColumns = `id, workflow_id, tenant_id, workflow_name, status, trigger_kind, trigger_payload,
	actions_json, constants, dedupe_key, cancel_requested, created_at, started_at, completed_at,
	error_message, failure, output`

// uniqueViolation is the PostgreSQL error code for duplicate keys.
const uniqueViolation = "23505"

// RunRepository handles workflow run database operations.
type RunRepository struct {
	db *sql.DB
}

func (rr *RunRepository) Create(ctx context.Context, run *models.WorkflowRun) error {
	payloadJSON, err := jsonValue(run.TriggerPayload)
	if err != nil {
		return persistence.NewRunError("Create", run.ID, fmt.Errorf("failed to marshal trigger payload: %w", err))
	}

	actionsJSON, err := jsonValue(run.Actions)
	if err != nil {
		return persistence.NewRunError("Create", run.ID, fmt.Errorf("failed to marshal actions: %w", err))
	}

	constantsJSON, err := jsonValue(run.Constants)
	if err != nil {
		return persistence.NewRunError("Create", run.ID, fmt.Errorf("failed to marshal constants: %w", err))
	}

	failureJSON, err := jsonValue(run.Failure)
	if err != nil {
		return persistence.NewRunError("Create", run.ID, fmt.Errorf("failed to marshal failure: %w", err))
	}

	outputJSON, err := jsonValue(run.Output)
	if err != nil {
		return persistence.NewRunError("Create", run.ID, fmt.Errorf("failed to marshal output: %w", err))
	}

	query := `
		INSERT INTO workflow_runs (` + runColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err = rr.db.ExecContext(ctx, query,
		run.ID,
		run.WorkflowID,
		run.TenantID,
		run.WorkflowName,
		string(run.Status),
		string(run.TriggerKind),
		payloadJSON,
		actionsJSON,
		constantsJSON,
		nullString(run.DedupeKey),
		run.CancelRequested,
		run.CreatedAt,
		run.StartedAt,
		run.CompletedAt,
		nullString(run.ErrorMessage),
		failureJSON,
		outputJSON,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return persistence.NewRunError("Create", run.ID, persistence.ErrRunAlreadyExists)
		}

		return persistence.NewRunError("Create", run.ID, err)
	}

	return nil
}

func (rr *RunRepository) GetByID(ctx context.Context, id string) (*models.WorkflowRun, error) {
	row := rr.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM workflow_runs WHERE id = $1`, id)

	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRunError("GetByID", id, persistence.ErrRunNotFound)
		}

		return nil, persistence.NewRunError("GetByID", id, err)
	}

	return run, nil
}

func (rr *RunRepository) ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.WorkflowRun, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	return rr.query(ctx,
		`SELECT `+runColumns+` FROM workflow_runs WHERE workflow_id = $1 ORDER BY created_at DESC LIMIT $2`,
		workflowID, limit)
}

func (rr *RunRepository) ListByStatus(ctx context.Context, statuses ...models.RunStatus) ([]*models.WorkflowRun, error) {
	values := make([]string, len(statuses))
	for i, status := range statuses {
		values[i] = string(status)
	}

	return rr.query(ctx,
		`SELECT `+runColumns+` FROM workflow_runs WHERE status = ANY($1) ORDER BY created_at`,
		pq.Array(values))
}

func (rr *RunRepository) ListCreatedSince(ctx context.Context, since time.Time) ([]*models.WorkflowRun, error) {
	return rr.query(ctx,
		`SELECT `+runColumns+` FROM workflow_runs WHERE created_at >= $1 ORDER BY created_at`,
		since)
}

func (rr *RunRepository) query(ctx context.Context, query string, args ...any) ([]*models.WorkflowRun, error) {
	rows, err := rr.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	runs := make([]*models.WorkflowRun, 0)

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}

	return runs, nil
}

// UpdateStatus applies change in a single conditional UPDATE so concurrent
// finalizers cannot both succeed.
func (rr *RunRepository) UpdateStatus(ctx context.Context, id string, from []models.RunStatus, change models.RunChange) (*models.WorkflowRun, error) {
	failureJSON, err := jsonValue(change.Failure)
	if err != nil {
		return nil, persistence.NewRunError("UpdateStatus", id, fmt.Errorf("failed to marshal failure: %w", err))
	}

	outputJSON, err := jsonValue(change.Output)
	if err != nil {
		return nil, persistence.NewRunError("UpdateStatus", id, fmt.Errorf("failed to marshal output: %w", err))
	}

	states := make([]string, len(from))
	for i, status := range from {
		states[i] = string(status)
	}

	query := `
		UPDATE workflow_runs SET
			status = $2,
			started_at = COALESCE($3, started_at),
			completed_at = COALESCE($4, completed_at),
			error_message = COALESCE($5, error_message),
			failure = COALESCE($6::jsonb, failure),
			output = COALESCE($8::jsonb, output)
		WHERE id = $1 AND status = ANY($7)
		RETURNING ` + runColumns

	row := rr.db.QueryRowContext(ctx, query,
		id,
		string(change.Status),
		change.StartedAt,
		change.CompletedAt,
		nullString(change.ErrorMessage),
		failureJSON,
		pq.Array(states),
		outputJSON,
	)

	run, err := scanRun(row)
	if err == nil {
		return run, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewRunError("UpdateStatus", id, err)
	}

	current, getErr := rr.GetByID(ctx, id)
	if getErr != nil {
		return nil, getErr
	}

	return current, persistence.NewRunError("UpdateStatus", id, persistence.ErrInvalidTransition)
}

func (rr *RunRepository) RequestCancel(ctx context.Context, id string) (*models.WorkflowRun, error) {
	query := `
		UPDATE workflow_runs SET cancel_requested = TRUE
		WHERE id = $1 AND status IN ('pending', 'running')
		RETURNING ` + runColumns

	run, err := scanRun(rr.db.QueryRowContext(ctx, query, id))
	if err == nil {
		return run, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewRunError("RequestCancel", id, err)
	}

	current, getErr := rr.GetByID(ctx, id)
	if getErr != nil {
		return nil, getErr
	}

	return current, persistence.NewRunError("RequestCancel", id, persistence.ErrInvalidTransition)
}

func scanRun(row scanner) (*models.WorkflowRun, error) {
	var (
		run           models.WorkflowRun
		status        string
		triggerKind   string
		payloadJSON   []byte
		actionsJSON   []byte
		constantsJSON []byte
		dedupeKey     sql.NullString
		startedAt     sql.NullTime
		completedAt   sql.NullTime
		errorMessage  sql.NullString
		failureJSON   []byte
		outputJSON    []byte
	)

	err := row.Scan(
		&run.ID,
		&run.WorkflowID,
		&run.TenantID,
		&run.WorkflowName,
		&status,
		&triggerKind,
		&payloadJSON,
		&actionsJSON,
		&constantsJSON,
		&dedupeKey,
		&run.CancelRequested,
		&run.CreatedAt,
		&startedAt,
		&completedAt,
		&errorMessage,
		&failureJSON,
		&outputJSON,
	)
	if err != nil {
		return nil, err
	}

	run.Status = models.RunStatus(status)
	run.TriggerKind = models.TriggerKind(triggerKind)
	run.DedupeKey = dedupeKey.String
	run.ErrorMessage = errorMessage.String

	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}

	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}

	if err := decodeJSON(payloadJSON, &run.TriggerPayload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger payload of run %s: %w", run.ID, err)
	}

	if err := decodeJSON(actionsJSON, &run.Actions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal actions of run %s: %w", run.ID, err)
	}

	if err := decodeJSON(constantsJSON, &run.Constants); err != nil {
		return nil, fmt.Errorf("failed to unmarshal constants of run %s: %w", run.ID, err)
	}

	if err := decodeJSON(outputJSON, &run.Output); err != nil {
		return nil, fmt.Errorf("failed to unmarshal output of run %s: %w", run.ID, err)
	}

	if len(failureJSON) > 0 {
		run.Failure = &models.Failure{}
		if err := decodeJSON(failureJSON, run.Failure); err != nil {
			return nil, fmt.Errorf("failed to unmarshal failure of run %s: %w", run.ID, err)
		}
	}

	return &run, nil
}
