package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/models"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/persistence"
)

const workflowColumns = `id, tenant_id, name, description, trigger_json, actions_json, is_active,
	max_executions_per_hour, max_concurrent_runs, dedupe_window_seconds, constants, created_at, updated_at`

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db *sql.DB
}

func (wr *WorkflowRepository) GetAll(ctx context.Context) ([]*models.Workflow, error) {
	rows, err := wr.db.QueryContext(ctx, `SELECT `+workflowColumns+` FROM workflows ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}

		workflows = append(workflows, workflow)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate workflows: %w", err)
	}

	return workflows, nil
}

func (wr *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	row := wr.db.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = $1`, id)

	workflow, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	return workflow, nil
}

func (wr *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	triggerJSON, err := jsonValue(workflow.Trigger)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, fmt.Errorf("failed to marshal trigger: %w", err))
	}

	actionsJSON, err := jsonValue(workflow.Actions)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, fmt.Errorf("failed to marshal actions: %w", err))
	}

	constantsJSON, err := jsonValue(workflow.Constants)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, fmt.Errorf("failed to marshal constants: %w", err))
	}

	query := `
		INSERT INTO workflows (` + workflowColumns + `, trigger_kind)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			trigger_json = EXCLUDED.trigger_json,
			actions_json = EXCLUDED.actions_json,
			is_active = EXCLUDED.is_active,
			max_executions_per_hour = EXCLUDED.max_executions_per_hour,
			max_concurrent_runs = EXCLUDED.max_concurrent_runs,
			dedupe_window_seconds = EXCLUDED.dedupe_window_seconds,
			constants = EXCLUDED.constants,
			updated_at = EXCLUDED.updated_at,
			trigger_kind = EXCLUDED.trigger_kind
	`

	_, err = wr.db.ExecContext(ctx, query,
		workflow.ID,
		workflow.TenantID,
		workflow.Name,
		workflow.Description,
		triggerJSON,
		actionsJSON,
		workflow.IsActive,
		workflow.MaxExecutionsPerHour,
		workflow.MaxConcurrentRuns,
		workflow.DedupeWindowSeconds,
		constantsJSON,
		workflow.CreatedAt,
		workflow.UpdatedAt,
		string(workflow.Trigger.Kind),
	)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	return nil
}

func (wr *WorkflowRepository) Delete(ctx context.Context, id string) error {
	result, err := wr.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	if affected == 0 {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}

func scanWorkflow(row scanner) (*models.Workflow, error) {
	var (
		workflow      models.Workflow
		triggerJSON   []byte
		actionsJSON   []byte
		constantsJSON []byte
	)

	err := row.Scan(
		&workflow.ID,
		&workflow.TenantID,
		&workflow.Name,
		&workflow.Description,
		&triggerJSON,
		&actionsJSON,
		&workflow.IsActive,
		&workflow.MaxExecutionsPerHour,
		&workflow.MaxConcurrentRuns,
		&workflow.DedupeWindowSeconds,
		&constantsJSON,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := decodeJSON(triggerJSON, &workflow.Trigger); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger of workflow %s: %w", workflow.ID, err)
	}

	if err := decodeJSON(actionsJSON, &workflow.Actions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal actions of workflow %s: %w", workflow.ID, err)
	}

	if err := decodeJSON(constantsJSON, &workflow.Constants); err != nil {
		return nil, fmt.Errorf("failed to unmarshal constants of workflow %s: %w", workflow.ID, err)
	}

	return &workflow, nil
}
