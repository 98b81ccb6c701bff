package postgresql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/models"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/persistence"
)

const stepColumns = `id, run_id, step_index, action_kind, status, attempt, input, output,
	error_message, started_at, completed_at`

// StepRepository handles run step database operations.
type StepRepository struct {
	db *sql.DB
}

func (sr *StepRepository) Create(ctx context.Context, step *models.RunStep) error {
	inputJSON, outputJSON, err := stepJSON(step)
	if err != nil {
		return persistence.NewRunError("CreateStep", step.RunID, err)
	}

	_, err = sr.db.ExecContext(ctx, `
		INSERT INTO run_steps (`+stepColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		step.ID,
		step.RunID,
		step.StepIndex,
		string(step.ActionKind),
		string(step.Status),
		step.Attempt,
		inputJSON,
		outputJSON,
		nullString(step.ErrorMessage),
		step.StartedAt,
		step.CompletedAt,
	)
	if err != nil {
		return persistence.NewRunError("CreateStep", step.RunID, err)
	}

	return nil
}

func (sr *StepRepository) Update(ctx context.Context, step *models.RunStep) error {
	inputJSON, outputJSON, err := stepJSON(step)
	if err != nil {
		return persistence.NewRunError("UpdateStep", step.RunID, err)
	}

	result, err := sr.db.ExecContext(ctx, `
		UPDATE run_steps SET
			status = $2,
			input = $3,
			output = $4,
			error_message = $5,
			started_at = $6,
			completed_at = $7
		WHERE id = $1`,
		step.ID,
		string(step.Status),
		inputJSON,
		outputJSON,
		nullString(step.ErrorMessage),
		step.StartedAt,
		step.CompletedAt,
	)
	if err != nil {
		return persistence.NewRunError("UpdateStep", step.RunID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewRunError("UpdateStep", step.RunID, err)
	}

	if affected == 0 {
		return persistence.NewRunError("UpdateStep", step.RunID, persistence.ErrStepNotFound)
	}

	return nil
}

func (sr *StepRepository) ListByRun(ctx context.Context, runID string) ([]*models.RunStep, error) {
	rows, err := sr.db.QueryContext(ctx,
		`SELECT `+stepColumns+` FROM run_steps WHERE run_id = $1 ORDER BY step_index, attempt`, runID)
	if err != nil {
		return nil, persistence.NewRunError("ListSteps", runID, err)
	}
	defer func() { _ = rows.Close() }()

	steps := make([]*models.RunStep, 0)

	for rows.Next() {
		var (
			step         models.RunStep
			actionKind   string
			status       string
			inputJSON    []byte
			outputJSON   []byte
			errorMessage sql.NullString
			completedAt  sql.NullTime
		)

		err := rows.Scan(
			&step.ID,
			&step.RunID,
			&step.StepIndex,
			&actionKind,
			&status,
			&step.Attempt,
			&inputJSON,
			&outputJSON,
			&errorMessage,
			&step.StartedAt,
			&completedAt,
		)
		if err != nil {
			return nil, persistence.NewRunError("ListSteps", runID, err)
		}

		step.ActionKind = models.ActionKind(actionKind)
		step.Status = models.StepStatus(status)
		step.ErrorMessage = errorMessage.String

		if completedAt.Valid {
			step.CompletedAt = &completedAt.Time
		}

		if err := decodeJSON(inputJSON, &step.Input); err != nil {
			return nil, persistence.NewRunError("ListSteps", runID, fmt.Errorf("failed to unmarshal step input: %w", err))
		}

		if err := decodeJSON(outputJSON, &step.Output); err != nil {
			return nil, persistence.NewRunError("ListSteps", runID, fmt.Errorf("failed to unmarshal step output: %w", err))
		}

		steps = append(steps, &step)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewRunError("ListSteps", runID, err)
	}

	return steps, nil
}

func stepJSON(step *models.RunStep) (any, any, error) {
	inputJSON, err := jsonValue(step.Input)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal step input: %w", err)
	}

	outputJSON, err := jsonValue(step.Output)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal step output: %w", err)
	}

	return inputJSON, outputJSON, nil
}
