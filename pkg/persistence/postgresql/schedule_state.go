package postgresql

import (
	"context"
	"database/sql"
	"errors"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/models"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/persistence"
)

// ScheduleStateRepository handles schedule trigger bookkeeping.
type ScheduleStateRepository struct {
	db *sql.DB
}

func (sr *ScheduleStateRepository) Get(ctx context.Context, workflowID string) (*models.ScheduleState, error) {
	var (
		state       models.ScheduleState
		lastFiredAt sql.NullTime
	)

	err := sr.db.QueryRowContext(ctx, `
		SELECT workflow_id, last_fired_at, next_fire_at, updated_at
		FROM schedule_states WHERE workflow_id = $1`, workflowID,
	).Scan(&state.WorkflowID, &lastFiredAt, &state.NextFireAt, &state.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetScheduleState", workflowID, persistence.ErrScheduleStateNotFound)
		}

		return nil, persistence.NewWorkflowError("GetScheduleState", workflowID, err)
	}

	if lastFiredAt.Valid {
		state.LastFiredAt = &lastFiredAt.Time
	}

	return &state, nil
}

func (sr *ScheduleStateRepository) Save(ctx context.Context, state *models.ScheduleState) error {
	_, err := sr.db.ExecContext(ctx, `
		INSERT INTO schedule_states (workflow_id, last_fired_at, next_fire_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (workflow_id) DO UPDATE SET
			last_fired_at = EXCLUDED.last_fired_at,
			next_fire_at = EXCLUDED.next_fire_at,
			updated_at = EXCLUDED.updated_at`,
		state.WorkflowID, state.LastFiredAt, state.NextFireAt, state.UpdatedAt,
	)
	if err != nil {
		return persistence.NewWorkflowError("SaveScheduleState", state.WorkflowID, err)
	}

	return nil
}

func (sr *ScheduleStateRepository) Delete(ctx context.Context, workflowID string) error {
	_, err := sr.db.ExecContext(ctx, `DELETE FROM schedule_states WHERE workflow_id = $1`, workflowID)
	if err != nil {
		return persistence.NewWorkflowError("DeleteScheduleState", workflowID, err)
	}

	return nil
}
