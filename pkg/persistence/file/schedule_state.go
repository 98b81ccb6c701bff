package file

import (
	"context"
	"fmt"
	"os"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/models"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/persistence"
)

// ScheduleStateRepository stores schedule trigger bookkeeping.
type ScheduleStateRepository struct {
	store *Persistence
}

func (sr *ScheduleStateRepository) Get(_ context.Context, workflowID string) (*models.ScheduleState, error) {
	if err := validateID(workflowID); err != nil {
		return nil, persistence.NewWorkflowError("GetScheduleState", workflowID, err)
	}

	sr.store.mu.RLock()
	defer sr.store.mu.RUnlock()

	var state models.ScheduleState

	if err := readJSON(sr.store.path(scheduleStatesDir, workflowID+".json"), &state); err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewWorkflowError("GetScheduleState", workflowID, persistence.ErrScheduleStateNotFound)
		}

		return nil, persistence.NewWorkflowError("GetScheduleState", workflowID, err)
	}

	return &state, nil
}

func (sr *ScheduleStateRepository) Save(_ context.Context, state *models.ScheduleState) error {
	if err := validateID(state.WorkflowID); err != nil {
		return persistence.NewWorkflowError("SaveScheduleState", state.WorkflowID, err)
	}

	sr.store.mu.Lock()
	defer sr.store.mu.Unlock()

	if err := writeJSON(sr.store.path(scheduleStatesDir, state.WorkflowID+".json"), state); err != nil {
		return persistence.NewWorkflowError("SaveScheduleState", state.WorkflowID, err)
	}

	return nil
}

func (sr *ScheduleStateRepository) Delete(_ context.Context, workflowID string) error {
	if err := validateID(workflowID); err != nil {
		return persistence.NewWorkflowError("DeleteScheduleState", workflowID, err)
	}

	sr.store.mu.Lock()
	defer sr.store.mu.Unlock()

	err := os.Remove(sr.store.path(scheduleStatesDir, workflowID+".json"))
	if err != nil && !os.IsNotExist(err) {
		return persistence.NewWorkflowError("DeleteScheduleState", workflowID, fmt.Errorf("failed to remove schedule state: %w", err))
	}

	return nil
}
