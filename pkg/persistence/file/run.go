package file

import (
	"context"
	"os"
	"sort"
	"time"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/models"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/persistence"
)

// RunRepository handles workflow run file operations.
type RunRepository struct {
	store *Persistence
}

func (rr *RunRepository) runPath(id string) string {
	return rr.store.path(runsDir, id+".json")
}

// Create stores a new run.
func (rr *RunRepository) Create(_ context.Context, run *models.WorkflowRun) error {
	if err := validateID(run.ID); err != nil {
		return persistence.NewRunError("Create", run.ID, err)
	}

	rr.store.mu.Lock()
	defer rr.store.mu.Unlock()

	if _, err := os.Stat(rr.runPath(run.ID)); err == nil {
		return persistence.NewRunError("Create", run.ID, persistence.ErrRunAlreadyExists)
	}

	if err := writeJSON(rr.runPath(run.ID), run); err != nil {
		return persistence.NewRunError("Create", run.ID, err)
	}

	return nil
}

// GetByID retrieves a run by its ID.
func (rr *RunRepository) GetByID(_ context.Context, id string) (*models.WorkflowRun, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.NewRunError("GetByID", id, err)
	}

	rr.store.mu.RLock()
	defer rr.store.mu.RUnlock()

	return rr.load("GetByID", id)
}

func (rr *RunRepository) load(op, id string) (*models.WorkflowRun, error) {
	var run models.WorkflowRun

	if err := readJSON(rr.runPath(id), &run); err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewRunError(op, id, persistence.ErrRunNotFound)
		}

		return nil, persistence.NewRunError(op, id, err)
	}

	return &run, nil
}

func (rr *RunRepository) list(match func(*models.WorkflowRun) bool) ([]*models.WorkflowRun, error) {
	rr.store.mu.RLock()
	defer rr.store.mu.RUnlock()

	runs := make([]*models.WorkflowRun, 0)

	err := readDir(rr.store.path(runsDir), func(path string) error {
		var run models.WorkflowRun
		if err := readJSON(path, &run); err != nil {
			return err
		}

		if match(&run) {
			runs = append(runs, &run)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})

	return runs, nil
}

// ListByWorkflow returns the most recent runs of a workflow, newest first.
func (rr *RunRepository) ListByWorkflow(_ context.Context, workflowID string, limit int) ([]*models.WorkflowRun, error) {
	runs, err := rr.list(func(run *models.WorkflowRun) bool {
		return run.WorkflowID == workflowID
	})
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(runs)-1; i < j; i, j = i+1, j-1 {
		runs[i], runs[j] = runs[j], runs[i]
	}

	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}

	return runs, nil
}

// ListByStatus returns runs in any of the given states, oldest first.
func (rr *RunRepository) ListByStatus(_ context.Context, statuses ...models.RunStatus) ([]*models.WorkflowRun, error) {
	return rr.list(func(run *models.WorkflowRun) bool {
		return persistence.CanTransition(run.Status, statuses)
	})
}

// ListCreatedSince returns runs admitted at or after since, oldest first.
func (rr *RunRepository) ListCreatedSince(_ context.Context, since time.Time) ([]*models.WorkflowRun, error) {
	return rr.list(func(run *models.WorkflowRun) bool {
		return !run.CreatedAt.Before(since)
	})
}

// UpdateStatus applies change when the run's current status is one of from.
func (rr *RunRepository) UpdateStatus(_ context.Context, id string, from []models.RunStatus, change models.RunChange) (*models.WorkflowRun, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.NewRunError("UpdateStatus", id, err)
	}

	rr.store.mu.Lock()
	defer rr.store.mu.Unlock()

	run, err := rr.load("UpdateStatus", id)
	if err != nil {
		return nil, err
	}

	if !persistence.CanTransition(run.Status, from) {
		return run, persistence.NewRunError("UpdateStatus", id, persistence.ErrInvalidTransition)
	}

	change.Apply(run)

	if err := writeJSON(rr.runPath(id), run); err != nil {
		return nil, persistence.NewRunError("UpdateStatus", id, err)
	}

	return run, nil
}

// RequestCancel flags a non-terminal run for cancellation.
func (rr *RunRepository) RequestCancel(_ context.Context, id string) (*models.WorkflowRun, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.NewRunError("RequestCancel", id, err)
	}

	rr.store.mu.Lock()
	defer rr.store.mu.Unlock()

	run, err := rr.load("RequestCancel", id)
	if err != nil {
		return nil, err
	}

	if run.Status.IsTerminal() {
		return run, persistence.NewRunError("RequestCancel", id, persistence.ErrInvalidTransition)
	}

	run.CancelRequested = true

	if err := writeJSON(rr.runPath(id), run); err != nil {
		return nil, persistence.NewRunError("RequestCancel", id, err)
	}

	return run, nil
}
