package services

import (
	"context"
	"fmt"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/models"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/persistence"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 1000
)

// RunDetail is a run with every attempt of its steps.
type RunDetail struct {
	*models.WorkflowRun

	Steps []*models.RunStep `json:"steps"`
}

// Run exposes run history for inspection.
type Run struct {
	persistence persistence.Persistence
}

func NewRun(persistence persistence.Persistence) *Run {
	return &Run{persistence: persistence}
}

// ListByWorkflow returns the most recent runs of a workflow, newest first.
func (r *Run) ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.WorkflowRun, error) {
	if _, err := r.persistence.WorkflowRepository().GetByID(ctx, workflowID); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = defaultRunLimit
	}

	limit = min(limit, maxRunLimit)

	runs, err := r.persistence.RunRepository().ListByWorkflow(ctx, workflowID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	return runs, nil
}

// FetchByID returns a run with its steps.
func (r *Run) FetchByID(ctx context.Context, runID string) (*RunDetail, error) {
	run, err := r.persistence.RunRepository().GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}

	steps, err := r.persistence.StepRepository().ListByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list run steps: %w", err)
	}

	if steps == nil {
		steps = []*models.RunStep{}
	}

	return &RunDetail{WorkflowRun: run, Steps: steps}, nil
}
