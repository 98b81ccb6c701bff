package services

import (
	"context"
	"fmt"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/models"
)

// Activate makes a workflow live: its trigger starts producing runs.
func (w *Workflow) Activate(ctx context.Context, workflowID string) (*models.Workflow, error) {
	return w.setActive(ctx, workflowID, true)
}

// Deactivate stops a workflow's trigger. Intents that still arrive are
// ignored, and runs already admitted continue.
func (w *Workflow) Deactivate(ctx context.Context, workflowID string) (*models.Workflow, error) {
	return w.setActive(ctx, workflowID, false)
}

func (w *Workflow) setActive(ctx context.Context, workflowID string, active bool) (*models.Workflow, error) {
	workflow, err := w.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if workflow.IsActive == active {
		return workflow, nil
	}

	workflow.IsActive = active
	workflow.UpdatedAt = w.now()

	if active {
		if err := w.checkWebhookPath(ctx, workflow); err != nil {
			return nil, err
		}
	}

	if err := w.persistence.WorkflowRepository().Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}

	w.changed(ctx)

	return workflow, nil
}
