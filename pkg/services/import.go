package services

import (
	"context"
	"fmt"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/models"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/persistence"
	"github.com/google/uuid"
)

// Import upserts workflow definitions by ID, keeping the creation time of
// workflows already stored. Definitions without an ID get a fresh one. The
// first invalid definition aborts the import; earlier ones stay stored.
func (w *Workflow) Import(ctx context.Context, workflows []*models.Workflow) (int, error) {
	imported := 0

	for _, workflow := range workflows {
		if workflow == nil {
			return imported, ErrWorkflowNil
		}

		if workflow.ID == "" {
			workflow.ID = uuid.New().String()
		}

		now := w.now()
		workflow.CreatedAt = now
		workflow.UpdatedAt = now

		existing, err := w.persistence.WorkflowRepository().GetByID(ctx, workflow.ID)

		switch {
		case err == nil:
			workflow.CreatedAt = existing.CreatedAt
		case !persistence.IsWorkflowNotFound(err):
			return imported, err
		}

		if err := w.check(ctx, workflow); err != nil {
			return imported, fmt.Errorf("workflow %s: %w", workflow.ID, err)
		}

		if err := w.persistence.WorkflowRepository().Save(ctx, workflow); err != nil {
			return imported, fmt.Errorf("failed to import workflow %s: %w", workflow.ID, err)
		}

		imported++
	}

	if imported > 0 {
		w.changed(ctx)
	}

	return imported, nil
}
