package executor

import (
	"context"
	"fmt"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/events"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/models"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/persistence"
)

var nonTerminal = []models.RunStatus{models.RunPending, models.RunRunning}

func (e *Executor) finalizeSucceeded(ctx context.Context, run *models.WorkflowRun, output map[string]any) (*models.WorkflowRun, error) {
	return e.finalize(ctx, run, models.RunChange{Status: models.RunSucceeded, Output: output}, events.RunSucceededEvent)
}

func (e *Executor) finalizeFailed(ctx context.Context, run *models.WorkflowRun, stepErr *models.StepError) (*models.WorkflowRun, error) {
	failure := stepErr.Failure()

	return e.finalize(ctx, run, models.RunChange{
		Status:       models.RunFailed,
		ErrorMessage: stepErr.Error(),
		Failure:      failure,
	}, events.RunFailedEvent)
}

func (e *Executor) finalizeCancelled(ctx context.Context, run *models.WorkflowRun) (*models.WorkflowRun, error) {
	return e.finalize(ctx, run, models.RunChange{
		Status:       models.RunCancelled,
		ErrorMessage: models.ErrRunCancelled.Error(),
	}, events.RunCancelledEvent)
}

// FailInterrupted marks a run that was running when the engine stopped as failed.
func (e *Executor) FailInterrupted(ctx context.Context, run *models.WorkflowRun) (*models.WorkflowRun, error) {
	return e.finalize(ctx, run, models.RunChange{
		Status:       models.RunFailed,
		ErrorMessage: models.ErrInterruptedExecution.Error(),
		Failure: &models.Failure{
			StepIndex: -1,
			Code:      models.CodeInterruptedExecution,
			Message:   models.ErrInterruptedExecution.Error(),
		},
	}, events.RunFailedEvent)
}

// finalize writes the terminal state once. Losing the race to another
// finalizer is not an error; the stored run is returned unchanged.
func (e *Executor) finalize(
	ctx context.Context,
	run *models.WorkflowRun,
	change models.RunChange,
	eventType events.EventType,
) (*models.WorkflowRun, error) {
	now := e.clock.Now()
	change.CompletedAt = &now

	updated, err := e.persistence.RunRepository().UpdateStatus(ctx, run.ID, nonTerminal, change)
	if err != nil {
		if persistence.IsInvalidTransition(err) {
			e.logger.WarnContext(ctx, "Run already finalized", "run_id", run.ID, "status", updated.Status)

			return updated, nil
		}

		return nil, fmt.Errorf("failed to finalize run %s: %w", run.ID, err)
	}

	duration := now.Sub(run.CreatedAt)
	if updated.StartedAt != nil {
		duration = now.Sub(*updated.StartedAt)
	}

	e.logger.InfoContext(ctx, "Run finished",
		"workflow_id", run.WorkflowID, "run_id", run.ID, "status", change.Status, "duration", duration)

	e.publish(ctx, run.WorkflowID, &events.RunEvent{
		BaseEvent: e.baseEvent(eventType, run),
		RunID:     run.ID,
		Status:    change.Status,
		Duration:  duration,
		Failure:   change.Failure,
	})

	return updated, nil
}
