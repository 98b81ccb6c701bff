// Package persistence provides the durable state store for workflows, their runs and run steps.
package persistence

import (
	"context"
	"time"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/models"
)

// Persistence is the source of truth the engine recovers from after a restart.
type Persistence interface {
	WorkflowRepository() WorkflowRepository
	RunRepository() RunRepository
	StepRepository() StepRepository
	ScheduleStateRepository() ScheduleStateRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores workflow definitions.
type WorkflowRepository interface {
	GetAll(ctx context.Context) ([]*models.Workflow, error)
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	Save(ctx context.Context, workflow *models.Workflow) error
	Delete(ctx context.Context, id string) error
}

// RunRepository stores workflow runs. Status changes go through UpdateStatus,
// which only applies when the run is currently in one of the given states, so
// a terminal run is never finalized twice.
type RunRepository interface {
	Create(ctx context.Context, run *models.WorkflowRun) error
	GetByID(ctx context.Context, id string) (*models.WorkflowRun, error)

	// ListByWorkflow returns the most recent runs of a workflow, newest first.
	ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.WorkflowRun, error)

	// ListByStatus returns runs in any of the given states, oldest first.
	ListByStatus(ctx context.Context, statuses ...models.RunStatus) ([]*models.WorkflowRun, error)

	// ListCreatedSince returns runs admitted at or after since, oldest first.
	ListCreatedSince(ctx context.Context, since time.Time) ([]*models.WorkflowRun, error)

	UpdateStatus(ctx context.Context, id string, from []models.RunStatus, change models.RunChange) (*models.WorkflowRun, error)

	// RequestCancel flags a non-terminal run for cancellation at its next step boundary.
	RequestCancel(ctx context.Context, id string) (*models.WorkflowRun, error)
}

// StepRepository stores one record per attempt of each run step.
type StepRepository interface {
	Create(ctx context.Context, step *models.RunStep) error
	Update(ctx context.Context, step *models.RunStep) error

	// ListByRun returns the attempts of a run ordered by step index then attempt.
	ListByRun(ctx context.Context, runID string) ([]*models.RunStep, error)
}

// ScheduleStateRepository stores the last and next fire times of schedule triggers.
type ScheduleStateRepository interface {
	Get(ctx context.Context, workflowID string) (*models.ScheduleState, error)
	Save(ctx context.Context, state *models.ScheduleState) error
	Delete(ctx context.Context, workflowID string) error
}

// CanTransition reports whether status is one of from.
func CanTransition(status models.RunStatus, from []models.RunStatus) bool {
	for _, candidate := range from {
		if candidate == status {
			return true
		}
	}

	return false
}
