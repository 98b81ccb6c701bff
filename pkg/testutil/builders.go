// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"time"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/models"
	"github.com/google/uuid"
)

// NewWorkflow creates an active manual workflow with a single email action.
// Overrides run before defaults are applied.
func NewWorkflow(overrides ...func(*models.Workflow)) *models.Workflow {
	now := time.Now().UTC()

	workflow := &models.Workflow{
		ID:       uuid.New().String(),
		TenantID: "tenant-1",
		Name:     "Test Workflow",
		Trigger:  models.NewTrigger(&models.ManualConfig{}),
		Actions: []models.Action{
			models.NewAction(&models.EmailConfig{
				To:      "site-manager@example.com",
				Subject: "Test",
				Body:    "Hello",
			}),
		},
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	for _, override := range overrides {
		override(workflow)
	}

	workflow.ApplyDefaults()

	return workflow
}

// WithTrigger replaces the workflow trigger.
func WithTrigger(config models.TriggerConfig) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Trigger = models.NewTrigger(config)
	}
}

// WithActions replaces the workflow actions.
func WithActions(actions ...models.Action) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Actions = actions
	}
}

// WithRateLimit sets the maximum admitted runs per hour.
func WithRateLimit(perHour int) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.MaxExecutionsPerHour = perHour
	}
}

// Inactive marks the workflow as inactive.
func Inactive() func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.IsActive = false
	}
}

// NewAction builds an action with an explicit retry policy.
func NewAction(config models.ActionConfig, maxRetries, delaySeconds int, multiplier float64) models.Action {
	action := models.NewAction(config)
	action.RetryPolicy = &models.RetryPolicy{
		MaxRetries:        maxRetries,
		RetryDelaySeconds: delaySeconds,
		BackoffMultiplier: multiplier,
	}

	return action
}

// NewRun creates a pending run snapshotting workflow.
func NewRun(workflow *models.Workflow, overrides ...func(*models.WorkflowRun)) *models.WorkflowRun {
	run := &models.WorkflowRun{
		ID:             uuid.New().String(),
		WorkflowID:     workflow.ID,
		TenantID:       workflow.TenantID,
		WorkflowName:   workflow.Name,
		Status:         models.RunPending,
		TriggerKind:    workflow.Trigger.Kind,
		TriggerPayload: map[string]any{"source": "test"},
		Actions:        workflow.Actions,
		Constants:      workflow.Constants,
		CreatedAt:      time.Now().UTC().Truncate(time.Microsecond),
	}

	for _, override := range overrides {
		override(run)
	}

	return run
}
