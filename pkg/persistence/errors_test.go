package persistence_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/models"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error checking functions work correctly", func(t *testing.T) {
		workflowErr := persistence.NewWorkflowError("GetByID", "workflow-123", persistence.ErrWorkflowNotFound)
		runErr := persistence.NewRunError("UpdateStatus", "run-456", persistence.ErrInvalidTransition)

		assert.True(t, persistence.IsWorkflowNotFound(workflowErr))
		assert.True(t, persistence.IsInvalidTransition(runErr))
		assert.False(t, persistence.IsRunNotFound(runErr))

		wrapped := fmt.Errorf("admit: %w", workflowErr)
		assert.True(t, errors.Is(wrapped, persistence.ErrWorkflowNotFound))
	})

	t.Run("errors contain context", func(t *testing.T) {
		err := persistence.NewRunError("RequestCancel", "run-123", persistence.ErrRunNotFound)

		assert.Contains(t, err.Error(), "RequestCancel")
		assert.Contains(t, err.Error(), "run-123")
		assert.Contains(t, err.Error(), "run not found")
	})
}

func TestCanTransition(t *testing.T) {
	t.Parallel()

	from := []models.RunStatus{models.RunPending, models.RunRunning}

	assert.True(t, persistence.CanTransition(models.RunRunning, from))
	assert.False(t, persistence.CanTransition(models.RunSucceeded, from))
	assert.False(t, persistence.CanTransition(models.RunPending, nil))
}
