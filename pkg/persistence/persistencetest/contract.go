// Package persistencetest holds the behaviour every persistence implementation must share.
package persistencetest

import (
	"testing"
	"time"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/models"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/persistence"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises store against the shared persistence contract.
// newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) persistence.Persistence) {
	t.Helper()

	t.Run("workflows", func(t *testing.T) { testWorkflows(t, newStore(t)) })
	t.Run("run transitions", func(t *testing.T) { testRunTransitions(t, newStore(t)) })
	t.Run("run listing", func(t *testing.T) { testRunListing(t, newStore(t)) })
	t.Run("steps", func(t *testing.T) { testSteps(t, newStore(t)) })
	t.Run("schedule state", func(t *testing.T) { testScheduleState(t, newStore(t)) })
}

func testWorkflows(t *testing.T, store persistence.Persistence) {
	ctx := t.Context()
	repo := store.WorkflowRepository()

	_, err := repo.GetByID(ctx, "missing")
	require.True(t, persistence.IsWorkflowNotFound(err))

	workflow := testutil.NewWorkflow(func(w *models.Workflow) {
		w.Constants = map[string]any{"region": "uk-south"}
		w.CreatedAt = w.CreatedAt.Truncate(time.Microsecond)
		w.UpdatedAt = w.UpdatedAt.Truncate(time.Microsecond)
	})
	require.NoError(t, repo.Save(ctx, workflow))

	loaded, err := repo.GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.Name, loaded.Name)
	assert.Equal(t, workflow.Actions, loaded.Actions)
	assert.Equal(t, workflow.Trigger, loaded.Trigger)
	assert.Equal(t, "uk-south", loaded.Constants["region"])
	assert.True(t, workflow.CreatedAt.Equal(loaded.CreatedAt))

	workflow.IsActive = false
	require.NoError(t, repo.Save(ctx, workflow))

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.False(t, all[0].IsActive)

	require.NoError(t, repo.Delete(ctx, workflow.ID))
	require.True(t, persistence.IsWorkflowNotFound(repo.Delete(ctx, workflow.ID)))
}

func testRunTransitions(t *testing.T, store persistence.Persistence) {
	ctx := t.Context()
	repo := store.RunRepository()

	run := testutil.NewRun(testutil.NewWorkflow())
	require.NoError(t, repo.Create(ctx, run))
	require.ErrorIs(t, repo.Create(ctx, run), persistence.ErrRunAlreadyExists)

	startedAt := time.Now().UTC().Truncate(time.Microsecond)
	running, err := repo.UpdateStatus(ctx, run.ID,
		[]models.RunStatus{models.RunPending},
		models.RunChange{Status: models.RunRunning, StartedAt: &startedAt})
	require.NoError(t, err)
	assert.Equal(t, models.RunRunning, running.Status)
	require.NotNil(t, running.StartedAt)

	flagged, err := repo.RequestCancel(ctx, run.ID)
	require.NoError(t, err)
	assert.True(t, flagged.CancelRequested)

	completedAt := startedAt.Add(time.Second)
	failed, err := repo.UpdateStatus(ctx, run.ID,
		[]models.RunStatus{models.RunRunning},
		models.RunChange{
			Status:       models.RunFailed,
			CompletedAt:  &completedAt,
			ErrorMessage: "boom",
			Failure: &models.Failure{
				StepIndex:  0,
				ActionKind: models.ActionEmail,
				Attempt:    4,
				Code:       models.CodeTransientFailure,
				Message:    "boom",
			},
		})
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, failed.Status)

	// A terminal run is never finalized twice.
	current, err := repo.UpdateStatus(ctx, run.ID,
		[]models.RunStatus{models.RunPending, models.RunRunning},
		models.RunChange{Status: models.RunSucceeded, CompletedAt: &completedAt})
	require.True(t, persistence.IsInvalidTransition(err))
	assert.Equal(t, models.RunFailed, current.Status)

	_, err = repo.RequestCancel(ctx, run.ID)
	require.True(t, persistence.IsInvalidTransition(err))

	loaded, err := repo.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, loaded.Status)
	assert.Equal(t, "boom", loaded.ErrorMessage)
	require.NotNil(t, loaded.Failure)
	assert.Equal(t, 4, loaded.Failure.Attempt)
	assert.Equal(t, run.Actions, loaded.Actions)
	assert.Equal(t, "test", loaded.TriggerPayload["source"])

	done := testutil.NewRun(testutil.NewWorkflow())
	require.NoError(t, repo.Create(ctx, done))

	succeeded, err := repo.UpdateStatus(ctx, done.ID,
		[]models.RunStatus{models.RunPending},
		models.RunChange{Status: models.RunSucceeded, CompletedAt: &completedAt, Output: map[string]any{"recordId": "proj-1"}})
	require.NoError(t, err)
	assert.Equal(t, "proj-1", succeeded.Output["recordId"])

	loaded, err = repo.GetByID(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"recordId": "proj-1"}, loaded.Output)

	_, err = repo.UpdateStatus(ctx, "missing", nil, models.RunChange{Status: models.RunFailed})
	require.True(t, persistence.IsRunNotFound(err))
}

func testRunListing(t *testing.T, store persistence.Persistence) {
	ctx := t.Context()
	repo := store.RunRepository()
	workflow := testutil.NewWorkflow()
	base := time.Now().UTC().Add(-2 * time.Hour).Truncate(time.Microsecond)

	for i, status := range []models.RunStatus{models.RunSucceeded, models.RunRunning, models.RunPending} {
		run := testutil.NewRun(workflow, func(r *models.WorkflowRun) {
			r.Status = status
			r.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		})
		require.NoError(t, repo.Create(ctx, run))
	}

	other := testutil.NewRun(testutil.NewWorkflow())
	require.NoError(t, repo.Create(ctx, other))

	recent, err := repo.ListByWorkflow(ctx, workflow.ID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, models.RunPending, recent[0].Status)
	assert.Equal(t, models.RunRunning, recent[1].Status)

	unfinished, err := repo.ListByStatus(ctx, models.RunPending, models.RunRunning)
	require.NoError(t, err)
	require.Len(t, unfinished, 3)
	assert.Equal(t, models.RunRunning, unfinished[0].Status)

	since, err := repo.ListCreatedSince(ctx, base.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Len(t, since, 3)
}

func testSteps(t *testing.T, store persistence.Persistence) {
	ctx := t.Context()
	run := testutil.NewRun(testutil.NewWorkflow())
	require.NoError(t, store.RunRepository().Create(ctx, run))

	repo := store.StepRepository()
	startedAt := time.Now().UTC().Truncate(time.Microsecond)

	for _, attempt := range []struct{ index, attempt int }{{1, 1}, {0, 2}, {0, 1}} {
		step := &models.RunStep{
			ID:         uuid.New().String(),
			RunID:      run.ID,
			StepIndex:  attempt.index,
			ActionKind: models.ActionEmail,
			Status:     models.StepRunning,
			Attempt:    attempt.attempt,
			Input:      map[string]any{"to": "a@example.com"},
			StartedAt:  startedAt,
		}
		require.NoError(t, repo.Create(ctx, step))

		step.Status = models.StepSucceeded
		step.Output = map[string]any{"messageId": "m-1"}
		completedAt := startedAt.Add(time.Second)
		step.CompletedAt = &completedAt
		require.NoError(t, repo.Update(ctx, step))
	}

	steps, err := repo.ListByRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, []int{0, 0, 1}, []int{steps[0].StepIndex, steps[1].StepIndex, steps[2].StepIndex})
	assert.Equal(t, []int{1, 2, 1}, []int{steps[0].Attempt, steps[1].Attempt, steps[2].Attempt})
	assert.Equal(t, models.StepSucceeded, steps[0].Status)
	assert.Equal(t, "m-1", steps[0].Output["messageId"])

	missing := &models.RunStep{ID: uuid.New().String(), RunID: run.ID}
	require.ErrorIs(t, repo.Update(ctx, missing), persistence.ErrStepNotFound)
}

func testScheduleState(t *testing.T, store persistence.Persistence) {
	ctx := t.Context()
	repo := store.ScheduleStateRepository()

	_, err := repo.Get(ctx, "wf-1")
	require.ErrorIs(t, err, persistence.ErrScheduleStateNotFound)

	fired := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	state := &models.ScheduleState{
		WorkflowID:  "wf-1",
		LastFiredAt: &fired,
		NextFireAt:  fired.Add(24 * time.Hour),
		UpdatedAt:   fired,
	}
	require.NoError(t, repo.Save(ctx, state))

	loaded, err := repo.Get(ctx, "wf-1")
	require.NoError(t, err)
	assert.True(t, state.NextFireAt.Equal(loaded.NextFireAt))
	require.NotNil(t, loaded.LastFiredAt)
	assert.True(t, fired.Equal(*loaded.LastFiredAt))

	require.NoError(t, repo.Delete(ctx, "wf-1"))
	_, err = repo.Get(ctx, "wf-1")
	require.ErrorIs(t, err, persistence.ErrScheduleStateNotFound)
}
