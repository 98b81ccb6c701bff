package services

import (
	"testing"
	"time"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/models"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/persistence/file"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_FetchByID(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	service := NewRun(store)

	workflow := testutil.NewWorkflow()
	require.NoError(t, store.WorkflowRepository().Save(t.Context(), workflow))

	run := testutil.NewRun(workflow)
	require.NoError(t, store.RunRepository().Create(t.Context(), run))

	detail, err := service.FetchByID(t.Context(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, detail.ID)
	assert.Empty(t, detail.Steps)

	require.NoError(t, store.StepRepository().Create(t.Context(), &models.RunStep{
		ID:         run.ID + "-0-1",
		RunID:      run.ID,
		StepIndex:  0,
		ActionKind: models.ActionEmail,
		Status:     models.StepSucceeded,
		Attempt:    1,
		StartedAt:  time.Now().UTC(),
	}))

	detail, err = service.FetchByID(t.Context(), run.ID)
	require.NoError(t, err)
	require.Len(t, detail.Steps, 1)
	assert.Equal(t, models.StepSucceeded, detail.Steps[0].Status)

	_, err = service.FetchByID(t.Context(), "missing")
	assert.True(t, IsNotFoundError(err))
}

func TestRun_ListByWorkflow(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	service := NewRun(store)

	workflow := testutil.NewWorkflow()
	require.NoError(t, store.WorkflowRepository().Save(t.Context(), workflow))

	for i := 0; i < 3; i++ {
		run := testutil.NewRun(workflow, func(r *models.WorkflowRun) {
			r.CreatedAt = r.CreatedAt.Add(time.Duration(i) * time.Minute)
		})
		require.NoError(t, store.RunRepository().Create(t.Context(), run))
	}

	runs, err := service.ListByWorkflow(t.Context(), workflow.ID, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.True(t, runs[0].CreatedAt.After(runs[1].CreatedAt))

	_, err = service.ListByWorkflow(t.Context(), "missing", 0)
	assert.True(t, IsNotFoundError(err))
}
