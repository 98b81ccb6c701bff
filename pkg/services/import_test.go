package services

import (
	"testing"
	"time"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/models"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflow_Import(t *testing.T) {
	service, store, clock := newService(t)

	existing := testutil.NewWorkflow()
	existing.CreatedAt = clock.Now().Add(-48 * time.Hour)
	require.NoError(t, store.WorkflowRepository().Save(t.Context(), existing))

	replacement := testutil.NewWorkflow()
	replacement.ID = existing.ID
	replacement.Name = "Renamed workflow"

	fresh := testutil.NewWorkflow()
	fresh.ID = ""

	count, err := service.Import(t.Context(), []*models.Workflow{replacement, fresh})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	stored, err := store.WorkflowRepository().GetByID(t.Context(), existing.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed workflow", stored.Name)
	assert.True(t, stored.CreatedAt.Equal(existing.CreatedAt))

	assert.NotEmpty(t, fresh.ID)
}

func TestWorkflow_Import_StopsAtInvalid(t *testing.T) {
	service, store, _ := newService(t)

	valid := testutil.NewWorkflow()
	invalid := testutil.NewWorkflow(func(w *models.Workflow) { w.Name = "x" })

	count, err := service.Import(t.Context(), []*models.Workflow{valid, invalid})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
	assert.Equal(t, 1, count)

	all, err := store.WorkflowRepository().GetAll(t.Context())
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
