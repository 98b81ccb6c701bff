package record_test

import (
	"testing"
	"time"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/actions/database"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/actions/record"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/models"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/registry"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordID_StableAcrossAttempts(t *testing.T) {
	t.Parallel()

	assert.Equal(t, record.RecordID("run-1", 2), record.RecordID("run-1", 2))
	assert.NotEqual(t, record.RecordID("run-1", 2), record.RecordID("run-1", 3))
	assert.NotEqual(t, record.RecordID("run-1", 2), record.RecordID("run-2", 2))
}

func TestColumns(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	config := &models.CreateRecordConfig{
		RecordType: "project",
		Name:       "North Tower",
		ClientID:   "client-7",
		Fields:     map[string]any{"budget": 250000.0},
	}

	columns := record.Columns("id-1", "tenant-1", config, clockwork.NewFakeClockAt(now))

	assert.Equal(t, map[string]any{
		"id":         "id-1",
		"tenant_id":  "tenant-1",
		"name":       "North Tower",
		"client_id":  "client-7",
		"budget":     250000.0,
		"created_at": now,
	}, columns)
	assert.NotContains(t, config.Fields, "id", "config fields are not mutated")
}

func TestAdapter_UnsupportedRecordType(t *testing.T) {
	t.Parallel()

	adapter := record.NewAdapter(database.NewAdapter(nil), nil)

	_, err := adapter.Execute(t.Context(), registry.Request{
		Config: &models.CreateRecordConfig{RecordType: "invoice", Name: "x"},
	})
	require.ErrorIs(t, err, models.ErrConfiguration)
}
