package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/models"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeWorkflow(t *testing.T, workflow any) string {
	t.Helper()

	raw, err := json.Marshal(workflow)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "workflow.json")
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	return path
}

func TestValidateFile(t *testing.T) {
	valid := writeWorkflow(t, testutil.NewWorkflow())
	assert.NoError(t, validateFile(valid))

	invalid := writeWorkflow(t, testutil.NewWorkflow(func(w *models.Workflow) { w.Actions = nil }))
	assert.Error(t, validateFile(invalid))

	garbage := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(garbage, []byte("{"), 0o600))
	assert.ErrorContains(t, validateFile(garbage), "failed to parse")
}

func TestBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, brokers(" a:9092, ,b:9092"))
	assert.Empty(t, brokers(""))
}
