package registry

import (
	"context"
	"log/slog"
	"testing"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry(slog.Default())

	r.Register(models.ActionSMS, AdapterFunc(func(_ context.Context, req Request) (map[string]any, error) {
		return map[string]any{"key": req.IdempotencyKey}, nil
	}))

	adapter, err := r.Get(models.ActionSMS)
	require.NoError(t, err)

	out, err := adapter.Execute(t.Context(), Request{IdempotencyKey: "run-1:0:1"})
	require.NoError(t, err)
	assert.Equal(t, "run-1:0:1", out["key"])

	assert.Equal(t, []models.ActionKind{models.ActionSMS}, r.Kinds())
}

func TestRegistry_MissingAdapterIsConfigurationError(t *testing.T) {
	r := NewRegistry(slog.Default())

	_, err := r.Get(models.ActionEmail)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAdapterNotRegistered)
	assert.ErrorIs(t, err, models.ErrConfiguration)
	assert.False(t, models.IsRetryable(err))
}

func TestRegistry_HealthCheck(t *testing.T) {
	r := NewRegistry(slog.Default())

	_, ok := r.HealthCheck()
	assert.False(t, ok)

	r.Register(models.ActionEmail, AdapterFunc(func(context.Context, Request) (map[string]any, error) {
		return nil, nil
	}))

	message, ok := r.HealthCheck()
	assert.True(t, ok)
	assert.Equal(t, "1 action adapters registered", message)
}
