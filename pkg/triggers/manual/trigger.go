// Package manual fires workflows on explicit invocation from the management
// API or from code embedding the engine.
package manual

import (
	"context"
	"log/slog"
	"sync"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/models"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/triggers"
	"github.com/jonboulle/clockwork"
)

type Evaluator struct {
	clock  clockwork.Clock
	logger *slog.Logger

	mu       sync.RWMutex
	callback triggers.Callback
}

func NewEvaluator(clock clockwork.Clock, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		clock:  clock,
		logger: logger.With("module", "manual_trigger"),
	}
}

// Configure is a no-op: any workflow may be run by hand, whatever its trigger.
func (e *Evaluator) Configure([]*models.Workflow) error {
	return nil
}

func (e *Evaluator) Start(_ context.Context, callback triggers.Callback) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.callback = callback

	return nil
}

func (e *Evaluator) Stop(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.callback = nil

	return nil
}

// Invoke fires workflowID with payload. A non-empty idempotency key makes
// repeated invocations within the dedupe window collapse into one run.
func (e *Evaluator) Invoke(ctx context.Context, workflowID string, payload map[string]any, idempotencyKey string) (models.Admission, error) {
	e.mu.RLock()
	callback := e.callback
	e.mu.RUnlock()

	if callback == nil {
		return models.Admission{}, triggers.ErrNotStarted
	}

	if payload == nil {
		payload = map[string]any{}
	}

	intent := models.FireIntent{
		WorkflowID:  workflowID,
		TriggerKind: models.TriggerManual,
		Payload:     payload,
		FiredAt:     e.clock.Now(),
		Source:      "manual",
	}

	if idempotencyKey != "" {
		intent.DedupeKey = "manual:" + idempotencyKey
	}

	e.logger.InfoContext(ctx, "Manual invocation", "workflow_id", workflowID, "idempotency_key", idempotencyKey)

	return callback(ctx, intent)
}
