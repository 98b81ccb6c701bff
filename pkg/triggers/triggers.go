// Package triggers holds what the trigger evaluators share: the callback
// they fire intents through and the lifecycle the engine drives them with.
package triggers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/eventbus"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/events"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/models"
)

var ErrNotStarted = errors.New("trigger evaluator is not started")

// Callback hands a fire intent to the scheduler.
type Callback func(ctx context.Context, intent models.FireIntent) (models.Admission, error)

// Evaluator turns external stimuli into fire intents for the workflows it
// was configured with. Workflows of other trigger kinds are ignored.
type Evaluator interface {
	Configure(workflows []*models.Workflow) error
	Start(ctx context.Context, callback Callback) error
	Stop(ctx context.Context) error
}

// Rejection describes a stimulus that did not produce an intent.
type Rejection struct {
	Kind       models.TriggerKind
	WorkflowID string
	TenantID   string
	Source     string
	Reason     error
}

// Reject logs a refused stimulus and publishes it as trigger.rejected.
func Reject(ctx context.Context, publisher eventbus.EventPublisher, logger *slog.Logger, at time.Time, r Rejection) {
	logger.WarnContext(ctx, "Trigger rejected",
		"workflow_id", r.WorkflowID,
		"trigger_kind", r.Kind,
		"source", r.Source,
		"reason", r.Reason)

	if publisher == nil {
		return
	}

	base := events.NewBaseEvent(events.TriggerRejectedEvent, r.WorkflowID, at)
	base.TenantID = r.TenantID

	err := publisher.Publish(ctx, r.WorkflowID, &events.IntentEvent{
		BaseEvent:   base,
		TriggerKind: r.Kind,
		Source:      r.Source,
		Reason:      r.Reason.Error(),
	})
	if err != nil {
		logger.WarnContext(ctx, "Failed to publish rejection", "error", err)
	}
}

// Fire sends intent through callback and logs the outcome. Refusals by the
// scheduler are expected and logged at info.
func Fire(ctx context.Context, callback Callback, logger *slog.Logger, intent models.FireIntent) {
	admission, err := callback(ctx, intent)
	if err != nil {
		level := slog.LevelError
		if errors.Is(err, models.ErrTriggerRejected) || errors.Is(err, models.ErrRateLimitExceeded) {
			level = slog.LevelInfo
		}

		logger.Log(ctx, level, "Intent not admitted",
			"workflow_id", intent.WorkflowID,
			"dedupe_key", intent.DedupeKey,
			"error", err)

		return
	}

	logger.DebugContext(ctx, "Intent admitted",
		"workflow_id", intent.WorkflowID,
		"outcome", admission.Outcome,
		"run_id", admission.RunID)
}
