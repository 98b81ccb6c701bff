// Package executor runs the steps of an admitted workflow run in order,
// applying each action's retry policy and recording every attempt.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/eventbus"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/events"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/models"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/otelhelper"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/persistence"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/registry"
	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultStepTimeout   = 300 * time.Second
	DefaultMaxRetryDelay = 10 * time.Minute
)

// interruptedMessage closes attempt rows orphaned by a process restart.
const interruptedMessage = "interrupted: engine stopped during attempt"

type Options struct {
	StepTimeout   time.Duration
	MaxRetryDelay time.Duration
}

type Executor struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	publisher   eventbus.EventPublisher
	tracer      trace.Tracer
	clock       clockwork.Clock
	validate    *validator.Validate
	logger      *slog.Logger
	options     Options
}

func NewExecutor(
	persistence persistence.Persistence,
	registry *registry.Registry,
	publisher eventbus.EventPublisher,
	tracer trace.Tracer,
	clock clockwork.Clock,
	logger *slog.Logger,
	options Options,
) *Executor {
	if options.StepTimeout <= 0 {
		options.StepTimeout = DefaultStepTimeout
	}

	if options.MaxRetryDelay <= 0 {
		options.MaxRetryDelay = DefaultMaxRetryDelay
	}

	if publisher == nil {
		publisher = eventbus.Discard{}
	}

	if tracer == nil {
		tracer = otelhelper.NoopTracer()
	}

	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Executor{
		persistence: persistence,
		registry:    registry,
		publisher:   publisher,
		tracer:      tracer,
		clock:       clock,
		validate:    models.NewValidator(),
		logger:      logger.With("module", "executor"),
		options:     options,
	}
}

// Execute drives run to a terminal state. A pending run is started; a running
// run is resumed after the last succeeded step. When ctx is cancelled the run
// is left running so recovery can pick it up, and ctx.Err() is returned.
func (e *Executor) Execute(ctx context.Context, run *models.WorkflowRun) (*models.WorkflowRun, error) {
	logger := e.logger.With("workflow_id", run.WorkflowID, "run_id", run.ID)

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.run",
		attribute.String(otelhelper.WorkflowIDKey, run.WorkflowID),
		attribute.String(otelhelper.TenantIDKey, run.TenantID),
		attribute.String(otelhelper.RunIDKey, run.ID),
		attribute.String(otelhelper.TriggerKindKey, string(run.TriggerKind)),
	)
	defer span.End()

	run, started, err := e.start(ctx, run)
	if err != nil {
		otelhelper.SetError(span, err, "")

		return nil, err
	}

	if !started {
		logger.InfoContext(ctx, "Run is no longer startable, skipping", "status", run.Status)

		return run, nil
	}

	scope, next, usedAttempts, err := e.restore(ctx, run)
	if err != nil {
		otelhelper.SetError(span, err, "")

		return nil, err
	}

	logger.InfoContext(ctx, "Executing run", "from_step", next, "steps", len(run.Actions))

	for index := next; index < len(run.Actions); index++ {
		if err := ctx.Err(); err != nil {
			return run, err
		}

		cancelled, err := e.cancelRequested(ctx, run.ID)
		if err != nil {
			return nil, err
		}

		if cancelled {
			return e.finalizeCancelled(ctx, run)
		}

		priorAttempts := 0
		if index == next {
			priorAttempts = usedAttempts
		}

		output, err := e.runStep(ctx, run, index, scope, priorAttempts)
		if err != nil {
			var stepErr *models.StepError

			switch {
			case ctx.Err() != nil:
				logger.WarnContext(ctx, "Run interrupted by shutdown", "step_index", index)

				return run, ctx.Err()
			case errors.Is(err, models.ErrRunCancelled):
				return e.finalizeCancelled(ctx, run)
			case errors.As(err, &stepErr):
				otelhelper.SetError(span, err, string(models.CodeOf(stepErr.Err)))

				return e.finalizeFailed(ctx, run, stepErr)
			default:
				otelhelper.SetError(span, err, "")

				return nil, err
			}
		}

		setStepOutput(scope, index, run.Actions[index].Name, output)
	}

	return e.finalizeSucceeded(ctx, run, lastOutput(scope, run))
}

// start moves a pending run to running. It reports false when the run was
// cancelled or finished by someone else in the meantime.
func (e *Executor) start(ctx context.Context, run *models.WorkflowRun) (*models.WorkflowRun, bool, error) {
	if run.Status == models.RunRunning {
		return run, true, nil
	}

	now := e.clock.Now()

	updated, err := e.persistence.RunRepository().UpdateStatus(ctx, run.ID,
		[]models.RunStatus{models.RunPending},
		models.RunChange{Status: models.RunRunning, StartedAt: &now},
	)
	if err != nil {
		if persistence.IsInvalidTransition(err) {
			return updated, false, nil
		}

		return nil, false, fmt.Errorf("failed to start run %s: %w", run.ID, err)
	}

	e.publish(ctx, run.WorkflowID, &events.RunEvent{
		BaseEvent: e.baseEvent(events.RunStartedEvent, run),
		RunID:     run.ID,
		Status:    models.RunRunning,
	})

	return updated, true, nil
}

// restore rebuilds the run context from previously recorded attempts and
// returns the next step to execute and the attempts it has already used.
// Attempt rows left mid-flight by a crash are closed as failed.
func (e *Executor) restore(ctx context.Context, run *models.WorkflowRun) (map[string]any, int, int, error) {
	scope := NewScope(run)

	steps, err := e.persistence.StepRepository().ListByRun(ctx, run.ID)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to load steps of run %s: %w", run.ID, err)
	}

	next := 0

	for _, step := range steps {
		if step.Status == models.StepSucceeded && step.StepIndex >= next {
			setStepOutput(scope, step.StepIndex, actionName(run, step.StepIndex), step.Output)
			next = step.StepIndex + 1
		}
	}

	used := 0

	for _, step := range steps {
		if step.StepIndex != next {
			continue
		}

		used = max(used, step.Attempt)

		if step.Status == models.StepPending || step.Status == models.StepRunning {
			now := e.clock.Now()
			step.Status = models.StepFailed
			step.ErrorMessage = interruptedMessage
			step.CompletedAt = &now

			if err := e.persistence.StepRepository().Update(ctx, step); err != nil {
				return nil, 0, 0, fmt.Errorf("failed to close interrupted attempt: %w", err)
			}
		}
	}

	return scope, next, used, nil
}

func (e *Executor) cancelRequested(ctx context.Context, runID string) (bool, error) {
	current, err := e.persistence.RunRepository().GetByID(ctx, runID)
	if err != nil {
		return false, fmt.Errorf("failed to reload run %s: %w", runID, err)
	}

	return current.CancelRequested || current.Status == models.RunCancelled, nil
}

// NewScope returns the placeholder scope of run before any step has executed.
func NewScope(run *models.WorkflowRun) map[string]any {
	trigger := run.TriggerPayload
	if trigger == nil {
		trigger = map[string]any{}
	}

	constants := run.Constants
	if constants == nil {
		constants = map[string]any{}
	}

	return map[string]any{
		models.RootTrigger:   trigger,
		models.RootSteps:     map[string]any{},
		models.RootConstants: constants,
		models.RootWorkflow: map[string]any{
			"id":       run.WorkflowID,
			"name":     run.WorkflowName,
			"tenantId": run.TenantID,
		},
		models.RootRun: map[string]any{
			"id":        run.ID,
			"createdAt": run.CreatedAt.UTC().Format(time.RFC3339),
		},
	}
}

func setStepOutput(scope map[string]any, index int, name string, output map[string]any) {
	steps := scope[models.RootSteps].(map[string]any)
	steps[strconv.Itoa(index)] = output

	if name != "" {
		steps[name] = output
	}
}

// lastOutput returns the output of the run's final step, or an empty object
// for a run without steps.
func lastOutput(scope map[string]any, run *models.WorkflowRun) map[string]any {
	steps := scope[models.RootSteps].(map[string]any)

	if output, ok := steps[strconv.Itoa(len(run.Actions)-1)].(map[string]any); ok && output != nil {
		return output
	}

	return map[string]any{}
}

func actionName(run *models.WorkflowRun, index int) string {
	if index < len(run.Actions) {
		return run.Actions[index].Name
	}

	return ""
}

// normalize gives live outputs the same shape they have after a reload from
// the store, so placeholders resolve identically on resume.
func normalize(output map[string]any) (map[string]any, error) {
	if output == nil {
		return map[string]any{}, nil
	}

	encoded, err := json.Marshal(output)
	if err != nil {
		return nil, err
	}

	var out map[string]any
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil, err
	}

	return out, nil
}

func (e *Executor) baseEvent(eventType events.EventType, run *models.WorkflowRun) events.BaseEvent {
	base := events.NewBaseEvent(eventType, run.WorkflowID, e.clock.Now())
	base.TenantID = run.TenantID

	return base
}

func (e *Executor) publish(ctx context.Context, key string, event events.Event) {
	if err := e.publisher.Publish(ctx, key, event); err != nil {
		e.logger.WarnContext(ctx, "Failed to publish event", "type", event.GetType(), "error", err)
	}
}
