package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/events"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/models"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/otelhelper"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/registry"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/template"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// IdempotencyKey identifies one attempt of one step of one run.
func IdempotencyKey(runID string, stepIndex, attempt int) string {
	return fmt.Sprintf("%s:%d:%d", runID, stepIndex, attempt)
}

// runStep executes step index until it succeeds, fails terminally or runs
// out of attempts. priorAttempts counts attempts made before a restart.
func (e *Executor) runStep(
	ctx context.Context,
	run *models.WorkflowRun,
	index int,
	scope map[string]any,
	priorAttempts int,
) (map[string]any, error) {
	action := run.Actions[index]
	policy := action.Retry()
	maxAttempts := policy.MaxAttempts()

	if priorAttempts >= maxAttempts {
		return nil, &models.StepError{
			StepIndex:  index,
			ActionKind: action.Kind,
			Attempt:    priorAttempts,
			Err:        fmt.Errorf("%w: attempts exhausted before restart", models.ErrInterruptedExecution),
		}
	}

	for attempt := priorAttempts + 1; ; attempt++ {
		output, err := e.attempt(ctx, run, index, attempt, maxAttempts, scope)
		if err == nil {
			return output, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var stepErr *models.StepError
		if !errors.As(err, &stepErr) {
			return nil, err
		}

		if !models.IsRetryable(stepErr.Err) || attempt >= maxAttempts {
			return nil, stepErr
		}

		delay := policy.Delay(attempt, e.options.MaxRetryDelay)

		e.logger.InfoContext(ctx, "Retrying step",
			"run_id", run.ID, "step_index", index, "attempt", attempt, "delay", delay, "error", stepErr.Err)

		e.publish(ctx, run.WorkflowID, &events.StepEvent{
			BaseEvent:  e.baseEvent(events.StepRetryingEvent, run),
			RunID:      run.ID,
			StepIndex:  index,
			ActionKind: action.Kind,
			Attempt:    attempt,
			Status:     models.StepRetrying,
			Error:      stepErr.Err.Error(),
			RetryIn:    delay,
		})

		if err := e.sleep(ctx, delay); err != nil {
			return nil, err
		}

		cancelled, err := e.cancelRequested(ctx, run.ID)
		if err != nil {
			return nil, err
		}

		if cancelled {
			return nil, models.ErrRunCancelled
		}
	}
}

func (e *Executor) sleep(ctx context.Context, delay time.Duration) error {
	timer := e.clock.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.Chan():
		return nil
	}
}

// attempt performs one attempt and records it. Action failures are returned
// as *models.StepError; anything else is an infrastructure error.
func (e *Executor) attempt(
	ctx context.Context,
	run *models.WorkflowRun,
	index, attempt, maxAttempts int,
	scope map[string]any,
) (map[string]any, error) {
	action := run.Actions[index]

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.step",
		attribute.String(otelhelper.RunIDKey, run.ID),
		attribute.Int(otelhelper.StepIndexKey, index),
		attribute.String(otelhelper.ActionKindKey, string(action.Kind)),
		attribute.Int(otelhelper.AttemptKey, attempt),
	)
	defer span.End()

	steps := e.persistence.StepRepository()

	step := &models.RunStep{
		ID:         uuid.NewString(),
		RunID:      run.ID,
		StepIndex:  index,
		ActionKind: action.Kind,
		Status:     models.StepPending,
		Attempt:    attempt,
		StartedAt:  e.clock.Now(),
	}

	if err := steps.Create(ctx, step); err != nil {
		return nil, fmt.Errorf("failed to record attempt: %w", err)
	}

	request, input, err := e.prepare(run, index, attempt, scope)
	step.Input = input

	var output map[string]any

	if err == nil {
		step.Status = models.StepRunning
		if updateErr := steps.Update(ctx, step); updateErr != nil {
			return nil, fmt.Errorf("failed to record attempt: %w", updateErr)
		}

		output, err = e.invoke(ctx, action, request)
	}

	if err != nil && ctx.Err() != nil {
		// shutdown: the row stays running and is closed by recovery
		return nil, ctx.Err()
	}

	now := e.clock.Now()
	step.CompletedAt = &now

	if err == nil {
		output, err = normalize(output)
		if err != nil {
			err = models.Permanent(fmt.Errorf("action output is not serialisable: %w", err))
		}
	}

	if err != nil {
		step.ErrorMessage = err.Error()
		step.Status = models.StepFailed

		if models.IsRetryable(err) && attempt < maxAttempts {
			step.Status = models.StepRetrying
		}
	} else {
		step.Status = models.StepSucceeded
		step.Output = output
	}

	if updateErr := steps.Update(ctx, step); updateErr != nil {
		return nil, fmt.Errorf("failed to record attempt: %w", updateErr)
	}

	if err != nil {
		code := models.CodeOf(err)
		otelhelper.SetError(span, err, string(code))

		e.logger.WarnContext(ctx, "Step attempt failed",
			"run_id", run.ID, "step_index", index, "attempt", attempt, "code", code, "error", err)

		if step.Status == models.StepFailed {
			e.publish(ctx, run.WorkflowID, &events.StepEvent{
				BaseEvent:  e.baseEvent(events.StepFailedEvent, run),
				RunID:      run.ID,
				StepIndex:  index,
				ActionKind: action.Kind,
				Attempt:    attempt,
				Status:     models.StepFailed,
				Error:      err.Error(),
			})
		}

		return nil, &models.StepError{StepIndex: index, ActionKind: action.Kind, Attempt: attempt, Err: err}
	}

	e.publish(ctx, run.WorkflowID, &events.StepEvent{
		BaseEvent:  e.baseEvent(events.StepSucceededEvent, run),
		RunID:      run.ID,
		StepIndex:  index,
		ActionKind: action.Kind,
		Attempt:    attempt,
		Status:     models.StepSucceeded,
	})

	return output, nil
}

// prepare resolves the action's placeholders against scope and rebuilds a
// typed, validated configuration. Every failure is a configuration error.
func (e *Executor) prepare(
	run *models.WorkflowRun,
	index, attempt int,
	scope map[string]any,
) (registry.Request, map[string]any, error) {
	action := run.Actions[index]

	raw, err := models.ConfigMap(action.Config)
	if err != nil {
		return registry.Request{}, nil, models.ConfigurationError(err)
	}

	resolved, err := template.Resolve(raw, scope)
	if err != nil {
		return registry.Request{}, raw, models.ConfigurationError(err)
	}

	input, _ := resolved.(map[string]any)

	config, err := models.DecodeConfig(action.Kind, input)
	if err != nil {
		return registry.Request{}, input, models.ConfigurationError(fmt.Errorf("resolved config: %w", err))
	}

	if err := e.validate.Struct(config); err != nil {
		return registry.Request{}, input, models.ConfigurationError(fmt.Errorf("resolved config: %w", err))
	}

	return registry.Request{
		RunID:          run.ID,
		WorkflowID:     run.WorkflowID,
		TenantID:       run.TenantID,
		StepIndex:      index,
		Attempt:        attempt,
		IdempotencyKey: IdempotencyKey(run.ID, index, attempt),
		Config:         config,
	}, input, nil
}

func (e *Executor) invoke(ctx context.Context, action models.Action, request registry.Request) (map[string]any, error) {
	adapter, err := e.registry.Get(action.Kind)
	if err != nil {
		return nil, err
	}

	timeout := action.Timeout(e.options.StepTimeout)

	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	output, err := adapter.Execute(stepCtx, request)
	if err != nil && ctx.Err() == nil && errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("step timed out after %s: %w", timeout, context.DeadlineExceeded)
	}

	return output, err
}
