package executor_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/executor"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/models"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/persistence"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/persistence/file"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/registry"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/testutil"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	store    persistence.Persistence
	registry *registry.Registry
	clock    *clockwork.FakeClock
	executor *executor.Executor

	mu       sync.Mutex
	requests []registry.Request
}

func newHarness(t *testing.T, options executor.Options) *harness {
	t.Helper()

	h := &harness{
		store:    file.NewPersistence(t.TempDir()),
		registry: registry.NewRegistry(slog.Default()),
		clock:    clockwork.NewFakeClockAt(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)),
	}
	h.executor = executor.NewExecutor(h.store, h.registry, nil, nil, h.clock, slog.Default(), options)

	return h
}

// adapter registers fn for kind and records every request it receives.
func (h *harness) adapter(kind models.ActionKind, fn func(req registry.Request) (map[string]any, error)) {
	h.registry.Register(kind, registry.AdapterFunc(func(_ context.Context, req registry.Request) (map[string]any, error) {
		h.mu.Lock()
		h.requests = append(h.requests, req)
		h.mu.Unlock()

		return fn(req)
	}))
}

func (h *harness) calls() []registry.Request {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]registry.Request(nil), h.requests...)
}

func (h *harness) newRun(t *testing.T, actions []models.Action, overrides ...func(*models.WorkflowRun)) *models.WorkflowRun {
	t.Helper()

	workflow := testutil.NewWorkflow(testutil.WithActions(actions...), func(w *models.Workflow) {
		w.Constants = map[string]any{"phone": "+447700900001"}
	})

	run := testutil.NewRun(workflow, overrides...)
	require.NoError(t, h.store.RunRepository().Create(t.Context(), run))

	return run
}

func sms(name, message string, maxRetries int) models.Action {
	action := testutil.NewAction(&models.SMSConfig{To: "{{constants.phone}}", Message: message}, maxRetries, 5, 2)
	action.Name = name

	return action
}

func TestExecute_ChainsStepOutputs(t *testing.T) {
	h := newHarness(t, executor.Options{})
	h.adapter(models.ActionSMS, func(req registry.Request) (map[string]any, error) {
		config := req.Config.(*models.SMSConfig)

		return map[string]any{"echo": config.Message, "count": req.StepIndex + 1}, nil
	})

	run := h.newRun(t, []models.Action{
		sms("first", "Order {{trigger.source}}", 0),
		sms("second", "Prev={{steps.first.echo}} n={{steps.0.count}} wf={{workflow.id}}", 0),
	})

	result, err := h.executor.Execute(t.Context(), run)
	require.NoError(t, err)
	assert.Equal(t, models.RunSucceeded, result.Status)
	require.NotNil(t, result.CompletedAt)

	calls := h.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "Order test", calls[0].Config.(*models.SMSConfig).Message)
	assert.Equal(t, "+447700900001", calls[0].Config.(*models.SMSConfig).To)
	assert.Equal(t, "Prev=Order test n=1 wf="+run.WorkflowID, calls[1].Config.(*models.SMSConfig).Message)
	assert.Equal(t, executor.IdempotencyKey(run.ID, 1, 1), calls[1].IdempotencyKey)

	steps, err := h.store.StepRepository().ListByRun(t.Context(), run.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)

	for _, step := range steps {
		assert.Equal(t, models.StepSucceeded, step.Status)
		assert.Equal(t, 1, step.Attempt)
	}

	assert.Equal(t, float64(1), steps[0].Output["count"])

	stored, err := h.store.RunRepository().GetByID(t.Context(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"echo": "Prev=Order test n=1 wf=" + run.WorkflowID, "count": float64(2)}, stored.Output,
		"the run keeps its last step's output")
}

func TestExecute_RetriesTransientFailuresWithBackoff(t *testing.T) {
	h := newHarness(t, executor.Options{})

	failures := 2
	h.adapter(models.ActionSMS, func(registry.Request) (map[string]any, error) {
		if failures > 0 {
			failures--

			return nil, models.StatusError(503, errors.New("gateway unavailable"))
		}

		return map[string]any{"sent": true}, nil
	})

	run := h.newRun(t, []models.Action{sms("notify", "hello", 3)})

	done := make(chan *models.WorkflowRun, 1)

	go func() {
		result, err := h.executor.Execute(context.Background(), run)
		assert.NoError(t, err)
		done <- result
	}()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	for i, delay := range []time.Duration{5 * time.Second, 10 * time.Second} {
		require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
		require.Len(t, h.calls(), i+1)

		h.clock.Advance(delay - time.Millisecond)
		assert.Never(t, func() bool {
			return len(h.calls()) > i+1
		}, 50*time.Millisecond, 5*time.Millisecond, "attempt %d starts before its %s backoff ends", i+2, delay)

		h.clock.Advance(time.Millisecond)
	}

	result := <-done
	assert.Equal(t, models.RunSucceeded, result.Status)

	steps, err := h.store.StepRepository().ListByRun(t.Context(), run.ID)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, models.StepRetrying, steps[0].Status)
	assert.Equal(t, models.StepRetrying, steps[1].Status)
	assert.Equal(t, models.StepSucceeded, steps[2].Status)
	assert.Equal(t, 3, steps[2].Attempt)

	keys := map[string]bool{}
	for _, call := range h.calls() {
		keys[call.IdempotencyKey] = true
	}

	assert.Len(t, keys, 3, "every attempt has its own idempotency key")
}

func TestExecute_PermanentFailureStopsRun(t *testing.T) {
	h := newHarness(t, executor.Options{})
	h.adapter(models.ActionSMS, func(req registry.Request) (map[string]any, error) {
		return nil, models.StatusError(422, errors.New("invalid number"))
	})

	run := h.newRun(t, []models.Action{sms("a", "one", 3), sms("b", "two", 3)})

	result, err := h.executor.Execute(t.Context(), run)
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, result.Status)
	require.NotNil(t, result.Failure)
	assert.Equal(t, 0, result.Failure.StepIndex)
	assert.Equal(t, 1, result.Failure.Attempt)
	assert.Equal(t, models.CodeActionFailed, result.Failure.Code)
	assert.Equal(t, models.ActionSMS, result.Failure.ActionKind)
	assert.Len(t, h.calls(), 1, "no retries and no later steps")
}

func TestExecute_ExhaustedRetriesFailRun(t *testing.T) {
	h := newHarness(t, executor.Options{})
	h.adapter(models.ActionSMS, func(registry.Request) (map[string]any, error) {
		return nil, errors.New("connection reset")
	})

	run := h.newRun(t, []models.Action{sms("a", "one", 1)})

	done := make(chan *models.WorkflowRun, 1)

	go func() {
		result, _ := h.executor.Execute(context.Background(), run)
		done <- result
	}()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
	h.clock.Advance(5 * time.Second)

	result := <-done
	require.NotNil(t, result)
	assert.Equal(t, models.RunFailed, result.Status)
	assert.Equal(t, models.CodeTransientFailure, result.Failure.Code)
	assert.Equal(t, 2, result.Failure.Attempt)
}

func TestExecute_UnresolvedPlaceholderIsConfigurationError(t *testing.T) {
	h := newHarness(t, executor.Options{})
	h.adapter(models.ActionSMS, func(registry.Request) (map[string]any, error) {
		return map[string]any{}, nil
	})

	run := h.newRun(t, []models.Action{sms("a", "Hi {{trigger.body.name}}", 3)})

	result, err := h.executor.Execute(t.Context(), run)
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, result.Status)
	assert.Equal(t, models.CodeConfigurationError, result.Failure.Code)
	assert.Contains(t, result.Failure.Message, "trigger.body.name")
	assert.Empty(t, h.calls(), "adapter is never invoked")
}

func TestExecute_MissingAdapterIsConfigurationError(t *testing.T) {
	h := newHarness(t, executor.Options{})

	run := h.newRun(t, []models.Action{sms("a", "hi", 3)})

	result, err := h.executor.Execute(t.Context(), run)
	require.NoError(t, err)
	assert.Equal(t, models.CodeConfigurationError, result.Failure.Code)
}

func TestExecute_TimeoutIsRetryable(t *testing.T) {
	h := newHarness(t, executor.Options{StepTimeout: 50 * time.Millisecond})
	h.adapter(models.ActionSMS, func(registry.Request) (map[string]any, error) {
		time.Sleep(200 * time.Millisecond)

		return nil, context.DeadlineExceeded
	})

	run := h.newRun(t, []models.Action{sms("a", "hi", 0)})

	result, err := h.executor.Execute(t.Context(), run)
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, result.Status)
	assert.Equal(t, models.CodeTransientFailure, result.Failure.Code)
	assert.Contains(t, result.Failure.Message, "timed out")
}

func TestExecute_CancelAtStepBoundary(t *testing.T) {
	h := newHarness(t, executor.Options{})

	var run *models.WorkflowRun

	h.adapter(models.ActionSMS, func(req registry.Request) (map[string]any, error) {
		if req.StepIndex == 0 {
			_, err := h.store.RunRepository().RequestCancel(context.Background(), run.ID)
			require.NoError(t, err)
		}

		return map[string]any{"ok": true}, nil
	})

	run = h.newRun(t, []models.Action{sms("a", "one", 0), sms("b", "two", 0)})

	result, err := h.executor.Execute(t.Context(), run)
	require.NoError(t, err)
	assert.Equal(t, models.RunCancelled, result.Status)
	assert.Len(t, h.calls(), 1, "the in-flight step completes, the next never starts")

	steps, err := h.store.StepRepository().ListByRun(t.Context(), run.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, models.StepSucceeded, steps[0].Status)
}

func TestExecute_SkipsRunCancelledWhilePending(t *testing.T) {
	h := newHarness(t, executor.Options{})
	h.adapter(models.ActionSMS, func(registry.Request) (map[string]any, error) {
		return map[string]any{}, nil
	})

	run := h.newRun(t, []models.Action{sms("a", "one", 0)})

	_, err := h.store.RunRepository().UpdateStatus(t.Context(), run.ID,
		[]models.RunStatus{models.RunPending}, models.RunChange{Status: models.RunCancelled})
	require.NoError(t, err)

	result, err := h.executor.Execute(t.Context(), run)
	require.NoError(t, err)
	assert.Equal(t, models.RunCancelled, result.Status)
	assert.Empty(t, h.calls())
}

func TestExecute_ResumesAfterLastSucceededStep(t *testing.T) {
	h := newHarness(t, executor.Options{})
	h.adapter(models.ActionSMS, func(req registry.Request) (map[string]any, error) {
		return map[string]any{"message": req.Config.(*models.SMSConfig).Message}, nil
	})

	started := h.clock.Now()
	run := h.newRun(t, []models.Action{sms("a", "one", 2), sms("b", "after {{steps.a.message}}", 2)},
		func(r *models.WorkflowRun) {
			r.Status = models.RunRunning
			r.StartedAt = &started
		})

	ctx := t.Context()
	steps := h.store.StepRepository()

	require.NoError(t, steps.Create(ctx, &models.RunStep{
		ID: "s0", RunID: run.ID, StepIndex: 0, ActionKind: models.ActionSMS,
		Status: models.StepSucceeded, Attempt: 1, Output: map[string]any{"message": "one"}, StartedAt: started,
	}))
	require.NoError(t, steps.Create(ctx, &models.RunStep{
		ID: "s1", RunID: run.ID, StepIndex: 1, ActionKind: models.ActionSMS,
		Status: models.StepRunning, Attempt: 1, StartedAt: started,
	}))

	result, err := h.executor.Execute(ctx, run)
	require.NoError(t, err)
	assert.Equal(t, models.RunSucceeded, result.Status)

	calls := h.calls()
	require.Len(t, calls, 1, "step 0 is not repeated")
	assert.Equal(t, 1, calls[0].StepIndex)
	assert.Equal(t, 2, calls[0].Attempt, "the interrupted attempt counts")
	assert.Equal(t, "after one", calls[0].Config.(*models.SMSConfig).Message)

	recorded, err := steps.ListByRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, recorded, 3)
	assert.Equal(t, models.StepFailed, recorded[1].Status)
	assert.Contains(t, recorded[1].ErrorMessage, "interrupted")
}

func TestExecute_ShutdownLeavesRunForRecovery(t *testing.T) {
	h := newHarness(t, executor.Options{})

	ctx, cancel := context.WithCancel(t.Context())

	h.adapter(models.ActionSMS, func(registry.Request) (map[string]any, error) {
		cancel()

		return nil, context.Canceled
	})

	run := h.newRun(t, []models.Action{sms("a", "one", 3)})

	_, err := h.executor.Execute(ctx, run)
	require.ErrorIs(t, err, context.Canceled)

	stored, err := h.store.RunRepository().GetByID(t.Context(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunRunning, stored.Status)
}

func TestFailInterrupted(t *testing.T) {
	h := newHarness(t, executor.Options{})

	run := h.newRun(t, []models.Action{sms("a", "one", 0)}, func(r *models.WorkflowRun) {
		r.Status = models.RunRunning
	})

	result, err := h.executor.FailInterrupted(t.Context(), run)
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, result.Status)
	assert.Equal(t, models.CodeInterruptedExecution, result.Failure.Code)

	again, err := h.executor.FailInterrupted(t.Context(), run)
	require.NoError(t, err, "a second finalizer loses quietly")
	assert.Equal(t, result.CompletedAt, again.CompletedAt)
}
