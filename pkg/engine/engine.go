// Package engine wires trigger evaluators, the run scheduler and the step
// executor into one automation engine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/dedupe"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/eventbus"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/events"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/executor"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/models"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/persistence"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/ratelimit"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/registry"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/scheduler"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/triggers"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/triggers/dbchange"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/triggers/manual"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/triggers/schedule"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/triggers/useraction"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/triggers/webhook"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/trace"
)

type Options struct {
	Scheduler scheduler.Options
	Executor  executor.Options
}

// Dependencies are the pluggable stores and transports of an engine. Bus may
// be nil, in which case lifecycle events are dropped and inbound events are
// handled in process.
type Dependencies struct {
	Persistence persistence.Persistence
	Registry    *registry.Registry
	Limiter     ratelimit.Limiter
	Dedupe      dedupe.Store
	Bus         eventbus.EventBus
	Tracer      trace.Tracer
	Clock       clockwork.Clock
	Logger      *slog.Logger
}

type Engine struct {
	persistence persistence.Persistence
	bus         eventbus.EventBus
	logger      *slog.Logger

	scheduler  *scheduler.Scheduler
	schedule   *schedule.Evaluator
	webhook    *webhook.Evaluator
	dbchange   *dbchange.Evaluator
	useraction *useraction.Evaluator
	manual     *manual.Evaluator
	evaluators []triggers.Evaluator

	reloadMu sync.Mutex
}

func New(deps Dependencies, options Options) *Engine {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}

	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	var publisher eventbus.EventPublisher = eventbus.Discard{}
	if deps.Bus != nil {
		publisher = deps.Bus
	}

	runner := executor.NewExecutor(
		deps.Persistence,
		deps.Registry,
		publisher,
		deps.Tracer,
		deps.Clock,
		deps.Logger,
		options.Executor,
	)

	e := &Engine{
		persistence: deps.Persistence,
		bus:         deps.Bus,
		logger:      deps.Logger.With("module", "engine"),
		scheduler: scheduler.NewScheduler(
			deps.Persistence,
			deps.Limiter,
			deps.Dedupe,
			runner,
			publisher,
			deps.Clock,
			deps.Logger,
			options.Scheduler,
		),
		schedule:   schedule.NewEvaluator(deps.Persistence.ScheduleStateRepository(), publisher, deps.Clock, deps.Logger),
		webhook:    webhook.NewEvaluator(publisher, deps.Clock, deps.Logger),
		dbchange:   dbchange.NewEvaluator(publisher, deps.Clock, deps.Logger),
		useraction: useraction.NewEvaluator(publisher, deps.Clock, deps.Logger),
		manual:     manual.NewEvaluator(deps.Clock, deps.Logger),
	}

	e.evaluators = []triggers.Evaluator{e.schedule, e.webhook, e.dbchange, e.useraction, e.manual}

	return e
}

// Start loads the workflow set, recovers unfinished runs and starts every
// trigger evaluator.
func (e *Engine) Start(ctx context.Context) error {
	e.scheduler.Start(ctx)

	if err := e.Reload(ctx); err != nil {
		return err
	}

	if err := e.scheduler.Recover(ctx); err != nil {
		return fmt.Errorf("failed to recover runs: %w", err)
	}

	for _, evaluator := range e.evaluators {
		if err := evaluator.Start(ctx, e.scheduler.Admit); err != nil {
			return fmt.Errorf("failed to start trigger evaluator: %w", err)
		}
	}

	if e.bus == nil {
		return nil
	}

	if err := e.bus.Handle(events.DatabaseChangeEvent, e.dbchange.Handle); err != nil {
		return err
	}

	if err := e.bus.Handle(events.UserActionEvent, e.useraction.Handle); err != nil {
		return err
	}

	if err := e.bus.Subscribe(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to inbound events: %w", err)
	}

	e.logger.InfoContext(ctx, "Automation engine started")

	return nil
}

// Stop stops the evaluators so no new intents arrive, then waits for
// in-flight runs until ctx is done.
func (e *Engine) Stop(ctx context.Context) error {
	var errs []error

	for _, evaluator := range e.evaluators {
		errs = append(errs, evaluator.Stop(ctx))
	}

	errs = append(errs, e.scheduler.Stop(ctx))

	e.logger.InfoContext(ctx, "Automation engine stopped")

	return errors.Join(errs...)
}

// Reload reconfigures every evaluator from the stored workflows.
func (e *Engine) Reload(ctx context.Context) error {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	workflows, err := e.persistence.WorkflowRepository().GetAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load workflows: %w", err)
	}

	var errs []error

	for _, evaluator := range e.evaluators {
		if err := evaluator.Configure(workflows); err != nil {
			errs = append(errs, err)
		}
	}

	e.logger.DebugContext(ctx, "Trigger configuration reloaded", "workflows", len(workflows))

	return errors.Join(errs...)
}

// OnWorkflowChange reloads after a workflow write, logging failures.
func (e *Engine) OnWorkflowChange(ctx context.Context) {
	if err := e.Reload(ctx); err != nil {
		e.logger.ErrorContext(ctx, "Failed to reload triggers", "error", err)
	}
}

func (e *Engine) ReceiveWebhook(ctx context.Context, req webhook.Request) (models.Admission, error) {
	return e.webhook.Receive(ctx, req)
}

func (e *Engine) Invoke(
	ctx context.Context,
	workflowID string,
	payload map[string]any,
	idempotencyKey string,
) (models.Admission, error) {
	return e.manual.Invoke(ctx, workflowID, payload, idempotencyKey)
}

func (e *Engine) Cancel(ctx context.Context, runID string) (*models.WorkflowRun, error) {
	return e.scheduler.Cancel(ctx, runID)
}

// Ingest accepts an inbound domain event. With a bus it is published so any
// engine instance may evaluate it; without one it is evaluated in process.
func (e *Engine) Ingest(ctx context.Context, event events.Event) error {
	if e.bus != nil {
		return e.bus.Publish(ctx, ingestKey(event), event)
	}

	switch event.GetType() {
	case events.DatabaseChangeEvent:
		return e.dbchange.Handle(ctx, event)
	case events.UserActionEvent:
		return e.useraction.Handle(ctx, event)
	default:
		return fmt.Errorf("unsupported inbound event type %q", event.GetType())
	}
}

func (e *Engine) InFlight() int {
	return e.scheduler.InFlight()
}

func ingestKey(event events.Event) string {
	switch ev := event.(type) {
	case *events.DatabaseChange:
		return ev.TenantID + ":" + ev.Table
	case *events.UserAction:
		return ev.TenantID + ":" + ev.Action
	default:
		return string(event.GetType())
	}
}
