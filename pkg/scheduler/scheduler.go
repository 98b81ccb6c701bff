// Package scheduler admits fire intents as workflow runs and dispatches them
// to the executor through per-workflow FIFO lanes.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/dedupe"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/eventbus"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/events"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/models"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/persistence"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/ratelimit"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

var ErrStopped = errors.New("scheduler is not running")

// RecoveryPolicy decides what happens to runs found running at start.
// RecoveryFail finalizes them as interrupted; RecoveryResume continues them
// after their last succeeded step.
type RecoveryPolicy string

const (
	RecoveryFail   RecoveryPolicy = "fail"
	RecoveryResume RecoveryPolicy = "resume"
)

// ParseRecoveryPolicy accepts "fail" (the default when empty) and "resume".
func ParseRecoveryPolicy(s string) (RecoveryPolicy, error) {
	switch RecoveryPolicy(s) {
	case "", RecoveryFail:
		return RecoveryFail, nil
	case RecoveryResume:
		return RecoveryResume, nil
	default:
		return "", fmt.Errorf("unknown recovery policy %q", s)
	}
}

// Runner executes admitted runs.
type Runner interface {
	Execute(ctx context.Context, run *models.WorkflowRun) (*models.WorkflowRun, error)
	FailInterrupted(ctx context.Context, run *models.WorkflowRun) (*models.WorkflowRun, error)
}

// Seeder is implemented by limiters that keep their window in memory.
type Seeder interface {
	Seed(key, id string, at time.Time)
}

// DedupeSeeder is implemented by dedupe stores that keep their claims in memory.
type DedupeSeeder interface {
	Seed(key string, expires time.Time)
}

type Options struct {
	// DedupeWindow applies to workflows without their own window.
	DedupeWindow time.Duration
	// MaxConcurrentRuns caps runs in flight across all workflows; zero is unlimited.
	MaxConcurrentRuns int
	Recovery          RecoveryPolicy
}

type Scheduler struct {
	persistence persistence.Persistence
	limiter     ratelimit.Limiter
	dedupe      dedupe.Store
	runner      Runner
	publisher   eventbus.EventPublisher
	clock       clockwork.Clock
	logger      *slog.Logger
	options     Options

	global chan struct{}

	mu         sync.Mutex
	admitLocks map[string]*sync.Mutex
	lanes      map[string]*lane
	running    bool
	runCtx     context.Context
	cancelRuns context.CancelFunc
	wg         sync.WaitGroup
}

// lane holds the queued runs of one workflow.
type lane struct {
	queue    []*models.WorkflowRun
	inFlight int
	limit    int
}

func NewScheduler(
	persistence persistence.Persistence,
	limiter ratelimit.Limiter,
	dedupeStore dedupe.Store,
	runner Runner,
	publisher eventbus.EventPublisher,
	clock clockwork.Clock,
	logger *slog.Logger,
	options Options,
) *Scheduler {
	if options.DedupeWindow <= 0 {
		options.DedupeWindow = dedupe.DefaultWindow
	}

	if options.Recovery == "" {
		options.Recovery = RecoveryFail
	}

	if publisher == nil {
		publisher = eventbus.Discard{}
	}

	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	s := &Scheduler{
		persistence: persistence,
		limiter:     limiter,
		dedupe:      dedupeStore,
		runner:      runner,
		publisher:   publisher,
		clock:       clock,
		logger:      logger.With("module", "scheduler"),
		options:     options,
		admitLocks:  make(map[string]*sync.Mutex),
		lanes:       make(map[string]*lane),
	}

	if options.MaxConcurrentRuns > 0 {
		s.global = make(chan struct{}, options.MaxConcurrentRuns)
	}

	return s
}

// Start enables dispatching. Runs execute under a context that outlives ctx
// until Stop is called.
func (s *Scheduler) Start(_ context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	s.runCtx, s.cancelRuns = context.WithCancel(context.Background())
	s.running = true
}

// Stop refuses new intents and waits for in-flight runs. When ctx expires
// first, in-flight runs are interrupted and left for recovery.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()

		return nil
	}

	s.running = false
	for _, l := range s.lanes {
		l.queue = nil
	}
	s.mu.Unlock()

	done := make(chan struct{})

	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancelRuns()

		return nil
	case <-ctx.Done():
		s.cancelRuns()
		<-done

		return fmt.Errorf("runs interrupted at shutdown: %w", ctx.Err())
	}
}

// Admit decides a fire intent. Intents for the same workflow are admitted
// one at a time in arrival order.
func (s *Scheduler) Admit(ctx context.Context, intent models.FireIntent) (models.Admission, error) {
	lock := s.admitLock(intent.WorkflowID)
	lock.Lock()
	defer lock.Unlock()

	logger := s.logger.With("workflow_id", intent.WorkflowID, "trigger_kind", intent.TriggerKind, "source", intent.Source)

	if !s.isRunning() {
		return models.Admission{}, ErrStopped
	}

	workflow, err := s.persistence.WorkflowRepository().GetByID(ctx, intent.WorkflowID)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			s.reject(ctx, intent, models.ErrUnknownWorkflow)

			return models.Admission{}, fmt.Errorf("%w: %s", models.ErrUnknownWorkflow, intent.WorkflowID)
		}

		return models.Admission{}, fmt.Errorf("failed to load workflow %s: %w", intent.WorkflowID, err)
	}

	if !workflow.IsActive {
		logger.DebugContext(ctx, "Ignoring intent for inactive workflow")
		s.publishIntent(ctx, events.IntentIgnoredEvent, workflow, intent, "", "workflow inactive")

		return models.Admission{Outcome: models.AdmissionIgnored}, nil
	}

	var claimed string

	if intent.DedupeKey != "" {
		key := dedupe.Key(workflow.ID, intent.DedupeKey)

		ok, err := s.dedupe.Claim(ctx, key, workflow.DedupeWindow(s.options.DedupeWindow))
		if err != nil {
			return models.Admission{}, fmt.Errorf("dedupe check failed: %w", err)
		}

		if !ok {
			logger.InfoContext(ctx, "Duplicate intent rejected", "dedupe_key", intent.DedupeKey)
			s.reject(ctx, intent, models.ErrDuplicateIntent)

			return models.Admission{}, models.ErrDuplicateIntent
		}

		claimed = key
	}

	release := func() {
		if claimed == "" {
			return
		}

		if err := s.dedupe.Release(context.WithoutCancel(ctx), claimed); err != nil {
			logger.WarnContext(ctx, "Failed to release dedupe key", "dedupe_key", intent.DedupeKey, "error", err)
		}
	}

	run := newRun(workflow, intent, s.clock.Now())
	limitKey := ratelimit.Key(workflow.ID)

	allowed, err := s.limiter.Allow(ctx, limitKey, run.ID, workflow.MaxExecutionsPerHour, ratelimit.Window)
	if err != nil {
		release()

		return models.Admission{}, fmt.Errorf("rate limit check failed: %w", err)
	}

	if !allowed {
		release()
		logger.InfoContext(ctx, "Rate limit exceeded", "limit", workflow.MaxExecutionsPerHour)
		s.publishIntent(ctx, events.IntentRateLimitedEvent, workflow, intent, "", models.ErrRateLimitExceeded.Error())

		return models.Admission{}, fmt.Errorf("%w: %d runs per hour", models.ErrRateLimitExceeded, workflow.MaxExecutionsPerHour)
	}

	if err := s.persistence.RunRepository().Create(ctx, run); err != nil {
		release()

		if err := s.limiter.Release(context.WithoutCancel(ctx), limitKey, run.ID); err != nil {
			logger.WarnContext(ctx, "Failed to release rate limit slot", "run_id", run.ID, "error", err)
		}

		return models.Admission{}, fmt.Errorf("failed to persist run: %w", err)
	}

	logger.InfoContext(ctx, "Run admitted", "run_id", run.ID)
	s.publishIntent(ctx, events.RunAdmittedEvent, workflow, intent, run.ID, "")

	s.enqueue(run, workflow.MaxConcurrentRuns)

	return models.Admission{Outcome: models.AdmissionAdmitted, RunID: run.ID}, nil
}

func newRun(workflow *models.Workflow, intent models.FireIntent, now time.Time) *models.WorkflowRun {
	payload := intent.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	return &models.WorkflowRun{
		ID:             uuid.NewString(),
		WorkflowID:     workflow.ID,
		TenantID:       workflow.TenantID,
		WorkflowName:   workflow.Name,
		Status:         models.RunPending,
		TriggerKind:    intent.TriggerKind,
		TriggerPayload: payload,
		Actions:        workflow.Actions,
		Constants:      workflow.Constants,
		DedupeKey:      intent.DedupeKey,
		CreatedAt:      now.UTC().Truncate(time.Microsecond),
	}
}

// Cancel cancels a pending run immediately and flags a running one to stop
// at its next step boundary.
func (s *Scheduler) Cancel(ctx context.Context, runID string) (*models.WorkflowRun, error) {
	runs := s.persistence.RunRepository()

	now := s.clock.Now()

	run, err := runs.UpdateStatus(ctx, runID, []models.RunStatus{models.RunPending}, models.RunChange{
		Status:       models.RunCancelled,
		CompletedAt:  &now,
		ErrorMessage: models.ErrRunCancelled.Error(),
	})
	if err == nil {
		s.dropQueued(run)
		base := events.NewBaseEvent(events.RunCancelledEvent, run.WorkflowID, now)
		base.TenantID = run.TenantID

		s.publish(ctx, run.WorkflowID, &events.RunEvent{BaseEvent: base, RunID: run.ID, Status: models.RunCancelled})

		return run, nil
	}

	if !persistence.IsInvalidTransition(err) {
		return nil, err
	}

	return runs.RequestCancel(ctx, runID)
}

// restoreAdmissions rebuilds in-memory limiter windows and dedupe claims from
// the runs admitted before the restart.
func (s *Scheduler) restoreAdmissions(ctx context.Context) error {
	limitSeeder, seedLimits := s.limiter.(Seeder)
	dedupeSeeder, seedDedupe := s.dedupe.(DedupeSeeder)

	if !seedLimits && !seedDedupe {
		return nil
	}

	now := s.clock.Now()
	lookback := ratelimit.Window
	windows := make(map[string]time.Duration)

	if seedDedupe {
		workflows, err := s.persistence.WorkflowRepository().GetAll(ctx)
		if err != nil {
			return fmt.Errorf("failed to load workflows: %w", err)
		}

		lookback = max(lookback, s.options.DedupeWindow)

		for _, workflow := range workflows {
			window := workflow.DedupeWindow(s.options.DedupeWindow)
			windows[workflow.ID] = window
			lookback = max(lookback, window)
		}
	}

	recent, err := s.persistence.RunRepository().ListCreatedSince(ctx, now.Add(-lookback))
	if err != nil {
		return fmt.Errorf("failed to load recent runs: %w", err)
	}

	for _, run := range recent {
		if seedLimits && run.CreatedAt.After(now.Add(-ratelimit.Window)) {
			limitSeeder.Seed(ratelimit.Key(run.WorkflowID), run.ID, run.CreatedAt)
		}

		if seedDedupe && run.DedupeKey != "" {
			window, ok := windows[run.WorkflowID]
			if !ok {
				window = s.options.DedupeWindow
			}

			dedupeSeeder.Seed(dedupe.Key(run.WorkflowID, run.DedupeKey), run.CreatedAt.Add(window))
		}
	}

	return nil
}

// Recover re-enqueues pending runs and applies the recovery policy to runs
// that were running when the engine last stopped.
func (s *Scheduler) Recover(ctx context.Context) error {
	runs := s.persistence.RunRepository()

	if err := s.restoreAdmissions(ctx); err != nil {
		return err
	}

	open, err := runs.ListByStatus(ctx, models.RunRunning, models.RunPending)
	if err != nil {
		return fmt.Errorf("failed to load unfinished runs: %w", err)
	}

	limits := make(map[string]int)

	for _, run := range open {
		limit, ok := limits[run.WorkflowID]
		if !ok {
			limit = models.DefaultMaxConcurrentRuns
			if workflow, err := s.persistence.WorkflowRepository().GetByID(ctx, run.WorkflowID); err == nil {
				limit = workflow.MaxConcurrentRuns
			}

			limits[run.WorkflowID] = limit
		}

		if run.Status == models.RunRunning && s.options.Recovery == RecoveryFail {
			if _, err := s.runner.FailInterrupted(ctx, run); err != nil {
				return fmt.Errorf("failed to fail interrupted run %s: %w", run.ID, err)
			}

			continue
		}

		s.logger.InfoContext(ctx, "Recovering run", "run_id", run.ID, "workflow_id", run.WorkflowID, "status", run.Status)
		s.enqueue(run, limit)
	}

	return nil
}

// InFlight returns the number of runs executing now.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, l := range s.lanes {
		total += l.inFlight
	}

	return total
}

func (s *Scheduler) enqueue(run *models.WorkflowRun, limit int) {
	if limit < 1 {
		limit = models.DefaultMaxConcurrentRuns
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	l, ok := s.lanes[run.WorkflowID]
	if !ok {
		l = &lane{}
		s.lanes[run.WorkflowID] = l
	}

	l.limit = limit
	l.queue = append(l.queue, run)

	s.dispatchLocked(run.WorkflowID, l)
}

// dispatchLocked starts queued runs while the lane has capacity. s.mu is held.
func (s *Scheduler) dispatchLocked(workflowID string, l *lane) {
	for l.inFlight < l.limit && len(l.queue) > 0 {
		run := l.queue[0]
		l.queue = l.queue[1:]
		l.inFlight++

		s.wg.Add(1)

		go s.execute(workflowID, run)
	}

	if l.inFlight == 0 && len(l.queue) == 0 {
		delete(s.lanes, workflowID)
	}
}

func (s *Scheduler) execute(workflowID string, run *models.WorkflowRun) {
	defer s.wg.Done()
	defer s.finished(workflowID)

	ctx := s.runCtx

	if s.global != nil {
		select {
		case s.global <- struct{}{}:
			defer func() { <-s.global }()
		case <-ctx.Done():
			return
		}
	}

	if _, err := s.runner.Execute(ctx, run); err != nil && ctx.Err() == nil {
		s.logger.ErrorContext(ctx, "Run execution failed", "run_id", run.ID, "workflow_id", workflowID, "error", err)
	}
}

func (s *Scheduler) finished(workflowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.lanes[workflowID]
	if !ok {
		return
	}

	l.inFlight--

	if s.running {
		s.dispatchLocked(workflowID, l)
	} else if l.inFlight == 0 {
		delete(s.lanes, workflowID)
	}
}

func (s *Scheduler) dropQueued(run *models.WorkflowRun) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.lanes[run.WorkflowID]
	if !ok {
		return
	}

	for i, queued := range l.queue {
		if queued.ID == run.ID {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)

			return
		}
	}
}

func (s *Scheduler) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

func (s *Scheduler) admitLock(workflowID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.admitLocks[workflowID]
	if !ok {
		lock = &sync.Mutex{}
		s.admitLocks[workflowID] = lock
	}

	return lock
}

func (s *Scheduler) reject(ctx context.Context, intent models.FireIntent, reason error) {
	s.publish(ctx, intent.WorkflowID, &events.IntentEvent{
		BaseEvent:   events.NewBaseEvent(events.TriggerRejectedEvent, intent.WorkflowID, s.clock.Now()),
		TriggerKind: intent.TriggerKind,
		Source:      intent.Source,
		DedupeKey:   intent.DedupeKey,
		Reason:      reason.Error(),
	})
}

func (s *Scheduler) publishIntent(
	ctx context.Context,
	eventType events.EventType,
	workflow *models.Workflow,
	intent models.FireIntent,
	runID, reason string,
) {
	base := events.NewBaseEvent(eventType, workflow.ID, s.clock.Now())
	base.TenantID = workflow.TenantID

	s.publish(ctx, workflow.ID, &events.IntentEvent{
		BaseEvent:   base,
		TriggerKind: intent.TriggerKind,
		Source:      intent.Source,
		DedupeKey:   intent.DedupeKey,
		RunID:       runID,
		Reason:      reason,
	})
}

func (s *Scheduler) publish(ctx context.Context, key string, event events.Event) {
	if err := s.publisher.Publish(ctx, key, event); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish event", "type", event.GetType(), "error", err)
	}
}
