// Package schedule fires workflows on their calendar recurrence. One loop
// arms a single timer for the earliest due workflow.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/eventbus"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/models"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/persistence"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/triggers"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
)

const source = "scheduler"

type entry struct {
	workflowID string
	tenantID   string
	config     *models.ScheduleConfig
	schedule   cron.Schedule

	armed bool
	// due is the fire time being waited for; it stays at a missed fire
	// time while a catch-up is pending.
	due time.Time
}

type Evaluator struct {
	states    persistence.ScheduleStateRepository
	publisher eventbus.EventPublisher
	clock     clockwork.Clock
	logger    *slog.Logger

	mu       sync.Mutex
	entries  map[string]*entry
	callback triggers.Callback
	wake     chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewEvaluator(
	states persistence.ScheduleStateRepository,
	publisher eventbus.EventPublisher,
	clock clockwork.Clock,
	logger *slog.Logger,
) *Evaluator {
	return &Evaluator{
		states:    states,
		publisher: publisher,
		clock:     clock,
		logger:    logger.With("module", "schedule_trigger"),
		entries:   make(map[string]*entry),
		wake:      make(chan struct{}, 1),
	}
}

// Configure replaces the set of scheduled workflows. Workflows whose
// schedule did not change keep their armed fire time.
func (e *Evaluator) Configure(workflows []*models.Workflow) error {
	entries := make(map[string]*entry)

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, workflow := range workflows {
		config, ok := workflow.Trigger.Schedule()
		if !ok || !workflow.IsActive {
			continue
		}

		schedule, err := config.Compile()
		if err != nil {
			triggers.Reject(context.Background(), e.publisher, e.logger, e.clock.Now(), triggers.Rejection{
				Kind:       models.TriggerSchedule,
				WorkflowID: workflow.ID,
				TenantID:   workflow.TenantID,
				Source:     source,
				Reason:     fmt.Errorf("%w: %w", models.ErrConfiguration, err),
			})

			continue
		}

		next := &entry{
			workflowID: workflow.ID,
			tenantID:   workflow.TenantID,
			config:     config,
			schedule:   schedule,
		}

		if previous, ok := e.entries[workflow.ID]; ok && sameSchedule(previous.config, config) {
			next.armed = previous.armed
			next.due = previous.due
		}

		entries[workflow.ID] = next
	}

	e.entries = entries
	e.logger.Info("Schedules configured", "count", len(entries))
	e.signal()

	return nil
}

func sameSchedule(a, b *models.ScheduleConfig) bool {
	if len(a.Days) != len(b.Days) {
		return false
	}

	for i := range a.Days {
		if a.Days[i] != b.Days[i] {
			return false
		}
	}

	return a.Schedule == b.Schedule &&
		a.Time == b.Time &&
		a.DayOfMonth == b.DayOfMonth &&
		a.Date == b.Date &&
		a.CronExpression == b.CronExpression &&
		a.Timezone == b.Timezone &&
		a.CatchUp == b.CatchUp
}

func (e *Evaluator) Start(ctx context.Context, callback triggers.Callback) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancel != nil {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)

	e.callback = callback
	e.cancel = cancel
	e.done = make(chan struct{})

	go e.loop(loopCtx, e.done)

	e.logger.Info("Schedule trigger started")

	return nil
}

func (e *Evaluator) Stop(ctx context.Context) error {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel = nil
	e.mu.Unlock()

	if cancel == nil {
		return nil
	}

	cancel()

	select {
	case <-done:
		e.logger.Info("Schedule trigger stopped")

		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Evaluator) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Evaluator) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		e.arm(ctx)

		wait, ok := e.untilNext()
		if ok && wait <= 0 {
			e.fireDue(ctx)

			continue
		}

		var (
			timer clockwork.Timer
			fired <-chan time.Time
		)

		if ok {
			timer = e.clock.NewTimer(wait)
			fired = timer.Chan()
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}

			return
		case <-e.wake:
			if timer != nil {
				timer.Stop()
			}
		case <-fired:
			e.fireDue(ctx)
		}
	}
}

// arm computes the first fire time of newly configured workflows from their
// persisted state.
func (e *Evaluator) arm(ctx context.Context) {
	e.mu.Lock()
	pending := make([]*entry, 0)

	for _, en := range e.entries {
		if !en.armed {
			pending = append(pending, en)
		}
	}
	e.mu.Unlock()

	now := e.clock.Now()

	for _, en := range pending {
		state, err := e.states.Get(ctx, en.workflowID)
		if err != nil && !persistence.IsScheduleStateNotFound(err) {
			e.logger.ErrorContext(ctx, "Failed to load schedule state", "workflow_id", en.workflowID, "error", err)

			state = nil
		}

		due := firstDue(en, state, now)

		e.mu.Lock()
		en.armed = true
		en.due = due
		e.mu.Unlock()

		if due.IsZero() {
			e.logger.InfoContext(ctx, "Schedule has no future fire time", "workflow_id", en.workflowID)

			continue
		}

		e.logger.DebugContext(ctx, "Schedule armed", "workflow_id", en.workflowID, "next_fire_at", due)
	}
}

// firstDue skips fire times missed while the engine was down unless the
// schedule asks to catch up, in which case the missed time fires once.
func firstDue(en *entry, state *models.ScheduleState, now time.Time) time.Time {
	if state != nil {
		if en.config.Schedule == models.ScheduleOnce && state.LastFiredAt != nil {
			return time.Time{}
		}

		if en.config.CatchUp && !state.NextFireAt.IsZero() && state.NextFireAt.Before(now) {
			return state.NextFireAt
		}
	}

	return en.schedule.Next(now)
}

func (e *Evaluator) untilNext() (time.Duration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var earliest time.Time

	for _, en := range e.entries {
		if !en.armed || en.due.IsZero() {
			continue
		}

		if earliest.IsZero() || en.due.Before(earliest) {
			earliest = en.due
		}
	}

	if earliest.IsZero() {
		return 0, false
	}

	return earliest.Sub(e.clock.Now()), true
}

type firing struct {
	entry *entry
	due   time.Time
	next  time.Time
}

func (e *Evaluator) fireDue(ctx context.Context) {
	now := e.clock.Now()

	e.mu.Lock()
	callback := e.callback
	due := make([]firing, 0)

	for _, en := range e.entries {
		if !en.armed || en.due.IsZero() || en.due.After(now) {
			continue
		}

		f := firing{entry: en, due: en.due, next: en.schedule.Next(now)}
		en.due = f.next
		due = append(due, f)
	}
	e.mu.Unlock()

	for _, f := range due {
		e.fire(ctx, callback, f, now)
	}
}

func (e *Evaluator) fire(ctx context.Context, callback triggers.Callback, f firing, now time.Time) {
	en := f.entry

	intent := models.FireIntent{
		WorkflowID:  en.workflowID,
		TriggerKind: models.TriggerSchedule,
		Payload: map[string]any{
			"scheduledAt": f.due.UTC().Format(time.RFC3339),
			"firedAt":     now.UTC().Format(time.RFC3339),
			"schedule":    string(en.config.Schedule),
			"timezone":    en.config.Timezone,
		},
		FiredAt:   now,
		DedupeKey: fmt.Sprintf("schedule:%s:%d", en.workflowID, f.due.Unix()),
		Source:    source,
	}

	e.logger.InfoContext(ctx, "Schedule due", "workflow_id", en.workflowID, "scheduled_at", f.due)

	if callback != nil {
		triggers.Fire(ctx, callback, e.logger, intent)
	}

	firedAt := f.due
	state := &models.ScheduleState{
		WorkflowID:  en.workflowID,
		LastFiredAt: &firedAt,
		NextFireAt:  f.next,
		UpdatedAt:   now,
	}

	if err := e.states.Save(ctx, state); err != nil {
		e.logger.ErrorContext(ctx, "Failed to save schedule state", "workflow_id", en.workflowID, "error", err)
	}
}

// Next reports the armed fire time of a workflow.
func (e *Evaluator) Next(workflowID string) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	en, ok := e.entries[workflowID]
	if !ok || !en.armed || en.due.IsZero() {
		return time.Time{}, false
	}

	return en.due, true
}
