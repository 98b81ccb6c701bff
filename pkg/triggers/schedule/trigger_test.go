package schedule_test

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/models"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/persistence"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/persistence/file"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/testutil"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/triggers/schedule"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type recorder chan models.FireIntent

func (r recorder) callback(_ context.Context, intent models.FireIntent) (models.Admission, error) {
	r <- intent

	return models.Admission{Outcome: models.AdmissionAdmitted, RunID: "run"}, nil
}

func (r recorder) next(t *testing.T) models.FireIntent {
	t.Helper()

	select {
	case intent := <-r:
		return intent
	case <-time.After(time.Second):
		t.Fatal("no intent fired")

		return models.FireIntent{}
	}
}

func (r recorder) none(t *testing.T) {
	t.Helper()

	select {
	case intent := <-r:
		t.Fatalf("unexpected intent for %s", intent.WorkflowID)
	case <-time.After(50 * time.Millisecond):
	}
}

func scheduled(config *models.ScheduleConfig) *models.Workflow {
	if config.Timezone == "" {
		config.Timezone = "Europe/London"
	}

	return testutil.NewWorkflow(testutil.WithTrigger(config))
}

func startEvaluator(t *testing.T, store persistence.Persistence, clock *clockwork.FakeClock, workflows ...*models.Workflow) recorder {
	t.Helper()

	evaluator := schedule.NewEvaluator(store.ScheduleStateRepository(), nil, clock, slog.Default())
	require.NoError(t, evaluator.Configure(workflows))

	intents := make(recorder, 10)
	require.NoError(t, evaluator.Start(context.Background(), intents.callback))

	t.Cleanup(func() {
		require.NoError(t, evaluator.Stop(context.Background()))
	})

	return intents
}

func waitArmed(t *testing.T, clock *clockwork.FakeClock) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
}

func TestEvaluator_FiresDailySchedule(t *testing.T) {
	clock := clockwork.NewFakeClockAt(start)
	store := file.NewPersistence(t.TempDir())
	workflow := scheduled(&models.ScheduleConfig{Schedule: models.ScheduleDaily, Time: "09:30"})

	intents := startEvaluator(t, store, clock, workflow)

	waitArmed(t, clock)
	clock.Advance(30 * time.Minute)

	dueAt := time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)
	intent := intents.next(t)
	assert.Equal(t, workflow.ID, intent.WorkflowID)
	assert.Equal(t, models.TriggerSchedule, intent.TriggerKind)
	assert.Equal(t, fmt.Sprintf("schedule:%s:%d", workflow.ID, dueAt.Unix()), intent.DedupeKey)
	assert.Equal(t, "2025-03-10T09:30:00Z", intent.Payload["scheduledAt"])

	assert.Eventually(t, func() bool {
		state, err := store.ScheduleStateRepository().Get(context.Background(), workflow.ID)

		return err == nil && state.NextFireAt.Equal(dueAt.Add(24*time.Hour))
	}, time.Second, 5*time.Millisecond)

	waitArmed(t, clock)
	clock.Advance(24 * time.Hour)

	assert.Equal(t, fmt.Sprintf("schedule:%s:%d", workflow.ID, dueAt.Add(24*time.Hour).Unix()), intents.next(t).DedupeKey)
}

func TestEvaluator_IgnoresOtherKindsAndInactive(t *testing.T) {
	clock := clockwork.NewFakeClockAt(start)
	store := file.NewPersistence(t.TempDir())

	inactive := scheduled(&models.ScheduleConfig{Schedule: models.ScheduleDaily, Time: "09:05"})
	inactive.IsActive = false

	intents := startEvaluator(t, store, clock, testutil.NewWorkflow(), inactive)

	clock.Advance(time.Hour)
	intents.none(t)
}

func TestEvaluator_MissedFires(t *testing.T) {
	ctx := context.Background()
	missed := time.Date(2025, 3, 10, 8, 30, 0, 0, time.UTC)

	t.Run("skipped by default", func(t *testing.T) {
		clock := clockwork.NewFakeClockAt(start)
		store := file.NewPersistence(t.TempDir())
		workflow := scheduled(&models.ScheduleConfig{Schedule: models.ScheduleCustom, CronExpression: "30 * * * *"})
		require.NoError(t, store.ScheduleStateRepository().Save(ctx, &models.ScheduleState{WorkflowID: workflow.ID, NextFireAt: missed}))

		intents := startEvaluator(t, store, clock, workflow)

		waitArmed(t, clock)
		intents.none(t)

		clock.Advance(30 * time.Minute)
		assert.Contains(t, intents.next(t).DedupeKey, fmt.Sprint(start.Add(30*time.Minute).Unix()))
	})

	t.Run("fired once with catch up", func(t *testing.T) {
		clock := clockwork.NewFakeClockAt(start)
		store := file.NewPersistence(t.TempDir())
		workflow := scheduled(&models.ScheduleConfig{Schedule: models.ScheduleCustom, CronExpression: "30 * * * *", CatchUp: true})
		require.NoError(t, store.ScheduleStateRepository().Save(ctx, &models.ScheduleState{WorkflowID: workflow.ID, NextFireAt: missed.Add(-time.Hour)}))

		intents := startEvaluator(t, store, clock, workflow)

		intent := intents.next(t)
		assert.Equal(t, fmt.Sprintf("schedule:%s:%d", workflow.ID, missed.Add(-time.Hour).Unix()), intent.DedupeKey)
		intents.none(t)

		waitArmed(t, clock)
		clock.Advance(30 * time.Minute)
		assert.Equal(t, fmt.Sprintf("schedule:%s:%d", workflow.ID, start.Add(30*time.Minute).Unix()), intents.next(t).DedupeKey)
	})
}

func TestEvaluator_OnceFiresAtMostOnce(t *testing.T) {
	clock := clockwork.NewFakeClockAt(start)
	store := file.NewPersistence(t.TempDir())
	workflow := scheduled(&models.ScheduleConfig{Schedule: models.ScheduleOnce, Date: "2025-03-10", Time: "10:00"})

	intents := startEvaluator(t, store, clock, workflow)

	waitArmed(t, clock)
	clock.Advance(time.Hour)
	intents.next(t)

	clock.Advance(48 * time.Hour)
	intents.none(t)

	assert.Eventually(t, func() bool {
		state, err := store.ScheduleStateRepository().Get(context.Background(), workflow.ID)

		return err == nil && state.LastFiredAt != nil && state.NextFireAt.IsZero()
	}, time.Second, 5*time.Millisecond)

	// a restarted engine does not fire it again
	restarted := clockwork.NewFakeClockAt(start)
	again := startEvaluator(t, store, restarted, workflow)
	restarted.Advance(time.Hour)
	again.none(t)
}

func TestEvaluator_ConfigureReplacesSchedules(t *testing.T) {
	clock := clockwork.NewFakeClockAt(start)
	store := file.NewPersistence(t.TempDir())
	first := scheduled(&models.ScheduleConfig{Schedule: models.ScheduleDaily, Time: "09:30"})
	second := scheduled(&models.ScheduleConfig{Schedule: models.ScheduleDaily, Time: "09:10"})

	evaluator := schedule.NewEvaluator(store.ScheduleStateRepository(), nil, clock, slog.Default())
	require.NoError(t, evaluator.Configure([]*models.Workflow{first}))

	intents := make(recorder, 10)
	require.NoError(t, evaluator.Start(context.Background(), intents.callback))
	t.Cleanup(func() { _ = evaluator.Stop(context.Background()) })

	waitArmed(t, clock)

	require.NoError(t, evaluator.Configure([]*models.Workflow{second}))

	assert.Eventually(t, func() bool {
		next, ok := evaluator.Next(second.ID)

		return ok && next.Equal(start.Add(10*time.Minute))
	}, time.Second, 5*time.Millisecond)

	_, ok := evaluator.Next(first.ID)
	assert.False(t, ok)

	waitArmed(t, clock)
	clock.Advance(10 * time.Minute)
	assert.Equal(t, second.ID, intents.next(t).WorkflowID)
}
