package useraction_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/events"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/models"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/testutil"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/triggers/useraction"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userAction(action, role, company string) *events.UserAction {
	event := &events.UserAction{
		BaseEvent: events.NewBaseEvent(events.UserActionEvent, "", time.Now()),
		Action:    action,
		UserID:    "user-7",
		UserRole:  role,
		CompanyID: company,
		Data:      map[string]any{"taskId": "t-1"},
	}
	event.TenantID = "tenant-1"

	return event
}

func inTenant(action *events.UserAction, tenantID string) *events.UserAction {
	action.TenantID = tenantID

	return action
}

func TestMatches(t *testing.T) {
	config := &models.UserActionConfig{Action: "task_complete", UserRole: "supervisor", CompanyID: "acme"}
	anyone := &models.UserActionConfig{Action: "task_complete", UserRole: models.RoleAny}

	tests := []struct {
		name   string
		config *models.UserActionConfig
		action *events.UserAction
		want   bool
	}{
		{name: "all filters match", config: config, action: userAction("task_complete", "supervisor", "acme"), want: true},
		{name: "other action", config: config, action: userAction("login", "supervisor", "acme")},
		{name: "other role", config: config, action: userAction("task_complete", "operative", "acme")},
		{name: "other company", config: config, action: userAction("task_complete", "supervisor", "globex")},
		{name: "any role and company", config: anyone, action: userAction("task_complete", "operative", "globex"), want: true},
		{name: "other tenant", config: anyone, action: inTenant(userAction("task_complete", "operative", "acme"), "tenant-2")},
		{name: "no tenant", config: anyone, action: inTenant(userAction("task_complete", "operative", "acme"), "")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, useraction.Matches(tt.config, "tenant-1", tt.action))
		})
	}
}

func TestHandle(t *testing.T) {
	workflow := testutil.NewWorkflow(testutil.WithTrigger(&models.UserActionConfig{Action: "payment_received", UserRole: models.RoleAny}))

	evaluator := useraction.NewEvaluator(nil, clockwork.NewFakeClock(), slog.Default())
	require.NoError(t, evaluator.Configure([]*models.Workflow{workflow}))

	var intents []models.FireIntent

	require.NoError(t, evaluator.Start(context.Background(), func(_ context.Context, intent models.FireIntent) (models.Admission, error) {
		intents = append(intents, intent)

		return models.Admission{Outcome: models.AdmissionAdmitted}, nil
	}))

	event := userAction("payment_received", "company_admin", "acme")
	require.NoError(t, evaluator.Handle(context.Background(), event))

	foreign := userAction("payment_received", "company_admin", "acme")
	foreign.TenantID = "tenant-2"
	require.NoError(t, evaluator.Handle(context.Background(), foreign))

	tenantless := userAction("payment_received", "company_admin", "acme")
	tenantless.TenantID = ""
	require.NoError(t, evaluator.Handle(context.Background(), tenantless))

	require.Len(t, intents, 1)
	assert.Equal(t, workflow.ID, intents[0].WorkflowID)
	assert.Equal(t, "useraction:"+event.ID, intents[0].DedupeKey)
	assert.Equal(t, "user-7", intents[0].Payload["userId"])
}

func TestHandle_PropagatesInfrastructureErrors(t *testing.T) {
	workflow := testutil.NewWorkflow(testutil.WithTrigger(&models.UserActionConfig{Action: "login", UserRole: models.RoleAny}))

	evaluator := useraction.NewEvaluator(nil, clockwork.NewFakeClock(), slog.Default())
	require.NoError(t, evaluator.Configure([]*models.Workflow{workflow}))
	require.NoError(t, evaluator.Start(context.Background(), func(context.Context, models.FireIntent) (models.Admission, error) {
		return models.Admission{}, context.DeadlineExceeded
	}))

	err := evaluator.Handle(context.Background(), userAction("login", "operative", ""))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, evaluator.Start(context.Background(), func(context.Context, models.FireIntent) (models.Admission, error) {
		return models.Admission{}, models.ErrDuplicateIntent
	}))
	assert.NoError(t, evaluator.Handle(context.Background(), userAction("login", "operative", "")))
}
