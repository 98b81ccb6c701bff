package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const workflowJSON = `{
	"id": "wf-1",
	"tenantId": "tenant-1",
	"name": "Overdue invoice follow-up",
	"isActive": true,
	"maxExecutionsPerHour": 10,
	"constants": {"accounts": "accounts@example.com"},
	"trigger": {
		"kind": "webhook",
		"config": {"method": "post", "path": "/my-trigger/", "authentication": "api_key", "apiKey": "s3cret"}
	},
	"actions": [
		{
			"kind": "api_call",
			"name": "lookup",
			"config": {"method": "get", "url": "https://erp.example.com/invoices/{{trigger.body.invoiceId}}"},
			"retryPolicy": {"maxRetries": 2, "retryDelaySeconds": 5, "backoffMultiplier": 2}
		},
		{
			"kind": "email",
			"config": {"to": "{{constants.accounts}}", "subject": "Invoice {{steps.lookup.body.number}}", "body": "Overdue"}
		}
	]
}`

func newTestWorkflow(t *testing.T) *Workflow {
	t.Helper()

	var workflow Workflow
	require.NoError(t, json.Unmarshal([]byte(workflowJSON), &workflow))
	workflow.ApplyDefaults()

	return &workflow
}

func TestWorkflow_DecodeTaggedUnions(t *testing.T) {
	workflow := newTestWorkflow(t)

	webhook, ok := workflow.Trigger.Webhook()
	require.True(t, ok)
	assert.Equal(t, "POST", webhook.Method)
	assert.Equal(t, "my-trigger", webhook.Path)
	assert.Equal(t, DefaultAPIKeyHeader, webhook.APIKeyHeader)
	assert.Equal(t, ContentTypeJSON, webhook.ContentType)

	require.Len(t, workflow.Actions, 2)

	apiCall, ok := workflow.Actions[0].Config.(*APICallConfig)
	require.True(t, ok)
	assert.Equal(t, "GET", apiCall.Method)
	assert.Equal(t, RetryPolicy{MaxRetries: 2, RetryDelaySeconds: 5, BackoffMultiplier: 2}, workflow.Actions[0].Retry())

	assert.Equal(t, DefaultRetryPolicy(), workflow.Actions[1].Retry())
	assert.Equal(t, DefaultMaxConcurrentRuns, workflow.MaxConcurrentRuns)

	encoded, err := json.Marshal(workflow)
	require.NoError(t, err)

	var decoded Workflow
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	assert.Equal(t, workflow.Actions, decoded.Actions)
	assert.Equal(t, workflow.Trigger, decoded.Trigger)
}

func TestWorkflow_DecodeRejectsUnknownKinds(t *testing.T) {
	var trigger Trigger
	err := json.Unmarshal([]byte(`{"kind":"carrier_pigeon","config":{}}`), &trigger)
	require.ErrorIs(t, err, ErrUnknownTriggerKind)

	var action Action
	err = json.Unmarshal([]byte(`{"kind":"fax","config":{}}`), &action)
	require.ErrorIs(t, err, ErrUnknownActionKind)
}

func TestWorkflow_Validate(t *testing.T) {
	validate := NewValidator()

	tests := []struct {
		name    string
		mutate  func(w *Workflow)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(*Workflow) {},
		},
		{
			name:    "missing tenant",
			mutate:  func(w *Workflow) { w.TenantID = "" },
			wantErr: "TenantID",
		},
		{
			name: "api key without key",
			mutate: func(w *Workflow) {
				webhook, _ := w.Trigger.Webhook()
				webhook.APIKey = ""
			},
			wantErr: "api_key authentication requires",
		},
		{
			name: "step refers to itself",
			mutate: func(w *Workflow) {
				w.Actions[0].Config.(*APICallConfig).URL = "https://erp.example.com/{{steps.0.id}}"
			},
			wantErr: "has not run before step 0",
		},
		{
			name: "step refers to later name",
			mutate: func(w *Workflow) {
				w.Actions[0].Config.(*APICallConfig).URL = "https://erp.example.com/{{steps.notify.id}}"
			},
			wantErr: "no earlier step named",
		},
		{
			name:    "undefined constant",
			mutate:  func(w *Workflow) { w.Constants = nil },
			wantErr: "undefined constant",
		},
		{
			name: "unknown root",
			mutate: func(w *Workflow) {
				w.Actions[1].Config.(*EmailConfig).Subject = "{{env.HOME}}"
			},
			wantErr: "unknown root",
		},
		{
			name: "invalid literal url",
			mutate: func(w *Workflow) {
				w.Actions[0].Config.(*APICallConfig).URL = "not a url"
			},
			wantErr: "URL",
		},
		{
			name: "retry delay must be positive",
			mutate: func(w *Workflow) {
				w.Actions[0].RetryPolicy.RetryDelaySeconds = -1
			},
			wantErr: "RetryDelaySeconds",
		},
		{
			name: "backoff below one",
			mutate: func(w *Workflow) {
				w.Actions[0].RetryPolicy.BackoffMultiplier = 0.5
			},
			wantErr: "BackoffMultiplier",
		},
		{
			name: "database op requires conditions for delete",
			mutate: func(w *Workflow) {
				w.Actions[1] = NewAction(&DatabaseOpConfig{Table: "invoices", Operation: DatabaseDelete})
				w.Actions[1].applyDefaults()
			},
			wantErr: "delete requires conditions",
		},
		{
			name: "invalid filter",
			mutate: func(w *Workflow) {
				w.Trigger = NewTrigger(&DatabaseChangeConfig{
					Table:  "invoices",
					Events: []ChangeOperation{ChangeUpdate},
					Filter: "status ==",
				})
			},
			wantErr: "invalid filter",
		},
		{
			name: "invalid cron",
			mutate: func(w *Workflow) {
				w.Trigger = NewTrigger(&ScheduleConfig{
					Schedule:       ScheduleCustom,
					CronExpression: "every tuesday",
					Timezone:       "UTC",
				})
			},
			wantErr: "invalid cron expression",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			workflow := newTestWorkflow(t)
			tt.mutate(workflow)

			err := workflow.Validate(validate)
			if tt.wantErr == "" {
				require.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidWorkflow)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestScheduleConfig_Compile(t *testing.T) {
	from := time.Date(2025, 3, 10, 8, 30, 0, 0, time.UTC) // Monday

	tests := []struct {
		name   string
		config ScheduleConfig
		want   time.Time
	}{
		{
			name:   "daily",
			config: ScheduleConfig{Schedule: ScheduleDaily, Time: "09:00", Timezone: "UTC"},
			want:   time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
		},
		{
			name:   "weekly on wednesday and sunday",
			config: ScheduleConfig{Schedule: ScheduleWeekly, Time: "07:15", Days: []int{2, 6}, Timezone: "UTC"},
			want:   time.Date(2025, 3, 12, 7, 15, 0, 0, time.UTC),
		},
		{
			name:   "monthly",
			config: ScheduleConfig{Schedule: ScheduleMonthly, Time: "06:00", DayOfMonth: 1, Timezone: "UTC"},
			want:   time.Date(2025, 4, 1, 6, 0, 0, 0, time.UTC),
		},
		{
			name:   "custom",
			config: ScheduleConfig{Schedule: ScheduleCustom, CronExpression: "*/15 * * * *", Timezone: "UTC"},
			want:   time.Date(2025, 3, 10, 8, 45, 0, 0, time.UTC),
		},
		{
			name:   "daily in new york",
			config: ScheduleConfig{Schedule: ScheduleDaily, Time: "09:00", Timezone: "America/New_York"},
			want:   time.Date(2025, 3, 10, 13, 0, 0, 0, time.UTC),
		},
		{
			name:   "once",
			config: ScheduleConfig{Schedule: ScheduleOnce, Date: "2025-03-11", Time: "10:00", Timezone: "UTC"},
			want:   time.Date(2025, 3, 11, 10, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			schedule, err := tt.config.Compile()
			require.NoError(t, err)

			assert.True(t, tt.want.Equal(schedule.Next(from)), "got %s", schedule.Next(from))
		})
	}
}

func TestScheduleConfig_OnceFiresOnlyOnce(t *testing.T) {
	config := ScheduleConfig{Schedule: ScheduleOnce, Date: "2025-03-11", Time: "10:00", Timezone: "UTC"}

	schedule, err := config.Compile()
	require.NoError(t, err)

	at := time.Date(2025, 3, 11, 10, 0, 0, 0, time.UTC)
	assert.True(t, schedule.Next(at).IsZero())
}

func TestRetryPolicy_Delay(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 2, RetryDelaySeconds: 5, BackoffMultiplier: 2}

	assert.Equal(t, 3, policy.MaxAttempts())
	assert.Equal(t, 5*time.Second, policy.Delay(1, 0))
	assert.Equal(t, 10*time.Second, policy.Delay(2, 0))
	assert.Equal(t, 20*time.Second, policy.Delay(3, 0))
	assert.Equal(t, 12*time.Second, policy.Delay(3, 12*time.Second))

	huge := RetryPolicy{RetryDelaySeconds: 86400, BackoffMultiplier: 10}
	assert.Equal(t, 10*time.Minute, huge.Delay(20, 10*time.Minute))
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
		code      ErrorCode
	}{
		{name: "5xx", err: StatusError(503, assert.AnError), retryable: true, code: CodeTransientFailure},
		{name: "429", err: StatusError(429, assert.AnError), retryable: true, code: CodeTransientFailure},
		{name: "4xx", err: StatusError(422, assert.AnError), retryable: false, code: CodeActionFailed},
		{name: "configuration", err: ConfigurationError(assert.AnError), retryable: false, code: CodeConfigurationError},
		{name: "permanent", err: Permanent(assert.AnError), retryable: false, code: CodeActionFailed},
		{name: "unclassified", err: assert.AnError, retryable: true, code: CodeTransientFailure},
		{name: "rejection", err: ErrUnauthorized, retryable: true, code: CodeTriggerRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
			assert.Equal(t, tt.code, CodeOf(tt.err))
		})
	}
}

func TestFilter_Match(t *testing.T) {
	filter, err := CompileFilter(`status == "overdue" && amount > 1000`)
	require.NoError(t, err)

	matched, err := filter.Match(map[string]any{"status": "overdue", "amount": 1500.0})
	require.NoError(t, err)
	assert.True(t, matched)

	matched, err = filter.Match(map[string]any{"status": "paid", "amount": 1500.0})
	require.NoError(t, err)
	assert.False(t, matched)

	matched, err = filter.Match(map[string]any{"amount": 1500.0})
	require.NoError(t, err)
	assert.False(t, matched)
}
