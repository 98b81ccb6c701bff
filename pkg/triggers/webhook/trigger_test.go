package webhook_test

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"net/url"
	"testing"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/models"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/testutil"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/triggers"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/triggers/webhook"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capture struct {
	intents []models.FireIntent
}

func (c *capture) callback(_ context.Context, intent models.FireIntent) (models.Admission, error) {
	c.intents = append(c.intents, intent)

	return models.Admission{Outcome: models.AdmissionAdmitted, RunID: "run-1"}, nil
}

func newEvaluator(t *testing.T, workflows ...*models.Workflow) (*webhook.Evaluator, *capture) {
	t.Helper()

	evaluator := webhook.NewEvaluator(nil, clockwork.NewFakeClock(), slog.Default())
	require.NoError(t, evaluator.Configure(workflows))

	c := &capture{}
	require.NoError(t, evaluator.Start(context.Background(), c.callback))

	return evaluator, c
}

func hook(config *models.WebhookConfig) *models.Workflow {
	if config.Method == "" {
		config.Method = http.MethodPost
	}

	if config.Authentication == "" {
		config.Authentication = models.WebhookAuthNone
	}

	if config.ContentType == "" {
		config.ContentType = models.ContentTypeJSON
	}

	return testutil.NewWorkflow(testutil.WithTrigger(config))
}

func jsonRequest(path, body string) webhook.Request {
	return webhook.Request{
		Method:  http.MethodPost,
		Path:    path,
		Headers: http.Header{"Content-Type": {"application/json"}},
		Query:   url.Values{},
		Body:    []byte(body),
	}
}

func TestReceive_AdmitsJSONPayload(t *testing.T) {
	workflow := hook(&models.WebhookConfig{Path: "procore/rfi"})
	evaluator, c := newEvaluator(t, workflow)

	req := jsonRequest("/procore/rfi/", `{"rfi":{"id":42,"status":"open"}}`)
	req.Headers.Set("X-Request-ID", "req-1")
	req.Query = url.Values{"project": {"p-9"}, "tag": {"a", "b"}}

	admission, err := evaluator.Receive(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "run-1", admission.RunID)

	require.Len(t, c.intents, 1)
	intent := c.intents[0]
	assert.Equal(t, workflow.ID, intent.WorkflowID)
	assert.Equal(t, models.TriggerWebhook, intent.TriggerKind)
	assert.Equal(t, "webhook:req-1", intent.DedupeKey)
	assert.Equal(t, map[string]any{"rfi": map[string]any{"id": float64(42), "status": "open"}}, intent.Payload["body"])
	assert.Equal(t, map[string]any{"project": "p-9", "tag": []any{"a", "b"}}, intent.Payload["query"])
	assert.Equal(t, "POST", intent.Payload["method"])
	assert.Equal(t, "/procore/rfi", intent.Payload["path"])
}

func TestReceive_Routing(t *testing.T) {
	evaluator, c := newEvaluator(t,
		hook(&models.WebhookConfig{Path: "orders"}),
		testutil.NewWorkflow(testutil.Inactive(), testutil.WithTrigger(&models.WebhookConfig{
			Path: "paused", Method: http.MethodPost, Authentication: models.WebhookAuthNone, ContentType: models.ContentTypeJSON,
		})),
	)

	_, err := evaluator.Receive(context.Background(), jsonRequest("missing", `{}`))
	require.ErrorIs(t, err, models.ErrUnknownWebhook)
	assert.ErrorIs(t, err, models.ErrTriggerRejected)

	_, err = evaluator.Receive(context.Background(), jsonRequest("paused", `{}`))
	require.ErrorIs(t, err, models.ErrUnknownWebhook)

	req := jsonRequest("orders", `{}`)
	req.Method = http.MethodGet
	_, err = evaluator.Receive(context.Background(), req)
	require.ErrorIs(t, err, models.ErrMethodNotAllowed)

	assert.Empty(t, c.intents)
}

func TestReceive_Authentication(t *testing.T) {
	basic := "Basic " + base64.StdEncoding.EncodeToString([]byte("site:hunter2"))

	tests := []struct {
		name    string
		config  *models.WebhookConfig
		headers http.Header
		allowed bool
	}{
		{
			name:    "api key",
			config:  &models.WebhookConfig{Authentication: models.WebhookAuthAPIKey, APIKeyHeader: "X-API-Key", APIKey: "k-1"},
			headers: http.Header{"X-Api-Key": {"k-1"}},
			allowed: true,
		},
		{
			name:    "wrong api key",
			config:  &models.WebhookConfig{Authentication: models.WebhookAuthAPIKey, APIKeyHeader: "X-API-Key", APIKey: "k-1"},
			headers: http.Header{"X-Api-Key": {"k-2"}},
		},
		{
			name:    "bearer token",
			config:  &models.WebhookConfig{Authentication: models.WebhookAuthBearerToken, BearerToken: "tok"},
			headers: http.Header{"Authorization": {"Bearer tok"}},
			allowed: true,
		},
		{
			name:    "missing bearer token",
			config:  &models.WebhookConfig{Authentication: models.WebhookAuthBearerToken, BearerToken: "tok"},
			headers: http.Header{},
		},
		{
			name:    "basic auth",
			config:  &models.WebhookConfig{Authentication: models.WebhookAuthBasic, Username: "site", Password: "hunter2"},
			headers: http.Header{"Authorization": {basic}},
			allowed: true,
		},
		{
			name:    "basic auth with bearer header",
			config:  &models.WebhookConfig{Authentication: models.WebhookAuthBasic, Username: "site", Password: "hunter2"},
			headers: http.Header{"Authorization": {"Bearer hunter2"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.config.Path = "secure"
			evaluator, c := newEvaluator(t, hook(tt.config))

			tt.headers.Set("Content-Type", "application/json")

			_, err := evaluator.Receive(context.Background(), webhook.Request{
				Method:  http.MethodPost,
				Path:    "secure",
				Headers: tt.headers,
				Body:    []byte(`{}`),
			})

			if tt.allowed {
				require.NoError(t, err)
				assert.Len(t, c.intents, 1)

				return
			}

			require.ErrorIs(t, err, models.ErrUnauthorized)
			assert.Empty(t, c.intents)
		})
	}
}

func TestReceive_ContentTypes(t *testing.T) {
	t.Run("unsupported media type", func(t *testing.T) {
		evaluator, _ := newEvaluator(t, hook(&models.WebhookConfig{Path: "in"}))

		req := jsonRequest("in", "a=b")
		req.Headers.Set("Content-Type", "application/x-www-form-urlencoded")

		_, err := evaluator.Receive(context.Background(), req)
		assert.ErrorIs(t, err, models.ErrUnsupportedContentType)
	})

	t.Run("malformed json", func(t *testing.T) {
		evaluator, _ := newEvaluator(t, hook(&models.WebhookConfig{Path: "in"}))

		_, err := evaluator.Receive(context.Background(), jsonRequest("in", `{"a":`))
		assert.ErrorIs(t, err, models.ErrMalformedPayload)
	})

	t.Run("form", func(t *testing.T) {
		evaluator, c := newEvaluator(t, hook(&models.WebhookConfig{Path: "in", ContentType: models.ContentTypeForm}))

		req := jsonRequest("in", "site=north&crew=a&crew=b")
		req.Headers.Set("Content-Type", "application/x-www-form-urlencoded")

		_, err := evaluator.Receive(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"site": "north", "crew": []any{"a", "b"}}, c.intents[0].Payload["body"])
	})

	t.Run("xml", func(t *testing.T) {
		evaluator, c := newEvaluator(t, hook(&models.WebhookConfig{Path: "in", ContentType: models.ContentTypeXML}))

		req := jsonRequest("in", "<invoice><id>7</id></invoice>")
		req.Headers.Set("Content-Type", "application/xml; charset=utf-8")

		_, err := evaluator.Receive(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "<invoice><id>7</id></invoice>", c.intents[0].Payload["body"])

		req.Body = []byte("<invoice><id>7</invoice>")
		_, err = evaluator.Receive(context.Background(), req)
		assert.ErrorIs(t, err, models.ErrMalformedPayload)
	})

	t.Run("empty body skips media type", func(t *testing.T) {
		evaluator, c := newEvaluator(t, hook(&models.WebhookConfig{Path: "in"}))

		_, err := evaluator.Receive(context.Background(), webhook.Request{Method: http.MethodPost, Path: "in"})
		require.NoError(t, err)
		assert.Nil(t, c.intents[0].Payload["body"])
	})
}

func TestReceive_PayloadSchema(t *testing.T) {
	workflow := hook(&models.WebhookConfig{
		Path: "invoices",
		PayloadSchema: map[string]any{
			"type":     "object",
			"required": []any{"invoiceId", "amount"},
			"properties": map[string]any{
				"invoiceId": map[string]any{"type": "string"},
				"amount":    map[string]any{"type": "number"},
			},
		},
	})
	evaluator, c := newEvaluator(t, workflow)

	_, err := evaluator.Receive(context.Background(), jsonRequest("invoices", `{"invoiceId":"inv-1"}`))
	require.ErrorIs(t, err, models.ErrMalformedPayload)
	assert.Contains(t, err.Error(), "amount")

	_, err = evaluator.Receive(context.Background(), jsonRequest("invoices", `{"invoiceId":"inv-1","amount":1200.5}`))
	require.NoError(t, err)
	assert.Len(t, c.intents, 1)
}

func TestReceive_NotStarted(t *testing.T) {
	evaluator := webhook.NewEvaluator(nil, clockwork.NewFakeClock(), slog.Default())
	require.NoError(t, evaluator.Configure([]*models.Workflow{hook(&models.WebhookConfig{Path: "in"})}))

	_, err := evaluator.Receive(context.Background(), jsonRequest("in", `{}`))
	assert.ErrorIs(t, err, triggers.ErrNotStarted)
}
