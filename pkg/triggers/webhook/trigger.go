// Package webhook matches inbound HTTP requests to webhook-triggered
// workflows and turns accepted requests into fire intents.
package webhook

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/eventbus"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/models"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/triggers"
	"github.com/jonboulle/clockwork"
	"github.com/xeipuuv/gojsonschema"
)

const (
	// DefaultDedupeHeader is read when a webhook does not name its own.
	DefaultDedupeHeader = "X-Request-ID"

	maxFormMemory = 10 << 20
)

// Request is an inbound webhook call as received by the HTTP layer.
type Request struct {
	Method  string
	Path    string
	Headers http.Header
	Query   url.Values
	Body    []byte
}

type route struct {
	workflowID string
	tenantID   string
	config     *models.WebhookConfig
	schema     *gojsonschema.Schema
}

type Evaluator struct {
	publisher eventbus.EventPublisher
	clock     clockwork.Clock
	logger    *slog.Logger

	mu       sync.RWMutex
	routes   map[string]map[string]*route
	callback triggers.Callback
}

func NewEvaluator(publisher eventbus.EventPublisher, clock clockwork.Clock, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		publisher: publisher,
		clock:     clock,
		logger:    logger.With("module", "webhook_trigger"),
		routes:    make(map[string]map[string]*route),
	}
}

// NormalizePath strips surrounding slashes so "/a/b/" and "a/b" match.
func NormalizePath(path string) string {
	return strings.Trim(path, "/")
}

// Configure rebuilds the route table. When two workflows claim the same
// method and path the first one keeps it.
func (e *Evaluator) Configure(workflows []*models.Workflow) error {
	routes := make(map[string]map[string]*route)

	for _, workflow := range workflows {
		config, ok := workflow.Trigger.Webhook()
		if !ok || !workflow.IsActive {
			continue
		}

		r := &route{workflowID: workflow.ID, tenantID: workflow.TenantID, config: config}

		if config.PayloadSchema != nil {
			schema, err := config.CompileSchema()
			if err != nil {
				e.reject(context.Background(), r, fmt.Errorf("%w: invalid payload schema: %w", models.ErrConfiguration, err))

				continue
			}

			r.schema = schema
		}

		path := NormalizePath(config.Path)
		method := strings.ToUpper(config.Method)

		if routes[path] == nil {
			routes[path] = make(map[string]*route)
		}

		if existing, taken := routes[path][method]; taken {
			e.logger.Warn("Webhook path already registered",
				"path", path,
				"method", method,
				"workflow_id", workflow.ID,
				"registered_workflow_id", existing.workflowID)

			continue
		}

		routes[path][method] = r
	}

	e.mu.Lock()
	e.routes = routes
	e.mu.Unlock()

	e.logger.Info("Webhooks configured", "paths", len(routes))

	return nil
}

func (e *Evaluator) Start(_ context.Context, callback triggers.Callback) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.callback = callback

	return nil
}

func (e *Evaluator) Stop(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.callback = nil

	return nil
}

// Receive validates req against the webhook registered for its path and
// hands the resulting intent to the scheduler. Rejections wrap
// models.ErrTriggerRejected with the specific reason.
func (e *Evaluator) Receive(ctx context.Context, req Request) (models.Admission, error) {
	path := NormalizePath(req.Path)
	method := strings.ToUpper(req.Method)

	e.mu.RLock()
	methods, known := e.routes[path]
	r := methods[method]
	callback := e.callback
	e.mu.RUnlock()

	if callback == nil {
		return models.Admission{}, triggers.ErrNotStarted
	}

	if !known {
		return models.Admission{}, fmt.Errorf("%w: /%s", models.ErrUnknownWebhook, path)
	}

	if r == nil {
		return models.Admission{}, fmt.Errorf("%w: %s /%s", models.ErrMethodNotAllowed, method, path)
	}

	if !authenticate(r.config, req.Headers) {
		err := models.ErrUnauthorized
		e.reject(ctx, r, err)

		return models.Admission{}, err
	}

	body, err := parseBody(r.config.ContentType, req.Headers.Get("Content-Type"), req.Body)
	if err != nil {
		e.reject(ctx, r, err)

		return models.Admission{}, err
	}

	if r.schema != nil {
		if err := validateSchema(r.schema, body); err != nil {
			e.reject(ctx, r, err)

			return models.Admission{}, err
		}
	}

	intent := models.FireIntent{
		WorkflowID:  r.workflowID,
		TriggerKind: models.TriggerWebhook,
		Payload: map[string]any{
			"body":    body,
			"headers": flatten(req.Headers),
			"query":   flatten(req.Query),
			"method":  method,
			"path":    "/" + path,
		},
		FiredAt:   e.clock.Now(),
		DedupeKey: dedupeKey(r.config, req.Headers),
		Source:    "webhook:/" + path,
	}

	return callback(ctx, intent)
}

func (e *Evaluator) reject(ctx context.Context, r *route, reason error) {
	triggers.Reject(ctx, e.publisher, e.logger, e.clock.Now(), triggers.Rejection{
		Kind:       models.TriggerWebhook,
		WorkflowID: r.workflowID,
		TenantID:   r.tenantID,
		Source:     "webhook:/" + NormalizePath(r.config.Path),
		Reason:     reason,
	})
}

func authenticate(config *models.WebhookConfig, headers http.Header) bool {
	switch config.Authentication {
	case models.WebhookAuthAPIKey:
		header := config.APIKeyHeader
		if header == "" {
			header = models.DefaultAPIKeyHeader
		}

		return equal(headers.Get(header), config.APIKey)
	case models.WebhookAuthBearerToken:
		token, ok := strings.CutPrefix(headers.Get("Authorization"), "Bearer ")

		return ok && equal(token, config.BearerToken)
	case models.WebhookAuthBasic:
		req := http.Request{Header: headers}

		username, password, ok := req.BasicAuth()

		return ok && equal(username, config.Username) && equal(password, config.Password)
	default:
		return true
	}
}

func equal(got, want string) bool {
	return want != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func parseBody(contentType models.ContentType, header string, raw []byte) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}

	mediaType, params, err := mime.ParseMediaType(header)
	if err != nil || !slices.Contains(contentType.MediaTypes(), mediaType) {
		return nil, fmt.Errorf("%w: %q, want %s", models.ErrUnsupportedContentType, header, contentType)
	}

	switch contentType {
	case models.ContentTypeJSON:
		var body any
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("%w: %w", models.ErrMalformedPayload, err)
		}

		return body, nil
	case models.ContentTypeForm:
		return parseForm(mediaType, params, raw)
	case models.ContentTypeXML:
		if err := wellFormed(raw); err != nil {
			return nil, fmt.Errorf("%w: %w", models.ErrMalformedPayload, err)
		}

		return string(raw), nil
	default:
		return string(raw), nil
	}
}

func parseForm(mediaType string, params map[string]string, raw []byte) (any, error) {
	if mediaType == "multipart/form-data" {
		form, err := multipart.NewReader(bytes.NewReader(raw), params["boundary"]).ReadForm(maxFormMemory)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", models.ErrMalformedPayload, err)
		}

		defer func() {
			_ = form.RemoveAll()
		}()

		return flatten(form.Value), nil
	}

	values, err := url.ParseQuery(string(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrMalformedPayload, err)
	}

	return flatten(values), nil
}

func wellFormed(raw []byte) error {
	decoder := xml.NewDecoder(bytes.NewReader(raw))

	for {
		_, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return err
		}
	}
}

func validateSchema(schema *gojsonschema.Schema, body any) error {
	result, err := schema.Validate(gojsonschema.NewGoLoader(body))
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrMalformedPayload, err)
	}

	if result.Valid() {
		return nil
	}

	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}

	return fmt.Errorf("%w: %s", models.ErrMalformedPayload, strings.Join(details, "; "))
}

// flatten keeps single values as strings and repeated values as lists.
func flatten(values map[string][]string) map[string]any {
	out := make(map[string]any, len(values))

	for key, list := range values {
		switch len(list) {
		case 0:
		case 1:
			out[key] = list[0]
		default:
			items := make([]any, len(list))
			for i, v := range list {
				items[i] = v
			}

			out[key] = items
		}
	}

	return out
}

func dedupeKey(config *models.WebhookConfig, headers http.Header) string {
	header := config.DedupeHeader
	if header == "" {
		header = DefaultDedupeHeader
	}

	value := headers.Get(header)
	if value == "" {
		return ""
	}

	return "webhook:" + value
}
