package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// TriggerKind names the external condition that starts a workflow.
type TriggerKind string

const (
	TriggerSchedule       TriggerKind = "schedule"
	TriggerWebhook        TriggerKind = "webhook"
	TriggerDatabaseChange TriggerKind = "database_change"
	TriggerUserAction     TriggerKind = "user_action"
	TriggerManual         TriggerKind = "manual"
)

var ErrUnknownTriggerKind = errors.New("unknown trigger kind")

// TriggerConfig is implemented by the kind-specific trigger configurations.
type TriggerConfig interface {
	TriggerKind() TriggerKind
}

// Trigger is a closed tagged union over the supported trigger configurations.
// It is encoded as {"kind": ..., "config": {...}}.
type Trigger struct {
	Kind   TriggerKind
	Config TriggerConfig
}

// NewTrigger wraps a trigger configuration, deriving its kind.
func NewTrigger(config TriggerConfig) Trigger {
	return Trigger{Kind: config.TriggerKind(), Config: config}
}

type triggerEnvelope struct {
	Kind   TriggerKind     `json:"kind"`
	Config json.RawMessage `json:"config,omitempty"`
}

func (t Trigger) MarshalJSON() ([]byte, error) {
	config, err := json.Marshal(t.Config)
	if err != nil {
		return nil, err
	}

	return json.Marshal(triggerEnvelope{Kind: t.Kind, Config: config})
}

func (t *Trigger) UnmarshalJSON(data []byte) error {
	var envelope triggerEnvelope

	if err := json.Unmarshal(data, &envelope); err != nil {
		return err
	}

	config, err := newTriggerConfig(envelope.Kind)
	if err != nil {
		return err
	}

	if len(envelope.Config) > 0 && string(envelope.Config) != "null" {
		if err := json.Unmarshal(envelope.Config, config); err != nil {
			return fmt.Errorf("invalid %s trigger config: %w", envelope.Kind, err)
		}
	}

	t.Kind = envelope.Kind
	t.Config = config

	return nil
}

func newTriggerConfig(kind TriggerKind) (TriggerConfig, error) {
	switch kind {
	case TriggerSchedule:
		return &ScheduleConfig{}, nil
	case TriggerWebhook:
		return &WebhookConfig{}, nil
	case TriggerDatabaseChange:
		return &DatabaseChangeConfig{}, nil
	case TriggerUserAction:
		return &UserActionConfig{}, nil
	case TriggerManual:
		return &ManualConfig{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTriggerKind, kind)
	}
}

func (t *Trigger) applyDefaults() {
	switch config := t.Config.(type) {
	case *ScheduleConfig:
		if config.Timezone == "" {
			config.Timezone = "UTC"
		}
	case *WebhookConfig:
		if config.Authentication == "" {
			config.Authentication = WebhookAuthNone
		}

		if config.Authentication == WebhookAuthAPIKey && config.APIKeyHeader == "" {
			config.APIKeyHeader = DefaultAPIKeyHeader
		}

		if config.ContentType == "" {
			config.ContentType = ContentTypeJSON
		}

		config.Method = strings.ToUpper(config.Method)
		config.Path = strings.Trim(config.Path, "/")
	case *UserActionConfig:
		if config.UserRole == "" {
			config.UserRole = RoleAny
		}
	}
}

// Schedule returns the schedule configuration when the trigger is a schedule.
func (t Trigger) Schedule() (*ScheduleConfig, bool) {
	config, ok := t.Config.(*ScheduleConfig)

	return config, ok
}

// Webhook returns the webhook configuration when the trigger is a webhook.
func (t Trigger) Webhook() (*WebhookConfig, bool) {
	config, ok := t.Config.(*WebhookConfig)

	return config, ok
}

// DatabaseChange returns the change-feed configuration when the trigger is a database change.
func (t Trigger) DatabaseChange() (*DatabaseChangeConfig, bool) {
	config, ok := t.Config.(*DatabaseChangeConfig)

	return config, ok
}

// UserAction returns the user action configuration when the trigger is a user action.
func (t Trigger) UserAction() (*UserActionConfig, bool) {
	config, ok := t.Config.(*UserActionConfig)

	return config, ok
}

// WebhookAuth is the authentication mode of a webhook trigger.
type WebhookAuth string

const (
	WebhookAuthNone        WebhookAuth = "none"
	WebhookAuthAPIKey      WebhookAuth = "api_key"
	WebhookAuthBearerToken WebhookAuth = "bearer_token"
	WebhookAuthBasic       WebhookAuth = "basic_auth"
)

const DefaultAPIKeyHeader = "X-API-Key"

// ContentType is the body format a webhook trigger accepts.
type ContentType string

const (
	ContentTypeJSON ContentType = "json"
	ContentTypeForm ContentType = "form"
	ContentTypeText ContentType = "text"
	ContentTypeXML  ContentType = "xml"
)

// MediaTypes lists the request media types accepted for the content type.
func (c ContentType) MediaTypes() []string {
	switch c {
	case ContentTypeJSON:
		return []string{"application/json"}
	case ContentTypeForm:
		return []string{"application/x-www-form-urlencoded", "multipart/form-data"}
	case ContentTypeText:
		return []string{"text/plain"}
	case ContentTypeXML:
		return []string{"application/xml", "text/xml"}
	default:
		return nil
	}
}

// WebhookConfig fires a workflow on an inbound request to /webhook/{path}.
type WebhookConfig struct {
	Method         string         `json:"method"                  validate:"required,oneof=GET POST PUT PATCH DELETE"`
	Path           string         `json:"path"                    validate:"required,max=200,webhookpath"`
	Authentication WebhookAuth    `json:"authentication"          validate:"required,oneof=none api_key bearer_token basic_auth"`
	APIKeyHeader   string         `json:"apiKeyHeader,omitempty"`
	APIKey         string         `json:"apiKey,omitempty"`
	BearerToken    string         `json:"bearerToken,omitempty"`
	Username       string         `json:"username,omitempty"`
	Password       string         `json:"password,omitempty"`
	ContentType    ContentType    `json:"contentType"             validate:"required,oneof=json form text xml"`
	DedupeHeader   string         `json:"dedupeHeader,omitempty"`
	PayloadSchema  map[string]any `json:"payloadSchema,omitempty"`
}

func (*WebhookConfig) TriggerKind() TriggerKind { return TriggerWebhook }

func (c *WebhookConfig) validate() error {
	switch c.Authentication {
	case WebhookAuthAPIKey:
		if c.APIKey == "" || c.APIKeyHeader == "" {
			return errors.New("api_key authentication requires apiKey and apiKeyHeader")
		}
	case WebhookAuthBearerToken:
		if c.BearerToken == "" {
			return errors.New("bearer_token authentication requires bearerToken")
		}
	case WebhookAuthBasic:
		if c.Username == "" || c.Password == "" {
			return errors.New("basic_auth authentication requires username and password")
		}
	}

	if c.PayloadSchema != nil {
		if _, err := c.CompileSchema(); err != nil {
			return fmt.Errorf("invalid payloadSchema: %w", err)
		}
	}

	return nil
}

// CompileSchema loads the JSON schema the request body must satisfy.
func (c *WebhookConfig) CompileSchema() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(c.PayloadSchema))
}

// ChangeOperation is a row-level change reported by the change feed.
type ChangeOperation string

const (
	ChangeInsert ChangeOperation = "insert"
	ChangeUpdate ChangeOperation = "update"
	ChangeDelete ChangeOperation = "delete"
)

// DatabaseChangeConfig fires a workflow for changes to one table.
// Filter is an optional boolean predicate over the changed row, e.g. `status == "overdue" && amount > 1000`.
type DatabaseChangeConfig struct {
	Table  string            `json:"table"            validate:"required,identifier"`
	Events []ChangeOperation `json:"events"           validate:"required,min=1,dive,oneof=insert update delete"`
	Filter string            `json:"filter,omitempty" validate:"max=2000"`
}

func (*DatabaseChangeConfig) TriggerKind() TriggerKind { return TriggerDatabaseChange }

// Matches reports whether the operation is one of the configured events.
func (c *DatabaseChangeConfig) Matches(operation ChangeOperation) bool {
	for _, event := range c.Events {
		if event == operation {
			return true
		}
	}

	return false
}

func (c *DatabaseChangeConfig) validate() error {
	if c.Filter == "" {
		return nil
	}

	if _, err := CompileFilter(c.Filter); err != nil {
		return fmt.Errorf("invalid filter: %w", err)
	}

	return nil
}

const RoleAny = "any"

// UserActionConfig fires a workflow for domain events performed by users.
type UserActionConfig struct {
	Action    string `json:"action"              validate:"required,oneof=login logout register project_create task_complete document_upload payment_received"`
	UserRole  string `json:"userRole"            validate:"required,oneof=any super_admin company_admin project_manager supervisor operative"`
	CompanyID string `json:"companyId,omitempty"`
}

func (*UserActionConfig) TriggerKind() TriggerKind { return TriggerUserAction }

// ManualConfig carries no settings; manual triggers only fire on explicit invocation.
type ManualConfig struct{}

func (*ManualConfig) TriggerKind() TriggerKind { return TriggerManual }
