package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ActionKind names the side effect an action performs.
type ActionKind string

const (
	ActionEmail            ActionKind = "email"
	ActionSMS              ActionKind = "sms"
	ActionAPICall          ActionKind = "api_call"
	ActionDatabaseOp       ActionKind = "database_op"
	ActionChatNotification ActionKind = "chat_notification"
	ActionCreateRecord     ActionKind = "create_record"
	ActionWebhook          ActionKind = "webhook"
)

var ErrUnknownActionKind = errors.New("unknown action kind")

// ActionConfig is implemented by the kind-specific action configurations.
type ActionConfig interface {
	ActionKind() ActionKind
}

// RetryPolicy bounds the attempts of an action. Attempt n+1 waits
// RetryDelaySeconds * BackoffMultiplier^(n-1) after attempt n fails.
type RetryPolicy struct {
	MaxRetries        int     `json:"maxRetries"        validate:"min=0,max=20"`
	RetryDelaySeconds int     `json:"retryDelaySeconds" validate:"gt=0,max=86400"`
	BackoffMultiplier float64 `json:"backoffMultiplier" validate:"gte=1,lte=10"`
}

// DefaultRetryPolicy applies to actions saved without a retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, RetryDelaySeconds: 5, BackoffMultiplier: 1}
}

// MaxAttempts is the total number of attempts the policy allows.
func (p RetryPolicy) MaxAttempts() int {
	return p.MaxRetries + 1
}

// Delay returns the wait after the given failed attempt, capped at maxDelay when positive.
func (p RetryPolicy) Delay(failedAttempt int, maxDelay time.Duration) time.Duration {
	if failedAttempt < 1 {
		failedAttempt = 1
	}

	multiplier := p.BackoffMultiplier
	if multiplier < 1 {
		multiplier = 1
	}

	nanos := float64(p.RetryDelaySeconds) * math.Pow(multiplier, float64(failedAttempt-1)) * float64(time.Second)

	if maxDelay > 0 && nanos > float64(maxDelay) {
		return maxDelay
	}

	if nanos > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}

	return time.Duration(nanos)
}

// Action is one ordered step of a workflow. It is encoded as
// {"kind", "name", "config": {...}, "retryPolicy": {...}, "timeoutSeconds"}.
type Action struct {
	Kind           ActionKind
	Name           string
	Config         ActionConfig
	RetryPolicy    *RetryPolicy
	TimeoutSeconds int
}

// NewAction wraps an action configuration, deriving its kind.
func NewAction(config ActionConfig) Action {
	return Action{Kind: config.ActionKind(), Config: config}
}

type actionEnvelope struct {
	Kind           ActionKind      `json:"kind"`
	Name           string          `json:"name,omitempty"`
	Config         json.RawMessage `json:"config"`
	RetryPolicy    *RetryPolicy    `json:"retryPolicy,omitempty"`
	TimeoutSeconds int             `json:"timeoutSeconds,omitempty"`
}

func (a Action) MarshalJSON() ([]byte, error) {
	config, err := json.Marshal(a.Config)
	if err != nil {
		return nil, err
	}

	return json.Marshal(actionEnvelope{
		Kind:           a.Kind,
		Name:           a.Name,
		Config:         config,
		RetryPolicy:    a.RetryPolicy,
		TimeoutSeconds: a.TimeoutSeconds,
	})
}

func (a *Action) UnmarshalJSON(data []byte) error {
	var envelope actionEnvelope

	if err := json.Unmarshal(data, &envelope); err != nil {
		return err
	}

	config, err := NewActionConfig(envelope.Kind)
	if err != nil {
		return err
	}

	if len(envelope.Config) > 0 && string(envelope.Config) != "null" {
		if err := json.Unmarshal(envelope.Config, config); err != nil {
			return fmt.Errorf("invalid %s action config: %w", envelope.Kind, err)
		}
	}

	a.Kind = envelope.Kind
	a.Name = envelope.Name
	a.Config = config
	a.RetryPolicy = envelope.RetryPolicy
	a.TimeoutSeconds = envelope.TimeoutSeconds

	return nil
}

// NewActionConfig returns an empty configuration for kind.
func NewActionConfig(kind ActionKind) (ActionConfig, error) {
	switch kind {
	case ActionEmail:
		return &EmailConfig{}, nil
	case ActionSMS:
		return &SMSConfig{}, nil
	case ActionAPICall:
		return &APICallConfig{}, nil
	case ActionDatabaseOp:
		return &DatabaseOpConfig{}, nil
	case ActionChatNotification:
		return &ChatConfig{}, nil
	case ActionCreateRecord:
		return &CreateRecordConfig{}, nil
	case ActionWebhook:
		return &WebhookActionConfig{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownActionKind, kind)
	}
}

// Retry returns the effective retry policy.
func (a Action) Retry() RetryPolicy {
	if a.RetryPolicy == nil {
		return DefaultRetryPolicy()
	}

	return *a.RetryPolicy
}

// Timeout returns the per-attempt timeout, or fallback when unset.
func (a Action) Timeout(fallback time.Duration) time.Duration {
	if a.TimeoutSeconds > 0 {
		return time.Duration(a.TimeoutSeconds) * time.Second
	}

	return fallback
}

func (a *Action) applyDefaults() {
	if a.RetryPolicy == nil {
		policy := DefaultRetryPolicy()
		a.RetryPolicy = &policy
	} else {
		if a.RetryPolicy.RetryDelaySeconds == 0 {
			a.RetryPolicy.RetryDelaySeconds = DefaultRetryPolicy().RetryDelaySeconds
		}

		if a.RetryPolicy.BackoffMultiplier == 0 {
			a.RetryPolicy.BackoffMultiplier = 1
		}
	}

	switch config := a.Config.(type) {
	case *APICallConfig:
		config.Method = strings.ToUpper(config.Method)
	case *WebhookActionConfig:
		config.Method = strings.ToUpper(config.Method)
		if config.Method == "" {
			config.Method = "POST"
		}
	case *CreateRecordConfig:
		if config.RecordType == "" {
			config.RecordType = "project"
		}
	}
}

// EmailConfig sends an email through the host's email sender.
type EmailConfig struct {
	To          string `json:"to"                    validate:"required,tmplemails"`
	Subject     string `json:"subject"               validate:"required,max=500"`
	Template    string `json:"template,omitempty"`
	HTMLContent string `json:"htmlContent,omitempty"`
	Body        string `json:"body,omitempty"`
}

func (*EmailConfig) ActionKind() ActionKind { return ActionEmail }

func (c *EmailConfig) validate() error {
	if c.Body == "" && c.HTMLContent == "" && c.Template == "" {
		return errors.New("email requires body, htmlContent or template")
	}

	return nil
}

// SMSConfig sends a text message through the host's SMS sender.
type SMSConfig struct {
	To      string `json:"to"      validate:"required"`
	Message string `json:"message" validate:"required,max=1600"`
}

func (*SMSConfig) ActionKind() ActionKind { return ActionSMS }

// APICallConfig performs an HTTP request against an external API.
type APICallConfig struct {
	Method         string            `json:"method"                   validate:"required,oneof=GET POST PUT PATCH DELETE"`
	URL            string            `json:"url"                      validate:"required,tmplurl"`
	Headers        map[string]string `json:"headers,omitempty"`
	Body           any               `json:"body,omitempty"`
	TimeoutSeconds int               `json:"timeoutSeconds,omitempty" validate:"min=0,max=300"`
}

func (*APICallConfig) ActionKind() ActionKind { return ActionAPICall }

// DatabaseOperation is the statement a database action issues.
type DatabaseOperation string

const (
	DatabaseInsert DatabaseOperation = "insert"
	DatabaseUpdate DatabaseOperation = "update"
	DatabaseDelete DatabaseOperation = "delete"
	DatabaseUpsert DatabaseOperation = "upsert"
)

// DatabaseOpConfig mutates rows of a named table. Conditions are equality
// comparisons joined with AND.
type DatabaseOpConfig struct {
	Table        string            `json:"table"                  validate:"required,identifier"`
	Operation    DatabaseOperation `json:"operation"              validate:"required,oneof=insert update delete upsert"`
	Data         map[string]any    `json:"data,omitempty"`
	Conditions   map[string]any    `json:"conditions,omitempty"`
	ConflictKeys []string          `json:"conflictKeys,omitempty" validate:"omitempty,dive,identifier"`
}

func (*DatabaseOpConfig) ActionKind() ActionKind { return ActionDatabaseOp }

func (c *DatabaseOpConfig) validate() error {
	switch c.Operation {
	case DatabaseInsert:
		if len(c.Data) == 0 {
			return errors.New("insert requires data")
		}
	case DatabaseUpdate:
		if len(c.Data) == 0 || len(c.Conditions) == 0 {
			return errors.New("update requires data and conditions")
		}
	case DatabaseDelete:
		if len(c.Conditions) == 0 {
			return errors.New("delete requires conditions")
		}
	case DatabaseUpsert:
		if len(c.Data) == 0 || len(c.ConflictKeys) == 0 {
			return errors.New("upsert requires data and conflictKeys")
		}
	}

	for column := range c.Data {
		if !IsIdentifier(column) {
			return fmt.Errorf("invalid column %q", column)
		}
	}

	for column := range c.Conditions {
		if !IsIdentifier(column) {
			return fmt.Errorf("invalid condition column %q", column)
		}
	}

	return nil
}

// ChatConfig posts a message to a chat channel through an incoming webhook.
type ChatConfig struct {
	Channel       string `json:"channel,omitempty"`
	Message       string `json:"message"                 validate:"required,max=4000"`
	WebhookURL    string `json:"webhookUrl"              validate:"required,tmplurl"`
	AllowMentions bool   `json:"allowMentions,omitempty"`
}

func (*ChatConfig) ActionKind() ActionKind { return ActionChatNotification }

// CreateRecordConfig creates a domain record such as a project or task.
type CreateRecordConfig struct {
	RecordType  string         `json:"recordType"            validate:"required,oneof=project task"`
	Name        string         `json:"name"                  validate:"required,max=200"`
	Description string         `json:"description,omitempty"`
	ClientID    string         `json:"clientId,omitempty"`
	Template    string         `json:"template,omitempty"`
	Fields      map[string]any `json:"fields,omitempty"`
}

func (*CreateRecordConfig) ActionKind() ActionKind { return ActionCreateRecord }

func (c *CreateRecordConfig) validate() error {
	for column := range c.Fields {
		if !IsIdentifier(column) {
			return fmt.Errorf("invalid field %q", column)
		}
	}

	return nil
}

// WebhookActionConfig delivers a payload to an outbound webhook.
type WebhookActionConfig struct {
	URL     string            `json:"url"               validate:"required,tmplurl"`
	Method  string            `json:"method"            validate:"required,oneof=POST PUT PATCH"`
	Headers map[string]string `json:"headers,omitempty"`
	Payload any               `json:"payload,omitempty"`

	// Secret signs the body with HMAC-SHA256 when set.
	Secret string `json:"secret,omitempty"`
}

func (*WebhookActionConfig) ActionKind() ActionKind { return ActionWebhook }
