// Package events defines the run lifecycle notifications the engine publishes
// and the domain events it consumes as trigger stimuli.
package events

import (
	"time"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topics.
const (
	LifecycleTopic = "cortex.automation.lifecycle"
	InboundTopic   = "cortex.automation.inbound"
)

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Admission outcomes.
	RunAdmittedEvent       EventType = "run.admitted"
	IntentIgnoredEvent     EventType = "intent.ignored"
	IntentRateLimitedEvent EventType = "intent.rate_limited"
	TriggerRejectedEvent   EventType = "trigger.rejected"

	// Run lifecycle.
	RunStartedEvent   EventType = "run.started"
	RunSucceededEvent EventType = "run.succeeded"
	RunFailedEvent    EventType = "run.failed"
	RunCancelledEvent EventType = "run.cancelled"

	// Step attempts.
	StepSucceededEvent EventType = "step.succeeded"
	StepRetryingEvent  EventType = "step.retrying"
	StepFailedEvent    EventType = "step.failed"

	// Inbound stimuli.
	DatabaseChangeEvent EventType = "database.change"
	UserActionEvent     EventType = "user.action"
)

// Event is anything published on the bus.
type Event interface {
	GetType() EventType
}

// TopicFor returns the topic events of type t travel on.
func TopicFor(t EventType) string {
	switch t {
	case DatabaseChangeEvent, UserActionEvent:
		return InboundTopic
	default:
		return LifecycleTopic
	}
}

// New returns an empty event of type t for decoding.
func New(t EventType) (Event, bool) {
	switch t {
	case RunAdmittedEvent, IntentIgnoredEvent, IntentRateLimitedEvent, TriggerRejectedEvent:
		return &IntentEvent{}, true
	case RunStartedEvent, RunSucceededEvent, RunFailedEvent, RunCancelledEvent:
		return &RunEvent{}, true
	case StepSucceededEvent, StepRetryingEvent, StepFailedEvent:
		return &StepEvent{}, true
	case DatabaseChangeEvent:
		return &DatabaseChange{}, true
	case UserActionEvent:
		return &UserAction{}, true
	default:
		return nil, false
	}
}

type BaseEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	WorkflowID string    `json:"workflowId,omitempty"`
	TenantID   string    `json:"tenantId,omitempty"`
}

func NewBaseEvent(eventType EventType, workflowID string, at time.Time) BaseEvent {
	return BaseEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		Timestamp:  at,
		WorkflowID: workflowID,
	}
}

func (e BaseEvent) GetType() EventType {
	return e.Type
}

// IntentEvent reports what admission did with a fire intent.
type IntentEvent struct {
	BaseEvent

	TriggerKind models.TriggerKind `json:"triggerKind"`
	Source      string             `json:"source,omitempty"`
	DedupeKey   string             `json:"dedupeKey,omitempty"`
	RunID       string             `json:"runId,omitempty"`
	Reason      string             `json:"reason,omitempty"`
}

// RunEvent reports a run status transition.
type RunEvent struct {
	BaseEvent

	RunID    string           `json:"runId"`
	Status   models.RunStatus `json:"status"`
	Duration time.Duration    `json:"duration,omitempty"`
	Failure  *models.Failure  `json:"failure,omitempty"`
}

// StepEvent reports the outcome of one step attempt.
type StepEvent struct {
	BaseEvent

	RunID      string            `json:"runId"`
	StepIndex  int               `json:"stepIndex"`
	ActionKind models.ActionKind `json:"actionKind"`
	Attempt    int               `json:"attempt"`
	Status     models.StepStatus `json:"status"`
	Error      string            `json:"error,omitempty"`
	RetryIn    time.Duration     `json:"retryIn,omitempty"`
}

// DatabaseChange is a row-level change reported by the platform's change feed.
// Offset is the feed position and identifies the change across redeliveries.
type DatabaseChange struct {
	BaseEvent

	Table     string                 `json:"table"     validate:"required"`
	Operation models.ChangeOperation `json:"operation" validate:"required,oneof=insert update delete"`
	Row       map[string]any         `json:"row"`
	Old       map[string]any         `json:"old,omitempty"`
	Offset    string                 `json:"offset,omitempty"`
}

// UserAction is a domain event performed by a platform user.
type UserAction struct {
	BaseEvent

	Action    string         `json:"action" validate:"required"`
	UserID    string         `json:"userId"`
	UserRole  string         `json:"userRole"`
	CompanyID string         `json:"companyId,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}
