// Package useraction fires workflows for domain events performed by users,
// such as a completed task or a received payment.
package useraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/eventbus"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/events"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/models"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/triggers"
	"github.com/jonboulle/clockwork"
)

const source = "user_action"

type route struct {
	workflowID string
	tenantID   string
	config     *models.UserActionConfig
}

type Evaluator struct {
	publisher eventbus.EventPublisher
	clock     clockwork.Clock
	logger    *slog.Logger

	mu       sync.RWMutex
	routes   map[string][]*route
	callback triggers.Callback
}

func NewEvaluator(publisher eventbus.EventPublisher, clock clockwork.Clock, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		publisher: publisher,
		clock:     clock,
		logger:    logger.With("module", "useraction_trigger"),
		routes:    make(map[string][]*route),
	}
}

func (e *Evaluator) Configure(workflows []*models.Workflow) error {
	routes := make(map[string][]*route)

	for _, workflow := range workflows {
		config, ok := workflow.Trigger.UserAction()
		if !ok || !workflow.IsActive {
			continue
		}

		routes[config.Action] = append(routes[config.Action], &route{
			workflowID: workflow.ID,
			tenantID:   workflow.TenantID,
			config:     config,
		})
	}

	e.mu.Lock()
	e.routes = routes
	e.mu.Unlock()

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

// Matches reports whether a user action satisfies a trigger's filters.
func Matches(config *models.UserActionConfig, tenantID string, action *events.UserAction) bool {
	if action.Action != config.Action {
		return false
	}

	if action.TenantID == "" || action.TenantID != tenantID {
		return false
	}

	if config.UserRole != models.RoleAny && config.UserRole != action.UserRole {
		return false
	}

	return config.CompanyID == "" || config.CompanyID == action.CompanyID
}

// Handle is the event bus handler for user action events.
func (e *Evaluator) Handle(ctx context.Context, event events.Event) error {
	action, ok := event.(*events.UserAction)
	if !ok {
		return nil
	}

	e.mu.RLock()
	routes := e.routes[action.Action]
	callback := e.callback
	e.mu.RUnlock()

	if callback == nil {
		return triggers.ErrNotStarted
	}

	if reason := malformed(action); reason != "" {
		triggers.Reject(ctx, e.publisher, e.logger, e.clock.Now(), triggers.Rejection{
			Kind:     models.TriggerUserAction,
			TenantID: action.TenantID,
			Source:   source,
			Reason:   fmt.Errorf("%w: %s", models.ErrMalformedPayload, reason),
		})

		return nil
	}

	var errs []error

	for _, r := range routes {
		if !Matches(r.config, r.tenantID, action) {
			continue
		}

		intent := models.FireIntent{
			WorkflowID:  r.workflowID,
			TriggerKind: models.TriggerUserAction,
			Payload: map[string]any{
				"action":    action.Action,
				"userId":    action.UserID,
				"userRole":  action.UserRole,
				"companyId": action.CompanyID,
				"data":      action.Data,
			},
			FiredAt:   e.clock.Now(),
			DedupeKey: "useraction:" + action.ID,
			Source:    source + ":" + action.Action,
		}

		_, err := callback(ctx, intent)

		switch {
		case err == nil:
		case errors.Is(err, models.ErrTriggerRejected), errors.Is(err, models.ErrRateLimitExceeded):
			e.logger.InfoContext(ctx, "Intent not admitted", "workflow_id", r.workflowID, "error", err)
		default:
			errs = append(errs, fmt.Errorf("workflow %s: %w", r.workflowID, err))
		}
	}

	return errors.Join(errs...)
}

func malformed(action *events.UserAction) string {
	switch {
	case action.Action == "":
		return "missing action"
	case action.TenantID == "":
		return "missing tenant"
	default:
		return ""
	}
}
