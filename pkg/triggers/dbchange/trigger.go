// Package dbchange fires workflows for row-level changes published on the
// inbound event topic.
package dbchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/eventbus"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/events"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/models"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/triggers"
	"github.com/jonboulle/clockwork"
)

const source = "database_change"

var ErrMalformedChange = fmt.Errorf("%w: malformed database change", models.ErrMalformedPayload)

type route struct {
	workflowID string
	tenantID   string
	config     *models.DatabaseChangeConfig
	filter     *models.Filter
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
		logger:    logger.With("module", "dbchange_trigger"),
		routes:    make(map[string][]*route),
	}
}

// Configure compiles the filters of database-change workflows, indexed by table.
func (e *Evaluator) Configure(workflows []*models.Workflow) error {
	routes := make(map[string][]*route)

	for _, workflow := range workflows {
		config, ok := workflow.Trigger.DatabaseChange()
		if !ok || !workflow.IsActive {
			continue
		}

		r := &route{workflowID: workflow.ID, tenantID: workflow.TenantID, config: config}

		if config.Filter != "" {
			filter, err := models.CompileFilter(config.Filter)
			if err != nil {
				triggers.Reject(context.Background(), e.publisher, e.logger, e.clock.Now(), triggers.Rejection{
					Kind:       models.TriggerDatabaseChange,
					WorkflowID: workflow.ID,
					TenantID:   workflow.TenantID,
					Source:     source,
					Reason:     fmt.Errorf("%w: invalid filter: %w", models.ErrConfiguration, err),
				})

				continue
			}

			r.filter = filter
		}

		routes[config.Table] = append(routes[config.Table], r)
	}

	e.mu.Lock()
	e.routes = routes
	e.mu.Unlock()

	e.logger.Info("Database change triggers configured", "tables", len(routes))

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

// Handle is the event bus handler for database change events. Malformed
// changes are dropped; only scheduler infrastructure failures are returned
// so the message is redelivered.
func (e *Evaluator) Handle(ctx context.Context, event events.Event) error {
	change, ok := event.(*events.DatabaseChange)
	if !ok {
		return nil
	}

	e.mu.RLock()
	routes := e.routes[change.Table]
	callback := e.callback
	e.mu.RUnlock()

	if callback == nil {
		return triggers.ErrNotStarted
	}

	if err := validate(change); err != nil {
		triggers.Reject(ctx, e.publisher, e.logger, e.clock.Now(), triggers.Rejection{
			Kind:     models.TriggerDatabaseChange,
			TenantID: change.TenantID,
			Source:   source,
			Reason:   err,
		})

		return nil
	}

	env := Env(change)

	var errs []error

	for _, r := range routes {
		if change.TenantID != r.tenantID {
			continue
		}

		if !r.config.Matches(change.Operation) {
			continue
		}

		if r.filter != nil {
			matched, err := r.filter.Match(env)
			if err != nil {
				e.logger.WarnContext(ctx, "Filter evaluation failed", "workflow_id", r.workflowID, "error", err)

				continue
			}

			if !matched {
				continue
			}
		}

		intent := models.FireIntent{
			WorkflowID:  r.workflowID,
			TriggerKind: models.TriggerDatabaseChange,
			Payload: map[string]any{
				"table":     change.Table,
				"operation": string(change.Operation),
				"row":       change.Row,
				"old":       change.Old,
				"offset":    change.Offset,
			},
			FiredAt:   e.clock.Now(),
			DedupeKey: "dbchange:" + dedupeID(change),
			Source:    source + ":" + change.Table,
		}

		if _, err := callback(ctx, intent); err != nil && !expected(err) {
			errs = append(errs, fmt.Errorf("workflow %s: %w", r.workflowID, err))
		} else if err != nil {
			e.logger.InfoContext(ctx, "Intent not admitted", "workflow_id", r.workflowID, "error", err)
		}
	}

	return errors.Join(errs...)
}

func expected(err error) bool {
	return errors.Is(err, models.ErrTriggerRejected) || errors.Is(err, models.ErrRateLimitExceeded)
}

func validate(change *events.DatabaseChange) error {
	if change.Table == "" {
		return fmt.Errorf("%w: missing table", ErrMalformedChange)
	}

	if change.TenantID == "" {
		return fmt.Errorf("%w: missing tenant", ErrMalformedChange)
	}

	switch change.Operation {
	case models.ChangeInsert, models.ChangeUpdate, models.ChangeDelete:
		return nil
	default:
		return fmt.Errorf("%w: unknown operation %q", ErrMalformedChange, change.Operation)
	}
}

func dedupeID(change *events.DatabaseChange) string {
	if change.Offset != "" {
		return change.Table + ":" + change.Offset
	}

	return change.ID
}

// Env is what a filter sees: the row's columns at the top level plus row,
// old, operation and table. Reserved names win over columns.
func Env(change *events.DatabaseChange) map[string]any {
	env := make(map[string]any, len(change.Row)+4)
	maps.Copy(env, change.Row)

	env["row"] = change.Row
	env["old"] = change.Old
	env["operation"] = string(change.Operation)
	env["table"] = change.Table

	return env
}
