package services

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/models"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/persistence"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/triggers/webhook"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// ChangeFunc is called after a workflow is saved or deleted.
type ChangeFunc func(ctx context.Context)

type Workflow struct {
	persistence persistence.Persistence
	validate    *validator.Validate
	clock       clockwork.Clock

	mu        sync.RWMutex
	listeners []ChangeFunc
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(persistence persistence.Persistence, clock clockwork.Clock) *Workflow {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Workflow{
		persistence: persistence,
		validate:    models.NewValidator(),
		clock:       clock,
	}
}

// OnChange registers fn to run after every successful write.
func (w *Workflow) OnChange(fn ChangeFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.listeners = append(w.listeners, fn)
}

func (w *Workflow) changed(ctx context.Context) {
	w.mu.RLock()
	listeners := slices.Clone(w.listeners)
	w.mu.RUnlock()

	for _, fn := range listeners {
		fn(ctx)
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// ListWorkflowsRequest contains options for listing workflows.
type ListWorkflowsRequest struct {
	// Pagination
	Limit  int `validate:"min=1,max=100"`
	Offset int `validate:"min=0"`

	// Filtering
	TenantID string
	Active   *bool

	// Sorting
	SortBy    string `validate:"oneof=created_at updated_at name"`
	SortOrder string `validate:"oneof=asc desc"`
}

// ListWorkflowsResponse contains the result of listing workflows.
type ListWorkflowsResponse struct {
	Workflows   []*models.Workflow `json:"workflows"`
	TotalCount  int64              `json:"totalCount"`
	HasNextPage bool               `json:"hasNextPage"`
}

// ListWorkflows retrieves workflows with filtering, sorting, and pagination.
func (w *Workflow) ListWorkflows(ctx context.Context, req ListWorkflowsRequest) (*ListWorkflowsResponse, error) {
	if err := w.validateListWorkflowsRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	all, err := w.persistence.WorkflowRepository().GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	filtered := make([]*models.Workflow, 0, len(all))

	for _, workflow := range all {
		if req.TenantID != "" && workflow.TenantID != req.TenantID {
			continue
		}

		if req.Active != nil && workflow.IsActive != *req.Active {
			continue
		}

		filtered = append(filtered, workflow)
	}

	slices.SortStableFunc(filtered, func(a, b *models.Workflow) int {
		var c int

		switch req.SortBy {
		case "name":
			c = strings.Compare(a.Name, b.Name)
		case "updated_at":
			c = a.UpdatedAt.Compare(b.UpdatedAt)
		default:
			c = a.CreatedAt.Compare(b.CreatedAt)
		}

		if c == 0 {
			c = cmp.Compare(a.ID, b.ID)
		}

		if req.SortOrder == "desc" {
			return -c
		}

		return c
	})

	total := len(filtered)
	start := min(req.Offset, total)
	end := min(start+req.Limit, total)

	return &ListWorkflowsResponse{
		Workflows:   filtered[start:end],
		TotalCount:  int64(total),
		HasNextPage: end < total,
	}, nil
}

// validateListWorkflowsRequest validates and sets defaults for the request.
func (w *Workflow) validateListWorkflowsRequest(req *ListWorkflowsRequest) error {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	if req.Limit > 100 {
		req.Limit = 100
	}

	if req.Offset < 0 {
		req.Offset = 0
	}

	if req.SortBy == "" {
		req.SortBy = "created_at"
	}

	if req.SortOrder == "" {
		req.SortOrder = "desc"
	}

	allowedSorts := []string{"created_at", "updated_at", "name"}

	if !slices.Contains(allowedSorts, req.SortBy) {
		return NewValidationError(
			"validateListWorkflowsRequest",
			"INVALID_SORT_FIELD",
			fmt.Sprintf("invalid sort field '%s', allowed: %s", req.SortBy, strings.Join(allowedSorts, ", ")),
			ErrInvalidSortField,
		)
	}

	if req.SortOrder != "asc" && req.SortOrder != "desc" {
		return NewValidationError(
			"validateListWorkflowsRequest",
			"INVALID_SORT_ORDER",
			fmt.Sprintf("invalid sort order '%s', allowed: asc, desc", req.SortOrder),
			ErrInvalidSortOrder,
		)
	}

	req.TenantID = strings.TrimSpace(req.TenantID)

	return nil
}

// FetchByID retrieves a workflow by its ID.
func (w *Workflow) FetchByID(ctx context.Context, id string) (*models.Workflow, error) {
	return w.persistence.WorkflowRepository().GetByID(ctx, id)
}

// Create validates and stores a new workflow.
func (w *Workflow) Create(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	if workflow == nil {
		return nil, ErrWorkflowNil
	}

	now := w.now()
	workflow.ID = uuid.New().String()
	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	if err := w.check(ctx, workflow); err != nil {
		return nil, err
	}

	if err := w.persistence.WorkflowRepository().Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	w.changed(ctx)

	return workflow, nil
}

// Update replaces an existing workflow by its ID. Runs already admitted keep
// the actions they were admitted with.
func (w *Workflow) Update(
	ctx context.Context,
	workflowID string,
	workflow *models.Workflow,
) (*models.Workflow, error) {
	if workflow == nil {
		return nil, ErrWorkflowNil
	}

	existing, err := w.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	workflow.ID = workflowID
	workflow.CreatedAt = existing.CreatedAt
	workflow.UpdatedAt = w.now()

	if err := w.check(ctx, workflow); err != nil {
		return nil, err
	}

	if err := w.persistence.WorkflowRepository().Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	w.changed(ctx)

	return workflow, nil
}

// Delete removes a workflow and its schedule bookkeeping.
func (w *Workflow) Delete(ctx context.Context, workflowID string) error {
	if _, err := w.persistence.WorkflowRepository().GetByID(ctx, workflowID); err != nil {
		return err
	}

	if err := w.persistence.WorkflowRepository().Delete(ctx, workflowID); err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	err := w.persistence.ScheduleStateRepository().Delete(ctx, workflowID)
	if err != nil && !persistence.IsScheduleStateNotFound(err) {
		return fmt.Errorf("failed to delete schedule state: %w", err)
	}

	w.changed(ctx)

	return nil
}

func (w *Workflow) check(ctx context.Context, workflow *models.Workflow) error {
	workflow.TenantID = strings.TrimSpace(workflow.TenantID)
	if workflow.TenantID == "" {
		return ErrEmptyTenantID
	}

	workflow.ApplyDefaults()

	if err := workflow.Validate(w.validate); err != nil {
		return NewValidationError("validateWorkflow", "INVALID_WORKFLOW", err.Error(), err)
	}

	return w.checkWebhookPath(ctx, workflow)
}

// checkWebhookPath keeps (method, path) unique among active webhook workflows.
func (w *Workflow) checkWebhookPath(ctx context.Context, workflow *models.Workflow) error {
	config, ok := workflow.Trigger.Webhook()
	if !ok || !workflow.IsActive {
		return nil
	}

	all, err := w.persistence.WorkflowRepository().GetAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load workflows: %w", err)
	}

	path := webhook.NormalizePath(config.Path)

	for _, other := range all {
		if other.ID == workflow.ID || !other.IsActive {
			continue
		}

		otherConfig, ok := other.Trigger.Webhook()
		if !ok {
			continue
		}

		if webhook.NormalizePath(otherConfig.Path) == path && strings.EqualFold(otherConfig.Method, config.Method) {
			return fmt.Errorf("%w: %s /%s (workflow %s)", ErrWebhookPathConflict, config.Method, path, other.ID)
		}
	}

	return nil
}

func (w *Workflow) now() time.Time {
	return w.clock.Now().UTC()
}
