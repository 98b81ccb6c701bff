// Package web provides HTTP handlers and REST API endpoints for workflow
// management and webhook ingress.
package web

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/events"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/models"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/registry"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/services"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/triggers/webhook"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/jonboulle/clockwork"
)

// IdempotencyHeader may carry the idempotency key of a manual run.
const IdempotencyHeader = "Idempotency-Key"

// Engine is the part of the automation engine the API drives.
type Engine interface {
	ReceiveWebhook(ctx context.Context, req webhook.Request) (models.Admission, error)
	Invoke(ctx context.Context, workflowID string, payload map[string]any, idempotencyKey string) (models.Admission, error)
	Cancel(ctx context.Context, runID string) (*models.WorkflowRun, error)
	Ingest(ctx context.Context, event events.Event) error
}

type APIHandlers struct {
	workflowService *services.Workflow
	runService      *services.Run
	engine          Engine
	validator       *validator.Validate
	registry        *registry.Registry
	clock           clockwork.Clock
}

func NewAPIHandlers(
	workflowService *services.Workflow,
	runService *services.Run,
	engine Engine,
	validator *validator.Validate,
	registry *registry.Registry,
	clock clockwork.Clock,
) *APIHandlers {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &APIHandlers{
		workflowService: workflowService,
		runService:      runService,
		engine:          engine,
		validator:       validator,
		registry:        registry,
		clock:           clock,
	}
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	req, err := h.parseListWorkflowsRequest(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	result, err := h.workflowService.ListWorkflows(c.Context(), *req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows":   result.Workflows,
		"totalCount":  result.TotalCount,
		"hasNextPage": result.HasNextPage,
		"pagination": fiber.Map{
			"limit":  req.Limit,
			"offset": req.Offset,
		},
		"sorting": fiber.Map{
			"sortBy":    req.SortBy,
			"sortOrder": req.SortOrder,
		},
	})
}

// parseListWorkflowsRequest parses query parameters for listing workflows.
func (h *APIHandlers) parseListWorkflowsRequest(c fiber.Ctx) (*services.ListWorkflowsRequest, error) {
	req := &services.ListWorkflowsRequest{}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, err
		}

		req.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return nil, err
		}

		req.Offset = offset
	}

	req.TenantID = c.Query("tenantId")

	if activeStr := c.Query("active"); activeStr != "" {
		active, err := strconv.ParseBool(activeStr)
		if err != nil {
			return nil, err
		}

		req.Active = &active
	}

	req.SortBy = c.Query("sortBy")
	req.SortOrder = c.Query("sortOrder")

	return req, nil
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.workflowService.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var workflow models.Workflow
	if err := c.Bind().JSON(&workflow); err != nil {
		return badRequest(c, "Invalid JSON format: "+err.Error())
	}

	created, err := h.workflowService.Create(c.Context(), &workflow)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	var workflow models.Workflow
	if err := c.Bind().JSON(&workflow); err != nil {
		return badRequest(c, "Invalid JSON format: "+err.Error())
	}

	updated, err := h.workflowService.Update(c.Context(), c.Params("id"), &workflow)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	if err := h.workflowService.Delete(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ActivateWorkflow(c fiber.Ctx) error {
	workflow, err := h.workflowService.Activate(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) DeactivateWorkflow(c fiber.Ctx) error {
	workflow, err := h.workflowService.Deactivate(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

// InvokeWorkflow runs a workflow by hand, whatever its trigger kind.
func (h *APIHandlers) InvokeWorkflow(c fiber.Ctx) error {
	var req InvokeWorkflowRequest

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format: "+err.Error())
		}
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	key := req.IdempotencyKey
	if key == "" {
		key = c.Get(IdempotencyHeader)
	}

	admission, err := h.engine.Invoke(c.Context(), c.Params("id"), req.Payload, key)
	if err != nil {
		return handleTriggerError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(newAdmissionResponse(admission))
}

func (h *APIHandlers) GetWorkflowRuns(c fiber.Ctx) error {
	limit := 0

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil {
			return badRequest(c, "Invalid query parameters: "+err.Error())
		}

		limit = parsed
	}

	runs, err := h.runService.ListByWorkflow(c.Context(), c.Params("id"), limit)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"runs": runs})
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	run, err := h.runService.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(run)
}

func (h *APIHandlers) CancelRun(c fiber.Ctx) error {
	run, err := h.engine.Cancel(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(run)
}

// ReceiveWebhook serves every method under /webhook/*.
func (h *APIHandlers) ReceiveWebhook(c fiber.Ctx) error {
	query, err := url.ParseQuery(string(c.Request().URI().QueryString()))
	if err != nil {
		return badRequest(c, "Invalid query string")
	}

	admission, err := h.engine.ReceiveWebhook(c.Context(), webhook.Request{
		Method:  c.Method(),
		Path:    c.Params("*"),
		Headers: http.Header(c.GetReqHeaders()),
		Query:   query,
		Body:    bytes.Clone(c.Body()),
	})
	if err != nil {
		return handleTriggerError(c, err)
	}

	return c.JSON(newAdmissionResponse(admission))
}

func (h *APIHandlers) IngestDatabaseChange(c fiber.Ctx) error {
	var change events.DatabaseChange
	if err := c.Bind().JSON(&change); err != nil {
		return badRequest(c, "Invalid JSON format: "+err.Error())
	}

	if err := h.validator.Struct(change); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.validator.Var(change.TenantID, "required"); err != nil {
		return badRequest(c, "tenantId is required")
	}

	return h.ingest(c, &change.BaseEvent, events.DatabaseChangeEvent, &change)
}

func (h *APIHandlers) IngestUserAction(c fiber.Ctx) error {
	var action events.UserAction
	if err := c.Bind().JSON(&action); err != nil {
		return badRequest(c, "Invalid JSON format: "+err.Error())
	}

	if err := h.validator.Struct(action); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.validator.Var(action.TenantID, "required"); err != nil {
		return badRequest(c, "tenantId is required")
	}

	return h.ingest(c, &action.BaseEvent, events.UserActionEvent, &action)
}

func (h *APIHandlers) ingest(c fiber.Ctx, base *events.BaseEvent, eventType events.EventType, event events.Event) error {
	fresh := events.NewBaseEvent(eventType, "", h.clock.Now())

	base.Type = eventType
	if base.ID == "" {
		base.ID = fresh.ID
	}

	if base.Timestamp.IsZero() {
		base.Timestamp = fresh.Timestamp
	}

	if err := h.engine.Ingest(c.Context(), event); err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(EventAccepted{ID: base.ID})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryCheck, regOk := h.registry.HealthCheck()
	repositoryCheck, repOk := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Automation engine is unhealthy"
	httpStatus := http.StatusInternalServerError

	if regOk && repOk {
		status = "healthy"
		message = "Automation engine is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry":   registryCheck,
			"repository": repositoryCheck,
		},
		"timestamp": h.clock.Now().UTC().Format(time.RFC3339),
	})
}
