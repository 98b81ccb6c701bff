package web

import (
	"errors"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/models"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/persistence"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/scheduler"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/services"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/triggers"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusBadRequest).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func problem(c fiber.Ctx, status int, kind string, detail string) error {
	p := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(status).JSON(p)
}

// handleServiceError provides typed error handling for service layer errors.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case services.IsValidationError(err):
		return problem(c, fiber.StatusBadRequest, "validation_error", err.Error())

	case services.IsConflictError(err):
		return problem(c, fiber.StatusConflict, "conflict", err.Error())

	case persistence.IsWorkflowNotFound(err):
		return problem(c, fiber.StatusNotFound, "workflow_not_found", "workflow not found")

	case persistence.IsRunNotFound(err):
		return problem(c, fiber.StatusNotFound, "run_not_found", "run not found")

	case persistence.IsInvalidTransition(err):
		return problem(c, fiber.StatusConflict, "run_finished", "run already finished")

	default:
		p := problems.NewStatusProblem(fiber.StatusInternalServerError).
			WithInstance(c.Path()).
			WithType("internal_error").
			WithError(err)

		return c.Status(fiber.StatusInternalServerError).JSON(p)
	}
}

// handleTriggerError maps a refused intent to its HTTP status.
func handleTriggerError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, models.ErrUnknownWebhook):
		return problem(c, fiber.StatusNotFound, "unknown_webhook", err.Error())
	case errors.Is(err, models.ErrUnknownWorkflow):
		return problem(c, fiber.StatusNotFound, "workflow_not_found", err.Error())
	case errors.Is(err, models.ErrMethodNotAllowed):
		return problem(c, fiber.StatusMethodNotAllowed, "method_not_allowed", err.Error())
	case errors.Is(err, models.ErrUnauthorized):
		return problem(c, fiber.StatusUnauthorized, "unauthorized", "unauthorized")
	case errors.Is(err, models.ErrUnsupportedContentType):
		return problem(c, fiber.StatusUnsupportedMediaType, "unsupported_content_type", err.Error())
	case errors.Is(err, models.ErrMalformedPayload):
		return problem(c, fiber.StatusBadRequest, "malformed_payload", err.Error())
	case errors.Is(err, models.ErrDuplicateIntent):
		return problem(c, fiber.StatusConflict, "duplicate", err.Error())
	case errors.Is(err, models.ErrRateLimitExceeded):
		return problem(c, fiber.StatusTooManyRequests, "rate_limit_exceeded", err.Error())
	case errors.Is(err, scheduler.ErrStopped), errors.Is(err, triggers.ErrNotStarted):
		return problem(c, fiber.StatusServiceUnavailable, "unavailable", err.Error())
	default:
		return handleServiceError(c, err)
	}
}
