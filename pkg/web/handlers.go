// Package web provides HTTP handlers and REST API endpoints for running
// workflows and inspecting dispatch state.
package web

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/stride-run/stride/pkg/dispatch"
	"github.com/stride-run/stride/pkg/models"
	"github.com/stride-run/stride/pkg/ratelimit"
	"github.com/stride-run/stride/pkg/workflow"
)

type APIHandlers struct {
	loader     *workflow.Loader
	executor   *workflow.Executor
	dispatcher *dispatch.Dispatcher
	limiter    ratelimit.Limiter
	logger     *slog.Logger
}

func NewAPIHandlers(
	loader *workflow.Loader,
	executor *workflow.Executor,
	dispatcher *dispatch.Dispatcher,
	limiter ratelimit.Limiter,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		loader:     loader,
		executor:   executor,
		dispatcher: dispatcher,
		limiter:    limiter,
		logger:     logger,
	}
}

// RunWorkflow parses the definition in the request body and executes it
// synchronously, returning the full execution result.
func (h *APIHandlers) RunWorkflow(c fiber.Ctx) error {
	var req RunWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format: "+err.Error())
	}

	if len(req.Workflow) == 0 {
		return badRequest(c, "workflow definition is required")
	}

	wf, err := h.parseDefinition(req.Workflow)
	if err != nil {
		return badRequest(c, "Invalid workflow definition: "+err.Error())
	}

	if req.ResumeFrom != "" && wf.StepIndex(req.ResumeFrom) < 0 {
		return notFound(c, "resume step not found: "+req.ResumeFrom)
	}

	ectx, err := workflow.SeedContext(wf, req.Inputs)
	if err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.executor.ExecuteFrom(c.Context(), wf, ectx, req.ResumeFrom)
	if err != nil {
		h.logger.ErrorContext(c.Context(), "Workflow execution failed",
			"workflow", wf.Name, "error", err)

		return internalError(c, err)
	}

	return c.JSON(result)
}

// ValidateWorkflow checks a definition without executing it. The request
// body is the workflow document itself, as YAML or JSON.
func (h *APIHandlers) ValidateWorkflow(c fiber.Ctx) error {
	wf, err := h.loader.Parse(c.Body())
	if err != nil {
		return badRequest(c, err.Error())
	}

	return c.JSON(ValidateWorkflowResponse{
		Valid: true,
		Name:  wf.Name,
		Steps: len(wf.Steps),
	})
}

// GetProviderStats returns the dispatcher's per-provider throttle state.
func (h *APIHandlers) GetProviderStats(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"providers": h.dispatcher.Stats(),
	})
}

// RestoreProvider resets a throttled provider back to its base limit.
func (h *APIHandlers) RestoreProvider(c fiber.Ctx) error {
	name := c.Params("name")

	if _, ok := h.dispatcher.Stats()[name]; !ok {
		return notFound(c, "provider not found: "+name)
	}

	h.dispatcher.RestoreProvider(name)

	return c.JSON(fiber.Map{
		"provider": name,
		"stats":    h.dispatcher.Stats()[name],
	})
}

// GetRateLimit returns the current window count for a rate-limit key.
func (h *APIHandlers) GetRateLimit(c fiber.Ctx) error {
	key := c.Params("key")

	count, err := h.limiter.Current(c.Context(), key)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"key":   key,
		"count": count,
	})
}

// parseDefinition accepts the workflow either as an embedded JSON object or
// as a JSON string holding a YAML document.
func (h *APIHandlers) parseDefinition(raw json.RawMessage) (*models.Workflow, error) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, `"`) {
		var doc string
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, err
		}

		return h.loader.Parse([]byte(doc))
	}

	return h.loader.Parse(raw)
}
