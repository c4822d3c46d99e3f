// Package transform provides the step handler that reshapes execution
// context data with Go template expressions.
package transform

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stride-run/stride/pkg/models"
	"github.com/stride-run/stride/pkg/template"
)

// Handler evaluates a Go template expression against the execution context
// and exposes the rendered value under the "result" output key.
type Handler struct {
	Expression string
}

func NewHandler(config map[string]any) (*Handler, error) {
	expression, _ := config["expression"].(string)
	if expression == "" {
		return nil, fmt.Errorf("transform step requires an expression")
	}

	return &Handler{Expression: expression}, nil
}

func (h *Handler) Execute(ctx context.Context, step *models.Step, ectx models.ExecutionContext, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("module", "transform_handler", "step_id", step.ID)
	logger.InfoContext(ctx, "Executing transform expression")

	result, err := template.Render(h.Expression, map[string]any(ectx))
	if err != nil {
		return nil, fmt.Errorf("transformation failed: %w", err)
	}

	return map[string]any{"result": result}, nil
}
