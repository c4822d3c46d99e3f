// Package model provides the step handler that calls a text model through
// the protocol.ModelClient interface.
package model

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stride-run/stride/pkg/models"
	"github.com/stride-run/stride/pkg/protocol"
	"github.com/stride-run/stride/pkg/template"
)

// Handler renders a prompt from the execution context and sends it to the
// configured provider. Provider throttling surfaces as
// protocol.ErrProviderThrottled so the dispatcher can adapt.
type Handler struct {
	client   protocol.ModelClient
	Provider string
	Model    string
	Prompt   string
}

func NewHandler(client protocol.ModelClient, config map[string]any) (*Handler, error) {
	if client == nil {
		return nil, fmt.Errorf("model step requires a model client")
	}

	prompt, _ := config["prompt"].(string)
	if prompt == "" {
		return nil, fmt.Errorf("model step requires a prompt")
	}

	provider, _ := config["provider"].(string)
	if provider == "" {
		provider = models.DefaultProvider
	}

	modelName, _ := config["model"].(string)

	return &Handler{
		client:   client,
		Provider: provider,
		Model:    modelName,
		Prompt:   prompt,
	}, nil
}

func (h *Handler) Execute(ctx context.Context, step *models.Step, ectx models.ExecutionContext, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("module", "model_handler", "step_id", step.ID, "provider", h.Provider)

	prompt, err := template.Expand(h.Prompt, ectx)
	if err != nil {
		return nil, fmt.Errorf("failed to expand prompt: %w", err)
	}

	logger.InfoContext(ctx, "Requesting model completion", "role", step.Role)

	response, err := h.client.Complete(ctx, protocol.ModelRequest{
		Provider: h.Provider,
		Model:    h.Model,
		Role:     step.Role,
		Prompt:   prompt,
	})
	if err != nil {
		return nil, fmt.Errorf("model completion failed: %w", err)
	}

	logger.InfoContext(ctx, "Model completion received", "resource_units", response.ResourceUnits)

	return map[string]any{
		"text":                    response.Text,
		protocol.ResourceUnitsKey: response.ResourceUnits,
	}, nil
}
