package model

import (
	"github.com/stride-run/stride/pkg/models"
	"github.com/stride-run/stride/pkg/protocol"
)

func NewFactory(client protocol.ModelClient) *Factory {
	return &Factory{client: client}
}

type Factory struct {
	client protocol.ModelClient
}

func (f *Factory) Create(config map[string]any) (protocol.Handler, error) {
	return NewHandler(f.client, config)
}

func (f *Factory) ID() models.StepType {
	return models.StepTypeModel
}

func (f *Factory) Name() string {
	return "Model"
}

func (f *Factory) Description() string {
	return "Sends a rendered prompt to a text model provider and captures the completion."
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"provider": map[string]any{
				"type":        "string",
				"description": "Provider the request is dispatched to. Defaults to \"default\".",
				"examples":    []string{"openai", "anthropic"},
			},
			"model": map[string]any{
				"type":        "string",
				"description": "Provider-specific model identifier.",
			},
			"prompt": map[string]any{
				"type":        "string",
				"description": "Prompt text. Supports ${key} substitution from the execution context.",
				"examples": []string{
					"Write an outline about ${topic}.",
					"Review this draft: ${draft}",
				},
			},
		},
		"required": []string{"prompt"},
	}
}
