package transform

import (
	"github.com/stride-run/stride/pkg/models"
	"github.com/stride-run/stride/pkg/protocol"
)

func NewFactory() *Factory {
	return &Factory{}
}

type Factory struct{}

func (f *Factory) Create(config map[string]any) (protocol.Handler, error) {
	return NewHandler(config)
}

func (f *Factory) ID() models.StepType {
	return models.StepTypeTransform
}

func (f *Factory) Name() string {
	return "Transform"
}

func (f *Factory) Description() string {
	return "Reshapes execution context data with a Go template expression."
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"expression": map[string]any{
				"type":        "string",
				"format":      "template",
				"description": "Go template expression evaluated against the execution context. JSON output is decoded into structured data.",
				"examples": []string{
					"{{.draft}}",
					"{\"words\": {{len .draft}}, \"topic\": \"{{.topic}}\"}",
					"{{range .items}}{{.}}{{end}}",
				},
			},
		},
		"required": []string{"expression"},
	}
}
