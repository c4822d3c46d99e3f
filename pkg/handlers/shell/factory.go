package shell

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
	return models.StepTypeShell
}

func (f *Factory) Name() string {
	return "Shell"
}

func (f *Factory) Description() string {
	return "Runs a shell command with ${key} placeholders expanded from the execution context."
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "Command passed to sh -c. Supports ${key} substitution from the execution context.",
				"examples": []string{
					"echo ${topic}",
					"wc -w < ${draft_path}",
				},
			},
			"allow_failure": map[string]any{
				"type":        "boolean",
				"description": "Treat a non-zero exit as success, keeping stdout/stderr/exit_code in the output.",
			},
		},
		"required": []string{"command"},
	}
}
