// Package models defines the core domain models for workflow execution.
package models

// InputSpec declares one workflow input: whether it must be provided and an
// optional default applied when it is absent.
type InputSpec struct {
	Required    bool   `json:"required"           yaml:"required"`
	Default     any    `json:"default,omitempty"  yaml:"default,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Workflow is an immutable ordered step sequence plus declared inputs and
// outputs. It is loaded once per run and never mutated during execution.
type Workflow struct {
	ID          string               `json:"id"                    yaml:"id"          validate:"required"`
	Name        string               `json:"name"                  yaml:"name"        validate:"required,min=3"`
	Description string               `json:"description,omitempty" yaml:"description,omitempty"`
	Inputs      map[string]InputSpec `json:"inputs,omitempty"      yaml:"inputs,omitempty"`
	Steps       []*Step              `json:"steps"                 yaml:"steps"       validate:"required,min=1,dive"`
	Outputs     []string             `json:"outputs,omitempty"     yaml:"outputs,omitempty"`
	Variables   map[string]any       `json:"variables,omitempty"   yaml:"variables,omitempty"`
}

// StepIndex returns the position of a step ID in the definition order, or -1.
func (w *Workflow) StepIndex(stepID string) int {
	for i, step := range w.Steps {
		if step.ID == stepID {
			return i
		}
	}

	return -1
}
