// Package workflow implements workflow loading and the step state machine
// that drives a run from inputs to an ExecutionResult.
package workflow

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/stride-run/stride/pkg/models"
)

// Loader parses and validates workflow definitions.
type Loader struct {
	validate *validator.Validate
}

func NewLoader() *Loader {
	return &Loader{validate: validator.New()}
}

// LoadFile reads a YAML workflow definition from disk.
func (l *Loader) LoadFile(path string) (*models.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}

	return l.Parse(data)
}

// Parse decodes and validates a YAML workflow definition.
func (l *Loader) Parse(data []byte) (*models.Workflow, error) {
	var wf models.Workflow

	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("failed to parse workflow definition: %w", err)
	}

	if err := l.Validate(&wf); err != nil {
		return nil, err
	}

	return &wf, nil
}

// Validate checks structural constraints beyond what decoding enforces:
// unique step IDs, known step types, and well-formed parallel blocks.
func (l *Loader) Validate(wf *models.Workflow) error {
	if err := l.validate.Struct(wf); err != nil {
		return fmt.Errorf("invalid workflow definition: %w", err)
	}

	seen := make(map[string]bool, len(wf.Steps))

	for _, step := range wf.Steps {
		if seen[step.ID] {
			return fmt.Errorf("duplicate step ID: %s", step.ID)
		}

		seen[step.ID] = true

		if !step.Type.Valid() {
			return fmt.Errorf("step %s has unknown type: %s", step.ID, step.Type)
		}

		if policy := step.FailurePolicyOrDefault(); policy != models.FailureAbort && policy != models.FailureSkip {
			return fmt.Errorf("step %s has unknown failure policy: %s", step.ID, policy)
		}

		if err := validateBranches(step); err != nil {
			return err
		}
	}

	return nil
}

func validateBranches(step *models.Step) error {
	if step.Type != models.StepTypeParallel {
		if len(step.Branches) > 0 {
			return fmt.Errorf("step %s declares branches but is not a parallel step", step.ID)
		}

		return nil
	}

	if len(step.Branches) == 0 {
		return fmt.Errorf("parallel step %s has no branches", step.ID)
	}

	seen := make(map[string]bool, len(step.Branches))

	for _, branch := range step.Branches {
		if seen[branch.ID] {
			return fmt.Errorf("parallel step %s has duplicate branch ID: %s", step.ID, branch.ID)
		}

		seen[branch.ID] = true

		if !branch.Type.Valid() || branch.Type == models.StepTypeParallel {
			return fmt.Errorf("branch %s of step %s has invalid type: %s", branch.ID, step.ID, branch.Type)
		}
	}

	return nil
}

// SeedContext builds the initial execution context for a run: workflow
// variables first, then input defaults, then provided values. A required
// input with no value and no default is an error.
func SeedContext(wf *models.Workflow, provided map[string]any) (models.ExecutionContext, error) {
	ectx := make(models.ExecutionContext)

	for key, value := range wf.Variables {
		ectx[key] = value
	}

	for name, spec := range wf.Inputs {
		if value, ok := provided[name]; ok {
			ectx[name] = value

			continue
		}

		if spec.Default != nil {
			ectx[name] = spec.Default

			continue
		}

		if spec.Required {
			return nil, fmt.Errorf("missing required input: %s", name)
		}
	}

	for name, value := range provided {
		ectx[name] = value
	}

	return ectx, nil
}
