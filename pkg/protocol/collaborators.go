package protocol

import "context"

// ContractValidator checks role-based handoff contracts at step boundaries.
// Violations are non-transient: the step fails without retry.
type ContractValidator interface {
	ValidateInput(role string, input map[string]any, ectx map[string]any) error
	ValidateOutput(role string, output map[string]any) error
}

// BudgetGate is consulted before each step and fed actual consumption after
// it. Exceeding the budget aborts the remaining workflow steps.
type BudgetGate interface {
	CanAllocate(estimatedUnits int) bool
	RecordUsage(stepID string, units int)
}

// ModelClient is the narrow surface the model step handler calls. Provider
// SDKs live behind this interface, outside the engine core. Implementations
// must return ErrProviderThrottled (possibly wrapped) on provider-side
// throttling so the dispatcher can adapt.
type ModelClient interface {
	Complete(ctx context.Context, req ModelRequest) (ModelResponse, error)
}

// ModelRequest describes one model invocation.
type ModelRequest struct {
	Provider string
	Model    string
	Role     string
	Prompt   string
}

// ModelResponse is the model output plus consumed resource units.
type ModelResponse struct {
	Text          string
	ResourceUnits int
}
