package models

import "time"

// StepStatus is the lifecycle state of one step. SUCCESS, FAILED and SKIPPED
// are terminal.
type StepStatus string

const (
	StepStatusPending StepStatus = "pending"
	StepStatusRunning StepStatus = "running"
	StepStatusSuccess StepStatus = "success"
	StepStatusFailed  StepStatus = "failed"
	StepStatusSkipped StepStatus = "skipped"
)

// ExecutionStatus is the terminal state of a whole run.
type ExecutionStatus string

const (
	ExecutionStatusPending ExecutionStatus = "pending"
	ExecutionStatusSuccess ExecutionStatus = "success"
	ExecutionStatusFailed  ExecutionStatus = "failed"
	ExecutionStatusPartial ExecutionStatus = "partial" // at least one step skipped-on-failure
)

// ExecutionContext is the shared variable mapping threaded through steps. It
// is created from the workflow inputs, extended after each successful step
// with that step's declared outputs, and never rolled back. Only the
// single-threaded step loop mutates it.
type ExecutionContext map[string]any

// Clone returns a shallow copy, used to hand a stable snapshot to handlers.
func (c ExecutionContext) Clone() ExecutionContext {
	out := make(ExecutionContext, len(c))
	for k, v := range c {
		out[k] = v
	}

	return out
}

// StepResult records the outcome of one step's attempt sequence. Immutable
// once the step completes.
type StepResult struct {
	StepID        string         `json:"step_id"`
	Status        StepStatus     `json:"status"`
	Output        map[string]any `json:"output,omitempty"`
	Error         string         `json:"error,omitempty"`
	DurationMS    int64          `json:"duration_ms"`
	ResourceUnits int            `json:"resource_units"`
	Retries       int            `json:"retries"`
}

// ExecutionResult is the serializable outcome of a whole run.
type ExecutionResult struct {
	WorkflowName    string          `json:"workflow_name"`
	Status          ExecutionStatus `json:"status"`
	Steps           []*StepResult   `json:"steps"`
	Outputs         map[string]any  `json:"outputs"`
	TotalUnits      int             `json:"total_units"`
	TotalDurationMS int64           `json:"total_duration_ms"`
	StartedAt       time.Time       `json:"started_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	Error           string          `json:"error,omitempty"`
}

// NewExecutionResult creates a pending result for a run that is starting now.
func NewExecutionResult(workflowName string) *ExecutionResult {
	return &ExecutionResult{
		WorkflowName: workflowName,
		Status:       ExecutionStatusPending,
		Steps:        make([]*StepResult, 0),
		Outputs:      make(map[string]any),
		StartedAt:    time.Now().UTC(),
	}
}

// Finalize stamps the completion time and total duration.
func (r *ExecutionResult) Finalize() {
	now := time.Now().UTC()
	r.CompletedAt = &now
	r.TotalDurationMS = now.Sub(r.StartedAt).Milliseconds()
}
