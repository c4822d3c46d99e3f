package models

import "context"

// TaskFunc is the callable a ParallelTask dispatches once its concurrency and
// rate-limit slots are held.
type TaskFunc func(ctx context.Context, params map[string]any) (map[string]any, error)

// ParallelTask is one concurrently-dispatched unit of a parallel block.
// Created per block invocation and discarded after its outcome is collected.
type ParallelTask struct {
	ID       string
	StepID   string
	Provider string
	Handler  TaskFunc
	Params   map[string]any
}

// BranchOutcome is the result of one ParallelTask, keyed by task ID so result
// association is independent of completion order.
type BranchOutcome struct {
	ID         string         `json:"id"`
	Status     StepStatus     `json:"status"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMS int64          `json:"duration_ms"`
}

// ParallelResult aggregates the outcomes of a parallel block. A sibling
// failure never cancels the other branches, so both lists may be populated.
type ParallelResult struct {
	Successful []BranchOutcome `json:"successful"`
	Failed     []BranchOutcome `json:"failed"`
}

// Outcome looks up a branch outcome by task ID.
func (r *ParallelResult) Outcome(id string) (BranchOutcome, bool) {
	for _, o := range r.Successful {
		if o.ID == id {
			return o, true
		}
	}

	for _, o := range r.Failed {
		if o.ID == id {
			return o, true
		}
	}

	return BranchOutcome{}, false
}
