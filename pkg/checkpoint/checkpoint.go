// Package checkpoint records workflow run and step state so a crashed or
// aborted run can be resumed without re-executing completed work.
package checkpoint

import (
	"context"
	"time"
)

// StageStatus is the recorded terminal state of one checkpointed attempt.
type StageStatus string

const (
	StageStatusSuccess StageStatus = "success"
	StageStatusFailed  StageStatus = "failed"
)

// RunStatus is the recorded state of a whole run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Store is the persistence contract the executor consumes. The executor
// tolerates a nil store (memory-only run, no resume) and treats store
// failures as fail-open: they are logged, never allowed to fail a step.
type Store interface {
	// StartWorkflow records the beginning of a run and returns its ID.
	StartWorkflow(ctx context.Context, name string, config map[string]any) (string, error)

	// OpenStage opens a scoped recording for one step attempt. The returned
	// stage must be finalized with Close on every exit path.
	OpenStage(ctx context.Context, runID, stepID string, input map[string]any) (*Stage, error)

	// CompleteWorkflow marks a run as completed.
	CompleteWorkflow(ctx context.Context, runID string) error

	// FailWorkflow marks a run as failed with its cause.
	FailWorkflow(ctx context.Context, runID string, cause error) error

	// RunOutputs merges the recorded outputs of the run's successful stages,
	// in recording order, so a caller can re-seed an execution context
	// before resuming.
	RunOutputs(ctx context.Context, runID string) (map[string]any, error)
}

// Stage is a scoped recording of one step attempt. The executor sets Output
// and ResourceUnits before calling Close; Close records them together with
// the attempt's outcome.
type Stage struct {
	RunID         string
	StepID        string
	Input         map[string]any
	Output        map[string]any
	ResourceUnits int

	startedAt time.Time
	finalize  func(ctx context.Context, stage *Stage, execErr error) error
	closed    bool
}

// Close finalizes the stage exactly once; later calls are no-ops.
func (s *Stage) Close(ctx context.Context, execErr error) error {
	if s.closed {
		return nil
	}

	s.closed = true

	return s.finalize(ctx, s, execErr)
}

// Duration reports how long the stage has been open.
func (s *Stage) Duration() time.Duration {
	return time.Since(s.startedAt)
}
