package checkpoint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StageRecord is a finalized stage as stored by the memory store.
type StageRecord struct {
	StepID        string
	Input         map[string]any
	Output        map[string]any
	ResourceUnits int
	Status        StageStatus
	Error         string
	StartedAt     time.Time
	CompletedAt   time.Time
}

// RunRecord is one workflow run as stored by the memory store.
type RunRecord struct {
	ID           string
	WorkflowName string
	Config       map[string]any
	Status       RunStatus
	Error        string
	StartedAt    time.Time
	CompletedAt  *time.Time
	Stages       []*StageRecord
}

// MemoryStore keeps run state in process memory. Suitable for tests and
// single-shot CLI runs where resume across processes is not needed.
type MemoryStore struct {
	mu   sync.Mutex
	runs map[string]*RunRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*RunRecord)}
}

func (m *MemoryStore) StartWorkflow(_ context.Context, name string, config map[string]any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	runID := uuid.New().String()
	m.runs[runID] = &RunRecord{
		ID:           runID,
		WorkflowName: name,
		Config:       config,
		Status:       RunStatusRunning,
		StartedAt:    time.Now().UTC(),
	}

	return runID, nil
}

func (m *MemoryStore) OpenStage(_ context.Context, runID, stepID string, input map[string]any) (*Stage, error) {
	m.mu.Lock()
	_, exists := m.runs[runID]
	m.mu.Unlock()

	if !exists {
		return nil, fmt.Errorf("unknown run: %s", runID)
	}

	return &Stage{
		RunID:     runID,
		StepID:    stepID,
		Input:     input,
		startedAt: time.Now().UTC(),
		finalize:  m.finalizeStage,
	}, nil
}

func (m *MemoryStore) finalizeStage(_ context.Context, stage *Stage, execErr error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, exists := m.runs[stage.RunID]
	if !exists {
		return fmt.Errorf("unknown run: %s", stage.RunID)
	}

	record := &StageRecord{
		StepID:        stage.StepID,
		Input:         stage.Input,
		Output:        stage.Output,
		ResourceUnits: stage.ResourceUnits,
		Status:        StageStatusSuccess,
		StartedAt:     stage.startedAt,
		CompletedAt:   time.Now().UTC(),
	}
	if execErr != nil {
		record.Status = StageStatusFailed
		record.Error = execErr.Error()
	}

	run.Stages = append(run.Stages, record)

	return nil
}

func (m *MemoryStore) CompleteWorkflow(_ context.Context, runID string) error {
	return m.closeRun(runID, RunStatusCompleted, "")
}

func (m *MemoryStore) FailWorkflow(_ context.Context, runID string, cause error) error {
	message := ""
	if cause != nil {
		message = cause.Error()
	}

	return m.closeRun(runID, RunStatusFailed, message)
}

func (m *MemoryStore) closeRun(runID string, status RunStatus, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, exists := m.runs[runID]
	if !exists {
		return fmt.Errorf("unknown run: %s", runID)
	}

	now := time.Now().UTC()
	run.Status = status
	run.Error = message
	run.CompletedAt = &now

	return nil
}

func (m *MemoryStore) RunOutputs(_ context.Context, runID string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, exists := m.runs[runID]
	if !exists {
		return nil, fmt.Errorf("unknown run: %s", runID)
	}

	outputs := make(map[string]any)

	for _, stage := range run.Stages {
		if stage.Status != StageStatusSuccess {
			continue
		}

		for key, value := range stage.Output {
			outputs[key] = value
		}
	}

	return outputs, nil
}

// Run returns a recorded run for inspection.
func (m *MemoryStore) Run(runID string) (*RunRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, exists := m.runs[runID]

	return run, exists
}

// Runs lists every recorded run.
func (m *MemoryStore) Runs() []*RunRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	runs := make([]*RunRecord, 0, len(m.runs))
	for _, run := range m.runs {
		runs = append(runs, run)
	}

	return runs
}
