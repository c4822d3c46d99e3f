package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stride-run/stride/pkg/budget"
	"github.com/stride-run/stride/pkg/checkpoint"
	"github.com/stride-run/stride/pkg/dispatch"
	"github.com/stride-run/stride/pkg/models"
	"github.com/stride-run/stride/pkg/protocol"
	"github.com/stride-run/stride/pkg/ratelimit"
	"github.com/stride-run/stride/pkg/registry"
	"github.com/stride-run/stride/pkg/workflow"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeFactory registers a programmable handler under any step type.
type fakeFactory struct {
	stepType models.StepType
	execute  func(ctx context.Context, step *models.Step, ectx models.ExecutionContext) (map[string]any, error)
	calls    *callLog
}

type callLog struct {
	mu    sync.Mutex
	steps []string
}

func (c *callLog) record(stepID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.steps = append(c.steps, stepID)
}

func (c *callLog) count(stepID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0

	for _, id := range c.steps {
		if id == stepID {
			n++
		}
	}

	return n
}

type fakeHandler struct {
	factory *fakeFactory
}

func (h fakeHandler) Execute(ctx context.Context, step *models.Step, ectx models.ExecutionContext, _ *slog.Logger) (map[string]any, error) {
	if h.factory.calls != nil {
		h.factory.calls.record(step.ID)
	}

	return h.factory.execute(ctx, step, ectx)
}

func (f *fakeFactory) Create(_ map[string]any) (protocol.Handler, error) {
	return fakeHandler{factory: f}, nil
}

func (f *fakeFactory) ID() models.StepType    { return f.stepType }
func (f *fakeFactory) Name() string           { return string(f.stepType) }
func (f *fakeFactory) Description() string    { return "fake handler" }
func (f *fakeFactory) Schema() map[string]any { return map[string]any{} }

func newExecutor(t *testing.T, factories []*fakeFactory, opts ...workflow.ExecutorOption) *workflow.Executor {
	t.Helper()

	reg := registry.NewRegistry(testLogger())
	for _, factory := range factories {
		reg.Register(factory)
	}

	dispatcher := dispatch.NewDispatcher(ratelimit.NewMemoryLimiter(), dispatch.Config{}, testLogger())

	return workflow.NewExecutor(reg, dispatcher, testLogger(), opts...)
}

func transformFactory(calls *callLog) *fakeFactory {
	return &fakeFactory{
		stepType: models.StepTypeTransform,
		calls:    calls,
		execute: func(_ context.Context, step *models.Step, _ models.ExecutionContext) (map[string]any, error) {
			return map[string]any{"x": step.Params["value"]}, nil
		},
	}
}

func TestExecutor_MergesDeclaredOutputs(t *testing.T) {
	calls := &callLog{}
	executor := newExecutor(t, []*fakeFactory{transformFactory(calls)})

	wf := &models.Workflow{
		ID:   "wf-1",
		Name: "merge-check",
		Steps: []*models.Step{
			{ID: "produce", Type: models.StepTypeTransform, Params: map[string]any{"value": 5}, Outputs: []string{"x"}},
			{
				ID:   "consume",
				Type: models.StepTypeTransform,
				Params: map[string]any{
					"value": "seen",
				},
				Condition: "x == 5",
				Outputs:   []string{"x"},
			},
		},
	}

	result, err := executor.Execute(context.Background(), wf, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusSuccess, result.Status)
	require.Len(t, result.Steps, 2)
	assert.Equal(t, models.StepStatusSuccess, result.Steps[1].Status)
	assert.Equal(t, 1, calls.count("consume"))
}

func TestExecutor_UndeclaredOutputNotMerged(t *testing.T) {
	factory := &fakeFactory{
		stepType: models.StepTypeTransform,
		execute: func(_ context.Context, _ *models.Step, _ models.ExecutionContext) (map[string]any, error) {
			return map[string]any{"x": 1, "secret": 2}, nil
		},
	}
	executor := newExecutor(t, []*fakeFactory{factory})

	wf := &models.Workflow{
		ID:   "wf-2",
		Name: "declared-only",
		Steps: []*models.Step{
			{ID: "produce", Type: models.StepTypeTransform, Outputs: []string{"x"}},
			{ID: "check", Type: models.StepTypeTransform, Condition: "secret == nil", Outputs: []string{"x"}},
		},
	}

	result, err := executor.Execute(context.Background(), wf, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusSuccess, result.Status)
	assert.Equal(t, models.StepStatusSuccess, result.Steps[1].Status)
}

func TestExecutor_AbortPolicyHaltsWorkflow(t *testing.T) {
	calls := &callLog{}
	failing := &fakeFactory{
		stepType: models.StepTypeShell,
		calls:    calls,
		execute: func(_ context.Context, _ *models.Step, _ models.ExecutionContext) (map[string]any, error) {
			return nil, errors.New("command exploded")
		},
	}
	executor := newExecutor(t, []*fakeFactory{failing, transformFactory(calls)})

	wf := &models.Workflow{
		ID:   "wf-3",
		Name: "abort-check",
		Steps: []*models.Step{
			{ID: "boom", Type: models.StepTypeShell, OnFailure: models.FailureAbort},
			{ID: "never", Type: models.StepTypeTransform},
		},
	}

	result, err := executor.Execute(context.Background(), wf, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, result.Status)
	assert.Contains(t, result.Error, "boom")
	require.Len(t, result.Steps, 1)
	assert.Equal(t, 0, calls.count("never"))
}

func TestExecutor_SkipPolicyYieldsPartial(t *testing.T) {
	calls := &callLog{}
	failing := &fakeFactory{
		stepType: models.StepTypeShell,
		calls:    calls,
		execute: func(_ context.Context, _ *models.Step, _ models.ExecutionContext) (map[string]any, error) {
			return nil, errors.New("command exploded")
		},
	}
	executor := newExecutor(t, []*fakeFactory{failing, transformFactory(calls)})

	wf := &models.Workflow{
		ID:   "wf-4",
		Name: "skip-check",
		Steps: []*models.Step{
			{ID: "boom", Type: models.StepTypeShell, OnFailure: models.FailureSkip},
			{ID: "after", Type: models.StepTypeTransform, Params: map[string]any{"value": 1}, Outputs: []string{"x"}},
		},
		Outputs: []string{"x"},
	}

	result, err := executor.Execute(context.Background(), wf, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusPartial, result.Status)
	assert.Equal(t, 1, calls.count("after"))
	assert.Equal(t, 1, result.Outputs["x"])
}

func TestExecutor_RetriesCountAttempts(t *testing.T) {
	var attempts int

	flaky := &fakeFactory{
		stepType: models.StepTypeShell,
		execute: func(_ context.Context, _ *models.Step, _ models.ExecutionContext) (map[string]any, error) {
			attempts++
			if attempts < 2 {
				return nil, errors.New("transient")
			}

			return map[string]any{"ok": true}, nil
		},
	}
	executor := newExecutor(t, []*fakeFactory{flaky})

	wf := &models.Workflow{
		ID:   "wf-5",
		Name: "retry-check",
		Steps: []*models.Step{
			{ID: "flaky", Type: models.StepTypeShell, MaxRetries: 2},
		},
	}

	result, err := executor.Execute(context.Background(), wf, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusSuccess, result.Status)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, 1, result.Steps[0].Retries)
}

func TestExecutor_UnknownStepTypeIsFatal(t *testing.T) {
	executor := newExecutor(t, nil)

	wf := &models.Workflow{
		ID:   "wf-6",
		Name: "unknown-type",
		Steps: []*models.Step{
			{ID: "mystery", Type: models.StepTypeModel, MaxRetries: 5},
		},
	}

	result, err := executor.Execute(context.Background(), wf, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, result.Status)
	assert.Equal(t, 0, result.Steps[0].Retries)
	assert.Contains(t, result.Steps[0].Error, "unknown step type")
}

func TestExecutor_ConditionSkipsStep(t *testing.T) {
	calls := &callLog{}
	executor := newExecutor(t, []*fakeFactory{transformFactory(calls)})

	wf := &models.Workflow{
		ID:   "wf-7",
		Name: "condition-check",
		Steps: []*models.Step{
			{ID: "gated", Type: models.StepTypeTransform, Condition: "enabled == true"},
		},
	}

	result, err := executor.Execute(context.Background(), wf, map[string]any{"enabled": false})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusSuccess, result.Status)
	assert.Equal(t, models.StepStatusSkipped, result.Steps[0].Status)
	assert.Equal(t, 0, calls.count("gated"))
}

func TestExecutor_MissingRequiredInput(t *testing.T) {
	executor := newExecutor(t, nil)

	wf := &models.Workflow{
		ID:   "wf-8",
		Name: "input-check",
		Inputs: map[string]models.InputSpec{
			"topic": {Required: true},
		},
		Steps: []*models.Step{
			{ID: "plan", Type: models.StepTypeTransform},
		},
	}

	_, err := executor.Execute(context.Background(), wf, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "topic")
}

func TestExecutor_InputDefaultsApplied(t *testing.T) {
	var seenTone any

	factory := &fakeFactory{
		stepType: models.StepTypeTransform,
		execute: func(_ context.Context, _ *models.Step, ectx models.ExecutionContext) (map[string]any, error) {
			seenTone = ectx["tone"]

			return map[string]any{}, nil
		},
	}
	executor := newExecutor(t, []*fakeFactory{factory})

	wf := &models.Workflow{
		ID:   "wf-9",
		Name: "defaults-check",
		Inputs: map[string]models.InputSpec{
			"tone": {Default: "neutral"},
		},
		Steps: []*models.Step{
			{ID: "plan", Type: models.StepTypeTransform},
		},
	}

	_, err := executor.Execute(context.Background(), wf, nil)
	require.NoError(t, err)
	assert.Equal(t, "neutral", seenTone)
}

func TestExecutor_ResumeSkipsEarlierSteps(t *testing.T) {
	calls := &callLog{}
	executor := newExecutor(t, []*fakeFactory{transformFactory(calls)})

	wf := &models.Workflow{
		ID:   "wf-10",
		Name: "resume-check",
		Steps: []*models.Step{
			{ID: "first", Type: models.StepTypeTransform, Params: map[string]any{"value": 1}, Outputs: []string{"x"}},
			{ID: "second", Type: models.StepTypeTransform, Params: map[string]any{"value": 2}, Outputs: []string{"x"}},
			{ID: "third", Type: models.StepTypeTransform, Condition: "x == 1", Params: map[string]any{"value": 3}},
		},
	}

	seed := models.ExecutionContext{"x": 1}

	result, err := executor.ExecuteFrom(context.Background(), wf, seed, "third")
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusSuccess, result.Status)
	require.Len(t, result.Steps, 1)
	assert.Equal(t, "third", result.Steps[0].StepID)
	assert.Equal(t, models.StepStatusSuccess, result.Steps[0].Status)
	assert.Equal(t, 0, calls.count("first"))
	assert.Equal(t, 0, calls.count("second"))
}

func TestExecutor_ResumeUnknownStep(t *testing.T) {
	executor := newExecutor(t, nil)

	wf := &models.Workflow{
		ID:    "wf-11",
		Name:  "resume-unknown",
		Steps: []*models.Step{{ID: "only", Type: models.StepTypeTransform}},
	}

	_, err := executor.ExecuteFrom(context.Background(), wf, nil, "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestExecutor_BudgetExceededAborts(t *testing.T) {
	calls := &callLog{}
	spender := &fakeFactory{
		stepType: models.StepTypeModel,
		calls:    calls,
		execute: func(_ context.Context, _ *models.Step, _ models.ExecutionContext) (map[string]any, error) {
			return map[string]any{protocol.ResourceUnitsKey: 900}, nil
		},
	}
	gate := budget.NewManager(1000, testLogger())
	executor := newExecutor(t, []*fakeFactory{spender}, workflow.WithBudgetGate(gate))

	wf := &models.Workflow{
		ID:   "wf-12",
		Name: "budget-check",
		Steps: []*models.Step{
			{ID: "first", Type: models.StepTypeModel, EstimatedUnits: 900},
			{ID: "second", Type: models.StepTypeModel, EstimatedUnits: 900},
		},
	}

	result, err := executor.Execute(context.Background(), wf, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, result.Status)
	assert.Contains(t, result.Error, "budget")
	assert.Equal(t, 1, calls.count("first"))
	assert.Equal(t, 0, calls.count("second"))
	assert.Equal(t, 900, result.TotalUnits)
}

func TestExecutor_ParallelBlock(t *testing.T) {
	factory := &fakeFactory{
		stepType: models.StepTypeModel,
		execute: func(_ context.Context, step *models.Step, _ models.ExecutionContext) (map[string]any, error) {
			return map[string]any{"text": "from " + step.ID, protocol.ResourceUnitsKey: 10}, nil
		},
	}
	executor := newExecutor(t, []*fakeFactory{factory})

	wf := &models.Workflow{
		ID:   "wf-13",
		Name: "parallel-check",
		Steps: []*models.Step{
			{
				ID:      "fanout",
				Type:    models.StepTypeParallel,
				Outputs: []string{"branches"},
				Branches: []*models.Branch{
					{ID: "a", Type: models.StepTypeModel, Provider: "openai"},
					{ID: "b", Type: models.StepTypeModel, Provider: "anthropic"},
					{ID: "c", Type: models.StepTypeModel},
				},
			},
		},
		Outputs: []string{"branches"},
	}

	result, err := executor.Execute(context.Background(), wf, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusSuccess, result.Status)
	require.Len(t, result.Steps, 1)
	assert.Equal(t, 3, result.Steps[0].Output["successful"])
	assert.Equal(t, 0, result.Steps[0].Output["failed"])
	assert.Equal(t, 30, result.Steps[0].ResourceUnits)

	branches, ok := result.Outputs["branches"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, branches, 3)
}

func TestExecutor_ParallelRequireAll(t *testing.T) {
	factory := &fakeFactory{
		stepType: models.StepTypeModel,
		execute: func(_ context.Context, step *models.Step, _ models.ExecutionContext) (map[string]any, error) {
			if step.ID == "fanout.bad" {
				return nil, errors.New("branch exploded")
			}

			return map[string]any{"text": "ok"}, nil
		},
	}
	executor := newExecutor(t, []*fakeFactory{factory})

	wf := &models.Workflow{
		ID:   "wf-14",
		Name: "require-all-check",
		Steps: []*models.Step{
			{
				ID:     "fanout",
				Type:   models.StepTypeParallel,
				Params: map[string]any{"require_all": true},
				Branches: []*models.Branch{
					{ID: "good", Type: models.StepTypeModel},
					{ID: "bad", Type: models.StepTypeModel},
				},
			},
		},
	}

	result, err := executor.Execute(context.Background(), wf, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, result.Status)
	assert.Contains(t, result.Steps[0].Error, "branches failed")
}

func TestExecutor_ParallelPartialSucceedsByDefault(t *testing.T) {
	factory := &fakeFactory{
		stepType: models.StepTypeModel,
		execute: func(_ context.Context, step *models.Step, _ models.ExecutionContext) (map[string]any, error) {
			if step.ID == "fanout.bad" {
				return nil, errors.New("branch exploded")
			}

			return map[string]any{"text": "ok"}, nil
		},
	}
	executor := newExecutor(t, []*fakeFactory{factory})

	wf := &models.Workflow{
		ID:   "wf-15",
		Name: "partial-parallel",
		Steps: []*models.Step{
			{
				ID:   "fanout",
				Type: models.StepTypeParallel,
				Branches: []*models.Branch{
					{ID: "good", Type: models.StepTypeModel},
					{ID: "bad", Type: models.StepTypeModel},
				},
			},
		},
	}

	result, err := executor.Execute(context.Background(), wf, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusSuccess, result.Status)
	assert.Equal(t, 1, result.Steps[0].Output["successful"])
	assert.Equal(t, 1, result.Steps[0].Output["failed"])
}

func TestExecutor_CheckpointStagesRecorded(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	executor := newExecutor(t, []*fakeFactory{transformFactory(nil)}, workflow.WithCheckpointStore(store))

	wf := &models.Workflow{
		ID:   "wf-16",
		Name: "checkpoint-check",
		Steps: []*models.Step{
			{ID: "produce", Type: models.StepTypeTransform, Params: map[string]any{"value": 5}, Outputs: []string{"x"}},
		},
	}

	result, err := executor.Execute(context.Background(), wf, nil)
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusSuccess, result.Status)

	runs := store.Runs()
	require.Len(t, runs, 1)

	run := runs[0]
	assert.Equal(t, "checkpoint-check", run.WorkflowName)
	assert.Equal(t, checkpoint.RunStatusCompleted, run.Status)
	require.Len(t, run.Stages, 1)
	assert.Equal(t, "produce", run.Stages[0].StepID)
	assert.Equal(t, checkpoint.StageStatusSuccess, run.Stages[0].Status)
	assert.Equal(t, 5, run.Stages[0].Output["x"])

	outputs, err := store.RunOutputs(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, outputs["x"])
}

type rejectingValidator struct {
	outputCalls int
}

func (v *rejectingValidator) ValidateInput(_ string, _ map[string]any, _ map[string]any) error {
	return nil
}

func (v *rejectingValidator) ValidateOutput(_ string, _ map[string]any) error {
	v.outputCalls++

	return errors.New("contract violated")
}

func TestExecutor_OutputContractViolationNotRetried(t *testing.T) {
	var attempts int

	factory := &fakeFactory{
		stepType: models.StepTypeModel,
		execute: func(_ context.Context, _ *models.Step, _ models.ExecutionContext) (map[string]any, error) {
			attempts++

			return map[string]any{"text": "bad shape"}, nil
		},
	}
	validator := &rejectingValidator{}
	executor := newExecutor(t, []*fakeFactory{factory}, workflow.WithContractValidator(validator))

	wf := &models.Workflow{
		ID:   "wf-17",
		Name: "contract-check",
		Steps: []*models.Step{
			{ID: "plan", Type: models.StepTypeModel, Role: "planner", MaxRetries: 3},
		},
	}

	result, err := executor.Execute(context.Background(), wf, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, result.Status)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, validator.outputCalls)
	assert.Contains(t, result.Steps[0].Error, "output validation failed")
}

func TestExecutor_ThreeStepScenario(t *testing.T) {
	factory := &fakeFactory{
		stepType: models.StepTypeModel,
		execute: func(_ context.Context, step *models.Step, ectx models.ExecutionContext) (map[string]any, error) {
			switch step.ID {
			case "plan":
				return map[string]any{"plan": "outline for " + fmt.Sprint(ectx["topic"]), protocol.ResourceUnitsKey: 10}, nil
			case "build":
				return map[string]any{"draft": "draft from " + fmt.Sprint(ectx["plan"]), protocol.ResourceUnitsKey: 20}, nil
			case "review":
				return map[string]any{"verdict": "approved", protocol.ResourceUnitsKey: 5}, nil
			default:
				return nil, fmt.Errorf("unexpected step %s", step.ID)
			}
		},
	}
	executor := newExecutor(t, []*fakeFactory{factory})

	wf := &models.Workflow{
		ID:   "wf-18",
		Name: "plan-build-review",
		Inputs: map[string]models.InputSpec{
			"topic": {Required: true},
		},
		Steps: []*models.Step{
			{ID: "plan", Type: models.StepTypeModel, Outputs: []string{"plan"}},
			{ID: "build", Type: models.StepTypeModel, Outputs: []string{"draft"}},
			{ID: "review", Type: models.StepTypeModel, Condition: `draft != ""`, Outputs: []string{"verdict"}},
		},
		Outputs: []string{"draft", "verdict"},
	}

	result, err := executor.Execute(context.Background(), wf, map[string]any{"topic": "caching"})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusSuccess, result.Status)
	assert.Equal(t, 35, result.TotalUnits)
	assert.Equal(t, "approved", result.Outputs["verdict"])
	assert.Equal(t, "draft from outline for caching", result.Outputs["draft"])
}
