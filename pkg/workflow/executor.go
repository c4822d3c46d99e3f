package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stride-run/stride/pkg/budget"
	"github.com/stride-run/stride/pkg/checkpoint"
	"github.com/stride-run/stride/pkg/dispatch"
	"github.com/stride-run/stride/pkg/eventbus"
	"github.com/stride-run/stride/pkg/events"
	"github.com/stride-run/stride/pkg/models"
	"github.com/stride-run/stride/pkg/otelhelper"
	"github.com/stride-run/stride/pkg/protocol"
	"github.com/stride-run/stride/pkg/registry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// maxBackoff caps the exponential retry backoff between step attempts.
const maxBackoff = 30 * time.Second

// Executor drives a workflow run through the step state machine. The
// checkpoint store, contract validator, budget gate and event bus are all
// optional collaborators; a nil value disables the concern.
type Executor struct {
	registry    *registry.Registry
	dispatcher  *dispatch.Dispatcher
	checkpoints checkpoint.Store
	contracts   protocol.ContractValidator
	budget      protocol.BudgetGate
	bus         eventbus.EventBus
	tracer      trace.Tracer
	logger      *slog.Logger
}

type ExecutorOption func(*Executor)

func WithCheckpointStore(store checkpoint.Store) ExecutorOption {
	return func(e *Executor) { e.checkpoints = store }
}

func WithContractValidator(validator protocol.ContractValidator) ExecutorOption {
	return func(e *Executor) { e.contracts = validator }
}

func WithBudgetGate(gate protocol.BudgetGate) ExecutorOption {
	return func(e *Executor) { e.budget = gate }
}

func WithEventBus(bus eventbus.EventBus) ExecutorOption {
	return func(e *Executor) { e.bus = bus }
}

func WithTracer(tracer trace.Tracer) ExecutorOption {
	return func(e *Executor) { e.tracer = tracer }
}

func NewExecutor(reg *registry.Registry, dispatcher *dispatch.Dispatcher, logger *slog.Logger, opts ...ExecutorOption) *Executor {
	executor := &Executor{
		registry:   reg,
		dispatcher: dispatcher,
		logger:     logger.With("module", "executor"),
	}

	for _, opt := range opts {
		opt(executor)
	}

	return executor
}

// Execute runs every step of the workflow from the beginning.
func (e *Executor) Execute(ctx context.Context, wf *models.Workflow, inputs map[string]any) (*models.ExecutionResult, error) {
	ectx, err := SeedContext(wf, inputs)
	if err != nil {
		return nil, err
	}

	return e.ExecuteFrom(ctx, wf, ectx, "")
}

// ExecuteFrom runs the workflow starting at resumeFrom (inclusive); earlier
// steps are never re-executed. The caller is responsible for seeding ectx
// with their recorded outputs, typically via checkpoint.Store.RunOutputs. An
// empty resumeFrom starts from the first step.
func (e *Executor) ExecuteFrom(ctx context.Context, wf *models.Workflow, ectx models.ExecutionContext, resumeFrom string) (*models.ExecutionResult, error) {
	startIndex := 0

	if resumeFrom != "" {
		startIndex = wf.StepIndex(resumeFrom)
		if startIndex < 0 {
			return nil, fmt.Errorf("unknown resume step: %s", resumeFrom)
		}
	}

	if ectx == nil {
		ectx = make(models.ExecutionContext)
	}

	result := models.NewExecutionResult(wf.Name)
	logger := e.logger.With("workflow", wf.Name)

	runID := e.startRun(ctx, wf, ectx, logger)

	if e.tracer != nil {
		var span trace.Span

		ctx, span = otelhelper.StartSpan(ctx, e.tracer, "workflow.execute",
			attribute.String(otelhelper.WorkflowIDKey, wf.ID),
			attribute.String(otelhelper.WorkflowNameKey, wf.Name),
			attribute.String(otelhelper.RunIDKey, runID),
		)
		defer span.End()
	}

	e.publishStarted(ctx, wf, runID, ectx)
	logger.InfoContext(ctx, "Workflow execution started", "run_id", runID, "resume_from", resumeFrom)

	var (
		aborted bool
		partial bool
	)

	for i := startIndex; i < len(wf.Steps); i++ {
		step := wf.Steps[i]

		if e.budget != nil && !e.budget.CanAllocate(step.EstimatedUnits) {
			stepResult := &models.StepResult{
				StepID: step.ID,
				Status: models.StepStatusFailed,
				Error:  budget.ErrBudgetExceeded.Error(),
			}
			result.Steps = append(result.Steps, stepResult)
			result.Error = stepResult.Error
			aborted = true

			logger.ErrorContext(ctx, "Resource budget exceeded, aborting workflow", "step_id", step.ID)
			e.publishStepFailed(ctx, wf, runID, stepResult)

			break
		}

		stepResult := e.executeStep(ctx, runID, step, ectx, logger)
		result.Steps = append(result.Steps, stepResult)
		result.TotalUnits += stepResult.ResourceUnits

		if e.budget != nil && stepResult.ResourceUnits > 0 {
			e.budget.RecordUsage(step.ID, stepResult.ResourceUnits)
		}

		switch stepResult.Status {
		case models.StepStatusSuccess:
			mergeDeclaredOutputs(ectx, step, stepResult.Output)
			e.publishStepFinished(ctx, wf, runID, stepResult)

		case models.StepStatusSkipped:
			logger.InfoContext(ctx, "Step skipped", "step_id", step.ID)
			e.publishStepFinished(ctx, wf, runID, stepResult)

		case models.StepStatusFailed:
			e.publishStepFailed(ctx, wf, runID, stepResult)

			if step.FailurePolicyOrDefault() == models.FailureAbort {
				result.Error = fmt.Sprintf("step %s failed: %s", step.ID, stepResult.Error)
				aborted = true

				logger.ErrorContext(ctx, "Step failed, aborting workflow",
					"step_id", step.ID, "error", stepResult.Error)
			} else {
				partial = true

				logger.WarnContext(ctx, "Step failed, skipping per failure policy",
					"step_id", step.ID, "error", stepResult.Error)
			}
		}

		if aborted {
			break
		}
	}

	switch {
	case aborted:
		result.Status = models.ExecutionStatusFailed
	case partial:
		result.Status = models.ExecutionStatusPartial
	default:
		result.Status = models.ExecutionStatusSuccess
	}

	for _, name := range wf.Outputs {
		if value, ok := ectx[name]; ok {
			result.Outputs[name] = value
		}
	}

	result.Finalize()
	e.finishRun(ctx, runID, result, logger)

	logger.InfoContext(ctx, "Workflow execution finished",
		"run_id", runID, "status", result.Status, "total_units", result.TotalUnits)

	return result, nil
}

// startRun opens a checkpoint run. Checkpoint failures are fail-open: the
// run continues memory-only.
func (e *Executor) startRun(ctx context.Context, wf *models.Workflow, ectx models.ExecutionContext, logger *slog.Logger) string {
	if e.checkpoints == nil {
		return ""
	}

	runID, err := e.checkpoints.StartWorkflow(ctx, wf.Name, map[string]any(ectx))
	if err != nil {
		logger.ErrorContext(ctx, "Failed to open checkpoint run, continuing without persistence", "error", err)

		return ""
	}

	return runID
}

func (e *Executor) finishRun(ctx context.Context, runID string, result *models.ExecutionResult, logger *slog.Logger) {
	if e.checkpoints == nil || runID == "" {
		e.publishFinished(ctx, result, runID)

		return
	}

	var err error

	if result.Status == models.ExecutionStatusFailed {
		err = e.checkpoints.FailWorkflow(ctx, runID, fmt.Errorf("%s", result.Error))
	} else {
		err = e.checkpoints.CompleteWorkflow(ctx, runID)
	}

	if err != nil {
		logger.ErrorContext(ctx, "Failed to finalize checkpoint run", "run_id", runID, "error", err)
	}

	e.publishFinished(ctx, result, runID)
}

// executeStep walks one step through its state machine: condition, input
// contract, handler lookup, retry loop, output contract.
func (e *Executor) executeStep(ctx context.Context, runID string, step *models.Step, ectx models.ExecutionContext, logger *slog.Logger) *models.StepResult {
	started := time.Now()
	result := &models.StepResult{StepID: step.ID, Status: models.StepStatusPending}

	if e.tracer != nil {
		var span trace.Span

		ctx, span = otelhelper.StartSpan(ctx, e.tracer, "workflow.step",
			attribute.String(otelhelper.StepIDKey, step.ID),
			attribute.String(otelhelper.StepTypeKey, string(step.Type)),
		)

		defer func() {
			if result.Status == models.StepStatusFailed {
				otelhelper.SetError(span, errors.New(result.Error),
					attribute.String(otelhelper.StepIDKey, step.ID))
			}

			span.End()
		}()
	}

	defer func() {
		result.DurationMS = time.Since(started).Milliseconds()
	}()

	passed, err := EvaluateCondition(step.Condition, ectx)
	if err != nil {
		result.Status = models.StepStatusFailed
		result.Error = err.Error()

		return result
	}

	if !passed {
		result.Status = models.StepStatusSkipped

		return result
	}

	if e.contracts != nil && step.Role != "" {
		input, _ := step.Params["input"].(map[string]any)

		if err := e.contracts.ValidateInput(step.Role, input, ectx); err != nil {
			result.Status = models.StepStatusFailed
			result.Error = fmt.Sprintf("input validation failed: %s", err)

			return result
		}
	}

	var handler protocol.Handler

	if step.Type != models.StepTypeParallel {
		handler, err = e.registry.CreateHandler(ctx, step.Type, step.Params)
		if err != nil {
			result.Status = models.StepStatusFailed
			result.Error = err.Error()

			return result
		}
	}

	var lastErr error

	for attempt := 0; attempt <= step.MaxRetries; attempt++ {
		result.Retries = attempt
		result.Status = models.StepStatusRunning

		output, attemptErr := e.runAttempt(ctx, runID, step, handler, ectx, logger)
		if attemptErr == nil {
			if e.contracts != nil && step.Role != "" {
				if verr := e.contracts.ValidateOutput(step.Role, output); verr != nil {
					result.Status = models.StepStatusFailed
					result.Error = fmt.Sprintf("output validation failed: %s", verr)

					return result
				}
			}

			result.Status = models.StepStatusSuccess
			result.Output = output
			result.ResourceUnits = protocol.ResourceUnits(output)

			return result
		}

		lastErr = attemptErr

		if attempt < step.MaxRetries {
			backoff := backoffFor(attempt)

			logger.WarnContext(ctx, "Step attempt failed, backing off",
				"step_id", step.ID, "attempt", attempt, "backoff", backoff, "error", attemptErr)

			select {
			case <-ctx.Done():
				result.Status = models.StepStatusFailed
				result.Error = ctx.Err().Error()

				return result
			case <-time.After(backoff):
			}
		}
	}

	result.Status = models.StepStatusFailed
	result.Error = lastErr.Error()

	return result
}

// runAttempt invokes the handler once, wrapped in an optional checkpoint
// stage and the step's timeout.
func (e *Executor) runAttempt(ctx context.Context, runID string, step *models.Step, handler protocol.Handler, ectx models.ExecutionContext, logger *slog.Logger) (output map[string]any, err error) {
	if e.checkpoints != nil && runID != "" {
		stage, stageErr := e.checkpoints.OpenStage(ctx, runID, step.ID, step.Params)
		if stageErr != nil {
			logger.ErrorContext(ctx, "Failed to open checkpoint stage, continuing without persistence",
				"step_id", step.ID, "error", stageErr)
		} else {
			defer func() {
				stage.Output = output
				stage.ResourceUnits = protocol.ResourceUnits(output)

				if closeErr := stage.Close(ctx, err); closeErr != nil {
					logger.ErrorContext(ctx, "Failed to record checkpoint stage",
						"step_id", step.ID, "error", closeErr)
				}
			}()
		}
	}

	attemptCtx := ctx

	if step.TimeoutSeconds > 0 {
		var cancel context.CancelFunc

		attemptCtx, cancel = context.WithTimeout(ctx, time.Duration(step.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	if step.Type == models.StepTypeParallel {
		output, err = e.runParallel(attemptCtx, step, ectx, logger)

		return output, err
	}

	output, err = handler.Execute(attemptCtx, step, ectx.Clone(), logger)

	return output, err
}

// runParallel fans the step's branches out through the dispatcher and folds
// the outcomes into one output map keyed by branch ID. The block fails only
// when the step demands that every branch succeed.
func (e *Executor) runParallel(ctx context.Context, step *models.Step, ectx models.ExecutionContext, logger *slog.Logger) (map[string]any, error) {
	tasks := make([]models.ParallelTask, 0, len(step.Branches))

	for _, branch := range step.Branches {
		branchHandler, err := e.registry.CreateHandler(ctx, branch.Type, branch.Params)
		if err != nil {
			return nil, fmt.Errorf("branch %s: %w", branch.ID, err)
		}

		branchStep := &models.Step{
			ID:     step.ID + "." + branch.ID,
			Type:   branch.Type,
			Params: branch.Params,
			Role:   step.Role,
		}
		snapshot := ectx.Clone()

		tasks = append(tasks, models.ParallelTask{
			ID:       branch.ID,
			StepID:   step.ID,
			Provider: branch.ProviderOrDefault(),
			Handler: func(taskCtx context.Context, _ map[string]any) (map[string]any, error) {
				return branchHandler.Execute(taskCtx, branchStep, snapshot, logger)
			},
			Params: branch.Params,
		})
	}

	parallelResult, err := e.dispatcher.ExecuteParallel(ctx, tasks)
	if err != nil {
		return nil, fmt.Errorf("parallel dispatch failed: %w", err)
	}

	branches := make(map[string]any, len(parallelResult.Successful))
	branchErrors := make(map[string]any, len(parallelResult.Failed))
	totalUnits := 0

	for _, outcome := range parallelResult.Successful {
		branches[outcome.ID] = outcome.Output
		totalUnits += protocol.ResourceUnits(outcome.Output)
	}

	for _, outcome := range parallelResult.Failed {
		branchErrors[outcome.ID] = outcome.Error
	}

	output := map[string]any{
		"successful":              len(parallelResult.Successful),
		"failed":                  len(parallelResult.Failed),
		"branches":                branches,
		protocol.ResourceUnitsKey: totalUnits,
	}

	if len(branchErrors) > 0 {
		output["errors"] = branchErrors
	}

	requireAll, _ := step.Params["require_all"].(bool)
	if requireAll && len(parallelResult.Failed) > 0 {
		return output, fmt.Errorf("%d of %d branches failed", len(parallelResult.Failed), len(tasks))
	}

	return output, nil
}

// mergeDeclaredOutputs copies only the step's declared output keys that are
// actually present in the handler output into the execution context.
func mergeDeclaredOutputs(ectx models.ExecutionContext, step *models.Step, output map[string]any) {
	for _, key := range step.Outputs {
		if value, ok := output[key]; ok {
			ectx[key] = value
		}
	}
}

func backoffFor(attempt int) time.Duration {
	backoff := time.Duration(1<<uint(attempt)) * time.Second
	if backoff > maxBackoff {
		backoff = maxBackoff
	}

	return backoff
}

func (e *Executor) publishStarted(ctx context.Context, wf *models.Workflow, runID string, ectx models.ExecutionContext) {
	if e.bus == nil {
		return
	}

	event := events.WorkflowExecutionStarted{
		BaseEvent: e.baseEvent(events.WorkflowExecutionStartedEvent, wf.Name, runID),
		Inputs:    map[string]any(ectx),
	}

	if err := e.bus.Publish(ctx, wf.Name, event); err != nil {
		e.logger.WarnContext(ctx, "Failed to publish workflow started event", "error", err)
	}
}

func (e *Executor) publishFinished(ctx context.Context, result *models.ExecutionResult, runID string) {
	if e.bus == nil {
		return
	}

	var (
		event eventbus.Event
		key   = result.WorkflowName
	)

	if result.Status == models.ExecutionStatusFailed {
		event = events.WorkflowExecutionFailed{
			BaseEvent:  e.baseEvent(events.WorkflowExecutionFailedEvent, result.WorkflowName, runID),
			Error:      result.Error,
			DurationMS: result.TotalDurationMS,
		}
	} else {
		event = events.WorkflowExecutionCompleted{
			BaseEvent:  e.baseEvent(events.WorkflowExecutionCompletedEvent, result.WorkflowName, runID),
			Status:     string(result.Status),
			Outputs:    result.Outputs,
			TotalUnits: result.TotalUnits,
			DurationMS: result.TotalDurationMS,
		}
	}

	if err := e.bus.Publish(ctx, key, event); err != nil {
		e.logger.WarnContext(ctx, "Failed to publish workflow finished event", "error", err)
	}
}

func (e *Executor) publishStepFinished(ctx context.Context, wf *models.Workflow, runID string, stepResult *models.StepResult) {
	if e.bus == nil {
		return
	}

	event := events.StepFinished{
		BaseEvent:     e.baseEvent(events.StepFinishedEvent, wf.Name, runID),
		StepID:        stepResult.StepID,
		Status:        string(stepResult.Status),
		Retries:       stepResult.Retries,
		ResourceUnits: stepResult.ResourceUnits,
		DurationMS:    stepResult.DurationMS,
	}

	if err := e.bus.Publish(ctx, wf.Name, event); err != nil {
		e.logger.WarnContext(ctx, "Failed to publish step finished event", "error", err)
	}
}

func (e *Executor) publishStepFailed(ctx context.Context, wf *models.Workflow, runID string, stepResult *models.StepResult) {
	if e.bus == nil {
		return
	}

	event := events.StepFailed{
		BaseEvent:  e.baseEvent(events.StepFailedEvent, wf.Name, runID),
		StepID:     stepResult.StepID,
		Error:      stepResult.Error,
		Retries:    stepResult.Retries,
		DurationMS: stepResult.DurationMS,
	}

	if err := e.bus.Publish(ctx, wf.Name, event); err != nil {
		e.logger.WarnContext(ctx, "Failed to publish step failed event", "error", err)
	}
}

func (e *Executor) baseEvent(eventType events.EventType, workflowName, runID string) events.BaseEvent {
	return events.BaseEvent{
		ID:           e.bus.GenerateID(),
		Type:         eventType,
		Timestamp:    time.Now().UTC(),
		WorkflowName: workflowName,
		RunID:        runID,
	}
}
