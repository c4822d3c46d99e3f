package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/stride-run/stride/pkg/budget"
	"github.com/stride-run/stride/pkg/cmd"
	"github.com/stride-run/stride/pkg/contracts"
	"github.com/stride-run/stride/pkg/dispatch"
	"github.com/stride-run/stride/pkg/models"
	"github.com/stride-run/stride/pkg/workflow"
	cli "github.com/urfave/cli/v3"
)

func runWorkflow(ctx context.Context, logger *slog.Logger, command *cli.Command) error {
	loader := workflow.NewLoader()

	wf, err := loader.LoadFile(command.String("file"))
	if err != nil {
		return err
	}

	inputs, err := parseInputs(command.StringSlice("input"))
	if err != nil {
		return err
	}

	executor, closeAll, err := buildExecutor(ctx, logger, command)
	if err != nil {
		return err
	}
	defer closeAll()

	ectx, err := workflow.SeedContext(wf, inputs)
	if err != nil {
		return err
	}

	result, err := executor.ExecuteFrom(ctx, wf, ectx, command.String("resume-from"))
	if err != nil {
		return err
	}

	encoded, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode execution result: %w", err)
	}

	fmt.Fprintln(os.Stdout, string(encoded))

	if result.Status == models.ExecutionStatusFailed {
		return fmt.Errorf("workflow %s failed: %s", wf.Name, result.Error)
	}

	return nil
}

func validateWorkflow(ctx context.Context, logger *slog.Logger, command *cli.Command) error {
	wf, err := workflow.NewLoader().LoadFile(command.String("file"))
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "Workflow definition is valid",
		"name", wf.Name, "steps", len(wf.Steps))

	return nil
}

// buildExecutor wires the engine from CLI flags. The returned closer shuts
// down the event bus.
func buildExecutor(ctx context.Context, logger *slog.Logger, command *cli.Command) (*workflow.Executor, func(), error) {
	client, err := cmd.NewModelClient(logger)
	if err != nil {
		return nil, nil, err
	}

	registry := cmd.NewRegistry(logger, client)

	limiter, err := cmd.NewRateLimiter(ctx, logger, command.String("rate-limit-url"))
	if err != nil {
		return nil, nil, err
	}

	checkpoints, err := cmd.NewCheckpointStore(ctx, logger, command.String("database-url"))
	if err != nil {
		return nil, nil, err
	}

	bus, err := cmd.NewEventBus(command.String("event-bus"), logger)
	if err != nil {
		return nil, nil, err
	}

	validator, err := contracts.NewValidator(logger)
	if err != nil {
		return nil, nil, err
	}

	dispatcher := dispatch.NewDispatcher(limiter, dispatch.Config{}, logger)

	opts := []workflow.ExecutorOption{
		workflow.WithCheckpointStore(checkpoints),
		workflow.WithContractValidator(validator),
		workflow.WithEventBus(bus),
	}

	if total := command.Int("budget"); total > 0 {
		opts = append(opts, workflow.WithBudgetGate(budget.NewManager(total, logger)))
	}

	executor := workflow.NewExecutor(registry, dispatcher, logger, opts...)

	closeAll := func() {
		if err := bus.Close(); err != nil {
			logger.Error("Failed to close event bus", "error", err)
		}
	}

	return executor, closeAll, nil
}

func parseInputs(pairs []string) (map[string]any, error) {
	inputs := make(map[string]any, len(pairs))

	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid input %q, expected key=value", pair)
		}

		inputs[key] = value
	}

	return inputs, nil
}
