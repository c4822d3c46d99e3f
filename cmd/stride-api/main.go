package main

import (
	"context"
	"os"

	"github.com/stride-run/stride/pkg/budget"
	"github.com/stride-run/stride/pkg/cmd"
	"github.com/stride-run/stride/pkg/contracts"
	"github.com/stride-run/stride/pkg/dispatch"
	"github.com/stride-run/stride/pkg/log"
	"github.com/stride-run/stride/pkg/otelhelper"
	"github.com/stride-run/stride/pkg/workflow"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "stride-api",
		Usage:                 "Serve the workflow execution API",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.IntFlag{
				Name:    "budget",
				Usage:   "Total resource unit budget per run (0 for unlimited)",
				Sources: cli.EnvVars("STRIDE_BUDGET"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Postgres URL for checkpoint persistence (empty for in-memory)",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "rate-limit-url",
				Usage:   "Rate limiter backend URL (redis:// or postgres://, empty for in-memory)",
				Sources: cli.EnvVars("RATE_LIMIT_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus transport (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing Stride API")

			tracer, err := otelhelper.NewTracer(ctx, "stride-api")
			if err != nil {
				logger.WarnContext(ctx, "Tracing disabled", "error", err)
			}

			client, err := cmd.NewModelClient(logger)
			if err != nil {
				return err
			}

			registry := cmd.NewRegistry(logger, client)

			limiter, err := cmd.NewRateLimiter(ctx, logger, command.String("rate-limit-url"))
			if err != nil {
				return err
			}

			checkpoints, err := cmd.NewCheckpointStore(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			bus, err := cmd.NewEventBus(command.String("event-bus"), logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := bus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			validator, err := contracts.NewValidator(logger)
			if err != nil {
				return err
			}

			dispatcher := dispatch.NewDispatcher(limiter, dispatch.Config{}, logger)

			opts := []workflow.ExecutorOption{
				workflow.WithCheckpointStore(checkpoints),
				workflow.WithContractValidator(validator),
				workflow.WithEventBus(bus),
			}

			if tracer != nil {
				opts = append(opts, workflow.WithTracer(tracer))
			}

			if total := command.Int("budget"); total > 0 {
				opts = append(opts, workflow.WithBudgetGate(budget.NewManager(total, logger)))
			}

			executor := workflow.NewExecutor(registry, dispatcher, logger, opts...)

			api := NewAPI(logger, executor, dispatcher, limiter)

			if err := api.Start(command.Int("port")); err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)

				return err
			}

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		logger.Error("Command failed", "error", err)
		os.Exit(1)
	}
}
