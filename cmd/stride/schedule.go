package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/stride-run/stride/pkg/log"
	"github.com/stride-run/stride/pkg/triggers/schedule"
	"github.com/stride-run/stride/pkg/workflow"
	cli "github.com/urfave/cli/v3"
)

func scheduleCommand(logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:    "schedule",
		Aliases: []string{"s"},
		Usage:   "Run a workflow repeatedly on a cron schedule",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"f"},
				Usage:    "Path to the workflow definition (YAML)",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "cron",
				Usage:    "Cron expression (standard 5-field format)",
				Required: true,
			},
			&cli.StringSliceFlag{
				Name:    "input",
				Aliases: []string{"i"},
				Usage:   "Workflow input as key=value (repeatable)",
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
			return runSchedule(ctx, logger, command)
		},
	}
}

func runSchedule(ctx context.Context, logger *slog.Logger, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	loader := workflow.NewLoader()

	file := command.String("file")

	wf, err := loader.LoadFile(file)
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

	factory := schedule.NewFactory()

	trigger, err := factory.Create(map[string]any{
		"id":            wf.ID,
		"cron":          command.String("cron"),
		"workflow_file": file,
		"inputs":        inputs,
	}, logger)
	if err != nil {
		return err
	}

	callback := func(ctx context.Context, data map[string]any) error {
		result, err := executor.Execute(ctx, wf, inputs)
		if err != nil {
			return err
		}

		logger.InfoContext(ctx, "Scheduled run finished",
			"workflow", wf.Name, "status", result.Status, "total_units", result.TotalUnits)

		return nil
	}

	if err := trigger.Start(ctx, callback); err != nil {
		return err
	}

	logger.InfoContext(ctx, "Schedule started",
		"workflow", wf.Name, "cron", command.String("cron"))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-ctx.Done():
	case <-stop:
	}

	return trigger.Stop(context.Background())
}
