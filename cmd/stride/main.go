package main

import (
	"context"
	"os"

	"github.com/stride-run/stride/pkg/log"
	cli "github.com/urfave/cli/v3"
)

func main() {
	logger := log.WithModule("cli")

	cmd := &cli.Command{
		Name:                  "stride",
		Usage:                 "Run and validate agent workflows",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			{
				Name:    "run",
				Aliases: []string{"r"},
				Usage:   "Execute a workflow definition",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "file",
						Aliases:  []string{"f"},
						Usage:    "Path to the workflow definition (YAML)",
						Required: true,
					},
					&cli.StringSliceFlag{
						Name:    "input",
						Aliases: []string{"i"},
						Usage:   "Workflow input as key=value (repeatable)",
					},
					&cli.StringFlag{
						Name:  "resume-from",
						Usage: "Step ID to resume execution from",
					},
					&cli.IntFlag{
						Name:    "budget",
						Usage:   "Total resource unit budget (0 for unlimited)",
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

					return runWorkflow(ctx, logger, command)
				},
			},
			{
				Name:    "validate",
				Aliases: []string{"v"},
				Usage:   "Validate a workflow definition without executing it",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "file",
						Aliases:  []string{"f"},
						Usage:    "Path to the workflow definition (YAML)",
						Required: true,
					},
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					return validateWorkflow(ctx, logger, command)
				},
			},
			scheduleCommand(logger),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logger.Error("Command failed", "error", err)
		os.Exit(1)
	}
}
