// Package shell provides the step handler that runs commands through the
// system shell.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/stride-run/stride/pkg/models"
	"github.com/stride-run/stride/pkg/template"
)

// Handler runs one shell command with ${key} placeholders expanded from the
// execution context.
type Handler struct {
	Command      string
	AllowFailure bool
}

func NewHandler(config map[string]any) (*Handler, error) {
	command, _ := config["command"].(string)
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("shell step requires a non-empty command")
	}

	allowFailure, _ := config["allow_failure"].(bool)

	return &Handler{Command: command, AllowFailure: allowFailure}, nil
}

func (h *Handler) Execute(ctx context.Context, step *models.Step, ectx models.ExecutionContext, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("module", "shell_handler", "step_id", step.ID)

	command, err := template.Expand(h.Command, ectx)
	if err != nil {
		return nil, fmt.Errorf("failed to expand command: %w", err)
	}

	logger.InfoContext(ctx, "Executing shell command")

	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	output := map[string]any{
		"stdout":    strings.TrimRight(stdout.String(), "\n"),
		"stderr":    strings.TrimRight(stderr.String(), "\n"),
		"exit_code": 0,
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			output["exit_code"] = exitErr.ExitCode()

			if h.AllowFailure {
				logger.WarnContext(ctx, "Shell command failed but failure is allowed",
					"exit_code", exitErr.ExitCode())

				return output, nil
			}

			return output, fmt.Errorf("command exited with code %d: %s",
				exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}

		return nil, fmt.Errorf("failed to run command: %w", runErr)
	}

	logger.InfoContext(ctx, "Shell command completed", "exit_code", 0)

	return output, nil
}
