package shell_test

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stride-run/stride/pkg/handlers/shell"
	"github.com/stride-run/stride/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestShellHandler_CapturesStdout(t *testing.T) {
	handler, err := shell.NewHandler(map[string]any{"command": "echo hello"})
	require.NoError(t, err)

	output, err := handler.Execute(context.Background(), &models.Step{ID: "greet"}, models.ExecutionContext{}, testLogger())
	require.NoError(t, err)

	assert.Equal(t, "hello", output["stdout"])
	assert.Equal(t, 0, output["exit_code"])
}

func TestShellHandler_ExpandsPlaceholders(t *testing.T) {
	handler, err := shell.NewHandler(map[string]any{"command": "echo ${topic}"})
	require.NoError(t, err)

	ectx := models.ExecutionContext{"topic": "caching"}

	output, err := handler.Execute(context.Background(), &models.Step{ID: "greet"}, ectx, testLogger())
	require.NoError(t, err)

	assert.Equal(t, "caching", output["stdout"])
}

func TestShellHandler_UnresolvedPlaceholderFails(t *testing.T) {
	handler, err := shell.NewHandler(map[string]any{"command": "echo ${missing}"})
	require.NoError(t, err)

	_, err = handler.Execute(context.Background(), &models.Step{ID: "greet"}, models.ExecutionContext{}, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestShellHandler_NonZeroExit(t *testing.T) {
	handler, err := shell.NewHandler(map[string]any{"command": "echo boom >&2; exit 3"})
	require.NoError(t, err)

	output, err := handler.Execute(context.Background(), &models.Step{ID: "fail"}, models.ExecutionContext{}, testLogger())
	require.Error(t, err)

	assert.Equal(t, 3, output["exit_code"])
	assert.Contains(t, err.Error(), "boom")
}

func TestShellHandler_AllowFailure(t *testing.T) {
	handler, err := shell.NewHandler(map[string]any{
		"command":       "exit 7",
		"allow_failure": true,
	})
	require.NoError(t, err)

	output, err := handler.Execute(context.Background(), &models.Step{ID: "lint"}, models.ExecutionContext{}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, 7, output["exit_code"])
}

func TestShellHandler_EmptyCommandRejected(t *testing.T) {
	_, err := shell.NewHandler(map[string]any{"command": "   "})
	assert.Error(t, err)
}

func TestShellFactory(t *testing.T) {
	factory := shell.NewFactory()

	assert.Equal(t, models.StepTypeShell, factory.ID())

	handler, err := factory.Create(map[string]any{"command": "true"})
	require.NoError(t, err)
	assert.NotNil(t, handler)
}
