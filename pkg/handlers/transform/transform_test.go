package transform_test

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stride-run/stride/pkg/handlers/transform"
	"github.com/stride-run/stride/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestTransformHandler_RendersValue(t *testing.T) {
	handler, err := transform.NewHandler(map[string]any{"expression": "{{.topic}}"})
	require.NoError(t, err)

	ectx := models.ExecutionContext{"topic": "caching"}

	output, err := handler.Execute(context.Background(), &models.Step{ID: "shape"}, ectx, testLogger())
	require.NoError(t, err)

	assert.Equal(t, "caching", output["result"])
}

func TestTransformHandler_JSONOutputDecoded(t *testing.T) {
	handler, err := transform.NewHandler(map[string]any{
		"expression": `{"topic": "{{.topic}}", "revised": true}`,
	})
	require.NoError(t, err)

	ectx := models.ExecutionContext{"topic": "caching"}

	output, err := handler.Execute(context.Background(), &models.Step{ID: "shape"}, ectx, testLogger())
	require.NoError(t, err)

	result, ok := output["result"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "caching", result["topic"])
	assert.Equal(t, true, result["revised"])
}

func TestTransformHandler_BadExpression(t *testing.T) {
	handler, err := transform.NewHandler(map[string]any{"expression": "{{.topic"})
	require.NoError(t, err)

	_, err = handler.Execute(context.Background(), &models.Step{ID: "shape"}, models.ExecutionContext{}, testLogger())
	assert.Error(t, err)
}

func TestTransformHandler_MissingExpressionRejected(t *testing.T) {
	_, err := transform.NewHandler(map[string]any{})
	assert.Error(t, err)
}

func TestTransformFactory(t *testing.T) {
	factory := transform.NewFactory()

	assert.Equal(t, models.StepTypeTransform, factory.ID())

	handler, err := factory.Create(map[string]any{"expression": "{{.x}}"})
	require.NoError(t, err)
	assert.NotNil(t, handler)
}
