package model_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stride-run/stride/pkg/handlers/model"
	"github.com/stride-run/stride/pkg/models"
	"github.com/stride-run/stride/pkg/protocol"
)

type fakeClient struct {
	lastRequest protocol.ModelRequest
	response    protocol.ModelResponse
	err         error
}

func (f *fakeClient) Complete(_ context.Context, req protocol.ModelRequest) (protocol.ModelResponse, error) {
	f.lastRequest = req

	return f.response, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestModelHandler_RendersPromptAndReportsUnits(t *testing.T) {
	client := &fakeClient{response: protocol.ModelResponse{Text: "an outline", ResourceUnits: 12}}

	handler, err := model.NewHandler(client, map[string]any{
		"provider": "openai",
		"model":    "gpt-4o-mini",
		"prompt":   "Write an outline about ${topic}.",
	})
	require.NoError(t, err)

	step := &models.Step{ID: "plan", Role: "planner"}
	ectx := models.ExecutionContext{"topic": "caching"}

	output, err := handler.Execute(context.Background(), step, ectx, testLogger())
	require.NoError(t, err)

	assert.Equal(t, "Write an outline about caching.", client.lastRequest.Prompt)
	assert.Equal(t, "planner", client.lastRequest.Role)
	assert.Equal(t, "an outline", output["text"])
	assert.Equal(t, 12, protocol.ResourceUnits(output))
}

func TestModelHandler_DefaultProvider(t *testing.T) {
	client := &fakeClient{}

	handler, err := model.NewHandler(client, map[string]any{"prompt": "hello"})
	require.NoError(t, err)

	_, err = handler.Execute(context.Background(), &models.Step{ID: "plan"}, models.ExecutionContext{}, testLogger())
	require.NoError(t, err)

	assert.Equal(t, models.DefaultProvider, client.lastRequest.Provider)
}

func TestModelHandler_ThrottlePropagates(t *testing.T) {
	client := &fakeClient{err: protocol.ErrProviderThrottled}

	handler, err := model.NewHandler(client, map[string]any{"prompt": "hello"})
	require.NoError(t, err)

	_, err = handler.Execute(context.Background(), &models.Step{ID: "plan"}, models.ExecutionContext{}, testLogger())
	require.Error(t, err)
	assert.True(t, errors.Is(err, protocol.ErrProviderThrottled))
}

func TestModelHandler_UnresolvedPromptPlaceholder(t *testing.T) {
	client := &fakeClient{}

	handler, err := model.NewHandler(client, map[string]any{"prompt": "about ${topic}"})
	require.NoError(t, err)

	_, err = handler.Execute(context.Background(), &models.Step{ID: "plan"}, models.ExecutionContext{}, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "topic")
}

func TestModelHandler_MissingPromptRejected(t *testing.T) {
	_, err := model.NewHandler(&fakeClient{}, map[string]any{})
	assert.Error(t, err)
}

func TestModelFactory(t *testing.T) {
	factory := model.NewFactory(&fakeClient{})

	assert.Equal(t, models.StepTypeModel, factory.ID())

	handler, err := factory.Create(map[string]any{"prompt": "hello"})
	require.NoError(t, err)
	assert.NotNil(t, handler)
}
