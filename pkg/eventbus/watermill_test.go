package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stride-run/stride/pkg/channels/gochannel"
	"github.com/stride-run/stride/pkg/eventbus"
	"github.com/stride-run/stride/pkg/events"
)

func TestWatermillEventBus_PublishAndHandle(t *testing.T) {
	publisher, subscriber, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(publisher, subscriber)

	received := make(chan *events.StepFinished, 1)

	err = bus.Handle(events.StepFinishedEvent, func(_ context.Context, event any) error {
		stepFinished, ok := event.(*events.StepFinished)
		require.True(t, ok)

		received <- stepFinished

		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	event := events.StepFinished{
		BaseEvent: events.BaseEvent{
			ID:           bus.GenerateID(),
			Type:         events.StepFinishedEvent,
			Timestamp:    time.Now().UTC(),
			WorkflowName: "pipeline",
		},
		StepID:        "plan",
		Status:        "success",
		ResourceUnits: 12,
	}

	require.NoError(t, bus.Publish(ctx, "pipeline", event))

	select {
	case got := <-received:
		assert.Equal(t, "plan", got.StepID)
		assert.Equal(t, "success", got.Status)
		assert.Equal(t, 12, got.ResourceUnits)
		assert.Equal(t, "pipeline", got.WorkflowName)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestWatermillEventBus_UnhandledEventTypeAcked(t *testing.T) {
	publisher, subscriber, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(publisher, subscriber)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	event := events.WorkflowExecutionStarted{
		BaseEvent: events.BaseEvent{
			ID:           bus.GenerateID(),
			Type:         events.WorkflowExecutionStartedEvent,
			Timestamp:    time.Now().UTC(),
			WorkflowName: "pipeline",
		},
	}

	// No handler registered; publish must not block or error.
	require.NoError(t, bus.Publish(ctx, "pipeline", event))
}

func TestWatermillEventBus_GenerateIDUnique(t *testing.T) {
	publisher, subscriber, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(publisher, subscriber)

	first := bus.GenerateID()
	second := bus.GenerateID()

	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
}
