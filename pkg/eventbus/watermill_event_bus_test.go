package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/deskflowhq/deskflow/pkg/events"
	"github.com/deskflowhq/deskflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	channel "github.com/deskflowhq/deskflow/pkg/channels/gochannel"
)

func newTestBus(t *testing.T) EventBus {
	t.Helper()

	pub, sub, err := channel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := NewWatermillEventBus(pub, sub)
	t.Cleanup(func() {
		_ = bus.Close()
	})

	return bus
}

func TestSubscribeDispatchesToRegisteredHandler(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	received := make(chan any, 1)
	handler := func(ctx context.Context, event any) error {
		received <- event

		return nil
	}

	require.NoError(t, bus.Handle(events.ExecutionStartedEvent, handler))
	require.NoError(t, bus.Subscribe(ctx))

	started := events.ExecutionStarted{
		BaseEvent: events.BaseEvent{
			ID:        bus.GenerateID(),
			Type:      events.ExecutionStartedEvent,
			Timestamp: time.Now().UTC(),
			RuleID:    "rule-1",
		},
		ExecutionID: "exec-1",
		TriggeredBy: "manual:tester",
	}
	require.NoError(t, bus.Publish(ctx, "rule-1", started))

	select {
	case event := <-received:
		decoded, ok := event.(*events.ExecutionStarted)
		require.True(t, ok)
		assert.Equal(t, "exec-1", decoded.ExecutionID)
		assert.Equal(t, "rule-1", decoded.RuleID)
		assert.Equal(t, "manual:tester", decoded.TriggeredBy)
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestSubscribeIgnoresUnhandledEventTypes(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	received := make(chan any, 2)
	handler := func(ctx context.Context, event any) error {
		received <- event

		return nil
	}

	require.NoError(t, bus.Handle(events.ExecutionCompletedEvent, handler))
	require.NoError(t, bus.Subscribe(ctx))

	started := events.ExecutionStarted{
		BaseEvent: events.BaseEvent{
			ID:     bus.GenerateID(),
			Type:   events.ExecutionStartedEvent,
			RuleID: "rule-2",
		},
		ExecutionID: "exec-2",
	}
	require.NoError(t, bus.Publish(ctx, "rule-2", started))

	finished := events.ExecutionFinished{
		BaseEvent: events.BaseEvent{
			ID:     bus.GenerateID(),
			Type:   events.ExecutionCompletedEvent,
			RuleID: "rule-2",
		},
		ExecutionID: "exec-2",
		Status:      models.ExecutionCompleted,
	}
	require.NoError(t, bus.Publish(ctx, "rule-2", finished))

	select {
	case event := <-received:
		decoded, ok := event.(*events.ExecutionFinished)
		require.True(t, ok)
		assert.Equal(t, models.ExecutionCompleted, decoded.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("completed event was not delivered")
	}

	select {
	case event := <-received:
		t.Fatalf("unexpected second delivery: %#v", event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHandleRejectsDuplicateRegistration(t *testing.T) {
	bus := newTestBus(t)

	handler := func(ctx context.Context, event any) error { return nil }

	require.NoError(t, bus.Handle(events.RuleTriggeredEvent, handler))
	assert.Error(t, bus.Handle(events.RuleTriggeredEvent, handler))
}
