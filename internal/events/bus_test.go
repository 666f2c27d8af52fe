package events

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fieldmap/internal/model"
)

func TestInMemoryBus_DeliversInSubscriptionOrder(t *testing.T) {
	bus := NewInMemoryBus()
	var order []string
	bus.Subscribe("map.zone.clicked", HandlerFunc(func(context.Context, Event) error {
		order = append(order, "first")
		return nil
	}))
	On(bus, func(_ context.Context, e ZoneClicked) error {
		order = append(order, "second:"+e.Name)
		return nil
	})

	bus.Publish(context.Background(), ZoneClicked{BaseEvent: NewBaseEvent(), Name: "Centro"})
	assert.Equal(t, []string{"first", "second:Centro"}, order)
}

func TestInMemoryBus_OnlyMatchingName(t *testing.T) {
	bus := NewInMemoryBus()
	var zones, routes int
	On(bus, func(context.Context, ZoneClicked) error { zones++; return nil })
	On(bus, func(context.Context, RouteClicked) error { routes++; return nil })

	bus.Publish(context.Background(), RouteClicked{BaseEvent: NewBaseEvent(), Route: model.Route{ID: "1"}})
	assert.Equal(t, 0, zones)
	assert.Equal(t, 1, routes)
}

func TestInMemoryBus_ErrorsAndPanicsDoNotStopDelivery(t *testing.T) {
	bus := NewInMemoryBus()
	var reached bool
	On(bus, func(context.Context, AgentRosterRefreshRequested) error { return errors.New("boom") })
	On(bus, func(context.Context, AgentRosterRefreshRequested) error { panic("bad handler") })
	On(bus, func(context.Context, AgentRosterRefreshRequested) error { reached = true; return nil })

	err := bus.PublishSync(context.Background(), AgentRosterRefreshRequested{BaseEvent: NewBaseEvent()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Contains(t, err.Error(), "panicked")
	assert.True(t, reached)
}

func TestInMemoryBus_Unsubscribe(t *testing.T) {
	bus := NewInMemoryBus()
	var calls int
	off := On(bus, func(context.Context, RouteOpenRequested) error { calls++; return nil })
	keep := On(bus, func(context.Context, RouteOpenRequested) error { return nil })
	defer keep()

	assert.Equal(t, 2, bus.Subscribers(RouteOpenRequested{}.EventName()))
	off()
	off()
	assert.Equal(t, 1, bus.Subscribers(RouteOpenRequested{}.EventName()))

	bus.Publish(context.Background(), RouteOpenRequested{RouteID: "9"})
	assert.Equal(t, 0, calls)
}

func TestNewBaseEvent(t *testing.T) {
	a, b := NewBaseEvent(), NewBaseEvent()
	assert.NotEqual(t, uuid.Nil, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, a.OccurredAt().IsZero())
}
