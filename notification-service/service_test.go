package notification

import (
	"context"
	"testing"

	"github.com/ordersaga/fulfillment-system/shared/bus"
	"github.com/ordersaga/fulfillment-system/shared/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus() *bus.Bus {
	return bus.New(bus.WithDelayRange(0, 0))
}

func TestService_SendsOnTerminalAndShippingEvents(t *testing.T) {
	b := newTestBus()
	svc := New(b, WithoutDelay())

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx,
		events.NewEvent(events.OrderCompleted, events.OrderResultPayload{
			OrderID:        "ORD-1",
			CustomerName:   "Ana Torres",
			TrackingNumber: "TRACK-1",
		}),
		events.NewEvent(events.OrderFailed, events.OrderResultPayload{
			OrderID:      "ORD-2",
			CustomerName: "Luis Mena",
			Reason:       "Pago rechazado",
		}),
		events.NewEvent(events.ShippingScheduled, events.ShippingPayload{
			OrderID:        "ORD-1",
			TrackingNumber: "TRACK-1",
		}),
	))
	b.Drain()

	assert.Equal(t, 1, svc.Sent(events.OrderCompleted))
	assert.Equal(t, 1, svc.Sent(events.OrderFailed))
	assert.Equal(t, 1, svc.Sent(events.ShippingScheduled))
}

func TestService_NeverPublishesEvents(t *testing.T) {
	b := newTestBus()
	New(b, WithoutDelay())

	require.NoError(t, b.Publish(context.Background(),
		events.NewEvent(events.OrderCompleted, events.OrderResultPayload{
			OrderID:      "ORD-1",
			CustomerName: "Ana Torres",
		})))
	b.Drain()

	// Only the event we published ourselves is in the history.
	assert.Len(t, b.History(), 1)
}

func TestService_IgnoresOtherKinds(t *testing.T) {
	b := newTestBus()
	svc := New(b, WithoutDelay())

	require.NoError(t, b.Publish(context.Background(),
		events.NewEvent(events.CheckInventory, events.InventoryPayload{
			OrderID: "ORD-1",
			Product: "laptop",
		})))
	b.Drain()

	assert.Zero(t, svc.Sent(events.OrderCompleted))
	assert.Zero(t, svc.Sent(events.OrderFailed))
	assert.Zero(t, svc.Sent(events.ShippingScheduled))
}
